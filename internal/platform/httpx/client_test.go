package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

func testConfig() Config {
	return Config{
		Timeout:      2 * time.Second,
		Attempts:     3,
		RetryWait:    5 * time.Millisecond,
		RetryMaxWait: 20 * time.Millisecond,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDoRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test", testConfig(), discardLogger())
	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.Do(context.Background(), Request{Path: "/x"}, &out))
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoRetries429ThenGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "test", testConfig(), discardLogger())
	err := c.Do(context.Background(), Request{Path: "/x"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoFailsFastOnClientErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{status: http.StatusNotFound, want: domain.ErrNotFound},
		{status: http.StatusUnauthorized, want: domain.ErrUnauthorized},
		{status: http.StatusForbidden, want: domain.ErrUnauthorized},
		{status: http.StatusBadRequest, want: domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := New(srv.URL, "test", testConfig(), discardLogger())
			err := c.Do(context.Background(), Request{Path: "/x"}, nil)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestDoUnreachableIsSourceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(url, "test", testConfig(), discardLogger())
	err := c.Do(context.Background(), Request{Path: "/x"}, nil)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestDoStopsAtCallerDeadline(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-time.After(300 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := New(srv.URL, "test", testConfig(), discardLogger())
	err := c.Do(ctx, Request{Path: "/slow"}, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryableHonoursRequestContext(t *testing.T) {
	live := &resty.Response{Request: resty.New().R().SetContext(context.Background())}
	assert.True(t, Retryable(live, errors.New("connection reset")))
	assert.False(t, Retryable(live, context.Canceled))

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	done := &resty.Response{Request: resty.New().R().SetContext(expired)}
	assert.False(t, Retryable(done, context.DeadlineExceeded))
	assert.False(t, Retryable(done, errors.New("connection reset")))
}

func TestDecodeEntriesSkipsBadRecords(t *testing.T) {
	type item struct {
		ID    string  `json:"id"`
		Price float64 `json:"price"`
	}
	raw := []json.RawMessage{
		json.RawMessage(`{"id":"a","price":0.4}`),
		json.RawMessage(`{"id":"b","price":"n/a"}`),
		json.RawMessage(`{"id":"c","price":0.7}`),
	}
	got, bad := DecodeEntries[item](raw)
	assert.Equal(t, 1, bad)
	assert.Equal(t, []item{{ID: "a", Price: 0.4}, {ID: "c", Price: 0.7}}, got)
}

func TestDoSendsJSONBodyAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "v", r.Header.Get("X-Test"))
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"a":1}`, string(b))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "test", testConfig(), discardLogger())
	err := c.Do(context.Background(), Request{
		Method:  http.MethodPost,
		Path:    "/y",
		Headers: map[string]string{"X-Test": "v"},
		Body:    map[string]int{"a": 1},
	}, nil)
	require.NoError(t, err)
}

func TestCheckStatus(t *testing.T) {
	assert.NoError(t, CheckStatus(200, nil))
	assert.NoError(t, CheckStatus(204, nil))

	err := CheckStatus(502, []byte("bad gateway"))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.IsRetryable())
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)

	err = CheckStatus(410, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
