package manifold

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpidot/pm-aggregator/internal/domain"
	"github.com/fpidot/pm-aggregator/internal/platform/httpx"
)

func newAdapter(url string, pageLimit int) *Adapter {
	cfg := httpx.Config{Timeout: 2 * time.Second, Attempts: 3, RetryWait: time.Millisecond, RetryMaxWait: 5 * time.Millisecond}
	return New(Config{BaseURL: url, PageLimit: pageLimit, MaxPages: 3}, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDiscoverPagesAndFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v0/markets", r.URL.Path)
		var page []map[string]any
		switch r.URL.Query().Get("before") {
		case "":
			page = []map[string]any{
				{"id": "a", "question": "Rain?", "outcomeType": "BINARY", "probability": 0.13, "groupSlugs": []string{"weather"}},
				{"id": "b", "question": "Who?", "outcomeType": "MULTIPLE_CHOICE"},
			}
		case "b":
			page = []map[string]any{
				{"id": "c", "question": "Done", "outcomeType": "BINARY", "probability": 1, "isResolved": true},
			}
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	a := newAdapter(srv.URL, 2)
	raws, err := a.Discover(context.Background(), domain.Credential{})
	require.NoError(t, err)
	require.Len(t, raws, 1)

	m := raws[0].(domain.ManifoldRaw)
	assert.Equal(t, "a", m.ID)
	assert.Equal(t, "weather", m.Category)
	require.NotNil(t, m.Probability)
	assert.Equal(t, 0.13, *m.Probability)
}

func TestDiscoverSkipsUndecodableMarket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[
			{"id":"good","question":"Snow?","outcomeType":"BINARY","probability":0.4},
			{"id":"bad","question":"Sleet?","outcomeType":"BINARY","probability":"forty"}
		]`)
	}))
	defer srv.Close()

	raws, err := newAdapter(srv.URL, 10).Discover(context.Background(), domain.Credential{})
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, "good", raws[0].(domain.ManifoldRaw).ID)
}

func TestDiscoverKeepsPagesBeforeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("before") != "" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `[{"id":"first","question":"Hail?","outcomeType":"BINARY","probability":0.2}]`)
	}))
	defer srv.Close()

	raws, err := newAdapter(srv.URL, 1).Discover(context.Background(), domain.Credential{})
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, "first", raws[0].(domain.ManifoldRaw).ID)
}

func TestDiscoverFirstPageFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newAdapter(srv.URL, 1).Discover(context.Background(), domain.Credential{})
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestFetchPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v0/market/a":
			_, _ = io.WriteString(w, `{"id":"a","outcomeType":"BINARY","probability":0.27}`)
		case "/v0/market/multi":
			_, _ = io.WriteString(w, `{"id":"multi","outcomeType":"MULTIPLE_CHOICE"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	a := newAdapter(srv.URL, 0)
	ctx := context.Background()

	p, err := a.FetchPrice(ctx, domain.Credential{}, "a")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.InDelta(t, 0.27, *p, 1e-9)

	p, err = a.FetchPrice(ctx, domain.Credential{}, "multi")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = a.FetchPrice(ctx, domain.Credential{}, "missing")
	require.NoError(t, err)
	assert.Nil(t, p)
}
