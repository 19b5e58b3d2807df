package predictit

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpidot/pm-aggregator/internal/domain"
	"github.com/fpidot/pm-aggregator/internal/platform/httpx"
)

const snapshot = `{
  "markets": [
    {"id": 7456, "name": "Fed rate cut in 2024?", "contracts": [
      {"id": 28562, "name": "Yes", "lastTradePrice": 0.42},
      {"id": 28563, "name": "No", "lastTradePrice": 0.58}
    ]},
    {"id": 7457, "name": "Senate control", "contracts": [
      {"id": 0, "name": "broken"},
      {"id": 30001, "name": "GOP", "lastTradePrice": null}
    ]}
  ]
}`

func newServer(t *testing.T, hits *atomic.Int32, status *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, allMarketsPath, r.URL.Path)
		if s := status.Load(); s != 0 {
			w.WriteHeader(int(s))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, snapshot)
	}))
}

func newAdapter(url string) *Adapter {
	cfg := httpx.Config{Timeout: 2 * time.Second, Attempts: 3, RetryWait: time.Millisecond, RetryMaxWait: 5 * time.Millisecond}
	return New(Config{BaseURL: url, SnapshotTTL: time.Minute}, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDiscoverFlattensContracts(t *testing.T) {
	var hits, status atomic.Int32
	srv := newServer(t, &hits, &status)
	defer srv.Close()

	a := newAdapter(srv.URL)
	raws, err := a.Discover(context.Background(), domain.Credential{})
	require.NoError(t, err)
	require.Len(t, raws, 3)

	yes := raws[0].(domain.PredictItRaw)
	assert.Equal(t, "28562", yes.ContractID)
	assert.Equal(t, "Fed rate cut in 2024?", yes.MarketName)
	require.NotNil(t, yes.LastTradePrice)
	assert.Equal(t, 0.42, *yes.LastTradePrice)

	assert.Nil(t, raws[2].(domain.PredictItRaw).LastTradePrice)
}

func TestFetchPriceUsesSnapshot(t *testing.T) {
	var hits, status atomic.Int32
	srv := newServer(t, &hits, &status)
	defer srv.Close()

	a := newAdapter(srv.URL)
	ctx := context.Background()

	p, err := a.FetchPrice(ctx, domain.Credential{}, "28562")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.InDelta(t, 0.42, *p, 1e-9)

	p, err = a.FetchPrice(ctx, domain.Credential{}, "28563")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.InDelta(t, 0.58, *p, 1e-9)
	assert.Equal(t, int32(1), hits.Load())

	p, err = a.FetchPrice(ctx, domain.Credential{}, "99999")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = a.FetchPrice(ctx, domain.Credential{}, "30001")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestFetchPriceSourceDown(t *testing.T) {
	var hits, status atomic.Int32
	status.Store(http.StatusBadGateway)
	srv := newServer(t, &hits, &status)
	defer srv.Close()

	a := newAdapter(srv.URL)
	p, err := a.FetchPrice(context.Background(), domain.Credential{}, "28562")
	assert.Nil(t, p)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Equal(t, int32(3), hits.Load())
}

func TestConcurrentLookupsShareOneDownload(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(150 * time.Millisecond)
		_, _ = io.WriteString(w, snapshot)
	}))
	defer srv.Close()

	a := newAdapter(srv.URL)
	start := make(chan struct{})
	var wg sync.WaitGroup
	prices := make([]*float64, 8)
	errs := make([]error, 8)
	for i := range prices {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			prices[i], errs[i] = a.FetchPrice(context.Background(), domain.Credential{}, "28562")
		}()
	}
	close(start)
	wg.Wait()

	for i := range prices {
		require.NoError(t, errs[i])
		require.NotNil(t, prices[i])
		assert.InDelta(t, 0.42, *prices[i], 1e-9)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestDiscoverSkipsUndecodableMarket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"markets":[
			{"id":1,"name":"Good","contracts":[{"id":11,"name":"Yes","lastTradePrice":0.3}]},
			{"id":2,"name":"Bad","contracts":[{"id":"twelve","name":"Yes","lastTradePrice":0.5}]}
		]}`)
	}))
	defer srv.Close()

	raws, err := newAdapter(srv.URL).Discover(context.Background(), domain.Credential{})
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, "11", raws[0].(domain.PredictItRaw).ContractID)
}

func TestFetchPriceHonoursCallerCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = io.WriteString(w, snapshot)
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := newAdapter(srv.URL).FetchPrice(ctx, domain.Credential{}, "28562")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
