package kalshi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpidot/pm-aggregator/internal/domain"
	"github.com/fpidot/pm-aggregator/internal/platform/httpx"
)

func fastHTTP() httpx.Config {
	return httpx.Config{Timeout: 2 * time.Second, Attempts: 3, RetryWait: time.Millisecond, RetryMaxWait: 5 * time.Millisecond}
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// fakeKalshi serves /login, /markets and /markets/{ticker}.
func fakeKalshi(t *testing.T, logins *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /trade-api/v2/login", func(w http.ResponseWriter, r *http.Request) {
		logins.Add(1)
		var req loginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, loginResponse{Token: "tok-1", MemberID: "m"})
	})
	mux.HandleFunc("GET /trade-api/v2/markets", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("cursor") == "" {
			writeJSON(w, map[string]any{
				"markets": []map[string]any{
					{"ticker": "PRES-24-D", "title": "Dem wins", "category": "Elections", "yes_bid": 5000},
					{"ticker": "", "title": "broken"},
				},
				"cursor": "page2",
			})
			return
		}
		writeJSON(w, map[string]any{
			"markets": []map[string]any{
				{"ticker": "FED-CUT", "title": "Fed cuts", "yes_bid": 37},
			},
			"cursor": "",
		})
	})
	mux.HandleFunc("GET /trade-api/v2/markets/{ticker}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("ticker") {
		case "FED-CUT":
			writeJSON(w, map[string]any{"market": map[string]any{"ticker": "FED-CUT", "yes_bid": 42}})
		case "DOLLARS":
			writeJSON(w, map[string]any{"market": map[string]any{"ticker": "DOLLARS", "yes_bid_dollars": "0.6100"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	return httptest.NewServer(mux)
}

func newTestAdapter(t *testing.T, baseURL, password string) *Adapter {
	t.Helper()
	a, err := New(Config{BaseURL: baseURL + "/trade-api/v2", Email: "ops@example.com", Password: password}, fastHTTP(), quietLogger())
	require.NoError(t, err)
	return a
}

func TestAuthenticateCachesToken(t *testing.T) {
	var logins atomic.Int32
	srv := fakeKalshi(t, &logins)
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, "secret")
	ctx := context.Background()

	cred, err := a.Authenticate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", cred.Token)

	_, err = a.Authenticate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), logins.Load())

	a.Invalidate()
	_, err = a.Authenticate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), logins.Load())
}

func TestAuthenticateBadPassword(t *testing.T) {
	var logins atomic.Int32
	srv := fakeKalshi(t, &logins)
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, "wrong")
	_, err := a.Authenticate(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestAuthenticateWithoutCredentials(t *testing.T) {
	a, err := New(Config{BaseURL: "http://127.0.0.1:1"}, fastHTTP(), quietLogger())
	require.NoError(t, err)
	_, err = a.Authenticate(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestDiscoverPaginatesAndSkipsMalformed(t *testing.T) {
	var logins atomic.Int32
	srv := fakeKalshi(t, &logins)
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, "secret")
	ctx := context.Background()
	cred, err := a.Authenticate(ctx)
	require.NoError(t, err)

	raws, err := a.Discover(ctx, cred)
	require.NoError(t, err)
	require.Len(t, raws, 2)

	first := raws[0].(domain.KalshiRaw)
	assert.Equal(t, "PRES-24-D", first.Ticker)
	assert.Equal(t, "Elections", first.Category)
	require.NotNil(t, first.YesBid)
	assert.Equal(t, 5000.0, *first.YesBid)

	assert.Equal(t, "FED-CUT", raws[1].(domain.KalshiRaw).Ticker)
}

func TestDiscoverSkipsUndecodableMarket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"markets":[
			{"ticker":"GOOD","title":"Good","yes_bid":40},
			{"ticker":"BAD","title":"Bad","yes_bid":"forty"}
		],"cursor":""}`)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, "secret")
	raws, err := a.Discover(context.Background(), domain.Credential{Market: domain.MarketKalshi, Token: "tok-1"})
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, "GOOD", raws[0].(domain.KalshiRaw).Ticker)
}

func TestDiscoverKeepsPagesBeforeFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("cursor") == "" {
			writeJSON(w, map[string]any{
				"markets": []map[string]any{{"ticker": "PAGE-ONE", "title": "First", "yes_bid": 55}},
				"cursor":  "page2",
			})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, "secret")
	raws, err := a.Discover(context.Background(), domain.Credential{Market: domain.MarketKalshi, Token: "tok-1"})
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, "PAGE-ONE", raws[0].(domain.KalshiRaw).Ticker)
	assert.Equal(t, int32(4), calls.Load())
}

func TestDiscoverWithStaleTokenIsUnauthorized(t *testing.T) {
	var logins atomic.Int32
	srv := fakeKalshi(t, &logins)
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, "secret")
	_, err := a.Discover(context.Background(), domain.Credential{Market: domain.MarketKalshi, Token: "expired"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestFetchPrice(t *testing.T) {
	var logins atomic.Int32
	srv := fakeKalshi(t, &logins)
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, "secret")
	ctx := context.Background()
	cred := domain.Credential{Market: domain.MarketKalshi, Token: "tok-1"}

	p, err := a.FetchPrice(ctx, cred, "FED-CUT")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.InDelta(t, 0.42, *p, 1e-9)

	p, err = a.FetchPrice(ctx, cred, "DOLLARS")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.InDelta(t, 0.61, *p, 1e-9)

	p, err = a.FetchPrice(ctx, cred, "GONE")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestRSASigning(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-id", r.Header.Get("KALSHI-ACCESS-KEY"))
		assert.NotEmpty(t, r.Header.Get("KALSHI-ACCESS-SIGNATURE"))
		assert.NotEmpty(t, r.Header.Get("KALSHI-ACCESS-TIMESTAMP"))
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, map[string]any{"markets": []any{}, "cursor": ""})
	}))
	defer srv.Close()

	a, err := New(Config{BaseURL: srv.URL + "/trade-api/v2", APIKeyID: "key-id", PrivateKeyPEM: pemBytes}, fastHTTP(), quietLogger())
	require.NoError(t, err)

	cred, err := a.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "key-id", cred.APIKey)

	raws, err := a.Discover(context.Background(), cred)
	require.NoError(t, err)
	assert.Empty(t, raws)
}
