package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpidot/pm-aggregator/internal/config"
	"github.com/fpidot/pm-aggregator/internal/domain"
	"github.com/fpidot/pm-aggregator/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSMS struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (r *recordingSMS) Send(_ context.Context, phone, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = map[string][]string{}
	}
	r.sent[phone] = append(r.sent[phone], msg)
	return nil
}

func memoryConfig(mode string) *config.Config {
	cfg := config.Defaults()
	cfg.Mode = mode
	return &cfg
}

func TestWireFallsBackToMemory(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), memoryConfig(config.ModeDigest), discardLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &memory.ContractStore{}, deps.Contracts)
	assert.IsType(t, &memory.SignalBus{}, deps.Bus)
	assert.Nil(t, deps.Blob)
	assert.Empty(t, deps.Checks)
	assert.Empty(t, deps.Sources, "digest mode talks to no market")
	assert.NotNil(t, deps.Registry)
	assert.NotNil(t, deps.SMS)
}

func TestBuildSourcesOrder(t *testing.T) {
	cfg := memoryConfig(config.ModeDiscover)
	cfg.Kalshi.Enabled = true
	cfg.Kalshi.Email = "ops@example.com"
	cfg.Kalshi.Password = "secret"
	cfg.Polymarket.Enabled = true

	sources, err := buildSources(cfg, httpConfig(cfg), discardLogger())
	require.NoError(t, err)

	var markets []domain.Market
	for _, s := range sources {
		markets = append(markets, s.Market())
	}
	assert.Equal(t, []domain.Market{
		domain.MarketKalshi, domain.MarketPredictIt, domain.MarketPolymarket, domain.MarketManifold,
	}, markets)
}

func TestBuildSourcesMissingKalshiKey(t *testing.T) {
	cfg := memoryConfig(config.ModeDiscover)
	cfg.Kalshi.Enabled = true
	cfg.Kalshi.APIKeyID = "key-id"
	cfg.Kalshi.RSAPrivateKeyPath = filepath.Join(t.TempDir(), "missing.pem")

	_, err := buildSources(cfg, httpConfig(cfg), discardLogger())
	assert.ErrorContains(t, err, "kalshi private key")
}

func TestHTTPConfigOverlay(t *testing.T) {
	cfg := memoryConfig(config.ModeDiscover)
	cfg.HTTP.Attempts = 0
	cfg.HTTP.UserAgent = "pmagg-test/2"

	got := httpConfig(cfg)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, "pmagg-test/2", got.UserAgent)
	assert.Equal(t, 10*time.Second, got.Timeout)
}

func TestDigestModeDeliversToOptedIn(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(config.ModeDigest)
	a := New(cfg, discardLogger())

	deps, cleanup, err := Wire(ctx, cfg, a.logger)
	require.NoError(t, err)
	defer cleanup()
	sms := &recordingSMS{}
	deps.SMS = sms

	_, err = deps.Contracts.UpsertDiscovered(ctx, domain.GenericContract{
		ExternalID:   "PRES-24",
		Market:       domain.MarketKalshi,
		Title:        "Who wins?",
		CurrentPrice: 0.42,
		Category:     "Elections",
		LastUpdated:  time.Now(),
	})
	require.NoError(t, err)
	displayed := true
	_, err = deps.Contracts.Patch(ctx, domain.ContractKey{ExternalID: "PRES-24", Market: domain.MarketKalshi},
		domain.ContractPatch{Displayed: &displayed})
	require.NoError(t, err)

	require.NoError(t, deps.Subscribers.Create(ctx, domain.Subscriber{
		PhoneNumber:      "+15550001111",
		Categories:       []string{"Elections"},
		AlertPreferences: domain.AlertPreferences{DailyUpdates: true},
	}))
	require.NoError(t, deps.Subscribers.Create(ctx, domain.Subscriber{
		PhoneNumber:      "+15550002222",
		Categories:       []string{"Elections"},
		AlertPreferences: domain.AlertPreferences{BigMoves: true},
	}))

	c, err := a.build(deps)
	require.NoError(t, err)
	require.NoError(t, a.DigestMode(ctx, c))

	require.Len(t, sms.sent["+15550001111"], 1)
	assert.Contains(t, sms.sent["+15550001111"][0], "Who wins?")
	assert.Empty(t, sms.sent["+15550002222"])
}

func TestRunRejectsUnknownMode(t *testing.T) {
	a := New(memoryConfig("backtest"), discardLogger())
	defer a.Close()

	err := a.Run(context.Background())
	assert.ErrorContains(t, err, `unsupported mode "backtest"`)
}

func TestBuildRejectsBadTimezone(t *testing.T) {
	cfg := memoryConfig(config.ModeDigest)
	cfg.Schedule.Timezone = "Mars/Olympus"
	a := New(cfg, discardLogger())

	deps, cleanup, err := Wire(context.Background(), cfg, a.logger)
	require.NoError(t, err)
	defer cleanup()

	_, err = a.build(deps)
	assert.ErrorContains(t, err, "Mars/Olympus")
}
