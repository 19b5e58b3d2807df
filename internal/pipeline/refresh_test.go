package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpidot/pm-aggregator/internal/domain"
	"github.com/fpidot/pm-aggregator/internal/store/memory"
)

var t0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, store *memory.ContractStore, market domain.Market, id string, price float64, followed bool) domain.ContractKey {
	t.Helper()
	g := domain.GenericContract{ExternalID: id, Market: market, Title: id, CurrentPrice: price, Category: "Economy", LastUpdated: t0}
	store.Put(domain.Contract{GenericContract: g, IsFollowed: followed})
	return g.Key()
}

func newRefresh(store domain.ContractStore, eval Evaluator, sources ...domain.SourceAdapter) *PriceRefreshOrchestrator {
	return NewPriceRefreshOrchestrator(RefreshDeps{
		Sources:   sources,
		Store:     store,
		Settings:  staticSettings{domain.AdminSettings{DefaultBigMoveThreshold: 0.05}},
		Evaluator: eval,
		Cache:     memory.NewPriceCache(),
		Bus:       memory.NewSignalBus(),
	}, RefreshConfig{Concurrency: 2}, discardLogger())
}

func TestRefreshFollowedUpdatesAndEvaluates(t *testing.T) {
	ctx := context.Background()
	store := memory.NewContractStore()
	up := seed(t, store, domain.MarketKalshi, "UP", 0.40, true)
	gone := seed(t, store, domain.MarketKalshi, "GONE", 0.20, true)
	broken := seed(t, store, domain.MarketKalshi, "BROKEN", 0.20, true)
	seed(t, store, domain.MarketKalshi, "IGNORED", 0.10, false)

	src := &fakeSource{market: domain.MarketKalshi, needsAuth: true,
		priceErr: map[string]error{"BROKEN": fmt.Errorf("fake: %w", domain.ErrSourceUnavailable)}}
	src.setPrice("UP", 0.47)
	src.setPrice("IGNORED", 0.99)

	eval := &recordingEvaluator{fire: true}
	o := newRefresh(store, eval, src)
	o.now = func() time.Time { return t0.Add(time.Minute) }

	sub, err := o.bus.Subscribe(ctx, domain.ChannelPrices)
	require.NoError(t, err)

	summary, err := o.RefreshFollowed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Followed)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 1, summary.Missing)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Alerts)
	assert.EqualValues(t, 3, src.fetches.Load())

	c, err := store.FindOne(ctx, up)
	require.NoError(t, err)
	assert.Equal(t, 0.47, c.CurrentPrice)
	assert.Equal(t, t0.Add(time.Minute), c.LastUpdated)
	require.Len(t, c.PriceHistory, 1)

	for _, k := range []domain.ContractKey{gone, broken} {
		c, err := store.FindOne(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, 0.20, c.CurrentPrice)
		assert.Empty(t, c.PriceHistory)
	}

	require.Len(t, eval.calls, 1)
	assert.Equal(t, up, eval.calls[0].key)
	assert.InDelta(t, 0.07, eval.calls[0].change, 1e-9)

	var ev PriceEvent
	require.NoError(t, json.Unmarshal(<-sub, &ev))
	assert.Equal(t, "UP", ev.ExternalID)
	assert.Equal(t, 0.47, ev.Price)

	cached, _, err := o.cache.GetPrice(ctx, up)
	require.NoError(t, err)
	assert.Equal(t, 0.47, cached)
}

func TestRefreshFollowedKeepsOnlyLastDay(t *testing.T) {
	ctx := context.Background()
	store := memory.NewContractStore()
	key := seed(t, store, domain.MarketManifold, "m", 0.5, true)
	src := &fakeSource{market: domain.MarketManifold}
	o := newRefresh(store, nil, src)

	now := t0
	o.now = func() time.Time { return now }
	for i := 0; i < 40; i++ {
		now = t0.Add(time.Duration(i) * time.Hour)
		src.setPrice("m", 0.5+float64(i%5)/100)
		_, err := o.RefreshFollowed(ctx)
		require.NoError(t, err)
	}

	c, err := store.FindOne(ctx, key)
	require.NoError(t, err)
	require.NotEmpty(t, c.PriceHistory)
	cutoff := now.Add(-HistoryRetention)
	for i, p := range c.PriceHistory {
		assert.False(t, p.Timestamp.Before(cutoff), "entry %d older than 24h", i)
		if i > 0 {
			assert.False(t, p.Timestamp.Before(c.PriceHistory[i-1].Timestamp))
		}
	}
}

func TestRefreshFollowedSkipsMarketWhenAuthFails(t *testing.T) {
	ctx := context.Background()
	store := memory.NewContractStore()
	seed(t, store, domain.MarketPolymarket, "0xa", 0.5, true)
	seed(t, store, domain.MarketManifold, "m", 0.5, true)

	poly := &fakeSource{market: domain.MarketPolymarket, needsAuth: true, authErr: domain.ErrUnauthorized}
	mani := &fakeSource{market: domain.MarketManifold}
	mani.setPrice("m", 0.52)

	summary, err := newRefresh(store, nil, poly, mani).RefreshFollowed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, poly.fetches.Load())
}

func TestRefreshFollowedRenewsStaleCredentialOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewContractStore()
	for i := 0; i < 4; i++ {
		seed(t, store, domain.MarketKalshi, fmt.Sprintf("K%d", i), 0.5, true)
	}
	src := &fakeSource{market: domain.MarketKalshi, needsAuth: true, staleFirst: true}
	for i := 0; i < 4; i++ {
		src.setPrice(fmt.Sprintf("K%d", i), 0.6)
	}

	summary, err := newRefresh(store, nil, src).RefreshFollowed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Updated)
	assert.EqualValues(t, 2, src.authCalls.Load())
	assert.EqualValues(t, 1, src.invalidated.Load())
}
