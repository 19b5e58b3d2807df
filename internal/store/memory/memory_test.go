package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func generic(id, title string, price float64) domain.GenericContract {
	return domain.GenericContract{
		ExternalID: id, Market: domain.MarketKalshi, Title: title,
		CurrentPrice: price, Category: "Economy", LastUpdated: t0,
	}
}

func TestUpsertDiscoveredKeepsOperatorFlags(t *testing.T) {
	ctx := context.Background()
	s := NewContractStore()

	created, err := s.UpsertDiscovered(ctx, generic("FED", "Fed cuts", 0.4))
	require.NoError(t, err)
	assert.True(t, created)

	c, err := s.FindOne(ctx, generic("FED", "", 0).Key())
	require.NoError(t, err)
	assert.False(t, c.IsFollowed)
	assert.False(t, c.IsDisplayed)

	follow := true
	_, err = s.Patch(ctx, c.Key(), domain.ContractPatch{Followed: &follow})
	require.NoError(t, err)

	created, err = s.UpsertDiscovered(ctx, generic("FED", "Fed cuts rates", 0.45))
	require.NoError(t, err)
	assert.False(t, created)

	c, err = s.FindOne(ctx, c.Key())
	require.NoError(t, err)
	assert.Equal(t, "Fed cuts rates", c.Title)
	assert.Equal(t, 0.45, c.CurrentPrice)
	assert.True(t, c.IsFollowed)
}

func TestRecordPricePrunesAndOrders(t *testing.T) {
	ctx := context.Background()
	s := NewContractStore()
	_, err := s.UpsertDiscovered(ctx, generic("X", "x", 0.1))
	require.NoError(t, err)
	key := generic("X", "", 0).Key()

	var c domain.Contract
	for i := 0; i < 30; i++ {
		at := t0.Add(time.Duration(i) * time.Hour)
		c, err = s.RecordPrice(ctx, key, domain.PricePoint{Price: 0.1 + float64(i)/100, Timestamp: at}, at.Add(-24*time.Hour))
		require.NoError(t, err)
	}

	last := t0.Add(29 * time.Hour)
	assert.Equal(t, last, c.LastUpdated)
	assert.InDelta(t, 0.39, c.CurrentPrice, 1e-9)
	require.NotEmpty(t, c.PriceHistory)
	for i, p := range c.PriceHistory {
		assert.False(t, p.Timestamp.Before(last.Add(-24*time.Hour)))
		if i > 0 {
			assert.False(t, p.Timestamp.Before(c.PriceHistory[i-1].Timestamp))
		}
	}

	_, err = s.RecordPrice(ctx, domain.ContractKey{ExternalID: "nope", Market: domain.MarketKalshi}, domain.PricePoint{}, t0)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFindFilters(t *testing.T) {
	ctx := context.Background()
	s := NewContractStore()
	for _, id := range []string{"a", "b", "c"} {
		_, err := s.UpsertDiscovered(ctx, generic(id, id, 0.5))
		require.NoError(t, err)
	}
	yes := true
	_, err := s.Patch(ctx, generic("b", "", 0).Key(), domain.ContractPatch{Followed: &yes})
	require.NoError(t, err)

	got, err := s.Find(ctx, domain.ContractFilter{Followed: &yes})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ExternalID)

	page, err := s.Find(ctx, domain.ContractFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].ExternalID)
}

func TestSubscriberStore(t *testing.T) {
	ctx := context.Background()
	s := NewSubscriberStore()
	sub := domain.Subscriber{PhoneNumber: "+15551234567", Categories: []string{"Economy"},
		AlertPreferences: domain.AlertPreferences{BigMoves: true}}

	require.NoError(t, s.Create(ctx, sub))
	require.ErrorIs(t, s.Create(ctx, sub), domain.ErrAlreadyExists)

	cat := "Economy"
	daily := true
	got, err := s.List(ctx, domain.SubscriberFilter{Category: &cat})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	got, err = s.List(ctx, domain.SubscriberFilter{DailyUpdates: &daily})
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Delete(ctx, sub.PhoneNumber))
	_, err = s.Get(ctx, sub.PhoneNumber)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRateLimiterWindow(t *testing.T) {
	l := NewRateLimiter()
	now := t0
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "k", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "k", 2, time.Minute)
	assert.False(t, ok)

	now = now.Add(61 * time.Second)
	ok, _ = l.Allow(ctx, "k", 2, time.Minute)
	assert.True(t, ok)
}

func TestSignalBusDelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewSignalBus()
	ch, err := b.Subscribe(ctx, domain.ChannelPrices)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, domain.ChannelPrices, []byte("hi")))
	assert.Equal(t, []byte("hi"), <-ch)

	cancel()
	_, open := <-ch
	assert.False(t, open)
}
