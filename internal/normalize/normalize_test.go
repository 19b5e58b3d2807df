package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

func ptr(f float64) *float64 { return &f }

func TestKalshiCents(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{in: 50, want: 0.5},
		{in: 1, want: 0.01},
		{in: 99, want: 0.99},
		{in: 5000, want: 0.5},
		{in: 0, want: 0},
		{in: -3, want: 0},
		{in: 20000, want: 1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, KalshiCents(tt.in), 1e-9, "KalshiCents(%v)", tt.in)
	}
}

func TestProbabilityClamps(t *testing.T) {
	assert.InDelta(t, 0.42, Probability(0.42), 1e-9)
	assert.Equal(t, 0.0, Probability(-0.1))
	assert.Equal(t, 1.0, Probability(1.7))
}

func TestPrimaryOutcome(t *testing.T) {
	p, ok := PrimaryOutcome([]float64{0.6, 0.4})
	require.True(t, ok)
	assert.InDelta(t, 0.6, p, 1e-9)

	_, ok = PrimaryOutcome(nil)
	assert.False(t, ok)
}

func TestParsePrice(t *testing.T) {
	p, err := ParsePrice(" 0.615 ")
	require.NoError(t, err)
	assert.InDelta(t, 0.615, p, 1e-9)

	_, err = ParsePrice("n/a")
	assert.ErrorIs(t, err, domain.ErrMalformedRecord)
}

func TestNormalizeSources(t *testing.T) {
	now := time.Date(2024, 11, 5, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		raw       domain.RawContract
		wantID    string
		wantPrice float64
		wantCat   string
	}{
		{
			name:      "kalshi yes_bid in subpenny units",
			raw:       domain.KalshiRaw{Ticker: "PRES-24", Title: "Who wins?", Category: "Elections", YesBid: ptr(5000)},
			wantID:    "PRES-24",
			wantPrice: 0.5,
			wantCat:   "Elections",
		},
		{
			name:      "predictit price passes through",
			raw:       domain.PredictItRaw{ContractID: "7730", ContractName: "Yes", MarketName: "Fed cut?", LastTradePrice: ptr(0.42)},
			wantID:    "7730",
			wantPrice: 0.42,
			wantCat:   "Fed cut?",
		},
		{
			name:      "polymarket takes first outcome",
			raw:       domain.PolymarketRaw{ConditionID: "0xabc", Question: "Q?", OutcomePrices: []float64{0.6, 0.4}},
			wantID:    "0xabc",
			wantPrice: 0.6,
			wantCat:   domain.Uncategorized,
		},
		{
			name:      "manifold probability",
			raw:       domain.ManifoldRaw{ID: "m1", Question: "Will it rain?", Probability: ptr(0.13)},
			wantID:    "m1",
			wantPrice: 0.13,
			wantCat:   domain.Uncategorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Normalize(tt.raw, now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, g.ExternalID)
			assert.Equal(t, tt.raw.Source(), g.Market)
			assert.InDelta(t, tt.wantPrice, g.CurrentPrice, 1e-9)
			assert.Equal(t, tt.wantCat, g.Category)
			assert.Equal(t, now, g.LastUpdated)
		})
	}
}

func TestNormalizeMalformed(t *testing.T) {
	now := time.Now()

	_, err := Normalize(domain.KalshiRaw{Title: "no ticker", YesBid: ptr(40)}, now)
	assert.ErrorIs(t, err, domain.ErrMalformedRecord)

	_, err = Normalize(domain.PolymarketRaw{ConditionID: "0x1"}, now)
	assert.ErrorIs(t, err, domain.ErrMalformedRecord)

	_, err = Normalize(nil, now)
	assert.ErrorIs(t, err, domain.ErrMalformedRecord)
}

func TestNormalizeMissingTitleIsEmpty(t *testing.T) {
	g, err := Normalize(domain.ManifoldRaw{ID: "x", Probability: ptr(0.5)}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "", g.Title)
}

func TestBatchDropsMalformed(t *testing.T) {
	raws := []domain.RawContract{
		domain.ManifoldRaw{ID: "a", Probability: ptr(0.1)},
		domain.ManifoldRaw{Probability: ptr(0.2)},
		domain.ManifoldRaw{ID: "c"},
		domain.KalshiRaw{Ticker: "K", YesBid: ptr(12)},
	}
	out, dropped := Batch(raws, time.Now())
	assert.Len(t, out, 2)
	assert.Equal(t, 2, dropped)
}
