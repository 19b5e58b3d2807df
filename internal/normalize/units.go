package normalize

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
	tenK    = decimal.NewFromInt(10_000)
)

// KalshiCents converts a Kalshi price to a probability. Kalshi quotes whole
// cents (50 = $0.50). Subpenny payloads quote hundredths of a cent
// (5000 = $0.50); anything above 100 is read that way.
func KalshiCents(v float64) float64 {
	d := decimal.NewFromFloat(v)
	if d.GreaterThan(hundred) {
		return clamp(d.Div(tenK))
	}
	return clamp(d.Div(hundred))
}

// Probability clamps a value a source already reports in [0,1]
// (PredictIt lastTradePrice, Manifold probability).
func Probability(v float64) float64 {
	return clamp(decimal.NewFromFloat(v))
}

// PrimaryOutcome selects the canonical price from a Polymarket outcome price
// list: index 0, the "Yes" outcome.
func PrimaryOutcome(prices []float64) (float64, bool) {
	if len(prices) == 0 {
		return 0, false
	}
	return Probability(prices[0]), true
}

// ParsePrice parses a decimal string price such as "0.615".
func ParsePrice(s string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: price %q: %v", domain.ErrMalformedRecord, s, err)
	}
	return d.InexactFloat64(), nil
}

func clamp(d decimal.Decimal) float64 {
	switch {
	case d.IsNegative():
		return 0
	case d.GreaterThan(one):
		return 1
	}
	return d.InexactFloat64()
}
