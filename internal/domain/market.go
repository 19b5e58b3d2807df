package domain

import (
	"fmt"
	"strings"
)

// Market identifies one of the external prediction-market platforms a
// contract was sourced from.
type Market string

const (
	MarketKalshi     Market = "Kalshi"
	MarketPredictIt  Market = "PredictIt"
	MarketPolymarket Market = "Polymarket"
	MarketManifold   Market = "Manifold"
)

// AllMarkets lists every supported source in a stable order.
var AllMarkets = []Market{MarketKalshi, MarketPredictIt, MarketPolymarket, MarketManifold}

// ParseMarket resolves a case-insensitive market name.
func ParseMarket(s string) (Market, error) {
	for _, m := range AllMarkets {
		if strings.EqualFold(string(m), strings.TrimSpace(s)) {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unknown market %q", ErrInvalidInput, s)
}

func (m Market) String() string { return string(m) }
