// Package normalize converts per-source raw contracts into the canonical
// GenericContract shape.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

// Normalize converts raw into a GenericContract stamped with now. It never
// panics; a record without an identifier or a price is reported as
// ErrMalformedRecord so the caller can drop it.
func Normalize(raw domain.RawContract, now time.Time) (domain.GenericContract, error) {
	var (
		g     domain.GenericContract
		price *float64
	)
	switch r := raw.(type) {
	case domain.KalshiRaw:
		g = domain.GenericContract{ExternalID: r.Ticker, Title: r.Title, Category: r.Category}
		if r.YesBid != nil {
			p := KalshiCents(*r.YesBid)
			price = &p
		}
	case domain.PredictItRaw:
		// PredictIt groups contracts under a market; the market name is the
		// closest thing it has to a category.
		g = domain.GenericContract{ExternalID: r.ContractID, Title: r.ContractName, Category: r.MarketName}
		if r.LastTradePrice != nil {
			p := Probability(*r.LastTradePrice)
			price = &p
		}
	case domain.PolymarketRaw:
		g = domain.GenericContract{ExternalID: r.ConditionID, Title: r.Question, Category: r.Category}
		if p, ok := PrimaryOutcome(r.OutcomePrices); ok {
			price = &p
		}
	case domain.ManifoldRaw:
		g = domain.GenericContract{ExternalID: r.ID, Title: r.Question, Category: r.Category}
		if r.Probability != nil {
			p := Probability(*r.Probability)
			price = &p
		}
	case nil:
		return domain.GenericContract{}, fmt.Errorf("normalize: %w: nil record", domain.ErrMalformedRecord)
	default:
		return domain.GenericContract{}, fmt.Errorf("normalize: %w: unsupported record %T", domain.ErrMalformedRecord, raw)
	}

	g.Market = raw.Source()
	g.ExternalID = strings.TrimSpace(g.ExternalID)
	g.Title = strings.TrimSpace(g.Title)
	g.Category = strings.TrimSpace(g.Category)
	if g.Category == "" {
		g.Category = domain.Uncategorized
	}
	g.LastUpdated = now.UTC()

	if g.ExternalID == "" {
		return domain.GenericContract{}, fmt.Errorf("normalize: %w: %s record without id", domain.ErrMalformedRecord, g.Market)
	}
	if price == nil {
		return domain.GenericContract{}, fmt.Errorf("normalize: %w: %s %s has no price", domain.ErrMalformedRecord, g.Market, g.ExternalID)
	}
	g.CurrentPrice = *price
	return g, nil
}

// Batch normalizes every record, returning the good ones and the number
// dropped as malformed.
func Batch(raws []domain.RawContract, now time.Time) ([]domain.GenericContract, int) {
	out := make([]domain.GenericContract, 0, len(raws))
	dropped := 0
	for _, r := range raws {
		g, err := Normalize(r, now)
		if err != nil {
			dropped++
			continue
		}
		out = append(out, g)
	}
	return out, dropped
}
