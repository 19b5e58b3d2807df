// Package predictit is the PredictIt source adapter. PredictIt publishes
// one unauthenticated snapshot of every market; there is no per-contract
// endpoint, so price lookups scan a short-lived copy of that snapshot.
package predictit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fpidot/pm-aggregator/internal/domain"
	"github.com/fpidot/pm-aggregator/internal/normalize"
	"github.com/fpidot/pm-aggregator/internal/platform/httpx"
)

const (
	allMarketsPath = "/api/marketdata/all/"
	snapshotKey    = "all"
)

// Config configures the adapter.
type Config struct {
	BaseURL string
	// SnapshotTTL is how long a fetched snapshot serves price lookups.
	SnapshotTTL time.Duration
}

// Adapter talks to the PredictIt market data API.
type Adapter struct {
	http   *httpx.Client
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	// group collapses concurrent downloads into one.
	group singleflight.Group

	mu        sync.Mutex
	prices    map[string]float64
	fetchedAt time.Time
}

var _ domain.SourceAdapter = (*Adapter)(nil)

// New creates a PredictIt adapter.
func New(cfg Config, httpCfg httpx.Config, logger *slog.Logger) *Adapter {
	return &Adapter{
		http:   httpx.New(cfg.BaseURL, "predictit", httpCfg, logger),
		ttl:    cfg.SnapshotTTL,
		logger: logger.With(slog.String("component", "predictit")),
		now:    time.Now,
	}
}

func (a *Adapter) Market() domain.Market { return domain.MarketPredictIt }

func (a *Adapter) RequiresAuth() bool { return false }

// Authenticate is a no-op; PredictIt's data feed is public.
func (a *Adapter) Authenticate(context.Context) (domain.Credential, error) {
	return domain.Credential{Market: domain.MarketPredictIt}, nil
}

func (a *Adapter) Invalidate() {}

// Discover flattens every open market into its contracts.
func (a *Adapter) Discover(ctx context.Context, _ domain.Credential) ([]domain.RawContract, error) {
	markets, err := a.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("predictit: discover: %w", err)
	}

	var (
		out     []domain.RawContract
		skipped int
	)
	for _, m := range markets {
		for _, c := range m.Contracts {
			if c.ID == 0 {
				skipped++
				continue
			}
			out = append(out, domain.PredictItRaw{
				ContractID:     strconv.FormatInt(c.ID, 10),
				ContractName:   c.Name,
				MarketName:     m.Name,
				LastTradePrice: c.LastTradePrice,
			})
		}
	}
	if skipped > 0 {
		a.logger.WarnContext(ctx, "skipped malformed contracts", slog.Int("count", skipped))
	}
	return out, nil
}

// FetchPrice looks the contract id up in the snapshot. Unknown ids and
// contracts without a last trade yield nil.
func (a *Adapter) FetchPrice(ctx context.Context, _ domain.Credential, contractID string) (*float64, error) {
	a.mu.Lock()
	fresh := a.prices != nil && a.now().Sub(a.fetchedAt) < a.ttl
	a.mu.Unlock()

	if !fresh {
		if _, err := a.snapshot(ctx); err != nil {
			return nil, fmt.Errorf("predictit: fetch price %s: %w", contractID, err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.prices[contractID]
	if !ok {
		return nil, nil
	}
	// lastTradePrice is already a probability.
	v := normalize.Probability(p)
	return &v, nil
}

// snapshot returns the current market list, sharing one download between
// concurrent callers. Each caller still honours its own ctx.
func (a *Adapter) snapshot(ctx context.Context) ([]apiMarket, error) {
	ch := a.group.DoChan(snapshotKey, func() (any, error) {
		return a.fetchAll(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]apiMarket), nil
	}
}

// fetchAll downloads the snapshot and refreshes the price index.
func (a *Adapter) fetchAll(ctx context.Context) ([]apiMarket, error) {
	var resp allMarketsResponse
	if err := a.http.Do(ctx, httpx.Request{Path: allMarketsPath}, &resp); err != nil {
		return nil, err
	}
	markets, bad := httpx.DecodeEntries[apiMarket](resp.Markets)
	if bad > 0 {
		a.logger.Warn("skipped undecodable markets", slog.Int("count", bad))
	}

	prices := make(map[string]float64)
	for _, m := range markets {
		for _, c := range m.Contracts {
			if c.ID == 0 || c.LastTradePrice == nil {
				continue
			}
			prices[strconv.FormatInt(c.ID, 10)] = *c.LastTradePrice
		}
	}

	a.mu.Lock()
	a.prices = prices
	a.fetchedAt = a.now()
	a.mu.Unlock()
	return markets, nil
}
