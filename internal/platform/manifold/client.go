// Package manifold is the Manifold Markets source adapter.
package manifold

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/fpidot/pm-aggregator/internal/domain"
	"github.com/fpidot/pm-aggregator/internal/normalize"
	"github.com/fpidot/pm-aggregator/internal/platform/httpx"
)

const binary = "BINARY"

// Config configures the adapter.
type Config struct {
	BaseURL   string
	PageLimit int
	MaxPages  int
}

// Adapter talks to the public Manifold v0 API.
type Adapter struct {
	cfg    Config
	http   *httpx.Client
	logger *slog.Logger
}

var _ domain.SourceAdapter = (*Adapter)(nil)

// New creates a Manifold adapter.
func New(cfg Config, httpCfg httpx.Config, logger *slog.Logger) *Adapter {
	if cfg.PageLimit <= 0 || cfg.PageLimit > 1000 {
		cfg.PageLimit = 1000
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	return &Adapter{
		cfg:    cfg,
		http:   httpx.New(cfg.BaseURL, "manifold", httpCfg, logger),
		logger: logger.With(slog.String("component", "manifold")),
	}
}

func (a *Adapter) Market() domain.Market { return domain.MarketManifold }

func (a *Adapter) RequiresAuth() bool { return false }

func (a *Adapter) Authenticate(context.Context) (domain.Credential, error) {
	return domain.Credential{Market: domain.MarketManifold}, nil
}

func (a *Adapter) Invalidate() {}

// Discover lists unresolved binary markets, newest first, paging with the
// "before" cursor. A failure after the first page ends the walk with what
// was collected.
func (a *Adapter) Discover(ctx context.Context, _ domain.Credential) ([]domain.RawContract, error) {
	var (
		out     []domain.RawContract
		before  string
		skipped int
	)
	for page := 0; page < a.cfg.MaxPages; page++ {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(a.cfg.PageLimit))
		if before != "" {
			q.Set("before", before)
		}

		var listing []json.RawMessage
		if err := a.http.Do(ctx, httpx.Request{Path: "/v0/markets", Query: q}, &listing); err != nil {
			if page == 0 {
				return nil, fmt.Errorf("manifold: discover: %w", err)
			}
			a.logger.WarnContext(ctx, "market listing cut short",
				slog.Int("page", page),
				slog.Int("collected", len(out)),
				slog.String("error", err.Error()),
			)
			break
		}
		markets, bad := httpx.DecodeEntries[apiMarket](listing)
		skipped += bad
		last := ""
		for _, m := range markets {
			if m.ID == "" {
				skipped++
				continue
			}
			last = m.ID
			if m.OutcomeType != binary || m.IsResolved {
				continue
			}
			out = append(out, domain.ManifoldRaw{
				ID:          m.ID,
				Question:    m.Question,
				Category:    m.category(),
				Probability: m.Probability,
			})
		}
		if len(listing) < a.cfg.PageLimit || last == "" {
			break
		}
		before = last
	}
	if skipped > 0 {
		a.logger.WarnContext(ctx, "skipped malformed markets", slog.Int("count", skipped))
	}
	return out, nil
}

// FetchPrice returns a market's probability, or nil when the market is
// unknown or has no single probability.
func (a *Adapter) FetchPrice(ctx context.Context, _ domain.Credential, id string) (*float64, error) {
	var m apiMarket
	err := a.http.Do(ctx, httpx.Request{Path: "/v0/market/" + url.PathEscape(id)}, &m)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("manifold: fetch price %s: %w", id, err)
	}
	if m.Probability == nil {
		return nil, nil
	}
	// Manifold already reports a probability.
	p := normalize.Probability(*m.Probability)
	return &p, nil
}
