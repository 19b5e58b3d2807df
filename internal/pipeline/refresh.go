package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fpidot/pm-aggregator/internal/domain"
	"github.com/fpidot/pm-aggregator/internal/metrics"
)

// HistoryRetention is how much price history the refresh path keeps.
const HistoryRetention = 24 * time.Hour

// SettingsProvider returns the admin settings snapshot for a pass.
type SettingsProvider interface {
	Current(ctx context.Context) (domain.AdminSettings, error)
}

// Evaluator decides whether a refreshed contract fired a big-move alert.
type Evaluator interface {
	Evaluate(ctx context.Context, c domain.Contract, priceChange float64, settings domain.AdminSettings) (bool, error)
}

// PriceEvent is published on the prices channel after each update.
type PriceEvent struct {
	ExternalID string        `json:"externalId"`
	Market     domain.Market `json:"market"`
	Title      string        `json:"title"`
	Price      float64       `json:"price"`
	Change     float64       `json:"change"`
	Timestamp  time.Time     `json:"timestamp"`
}

// RefreshSummary counts per-contract outcomes of one refresh pass.
type RefreshSummary struct {
	PassID    string        `json:"passId"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Followed  int           `json:"followed"`
	Updated   int           `json:"updated"`
	Missing   int           `json:"missing"`
	Failed    int           `json:"failed"`
	Alerts    int           `json:"alerts"`
}

// RefreshConfig tunes the refresh fan-out.
type RefreshConfig struct {
	// Concurrency bounds in-flight price fetches per market.
	Concurrency int
}

// PriceRefreshOrchestrator refreshes followed contracts and feeds the
// alert evaluator.
type PriceRefreshOrchestrator struct {
	sources   map[domain.Market]domain.SourceAdapter
	store     domain.ContractStore
	settings  SettingsProvider
	evaluator Evaluator
	cache     domain.PriceCache
	bus       domain.SignalBus
	metrics   *metrics.Recorder
	cfg       RefreshConfig
	guard     *Guard
	logger    *slog.Logger
	now       func() time.Time
}

// RefreshDeps groups the orchestrator's collaborators. Cache, Bus and
// Metrics are optional.
type RefreshDeps struct {
	Sources   []domain.SourceAdapter
	Store     domain.ContractStore
	Settings  SettingsProvider
	Evaluator Evaluator
	Cache     domain.PriceCache
	Bus       domain.SignalBus
	Metrics   *metrics.Recorder
}

func NewPriceRefreshOrchestrator(deps RefreshDeps, cfg RefreshConfig, logger *slog.Logger) *PriceRefreshOrchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	sources := make(map[domain.Market]domain.SourceAdapter, len(deps.Sources))
	for _, s := range deps.Sources {
		sources[s.Market()] = s
	}
	return &PriceRefreshOrchestrator{
		sources:   sources,
		store:     deps.Store,
		settings:  deps.Settings,
		evaluator: deps.Evaluator,
		cache:     deps.Cache,
		bus:       deps.Bus,
		metrics:   deps.Metrics,
		cfg:       cfg,
		guard:     NewGuard("refresh"),
		logger:    logger.With(slog.String("component", "refresh")),
		now:       time.Now,
	}
}

type refreshCounters struct {
	updated, missing, failed, alerts atomic.Int64
}

// RefreshFollowed runs one refresh pass over every followed contract.
func (o *PriceRefreshOrchestrator) RefreshFollowed(ctx context.Context) (RefreshSummary, error) {
	var summary RefreshSummary
	err := o.guard.Do(func() error {
		var err error
		summary, err = o.run(ctx)
		return err
	})
	return summary, err
}

func (o *PriceRefreshOrchestrator) run(ctx context.Context) (RefreshSummary, error) {
	start := o.now()
	summary := RefreshSummary{PassID: uuid.NewString(), StartedAt: start.UTC()}
	logger := o.logger.With(slog.String("pass_id", summary.PassID))

	settings, err := o.settings.Current(ctx)
	if err != nil {
		return summary, fmt.Errorf("pipeline: refresh: settings: %w", err)
	}

	followed := true
	contracts, err := o.store.Find(ctx, domain.ContractFilter{Followed: &followed})
	if err != nil {
		return summary, fmt.Errorf("pipeline: refresh: list followed: %w: %w", domain.ErrPersistence, err)
	}
	summary.Followed = len(contracts)
	if len(contracts) == 0 {
		logger.DebugContext(ctx, "no followed contracts")
		return summary, nil
	}

	groups := make(map[domain.Market][]domain.Contract)
	for _, c := range contracts {
		groups[c.Market] = append(groups[c.Market], c)
	}

	var (
		counters refreshCounters
		markets  errgroup.Group
	)
	for market, group := range groups {
		src, ok := o.sources[market]
		if !ok {
			logger.WarnContext(ctx, "no adapter for market", slog.String("market", market.String()))
			counters.failed.Add(int64(len(group)))
			continue
		}
		markets.Go(func() error {
			o.refreshMarket(ctx, logger, src, group, settings, &counters)
			return nil
		})
	}
	_ = markets.Wait()

	summary.Updated = int(counters.updated.Load())
	summary.Missing = int(counters.missing.Load())
	summary.Failed = int(counters.failed.Load())
	summary.Alerts = int(counters.alerts.Load())
	summary.Duration = o.now().Sub(start)
	o.metrics.Pass("refresh", summary.Duration)

	logger.InfoContext(ctx, "refresh pass complete",
		slog.Int("followed", summary.Followed),
		slog.Int("updated", summary.Updated),
		slog.Int("missing", summary.Missing),
		slog.Int("failed", summary.Failed),
		slog.Int("alerts", summary.Alerts),
		slog.Duration("duration", summary.Duration),
	)
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("pipeline: refresh: %w", err)
	}
	return summary, nil
}

func (o *PriceRefreshOrchestrator) refreshMarket(
	ctx context.Context,
	logger *slog.Logger,
	src domain.SourceAdapter,
	group []domain.Contract,
	settings domain.AdminSettings,
	counters *refreshCounters,
) {
	market := src.Market()
	s := newSession(src)
	if err := s.open(ctx); err != nil {
		logger.ErrorContext(ctx, "authenticate failed, skipping market",
			slog.String("market", market.String()),
			slog.String("error", err.Error()),
		)
		o.metrics.SourceFailure(market, err)
		counters.failed.Add(int64(len(group)))
		return
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for _, c := range group {
		g.Go(func() error {
			o.refreshOne(ctx, logger, s, c, settings, counters)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *PriceRefreshOrchestrator) refreshOne(
	ctx context.Context,
	logger *slog.Logger,
	s *session,
	c domain.Contract,
	settings domain.AdminSettings,
	counters *refreshCounters,
) {
	if ctx.Err() != nil {
		return
	}
	key := c.Key()
	log := logger.With(slog.String("contract", key.String()))

	price, err := withCredential(ctx, s, func(ctx context.Context, cred domain.Credential) (*float64, error) {
		return s.src.FetchPrice(ctx, cred, c.ExternalID)
	})
	if err != nil {
		log.WarnContext(ctx, "price fetch failed", slog.String("error", err.Error()))
		o.metrics.SourceFailure(c.Market, err)
		o.metrics.Refresh(c.Market, "failed")
		counters.failed.Add(1)
		return
	}
	if price == nil {
		log.WarnContext(ctx, "price unavailable")
		o.metrics.Refresh(c.Market, "missing")
		counters.missing.Add(1)
		return
	}

	change := *price - c.CurrentPrice
	now := o.now().UTC()
	updated, err := o.store.RecordPrice(ctx, key, domain.PricePoint{Price: *price, Timestamp: now}, now.Add(-HistoryRetention))
	if err != nil {
		log.ErrorContext(ctx, "persist price failed", slog.String("error", err.Error()))
		o.metrics.Refresh(c.Market, "failed")
		counters.failed.Add(1)
		return
	}
	counters.updated.Add(1)
	o.metrics.Refresh(c.Market, "updated")
	o.metrics.Price(key, *price)
	o.publish(ctx, log, updated, change, now)

	if o.evaluator == nil {
		return
	}
	fired, err := o.evaluator.Evaluate(ctx, updated, change, settings)
	if err != nil {
		log.ErrorContext(ctx, "alert evaluation failed", slog.String("error", err.Error()))
		return
	}
	if fired {
		counters.alerts.Add(1)
	}
}

func (o *PriceRefreshOrchestrator) publish(ctx context.Context, log *slog.Logger, c domain.Contract, change float64, at time.Time) {
	if o.cache != nil {
		if err := o.cache.SetPrice(ctx, c.Key(), c.CurrentPrice, at); err != nil {
			log.WarnContext(ctx, "price cache write failed", slog.String("error", err.Error()))
		}
	}
	if o.bus == nil {
		return
	}
	payload, err := json.Marshal(PriceEvent{
		ExternalID: c.ExternalID,
		Market:     c.Market,
		Title:      c.Title,
		Price:      c.CurrentPrice,
		Change:     change,
		Timestamp:  at,
	})
	if err != nil {
		return
	}
	if err := o.bus.Publish(ctx, domain.ChannelPrices, payload); err != nil {
		log.WarnContext(ctx, "publish price event failed", slog.String("error", err.Error()))
	}
}
