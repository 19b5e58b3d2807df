// Package pipeline runs the aggregation passes: discovery of contracts
// across all sources, price refresh of followed contracts, and the daily
// history archive. A Scheduler drives them on their intervals.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fpidot/pm-aggregator/internal/domain"
	"github.com/fpidot/pm-aggregator/internal/metrics"
	"github.com/fpidot/pm-aggregator/internal/normalize"
	"github.com/fpidot/pm-aggregator/internal/notify"
)

// OperatorNotifier receives pass-level events for operators.
type OperatorNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// SourceResult reports what one source contributed to a discovery pass.
type SourceResult struct {
	Market       domain.Market `json:"market"`
	Raw          int           `json:"raw"`
	Normalized   int           `json:"normalized"`
	Dropped      int           `json:"dropped"`
	Created      int           `json:"created"`
	Updated      int           `json:"updated"`
	UpsertFailed int           `json:"upsertFailed"`
	Error        string        `json:"error,omitempty"`
}

// DiscoverySummary is returned by every discovery pass, including partial
// failures.
type DiscoverySummary struct {
	PassID    string         `json:"passId"`
	StartedAt time.Time      `json:"startedAt"`
	Duration  time.Duration  `json:"duration"`
	Total     int            `json:"total"`
	Sources   []SourceResult `json:"sources"`
}

// Failed returns the markets that produced an error.
func (s DiscoverySummary) Failed() []domain.Market {
	var out []domain.Market
	for _, r := range s.Sources {
		if r.Error != "" {
			out = append(out, r.Market)
		}
	}
	return out
}

// DiscoveryOrchestrator lists contracts from every source and upserts them.
type DiscoveryOrchestrator struct {
	sources  []domain.SourceAdapter
	store    domain.ContractStore
	notifier OperatorNotifier
	metrics  *metrics.Recorder
	guard    *Guard
	logger   *slog.Logger
	now      func() time.Time
}

// NewDiscoveryOrchestrator creates the orchestrator. notifier and rec may
// be nil.
func NewDiscoveryOrchestrator(
	sources []domain.SourceAdapter,
	store domain.ContractStore,
	notifier OperatorNotifier,
	rec *metrics.Recorder,
	logger *slog.Logger,
) *DiscoveryOrchestrator {
	return &DiscoveryOrchestrator{
		sources:  sources,
		store:    store,
		notifier: notifier,
		metrics:  rec,
		guard:    NewGuard("discovery"),
		logger:   logger.With(slog.String("component", "discovery")),
		now:      time.Now,
	}
}

type sourceOutcome struct {
	raws []domain.RawContract
	err  error
}

// DiscoverAll runs one discovery pass and returns every contract that was
// normalized. Source failures shrink the result and are reported in the
// summary; the only errors returned are ErrAlreadyRunning and cancellation.
func (o *DiscoveryOrchestrator) DiscoverAll(ctx context.Context) ([]domain.GenericContract, DiscoverySummary, error) {
	var (
		out     []domain.GenericContract
		summary DiscoverySummary
	)
	err := o.guard.Do(func() error {
		var err error
		out, summary, err = o.run(ctx)
		return err
	})
	return out, summary, err
}

func (o *DiscoveryOrchestrator) run(ctx context.Context) ([]domain.GenericContract, DiscoverySummary, error) {
	start := o.now()
	summary := DiscoverySummary{
		PassID:    uuid.NewString(),
		StartedAt: start.UTC(),
		Sources:   make([]SourceResult, len(o.sources)),
	}
	logger := o.logger.With(slog.String("pass_id", summary.PassID))
	logger.InfoContext(ctx, "discovery pass starting", slog.Int("sources", len(o.sources)))

	sessions := make([]*session, len(o.sources))
	outcomes := make([]sourceOutcome, len(o.sources))
	for i, src := range o.sources {
		sessions[i] = newSession(src)
		summary.Sources[i].Market = src.Market()
	}

	// Authenticate every source independently. Branches never return an
	// error so one failure cannot cancel the others.
	var auth errgroup.Group
	for i, s := range sessions {
		auth.Go(func() error {
			if err := s.open(ctx); err != nil {
				outcomes[i].err = fmt.Errorf("authenticate: %w", err)
			}
			return nil
		})
	}
	_ = auth.Wait()

	var disc errgroup.Group
	for i, s := range sessions {
		if outcomes[i].err != nil {
			continue
		}
		disc.Go(func() error {
			raws, err := withCredential(ctx, s, s.src.Discover)
			outcomes[i] = sourceOutcome{raws: raws, err: err}
			return nil
		})
	}
	_ = disc.Wait()

	if err := ctx.Err(); err != nil {
		return nil, summary, fmt.Errorf("pipeline: discovery: %w", err)
	}

	var out []domain.GenericContract
	now := o.now()
	for i, oc := range outcomes {
		res := &summary.Sources[i]
		if oc.err != nil {
			res.Error = oc.err.Error()
			o.metrics.SourceFailure(res.Market, oc.err)
			level := slog.LevelWarn
			if errors.Is(oc.err, domain.ErrUnauthorized) {
				level = slog.LevelError
			}
			logger.Log(ctx, level, "source skipped",
				slog.String("market", res.Market.String()),
				slog.String("error", oc.err.Error()),
			)
			continue
		}

		contracts, dropped := normalize.Batch(oc.raws, now)
		res.Raw = len(oc.raws)
		res.Normalized = len(contracts)
		res.Dropped = dropped
		o.metrics.Discovered(res.Market, len(contracts))

		for _, c := range contracts {
			if ctx.Err() != nil {
				break
			}
			created, err := o.store.UpsertDiscovered(ctx, c)
			switch {
			case err != nil:
				res.UpsertFailed++
				logger.ErrorContext(ctx, "upsert failed",
					slog.String("contract", c.Key().String()),
					slog.String("error", err.Error()),
				)
			case created:
				res.Created++
			default:
				res.Updated++
			}
		}
		out = append(out, contracts...)
	}

	summary.Total = len(out)
	summary.Duration = o.now().Sub(start)
	o.metrics.Pass("discovery", summary.Duration)

	failed := summary.Failed()
	if len(o.sources) > 0 && len(failed) == len(o.sources) {
		logger.ErrorContext(ctx, "discovery pass: every source failed")
		o.notify(ctx, notify.EventAllSourcesDown, "All sources unavailable",
			"Discovery pass "+summary.PassID+" got no contracts from any source.")
	}

	logger.InfoContext(ctx, "discovery pass complete",
		slog.Int("total", summary.Total),
		slog.Int("failed_sources", len(failed)),
		slog.Duration("duration", summary.Duration),
	)
	o.notify(ctx, notify.EventDiscoveryPass, "Discovery pass complete", describe(summary))
	return out, summary, nil
}

func (o *DiscoveryOrchestrator) notify(ctx context.Context, event, title, msg string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, event, title, msg); err != nil {
		o.logger.WarnContext(ctx, "operator notification failed", slog.String("error", err.Error()))
	}
}

func describe(s DiscoverySummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d contracts in %s\n", s.Total, s.Duration.Round(time.Millisecond))
	for _, r := range s.Sources {
		if r.Error != "" {
			fmt.Fprintf(&b, "%s: failed (%s)\n", r.Market, r.Error)
			continue
		}
		fmt.Fprintf(&b, "%s: %d (%d new, %d dropped)\n", r.Market, r.Normalized, r.Created, r.Dropped)
	}
	return b.String()
}
