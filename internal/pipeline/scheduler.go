package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fpidot/pm-aggregator/internal/domain"
	"github.com/fpidot/pm-aggregator/internal/notify"
)

// Discoverer runs discovery passes.
type Discoverer interface {
	DiscoverAll(ctx context.Context) ([]domain.GenericContract, DiscoverySummary, error)
}

// Refresher runs price refresh passes.
type Refresher interface {
	RefreshFollowed(ctx context.Context) (RefreshSummary, error)
}

// DigestSender sends the daily update to subscribers.
type DigestSender interface {
	SendDailyUpdates(ctx context.Context) (int, error)
}

// HistoryArchiver exports price history.
type HistoryArchiver interface {
	Run(ctx context.Context) (int, error)
}

// SchedulerConfig holds the schedule parts that do not live in admin
// settings.
type SchedulerConfig struct {
	// ArchiveCron schedules the history archive; empty disables it.
	ArchiveCron string
	// RunOnStart runs discovery and refresh immediately instead of waiting
	// for the first interval.
	RunOnStart bool
	// MinInterval floors intervals read from settings.
	MinInterval time.Duration
	// Location is the zone daily schedules are evaluated in; nil means UTC.
	Location *time.Location
}

// Scheduler drives every periodic pass. Intervals and the daily update
// time are re-read from settings before each wait, so operator changes
// apply without a restart. Pass errors are logged and never stop a loop.
type Scheduler struct {
	discovery Discoverer
	refresh   Refresher
	digest    DigestSender
	archiver  HistoryArchiver
	settings  SettingsProvider
	notifier  OperatorNotifier
	cfg       SchedulerConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewScheduler creates a Scheduler. digest, archiver and notifier may be nil.
func NewScheduler(
	discovery Discoverer,
	refresh Refresher,
	digest DigestSender,
	archiver HistoryArchiver,
	settings SettingsProvider,
	notifier OperatorNotifier,
	cfg SchedulerConfig,
	logger *slog.Logger,
) *Scheduler {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Scheduler{
		discovery: discovery,
		refresh:   refresh,
		digest:    digest,
		archiver:  archiver,
		settings:  settings,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "scheduler")),
		now:       time.Now,
	}
}

// Run starts all loops and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting", slog.String("archive_cron", s.cfg.ArchiveCron))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.every(ctx, "discovery", func(st domain.AdminSettings) time.Duration {
			return st.ContractDiscoveryInterval.Std()
		}, func(ctx context.Context) error {
			_, _, err := s.discovery.DiscoverAll(ctx)
			return err
		})
	})

	g.Go(func() error {
		return s.every(ctx, "refresh", func(st domain.AdminSettings) time.Duration {
			return st.PriceUpdateInterval.Std()
		}, func(ctx context.Context) error {
			_, err := s.refresh.RefreshFollowed(ctx)
			return err
		})
	})

	if s.digest != nil {
		g.Go(func() error {
			return s.cron(ctx, "daily_update", func(ctx context.Context) (string, error) {
				st, err := s.settings.Current(ctx)
				if err != nil {
					return "", err
				}
				h, m, err := st.DailyUpdateClock()
				if err != nil {
					return "", err
				}
				return DailyCron(h, m), nil
			}, func(ctx context.Context) error {
				_, err := s.digest.SendDailyUpdates(ctx)
				return err
			})
		})
	}

	if s.archiver != nil && s.cfg.ArchiveCron != "" {
		g.Go(func() error {
			return s.cron(ctx, "archive", func(context.Context) (string, error) {
				return s.cfg.ArchiveCron, nil
			}, func(ctx context.Context) error {
				_, err := s.archiver.Run(ctx)
				return err
			})
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("scheduler stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// every runs job repeatedly, waiting the settings-derived interval between
// runs.
func (s *Scheduler) every(ctx context.Context, name string, interval func(domain.AdminSettings) time.Duration, job func(context.Context) error) error {
	if s.cfg.RunOnStart {
		s.runJob(ctx, name, job)
	}
	for {
		wait := s.cfg.MinInterval
		if st, err := s.settings.Current(ctx); err != nil {
			s.logger.Warn("settings unavailable, using minimum interval",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
		} else if d := interval(st); d > wait {
			wait = d
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("loop stopped", slog.String("job", name))
			return ctx.Err()
		case <-timer.C:
			s.runJob(ctx, name, job)
		}
	}
}

// cron runs job at each time matching the expression returned by expr.
func (s *Scheduler) cron(ctx context.Context, name string, expr func(context.Context) (string, error), job func(context.Context) error) error {
	for {
		next, err := s.nextRun(ctx, expr)
		wait := time.Until(next)
		if err != nil {
			// Retry shortly so a bad settings row cannot stop the loop.
			wait = time.Minute
			s.logger.Error("schedule unavailable",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.Info("waiting for next run",
				slog.String("job", name),
				slog.Time("next_run", next),
				slog.Duration("wait", wait),
			)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("loop stopped", slog.String("job", name))
			return ctx.Err()
		case <-timer.C:
			if err == nil {
				s.runJob(ctx, name, job)
			}
		}
	}
}

func (s *Scheduler) nextRun(ctx context.Context, expr func(context.Context) (string, error)) (time.Time, error) {
	e, err := expr(ctx)
	if err != nil {
		return time.Time{}, err
	}
	next, err := nextCronTime(e, s.now().In(s.cfg.Location))
	if err != nil {
		return time.Time{}, fmt.Errorf("pipeline: schedule: %w", err)
	}
	return next, nil
}

func (s *Scheduler) runJob(ctx context.Context, name string, job func(context.Context) error) {
	err := job(ctx)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAlreadyRunning):
		s.logger.Info("previous run still in progress, skipping", slog.String("job", name))
	case ctx.Err() != nil:
	default:
		s.logger.Error("pass failed", slog.String("job", name), slog.String("error", err.Error()))
		if s.notifier != nil {
			if nerr := s.notifier.Notify(ctx, notify.EventPassFailed, name+" pass failed", err.Error()); nerr != nil {
				s.logger.Warn("operator notification failed", slog.String("error", nerr.Error()))
			}
		}
	}
}
