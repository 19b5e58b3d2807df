package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

// SettingsProvider returns the current admin settings.
type SettingsProvider interface {
	Current(ctx context.Context) (domain.AdminSettings, error)
}

// Digest sends the daily update.
type Digest struct {
	deps     Deps
	settings SettingsProvider
	send     *dispatcher
	logger   *slog.Logger
	now      func() time.Time
}

func NewDigest(deps Deps, settings SettingsProvider, logger *slog.Logger) *Digest {
	l := logger.With(slog.String("component", "daily_digest"))
	return &Digest{deps: deps, settings: settings, send: deps.dispatcher(l), logger: l, now: time.Now}
}

// SendDailyUpdates sends one SMS to each unmuted subscriber opted into
// daily updates, listing displayed contracts by category. It returns the
// number of messages delivered.
func (d *Digest) SendDailyUpdates(ctx context.Context) (int, error) {
	start := d.now()
	settings, err := d.settings.Current(ctx)
	if err != nil {
		return 0, fmt.Errorf("alert: daily update: settings: %w", err)
	}

	daily := true
	subs, err := d.deps.Subscribers.List(ctx, domain.SubscriberFilter{DailyUpdates: &daily})
	if err != nil {
		return 0, fmt.Errorf("alert: daily update: list subscribers: %w", err)
	}
	if len(subs) == 0 {
		d.logger.InfoContext(ctx, "no daily update subscribers")
		return 0, nil
	}

	displayed := true
	contracts, err := d.deps.Contracts.Find(ctx, domain.ContractFilter{Displayed: &displayed})
	if err != nil {
		return 0, fmt.Errorf("alert: daily update: list contracts: %w", err)
	}
	byCategory := make(map[string][]domain.Contract)
	for _, c := range contracts {
		byCategory[c.Category] = append(byCategory[c.Category], c)
	}

	now := start.UTC()
	since := now.Add(-24 * time.Hour)
	sent := 0
	for _, s := range subs {
		if s.IsMuted(now) {
			continue
		}
		if d.send.send(ctx, KindDaily, s.PhoneNumber, DailyMessage(settings.Categories, s, byCategory, since)) {
			sent++
		}
	}

	elapsed := d.now().Sub(start)
	d.deps.Metrics.Pass("daily_update", elapsed)
	d.logger.InfoContext(ctx, "daily update sent",
		slog.Int("subscribers", len(subs)),
		slog.Int("delivered", sent),
		slog.Int("contracts", len(contracts)),
		slog.Duration("duration", elapsed),
	)
	return sent, nil
}
