// Package alert turns price updates into SMS: big-move alerts when a
// followed contract crosses its category threshold, the daily digest of
// displayed contracts, and replies to inbound SMS commands.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fpidot/pm-aggregator/internal/domain"
	"github.com/fpidot/pm-aggregator/internal/metrics"
)

// Deps are the collaborators shared by the alert components. Limiter, Bus
// and Metrics are optional.
type Deps struct {
	Contracts   domain.ContractStore
	Subscribers domain.SubscriberStore
	SMS         domain.SMSSender
	Limiter     domain.RateLimiter
	Bus         domain.SignalBus
	Metrics     *metrics.Recorder
	RateLimit   RateLimit
}

func (d Deps) dispatcher(logger *slog.Logger) *dispatcher {
	return &dispatcher{sms: d.SMS, limiter: d.Limiter, limit: d.RateLimit, metrics: d.Metrics, logger: logger}
}

// Event is published on the alerts channel when a big move fires.
type Event struct {
	ExternalID string        `json:"externalId"`
	Market     domain.Market `json:"market"`
	Title      string        `json:"title"`
	Category   string        `json:"category"`
	Price      float64       `json:"price"`
	Change     float64       `json:"change"`
	Recipients int           `json:"recipients"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Evaluator applies the big-move rule to refreshed contracts.
type Evaluator struct {
	deps   Deps
	send   *dispatcher
	logger *slog.Logger
	now    func() time.Time
}

func NewEvaluator(deps Deps, logger *slog.Logger) *Evaluator {
	l := logger.With(slog.String("component", "alert_evaluator"))
	return &Evaluator{deps: deps, send: deps.dispatcher(l), logger: l, now: time.Now}
}

// Evaluate fires an alert when the price has moved at least the category
// threshold away from the last alert price and the cooldown window has
// passed since the last alert. A contract without a baseline is seeded
// with its current price instead. priceChange is the change since the
// previous observation and is only logged.
func (e *Evaluator) Evaluate(ctx context.Context, c domain.Contract, priceChange float64, settings domain.AdminSettings) (bool, error) {
	now := e.now().UTC()
	key := c.Key()

	if !c.HasAlertBaseline() {
		if err := e.deps.Contracts.SetAlertBaseline(ctx, key, c.CurrentPrice, now); err != nil {
			return false, fmt.Errorf("alert: seed baseline %s: %w", key, err)
		}
		e.logger.DebugContext(ctx, "seeded alert baseline",
			slog.String("contract", key.String()),
			slog.Float64("price", c.CurrentPrice),
		)
		return false, nil
	}

	move := c.CurrentPrice - *c.LastAlertPrice
	threshold := settings.ThresholdFor(c.Category)
	if !crosses(move, threshold) {
		return false, nil
	}
	if now.Sub(*c.LastAlertTime) <= settings.BigMoveTimeWindow.Std() {
		e.logger.DebugContext(ctx, "big move inside cooldown",
			slog.String("contract", key.String()),
			slog.Float64("move", move),
		)
		return false, nil
	}

	msg := BigMoveMessage(c, move, now)
	bigMoves := true
	subs, err := e.deps.Subscribers.List(ctx, domain.SubscriberFilter{BigMoves: &bigMoves, Category: &c.Category})
	if err != nil {
		return false, fmt.Errorf("alert: list subscribers: %w", err)
	}
	sent := 0
	for _, s := range subs {
		if s.IsMuted(now) {
			continue
		}
		if e.send.send(ctx, KindBigMove, s.PhoneNumber, msg) {
			sent++
		}
	}

	if err := e.deps.Contracts.SetAlertBaseline(ctx, key, c.CurrentPrice, now); err != nil {
		return true, fmt.Errorf("alert: update baseline %s: %w", key, err)
	}
	e.deps.Metrics.AlertFired(c.Category)
	e.logger.InfoContext(ctx, "big move alert",
		slog.String("contract", key.String()),
		slog.String("category", c.Category),
		slog.Float64("move", move),
		slog.Float64("last_change", priceChange),
		slog.Float64("threshold", threshold),
		slog.Int("recipients", sent),
	)
	e.publish(ctx, Event{
		ExternalID: c.ExternalID,
		Market:     c.Market,
		Title:      c.Title,
		Category:   c.Category,
		Price:      c.CurrentPrice,
		Change:     move,
		Recipients: sent,
		Timestamp:  now,
	})
	return true, nil
}

func (e *Evaluator) publish(ctx context.Context, ev Event) {
	if e.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := e.deps.Bus.Publish(ctx, domain.ChannelAlerts, payload); err != nil {
		e.logger.WarnContext(ctx, "publish alert event failed", slog.String("error", err.Error()))
	}
}

// crosses reports |move| >= threshold at 1e-9 precision, so that a move
// of exactly the threshold is not lost to float rounding.
func crosses(move, threshold float64) bool {
	m := decimal.NewFromFloat(move).Abs().Round(9)
	return m.GreaterThanOrEqual(decimal.NewFromFloat(threshold))
}
