package alert

import (
	"context"
	"log/slog"
	"time"

	"github.com/fpidot/pm-aggregator/internal/domain"
	"github.com/fpidot/pm-aggregator/internal/metrics"
)

// SMS kinds, used as metric labels.
const (
	KindBigMove = "big_move"
	KindDaily   = "daily"
	KindWelcome = "welcome"
	KindConfirm = "confirmation"
)

// RateLimit caps SMS per phone number. A zero Limit disables it.
type RateLimit struct {
	Limit  int
	Window time.Duration
}

// dispatcher delivers SMS with per-phone throttling. Send failures are
// logged and counted, never returned to the pass.
type dispatcher struct {
	sms     domain.SMSSender
	limiter domain.RateLimiter
	limit   RateLimit
	metrics *metrics.Recorder
	logger  *slog.Logger
}

func (d *dispatcher) send(ctx context.Context, kind, phone, msg string) bool {
	if d.limiter != nil && d.limit.Limit > 0 {
		ok, err := d.limiter.Allow(ctx, "sms:"+phone, d.limit.Limit, d.limit.Window)
		if err != nil {
			d.logger.WarnContext(ctx, "rate limiter unavailable, sending anyway", slog.String("error", err.Error()))
		} else if !ok {
			d.logger.WarnContext(ctx, "sms throttled", slog.String("kind", kind))
			d.metrics.SMS(kind, domain.ErrRateLimited)
			return false
		}
	}
	err := d.sms.Send(ctx, phone, msg)
	d.metrics.SMS(kind, err)
	if err != nil {
		d.logger.ErrorContext(ctx, "sms failed", slog.String("kind", kind), slog.String("error", err.Error()))
		return false
	}
	return true
}
