package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

// Commands answers inbound SMS and sends the subscription messages.
type Commands struct {
	deps   Deps
	send   *dispatcher
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

// NewCommands creates the handler. loc decides where "today" ends for
// mute; nil means UTC.
func NewCommands(deps Deps, loc *time.Location, logger *slog.Logger) *Commands {
	if loc == nil {
		loc = time.UTC
	}
	l := logger.With(slog.String("component", "sms_commands"))
	return &Commands{deps: deps, send: deps.dispatcher(l), loc: loc, logger: l, now: time.Now}
}

// Handle applies the command in body for phone and returns the reply text.
func (c *Commands) Handle(ctx context.Context, phone, body string) (string, error) {
	sub, err := c.deps.Subscribers.Get(ctx, phone)
	if errors.Is(err, domain.ErrNotFound) {
		return MsgNotSubscribed, nil
	}
	if err != nil {
		return "", fmt.Errorf("alert: command: %w", err)
	}

	cmd := strings.ToLower(strings.TrimSpace(body))
	switch cmd {
	case "stop":
		if err := c.deps.Subscribers.Delete(ctx, phone); err != nil {
			return "", fmt.Errorf("alert: stop: %w", err)
		}
		return MsgStopped, nil
	case "mute":
		until := endOfDay(c.now().In(c.loc))
		sub.MutedUntil = &until
		if err := c.deps.Subscribers.Update(ctx, sub); err != nil {
			return "", fmt.Errorf("alert: mute: %w", err)
		}
		return MsgMuted, nil
	case "resume":
		sub.MutedUntil = nil
		if err := c.deps.Subscribers.Update(ctx, sub); err != nil {
			return "", fmt.Errorf("alert: resume: %w", err)
		}
		return MsgResumed, nil
	case "help":
		return MsgHelp, nil
	default:
		c.logger.DebugContext(ctx, "unrecognized command", slog.String("command", cmd))
		return MsgUnknown, nil
	}
}

// Welcome sends the welcome SMS to a new subscriber.
func (c *Commands) Welcome(ctx context.Context, phone string) bool {
	return c.send.send(ctx, KindWelcome, phone, MsgWelcome)
}

// Confirm sends a subscription confirmation code.
func (c *Commands) Confirm(ctx context.Context, phone, code string) bool {
	return c.send.send(ctx, KindConfirm, phone, ConfirmationMessage(code))
}

// endOfDay is the last millisecond of t's calendar day in t's zone.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}
