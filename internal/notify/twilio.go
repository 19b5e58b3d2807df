package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/fpidot/pm-aggregator/internal/domain"
	"github.com/fpidot/pm-aggregator/internal/platform/httpx"
)

const twilioAPI = "https://api.twilio.com"

// TwilioConfig holds Messages API credentials.
type TwilioConfig struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	From       string
}

// TwilioSender sends SMS through the Twilio Messages API.
type TwilioSender struct {
	cfg    TwilioConfig
	http   *httpx.Client
	logger *slog.Logger
}

var _ domain.SMSSender = (*TwilioSender)(nil)

func NewTwilioSender(cfg TwilioConfig, httpCfg httpx.Config, logger *slog.Logger) *TwilioSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = twilioAPI
	}
	return &TwilioSender{
		cfg:    cfg,
		http:   httpx.New(cfg.BaseURL, "twilio", httpCfg, logger),
		logger: logger.With(slog.String("component", "twilio")),
	}
}

type twilioMessage struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

func (t *TwilioSender) Send(ctx context.Context, phone, message string) error {
	form := url.Values{}
	form.Set("To", phone)
	form.Set("From", t.cfg.From)
	form.Set("Body", message)

	var out twilioMessage
	err := t.http.Do(ctx, httpx.Request{
		Method:   http.MethodPost,
		Path:     "/2010-04-01/Accounts/" + url.PathEscape(t.cfg.AccountSID) + "/Messages.json",
		Form:     form,
		Username: t.cfg.AccountSID,
		Password: t.cfg.AuthToken,
	}, &out)
	if err != nil {
		return fmt.Errorf("twilio: send to %s: %w", maskPhone(phone), err)
	}
	t.logger.DebugContext(ctx, "sms queued",
		slog.String("sid", out.SID),
		slog.String("status", out.Status),
		slog.String("to", maskPhone(phone)),
	)
	return nil
}

// LogSender writes SMS to the log instead of delivering them. It stands in
// for Twilio when no credentials are configured.
type LogSender struct {
	logger *slog.Logger
}

var _ domain.SMSSender = (*LogSender)(nil)

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With(slog.String("component", "sms_log"))}
}

func (l *LogSender) Send(ctx context.Context, phone, message string) error {
	l.logger.InfoContext(ctx, "sms (not delivered)",
		slog.String("to", maskPhone(phone)),
		slog.String("message", message),
	)
	return nil
}

// maskPhone keeps the last four digits.
func maskPhone(p string) string {
	if len(p) <= 4 {
		return "***"
	}
	return strings.Repeat("*", len(p)-4) + p[len(p)-4:]
}
