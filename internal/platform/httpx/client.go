// Package httpx is the shared outbound HTTP layer for the source adapters.
// It wraps resty with the retry policy every adapter uses: up to three
// attempts with jittered exponential backoff, retrying only network errors,
// 5xx and 429, and a bounded per-attempt timeout.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

// Config tunes the retry and timeout behaviour of a Client.
type Config struct {
	// Timeout bounds each attempt, independent of backoff waits.
	Timeout time.Duration
	// Attempts is the total number of tries, including the first.
	Attempts     int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
	UserAgent    string
}

// DefaultConfig returns the production retry policy.
func DefaultConfig() Config {
	return Config{
		Timeout:      10 * time.Second,
		Attempts:     3,
		RetryWait:    500 * time.Millisecond,
		RetryMaxWait: 5 * time.Second,
		UserAgent:    "pm-aggregator/1.0",
	}
}

// Client is a retrying JSON client bound to one base URL.
type Client struct {
	rc     *resty.Client
	source string
	logger *slog.Logger
}

// Request describes one outbound call. Body is JSON-encoded; Form is sent
// as application/x-www-form-urlencoded instead when set.
type Request struct {
	Method   string
	Path     string
	Query    url.Values
	Headers  map[string]string
	Body     any
	Form     url.Values
	Username string
	Password string
}

// New creates a Client for baseURL. source names the remote service in logs
// and errors.
func New(baseURL, source string, cfg Config, logger *slog.Logger) *Client {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	l := logger.With(slog.String("component", "httpx"), slog.String("source", source))
	rc := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Attempts - 1).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		AddRetryCondition(Retryable).
		SetLogger(restyLogger{l}).
		SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		rc.SetHeader("User-Agent", cfg.UserAgent)
	}
	return &Client{rc: rc, source: source, logger: l}
}

// Retryable reports whether an attempt should be retried: transport
// failures (including per-attempt timeouts), 5xx and 429. Nothing is
// retried once the caller's context is cancelled or past its deadline.
func Retryable(resp *resty.Response, err error) bool {
	if resp != nil && resp.Request != nil && resp.Request.Context().Err() != nil {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	if resp == nil {
		return true
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// Do executes req and decodes a successful JSON response into out (which may
// be nil). Errors are classified with the domain sentinels; see CheckStatus.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	r := c.rc.R().SetContext(ctx)
	if len(req.Query) > 0 {
		r.SetQueryParamsFromValues(req.Query)
	}
	if len(req.Headers) > 0 {
		r.SetHeaders(req.Headers)
	}
	if req.Username != "" {
		r.SetBasicAuth(req.Username, req.Password)
	}
	switch {
	case req.Form != nil:
		r.SetFormDataFromValues(req.Form)
	case req.Body != nil:
		r.SetHeader("Content-Type", "application/json").SetBody(req.Body)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	resp, err := r.Execute(method, req.Path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %s %s: %w", c.source, method, req.Path, ctxErr)
		}
		return fmt.Errorf("%s: %s %s: %w: %w", c.source, method, req.Path, domain.ErrSourceUnavailable, err)
	}

	if err := CheckStatus(resp.StatusCode(), resp.Body()); err != nil {
		return fmt.Errorf("%s: %s %s: %w", c.source, method, req.Path, err)
	}

	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s: %s %s: decode response: %w: %v", c.source, method, req.Path, domain.ErrSourceUnavailable, err)
	}
	return nil
}

// restyLogger routes resty's internal logging through slog.
type restyLogger struct{ l *slog.Logger }

func (r restyLogger) Errorf(format string, v ...any) { r.l.Warn(fmt.Sprintf(format, v...)) }
func (r restyLogger) Warnf(format string, v ...any)  { r.l.Debug(fmt.Sprintf(format, v...)) }
func (r restyLogger) Debugf(format string, v ...any) { r.l.Debug(fmt.Sprintf(format, v...)) }
