// Package kalshi is the Kalshi source adapter.
package kalshi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fpidot/pm-aggregator/internal/domain"
	"github.com/fpidot/pm-aggregator/internal/normalize"
	"github.com/fpidot/pm-aggregator/internal/platform/httpx"
)

// Config configures the adapter. Email/Password selects token login;
// APIKeyID with PrivateKeyPEM selects RSA request signing instead.
type Config struct {
	BaseURL       string
	Email         string
	Password      string
	APIKeyID      string
	PrivateKeyPEM []byte
	PageLimit     int
	MaxPages      int
}

// Adapter talks to the Kalshi trading API.
type Adapter struct {
	cfg      Config
	http     *httpx.Client
	signer   *rsaSigner
	basePath string
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	cred *domain.Credential
}

var _ domain.SourceAdapter = (*Adapter)(nil)

// New creates a Kalshi adapter.
func New(cfg Config, httpCfg httpx.Config, logger *slog.Logger) (*Adapter, error) {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 200
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("kalshi: base url: %w", err)
	}
	a := &Adapter{
		cfg:      cfg,
		http:     httpx.New(cfg.BaseURL, "kalshi", httpCfg, logger),
		basePath: strings.TrimSuffix(u.Path, "/"),
		logger:   logger.With(slog.String("component", "kalshi")),
		now:      time.Now,
	}
	if cfg.APIKeyID != "" && len(cfg.PrivateKeyPEM) > 0 {
		s, err := newRSASigner(cfg.APIKeyID, cfg.PrivateKeyPEM)
		if err != nil {
			return nil, err
		}
		a.signer = s
	}
	return a, nil
}

func (a *Adapter) Market() domain.Market { return domain.MarketKalshi }

func (a *Adapter) RequiresAuth() bool { return true }

// Authenticate returns the cached credential, logging in when there is none.
func (a *Adapter) Authenticate(ctx context.Context) (domain.Credential, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cred != nil {
		return *a.cred, nil
	}

	var cred domain.Credential
	switch {
	case a.signer != nil:
		cred = domain.Credential{Market: domain.MarketKalshi, APIKey: a.signer.keyID, IssuedAt: a.now()}
	case a.cfg.Email != "" && a.cfg.Password != "":
		var resp loginResponse
		err := a.http.Do(ctx, httpx.Request{
			Method: http.MethodPost,
			Path:   "/login",
			Body:   loginRequest{Email: a.cfg.Email, Password: a.cfg.Password},
		}, &resp)
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrInvalidInput) {
				return domain.Credential{}, fmt.Errorf("kalshi: login: %w", domain.ErrUnauthorized)
			}
			return domain.Credential{}, fmt.Errorf("kalshi: login: %w", err)
		}
		if resp.Token == "" {
			return domain.Credential{}, fmt.Errorf("kalshi: login: %w: empty token", domain.ErrUnauthorized)
		}
		cred = domain.Credential{Market: domain.MarketKalshi, Token: resp.Token, IssuedAt: a.now()}
	default:
		return domain.Credential{}, fmt.Errorf("kalshi: %w: no credentials configured", domain.ErrUnauthorized)
	}

	a.cred = &cred
	a.logger.InfoContext(ctx, "authenticated", slog.Bool("rsa", a.signer != nil))
	return cred, nil
}

// Invalidate drops the cached credential.
func (a *Adapter) Invalidate() {
	a.mu.Lock()
	a.cred = nil
	a.mu.Unlock()
}

// Discover pages through every open market. A failure after the first page
// ends the walk with what was collected.
func (a *Adapter) Discover(ctx context.Context, cred domain.Credential) ([]domain.RawContract, error) {
	var (
		out     []domain.RawContract
		cursor  string
		skipped int
	)
	for page := 0; page < a.cfg.MaxPages; page++ {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(a.cfg.PageLimit))
		q.Set("status", "open")
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var resp marketsResponse
		if err := a.get(ctx, cred, "/markets", q, &resp); err != nil {
			if page == 0 {
				return nil, fmt.Errorf("kalshi: discover: %w", err)
			}
			a.logger.WarnContext(ctx, "market listing cut short",
				slog.Int("page", page),
				slog.Int("collected", len(out)),
				slog.String("error", err.Error()),
			)
			break
		}
		markets, bad := httpx.DecodeEntries[apiMarket](resp.Markets)
		skipped += bad
		for _, m := range markets {
			raw, ok := toRaw(m)
			if !ok {
				skipped++
				continue
			}
			out = append(out, raw)
		}
		if resp.Cursor == "" || len(resp.Markets) == 0 {
			break
		}
		cursor = resp.Cursor
	}
	if skipped > 0 {
		a.logger.WarnContext(ctx, "skipped malformed markets", slog.Int("count", skipped))
	}
	return out, nil
}

// FetchPrice returns the yes bid of ticker as a probability, or nil when
// Kalshi does not know the ticker or quotes no bid.
func (a *Adapter) FetchPrice(ctx context.Context, cred domain.Credential, ticker string) (*float64, error) {
	var resp marketResponse
	err := a.get(ctx, cred, "/markets/"+url.PathEscape(ticker), nil, &resp)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kalshi: fetch price %s: %w", ticker, err)
	}
	if resp.Market == nil {
		return nil, nil
	}
	cents, ok := yesBidCents(*resp.Market)
	if !ok {
		return nil, nil
	}
	p := normalize.KalshiCents(cents)
	return &p, nil
}

func (a *Adapter) get(ctx context.Context, cred domain.Credential, path string, q url.Values, out any) error {
	headers, err := a.authHeaders(cred, http.MethodGet, path)
	if err != nil {
		return err
	}
	return a.http.Do(ctx, httpx.Request{Path: path, Query: q, Headers: headers}, out)
}

func (a *Adapter) authHeaders(cred domain.Credential, method, path string) (map[string]string, error) {
	switch {
	case cred.Token != "":
		return map[string]string{"Authorization": "Bearer " + cred.Token}, nil
	case a.signer != nil:
		// Kalshi signs the full path including the API prefix, without query.
		return a.signer.headers(method, a.basePath+path, a.now())
	}
	return nil, fmt.Errorf("kalshi: %w: missing credential", domain.ErrUnauthorized)
}

func toRaw(m apiMarket) (domain.KalshiRaw, bool) {
	if strings.TrimSpace(m.Ticker) == "" {
		return domain.KalshiRaw{}, false
	}
	raw := domain.KalshiRaw{Ticker: m.Ticker, Title: m.Title, Category: m.Category}
	if cents, ok := yesBidCents(m); ok {
		raw.YesBid = &cents
	}
	return raw, true
}

// yesBidCents prefers the integer cents field and falls back to the dollar
// string some responses carry instead.
func yesBidCents(m apiMarket) (float64, bool) {
	if m.YesBid != nil {
		return *m.YesBid, true
	}
	if m.YesBidDollars != "" {
		d, err := normalize.ParsePrice(m.YesBidDollars)
		if err != nil {
			return 0, false
		}
		return d * 100, true
	}
	return 0, false
}
