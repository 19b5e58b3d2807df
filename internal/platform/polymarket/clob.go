// Package polymarket is the Polymarket source adapter. It reads the CLOB
// REST API with L2 credentials derived from a wallet signature.
package polymarket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/fpidot/pm-aggregator/internal/crypto"
	"github.com/fpidot/pm-aggregator/internal/domain"
	"github.com/fpidot/pm-aggregator/internal/normalize"
	"github.com/fpidot/pm-aggregator/internal/platform/httpx"
)

// Config configures the adapter. Signer may be nil, in which case
// Authenticate always fails and the source is skipped.
type Config struct {
	ClobHost string
	Signer   *crypto.WalletSigner
	MaxPages int
}

// Adapter talks to the Polymarket CLOB.
type Adapter struct {
	cfg    Config
	http   *httpx.Client
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	cred *domain.Credential
}

var _ domain.SourceAdapter = (*Adapter)(nil)

// New creates a Polymarket adapter.
func New(cfg Config, httpCfg httpx.Config, logger *slog.Logger) *Adapter {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 100
	}
	return &Adapter{
		cfg:    cfg,
		http:   httpx.New(cfg.ClobHost, "polymarket", httpCfg, logger),
		logger: logger.With(slog.String("component", "polymarket")),
		now:    time.Now,
	}
}

func (a *Adapter) Market() domain.Market { return domain.MarketPolymarket }

func (a *Adapter) RequiresAuth() bool { return true }

// Authenticate derives (or on first use creates) CLOB API credentials by
// signing a ClobAuth message with the wallet.
func (a *Adapter) Authenticate(ctx context.Context) (domain.Credential, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cred != nil {
		return *a.cred, nil
	}
	if a.cfg.Signer == nil {
		return domain.Credential{}, fmt.Errorf("polymarket: %w: no wallet key configured", domain.ErrUnauthorized)
	}

	creds, err := a.l1Call(ctx, http.MethodGet, "/auth/derive-api-key")
	if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrNotFound) {
		// No key exists yet for this wallet.
		creds, err = a.l1Call(ctx, http.MethodPost, "/auth/api-key")
	}
	if err != nil {
		if errors.Is(err, domain.ErrSourceUnavailable) {
			return domain.Credential{}, fmt.Errorf("polymarket: authenticate: %w", err)
		}
		return domain.Credential{}, fmt.Errorf("polymarket: authenticate: %w: %v", domain.ErrUnauthorized, err)
	}
	if creds.APIKey == "" || creds.Secret == "" {
		return domain.Credential{}, fmt.Errorf("polymarket: authenticate: %w: empty credentials", domain.ErrUnauthorized)
	}

	cred := domain.Credential{
		Market:     domain.MarketPolymarket,
		APIKey:     creds.APIKey,
		Secret:     creds.Secret,
		Passphrase: creds.Passphrase,
		Address:    a.cfg.Signer.Address(),
		IssuedAt:   a.now(),
	}
	a.cred = &cred
	a.logger.InfoContext(ctx, "derived api credentials", slog.String("address", cred.Address))
	return cred, nil
}

func (a *Adapter) l1Call(ctx context.Context, method, path string) (apiCredentials, error) {
	headers, err := a.cfg.Signer.L1Headers(a.now(), 0)
	if err != nil {
		return apiCredentials{}, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}
	var creds apiCredentials
	err = a.http.Do(ctx, httpx.Request{Method: method, Path: path, Headers: headers}, &creds)
	return creds, err
}

// Invalidate drops the cached credentials.
func (a *Adapter) Invalidate() {
	a.mu.Lock()
	a.cred = nil
	a.mu.Unlock()
}

// Discover walks the paginated market listing and keeps tradable markets.
// A failure after the first page ends the walk with what was collected.
func (a *Adapter) Discover(ctx context.Context, cred domain.Credential) ([]domain.RawContract, error) {
	var (
		out     []domain.RawContract
		cursor  string
		skipped int
	)
	for page := 0; page < a.cfg.MaxPages; page++ {
		q := url.Values{}
		if cursor != "" {
			q.Set("next_cursor", cursor)
		}
		var resp marketsPage
		if err := a.get(ctx, cred, "/markets", q, &resp); err != nil {
			if page == 0 {
				return nil, fmt.Errorf("polymarket: discover: %w", err)
			}
			a.logger.WarnContext(ctx, "market listing cut short",
				slog.Int("page", page),
				slog.Int("collected", len(out)),
				slog.String("error", err.Error()),
			)
			break
		}
		markets, bad := httpx.DecodeEntries[apiMarket](resp.Data)
		skipped += bad
		for _, m := range markets {
			if m.externalID() == "" {
				skipped++
				continue
			}
			if !m.tradable() {
				continue
			}
			out = append(out, domain.PolymarketRaw{
				ConditionID:   m.externalID(),
				Question:      m.Question,
				Category:      m.category(),
				OutcomePrices: m.prices(),
			})
		}
		if resp.NextCursor == "" || resp.NextCursor == endCursor {
			break
		}
		cursor = resp.NextCursor
	}
	if skipped > 0 {
		a.logger.WarnContext(ctx, "skipped malformed markets", slog.Int("count", skipped))
	}
	return out, nil
}

// FetchPrice returns the primary outcome price of a market, or nil when the
// market is unknown or unquoted.
func (a *Adapter) FetchPrice(ctx context.Context, cred domain.Credential, conditionID string) (*float64, error) {
	var m apiMarket
	err := a.get(ctx, cred, "/markets/"+url.PathEscape(conditionID), nil, &m)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("polymarket: fetch price %s: %w", conditionID, err)
	}
	if m.externalID() == "" {
		return nil, nil
	}
	// Index 0 is the "Yes" outcome.
	p, ok := normalize.PrimaryOutcome(m.prices())
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (a *Adapter) get(ctx context.Context, cred domain.Credential, path string, q url.Values, out any) error {
	if cred.APIKey == "" {
		return fmt.Errorf("%w: missing credential", domain.ErrUnauthorized)
	}
	auth := crypto.L2Auth{Key: cred.APIKey, Secret: cred.Secret, Passphrase: cred.Passphrase}
	headers := auth.Headers(cred.Address, http.MethodGet, path, "", a.now())
	return a.http.Do(ctx, httpx.Request{Path: path, Query: q, Headers: headers}, out)
}
