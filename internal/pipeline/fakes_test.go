package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func ptr[T any](v T) *T { return &v }

// fakeSource is a scripted SourceAdapter. When staleFirst is set, the first
// credential it issues is rejected by Discover and FetchPrice.
type fakeSource struct {
	market     domain.Market
	needsAuth  bool
	authErr    error
	staleFirst bool

	raws    []domain.RawContract
	discErr error
	block   chan struct{}

	mu       sync.Mutex
	prices   map[string]*float64
	priceErr map[string]error

	authCalls   atomic.Int32
	invalidated atomic.Int32
	fetches     atomic.Int32
}

func (f *fakeSource) Market() domain.Market { return f.market }
func (f *fakeSource) RequiresAuth() bool    { return f.needsAuth }

func (f *fakeSource) Authenticate(context.Context) (domain.Credential, error) {
	n := f.authCalls.Add(1)
	if f.authErr != nil {
		return domain.Credential{}, fmt.Errorf("fake: %w", f.authErr)
	}
	return domain.Credential{Market: f.market, Token: fmt.Sprintf("tok-%d", n)}, nil
}

func (f *fakeSource) Invalidate() { f.invalidated.Add(1) }

func (f *fakeSource) rejected(cred domain.Credential) bool {
	return f.needsAuth && f.staleFirst && cred.Token == "tok-1"
}

func (f *fakeSource) Discover(ctx context.Context, cred domain.Credential) ([]domain.RawContract, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.rejected(cred) {
		return nil, fmt.Errorf("fake: %w", domain.ErrUnauthorized)
	}
	if f.discErr != nil {
		return nil, f.discErr
	}
	return f.raws, nil
}

func (f *fakeSource) FetchPrice(_ context.Context, cred domain.Credential, id string) (*float64, error) {
	f.fetches.Add(1)
	if f.rejected(cred) {
		return nil, fmt.Errorf("fake: %w", domain.ErrUnauthorized)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.priceErr[id]; err != nil {
		return nil, err
	}
	return f.prices[id], nil
}

func (f *fakeSource) setPrice(id string, p float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prices == nil {
		f.prices = map[string]*float64{}
	}
	f.prices[id] = &p
}

type staticSettings struct{ s domain.AdminSettings }

func (s staticSettings) Current(context.Context) (domain.AdminSettings, error) { return s.s, nil }

type evaluation struct {
	key    domain.ContractKey
	price  float64
	change float64
}

type recordingEvaluator struct {
	mu    sync.Mutex
	calls []evaluation
	fire  bool
}

func (r *recordingEvaluator) Evaluate(_ context.Context, c domain.Contract, change float64, _ domain.AdminSettings) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, evaluation{key: c.Key(), price: c.CurrentPrice, change: change})
	return r.fire, nil
}

type notification struct{ event, title string }

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (r *recordingNotifier) Notify(_ context.Context, event, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification{event, title})
	return nil
}

func (r *recordingNotifier) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.sent {
		out = append(out, n.event)
	}
	return out
}
