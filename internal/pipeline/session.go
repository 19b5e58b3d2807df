package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

// session owns the credential for one source during a pass. A call that
// fails with ErrUnauthorized triggers at most one re-authentication per
// session; concurrent callers share the renewed credential.
type session struct {
	src domain.SourceAdapter

	mu      sync.Mutex
	cred    domain.Credential
	renewed bool
}

func newSession(src domain.SourceAdapter) *session {
	return &session{src: src}
}

// open authenticates sources that require it.
func (s *session) open(ctx context.Context) error {
	if !s.src.RequiresAuth() {
		return nil
	}
	cred, err := s.src.Authenticate(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()
	return nil
}

func (s *session) credential() domain.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred
}

// renew replaces stale with a fresh credential. If another caller already
// renewed, the current credential is returned without logging in again.
func (s *session) renew(ctx context.Context, stale domain.Credential) (domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred != stale {
		return s.cred, nil
	}
	if s.renewed {
		return domain.Credential{}, domain.ErrUnauthorized
	}
	s.renewed = true
	s.src.Invalidate()
	cred, err := s.src.Authenticate(ctx)
	if err != nil {
		return domain.Credential{}, err
	}
	s.cred = cred
	return cred, nil
}

// withCredential runs fn with the session credential, retrying once with a
// renewed credential when fn reports ErrUnauthorized.
func withCredential[T any](ctx context.Context, s *session, fn func(context.Context, domain.Credential) (T, error)) (T, error) {
	cred := s.credential()
	v, err := fn(ctx, cred)
	if err == nil || !s.src.RequiresAuth() || !errors.Is(err, domain.ErrUnauthorized) {
		return v, err
	}
	fresh, rerr := s.renew(ctx, cred)
	if rerr != nil {
		return v, errors.Join(err, rerr)
	}
	return fn(ctx, fresh)
}
