package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

// SettingsStore holds the admin settings singleton.
type SettingsStore struct {
	mu  sync.RWMutex
	set *domain.AdminSettings
}

var _ domain.SettingsStore = (*SettingsStore)(nil)

func NewSettingsStore() *SettingsStore { return &SettingsStore{} }

// Get returns ErrNotFound until settings have been saved.
func (s *SettingsStore) Get(context.Context) (domain.AdminSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.set == nil {
		return domain.AdminSettings{}, fmt.Errorf("memory: settings: %w", domain.ErrNotFound)
	}
	return s.set.Clone(), nil
}

func (s *SettingsStore) Save(_ context.Context, v domain.AdminSettings) error {
	cp := v.Clone()
	s.mu.Lock()
	s.set = &cp
	s.mu.Unlock()
	return nil
}

// SubscriberStore keys subscribers by phone number.
type SubscriberStore struct {
	mu   sync.RWMutex
	subs map[string]domain.Subscriber
}

var _ domain.SubscriberStore = (*SubscriberStore)(nil)

func NewSubscriberStore() *SubscriberStore {
	return &SubscriberStore{subs: make(map[string]domain.Subscriber)}
}

func (s *SubscriberStore) Create(_ context.Context, sub domain.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.PhoneNumber]; ok {
		return fmt.Errorf("memory: subscriber %s: %w", sub.PhoneNumber, domain.ErrAlreadyExists)
	}
	s.subs[sub.PhoneNumber] = cloneSubscriber(sub)
	return nil
}

func (s *SubscriberStore) Get(_ context.Context, phone string) (domain.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[phone]
	if !ok {
		return domain.Subscriber{}, fmt.Errorf("memory: subscriber %s: %w", phone, domain.ErrNotFound)
	}
	return cloneSubscriber(sub), nil
}

func (s *SubscriberStore) List(_ context.Context, f domain.SubscriberFilter) ([]domain.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Subscriber
	for _, phone := range slices.Sorted(maps.Keys(s.subs)) {
		sub := s.subs[phone]
		if f.DailyUpdates != nil && sub.AlertPreferences.DailyUpdates != *f.DailyUpdates {
			continue
		}
		if f.BigMoves != nil && sub.AlertPreferences.BigMoves != *f.BigMoves {
			continue
		}
		if f.Category != nil && !sub.WantsCategory(*f.Category) {
			continue
		}
		out = append(out, cloneSubscriber(sub))
	}
	return out, nil
}

func (s *SubscriberStore) Update(_ context.Context, sub domain.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.PhoneNumber]; !ok {
		return fmt.Errorf("memory: subscriber %s: %w", sub.PhoneNumber, domain.ErrNotFound)
	}
	s.subs[sub.PhoneNumber] = cloneSubscriber(sub)
	return nil
}

func (s *SubscriberStore) Delete(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[phone]; !ok {
		return fmt.Errorf("memory: subscriber %s: %w", phone, domain.ErrNotFound)
	}
	delete(s.subs, phone)
	return nil
}

func cloneSubscriber(s domain.Subscriber) domain.Subscriber {
	s.Categories = slices.Clone(s.Categories)
	if s.MutedUntil != nil {
		v := *s.MutedUntil
		s.MutedUntil = &v
	}
	return s
}

// AuditStore is an append-only slice of entries, newest listed first.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	now     func() time.Time
}

var _ domain.AuditStore = (*AuditStore)(nil)

func NewAuditStore() *AuditStore { return &AuditStore{now: time.Now} }

func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    maps.Clone(detail),
		CreatedAt: s.now().UTC(),
	})
	return nil
}

func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	out := slices.Clone(s.entries)
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}
