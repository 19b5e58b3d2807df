// Package memory provides in-process implementations of the domain stores.
// They back the one-shot modes when no database is configured, and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

// ContractStore is a mutex-guarded map of contracts. Each method is atomic
// with respect to a single contract.
type ContractStore struct {
	mu        sync.RWMutex
	contracts map[domain.ContractKey]*domain.Contract
	now       func() time.Time
}

var _ domain.ContractStore = (*ContractStore)(nil)

func NewContractStore() *ContractStore {
	return &ContractStore{
		contracts: make(map[domain.ContractKey]*domain.Contract),
		now:       time.Now,
	}
}

// Put stores c as-is, replacing any existing contract with the same key.
func (s *ContractStore) Put(c domain.Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneContract(c)
	s.contracts[c.Key()] = &cp
}

func (s *ContractStore) FindOne(_ context.Context, key domain.ContractKey) (domain.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[key]
	if !ok {
		return domain.Contract{}, fmt.Errorf("memory: contract %s: %w", key, domain.ErrNotFound)
	}
	return cloneContract(*c), nil
}

func (s *ContractStore) Find(_ context.Context, f domain.ContractFilter) ([]domain.Contract, error) {
	s.mu.RLock()
	out := make([]domain.Contract, 0, len(s.contracts))
	for _, c := range s.contracts {
		if matches(c, f) {
			out = append(out, cloneContract(*c))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Market != out[j].Market {
			return out[i].Market < out[j].Market
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *ContractStore) UpsertDiscovered(_ context.Context, g domain.GenericContract) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := g.Key()
	if c, ok := s.contracts[key]; ok {
		c.Title = g.Title
		c.CurrentPrice = g.CurrentPrice
		c.Category = g.Category
		c.LastUpdated = g.LastUpdated
		return false, nil
	}
	s.contracts[key] = &domain.Contract{GenericContract: g, CreatedAt: s.now().UTC()}
	return true, nil
}

func (s *ContractStore) RecordPrice(_ context.Context, key domain.ContractKey, p domain.PricePoint, retainSince time.Time) (domain.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[key]
	if !ok {
		return domain.Contract{}, fmt.Errorf("memory: record price %s: %w", key, domain.ErrNotFound)
	}
	h := append(c.PriceHistory, p)
	domain.SortHistory(h)
	c.PriceHistory = slices.Clone(domain.PruneHistory(h, retainSince))
	c.CurrentPrice = p.Price
	c.LastUpdated = p.Timestamp
	return cloneContract(*c), nil
}

func (s *ContractStore) SetAlertBaseline(_ context.Context, key domain.ContractKey, price float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[key]
	if !ok {
		return fmt.Errorf("memory: set alert baseline %s: %w", key, domain.ErrNotFound)
	}
	c.LastAlertPrice = &price
	c.LastAlertTime = &at
	return nil
}

func (s *ContractStore) Patch(_ context.Context, key domain.ContractKey, p domain.ContractPatch) (domain.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[key]
	if !ok {
		return domain.Contract{}, fmt.Errorf("memory: patch %s: %w", key, domain.ErrNotFound)
	}
	if p.Followed != nil {
		c.IsFollowed = *p.Followed
	}
	if p.Displayed != nil {
		c.IsDisplayed = *p.Displayed
	}
	if p.Category != nil {
		c.Category = *p.Category
	}
	return cloneContract(*c), nil
}

func (s *ContractStore) HistorySince(_ context.Context, since time.Time) ([]domain.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.HistoryRecord
	for key, c := range s.contracts {
		for _, p := range c.PriceHistory {
			if !p.Timestamp.Before(since) {
				out = append(out, domain.HistoryRecord{Key: key, PricePoint: p})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func matches(c *domain.Contract, f domain.ContractFilter) bool {
	if f.Market != nil && c.Market != *f.Market {
		return false
	}
	if f.Followed != nil && c.IsFollowed != *f.Followed {
		return false
	}
	if f.Displayed != nil && c.IsDisplayed != *f.Displayed {
		return false
	}
	if f.Category != nil && c.Category != *f.Category {
		return false
	}
	return true
}

func cloneContract(c domain.Contract) domain.Contract {
	c.PriceHistory = slices.Clone(c.PriceHistory)
	if c.LastAlertPrice != nil {
		v := *c.LastAlertPrice
		c.LastAlertPrice = &v
	}
	if c.LastAlertTime != nil {
		v := *c.LastAlertTime
		c.LastAlertTime = &v
	}
	return c
}
