package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

// ContractService implements the operator actions on contracts.
type ContractService struct {
	contracts domain.ContractStore
	cache     domain.PriceCache
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewContractService creates a ContractService. cache and audit may be nil.
func NewContractService(contracts domain.ContractStore, cache domain.PriceCache, audit domain.AuditStore, logger *slog.Logger) *ContractService {
	return &ContractService{
		contracts: contracts,
		cache:     cache,
		audit:     audit,
		logger:    logger.With(slog.String("component", "contract_service")),
	}
}

// List returns contracts matching filter.
func (s *ContractService) List(ctx context.Context, filter domain.ContractFilter) ([]domain.Contract, error) {
	out, err := s.contracts.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("contract_service: list: %w", err)
	}
	return out, nil
}

// Get returns one contract. A cached price newer than the stored one
// replaces it in the result.
func (s *ContractService) Get(ctx context.Context, key domain.ContractKey) (domain.Contract, error) {
	c, err := s.contracts.FindOne(ctx, key)
	if err != nil {
		return domain.Contract{}, fmt.Errorf("contract_service: get %s: %w", key, err)
	}
	if s.cache == nil {
		return c, nil
	}
	price, ts, err := s.cache.GetPrice(ctx, key)
	if err != nil {
		// Miss or cache outage; the stored price stands.
		return c, nil
	}
	if ts.After(c.LastUpdated) {
		c.CurrentPrice, c.LastUpdated = price, ts
	}
	return c, nil
}

func (s *ContractService) Follow(ctx context.Context, key domain.ContractKey) (domain.Contract, error) {
	v := true
	return s.patch(ctx, "contract.follow", key, domain.ContractPatch{Followed: &v})
}

func (s *ContractService) Unfollow(ctx context.Context, key domain.ContractKey) (domain.Contract, error) {
	v := false
	return s.patch(ctx, "contract.unfollow", key, domain.ContractPatch{Followed: &v})
}

func (s *ContractService) Display(ctx context.Context, key domain.ContractKey) (domain.Contract, error) {
	v := true
	return s.patch(ctx, "contract.display", key, domain.ContractPatch{Displayed: &v})
}

func (s *ContractService) Hide(ctx context.Context, key domain.ContractKey) (domain.Contract, error) {
	v := false
	return s.patch(ctx, "contract.hide", key, domain.ContractPatch{Displayed: &v})
}

// SetCategory reassigns a contract's category.
func (s *ContractService) SetCategory(ctx context.Context, key domain.ContractKey, category string) (domain.Contract, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return domain.Contract{}, fmt.Errorf("contract_service: set category: %w: empty category", domain.ErrInvalidInput)
	}
	return s.patch(ctx, "contract.category", key, domain.ContractPatch{Category: &category})
}

func (s *ContractService) patch(ctx context.Context, event string, key domain.ContractKey, p domain.ContractPatch) (domain.Contract, error) {
	c, err := s.contracts.Patch(ctx, key, p)
	if err != nil {
		return domain.Contract{}, fmt.Errorf("contract_service: %s %s: %w", event, key, err)
	}
	detail := map[string]any{"market": key.Market.String(), "externalId": key.ExternalID}
	if p.Category != nil {
		detail["category"] = *p.Category
	}
	if s.audit != nil {
		if err := s.audit.Log(ctx, event, detail); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
		}
	}
	s.logger.InfoContext(ctx, "contract updated", slog.String("event", event), slog.String("contract", key.String()))
	return c, nil
}
