package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

// DefaultSettings are used until an operator saves settings.
func DefaultSettings() domain.AdminSettings {
	return domain.AdminSettings{
		BigMoveThresholds: map[string]float64{
			"Elections":   0.05,
			"Economy":     0.03,
			"Geopolitics": 0.04,
		},
		DefaultBigMoveThreshold:   0.05,
		BigMoveTimeWindow:         domain.Duration(6 * time.Hour),
		PriceUpdateInterval:       domain.Duration(time.Minute),
		ContractDiscoveryInterval: domain.Duration(6 * time.Hour),
		DailyUpdateTime:           "09:00",
		Categories:                []string{"Elections", "Economy", "Geopolitics"},
	}
}

// SettingsService reads and updates the admin settings singleton.
type SettingsService struct {
	store    domain.SettingsStore
	audit    domain.AuditStore
	defaults domain.AdminSettings
	logger   *slog.Logger
	now      func() time.Time
}

func NewSettingsService(store domain.SettingsStore, audit domain.AuditStore, defaults domain.AdminSettings, logger *slog.Logger) *SettingsService {
	return &SettingsService{
		store:    store,
		audit:    audit,
		defaults: defaults,
		logger:   logger.With(slog.String("component", "settings_service")),
		now:      time.Now,
	}
}

// Current returns the stored settings, or the defaults when none are saved.
func (s *SettingsService) Current(ctx context.Context) (domain.AdminSettings, error) {
	st, err := s.store.Get(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return s.defaults.Clone(), nil
	}
	if err != nil {
		return domain.AdminSettings{}, fmt.Errorf("settings_service: get: %w", err)
	}
	return st, nil
}

// Replace validates and stores a complete settings document.
func (s *SettingsService) Replace(ctx context.Context, in domain.AdminSettings) (domain.AdminSettings, error) {
	st := tidySettings(in)
	if err := validateSettings(st); err != nil {
		return domain.AdminSettings{}, fmt.Errorf("settings_service: replace: %w", err)
	}
	st.UpdatedAt = s.now().UTC()
	if err := s.store.Save(ctx, st); err != nil {
		return domain.AdminSettings{}, fmt.Errorf("settings_service: save: %w", err)
	}
	s.logAudit(ctx, "settings.replaced", map[string]any{
		"categories":        st.Categories,
		"default_threshold": st.DefaultBigMoveThreshold,
		"window":            st.BigMoveTimeWindow.Std().String(),
	})
	s.logger.InfoContext(ctx, "settings updated")
	return st, nil
}

// SetThreshold changes the big-move threshold of one category.
func (s *SettingsService) SetThreshold(ctx context.Context, category string, threshold float64) (domain.AdminSettings, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return domain.AdminSettings{}, fmt.Errorf("settings_service: set threshold: %w: empty category", domain.ErrInvalidInput)
	}
	cur, err := s.Current(ctx)
	if err != nil {
		return domain.AdminSettings{}, err
	}
	next := cur.Clone()
	next.BigMoveThresholds[category] = threshold
	return s.Replace(ctx, next)
}

func (s *SettingsService) logAudit(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func tidySettings(in domain.AdminSettings) domain.AdminSettings {
	st := in.Clone()
	st.DailyUpdateTime = strings.TrimSpace(st.DailyUpdateTime)
	cats := make([]string, 0, len(st.Categories))
	for _, c := range st.Categories {
		if c = strings.TrimSpace(c); c != "" && !slices.Contains(cats, c) {
			cats = append(cats, c)
		}
	}
	st.Categories = cats
	return st
}

func validateSettings(st domain.AdminSettings) error {
	verr := validateStruct(st)
	for cat, v := range st.BigMoveThresholds {
		if strings.TrimSpace(cat) == "" {
			verr.add("AdminSettings.BigMoveThresholds", "required", "threshold category must not be empty")
		}
		if v <= 0 || v > 1 {
			verr.add("AdminSettings.BigMoveThresholds["+cat+"]", "range", fmt.Sprintf("threshold for %s must be in (0, 1]", cat))
		}
	}
	return verr.orNil()
}
