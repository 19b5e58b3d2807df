package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

// Welcomer greets new subscribers.
type Welcomer interface {
	Welcome(ctx context.Context, phone string) bool
}

// SettingsReader supplies the configured categories.
type SettingsReader interface {
	Current(ctx context.Context) (domain.AdminSettings, error)
}

// SubscriberUpdate carries the mutable subscriber fields. Nil fields are
// left untouched.
type SubscriberUpdate struct {
	Categories       *[]string                `json:"categories,omitempty"`
	AlertPreferences *domain.AlertPreferences `json:"alertPreferences,omitempty"`
}

// SubscriberService manages SMS subscribers.
type SubscriberService struct {
	subs     domain.SubscriberStore
	settings SettingsReader
	welcome  Welcomer
	audit    domain.AuditStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewSubscriberService creates the service. welcome and audit may be nil.
func NewSubscriberService(subs domain.SubscriberStore, settings SettingsReader, welcome Welcomer, audit domain.AuditStore, logger *slog.Logger) *SubscriberService {
	return &SubscriberService{
		subs:     subs,
		settings: settings,
		welcome:  welcome,
		audit:    audit,
		logger:   logger.With(slog.String("component", "subscriber_service")),
		now:      time.Now,
	}
}

// Create validates and stores a new subscriber, then sends the welcome SMS.
// A failed welcome does not undo the subscription.
func (s *SubscriberService) Create(ctx context.Context, in domain.Subscriber) (domain.Subscriber, error) {
	sub := domain.Subscriber{
		PhoneNumber:      strings.TrimSpace(in.PhoneNumber),
		Categories:       tidyCategories(in.Categories),
		AlertPreferences: in.AlertPreferences,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.validate(ctx, sub); err != nil {
		return domain.Subscriber{}, fmt.Errorf("subscriber_service: create: %w", err)
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		return domain.Subscriber{}, fmt.Errorf("subscriber_service: create: %w", err)
	}
	s.logAudit(ctx, "subscriber.created", sub.PhoneNumber)
	if s.welcome != nil && !s.welcome.Welcome(ctx, sub.PhoneNumber) {
		s.logger.WarnContext(ctx, "welcome sms not delivered")
	}
	return sub, nil
}

func (s *SubscriberService) Get(ctx context.Context, phone string) (domain.Subscriber, error) {
	sub, err := s.subs.Get(ctx, phone)
	if err != nil {
		return domain.Subscriber{}, fmt.Errorf("subscriber_service: get: %w", err)
	}
	return sub, nil
}

func (s *SubscriberService) List(ctx context.Context, filter domain.SubscriberFilter) ([]domain.Subscriber, error) {
	out, err := s.subs.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("subscriber_service: list: %w", err)
	}
	return out, nil
}

// Update changes categories and preferences.
func (s *SubscriberService) Update(ctx context.Context, phone string, u SubscriberUpdate) (domain.Subscriber, error) {
	sub, err := s.subs.Get(ctx, phone)
	if err != nil {
		return domain.Subscriber{}, fmt.Errorf("subscriber_service: update: %w", err)
	}
	if u.Categories != nil {
		sub.Categories = tidyCategories(*u.Categories)
	}
	if u.AlertPreferences != nil {
		sub.AlertPreferences = *u.AlertPreferences
	}
	if err := s.validate(ctx, sub); err != nil {
		return domain.Subscriber{}, fmt.Errorf("subscriber_service: update: %w", err)
	}
	if err := s.subs.Update(ctx, sub); err != nil {
		return domain.Subscriber{}, fmt.Errorf("subscriber_service: update: %w", err)
	}
	s.logAudit(ctx, "subscriber.updated", phone)
	return sub, nil
}

func (s *SubscriberService) Delete(ctx context.Context, phone string) error {
	if err := s.subs.Delete(ctx, phone); err != nil {
		return fmt.Errorf("subscriber_service: delete: %w", err)
	}
	s.logAudit(ctx, "subscriber.deleted", phone)
	return nil
}

// validate checks struct rules and that every category is configured.
func (s *SubscriberService) validate(ctx context.Context, sub domain.Subscriber) error {
	verr := validateStruct(sub)
	if s.settings != nil && len(sub.Categories) > 0 {
		st, err := s.settings.Current(ctx)
		if err != nil {
			return err
		}
		for _, c := range sub.Categories {
			if !st.HasCategory(c) {
				verr.add("Subscriber.Categories", "oneof", fmt.Sprintf("unknown category %q", c))
			}
		}
	}
	return verr.orNil()
}

func (s *SubscriberService) logAudit(ctx context.Context, event, phone string) {
	if s.audit == nil {
		return
	}
	tail := phone
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	if err := s.audit.Log(ctx, event, map[string]any{"phone_suffix": tail}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func tidyCategories(in []string) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		if c = strings.TrimSpace(c); c != "" && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}
