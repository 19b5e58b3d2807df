package domain

import (
	"slices"
	"time"
)

// AlertPreferences are a subscriber's opt-ins.
type AlertPreferences struct {
	DailyUpdates bool `json:"dailyUpdates"`
	BigMoves     bool `json:"bigMoves"`
}

// Subscriber is an SMS recipient.
type Subscriber struct {
	PhoneNumber      string           `json:"phoneNumber" validate:"required,e164"`
	Categories       []string         `json:"categories" validate:"dive,required"`
	AlertPreferences AlertPreferences `json:"alertPreferences"`
	MutedUntil       *time.Time       `json:"mutedUntil,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// IsMuted reports whether the subscriber is muted at now.
func (s Subscriber) IsMuted(now time.Time) bool {
	return s.MutedUntil != nil && now.Before(*s.MutedUntil)
}

// WantsCategory reports whether the subscriber follows category.
func (s Subscriber) WantsCategory(category string) bool {
	return slices.Contains(s.Categories, category)
}

// SubscriberFilter selects subscribers. Nil fields are ignored.
type SubscriberFilter struct {
	DailyUpdates *bool
	BigMoves     *bool
	Category     *string
}
