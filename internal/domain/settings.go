package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Duration is a time.Duration that travels as a Go duration string ("6h")
// in JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"6h\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// AdminSettings is the operator-controlled singleton that tunes alerting and
// scheduling. The core only reads it, once per orchestration pass.
type AdminSettings struct {
	BigMoveThresholds         map[string]float64 `json:"bigMoveThresholds"`
	DefaultBigMoveThreshold   float64            `json:"defaultBigMoveThreshold" validate:"gt=0,lte=1"`
	BigMoveTimeWindow         Duration           `json:"bigMoveTimeWindow" validate:"gt=0"`
	PriceUpdateInterval       Duration           `json:"priceUpdateInterval" validate:"gt=0"`
	ContractDiscoveryInterval Duration           `json:"contractDiscoveryInterval" validate:"gt=0"`
	DailyUpdateTime           string             `json:"dailyUpdateTime" validate:"required,datetime=15:04"`
	Categories                []string           `json:"categories" validate:"dive,required"`
	UpdatedAt                 time.Time          `json:"updatedAt"`
}

// ThresholdFor returns the big-move threshold for a category, falling back
// to the default when the category has no override.
func (s AdminSettings) ThresholdFor(category string) float64 {
	if t, ok := s.BigMoveThresholds[category]; ok && t > 0 {
		return t
	}
	return s.DefaultBigMoveThreshold
}

// HasCategory reports whether category is one of the configured categories.
func (s AdminSettings) HasCategory(category string) bool {
	return slices.Contains(s.Categories, category)
}

// DailyUpdateClock parses DailyUpdateTime into hour and minute.
func (s AdminSettings) DailyUpdateClock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", s.DailyUpdateTime)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: daily update time %q: %v", ErrInvalidInput, s.DailyUpdateTime, err)
	}
	return t.Hour(), t.Minute(), nil
}

// Clone returns a deep copy safe to mutate.
func (s AdminSettings) Clone() AdminSettings {
	out := s
	out.BigMoveThresholds = make(map[string]float64, len(s.BigMoveThresholds))
	for k, v := range s.BigMoveThresholds {
		out.BigMoveThresholds[k] = v
	}
	out.Categories = slices.Clone(s.Categories)
	return out
}
