package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

type SettingsService interface {
	Current(ctx context.Context) (domain.AdminSettings, error)
	Replace(ctx context.Context, in domain.AdminSettings) (domain.AdminSettings, error)
	SetThreshold(ctx context.Context, category string, threshold float64) (domain.AdminSettings, error)
}

// SettingsHandler serves the admin settings singleton.
type SettingsHandler struct {
	settings SettingsService
	logger   *slog.Logger
}

func NewSettingsHandler(settings SettingsService, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{settings: settings, logger: componentLogger(logger, "settings")}
}

// Get returns the active settings, falling back to defaults.
// GET /api/settings
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Current(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Replace validates and stores a complete settings document.
// PUT /api/settings
func (h *SettingsHandler) Replace(w http.ResponseWriter, r *http.Request) {
	var in domain.AdminSettings
	if err := decodeJSON(w, r, &in); err != nil {
		writeServiceError(w, r, h.logger, "invalid body", err)
		return
	}
	out, err := h.settings.Replace(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to save settings", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type thresholdRequest struct {
	Threshold float64 `json:"threshold"`
}

// SetThreshold sets one category's big-move threshold.
// PUT /api/settings/thresholds/{category}
func (h *SettingsHandler) SetThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "invalid body", err)
		return
	}
	out, err := h.settings.SetThreshold(r.Context(), r.PathValue("category"), req.Threshold)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to set threshold", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
