package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fpidot/pm-aggregator/internal/domain"
	"github.com/fpidot/pm-aggregator/internal/pipeline"
)

type Discoverer interface {
	DiscoverAll(ctx context.Context) ([]domain.GenericContract, pipeline.DiscoverySummary, error)
}

type Refresher interface {
	RefreshFollowed(ctx context.Context) (pipeline.RefreshSummary, error)
}

type DailySender interface {
	SendDailyUpdates(ctx context.Context) (int, error)
}

// PipelineHandler runs discovery, refresh and the daily digest on demand.
// Each trigger runs synchronously; a pass already in flight yields 409.
type PipelineHandler struct {
	discovery Discoverer
	refresh   Refresher
	daily     DailySender
	logger    *slog.Logger
}

func NewPipelineHandler(discovery Discoverer, refresh Refresher, daily DailySender, logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{
		discovery: discovery,
		refresh:   refresh,
		daily:     daily,
		logger:    componentLogger(logger, "pipeline"),
	}
}

type discoveryResponse struct {
	Summary   pipeline.DiscoverySummary `json:"summary"`
	Failed    []domain.Market           `json:"failed"`
	Contracts int                       `json:"contracts"`
}

// TriggerDiscovery runs one discovery pass.
// POST /api/discovery/trigger
func (h *PipelineHandler) TriggerDiscovery(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "handler: discovery trigger requested")
	contracts, summary, err := h.discovery.DiscoverAll(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "discovery failed", err)
		return
	}
	failed := summary.Failed()
	if failed == nil {
		failed = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, discoveryResponse{Summary: summary, Failed: failed, Contracts: len(contracts)})
}

// TriggerRefresh runs one price refresh pass over followed contracts.
// POST /api/refresh/trigger
func (h *PipelineHandler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "handler: refresh trigger requested")
	summary, err := h.refresh.RefreshFollowed(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "refresh failed", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// TriggerDaily sends the daily digest now.
// POST /api/alerts/daily-update
func (h *PipelineHandler) TriggerDaily(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "handler: daily update trigger requested")
	sent, err := h.daily.SendDailyUpdates(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "daily update failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sent":         sent,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
