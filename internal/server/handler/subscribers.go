package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/fpidot/pm-aggregator/internal/domain"
	"github.com/fpidot/pm-aggregator/internal/service"
)

type SubscriberService interface {
	Create(ctx context.Context, in domain.Subscriber) (domain.Subscriber, error)
	List(ctx context.Context, filter domain.SubscriberFilter) ([]domain.Subscriber, error)
	Update(ctx context.Context, phone string, u service.SubscriberUpdate) (domain.Subscriber, error)
	Delete(ctx context.Context, phone string) error
}

// SubscriberHandler serves SMS subscriber registration and management.
type SubscriberHandler struct {
	subs   SubscriberService
	logger *slog.Logger
}

func NewSubscriberHandler(subs SubscriberService, logger *slog.Logger) *SubscriberHandler {
	return &SubscriberHandler{subs: subs, logger: componentLogger(logger, "subscribers")}
}

// List returns subscribers, optionally filtered.
// GET /api/subscribers?dailyUpdates=true&bigMoves=true&category=Economy
func (h *SubscriberHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		filter domain.SubscriberFilter
		err    error
	)
	if filter.DailyUpdates, err = boolParam(r, "dailyUpdates"); err != nil {
		writeServiceError(w, r, h.logger, "invalid filter", err)
		return
	}
	if filter.BigMoves, err = boolParam(r, "bigMoves"); err != nil {
		writeServiceError(w, r, h.logger, "invalid filter", err)
		return
	}
	filter.Category = stringParam(r, "category")

	subs, err := h.subs.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list subscribers", err)
		return
	}
	if subs == nil {
		subs = []domain.Subscriber{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscribers": subs})
}

// Create registers a subscriber and sends the welcome SMS.
// POST /api/subscribers
func (h *SubscriberHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in domain.Subscriber
	if err := decodeJSON(w, r, &in); err != nil {
		writeServiceError(w, r, h.logger, "invalid body", err)
		return
	}
	out, err := h.subs.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to create subscriber", err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// Update changes categories or alert preferences.
// PUT /api/subscribers/{phone}
func (h *SubscriberHandler) Update(w http.ResponseWriter, r *http.Request) {
	var u service.SubscriberUpdate
	if err := decodeJSON(w, r, &u); err != nil {
		writeServiceError(w, r, h.logger, "invalid body", err)
		return
	}
	out, err := h.subs.Update(r.Context(), r.PathValue("phone"), u)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to update subscriber", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Delete removes a subscriber.
// DELETE /api/subscribers/{phone}
func (h *SubscriberHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.subs.Delete(r.Context(), r.PathValue("phone")); err != nil {
		writeServiceError(w, r, h.logger, "failed to delete subscriber", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
