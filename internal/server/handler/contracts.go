package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

// ContractService is the slice of the contract service the handlers use.
type ContractService interface {
	List(ctx context.Context, filter domain.ContractFilter) ([]domain.Contract, error)
	Get(ctx context.Context, key domain.ContractKey) (domain.Contract, error)
	Follow(ctx context.Context, key domain.ContractKey) (domain.Contract, error)
	Unfollow(ctx context.Context, key domain.ContractKey) (domain.Contract, error)
	Display(ctx context.Context, key domain.ContractKey) (domain.Contract, error)
	Hide(ctx context.Context, key domain.ContractKey) (domain.Contract, error)
	SetCategory(ctx context.Context, key domain.ContractKey, category string) (domain.Contract, error)
}

// ContractHandler serves contract listing and operator actions.
type ContractHandler struct {
	contracts ContractService
	logger    *slog.Logger
}

func NewContractHandler(contracts ContractService, logger *slog.Logger) *ContractHandler {
	return &ContractHandler{contracts: contracts, logger: componentLogger(logger, "contracts")}
}

type listContractsResponse struct {
	Contracts []domain.Contract `json:"contracts"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

// List returns contracts filtered by market, followed, displayed and
// category.
// GET /api/contracts?market=Kalshi&followed=true&limit=50&offset=0
func (h *ContractHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		filter domain.ContractFilter
		err    error
	)
	filter.Limit, filter.Offset = parsePage(r)
	if v := r.URL.Query().Get("market"); v != "" {
		m, err := domain.ParseMarket(v)
		if err != nil {
			writeServiceError(w, r, h.logger, "invalid market", err)
			return
		}
		filter.Market = &m
	}
	if filter.Followed, err = boolParam(r, "followed"); err != nil {
		writeServiceError(w, r, h.logger, "invalid filter", err)
		return
	}
	if filter.Displayed, err = boolParam(r, "displayed"); err != nil {
		writeServiceError(w, r, h.logger, "invalid filter", err)
		return
	}
	filter.Category = stringParam(r, "category")

	contracts, err := h.contracts.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list contracts", err)
		return
	}
	if contracts == nil {
		contracts = []domain.Contract{}
	}
	writeJSON(w, http.StatusOK, listContractsResponse{
		Contracts: contracts,
		Limit:     filter.Limit,
		Offset:    filter.Offset,
	})
}

// Get returns one contract with its price history.
// GET /api/contracts/{market}/{id}
func (h *ContractHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := contractKey(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "invalid contract", err)
		return
	}
	c, err := h.contracts.Get(r.Context(), key)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to get contract", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Action returns a handler for one of the flag toggles.
// POST /api/contracts/{market}/{id}/{follow|unfollow|display|hide}
func (h *ContractHandler) Action(action string) http.HandlerFunc {
	var apply func(context.Context, domain.ContractKey) (domain.Contract, error)
	switch action {
	case "follow":
		apply = h.contracts.Follow
	case "unfollow":
		apply = h.contracts.Unfollow
	case "display":
		apply = h.contracts.Display
	case "hide":
		apply = h.contracts.Hide
	default:
		panic("handler: unknown contract action " + action)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		key, err := contractKey(r)
		if err != nil {
			writeServiceError(w, r, h.logger, "invalid contract", err)
			return
		}
		c, err := apply(r.Context(), key)
		if err != nil {
			writeServiceError(w, r, h.logger, "failed to "+action+" contract", err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

type categoryRequest struct {
	Category string `json:"category"`
}

// SetCategory overrides the contract's category.
// PUT /api/contracts/{market}/{id}/category
func (h *ContractHandler) SetCategory(w http.ResponseWriter, r *http.Request) {
	key, err := contractKey(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "invalid contract", err)
		return
	}
	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "invalid body", err)
		return
	}
	c, err := h.contracts.SetCategory(r.Context(), key, req.Category)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to set category", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
