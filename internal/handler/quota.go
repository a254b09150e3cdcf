// Package handler contains the HTTP handlers of the quota service.
//
// This file implements the operator quota routes: plan listing, account
// status and forced synchronization.
//
// Routes:
//   - GET  /v1/plans                          -> ListPlans
//   - GET  /v1/accounts/{accountID}/quota     -> GetQuota
//   - POST /v1/accounts/{accountID}/sync      -> SyncAccount
package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/quotagate/internal/domain"
	"github.com/DukeRupert/quotagate/internal/service"
)

// QuotaHandler serves plan and account quota status.
type QuotaHandler struct {
	quotas service.QuotaService
	logger *slog.Logger
}

// NewQuotaHandler creates a new QuotaHandler.
func NewQuotaHandler(quotas service.QuotaService, logger *slog.Logger) *QuotaHandler {
	return &QuotaHandler{quotas: quotas, logger: logger}
}

// RegisterRoutes registers quota routes on the provided mux.
func (h *QuotaHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/plans", h.ListPlans)
	mux.HandleFunc("GET /v1/accounts/{accountID}/quota", h.GetQuota)
	mux.HandleFunc("POST /v1/accounts/{accountID}/sync", h.SyncAccount)
}

// PlansResponse is the body of GET /v1/plans.
type PlansResponse struct {
	Plans []domain.Plan `json:"plans"`
}

// ListPlans returns the plan catalog.
func (h *QuotaHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PlansResponse{Plans: h.quotas.Plans()})
}

// GetQuota returns the account's current usage, limits and block state.
// Accounts without a record get a free plan record on first access.
func (h *QuotaHandler) GetQuota(w http.ResponseWriter, r *http.Request) {
	snap, err := h.quotas.Status(r.Context(), r.PathValue("accountID"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// SyncAccount re-reads the account's subscription and returns the result.
func (h *QuotaHandler) SyncAccount(w http.ResponseWriter, r *http.Request) {
	snap, err := h.quotas.Sync(r.Context(), r.PathValue("accountID"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
