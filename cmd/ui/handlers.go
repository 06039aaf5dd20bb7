package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"autotrader/internal/database"
	"go.uber.org/zap"
)

// APIHandler serves the read-only record views backed by the database.
type APIHandler struct {
	logger *zap.Logger
	store  *database.Store
}

// NewAPIHandler creates a handler over an open store.
func NewAPIHandler(logger *zap.Logger, store *database.Store) *APIHandler {
	return &APIHandler{
		logger: logger.Named("ui"),
		store:  store,
	}
}

// RecordsHandler lists recent execution records, newest first.
func (h *APIHandler) RecordsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	records, err := h.store.RecentExecutionRecords(limit)
	if err != nil {
		h.logger.Error("Failed to list execution records", zap.Error(err))
		http.Error(w, "Failed to load records", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		h.logger.Error("Failed to encode records", zap.Error(err))
	}
}

// TenantsHandler lists tenants with automation enabled.
func (h *APIHandler) TenantsHandler(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.store.EnabledTenants()
	if err != nil {
		h.logger.Error("Failed to list tenants", zap.Error(err))
		http.Error(w, "Failed to load tenants", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(tenants); err != nil {
		h.logger.Error("Failed to encode tenants", zap.Error(err))
	}
}
