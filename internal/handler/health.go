package handler

import (
	"net/http"

	natsclient "github.com/helpdeskhq/response-engine/internal/nats"
	"github.com/helpdeskhq/response-engine/internal/store"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	natsClient *natsclient.Client
	store      *store.Store
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(natsClient *natsclient.Client, st *store.Store) *HealthHandler {
	return &HealthHandler{
		natsClient: natsClient,
		store:      st,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.natsClient == nil || !h.natsClient.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
