package api

import (
	"context"
	"net/http"
	"time"

	"github.com/sipico/keygate/internal/auth"
)

// HandleHealth returns basic health status.
// GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady checks database connectivity.
// GET /ready
// Returns 200 if the database is accessible, 503 otherwise.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "error",
			"database": "not configured",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.storage.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "error",
			"database": "unavailable",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"database": "connected",
	})
}

// HandleData is the key-authenticated example resource. It reports which
// key accessed it, proving scope and rate-limit enforcement upstream.
// GET /v1/data
func (h *Handler) HandleData(w http.ResponseWriter, r *http.Request) {
	// The middleware guarantees a key in context on this route.
	key := auth.APIKeyFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"key_id":   key.ID,
		"key_name": key.Name,
	})
}
