package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sipico/keygate/internal/apikey"
	"github.com/sipico/keygate/internal/auth"
	"github.com/sipico/keygate/internal/metrics"
	"github.com/sipico/keygate/internal/middleware"
)

// maxBodyBytes caps request bodies. The largest payload is a key creation
// request; 64 KiB leaves ample headroom.
const maxBodyBytes = 64 << 10

// logAllowlist names the JSON body fields that survive debug-log masking.
// Credentials (password, token, key) are deliberately absent.
var logAllowlist = []string{
	"email", "name", "id", "user_id", "scopes", "environment",
	"expires_in_days", "status", "revoked", "count",
}

// NewRouter creates the HTTP router with all routes and middleware.
func (h *Handler) NewRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(metrics.Middleware)
	r.Use(middleware.MaxBodySize(maxBodyBytes))
	r.Use(middleware.HTTPLogging(h.logger, logAllowlist))
	r.Use(chimw.Recoverer)

	// Public endpoints (no auth)
	r.Get("/health", h.HandleHealth)
	r.Get("/ready", h.HandleReady)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/login", h.HandleLogin)

		// Session-holder endpoints
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireSession(h.service))

			r.Post("/logout", h.HandleLogout)
			r.Post("/logout-all", h.HandleLogoutAll)

			r.Get("/keys", h.HandleListKeys)
			r.Post("/keys", h.HandleCreateKey)
			r.Get("/keys/{id}", h.HandleGetKey)
			r.Delete("/keys/{id}", h.HandleRevokeKey)
			r.Post("/keys/{id}/regenerate", h.HandleRegenerateKey)

			// Admin-only endpoints
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAdmin())

				r.Get("/sessions", h.HandleListSessions)
				r.Get("/sessions/stats", h.HandleSessionStats)
				r.Post("/loglevel", h.HandleSetLogLevel)
			})
		})

		// Key-authenticated data plane example, rate limited per key
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAPIKey(h.authority, h.limiter, apikey.ScopeRead))

			r.Get("/data", h.HandleData)
		})
	})

	return r
}
