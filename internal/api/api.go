// Package api provides the HTTP surface for session and API key management.
package api

import (
	"context"
	"log/slog"

	"github.com/sipico/keygate/internal/apikey"
	"github.com/sipico/keygate/internal/auth"
)

// Pinger is the storage health surface for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides the HTTP endpoints.
type Handler struct {
	service   *auth.Service
	authority *apikey.Authority
	limiter   *apikey.Limiter
	storage   Pinger
	logger    *slog.Logger
	logLevel  *slog.LevelVar
}

// NewHandler creates an API handler.
func NewHandler(service *auth.Service, authority *apikey.Authority, limiter *apikey.Limiter, storage Pinger, logLevel *slog.LevelVar, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if logLevel == nil {
		logLevel = new(slog.LevelVar)
	}

	return &Handler{
		service:   service,
		authority: authority,
		limiter:   limiter,
		storage:   storage,
		logger:    logger,
		logLevel:  logLevel,
	}
}
