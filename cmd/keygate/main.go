// Package main provides the entry point for the keygate server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sipico/keygate/internal/api"
	"github.com/sipico/keygate/internal/apikey"
	"github.com/sipico/keygate/internal/auth"
	"github.com/sipico/keygate/internal/config"
	"github.com/sipico/keygate/internal/identity"
	"github.com/sipico/keygate/internal/logging"
	"github.com/sipico/keygate/internal/metrics"
	"github.com/sipico/keygate/internal/session"
	"github.com/sipico/keygate/internal/storage"
	"github.com/sipico/keygate/internal/token"
)

const version = "0.1.0"

// sweepInterval controls how often expired sessions, keys and stale
// rate limit windows are purged.
const sweepInterval = 5 * time.Minute

// app holds everything run() builds so main() and tests can drive it.
type app struct {
	cfg     *config.Config
	router  chi.Router
	store   *storage.SQLiteStorage
	service *auth.Service
	auth    *apikey.Authority
	limiter *apikey.Limiter
	logger  *slog.Logger
}

// run builds the full server from configuration. It is separated from
// main() so the wiring can be exercised in tests.
func run(cfg *config.Config) (*app, error) {
	logLevel := new(slog.LevelVar)
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	logLevel.Set(level)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if err := metrics.Init(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	users := identity.NewSQLDirectory(store)
	if cfg.BootstrapEmail != "" {
		created, err := users.Bootstrap(context.Background(), cfg.BootstrapEmail, cfg.BootstrapPassword)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to bootstrap admin account: %w", err)
		}
		if created {
			logger.Info("bootstrap admin account created", "email", cfg.BootstrapEmail)
		}
	}

	issuer := token.NewIssuer(cfg.TokenSecret, cfg.TokenLifetime)
	registry := session.NewRegistry(store, issuer, logger)
	validator := auth.NewValidator(registry, issuer, users, logger)
	policy := auth.Policy{
		AutoLogoutBeforeLogin: cfg.AutoLogoutBeforeLogin,
		AutoLogoutAllTokens:   cfg.AutoLogoutAllTokens,
	}
	service := auth.NewService(issuer, registry, validator, users, policy, logger)
	authority := apikey.NewAuthority(store, logger)
	limiter := apikey.NewLimiter(store)

	handler := api.NewHandler(service, authority, limiter, store, logLevel, logger)

	return &app{
		cfg:     cfg,
		router:  handler.NewRouter(),
		store:   store,
		service: service,
		auth:    authority,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// sweepLoop periodically removes expired sessions and keys and prunes
// old rate limit windows. Runs until ctx is cancelled.
func (a *app) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweepOnce(ctx)
		}
	}
}

func (a *app) sweepOnce(ctx context.Context) {
	a.service.SweepExpiredSessions(ctx)
	if _, err := a.auth.CleanupExpired(ctx); err != nil {
		a.logger.Error("api key sweep failed", "error", err)
	}
	if _, err := a.limiter.Prune(ctx); err != nil {
		a.logger.Error("rate limit window prune failed", "error", err)
	}
}

// serveMetrics exposes the Prometheus endpoint on its own listener so
// the metrics port never faces the public API surface.
func (a *app) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	a.logger.Info("metrics listener starting", "addr", a.cfg.MetricsListenAddr)
	if err := http.ListenAndServe(a.cfg.MetricsListenAddr, mux); err != nil {
		a.logger.Error("metrics listener failed", "error", err)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	a, err := run(cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.sweepLoop(ctx)
	go a.serveMetrics()

	a.logger.Info("keygate starting", "version", version, "addr", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, a.router); err != nil {
		a.logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
