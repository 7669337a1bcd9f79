package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sipico/keygate/internal/identity"
	"github.com/sipico/keygate/internal/metrics"
	"github.com/sipico/keygate/internal/session"
	"github.com/sipico/keygate/internal/storage"
	"github.com/sipico/keygate/internal/token"
)

// Policy configures the forced login-time logout behavior. When
// AutoLogoutBeforeLogin is set, a login request that carries a prior
// Authorization header revokes that token before the new one is minted;
// with AutoLogoutAllTokens it revokes every session of the resolved user
// instead. A login with no prior header never revokes anything.
type Policy struct {
	AutoLogoutBeforeLogin bool
	AutoLogoutAllTokens   bool
}

// Service is the session-facing facade: it owns login, logout and session
// inspection. API keys live in the apikey package.
type Service struct {
	issuer   *token.Issuer
	registry *session.Registry
	validate *Validator
	users    identity.Authenticator
	policy   Policy
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(issuer *token.Issuer, registry *session.Registry, validator *Validator, users identity.Authenticator, policy Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		issuer:   issuer,
		registry: registry,
		validate: validator,
		users:    users,
		policy:   policy,
		logger:   logger,
	}
}

// Login authenticates an email/password pair, applies the login-time
// logout policy against the request's prior Authorization header, then
// mints and registers a fresh session token.
func (s *Service) Login(ctx context.Context, email, password, priorAuthHeader, userAgent, ip string) (string, *identity.User, error) {
	user, err := s.users.Authenticate(ctx, email, password)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			metrics.RecordAuthFailure("bad_login")
			s.logger.Warn("failed login attempt", "ip", ip)
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("login identity check: %w", err)
	}

	s.applyLoginPolicy(ctx, user.ID, priorAuthHeader)

	raw, err := s.IssueSession(ctx, user, userAgent, ip)
	if err != nil {
		return "", nil, err
	}

	return raw, user, nil
}

// applyLoginPolicy bounds the lifetime of stale or leaked tokens across
// fresh logins. No prior header means nothing to revoke.
func (s *Service) applyLoginPolicy(ctx context.Context, userID int64, priorAuthHeader string) {
	if !s.policy.AutoLogoutBeforeLogin {
		return
	}

	prior := ExtractBearerToken(priorAuthHeader)
	if prior == "" {
		return
	}

	if s.policy.AutoLogoutAllTokens {
		count := s.registry.RevokeAll(ctx, userID)
		s.logger.Debug("login policy revoked prior sessions", "user_id", userID, "count", count)
		return
	}

	if s.registry.Revoke(ctx, prior) {
		s.logger.Debug("login policy revoked presented session", "user_id", userID)
	}
}

// IssueSession mints a signed token for a user and registers its hash.
// An issued-but-unregistered token would be unusable (the registry check
// is authoritative), so registration failure is an error.
func (s *Service) IssueSession(ctx context.Context, user *identity.User, userAgent, ip string) (string, error) {
	raw, err := s.issuer.Issue(user.ID, user.Role)
	if err != nil {
		return "", fmt.Errorf("issue session token: %w", err)
	}

	if !s.registry.Register(ctx, raw, user.ID, userAgent, ip) {
		return "", fmt.Errorf("failed to register session")
	}

	metrics.RecordSessionIssued()
	s.logger.Info("session issued", "user_id", user.ID)

	return raw, nil
}

// ValidateSession validates a raw Authorization header.
// Returns nil for anything that should be denied.
func (s *Service) ValidateSession(ctx context.Context, rawHeader string) *Principal {
	principal := s.validate.ValidateSession(ctx, rawHeader)
	if principal == nil {
		metrics.RecordSessionValidation("denied")
		return nil
	}
	metrics.RecordSessionValidation("ok")
	return principal
}

// RevokeSession deletes the session for a raw token (logout).
// Idempotent; reports whether a session existed.
func (s *Service) RevokeSession(ctx context.Context, raw string) bool {
	revoked := s.registry.Revoke(ctx, raw)
	if revoked {
		metrics.RecordSessionRevoked("logout")
	}
	return revoked
}

// RevokeAllSessions deletes every session for a user (logout all devices).
func (s *Service) RevokeAllSessions(ctx context.Context, userID int64) int64 {
	count := s.registry.RevokeAll(ctx, userID)
	if count > 0 {
		metrics.RecordSessionRevoked("logout_all")
	}
	return count
}

// SessionStats returns the live session counters.
func (s *Service) SessionStats(ctx context.Context) (storage.SessionStats, error) {
	return s.registry.Stats(ctx)
}

// ListActiveSessions lists sessions for inspection; nil userID means all.
func (s *Service) ListActiveSessions(ctx context.Context, userID *int64) ([]*storage.Session, error) {
	return s.registry.List(ctx, userID)
}

// SweepExpiredSessions runs the expiry sweep. Meant for a scheduler.
func (s *Service) SweepExpiredSessions(ctx context.Context) int64 {
	count := s.registry.SweepExpired(ctx)
	metrics.RecordSweep("sessions", count)
	return count
}
