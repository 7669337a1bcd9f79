// Package session maintains the server-side table of currently-valid
// session token hashes. Registry membership, not the token signature, is
// what makes instant revocation possible for an otherwise stateless token.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/sipico/keygate/internal/storage"
	"github.com/sipico/keygate/internal/token"
)

// Store is the persistence surface the registry needs.
// *storage.SQLiteStorage satisfies it.
type Store interface {
	UpsertSession(ctx context.Context, sess storage.Session) error
	TouchSession(ctx context.Context, tokenHash string, now time.Time) (bool, error)
	DeleteSession(ctx context.Context, tokenHash string) (bool, error)
	DeleteUserSessions(ctx context.Context, userID int64) (int64, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	SessionStats(ctx context.Context, now time.Time) (storage.SessionStats, error)
	ListSessions(ctx context.Context, userID *int64) ([]*storage.Session, error)
}

// TokenParser decodes and verifies a raw session token.
// *token.Issuer satisfies it.
type TokenParser interface {
	Parse(raw string) (token.Claims, error)
}

// Registry manages registered sessions over a Store. All methods are safe
// for concurrent use; coordination happens in the store's atomic statements.
//
// Expected credential failures (malformed token, unknown hash, expiry) come
// back as false/zero. Storage faults are logged and also come back as
// false/zero - the registry fails closed, never open.
type Registry struct {
	store  Store
	parser TokenParser
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates a Registry.
func NewRegistry(store Store, parser TokenParser, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  store,
		parser: parser,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the registry's clock. Used by tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Register stores the hash of a freshly issued token with its metadata.
// The expiry is read from the token's own exp claim; the registry never
// invents one. Re-registering an existing hash updates the metadata.
// Returns false for tokens that fail to decode.
func (r *Registry) Register(ctx context.Context, raw string, userID int64, userAgent, ip string) bool {
	claims, err := r.parser.Parse(raw)
	if err != nil {
		r.logger.Debug("refusing to register undecodable token")
		return false
	}

	now := r.now().UTC()
	sess := storage.Session{
		TokenHash:  token.Hash(raw),
		UserID:     userID,
		UserAgent:  userAgent,
		IPAddress:  ip,
		IssuedAt:   claims.IssuedAt,
		ExpiresAt:  claims.ExpiresAt,
		LastUsedAt: now,
	}

	if err := r.store.UpsertSession(ctx, sess); err != nil {
		r.logger.Error("failed to register session", "error", err, "user_id", userID)
		return false
	}

	return true
}

// IsValid reports whether the token's hash is registered and unexpired.
// The check and the last_used_at bump are one atomic store statement.
func (r *Registry) IsValid(ctx context.Context, raw string) bool {
	if raw == "" {
		return false
	}

	ok, err := r.store.TouchSession(ctx, token.Hash(raw), r.now().UTC())
	if err != nil {
		r.logger.Error("failed to check session validity", "error", err)
		return false
	}

	return ok
}

// Revoke deletes the session row for a token. Idempotent; reports whether
// a row existed. Unknown tokens are not an error.
func (r *Registry) Revoke(ctx context.Context, raw string) bool {
	if raw == "" {
		return false
	}

	existed, err := r.store.DeleteSession(ctx, token.Hash(raw))
	if err != nil {
		r.logger.Error("failed to revoke session", "error", err)
		return false
	}

	return existed
}

// RevokeAll deletes every session for a user (logout-all-devices) and
// returns the number of sessions removed.
func (r *Registry) RevokeAll(ctx context.Context, userID int64) int64 {
	count, err := r.store.DeleteUserSessions(ctx, userID)
	if err != nil {
		r.logger.Error("failed to revoke user sessions", "error", err, "user_id", userID)
		return 0
	}

	if count > 0 {
		r.logger.Info("revoked all sessions for user", "user_id", userID, "count", count)
	}

	return count
}

// SweepExpired deletes rows past expiry. Meant to run on an external
// scheduler; safe to call repeatedly.
func (r *Registry) SweepExpired(ctx context.Context) int64 {
	count, err := r.store.DeleteExpiredSessions(ctx, r.now().UTC())
	if err != nil {
		r.logger.Error("failed to sweep expired sessions", "error", err)
		return 0
	}

	if count > 0 {
		r.logger.Info("swept expired sessions", "count", count)
	}

	return count
}

// Stats returns a live snapshot computed from the current rows.
func (r *Registry) Stats(ctx context.Context) (storage.SessionStats, error) {
	return r.store.SessionStats(ctx, r.now().UTC())
}

// List returns current sessions for inspection. A nil userID lists all
// sessions (admin view); otherwise only that user's (self-service view).
func (r *Registry) List(ctx context.Context, userID *int64) ([]*storage.Session, error) {
	return r.store.ListSessions(ctx, userID)
}
