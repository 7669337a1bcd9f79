// Package apikey issues and validates long-lived scoped API keys. The
// plaintext key is shown exactly once at creation or regeneration; only its
// SHA-256 hash is persisted, alongside the last four characters of the
// random segment for display.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sipico/keygate/internal/storage"
)

// Environment distinguishes production keys from test keys by prefix, so a
// leaked key is identifiable without any lookup.
type Environment string

const (
	// EnvProduction marks keys minted for production use.
	EnvProduction Environment = "production"
	// EnvTest marks keys minted for test use.
	EnvTest Environment = "test"
)

// Key prefixes encode the environment into the plaintext.
const (
	prefixLive = "keygate_live"
	prefixTest = "keygate_test"
)

// secretBytes is the random segment length before hex encoding.
const secretBytes = 32

// Defaults applied when Options leaves a field zero.
const (
	DefaultRateLimitPerMinute = 60
	DefaultRateLimitPerHour   = 3600
)

// Status classifies the outcome of a key validation. Revoked is kept
// distinct from NotFound so reuse of a dead key can be logged differently
// from garbage key attempts.
type Status int

const (
	// StatusNotFound means no key matches the presented plaintext.
	StatusNotFound Status = iota
	// StatusRevoked means the key exists but has been revoked or has expired.
	StatusRevoked
	// StatusActive means the key is usable.
	StatusActive
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusNotFound:
		return "not_found"
	case StatusRevoked:
		return "revoked"
	case StatusActive:
		return "active"
	default:
		return "unknown"
	}
}

// Options configures key generation. Zero values take defaults:
// environment test, scopes {read, write}, 60/minute, 3600/hour, no expiry.
type Options struct {
	Environment        Environment
	Scopes             []Scope
	RateLimitPerMinute int
	RateLimitPerHour   int
	ExpiresInDays      int
	Metadata           map[string]string
	Notes              string
}

// Store is the persistence surface the authority needs.
// *storage.SQLiteStorage satisfies it.
type Store interface {
	InsertAPIKey(ctx context.Context, key *storage.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*storage.APIKey, error)
	GetAPIKeyByID(ctx context.Context, id string) (*storage.APIKey, error)
	ListAPIKeys(ctx context.Context, userID *int64) ([]*storage.APIKey, error)
	TouchAPIKey(ctx context.Context, id string, now time.Time, ip string) error
	RevokeAPIKey(ctx context.Context, id, reason string, now time.Time) (bool, error)
	RevokeExpiredAPIKeys(ctx context.Context, reason string, now time.Time) (int64, error)
}

// Authority generates, validates and revokes API keys. Safe for concurrent
// use; the usage counters are maintained by atomic store statements.
type Authority struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewAuthority creates an Authority.
func NewAuthority(store Store, logger *slog.Logger) *Authority {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authority{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the authority's clock. Used by tests.
func (a *Authority) WithClock(now func() time.Time) *Authority {
	a.now = now
	return a
}

// Generate mints a new API key for an owner. The returned plaintext is the
// only copy that will ever exist; it is not logged on any path.
func (a *Authority) Generate(ctx context.Context, ownerID int64, name string, opts Options) (string, *storage.APIKey, error) {
	if name == "" {
		return "", nil, fmt.Errorf("key name required")
	}

	env := opts.Environment
	if env == "" {
		env = EnvTest
	}
	prefix, err := prefixFor(env)
	if err != nil {
		return "", nil, err
	}

	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = []Scope{ScopeRead, ScopeWrite}
	}
	scopeStrings := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if !ValidScope(string(s)) {
			return "", nil, fmt.Errorf("unknown scope %q", s)
		}
		scopeStrings = append(scopeStrings, string(s))
	}

	perMinute := opts.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = DefaultRateLimitPerMinute
	}
	perHour := opts.RateLimitPerHour
	if perHour <= 0 {
		perHour = DefaultRateLimitPerHour
	}

	now := a.now().UTC()
	var expiresAt *time.Time
	if opts.ExpiresInDays > 0 {
		t := now.Add(time.Duration(opts.ExpiresInDays) * 24 * time.Hour)
		expiresAt = &t
	}

	plaintext, secret, err := mintPlaintext(prefix)
	if err != nil {
		return "", nil, err
	}

	key := &storage.APIKey{
		ID:                 uuid.NewString(),
		UserID:             ownerID,
		Name:               name,
		KeyPrefix:          prefix,
		KeyHash:            hashKey(plaintext),
		Last4:              secret[len(secret)-4:],
		Scopes:             scopeStrings,
		Environment:        string(env),
		RateLimitPerMinute: perMinute,
		RateLimitPerHour:   perHour,
		ExpiresAt:          expiresAt,
		Metadata:           opts.Metadata,
		Notes:              opts.Notes,
		CreatedAt:          now,
	}

	if err := a.store.InsertAPIKey(ctx, key); err != nil {
		return "", nil, fmt.Errorf("failed to store api key: %w", err)
	}

	a.logger.Info("api key generated",
		"key_id", key.ID, "owner_id", ownerID, "environment", key.Environment,
		"name", name, "last4", key.Last4)

	return plaintext, key, nil
}

// Validate classifies a presented plaintext key. Active keys have their
// usage recorded (one atomic statement) before being returned; the record's
// counters reflect this request. A non-nil error means an infrastructure
// fault - callers must treat it as a denial.
func (a *Authority) Validate(ctx context.Context, plaintext, ip string) (*storage.APIKey, Status, error) {
	if strings.TrimSpace(plaintext) == "" {
		return nil, StatusNotFound, nil
	}

	key, err := a.store.GetAPIKeyByHash(ctx, hashKey(plaintext))
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, StatusNotFound, nil
		}
		return nil, StatusNotFound, fmt.Errorf("failed to look up api key: %w", err)
	}

	now := a.now().UTC()
	if key.RevokedAt != nil {
		return key, StatusRevoked, nil
	}
	if key.ExpiresAt != nil && !key.ExpiresAt.After(now) {
		return key, StatusRevoked, nil
	}

	if err := a.store.TouchAPIKey(ctx, key.ID, now, ip); err != nil {
		return nil, StatusNotFound, fmt.Errorf("failed to record api key use: %w", err)
	}
	key.TotalRequests++
	key.LastUsedAt = &now
	key.LastUsedIP = ip

	return key, StatusActive, nil
}

// HasScope reports whether the key carries the scope or the wildcard.
func HasScope(key *storage.APIKey, scope Scope) bool {
	if key == nil {
		return false
	}
	return hasScope(key.Scopes, scope)
}

// Revoke marks a key revoked with a reason. Idempotent: revoking an
// already-revoked key is a no-op and reports false. Returns
// storage.ErrNotFound for an unknown id.
func (a *Authority) Revoke(ctx context.Context, id, reason string) (bool, error) {
	if _, err := a.store.GetAPIKeyByID(ctx, id); err != nil {
		return false, err
	}

	revoked, err := a.store.RevokeAPIKey(ctx, id, reason, a.now().UTC())
	if err != nil {
		return false, err
	}

	if revoked {
		a.logger.Info("api key revoked", "key_id", id, "reason", reason)
	}

	return revoked, nil
}

// Regenerate revokes the current key with reason "regenerated" and issues a
// replacement preserving name, scopes, limits, environment and notes. The
// remaining TTL carries forward: the replacement expires at the same
// instant the original would have.
func (a *Authority) Regenerate(ctx context.Context, id string) (string, *storage.APIKey, error) {
	old, err := a.store.GetAPIKeyByID(ctx, id)
	if err != nil {
		return "", nil, err
	}

	now := a.now().UTC()
	if _, err := a.store.RevokeAPIKey(ctx, id, "regenerated", now); err != nil {
		return "", nil, fmt.Errorf("failed to revoke old key: %w", err)
	}

	plaintext, secret, err := mintPlaintext(old.KeyPrefix)
	if err != nil {
		return "", nil, err
	}

	replacement := &storage.APIKey{
		ID:                 uuid.NewString(),
		UserID:             old.UserID,
		Name:               old.Name,
		KeyPrefix:          old.KeyPrefix,
		KeyHash:            hashKey(plaintext),
		Last4:              secret[len(secret)-4:],
		Scopes:             old.Scopes,
		Environment:        old.Environment,
		RateLimitPerMinute: old.RateLimitPerMinute,
		RateLimitPerHour:   old.RateLimitPerHour,
		ExpiresAt:          old.ExpiresAt,
		Metadata:           old.Metadata,
		Notes:              old.Notes,
		CreatedAt:          now,
	}

	if err := a.store.InsertAPIKey(ctx, replacement); err != nil {
		return "", nil, fmt.Errorf("failed to store replacement key: %w", err)
	}

	a.logger.Info("api key regenerated",
		"old_key_id", id, "key_id", replacement.ID, "last4", replacement.Last4)

	return plaintext, replacement, nil
}

// CleanupExpired bulk-revokes every unrevoked key past its expiry with
// reason "expired automatically". Idempotent: a second call reports zero.
func (a *Authority) CleanupExpired(ctx context.Context) (int64, error) {
	count, err := a.store.RevokeExpiredAPIKeys(ctx, "expired automatically", a.now().UTC())
	if err != nil {
		return 0, err
	}

	if count > 0 {
		a.logger.Info("revoked expired api keys", "count", count)
	}

	return count, nil
}

// List returns key records, optionally restricted to one owner.
func (a *Authority) List(ctx context.Context, ownerID *int64) ([]*storage.APIKey, error) {
	return a.store.ListAPIKeys(ctx, ownerID)
}

// Get returns a single key record by id.
func (a *Authority) Get(ctx context.Context, id string) (*storage.APIKey, error) {
	return a.store.GetAPIKeyByID(ctx, id)
}

func prefixFor(env Environment) (string, error) {
	switch env {
	case EnvProduction:
		return prefixLive, nil
	case EnvTest:
		return prefixTest, nil
	default:
		return "", fmt.Errorf("unknown environment %q", env)
	}
}

// mintPlaintext draws the random secret and assembles the plaintext key.
// Returns the full plaintext and the bare hex secret.
func mintPlaintext(prefix string) (string, string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to draw key material: %w", err)
	}
	secret := hex.EncodeToString(buf)
	return prefix + "_" + secret, secret, nil
}

// hashKey computes the SHA256 hash of a plaintext key for storage lookup.
func hashKey(plaintext string) string {
	hash := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(hash[:])
}
