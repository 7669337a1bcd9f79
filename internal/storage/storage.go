// Package storage provides types and interfaces for SQLite persistence operations.
package storage

import (
	"context"
	"time"
)

// Storage defines the interface for SQLite persistence operations.
type Storage interface {
	// Session operations
	UpsertSession(ctx context.Context, sess Session) error
	TouchSession(ctx context.Context, tokenHash string, now time.Time) (bool, error)
	DeleteSession(ctx context.Context, tokenHash string) (bool, error)
	DeleteUserSessions(ctx context.Context, userID int64) (int64, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	SessionStats(ctx context.Context, now time.Time) (SessionStats, error)
	ListSessions(ctx context.Context, userID *int64) ([]*Session, error)

	// API key operations
	InsertAPIKey(ctx context.Context, key *APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error)
	GetAPIKeyByID(ctx context.Context, id string) (*APIKey, error)
	ListAPIKeys(ctx context.Context, userID *int64) ([]*APIKey, error)
	TouchAPIKey(ctx context.Context, id string, now time.Time, ip string) error
	RevokeAPIKey(ctx context.Context, id, reason string, now time.Time) (bool, error)
	RevokeExpiredAPIKeys(ctx context.Context, reason string, now time.Time) (int64, error)

	// Rate-limit window operations
	IncrementWindow(ctx context.Context, keyID, window string, slot int64) (int64, error)
	WindowCount(ctx context.Context, keyID, window string, slot int64) (int64, error)
	PruneWindows(ctx context.Context, window string, beforeSlot int64) (int64, error)

	// User operations (identity collaborator backing)
	CreateUser(ctx context.Context, email, role, passwordHash string, now time.Time) (int64, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	CountUsers(ctx context.Context) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}
