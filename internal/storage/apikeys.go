package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// InsertAPIKey creates a new API key row.
// Returns ErrDuplicate if a key with this hash already exists.
func (s *SQLiteStorage) InsertAPIKey(ctx context.Context, key *APIKey) error {
	scopesJSON, err := json.Marshal(key.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	metadata := key.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_prefix, key_hash, last4, scopes,
			environment, rate_limit_per_minute, rate_limit_per_hour, expires_at,
			revoked_at, revoked_reason, total_requests, last_used_at, last_used_ip,
			metadata, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, '', 0, NULL, '', ?, ?, ?)`,
		key.ID, key.UserID, key.Name, key.KeyPrefix, key.KeyHash, key.Last4,
		string(scopesJSON), key.Environment, key.RateLimitPerMinute, key.RateLimitPerHour,
		unixOrNil(key.ExpiresAt), string(metadataJSON), key.Notes, key.CreatedAt.Unix())
	if err != nil {
		// UNIQUE constraint extended error code is 2067; 19 is the base
		// constraint error code.
		var sqliteErr *sqlite.Error
		if errors.As(err, &sqliteErr) {
			if sqliteErr.Code() == 2067 || (sqliteErr.Code()&0xFF) == sqlite3.SQLITE_CONSTRAINT {
				return ErrDuplicate
			}
		}
		return fmt.Errorf("failed to insert api key: %w", err)
	}

	return nil
}

// GetAPIKeyByHash retrieves an API key by the SHA-256 hash of its plaintext.
// This is the authentication lookup. Returns ErrNotFound if the hash is unknown.
func (s *SQLiteStorage) GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	return s.scanAPIKey(s.db.QueryRowContext(ctx,
		apiKeySelect+" WHERE key_hash = ?", keyHash))
}

// GetAPIKeyByID retrieves an API key by ID.
// Returns ErrNotFound if the key doesn't exist.
func (s *SQLiteStorage) GetAPIKeyByID(ctx context.Context, id string) (*APIKey, error) {
	return s.scanAPIKey(s.db.QueryRowContext(ctx,
		apiKeySelect+" WHERE id = ?", id))
}

// ListAPIKeys returns API key rows, newest first.
// A nil userID lists all keys; otherwise only that user's.
func (s *SQLiteStorage) ListAPIKeys(ctx context.Context, userID *int64) ([]*APIKey, error) {
	query := apiKeySelect
	args := []any{}
	if userID != nil {
		query += " WHERE user_id = ?"
		args = append(args, *userID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var keys []*APIKey
	for rows.Next() {
		key, err := s.scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating api keys: %w", err)
	}

	if keys == nil {
		keys = make([]*APIKey, 0)
	}

	return keys, nil
}

// TouchAPIKey records a successful validation: increments total_requests
// and sets last_used_at/last_used_ip in one statement so concurrent
// validations of the same key never lose an increment.
func (s *SQLiteStorage) TouchAPIKey(ctx context.Context, id string, now time.Time, ip string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET total_requests = total_requests + 1,
			last_used_at = ?, last_used_ip = ? WHERE id = ?`,
		now.Unix(), ip, id)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}

// RevokeAPIKey marks a key revoked with a reason. The revoked_at guard in
// the WHERE clause makes double-revokes a no-op; the return value reports
// whether this call actually revoked the key.
func (s *SQLiteStorage) RevokeAPIKey(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET revoked_at = ?, revoked_reason = ? WHERE id = ? AND revoked_at IS NULL",
		now.Unix(), reason, id)
	if err != nil {
		return false, fmt.Errorf("failed to revoke api key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// RevokeExpiredAPIKeys bulk-revokes every unrevoked key whose expiry has
// passed. Idempotent: a second call reports zero newly affected rows.
func (s *SQLiteStorage) RevokeExpiredAPIKeys(ctx context.Context, reason string, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = ?, revoked_reason = ?
		 WHERE revoked_at IS NULL AND expires_at IS NOT NULL AND expires_at <= ?`,
		now.Unix(), reason, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to revoke expired api keys: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

const apiKeySelect = `SELECT id, user_id, name, key_prefix, key_hash, last4, scopes,
	environment, rate_limit_per_minute, rate_limit_per_hour, expires_at,
	revoked_at, revoked_reason, total_requests, last_used_at, last_used_ip,
	metadata, notes, created_at FROM api_keys`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStorage) scanAPIKey(row rowScanner) (*APIKey, error) {
	var key APIKey
	var scopesJSON, metadataJSON string
	var createdAt int64
	var expiresAt, revokedAt, lastUsedAt sql.NullInt64

	err := row.Scan(&key.ID, &key.UserID, &key.Name, &key.KeyPrefix, &key.KeyHash,
		&key.Last4, &scopesJSON, &key.Environment, &key.RateLimitPerMinute,
		&key.RateLimitPerHour, &expiresAt, &revokedAt, &key.RevokedReason,
		&key.TotalRequests, &lastUsedAt, &key.LastUsedIP, &metadataJSON,
		&key.Notes, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan api key: %w", err)
	}

	if err := json.Unmarshal([]byte(scopesJSON), &key.Scopes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &key.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	key.CreatedAt = time.Unix(createdAt, 0).UTC()
	key.ExpiresAt = timeOrNil(expiresAt)
	key.RevokedAt = timeOrNil(revokedAt)
	key.LastUsedAt = timeOrNil(lastUsedAt)

	return &key, nil
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timeOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
