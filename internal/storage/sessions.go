package storage

import (
	"context"
	"fmt"
	"time"
)

// UpsertSession inserts or replaces the row for a session token hash.
// Re-registering an existing hash updates the metadata rather than failing.
func (s *SQLiteStorage) UpsertSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token_hash, user_id, user_agent, ip_address, issued_at, expires_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(token_hash) DO UPDATE SET
			user_id = excluded.user_id,
			user_agent = excluded.user_agent,
			ip_address = excluded.ip_address,
			issued_at = excluded.issued_at,
			expires_at = excluded.expires_at,
			last_used_at = excluded.last_used_at`,
		sess.TokenHash, sess.UserID, sess.UserAgent, sess.IPAddress,
		sess.IssuedAt.Unix(), sess.ExpiresAt.Unix(), sess.LastUsedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

// TouchSession bumps last_used_at for an unexpired session in a single
// statement. The rows-affected count doubles as the validity check, so
// there is no separate read that could lose updates under concurrency.
// Returns true iff the hash exists and the stored expiry is in the future.
func (s *SQLiteStorage) TouchSession(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET last_used_at = ? WHERE token_hash = ? AND expires_at > ?",
		now.Unix(), tokenHash, now.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to touch session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// DeleteSession removes the row for a token hash.
// Idempotent; reports whether a row existed.
func (s *SQLiteStorage) DeleteSession(ctx context.Context, tokenHash string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE token_hash = ?", tokenHash)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// DeleteUserSessions removes every session row for a user and returns
// the number of rows deleted.
func (s *SQLiteStorage) DeleteUserSessions(ctx context.Context, userID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user sessions: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// DeleteExpiredSessions removes every session row past its expiry.
// Safe to call repeatedly; meant to run on an external scheduler.
func (s *SQLiteStorage) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at <= ?", now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// SessionStats computes a live snapshot over the current unexpired rows.
// Never cached; every call runs the aggregate query.
func (s *SQLiteStorage) SessionStats(ctx context.Context, now time.Time) (SessionStats, error) {
	var stats SessionStats
	var avgSeconds float64

	err := s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*),
			COUNT(DISTINCT user_id),
			COALESCE(SUM(CASE WHEN last_used_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN last_used_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(last_used_at - issued_at), 0)
		 FROM sessions WHERE expires_at > ?`,
		now.Add(-5*time.Minute).Unix(), now.Add(-30*time.Minute).Unix(), now.Unix()).
		Scan(&stats.TotalSessions, &stats.UsersOnline,
			&stats.ActiveLast5Min, &stats.ActiveLast30Min, &avgSeconds)
	if err != nil {
		return SessionStats{}, fmt.Errorf("failed to compute session stats: %w", err)
	}

	stats.AvgSessionDuration = time.Duration(avgSeconds * float64(time.Second))
	return stats, nil
}

// ListSessions returns the current session rows, newest first.
// A nil userID lists all sessions; otherwise only that user's.
func (s *SQLiteStorage) ListSessions(ctx context.Context, userID *int64) ([]*Session, error) {
	query := `SELECT token_hash, user_id, user_agent, ip_address, issued_at, expires_at, last_used_at
		FROM sessions`
	args := []any{}
	if userID != nil {
		query += " WHERE user_id = ?"
		args = append(args, *userID)
	}
	query += " ORDER BY issued_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var sessions []*Session

	for rows.Next() {
		var sess Session
		var issuedAt, expiresAt, lastUsedAt int64
		if err := rows.Scan(&sess.TokenHash, &sess.UserID, &sess.UserAgent,
			&sess.IPAddress, &issuedAt, &expiresAt, &lastUsedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sess.IssuedAt = time.Unix(issuedAt, 0).UTC()
		sess.ExpiresAt = time.Unix(expiresAt, 0).UTC()
		sess.LastUsedAt = time.Unix(lastUsedAt, 0).UTC()
		sessions = append(sessions, &sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	if sessions == nil {
		sessions = make([]*Session, 0)
	}

	return sessions, nil
}
