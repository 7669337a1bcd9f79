package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// IncrementWindow adds one request to a fixed-window counter and returns
// the new count. The upsert-increment is a single statement, so concurrent
// requests against the same key and slot never lose a count.
func (s *SQLiteStorage) IncrementWindow(ctx context.Context, keyID, window string, slot int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO rate_windows (key_id, window, slot, count) VALUES (?, ?, ?, 1)
		 ON CONFLICT(key_id, window, slot) DO UPDATE SET count = count + 1
		 RETURNING count`,
		keyID, window, slot).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to increment rate window: %w", err)
	}
	return count, nil
}

// WindowCount reads the current count for a window slot without consuming
// from it. A missing row counts as zero.
func (s *SQLiteStorage) WindowCount(ctx context.Context, keyID, window string, slot int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT count FROM rate_windows WHERE key_id = ? AND window = ? AND slot = ?",
		keyID, window, slot).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read rate window: %w", err)
	}
	return count, nil
}

// PruneWindows deletes counter rows for slots older than the given slot for
// a window kind. Meant to run alongside the expiry sweeps.
func (s *SQLiteStorage) PruneWindows(ctx context.Context, window string, beforeSlot int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM rate_windows WHERE window = ? AND slot < ?", window, beforeSlot)
	if err != nil {
		return 0, fmt.Errorf("failed to prune rate windows: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
