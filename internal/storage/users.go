package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// CreateUser inserts a user row and returns its ID.
// Returns ErrDuplicate if the email is already taken.
func (s *SQLiteStorage) CreateUser(ctx context.Context, email, role, passwordHash string, now time.Time) (int64, error) {
	if email == "" {
		return 0, errors.New("email required")
	}

	result, err := s.db.ExecContext(ctx,
		"INSERT INTO users (email, role, password_hash, created_at) VALUES (?, ?, ?, ?)",
		email, role, passwordHash, now.Unix())
	if err != nil {
		var sqliteErr *sqlite.Error
		if errors.As(err, &sqliteErr) {
			if sqliteErr.Code() == 2067 || (sqliteErr.Code()&0xFF) == sqlite3.SQLITE_CONSTRAINT {
				return 0, ErrDuplicate
			}
		}
		return 0, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get insert ID: %w", err)
	}

	return id, nil
}

// GetUserByID retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStorage) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, email, role, password_hash, created_at FROM users WHERE id = ?", id))
}

// GetUserByEmail retrieves a user by email.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStorage) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, email, role, password_hash, created_at FROM users WHERE email = ?", email))
}

// CountUsers returns the number of user rows. Used by the bootstrap check.
func (s *SQLiteStorage) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

func (s *SQLiteStorage) scanUser(row rowScanner) (*User, error) {
	var u User
	var createdAt int64

	err := row.Scan(&u.ID, &u.Email, &u.Role, &u.PasswordHash, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &u, nil
}
