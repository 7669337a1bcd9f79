// Package identity is the boundary to the user store. The credential core
// only ever needs a user lookup and a password check; the rest of user
// management lives elsewhere.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sipico/keygate/internal/storage"
)

// ErrNotFound is returned when no user matches the lookup.
var ErrNotFound = errors.New("identity: user not found")

// dummyHash keeps the cost of rejecting an unknown email in line with the
// cost of rejecting a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("keygate-timing-pad"), 12)

// User is a resolved identity.
type User struct {
	ID    int64
	Email string
	Role  string
}

// Directory resolves user ids to identities.
type Directory interface {
	FindUserByID(ctx context.Context, id int64) (*User, error)
}

// Authenticator verifies login credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*User, error)
}

// Store is the persistence surface the sqlite directory needs.
// *storage.SQLiteStorage satisfies it.
type Store interface {
	CreateUser(ctx context.Context, email, role, passwordHash string, now time.Time) (int64, error)
	GetUserByID(ctx context.Context, id int64) (*storage.User, error)
	GetUserByEmail(ctx context.Context, email string) (*storage.User, error)
	CountUsers(ctx context.Context) (int64, error)
}

// SQLDirectory is the sqlite-backed Directory and Authenticator.
type SQLDirectory struct {
	store Store
}

// NewSQLDirectory creates a SQLDirectory.
func NewSQLDirectory(store Store) *SQLDirectory {
	return &SQLDirectory{store: store}
}

// FindUserByID resolves a user id. Returns ErrNotFound for unknown ids.
func (d *SQLDirectory) FindUserByID(ctx context.Context, id int64) (*User, error) {
	u, err := d.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &User{ID: u.ID, Email: u.Email, Role: u.Role}, nil
}

// Authenticate verifies an email/password pair against the stored bcrypt
// hash. A wrong password and an unknown email both return ErrNotFound, so
// callers cannot distinguish the two.
func (d *SQLDirectory) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := d.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Burn a comparison anyway so unknown emails cost the same
			// as wrong passwords.
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrNotFound
	}

	return &User{ID: u.ID, Email: u.Email, Role: u.Role}, nil
}

// CreateUser hashes the password with bcrypt and stores the user.
func (d *SQLDirectory) CreateUser(ctx context.Context, email, role, password string) (int64, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return 0, err
	}
	return d.store.CreateUser(ctx, email, role, hash, time.Now().UTC())
}

// Bootstrap creates an initial admin user when the users table is empty.
// Once any user exists, bootstrap credentials are ignored - the same
// lockout shape as a master key that stops working after setup.
func (d *SQLDirectory) Bootstrap(ctx context.Context, email, password string) (bool, error) {
	if email == "" || password == "" {
		return false, nil
	}

	count, err := d.store.CountUsers(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check bootstrap state: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	if _, err := d.CreateUser(ctx, email, "admin", password); err != nil {
		return false, err
	}

	return true, nil
}

// HashPassword creates a bcrypt hash of a password for storage.
func HashPassword(password string) (string, error) {
	// Use bcrypt cost 12
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
