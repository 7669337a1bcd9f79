// Package token mints and verifies the signed session tokens handed to
// clients at login. Tokens are stateless; revocation is handled by the
// session registry, which stores only the SHA-256 hash of the raw token.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// DefaultLifetime is the session token lifetime when none is configured.
const DefaultLifetime = 24 * time.Hour

// ErrInvalidToken is returned for any token that fails to parse or verify.
// The reason is deliberately not distinguished to callers.
var ErrInvalidToken = errors.New("token: invalid token")

// Claims is the decoded, verified payload of a session token.
type Claims struct {
	UserID    int64
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer mints signed session tokens. It is a pure function of its inputs
// and the injected clock; registering the result is the caller's concern.
type Issuer struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// NewIssuer creates an Issuer. A non-positive lifetime falls back to
// DefaultLifetime.
func NewIssuer(secret string, lifetime time.Duration) *Issuer {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Issuer{
		secret:   []byte(secret),
		lifetime: lifetime,
		now:      time.Now,
	}
}

// WithClock overrides the issuer's clock. Used by tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Issue mints a signed token for a user. Claims carry the subject id,
// role, issue time and expiry.
func (i *Issuer) Issue(userID int64, role string) (string, error) {
	if len(i.secret) == 0 {
		return "", fmt.Errorf("token secret is empty")
	}
	if userID <= 0 {
		return "", fmt.Errorf("invalid token subject")
	}

	now := i.now().UTC()
	claims := tokenClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.lifetime)),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}

	return signed, nil
}

// Parse verifies the signature and standard claims of a raw token and
// returns its decoded claims. Any malformed, tampered or expired token
// yields ErrInvalidToken.
func (i *Issuer) Parse(raw string) (Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return Claims{}, ErrInvalidToken
	}

	claims := &tokenClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}), jwt.WithTimeFunc(i.now))
	if err != nil || tok == nil || !tok.Valid {
		return Claims{}, ErrInvalidToken
	}

	userID, parseErr := strconv.ParseInt(claims.Subject, 10, 64)
	if parseErr != nil || userID <= 0 {
		return Claims{}, ErrInvalidToken
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return Claims{}, ErrInvalidToken
	}

	return Claims{
		UserID:    userID,
		Role:      claims.Role,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Hash computes the SHA256 hash of a token for storage lookup.
func Hash(raw string) string {
	hash := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(hash[:])
}
