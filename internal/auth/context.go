package auth

import (
	"context"

	"github.com/sipico/keygate/internal/storage"
)

// ctxKey is a private type for context keys to prevent collisions.
type ctxKey int

const (
	// Context keys for authentication data.
	principalKey ctxKey = iota // stores *Principal
	apiKeyKey                  // stores *storage.APIKey
)

// PrincipalFromContext retrieves the authenticated session principal.
// Returns nil if the request was not session-authenticated.
func PrincipalFromContext(ctx context.Context) *Principal {
	if v := ctx.Value(principalKey); v != nil {
		if p, ok := v.(*Principal); ok {
			return p
		}
	}
	return nil
}

// APIKeyFromContext retrieves the authenticated API key.
// Returns nil if the request was not key-authenticated.
func APIKeyFromContext(ctx context.Context) *storage.APIKey {
	if v := ctx.Value(apiKeyKey); v != nil {
		if key, ok := v.(*storage.APIKey); ok {
			return key
		}
	}
	return nil
}

// WithPrincipal adds a session principal to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// WithAPIKey adds an authenticated API key to the context.
func WithAPIKey(ctx context.Context, key *storage.APIKey) context.Context {
	return context.WithValue(ctx, apiKeyKey, key)
}
