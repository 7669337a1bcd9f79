package auth

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sipico/keygate/internal/apikey"
	"github.com/sipico/keygate/internal/metrics"
)

// RequireSession returns chi-compatible middleware that authenticates
// requests with a session bearer token. Requests without a valid,
// registered session are denied with 401.
func RequireSession(s *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := s.ValidateSession(r.Context(), r.Header.Get("Authorization"))
			if principal == nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}

			ctx := WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin returns middleware that rejects non-admin principals.
// Must run after RequireSession.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := PrincipalFromContext(r.Context())
			if principal == nil || principal.Role != "admin" {
				writeJSONError(w, http.StatusForbidden, "admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAPIKey returns middleware that authenticates requests with an
// API key, enforces the required scope and applies the key's per-minute
// and per-hour rate limits.
func RequireAPIKey(authority *apikey.Authority, limiter *apikey.Limiter, scope apikey.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := ExtractBearerToken(r.Header.Get("Authorization"))
			if raw == "" {
				metrics.RecordAPIKeyValidation("missing")
				writeJSONError(w, http.StatusUnauthorized, "missing API key")
				return
			}

			key, status, err := authority.Validate(r.Context(), raw, clientIP(r))
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, "internal error")
				return
			}
			switch status {
			case apikey.StatusActive:
			case apikey.StatusRevoked:
				metrics.RecordAPIKeyValidation("revoked")
				writeJSONError(w, http.StatusUnauthorized, "API key revoked or expired")
				return
			default:
				metrics.RecordAPIKeyValidation("not_found")
				writeJSONError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			if !apikey.HasScope(key, scope) {
				metrics.RecordAPIKeyValidation("forbidden")
				writeJSONError(w, http.StatusForbidden, "insufficient scope")
				return
			}

			decision, err := limiter.Allow(r.Context(), key)
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, "internal error")
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
			if !decision.Allowed {
				metrics.RecordAPIKeyValidation("rate_limited")
				w.Header().Set("Retry-After", strconv.FormatInt(decision.RetryAfterSeconds(), 10))
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			metrics.RecordAPIKeyValidation("ok")
			ctx := WithAPIKey(r.Context(), key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// clientIP returns the remote address without the port.
func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
