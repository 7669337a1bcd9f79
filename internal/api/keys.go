package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sipico/keygate/internal/apikey"
	"github.com/sipico/keygate/internal/auth"
	"github.com/sipico/keygate/internal/storage"
)

// CreateKeyRequest is the request body for POST /v1/keys.
type CreateKeyRequest struct {
	Name               string            `json:"name"`
	Scopes             []string          `json:"scopes,omitempty"`
	Environment        string            `json:"environment,omitempty"`
	RateLimitPerMinute int               `json:"rate_limit_per_minute,omitempty"`
	RateLimitPerHour   int               `json:"rate_limit_per_hour,omitempty"`
	ExpiresInDays      int               `json:"expires_in_days,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	Notes              string            `json:"notes,omitempty"`
}

// KeyResponse represents an API key in responses. The secret is absent;
// only the prefix and last four characters identify it.
type KeyResponse struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	KeyPrefix          string            `json:"key_prefix"`
	Last4              string            `json:"last4"`
	Scopes             []string          `json:"scopes"`
	Environment        string            `json:"environment"`
	Status             string            `json:"status"`
	RateLimitPerMinute int               `json:"rate_limit_per_minute"`
	RateLimitPerHour   int               `json:"rate_limit_per_hour"`
	CreatedAt          time.Time         `json:"created_at"`
	ExpiresAt          *time.Time        `json:"expires_at,omitempty"`
	RevokedAt          *time.Time        `json:"revoked_at,omitempty"`
	RevokedReason      string            `json:"revoked_reason,omitempty"`
	LastUsedAt         *time.Time        `json:"last_used_at,omitempty"`
	LastUsedIP         string            `json:"last_used_ip,omitempty"`
	TotalRequests      int64             `json:"total_requests"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	Notes              string            `json:"notes,omitempty"`
}

// CreateKeyResponse includes the plaintext key, shown exactly once.
type CreateKeyResponse struct {
	Key       string      `json:"key"` // plaintext, never retrievable again
	KeyRecord KeyResponse `json:"key_record"`
}

// HandleCreateKey generates a new API key for the authenticated user.
// POST /v1/keys
func (h *Handler) HandleCreateKey(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())

	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "name required")
		return
	}

	scopes := make([]apikey.Scope, 0, len(req.Scopes))
	for _, s := range req.Scopes {
		if !apikey.ValidScope(s) {
			WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "unknown scope: "+s)
			return
		}
		scopes = append(scopes, apikey.Scope(s))
	}

	plaintext, key, err := h.authority.Generate(r.Context(), principal.UserID, req.Name, apikey.Options{
		Environment:        apikey.Environment(req.Environment),
		Scopes:             scopes,
		RateLimitPerMinute: req.RateLimitPerMinute,
		RateLimitPerHour:   req.RateLimitPerHour,
		ExpiresInDays:      req.ExpiresInDays,
		Metadata:           req.Metadata,
		Notes:              req.Notes,
	})
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, CreateKeyResponse{
		Key:       plaintext,
		KeyRecord: keyResponse(key, time.Now()),
	})
}

// HandleListKeys lists the caller's keys; admins may inspect any user's.
// GET /v1/keys[?all=true]
func (h *Handler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())

	owner := &principal.UserID
	if principal.Role == "admin" && r.URL.Query().Get("all") == "true" {
		owner = nil
	}

	keys, err := h.authority.List(r.Context(), owner)
	if err != nil {
		h.logger.Error("failed to list keys", "error", err)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal error")
		return
	}

	now := time.Now()
	resp := make([]KeyResponse, 0, len(keys))
	for _, key := range keys {
		resp = append(resp, keyResponse(key, now))
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleGetKey returns one key's metadata.
// GET /v1/keys/{id}
func (h *Handler) HandleGetKey(w http.ResponseWriter, r *http.Request) {
	key, ok := h.ownedKey(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, keyResponse(key, time.Now()))
}

// RevokeKeyRequest is the optional request body for DELETE /v1/keys/{id}.
type RevokeKeyRequest struct {
	Reason string `json:"reason,omitempty"`
}

// HandleRevokeKey revokes a key. Idempotent; unknown ids are 404.
// DELETE /v1/keys/{id}
func (h *Handler) HandleRevokeKey(w http.ResponseWriter, r *http.Request) {
	key, ok := h.ownedKey(w, r)
	if !ok {
		return
	}

	var req RevokeKeyRequest
	// The body is optional; decode errors just mean no reason was given.
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "revoked by owner"
	}

	revoked, err := h.authority.Revoke(r.Context(), key.ID, req.Reason)
	if err != nil {
		h.logger.Error("failed to revoke key", "error", err, "key_id", key.ID)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"revoked": revoked})
}

// HandleRegenerateKey revokes a key and issues a replacement with the same
// attributes. The new plaintext is shown exactly once.
// POST /v1/keys/{id}/regenerate
func (h *Handler) HandleRegenerateKey(w http.ResponseWriter, r *http.Request) {
	key, ok := h.ownedKey(w, r)
	if !ok {
		return
	}

	plaintext, replacement, err := h.authority.Regenerate(r.Context(), key.ID)
	if err != nil {
		h.logger.Error("failed to regenerate key", "error", err, "key_id", key.ID)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, CreateKeyResponse{
		Key:       plaintext,
		KeyRecord: keyResponse(replacement, time.Now()),
	})
}

// ownedKey loads the key named in the URL and enforces ownership. Unknown
// ids and other users' keys both come back as 404 so existence does not
// leak. Writes the error response itself when returning ok=false.
func (h *Handler) ownedKey(w http.ResponseWriter, r *http.Request) (*storage.APIKey, bool) {
	principal := auth.PrincipalFromContext(r.Context())
	id := chi.URLParam(r, "id")

	key, err := h.authority.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteError(w, http.StatusNotFound, ErrCodeNotFound, "key not found")
			return nil, false
		}
		h.logger.Error("failed to get key", "error", err, "key_id", id)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal error")
		return nil, false
	}

	if key.UserID != principal.UserID && principal.Role != "admin" {
		WriteError(w, http.StatusNotFound, ErrCodeNotFound, "key not found")
		return nil, false
	}

	return key, true
}

// keyResponse converts a stored key to its API shape. Status derivation:
// revoked wins over expired, expired over active.
func keyResponse(key *storage.APIKey, now time.Time) KeyResponse {
	status := "active"
	switch {
	case key.RevokedAt != nil:
		status = "revoked"
	case key.ExpiresAt != nil && !key.ExpiresAt.After(now):
		status = "expired"
	}

	return KeyResponse{
		ID:                 key.ID,
		Name:               key.Name,
		KeyPrefix:          key.KeyPrefix,
		Last4:              key.Last4,
		Scopes:             key.Scopes,
		Environment:        key.Environment,
		Status:             status,
		RateLimitPerMinute: key.RateLimitPerMinute,
		RateLimitPerHour:   key.RateLimitPerHour,
		CreatedAt:          key.CreatedAt,
		ExpiresAt:          key.ExpiresAt,
		RevokedAt:          key.RevokedAt,
		RevokedReason:      key.RevokedReason,
		LastUsedAt:         key.LastUsedAt,
		LastUsedIP:         key.LastUsedIP,
		TotalRequests:      key.TotalRequests,
		Metadata:           key.Metadata,
		Notes:              key.Notes,
	}
}
