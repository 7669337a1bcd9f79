package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sipico/keygate/internal/auth"
	"github.com/sipico/keygate/internal/logging"
	"github.com/sipico/keygate/internal/storage"
)

// LoginRequest is the request body for POST /v1/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the freshly minted session token.
type LoginResponse struct {
	Token  string `json:"token"`
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// HandleLogin authenticates a user and mints a session token.
// POST /v1/login
// Body: {"email": "...", "password": "..."}
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "email and password required")
		return
	}

	raw, user, err := h.service.Login(r.Context(), req.Email, req.Password,
		r.Header.Get("Authorization"), r.UserAgent(), r.RemoteAddr)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			WriteError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid email or password")
			return
		}
		h.logger.Error("login failed", "error", err)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:  raw,
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	})
}

// HandleLogout revokes the presented session token.
// POST /v1/logout
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	raw := auth.ExtractBearerToken(r.Header.Get("Authorization"))
	revoked := h.service.RevokeSession(r.Context(), raw)

	h.logger.Info("session logout", "revoked", revoked)
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": revoked})
}

// HandleLogoutAll revokes every session of the authenticated user.
// POST /v1/logout-all
func (h *Handler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	count := h.service.RevokeAllSessions(r.Context(), principal.UserID)

	h.logger.Info("sessions logout-all", "user_id", principal.UserID, "count", count)
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": count})
}

// SessionResponse represents an active session in API responses.
// The token itself is unrecoverable; only its hash tail identifies it.
type SessionResponse struct {
	TokenHash  string    `json:"token_hash"`
	UserID     int64     `json:"user_id"`
	UserAgent  string    `json:"user_agent"`
	IPAddress  string    `json:"ip_address"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// HandleListSessions returns active sessions, optionally for one user.
// GET /v1/sessions?user_id=N (admin)
func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	var userID *int64
	if v := r.URL.Query().Get("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid user_id")
			return
		}
		userID = &id
	}

	sessions, err := h.service.ListActiveSessions(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal error")
		return
	}

	resp := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, SessionResponse{
			TokenHash:  logging.MaskCredential(s.TokenHash),
			UserID:     s.UserID,
			UserAgent:  s.UserAgent,
			IPAddress:  s.IPAddress,
			IssuedAt:   s.IssuedAt,
			ExpiresAt:  s.ExpiresAt,
			LastUsedAt: s.LastUsedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// StatsResponse is the live session statistics payload.
type StatsResponse struct {
	UsersOnline           int64   `json:"users_online"`
	TotalSessions         int64   `json:"total_sessions"`
	ActiveLast5Min        int64   `json:"active_last_5min"`
	ActiveLast30Min       int64   `json:"active_last_30min"`
	AvgSessionDurationSec float64 `json:"avg_session_duration_seconds"`
}

// HandleSessionStats returns live session statistics.
// GET /v1/sessions/stats (admin)
func (h *Handler) HandleSessionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.SessionStats(r.Context())
	if err != nil {
		h.logger.Error("failed to compute session stats", "error", err)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, statsResponse(stats))
}

func statsResponse(s storage.SessionStats) StatsResponse {
	return StatsResponse{
		UsersOnline:           s.UsersOnline,
		TotalSessions:         s.TotalSessions,
		ActiveLast5Min:        s.ActiveLast5Min,
		ActiveLast30Min:       s.ActiveLast30Min,
		AvgSessionDurationSec: s.AvgSessionDuration.Seconds(),
	}
}

// SetLogLevelRequest is the request body for POST /v1/loglevel.
type SetLogLevelRequest struct {
	Level string `json:"level"`
}

// HandleSetLogLevel changes the runtime log level.
// POST /v1/loglevel (admin)
// Body: {"level": "debug|info|warn|error"}
func (h *Handler) HandleSetLogLevel(w http.ResponseWriter, r *http.Request) {
	var req SetLogLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	level, err := logging.ParseLevel(req.Level)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	h.logLevel.Set(level)
	h.logger.Info("log level changed", "new_level", req.Level)

	writeJSON(w, http.StatusOK, map[string]string{"level": req.Level})
}
