package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

// TestRequestIDGenerated verifies a fresh UUID is assigned when absent.
func TestRequestIDGenerated(t *testing.T) {
	t.Parallel()

	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if seen == "" {
		t.Fatal("expected request ID in context")
	}
	if _, err := uuid.Parse(seen); err != nil {
		t.Errorf("expected UUID request ID, got %q", seen)
	}
	if got := w.Header().Get("X-Request-ID"); got != seen {
		t.Errorf("response header %q does not match context ID %q", got, seen)
	}
}

// TestRequestIDReused verifies a valid incoming ID is propagated.
func TestRequestIDReused(t *testing.T) {
	t.Parallel()

	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "client-trace-42")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if seen != "client-trace-42" {
		t.Errorf("expected incoming ID to be reused, got %q", seen)
	}
}

// TestRequestIDRejectsInvalid verifies unsafe IDs are replaced.
func TestRequestIDRejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   string
	}{
		{"spaces", "has spaces"},
		{"newline", "line\nbreak"},
		{"too long", strings.Repeat("a", 129)},
		{"control chars", "abc\x00def"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest("GET", "/health", nil)
			req.Header.Set("X-Request-ID", tt.id)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if seen == tt.id {
				t.Errorf("expected invalid ID %q to be replaced", tt.id)
			}
			if _, err := uuid.Parse(seen); err != nil {
				t.Errorf("expected replacement UUID, got %q", seen)
			}
		})
	}
}

// TestGetRequestIDMissing verifies the zero behavior.
func TestGetRequestIDMissing(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest("GET", "/", nil)
	if got := GetRequestID(req.Context()); got != "" {
		t.Errorf("expected empty ID without middleware, got %q", got)
	}
}
