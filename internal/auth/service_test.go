package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sipico/keygate/internal/identity"
	"github.com/sipico/keygate/internal/session"
	"github.com/sipico/keygate/internal/storage"
	"github.com/sipico/keygate/internal/token"
)

type testHarness struct {
	store    *storage.SQLiteStorage
	issuer   *token.Issuer
	registry *session.Registry
	users    *identity.SQLDirectory
	service  *Service
}

func newTestHarness(t *testing.T, policy Policy) *testHarness {
	t.Helper()

	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	issuer := token.NewIssuer("auth-test-secret", time.Hour)
	registry := session.NewRegistry(store, issuer, logger)
	users := identity.NewSQLDirectory(store)
	validator := NewValidator(registry, issuer, users, logger)
	service := NewService(issuer, registry, validator, users, policy, logger)

	return &testHarness{
		store:    store,
		issuer:   issuer,
		registry: registry,
		users:    users,
		service:  service,
	}
}

func (h *testHarness) createUser(t *testing.T, email, role, password string) *identity.User {
	t.Helper()
	id, err := h.users.CreateUser(context.Background(), email, role, password)
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return &identity.User{ID: id, Email: email, Role: role}
}

// TestLoginAndValidate verifies the full login-then-validate flow.
func TestLoginAndValidate(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Policy{})
	ctx := context.Background()
	h.createUser(t, "op@example.com", "admin", "hunter2-long")

	raw, user, err := h.service.Login(ctx, "op@example.com", "hunter2-long", "", "cli/1.0", "10.0.0.1")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if user.Email != "op@example.com" {
		t.Errorf("expected login user email op@example.com, got %q", user.Email)
	}

	principal := h.service.ValidateSession(ctx, "Bearer "+raw)
	if principal == nil {
		t.Fatal("expected valid session after login")
	}
	if principal.UserID != user.ID || principal.Role != "admin" || principal.Email != "op@example.com" {
		t.Errorf("unexpected principal: %+v", principal)
	}
}

// TestLoginRejectsBadCredentials verifies wrong password and unknown email.
func TestLoginRejectsBadCredentials(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Policy{})
	ctx := context.Background()
	h.createUser(t, "op@example.com", "user", "hunter2-long")

	if _, _, err := h.service.Login(ctx, "op@example.com", "wrong", "", "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, _, err := h.service.Login(ctx, "ghost@example.com", "hunter2-long", "", "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

// TestValidateSessionRejectsGarbage verifies fail-closed validation.
func TestValidateSessionRejectsGarbage(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Policy{})
	ctx := context.Background()

	for _, header := range []string{"", "Bearer", "Bearer ", "Basic dXNlcg==", "Bearer not-a-token"} {
		if p := h.service.ValidateSession(ctx, header); p != nil {
			t.Errorf("expected nil principal for header %q, got %+v", header, p)
		}
	}
}

// TestRevokeSessionTakesEffectImmediately verifies logout wins over claims.
func TestRevokeSessionTakesEffectImmediately(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Policy{})
	ctx := context.Background()
	h.createUser(t, "op@example.com", "user", "hunter2-long")

	raw, _, err := h.service.Login(ctx, "op@example.com", "hunter2-long", "", "", "")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if !h.service.RevokeSession(ctx, raw) {
		t.Fatal("expected RevokeSession to report a revoked session")
	}
	if h.service.RevokeSession(ctx, raw) {
		t.Error("expected second RevokeSession to be a no-op")
	}
	if p := h.service.ValidateSession(ctx, "Bearer "+raw); p != nil {
		t.Error("expected revoked token to be rejected despite live claims")
	}
}

// TestValidateSessionDeletedAccount verifies sessions of removed accounts
// are denied and garbage-collected.
func TestValidateSessionDeletedAccount(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Policy{})
	ctx := context.Background()

	// A session registered for a user id that has no account behind it.
	raw, err := h.issuer.Issue(999, "user")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if !h.registry.Register(ctx, raw, 999, "", "") {
		t.Fatal("Register failed")
	}

	if p := h.service.ValidateSession(ctx, "Bearer "+raw); p != nil {
		t.Fatal("expected session of a deleted account to be denied")
	}
	if h.registry.IsValid(ctx, raw) {
		t.Error("expected the orphaned session to be revoked on first use")
	}
}

// TestLoginPolicyRevokesPresentedToken verifies single-token auto-logout.
func TestLoginPolicyRevokesPresentedToken(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Policy{AutoLogoutBeforeLogin: true})
	ctx := context.Background()
	h.createUser(t, "op@example.com", "user", "hunter2-long")

	first, _, err := h.service.Login(ctx, "op@example.com", "hunter2-long", "", "", "")
	if err != nil {
		t.Fatalf("first Login failed: %v", err)
	}

	second, _, err := h.service.Login(ctx, "op@example.com", "hunter2-long", "Bearer "+first, "", "")
	if err != nil {
		t.Fatalf("second Login failed: %v", err)
	}

	if h.service.ValidateSession(ctx, "Bearer "+first) != nil {
		t.Error("expected the presented prior token to be revoked")
	}
	if h.service.ValidateSession(ctx, "Bearer "+second) == nil {
		t.Error("expected the fresh token to be valid")
	}
}

// TestLoginPolicyAllTokens verifies every prior session is revoked.
func TestLoginPolicyAllTokens(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Policy{AutoLogoutBeforeLogin: true, AutoLogoutAllTokens: true})
	ctx := context.Background()
	user := h.createUser(t, "op@example.com", "user", "hunter2-long")

	// Two devices; distinct issue times keep the tokens distinct.
	deviceA, err := h.issuer.Issue(user.ID, "user")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	h.registry.Register(ctx, deviceA, user.ID, "phone", "10.0.0.1")

	later := h.issuer.WithClock(func() time.Time { return time.Now().Add(time.Second) })
	deviceB, err := later.Issue(user.ID, "user")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	h.registry.Register(ctx, deviceB, user.ID, "laptop", "10.0.0.2")

	fresh, _, err := h.service.Login(ctx, "op@example.com", "hunter2-long", "Bearer "+deviceA, "", "")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if h.service.ValidateSession(ctx, "Bearer "+deviceA) != nil {
		t.Error("expected device A session to be revoked")
	}
	if h.service.ValidateSession(ctx, "Bearer "+deviceB) != nil {
		t.Error("expected device B session to be revoked")
	}
	if h.service.ValidateSession(ctx, "Bearer "+fresh) == nil {
		t.Error("expected the fresh token to be valid")
	}
}

// TestLoginPolicyNoPriorHeader verifies a bare login revokes nothing.
func TestLoginPolicyNoPriorHeader(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Policy{AutoLogoutBeforeLogin: true, AutoLogoutAllTokens: true})
	ctx := context.Background()
	h.createUser(t, "op@example.com", "user", "hunter2-long")

	existing, _, err := h.service.Login(ctx, "op@example.com", "hunter2-long", "", "", "")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	// No Authorization header on the second login.
	if _, _, err := h.service.Login(ctx, "op@example.com", "hunter2-long", "", "", ""); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if h.service.ValidateSession(ctx, "Bearer "+existing) == nil {
		t.Error("expected existing session to survive a login with no prior header")
	}
}

// TestRevokeAllSessions verifies logout-all stays scoped to one user.
func TestRevokeAllSessions(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Policy{})
	ctx := context.Background()
	alice := h.createUser(t, "alice@example.com", "user", "hunter2-long")
	h.createUser(t, "bob@example.com", "user", "hunter2-long")

	aliceTok, _, err := h.service.Login(ctx, "alice@example.com", "hunter2-long", "", "", "")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	bobTok, _, err := h.service.Login(ctx, "bob@example.com", "hunter2-long", "", "", "")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if count := h.service.RevokeAllSessions(ctx, alice.ID); count != 1 {
		t.Errorf("expected 1 revoked session, got %d", count)
	}
	if h.service.ValidateSession(ctx, "Bearer "+aliceTok) != nil {
		t.Error("expected alice's session to be revoked")
	}
	if h.service.ValidateSession(ctx, "Bearer "+bobTok) == nil {
		t.Error("expected bob's session to survive")
	}
}

// TestExtractBearerToken covers header parsing edge cases.
func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"BEARER abc", "abc"},
		{"Bearer  abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"abc", ""},
	}
	for _, tt := range tests {
		if got := ExtractBearerToken(tt.header); got != tt.want {
			t.Errorf("ExtractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
