// Package testenv provides a reusable in-process keygate server for
// integration and end-to-end tests. Each environment gets its own
// in-memory database and HTTP listener, so tests can run in parallel
// without sharing state.
package testenv

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sipico/keygate/internal/api"
	"github.com/sipico/keygate/internal/apikey"
	"github.com/sipico/keygate/internal/auth"
	"github.com/sipico/keygate/internal/identity"
	"github.com/sipico/keygate/internal/session"
	"github.com/sipico/keygate/internal/storage"
	"github.com/sipico/keygate/internal/token"
)

// Env is a fully wired keygate server bound to an in-memory database.
type Env struct {
	// BaseURL is the root of the running server, e.g. http://127.0.0.1:43211.
	BaseURL string
	// Store is the backing database, exposed for direct seeding and checks.
	Store *storage.SQLiteStorage
	// Users allows tests to create accounts without going through HTTP.
	Users *identity.SQLDirectory

	server *httptest.Server
	client *http.Client
}

// Setup starts a keygate server over an in-memory database and registers
// cleanup with the test. Session tokens issued by this server live one hour.
func Setup(t *testing.T) *Env {
	t.Helper()

	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	issuer := token.NewIssuer("testenv-secret-long-enough-for-hs256", time.Hour)
	registry := session.NewRegistry(store, issuer, logger)
	users := identity.NewSQLDirectory(store)
	validator := auth.NewValidator(registry, issuer, users, logger)
	service := auth.NewService(issuer, registry, validator, users, auth.Policy{}, logger)
	authority := apikey.NewAuthority(store, logger)
	limiter := apikey.NewLimiter(store)

	handler := api.NewHandler(service, authority, limiter, store, new(slog.LevelVar), logger)
	server := httptest.NewServer(handler.NewRouter())

	env := &Env{
		BaseURL: server.URL,
		Store:   store,
		Users:   users,
		server:  server,
		client:  server.Client(),
	}

	t.Cleanup(func() {
		server.Close()
		_ = store.Close()
	})
	return env
}

// CreateUser adds an account directly to the database.
func (e *Env) CreateUser(t *testing.T, email, role, password string) int64 {
	t.Helper()
	id, err := e.Users.CreateUser(context.Background(), email, role, password)
	if err != nil {
		t.Fatalf("failed to create user %s: %v", email, err)
	}
	return id
}

// Login performs a real login request and returns the session token.
func (e *Env) Login(t *testing.T, email, password string) string {
	t.Helper()

	resp := e.Do(t, http.MethodPost, "/v1/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("login as %s failed with %d: %s", email, resp.StatusCode, body)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	return out.Token
}

// Do sends a request to the server. A non-empty bearer is set as the
// Authorization header; a non-nil body is JSON encoded.
func (e *Env) Do(t *testing.T, method, path, bearer string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, e.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	return resp
}

// DecodeJSON reads and closes the response body into out, failing the
// test if the status does not match want.
func DecodeJSON(t *testing.T, resp *http.Response, want int, out any) {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	if resp.StatusCode != want {
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("failed to decode %q: %v", raw, err)
		}
	}
}

// Drain closes a response after asserting its status.
func Drain(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != want {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, raw)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
}

// CreateKey provisions an API key over HTTP and returns the one-time
// plaintext together with the stored record id.
func (e *Env) CreateKey(t *testing.T, bearer, name string, scopes []string) (plaintext, id string) {
	t.Helper()

	resp := e.Do(t, http.MethodPost, "/v1/keys", bearer, map[string]any{
		"name":   name,
		"scopes": scopes,
	})

	var out struct {
		Key       string `json:"key"`
		KeyRecord struct {
			ID string `json:"id"`
		} `json:"key_record"`
	}
	DecodeJSON(t, resp, http.StatusCreated, &out)

	if out.Key == "" || out.KeyRecord.ID == "" {
		t.Fatalf("key creation returned incomplete response: %+v", out)
	}
	return out.Key, out.KeyRecord.ID
}
