package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sipico/keygate/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		LogLevel:          "error",
		ListenAddr:        ":0",
		MetricsListenAddr: "localhost:0",
		DatabasePath:      ":memory:",
		TokenSecret:       "main-test-secret-with-enough-length",
		TokenLifetime:     time.Hour,
		BootstrapEmail:    "admin@example.com",
		BootstrapPassword: "bootstrap-password",
	}
}

func TestRunWiresTheFullServer(t *testing.T) {
	a, err := run(testConfig())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	defer a.store.Close()

	// Health probe
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", w.Code)
	}

	// Bootstrap account can log in
	body, _ := json.Marshal(map[string]string{
		"email":    "admin@example.com",
		"password": "bootstrap-password",
	})
	w = httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/login", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("bootstrap login: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Token string `json:"token"`
		Role  string `json:"role"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.Token == "" || resp.Role != "admin" {
		t.Errorf("expected admin token, got role %q", resp.Role)
	}

	// Sweeps run cleanly on a fresh database
	a.sweepOnce(context.Background())
}

func TestRunRejectsBadLogLevel(t *testing.T) {
	cfg := testConfig()
	cfg.LogLevel = "shouting"
	if _, err := run(cfg); err == nil {
		t.Error("expected error for invalid log level")
	}
}
