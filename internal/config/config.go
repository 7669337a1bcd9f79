// Package config provides configuration loading and validation from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	LogLevel          string // debug, info, warn, error
	ListenAddr        string // API listen address (e.g., ":8080")
	MetricsListenAddr string // Metrics listener address (e.g., "localhost:9090")
	DatabasePath      string // SQLite database path

	TokenSecret   string        // Required: HMAC secret for session token signing
	TokenLifetime time.Duration // Session token lifetime

	AutoLogoutBeforeLogin bool // Revoke the presented token on login
	AutoLogoutAllTokens   bool // Revoke all of the user's tokens on login

	BootstrapEmail    string // Optional: first admin account email
	BootstrapPassword string // Optional: first admin account password
}

// Load parses configuration from environment variables.
// Everything except TOKEN_SECRET has a sensible default.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:          envOr("LOG_LEVEL", "info"),
		ListenAddr:        envOr("LISTEN_ADDR", ":8080"),
		MetricsListenAddr: envOr("METRICS_LISTEN_ADDR", "localhost:9090"),
		DatabasePath:      envOr("DATABASE_PATH", "/data/keygate.db"),
		TokenSecret:       os.Getenv("TOKEN_SECRET"),
		TokenLifetime:     24 * time.Hour,
		BootstrapEmail:    os.Getenv("BOOTSTRAP_ADMIN_EMAIL"),
		BootstrapPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
	}

	if v := os.Getenv("TOKEN_LIFETIME"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TOKEN_LIFETIME %q: %w", v, err)
		}
		cfg.TokenLifetime = d
	}

	var err error
	if cfg.AutoLogoutBeforeLogin, err = envBool("AUTO_LOGOUT_BEFORE_LOGIN", false); err != nil {
		return nil, err
	}
	if cfg.AutoLogoutAllTokens, err = envBool("AUTO_LOGOUT_ALL_TOKENS", false); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks all configuration constraints.
func (c *Config) Validate() error {
	if c.TokenSecret == "" {
		return fmt.Errorf("TOKEN_SECRET environment variable is required")
	}
	if len(c.TokenSecret) < 32 {
		return fmt.Errorf("TOKEN_SECRET must be at least 32 characters")
	}
	if c.TokenLifetime <= 0 {
		return fmt.Errorf("TOKEN_LIFETIME must be positive")
	}
	if c.AutoLogoutAllTokens && !c.AutoLogoutBeforeLogin {
		return fmt.Errorf("AUTO_LOGOUT_ALL_TOKENS requires AUTO_LOGOUT_BEFORE_LOGIN")
	}
	if (c.BootstrapEmail == "") != (c.BootstrapPassword == "") {
		return fmt.Errorf("BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD must be set together")
	}
	return nil
}

// envOr returns the value of an environment variable or a default.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envBool parses a boolean environment variable.
func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: must be a boolean", key, v)
	}
	return b, nil
}
