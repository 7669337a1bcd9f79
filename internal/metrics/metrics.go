// Package metrics provides Prometheus metrics collection for the authority.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Global metrics - used by the application
	// Using atomic.Pointer for lock-free initialization checks on hot path metrics.
	requestsTotal         atomic.Pointer[prometheus.CounterVec]
	requestDuration       atomic.Pointer[prometheus.HistogramVec]
	authFailuresTotal     atomic.Pointer[prometheus.CounterVec]
	sessionsIssuedTotal   atomic.Pointer[prometheus.Counter]
	sessionChecksTotal    atomic.Pointer[prometheus.CounterVec]
	sessionsRevokedTotal  atomic.Pointer[prometheus.CounterVec]
	apiKeyChecksTotal     atomic.Pointer[prometheus.CounterVec]
	credentialsSweptTotal atomic.Pointer[prometheus.CounterVec]
)

// Init initializes all Prometheus metrics and registers them with the provided registry.
// This should be called once at application startup.
func Init(reg prometheus.Registerer) error {
	// HTTP request counter: tracks all requests by method, path (normalized), and status code
	requestsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keygate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled",
		},
		[]string{"method", "path", "status"},
	)
	if err := reg.Register(requestsTotalVec); err != nil {
		return fmt.Errorf("failed to register requestsTotal: %w", err)
	}

	// Request duration histogram: tracks latency distribution
	requestDurationVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "keygate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets, // Default buckets: .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10
		},
		[]string{"method", "path", "status"},
	)
	if err := reg.Register(requestDurationVec); err != nil {
		return fmt.Errorf("failed to register requestDuration: %w", err)
	}

	// Auth failures counter: tracks failed authentication attempts
	authFailuresTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keygate",
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Total number of authentication failures",
		},
		[]string{"reason"},
	)
	if err := reg.Register(authFailuresTotalVec); err != nil {
		return fmt.Errorf("failed to register authFailuresTotal: %w", err)
	}

	sessionsIssued := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "keygate",
			Subsystem: "sessions",
			Name:      "issued_total",
			Help:      "Total number of session tokens issued",
		},
	)
	if err := reg.Register(sessionsIssued); err != nil {
		return fmt.Errorf("failed to register sessionsIssued: %w", err)
	}

	sessionChecksVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keygate",
			Subsystem: "sessions",
			Name:      "checks_total",
			Help:      "Total number of session token validations by outcome",
		},
		[]string{"outcome"},
	)
	if err := reg.Register(sessionChecksVec); err != nil {
		return fmt.Errorf("failed to register sessionChecks: %w", err)
	}

	sessionsRevokedVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keygate",
			Subsystem: "sessions",
			Name:      "revoked_total",
			Help:      "Total number of session revocations by reason",
		},
		[]string{"reason"},
	)
	if err := reg.Register(sessionsRevokedVec); err != nil {
		return fmt.Errorf("failed to register sessionsRevoked: %w", err)
	}

	apiKeyChecksVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keygate",
			Subsystem: "apikeys",
			Name:      "checks_total",
			Help:      "Total number of API key validations by outcome",
		},
		[]string{"outcome"},
	)
	if err := reg.Register(apiKeyChecksVec); err != nil {
		return fmt.Errorf("failed to register apiKeyChecks: %w", err)
	}

	credentialsSweptVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keygate",
			Subsystem: "sweeper",
			Name:      "credentials_swept_total",
			Help:      "Total number of expired credentials removed by the sweeper",
		},
		[]string{"kind"},
	)
	if err := reg.Register(credentialsSweptVec); err != nil {
		return fmt.Errorf("failed to register credentialsSwept: %w", err)
	}

	// Info gauge: static metric with constant label values for build info
	infoGaugeVec := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "keygate",
			Name:      "info",
			Help:      "Authority version and build information",
		},
		[]string{"version"},
	)
	infoGaugeInstance := infoGaugeVec.WithLabelValues("1.0.0")
	if err := reg.Register(infoGaugeVec); err != nil {
		return fmt.Errorf("failed to register infoGauge: %w", err)
	}
	infoGaugeInstance.Set(1)

	// Store metrics in atomics for lock-free access in record functions
	requestsTotal.Store(requestsTotalVec)
	requestDuration.Store(requestDurationVec)
	authFailuresTotal.Store(authFailuresTotalVec)
	sessionsIssuedTotal.Store(&sessionsIssued)
	sessionChecksTotal.Store(sessionChecksVec)
	sessionsRevokedTotal.Store(sessionsRevokedVec)
	apiKeyChecksTotal.Store(apiKeyChecksVec)
	credentialsSweptTotal.Store(credentialsSweptVec)

	return nil
}

// RecordRequest increments the requests counter for the given method, path, and status code.
// The path should be normalized (e.g., "/v1/keys/:id" instead of "/v1/keys/2b9e...").
func RecordRequest(method, path, statusCode string) {
	if counter := requestsTotal.Load(); counter != nil {
		counter.WithLabelValues(method, path, statusCode).Inc()
	}
}

// RecordRequestDuration records the latency for a request.
// Duration should be in seconds.
func RecordRequestDuration(method, path, statusCode string, durationSeconds float64) {
	if histogram := requestDuration.Load(); histogram != nil {
		histogram.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
	}
}

// RecordAuthFailure increments the auth failures counter for the given reason.
// Common reasons: "bad_login", "invalid_token", "permission_denied"
func RecordAuthFailure(reason string) {
	if counter := authFailuresTotal.Load(); counter != nil {
		counter.WithLabelValues(reason).Inc()
	}
}

// RecordSessionIssued increments the issued sessions counter.
func RecordSessionIssued() {
	if counter := sessionsIssuedTotal.Load(); counter != nil {
		(*counter).Inc()
	}
}

// RecordSessionValidation increments the session check counter for an outcome
// ("ok" or "denied").
func RecordSessionValidation(outcome string) {
	if counter := sessionChecksTotal.Load(); counter != nil {
		counter.WithLabelValues(outcome).Inc()
	}
}

// RecordSessionRevoked increments the revocation counter for a reason
// ("logout", "logout_all", "login_policy").
func RecordSessionRevoked(reason string) {
	if counter := sessionsRevokedTotal.Load(); counter != nil {
		counter.WithLabelValues(reason).Inc()
	}
}

// RecordAPIKeyValidation increments the API key check counter for an outcome
// ("ok", "missing", "not_found", "revoked", "forbidden", "rate_limited").
func RecordAPIKeyValidation(outcome string) {
	if counter := apiKeyChecksTotal.Load(); counter != nil {
		counter.WithLabelValues(outcome).Inc()
	}
}

// RecordSweep adds the number of credentials removed by one sweeper pass.
// Kind is "sessions" or "api_keys".
func RecordSweep(kind string, count int64) {
	if count <= 0 {
		return
	}
	if counter := credentialsSweptTotal.Load(); counter != nil {
		counter.WithLabelValues(kind).Add(float64(count))
	}
}

// Handler returns an HTTP handler for Prometheus metrics in text format.
// This handler should be registered at /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GetMetricsText returns the Prometheus text-format output from a registry.
// This is useful for testing and debugging.
func GetMetricsText(reg prometheus.Gatherer) (string, error) {
	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	// Use httptest to capture the handler output
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	body, err := io.ReadAll(w.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read metrics output: %w", err)
	}

	return string(body), nil
}
