package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/sipico/keygate/internal/logging"
)

// HTTPLogging creates a middleware that logs full HTTP requests and
// responses at DEBUG level. At any higher level it is a straight
// pass-through with no buffering cost.
//
// The allowlist names the JSON body fields whose values survive masking
// (nil = log bodies unchanged). Credential headers are always masked.
func HTTPLogging(logger *slog.Logger, allowlist []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.Enabled(r.Context(), slog.LevelDebug) {
				next.ServeHTTP(w, r)
				return
			}

			logRequest(logger, r, allowlist)

			rec := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           new(bytes.Buffer),
			}

			start := time.Now()
			next.ServeHTTP(rec, r)

			logResponse(logger, r, rec, time.Since(start), allowlist)
		})
	}
}

// logRequest logs the incoming HTTP request with masked headers and body.
func logRequest(logger *slog.Logger, r *http.Request, allowlist []string) {
	var reqBody []byte
	if r.Body != nil {
		var err error
		reqBody, err = io.ReadAll(r.Body)
		if err != nil {
			logger.Error("failed to read request body", "error", err)
			return
		}
		// Restore body for the handler
		r.Body = io.NopCloser(bytes.NewReader(reqBody))
	}

	logger.Debug("HTTP Request",
		"request_id", GetRequestID(r.Context()),
		"method", r.Method,
		"url", r.URL.Path,
		"query_params", r.URL.RawQuery,
		"headers", maskHeaders(r.Header),
		"body", maskBody(reqBody, allowlist),
	)
}

// logResponse logs the HTTP response with masked headers and body.
func logResponse(logger *slog.Logger, r *http.Request, rec *responseRecorder, duration time.Duration, allowlist []string) {
	logger.Debug("HTTP Response",
		"request_id", GetRequestID(r.Context()),
		"method", r.Method,
		"url", r.URL.Path,
		"status_code", rec.statusCode,
		"headers", maskHeaders(rec.Header()),
		"body", maskBody(rec.body.Bytes(), allowlist),
		"duration_ms", duration.Milliseconds(),
	)
}

// maskHeaders masks sensitive header values.
func maskHeaders(headers http.Header) map[string]string {
	result := make(map[string]string, len(headers))
	for k, v := range headers {
		if len(v) > 0 {
			result[k] = logging.MaskHeader(k, v[0])
		}
	}
	return result
}

// maskBody masks sensitive data in a request or response body.
func maskBody(body []byte, allowlist []string) string {
	if len(body) == 0 {
		return ""
	}
	if !utf8.Valid(body) {
		return logging.FormatBinaryData(body)
	}
	return string(logging.MaskJSONBody(body, allowlist))
}

// responseRecorder captures response details for logging.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
