package middleware

import "net/http"

// MaxBodySize returns middleware that limits request body size. Login and
// key management payloads are small, so the cap can be tight. Handlers
// reading past the limit get an error and the client a 413.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
