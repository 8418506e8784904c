// Package middleware provides HTTP middleware for the web server.
package middleware

import (
	"net/http"
	"time"

	"github.com/JonMunkholm/warranty/internal/logging"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Logger is an HTTP middleware that logs one structured line per request.
//
// It runs after chi's RequestID so every entry carries request_id. Server
// errors are logged at warn level.
//
// Log fields:
//   - method, path: the request line
//   - status: response status code
//   - bytes: response body size
//   - duration_ms: request processing time in milliseconds
//   - ip: client address after TrustedRealIP
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		logger := logging.FromContext(r.Context())
		log := logger.Info
		if status >= http.StatusInternalServerError {
			log = logger.Warn
		}
		log("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", r.RemoteAddr,
		)
	})
}
