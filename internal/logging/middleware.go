package logging

import (
	"net/http"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware logs each request served by the metrics endpoint at debug
// level. Requests are tagged with the run id of the serving process.
func Middleware(logger *Logger, runID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := ContextWithStartTime(r.Context(), start)
			if runID != "" {
				ctx = ContextWithRunID(ctx, runID)
				w.Header().Set("X-Run-ID", runID)
			}

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ctx))

			logger.WithContext(ctx).Debug("request completed",
				"status", rw.statusCode,
				"method", r.Method,
				"path", r.URL.Path,
				"elapsed_ms", ElapsedMs(ctx),
			)
		})
	}
}
