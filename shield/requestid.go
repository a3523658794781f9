package shield

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/bravo/idgen"
)

// NewRequestID generates request IDs. Tests may replace it.
var NewRequestID idgen.Generator = idgen.Prefixed("req_", idgen.Default)

// RequestID tags each request with an ID (context, X-Request-ID header and a
// per-request logger) and logs the response status and duration.
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := NewRequestID()
			w.Header().Set("X-Request-ID", id)

			reqLog := logger.With("request_id", id, "method", r.Method, "path", r.URL.Path)
			ctx := context.WithValue(r.Context(), RequestIDKey, id)
			ctx = context.WithValue(ctx, LoggerKey, reqLog)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))

			level := slog.LevelInfo
			if rec.status >= 500 {
				level = slog.LevelError
			}
			reqLog.Log(ctx, level, "http: request", "status", rec.status,
				"duration_ms", time.Since(start).Milliseconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
