// Package shield provides the HTTP middleware of the bravo API: security
// headers, HEAD handling, request IDs with a per-request logger, and panic
// recovery.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

const (
	// LoggerKey is the context key for the per-request structured logger.
	LoggerKey contextKey = "shield_logger"

	// RequestIDKey is the context key for the request ID.
	RequestIDKey contextKey = "shield_request_id"
)

// APIStack returns the middleware stack of a read-only JSON API, outermost
// first: Recover, HeadToGet, SecurityHeaders, RequestID.
func APIStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		Recover(logger),
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		RequestID(logger),
	}
}

// HeadToGet lets GET routes answer HEAD. net/http drops the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// Recover turns a handler panic into a 500 and an error log.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					logger.Error("shield: panic", "path", r.URL.Path, "panic", v)
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// GetRequestID returns the request ID, or "" outside RequestID.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
