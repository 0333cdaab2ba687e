// logging.go -- Request-scoped logging helpers.
//
// Wraps slog with automatic extraction of request context (request id, IP,
// user agent, method, path) so handlers don't have to repeat these fields.
package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// reqAttrs returns standard request-scoped attributes for logging.
func reqAttrs(r *http.Request) []any {
	attrs := []any{
		"ip", r.RemoteAddr,
		"user_agent", r.UserAgent(),
		"method", r.Method,
		"path", r.URL.Path,
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	return attrs
}

func logAt(r *http.Request, level slog.Level, msg string, args ...any) {
	slog.Log(context.WithoutCancel(r.Context()), level, msg, append(reqAttrs(r), args...)...)
}

// logDebug logs at debug level with automatic request context.
func logDebug(r *http.Request, msg string, args ...any) { logAt(r, slog.LevelDebug, msg, args...) }

// logInfo logs at info level with automatic request context.
func logInfo(r *http.Request, msg string, args ...any) { logAt(r, slog.LevelInfo, msg, args...) }

// logWarn logs at warn level with automatic request context.
func logWarn(r *http.Request, msg string, args ...any) { logAt(r, slog.LevelWarn, msg, args...) }

// logError logs at error level with automatic request context.
func logError(r *http.Request, msg string, args ...any) { logAt(r, slog.LevelError, msg, args...) }
