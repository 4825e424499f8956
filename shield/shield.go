// Package shield provides the HTTP middleware stack shared by pdfwatch
// handlers: security headers, body limits, request tracing, metrics, rate
// limiting and HEAD handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(logger) {
//	    r.Use(mw)
//	}
//	r.With(shield.NewRateLimiter(6, time.Minute).Middleware).Post("/trigger", h)
package shield

import (
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultStack returns the standard middleware stack, outermost first:
// HeadToGet, SecurityHeaders, MaxBody, TraceID, Metrics.
func DefaultStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(64 * 1024),
		TraceID(logger),
		Metrics,
	}
}
