package shield

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/pdfwatch/kit"
)

// TraceID assigns each request a trace id, exposes it in X-Trace-ID, and
// stores a per-request logger under LoggerKey. A well-formed incoming
// X-Trace-ID is kept. Completion is logged at a level that follows the
// status: Warn for 4xx, Error for 5xx.
func TraceID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			traceID := r.Header.Get("X-Trace-ID")
			if !validTraceID(traceID) {
				id := make([]byte, 8)
				rand.Read(id)
				traceID = hex.EncodeToString(id)
			}
			w.Header().Set("X-Trace-ID", traceID)

			reqLog := logger.With(
				"trace_id", traceID,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx := kit.WithTraceID(r.Context(), traceID)
			ctx = context.WithValue(ctx, LoggerKey, reqLog)

			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r.WithContext(ctx))

			level := slog.LevelInfo
			switch {
			case sw.status >= 500:
				level = slog.LevelError
			case sw.status >= 400:
				level = slog.LevelWarn
			}
			reqLog.LogAttrs(ctx, level, "http: request",
				slog.Int("status", sw.status),
				slog.Int64("bytes", sw.written),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("remote_addr", ExtractIP(r)),
			)
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

func validTraceID(s string) bool {
	if len(s) == 0 || len(s) > 64 {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '-') {
			return false
		}
	}
	return true
}

// statusWriter records the status code and body size.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
