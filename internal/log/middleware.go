package log

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// ContextKey type for context keys
type ContextKey string

const (
	// LoggerContextKey is the context key for the logger
	LoggerContextKey ContextKey = "logger"
)

// NewContext returns a copy of ctx carrying logger
func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// FromContext extracts a logger from the context
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	// Return default logger if not found
	return &Logger{
		Logger:    slog.Default(),
		component: "unknown",
	}
}

// RoundTripperFunc adapts a function to http.RoundTripper
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// Transport wraps an outbound HTTP transport so every gateway call is
// logged with method, URL, status and duration.
func Transport(logger *Logger, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		start := time.Now()
		resp, err := next.RoundTrip(r)
		duration := time.Since(start)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		fields := NewFields().
			WithOperation(r.Method).
			WithHTTPCall(r.Method, r.URL.String(), status, duration.Milliseconds()).
			WithError(err)

		switch {
		case err != nil:
			logger.WarnContext(r.Context(), "Gateway call failed", fields.ToSlice()...)
		case status >= 500:
			logger.WarnContext(r.Context(), "Gateway call returned server error", fields.ToSlice()...)
		default:
			logger.DebugContext(r.Context(), "Gateway call", fields.ToSlice()...)
		}
		return resp, err
	})
}
