// Package logging provides structured JSON logging for vexroute.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Logger wraps slog.Logger with run and router context fields.
type Logger struct {
	*slog.Logger
}

type contextKey string

const (
	runIDKey     contextKey = "run_id"
	routerKey    contextKey = "router"
	startTimeKey contextKey = "start_time"
)

// New creates a Logger writing JSON to stderr at level.
func New(level slog.Level) *Logger {
	return NewWithWriter(os.Stderr, level)
}

// NewWithWriter creates a Logger writing JSON to w at level.
func NewWithWriter(w io.Writer, level slog.Level) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{Logger: slog.New(handler)}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return NewWithWriter(io.Discard, slog.LevelError+1)
}

// ParseLevel maps a config level name to a slog level. The empty string is
// info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// NewRunID returns a time-ordered run id. Lexical order of ids follows
// creation order, which the manifest listing relies on.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// WithRun returns a logger tagged with a run id.
func (l *Logger) WithRun(runID string) *Logger {
	if runID == "" {
		return l
	}
	return &Logger{Logger: l.Logger.With(slog.String("run_id", runID))}
}

// WithRouter returns a logger tagged with a router name.
func (l *Logger) WithRouter(name string) *Logger {
	if name == "" {
		return l
	}
	return &Logger{Logger: l.Logger.With(slog.String("router", name))}
}

// WithContext returns a logger with context values attached.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l
	if runID := RunIDFromContext(ctx); runID != "" {
		logger = logger.WithRun(runID)
	}
	if router := RouterFromContext(ctx); router != "" {
		logger = logger.WithRouter(router)
	}
	return logger
}

// With returns a new logger with additional attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// ContextWithRunID adds a run id to the context.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// ContextWithRouter adds a router name to the context.
func ContextWithRouter(ctx context.Context, router string) context.Context {
	return context.WithValue(ctx, routerKey, router)
}

// ContextWithStartTime adds a start time to the context.
func ContextWithStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, startTimeKey, t)
}

// RunIDFromContext extracts the run id from the context.
func RunIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}

// RouterFromContext extracts the router name from the context.
func RouterFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(routerKey).(string); ok {
		return r
	}
	return ""
}

// StartTimeFromContext extracts the start time from the context.
func StartTimeFromContext(ctx context.Context) time.Time {
	if t, ok := ctx.Value(startTimeKey).(time.Time); ok {
		return t
	}
	return time.Time{}
}

// ElapsedMs returns the milliseconds elapsed since the context start time,
// or 0 when none was recorded.
func ElapsedMs(ctx context.Context) float64 {
	start := StartTimeFromContext(ctx)
	if start.IsZero() {
		return 0
	}
	return Since(start)
}

// Since returns the milliseconds elapsed since start.
func Since(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
