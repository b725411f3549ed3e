package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v\nOutput: %s", err, buf.String())
	}
	return entry
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo)

	logger.Info("test message")

	if !strings.Contains(buf.String(), `"msg":"test message"`) {
		t.Errorf("expected log message in output, got: %s", buf.String())
	}
	if entry := decode(t, &buf); entry["msg"] != "test message" {
		t.Errorf("expected msg='test message', got: %v", entry["msg"])
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelWarn)

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn level, got: %s", buf.String())
	}

	logger.Warn("query failed", "query_index", 7)
	entry := decode(t, &buf)
	if entry["level"] != "WARN" {
		t.Errorf("expected level=WARN, got: %v", entry["level"])
	}
	if entry["query_index"] != float64(7) {
		t.Errorf("expected query_index=7, got: %v", entry["query_index"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestLoggerWithRunAndRouter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo)

	logger.WithRun("run-1").WithRouter("learned").Info("batch completed")

	entry := decode(t, &buf)
	if entry["run_id"] != "run-1" {
		t.Errorf("expected run_id='run-1', got: %v", entry["run_id"])
	}
	if entry["router"] != "learned" {
		t.Errorf("expected router='learned', got: %v", entry["router"])
	}
}

func TestLoggerWithEmptyValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo)

	logger.WithRun("").WithRouter("").Info("bare")

	entry := decode(t, &buf)
	if _, ok := entry["run_id"]; ok {
		t.Errorf("expected no run_id field, got: %v", entry)
	}
	if _, ok := entry["router"]; ok {
		t.Errorf("expected no router field, got: %v", entry)
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo)

	ctx := ContextWithRunID(context.Background(), "ctx-run")
	ctx = ContextWithRouter(ctx, "baseline")

	logger.WithContext(ctx).Info("context test")

	entry := decode(t, &buf)
	if entry["run_id"] != "ctx-run" {
		t.Errorf("expected run_id='ctx-run', got: %v", entry["run_id"])
	}
	if entry["router"] != "baseline" {
		t.Errorf("expected router='baseline', got: %v", entry["router"])
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()

	if got := RunIDFromContext(ctx); got != "" {
		t.Errorf("expected empty run_id, got: %s", got)
	}
	if got := RouterFromContext(ctx); got != "" {
		t.Errorf("expected empty router, got: %s", got)
	}
	if got := StartTimeFromContext(ctx); !got.IsZero() {
		t.Errorf("expected zero time, got: %v", got)
	}

	now := time.Now()
	ctx = ContextWithRunID(ctx, "run-123")
	ctx = ContextWithRouter(ctx, "assigned")
	ctx = ContextWithStartTime(ctx, now)

	if got := RunIDFromContext(ctx); got != "run-123" {
		t.Errorf("expected run_id='run-123', got: %s", got)
	}
	if got := RouterFromContext(ctx); got != "assigned" {
		t.Errorf("expected router='assigned', got: %s", got)
	}
	if got := StartTimeFromContext(ctx); !got.Equal(now) {
		t.Errorf("expected time=%v, got: %v", now, got)
	}
}

func TestElapsedMs(t *testing.T) {
	ctx := context.Background()

	if got := ElapsedMs(ctx); got != 0 {
		t.Errorf("expected 0 for empty context, got: %f", got)
	}

	ctx = ContextWithStartTime(ctx, time.Now().Add(-100*time.Millisecond))
	if elapsed := ElapsedMs(ctx); elapsed < 90 {
		t.Errorf("expected elapsed >= ~100ms, got: %f", elapsed)
	}
}

func TestNewRunID(t *testing.T) {
	a := NewRunID()
	time.Sleep(2 * time.Millisecond)
	b := NewRunID()

	id, err := uuid.Parse(a)
	if err != nil {
		t.Fatalf("run id %q is not a uuid: %v", a, err)
	}
	if id.Version() != 7 {
		t.Errorf("expected version 7 uuid, got %d", id.Version())
	}
	if a >= b {
		t.Errorf("expected run ids to sort by creation: %s >= %s", a, b)
	}
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo)

	logger.With("n_clusters", 16).Info("with test")

	if entry := decode(t, &buf); entry["n_clusters"] != float64(16) {
		t.Errorf("expected n_clusters=16, got: %v", entry["n_clusters"])
	}
}

func TestDiscard(t *testing.T) {
	// Must not panic and must not be enabled for any level.
	logger := Discard()
	logger.Error("nothing")
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("expected discard logger to be disabled")
	}
}
