package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// =============================================================================
// Test Logger
// =============================================================================

// recordingLogger keeps every entry for inspection.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	Level  string
	Msg    string
	Fields map[string]any
}

func (l *recordingLogger) add(level, msg string, fields []Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	l.entries = append(l.entries, logEntry{Level: level, Msg: msg, Fields: m})
}

func (l *recordingLogger) Debug(msg string, fields ...Field) { l.add("debug", msg, fields) }
func (l *recordingLogger) Info(msg string, fields ...Field)  { l.add("info", msg, fields) }
func (l *recordingLogger) Warn(msg string, fields ...Field)  { l.add("warn", msg, fields) }
func (l *recordingLogger) Error(msg string, fields ...Field) { l.add("error", msg, fields) }

func (l *recordingLogger) Entries() []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]logEntry(nil), l.entries...)
}

// TestZerologLogger_Fields verifies typed fields reach the JSON output
// Given: A logger adapting a JSON zerolog.Logger
// When: An entry with error, string, int and duration fields is written
// Then: Each field is encoded with its native JSON type
func TestZerologLogger_Fields(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf))

	// Act
	logger.Warn("worker restarted",
		F("error", errors.New("boom")),
		F("runtime", "rt"),
		F("worker", 3),
		F("elapsed", 1500*time.Millisecond),
		F("task", TaskID(7)),
	)

	// Assert
	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if got["level"] != "warn" || got["message"] != "worker restarted" {
		t.Errorf("level/message = %v/%v, want warn/worker restarted", got["level"], got["message"])
	}
	if got["error"] != "boom" || got["runtime"] != "rt" || got["task"] != "task-7" {
		t.Errorf("unexpected string fields: %v", got)
	}
	if got["worker"] != float64(3) {
		t.Errorf("worker = %v, want 3", got["worker"])
	}
	if got["elapsed"] != float64(1500) {
		t.Errorf("elapsed = %v, want 1500 (ms)", got["elapsed"])
	}
}

// TestConsoleLogger_Level verifies the level filter
// Given: A console logger at warn level
// When: Info and Error entries are written
// Then: Only the error entry appears
func TestConsoleLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(&buf, "WARN")

	logger.Info("hidden")
	logger.Error("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info entry written at warn level: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("error entry missing: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":  zerolog.DebugLevel,
		" Info ": zerolog.InfoLevel,
		"error":  zerolog.ErrorLevel,
		"":       zerolog.InfoLevel,
		"bogus":  zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

// =============================================================================
// Test PanicHandler
// =============================================================================

// TestDefaultPanicHandler verifies panics are logged with their context
// Given: A DefaultPanicHandler with a recording logger
// When: HandlePanic is called
// Then: One error entry carries the runtime, worker, panic value and stack
func TestDefaultPanicHandler(t *testing.T) {
	// Arrange
	logger := &recordingLogger{}
	handler := &DefaultPanicHandler{Logger: logger}

	// Act
	handler.HandlePanic(context.Background(), "test-runtime", 42, "test panic", []byte("stack trace"))

	// Assert
	entries := logger.Entries()
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Level != "error" || e.Msg != "task panicked" {
		t.Errorf("entry = %s %q, want error \"task panicked\"", e.Level, e.Msg)
	}
	if e.Fields["runtime"] != "test-runtime" || e.Fields["worker"] != 42 || e.Fields["panic"] != "test panic" {
		t.Errorf("unexpected fields: %v", e.Fields)
	}
	if e.Fields["stack"] != "stack trace" {
		t.Errorf("stack = %v, want \"stack trace\"", e.Fields["stack"])
	}
}

// =============================================================================
// Test Metrics
// =============================================================================

func TestNilMetrics(t *testing.T) {
	// Given: A NilMetrics
	var metrics Metrics = &NilMetrics{}

	// When: All methods are called
	metrics.RecordPollDuration("rt", time.Second)
	metrics.RecordTaskPanic("rt", "panic")
	metrics.RecordQueueDepth("rt", -1, 10)
	metrics.RecordTaskRejected("rt", "Stopping")
	metrics.RecordSteal("rt", 4)
	metrics.RecordTimersFired("rt", 2)

	// Then: No panic occurs
}

// =============================================================================
// Test RejectedTaskHandler
// =============================================================================

// TestDefaultRejectedTaskHandler_RateLimited verifies rejection storms are summarised
// Given: A handler allowing a burst of 2 and practically no refill
// When: Five spawns are rejected in a row and then the limiter refills
// Then: Two lines are logged at once and the third reports three suppressed rejections
func TestDefaultRejectedTaskHandler_RateLimited(t *testing.T) {
	// Arrange
	logger := &recordingLogger{}
	handler := NewDefaultRejectedTaskHandler(logger, 0.001, 2)

	// Act
	for range 5 {
		handler.HandleRejectedTask("rt", "Stopping")
	}

	// Assert
	entries := logger.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Msg != "spawn rejected" || entries[0].Fields["reason"] != "Stopping" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
	if got := handler.dropped.Load(); got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}

	// Act - let one more line through
	handler.limiter.SetLimit(rate.Inf)
	handler.HandleRejectedTask("rt", "Stopped")

	// Assert
	entries = logger.Entries()
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	if entries[2].Fields["suppressed"] != int64(3) {
		t.Errorf("suppressed = %v, want 3", entries[2].Fields["suppressed"])
	}
}

func TestDefaultRejectedTaskHandler_Defaults(t *testing.T) {
	handler := NewDefaultRejectedTaskHandler(nil, 0, 0)
	if handler.logger == nil {
		t.Error("logger not defaulted")
	}
	if handler.limiter.Burst() != 1 {
		t.Errorf("burst = %d, want 1", handler.limiter.Burst())
	}
}
