package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJSONFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Options{Level: "warn", Format: "json"})

	logger.Info("dropped")
	logger.Warn("model trained", "user_id", "alice")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("Failed to decode log line: %v", err)
	}
	if rec["msg"] != "model trained" || rec["user_id"] != "alice" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := New(Options{Level: "info", Format: "text", Dir: dir})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	logger.Info("hello file")
	if err := closer.Close(); err != nil {
		t.Fatalf("Failed to close log file: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "ecopulse.log"))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Errorf("log file missing message: %q", data)
	}
}
