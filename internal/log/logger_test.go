package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/planloop/planloop/internal/errors"
)

func TestLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf})

	logger.Info("task selected", "task_id", "tk-12", "priority", 1)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["msg"] != "task selected" {
		t.Errorf("msg = %v, want 'task selected'", entry["msg"])
	}
	if entry["task_id"] != "tk-12" {
		t.Errorf("task_id = %v, want tk-12", entry["task_id"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Format: FormatText, Output: &buf})

	logger.Debug("hidden")
	logger.Info("also hidden")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("levels below warn should be filtered, got: %s", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("warn messages should be logged, got: %s", out)
	}
}

func TestLogger_WithError_TypedError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf})

	err := errors.NewAllocConflictError(5)
	logger.WithError(err).Error("allocation failed")

	out := buf.String()
	if !strings.Contains(out, "ALLOC-001") {
		t.Errorf("typed error code should be logged, got: %s", out)
	}
	if !strings.Contains(out, "suggestions") {
		t.Errorf("suggestions should be logged, got: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
