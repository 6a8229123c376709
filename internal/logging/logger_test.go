package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf})

	logger.Info("turn complete", "session_id", "s1")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if record["msg"] != "turn complete" {
		t.Fatalf("unexpected msg: %v", record["msg"])
	}
	if record["session_id"] != "s1" {
		t.Fatalf("unexpected session_id: %v", record["session_id"])
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "debug", Format: "text", Output: &buf})

	logger.Debug("loading taxonomy")
	if !strings.Contains(buf.String(), "loading taxonomy") {
		t.Fatalf("expected message in output, got %q", buf.String())
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Format: "text", Output: &buf})

	logger.Info("ignored")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn level")
	}
	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("expected warn to pass")
	}
}

func TestWithSessionAndStage(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf})

	logger.WithSession("s1").WithStage("intake").Info("processing message")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if record["session_id"] != "s1" || record["stage"] != "intake" {
		t.Fatalf("expected contextual fields, got %v", record)
	}
}

func TestPrettyHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: slog.New(NewPrettyHandler(&buf, slog.LevelInfo))}

	logger.Info("server started", "addr", "localhost:8080")

	out := buf.String()
	if !strings.Contains(out, "server started") || !strings.Contains(out, "addr") {
		t.Fatalf("unexpected pretty output: %q", out)
	}
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	logger.Error("discarded")
}
