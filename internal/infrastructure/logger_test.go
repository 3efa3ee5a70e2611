package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"volaiops/internal/config"
)

func TestInitializeLogger(t *testing.T) {
	ResetLoggerForTesting()
	defer ResetLoggerForTesting()

	logFile := filepath.Join(t.TempDir(), "nested", "volaiops.log")
	cfg := config.LoggingConfig{Level: "info", Format: "json", Output: "file", FilePath: logFile}

	logger, err := InitializeLogger(cfg)
	if err != nil {
		t.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("test message", "key", "value")
	CloseLogFile()

	content, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	var logEntry map[string]interface{}
	if err := json.Unmarshal(content, &logEntry); err != nil {
		t.Fatalf("Log output is not valid JSON: %v", err)
	}
	if logEntry["msg"] != "test message" {
		t.Errorf("Expected msg='test message', got %v", logEntry["msg"])
	}
	if logEntry["key"] != "value" {
		t.Errorf("Expected key='value', got %v", logEntry["key"])
	}
}

func TestTraceAndRunIDInjection(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LoggingConfig{Level: "debug"}, &buf)

	ctx := WithTraceID(context.Background(), "trace-123")
	ctx = WithRunID(ctx, "run-456")
	logger.InfoContext(ctx, "with ids")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse log entry: %v", err)
	}
	if logEntry["trace_id"] != "trace-123" {
		t.Errorf("Expected trace_id='trace-123', got %v", logEntry["trace_id"])
	}
	if logEntry["run_id"] != "run-456" {
		t.Errorf("Expected run_id='run-456', got %v", logEntry["run_id"])
	}
}

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LoggingConfig{Level: "warn"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn message missing")
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(config.LoggingConfig{Format: "text"}, &buf).Info("plain", "k", "v")
	if !strings.Contains(buf.String(), "k=v") {
		t.Errorf("expected key=value text output, got %q", buf.String())
	}
}

func TestStartRun(t *testing.T) {
	ctx, id := StartRun(context.Background())
	if id == "" || GetRunID(ctx) != id {
		t.Fatalf("run id not attached: %q", id)
	}
	if GetTraceID(ctx) == "" {
		t.Error("trace id should be generated")
	}
}
