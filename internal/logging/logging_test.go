package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"powerwatch/internal/config"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "powerwatch.log")
	logger, closeFn, err := New(config.LogConfig{Level: "debug", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("tick", zap.String("cycle_id", "abc"))
	closeFn()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := strings.TrimSpace(string(data))
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("expected json line, got %q: %v", line, err)
	}
	if entry["message"] != "tick" || entry["cycle_id"] != "abc" || entry["level"] != "info" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, _, err := New(config.LogConfig{Level: "loud"}); err == nil {
		t.Fatal("expected invalid level error")
	}
}

func TestNewFiltersBelowLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "powerwatch.log")
	logger, closeFn, err := New(config.LogConfig{Level: "warn", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("quiet")
	logger.Warn("loud")
	closeFn()
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "quiet") || !strings.Contains(string(data), "loud") {
		t.Fatalf("unexpected log contents %q", data)
	}
}
