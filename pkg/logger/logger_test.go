package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// useTempLogsDir points the package at a temporary logs directory for one test.
func useTempLogsDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "logs")
	previous := logsDir
	logsDir = dir
	t.Cleanup(func() {
		Close()
		logsDir = previous
	})
	return dir
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"verbose", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.level); got != tt.expected {
			t.Errorf("ParseLevel(%q): expected %v, got %v", tt.level, tt.expected, got)
		}
	}
}

func TestNewCategoryLogger_WritesServiceFile(t *testing.T) {
	dir := useTempLogsDir(t)

	verifyLogger := NewCategoryLogger("debug", Gateway, Verify)
	verifyLogger.Info().Str("identity", "cccccccbtuvg").Msg("OTP validated")

	requestLogger := NewCategoryLogger("debug", Gateway, Request)
	requestLogger.Info().Msg("Request completed")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected categories to share one file, got %d files", len(entries))
	}

	name := entries[0].Name()
	if !regexp.MustCompile(`^\d{8}_\d{6}_gateway_\d{3}\.log$`).MatchString(name) {
		t.Errorf("Unexpected log file name %q", name)
	}

	content, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	for _, want := range []string{`"category":"verify"`, `"category":"request"`, `"service":"gateway"`, `"identity":"cccccccbtuvg"`} {
		if !regexp.MustCompile(regexp.QuoteMeta(want)).Match(content) {
			t.Errorf("Expected log file to contain %s", want)
		}
	}
}

func TestGetLogStats(t *testing.T) {
	dir := useTempLogsDir(t)

	stats, err := GetLogStats()
	if err != nil {
		t.Fatalf("GetLogStats failed: %v", err)
	}
	if len(stats) != 0 {
		t.Errorf("Expected no stats without a logs dir, got %v", stats)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create logs dir: %v", err)
	}
	for _, name := range []string{"20240101_120000_gateway_001.log", "20240101_120000_gateway_002.log", "20240101_120500_cli_001.log", "notes.txt"} {
		os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0644)
	}

	stats, err = GetLogStats()
	if err != nil {
		t.Fatalf("GetLogStats failed: %v", err)
	}
	if stats["gateway"] != 2 || stats["cli"] != 1 {
		t.Errorf("Unexpected stats %v", stats)
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := useTempLogsDir(t)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create logs dir: %v", err)
	}

	oldFile := filepath.Join(dir, "20200101_000000_gateway_001.log")
	newFile := filepath.Join(dir, "20240101_000000_gateway_001.log")
	os.WriteFile(oldFile, []byte("{}\n"), 0644)
	os.WriteFile(newFile, []byte("{}\n"), 0644)

	old := time.Now().Add(-10 * 24 * time.Hour)
	if err := os.Chtimes(oldFile, old, old); err != nil {
		t.Fatalf("Failed to age log file: %v", err)
	}

	if err := CleanupOldLogs(7); err != nil {
		t.Fatalf("CleanupOldLogs failed: %v", err)
	}

	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Error("Expected old log file to be removed")
	}
	if _, err := os.Stat(newFile); err != nil {
		t.Error("Expected recent log file to be kept")
	}
}

func TestNewConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(&buf, "warn", CLI, Verify)

	l.Info().Msg("hidden")
	l.Warn().Msg("Tampered validation response")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Expected info message to be filtered at warn level")
	}
	if !strings.Contains(out, "Tampered validation response") {
		t.Errorf("Expected warn message in output, got %q", out)
	}
}
