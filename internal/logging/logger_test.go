package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.input); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("unknown format accepted")
	}
}

func TestNewForDirCreatesLogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	logger, err := NewForDir(dir, "info", "console")
	if err != nil {
		t.Fatalf("NewForDir: %v", err)
	}
	logger.Info("daemon ready", String(FieldComponent, "daemon"))

	raw, err := os.ReadFile(filepath.Join(dir, "sentinel.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), "daemon ready") {
		t.Fatalf("log output = %q", raw)
	}
	if !strings.Contains(string(raw), "[daemon]") {
		t.Fatalf("component tag missing from %q", raw)
	}
}

func TestComponentLoggerToleratesNilBase(t *testing.T) {
	logger := NewComponentLogger(nil, "capture")
	// Must not panic.
	logger.Info("noop sink")
}
