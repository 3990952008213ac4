// Package testsupport centralizes helpers shared by package tests: temp-dir
// configs, store constructors, and fake collaborators for capture devices,
// notifications, auth, and uploads.
package testsupport

import (
	"path/filepath"
	"testing"

	"sentinel/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.SocketPath = filepath.Join(base, "sentineld.sock")
	cfg.Auth.TokenPath = filepath.Join(base, "credential.jwt")
	cfg.Auth.Secret = "test-secret"

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithCaptureIntervals overrides the loop cadences (seconds) on the test config.
func WithCaptureIntervals(location, photo, transcription int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Capture.LocationInterval = location
		cfg.Capture.PhotoInterval = photo
		cfg.Capture.TranscriptionInterval = transcription
	}
}

// WithKeywords overrides the distress keyword set on the test config.
func WithKeywords(keywords ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Distress.Keywords = keywords
	}
}
