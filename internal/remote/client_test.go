package remote

import (
	"context"
	"testing"

	"sentinel/internal/config"
)

func TestKeyLayout(t *testing.T) {
	tests := []struct {
		sessionID  string
		evidenceID string
		suffix     string
		want       string
	}{
		{"session-1", "rec-1", ".jpg", "incidents/session-1/rec-1.jpg"},
		{"session-1", "rec-1", ".json", "incidents/session-1/rec-1.json"},
		{"session-2", "rec-9", "", "incidents/session-2/rec-9"},
	}
	for _, tc := range tests {
		if got := Key(tc.sessionID, tc.evidenceID, tc.suffix); got != tc.want {
			t.Errorf("Key(%q, %q, %q) = %q, want %q", tc.sessionID, tc.evidenceID, tc.suffix, got, tc.want)
		}
	}
}

func TestNewS3ClientRequiresBucket(t *testing.T) {
	_, err := NewS3Client(context.Background(), config.Upload{Region: "us-east-1"})
	if err == nil {
		t.Fatal("expected error for missing bucket")
	}
}
