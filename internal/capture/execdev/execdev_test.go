package execdev

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocationProviderParsesFix(t *testing.T) {
	provider := NewLocationProvider("getfix --gps")
	provider.WithRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
		if name != "getfix" || len(args) != 1 || args[0] != "--gps" {
			t.Errorf("unexpected invocation: %s %v", name, args)
		}
		return []byte(`{"latitude": 47.61, "longitude": -122.33, "accuracy": 8.5}`), nil
	})

	loc, err := provider.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if loc.Latitude != 47.61 || loc.Longitude != -122.33 || loc.Accuracy != 8.5 {
		t.Errorf("unexpected fix: %+v", loc)
	}
	if loc.CapturedAt.IsZero() {
		t.Error("CapturedAt not set")
	}
}

func TestLocationProviderRejectsBadOutput(t *testing.T) {
	provider := NewLocationProvider("getfix")
	provider.WithRunner(func(context.Context, string, ...string) ([]byte, error) {
		return []byte("no fix available"), nil
	})
	if _, err := provider.Current(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestCameraRequiresOutputFile(t *testing.T) {
	dir := t.TempDir()

	camera := NewCamera("snap")
	camera.WithRunner(func(_ context.Context, _ string, args ...string) ([]byte, error) {
		dest := args[len(args)-1]
		return nil, os.WriteFile(dest, []byte("jpeg"), 0o644)
	})
	path, err := camera.Capture(context.Background(), dir)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("photo written to %s, want inside %s", path, dir)
	}

	camera.WithRunner(func(context.Context, string, ...string) ([]byte, error) {
		return nil, nil
	})
	if _, err := camera.Capture(context.Background(), dir); err == nil {
		t.Fatal("expected error when command writes nothing")
	}
}

func TestTranscriberParsesResult(t *testing.T) {
	transcriber := NewTranscriber("speech2text --model small")
	transcriber.WithRunner(func(_ context.Context, _ string, args ...string) ([]byte, error) {
		if args[len(args)-1] != "/tmp/seg.wav" {
			t.Errorf("audio path not passed: %v", args)
		}
		return []byte(`{"text": "heading home", "confidence": 0.92}`), nil
	})

	transcript, err := transcriber.Transcribe(context.Background(), "/tmp/seg.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if transcript.Text != "heading home" || transcript.Confidence != 0.92 {
		t.Errorf("unexpected transcript: %+v", transcript)
	}
}

func TestTranscriberPropagatesCommandFailure(t *testing.T) {
	transcriber := NewTranscriber("speech2text")
	transcriber.WithRunner(func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("model not loaded")
	})
	_, err := transcriber.Transcribe(context.Background(), "/tmp/seg.wav")
	if err == nil || !strings.Contains(err.Error(), "model not loaded") {
		t.Fatalf("error = %v, want model failure", err)
	}
}

func TestAudioRecorderSegmentRequiresRunning(t *testing.T) {
	recorder := NewAudioRecorder("rec")
	if _, err := recorder.RecentSegment(context.Background(), 30); err == nil {
		t.Fatal("expected error when recorder not started")
	}
}

func TestSplitCommandRejectsEmpty(t *testing.T) {
	if _, _, err := splitCommand("   "); err == nil {
		t.Fatal("expected error for blank command")
	}
	name, args, err := splitCommand("tool --flag value")
	if err != nil {
		t.Fatalf("splitCommand: %v", err)
	}
	if name != "tool" || len(args) != 2 {
		t.Errorf("got %q %v", name, args)
	}
}
