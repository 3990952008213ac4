// Package capture runs the periodic evidence producers for an armed safety
// session: location fixes, still photos, and speech transcription over a
// continuously recorded audio stream.
//
// Each loop runs on its own cadence; a slow or failing device in one loop
// never blocks the others. Loops observe cancellation only at tick
// boundaries so an in-flight capture is never abandoned half-written.
package capture

import (
	"context"
	"time"
)

// Location is one geographic fix.
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	CapturedAt time.Time `json:"captured_at"`
}

// Transcript is the output of one speech-to-text pass.
type Transcript struct {
	Text       string
	Confidence float64
}

// LocationProvider acquires the device's current position.
type LocationProvider interface {
	Current(ctx context.Context) (Location, error)
}

// Camera captures a still image into destDir and returns the file path.
type Camera interface {
	Capture(ctx context.Context, destDir string) (string, error)
}

// Transcriber converts an audio segment file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (Transcript, error)
}

// AudioRecorder records continuously for the lifetime of a session. The
// transcription loop reads trailing segments of the rolling capture.
type AudioRecorder interface {
	Start(ctx context.Context, sessionDir string) error
	Stop() error
	RecentSegment(ctx context.Context, seconds int) (string, error)
}

// Devices bundles the capture hardware contracts handed to a Runner.
type Devices struct {
	Location LocationProvider
	Camera   Camera
	Audio    AudioRecorder
	Speech   Transcriber
}
