// Package execdev backs the capture device interfaces with external
// commands, so platform-specific tooling can be swapped in through
// configuration.
//
// Command contracts:
//
//   - location: invoked with no extra arguments, prints a JSON object
//     {"latitude": .., "longitude": .., "accuracy": ..} on stdout.
//   - camera: invoked with a destination file path, writes the photo there.
//   - transcribe: invoked with an audio file path, prints a JSON object
//     {"text": .., "confidence": ..} on stdout.
//   - audio: "start <dir>" runs a continuous recorder until signalled;
//     "segment <seconds> <dest>" writes the most recent window to dest.
package execdev

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sentinel/internal/capture"
)

// recorderStopGrace bounds how long Stop waits after the interrupt signal
// before killing the recorder.
const recorderStopGrace = 5 * time.Second

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return output, nil
}

// splitCommand separates a configured command string into the binary and
// its leading arguments.
func splitCommand(command string) (string, []string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil, errors.New("command is empty")
	}
	return fields[0], fields[1:], nil
}

// LocationProvider shells out for a position fix.
type LocationProvider struct {
	command string
	run     commandRunner
}

func NewLocationProvider(command string) *LocationProvider {
	return &LocationProvider{command: command, run: runCommand}
}

// WithRunner sets a custom command runner (for testing).
func (p *LocationProvider) WithRunner(run commandRunner) { p.run = run }

func (p *LocationProvider) Current(ctx context.Context) (capture.Location, error) {
	name, args, err := splitCommand(p.command)
	if err != nil {
		return capture.Location{}, fmt.Errorf("location command: %w", err)
	}
	output, err := p.run(ctx, name, args...)
	if err != nil {
		return capture.Location{}, fmt.Errorf("location fix: %w", err)
	}
	var fix struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Accuracy  float64 `json:"accuracy"`
	}
	if err := json.Unmarshal(output, &fix); err != nil {
		return capture.Location{}, fmt.Errorf("location fix: parse output: %w", err)
	}
	return capture.Location{
		Latitude:   fix.Latitude,
		Longitude:  fix.Longitude,
		Accuracy:   fix.Accuracy,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// Camera shells out to write a photo into the session directory.
type Camera struct {
	command string
	run     commandRunner
}

func NewCamera(command string) *Camera {
	return &Camera{command: command, run: runCommand}
}

// WithRunner sets a custom command runner (for testing).
func (c *Camera) WithRunner(run commandRunner) { c.run = run }

func (c *Camera) Capture(ctx context.Context, destDir string) (string, error) {
	name, args, err := splitCommand(c.command)
	if err != nil {
		return "", fmt.Errorf("camera command: %w", err)
	}
	dest := filepath.Join(destDir, fmt.Sprintf("photo-%s.jpg", time.Now().UTC().Format("20060102T150405.000")))
	if _, err := c.run(ctx, name, append(args, dest)...); err != nil {
		return "", fmt.Errorf("camera capture: %w", err)
	}
	if _, err := os.Stat(dest); err != nil {
		return "", fmt.Errorf("camera capture: no output file: %w", err)
	}
	return dest, nil
}

// Transcriber shells out to convert an audio segment to text.
type Transcriber struct {
	command string
	run     commandRunner
}

func NewTranscriber(command string) *Transcriber {
	return &Transcriber{command: command, run: runCommand}
}

// WithRunner sets a custom command runner (for testing).
func (t *Transcriber) WithRunner(run commandRunner) { t.run = run }

func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (capture.Transcript, error) {
	name, args, err := splitCommand(t.command)
	if err != nil {
		return capture.Transcript{}, fmt.Errorf("transcribe command: %w", err)
	}
	output, err := t.run(ctx, name, append(args, audioPath)...)
	if err != nil {
		return capture.Transcript{}, fmt.Errorf("transcribe: %w", err)
	}
	var result struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(output, &result); err != nil {
		return capture.Transcript{}, fmt.Errorf("transcribe: parse output: %w", err)
	}
	return capture.Transcript{Text: result.Text, Confidence: result.Confidence}, nil
}

// AudioRecorder manages a long-running external recorder process and pulls
// recent-window segments from it on demand.
type AudioRecorder struct {
	command string
	run     commandRunner

	mu         sync.Mutex
	proc       *exec.Cmd
	done       chan error
	sessionDir string
}

func NewAudioRecorder(command string) *AudioRecorder {
	return &AudioRecorder{command: command, run: runCommand}
}

// WithRunner sets a custom command runner for segment extraction (for
// testing). The recorder process itself is always started directly.
func (a *AudioRecorder) WithRunner(run commandRunner) { a.run = run }

// Start launches the recorder process writing into sessionDir. The process
// outlives ctx; it stops only via Stop.
func (a *AudioRecorder) Start(ctx context.Context, sessionDir string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.proc != nil {
		return errors.New("audio recorder already running")
	}

	name, args, err := splitCommand(a.command)
	if err != nil {
		return fmt.Errorf("audio command: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(name, append(args, "start", sessionDir)...) //nolint:gosec
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start audio recorder: %w", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	a.proc = cmd
	a.done = done
	a.sessionDir = sessionDir
	return nil
}

// Stop signals the recorder and waits briefly for it to flush and exit.
func (a *AudioRecorder) Stop() error {
	a.mu.Lock()
	proc, done := a.proc, a.done
	a.proc, a.done = nil, nil
	a.mu.Unlock()
	if proc == nil {
		return nil
	}

	if err := proc.Process.Signal(os.Interrupt); err != nil {
		_ = proc.Process.Kill()
		<-done
		return fmt.Errorf("signal audio recorder: %w", err)
	}
	select {
	case err := <-done:
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return fmt.Errorf("audio recorder exit: %w", err)
		}
		return nil
	case <-time.After(recorderStopGrace):
		_ = proc.Process.Kill()
		<-done
		return errors.New("audio recorder did not stop; killed")
	}
}

// RecentSegment asks the recorder tooling for the last window of audio and
// returns the path of the written segment file.
func (a *AudioRecorder) RecentSegment(ctx context.Context, seconds int) (string, error) {
	a.mu.Lock()
	sessionDir := a.sessionDir
	running := a.proc != nil
	a.mu.Unlock()
	if !running {
		return "", errors.New("audio segment: recorder not running")
	}

	name, args, err := splitCommand(a.command)
	if err != nil {
		return "", fmt.Errorf("audio command: %w", err)
	}
	dest := filepath.Join(sessionDir, fmt.Sprintf("segment-%s.wav", time.Now().UTC().Format("20060102T150405.000")))
	if _, err := a.run(ctx, name, append(args, "segment", fmt.Sprintf("%d", seconds), dest)...); err != nil {
		return "", fmt.Errorf("audio segment: %w", err)
	}
	if _, err := os.Stat(dest); err != nil {
		return "", fmt.Errorf("audio segment: no output file: %w", err)
	}
	return dest, nil
}

// NewDevices builds the full device set from configured commands.
func NewDevices(locationCmd, cameraCmd, transcribeCmd, audioCmd string) capture.Devices {
	return capture.Devices{
		Location: NewLocationProvider(locationCmd),
		Camera:   NewCamera(cameraCmd),
		Audio:    NewAudioRecorder(audioCmd),
		Speech:   NewTranscriber(transcribeCmd),
	}
}
