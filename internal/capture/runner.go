package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentinel/internal/config"
	"sentinel/internal/distress"
	"sentinel/internal/evidence"
	"sentinel/internal/logging"
	"sentinel/internal/services"
)

// maxConsecutiveAudioFailures is the number of back-to-back audio segment
// failures treated as a session-fatal error.
const maxConsecutiveAudioFailures = 3

// Events are the runner's callbacks into the session controller. All are
// optional.
type Events struct {
	// OnLocation is invoked after each successful location capture so the
	// controller can forward a live-location update.
	OnLocation func(ctx context.Context, sessionID string, loc Location)
	// OnDistress is invoked when a transcription pass matches distress
	// keywords.
	OnDistress func(ctx context.Context, sessionID string, match distress.Match)
	// OnFatal is invoked when a loop hits a session-fatal condition.
	OnFatal func(err error)
}

// Runner owns the three capture loops for one monitoring session.
type Runner struct {
	cfg      config.Capture
	devices  Devices
	store    *evidence.Store
	detector *distress.Detector
	logger   *slog.Logger
	events   Events
}

// NewRunner constructs a capture runner. A nil logger is replaced with a nop.
func NewRunner(cfg config.Capture, devices Devices, store *evidence.Store, detector *distress.Detector, logger *slog.Logger, events Events) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		cfg:      cfg,
		devices:  devices,
		store:    store,
		detector: detector,
		logger:   logging.NewComponentLogger(logger, "capture"),
		events:   events,
	}
}

// Run starts continuous audio recording and the three capture loops, then
// blocks until ctx is cancelled and every loop has acknowledged shutdown.
// Loop failures are logged and skipped; only repeated audio failures are
// escalated through Events.OnFatal.
func (r *Runner) Run(ctx context.Context, sessionID string) error {
	sessionDir, err := r.store.SessionDir(sessionID)
	if err != nil {
		return fmt.Errorf("prepare session directory: %w", err)
	}

	ctx = services.WithSessionID(ctx, sessionID)
	logger := logging.WithContext(ctx, r.logger)

	if r.devices.Audio != nil {
		if err := r.devices.Audio.Start(ctx, sessionDir); err != nil {
			return services.Wrap(services.ErrCaptureDevice, "capture", "audio start", "", err)
		}
		defer func() {
			if err := r.devices.Audio.Stop(); err != nil {
				logger.Warn("audio recorder stop failed", logging.Error(err))
			}
		}()
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		r.runLoop(ctx, "location", time.Duration(r.cfg.LocationInterval)*time.Second, func(tickCtx context.Context) error {
			return r.captureLocation(tickCtx, sessionID, evidence.PriorityHigh)
		})
	}()
	go func() {
		defer wg.Done()
		r.runLoop(ctx, "photo", time.Duration(r.cfg.PhotoInterval)*time.Second, func(tickCtx context.Context) error {
			return r.capturePhoto(tickCtx, sessionID, sessionDir, evidence.PriorityHigh)
		})
	}()
	go func() {
		defer wg.Done()
		r.runTranscriptionLoop(ctx, sessionID)
	}()

	wg.Wait()
	return nil
}

// runLoop ticks fn on a fixed cadence. Cancellation is observed only between
// ticks, never mid-capture, and each tick fires regardless of whether the
// previous one succeeded.
func (r *Runner) runLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	loopCtx := services.WithLoop(ctx, name)
	logger := logging.WithContext(loopCtx, r.logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("capture loop stopped")
			return
		case <-ticker.C:
		}
		if err := fn(loopCtx); err != nil {
			logger.Warn("capture tick failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "capture_tick_failed"),
				logging.String(logging.FieldErrorHint, "device may be busy; next tick retries"),
			)
		}
	}
}

func (r *Runner) runTranscriptionLoop(ctx context.Context, sessionID string) {
	loopCtx := services.WithLoop(ctx, "transcription")
	logger := logging.WithContext(loopCtx, r.logger)

	ticker := time.NewTicker(time.Duration(r.cfg.TranscriptionInterval) * time.Second)
	defer ticker.Stop()

	consecutiveAudioFailures := 0
	for {
		select {
		case <-ctx.Done():
			logger.Debug("capture loop stopped")
			return
		case <-ticker.C:
		}

		err := r.captureTranscription(loopCtx, sessionID, evidence.PriorityNormal)
		if err == nil {
			consecutiveAudioFailures = 0
			continue
		}
		logger.Warn("capture tick failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "capture_tick_failed"),
			logging.String(logging.FieldErrorHint, "device may be busy; next tick retries"),
		)
		if !isAudioFailure(err) {
			continue
		}
		consecutiveAudioFailures++
		if consecutiveAudioFailures >= maxConsecutiveAudioFailures {
			fatal := services.Wrap(services.ErrCaptureDevice, "capture", "audio",
				fmt.Sprintf("%d consecutive recording failures", consecutiveAudioFailures), err)
			logger.Error("audio subsystem failing repeatedly",
				logging.Error(fatal),
				logging.String(logging.FieldEventType, "audio_fatal"),
			)
			if r.events.OnFatal != nil {
				r.events.OnFatal(fatal)
			}
			return
		}
	}
}

// CaptureNow performs one immediate out-of-band capture of every modality at
// the given priority. Used on escalation; each capture is best-effort.
func (r *Runner) CaptureNow(ctx context.Context, sessionID string, priority evidence.Priority) {
	ctx = services.WithSessionID(ctx, sessionID)
	logger := logging.WithContext(ctx, r.logger)

	sessionDir, err := r.store.SessionDir(sessionID)
	if err != nil {
		logger.Warn("immediate capture skipped", logging.Error(err))
		return
	}

	if err := r.captureLocation(ctx, sessionID, priority); err != nil {
		logger.Warn("immediate location capture failed", logging.Error(err))
	}
	if err := r.capturePhoto(ctx, sessionID, sessionDir, priority); err != nil {
		logger.Warn("immediate photo capture failed", logging.Error(err))
	}
	if err := r.captureTranscription(ctx, sessionID, priority); err != nil {
		logger.Warn("immediate transcription failed", logging.Error(err))
	}
}

func (r *Runner) captureLocation(ctx context.Context, sessionID string, priority evidence.Priority) error {
	if r.devices.Location == nil {
		return services.Wrap(services.ErrConfiguration, "capture", "location", "no location provider", nil)
	}
	deviceCtx, cancel := r.deviceContext(ctx)
	loc, err := r.devices.Location.Current(deviceCtx)
	cancel()
	if err != nil {
		return services.Wrap(services.ErrCaptureDevice, "capture", "location fix", "", err)
	}
	if loc.CapturedAt.IsZero() {
		loc.CapturedAt = time.Now().UTC()
	}

	record := &evidence.Record{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Type:       evidence.TypeLocation,
		Priority:   priority,
		CapturedAt: loc.CapturedAt,
		Metadata: map[string]string{
			"latitude":  strconv.FormatFloat(loc.Latitude, 'f', -1, 64),
			"longitude": strconv.FormatFloat(loc.Longitude, 'f', -1, 64),
			"accuracy":  strconv.FormatFloat(loc.Accuracy, 'f', -1, 64),
		},
	}
	if err := r.appendWithRetry(ctx, record); err != nil {
		return err
	}
	if r.events.OnLocation != nil {
		r.events.OnLocation(ctx, sessionID, loc)
	}
	return nil
}

func (r *Runner) capturePhoto(ctx context.Context, sessionID, sessionDir string, priority evidence.Priority) error {
	if r.devices.Camera == nil {
		return services.Wrap(services.ErrConfiguration, "capture", "photo", "no camera", nil)
	}
	deviceCtx, cancel := r.deviceContext(ctx)
	path, err := r.devices.Camera.Capture(deviceCtx, sessionDir)
	cancel()
	if err != nil {
		return services.Wrap(services.ErrCaptureDevice, "capture", "photo capture", "", err)
	}

	record := &evidence.Record{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Type:        evidence.TypePhoto,
		Priority:    priority,
		CapturedAt:  time.Now().UTC(),
		PayloadPath: path,
	}
	return r.appendWithRetry(ctx, record)
}

func (r *Runner) captureTranscription(ctx context.Context, sessionID string, priority evidence.Priority) error {
	if r.devices.Audio == nil || r.devices.Speech == nil {
		return services.Wrap(services.ErrConfiguration, "capture", "transcription", "no audio pipeline", nil)
	}

	deviceCtx, cancel := r.deviceContext(ctx)
	segmentPath, err := r.devices.Audio.RecentSegment(deviceCtx, r.cfg.TranscriptionWindow)
	cancel()
	if err != nil {
		return services.Wrap(services.ErrCaptureDevice, "capture", "audio segment", "", err)
	}

	deviceCtx, cancel = r.deviceContext(ctx)
	transcript, err := r.devices.Speech.Transcribe(deviceCtx, segmentPath)
	cancel()
	if err != nil {
		return services.Wrap(services.ErrTransient, "capture", "transcribe", "", err)
	}

	match := r.detector.Scan(transcript.Text)
	if match.IsDistress {
		priority = evidence.PriorityCritical
	}

	record := &evidence.Record{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Type:        evidence.TypeTranscription,
		Priority:    priority,
		CapturedAt:  time.Now().UTC(),
		PayloadPath: segmentPath,
		Metadata: map[string]string{
			"transcript": transcript.Text,
			"confidence": strconv.FormatFloat(transcript.Confidence, 'f', 2, 64),
		},
	}
	if match.IsDistress {
		record.Metadata["matched_terms"] = strings.Join(match.MatchedTerms, ",")
	}
	if err := r.appendWithRetry(ctx, record); err != nil {
		return err
	}

	if match.IsDistress {
		r.recordDetectionEvent(ctx, sessionID, record.ID, match)
		if r.events.OnDistress != nil {
			r.events.OnDistress(ctx, sessionID, match)
		}
	}
	return nil
}

// recordDetectionEvent persists the detection itself as evidence, separate
// from the transcript that triggered it.
func (r *Runner) recordDetectionEvent(ctx context.Context, sessionID, transcriptID string, match distress.Match) {
	record := &evidence.Record{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Type:       evidence.TypeSystemLog,
		Priority:   evidence.PriorityCritical,
		CapturedAt: time.Now().UTC(),
		Metadata: map[string]string{
			"event":         "distress_detected",
			"matched_terms": strings.Join(match.MatchedTerms, ","),
			"transcript_id": transcriptID,
		},
	}
	if err := r.appendWithRetry(ctx, record); err != nil {
		logging.WithContext(ctx, r.logger).Error("failed to persist detection event", logging.Error(err))
	}
}

// appendWithRetry persists a record, retrying once on failure per the
// persistence contract.
func (r *Runner) appendWithRetry(ctx context.Context, record *evidence.Record) error {
	if err := r.store.Append(ctx, record); err == nil {
		return nil
	} else if retryErr := r.store.Append(ctx, record); retryErr != nil {
		return services.Wrap(services.ErrTransient, "capture", "persist evidence", record.ID, err)
	}
	return nil
}

// deviceContext bounds a device call without inheriting loop cancellation,
// so stop never interrupts an in-flight capture.
func (r *Runner) deviceContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := time.Duration(r.cfg.DeviceTimeout) * time.Second
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func isAudioFailure(err error) bool {
	return err != nil && strings.Contains(err.Error(), "audio segment")
}
