// Package session drives the monitoring state machine.
//
// A session moves Idle -> Monitoring -> Emergency and back to Idle. The
// controller owns the capture runner for the active session and translates
// runner events, distress hits, repeated device failures, into state
// transitions and notifications.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentinel/internal/capture"
	"sentinel/internal/config"
	"sentinel/internal/distress"
	"sentinel/internal/evidence"
	"sentinel/internal/logging"
	"sentinel/internal/notifications"
)

// State is the controller's lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateMonitoring State = "monitoring"
	StateEmergency  State = "emergency"
)

var (
	// ErrAlreadyActive is returned when Start is called mid-session.
	ErrAlreadyActive = errors.New("a session is already active")
	// ErrNoActiveSession is returned by operations that need a running
	// session.
	ErrNoActiveSession = errors.New("no active session")
)

// Snapshot is a point-in-time view of the controller for status reporting.
type Snapshot struct {
	State     State
	SessionID string
	StartedAt time.Time
	Emergency bool
}

// runner is the slice of the capture runner the controller needs.
type runner interface {
	Run(ctx context.Context, sessionID string) error
	CaptureNow(ctx context.Context, sessionID string, priority evidence.Priority)
}

type active struct {
	session *evidence.Session
	runner  runner
	cancel  context.CancelFunc
	done    chan struct{}

	mu           sync.Mutex
	lastLocation *capture.Location
}

// Controller owns at most one active session at a time.
type Controller struct {
	cfg      *config.Config
	store    *evidence.Store
	notifier notifications.Service
	logger   *slog.Logger

	// newRunner is swappable for tests.
	newRunner func(events capture.Events) runner

	mu      sync.Mutex
	state   State
	current *active
}

// NewController wires the session state machine. A nil logger is replaced
// with a nop.
func NewController(cfg *config.Config, store *evidence.Store, devices capture.Devices, notifier notifications.Service, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = logging.NewNop()
	}
	controller := &Controller{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "session"),
		state:    StateIdle,
	}
	detector := distress.NewDetector(cfg.Distress.Keywords)
	controller.newRunner = func(events capture.Events) runner {
		return capture.NewRunner(cfg.Capture, devices, store, detector, logger, events)
	}
	return controller
}

// Start creates a session and begins the capture loops. Only one session may
// run at a time.
func (c *Controller) Start(ctx context.Context, userID string, trigger evidence.TriggerMethod) (*evidence.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return nil, ErrAlreadyActive
	}

	session := &evidence.Session{
		ID:            uuid.NewString(),
		UserID:        userID,
		Status:        evidence.SessionActive,
		TriggerMethod: trigger,
		StartedAt:     time.Now().UTC(),
	}
	if err := c.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	entry := &active{session: session, done: make(chan struct{})}
	events := capture.Events{
		OnLocation: func(ctx context.Context, sessionID string, loc capture.Location) {
			c.onLocation(ctx, entry, loc)
		},
		OnDistress: func(ctx context.Context, sessionID string, match distress.Match) {
			reason := "distress keywords detected"
			if len(match.MatchedTerms) > 0 {
				reason = fmt.Sprintf("distress keywords detected: %s", strings.Join(match.MatchedTerms, ", "))
			}
			if err := c.Escalate(ctx, reason); err != nil && !errors.Is(err, ErrNoActiveSession) {
				c.logger.Error("automatic escalation failed", logging.Error(err))
			}
		},
		OnFatal: func(err error) {
			c.onFatal(entry, err)
		},
	}
	entry.runner = c.newRunner(events)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	entry.cancel = cancel
	go func() {
		defer close(entry.done)
		if err := entry.runner.Run(runCtx, session.ID); err != nil {
			c.logger.Error("capture runner exited with error",
				logging.Error(err),
				logging.String(logging.FieldSessionID, session.ID),
			)
		}
	}()

	c.current = entry
	c.state = StateMonitoring
	c.logger.Info("session started",
		logging.String(logging.FieldSessionID, session.ID),
		logging.String("trigger", string(trigger)),
	)
	if err := c.notifier.NotifySessionActivated(ctx, session.ID, string(trigger)); err != nil {
		c.logger.Warn("activation notification failed", logging.Error(err))
	}
	return session, nil
}

// Escalate raises the active session to emergency. Calling it again while
// already escalated is a no-op.
func (c *Controller) Escalate(ctx context.Context, reason string) error {
	c.mu.Lock()
	if c.state == StateIdle || c.current == nil {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	if c.state == StateEmergency {
		c.mu.Unlock()
		return nil
	}
	c.state = StateEmergency
	entry := c.current
	c.mu.Unlock()

	sessionID := entry.session.ID
	c.logger.Warn("session escalated to emergency",
		logging.String(logging.FieldSessionID, sessionID),
		logging.String("reason", reason),
	)

	if err := c.store.SetEmergencyContacted(ctx, sessionID); err != nil {
		c.logger.Error("could not flag emergency contact", logging.Error(err))
	}

	// Grab fresh evidence of the moment of escalation before notifying.
	entry.runner.CaptureNow(ctx, sessionID, evidence.PriorityCritical)

	var lat, lon float64
	hasLocation := false
	entry.mu.Lock()
	if entry.lastLocation != nil {
		lat, lon = entry.lastLocation.Latitude, entry.lastLocation.Longitude
		hasLocation = true
	}
	entry.mu.Unlock()

	if err := c.notifier.NotifyEmergency(ctx, sessionID, reason, lat, lon, hasLocation); err != nil {
		c.logger.Error("emergency notification failed", logging.Error(err))
	}
	return nil
}

// Stop ends the active session, drains the capture loops, and finalizes the
// summary. Stopping with no session running is a no-op.
func (c *Controller) Stop(ctx context.Context) (*evidence.Session, error) {
	c.mu.Lock()
	if c.state == StateIdle || c.current == nil {
		c.mu.Unlock()
		return nil, nil
	}
	entry := c.current
	c.current = nil
	c.state = StateIdle
	c.mu.Unlock()

	c.drain(entry)

	sessionID := entry.session.ID
	summary, err := c.store.FinalizeSession(ctx, sessionID, evidence.SessionCompleted)
	if err != nil {
		return nil, fmt.Errorf("finalize session: %w", err)
	}

	duration := time.Since(summary.StartedAt)
	if summary.EndedAt != nil {
		duration = summary.EndedAt.Sub(summary.StartedAt)
	}
	c.logger.Info("session stopped",
		logging.String(logging.FieldSessionID, sessionID),
		logging.Int("evidence_total", summary.EvidenceTotal),
		logging.Duration("duration", duration),
	)
	if err := c.notifier.NotifySessionEnded(ctx, sessionID, summary.EvidenceTotal, duration); err != nil {
		c.logger.Warn("deactivation notification failed", logging.Error(err))
	}
	return summary, nil
}

// Note appends a free-text observation from the user to the active session.
func (c *Controller) Note(ctx context.Context, text string) (*evidence.Record, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("note text is empty")
	}

	c.mu.Lock()
	entry := c.current
	c.mu.Unlock()
	if entry == nil {
		return nil, ErrNoActiveSession
	}

	record := &evidence.Record{
		ID:         uuid.NewString(),
		SessionID:  entry.session.ID,
		Type:       evidence.TypeUserInput,
		Priority:   evidence.PriorityHigh,
		CapturedAt: time.Now().UTC(),
		Metadata:   map[string]string{"text": text},
	}
	if err := c.store.Append(ctx, record); err != nil {
		return nil, fmt.Errorf("append note: %w", err)
	}
	return record, nil
}

// Status reports the controller state for IPC consumers.
func (c *Controller) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := Snapshot{State: c.state, Emergency: c.state == StateEmergency}
	if c.current != nil {
		snapshot.SessionID = c.current.session.ID
		snapshot.StartedAt = c.current.session.StartedAt
	}
	return snapshot
}

// drain cancels the capture loops and waits up to the configured timeout for
// in-flight captures to land.
func (c *Controller) drain(entry *active) {
	entry.cancel()
	timeout := time.Duration(c.cfg.Workflow.StopDrainTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-entry.done:
	case <-time.After(timeout):
		c.logger.Warn("capture loops did not drain before timeout",
			logging.String(logging.FieldSessionID, entry.session.ID),
		)
	}
}

func (c *Controller) onLocation(ctx context.Context, entry *active, loc capture.Location) {
	entry.mu.Lock()
	entry.lastLocation = &loc
	entry.mu.Unlock()

	c.mu.Lock()
	current := c.current == entry
	c.mu.Unlock()
	if !current {
		return
	}
	// Every location fix is forwarded as a live-location update while the
	// session is active, not just under emergency.
	if err := c.notifier.NotifyLocationUpdate(ctx, entry.session.ID, loc.Latitude, loc.Longitude); err != nil {
		c.logger.Warn("location notification failed", logging.Error(err))
	}
}

// onFatal tears the session down when capture reports an unrecoverable
// device failure. The session is finalized with error status so the summary
// records the abnormal end.
func (c *Controller) onFatal(entry *active, cause error) {
	c.mu.Lock()
	if c.current != entry {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.state = StateIdle
	c.mu.Unlock()

	sessionID := entry.session.ID
	c.logger.Error("session aborted by capture failure",
		logging.Error(cause),
		logging.String(logging.FieldSessionID, sessionID),
	)

	ctx := context.Background()
	c.drain(entry)
	if _, err := c.store.FinalizeSession(ctx, sessionID, evidence.SessionError); err != nil {
		c.logger.Error("could not finalize aborted session", logging.Error(err))
	}
	if err := c.notifier.NotifyError(ctx, cause, "capture"); err != nil {
		c.logger.Warn("error notification failed", logging.Error(err))
	}
}

// InterruptActive marks any session left active by a previous daemon run as
// interrupted. Called once at daemon startup, before new sessions begin.
func InterruptActive(ctx context.Context, store *evidence.Store, logger *slog.Logger) error {
	sessions, err := store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	for _, session := range sessions {
		if session.Status != evidence.SessionActive {
			continue
		}
		if _, err := store.FinalizeSession(ctx, session.ID, evidence.SessionInterrupted); err != nil {
			return fmt.Errorf("interrupt session %s: %w", session.ID, err)
		}
		if logger != nil {
			logger.Warn("recovered interrupted session",
				logging.String(logging.FieldSessionID, session.ID),
			)
		}
	}
	return nil
}
