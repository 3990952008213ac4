package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"sentinel/internal/config"
	"sentinel/internal/evidence"
	"sentinel/internal/logging"
	"sentinel/internal/notifications"
	"sentinel/internal/session"
	"sentinel/internal/uploader"
)

// Daemon coordinates background services and enforces single-instance
// execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *evidence.Store
	controller *session.Controller
	pipeline   *uploader.Pipeline
	notifier   notifications.Service
	logPath    string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	Session       session.Snapshot
	Queue         evidence.HealthSummary
	StorageFree   uint64
	StorageLow    bool
	EvidenceDB    string
	LockFilePath  string
	UploadEnabled bool
}

// New constructs a daemon with initialized dependencies. The pipeline may be
// nil when uploads are disabled.
func New(cfg *config.Config, store *evidence.Store, controller *session.Controller, pipeline *uploader.Pipeline, notifier notifications.Service, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || controller == nil || notifier == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, controller, notifier, and logger")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "sentineld.lock")
	return &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      store,
		controller: controller,
		pipeline:   pipeline,
		notifier:   notifier,
		logPath:    filepath.Join(cfg.Paths.LogDir, "sentinel.log"),
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the upload pipeline and the
// storage sweeper.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another sentinel daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if d.pipeline != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.pipeline.Run(runCtx)
		}()
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runSweeper(runCtx)
	}()

	d.running.Store(true)
	d.logger.Info("sentinel daemon started",
		logging.String("lock", d.lockPath),
		logging.Bool("uploads", d.pipeline != nil),
	)
	return nil
}

// Stop ends any active session, stops background work, and releases the
// lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if _, err := d.controller.Stop(context.Background()); err != nil {
		d.logger.Warn("failed to stop active session during shutdown", logging.Error(err))
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("sentinel daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// runSweeper periodically checks free space and archives settled sessions
// when the disk runs low.
func (d *Daemon) runSweeper(ctx context.Context) {
	interval := time.Duration(d.cfg.Workflow.SweepInterval) * time.Second
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		threshold := uint64(d.cfg.Workflow.StorageLowMegabyte) * 1024 * 1024
		low, err := d.store.StorageLow(threshold)
		if err != nil {
			d.logger.Warn("storage probe failed", logging.Error(err))
			continue
		}
		if !low {
			continue
		}
		d.logger.Warn("storage low, compressing settled sessions")
		result, err := d.Compress(ctx)
		if err != nil {
			d.logger.Error("storage sweep failed", logging.Error(err))
			continue
		}
		if len(result.Compressed) == 0 {
			d.logger.Warn("storage low but no sessions eligible for compression")
		}
	}
}

// SessionStart begins a monitoring session.
func (d *Daemon) SessionStart(ctx context.Context, userID string, trigger evidence.TriggerMethod) (*evidence.Session, error) {
	if userID = strings.TrimSpace(userID); userID == "" {
		userID = "local"
	}
	if trigger == "" {
		trigger = evidence.TriggerManual
	}
	return d.controller.Start(ctx, userID, trigger)
}

// SessionStop ends the active monitoring session and returns its summary.
// Returns nil when no session is running.
func (d *Daemon) SessionStop(ctx context.Context) (*evidence.Session, error) {
	return d.controller.Stop(ctx)
}

// Escalate raises the active session to emergency.
func (d *Daemon) Escalate(ctx context.Context, reason string) error {
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "manual escalation"
	}
	return d.controller.Escalate(ctx, reason)
}

// Note records a user observation against the active session.
func (d *Daemon) Note(ctx context.Context, text string) (*evidence.Record, error) {
	return d.controller.Note(ctx, text)
}

// ListSessions returns stored sessions, newest first.
func (d *Daemon) ListSessions(ctx context.Context) ([]*evidence.Session, error) {
	return d.store.ListSessions(ctx)
}

// ListEvidence returns the evidence records for one session.
func (d *Daemon) ListEvidence(ctx context.Context, sessionID string) ([]*evidence.Record, error) {
	if sessionID = strings.TrimSpace(sessionID); sessionID == "" {
		return nil, errors.New("session id is required")
	}
	return d.store.ListBySession(ctx, sessionID)
}

// RetryFailed requeues failed evidence records (optionally a subset) for
// upload.
func (d *Daemon) RetryFailed(ctx context.Context, ids []string) (int64, error) {
	return d.store.RequeueFailed(ctx, ids...)
}

// Compress archives settled sessions older than the configured cutoff.
func (d *Daemon) Compress(ctx context.Context) (evidence.CompressResult, error) {
	olderThan := time.Duration(d.cfg.Workflow.CompressOlderThan) * time.Second
	return d.store.Compress(ctx, olderThan, d.logger)
}

// TestNotification triggers a test notification using the current
// configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns current daemon diagnostics.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:       d.running.Load(),
		Session:       d.controller.Status(),
		EvidenceDB:    d.store.Path(),
		LockFilePath:  d.lockPath,
		UploadEnabled: d.pipeline != nil,
	}
	if health, err := d.store.Health(ctx); err == nil {
		status.Queue = health
	} else {
		d.logger.Warn("queue health check failed", logging.Error(err))
	}
	if free, err := d.store.FreeSpace(); err == nil {
		status.StorageFree = free
		threshold := uint64(d.cfg.Workflow.StorageLowMegabyte) * 1024 * 1024
		status.StorageLow = free < threshold
	}
	return status
}
