// Package daemonrun wires and runs the sentinel daemon process. It is
// shared by the sentineld binary and the CLI's foreground run command.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"sentinel/internal/capture/execdev"
	"sentinel/internal/config"
	"sentinel/internal/daemon"
	"sentinel/internal/evidence"
	"sentinel/internal/identity"
	"sentinel/internal/ipc"
	"sentinel/internal/logging"
	"sentinel/internal/notifications"
	"sentinel/internal/remote"
	"sentinel/internal/session"
	"sentinel/internal/uploader"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the sentinel daemon runtime loop and blocks until the process
// receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.NewForDir(cfg.Paths.LogDir, level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "sentineld.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := evidence.Open(cfg)
	if err != nil {
		logger.Error("open evidence store", logging.Error(err))
		return err
	}
	defer store.Close()

	// Recover state left behind by a crash or kill.
	if reset, err := store.ResetStuckUploading(signalCtx); err != nil {
		logger.Warn("could not reset in-flight uploads", logging.Error(err))
	} else if reset > 0 {
		logger.Info("requeued in-flight uploads from previous run", logging.Int64("count", reset))
	}
	if err := session.InterruptActive(signalCtx, store, logger); err != nil {
		logger.Warn("could not finalize interrupted sessions", logging.Error(err))
	}

	notifier := notifications.NewService(cfg)
	devices := execdev.NewDevices(
		cfg.Capture.LocationCommand,
		cfg.Capture.CameraCommand,
		cfg.Capture.TranscribeCommand,
		cfg.Capture.AudioCommand,
	)
	controller := session.NewController(cfg, store, devices, notifier, logger)

	pipeline, err := buildPipeline(signalCtx, cfg, store, logger)
	if err != nil {
		return err
	}

	d, err := daemon.New(cfg, store, controller, pipeline, notifier, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-signalCtx.Done()
	logger.Info("sentinel daemon shutting down")
	d.Stop()
	return nil
}

func buildPipeline(ctx context.Context, cfg *config.Config, store *evidence.Store, logger *slog.Logger) (*uploader.Pipeline, error) {
	if !cfg.Upload.Enabled {
		logger.Warn("uploads disabled, evidence will accumulate locally")
		return nil, nil
	}
	client, err := remote.NewS3Client(ctx, cfg.Upload)
	if err != nil {
		return nil, fmt.Errorf("configure object storage: %w", err)
	}
	validator := identity.NewValidator(cfg.Auth)
	return uploader.NewPipeline(cfg.Upload, store, client, validator, logger), nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
