// Package daemonctl launches and terminates the detached daemon process on
// behalf of the CLI.
package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/ipc"
)

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

// StartState describes the outcome of EnsureStarted.
type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	PID      int
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	ForcedKill bool
	PID        int
}

// Launch starts a detached sentineld process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	var args []string
	if cfgPath := strings.TrimSpace(opts.ConfigPath); cfgPath != "" {
		args = append(args, "--config", cfgPath)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient waits for IPC socket availability and returns a connected
// client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon when it is not reachable and reports the
// resulting state.
func EnsureStarted(cfg *config.Config, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	if client, err := ipc.Dial(cfg.Paths.SocketPath); err == nil {
		defer client.Close()
		status, statusErr := client.Status()
		if statusErr == nil && status.Running {
			return StartResult{State: StartStateAlreadyRunning, PID: status.PID}, nil
		}
	}

	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	client, err := WaitForClient(cfg.Paths.SocketPath, waitTimeout)
	if err != nil {
		return StartResult{}, err
	}
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		return StartResult{State: StartStateStarted, Launched: true}, nil
	}
	return StartResult{State: StartStateStarted, Launched: true, PID: status.PID}, nil
}

// StopAndTerminate asks the daemon to stop via SIGTERM and force-kills the
// process when it is still alive after gracePeriod.
func StopAndTerminate(cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	pid, err := daemonPID(cfg)
	if err != nil {
		return StopResult{}, err
	}
	if pid <= 0 {
		return StopResult{}, ErrDaemonNotRunning
	}
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to stop current process (pid %d)", pid)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return StopResult{}, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			cleanupRuntimeFiles(cfg)
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}

	if err := WaitForShutdown(cfg.Paths.SocketPath, gracePeriod); err == nil {
		return StopResult{PID: pid}, nil
	}

	if killErr := proc.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
		return StopResult{}, fmt.Errorf("kill daemon process %d: %w", pid, killErr)
	}
	cleanupRuntimeFiles(cfg)
	return StopResult{ForcedKill: true, PID: pid}, nil
}

// WaitForShutdown waits for daemon IPC to disappear or report not-running.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			return nil
		}
		status, statusErr := client.Status()
		_ = client.Close()
		if statusErr == nil && !status.Running {
			return nil
		}
		if statusErr != nil {
			lastErr = statusErr
		} else {
			lastErr = fmt.Errorf("daemon still running")
		}
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for shutdown")
	}
	return fmt.Errorf("daemon did not stop: %w", lastErr)
}

// ProcessInfo reports whether daemon IPC is reachable and the daemon PID
// when available.
func ProcessInfo(socketPath string) (bool, int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		return false, 0, nil
	}
	defer client.Close()
	status, statusErr := client.Status()
	if statusErr != nil {
		return true, 0, statusErr
	}
	return true, status.PID, nil
}

// daemonPID resolves the daemon process id, preferring live IPC status over
// the pid file.
func daemonPID(cfg *config.Config) (int, error) {
	reachable, pid, err := ProcessInfo(cfg.Paths.SocketPath)
	if err == nil && reachable && pid > 0 {
		return pid, nil
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "sentineld.pid")
	data, readErr := os.ReadFile(pidPath)
	if readErr != nil {
		if errors.Is(readErr, os.ErrNotExist) {
			if !reachable {
				return 0, ErrDaemonNotRunning
			}
			return 0, fmt.Errorf("daemon reachable but pid unknown")
		}
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, readErr)
	}
	parsed, parseErr := strconv.Atoi(strings.TrimSpace(string(data)))
	if parseErr != nil || parsed <= 0 {
		return 0, fmt.Errorf("invalid pid file %q", pidPath)
	}
	return parsed, nil
}

func cleanupRuntimeFiles(cfg *config.Config) {
	_ = os.Remove(filepath.Join(cfg.Paths.LogDir, "sentineld.pid"))
	_ = os.Remove(filepath.Join(cfg.Paths.LogDir, "sentineld.lock"))
	_ = os.Remove(cfg.Paths.SocketPath)
}
