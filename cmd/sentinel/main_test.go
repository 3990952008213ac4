package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sentinel/internal/capture"
	"sentinel/internal/config"
	"sentinel/internal/daemon"
	"sentinel/internal/ipc"
	"sentinel/internal/logging"
	"sentinel/internal/session"
	"sentinel/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	socketPath string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(filepath.Dir(cfg.Paths.SocketPath), "config.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	notifier := &testsupport.RecordingNotifier{}
	controller := session.NewController(cfg, store, capture.Devices{}, notifier, nil)

	d, err := daemon.New(cfg, store, controller, nil, notifier, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	server, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, nil)
	if err != nil {
		t.Fatalf("ipc.NewServer: %v", err)
	}
	server.Serve()

	t.Cleanup(func() {
		server.Close()
		cancel()
	})

	return &cliTestEnv{
		cfg:        cfg,
		socketPath: cfg.Paths.SocketPath,
		configPath: configPath,
	}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	body := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q
socket_path = %q

[auth]
token_path = %q
secret = %q
`, cfg.Paths.DataDir, cfg.Paths.LogDir, cfg.Paths.SocketPath, cfg.Auth.TokenPath, cfg.Auth.Secret)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestCLISessionLifecycle(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "idle") {
		t.Fatalf("initial status output = %q, want idle", out)
	}

	out, _, err = runCLI(t, []string{"session", "start", "--user", "user-1", "--trigger", "manual"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("session start: %v", err)
	}
	if !strings.Contains(out, "Monitoring session") {
		t.Fatalf("start output = %q", out)
	}

	out, _, err = runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status while monitoring: %v", err)
	}
	if !strings.Contains(out, "monitoring") {
		t.Fatalf("monitoring status output = %q", out)
	}

	out, _, err = runCLI(t, []string{"session", "note", "passing", "the", "station"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("session note: %v", err)
	}
	if !strings.Contains(out, "Note recorded") {
		t.Fatalf("note output = %q", out)
	}

	out, _, err = runCLI(t, []string{"session", "stop"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("session stop: %v", err)
	}
	if !strings.Contains(out, "ended") {
		t.Fatalf("stop output = %q", out)
	}

	out, _, err = runCLI(t, []string{"session", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("session list: %v", err)
	}
	if !strings.Contains(out, "completed") {
		t.Fatalf("list output = %q, want a completed session", out)
	}
}

func TestCLIStatusWhenDaemonDown(t *testing.T) {
	env := setupCLITestEnv(t)

	missing := filepath.Join(t.TempDir(), "missing.sock")
	out, _, err := runCLI(t, []string{"status"}, missing, env.configPath)
	if err != nil {
		t.Fatalf("status against missing socket: %v", err)
	}
	if !strings.Contains(out, "not running") {
		t.Fatalf("output = %q, want daemon not running hint", out)
	}
}

func TestCLIEvidenceRetryWithEmptyQueue(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"evidence", "retry"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("evidence retry: %v", err)
	}
	if !strings.Contains(out, "No failed records") {
		t.Fatalf("retry output = %q", out)
	}
}

func TestCLIConfigInit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	cmd := newRootCommand()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}

	cmd = newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err == nil {
		t.Fatal("second init without --overwrite succeeded, want error")
	}
}
