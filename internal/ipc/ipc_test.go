package ipc_test

import (
	"context"
	"testing"

	"sentinel/internal/capture"
	"sentinel/internal/daemon"
	"sentinel/internal/ipc"
	"sentinel/internal/logging"
	"sentinel/internal/session"
	"sentinel/internal/testsupport"
)

func newServerAndClient(t *testing.T) (*ipc.Client, *testsupport.RecordingNotifier) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
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
		t.Fatalf("NewServer: %v", err)
	}
	server.Serve()
	t.Cleanup(func() {
		server.Close()
		cancel()
	})

	client, err := ipc.Dial(cfg.Paths.SocketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, notifier
}

func TestSessionLifecycleOverIPC(t *testing.T) {
	client, _ := newServerAndClient(t)

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != "idle" {
		t.Fatalf("initial state = %q, want idle", status.State)
	}

	started, err := client.SessionStart("user-1", "manual")
	if err != nil {
		t.Fatalf("SessionStart: %v", err)
	}
	if !started.Started || started.Session.ID == "" {
		t.Fatalf("start response = %+v", started)
	}

	status, err = client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != "monitoring" || status.SessionID != started.Session.ID {
		t.Fatalf("status = %+v, want monitoring", status)
	}

	again, err := client.SessionStart("user-1", "manual")
	if err != nil {
		t.Fatalf("second SessionStart: %v", err)
	}
	if again.Started {
		t.Fatal("second start succeeded, want rejection")
	}

	note, err := client.Note("crossing the park")
	if err != nil {
		t.Fatalf("Note: %v", err)
	}
	if note.RecordID == "" {
		t.Fatal("note record id empty")
	}

	escalated, err := client.Escalate("manual escalation")
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if !escalated.Escalated {
		t.Fatalf("escalate response = %+v", escalated)
	}

	stopped, err := client.SessionStop()
	if err != nil {
		t.Fatalf("SessionStop: %v", err)
	}
	if !stopped.Stopped || stopped.Summary == nil {
		t.Fatalf("stop response = %+v", stopped)
	}
	if !stopped.Summary.EmergencyContacted {
		t.Error("summary missing emergency flag")
	}

	records, err := client.EvidenceList(started.Session.ID)
	if err != nil {
		t.Fatalf("EvidenceList: %v", err)
	}
	foundNote := false
	for _, record := range records.Records {
		if record.ID == note.RecordID && record.Type == "user_input" {
			foundNote = true
		}
	}
	if !foundNote {
		t.Errorf("note record not listed: %+v", records.Records)
	}

	sessions, err := client.SessionList()
	if err != nil {
		t.Fatalf("SessionList: %v", err)
	}
	if len(sessions.Sessions) != 1 || sessions.Sessions[0].ID != started.Session.ID {
		t.Errorf("sessions = %+v", sessions.Sessions)
	}
}

func TestStopWithoutSessionOverIPC(t *testing.T) {
	client, _ := newServerAndClient(t)

	stopped, err := client.SessionStop()
	if err != nil {
		t.Fatalf("SessionStop: %v", err)
	}
	if stopped.Stopped || stopped.Summary != nil {
		t.Fatalf("stop response = %+v, want no-op", stopped)
	}

	escalated, err := client.Escalate("nothing running")
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if escalated.Escalated {
		t.Fatal("escalated with no session")
	}
}

func TestMaintenanceCallsOverIPC(t *testing.T) {
	client, _ := newServerAndClient(t)

	retried, err := client.EvidenceRetry(nil)
	if err != nil {
		t.Fatalf("EvidenceRetry: %v", err)
	}
	if retried.Updated != 0 {
		t.Errorf("updated = %d, want 0 on empty store", retried.Updated)
	}

	compressed, err := client.Compress()
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(compressed.Compressed) != 0 {
		t.Errorf("compressed = %v, want none", compressed.Compressed)
	}

	test, err := client.TestNotification()
	if err != nil {
		t.Fatalf("TestNotification: %v", err)
	}
	if test.Sent {
		t.Error("notification sent with no topic configured")
	}
}
