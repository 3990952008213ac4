package evidence_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"sentinel/internal/evidence"
	"sentinel/internal/testsupport"
)

func newStore(t *testing.T) *evidence.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return testsupport.MustOpenStore(t, cfg)
}

func newRecord(sessionID string, kind evidence.Type, priority evidence.Priority) *evidence.Record {
	return &evidence.Record{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      kind,
		Priority:  priority,
	}
}

func TestAppendSurvivesReopen(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	store, err := evidence.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	session := testsupport.MustCreateSession(t, store, "")
	record := newRecord(session.ID, evidence.TypeLocation, evidence.PriorityNormal)
	record.Metadata = map[string]string{"latitude": "47.6", "longitude": "-122.3"}
	testsupport.MustAppend(t, store, record)
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	got, err := reopened.GetByID(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetByID after reopen: %v", err)
	}
	if got == nil {
		t.Fatal("record did not survive reopen")
	}
	if got.UploadStatus != evidence.StatusPending {
		t.Fatalf("status = %q, want pending", got.UploadStatus)
	}
	if got.Metadata["latitude"] != "47.6" {
		t.Fatalf("metadata = %v", got.Metadata)
	}
}

func TestAppendRejectsIncompleteRecords(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if err := store.Append(ctx, nil); err == nil {
		t.Fatal("nil record accepted")
	}
	if err := store.Append(ctx, &evidence.Record{SessionID: "s"}); err == nil {
		t.Fatal("record without id accepted")
	}
	if err := store.Append(ctx, &evidence.Record{ID: "r"}); err == nil {
		t.Fatal("record without session id accepted")
	}
}

func TestUploadStatusTransitions(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	session := testsupport.MustCreateSession(t, store, "")
	record := testsupport.MustAppend(t, store, newRecord(session.ID, evidence.TypePhoto, evidence.PriorityNormal))

	// Completing a record that was never claimed must fail.
	if err := store.MarkCompleted(ctx, record.ID, "s3://x"); !errors.Is(err, evidence.ErrStatusConflict) {
		t.Fatalf("complete from pending = %v, want ErrStatusConflict", err)
	}

	if err := store.MarkUploading(ctx, record.ID); err != nil {
		t.Fatalf("MarkUploading: %v", err)
	}
	// Double-claim must be rejected.
	if err := store.MarkUploading(ctx, record.ID); !errors.Is(err, evidence.ErrStatusConflict) {
		t.Fatalf("second claim = %v, want ErrStatusConflict", err)
	}

	if err := store.MarkCompleted(ctx, record.ID, "s3://bucket/key"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	got, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.UploadStatus != evidence.StatusCompleted || got.RemoteURI != "s3://bucket/key" {
		t.Fatalf("record = %+v", got)
	}
	if got.UploadedAt == nil {
		t.Fatal("UploadedAt not set on completion")
	}

	// Completed is terminal.
	if err := store.MarkUploading(ctx, record.ID); !errors.Is(err, evidence.ErrStatusConflict) {
		t.Fatalf("claim after completion = %v, want ErrStatusConflict", err)
	}
	if _, err := store.ReleaseForRetry(ctx, record.ID); !errors.Is(err, evidence.ErrStatusConflict) {
		t.Fatalf("release after completion = %v, want ErrStatusConflict", err)
	}
}

func TestReleaseForRetryCountsAttempts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	session := testsupport.MustCreateSession(t, store, "")
	record := testsupport.MustAppend(t, store, newRecord(session.ID, evidence.TypeTranscription, evidence.PriorityHigh))

	for want := 1; want <= 2; want++ {
		if err := store.MarkUploading(ctx, record.ID); err != nil {
			t.Fatalf("MarkUploading #%d: %v", want, err)
		}
		attempts, err := store.ReleaseForRetry(ctx, record.ID)
		if err != nil {
			t.Fatalf("ReleaseForRetry #%d: %v", want, err)
		}
		if attempts != want {
			t.Fatalf("attempts = %d, want %d", attempts, want)
		}
	}

	if err := store.MarkUploading(ctx, record.ID); err != nil {
		t.Fatalf("final claim: %v", err)
	}
	if err := store.MarkFailed(ctx, record.ID); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	got, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.UploadStatus != evidence.StatusFailed || got.UploadAttempts != 3 {
		t.Fatalf("record = status %q attempts %d, want failed/3", got.UploadStatus, got.UploadAttempts)
	}
}

func TestListPendingOrdersByPriorityThenAge(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	session := testsupport.MustCreateSession(t, store, "")

	base := time.Now().UTC().Add(-time.Minute)
	oldNormal := newRecord(session.ID, evidence.TypeLocation, evidence.PriorityNormal)
	oldNormal.CapturedAt = base
	newNormal := newRecord(session.ID, evidence.TypeLocation, evidence.PriorityNormal)
	newNormal.CapturedAt = base.Add(10 * time.Second)
	critical := newRecord(session.ID, evidence.TypeTranscription, evidence.PriorityCritical)
	critical.CapturedAt = base.Add(20 * time.Second)

	testsupport.MustAppend(t, store, newNormal)
	testsupport.MustAppend(t, store, critical)
	testsupport.MustAppend(t, store, oldNormal)

	pending, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending = %d records, want 3", len(pending))
	}
	if pending[0].ID != critical.ID {
		t.Fatalf("first pending = %s, want critical record", pending[0].ID)
	}
	if pending[1].ID != oldNormal.ID || pending[2].ID != newNormal.ID {
		t.Fatalf("normal records out of capture order: %s, %s", pending[1].ID, pending[2].ID)
	}
}

func TestRequeueFailedRestoresAttemptBudget(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	session := testsupport.MustCreateSession(t, store, "")

	fail := func(id string) {
		t.Helper()
		if err := store.MarkUploading(ctx, id); err != nil {
			t.Fatalf("MarkUploading: %v", err)
		}
		if err := store.MarkFailed(ctx, id); err != nil {
			t.Fatalf("MarkFailed: %v", err)
		}
	}

	first := testsupport.MustAppend(t, store, newRecord(session.ID, evidence.TypePhoto, evidence.PriorityNormal))
	second := testsupport.MustAppend(t, store, newRecord(session.ID, evidence.TypePhoto, evidence.PriorityNormal))
	fail(first.ID)
	fail(second.ID)

	updated, err := store.RequeueFailed(ctx, first.ID)
	if err != nil {
		t.Fatalf("RequeueFailed selected: %v", err)
	}
	if updated != 1 {
		t.Fatalf("updated = %d, want 1", updated)
	}
	got, err := store.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.UploadStatus != evidence.StatusPending || got.UploadAttempts != 0 {
		t.Fatalf("requeued record = status %q attempts %d", got.UploadStatus, got.UploadAttempts)
	}

	updated, err = store.RequeueFailed(ctx)
	if err != nil {
		t.Fatalf("RequeueFailed all: %v", err)
	}
	if updated != 1 {
		t.Fatalf("second requeue updated = %d, want 1 (only remaining failed record)", updated)
	}
}

func TestResetStuckUploadingRecoversCrashedTransfers(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	session := testsupport.MustCreateSession(t, store, "")

	stuck := testsupport.MustAppend(t, store, newRecord(session.ID, evidence.TypeAudio, evidence.PriorityNormal))
	done := testsupport.MustAppend(t, store, newRecord(session.ID, evidence.TypeAudio, evidence.PriorityNormal))
	if err := store.MarkUploading(ctx, stuck.ID); err != nil {
		t.Fatalf("MarkUploading: %v", err)
	}
	if err := store.MarkUploading(ctx, done.ID); err != nil {
		t.Fatalf("MarkUploading: %v", err)
	}
	if err := store.MarkCompleted(ctx, done.ID, "s3://bucket/done"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	reset, err := store.ResetStuckUploading(ctx)
	if err != nil {
		t.Fatalf("ResetStuckUploading: %v", err)
	}
	if reset != 1 {
		t.Fatalf("reset = %d, want 1", reset)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[evidence.StatusPending] != 1 || stats[evidence.StatusCompleted] != 1 {
		t.Fatalf("stats = %v", stats)
	}
}

func TestDeleteSessionRemovesRecordsAndPayloads(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	session := testsupport.MustCreateSession(t, store, "")
	record := testsupport.MustAppend(t, store, newRecord(session.ID, evidence.TypePhoto, evidence.PriorityNormal))

	dir, err := store.SessionDir(session.ID)
	if err != nil {
		t.Fatalf("SessionDir: %v", err)
	}

	if err := store.DeleteSession(ctx, session.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	gotSession, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if gotSession != nil {
		t.Fatal("session row survived delete")
	}
	gotRecord, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if gotRecord != nil {
		t.Fatal("evidence row survived delete")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("payload directory survived delete: %v", err)
	}
}
