package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"sentinel/internal/config"
	"sentinel/internal/evidence"
)

// MustOpenStore opens an evidence store for the test config and registers
// cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *evidence.Store {
	t.Helper()

	store, err := evidence.Open(cfg)
	if err != nil {
		t.Fatalf("open evidence store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close evidence store: %v", err)
		}
	})
	return store
}

// MustCreateSession persists an active session and returns it.
func MustCreateSession(t testing.TB, store *evidence.Store, id string) *evidence.Session {
	t.Helper()

	if id == "" {
		id = uuid.NewString()
	}
	session := &evidence.Session{
		ID:            id,
		UserID:        "user-1",
		Status:        evidence.SessionActive,
		TriggerMethod: evidence.TriggerManual,
		StartedAt:     time.Now().UTC(),
	}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

// MustAppend persists an evidence record and returns it.
func MustAppend(t testing.TB, store *evidence.Store, record *evidence.Record) *evidence.Record {
	t.Helper()

	if err := store.Append(context.Background(), record); err != nil {
		t.Fatalf("append evidence: %v", err)
	}
	return record
}
