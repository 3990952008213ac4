package evidence_test

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"sentinel/internal/evidence"
	"sentinel/internal/testsupport"
)

func writePayload(t *testing.T, store *evidence.Store, sessionID, name, content string) string {
	t.Helper()
	dir, err := store.SessionDir(sessionID)
	if err != nil {
		t.Fatalf("SessionDir: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	return path
}

func settleSession(t *testing.T, store *evidence.Store, sessionID string) {
	t.Helper()
	ctx := context.Background()
	records, err := store.ListBySession(ctx, sessionID)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	for _, record := range records {
		if record.UploadStatus != evidence.StatusPending {
			continue
		}
		if err := store.MarkUploading(ctx, record.ID); err != nil {
			t.Fatalf("MarkUploading: %v", err)
		}
		if err := store.MarkCompleted(ctx, record.ID, "s3://bucket/"+record.ID); err != nil {
			t.Fatalf("MarkCompleted: %v", err)
		}
	}
	if _, err := store.FinalizeSession(ctx, sessionID, evidence.SessionCompleted); err != nil {
		t.Fatalf("FinalizeSession: %v", err)
	}
}

func TestCompressArchivesSettledSessions(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	session := testsupport.MustCreateSession(t, store, "")

	record := newRecord(session.ID, evidence.TypePhoto, evidence.PriorityNormal)
	record.PayloadPath = writePayload(t, store, session.ID, "photo-1.jpg", strings.Repeat("jpeg-bytes ", 200))
	testsupport.MustAppend(t, store, record)
	settleSession(t, store, session.ID)

	result, err := store.Compress(ctx, 0, nil)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(result.Compressed) != 1 || result.Compressed[0] != session.ID {
		t.Fatalf("compressed = %v", result.Compressed)
	}

	got, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.ArchivePath == "" {
		t.Fatal("archive path not recorded")
	}
	if _, err := os.Stat(got.ArchivePath); err != nil {
		t.Fatalf("archive missing: %v", err)
	}

	// Original payload directory is gone once the archive is published.
	if _, err := os.Stat(filepath.Dir(record.PayloadPath)); !os.IsNotExist(err) {
		t.Fatalf("payload directory still present: %v", err)
	}

	names := readArchiveNames(t, got.ArchivePath)
	var found bool
	for _, name := range names {
		if strings.HasSuffix(name, "photo-1.jpg") {
			found = true
		}
	}
	if !found {
		t.Fatalf("archive entries = %v, want photo-1.jpg", names)
	}
}

func TestCompressSkipsSessionsWithUnsettledUploads(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	session := testsupport.MustCreateSession(t, store, "")

	record := newRecord(session.ID, evidence.TypeAudio, evidence.PriorityNormal)
	record.PayloadPath = writePayload(t, store, session.ID, "segment-1.wav", "pcm")
	testsupport.MustAppend(t, store, record)
	if _, err := store.FinalizeSession(ctx, session.ID, evidence.SessionCompleted); err != nil {
		t.Fatalf("FinalizeSession: %v", err)
	}

	result, err := store.Compress(ctx, 0, nil)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(result.Compressed) != 0 || result.Skipped != 1 {
		t.Fatalf("result = %+v, want skip for pending upload", result)
	}
	if _, err := os.Stat(record.PayloadPath); err != nil {
		t.Fatalf("payload removed despite pending upload: %v", err)
	}
}

func TestCompressSkipsActiveAndRecentSessions(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	active := testsupport.MustCreateSession(t, store, "")
	writePayload(t, store, active.ID, "photo-1.jpg", "bytes")

	settled := testsupport.MustCreateSession(t, store, "")
	writePayload(t, store, settled.ID, "photo-2.jpg", "bytes")
	settleSession(t, store, settled.ID)

	// A long eligibility window keeps the freshly finalized session warm.
	result, err := store.Compress(ctx, 24*time.Hour, nil)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(result.Compressed) != 0 || result.Skipped != 2 {
		t.Fatalf("result = %+v, want both sessions skipped", result)
	}
}

func TestCompressIsIdempotent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	session := testsupport.MustCreateSession(t, store, "")
	writePayload(t, store, session.ID, "note.txt", "payload")
	settleSession(t, store, session.ID)

	if _, err := store.Compress(ctx, 0, nil); err != nil {
		t.Fatalf("first Compress: %v", err)
	}
	result, err := store.Compress(ctx, 0, nil)
	if err != nil {
		t.Fatalf("second Compress: %v", err)
	}
	if len(result.Compressed) != 0 {
		t.Fatalf("second pass recompressed %v", result.Compressed)
	}
}

func readArchiveNames(t *testing.T, path string) []string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer decoder.Close()

	var names []string
	reader := tar.NewReader(decoder)
	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read archive entry: %v", err)
		}
		names = append(names, header.Name)
	}
	return names
}
