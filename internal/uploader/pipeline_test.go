package uploader

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/evidence"
	"sentinel/internal/identity"
	"sentinel/internal/testsupport"
)

type scriptedValidator struct {
	mu      sync.Mutex
	results []identity.Result
	calls   int
}

func (v *scriptedValidator) Validate(context.Context) identity.Result {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if len(v.results) == 0 {
		return identity.Result{State: identity.StateValid, PrincipalID: "user-1"}
	}
	result := v.results[0]
	if len(v.results) > 1 {
		v.results = v.results[1:]
	}
	return result
}

type fakeClient struct {
	mu        sync.Mutex
	files     map[string]string
	documents map[string][]byte
	fail      bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{files: make(map[string]string), documents: make(map[string][]byte)}
}

func (c *fakeClient) PutFile(_ context.Context, key, localPath, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return "", errors.New("connection reset")
	}
	c.files[key] = localPath
	return "s3://bucket/" + key, nil
}

func (c *fakeClient) PutDocument(_ context.Context, key string, body []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return "", errors.New("connection reset")
	}
	c.documents[key] = append([]byte(nil), body...)
	return "s3://bucket/" + key, nil
}

func newTestPipeline(t *testing.T, validator identity.Validator, client *fakeClient) (*Pipeline, *evidence.Store, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	session := testsupport.MustCreateSession(t, store, "")

	pipeline := NewPipeline(config.Upload{Enabled: true, Bucket: "bucket"}, store, client, validator, nil)
	pipeline.sleep = func(context.Context, time.Duration) error { return nil }
	return pipeline, store, session.ID
}

func appendPending(t *testing.T, store *evidence.Store, sessionID, id string, priority evidence.Priority) {
	t.Helper()
	testsupport.MustAppend(t, store, &evidence.Record{
		ID:         id,
		SessionID:  sessionID,
		Type:       evidence.TypeLocation,
		Priority:   priority,
		CapturedAt: time.Now().UTC(),
		Metadata:   map[string]string{"latitude": "47.6"},
	})
}

func TestRunOnceUploadsPendingRecords(t *testing.T) {
	client := newFakeClient()
	pipeline, store, sessionID := newTestPipeline(t, &scriptedValidator{}, client)
	appendPending(t, store, sessionID, "rec-1", evidence.PriorityNormal)
	appendPending(t, store, sessionID, "rec-2", evidence.PriorityCritical)

	result, err := pipeline.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Uploaded != 2 || result.Failed != 0 {
		t.Fatalf("result = %+v, want 2 uploads", result)
	}

	for _, id := range []string{"rec-1", "rec-2"} {
		record, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID(%s): %v", id, err)
		}
		if record.UploadStatus != evidence.StatusCompleted {
			t.Errorf("%s status = %s, want completed", id, record.UploadStatus)
		}
		if !strings.HasPrefix(record.RemoteURI, "s3://bucket/incidents/"+sessionID+"/") {
			t.Errorf("%s remote URI = %q", id, record.RemoteURI)
		}
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.documents) != 2 {
		t.Errorf("got %d documents, want 2", len(client.documents))
	}
}

// completionFailingStore rejects a configured number of MarkCompleted calls
// while delegating everything else to the real store.
type completionFailingStore struct {
	*evidence.Store
	mu       sync.Mutex
	failures int
}

func (s *completionFailingStore) MarkCompleted(ctx context.Context, id, remoteURI string) error {
	s.mu.Lock()
	remaining := s.failures
	if remaining > 0 {
		s.failures--
	}
	s.mu.Unlock()
	if remaining > 0 {
		return errors.New("database is locked")
	}
	return s.Store.MarkCompleted(ctx, id, remoteURI)
}

func TestCompletionFailureReleasesRecordForRetry(t *testing.T) {
	client := newFakeClient()
	pipeline, store, sessionID := newTestPipeline(t, &scriptedValidator{}, client)
	pipeline.store = &completionFailingStore{Store: store, failures: 1}
	appendPending(t, store, sessionID, "rec-1", evidence.PriorityNormal)

	result, err := pipeline.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Released != 1 || result.Uploaded != 0 {
		t.Fatalf("result = %+v, want 1 released", result)
	}

	record, err := store.GetByID(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if record.UploadStatus != evidence.StatusPending {
		t.Fatalf("status after failed completion = %s, want pending", record.UploadStatus)
	}
	if record.UploadAttempts != 1 {
		t.Errorf("attempts = %d, want 1", record.UploadAttempts)
	}

	// The next pass re-transfers onto the same keys and records completion.
	result, err = pipeline.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce (retry): %v", err)
	}
	if result.Uploaded != 1 {
		t.Fatalf("retry result = %+v, want 1 upload", result)
	}
	record, err = store.GetByID(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if record.UploadStatus != evidence.StatusCompleted {
		t.Errorf("status after retry = %s, want completed", record.UploadStatus)
	}
	if record.RemoteURI == "" {
		t.Errorf("remote URI not recorded after retry")
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.documents) != 1 {
		t.Errorf("got %d documents, want 1 key reused across passes", len(client.documents))
	}
}

func TestRunOnceAbortsWhenNotAuthenticated(t *testing.T) {
	client := newFakeClient()
	validator := &scriptedValidator{results: []identity.Result{{State: identity.StateNotAuthenticated}}}
	pipeline, store, sessionID := newTestPipeline(t, validator, client)
	appendPending(t, store, sessionID, "rec-1", evidence.PriorityNormal)

	result, err := pipeline.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Skipped != "auth" || result.Uploaded != 0 {
		t.Fatalf("result = %+v, want auth skip", result)
	}

	record, err := store.GetByID(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if record.UploadStatus != evidence.StatusPending {
		t.Errorf("status = %s, want pending", record.UploadStatus)
	}
	if record.UploadAttempts != 0 {
		t.Errorf("attempts = %d, want 0", record.UploadAttempts)
	}
	validator.mu.Lock()
	defer validator.mu.Unlock()
	if validator.calls != 1 {
		t.Errorf("validator called %d times, want 1 (no retries when unauthenticated)", validator.calls)
	}
}

func TestRunOnceRetriesInvalidToken(t *testing.T) {
	client := newFakeClient()
	validator := &scriptedValidator{results: []identity.Result{
		{State: identity.StateInvalidToken},
		{State: identity.StateValid, PrincipalID: "user-1"},
	}}
	pipeline, store, sessionID := newTestPipeline(t, validator, client)
	appendPending(t, store, sessionID, "rec-1", evidence.PriorityNormal)

	result, err := pipeline.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Uploaded != 1 {
		t.Fatalf("result = %+v, want 1 upload after re-check", result)
	}
}

func TestRunOnceGivesUpAfterAuthRetryBudget(t *testing.T) {
	client := newFakeClient()
	validator := &scriptedValidator{results: []identity.Result{{State: identity.StateInvalidToken}}}
	pipeline, store, sessionID := newTestPipeline(t, validator, client)
	appendPending(t, store, sessionID, "rec-1", evidence.PriorityNormal)

	result, err := pipeline.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Skipped != "auth" {
		t.Fatalf("result = %+v, want auth skip", result)
	}
	validator.mu.Lock()
	defer validator.mu.Unlock()
	if validator.calls != maxAuthRetries {
		t.Errorf("validator called %d times, want %d", validator.calls, maxAuthRetries)
	}

	record, err := store.GetByID(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if record.UploadStatus != evidence.StatusPending {
		t.Errorf("status = %s, want pending", record.UploadStatus)
	}
}

func TestFailedUploadsExhaustBudgetThenPark(t *testing.T) {
	client := newFakeClient()
	client.fail = true
	pipeline, store, sessionID := newTestPipeline(t, &scriptedValidator{}, client)
	appendPending(t, store, sessionID, "rec-1", evidence.PriorityNormal)

	for pass := 1; pass < maxUploadAttempts; pass++ {
		result, err := pipeline.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("pass %d: %v", pass, err)
		}
		if result.Released != 1 {
			t.Fatalf("pass %d result = %+v, want release", pass, result)
		}
		record, err := store.GetByID(context.Background(), "rec-1")
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if record.UploadStatus != evidence.StatusPending || record.UploadAttempts != pass {
			t.Fatalf("pass %d: status=%s attempts=%d", pass, record.UploadStatus, record.UploadAttempts)
		}
	}

	result, err := pipeline.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("final pass: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("final result = %+v, want 1 failed", result)
	}
	record, err := store.GetByID(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if record.UploadStatus != evidence.StatusFailed {
		t.Errorf("status = %s, want failed", record.UploadStatus)
	}
}

func TestFailedRecordRecoversAfterRequeue(t *testing.T) {
	client := newFakeClient()
	client.fail = true
	pipeline, store, sessionID := newTestPipeline(t, &scriptedValidator{}, client)
	appendPending(t, store, sessionID, "rec-1", evidence.PriorityNormal)

	for pass := 0; pass < maxUploadAttempts; pass++ {
		if _, err := pipeline.RunOnce(context.Background()); err != nil {
			t.Fatalf("pass %d: %v", pass, err)
		}
	}
	if _, err := store.RequeueFailed(context.Background(), "rec-1"); err != nil {
		t.Fatalf("RequeueFailed: %v", err)
	}

	client.mu.Lock()
	client.fail = false
	client.mu.Unlock()

	result, err := pipeline.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Uploaded != 1 {
		t.Fatalf("result = %+v, want recovery upload", result)
	}
}

func TestRunOnceSkipsWhenOffline(t *testing.T) {
	client := newFakeClient()
	pipeline, store, sessionID := newTestPipeline(t, &scriptedValidator{}, client)
	appendPending(t, store, sessionID, "rec-1", evidence.PriorityNormal)

	pipeline.cfg.ConnectivityHost = "example.invalid:443"
	pipeline.dial = func(string, time.Duration) error { return errors.New("no route to host") }

	result, err := pipeline.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Skipped != "offline" || result.Uploaded != 0 {
		t.Fatalf("result = %+v, want offline skip", result)
	}
}

func TestPendingOrderPrefersCriticalRecords(t *testing.T) {
	client := newFakeClient()
	pipeline, store, sessionID := newTestPipeline(t, &scriptedValidator{}, client)
	appendPending(t, store, sessionID, "rec-normal", evidence.PriorityNormal)
	appendPending(t, store, sessionID, "rec-critical", evidence.PriorityCritical)

	pending, err := store.ListPending(context.Background())
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "rec-critical" {
		t.Fatalf("pending order = %v, want critical first", ids(pending))
	}
	if _, err := pipeline.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
}

func ids(records []*evidence.Record) []string {
	out := make([]string, len(records))
	for i, record := range records {
		out[i] = record.ID
	}
	return out
}
