package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sentinel/internal/config"
)

// Store manages evidence persistence backed by SQLite.
type Store struct {
	db          *sql.DB
	path        string
	evidenceDir string
	archiveDir  string
}

const (
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// ErrStatusConflict indicates a guarded status transition found the record
// in a different state than required. Terminal states never revert.
var ErrStatusConflict = errors.New("upload status conflict")

// Open initializes or connects to the evidence database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "evidence.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// synchronous=FULL so a committed append survives power loss, which is
	// the durability contract capture loops rely on.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{
		db:          db,
		path:        dbPath,
		evidenceDir: cfg.EvidenceDir(),
		archiveDir:  cfg.ArchiveDir(),
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the evidence database file path.
func (s *Store) Path() string {
	return s.path
}

// SessionDir returns the payload directory for a session, creating it on demand.
func (s *Store) SessionDir(sessionID string) (string, error) {
	dir := filepath.Join(s.evidenceDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session directory: %w", err)
	}
	return dir, nil
}

// Append durably persists a new evidence record. The record is recoverable
// after process restart once Append returns nil.
func (s *Store) Append(ctx context.Context, record *Record) error {
	if record == nil {
		return errors.New("record is nil")
	}
	if strings.TrimSpace(record.ID) == "" {
		return errors.New("record id must be set")
	}
	if strings.TrimSpace(record.SessionID) == "" {
		return errors.New("record session id must be set")
	}
	if record.UploadStatus == "" {
		record.UploadStatus = StatusPending
	}
	if record.Priority == "" {
		record.Priority = PriorityNormal
	}
	if record.CapturedAt.IsZero() {
		record.CapturedAt = time.Now().UTC()
	}

	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	var metadataJSON any
	if len(record.Metadata) > 0 {
		encoded, err := json.Marshal(record.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadataJSON = string(encoded)
	}

	err := s.execWithRetry(ctx,
		`INSERT INTO evidence_records (
            id, session_id, type, priority, captured_at, payload_path,
            metadata_json, upload_status, upload_attempts, remote_uri,
            uploaded_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.SessionID,
		record.Type,
		record.Priority,
		record.CapturedAt.UTC().Format(time.RFC3339Nano),
		nullableString(record.PayloadPath),
		metadataJSON,
		record.UploadStatus,
		record.UploadAttempts,
		nullableString(record.RemoteURI),
		nullableTime(record.UploadedAt),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append evidence: %w", err)
	}
	return nil
}

// GetByID fetches an evidence record by identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM evidence_records WHERE id = ?`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get evidence record: %w", err)
	}
	return record, nil
}

// ListBySession returns all records for a session ordered by capture time.
func (s *Store) ListBySession(ctx context.Context, sessionID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM evidence_records WHERE session_id = ? ORDER BY captured_at`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list session evidence: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListPending returns records awaiting upload, critical priority first, then
// oldest capture first.
func (s *Store) ListPending(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM evidence_records
         WHERE upload_status = ?
         ORDER BY CASE priority
             WHEN 'critical' THEN 0
             WHEN 'high' THEN 1
             WHEN 'normal' THEN 2
             ELSE 3
         END, captured_at`,
		StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending evidence: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// MarkUploading claims a pending record for upload. Returns ErrStatusConflict
// when the record is no longer pending, which callers treat as "skip".
func (s *Store) MarkUploading(ctx context.Context, id string) error {
	return s.guardedTransition(ctx,
		`UPDATE evidence_records SET upload_status = ?, updated_at = ?
         WHERE id = ? AND upload_status = ?`,
		StatusUploading, timestamp(), id, StatusPending,
	)
}

// MarkCompleted finalizes a successful upload. Only an uploading record can
// complete; completed is terminal.
func (s *Store) MarkCompleted(ctx context.Context, id, remoteURI string) error {
	now := time.Now().UTC()
	return s.guardedTransition(ctx,
		`UPDATE evidence_records
         SET upload_status = ?, remote_uri = ?, uploaded_at = ?, updated_at = ?
         WHERE id = ? AND upload_status = ?`,
		StatusCompleted, remoteURI, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
		id, StatusUploading,
	)
}

// ReleaseForRetry returns an uploading record to pending and counts the
// failed attempt.
func (s *Store) ReleaseForRetry(ctx context.Context, id string) (int, error) {
	err := s.guardedTransition(ctx,
		`UPDATE evidence_records
         SET upload_status = ?, upload_attempts = upload_attempts + 1, updated_at = ?
         WHERE id = ? AND upload_status = ?`,
		StatusPending, timestamp(), id, StatusUploading,
	)
	if err != nil {
		return 0, err
	}
	var attempts int
	if err := s.db.QueryRowContext(ctx,
		`SELECT upload_attempts FROM evidence_records WHERE id = ?`, id,
	).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("read upload attempts: %w", err)
	}
	return attempts, nil
}

// MarkFailed moves an uploading record to the terminal failed state after the
// retry budget is exhausted. Failed records require a manual re-queue.
func (s *Store) MarkFailed(ctx context.Context, id string) error {
	return s.guardedTransition(ctx,
		`UPDATE evidence_records
         SET upload_status = ?, upload_attempts = upload_attempts + 1, updated_at = ?
         WHERE id = ? AND upload_status = ?`,
		StatusFailed, timestamp(), id, StatusUploading,
	)
}

// RequeueFailed moves failed records back to pending with a fresh attempt
// budget. With no ids, all failed records are requeued.
func (s *Store) RequeueFailed(ctx context.Context, ids ...string) (int64, error) {
	if len(ids) == 0 {
		res, err := s.db.ExecContext(ctx,
			`UPDATE evidence_records
             SET upload_status = ?, upload_attempts = 0, updated_at = ?
             WHERE upload_status = ?`,
			StatusPending, timestamp(), StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("requeue failed evidence: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+3)
	args = append(args, StatusPending, timestamp(), StatusFailed)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE evidence_records
         SET upload_status = ?, upload_attempts = 0, updated_at = ?
         WHERE upload_status = ? AND id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue selected evidence: %w", err)
	}
	return res.RowsAffected()
}

// ResetStuckUploading returns uploading records to pending. Called once at
// daemon startup to recover records orphaned by a crash mid-upload.
func (s *Store) ResetStuckUploading(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE evidence_records SET upload_status = ?, updated_at = ?
         WHERE upload_status = ?`,
		StatusPending, timestamp(), StatusUploading,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck uploads: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of records grouped by upload status.
func (s *Store) Stats(ctx context.Context) (map[UploadStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT upload_status, COUNT(1) FROM evidence_records GROUP BY upload_status`)
	if err != nil {
		return nil, fmt.Errorf("evidence stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[UploadStatus]int)
	for rows.Next() {
		var status UploadStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates evidence state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusUploading:
			health.Uploading += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		}
	}
	return health, nil
}

// DeleteSession removes a session, its records, and its payload directory.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM evidence_records WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session evidence: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM safety_sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	dir := filepath.Join(s.evidenceDir, sessionID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove session directory: %w", err)
	}
	return nil
}

func (s *Store) guardedTransition(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update upload status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrStatusConflict
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		_, lastErr = s.db.ExecContext(ctx, query, args...)
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

const recordColumns = "id, session_id, type, priority, captured_at, payload_path, metadata_json, upload_status, upload_attempts, remote_uri, uploaded_at, created_at, updated_at"

func collectRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		id          string
		sessionID   string
		typeStr     string
		priority    string
		capturedRaw string
		payloadPath sql.NullString
		metadata    sql.NullString
		statusStr   string
		attempts    int
		remoteURI   sql.NullString
		uploadedRaw sql.NullString
		createdRaw  string
		updatedRaw  string
	)

	if err := scanner.Scan(
		&id,
		&sessionID,
		&typeStr,
		&priority,
		&capturedRaw,
		&payloadPath,
		&metadata,
		&statusStr,
		&attempts,
		&remoteURI,
		&uploadedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	record := &Record{
		ID:             id,
		SessionID:      sessionID,
		Type:           Type(typeStr),
		Priority:       Priority(priority),
		PayloadPath:    payloadPath.String,
		UploadStatus:   UploadStatus(statusStr),
		UploadAttempts: attempts,
		RemoteURI:      remoteURI.String,
	}

	if metadata.Valid && metadata.String != "" {
		decoded := make(map[string]string)
		if err := json.Unmarshal([]byte(metadata.String), &decoded); err == nil {
			record.Metadata = decoded
		}
	}

	if captured, err := parseTimeString(capturedRaw); err == nil {
		record.CapturedAt = captured
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		record.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		record.UpdatedAt = updated
	}
	if uploadedRaw.Valid {
		if uploaded, err := parseTimeString(uploadedRaw.String); err == nil {
			record.UploadedAt = &uploaded
		}
	}
	return record, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
