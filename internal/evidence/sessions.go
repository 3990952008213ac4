package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CreateSession persists a new active safety session.
func (s *Store) CreateSession(ctx context.Context, session *Session) error {
	if session == nil {
		return errors.New("session is nil")
	}
	if session.ID == "" {
		return errors.New("session id must be set")
	}
	if session.Status == "" {
		session.Status = SessionActive
	}
	if session.TriggerMethod == "" {
		session.TriggerMethod = TriggerManual
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}

	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now

	err := s.execWithRetry(ctx,
		`INSERT INTO safety_sessions (
            id, user_id, status, trigger_method, started_at, ended_at,
            emergency_contacted, evidence_total, counts_json, archive_path,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.UserID,
		session.Status,
		session.TriggerMethod,
		session.StartedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(session.EndedAt),
		boolToInt(session.EmergencyContacted),
		session.EvidenceTotal,
		nil,
		nullableString(session.ArchivePath),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession fetches a safety session by identifier.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM safety_sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// ListSessions returns sessions ordered by start time, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM safety_sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// SetSessionStatus updates a session's status while it remains open.
// EndedAt is untouched; FinalizeSession is the only writer of end time.
func (s *Store) SetSessionStatus(ctx context.Context, id string, status SessionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE safety_sessions SET status = ?, updated_at = ? WHERE id = ?`,
		status, timestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("set session status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

// SetEmergencyContacted flags a session once emergency contacts were notified.
func (s *Store) SetEmergencyContacted(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE safety_sessions SET emergency_contacted = 1, updated_at = ? WHERE id = ?`,
		timestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("set emergency contacted: %w", err)
	}
	return nil
}

// FinalizeSession closes a session: folds evidence counts from the store,
// sets end time exactly once, persists a summary file next to the payloads,
// and returns the closed session. The summary is a pure fold over the
// session's records, so it can be recomputed after a crash.
func (s *Store) FinalizeSession(ctx context.Context, id string, status SessionStatus) (*Session, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("session %s not found", id)
	}

	records, err := s.ListBySession(ctx, id)
	if err != nil {
		return nil, err
	}

	counts := make(map[Type]int, len(allTypes))
	var first, last time.Time
	for _, record := range records {
		counts[record.Type]++
		if first.IsZero() || record.CapturedAt.Before(first) {
			first = record.CapturedAt
		}
		if record.CapturedAt.After(last) {
			last = record.CapturedAt
		}
	}

	now := time.Now().UTC()
	ended := now
	if !last.IsZero() && last.After(ended) {
		ended = last
	}
	if session.EndedAt == nil {
		session.EndedAt = &ended
	}
	session.Status = status
	session.EvidenceTotal = len(records)
	session.EvidenceCounts = counts
	session.UpdatedAt = now

	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return nil, fmt.Errorf("marshal counts: %w", err)
	}

	err = s.execWithRetry(ctx,
		`UPDATE safety_sessions
         SET status = ?, ended_at = COALESCE(ended_at, ?), evidence_total = ?,
             counts_json = ?, updated_at = ?
         WHERE id = ?`,
		session.Status,
		session.EndedAt.UTC().Format(time.RFC3339Nano),
		session.EvidenceTotal,
		string(countsJSON),
		now.Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("finalize session: %w", err)
	}

	if err := s.writeSummaryFile(session); err != nil {
		// Summary file is a convenience copy; the database row is canonical.
		return session, nil
	}
	return session, nil
}

// SessionLastActivity returns the most recent update across a session and
// its records, used to decide compression eligibility.
func (s *Store) SessionLastActivity(ctx context.Context, id string) (time.Time, error) {
	var sessionRaw string
	if err := s.db.QueryRowContext(ctx,
		`SELECT updated_at FROM safety_sessions WHERE id = ?`, id,
	).Scan(&sessionRaw); err != nil {
		return time.Time{}, fmt.Errorf("session last activity: %w", err)
	}
	last, err := parseTimeString(sessionRaw)
	if err != nil {
		return time.Time{}, err
	}

	var recordRaw sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(updated_at) FROM evidence_records WHERE session_id = ?`, id,
	).Scan(&recordRaw); err != nil {
		return time.Time{}, fmt.Errorf("evidence last activity: %w", err)
	}
	if recordRaw.Valid {
		if recordLast, err := parseTimeString(recordRaw.String); err == nil && recordLast.After(last) {
			last = recordLast
		}
	}
	return last, nil
}

type sessionSummary struct {
	ID                 string         `json:"id"`
	UserID             string         `json:"user_id"`
	Status             SessionStatus  `json:"status"`
	TriggerMethod      TriggerMethod  `json:"trigger_method"`
	StartedAt          time.Time      `json:"started_at"`
	EndedAt            *time.Time     `json:"ended_at,omitempty"`
	EmergencyContacted bool           `json:"emergency_contacted"`
	EvidenceTotal      int            `json:"evidence_total"`
	EvidenceCounts     map[Type]int   `json:"evidence_counts"`
}

func (s *Store) writeSummaryFile(session *Session) error {
	dir, err := s.SessionDir(session.ID)
	if err != nil {
		return err
	}
	summary := sessionSummary{
		ID:                 session.ID,
		UserID:             session.UserID,
		Status:             session.Status,
		TriggerMethod:      session.TriggerMethod,
		StartedAt:          session.StartedAt,
		EndedAt:            session.EndedAt,
		EmergencyContacted: session.EmergencyContacted,
		EvidenceTotal:      session.EvidenceTotal,
		EvidenceCounts:     session.EvidenceCounts,
	}
	encoded, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	target := filepath.Join(dir, "summary.json")
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

const sessionColumns = "id, user_id, status, trigger_method, started_at, ended_at, emergency_contacted, evidence_total, counts_json, archive_path, created_at, updated_at"

func scanSession(scanner interface{ Scan(dest ...any) error }) (*Session, error) {
	var (
		id            string
		userID        string
		statusStr     string
		trigger       string
		startedRaw    string
		endedRaw      sql.NullString
		emergency     int
		evidenceTotal int
		countsRaw     sql.NullString
		archivePath   sql.NullString
		createdRaw    string
		updatedRaw    string
	)

	if err := scanner.Scan(
		&id,
		&userID,
		&statusStr,
		&trigger,
		&startedRaw,
		&endedRaw,
		&emergency,
		&evidenceTotal,
		&countsRaw,
		&archivePath,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	session := &Session{
		ID:                 id,
		UserID:             userID,
		Status:             SessionStatus(statusStr),
		TriggerMethod:      TriggerMethod(trigger),
		EmergencyContacted: emergency != 0,
		EvidenceTotal:      evidenceTotal,
		ArchivePath:        archivePath.String,
	}

	if countsRaw.Valid && countsRaw.String != "" {
		counts := make(map[Type]int)
		if err := json.Unmarshal([]byte(countsRaw.String), &counts); err == nil {
			session.EvidenceCounts = counts
		}
	}

	if started, err := parseTimeString(startedRaw); err == nil {
		session.StartedAt = started
	}
	if endedRaw.Valid {
		if ended, err := parseTimeString(endedRaw.String); err == nil {
			session.EndedAt = &ended
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		session.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		session.UpdatedAt = updated
	}
	return session, nil
}
