package ipc

import "time"

// SessionSummary is the wire form of a stored session.
type SessionSummary struct {
	ID                 string         `json:"id"`
	UserID             string         `json:"user_id"`
	Status             string         `json:"status"`
	TriggerMethod      string         `json:"trigger_method"`
	StartedAt          time.Time      `json:"started_at"`
	EndedAt            *time.Time     `json:"ended_at,omitempty"`
	EmergencyContacted bool           `json:"emergency_contacted"`
	EvidenceTotal      int            `json:"evidence_total"`
	EvidenceCounts     map[string]int `json:"evidence_counts,omitempty"`
	ArchivePath        string         `json:"archive_path,omitempty"`
}

// EvidenceRecord is the wire form of a stored evidence record.
type EvidenceRecord struct {
	ID             string            `json:"id"`
	SessionID      string            `json:"session_id"`
	Type           string            `json:"type"`
	Priority       string            `json:"priority"`
	CapturedAt     time.Time         `json:"captured_at"`
	PayloadPath    string            `json:"payload_path,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	UploadStatus   string            `json:"upload_status"`
	UploadAttempts int               `json:"upload_attempts"`
	RemoteURI      string            `json:"remote_uri,omitempty"`
}

// SessionStartRequest begins a monitoring session.
type SessionStartRequest struct {
	UserID  string `json:"user_id"`
	Trigger string `json:"trigger"`
}

// SessionStartResponse reports the created session.
type SessionStartResponse struct {
	Started bool           `json:"started"`
	Session SessionSummary `json:"session"`
	Message string         `json:"message"`
}

// SessionStopRequest ends the active session.
type SessionStopRequest struct{}

// SessionStopResponse carries the finalized summary when a session was
// running.
type SessionStopResponse struct {
	Stopped bool            `json:"stopped"`
	Summary *SessionSummary `json:"summary,omitempty"`
}

// EscalateRequest raises the active session to emergency.
type EscalateRequest struct {
	Reason string `json:"reason"`
}

// EscalateResponse reports escalation outcome.
type EscalateResponse struct {
	Escalated bool   `json:"escalated"`
	Message   string `json:"message"`
}

// NoteRequest records a user observation on the active session.
type NoteRequest struct {
	Text string `json:"text"`
}

// NoteResponse reports the stored record.
type NoteResponse struct {
	RecordID string `json:"record_id"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon/session status information.
type StatusResponse struct {
	Running        bool           `json:"running"`
	State          string         `json:"state"`
	SessionID      string         `json:"session_id,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	Emergency      bool           `json:"emergency"`
	QueueStats     map[string]int `json:"queue_stats"`
	StorageFree    uint64         `json:"storage_free_bytes"`
	StorageLow     bool           `json:"storage_low"`
	UploadEnabled  bool           `json:"upload_enabled"`
	EvidenceDBPath string         `json:"evidence_db_path"`
	LockPath       string         `json:"lock_path"`
	PID            int            `json:"pid"`
}

// SessionListRequest lists stored sessions.
type SessionListRequest struct{}

// SessionListResponse contains stored sessions, newest first.
type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// EvidenceListRequest lists evidence for one session.
type EvidenceListRequest struct {
	SessionID string `json:"session_id"`
}

// EvidenceListResponse contains a session's evidence records.
type EvidenceListResponse struct {
	Records []EvidenceRecord `json:"records"`
}

// EvidenceRetryRequest requeues failed records. Empty list means all failed
// records.
type EvidenceRetryRequest struct {
	IDs []string `json:"ids"`
}

// EvidenceRetryResponse reports number of requeued records.
type EvidenceRetryResponse struct {
	Updated int64 `json:"updated"`
}

// CompressRequest archives settled sessions.
type CompressRequest struct{}

// CompressResponse reports archive results.
type CompressResponse struct {
	Compressed []string `json:"compressed"`
	Skipped    int      `json:"skipped"`
	Reclaimed  int64    `json:"reclaimed_bytes"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
