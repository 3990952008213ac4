package evidence

import (
	"strings"
	"time"
)

// Type identifies the modality of an evidence record.
type Type string

const (
	TypeLocation      Type = "location"
	TypePhoto         Type = "photo"
	TypeAudio         Type = "audio"
	TypeTranscription Type = "transcription"
	TypeSensor        Type = "sensor"
	TypeSystemLog     Type = "system_log"
	TypeUserInput     Type = "user_input"
)

var allTypes = []Type{
	TypeLocation,
	TypePhoto,
	TypeAudio,
	TypeTranscription,
	TypeSensor,
	TypeSystemLog,
	TypeUserInput,
}

// Priority ranks evidence for upload and review.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// UploadStatus represents the remote transfer lifecycle of a record.
// Transitions only move forward: pending -> uploading -> completed, or
// uploading back to pending on a retryable failure, or uploading -> failed
// once the retry budget is exhausted. Completed and failed are terminal.
type UploadStatus string

const (
	StatusPending   UploadStatus = "pending"
	StatusUploading UploadStatus = "uploading"
	StatusCompleted UploadStatus = "completed"
	StatusFailed    UploadStatus = "failed"
)

var allStatuses = []UploadStatus{StatusPending, StatusUploading, StatusCompleted, StatusFailed}

// Record is one timestamped observation tied to a safety session.
type Record struct {
	ID             string
	SessionID      string
	Type           Type
	Priority       Priority
	CapturedAt     time.Time
	PayloadPath    string
	Metadata       map[string]string
	UploadStatus   UploadStatus
	UploadAttempts int
	RemoteURI      string
	UploadedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SessionStatus is the terminal disposition of a safety session.
type SessionStatus string

const (
	SessionActive      SessionStatus = "active"
	SessionCompleted   SessionStatus = "completed"
	SessionInterrupted SessionStatus = "interrupted"
	SessionError       SessionStatus = "error"
)

// TriggerMethod records how monitoring was armed.
type TriggerMethod string

const (
	TriggerManual    TriggerMethod = "manual"
	TriggerGesture   TriggerMethod = "gesture"
	TriggerVoice     TriggerMethod = "voice"
	TriggerAutomatic TriggerMethod = "automatic"
)

// Session is the durable summary of one arming-to-disarming window.
type Session struct {
	ID                 string
	UserID             string
	Status             SessionStatus
	TriggerMethod      TriggerMethod
	StartedAt          time.Time
	EndedAt            *time.Time
	EmergencyContacted bool
	EvidenceTotal      int
	EvidenceCounts     map[Type]int
	ArchivePath        string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Active reports whether the session is still collecting evidence.
func (s Session) Active() bool {
	return s.Status == SessionActive
}

// Terminal reports whether the upload status can no longer change.
func (u UploadStatus) Terminal() bool {
	return u == StatusCompleted || u == StatusFailed
}

// AllTypes returns the ordered list of known evidence types.
func AllTypes() []Type {
	cp := make([]Type, len(allTypes))
	copy(cp, allTypes)
	return cp
}

// AllStatuses returns the ordered list of known upload statuses.
func AllStatuses() []UploadStatus {
	cp := make([]UploadStatus, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known UploadStatus.
func ParseStatus(value string) (UploadStatus, bool) {
	normalized := UploadStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	for _, status := range allStatuses {
		if status == normalized {
			return normalized, true
		}
	}
	return "", false
}

// ParseType converts a string into a known evidence Type.
func ParseType(value string) (Type, bool) {
	normalized := Type(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	for _, t := range allTypes {
		if t == normalized {
			return normalized, true
		}
	}
	return "", false
}

// HealthSummary describes aggregated evidence counts per upload state.
type HealthSummary struct {
	Total     int
	Pending   int
	Uploading int
	Completed int
	Failed    int
}
