package logging

import (
	"context"
	"log/slog"

	"sentinel/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldSessionID is the standardized structured logging key for safety session identifiers.
	FieldSessionID = "session_id"
	// FieldEvidenceID is the standardized structured logging key for evidence record identifiers.
	FieldEvidenceID = "evidence_id"
	// FieldEvidenceType is the standardized structured logging key for evidence modality names.
	FieldEvidenceType = "evidence_type"
	// FieldLoop is the standardized structured logging key for capture loop names.
	FieldLoop = "loop"
	// FieldEventType tags log records with a machine-readable event name.
	FieldEventType = "event_type"
	// FieldErrorHint carries the suggested operator action for warnings and errors.
	FieldErrorHint = "error_hint"
	// FieldAttempt is the standardized structured logging key for retry attempt numbers.
	FieldAttempt = "attempt"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := services.SessionIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldSessionID, id))
	}
	if loop, ok := services.LoopFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldLoop, loop))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
