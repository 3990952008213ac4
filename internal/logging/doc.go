// Package logging provides slog-based structured logging for sentinel.
//
// It standardizes field keys used across components (session_id,
// evidence_id, component, event_type) and offers typed attribute helpers
// so call sites stay terse and consistent. Loggers are constructed from
// configuration and write to stdout plus the configured log file.
package logging
