package services

import "context"

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	loopKey      contextKey = "loop"
)

// WithSessionID annotates context with the safety session identifier.
func WithSessionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the safety session identifier if present.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(sessionIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithLoop annotates context with the capture loop name.
func WithLoop(ctx context.Context, loop string) context.Context {
	if loop == "" {
		return ctx
	}
	return context.WithValue(ctx, loopKey, loop)
}

// LoopFromContext returns the capture loop name if present.
func LoopFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(loopKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
