package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransient marks failures worth retrying (network, busy device).
	ErrTransient = errors.New("transient failure")
	// ErrTimeout marks deadline expirations; retried under the same budget as ErrTransient.
	ErrTimeout = errors.New("timeout")
	// ErrNotAuthenticated marks a missing identity; unrecoverable without user action.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrInvalidToken marks an expired or malformed credential token; retryable after refresh.
	ErrInvalidToken = errors.New("invalid token")
	// ErrValidation marks rejected input or state.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks missing or inconsistent configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrCaptureDevice marks an unavailable sensor or capture device.
	ErrCaptureDevice = errors.New("capture device error")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether the error is worth another attempt within a
// bounded retry budget.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrInvalidToken)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
