// Package services defines the shared error taxonomy and context helpers
// used across sentinel components. Errors produced at component boundaries
// are tagged with one of the exported sentinel markers so callers can
// classify a failure (transient, timeout, auth) without string matching.
package services
