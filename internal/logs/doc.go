// Package logs provides bounded-memory log file tailing for the CLI.
//
// It supports negative offsets for "last N lines" reads and a polling follow
// mode for `sentinel logs --follow`. Callers supply context deadlines so
// follow mode shuts down cleanly when the CLI exits.
package logs
