// Package daemon coordinates the long-lived monitoring services.
//
// It enforces single-instance execution with a lock file, owns the session
// controller and upload pipeline, and runs the storage sweeper that archives
// settled sessions under disk pressure. The IPC server exposes this
// package's methods to the CLI.
package daemon
