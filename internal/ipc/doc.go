// Package ipc connects the CLI to the daemon over JSON-RPC on a Unix
// domain socket. The wire types here are deliberately plain so the CLI
// never imports storage internals.
package ipc
