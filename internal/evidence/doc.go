// Package evidence provides durable local persistence for safety sessions
// and their evidence records, backed by SQLite.
//
// Evidence is local-first: Append commits a record durably before returning,
// so a crash after a successful append never loses it. Upload status moves
// only forward (pending -> uploading -> completed or failed); transitions are
// enforced with guarded per-record updates so concurrent capture loops and
// the upload pipeline never serialize against each other or revert a
// terminal state. Cold sessions can be compressed into a single zstd tar
// archive to reclaim storage.
package evidence
