package evidence

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"sentinel/internal/logging"
)

// CompressResult reports the outcome of a compression sweep.
type CompressResult struct {
	Compressed []string
	Skipped    int
	Reclaimed  int64
}

// Compress bundles cold sessions into per-session zstd tar archives and
// removes the original payload directories.
//
// A session is eligible when it is no longer active, none of its records are
// pending or uploading (evidence without a durable remote copy is never
// compressed away), and its last activity is older than olderThan. The
// archive is written to a temp file, synced, and renamed before the original
// directory is removed, so a crash leaves either the untouched directory or
// a complete archive, never a partial mix.
func (s *Store) Compress(ctx context.Context, olderThan time.Duration, logger *slog.Logger) (CompressResult, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	result := CompressResult{}

	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return result, err
	}
	cutoff := time.Now().UTC().Add(-olderThan)

	for _, session := range sessions {
		if session.Active() || session.ArchivePath != "" {
			result.Skipped++
			continue
		}

		eligible, err := s.sessionUploadSettled(ctx, session.ID)
		if err != nil {
			return result, err
		}
		if !eligible {
			result.Skipped++
			continue
		}

		lastActivity, err := s.SessionLastActivity(ctx, session.ID)
		if err != nil {
			return result, err
		}
		if lastActivity.After(cutoff) {
			result.Skipped++
			continue
		}

		reclaimed, err := s.compressSession(ctx, session.ID)
		if err != nil {
			logger.Warn("session compression failed",
				logging.String(logging.FieldSessionID, session.ID),
				logging.Error(err),
				logging.String(logging.FieldEventType, "compress_failed"),
				logging.String(logging.FieldErrorHint, "check free space and evidence directory permissions"),
			)
			continue
		}
		result.Compressed = append(result.Compressed, session.ID)
		result.Reclaimed += reclaimed
		logger.Info("session compressed",
			logging.String(logging.FieldSessionID, session.ID),
			logging.Int64("reclaimed_bytes", reclaimed),
		)
	}
	return result, nil
}

func (s *Store) sessionUploadSettled(ctx context.Context, sessionID string) (bool, error) {
	var open int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM evidence_records
         WHERE session_id = ? AND upload_status IN (?, ?)`,
		sessionID, StatusPending, StatusUploading,
	).Scan(&open)
	if err != nil {
		return false, fmt.Errorf("check session upload state: %w", err)
	}
	return open == 0, nil
}

func (s *Store) compressSession(ctx context.Context, sessionID string) (int64, error) {
	sourceDir := filepath.Join(s.evidenceDir, sessionID)
	info, err := os.Stat(sourceDir)
	if err != nil {
		if os.IsNotExist(err) {
			// Nothing on disk; record the session as archived with no payload.
			return 0, s.recordArchive(ctx, sessionID, "")
		}
		return 0, fmt.Errorf("stat session directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("session path %q is not a directory", sourceDir)
	}

	if err := os.MkdirAll(s.archiveDir, 0o755); err != nil {
		return 0, fmt.Errorf("create archive directory: %w", err)
	}

	archivePath := filepath.Join(s.archiveDir, sessionID+".tar.zst")
	tmpPath := archivePath + ".tmp"

	originalSize, err := writeSessionArchive(sourceDir, tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}
	if err := os.Rename(tmpPath, archivePath); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("publish archive: %w", err)
	}

	if err := s.recordArchive(ctx, sessionID, archivePath); err != nil {
		return 0, err
	}

	if err := os.RemoveAll(sourceDir); err != nil {
		return 0, fmt.Errorf("remove original payloads: %w", err)
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return 0, nil
	}
	reclaimed := originalSize - archiveInfo.Size()
	if reclaimed < 0 {
		reclaimed = 0
	}
	return reclaimed, nil
}

func (s *Store) recordArchive(ctx context.Context, sessionID, archivePath string) error {
	if err := s.execWithRetry(ctx,
		`UPDATE safety_sessions SET archive_path = ?, updated_at = ? WHERE id = ?`,
		nullableString(archivePath), timestamp(), sessionID,
	); err != nil {
		return fmt.Errorf("record archive path: %w", err)
	}
	return nil
}

func writeSessionArchive(sourceDir, target string) (int64, error) {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	zw, err := zstd.NewWriter(out)
	if err != nil {
		return 0, fmt.Errorf("init zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	var originalSize int64
	walkErr := filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = rel
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		written, err := io.Copy(tw, file)
		originalSize += written
		return err
	})
	if walkErr != nil {
		return 0, fmt.Errorf("archive session payloads: %w", walkErr)
	}

	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("finalize tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("finalize zstd: %w", err)
	}
	if err := out.Sync(); err != nil {
		return 0, fmt.Errorf("sync archive: %w", err)
	}
	return originalSize, out.Close()
}
