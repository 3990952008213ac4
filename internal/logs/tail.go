package logs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// tailChunkSize is the step used when walking a log file backwards to find
// the start of the last N lines.
const tailChunkSize = 32 * 1024

// maxLineBytes bounds a single log line; the daemon's console handler emits
// one event per line well under this.
const maxLineBytes = 256 * 1024

// pollInterval paces follow mode between reads of the daemon log.
const pollInterval = 200 * time.Millisecond

// TailOptions selects which part of the log file to read. A negative Offset
// means "the last Limit lines"; a non-negative Offset reads forward from
// that byte position.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
}

// TailResult carries the lines read and the byte offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads from the daemon log at path. A missing file is not an error;
// it yields no lines and offset zero so follow mode can pick the file up
// once the daemon creates it.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	result := TailResult{Offset: opts.Offset}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.Offset = 0
			return result, nil
		}
		return result, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return result, fmt.Errorf("log path %q is a directory", path)
	}

	wait := opts.Wait
	if wait < 0 {
		wait = 0
	}

	offset := opts.Offset
	if offset < 0 {
		offset, err = tailStart(path, info.Size(), opts.Limit)
		if err != nil {
			return result, err
		}
	} else if offset > info.Size() {
		offset = info.Size()
	}

	result.Lines, result.Offset, err = readForward(path, offset)
	if err != nil {
		return result, err
	}

	if opts.Follow && wait > 0 && len(result.Lines) == 0 {
		return awaitLines(ctx, path, result.Offset, wait)
	}
	return result, nil
}

// tailStart walks backwards from the end of the file in fixed chunks until
// it has seen limit line breaks, and returns the byte offset of the first
// of those lines.
func tailStart(path string, size int64, limit int) (int64, error) {
	if limit <= 0 {
		return size, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	// Ignore a trailing newline so it does not count as an empty final line.
	end := size
	if end > 0 {
		last := make([]byte, 1)
		if _, err := file.ReadAt(last, end-1); err == nil && last[0] == '\n' {
			end--
		}
	}

	newlines := 0
	chunk := make([]byte, tailChunkSize)
	pos := end
	for pos > 0 {
		readFrom := pos - tailChunkSize
		if readFrom < 0 {
			readFrom = 0
		}
		n, err := file.ReadAt(chunk[:pos-readFrom], readFrom)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("read log file: %w", err)
		}
		for i := n - 1; i >= 0; i-- {
			if chunk[i] != '\n' {
				continue
			}
			newlines++
			if newlines == limit {
				return readFrom + int64(i) + 1, nil
			}
		}
		pos = readFrom
	}
	return 0, nil
}

// readForward reads whole lines from offset to the current end of file and
// returns the offset just past the last complete line.
func readForward(path string, offset int64) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}

	var lines []string
	consumed := offset
	reader := bufio.NewReaderSize(file, tailChunkSize)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				// A partial final line is left unread; the writer is still
				// appending it.
				break
			}
			return nil, 0, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(line))
		if len(line) > maxLineBytes {
			line = line[:maxLineBytes]
		}
		lines = append(lines, string(bytes.TrimRight(line, "\n")))
	}
	return lines, consumed, nil
}

// awaitLines polls the file until new complete lines appear, the wait
// expires, or ctx is cancelled.
func awaitLines(ctx context.Context, path string, offset int64, wait time.Duration) (TailResult, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	result := TailResult{Offset: offset}
	for {
		lines, newOffset, err := readForward(path, offset)
		if err != nil {
			return result, err
		}
		if len(lines) > 0 {
			result.Lines = lines
			result.Offset = newOffset
			return result, nil
		}
		result.Offset = newOffset

		if time.Now().After(deadline) {
			return result, nil
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
	}
}
