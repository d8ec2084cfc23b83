package exchange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// Log is the append-only newline-delimited JSON exchange log file (§4.F).
// A write is flushed to disk before Append returns. On Open, a partial
// trailing line left by a crash mid-write is truncated away.
type Log struct {
	mu   sync.Mutex
	file *os.File
}

// OpenLog opens (creating if necessary) the exchange log at path, repairing
// a partial trailing line first.
func OpenLog(path string) (*Log, error) {
	if err := truncatePartialLine(path); err != nil {
		return nil, fmt.Errorf("repair exchange log: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open exchange log: %w", err)
	}
	return &Log{file: f}, nil
}

// truncatePartialLine drops any bytes after the last newline in the file,
// handling the case where the process crashed mid-write on the previous
// run. A missing file is not an error.
func truncatePartialLine(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}

	buf := make([]byte, info.Size())
	if _, err := f.ReadAt(buf, 0); err != nil {
		return err
	}
	if buf[len(buf)-1] == '\n' {
		return nil
	}

	lastNewline := bytes.LastIndexByte(buf, '\n')
	return f.Truncate(int64(lastNewline + 1))
}

// Append writes one line and flushes it to disk before returning. Per §7's
// LogWrite error class, a write failure here must not fail the calling
// scan: callers log the error and keep going rather than propagating it
// into the scan loop.
func (l *Log) Append(line LogLine) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	encoded, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshal exchange log line: %w", err)
	}
	encoded = append(encoded, '\n')

	if _, err := l.file.Write(encoded); err != nil {
		return fmt.Errorf("write exchange log line: %w", err)
	}
	return l.file.Sync()
}

// AppendBestEffort calls Append and logs (but does not return) any error,
// matching §7's "don't lose detections to disk errors" design choice.
func (l *Log) AppendBestEffort(line LogLine) {
	if err := l.Append(line); err != nil {
		log.Error().Err(err).
			Uint32("kingdom", line.Kingdom).
			Int("x", line.X).
			Int("y", line.Y).
			Msg("failed to append exchange log line")
	}
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
