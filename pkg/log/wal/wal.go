// Package wal implements the append-only write-ahead log that makes page
// pruning durable. Each applied prune emits exactly one redo record; replay
// re-applies the recorded slot edits against the stored page images.
package wal

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"heapstore/pkg/log/record"
	"heapstore/pkg/primitives"
)

// walMagic identifies a heapstore log file.
const walMagic = "HSWAL001"

// headerSize covers the magic plus the store identity.
const headerSize = len(walMagic) + 16

// DefaultBufferSize is the default append buffer size in bytes.
const DefaultBufferSize = 64 * 1024

// WAL manages the write-ahead log file. The file begins with a header
// carrying a store UUID so a log can never be replayed against a different
// store's pages.
type WAL struct {
	file    *os.File
	path    string
	writer  *LogWriter
	storeID uuid.UUID
	logger  *slog.Logger
	mutex   sync.Mutex
}

// NewWAL opens or creates the log at logPath. A fresh log is stamped with a
// newly generated store identity; an existing one has its header validated.
// logger may be nil to use the default.
func NewWAL(logPath string, bufferSize int, logger *slog.Logger) (*WAL, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_RDWR|os.O_SYNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	pos, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to seek to end of WAL: %w", err)
	}

	w := &WAL{file: file, path: logPath, logger: logger}

	if pos == 0 {
		w.storeID = uuid.New()
		hdr := make([]byte, headerSize)
		copy(hdr, walMagic)
		copy(hdr[len(walMagic):], w.storeID[:])
		if _, err := file.WriteAt(hdr, 0); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write WAL header: %w", err)
		}
		pos = int64(headerSize)
	} else {
		if w.storeID, err = readHeader(file); err != nil {
			file.Close()
			return nil, err
		}
	}

	w.writer = NewLogWriter(file, bufferSize, primitives.LSN(pos), primitives.LSN(pos))

	logger.Info("write-ahead log opened",
		"path", logPath,
		"store_id", w.storeID.String(),
		"lsn", uint64(pos))
	return w, nil
}

// StoreID returns the identity of the store this log belongs to.
func (w *WAL) StoreID() uuid.UUID {
	return w.storeID
}

// LogPath returns the path of the underlying log file.
func (w *WAL) LogPath() string {
	return w.path
}

// LogPrune appends one prune redo record and returns the LSN to stamp on
// the pruned page. The record is not forced to disk: the page cannot be
// written out before the log is, and that ordering is the caller's rule.
func (w *WAL) LogPrune(rec *record.PruneRecord) (primitives.LSN, error) {
	data, err := rec.Serialize()
	if err != nil {
		return 0, err
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.writer.Write(data)
}

// Force ensures all records up to the given LSN are on disk.
func (w *WAL) Force(lsn primitives.LSN) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.writer.Force(lsn)
}

// CurrentLSN returns the position the next record will be assigned.
func (w *WAL) CurrentLSN() primitives.LSN {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.writer.CurrentLSN()
}

// Close flushes buffered records and closes the log file.
func (w *WAL) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if err := w.writer.Close(); err != nil {
		return fmt.Errorf("failed to close WAL writer: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close WAL file: %w", err)
	}

	w.logger.Info("write-ahead log closed", "store_id", w.storeID.String())
	return nil
}

func readHeader(file *os.File) (uuid.UUID, error) {
	hdr := make([]byte, headerSize)
	if _, err := file.ReadAt(hdr, 0); err != nil {
		return uuid.Nil, fmt.Errorf("failed to read WAL header: %w", err)
	}
	if string(hdr[:len(walMagic)]) != walMagic {
		return uuid.Nil, fmt.Errorf("not a heapstore WAL file: bad magic %q", hdr[:len(walMagic)])
	}

	id, err := uuid.FromBytes(hdr[len(walMagic):])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid store id in WAL header: %w", err)
	}
	return id, nil
}
