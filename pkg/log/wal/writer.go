package wal

import (
	"io"

	"heapstore/pkg/primitives"
)

// LogWriter buffers record appends and tracks the current and flushed log
// positions. LSNs are byte offsets into the log file.
type LogWriter struct {
	writer       io.WriterAt
	currentLSN   primitives.LSN
	flushedLSN   primitives.LSN
	buffer       []byte
	bufferOffset int
	bufferSize   int
}

// NewLogWriter creates a LogWriter over the given file with the given
// buffer size, positioned at the current end of the log.
func NewLogWriter(writer io.WriterAt, bufferSize int, current, flushed primitives.LSN) *LogWriter {
	return &LogWriter{
		writer:     writer,
		bufferSize: bufferSize,
		buffer:     make([]byte, bufferSize),
		currentLSN: current,
		flushedLSN: flushed,
	}
}

// Write appends a serialized record and returns the LSN assigned to it.
// Records larger than the buffer bypass it after a flush.
func (w *LogWriter) Write(data []byte) (primitives.LSN, error) {
	assignedLSN := w.currentLSN

	if len(data) > w.bufferSize {
		if err := w.flush(); err != nil {
			return 0, err
		}

		if _, err := w.writer.WriteAt(data, int64(w.flushedLSN)); err != nil {
			return 0, err
		}

		written := primitives.LSN(len(data))
		w.flushedLSN += written
		w.currentLSN += written
		return assignedLSN, nil
	}

	if w.bufferOffset+len(data) > w.bufferSize {
		if err := w.flush(); err != nil {
			return 0, err
		}
	}
	copy(w.buffer[w.bufferOffset:], data)
	w.bufferOffset += len(data)
	w.currentLSN += primitives.LSN(len(data))

	return assignedLSN, nil
}

// Force ensures everything up to the given LSN has reached the file.
func (w *LogWriter) Force(lsn primitives.LSN) error {
	if w.flushedLSN >= lsn {
		return nil
	}
	return w.flush()
}

func (w *LogWriter) flush() error {
	if w.bufferOffset == 0 {
		return nil
	}

	if _, err := w.writer.WriteAt(w.buffer[:w.bufferOffset], int64(w.flushedLSN)); err != nil {
		return err
	}

	w.flushedLSN = w.currentLSN
	w.bufferOffset = 0
	return nil
}

// CurrentLSN returns the position the next record will be assigned.
func (w *LogWriter) CurrentLSN() primitives.LSN {
	return w.currentLSN
}

// Close flushes any buffered records.
func (w *LogWriter) Close() error {
	return w.flush()
}
