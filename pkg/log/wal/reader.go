package wal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"heapstore/pkg/log/record"
	"heapstore/pkg/primitives"
)

// MaxLogRecordSize bounds a single record; larger size prefixes indicate a
// torn or corrupt log.
const MaxLogRecordSize = 1 * 1024 * 1024

// LogReader provides sequential access to the records in a WAL file,
// used during recovery.
type LogReader struct {
	file    *os.File
	storeID uuid.UUID
	offset  int64
}

// NewLogReader opens the log at logPath and validates its header.
func NewLogReader(logPath string) (*LogReader, error) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	storeID, err := readHeader(file)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &LogReader{
		file:    file,
		storeID: storeID,
		offset:  int64(headerSize),
	}, nil
}

// StoreID returns the identity stamped in the log header.
func (lr *LogReader) StoreID() uuid.UUID {
	return lr.storeID
}

// ReadNext reads the next prune record. Returns io.EOF at the end of the
// log; a partially written trailing record also reads as io.EOF.
func (lr *LogReader) ReadNext() (*record.PruneRecord, error) {
	recLen, err := lr.readSizePrefix()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, recLen)
	n, err := lr.file.ReadAt(buf, lr.offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read record at offset %d: %w", lr.offset, err)
	}
	if n != int(recLen) {
		// The tail of the log was torn mid-record; recovery stops here.
		return nil, io.EOF
	}

	rec, err := record.DeserializePruneRecord(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize record at offset %d: %w", lr.offset, err)
	}

	rec.LSN = primitives.LSN(lr.offset)
	lr.offset += int64(recLen)
	return rec, nil
}

// ReadAll reads every record remaining in the log.
func (lr *LogReader) ReadAll() ([]*record.PruneRecord, error) {
	var records []*record.PruneRecord
	for {
		rec, err := lr.ReadNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Reset rewinds the reader to the first record.
func (lr *LogReader) Reset() {
	lr.offset = int64(headerSize)
}

// Close closes the underlying file.
func (lr *LogReader) Close() error {
	if lr.file != nil {
		return lr.file.Close()
	}
	return nil
}

func (lr *LogReader) readSizePrefix() (uint32, error) {
	sizeBuf := make([]byte, record.SizePrefix)
	n, err := lr.file.ReadAt(sizeBuf, lr.offset)
	if err == io.EOF && n < record.SizePrefix {
		return 0, io.EOF
	}
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("failed to read record size: %w", err)
	}

	recLen := binary.BigEndian.Uint32(sizeBuf)
	if recLen == 0 || recLen > MaxLogRecordSize {
		return 0, fmt.Errorf("invalid record size %d at offset %d", recLen, lr.offset)
	}
	return recLen, nil
}
