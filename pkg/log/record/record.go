// Package record defines the serialized form of write-ahead log records.
package record

import (
	"encoding/binary"
	"fmt"

	"heapstore/pkg/primitives"
)

// LogRecordType discriminates record payloads in the log.
type LogRecordType uint8

const (
	// PruneType records one page-prune operation.
	PruneType LogRecordType = iota + 1
)

const (
	// SizePrefix is the length prefix preceding every record; it includes
	// the prefix itself, for efficient log scanning.
	SizePrefix = 4

	// recordHeaderSize covers the size prefix, type byte, and page identity.
	recordHeaderSize = SizePrefix + 1 + 8 + 8

	prunePayloadFixed = 8 + 2 + 2 // latestRemovedXid + two counts
)

// PruneRecord is the redo record of one page prune. It carries the slot
// edits by index only, never row payload bytes: replay re-applies the same
// rewrites against the stored page image without re-deriving liveness.
type PruneRecord struct {
	LSN  primitives.LSN // set when read back from the log
	Page primitives.PageID

	// LatestRemovedXid is the newest committed deleter among the versions
	// this prune eliminated; a standby uses it to resolve recovery
	// conflicts before replaying.
	LatestRemovedXid primitives.TxID

	Redirected []primitives.SlotID // flat from,to pairs
	Tombstoned []primitives.SlotID
	Freed      []primitives.SlotID
}

// Serialize converts the record into its binary representation.
//
// Layout (big-endian):
//
//	[Size:4][Type:1][Table:8][PageNo:8]
//	[LatestRemovedXid:8][NRedirected:2][NTombstoned:2]
//	[Redirected pairs: 2 bytes each][Tombstoned: 2 bytes each][Freed: 2 bytes each]
//
// The freed count is implicit: it is whatever remains of the record after
// the two counted sections.
func (r *PruneRecord) Serialize() ([]byte, error) {
	if len(r.Redirected)%2 != 0 {
		return nil, fmt.Errorf("redirected list has odd length %d", len(r.Redirected))
	}
	nredirected := len(r.Redirected) / 2
	if nredirected > 0xFFFF || len(r.Tombstoned) > 0xFFFF || len(r.Freed) > 0xFFFF {
		return nil, fmt.Errorf("prune record edit counts exceed encoding range")
	}

	size := recordHeaderSize + prunePayloadFixed +
		2*(len(r.Redirected)+len(r.Tombstoned)+len(r.Freed))
	out := make([]byte, size)

	binary.BigEndian.PutUint32(out[0:], uint32(size))
	out[4] = byte(PruneType)
	binary.BigEndian.PutUint64(out[5:], uint64(r.Page.Table))
	binary.BigEndian.PutUint64(out[13:], uint64(r.Page.Page))

	binary.BigEndian.PutUint64(out[recordHeaderSize:], uint64(r.LatestRemovedXid))
	binary.BigEndian.PutUint16(out[recordHeaderSize+8:], uint16(nredirected))
	binary.BigEndian.PutUint16(out[recordHeaderSize+10:], uint16(len(r.Tombstoned)))

	off := recordHeaderSize + prunePayloadFixed
	for _, sn := range r.Redirected {
		binary.BigEndian.PutUint16(out[off:], uint16(sn))
		off += 2
	}
	for _, sn := range r.Tombstoned {
		binary.BigEndian.PutUint16(out[off:], uint16(sn))
		off += 2
	}
	for _, sn := range r.Freed {
		binary.BigEndian.PutUint16(out[off:], uint16(sn))
		off += 2
	}

	return out, nil
}

// DeserializePruneRecord reconstructs a PruneRecord from its binary form.
func DeserializePruneRecord(data []byte) (*PruneRecord, error) {
	if len(data) < recordHeaderSize+prunePayloadFixed {
		return nil, fmt.Errorf("prune record too short: %d bytes", len(data))
	}

	size := binary.BigEndian.Uint32(data[0:])
	if int(size) != len(data) {
		return nil, fmt.Errorf("prune record size mismatch: header %d, got %d", size, len(data))
	}
	if LogRecordType(data[4]) != PruneType {
		return nil, fmt.Errorf("unexpected record type %d", data[4])
	}

	r := &PruneRecord{
		Page: primitives.PageID{
			Table: primitives.TableID(binary.BigEndian.Uint64(data[5:])),
			Page:  primitives.PageNumber(binary.BigEndian.Uint64(data[13:])),
		},
		LatestRemovedXid: primitives.TxID(binary.BigEndian.Uint64(data[recordHeaderSize:])),
	}

	nredirected := int(binary.BigEndian.Uint16(data[recordHeaderSize+8:]))
	ntombstoned := int(binary.BigEndian.Uint16(data[recordHeaderSize+10:]))

	rest := data[recordHeaderSize+prunePayloadFixed:]
	if len(rest)%2 != 0 {
		return nil, fmt.Errorf("prune record payload has odd length %d", len(rest))
	}
	counted := 2*nredirected + ntombstoned
	nfreed := len(rest)/2 - counted
	if nfreed < 0 {
		return nil, fmt.Errorf("prune record payload too short for %d redirects and %d tombstones",
			nredirected, ntombstoned)
	}

	readSlots := func(n int) []primitives.SlotID {
		if n == 0 {
			return nil
		}
		out := make([]primitives.SlotID, n)
		for i := range out {
			out[i] = primitives.SlotID(binary.BigEndian.Uint16(rest[i*2:]))
		}
		rest = rest[n*2:]
		return out
	}

	r.Redirected = readSlots(2 * nredirected)
	r.Tombstoned = readSlots(ntombstoned)
	r.Freed = readSlots(nfreed)

	return r, nil
}
