package page

import (
	"encoding/binary"

	"heapstore/pkg/primitives"
)

// Infomask bits carried by every row version.
const (
	// RowHasNulls is set when the payload contains null attributes.
	// Pruning never inspects it; it is carried for the row codec.
	RowHasNulls uint16 = 0x0001

	// RowHotUpdated is set on a version that was updated in place on the
	// same page. Its Next field then points at the successor slot.
	RowHotUpdated uint16 = 0x4000

	// RowHeapOnly is set on a version reachable only through its update
	// chain, never directly from an index.
	RowHeapOnly uint16 = 0x8000
)

// RowHeader is the fixed-size header of one row version. Xmin is the
// inserting transaction, Xmax the deleting/updating transaction (invalid if
// the version is not deleted). Next is only meaningful when RowHotUpdated
// is set.
type RowHeader struct {
	Xmin     primitives.TxID
	Xmax     primitives.TxID
	Infomask uint16
	Next     primitives.SlotID
}

// IsHeapOnly reports whether this version is a heap-only chain member.
func (h RowHeader) IsHeapOnly() bool { return h.Infomask&RowHeapOnly != 0 }

// IsHotUpdated reports whether this version has an on-page successor.
func (h RowHeader) IsHotUpdated() bool { return h.Infomask&RowHotUpdated != 0 }

// HasNulls reports whether the payload contains nulls.
func (h RowHeader) HasNulls() bool { return h.Infomask&RowHasNulls != 0 }

// UpdateXid returns the transaction that deleted or HOT-updated this
// version, or InvalidTxID if none did.
func (h RowHeader) UpdateXid() primitives.TxID { return h.Xmax }

func (h RowHeader) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:], uint64(h.Xmin))
	binary.LittleEndian.PutUint64(buf[8:], uint64(h.Xmax))
	binary.LittleEndian.PutUint16(buf[16:], h.Infomask)
	binary.LittleEndian.PutUint16(buf[18:], uint16(h.Next))
}

func decodeRowHeader(buf []byte) RowHeader {
	return RowHeader{
		Xmin:     primitives.TxID(binary.LittleEndian.Uint64(buf[0:])),
		Xmax:     primitives.TxID(binary.LittleEndian.Uint64(buf[8:])),
		Infomask: binary.LittleEndian.Uint16(buf[16:]),
		Next:     primitives.SlotID(binary.LittleEndian.Uint16(buf[18:])),
	}
}
