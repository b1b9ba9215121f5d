// Package page implements the slotted page format used by the heap storage
// layer. A page is a fixed-size block holding a directory of line pointers
// (slots) that grows from the front, and row-version storage that grows
// backward from the end.
//
// Page Layout:
//   - Header: LSN, prune hint, free-space bounds, flags
//   - Slot directory: packed 4-byte line pointers, one per slot (grows forward)
//   - Free space in the middle
//   - Row-version data (grows from the end, backward)
//
// Slot numbers are 1-based and stable for the life of a row version: update
// chains and indexes address rows by slot number, so compaction moves bytes
// but never renumbers slots.
package page

import (
	"encoding/binary"
	"fmt"

	"heapstore/pkg/primitives"
)

const (
	// PageSize is the fixed size of every page in bytes.
	PageSize = 8192

	// pageHeaderSize covers LSN, prune hint, lower/upper, flags, slot count.
	pageHeaderSize = 24

	// SlotSize is the packed size of one line pointer.
	SlotSize = 4

	// RowHeaderSize is the fixed header preceding every row version's payload.
	RowHeaderSize = 20

	// MinRowSize is the smallest possible row version (empty payload).
	MinRowSize = RowHeaderSize

	// MaxSlotsPerPage bounds the slot directory: even zero-payload row
	// versions cannot exceed this count. Fixed-capacity scratch arrays in
	// the pruning code are sized to it.
	MaxSlotsPerPage = (PageSize - pageHeaderSize) / (MinRowSize + SlotSize)
)

// Page header flag bits.
const (
	// flagFull is set when an update failed to find room on this page.
	// It is a hint for the opportunistic pruning heuristic.
	flagFull uint16 = 0x0001
)

// Page is the in-memory image of one slotted page. It is not self-locking:
// the owning page cache serializes access through pins and the cleanup lock.
type Page struct {
	id        primitives.PageID
	lsn       primitives.LSN
	pruneHint primitives.TxID
	flags     uint16
	slots     []Slot // slots[i] is slot number i+1
	data      []byte // PageSize bytes; row storage occupies [upper:PageSize)
	upper     uint16 // start of used row storage
}

// NewPage creates an empty page with the given identity.
func NewPage(id primitives.PageID) *Page {
	return &Page{
		id:    id,
		data:  make([]byte, PageSize),
		upper: PageSize,
	}
}

// ParsePage deserializes a raw page image.
func ParsePage(id primitives.PageID, data []byte) (*Page, error) {
	if len(data) != PageSize {
		return nil, fmt.Errorf("invalid page data size: expected %d, got %d", PageSize, len(data))
	}

	p := &Page{
		id:   id,
		data: make([]byte, PageSize),
	}
	copy(p.data, data)

	p.lsn = primitives.LSN(binary.LittleEndian.Uint64(data[0:]))
	p.pruneHint = primitives.TxID(binary.LittleEndian.Uint64(data[8:]))
	lower := binary.LittleEndian.Uint16(data[16:])
	p.upper = binary.LittleEndian.Uint16(data[18:])
	p.flags = binary.LittleEndian.Uint16(data[20:])
	slotCount := binary.LittleEndian.Uint16(data[22:])

	if slotCount > MaxSlotsPerPage {
		return nil, fmt.Errorf("invalid page: slot count %d exceeds maximum %d", slotCount, MaxSlotsPerPage)
	}
	wantLower := uint16(pageHeaderSize + int(slotCount)*SlotSize)
	if lower != wantLower {
		return nil, fmt.Errorf("invalid page: lower %d does not match slot count %d", lower, slotCount)
	}
	if p.upper < lower || int(p.upper) > PageSize {
		return nil, fmt.Errorf("invalid page: upper %d out of range [%d, %d]", p.upper, lower, PageSize)
	}

	p.slots = make([]Slot, slotCount)
	for i := range p.slots {
		s := unpackSlot(binary.LittleEndian.Uint32(data[pageHeaderSize+i*SlotSize:]))
		if s.HasStorage() {
			if int(s.Offset) < int(lower) || int(s.Offset)+int(s.Length) > PageSize || s.Length < RowHeaderSize {
				return nil, fmt.Errorf("invalid row version at slot %d: offset %d length %d", i+1, s.Offset, s.Length)
			}
		}
		p.slots[i] = s
	}

	return p, nil
}

// Serialize produces the on-disk image of the page.
func (p *Page) Serialize() []byte {
	out := make([]byte, PageSize)
	binary.LittleEndian.PutUint64(out[0:], uint64(p.lsn))
	binary.LittleEndian.PutUint64(out[8:], uint64(p.pruneHint))
	binary.LittleEndian.PutUint16(out[16:], p.lower())
	binary.LittleEndian.PutUint16(out[18:], p.upper)
	binary.LittleEndian.PutUint16(out[20:], p.flags)
	binary.LittleEndian.PutUint16(out[22:], uint16(len(p.slots)))

	for i, s := range p.slots {
		binary.LittleEndian.PutUint32(out[pageHeaderSize+i*SlotSize:], s.pack())
	}
	copy(out[p.upper:], p.data[p.upper:])
	return out
}

// ID returns the page's identity.
func (p *Page) ID() primitives.PageID { return p.id }

// LSN returns the log sequence number of the last logged change to the page.
func (p *Page) LSN() primitives.LSN { return p.lsn }

// SetLSN stamps the page with the LSN of a just-logged change.
func (p *Page) SetLSN(lsn primitives.LSN) { p.lsn = lsn }

// PruneHint returns the page's prune hint: zero, or a lower bound on the
// oldest transaction that could make some surviving version prunable.
func (p *Page) PruneHint() primitives.TxID { return p.pruneHint }

// SetPruneHint updates the prune hint.
func (p *Page) SetPruneHint(xid primitives.TxID) { p.pruneHint = xid }

// RecordPrunable lowers the prune hint to xid if it is currently unset or
// higher. Called by writers that leave a soon-dead version behind.
func (p *Page) RecordPrunable(xid primitives.TxID) {
	if !primitives.TxIsValid(p.pruneHint) || primitives.TxPrecedes(xid, p.pruneHint) {
		p.pruneHint = xid
	}
}

// IsFull reports whether a previous update failed for lack of space.
func (p *Page) IsFull() bool { return p.flags&flagFull != 0 }

// SetFull records that an update failed for lack of space.
func (p *Page) SetFull() { p.flags |= flagFull }

// ClearFull resets the full hint after space has been reclaimed.
func (p *Page) ClearFull() { p.flags &^= flagFull }

// MaxSlot returns the highest slot number in use on the page (0 if none).
func (p *Page) MaxSlot() primitives.SlotID {
	return primitives.SlotID(len(p.slots))
}

// FreeSpace returns the contiguous free bytes between the slot directory and
// the row storage region.
func (p *Page) FreeSpace() int {
	return int(p.upper) - int(p.lower())
}

// SlotAt returns the slot with the given 1-based number.
func (p *Page) SlotAt(sn primitives.SlotID) (Slot, bool) {
	if sn < 1 || int(sn) > len(p.slots) {
		return Slot{}, false
	}
	return p.slots[sn-1], true
}

// RowHeaderAt decodes the row-version header stored at a Normal slot.
func (p *Page) RowHeaderAt(sn primitives.SlotID) (RowHeader, error) {
	s, err := p.storageSlot(sn)
	if err != nil {
		return RowHeader{}, err
	}
	return decodeRowHeader(p.data[s.Offset:]), nil
}

// SetRowHeader rewrites the header of the row version at a Normal slot.
// Used by updaters to stamp Xmax and chain a HOT successor.
func (p *Page) SetRowHeader(sn primitives.SlotID, hdr RowHeader) error {
	s, err := p.storageSlot(sn)
	if err != nil {
		return err
	}
	hdr.encode(p.data[s.Offset:])
	return nil
}

// RowPayloadAt returns the payload bytes of the row version at a Normal slot.
// The slice aliases page storage and is invalidated by any mutation.
func (p *Page) RowPayloadAt(sn primitives.SlotID) ([]byte, error) {
	s, err := p.storageSlot(sn)
	if err != nil {
		return nil, err
	}
	return p.data[int(s.Offset)+RowHeaderSize : int(s.Offset)+int(s.Length)], nil
}

// InsertRow places a new row version on the page, reusing the first unused
// slot or extending the slot directory. Returns the slot number assigned.
func (p *Page) InsertRow(hdr RowHeader, payload []byte) (primitives.SlotID, error) {
	need := RowHeaderSize + len(payload)
	if need > slotFieldMask {
		return primitives.InvalidSlotID, fmt.Errorf("row version size %d exceeds maximum %d", need, slotFieldMask)
	}

	idx := -1
	for i, s := range p.slots {
		if s.IsUnused() {
			idx = i
			break
		}
	}

	extra := 0
	if idx == -1 {
		if len(p.slots) >= MaxSlotsPerPage {
			return primitives.InvalidSlotID, fmt.Errorf("no free slot on page %v", p.id)
		}
		extra = SlotSize
	}

	if p.FreeSpace()-extra < need {
		p.SetFull()
		return primitives.InvalidSlotID, fmt.Errorf("no space left on page %v: need %d, have %d", p.id, need+extra, p.FreeSpace())
	}

	if idx == -1 {
		p.slots = append(p.slots, Slot{})
		idx = len(p.slots) - 1
	}

	off := p.upper - uint16(need)
	hdr.encode(p.data[off:])
	copy(p.data[int(off)+RowHeaderSize:], payload)
	p.upper = off

	p.slots[idx] = Slot{Offset: off, Length: uint16(need), Flag: SlotNormal}
	return primitives.SlotID(idx + 1), nil
}

// SetRedirect rewrites a slot as a redirect to the given target slot.
func (p *Page) SetRedirect(sn, target primitives.SlotID) error {
	if err := p.checkSlot(sn); err != nil {
		return err
	}
	if err := p.checkSlot(target); err != nil {
		return fmt.Errorf("redirect target: %w", err)
	}
	p.slots[sn-1] = Slot{Offset: uint16(target), Flag: SlotRedirect}
	return nil
}

// SetDead rewrites a slot as a tombstone.
func (p *Page) SetDead(sn primitives.SlotID) error {
	if err := p.checkSlot(sn); err != nil {
		return err
	}
	p.slots[sn-1] = Slot{Flag: SlotDead}
	return nil
}

// SetUnused frees a slot.
func (p *Page) SetUnused(sn primitives.SlotID) error {
	if err := p.checkSlot(sn); err != nil {
		return err
	}
	p.slots[sn-1] = Slot{Flag: SlotUnused}
	return nil
}

// Repair defragments row storage, squeezing out the space of removed
// versions. Slot numbers are stable; only storage offsets move.
// Returns the number of free bytes after compaction.
func (p *Page) Repair() int {
	compacted := make([]byte, PageSize)
	upper := uint16(PageSize)

	for i, s := range p.slots {
		if !s.HasStorage() {
			continue
		}
		upper -= s.Length
		copy(compacted[upper:], p.data[s.Offset:int(s.Offset)+int(s.Length)])
		p.slots[i].Offset = upper
	}

	copy(p.data[upper:], compacted[upper:])
	p.upper = upper
	return p.FreeSpace()
}

// VerifyRedirects checks that every redirect slot targets a Normal,
// heap-only row version. A failure means the page is corrupt.
func (p *Page) VerifyRedirects() error {
	for i, s := range p.slots {
		if !s.IsRedirect() {
			continue
		}
		sn := primitives.SlotID(i + 1)
		target := s.RedirectTarget()

		ts, ok := p.SlotAt(target)
		if !ok {
			return fmt.Errorf("page %v: redirect slot %d targets out-of-range slot %d", p.id, sn, target)
		}
		if !ts.HasStorage() {
			return fmt.Errorf("page %v: redirect slot %d targets slot %d with no storage", p.id, sn, target)
		}
		hdr := decodeRowHeader(p.data[ts.Offset:])
		if !hdr.IsHeapOnly() {
			return fmt.Errorf("page %v: redirect slot %d targets non-heap-only slot %d", p.id, sn, target)
		}
	}
	return nil
}

func (p *Page) lower() uint16 {
	return uint16(pageHeaderSize + len(p.slots)*SlotSize)
}

func (p *Page) checkSlot(sn primitives.SlotID) error {
	if sn < 1 || int(sn) > len(p.slots) {
		return fmt.Errorf("slot %d out of range on page %v (max %d)", sn, p.id, len(p.slots))
	}
	return nil
}

func (p *Page) storageSlot(sn primitives.SlotID) (Slot, error) {
	if err := p.checkSlot(sn); err != nil {
		return Slot{}, err
	}
	s := p.slots[sn-1]
	if !s.HasStorage() {
		return Slot{}, fmt.Errorf("slot %d on page %v has no row storage", sn, p.id)
	}
	return s, nil
}
