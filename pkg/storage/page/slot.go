package page

import "heapstore/pkg/primitives"

// SlotFlag is the state of a line pointer. The values match the on-disk
// 2-bit encoding and must not be reordered.
type SlotFlag uint8

const (
	// SlotUnused marks a slot that owns nothing and may be reused.
	SlotUnused SlotFlag = iota
	// SlotNormal marks a slot whose (offset, length) locate row-version bytes.
	SlotNormal
	// SlotRedirect marks a slot whose offset field holds the slot number of
	// the first surviving member of its update chain.
	SlotRedirect
	// SlotDead marks a tombstone: the row version is gone but the slot is
	// retained because an index may still reference it.
	SlotDead
)

// Slot is one line pointer in a page's slot directory. A Normal slot owns
// row-version storage located elsewhere in the same page; Redirect, Dead and
// Unused slots own no storage.
type Slot struct {
	Offset uint16 // byte offset of the row version, or redirect target slot
	Length uint16 // length of the row version in bytes (0 = no storage)
	Flag   SlotFlag
}

// IsNormal reports whether the slot points at row-version storage.
func (s Slot) IsNormal() bool { return s.Flag == SlotNormal }

// IsRedirect reports whether the slot is a chain redirect.
func (s Slot) IsRedirect() bool { return s.Flag == SlotRedirect }

// IsDead reports whether the slot is a tombstone.
func (s Slot) IsDead() bool { return s.Flag == SlotDead }

// IsUnused reports whether the slot is free.
func (s Slot) IsUnused() bool { return s.Flag == SlotUnused }

// IsUsed reports whether the slot is anything but free.
func (s Slot) IsUsed() bool { return s.Flag != SlotUnused }

// HasStorage reports whether the slot owns row-version bytes.
func (s Slot) HasStorage() bool { return s.Flag == SlotNormal && s.Length != 0 }

// RedirectTarget returns the slot number a redirect points at.
// Only meaningful when IsRedirect is true.
func (s Slot) RedirectTarget() primitives.SlotID {
	return primitives.SlotID(s.Offset)
}

// Packed slot layout, same split as the row-pointer encoding this format
// descends from: offset 15 bits, flags 2 bits, length 15 bits.
const (
	slotOffsetShift = 17
	slotFlagShift   = 15
	slotFieldMask   = 0x7FFF
	slotFlagMask    = 0x3
)

func (s Slot) pack() uint32 {
	return uint32(s.Offset&slotFieldMask)<<slotOffsetShift |
		uint32(s.Flag&slotFlagMask)<<slotFlagShift |
		uint32(s.Length&slotFieldMask)
}

func unpackSlot(v uint32) Slot {
	return Slot{
		Offset: uint16(v >> slotOffsetShift & slotFieldMask),
		Flag:   SlotFlag(v >> slotFlagShift & slotFlagMask),
		Length: uint16(v & slotFieldMask),
	}
}
