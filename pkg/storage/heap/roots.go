package heap

import (
	"heapstore/pkg/primitives"
	"heapstore/pkg/storage/page"
)

// RootSlots maps every slot on the page to the root of the update chain it
// belongs to. The result is indexed by slot number (entry 0 unused); an
// entry of InvalidSlotID means the slot is not a reachable chain member. A
// plain root maps to itself; members reached through a redirect map to the
// redirect slot. Redirect slots themselves have no entry.
//
// Read-only: the caller needs at least a pin to keep concurrent pruning
// away, and the mapping is valid only while that pin is held; a prune can
// reuse any of these slots the moment it is dropped.
func RootSlots(p *page.Page) []primitives.SlotID {
	maxSlot := p.MaxSlot()
	roots := make([]primitives.SlotID, int(maxSlot)+1)

	for sn := primitives.SlotID(1); sn <= maxSlot; sn++ {
		s, _ := p.SlotAt(sn)
		if !s.IsUsed() || s.IsDead() {
			continue
		}

		var (
			next      primitives.SlotID
			priorXmax primitives.TxID
		)

		if s.IsNormal() {
			hdr, err := p.RowHeaderAt(sn)
			if err != nil {
				criticalf(p.ID(), "normal slot %d: %v", sn, err)
			}

			// Heap-only members are recorded when their root is found.
			if hdr.IsHeapOnly() {
				continue
			}

			roots[sn] = sn

			if !hdr.IsHotUpdated() {
				continue
			}
			next = hdr.Next
			priorXmax = hdr.UpdateXid()
		} else {
			// Redirect: chase the chain it points at.
			next = s.RedirectTarget()
			priorXmax = primitives.InvalidTxID
		}

		// Follow the chain. Every slot is visited at most twice (once by
		// the outer scan, once by a chase), so the whole mapping is O(N).
		for {
			if next < 1 || next > maxSlot {
				break
			}

			ts, _ := p.SlotAt(next)
			if !ts.IsNormal() {
				break
			}

			hdr, err := p.RowHeaderAt(next)
			if err != nil {
				criticalf(p.ID(), "chain member %d: %v", next, err)
			}

			if primitives.TxIsValid(priorXmax) && hdr.Xmin != priorXmax {
				break
			}

			roots[next] = sn

			if !hdr.IsHotUpdated() {
				break
			}
			next = hdr.Next
			priorXmax = hdr.UpdateXid()
		}
	}

	return roots
}
