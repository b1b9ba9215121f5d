package heap

import (
	"heapstore/pkg/primitives"
	"heapstore/pkg/storage/page"
)

const maxSlots = page.MaxSlotsPerPage

// pruneState is the transient working state of one prune pass. It is
// created on entry, threaded explicitly through the passes, and discarded
// on exit; nothing in it is ever persisted. All arrays are fixed-capacity,
// sized to the page's compile-time slot bound, so the apply step has no
// allocation that can fail.
//
// Slot-indexed arrays are maxSlots+1 long because slot numbers are 1-based;
// index 0 is never used.
type pruneState struct {
	pageID primitives.PageID

	// newPruneHint is the lowest transaction ID that could make some
	// surviving version prunable, or invalid if none.
	newPruneHint primitives.TxID

	// latestRemoved is the newest committed deleter among versions this
	// pass eliminates; it rides along in the redo record.
	latestRemoved primitives.TxID

	// Limited-horizon cache for old-snapshot protection. Computed at most
	// once per pass; oldSnapUsed flips when a removal actually relied on it.
	oldSnapXmin primitives.TxID
	oldSnapTS   primitives.Timestamp
	oldSnapUsed bool

	// Planned edit sets.
	nredirected int
	ntombstoned int
	nfreed      int
	redirected  [maxSlots * 2]primitives.SlotID // from,to pairs
	tombstoned  [maxSlots]primitives.SlotID
	freed       [maxSlots]primitives.SlotID

	// Per-slot caches filled by the first pass. status is computed once
	// per row version; statusNone marks slots with no storage.
	status   [maxSlots + 1]VacuumStatus
	visited  [maxSlots + 1]bool
	heapOnly [maxSlots + 1]bool
}

// recordPrunable folds a soon-dead transaction ID into the new prune hint.
func (ps *pruneState) recordPrunable(xid primitives.TxID) {
	if !primitives.TxIsValid(xid) {
		criticalf(ps.pageID, "prunable hint recorded for invalid transaction id")
	}
	if !primitives.TxIsValid(ps.newPruneHint) || primitives.TxPrecedes(xid, ps.newPruneHint) {
		ps.newPruneHint = xid
	}
}

// recordRedirect plans rewriting slot from into a redirect to slot to.
// A redirect source is never heap-only and its target always is.
func (ps *pruneState) recordRedirect(from, to primitives.SlotID) {
	if ps.nredirected >= maxSlots {
		criticalf(ps.pageID, "redirect plan overflow")
	}
	if ps.heapOnly[from] {
		criticalf(ps.pageID, "planned redirect source %d is heap-only", from)
	}
	if !ps.heapOnly[to] {
		criticalf(ps.pageID, "planned redirect target %d is not heap-only", to)
	}
	ps.redirected[ps.nredirected*2] = from
	ps.redirected[ps.nredirected*2+1] = to
	ps.nredirected++
}

// recordTombstone plans marking a slot Dead. Heap-only versions are never
// tombstoned: no index can reference them.
func (ps *pruneState) recordTombstone(sn primitives.SlotID) {
	if ps.ntombstoned >= maxSlots {
		criticalf(ps.pageID, "tombstone plan overflow")
	}
	if ps.heapOnly[sn] {
		criticalf(ps.pageID, "planned tombstone %d is heap-only", sn)
	}
	ps.tombstoned[ps.ntombstoned] = sn
	ps.ntombstoned++
}

// recordFree plans marking a slot Unused. Only heap-only versions may go
// straight to Unused.
func (ps *pruneState) recordFree(sn primitives.SlotID) {
	if ps.nfreed >= maxSlots {
		criticalf(ps.pageID, "free plan overflow")
	}
	if ps.status[sn] == statusNone {
		criticalf(ps.pageID, "planned free of slot %d with no row version", sn)
	}
	if !ps.heapOnly[sn] {
		criticalf(ps.pageID, "planned free of non-heap-only slot %d", sn)
	}
	ps.freed[ps.nfreed] = sn
	ps.nfreed++
}

// hasEdits reports whether any page change was planned.
func (ps *pruneState) hasEdits() bool {
	return ps.nredirected > 0 || ps.ntombstoned > 0 || ps.nfreed > 0
}
