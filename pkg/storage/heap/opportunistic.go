package heap

import (
	"heapstore/pkg/primitives"
	"heapstore/pkg/storage/page"
)

// PruneOpportunistic optionally prunes the frame's page. It runs on the
// normal read/write path, so it falls out as quickly as possible when there
// is nothing to gain: the prune hint and free-space heuristics are read
// without any lock (a stale answer only costs one skipped or wasted
// attempt), and the cleanup lock is only ever tried, never waited on.
//
// The caller must hold a pin on the frame and must not hold its cleanup
// lock. Returns the number of row versions deleted, zero when pruning was
// skipped.
func (pr *Pruner) PruneOpportunistic(fr Frame) int {
	p := fr.Page()

	// No prune hint means no updates or deletes have left potentially dead
	// versions behind; determining a horizon would be wasted work.
	pruneXid := p.PruneHint()
	if !primitives.TxIsValid(pruneXid) {
		return 0
	}

	// Check whether the hinted transaction is behind the horizon. Prefer
	// the plain horizon: the limited one is costlier to compute and using
	// it needlessly makes stale readers fail sooner than they must.
	limitedXmin := primitives.InvalidTxID
	var limitedTS primitives.Timestamp
	if !pr.horizon.IsRemovable(pruneXid) {
		if pr.limiter == nil || !pr.limiter.Active() {
			return 0
		}
		xmin, ts, ok := pr.limiter.LimitedHorizon(pr.horizon.NonRemovableHorizon())
		if !ok {
			return 0
		}
		limitedXmin, limitedTS = xmin, ts
		if !primitives.TxPrecedes(pruneXid, limitedXmin) {
			return 0
		}
	}

	// Prune when a previous update ran out of room here, or free space is
	// below the fill-factor headroom (with a 10% floor).
	minFree := page.PageSize * (100 - pr.cfg.FillFactor) / 100
	if minFree < page.PageSize/10 {
		minFree = page.PageSize / 10
	}

	if !p.IsFull() && p.FreeSpace() >= minFree {
		return 0
	}

	if !fr.TryCleanupLock() {
		// Contended; some later visit will get its chance.
		return 0
	}
	defer fr.ReleaseCleanupLock()

	// The unlocked read may have been stale; recheck before doing the
	// real work. The prune hint needs no recheck: nobody else could have
	// pruned while we held our pin.
	if !p.IsFull() && p.FreeSpace() >= minFree {
		return 0
	}

	ndeleted, _ := pr.Prune(fr, limitedXmin, limitedTS)
	return ndeleted
}
