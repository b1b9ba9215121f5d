// Package heap implements in-page garbage collection for the MVCC heap:
// reclaiming row versions no longer visible to any transaction while keeping
// update chains intact. It operates on exactly one page at a time, under the
// page cache's exclusive cleanup lock, and applies all planned changes in a
// single non-failing step paired with one redo record.
package heap

import (
	"heapstore/pkg/log/record"
	"heapstore/pkg/primitives"
	"heapstore/pkg/storage/page"
)

// Config holds pruning tunables.
type Config struct {
	// FillFactor is the page fill target in percent (10..100). The
	// opportunistic trigger prunes when free space falls below the
	// fill-factor headroom, but never below a 10% floor.
	FillFactor int
}

// DefaultConfig returns the default pruning configuration.
func DefaultConfig() Config {
	return Config{FillFactor: 100}
}

// Pruner prunes heap pages against a horizon oracle. It carries no per-page
// state; a single Pruner serves any number of pages.
type Pruner struct {
	horizon Horizon
	status  StatusSource
	limiter OldSnapshotLimiter // optional, may be nil
	wal     PruneLogger        // optional, nil for unlogged tables
	cfg     Config
}

// NewPruner builds a Pruner. limiter may be nil when old-snapshot
// protection is not configured; wal may be nil when the page's table needs
// no durability.
func NewPruner(horizon Horizon, status StatusSource, limiter OldSnapshotLimiter, wal PruneLogger, cfg Config) *Pruner {
	if cfg.FillFactor < 10 || cfg.FillFactor > 100 {
		cfg.FillFactor = DefaultConfig().FillFactor
	}
	return &Pruner{
		horizon: horizon,
		status:  status,
		limiter: limiter,
		wal:     wal,
		cfg:     cfg,
	}
}

// Prune reclaims dead row versions on the frame's page and repairs its
// update chains. The caller must hold the frame's cleanup lock.
//
// oldSnapXmin/oldSnapTS carry a limited horizon already computed by the
// opportunistic trigger, or invalid/zero when none was.
//
// Returns the number of row versions deleted and the number of slots newly
// turned into tombstones.
func (pr *Pruner) Prune(fr Frame, oldSnapXmin primitives.TxID, oldSnapTS primitives.Timestamp) (int, int) {
	p := fr.Page()

	var ps pruneState
	ps.pageID = p.ID()
	ps.oldSnapXmin = oldSnapXmin
	ps.oldSnapTS = oldSnapTS

	maxSlot := p.MaxSlot()
	ndeleted := 0

	// First pass: classify every row version once and cache the result.
	// Slots without storage need no classification; all but redirects are
	// also excluded from chain walking up front. The page is scanned
	// backward so row versions, which grow from the page end, are read in
	// increasing address order.
	for sn := maxSlot; sn >= 1; sn-- {
		s, _ := p.SlotAt(sn)
		if !s.IsNormal() {
			ps.status[sn] = statusNone
			if !s.IsRedirect() {
				ps.visited[sn] = true
			}
			continue
		}

		hdr, err := p.RowHeaderAt(sn)
		if err != nil {
			criticalf(ps.pageID, "normal slot %d: %v", sn, err)
		}
		if hdr.IsHeapOnly() {
			ps.heapOnly[sn] = true
		}
		ps.status[sn] = pr.pruneSatisfiesVacuum(&ps, hdr)
	}

	// Second pass: walk each update chain from its root. Heap-only slots
	// are never roots; they are reached through their chain.
	for sn := primitives.SlotID(1); sn <= maxSlot; sn++ {
		if ps.heapOnly[sn] || ps.visited[sn] {
			continue
		}
		ndeleted += pr.pruneFromRoot(p, maxSlot, sn, &ps)
	}

	// Third pass: anything still unvisited is a heap-only version no chain
	// reaches. Only cached state from the first two passes is consulted.
	for sn := primitives.SlotID(1); sn <= maxSlot; sn++ {
		if ps.visited[sn] {
			continue
		}
		ndeleted += pr.pruneOrphan(p, &ps, sn)
	}

	if ps.hasEdits() {
		pr.applyPlannedEdits(fr, &ps)
	} else if p.PruneHint() != ps.newPruneHint || p.IsFull() {
		// Nothing pruned, but the hint or full flag is stale. This is a
		// non-logged, best-effort write.
		p.SetPruneHint(ps.newPruneHint)
		p.ClearFull()
		fr.MarkDirtyHint()
	}

	return ndeleted, ps.ntombstoned
}

// pruneOrphan handles a heap-only row version not reached by any chain
// walk. Such versions come from aborted updates whose parent was later
// re-updated elsewhere; they must already be dead, or the page structure
// cannot be trusted.
func (pr *Pruner) pruneOrphan(p *page.Page, ps *pruneState, sn primitives.SlotID) int {
	if !ps.heapOnly[sn] {
		criticalf(ps.pageID, "unvisited slot %d survived the root pass but is not heap-only", sn)
	}

	if ps.status[sn] == StatusDead {
		hdr, err := p.RowHeaderAt(sn)
		if err != nil {
			criticalf(ps.pageID, "orphaned slot %d: %v", sn, err)
		}
		pr.advanceLatestRemoved(ps, hdr)
		ps.recordFree(sn)
		return 1
	}

	criticalf(ps.pageID, "orphaned heap-only row version at slot %d is %v, expected dead",
		sn, ps.status[sn])
	return 0
}

// pruneRecord assembles the redo payload from the planned edit sets.
func (ps *pruneState) pruneRecord() *record.PruneRecord {
	rec := &record.PruneRecord{
		Page:             ps.pageID,
		LatestRemovedXid: ps.latestRemoved,
	}
	rec.Redirected = append(rec.Redirected, ps.redirected[:ps.nredirected*2]...)
	rec.Tombstoned = append(rec.Tombstoned, ps.tombstoned[:ps.ntombstoned]...)
	rec.Freed = append(rec.Freed, ps.freed[:ps.nfreed]...)
	return rec
}
