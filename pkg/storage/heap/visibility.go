package heap

import (
	"heapstore/pkg/primitives"
	"heapstore/pkg/storage/page"
)

// VacuumStatus classifies one row version for pruning purposes.
type VacuumStatus int8

const (
	// StatusLive: the version is visible to current snapshots.
	StatusLive VacuumStatus = iota
	// StatusDead: no active or future snapshot can see the version.
	StatusDead
	// StatusRecentlyDead: deleted and committed, but some snapshot may
	// still see it.
	StatusRecentlyDead
	// StatusInsertInProgress: the inserting transaction has not finished.
	StatusInsertInProgress
	// StatusDeleteInProgress: the deleting transaction has not finished.
	StatusDeleteInProgress

	// statusNone marks slots that carry no row version and need no
	// classification.
	statusNone VacuumStatus = -1
)

func (v VacuumStatus) String() string {
	switch v {
	case StatusLive:
		return "live"
	case StatusDead:
		return "dead"
	case StatusRecentlyDead:
		return "recently-dead"
	case StatusInsertInProgress:
		return "insert-in-progress"
	case StatusDeleteInProgress:
		return "delete-in-progress"
	case statusNone:
		return "none"
	}
	return "unknown"
}

// satisfiesVacuumHorizon derives the raw classification of a row version
// from transaction status alone. When the version has a committed deleter
// it returns StatusRecentlyDead along with deadAfter, the transaction ID
// after whose demise the version is certainly dead; the caller decides
// removability against a horizon.
func (pr *Pruner) satisfiesVacuumHorizon(hdr page.RowHeader) (VacuumStatus, primitives.TxID) {
	switch pr.status.Status(hdr.Xmin) {
	case primitives.TxAborted:
		// Inserter aborted: the version never existed for anyone.
		return StatusDead, primitives.InvalidTxID
	case primitives.TxInProgress:
		return StatusInsertInProgress, primitives.InvalidTxID
	}

	if !primitives.TxIsValid(hdr.Xmax) {
		return StatusLive, primitives.InvalidTxID
	}

	switch pr.status.Status(hdr.Xmax) {
	case primitives.TxInProgress:
		return StatusDeleteInProgress, primitives.InvalidTxID
	case primitives.TxAborted:
		return StatusLive, primitives.InvalidTxID
	}

	return StatusRecentlyDead, hdr.Xmax
}

// pruneSatisfiesVacuum classifies a row version against the horizon oracle,
// upgrading RecentlyDead to Dead when the deleter is behind the horizon.
//
// The old-snapshot limiter complicates this: we only want to raise the
// stale-reader error threshold when we actually remove a row based on the
// limited horizon, and computing that horizon is costly, so it is done at
// most once per prune pass and cached in ps.
func (pr *Pruner) pruneSatisfiesVacuum(ps *pruneState, hdr page.RowHeader) VacuumStatus {
	res, deadAfter := pr.satisfiesVacuumHorizon(hdr)
	if res != StatusRecentlyDead {
		return res
	}

	// Already relying on the limited horizon; no reason to hold back now.
	if ps.oldSnapUsed {
		if primitives.TxPrecedes(deadAfter, ps.oldSnapXmin) {
			return StatusDead
		}
		return res
	}

	if pr.horizon.IsRemovable(deadAfter) {
		return StatusDead
	}

	if pr.limiter != nil && pr.limiter.Active() {
		if !primitives.TxIsValid(ps.oldSnapXmin) {
			xmin, ts, ok := pr.limiter.LimitedHorizon(pr.horizon.NonRemovableHorizon())
			if ok {
				ps.oldSnapXmin = xmin
				ps.oldSnapTS = ts
			}
		}

		if primitives.TxIsValid(ps.oldSnapXmin) &&
			primitives.TxPrecedes(deadAfter, ps.oldSnapXmin) {
			// About to remove a row only the limited horizon permits.
			// Stale snapshots must start failing at this threshold.
			pr.limiter.SetThresholdTimestamp(ps.oldSnapTS, ps.oldSnapXmin)
			ps.oldSnapUsed = true
			return StatusDead
		}
	}

	return res
}

// advanceLatestRemoved folds one about-to-be-removed version's deleter into
// the running latest-removed transaction ID carried by the redo record.
func (pr *Pruner) advanceLatestRemoved(ps *pruneState, hdr page.RowHeader) {
	xmax := hdr.UpdateXid()
	if !primitives.TxIsValid(xmax) || pr.status.Status(xmax) != primitives.TxCommitted {
		return
	}
	if primitives.TxPrecedes(ps.latestRemoved, xmax) {
		ps.latestRemoved = xmax
	}
}
