package heap

import (
	"heapstore/pkg/log/record"
	"heapstore/pkg/primitives"
	"heapstore/pkg/storage/page"
)

// Horizon answers whether a transaction's effects are guaranteed invisible
// to every active and future snapshot. Implementations may take a short
// shared lock per lookup, but must never require a lock to be held across a
// whole prune pass.
type Horizon interface {
	// IsRemovable reports whether every snapshot in the system sees xid's
	// effects as gone for good.
	IsRemovable(xid primitives.TxID) bool

	// NonRemovableHorizon returns the oldest transaction ID whose effects
	// may still be visible to someone. Everything preceding it is removable.
	NonRemovableHorizon() primitives.TxID
}

// StatusSource resolves the commit status of a transaction ID.
type StatusSource interface {
	Status(xid primitives.TxID) primitives.TxStatus
}

// OldSnapshotLimiter is the optional old-snapshot protection hook: it can
// advance the horizon past the true one, allowing removal of versions that
// only snapshots older than the configured age could still see. Whenever
// the limited horizon is actually used to remove a version, the limiter is
// told so, letting it raise the error threshold for stale readers.
type OldSnapshotLimiter interface {
	// Active reports whether old-snapshot protection is configured at all.
	Active() bool

	// LimitedHorizon computes the advanced horizon for the given true
	// horizon, or reports that none is available.
	LimitedHorizon(horizon primitives.TxID) (primitives.TxID, primitives.Timestamp, bool)

	// SetThresholdTimestamp records that versions dead after the given
	// horizon are being removed, so readers with older snapshots must fail.
	SetThresholdTimestamp(ts primitives.Timestamp, xid primitives.TxID)
}

// Frame is the pinned page handle supplied by the buffer cache.
type Frame interface {
	// Page returns the page image. Stable while the frame stays pinned.
	Page() *page.Page

	// MarkDirty records a logged modification of the page.
	MarkDirty()

	// MarkDirtyHint records a best-effort hint write that needs no log
	// record and may be lost on crash.
	MarkDirtyHint()

	// TryCleanupLock attempts to take the exclusive cleanup lock without
	// blocking. It fails when any other holder has a pin on the page.
	TryCleanupLock() bool

	// ReleaseCleanupLock drops the cleanup lock.
	ReleaseCleanupLock()
}

// PruneLogger persists one redo record per applied prune.
type PruneLogger interface {
	LogPrune(rec *record.PruneRecord) (primitives.LSN, error)
}
