// Package transaction tracks transaction lifecycles and derives the
// visibility horizons that pruning decisions depend on.
package transaction

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"heapstore/pkg/primitives"
)

// ErrSnapshotTooOld is returned when a snapshot older than the configured
// threshold reads a page that may have been pruned past it.
var ErrSnapshotTooOld = errors.New("snapshot too old")

// Config holds registry settings.
type Config struct {
	// OldSnapshotThreshold enables old-snapshot protection when positive:
	// row versions invisible only to snapshots older than this duration
	// may be removed, and such snapshots fail with ErrSnapshotTooOld when
	// they later read an affected page.
	OldSnapshotThreshold time.Duration
}

// DefaultConfig returns the default registry settings: old-snapshot
// protection disabled.
func DefaultConfig() Config {
	return Config{OldSnapshotThreshold: 0}
}

// Registry assigns transaction IDs, records outcomes, and answers the
// status and horizon questions pruning asks. Every lookup takes a short
// shared lock on its own; nothing holds the lock across a whole prune pass.
type Registry struct {
	mutex sync.RWMutex
	cfg   Config
	clock func() time.Time

	nextXID   primitives.TxID
	active    map[primitives.TxID]struct{}
	committed map[primitives.TxID]primitives.Timestamp
	aborted   map[primitives.TxID]struct{}

	// Stale-reader error threshold, raised each time a prune removes a
	// version based on the limited horizon.
	thresholdTS  primitives.Timestamp
	thresholdXID primitives.TxID
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:       cfg,
		clock:     time.Now,
		nextXID:   1,
		active:    make(map[primitives.TxID]struct{}),
		committed: make(map[primitives.TxID]primitives.Timestamp),
		aborted:   make(map[primitives.TxID]struct{}),
	}
}

// Begin starts a new transaction and returns its ID.
func (r *Registry) Begin() primitives.TxID {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	xid := r.nextXID
	r.nextXID++
	r.active[xid] = struct{}{}
	return xid
}

// Commit marks an active transaction committed, stamping its commit time.
func (r *Registry) Commit(xid primitives.TxID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.active[xid]; !ok {
		return fmt.Errorf("cannot commit transaction %d: not active", xid)
	}
	delete(r.active, xid)
	r.committed[xid] = primitives.Timestamp(r.clock().UnixMicro())
	return nil
}

// Abort marks an active transaction aborted.
func (r *Registry) Abort(xid primitives.TxID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.active[xid]; !ok {
		return fmt.Errorf("cannot abort transaction %d: not active", xid)
	}
	delete(r.active, xid)
	r.aborted[xid] = struct{}{}
	return nil
}

// Status resolves the outcome of a transaction ID. An ID the registry has
// never seen reads as aborted: its effects must never be trusted.
func (r *Registry) Status(xid primitives.TxID) primitives.TxStatus {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if _, ok := r.active[xid]; ok {
		return primitives.TxInProgress
	}
	if _, ok := r.committed[xid]; ok {
		return primitives.TxCommitted
	}
	return primitives.TxAborted
}

// NonRemovableHorizon returns the oldest transaction ID whose effects may
// still be visible to someone: the oldest active transaction, or the next
// ID to be assigned when none are active.
func (r *Registry) NonRemovableHorizon() primitives.TxID {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.horizonLocked()
}

// IsRemovable reports whether xid is behind the horizon, so its effects
// are invisible to every present and future snapshot.
func (r *Registry) IsRemovable(xid primitives.TxID) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return primitives.TxPrecedes(xid, r.horizonLocked())
}

func (r *Registry) horizonLocked() primitives.TxID {
	oldest := r.nextXID
	for xid := range r.active {
		if primitives.TxPrecedes(xid, oldest) {
			oldest = xid
		}
	}
	return oldest
}

// Active reports whether old-snapshot protection is configured.
func (r *Registry) Active() bool {
	return r.cfg.OldSnapshotThreshold > 0
}

// LimitedHorizon computes the horizon advanced past transactions that only
// snapshots older than the threshold could still see: one past the newest
// transaction that committed at or before the cutoff. Reports false when
// protection is off, when no transaction is that old, or when the result
// would not advance past the given true horizon.
func (r *Registry) LimitedHorizon(horizon primitives.TxID) (primitives.TxID, primitives.Timestamp, bool) {
	if !r.Active() {
		return primitives.InvalidTxID, 0, false
	}
	cutoff := primitives.Timestamp(r.clock().Add(-r.cfg.OldSnapshotThreshold).UnixMicro())

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	newest := primitives.InvalidTxID
	for xid, ts := range r.committed {
		if ts <= cutoff && primitives.TxPrecedes(newest, xid) {
			newest = xid
		}
	}
	if !primitives.TxIsValid(newest) || !primitives.TxPrecedes(horizon, newest+1) {
		return primitives.InvalidTxID, 0, false
	}
	return newest + 1, cutoff, true
}

// SetThresholdTimestamp records that versions only snapshots older than ts
// could see are being removed. The threshold only ever moves forward.
func (r *Registry) SetThresholdTimestamp(ts primitives.Timestamp, xid primitives.TxID) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if ts > r.thresholdTS {
		r.thresholdTS = ts
		r.thresholdXID = xid
	}
}

// ThresholdTimestamp returns the current stale-reader error threshold.
func (r *Registry) ThresholdTimestamp() (primitives.Timestamp, primitives.TxID) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.thresholdTS, r.thresholdXID
}

// CheckSnapshotAge verifies that a snapshot taken at snapTS with the given
// xmin may still read pages: it fails once pruning has removed versions
// that snapshot could see.
func (r *Registry) CheckSnapshotAge(snapTS primitives.Timestamp, snapXmin primitives.TxID) error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if r.thresholdTS != 0 && snapTS < r.thresholdTS &&
		primitives.TxPrecedes(snapXmin, r.thresholdXID) {
		return ErrSnapshotTooOld
	}
	return nil
}
