package heap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"heapstore/pkg/log/record"
	"heapstore/pkg/primitives"
	"heapstore/pkg/storage/page"
)

// testOracle is a canned horizon and status source. Transactions not listed
// as in-progress or aborted read as committed.
type testOracle struct {
	horizon    primitives.TxID
	inProgress map[primitives.TxID]bool
	aborted    map[primitives.TxID]bool
}

func newTestOracle(horizon primitives.TxID) *testOracle {
	return &testOracle{
		horizon:    horizon,
		inProgress: make(map[primitives.TxID]bool),
		aborted:    make(map[primitives.TxID]bool),
	}
}

func (o *testOracle) IsRemovable(xid primitives.TxID) bool {
	return primitives.TxPrecedes(xid, o.horizon)
}

func (o *testOracle) NonRemovableHorizon() primitives.TxID {
	return o.horizon
}

func (o *testOracle) Status(xid primitives.TxID) primitives.TxStatus {
	switch {
	case o.inProgress[xid]:
		return primitives.TxInProgress
	case o.aborted[xid]:
		return primitives.TxAborted
	}
	return primitives.TxCommitted
}

// testLimiter is a canned old-snapshot limiter recording threshold updates.
type testLimiter struct {
	active bool
	xmin   primitives.TxID
	ts     primitives.Timestamp

	computeCalls int
	gotTS        primitives.Timestamp
	gotXID       primitives.TxID
}

func (l *testLimiter) Active() bool { return l.active }

func (l *testLimiter) LimitedHorizon(primitives.TxID) (primitives.TxID, primitives.Timestamp, bool) {
	l.computeCalls++
	if !primitives.TxIsValid(l.xmin) {
		return primitives.InvalidTxID, 0, false
	}
	return l.xmin, l.ts, true
}

func (l *testLimiter) SetThresholdTimestamp(ts primitives.Timestamp, xid primitives.TxID) {
	l.gotTS = ts
	l.gotXID = xid
}

// testFrame is a stand-in page frame tracking dirty and lock traffic.
type testFrame struct {
	p           *page.Page
	dirty       bool
	dirtyHint   bool
	cleanupHeld bool
	denyCleanup bool
	tryCalls    int
}

func (f *testFrame) Page() *page.Page { return f.p }
func (f *testFrame) MarkDirty()       { f.dirty = true }
func (f *testFrame) MarkDirtyHint()   { f.dirtyHint = true }

func (f *testFrame) TryCleanupLock() bool {
	f.tryCalls++
	if f.denyCleanup || f.cleanupHeld {
		return false
	}
	f.cleanupHeld = true
	return true
}

func (f *testFrame) ReleaseCleanupLock() { f.cleanupHeld = false }

// captureLog retains every logged record and hands out spaced LSNs.
type captureLog struct {
	recs []*record.PruneRecord
	next primitives.LSN
}

func (l *captureLog) LogPrune(rec *record.PruneRecord) (primitives.LSN, error) {
	l.recs = append(l.recs, rec)
	l.next += 100
	return l.next, nil
}

func testPageID() primitives.PageID {
	return primitives.PageID{Table: 3, Page: 11}
}

func newTestPage(t *testing.T) *page.Page {
	t.Helper()
	return page.NewPage(testPageID())
}

// addRow inserts a row version with the given visibility metadata and a
// small payload.
func addRow(t *testing.T, p *page.Page, xmin, xmax primitives.TxID, mask uint16, next primitives.SlotID) primitives.SlotID {
	t.Helper()
	sn, err := p.InsertRow(page.RowHeader{
		Xmin:     xmin,
		Xmax:     xmax,
		Infomask: mask,
		Next:     next,
	}, []byte("row version payload"))
	require.NoError(t, err)
	return sn
}

func slotAt(t *testing.T, p *page.Page, sn primitives.SlotID) page.Slot {
	t.Helper()
	s, ok := p.SlotAt(sn)
	require.True(t, ok, "slot %d out of range", sn)
	return s
}

// requireCorruption runs fn and asserts it panics with a CorruptionError.
func requireCorruption(t *testing.T, fn func()) *CorruptionError {
	t.Helper()
	var caught *CorruptionError
	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r, "expected a corruption panic")
			ce, ok := r.(*CorruptionError)
			require.True(t, ok, "expected *CorruptionError, got %T: %v", r, r)
			caught = ce
		}()
		fn()
	}()
	return caught
}
