package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heapstore/pkg/log/record"
	"heapstore/pkg/primitives"
	"heapstore/pkg/storage/page"
)

func newTestPruner(o *testOracle, limiter OldSnapshotLimiter, wal PruneLogger) *Pruner {
	return NewPruner(o, o, limiter, wal, DefaultConfig())
}

func TestPruneSingleDeadVersion(t *testing.T) {
	p := newTestPage(t)
	addRow(t, p, 5, 6, 0, 0)

	wal := &captureLog{}
	pr := newTestPruner(newTestOracle(100), nil, wal)
	fr := &testFrame{p: p}

	before := p.FreeSpace()
	ndeleted, ntombstoned := pr.Prune(fr, primitives.InvalidTxID, 0)

	assert.Equal(t, 1, ndeleted)
	assert.Equal(t, 1, ntombstoned)
	assert.True(t, slotAt(t, p, 1).IsDead(), "root should become a tombstone")
	assert.Greater(t, p.FreeSpace(), before, "removed storage should be reclaimed")
	assert.True(t, fr.dirty)
	assert.False(t, fr.dirtyHint)

	require.Len(t, wal.recs, 1)
	rec := wal.recs[0]
	assert.Equal(t, testPageID(), rec.Page)
	assert.Equal(t, primitives.TxID(6), rec.LatestRemovedXid)
	assert.Empty(t, rec.Redirected)
	assert.Equal(t, []primitives.SlotID{1}, rec.Tombstoned)
	assert.Empty(t, rec.Freed)
	assert.Equal(t, wal.next, p.LSN(), "page should carry the record's LSN")
}

func TestPruneChainDeadPrefix(t *testing.T) {
	p := newTestPage(t)
	root := addRow(t, p, 5, 6, page.RowHotUpdated, 2)
	mid := addRow(t, p, 6, 7, page.RowHeapOnly|page.RowHotUpdated, 3)
	tail := addRow(t, p, 7, primitives.InvalidTxID, page.RowHeapOnly, 0)

	wal := &captureLog{}
	pr := newTestPruner(newTestOracle(100), nil, wal)
	fr := &testFrame{p: p}

	ndeleted, ntombstoned := pr.Prune(fr, primitives.InvalidTxID, 0)

	// The root and the dead middle member go; the live tail survives and
	// the root slot becomes its redirect.
	assert.Equal(t, 2, ndeleted)
	assert.Equal(t, 0, ntombstoned)

	rootSlot := slotAt(t, p, root)
	require.True(t, rootSlot.IsRedirect())
	assert.Equal(t, tail, rootSlot.RedirectTarget())
	assert.True(t, slotAt(t, p, mid).IsUnused())
	assert.True(t, slotAt(t, p, tail).IsNormal())

	require.Len(t, wal.recs, 1)
	rec := wal.recs[0]
	assert.Equal(t, []primitives.SlotID{root, tail}, rec.Redirected)
	assert.Empty(t, rec.Tombstoned)
	assert.Equal(t, []primitives.SlotID{mid}, rec.Freed)
	assert.Equal(t, primitives.TxID(7), rec.LatestRemovedXid)

	require.NoError(t, p.VerifyRedirects())
}

func TestPruneWholeChainDead(t *testing.T) {
	p := newTestPage(t)
	root := addRow(t, p, 5, 6, page.RowHotUpdated, 2)
	mid := addRow(t, p, 6, 7, page.RowHeapOnly|page.RowHotUpdated, 3)
	tail := addRow(t, p, 7, 8, page.RowHeapOnly, 0)

	wal := &captureLog{}
	pr := newTestPruner(newTestOracle(100), nil, wal)
	fr := &testFrame{p: p}

	ndeleted, ntombstoned := pr.Prune(fr, primitives.InvalidTxID, 0)

	assert.Equal(t, 3, ndeleted)
	assert.Equal(t, 1, ntombstoned)
	assert.True(t, slotAt(t, p, root).IsDead(), "fully dead chain leaves a tombstone for index cleanup")
	assert.True(t, slotAt(t, p, mid).IsUnused())
	assert.True(t, slotAt(t, p, tail).IsUnused())

	require.Len(t, wal.recs, 1)
	assert.Equal(t, []primitives.SlotID{root}, wal.recs[0].Tombstoned)
	assert.Equal(t, []primitives.SlotID{mid, tail}, wal.recs[0].Freed)
}

func TestPruneIsIdempotent(t *testing.T) {
	p := newTestPage(t)
	addRow(t, p, 5, 6, page.RowHotUpdated, 2)
	addRow(t, p, 6, 7, page.RowHeapOnly|page.RowHotUpdated, 3)
	addRow(t, p, 7, primitives.InvalidTxID, page.RowHeapOnly, 0)

	wal := &captureLog{}
	pr := newTestPruner(newTestOracle(100), nil, wal)
	fr := &testFrame{p: p}

	first, _ := pr.Prune(fr, primitives.InvalidTxID, 0)
	require.Equal(t, 2, first)
	image := p.Serialize()
	fr.dirty, fr.dirtyHint = false, false

	second, ntombstoned := pr.Prune(fr, primitives.InvalidTxID, 0)

	assert.Equal(t, 0, second)
	assert.Equal(t, 0, ntombstoned)
	assert.Len(t, wal.recs, 1, "nothing new to log")
	assert.False(t, fr.dirty)
	assert.False(t, fr.dirtyHint)
	assert.Equal(t, image, p.Serialize(), "second prune must not change the page")
}

func TestPruneRepointsExistingRedirect(t *testing.T) {
	p := newTestPage(t)
	root := addRow(t, p, 1, 2, 0, 0)
	mid := addRow(t, p, 6, 7, page.RowHeapOnly|page.RowHotUpdated, 3)
	tail := addRow(t, p, 7, primitives.InvalidTxID, page.RowHeapOnly, 0)
	require.NoError(t, p.SetRedirect(root, mid))

	wal := &captureLog{}
	pr := newTestPruner(newTestOracle(100), nil, wal)
	fr := &testFrame{p: p}

	ndeleted, ntombstoned := pr.Prune(fr, primitives.InvalidTxID, 0)

	// Re-pointing the redirect deletes only the dead member it skipped.
	assert.Equal(t, 1, ndeleted)
	assert.Equal(t, 0, ntombstoned)

	rootSlot := slotAt(t, p, root)
	require.True(t, rootSlot.IsRedirect())
	assert.Equal(t, tail, rootSlot.RedirectTarget())
	assert.True(t, slotAt(t, p, mid).IsUnused())

	require.Len(t, wal.recs, 1)
	assert.Equal(t, []primitives.SlotID{root, tail}, wal.recs[0].Redirected)
	assert.Equal(t, []primitives.SlotID{mid}, wal.recs[0].Freed)
}

func TestPruneRedirectToFullyDeadChain(t *testing.T) {
	p := newTestPage(t)
	root := addRow(t, p, 1, 2, 0, 0)
	member := addRow(t, p, 6, 7, page.RowHeapOnly, 0)
	require.NoError(t, p.SetRedirect(root, member))

	wal := &captureLog{}
	pr := newTestPruner(newTestOracle(100), nil, wal)
	fr := &testFrame{p: p}

	ndeleted, ntombstoned := pr.Prune(fr, primitives.InvalidTxID, 0)

	assert.Equal(t, 1, ndeleted)
	assert.Equal(t, 1, ntombstoned)
	assert.True(t, slotAt(t, p, root).IsDead(), "redirect to a dead chain collapses into a tombstone")
	assert.True(t, slotAt(t, p, member).IsUnused())
}

func TestPruneDeadAfterLiveMemberIsKept(t *testing.T) {
	p := newTestPage(t)
	// Root is live (its updater aborted); the middle member, created by
	// that aborted updater, is dead but sits between two surviving chain
	// links and must not be cut out.
	root := addRow(t, p, 5, 30, page.RowHotUpdated, 2)
	mid := addRow(t, p, 30, 40, page.RowHeapOnly|page.RowHotUpdated, 3)
	tail := addRow(t, p, 40, primitives.InvalidTxID, page.RowHeapOnly, 0)

	oracle := newTestOracle(100)
	oracle.aborted[30] = true

	wal := &captureLog{}
	pr := newTestPruner(oracle, nil, wal)
	fr := &testFrame{p: p}

	ndeleted, ntombstoned := pr.Prune(fr, primitives.InvalidTxID, 0)

	assert.Equal(t, 0, ndeleted)
	assert.Equal(t, 0, ntombstoned)
	assert.Empty(t, wal.recs)
	assert.False(t, fr.dirty)

	for _, sn := range []primitives.SlotID{root, mid, tail} {
		assert.True(t, slotAt(t, p, sn).IsNormal(), "slot %d should be untouched", sn)
	}
}

func TestPruneRecentlyDeadStopsElimination(t *testing.T) {
	p := newTestPage(t)
	root := addRow(t, p, 5, 6, page.RowHotUpdated, 2)
	mid := addRow(t, p, 6, 150, page.RowHeapOnly|page.RowHotUpdated, 3)
	tail := addRow(t, p, 150, primitives.InvalidTxID, page.RowHeapOnly, 0)

	wal := &captureLog{}
	pr := newTestPruner(newTestOracle(100), nil, wal)
	fr := &testFrame{p: p}

	ndeleted, ntombstoned := pr.Prune(fr, primitives.InvalidTxID, 0)

	// Only the root is removable; the recently dead member may still be
	// visible to someone, so the redirect lands on it.
	assert.Equal(t, 1, ndeleted)
	assert.Equal(t, 0, ntombstoned)

	rootSlot := slotAt(t, p, root)
	require.True(t, rootSlot.IsRedirect())
	assert.Equal(t, mid, rootSlot.RedirectTarget())
	assert.True(t, slotAt(t, p, mid).IsNormal())
	assert.True(t, slotAt(t, p, tail).IsNormal())

	// The deleter of the recently dead member seeds the new prune hint.
	assert.Equal(t, primitives.TxID(150), p.PruneHint())
}

func TestPruneHintOnlyRefresh(t *testing.T) {
	p := newTestPage(t)
	addRow(t, p, 5, 150, 0, 0)
	p.SetFull()

	wal := &captureLog{}
	pr := newTestPruner(newTestOracle(100), nil, wal)
	fr := &testFrame{p: p}

	ndeleted, ntombstoned := pr.Prune(fr, primitives.InvalidTxID, 0)

	assert.Equal(t, 0, ndeleted)
	assert.Equal(t, 0, ntombstoned)
	assert.Empty(t, wal.recs, "a hint refresh is never logged")
	assert.False(t, fr.dirty)
	assert.True(t, fr.dirtyHint)
	assert.Equal(t, primitives.TxID(150), p.PruneHint())
	assert.False(t, p.IsFull())
}

func TestPruneHintIsMinimumObservedXid(t *testing.T) {
	p := newTestPage(t)
	addRow(t, p, 5, 150, 0, 0)
	addRow(t, p, 6, 120, 0, 0)
	addRow(t, p, 7, primitives.InvalidTxID, 0, 0)

	pr := newTestPruner(newTestOracle(100), nil, &captureLog{})
	fr := &testFrame{p: p}

	ndeleted, _ := pr.Prune(fr, primitives.InvalidTxID, 0)

	assert.Equal(t, 0, ndeleted)
	assert.Equal(t, primitives.TxID(120), p.PruneHint(),
		"hint must be the oldest deleter that could become removable")
}

func TestPruneFreesDeadOrphan(t *testing.T) {
	p := newTestPage(t)
	root := addRow(t, p, 5, primitives.InvalidTxID, 0, 0)
	orphan := addRow(t, p, 60, 70, page.RowHeapOnly, 0)

	wal := &captureLog{}
	pr := newTestPruner(newTestOracle(100), nil, wal)
	fr := &testFrame{p: p}

	ndeleted, ntombstoned := pr.Prune(fr, primitives.InvalidTxID, 0)

	assert.Equal(t, 1, ndeleted)
	assert.Equal(t, 0, ntombstoned)
	assert.True(t, slotAt(t, p, root).IsNormal())
	assert.True(t, slotAt(t, p, orphan).IsUnused())

	require.Len(t, wal.recs, 1)
	assert.Equal(t, []primitives.SlotID{orphan}, wal.recs[0].Freed)
	assert.Equal(t, primitives.TxID(70), wal.recs[0].LatestRemovedXid)
}

func TestPruneLiveOrphanIsCorruption(t *testing.T) {
	p := newTestPage(t)
	addRow(t, p, 5, primitives.InvalidTxID, 0, 0)
	addRow(t, p, 60, primitives.InvalidTxID, page.RowHeapOnly, 0)

	pr := newTestPruner(newTestOracle(100), nil, &captureLog{})
	fr := &testFrame{p: p}

	ce := requireCorruption(t, func() {
		pr.Prune(fr, primitives.InvalidTxID, 0)
	})
	assert.Equal(t, testPageID(), ce.Page)
}

func TestPruneAbortedInserter(t *testing.T) {
	p := newTestPage(t)
	addRow(t, p, 30, primitives.InvalidTxID, 0, 0)

	oracle := newTestOracle(10)
	oracle.aborted[30] = true

	wal := &captureLog{}
	pr := newTestPruner(oracle, nil, wal)
	fr := &testFrame{p: p}

	ndeleted, ntombstoned := pr.Prune(fr, primitives.InvalidTxID, 0)

	// An aborted insert is removable regardless of the horizon.
	assert.Equal(t, 1, ndeleted)
	assert.Equal(t, 1, ntombstoned)
	assert.True(t, slotAt(t, p, 1).IsDead())

	require.Len(t, wal.recs, 1)
	assert.Equal(t, primitives.InvalidTxID, wal.recs[0].LatestRemovedXid,
		"no committed deleter was removed")
}

func TestPruneUnloggedTable(t *testing.T) {
	p := newTestPage(t)
	addRow(t, p, 5, 6, 0, 0)

	pr := newTestPruner(newTestOracle(100), nil, nil)
	fr := &testFrame{p: p}

	ndeleted, _ := pr.Prune(fr, primitives.InvalidTxID, 0)

	assert.Equal(t, 1, ndeleted)
	assert.True(t, fr.dirty)
	assert.Equal(t, primitives.LSN(0), p.LSN(), "no log record, no LSN stamp")
}

func TestRedoPruneReplaysIdentically(t *testing.T) {
	p := newTestPage(t)
	addRow(t, p, 5, 6, page.RowHotUpdated, 2)
	addRow(t, p, 6, 7, page.RowHeapOnly|page.RowHotUpdated, 3)
	addRow(t, p, 7, primitives.InvalidTxID, page.RowHeapOnly, 0)
	pristine := p.Serialize()

	wal := &captureLog{}
	pr := newTestPruner(newTestOracle(100), nil, wal)
	fr := &testFrame{p: p}
	pr.Prune(fr, primitives.InvalidTxID, 0)
	require.Len(t, wal.recs, 1)

	// Replay through the serialized form of the record, as recovery would.
	data, err := wal.recs[0].Serialize()
	require.NoError(t, err)
	rec, err := record.DeserializePruneRecord(data)
	require.NoError(t, err)

	replay, err := page.ParsePage(testPageID(), pristine)
	require.NoError(t, err)
	RedoPrune(replay, rec, p.LSN())

	assert.Equal(t, p.Serialize(), replay.Serialize(),
		"replayed page should match the pruned original byte for byte")
}

func TestPruneManyIndependentVersions(t *testing.T) {
	p := newTestPage(t)
	const n = 40
	for i := 0; i < n; i++ {
		xmin := primitives.TxID(2*i + 1)
		addRow(t, p, xmin, xmin+1, 0, 0)
	}

	wal := &captureLog{}
	pr := newTestPruner(newTestOracle(1000), nil, wal)
	fr := &testFrame{p: p}

	ndeleted, ntombstoned := pr.Prune(fr, primitives.InvalidTxID, 0)

	assert.Equal(t, n, ndeleted)
	assert.Equal(t, n, ntombstoned)
	for sn := primitives.SlotID(1); sn <= primitives.SlotID(n); sn++ {
		assert.True(t, slotAt(t, p, sn).IsDead(), "slot %d", sn)
	}
	require.Len(t, wal.recs, 1)
	assert.Len(t, wal.recs[0].Tombstoned, n)
	assert.Equal(t, primitives.TxID(2*n), wal.recs[0].LatestRemovedXid)
}
