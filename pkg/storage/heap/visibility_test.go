package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heapstore/pkg/primitives"
	"heapstore/pkg/storage/page"
)

func TestSatisfiesVacuumHorizon(t *testing.T) {
	oracle := newTestOracle(100)
	oracle.inProgress[200] = true
	oracle.inProgress[201] = true
	oracle.aborted[300] = true
	oracle.aborted[301] = true

	pr := newTestPruner(oracle, nil, nil)

	tests := []struct {
		name          string
		hdr           page.RowHeader
		wantStatus    VacuumStatus
		wantDeadAfter primitives.TxID
	}{
		{
			name:       "aborted inserter",
			hdr:        page.RowHeader{Xmin: 300},
			wantStatus: StatusDead,
		},
		{
			name:       "insert in progress",
			hdr:        page.RowHeader{Xmin: 200},
			wantStatus: StatusInsertInProgress,
		},
		{
			name:       "committed and undeleted",
			hdr:        page.RowHeader{Xmin: 10},
			wantStatus: StatusLive,
		},
		{
			name:       "delete in progress",
			hdr:        page.RowHeader{Xmin: 10, Xmax: 201},
			wantStatus: StatusDeleteInProgress,
		},
		{
			name:       "deleter aborted",
			hdr:        page.RowHeader{Xmin: 10, Xmax: 301},
			wantStatus: StatusLive,
		},
		{
			name:          "deleter committed",
			hdr:           page.RowHeader{Xmin: 10, Xmax: 20},
			wantStatus:    StatusRecentlyDead,
			wantDeadAfter: 20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, deadAfter := pr.satisfiesVacuumHorizon(tt.hdr)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantDeadAfter, deadAfter)
		})
	}
}

func TestPruneSatisfiesVacuumUpgradesBehindHorizon(t *testing.T) {
	pr := newTestPruner(newTestOracle(100), nil, nil)
	ps := &pruneState{pageID: testPageID()}

	status := pr.pruneSatisfiesVacuum(ps, page.RowHeader{Xmin: 10, Xmax: 20})
	assert.Equal(t, StatusDead, status)

	status = pr.pruneSatisfiesVacuum(ps, page.RowHeader{Xmin: 10, Xmax: 150})
	assert.Equal(t, StatusRecentlyDead, status)
}

func TestPruneSatisfiesVacuumComputesLimitedHorizonOnce(t *testing.T) {
	limiter := &testLimiter{active: true, xmin: 60, ts: 777}
	pr := newTestPruner(newTestOracle(40), limiter, nil)
	ps := &pruneState{pageID: testPageID()}

	// First classification computes and relies on the limited horizon.
	status := pr.pruneSatisfiesVacuum(ps, page.RowHeader{Xmin: 10, Xmax: 50})
	assert.Equal(t, StatusDead, status)
	assert.Equal(t, 1, limiter.computeCalls)
	assert.True(t, ps.oldSnapUsed)
	assert.Equal(t, primitives.Timestamp(777), limiter.gotTS)

	// Later classifications in the same pass reuse the cached value.
	status = pr.pruneSatisfiesVacuum(ps, page.RowHeader{Xmin: 10, Xmax: 55})
	assert.Equal(t, StatusDead, status)
	status = pr.pruneSatisfiesVacuum(ps, page.RowHeader{Xmin: 10, Xmax: 70})
	assert.Equal(t, StatusRecentlyDead, status)
	assert.Equal(t, 1, limiter.computeCalls)
}

func TestPruneSatisfiesVacuumThresholdOnlyOnUse(t *testing.T) {
	limiter := &testLimiter{active: true, xmin: 45, ts: 777}
	pr := newTestPruner(newTestOracle(40), limiter, nil)
	ps := &pruneState{pageID: testPageID()}

	// The limited horizon is computed but does not cover this deleter, so
	// the stale-reader threshold must stay untouched.
	status := pr.pruneSatisfiesVacuum(ps, page.RowHeader{Xmin: 10, Xmax: 50})
	assert.Equal(t, StatusRecentlyDead, status)
	assert.Equal(t, 1, limiter.computeCalls)
	assert.False(t, ps.oldSnapUsed)
	assert.Zero(t, limiter.gotTS)
}

func TestAdvanceLatestRemoved(t *testing.T) {
	oracle := newTestOracle(100)
	oracle.aborted[30] = true
	pr := newTestPruner(oracle, nil, nil)

	ps := &pruneState{pageID: testPageID()}

	pr.advanceLatestRemoved(ps, page.RowHeader{Xmin: 1, Xmax: 20})
	require.Equal(t, primitives.TxID(20), ps.latestRemoved)

	// Older committed deleters do not move it back.
	pr.advanceLatestRemoved(ps, page.RowHeader{Xmin: 1, Xmax: 15})
	assert.Equal(t, primitives.TxID(20), ps.latestRemoved)

	// Aborted deleters never count.
	pr.advanceLatestRemoved(ps, page.RowHeader{Xmin: 1, Xmax: 30})
	assert.Equal(t, primitives.TxID(20), ps.latestRemoved)

	pr.advanceLatestRemoved(ps, page.RowHeader{Xmin: 1, Xmax: 25})
	assert.Equal(t, primitives.TxID(25), ps.latestRemoved)
}
