package heap

import (
	"heapstore/pkg/primitives"
	"heapstore/pkg/storage/page"
)

// pruneFromRoot prunes the update chain (or simple row version) rooted at
// rootSN. The caller passes only slots known to be redirects or plain
// non-heap-only row versions.
//
// Pruning must never leave behind a dead version that still has storage, but
// it also must never cut a chain in the middle: only the contiguous group of
// dead versions starting at the root is removable. The root is redirected to
// the member right after the dead prefix; if the whole chain is dead, the
// root becomes a tombstone instead.
//
// Nothing is changed here. Planned edits accumulate in ps and are applied
// later in one atomic step.
//
// Returns the number of row versions (to be) deleted from the page.
func (pr *Pruner) pruneFromRoot(p *page.Page, maxSlot, rootSN primitives.SlotID, ps *pruneState) int {
	var (
		chain          [maxSlots]primitives.SlotID
		nchain         int
		priorXmax      primitives.TxID
		latestDead     = primitives.InvalidSlotID
		redirectRoot   bool
		pastLatestDead bool
	)

	sn := rootSN
	for {
		// An index past the end of the slot directory is possible when the
		// directory was truncated after the target went unused.
		if sn < 1 || sn > maxSlot {
			break
		}

		// Stop if the slot was consumed by an earlier chain, or a non-root
		// member is not heap-only: either way it is not part of this chain.
		if ps.visited[sn] || (nchain > 0 && !ps.heapOnly[sn]) {
			break
		}

		s, _ := p.SlotAt(sn)

		// A redirect can only be the caller's root. Jump to the first
		// heap-only member it points at.
		if s.IsRedirect() {
			if nchain != 0 {
				criticalf(ps.pageID, "redirect slot %d reached mid-chain", sn)
			}
			chain[nchain] = sn
			nchain++
			ps.visited[sn] = true
			redirectRoot = true
			sn = s.RedirectTarget()
			continue
		}

		hdr, err := p.RowHeaderAt(sn)
		if err != nil {
			criticalf(ps.pageID, "chain member %d: %v", sn, err)
		}

		// A heap-only member belongs to this chain only if it was created
		// by the predecessor's updater.
		if nchain > 0 && primitives.TxIsValid(priorXmax) && hdr.Xmin != priorXmax {
			break
		}

		switch ps.status[sn] {
		case StatusDead:
			if !pastLatestDead {
				// Still extending the removable prefix.
				latestDead = sn
				pr.advanceLatestRemoved(ps, hdr)
			}
			// A dead version past the prefix stays in place: removing it
			// would cut the chain between its live neighbors. It remains a
			// chain member all the same.
			ps.visited[sn] = true
			chain[nchain] = sn
			nchain++

		case StatusRecentlyDead, StatusDeleteInProgress:
			// May soon become dead; make sure the page is reconsidered.
			ps.recordPrunable(hdr.UpdateXid())
			fallthrough
		case StatusLive, StatusInsertInProgress:
			// No more deletions on this chain during this pass, but keep
			// traversing so the pass has a complete picture of chain
			// membership: whatever is left unvisited afterwards is an
			// orphaned heap-only version.
			pastLatestDead = true
			ps.visited[sn] = true
			chain[nchain] = sn
			nchain++

		default:
			criticalf(ps.pageID, "unexpected visibility %v for chain member %d", ps.status[sn], sn)
		}

		// A version without the hot-updated flag ends the chain. Members
		// once linked past it by an aborted updater are found by the
		// orphan pass, not here.
		if !hdr.IsHotUpdated() {
			break
		}

		sn = hdr.Next
		priorXmax = hdr.UpdateXid()
	}

	if nchain == 0 || !ps.visited[rootSN] {
		criticalf(ps.pageID, "chain walk from root %d recorded no members", rootSN)
	}

	if latestDead == primitives.InvalidSlotID {
		return 0
	}

	// At least the beginning of the chain is dead. Mark every non-root
	// prefix member Unused (they are heap-only and nothing references them
	// individually); the loop ends once the previous member was the last
	// dead one, leaving i at the redirection candidate.
	ndeleted := 0
	i := 1
	for ; i < nchain && chain[i-1] != latestDead; i++ {
		ps.recordFree(chain[i])
		ndeleted++
	}

	// A root with storage is logically deleted, so it counts. Re-pointing
	// an existing redirect does not: that would double-count the dead
	// versions already tallied above.
	if !redirectRoot {
		ndeleted++
	}

	// If the dead prefix covers the whole chain the root becomes a
	// tombstone; otherwise it redirects to the first surviving member.
	if i >= nchain {
		ps.recordTombstone(rootSN)
	} else {
		ps.recordRedirect(rootSN, chain[i])
	}

	return ndeleted
}
