package heap

import (
	"heapstore/pkg/log/record"
	"heapstore/pkg/primitives"
	"heapstore/pkg/storage/page"
)

// applyPlannedEdits is the prune's single all-or-nothing step: rewrite the
// planned slots, repair fragmentation, refresh the page hints, and emit the
// redo record. Nothing in here may fail; any problem discovered mid-step is
// a CorruptionError panic, because a torn mutation without its matching
// redo record cannot be recovered from.
func (pr *Pruner) applyPlannedEdits(fr Frame, ps *pruneState) {
	p := fr.Page()

	applyPruneEdits(p,
		ps.redirected[:ps.nredirected*2],
		ps.tombstoned[:ps.ntombstoned],
		ps.freed[:ps.nfreed])

	p.SetPruneHint(ps.newPruneHint)

	// No point re-running prune/defrag until something else happens here.
	p.ClearFull()

	fr.MarkDirty()

	if pr.wal != nil {
		lsn, err := pr.wal.LogPrune(ps.pruneRecord())
		if err != nil {
			criticalf(ps.pageID, "prune cannot be logged: %v", err)
		}
		p.SetLSN(lsn)
	}
}

// applyPruneEdits performs the slot rewrites shared by the live prune path
// and redo replay: redirects first, then tombstones, then frees, then
// storage compaction. Every rewrite is cross-checked against the page so a
// bad plan (or a bad log record) is caught before it becomes silent
// corruption.
func applyPruneEdits(p *page.Page, redirected, tombstoned, freed []primitives.SlotID) {
	pid := p.ID()

	for i := 0; i+1 < len(redirected); i += 2 {
		from, to := redirected[i], redirected[i+1]

		fs, ok := p.SlotAt(from)
		if !ok {
			criticalf(pid, "redirect source %d out of range", from)
		}
		if fs.IsRedirect() {
			// Maintaining an existing redirect from an already-pruned
			// chain; re-pointing it at itself would be a planning bug.
			if fs.RedirectTarget() == to {
				criticalf(pid, "redundant redirect %d -> %d", from, to)
			}
		} else {
			// A fresh redirect replaces the first member of a chain, which
			// must be a stored, non-heap-only version.
			if !fs.HasStorage() {
				criticalf(pid, "redirect source %d has no storage", from)
			}
			hdr, err := p.RowHeaderAt(from)
			if err != nil {
				criticalf(pid, "redirect source %d: %v", from, err)
			}
			if hdr.IsHeapOnly() {
				criticalf(pid, "redirect source %d is heap-only", from)
			}
		}

		// The target must already be a stored heap-only version. There is
		// at most one redirect per chain; it is what lets index cleanup
		// find the right entry once the whole chain dies, so a heap-only
		// version can never replace it.
		tSlot, ok := p.SlotAt(to)
		if !ok || !tSlot.HasStorage() {
			criticalf(pid, "redirect target %d is not a stored row version", to)
		}
		thdr, err := p.RowHeaderAt(to)
		if err != nil {
			criticalf(pid, "redirect target %d: %v", to, err)
		}
		if !thdr.IsHeapOnly() {
			criticalf(pid, "redirect target %d is not heap-only", to)
		}

		if err := p.SetRedirect(from, to); err != nil {
			criticalf(pid, "apply redirect %d -> %d: %v", from, to, err)
		}
	}

	for _, sn := range tombstoned {
		s, ok := p.SlotAt(sn)
		if !ok {
			criticalf(pid, "tombstone slot %d out of range", sn)
		}
		if s.HasStorage() {
			// A tombstone is left behind when an index may still point at
			// the item. That is never the case for a heap-only version.
			hdr, err := p.RowHeaderAt(sn)
			if err != nil {
				criticalf(pid, "tombstone slot %d: %v", sn, err)
			}
			if hdr.IsHeapOnly() {
				criticalf(pid, "tombstone slot %d is heap-only", sn)
			}
		} else if !s.IsRedirect() {
			criticalf(pid, "tombstone slot %d owns neither storage nor a redirect", sn)
		}

		if err := p.SetDead(sn); err != nil {
			criticalf(pid, "apply tombstone %d: %v", sn, err)
		}
	}

	for _, sn := range freed {
		s, ok := p.SlotAt(sn)
		if !ok || !s.HasStorage() {
			criticalf(pid, "freed slot %d is not a stored row version", sn)
		}
		hdr, err := p.RowHeaderAt(sn)
		if err != nil {
			criticalf(pid, "freed slot %d: %v", sn, err)
		}
		if !hdr.IsHeapOnly() {
			criticalf(pid, "freed slot %d is not heap-only", sn)
		}

		if err := p.SetUnused(sn); err != nil {
			criticalf(pid, "apply free %d: %v", sn, err)
		}
	}

	p.Repair()

	// Marking a slot unused can orphan a redirect in ways the per-edit
	// checks above cannot see, so re-verify the whole page afterwards.
	if err := p.VerifyRedirects(); err != nil {
		criticalf(pid, "post-prune verification failed: %v", err)
	}
}

// RedoPrune replays a logged prune against the page image it was recorded
// for, re-applying the stored slot edits without re-deriving which versions
// were eliminated. lsn is the record's log position, stamped on the page.
func RedoPrune(p *page.Page, rec *record.PruneRecord, lsn primitives.LSN) {
	applyPruneEdits(p, rec.Redirected, rec.Tombstoned, rec.Freed)
	p.SetLSN(lsn)
}
