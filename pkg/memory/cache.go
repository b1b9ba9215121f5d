// Package memory implements the in-memory page cache that hands out pinned
// page frames and arbitrates the per-page cleanup lock pruning requires.
package memory

import (
	"errors"
	"fmt"
	"sync"

	"heapstore/pkg/primitives"
	"heapstore/pkg/storage/page"
)

// ErrCacheFull is returned when every cached frame is pinned or dirty and
// nothing can be evicted.
var ErrCacheFull = errors.New("page cache full")

// Config holds cache settings.
type Config struct {
	// Capacity is the maximum number of cached pages.
	Capacity int
}

// DefaultConfig returns the default cache settings.
func DefaultConfig() Config {
	return Config{Capacity: 128}
}

// Frame is a cached page together with its pin count, dirty state, and
// cleanup lock. All fields are guarded by the owning cache's mutex.
type Frame struct {
	cache *PageCache
	page  *page.Page

	pins        int
	dirty       bool
	dirtyHint   bool
	cleanupHeld bool
	lastUsed    uint64
}

// Page returns the cached page image. Stable while the frame stays pinned.
func (f *Frame) Page() *page.Page {
	return f.page
}

// Pin takes an additional pin on the frame.
func (f *Frame) Pin() {
	f.cache.mutex.Lock()
	defer f.cache.mutex.Unlock()
	f.pins++
	f.lastUsed = f.cache.nextTick()
}

// Unpin drops one pin. Dropping to a single remaining pin may unblock a
// waiting CleanupLock.
func (f *Frame) Unpin() {
	f.cache.mutex.Lock()
	defer f.cache.mutex.Unlock()

	if f.pins == 0 {
		panic(fmt.Sprintf("unpin of unpinned page %v", f.page.ID()))
	}
	f.pins--
	f.cache.cond.Broadcast()
}

// MarkDirty records a logged modification of the page.
func (f *Frame) MarkDirty() {
	f.cache.mutex.Lock()
	defer f.cache.mutex.Unlock()
	f.dirty = true
}

// MarkDirtyHint records a best-effort hint write. The page is written back
// opportunistically; losing the hint on a crash is harmless because it will
// simply be recomputed.
func (f *Frame) MarkDirtyHint() {
	f.cache.mutex.Lock()
	defer f.cache.mutex.Unlock()
	f.dirtyHint = true
}

// IsDirty reports whether the frame carries any unwritten change, logged
// or hint.
func (f *Frame) IsDirty() bool {
	f.cache.mutex.Lock()
	defer f.cache.mutex.Unlock()
	return f.dirty || f.dirtyHint
}

// MarkClean resets the dirty state after the page has been written back.
func (f *Frame) MarkClean() {
	f.cache.mutex.Lock()
	defer f.cache.mutex.Unlock()
	f.dirty = false
	f.dirtyHint = false
}

// TryCleanupLock attempts to take the cleanup lock without blocking. The
// caller must hold a pin; the lock is granted only when that pin is the
// sole one, so no other holder can be mid-read of the page.
func (f *Frame) TryCleanupLock() bool {
	f.cache.mutex.Lock()
	defer f.cache.mutex.Unlock()

	if f.cleanupHeld || f.pins != 1 {
		return false
	}
	f.cleanupHeld = true
	return true
}

// CleanupLock blocks until the cleanup lock can be taken. The caller must
// hold a pin.
func (f *Frame) CleanupLock() {
	f.cache.mutex.Lock()
	defer f.cache.mutex.Unlock()

	for f.cleanupHeld || f.pins != 1 {
		f.cache.cond.Wait()
	}
	f.cleanupHeld = true
}

// ReleaseCleanupLock drops the cleanup lock.
func (f *Frame) ReleaseCleanupLock() {
	f.cache.mutex.Lock()
	defer f.cache.mutex.Unlock()

	if !f.cleanupHeld {
		panic(fmt.Sprintf("cleanup lock of page %v not held", f.page.ID()))
	}
	f.cleanupHeld = false
	f.cache.cond.Broadcast()
}

// PageCache caches page frames up to a fixed capacity, evicting the least
// recently used clean, unpinned frame when space is needed.
type PageCache struct {
	mutex  sync.Mutex
	cond   *sync.Cond
	frames map[primitives.PageID]*Frame

	capacity int
	tick     uint64
}

// NewPageCache creates an empty cache.
func NewPageCache(cfg Config) *PageCache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	pc := &PageCache{
		frames:   make(map[primitives.PageID]*Frame),
		capacity: cfg.Capacity,
	}
	pc.cond = sync.NewCond(&pc.mutex)
	return pc
}

// Put inserts a page and returns its frame, pinned once. Fails when the
// page is already cached or when the cache is full of pinned or dirty
// frames.
func (pc *PageCache) Put(p *page.Page) (*Frame, error) {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	pid := p.ID()
	if _, ok := pc.frames[pid]; ok {
		return nil, fmt.Errorf("page %v already cached", pid)
	}

	if len(pc.frames) >= pc.capacity {
		if err := pc.evictLocked(); err != nil {
			return nil, err
		}
	}

	f := &Frame{
		cache:    pc,
		page:     p,
		pins:     1,
		lastUsed: pc.nextTick(),
	}
	pc.frames[pid] = f
	return f, nil
}

// Get returns the frame for a cached page, pinned once more, or false when
// the page is not cached.
func (pc *PageCache) Get(pid primitives.PageID) (*Frame, bool) {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	f, ok := pc.frames[pid]
	if !ok {
		return nil, false
	}
	f.pins++
	f.lastUsed = pc.nextTick()
	return f, true
}

// Len returns the number of cached pages.
func (pc *PageCache) Len() int {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()
	return len(pc.frames)
}

func (pc *PageCache) evictLocked() error {
	var victim *Frame
	var victimID primitives.PageID

	for pid, f := range pc.frames {
		if f.pins > 0 || f.dirty || f.dirtyHint {
			continue
		}
		if victim == nil || f.lastUsed < victim.lastUsed {
			victim = f
			victimID = pid
		}
	}
	if victim == nil {
		return ErrCacheFull
	}
	delete(pc.frames, victimID)
	return nil
}

func (pc *PageCache) nextTick() uint64 {
	pc.tick++
	return pc.tick
}
