// Package store wires the engine together: the transaction registry, the
// page cache, the write-ahead log, and the pruner, plus log replay on
// startup.
package store

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"heapstore/pkg/concurrency/transaction"
	"heapstore/pkg/log/wal"
	"heapstore/pkg/memory"
	"heapstore/pkg/primitives"
	"heapstore/pkg/storage/heap"
	"heapstore/pkg/storage/page"
)

// Config holds the settings of every component the store owns.
type Config struct {
	LogPath       string
	WALBufferSize int
	Cache         memory.Config
	Registry      transaction.Config
	Prune         heap.Config
}

// DefaultConfig returns defaults for everything but LogPath, which has no
// sensible default and must be set.
func DefaultConfig() Config {
	return Config{
		WALBufferSize: wal.DefaultBufferSize,
		Cache:         memory.DefaultConfig(),
		Registry:      transaction.DefaultConfig(),
		Prune:         heap.DefaultConfig(),
	}
}

// Store owns one heap store: its log, cache, transaction registry, and
// pruner.
type Store struct {
	registry *transaction.Registry
	cache    *memory.PageCache
	wal      *wal.WAL
	pruner   *heap.Pruner
	logger   *slog.Logger

	mutex    sync.Mutex
	nextPage map[primitives.TableID]primitives.PageNumber
}

// NewStore opens (or creates) the store backed by the log at cfg.LogPath.
// logger may be nil to use the default.
func NewStore(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LogPath == "" {
		return nil, fmt.Errorf("store config has no log path")
	}

	w, err := wal.NewWAL(cfg.LogPath, cfg.WALBufferSize, logger)
	if err != nil {
		return nil, err
	}

	registry := transaction.NewRegistry(cfg.Registry)

	s := &Store{
		registry: registry,
		cache:    memory.NewPageCache(cfg.Cache),
		wal:      w,
		pruner:   heap.NewPruner(registry, registry, registry, w, cfg.Prune),
		logger:   logger,
		nextPage: make(map[primitives.TableID]primitives.PageNumber),
	}
	return s, nil
}

// Registry returns the store's transaction registry.
func (s *Store) Registry() *transaction.Registry { return s.registry }

// Begin starts a transaction.
func (s *Store) Begin() primitives.TxID { return s.registry.Begin() }

// Commit commits a transaction.
func (s *Store) Commit(xid primitives.TxID) error { return s.registry.Commit(xid) }

// Abort aborts a transaction.
func (s *Store) Abort(xid primitives.TxID) error { return s.registry.Abort(xid) }

// AllocatePage creates a fresh page for the given table and returns its
// frame, pinned once.
func (s *Store) AllocatePage(table primitives.TableID) (*memory.Frame, error) {
	s.mutex.Lock()
	s.nextPage[table]++
	pid := primitives.PageID{Table: table, Page: s.nextPage[table]}
	s.mutex.Unlock()

	return s.cache.Put(page.NewPage(pid))
}

// LoadPage caches an existing page image, as read from a table file, and
// returns its frame, pinned once.
func (s *Store) LoadPage(p *page.Page) (*memory.Frame, error) {
	s.mutex.Lock()
	if s.nextPage[p.ID().Table] < p.ID().Page {
		s.nextPage[p.ID().Table] = p.ID().Page
	}
	s.mutex.Unlock()

	return s.cache.Put(p)
}

// Page returns the cached frame for a page, pinned once more.
func (s *Store) Page(pid primitives.PageID) (*memory.Frame, bool) {
	return s.cache.Get(pid)
}

// PrunePage gives the frame's page its opportunistic pruning chance. The
// caller must hold a pin and no cleanup lock. Returns the number of row
// versions deleted, zero when pruning was skipped.
func (s *Store) PrunePage(fr *memory.Frame) int {
	return s.pruner.PruneOpportunistic(fr)
}

// Recover replays logged prunes onto the currently cached page images.
// A record is applied only when the cached page's LSN predates it, so
// images that already contain the change are left alone.
func (s *Store) Recover() (int, error) {
	r, err := wal.NewLogReader(s.wal.LogPath())
	if err != nil {
		return 0, err
	}
	defer r.Close()

	if r.StoreID() != s.wal.StoreID() {
		return 0, fmt.Errorf("log belongs to store %v, not %v", r.StoreID(), s.wal.StoreID())
	}

	applied := 0
	for {
		rec, err := r.ReadNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return applied, fmt.Errorf("log replay failed: %w", err)
		}

		fr, ok := s.cache.Get(rec.Page)
		if !ok {
			continue
		}
		if fr.Page().LSN() < rec.LSN {
			heap.RedoPrune(fr.Page(), rec, rec.LSN)
			fr.MarkDirty()
			applied++
		}
		fr.Unpin()
	}

	if applied > 0 {
		s.logger.Info("log replay complete", "records_applied", applied)
	}
	return applied, nil
}

// Close flushes and closes the log.
func (s *Store) Close() error {
	return s.wal.Close()
}
