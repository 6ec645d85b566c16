package cowtree

import (
	"fmt"
	"sync"
	"sync/atomic"

	"cowtree/internal/btree"
	"cowtree/internal/storage"
)

// StoreStats holds allocation and I/O counters of the page store
type StoreStats = storage.Stats

// Store owns the pages of one tree and its commit lifecycle. There is at
// most one writer at a time, working through a BtreeMut bound to the store;
// readers take snapshots of the last committed header.
//
// Pages a commit stops referencing are not reused right away. They are
// stamped with the commit's generation and released once every snapshot
// that could still reach them is closed.
type Store struct {
	mu         sync.Mutex
	backend    storage.Backend
	freed      *storage.FreedPages
	pending    *storage.PendingFrees
	generation uint64
	readers    map[uint64]int // snapshot generation -> open count
	logger     Logger
	options    Options
	closed     bool
}

// OpenMemory returns a store that keeps every page in memory
func OpenMemory(opts ...Option) (*Store, error) {
	o := buildOptions(opts)
	mem, err := storage.NewMemStore(o.pageSize)
	if err != nil {
		return nil, err
	}
	s := newStore(mem, 0, o)
	s.logger.Info("opened memory store", "page_size", o.pageSize)
	return s, nil
}

// Open opens or creates a file-backed store at path. The free page set is
// rebuilt from the pages reachable from the committed root, and every
// committed page is verified against its checksum.
func Open(path string, opts ...Option) (*Store, error) {
	o := buildOptions(opts)
	cache, err := o.newReadCache()
	if err != nil {
		return nil, err
	}
	fs, err := storage.OpenFile(path, storage.FileOptions{
		PageSize: o.pageSize,
		Sync:     o.syncMode == SyncEveryCommit,
		Cache:    cache,
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("configured read cache", "policy", o.readCache, "pages", o.readCacheSize)

	root := fs.Root()
	raw := btree.NewRawBtree(fs, root)
	failed, ok, err := raw.VerifyFailure()
	if err == nil && !ok {
		o.logger.Error("checksum verification failed", "path", path, "page", failed)
		err = fmt.Errorf("%w: page %d", ErrCorruption, failed)
	}
	var reachable map[PageNumber]struct{}
	if err == nil {
		reachable, err = raw.ReachablePages()
	}
	if err != nil {
		_ = fs.Close()
		return nil, err
	}
	free := fs.RebuildFreeList(reachable)
	o.logger.Info("rebuilt free list", "free", free, "reachable", len(reachable))

	s := newStore(fs, fs.Generation(), o)
	s.logger.Info("opened store",
		"path", path,
		"page_size", fs.PageSize(),
		"generation", s.generation,
		"root", rootPage(root),
		"sync", o.syncMode)
	return s, nil
}

func newStore(backend storage.Backend, generation uint64, o Options) *Store {
	return &Store{
		backend:    backend,
		freed:      storage.NewFreedPages(),
		pending:    storage.NewPendingFrees(),
		generation: generation,
		readers:    make(map[uint64]int),
		logger:     o.logger,
		options:    o,
	}
}

func rootPage(h *BtreeHeader) any {
	if h == nil {
		return "none"
	}
	return h.Root
}

func (s *Store) PageSize() int {
	return s.backend.PageSize()
}

// Committed returns the header of the last commit, nil for an empty tree
func (s *Store) Committed() *BtreeHeader {
	return s.backend.Root()
}

// Generation returns the number of commits made to the store
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Commit writes every page allocated since the last commit and records
// header as the committed tree. header must have its checksums finalized.
// Pages queued as freed by the writer become pending until no snapshot
// older than this commit remains.
func (s *Store) Commit(header *BtreeHeader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if header != nil && header.Checksum.IsDeferred() {
		panic("commit of a header with a deferred checksum")
	}
	dirty := s.backend.Stats().Uncommitted
	if err := s.backend.Commit(header); err != nil {
		s.logger.Error("commit failed", "generation", s.generation+1, "error", err)
		return err
	}
	s.generation++
	freed := s.freed.Drain()
	s.pending.Add(s.generation, freed)
	s.logger.Info("committed",
		"generation", s.generation,
		"root", rootPage(header),
		"dirty_pages", dirty,
		"deferred_frees", len(freed))
	s.releaseLocked()
	return nil
}

// Rollback discards every page allocated since the last commit. Pages the
// writer queued as freed are still part of the committed tree and are
// dropped from the queue.
func (s *Store) Rollback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	dropped := len(s.freed.Drain())
	dirty := s.backend.Stats().Uncommitted
	s.backend.Rollback()
	s.logger.Info("rolled back", "generation", s.generation, "discarded_pages", dirty, "dropped_frees", dropped)
}

// releaseLocked frees the pending pages no open snapshot can reach
func (s *Store) releaseLocked() {
	oldest := s.generation
	for g := range s.readers {
		oldest = min(oldest, g)
	}
	pages := s.pending.Release(oldest + 1)
	for _, n := range pages {
		s.backend.Free(n)
	}
	if len(pages) > 0 {
		s.logger.Info("released deferred frees", "pages", len(pages), "oldest_snapshot", oldest)
	}
}

// Snapshot pins the last committed tree for reading. Pages reachable from
// it stay allocated until the snapshot is closed.
func (s *Store) Snapshot() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	s.readers[s.generation]++
	return &Snapshot{store: s, root: s.backend.Root(), generation: s.generation}, nil
}

func (s *Store) closeSnapshot(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readers[generation]--; s.readers[generation] <= 0 {
		delete(s.readers, generation)
	}
	if !s.closed {
		s.releaseLocked()
	}
}

// Stats returns the page store counters
func (s *Store) Stats() StoreStats {
	return s.backend.Stats()
}

// relocationPlan maps the highest pages of a tree onto the lowest free page
// numbers, then maps every ancestor of a moved page onto a new page.
func (s *Store) relocationPlan(visit func(func(*PagePath) error) error) (map[PageNumber]PageNumber, error) {
	paths, err := collectPaths(visit)
	if err != nil {
		return nil, err
	}
	relocations := make(map[PageNumber]PageNumber)
	for _, path := range paths {
		low, ok := s.backend.LowestFree()
		if !ok || low >= path.PageNumber() {
			break
		}
		p, err := s.backend.Allocate()
		if err != nil {
			return nil, s.abandonPlan(relocations, err)
		}
		relocations[path.PageNumber()] = p.Number()
	}
	for _, path := range paths {
		if _, moved := relocations[path.PageNumber()]; !moved {
			continue
		}
		for _, parent := range path.Parents() {
			if _, mapped := relocations[parent]; mapped {
				continue
			}
			p, err := s.backend.Allocate()
			if err != nil {
				return nil, s.abandonPlan(relocations, err)
			}
			relocations[parent] = p.Number()
		}
	}
	return relocations, nil
}

func (s *Store) abandonPlan(relocations map[PageNumber]PageNumber, err error) error {
	for _, target := range relocations {
		s.backend.Free(target)
	}
	return fmt.Errorf("plan relocation: %w", err)
}

func (s *Store) logVerifyFailure(root *BtreeHeader) {
	failed, ok, err := btree.NewRawBtree(s.backend, root).VerifyFailure()
	if err == nil && !ok {
		s.logger.Error("checksum verification failed", "page", failed)
	}
}

// Close rolls back uncommitted pages and closes the backend. Open
// snapshots must not be used afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.freed.Drain()
	s.backend.Rollback()
	s.logger.Info("closed store", "generation", s.generation)
	return s.backend.Close()
}

// Snapshot is a read view of one committed generation
type Snapshot struct {
	store      *Store
	root       *BtreeHeader
	generation uint64
	closed     atomic.Bool
}

// Root returns the committed header the snapshot reads
func (sn *Snapshot) Root() *BtreeHeader {
	return sn.root
}

func (sn *Snapshot) Generation() uint64 {
	return sn.generation
}

func (sn *Snapshot) Closed() bool {
	return sn.closed.Load()
}

// Close unpins the generation. Safe to call more than once.
func (sn *Snapshot) Close() {
	if sn.closed.CompareAndSwap(false, true) {
		sn.store.closeSnapshot(sn.generation)
	}
}

// View takes a snapshot, opens the committed tree on it and calls fn
func View[K, V any](s *Store, key Key[K], value Value[V], fn func(t *Btree[K, V]) error) error {
	snap, err := s.Snapshot()
	if err != nil {
		return err
	}
	defer snap.Close()
	t, err := NewBtree(snap, snap.Root(), key, value)
	if err != nil {
		return err
	}
	return fn(t)
}

// Update opens the committed tree for writing and calls fn. If fn returns
// nil the tree is finalized and committed, otherwise the store is rolled
// back.
func Update[K, V any](s *Store, key Key[K], value Value[V], fn func(t *BtreeMut[K, V]) error) error {
	t := NewBtreeMut(s, s.Committed(), key, value)
	if err := fn(t); err != nil {
		s.Rollback()
		return err
	}
	header, err := t.FinalizeDirtyChecksums()
	if err != nil {
		s.Rollback()
		return err
	}
	if err := s.Commit(header); err != nil {
		s.Rollback()
		return err
	}
	return nil
}
