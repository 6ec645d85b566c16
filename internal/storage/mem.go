package storage

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/btree"

	"cowtree/internal/base"
)

// MemStore keeps every page in memory. Page numbers are reused lowest-first.
type MemStore struct {
	mu          sync.RWMutex
	pageSize    int
	pages       map[base.PageNumber]*Page
	uncommitted map[base.PageNumber]struct{}
	free        *btree.BTreeG[base.PageNumber] // freed page numbers below next
	next        base.PageNumber                // high water mark
	root        *base.BtreeHeader
	bufPool     sync.Pool
	closed      bool

	reads  atomic.Uint64
	writes atomic.Uint64
}

// NewMemStore creates an empty store. pageSize must be a power of two >= 512.
func NewMemStore(pageSize int) (*MemStore, error) {
	if err := ValidatePageSize(pageSize); err != nil {
		return nil, err
	}
	m := &MemStore{
		pageSize:    pageSize,
		pages:       make(map[base.PageNumber]*Page),
		uncommitted: make(map[base.PageNumber]struct{}),
		free:        btree.NewOrderedG[base.PageNumber](16),
	}
	m.bufPool.New = func() any {
		buf := make([]byte, pageSize)
		return &buf
	}
	return m, nil
}

// ValidatePageSize checks that size is a power of two of at least
// MinPageSize bytes
func ValidatePageSize(size int) error {
	if size < MinPageSize || size&(size-1) != 0 {
		return fmt.Errorf("%w: %d", base.ErrInvalidPageSize, size)
	}
	return nil
}

const (
	MinPageSize     = 512
	DefaultPageSize = 4096
)

func (m *MemStore) PageSize() int {
	return m.pageSize
}

func (m *MemStore) GetPage(n base.PageNumber) (*Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	p, ok := m.pages[n]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPageNotAllocated, n)
	}
	m.reads.Add(1)
	return p, nil
}

func (m *MemStore) GetPageMut(n base.PageNumber) (*Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	if _, ok := m.uncommitted[n]; !ok {
		panic(fmt.Sprintf("page %d is committed and cannot be mutated", n))
	}
	m.writes.Add(1)
	return m.pages[n], nil
}

func (m *MemStore) Allocate() (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	n, ok := m.free.DeleteMin()
	if !ok {
		n = m.next
		m.next++
	}
	buf := *(m.bufPool.Get().(*[]byte))
	clear(buf)
	p := newPage(n, buf)
	m.pages[n] = p
	m.uncommitted[n] = struct{}{}
	return p, nil
}

func (m *MemStore) Uncommitted(n base.PageNumber) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.uncommitted[n]
	return ok
}

func (m *MemStore) Free(n base.PageNumber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freeLocked(n)
}

func (m *MemStore) FreeIfUncommitted(n base.PageNumber) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.uncommitted[n]; !ok {
		return false
	}
	m.freeLocked(n)
	return true
}

func (m *MemStore) freeLocked(n base.PageNumber) {
	p, ok := m.pages[n]
	if !ok {
		panic(fmt.Sprintf("double free of page %d", n))
	}
	delete(m.pages, n)
	delete(m.uncommitted, n)
	m.free.ReplaceOrInsert(n)
	// a pinned buffer is still visible through a guard, let the GC have it
	if !p.Pinned() {
		buf := p.data
		m.bufPool.Put(&buf)
	}
}

func (m *MemStore) Commit(root *base.BtreeHeader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	clear(m.uncommitted)
	m.root = root
	return nil
}

func (m *MemStore) Rollback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for n := range m.uncommitted {
		m.freeLocked(n)
	}
}

func (m *MemStore) Root() *base.BtreeHeader {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.root
}

func (m *MemStore) LowestFree() (base.PageNumber, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.free.Min()
}

func (m *MemStore) RebuildFreeList(reachable map[base.PageNumber]struct{}) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	freed := 0
	for n := range m.pages {
		if _, ok := reachable[n]; !ok {
			m.freeLocked(n)
			freed++
		}
	}
	return freed
}

func (m *MemStore) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Allocated:   uint64(len(m.pages)),
		Uncommitted: uint64(len(m.uncommitted)),
		Free:        uint64(m.free.Len()),
		Reads:       m.reads.Load(),
		Writes:      m.writes.Load(),
	}
}

func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
