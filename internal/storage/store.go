// Package storage provides the page stores the B-tree core runs on: an
// in-memory store for tests and ephemeral trees, and a file-backed store
// with a dual meta page and a bounded read cache.
package storage

import (
	"errors"

	"cowtree/internal/base"
)

var (
	ErrPageNotAllocated = errors.New("page not allocated")
	ErrPageOutOfRange   = errors.New("page number beyond end of store")
	ErrStoreClosed      = errors.New("store closed")
)

// PageStore is the page allocator and cache the tree algorithms operate on.
// Pages are addressed only by number; no tree structure holds a direct
// pointer to another page.
type PageStore interface {
	// GetPage returns a read-only view of a page
	GetPage(n base.PageNumber) (*Page, error)
	// GetPageMut returns the writable page. Panics if the page is committed.
	GetPageMut(n base.PageNumber) (*Page, error)
	// Allocate returns a zeroed, uncommitted page
	Allocate() (*Page, error)
	// Uncommitted reports whether the page was allocated by the open write
	// transaction and may be mutated in place
	Uncommitted(n base.PageNumber) bool
	// Free returns a page to the allocator immediately
	Free(n base.PageNumber)
	// FreeIfUncommitted frees the page and returns true only if it is
	// uncommitted. Committed pages are left alone.
	FreeIfUncommitted(n base.PageNumber) bool
	PageSize() int
}

// Backend is a PageStore with a commit lifecycle
type Backend interface {
	PageStore

	// Commit makes every uncommitted page durable and records root as the
	// committed tree. A nil root records an empty tree.
	Commit(root *base.BtreeHeader) error
	// Rollback frees every uncommitted page
	Rollback()
	// Root returns the last committed header
	Root() *base.BtreeHeader
	// LowestFree returns the smallest reusable page number
	LowestFree() (base.PageNumber, bool)
	// RebuildFreeList marks every allocated page not in reachable as free
	RebuildFreeList(reachable map[base.PageNumber]struct{}) int
	Stats() Stats
	Close() error
}

// Stats holds allocation and I/O counters
type Stats struct {
	Allocated   uint64
	Uncommitted uint64
	Free        uint64
	Reads       uint64
	Writes      uint64
	CacheHits   uint64
	CacheMisses uint64
}
