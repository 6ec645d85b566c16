package storage

import (
	"sync"

	"cowtree/internal/base"
)

// FreedPages collects committed pages that became unreachable during the
// open write transaction. They may only be reused once no reader can still
// observe them, so the transaction drains the list at commit.
type FreedPages struct {
	mu    sync.Mutex
	pages []base.PageNumber
}

// NewFreedPages creates an empty list
func NewFreedPages() *FreedPages {
	return &FreedPages{}
}

// Push appends a page number
func (f *FreedPages) Push(n base.PageNumber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, n)
}

// Drain removes and returns every queued page number
func (f *FreedPages) Drain() []base.PageNumber {
	f.mu.Lock()
	defer f.mu.Unlock()
	pages := f.pages
	f.pages = nil
	return pages
}

// Len returns the number of queued pages
func (f *FreedPages) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pages)
}

// Contains reports whether n is queued
func (f *FreedPages) Contains(n base.PageNumber) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pages {
		if p == n {
			return true
		}
	}
	return false
}
