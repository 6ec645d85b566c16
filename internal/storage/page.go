package storage

import (
	"fmt"
	"sync/atomic"

	"cowtree/internal/base"
)

// Page is a page-sized buffer handed out by a PageStore. The store owns the
// buffer; holders that keep a reference beyond the current call (guards,
// iterators) pin it so the store will not recycle the buffer.
type Page struct {
	number base.PageNumber
	data   []byte
	pins   atomic.Int32
}

func newPage(number base.PageNumber, data []byte) *Page {
	return &Page{number: number, data: data}
}

// Number returns the page number this buffer was loaded from
func (p *Page) Number() base.PageNumber {
	return p.number
}

// Data returns the page bytes. Callers may only write to the slice of a page
// obtained through GetPageMut or Allocate.
func (p *Page) Data() []byte {
	return p.data
}

// Pin marks the buffer as referenced
func (p *Page) Pin() {
	p.pins.Add(1)
}

// Unpin releases a reference taken with Pin
func (p *Page) Unpin() {
	if p.pins.Add(-1) < 0 {
		panic(fmt.Sprintf("page %d unpinned more times than pinned", p.number))
	}
}

// Pinned reports whether any holder still references the buffer
func (p *Page) Pinned() bool {
	return p.pins.Load() > 0
}
