package btree

import (
	"cowtree/internal/storage"
)

// Guard keeps the bytes of a key or value alive. A pinned guard aliases a
// store page and holds a pin on it; an owned guard holds a private copy,
// used when the page the bytes came from is freed or rewritten by the same
// call.
type Guard struct {
	page *storage.Page // nil for an owned guard
	data []byte
}

func pinnedGuard(p *storage.Page, start, end int) *Guard {
	p.Pin()
	return &Guard{page: p, data: p.Data()[start:end:end]}
}

// OwnedGuard returns a guard over a copy of data
func OwnedGuard(data []byte) *Guard {
	return &Guard{data: append(make([]byte, 0, len(data)), data...)}
}

// Bytes returns the guarded bytes. The slice is valid until Release.
func (g *Guard) Bytes() []byte {
	return g.data
}

// Owned reports whether the guard holds a private copy
func (g *Guard) Owned() bool {
	return g.page == nil
}

// Release drops the page pin. Safe to call more than once.
func (g *Guard) Release() {
	if g == nil || g.page == nil {
		return
	}
	g.page.Unpin()
	g.page = nil
}

// GuardMut is a writable view over a value inside an uncommitted leaf
type GuardMut struct {
	page *storage.Page
	data []byte
}

func (g *GuardMut) Bytes() []byte {
	return g.data
}

func (g *GuardMut) Release() {
	if g == nil || g.page == nil {
		return
	}
	g.page.Unpin()
	g.page = nil
}

// Pair is a key and value returned together, e.g. by a removal
type Pair struct {
	Key   *Guard
	Value *Guard
}

// Release releases both guards
func (p *Pair) Release() {
	if p == nil {
		return
	}
	p.Key.Release()
	p.Value.Release()
}
