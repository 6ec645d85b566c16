package cowtree

import "cowtree/internal/btree"

// AccessGuard gives access to a stored key or value. A guard either pins
// the page the bytes live on or owns a private copy; pinned guards must be
// closed so the page can be recycled.
type AccessGuard[T any] struct {
	guard *btree.Guard
	codec Value[T]
}

func newGuard[T any](g *btree.Guard, codec Value[T]) *AccessGuard[T] {
	if g == nil {
		return nil
	}
	return &AccessGuard[T]{guard: g, codec: codec}
}

// Value decodes the guarded bytes
func (g *AccessGuard[T]) Value() T {
	return g.codec.FromBytes(g.guard.Bytes())
}

// Bytes returns the encoded form. The slice is valid until Close.
func (g *AccessGuard[T]) Bytes() []byte {
	return g.guard.Bytes()
}

// Owned reports whether the guard holds a copy rather than a page pin
func (g *AccessGuard[T]) Owned() bool {
	return g.guard.Owned()
}

// Close releases the page pin. Safe on a nil guard and safe to repeat.
func (g *AccessGuard[T]) Close() {
	if g == nil {
		return
	}
	g.guard.Release()
}

// AccessGuardMut is a writable window over a value reserved with
// InsertReserve. Writes are visible to the tree immediately; Close before
// the next mutation of the tree.
type AccessGuardMut struct {
	guard *btree.GuardMut
}

// Bytes returns the reserved value bytes for the caller to fill in
func (g *AccessGuardMut) Bytes() []byte {
	return g.guard.Bytes()
}

func (g *AccessGuardMut) Close() {
	if g == nil {
		return
	}
	g.guard.Release()
}

// Entry is a key and value returned together
type Entry[K, V any] struct {
	Key   *AccessGuard[K]
	Value *AccessGuard[V]
}

func newEntry[K, V any](p *btree.Pair, key Key[K], value Value[V]) *Entry[K, V] {
	if p == nil {
		return nil
	}
	return &Entry[K, V]{Key: newGuard[K](p.Key, key), Value: newGuard(p.Value, value)}
}

// Close releases both guards
func (e *Entry[K, V]) Close() {
	if e == nil {
		return
	}
	e.Key.Close()
	e.Value.Close()
}
