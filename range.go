package cowtree

import "cowtree/internal/btree"

// Bound is one end of a key range
type Bound[K any] struct {
	kind btree.BoundKind
	key  K
}

// Included bounds a range at k, inclusive
func Included[K any](k K) Bound[K] {
	return Bound[K]{kind: btree.Included, key: k}
}

// Excluded bounds a range at k, exclusive
func Excluded[K any](k K) Bound[K] {
	return Bound[K]{kind: btree.Excluded, key: k}
}

// Unbounded leaves one end of a range open
func Unbounded[K any]() Bound[K] {
	return Bound[K]{}
}

// Range selects keys between Start and End. The zero Range selects every
// key in ascending order.
type Range[K any] struct {
	Start   Bound[K]
	End     Bound[K]
	Reverse bool
}

// Between returns the range [start, end)
func Between[K any](start, end K) Range[K] {
	return Range[K]{Start: Included(start), End: Excluded(end)}
}

// From returns the range of keys >= start
func From[K any](start K) Range[K] {
	return Range[K]{Start: Included(start)}
}

// Until returns the range of keys < end
func Until[K any](end K) Range[K] {
	return Range[K]{End: Excluded(end)}
}

// Rev returns the same range iterated from the end
func (r Range[K]) Rev() Range[K] {
	r.Reverse = !r.Reverse
	return r
}

func (r Range[K]) encode(codec Key[K]) btree.Range {
	return btree.Range{
		Start:   encodeBound(r.Start, codec),
		End:     encodeBound(r.End, codec),
		Reverse: r.Reverse,
	}
}

func encodeBound[K any](b Bound[K], codec Key[K]) btree.Bound {
	if b.kind == btree.Unbounded {
		return btree.Bound{}
	}
	return btree.Bound{Kind: b.kind, Key: codec.AsBytes(b.key)}
}

// RangeIter yields the entries of a range lazily. Entries are pinned until
// closed; the iterator itself holds pins on the leaf it is positioned on
// until Close.
type RangeIter[K, V any] struct {
	it    *btree.RangeIter
	key   Key[K]
	value Value[V]
}

// Next returns the next entry or nil at the end of the range
func (r *RangeIter[K, V]) Next() (*Entry[K, V], error) {
	p, err := r.it.Next()
	if err != nil || p == nil {
		return nil, err
	}
	return newEntry(p, r.key, r.value), nil
}

// Reset restarts the iteration from the beginning of the range
func (r *RangeIter[K, V]) Reset() error {
	return r.it.Reset()
}

func (r *RangeIter[K, V]) Close() {
	r.it.Close()
}

// ExtractIter removes and yields the entries of a range that match a
// predicate. Removal is lazy; entries not yet yielded stay in the tree if
// the iterator is closed early.
type ExtractIter[K, V any] struct {
	it    *btree.ExtractIter
	key   Key[K]
	value Value[V]
}

func (e *ExtractIter[K, V]) Next() (*Entry[K, V], error) {
	p, err := e.it.Next()
	if err != nil || p == nil {
		return nil, err
	}
	return newEntry(p, e.key, e.value), nil
}

// Close finishes the extraction and frees the pages it emptied
func (e *ExtractIter[K, V]) Close() {
	e.it.Close()
}
