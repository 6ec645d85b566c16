package cowtree

import (
	"cmp"
	"slices"

	"cowtree/internal/btree"
	"cowtree/internal/storage"
)

// BtreeMut is the writable tree of the open write transaction. Mutations go
// to new or uncommitted pages; committed pages are never modified, so
// snapshots taken before keep reading the old tree. Pages the tree stops
// referencing are queued on the store's freed list and released after the
// commit that drops them.
//
// BtreeMut is not safe for concurrent use.
type BtreeMut[K, V any] struct {
	store *Store
	tree  *btree.TreeMut
	key   Key[K]
	value Value[V]
}

// NewBtreeMut opens the tree at root for writing. A nil root starts an
// empty tree.
func NewBtreeMut[K, V any](s *Store, root *BtreeHeader, key Key[K], value Value[V]) *BtreeMut[K, V] {
	return &BtreeMut[K, V]{
		store: s,
		tree:  btree.NewTreeMut(s.backend, root, s.freed, schemaOf(key, value)),
		key:   key,
		value: value,
	}
}

// Root returns the current header. Checksums of pages written since the
// last FinalizeDirtyChecksums are Deferred.
func (t *BtreeMut[K, V]) Root() *BtreeHeader {
	return t.tree.Root()
}

func (t *BtreeMut[K, V]) Len() uint64 {
	return t.tree.Len()
}

func (t *BtreeMut[K, V]) IsEmpty() bool {
	return t.tree.Len() == 0
}

func (t *BtreeMut[K, V]) Get(k K) (*AccessGuard[V], error) {
	g, err := t.tree.Get(t.key.AsBytes(k))
	if err != nil {
		return nil, err
	}
	return newGuard(g, t.value), nil
}

func (t *BtreeMut[K, V]) First() (*Entry[K, V], error) {
	p, err := t.tree.First()
	if err != nil {
		return nil, err
	}
	return newEntry(p, t.key, t.value), nil
}

func (t *BtreeMut[K, V]) Last() (*Entry[K, V], error) {
	p, err := t.tree.Last()
	if err != nil {
		return nil, err
	}
	return newEntry(p, t.key, t.value), nil
}

// Range iterates the tree as it is now. Close the iterator before the next
// mutation.
func (t *BtreeMut[K, V]) Range(r Range[K]) (*RangeIter[K, V], error) {
	it, err := t.tree.Range(r.encode(t.key))
	if err != nil {
		return nil, err
	}
	return &RangeIter[K, V]{it: it, key: t.key, value: t.value}, nil
}

// Insert stores v under k and returns the value it replaced, or nil
func (t *BtreeMut[K, V]) Insert(k K, v V) (*AccessGuard[V], error) {
	g, err := t.tree.Insert(t.key.AsBytes(k), t.value.AsBytes(v))
	if err != nil {
		return nil, err
	}
	return newGuard(g, t.value), nil
}

// InsertInPlace overwrites the value of k without allocating. The key must
// exist, every page on its path must be uncommitted and the new value must
// not be longer than the old one; anything else panics.
func (t *BtreeMut[K, V]) InsertInPlace(k K, v V) error {
	return t.tree.InsertInPlace(t.key.AsBytes(k), t.value.AsBytes(v))
}

// InsertReserve stores a zeroed value of length bytes under k and returns a
// writable guard over it. Only byte string value types can be reserved.
func (t *BtreeMut[K, V]) InsertReserve(k K, length int) (*AccessGuardMut, error) {
	if _, ok := t.value.(reservable); !ok {
		return nil, ErrValueNotReservable
	}
	g, err := t.tree.InsertReserve(t.key.AsBytes(k), length)
	if err != nil {
		return nil, err
	}
	return &AccessGuardMut{guard: g}, nil
}

// Remove deletes k and returns the removed entry, or nil if k was absent
func (t *BtreeMut[K, V]) Remove(k K) (*Entry[K, V], error) {
	p, err := t.tree.Remove(t.key.AsBytes(k))
	if err != nil {
		return nil, err
	}
	return newEntry(p, t.key, t.value), nil
}

func (t *BtreeMut[K, V]) PopFirst() (*Entry[K, V], error) {
	p, err := t.tree.PopFirst()
	if err != nil {
		return nil, err
	}
	return newEntry(p, t.key, t.value), nil
}

func (t *BtreeMut[K, V]) PopLast() (*Entry[K, V], error) {
	p, err := t.tree.PopLast()
	if err != nil {
		return nil, err
	}
	return newEntry(p, t.key, t.value), nil
}

// RetainIn removes every entry within r for which keep returns false.
// Entries outside r are untouched.
func (t *BtreeMut[K, V]) RetainIn(r Range[K], keep func(k K, v V) bool) error {
	return t.tree.RetainIn(r.encode(t.key), func(key, value []byte) bool {
		return keep(t.key.FromBytes(key), t.value.FromBytes(value))
	})
}

// Retain removes every entry for which keep returns false
func (t *BtreeMut[K, V]) Retain(keep func(k K, v V) bool) error {
	return t.RetainIn(Range[K]{}, keep)
}

// ExtractFromIf returns an iterator that removes and yields the entries
// within r matching pred
func (t *BtreeMut[K, V]) ExtractFromIf(r Range[K], pred func(k K, v V) bool) (*ExtractIter[K, V], error) {
	it, err := t.tree.ExtractFromIf(r.encode(t.key), func(key, value []byte) bool {
		return pred(t.key.FromBytes(key), t.value.FromBytes(value))
	})
	if err != nil {
		return nil, err
	}
	return &ExtractIter[K, V]{it: it, key: t.key, value: t.value}, nil
}

// ExtractIf is ExtractFromIf over the whole tree
func (t *BtreeMut[K, V]) ExtractIf(pred func(k K, v V) bool) (*ExtractIter[K, V], error) {
	return t.ExtractFromIf(Range[K]{}, pred)
}

// FinalizeDirtyChecksums computes the checksum of every page written since
// the last call and returns the header to commit
func (t *BtreeMut[K, V]) FinalizeDirtyChecksums() (*BtreeHeader, error) {
	return t.tree.FinalizeDirtyChecksums()
}

// DirtyLeafVisitor calls visitor with the bytes of every leaf written in
// this transaction
func (t *BtreeMut[K, V]) DirtyLeafVisitor(visitor func(leaf []byte) error) error {
	return t.tree.DirtyLeafVisitor(func(p *storage.Page) error {
		return visitor(p.Data())
	})
}

// Relocate copies each page in relocations to its mapped page, which must
// be allocated and uncommitted. Ancestors of a moved page must be mapped as
// well. Returns true if the root moved.
func (t *BtreeMut[K, V]) Relocate(relocations map[PageNumber]PageNumber) (bool, error) {
	return t.tree.Relocate(relocations)
}

// Compact moves pages to the lowest free page numbers of the store, highest
// pages first, and rewrites their ancestors. Returns true if any page moved.
func (t *BtreeMut[K, V]) Compact() (bool, error) {
	relocations, err := t.store.relocationPlan(t.tree.VisitAllPages)
	if err != nil {
		return false, err
	}
	if len(relocations) == 0 {
		return false, nil
	}
	if _, err := t.tree.Relocate(relocations); err != nil {
		return false, err
	}
	t.store.logger.Info("relocated pages", "moved", len(relocations))
	return true, nil
}

// VerifyChecksum recomputes every committed page checksum. A failure is
// logged with the first page that did not match.
func (t *BtreeMut[K, V]) VerifyChecksum() (bool, error) {
	ok, err := t.tree.VerifyChecksum()
	if err == nil && !ok {
		t.store.logVerifyFailure(t.tree.Root())
	}
	return ok, err
}

func (t *BtreeMut[K, V]) Stats() (Stats, error) {
	return t.tree.Stats()
}

func (t *BtreeMut[K, V]) VisitAllPages(visitor func(path *PagePath) error) error {
	return t.tree.VisitAllPages(visitor)
}

func (t *BtreeMut[K, V]) DebugString() (string, error) {
	return btree.NewTree(t.store.backend, t.tree.Root(), schemaOf(t.key, t.value)).Dump(keyFormatter(t.key))
}

// collectPaths returns every page path of a tree, highest page number first
func collectPaths(visit func(func(*PagePath) error) error) ([]*PagePath, error) {
	var paths []*PagePath
	err := visit(func(path *PagePath) error {
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(paths, func(a, b *PagePath) int {
		return cmp.Compare(b.PageNumber(), a.PageNumber())
	})
	return paths, nil
}
