package cowtree

import (
	"fmt"

	"cowtree/internal/base"
	"cowtree/internal/btree"
)

// BtreeHeader locates a committed or in-progress tree: root page, root
// checksum and entry count. A nil header is the empty tree. PagePath is the
// chain of page numbers from the root to a visited page.
type (
	BtreeHeader = base.BtreeHeader
	PageNumber  = base.PageNumber
	Checksum    = base.Checksum
	PagePath    = btree.PagePath
	Stats       = btree.Stats
)

// Deferred is the checksum of a page whose content may still change before
// commit
const Deferred = base.Deferred

func schemaOf[K, V any](key Key[K], value Value[V]) btree.Schema {
	return btree.Schema{
		KeyWidth:   widthOf[K](key),
		ValueWidth: widthOf(value),
		Compare:    key.Compare,
	}
}

// Btree is a read-only view of a committed tree as of a snapshot
type Btree[K, V any] struct {
	snap  *Snapshot
	tree  *btree.Tree
	key   Key[K]
	value Value[V]
}

// NewBtree opens the tree at root for reading. The root must be reachable
// from the snapshot's generation, normally snap.Root(). The view is valid
// until the snapshot is closed.
func NewBtree[K, V any](snap *Snapshot, root *BtreeHeader, key Key[K], value Value[V]) (*Btree[K, V], error) {
	if snap.Closed() {
		return nil, ErrSnapshotClosed
	}
	return &Btree[K, V]{
		snap:  snap,
		tree:  btree.NewTree(snap.store.backend, root, schemaOf(key, value)),
		key:   key,
		value: value,
	}, nil
}

// Root returns the header the view reads
func (t *Btree[K, V]) Root() *BtreeHeader {
	return t.tree.Root()
}

func (t *Btree[K, V]) Len() uint64 {
	return t.tree.Len()
}

func (t *Btree[K, V]) IsEmpty() bool {
	return t.tree.Len() == 0
}

// Get returns the value stored under k, or nil if there is none
func (t *Btree[K, V]) Get(k K) (*AccessGuard[V], error) {
	g, err := t.tree.Get(t.key.AsBytes(k))
	if err != nil {
		return nil, err
	}
	return newGuard(g, t.value), nil
}

// First returns the entry with the smallest key, or nil if the tree is empty
func (t *Btree[K, V]) First() (*Entry[K, V], error) {
	p, err := t.tree.First()
	if err != nil {
		return nil, err
	}
	return newEntry(p, t.key, t.value), nil
}

// Last returns the entry with the largest key, or nil if the tree is empty
func (t *Btree[K, V]) Last() (*Entry[K, V], error) {
	p, err := t.tree.Last()
	if err != nil {
		return nil, err
	}
	return newEntry(p, t.key, t.value), nil
}

func (t *Btree[K, V]) Range(r Range[K]) (*RangeIter[K, V], error) {
	it, err := t.tree.Range(r.encode(t.key))
	if err != nil {
		return nil, err
	}
	return &RangeIter[K, V]{it: it, key: t.key, value: t.value}, nil
}

func (t *Btree[K, V]) Stats() (Stats, error) {
	return t.tree.Stats()
}

// VisitAllPages calls visitor for every page, parents before children
func (t *Btree[K, V]) VisitAllPages(visitor func(path *PagePath) error) error {
	return t.tree.VisitAllPages(visitor)
}

// VerifyChecksum recomputes every page checksum against the recorded ones
func (t *Btree[K, V]) VerifyChecksum() (bool, error) {
	return t.tree.VerifyChecksum()
}

// DebugString renders the tree one page per line
func (t *Btree[K, V]) DebugString() (string, error) {
	return t.tree.Dump(keyFormatter(t.key))
}

func keyFormatter[K any](codec Key[K]) func([]byte) string {
	return func(b []byte) string {
		return fmt.Sprint(codec.FromBytes(b))
	}
}
