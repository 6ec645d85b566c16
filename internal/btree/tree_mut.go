package btree

import (
	"fmt"

	"cowtree/internal/base"
	"cowtree/internal/node"
	"cowtree/internal/storage"
)

// TreeMut is the tree of the open write transaction. Each method that
// changes the tree replaces the header only after the whole change
// succeeded.
type TreeMut struct {
	store  storage.PageStore
	root   *base.BtreeHeader
	freed  *storage.FreedPages
	schema Schema
}

func NewTreeMut(store storage.PageStore, root *base.BtreeHeader, freed *storage.FreedPages, schema Schema) *TreeMut {
	return &TreeMut{store: store, root: root, freed: freed, schema: schema}
}

// Root returns the current header, nil for an empty tree
func (t *TreeMut) Root() *base.BtreeHeader {
	return t.root
}

func (t *TreeMut) Len() uint64 {
	return t.view().Len()
}

func (t *TreeMut) view() *Tree {
	return NewTree(t.store, t.root, t.schema)
}

func (t *TreeMut) mutator() *mutator {
	return &mutator{store: t.store, freed: t.freed, schema: t.schema, modifyUncommitted: true}
}

// snapshotMutator never rewrites pages in place and keeps every released
// page on deferred, so an iterator over the current header stays valid
func (t *TreeMut) snapshotMutator(deferred *[]base.PageNumber) *mutator {
	return &mutator{store: t.store, freed: t.freed, schema: t.schema, deferred: deferred}
}

// reconcile frees pages released in do-not-modify mode. Each page leaves
// the tree once, so it appears at most once.
func (t *TreeMut) reconcile(pages []base.PageNumber) {
	for _, page := range pages {
		if !t.store.FreeIfUncommitted(page) {
			t.freed.Push(page)
		}
	}
}

func (t *TreeMut) Get(key []byte) (*Guard, error) {
	return t.view().Get(key)
}

func (t *TreeMut) First() (*Pair, error) {
	return t.view().First()
}

func (t *TreeMut) Last() (*Pair, error) {
	return t.view().Last()
}

// Range iterates the current tree. The tree must not be changed while the
// iterator is open.
func (t *TreeMut) Range(r Range) (*RangeIter, error) {
	return t.view().Range(r)
}

// Insert stores value under key and returns the previous value, if any
func (t *TreeMut) Insert(key, value []byte) (*Guard, error) {
	return t.insertWith(t.mutator(), key, value)
}

func (t *TreeMut) insertWith(m *mutator, key, value []byte) (*Guard, error) {
	if err := m.checkEntry(key, value); err != nil {
		return nil, err
	}
	var allocated []base.PageNumber

	if t.root == nil {
		p, err := m.allocate(&allocated)
		if err != nil {
			return nil, err
		}
		b := node.NewLeafBuilder(t.schema.KeyWidth, t.schema.ValueWidth, t.store.PageSize(), 1)
		b.Push(key, value)
		b.Build(p.Data())
		t.root = base.NewBtreeHeader(p.Number(), base.Deferred, 1)
		return nil, nil
	}

	r, err := m.insert(t.root.Root, key, value, &allocated)
	if err != nil {
		m.abort(allocated)
		return nil, err
	}
	page, checksum := r.page, r.checksum
	if r.split != nil {
		page, err = m.newRoot(r.page, r.checksum, r.split, &allocated)
		if err != nil {
			r.old.Release()
			m.abort(allocated)
			return nil, err
		}
		checksum = base.Deferred
	}
	length := t.root.Length
	if r.old == nil {
		length++
	}
	m.commit()
	t.root = base.NewBtreeHeader(page, checksum, length)
	return r.old, nil
}

// Remove deletes key and returns the removed pair, or nil if key was absent
func (t *TreeMut) Remove(key []byte) (*Pair, error) {
	return t.removeWith(t.mutator(), key)
}

func (t *TreeMut) removeWith(m *mutator, key []byte) (*Pair, error) {
	if t.root == nil {
		return nil, nil
	}
	var allocated []base.PageNumber
	r, removed, err := m.delete(t.root.Root, key, &allocated)
	if err != nil {
		m.abort(allocated)
		return nil, err
	}
	if r == nil {
		return nil, nil
	}
	if t.root.Length == 0 {
		panic(fmt.Sprintf("removed a key from tree at page %d with length 0", t.root.Root))
	}
	length := t.root.Length - 1

	var root *base.BtreeHeader
	switch r := r.(type) {
	case subtree:
		page := r.page
		checksum := r.checksum
		if r.split != nil {
			page, err = m.newRoot(r.page, r.checksum, r.split, &allocated)
			checksum = base.Deferred
		}
		root = base.NewBtreeHeader(page, checksum, length)
	case partialBranch:
		root = base.NewBtreeHeader(r.page, r.checksum, length)
	case deletedBranch:
		root = base.NewBtreeHeader(r.page, r.checksum, length)
	case deletedLeaf:
		root = nil
	case partialLeaf:
		// a root leaf has no sibling to merge with
		var p *storage.Page
		if p, err = t.store.GetPage(r.page); err == nil {
			l := node.NewLeafAccessor(p.Data(), t.schema.KeyWidth, t.schema.ValueWidth)
			var page base.PageNumber
			page, err = m.rebuildLeafWithout(p, l, r.deleted, &allocated)
			root = base.NewBtreeHeader(page, base.Deferred, length)
		}
	}
	if err != nil {
		removed.Release()
		m.abort(allocated)
		return nil, err
	}
	m.commit()
	t.root = root
	return removed, nil
}

// PopFirst removes and returns the pair with the smallest key
func (t *TreeMut) PopFirst() (*Pair, error) {
	return t.popEdge(false)
}

// PopLast removes and returns the pair with the largest key
func (t *TreeMut) PopLast() (*Pair, error) {
	return t.popEdge(true)
}

func (t *TreeMut) popEdge(last bool) (*Pair, error) {
	var edge *Pair
	var err error
	if last {
		edge, err = t.view().Last()
	} else {
		edge, err = t.view().First()
	}
	if err != nil || edge == nil {
		return nil, err
	}
	key := append([]byte(nil), edge.Key.Bytes()...)
	edge.Release()
	return t.Remove(key)
}

// InsertInPlace overwrites the value of a key inserted earlier in this
// transaction without allocating. Every page on the path must be
// uncommitted, the key must exist and value must not be longer than the
// stored value; anything else is a programming error and panics.
func (t *TreeMut) InsertInPlace(key, value []byte) error {
	if t.root == nil {
		panic("insert in place into an empty tree")
	}
	type step struct {
		page  base.PageNumber
		child int
	}
	var path []step

	page := t.root.Root
	for {
		if !t.store.Uncommitted(page) {
			panic(fmt.Sprintf("insert in place through committed page %d", page))
		}
		p, err := t.store.GetPageMut(page)
		if err != nil {
			return err
		}
		if node.PageType(p.Data()) == node.BranchType {
			idx, child := node.NewBranchAccessor(p.Data(), t.schema.KeyWidth).ChildForKey(t.schema.Compare, key)
			path = append(path, step{page: page, child: idx})
			page = child
			continue
		}

		l := node.NewLeafAccessor(p.Data(), t.schema.KeyWidth, t.schema.ValueWidth)
		idx, found := l.FindKey(t.schema.Compare, key)
		if !found {
			panic("insert in place of a key that is not in the tree")
		}
		if len(value) > len(l.Value(idx)) {
			panic(fmt.Sprintf("insert in place of %d bytes over a %d byte value", len(value), len(l.Value(idx))))
		}
		b := node.NewLeafBuilder(t.schema.KeyWidth, t.schema.ValueWidth, t.store.PageSize(), l.NumPairs())
		for i := 0; i < l.NumPairs(); i++ {
			if i == idx {
				b.Push(l.Key(i), value)
			} else {
				e := l.Entry(i)
				b.Push(e.Key, e.Value)
			}
		}
		b.Detach()
		b.Build(p.Data())
		break
	}

	for _, s := range path {
		p, err := t.store.GetPageMut(s.page)
		if err != nil {
			return err
		}
		node.NewBranchMutator(p.Data()).WriteChildChecksum(s.child, base.Deferred)
	}
	t.root = base.NewBtreeHeader(t.root.Root, base.Deferred, t.root.Length)
	return nil
}

// InsertReserve inserts a zeroed value of length bytes under key and returns
// a writable view of it. The view must be released before the tree is
// changed again.
func (t *TreeMut) InsertReserve(key []byte, length int) (*GuardMut, error) {
	old, err := t.Insert(key, make([]byte, length))
	if err != nil {
		return nil, err
	}
	old.Release()

	page := t.root.Root
	for {
		p, err := t.store.GetPageMut(page)
		if err != nil {
			return nil, err
		}
		if node.PageType(p.Data()) == node.BranchType {
			_, page = node.NewBranchAccessor(p.Data(), t.schema.KeyWidth).ChildForKey(t.schema.Compare, key)
			continue
		}
		l := node.NewLeafAccessor(p.Data(), t.schema.KeyWidth, t.schema.ValueWidth)
		idx, found := l.FindKey(t.schema.Compare, key)
		if !found {
			panic("reserved key missing after insert")
		}
		s, e := l.ValueRange(idx)
		p.Pin()
		return &GuardMut{page: p, data: p.Data()[s:e:e]}, nil
	}
}

// RetainIn removes every pair within r for which keep returns false
func (t *TreeMut) RetainIn(r Range, keep func(key, value []byte) bool) error {
	var deferred []base.PageNumber
	m := t.snapshotMutator(&deferred)
	defer func() { t.reconcile(deferred) }()

	it, err := t.view().Range(r)
	if err != nil {
		return err
	}
	defer it.Close()

	for {
		pair, err := it.Next()
		if err != nil {
			return err
		}
		if pair == nil {
			return nil
		}
		if !keep(pair.Key.Bytes(), pair.Value.Bytes()) {
			removed, err := t.removeWith(m, pair.Key.Bytes())
			if err != nil {
				pair.Release()
				return err
			}
			removed.Release()
		}
		pair.Release()
	}
}

// ExtractFromIf returns an iterator that removes and yields every pair
// within r matching pred. The iterator must be drained or closed; pairs not
// reached yet stay in the tree.
func (t *TreeMut) ExtractFromIf(r Range, pred func(key, value []byte) bool) (*ExtractIter, error) {
	it, err := t.view().Range(r)
	if err != nil {
		return nil, err
	}
	e := &ExtractIter{tree: t, iter: it, pred: pred}
	e.m = t.snapshotMutator(&e.deferred)
	return e, nil
}

func (t *TreeMut) untyped() *UntypedBtreeMut {
	return NewUntypedBtreeMut(t.store, t.root, t.freed, t.schema.KeyWidth, t.schema.ValueWidth)
}

// FinalizeDirtyChecksums computes checksums for every page written by this
// transaction and returns the resulting header
func (t *TreeMut) FinalizeDirtyChecksums() (*base.BtreeHeader, error) {
	root, err := t.untyped().FinalizeDirtyChecksums()
	if err != nil {
		return nil, err
	}
	t.root = root
	return root, nil
}

// DirtyLeafVisitor calls visitor with every leaf written by this
// transaction
func (t *TreeMut) DirtyLeafVisitor(visitor func(leaf *storage.Page) error) error {
	return t.untyped().DirtyLeafVisitor(visitor)
}

// Relocate moves the pages in relocations to their mapped pages. Returns
// true if the root moved.
func (t *TreeMut) Relocate(relocations map[base.PageNumber]base.PageNumber) (bool, error) {
	u := t.untyped()
	moved, err := u.Relocate(relocations)
	if err != nil {
		return false, err
	}
	t.root = u.Root()
	return moved, nil
}

func (t *TreeMut) VerifyChecksum() (bool, error) {
	return t.view().VerifyChecksum()
}

func (t *TreeMut) Stats() (Stats, error) {
	return t.view().Stats()
}

func (t *TreeMut) VisitAllPages(visitor func(path *PagePath) error) error {
	return t.view().VisitAllPages(visitor)
}
