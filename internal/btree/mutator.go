package btree

import (
	"errors"
	"fmt"

	"cowtree/internal/base"
	"cowtree/internal/node"
	"cowtree/internal/storage"
)

var (
	ErrKeyTooLarge   = errors.New("key too large for page size")
	ErrValueTooLarge = errors.New("key/value pair too large for page size")
)

// Schema describes how keys and values are laid out and ordered
type Schema struct {
	KeyWidth   base.Width
	ValueWidth base.Width
	Compare    func(a, b []byte) int
}

// mutator applies one single-key insert or delete. Pages it replaces are
// released only after the whole operation succeeded, so a failed call
// leaves the old tree intact.
type mutator struct {
	store  storage.PageStore
	freed  *storage.FreedPages
	schema Schema

	// modifyUncommitted allows rewriting uncommitted pages in place. Off
	// while an iterator is reading the tree being changed.
	modifyUncommitted bool
	// deferred collects every page released in do-not-modify mode
	deferred *[]base.PageNumber

	released []base.PageNumber
}

func (m *mutator) pageSize() int {
	return m.store.PageSize()
}

func (m *mutator) inPlace(page base.PageNumber) bool {
	return m.modifyUncommitted && m.store.Uncommitted(page)
}

// release marks a page as no longer reachable from the tree being built
func (m *mutator) release(page base.PageNumber) {
	m.released = append(m.released, page)
}

// commit frees released pages: immediately if they are uncommitted, on the
// freed list otherwise
func (m *mutator) commit() {
	for _, page := range m.released {
		if m.deferred != nil {
			*m.deferred = append(*m.deferred, page)
			continue
		}
		if !m.store.FreeIfUncommitted(page) {
			m.freed.Push(page)
		}
	}
	m.released = nil
}

// abort frees pages allocated by a failed operation
func (m *mutator) abort(allocated []base.PageNumber) {
	for _, page := range allocated {
		m.store.FreeIfUncommitted(page)
	}
	m.released = nil
}

func (m *mutator) checkEntry(key, value []byte) error {
	limit := node.MaxEntrySize(m.pageSize())
	if m.schema.KeyWidth.SlotSize(len(key)) > limit {
		return fmt.Errorf("%w: %d bytes", ErrKeyTooLarge, len(key))
	}
	if node.EntryWeight(m.schema.KeyWidth, m.schema.ValueWidth, len(key), len(value)) > limit {
		return fmt.Errorf("%w: %d bytes", ErrValueTooLarge, len(key)+len(value))
	}
	return nil
}

// oldValue returns a guard over value i of a leaf that is about to be
// replaced. Uncommitted pages may be rewritten or freed by this call, so
// their bytes are copied.
func (m *mutator) oldValue(p *storage.Page, l *node.LeafAccessor, i int) *Guard {
	s, e := l.ValueRange(i)
	if m.store.Uncommitted(p.Number()) {
		return OwnedGuard(p.Data()[s:e])
	}
	return pinnedGuard(p, s, e)
}

func (m *mutator) oldPair(p *storage.Page, l *node.LeafAccessor, i int) *Pair {
	ks, ke := l.KeyRange(i)
	if m.store.Uncommitted(p.Number()) {
		return &Pair{Key: OwnedGuard(p.Data()[ks:ke]), Value: m.oldValue(p, l, i)}
	}
	return &Pair{Key: pinnedGuard(p, ks, ke), Value: m.oldValue(p, l, i)}
}

// allocate returns a new page and records it for abort
func (m *mutator) allocate(allocated *[]base.PageNumber) (*storage.Page, error) {
	p, err := m.store.Allocate()
	if err != nil {
		return nil, err
	}
	*allocated = append(*allocated, p.Number())
	return p, nil
}

type split struct {
	key      []byte
	page     base.PageNumber
	checksum base.Checksum
}

type insertResult struct {
	page     base.PageNumber
	checksum base.Checksum
	split    *split
	old      *Guard
}

// insert puts key into the subtree at page. The subtree's replacement and,
// if it overflowed, a right sibling and separator are returned.
func (m *mutator) insert(page base.PageNumber, key, value []byte, allocated *[]base.PageNumber) (insertResult, error) {
	p, err := m.store.GetPage(page)
	if err != nil {
		return insertResult{}, err
	}
	if node.PageType(p.Data()) == node.LeafType {
		return m.insertLeaf(p, key, value, allocated)
	}
	return m.insertBranch(p, key, value, allocated)
}

func (m *mutator) insertLeaf(p *storage.Page, key, value []byte, allocated *[]base.PageNumber) (insertResult, error) {
	l := node.NewLeafAccessor(p.Data(), m.schema.KeyWidth, m.schema.ValueWidth)
	idx, found := l.FindKey(m.schema.Compare, key)

	var result insertResult
	if found {
		result.old = m.oldValue(p, l, idx)
	}

	b := node.NewLeafBuilder(m.schema.KeyWidth, m.schema.ValueWidth, m.pageSize(), l.NumPairs()+1)
	for i := 0; i < l.NumPairs(); i++ {
		if i == idx {
			b.Push(key, value)
			if found {
				continue
			}
		}
		e := l.Entry(i)
		b.Push(e.Key, e.Value)
	}
	if idx == l.NumPairs() {
		b.Push(key, value)
	}

	if !b.ShouldSplit() {
		if m.inPlace(p.Number()) {
			mut, err := m.store.GetPageMut(p.Number())
			if err != nil {
				result.old.Release()
				return insertResult{}, err
			}
			b.Detach()
			b.Build(mut.Data())
			result.page, result.checksum = p.Number(), base.Deferred
			return result, nil
		}
		np, err := m.allocate(allocated)
		if err != nil {
			result.old.Release()
			return insertResult{}, err
		}
		b.Build(np.Data())
		m.release(p.Number())
		result.page, result.checksum = np.Number(), base.Deferred
		return result, nil
	}

	left, err := m.allocate(allocated)
	if err != nil {
		result.old.Release()
		return insertResult{}, err
	}
	right, err := m.allocate(allocated)
	if err != nil {
		result.old.Release()
		return insertResult{}, err
	}
	sep := b.BuildSplit(left.Data(), right.Data())
	m.release(p.Number())
	result.page, result.checksum = left.Number(), base.Deferred
	result.split = &split{key: sep, page: right.Number(), checksum: base.Deferred}
	return result, nil
}

func (m *mutator) insertBranch(p *storage.Page, key, value []byte, allocated *[]base.PageNumber) (insertResult, error) {
	br := node.NewBranchAccessor(p.Data(), m.schema.KeyWidth)
	idx, child := br.ChildForKey(m.schema.Compare, key)

	r, err := m.insert(child, key, value, allocated)
	if err != nil {
		return insertResult{}, err
	}
	result := insertResult{old: r.old}

	if r.split == nil {
		if r.page == child && r.checksum == br.ChildChecksum(idx) {
			// child was rewritten in place and already recorded as deferred
			result.page, result.checksum = p.Number(), base.Deferred
			return result, nil
		}
		page, err := m.replaceChild(p, br, idx, r.page, r.checksum, allocated)
		if err != nil {
			result.old.Release()
			return insertResult{}, err
		}
		result.page, result.checksum = page, base.Deferred
		return result, nil
	}

	b := m.branchWithSplit(br, idx, r.page, r.checksum, r.split)
	page, s, err := m.storeBranch(p, b, allocated)
	if err != nil {
		result.old.Release()
		return insertResult{}, err
	}
	result.page, result.checksum, result.split = page, base.Deferred, s
	return result, nil
}

// storeBranch writes b as the replacement of p, splitting it in two when it
// does not fit a page
func (m *mutator) storeBranch(p *storage.Page, b *node.BranchBuilder, allocated *[]base.PageNumber) (base.PageNumber, *split, error) {
	if !b.ShouldSplit() {
		page, err := m.writeBranch(p, b, allocated)
		return page, nil, err
	}
	left, err := m.allocate(allocated)
	if err != nil {
		return 0, nil, err
	}
	right, err := m.allocate(allocated)
	if err != nil {
		return 0, nil, err
	}
	sep := b.BuildSplit(left.Data(), right.Data())
	m.release(p.Number())
	return left.Number(), &split{key: sep, page: right.Number(), checksum: base.Deferred}, nil
}

// branchWithSplit copies br with child idx replaced by left, s.key and
// s.page
func (m *mutator) branchWithSplit(br *node.BranchAccessor, idx int, left base.PageNumber, leftSum base.Checksum, s *split) *node.BranchBuilder {
	b := node.NewBranchBuilder(m.schema.KeyWidth, m.pageSize(), br.CountChildren()+1)
	for i := 0; i < br.CountChildren(); i++ {
		if i == idx {
			b.PushChild(left, leftSum)
			b.PushKey(s.key)
			b.PushChild(s.page, s.checksum)
		} else {
			b.PushChild(br.ChildPage(i), br.ChildChecksum(i))
		}
		if i < br.NumKeys() {
			b.PushKey(br.Key(i))
		}
	}
	return b
}

// replaceChild points child idx of a branch at a new page, patching the
// branch in place when allowed and copying it otherwise
func (m *mutator) replaceChild(p *storage.Page, br *node.BranchAccessor, idx int, child base.PageNumber, checksum base.Checksum, allocated *[]base.PageNumber) (base.PageNumber, error) {
	if m.inPlace(p.Number()) {
		mut, err := m.store.GetPageMut(p.Number())
		if err != nil {
			return 0, err
		}
		node.NewBranchMutator(mut.Data()).WriteChild(idx, child, checksum)
		return p.Number(), nil
	}
	b := node.NewBranchBuilder(m.schema.KeyWidth, m.pageSize(), br.CountChildren())
	b.PushAll(br)
	b.SetChild(idx, child, checksum)
	return m.writeBranch(p, b, allocated)
}

// writeBranch stores a rebuilt branch that replaces p, in place when
// allowed. b must fit in one page.
func (m *mutator) writeBranch(p *storage.Page, b *node.BranchBuilder, allocated *[]base.PageNumber) (base.PageNumber, error) {
	if m.inPlace(p.Number()) {
		mut, err := m.store.GetPageMut(p.Number())
		if err != nil {
			return 0, err
		}
		b.Detach()
		b.Build(mut.Data())
		return p.Number(), nil
	}
	np, err := m.allocate(allocated)
	if err != nil {
		return 0, err
	}
	b.Build(np.Data())
	m.release(p.Number())
	return np.Number(), nil
}

// newRoot builds a branch over two children after a root split
func (m *mutator) newRoot(left base.PageNumber, leftSum base.Checksum, s *split, allocated *[]base.PageNumber) (base.PageNumber, error) {
	b := node.NewBranchBuilder(m.schema.KeyWidth, m.pageSize(), 2)
	b.PushChild(left, leftSum)
	b.PushKey(s.key)
	b.PushChild(s.page, s.checksum)
	p, err := m.allocate(allocated)
	if err != nil {
		return 0, err
	}
	b.Build(p.Data())
	return p.Number(), nil
}
