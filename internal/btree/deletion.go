package btree

import (
	"cowtree/internal/base"
	"cowtree/internal/node"
	"cowtree/internal/storage"
)

// deletionResult describes what became of a subtree after one of its keys
// was removed. The set of cases is closed.
type deletionResult interface {
	deletionResult()
}

// subtree: the subtree was rebuilt or patched and now lives at page. A
// rebuilt branch that overflowed carries its right half in split.
type subtree struct {
	page     base.PageNumber
	checksum base.Checksum
	split    *split
}

// deletedLeaf: the leaf held only the removed pair and is gone
type deletedLeaf struct{}

// partialLeaf: the leaf at page still holds the removed pair at index
// deleted and is too small to keep. The parent merges the rest into a
// sibling and releases page.
type partialLeaf struct {
	page    base.PageNumber
	deleted int
}

// partialBranch: the branch at page is valid but underfull
type partialBranch struct {
	page     base.PageNumber
	checksum base.Checksum
}

// deletedBranch: the branch collapsed and page is its only remaining child
type deletedBranch struct {
	page     base.PageNumber
	checksum base.Checksum
}

func (subtree) deletionResult()       {}
func (deletedLeaf) deletionResult()   {}
func (partialLeaf) deletionResult()   {}
func (partialBranch) deletionResult() {}
func (deletedBranch) deletionResult() {}

// delete removes key from the subtree at page. A nil result means the key
// was not present and nothing changed.
func (m *mutator) delete(page base.PageNumber, key []byte, allocated *[]base.PageNumber) (deletionResult, *Pair, error) {
	p, err := m.store.GetPage(page)
	if err != nil {
		return nil, nil, err
	}
	if node.PageType(p.Data()) == node.LeafType {
		return m.deleteLeaf(p, key, allocated)
	}
	return m.deleteBranch(p, key, allocated)
}

func (m *mutator) deleteLeaf(p *storage.Page, key []byte, allocated *[]base.PageNumber) (deletionResult, *Pair, error) {
	l := node.NewLeafAccessor(p.Data(), m.schema.KeyWidth, m.schema.ValueWidth)
	idx, found := l.FindKey(m.schema.Compare, key)
	if !found {
		return nil, nil, nil
	}
	removed := m.oldPair(p, l, idx)

	if l.NumPairs() == 1 {
		m.release(p.Number())
		return deletedLeaf{}, removed, nil
	}
	if node.BelowFillThreshold(l.UsedBytesWithout(idx), m.pageSize()) {
		return partialLeaf{page: p.Number(), deleted: idx}, removed, nil
	}

	page, err := m.rebuildLeafWithout(p, l, idx, allocated)
	if err != nil {
		removed.Release()
		return nil, nil, err
	}
	return subtree{page: page, checksum: base.Deferred}, removed, nil
}

// rebuildLeafWithout writes leaf l minus entry skip, in place when allowed
func (m *mutator) rebuildLeafWithout(p *storage.Page, l *node.LeafAccessor, skip int, allocated *[]base.PageNumber) (base.PageNumber, error) {
	b := node.NewLeafBuilder(m.schema.KeyWidth, m.schema.ValueWidth, m.pageSize(), l.NumPairs())
	b.PushAllExcept(l, skip)
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

func (m *mutator) deleteBranch(p *storage.Page, key []byte, allocated *[]base.PageNumber) (deletionResult, *Pair, error) {
	br := node.NewBranchAccessor(p.Data(), m.schema.KeyWidth)
	idx, child := br.ChildForKey(m.schema.Compare, key)

	r, removed, err := m.delete(child, key, allocated)
	if err != nil || r == nil {
		return nil, removed, err
	}

	var result deletionResult
	switch r := r.(type) {
	case subtree:
		result, err = m.resolveSubtree(p, br, idx, r, allocated)
	case deletedLeaf:
		result, err = m.resolveDeletedLeaf(p, br, idx, allocated)
	case partialLeaf:
		result, err = m.resolvePartialLeaf(p, br, idx, r, allocated)
	case deletedBranch:
		result, err = m.resolveDeletedBranch(p, br, idx, r, allocated)
	case partialBranch:
		result, err = m.resolvePartialBranch(p, br, idx, r, allocated)
	}
	if err != nil {
		removed.Release()
		return nil, nil, err
	}
	return result, removed, nil
}

func (m *mutator) resolveSubtree(p *storage.Page, br *node.BranchAccessor, idx int, r subtree, allocated *[]base.PageNumber) (deletionResult, error) {
	if r.split != nil {
		page, s, err := m.storeBranch(p, m.branchWithSplit(br, idx, r.page, r.checksum, r.split), allocated)
		if err != nil {
			return nil, err
		}
		return subtree{page: page, checksum: base.Deferred, split: s}, nil
	}
	if r.page == br.ChildPage(idx) && r.checksum == br.ChildChecksum(idx) {
		return subtree{page: p.Number(), checksum: base.Deferred}, nil
	}
	page, err := m.replaceChild(p, br, idx, r.page, r.checksum, allocated)
	if err != nil {
		return nil, err
	}
	return subtree{page: page, checksum: base.Deferred}, nil
}

func (m *mutator) resolveDeletedLeaf(p *storage.Page, br *node.BranchAccessor, idx int, allocated *[]base.PageNumber) (deletionResult, error) {
	if br.CountChildren() == 2 {
		m.release(p.Number())
		sibling := br.Child(1 - idx)
		return deletedBranch{page: sibling.Page, checksum: sibling.Checksum}, nil
	}

	// drop the child and the separator next to it
	dropKey := min(idx, br.NumKeys()-1)
	b := node.NewBranchBuilder(m.schema.KeyWidth, m.pageSize(), br.CountChildren()-1)
	for i := 0; i < br.CountChildren(); i++ {
		if i != idx {
			b.PushChild(br.ChildPage(i), br.ChildChecksum(i))
		}
		if i < br.NumKeys() && i != dropKey {
			b.PushKey(br.Key(i))
		}
	}
	return m.finishBranch(p, b, allocated)
}

func mergeSibling(idx int) int {
	if idx == 0 {
		return 1
	}
	return idx - 1
}

func (m *mutator) resolvePartialLeaf(p *storage.Page, br *node.BranchAccessor, idx int, r partialLeaf, allocated *[]base.PageNumber) (deletionResult, error) {
	mergeWith := mergeSibling(idx)
	siblingPage := br.ChildPage(mergeWith)

	sp, err := m.store.GetPage(siblingPage)
	if err != nil {
		return nil, err
	}
	pp, err := m.store.GetPage(r.page)
	if err != nil {
		return nil, err
	}
	sibling := node.NewLeafAccessor(sp.Data(), m.schema.KeyWidth, m.schema.ValueWidth)
	partial := node.NewLeafAccessor(pp.Data(), m.schema.KeyWidth, m.schema.ValueWidth)

	lb := node.NewLeafBuilder(m.schema.KeyWidth, m.schema.ValueWidth, m.pageSize(), sibling.NumPairs()+partial.NumPairs())
	if mergeWith < idx {
		lb.PushAll(sibling)
		lb.PushAllExcept(partial, r.deleted)
	} else {
		lb.PushAllExcept(partial, r.deleted)
		lb.PushAll(sibling)
	}

	var merged []node.Child
	var sep []byte
	if !lb.ShouldSplit() {
		np, err := m.allocate(allocated)
		if err != nil {
			return nil, err
		}
		lb.Build(np.Data())
		merged = []node.Child{{Page: np.Number(), Checksum: base.Deferred}}
	} else {
		left, err := m.allocate(allocated)
		if err != nil {
			return nil, err
		}
		right, err := m.allocate(allocated)
		if err != nil {
			return nil, err
		}
		sep = lb.BuildSplit(left.Data(), right.Data())
		merged = []node.Child{
			{Page: left.Number(), Checksum: base.Deferred},
			{Page: right.Number(), Checksum: base.Deferred},
		}
	}
	m.release(siblingPage)
	m.release(r.page)

	return m.finishBranch(p, m.branchWithMerge(br, idx, mergeWith, merged, sep), allocated)
}

func (m *mutator) resolveDeletedBranch(p *storage.Page, br *node.BranchAccessor, idx int, r deletedBranch, allocated *[]base.PageNumber) (deletionResult, error) {
	mergeWith := mergeSibling(idx)
	siblingPage := br.ChildPage(mergeWith)
	sp, err := m.store.GetPage(siblingPage)
	if err != nil {
		return nil, err
	}
	sibling := node.NewBranchAccessor(sp.Data(), m.schema.KeyWidth)

	// adopt the orphaned child into the sibling
	mb := node.NewBranchBuilder(m.schema.KeyWidth, m.pageSize(), sibling.CountChildren()+1)
	if mergeWith < idx {
		mb.PushAll(sibling)
		mb.PushKey(br.Key(mergeWith))
		mb.PushChild(r.page, r.checksum)
	} else {
		mb.PushChild(r.page, r.checksum)
		mb.PushKey(br.Key(idx))
		mb.PushAll(sibling)
	}

	merged, sep, err := m.buildMergedBranch(mb, allocated)
	if err != nil {
		return nil, err
	}
	m.release(siblingPage)
	return m.finishBranch(p, m.branchWithMerge(br, idx, mergeWith, merged, sep), allocated)
}

func (m *mutator) resolvePartialBranch(p *storage.Page, br *node.BranchAccessor, idx int, r partialBranch, allocated *[]base.PageNumber) (deletionResult, error) {
	mergeWith := mergeSibling(idx)
	siblingPage := br.ChildPage(mergeWith)
	sp, err := m.store.GetPage(siblingPage)
	if err != nil {
		return nil, err
	}
	cp, err := m.store.GetPage(r.page)
	if err != nil {
		return nil, err
	}
	sibling := node.NewBranchAccessor(sp.Data(), m.schema.KeyWidth)
	partial := node.NewBranchAccessor(cp.Data(), m.schema.KeyWidth)

	mb := node.NewBranchBuilder(m.schema.KeyWidth, m.pageSize(), sibling.CountChildren()+partial.CountChildren())
	if mergeWith < idx {
		mb.PushAll(sibling)
		mb.PushKey(br.Key(mergeWith))
		mb.PushAll(partial)
	} else {
		mb.PushAll(partial)
		mb.PushKey(br.Key(idx))
		mb.PushAll(sibling)
	}

	if !mb.ShouldSplit() {
		merged, _, err := m.buildMergedBranch(mb, allocated)
		if err != nil {
			return nil, err
		}
		m.release(siblingPage)
		m.release(r.page)
		return m.finishBranch(p, m.branchWithMerge(br, idx, mergeWith, merged, nil), allocated)
	}

	// no room to merge, keep the underfull child
	page, err := m.replaceChild(p, br, idx, r.page, r.checksum, allocated)
	if err != nil {
		return nil, err
	}
	np, err := m.store.GetPage(page)
	if err != nil {
		return nil, err
	}
	if node.BelowFillThreshold(node.End(np.Data()), m.pageSize()) {
		return partialBranch{page: page, checksum: base.Deferred}, nil
	}
	return subtree{page: page, checksum: base.Deferred}, nil
}

// buildMergedBranch writes mb as one page, or two plus a separator when it
// overflows
func (m *mutator) buildMergedBranch(mb *node.BranchBuilder, allocated *[]base.PageNumber) ([]node.Child, []byte, error) {
	if !mb.ShouldSplit() {
		np, err := m.allocate(allocated)
		if err != nil {
			return nil, nil, err
		}
		mb.Build(np.Data())
		return []node.Child{{Page: np.Number(), Checksum: base.Deferred}}, nil, nil
	}
	left, err := m.allocate(allocated)
	if err != nil {
		return nil, nil, err
	}
	right, err := m.allocate(allocated)
	if err != nil {
		return nil, nil, err
	}
	sep := mb.BuildSplit(left.Data(), right.Data())
	return []node.Child{
		{Page: left.Number(), Checksum: base.Deferred},
		{Page: right.Number(), Checksum: base.Deferred},
	}, sep, nil
}

// branchWithMerge copies br with children idx and mergeWith replaced by
// merged. Two merged children are divided by sep.
func (m *mutator) branchWithMerge(br *node.BranchAccessor, idx, mergeWith int, merged []node.Child, sep []byte) *node.BranchBuilder {
	first, second := min(idx, mergeWith), max(idx, mergeWith)
	b := node.NewBranchBuilder(m.schema.KeyWidth, m.pageSize(), br.CountChildren())
	for i := 0; i < br.CountChildren(); i++ {
		switch i {
		case first:
			b.PushChild(merged[0].Page, merged[0].Checksum)
			if len(merged) == 2 {
				b.PushKey(sep)
				b.PushChild(merged[1].Page, merged[1].Checksum)
			}
		case second:
		default:
			b.PushChild(br.ChildPage(i), br.ChildChecksum(i))
		}
		if i < br.NumKeys() && i != first {
			b.PushKey(br.Key(i))
		}
	}
	return b
}

// finishBranch stores a rebuilt branch that replaces p and classifies it
func (m *mutator) finishBranch(p *storage.Page, b *node.BranchBuilder, allocated *[]base.PageNumber) (deletionResult, error) {
	if b.NumChildren() == 1 {
		m.release(p.Number())
		c := b.Child(0)
		return deletedBranch{page: c.Page, checksum: c.Checksum}, nil
	}
	required := b.RequiredBytes()
	page, s, err := m.storeBranch(p, b, allocated)
	if err != nil {
		return nil, err
	}
	if s == nil && node.BelowFillThreshold(required, m.pageSize()) {
		return partialBranch{page: page, checksum: base.Deferred}, nil
	}
	return subtree{page: page, checksum: base.Deferred, split: s}, nil
}
