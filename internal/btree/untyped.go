package btree

import (
	"errors"
	"fmt"

	"cowtree/internal/base"
	"cowtree/internal/node"
	"cowtree/internal/storage"
)

// UntypedBtree walks a tree knowing only the key and value widths
type UntypedBtree struct {
	store  storage.PageStore
	root   *base.BtreeHeader
	keyW   base.Width
	valueW base.Width
}

func NewUntypedBtree(store storage.PageStore, root *base.BtreeHeader, keyW, valueW base.Width) *UntypedBtree {
	return &UntypedBtree{store: store, root: root, keyW: keyW, valueW: valueW}
}

// VisitAllPages calls visitor for every page in pre-order: a page before
// its children, children left to right. An error from the visitor stops
// the walk and is returned.
func (t *UntypedBtree) VisitAllPages(visitor func(path *PagePath) error) error {
	if t.root == nil {
		return nil
	}
	return t.visit(NewPagePath(t.root.Root), visitor)
}

func (t *UntypedBtree) visit(path *PagePath, visitor func(path *PagePath) error) error {
	if err := visitor(path); err != nil {
		return err
	}
	p, err := t.store.GetPage(path.PageNumber())
	if err != nil {
		return err
	}
	if node.PageType(p.Data()) != node.BranchType {
		return nil
	}
	b := node.NewBranchAccessor(p.Data(), t.keyW)
	for i := 0; i < b.CountChildren(); i++ {
		if err := t.visit(path.WithChild(b.ChildPage(i)), visitor); err != nil {
			return err
		}
	}
	return nil
}

// Stats describes the shape and space use of a tree
type Stats struct {
	TreeHeight      int
	LeafPages       uint64
	BranchPages     uint64
	StoredLeafBytes uint64 // key and value payload bytes
	MetadataBytes   uint64 // headers, offsets, prefixes, child records
	FragmentedBytes uint64 // unused bytes at the end of pages
}

func (t *UntypedBtree) Stats() (Stats, error) {
	var stats Stats
	err := t.VisitAllPages(func(path *PagePath) error {
		p, err := t.store.GetPage(path.PageNumber())
		if err != nil {
			return err
		}
		data := p.Data()
		end := node.End(data)
		stats.TreeHeight = max(stats.TreeHeight, path.Depth()+1)
		stats.FragmentedBytes += uint64(len(data) - end)

		switch node.PageType(data) {
		case node.LeafType:
			stats.LeafPages++
			l := node.NewLeafAccessor(data, t.keyW, t.valueW)
			stored := 0
			for i := 0; i < l.NumPairs(); i++ {
				stored += len(l.Key(i)) + len(l.Value(i))
			}
			stats.StoredLeafBytes += uint64(stored)
			stats.MetadataBytes += uint64(end - stored)
		case node.BranchType:
			stats.BranchPages++
			stats.MetadataBytes += uint64(end)
		default:
			return fmt.Errorf("%w: page %d has type %d", base.ErrInvalidPageType, path.PageNumber(), node.PageType(data))
		}
		return nil
	})
	return stats, err
}

// UntypedBtreeMut runs maintenance passes over the tree of an open write
// transaction
type UntypedBtreeMut struct {
	store  storage.PageStore
	root   *base.BtreeHeader
	freed  *storage.FreedPages
	keyW   base.Width
	valueW base.Width
}

func NewUntypedBtreeMut(store storage.PageStore, root *base.BtreeHeader, freed *storage.FreedPages, keyW, valueW base.Width) *UntypedBtreeMut {
	return &UntypedBtreeMut{store: store, root: root, freed: freed, keyW: keyW, valueW: valueW}
}

// Root returns the current header
func (t *UntypedBtreeMut) Root() *base.BtreeHeader {
	return t.root
}

// FinalizeDirtyChecksums computes the checksum of every uncommitted page,
// children before parents, and writes each into its parent. Committed
// subtrees already carry checksums and are not visited.
func (t *UntypedBtreeMut) FinalizeDirtyChecksums() (*base.BtreeHeader, error) {
	if t.root == nil || !t.store.Uncommitted(t.root.Root) {
		return t.root, nil
	}
	checksum, err := t.finalize(t.root.Root)
	if err != nil {
		return nil, err
	}
	t.root = base.NewBtreeHeader(t.root.Root, checksum, t.root.Length)
	return t.root, nil
}

func (t *UntypedBtreeMut) finalize(page base.PageNumber) (base.Checksum, error) {
	p, err := t.store.GetPageMut(page)
	if err != nil {
		return 0, err
	}
	if node.PageType(p.Data()) == node.BranchType {
		b := node.NewBranchAccessor(p.Data(), t.keyW)
		m := node.NewBranchMutator(p.Data())
		for i := 0; i < b.CountChildren(); i++ {
			child := b.ChildPage(i)
			if !t.store.Uncommitted(child) {
				continue
			}
			sum, err := t.finalize(child)
			if err != nil {
				return 0, err
			}
			m.WriteChildChecksum(i, sum)
		}
	}
	return node.Checksum(p.Data())
}

// DirtyLeafVisitor calls visitor with every uncommitted leaf. Committed
// subtrees are skipped, so a committed root makes this a no-op.
func (t *UntypedBtreeMut) DirtyLeafVisitor(visitor func(leaf *storage.Page) error) error {
	if t.root == nil || !t.store.Uncommitted(t.root.Root) {
		return nil
	}
	return t.visitDirty(t.root.Root, visitor)
}

func (t *UntypedBtreeMut) visitDirty(page base.PageNumber, visitor func(leaf *storage.Page) error) error {
	p, err := t.store.GetPageMut(page)
	if err != nil {
		return err
	}
	if node.PageType(p.Data()) == node.LeafType {
		return visitor(p)
	}
	b := node.NewBranchAccessor(p.Data(), t.keyW)
	for i := 0; i < b.CountChildren(); i++ {
		child := b.ChildPage(i)
		if !t.store.Uncommitted(child) {
			continue
		}
		if err := t.visitDirty(child, visitor); err != nil {
			return err
		}
	}
	return nil
}

// Relocate copies every page that is a key of relocations onto its mapped
// page, which the caller has already allocated. Only mapped pages are
// visited, so a moved page's ancestors must be mapped too. Moved sources
// are freed when uncommitted and queued on the freed list otherwise.
// Returns true if the root moved.
func (t *UntypedBtreeMut) Relocate(relocations map[base.PageNumber]base.PageNumber) (bool, error) {
	if t.root == nil {
		return false, nil
	}
	moved, err := t.relocate(t.root.Root, relocations)
	if err != nil {
		return false, err
	}
	if moved == t.root.Root {
		return false, nil
	}
	t.root = base.NewBtreeHeader(moved, base.Deferred, t.root.Length)
	return true, nil
}

func (t *UntypedBtreeMut) relocate(page base.PageNumber, relocations map[base.PageNumber]base.PageNumber) (base.PageNumber, error) {
	target, ok := relocations[page]
	if !ok {
		return page, nil
	}
	old, err := t.store.GetPage(page)
	if err != nil {
		return 0, err
	}
	dst, err := t.store.GetPageMut(target)
	if err != nil {
		return 0, err
	}
	copy(dst.Data(), old.Data())

	if node.PageType(dst.Data()) == node.BranchType {
		b := node.NewBranchAccessor(dst.Data(), t.keyW)
		m := node.NewBranchMutator(dst.Data())
		for i := 0; i < b.CountChildren(); i++ {
			child := b.ChildPage(i)
			moved, err := t.relocate(child, relocations)
			if err != nil {
				return 0, err
			}
			if moved != child {
				m.WriteChild(i, moved, base.Deferred)
			}
		}
	}

	if !t.store.FreeIfUncommitted(page) {
		t.freed.Push(page)
	}
	return target, nil
}

// RawBtree verifies checksums without knowing key or value types
type RawBtree struct {
	store storage.PageStore
	root  *base.BtreeHeader
}

func NewRawBtree(store storage.PageStore, root *base.BtreeHeader) *RawBtree {
	return &RawBtree{store: store, root: root}
}

// VerifyChecksum recomputes every page checksum and compares it with the
// one recorded by its parent or the header. It returns false on the first
// mismatch or malformed page; only store errors are returned as errors.
func (t *RawBtree) VerifyChecksum() (bool, error) {
	if t.root == nil {
		return true, nil
	}
	return t.verify(t.root.Root, t.root.Checksum)
}

// VerifyFailure is like VerifyChecksum but also reports the first page that
// failed verification
func (t *RawBtree) VerifyFailure() (base.PageNumber, bool, error) {
	if t.root == nil {
		return 0, true, nil
	}
	var failed base.PageNumber
	ok, err := t.verifyPage(t.root.Root, t.root.Checksum, &failed)
	return failed, ok, err
}

// ReachablePages returns the number of every page reachable from the root.
// Only child records are read, so the key width need not be known.
func (t *RawBtree) ReachablePages() (map[base.PageNumber]struct{}, error) {
	pages := make(map[base.PageNumber]struct{})
	if t.root == nil {
		return pages, nil
	}
	stack := []base.PageNumber{t.root.Root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := pages[n]; seen {
			return nil, fmt.Errorf("page %d reachable twice", n)
		}
		pages[n] = struct{}{}
		p, err := t.store.GetPage(n)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", n, err)
		}
		if node.PageType(p.Data()) != node.BranchType {
			continue
		}
		children, err := node.ReadChildren(p.Data())
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", n, err)
		}
		for _, c := range children {
			stack = append(stack, c.Page)
		}
	}
	return pages, nil
}

func (t *RawBtree) verify(page base.PageNumber, expected base.Checksum) (bool, error) {
	var failed base.PageNumber
	return t.verifyPage(page, expected, &failed)
}

func (t *RawBtree) verifyPage(page base.PageNumber, expected base.Checksum, failed *base.PageNumber) (bool, error) {
	p, err := t.store.GetPage(page)
	if errors.Is(err, storage.ErrPageOutOfRange) || errors.Is(err, storage.ErrPageNotAllocated) {
		*failed = page
		return false, nil
	} else if err != nil {
		return false, err
	}
	data := p.Data()
	sum, err := node.Checksum(data)
	if err != nil || sum != expected {
		*failed = page
		return false, nil
	}
	switch node.PageType(data) {
	case node.LeafType:
		return true, nil
	case node.BranchType:
		children, err := node.ReadChildren(data)
		if err != nil {
			*failed = page
			return false, nil
		}
		for _, c := range children {
			ok, err := t.verifyPage(c.Page, c.Checksum, failed)
			if err != nil || !ok {
				return ok, err
			}
		}
		return true, nil
	default:
		*failed = page
		return false, nil
	}
}
