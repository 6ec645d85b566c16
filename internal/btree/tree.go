// Package btree implements the copy-on-write B-tree over a page store.
//
// Trees are addressed by a BtreeHeader and hold no page pointers: every page
// is looked up by number through the store. Readers share committed pages
// with the single writer; the writer copies a committed page before
// changing it and rewrites uncommitted pages in place.
package btree

import (
	"fmt"
	"strings"

	"cowtree/internal/base"
	"cowtree/internal/node"
	"cowtree/internal/storage"
)

// Tree is a read-only view of the tree at a fixed header
type Tree struct {
	store  storage.PageStore
	root   *base.BtreeHeader
	schema Schema
}

func NewTree(store storage.PageStore, root *base.BtreeHeader, schema Schema) *Tree {
	return &Tree{store: store, root: root, schema: schema}
}

// Root returns the header the view is bound to, nil for an empty tree
func (t *Tree) Root() *base.BtreeHeader {
	return t.root
}

// Len returns the number of pairs
func (t *Tree) Len() uint64 {
	if t.root == nil {
		return 0
	}
	return t.root.Length
}

// Get returns the value stored under key, or nil
func (t *Tree) Get(key []byte) (*Guard, error) {
	if t.root == nil {
		return nil, nil
	}
	page := t.root.Root
	for {
		p, err := t.store.GetPage(page)
		if err != nil {
			return nil, err
		}
		switch node.PageType(p.Data()) {
		case node.LeafType:
			l := node.NewLeafAccessor(p.Data(), t.schema.KeyWidth, t.schema.ValueWidth)
			idx, found := l.FindKey(t.schema.Compare, key)
			if !found {
				return nil, nil
			}
			s, e := l.ValueRange(idx)
			return pinnedGuard(p, s, e), nil
		case node.BranchType:
			_, page = node.NewBranchAccessor(p.Data(), t.schema.KeyWidth).ChildForKey(t.schema.Compare, key)
		default:
			return nil, fmt.Errorf("%w: page %d", base.ErrInvalidPageType, page)
		}
	}
}

// First returns the pair with the smallest key, or nil
func (t *Tree) First() (*Pair, error) {
	return t.edge(false)
}

// Last returns the pair with the largest key, or nil
func (t *Tree) Last() (*Pair, error) {
	return t.edge(true)
}

func (t *Tree) edge(last bool) (*Pair, error) {
	if t.root == nil {
		return nil, nil
	}
	page := t.root.Root
	for {
		p, err := t.store.GetPage(page)
		if err != nil {
			return nil, err
		}
		switch node.PageType(p.Data()) {
		case node.LeafType:
			l := node.NewLeafAccessor(p.Data(), t.schema.KeyWidth, t.schema.ValueWidth)
			idx := 0
			if last {
				idx = l.NumPairs() - 1
			}
			return leafPair(p, l, idx), nil
		case node.BranchType:
			b := node.NewBranchAccessor(p.Data(), t.schema.KeyWidth)
			if last {
				page = b.ChildPage(b.CountChildren() - 1)
			} else {
				page = b.ChildPage(0)
			}
		default:
			return nil, fmt.Errorf("%w: page %d", base.ErrInvalidPageType, page)
		}
	}
}

func leafPair(p *storage.Page, l *node.LeafAccessor, i int) *Pair {
	ks, ke := l.KeyRange(i)
	vs, ve := l.ValueRange(i)
	return &Pair{Key: pinnedGuard(p, ks, ke), Value: pinnedGuard(p, vs, ve)}
}

// Range returns a lazy iterator over the pairs within r
func (t *Tree) Range(r Range) (*RangeIter, error) {
	return newRangeIter(t.store, t.root, t.schema, r)
}

func (t *Tree) untyped() *UntypedBtree {
	return NewUntypedBtree(t.store, t.root, t.schema.KeyWidth, t.schema.ValueWidth)
}

func (t *Tree) Stats() (Stats, error) {
	return t.untyped().Stats()
}

func (t *Tree) VisitAllPages(visitor func(path *PagePath) error) error {
	return t.untyped().VisitAllPages(visitor)
}

// VerifyChecksum reports whether every page matches its recorded checksum
func (t *Tree) VerifyChecksum() (bool, error) {
	return NewRawBtree(t.store, t.root).VerifyChecksum()
}

// Dump renders every page, one per line, indented by depth
func (t *Tree) Dump(formatKey func(key []byte) string) (string, error) {
	var sb strings.Builder
	err := t.VisitAllPages(func(path *PagePath) error {
		p, err := t.store.GetPage(path.PageNumber())
		if err != nil {
			return err
		}
		sb.WriteString(strings.Repeat("  ", path.Depth()))
		switch node.PageType(p.Data()) {
		case node.LeafType:
			l := node.NewLeafAccessor(p.Data(), t.schema.KeyWidth, t.schema.ValueWidth)
			keys := make([]string, l.NumPairs())
			for i := range keys {
				keys[i] = formatKey(l.Key(i))
			}
			fmt.Fprintf(&sb, "leaf %d: [%s]\n", path.PageNumber(), strings.Join(keys, ", "))
		case node.BranchType:
			b := node.NewBranchAccessor(p.Data(), t.schema.KeyWidth)
			keys := make([]string, b.NumKeys())
			for i := range keys {
				keys[i] = formatKey(b.Key(i))
			}
			fmt.Fprintf(&sb, "branch %d: [%s]\n", path.PageNumber(), strings.Join(keys, ", "))
		}
		return nil
	})
	return sb.String(), err
}
