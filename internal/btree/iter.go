package btree

import (
	"fmt"

	"cowtree/internal/base"
	"cowtree/internal/node"
	"cowtree/internal/storage"
)

type BoundKind int

const (
	Unbounded BoundKind = iota
	Included
	Excluded
)

// Bound is one end of a key range
type Bound struct {
	Kind BoundKind
	Key  []byte
}

// Range selects the keys between Start and End. Reverse iterates from End
// down to Start.
type Range struct {
	Start   Bound
	End     Bound
	Reverse bool
}

// All is the range over every key
var All = Range{}

type frame struct {
	page  *storage.Page // pinned
	index int
}

// RangeIter walks the leaves of a tree lazily. It reads the tree at the
// header it was created with; pages it holds stay pinned until Close.
type RangeIter struct {
	store  storage.PageStore
	root   *base.BtreeHeader
	schema Schema
	r      Range
	stack  []frame
	done   bool
}

func newRangeIter(store storage.PageStore, root *base.BtreeHeader, schema Schema, r Range) (*RangeIter, error) {
	it := &RangeIter{store: store, root: root, schema: schema, r: r}
	if err := it.seek(); err != nil {
		it.finish()
		return nil, err
	}
	return it, nil
}

func (it *RangeIter) push(p *storage.Page, index int) {
	p.Pin()
	it.stack = append(it.stack, frame{page: p, index: index})
}

func (it *RangeIter) pop() {
	top := it.stack[len(it.stack)-1]
	top.page.Unpin()
	it.stack = it.stack[:len(it.stack)-1]
}

// seek descends to the first leaf position in iteration order
func (it *RangeIter) seek() error {
	if it.root == nil {
		it.done = true
		return nil
	}
	bound := it.r.Start
	if it.r.Reverse {
		bound = it.r.End
	}

	page := it.root.Root
	for {
		p, err := it.store.GetPage(page)
		if err != nil {
			return err
		}
		switch node.PageType(p.Data()) {
		case node.BranchType:
			b := node.NewBranchAccessor(p.Data(), it.schema.KeyWidth)
			var idx int
			switch {
			case bound.Kind != Unbounded:
				idx, page = b.ChildForKey(it.schema.Compare, bound.Key)
			case it.r.Reverse:
				idx = b.CountChildren() - 1
				page = b.ChildPage(idx)
			default:
				page = b.ChildPage(0)
			}
			it.push(p, idx)
		case node.LeafType:
			l := node.NewLeafAccessor(p.Data(), it.schema.KeyWidth, it.schema.ValueWidth)
			idx := 0
			switch {
			case bound.Kind == Unbounded && it.r.Reverse:
				idx = l.NumPairs() - 1
			case bound.Kind == Unbounded:
			case it.r.Reverse:
				var found bool
				idx, found = l.FindKey(it.schema.Compare, bound.Key)
				if !found || bound.Kind == Excluded {
					idx--
				}
			default:
				var found bool
				idx, found = l.FindKey(it.schema.Compare, bound.Key)
				if found && bound.Kind == Excluded {
					idx++
				}
			}
			it.push(p, idx)
			return nil
		default:
			return fmt.Errorf("%w: page %d", base.ErrInvalidPageType, page)
		}
	}
}

// Next returns the next pair, or nil once the range is exhausted
func (it *RangeIter) Next() (*Pair, error) {
	for !it.done {
		top := &it.stack[len(it.stack)-1]
		l := node.NewLeafAccessor(top.page.Data(), it.schema.KeyWidth, it.schema.ValueWidth)
		if top.index >= 0 && top.index < l.NumPairs() {
			i := top.index
			if it.r.Reverse {
				top.index--
			} else {
				top.index++
			}
			if !it.withinFarBound(l.Key(i)) {
				it.finish()
				return nil, nil
			}
			return leafPair(top.page, l, i), nil
		}
		more, err := it.nextLeaf()
		if err != nil {
			return nil, err
		}
		if !more {
			it.finish()
		}
	}
	return nil, nil
}

// withinFarBound checks the bound iteration is moving towards; the near
// bound was applied by seek
func (it *RangeIter) withinFarBound(key []byte) bool {
	bound := it.r.End
	if it.r.Reverse {
		bound = it.r.Start
	}
	if bound.Kind == Unbounded {
		return true
	}
	c := it.schema.Compare(key, bound.Key)
	if it.r.Reverse {
		c = -c
	}
	return c < 0 || (c == 0 && bound.Kind == Included)
}

// nextLeaf moves to the adjacent leaf in iteration order
func (it *RangeIter) nextLeaf() (bool, error) {
	it.pop()
	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]
		b := node.NewBranchAccessor(top.page.Data(), it.schema.KeyWidth)
		if it.r.Reverse {
			top.index--
		} else {
			top.index++
		}
		if top.index < 0 || top.index >= b.CountChildren() {
			it.pop()
			continue
		}
		return true, it.descend(b.ChildPage(top.index))
	}
	return false, nil
}

// descend follows the first (or last, in reverse) child down to a leaf
func (it *RangeIter) descend(page base.PageNumber) error {
	for {
		p, err := it.store.GetPage(page)
		if err != nil {
			return err
		}
		if node.PageType(p.Data()) == node.LeafType {
			idx := 0
			if it.r.Reverse {
				idx = node.NewLeafAccessor(p.Data(), it.schema.KeyWidth, it.schema.ValueWidth).NumPairs() - 1
			}
			it.push(p, idx)
			return nil
		}
		b := node.NewBranchAccessor(p.Data(), it.schema.KeyWidth)
		idx := 0
		if it.r.Reverse {
			idx = b.CountChildren() - 1
		}
		it.push(p, idx)
		page = b.ChildPage(idx)
	}
}

func (it *RangeIter) finish() {
	it.done = true
	for len(it.stack) > 0 {
		it.pop()
	}
}

// Reset restarts iteration from the beginning of the range
func (it *RangeIter) Reset() error {
	it.finish()
	it.done = false
	if err := it.seek(); err != nil {
		it.finish()
		return err
	}
	return nil
}

// Close releases the pages held by the iterator
func (it *RangeIter) Close() {
	it.finish()
}
