package btree

import (
	"cowtree/internal/base"
)

// ExtractIter yields pairs as it removes them from the tree. It reads the
// tree as it was when created; removals go to new pages until Close.
type ExtractIter struct {
	tree     *TreeMut
	m        *mutator
	iter     *RangeIter
	pred     func(key, value []byte) bool
	deferred []base.PageNumber
	closed   bool
}

// Next removes the next matching pair and returns it, or nil when the range
// is exhausted
func (e *ExtractIter) Next() (*Pair, error) {
	if e.closed {
		return nil, nil
	}
	for {
		pair, err := e.iter.Next()
		if err != nil {
			return nil, err
		}
		if pair == nil {
			e.Close()
			return nil, nil
		}
		if !e.pred(pair.Key.Bytes(), pair.Value.Bytes()) {
			pair.Release()
			continue
		}
		removed, err := e.tree.removeWith(e.m, pair.Key.Bytes())
		pair.Release()
		if err != nil {
			return nil, err
		}
		return removed, nil
	}
}

// Close stops extraction and frees the pages the removals released
func (e *ExtractIter) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.iter.Close()
	e.tree.reconcile(e.deferred)
	e.deferred = nil
}
