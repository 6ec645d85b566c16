package btree

import (
	"cowtree/internal/base"
)

// PagePath is the chain of page numbers from the root to a page. Pages
// store no parent pointers, so visitors use the path for context.
type PagePath struct {
	path []base.PageNumber
}

// NewPagePath returns a path holding only the root
func NewPagePath(root base.PageNumber) *PagePath {
	return &PagePath{path: []base.PageNumber{root}}
}

// WithChild returns a new path extended by child
func (p *PagePath) WithChild(child base.PageNumber) *PagePath {
	path := make([]base.PageNumber, len(p.path), len(p.path)+1)
	copy(path, p.path)
	return &PagePath{path: append(path, child)}
}

// Parents returns every page above the current one, root first
func (p *PagePath) Parents() []base.PageNumber {
	return p.path[:len(p.path)-1]
}

// PageNumber returns the page the path ends at
func (p *PagePath) PageNumber() base.PageNumber {
	return p.path[len(p.path)-1]
}

// Depth is 0 for the root
func (p *PagePath) Depth() int {
	return len(p.path) - 1
}
