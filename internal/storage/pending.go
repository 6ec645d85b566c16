package storage

import (
	"cowtree/internal/base"
)

// PendingFrees holds deferred frees keyed by the commit generation that
// released them. A generation's pages become reusable once every reader that
// started at or before it has finished.
type PendingFrees struct {
	pending map[uint64][]base.PageNumber // generation -> pages freed by that commit
}

// NewPendingFrees creates an empty set
func NewPendingFrees() *PendingFrees {
	return &PendingFrees{pending: make(map[uint64][]base.PageNumber)}
}

// Add records pages released by the commit at generation
func (p *PendingFrees) Add(generation uint64, pages []base.PageNumber) {
	if len(pages) == 0 {
		return
	}
	p.pending[generation] = append(p.pending[generation], pages...)
}

// Release removes and returns the pages of every generation < minGeneration
func (p *PendingFrees) Release(minGeneration uint64) []base.PageNumber {
	var released []base.PageNumber
	for gen, pages := range p.pending {
		if gen < minGeneration {
			released = append(released, pages...)
			delete(p.pending, gen)
		}
	}
	return released
}

// Size returns the total number of pending pages
func (p *PendingFrees) Size() int {
	total := 0
	for _, pages := range p.pending {
		total += len(pages)
	}
	return total
}
