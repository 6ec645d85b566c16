package base

import (
	"fmt"
	"math"
)

// PageNumber identifies a fixed-size block in the page store. A number is
// never reused while a live header or a pending free list references it.
type PageNumber uint64

// Checksum is the xxhash64 of a page's used bytes, or Deferred when the page
// is uncommitted and its content may still change before commit.
type Checksum uint64

// Deferred marks a checksum that has not been computed yet.
const Deferred Checksum = 999

// IsDeferred reports whether c is the Deferred sentinel
func (c Checksum) IsDeferred() bool {
	return c == Deferred
}

func (c Checksum) String() string {
	if c.IsDeferred() {
		return "deferred"
	}
	return fmt.Sprintf("%016x", uint64(c))
}

// BtreeHeader locates a tree: its root page, the root's checksum and the
// exact number of key/value pairs reachable from Root.
type BtreeHeader struct {
	Root     PageNumber
	Checksum Checksum
	Length   uint64
}

// NewBtreeHeader returns a header value for a root page
func NewBtreeHeader(root PageNumber, checksum Checksum, length uint64) *BtreeHeader {
	return &BtreeHeader{Root: root, Checksum: checksum, Length: length}
}

// Width describes the encoded size of a key or value type. Fixed widths use a
// dense slot layout, Variable widths are length-prefixed.
type Width int

// Variable is the Width of a type whose encoded size differs between values
const Variable Width = -1

// FixedWidth returns a Width of exactly n bytes
func FixedWidth(n int) Width {
	if n < 0 || uint64(n) > math.MaxUint32 {
		panic(fmt.Sprintf("invalid fixed width %d", n))
	}
	return Width(n)
}

// Fixed returns the width and true if every encoded value has the same size.
func (w Width) Fixed() (int, bool) {
	if w < 0 {
		return 0, false
	}
	return int(w), true
}

// SlotSize is the number of bytes a slot holding n payload bytes occupies
func (w Width) SlotSize(n int) int {
	if _, ok := w.Fixed(); ok {
		return n
	}
	return PrefixSize(n) + n
}

func (w Width) String() string {
	if n, ok := w.Fixed(); ok {
		return fmt.Sprintf("fixed(%d)", n)
	}
	return "variable"
}
