// Package node encodes and decodes leaf and branch pages.
//
// Both page kinds start with the same 8-byte header:
//
//	[0]    page type (LeafType or BranchType)
//	[1]    reserved
//	[2:4]  entry count, little-endian uint16 (pairs for a leaf, keys for a branch)
//	[4:8]  end of used bytes, little-endian uint32
//
// Everything past end is unused and excluded from the page checksum.
package node

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"cowtree/internal/base"
)

const (
	LeafType   byte = 1
	BranchType byte = 2

	HeaderSize = 8
	offsetSize = 4

	// FillThresholdDivisor sets the deletion rebuild threshold: a node whose
	// used bytes drop below pageSize/FillThresholdDivisor is merged into a
	// sibling instead of being kept as is.
	FillThresholdDivisor = 3
)

// PageType returns the type tag of an encoded page
func PageType(data []byte) byte {
	return data[0]
}

func count(data []byte) int {
	return int(binary.LittleEndian.Uint16(data[2:4]))
}

// End returns the offset one past the last used byte
func End(data []byte) int {
	return int(binary.LittleEndian.Uint32(data[4:8]))
}

func writeHeader(data []byte, typ byte, n, end int) {
	data[0] = typ
	data[1] = 0
	binary.LittleEndian.PutUint16(data[2:4], uint16(n))
	binary.LittleEndian.PutUint32(data[4:8], uint32(end))
}

// BelowFillThreshold reports whether used bytes are too few to keep a node
// of this page size on its own
func BelowFillThreshold(used, pageSize int) bool {
	return used < pageSize/FillThresholdDivisor
}

// MaxEntrySize is the largest encoded leaf entry (slots plus offset) a page
// of pageSize bytes accepts. Keeping entries under a quarter of the usable
// space guarantees any overflowing node splits into two that fit.
func MaxEntrySize(pageSize int) int {
	return (pageSize - HeaderSize) / 4
}

// Checksum hashes the used bytes of an encoded page
func Checksum(data []byte) (base.Checksum, error) {
	if len(data) < HeaderSize {
		return 0, fmt.Errorf("%w: page of %d bytes", base.ErrInvalidOffset, len(data))
	}
	end := End(data)
	if end < HeaderSize || end > len(data) {
		return 0, fmt.Errorf("%w: end %d", base.ErrInvalidOffset, end)
	}
	return base.Checksum(xxhash.Sum64(data[:end])), nil
}

// Entry is a key/value pair to be written into a leaf
type Entry struct {
	Key   []byte
	Value []byte
}

// Child is a branch child pointer with the child's checksum
type Child struct {
	Page     base.PageNumber
	Checksum base.Checksum
}
