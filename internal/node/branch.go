package node

import (
	"encoding/binary"
	"fmt"

	"cowtree/internal/base"
)

// Branch layout after the common header:
//
//	(numKeys+1) x [checksum u64][page u64]   child records
//	numKeys x u32                            key offsets, variable-width keys only
//	key slots
//
// Separator i is the largest key in child i.
const childSize = 16

// BranchAccessor reads an encoded branch page
type BranchAccessor struct {
	data    []byte
	keyW    base.Width
	numKeys int
}

// NewBranchAccessor wraps data, which must be a branch page
func NewBranchAccessor(data []byte, keyW base.Width) *BranchAccessor {
	if PageType(data) != BranchType {
		panic(fmt.Sprintf("page type %d is not a branch", PageType(data)))
	}
	return &BranchAccessor{data: data, keyW: keyW, numKeys: count(data)}
}

func (b *BranchAccessor) NumKeys() int {
	return b.numKeys
}

// CountChildren returns the number of child pointers, always NumKeys()+1
func (b *BranchAccessor) CountChildren() int {
	return b.numKeys + 1
}

func (b *BranchAccessor) End() int {
	return End(b.data)
}

func (b *BranchAccessor) ChildPage(i int) base.PageNumber {
	at := HeaderSize + i*childSize + 8
	return base.PageNumber(binary.LittleEndian.Uint64(b.data[at : at+8]))
}

func (b *BranchAccessor) ChildChecksum(i int) base.Checksum {
	at := HeaderSize + i*childSize
	return base.Checksum(binary.LittleEndian.Uint64(b.data[at : at+8]))
}

func (b *BranchAccessor) Child(i int) Child {
	return Child{Page: b.ChildPage(i), Checksum: b.ChildChecksum(i)}
}

func (b *BranchAccessor) keysStart() int {
	return HeaderSize + (b.numKeys+1)*childSize
}

func (b *BranchAccessor) keyStart(i int) int {
	if n, ok := b.keyW.Fixed(); ok {
		return b.keysStart() + i*n
	}
	at := b.keysStart() + i*offsetSize
	return int(binary.LittleEndian.Uint32(b.data[at : at+offsetSize]))
}

// Key returns separator i, aliasing the page
func (b *BranchAccessor) Key(i int) []byte {
	s, e := slotRange(b.data, b.keyW, b.keyStart(i))
	return b.data[s:e]
}

// ChildForKey returns the index and page of the only child whose subtree
// may contain key
func (b *BranchAccessor) ChildForKey(cmp func(a, b []byte) int, key []byte) (int, base.PageNumber) {
	lo, hi := 0, b.numKeys
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if cmp(key, b.Key(mid)) <= 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, b.ChildPage(lo)
}

// BranchBuilder collects children and separators and writes them as one or
// two branch pages
type BranchBuilder struct {
	keyW     base.Width
	pageSize int
	children []Child
	keys     [][]byte
	keyBytes int
}

func NewBranchBuilder(keyW base.Width, pageSize, capacity int) *BranchBuilder {
	return &BranchBuilder{
		keyW:     keyW,
		pageSize: pageSize,
		children: make([]Child, 0, capacity),
		keys:     make([][]byte, 0, capacity),
	}
}

func (b *BranchBuilder) PushChild(page base.PageNumber, checksum base.Checksum) {
	b.children = append(b.children, Child{Page: page, Checksum: checksum})
}

// SetChild replaces a pushed child
func (b *BranchBuilder) SetChild(i int, page base.PageNumber, checksum base.Checksum) {
	b.children[i] = Child{Page: page, Checksum: checksum}
}

func (b *BranchBuilder) PushKey(key []byte) {
	if n, ok := b.keyW.Fixed(); ok && len(key) != n {
		panic(fmt.Sprintf("key of %d bytes in a branch of fixed width %d", len(key), n))
	}
	b.keys = append(b.keys, key)
	b.keyBytes += b.keyW.SlotSize(len(key))
}

// PushAll appends every child and separator of a
func (b *BranchBuilder) PushAll(a *BranchAccessor) {
	for i := 0; i < a.CountChildren(); i++ {
		b.PushChild(a.ChildPage(i), a.ChildChecksum(i))
		if i < a.NumKeys() {
			b.PushKey(a.Key(i))
		}
	}
}

func (b *BranchBuilder) NumChildren() int {
	return len(b.children)
}

// Child returns pushed child i
func (b *BranchBuilder) Child(i int) Child {
	return b.children[i]
}

func (b *BranchBuilder) NumKeys() int {
	return len(b.keys)
}

func (b *BranchBuilder) keyWeight(k []byte) int {
	w := b.keyW.SlotSize(len(k))
	if _, ok := b.keyW.Fixed(); !ok {
		w += offsetSize
	}
	return w
}

// RequiredBytes is the size of a single page holding every child and key
func (b *BranchBuilder) RequiredBytes() int {
	n := HeaderSize + len(b.children)*childSize + b.keyBytes
	if _, ok := b.keyW.Fixed(); !ok {
		n += len(b.keys) * offsetSize
	}
	return n
}

func (b *BranchBuilder) ShouldSplit() bool {
	return b.RequiredBytes() > b.pageSize
}

func (b *BranchBuilder) checkShape() {
	if len(b.children) != len(b.keys)+1 {
		panic(fmt.Sprintf("branch with %d children and %d keys", len(b.children), len(b.keys)))
	}
}

// Detach copies every key into a buffer owned by the builder
func (b *BranchBuilder) Detach() {
	total := 0
	for _, k := range b.keys {
		total += len(k)
	}
	buf := make([]byte, 0, total)
	for i, k := range b.keys {
		start := len(buf)
		buf = append(buf, k...)
		b.keys[i] = buf[start:len(buf):len(buf)]
	}
}

// Build writes the branch into dst, which must be a whole page
func (b *BranchBuilder) Build(dst []byte) {
	b.checkShape()
	if b.ShouldSplit() {
		panic(fmt.Sprintf("branch of %d bytes does not fit a %d byte page", b.RequiredBytes(), b.pageSize))
	}
	writeBranch(dst, b.keyW, b.children, b.keys)
}

// BuildSplit writes the lower half into left and the upper half into right
// and returns the separator between them, which moves up to the parent. The
// returned key is a copy.
func (b *BranchBuilder) BuildSplit(left, right []byte) []byte {
	b.checkShape()
	if len(b.keys) < 3 {
		panic(fmt.Sprintf("cannot split a branch with %d keys", len(b.keys)))
	}
	half := b.RequiredBytes() / 2
	acc := HeaderSize + childSize
	mid := 1
	for i := 0; i < len(b.keys); i++ {
		acc += childSize + b.keyWeight(b.keys[i])
		if acc >= half {
			mid = i
			break
		}
	}
	// both halves keep at least one key
	mid = min(max(mid, 1), len(b.keys)-2)

	writeBranch(left, b.keyW, b.children[:mid+1], b.keys[:mid])
	writeBranch(right, b.keyW, b.children[mid+1:], b.keys[mid+1:])
	return append([]byte(nil), b.keys[mid]...)
}

func writeBranch(dst []byte, keyW base.Width, children []Child, keys [][]byte) {
	for i, c := range children {
		at := HeaderSize + i*childSize
		binary.LittleEndian.PutUint64(dst[at:at+8], uint64(c.Checksum))
		binary.LittleEndian.PutUint64(dst[at+8:at+16], uint64(c.Page))
	}
	pos := HeaderSize + len(children)*childSize
	if _, ok := keyW.Fixed(); ok {
		for _, k := range keys {
			pos = writeSlot(dst, keyW, pos, k)
		}
	} else {
		offsets := pos
		pos += len(keys) * offsetSize
		for i, k := range keys {
			at := offsets + i*offsetSize
			binary.LittleEndian.PutUint32(dst[at:at+offsetSize], uint32(pos))
			pos = writeSlot(dst, keyW, pos, k)
		}
	}
	writeHeader(dst, BranchType, len(keys), pos)
	clear(dst[pos:])
}

// BranchMutator patches child records of a branch page in place
type BranchMutator struct {
	data []byte
}

// NewBranchMutator wraps data, which must be a writable branch page
func NewBranchMutator(data []byte) *BranchMutator {
	if PageType(data) != BranchType {
		panic(fmt.Sprintf("page type %d is not a branch", PageType(data)))
	}
	return &BranchMutator{data: data}
}

// WriteChild replaces child i
func (m *BranchMutator) WriteChild(i int, page base.PageNumber, checksum base.Checksum) {
	if i > count(m.data) {
		panic(fmt.Sprintf("child %d out of range for branch with %d keys", i, count(m.data)))
	}
	at := HeaderSize + i*childSize
	binary.LittleEndian.PutUint64(m.data[at:at+8], uint64(checksum))
	binary.LittleEndian.PutUint64(m.data[at+8:at+16], uint64(page))
}

// WriteChildChecksum replaces the checksum of child i, keeping the pointer
func (m *BranchMutator) WriteChildChecksum(i int, checksum base.Checksum) {
	at := HeaderSize + i*childSize
	binary.LittleEndian.PutUint64(m.data[at:at+8], uint64(checksum))
}

// ReadChildren returns the child records of a branch page after checking
// that they lie within its used bytes. Safe on corrupt input.
func ReadChildren(data []byte) ([]Child, error) {
	if len(data) < HeaderSize || PageType(data) != BranchType {
		return nil, base.ErrInvalidPageType
	}
	end := End(data)
	n := count(data) + 1
	if end > len(data) || HeaderSize+n*childSize > end {
		return nil, fmt.Errorf("%w: %d children in %d bytes", base.ErrInvalidOffset, n, end)
	}
	a := &BranchAccessor{data: data, numKeys: n - 1}
	children := make([]Child, n)
	for i := range children {
		children[i] = a.Child(i)
	}
	return children, nil
}
