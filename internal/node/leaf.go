package node

import (
	"encoding/binary"
	"fmt"

	"cowtree/internal/base"
)

// LeafAccessor reads an encoded leaf page. It does not copy: every slice it
// returns aliases the page.
type LeafAccessor struct {
	data   []byte
	keyW   base.Width
	valueW base.Width
	num    int
}

// NewLeafAccessor wraps data, which must be a leaf page
func NewLeafAccessor(data []byte, keyW, valueW base.Width) *LeafAccessor {
	if PageType(data) != LeafType {
		panic(fmt.Sprintf("page type %d is not a leaf", PageType(data)))
	}
	return &LeafAccessor{data: data, keyW: keyW, valueW: valueW, num: count(data)}
}

func dense(keyW, valueW base.Width) bool {
	_, kf := keyW.Fixed()
	_, vf := valueW.Fixed()
	return kf && vf
}

// NumPairs returns the number of entries
func (l *LeafAccessor) NumPairs() int {
	return l.num
}

// End returns the offset one past the last entry
func (l *LeafAccessor) End() int {
	return End(l.data)
}

func (l *LeafAccessor) entryStart(i int) int {
	if dense(l.keyW, l.valueW) {
		kw, _ := l.keyW.Fixed()
		vw, _ := l.valueW.Fixed()
		return HeaderSize + i*(kw+vw)
	}
	at := HeaderSize + i*offsetSize
	return int(binary.LittleEndian.Uint32(l.data[at : at+offsetSize]))
}

func (l *LeafAccessor) entryEnd(i int) int {
	if i+1 < l.num {
		return l.entryStart(i + 1)
	}
	return l.End()
}

func slotRange(data []byte, w base.Width, start int) (int, int) {
	if n, ok := w.Fixed(); ok {
		return start, start + n
	}
	n, size, err := base.ReadPrefix(data[start:])
	if err != nil {
		panic(fmt.Sprintf("corrupt slot at offset %d: %v", start, err))
	}
	return start + size, start + size + n
}

// KeyRange returns the byte range of key i within the page
func (l *LeafAccessor) KeyRange(i int) (int, int) {
	return slotRange(l.data, l.keyW, l.entryStart(i))
}

// ValueRange returns the byte range of value i within the page
func (l *LeafAccessor) ValueRange(i int) (int, int) {
	_, keyEnd := l.KeyRange(i)
	return slotRange(l.data, l.valueW, keyEnd)
}

func (l *LeafAccessor) Key(i int) []byte {
	s, e := l.KeyRange(i)
	return l.data[s:e]
}

func (l *LeafAccessor) Value(i int) []byte {
	s, e := l.ValueRange(i)
	return l.data[s:e]
}

// Entry returns pair i. The slices alias the page.
func (l *LeafAccessor) Entry(i int) Entry {
	return Entry{Key: l.Key(i), Value: l.Value(i)}
}

// EntryWeight is the number of bytes entry i costs in a leaf, including
// its offset slot
func (l *LeafAccessor) EntryWeight(i int) int {
	w := l.entryEnd(i) - l.entryStart(i)
	if !dense(l.keyW, l.valueW) {
		w += offsetSize
	}
	return w
}

// FindKey binary searches for key. It returns the index of the key, or the
// position it would be inserted at, and whether it was found.
func (l *LeafAccessor) FindKey(cmp func(a, b []byte) int, key []byte) (int, bool) {
	lo, hi := 0, l.num
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		c := cmp(l.Key(mid), key)
		switch {
		case c == 0:
			return mid, true
		case c < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false
}

// LastKey returns the largest key in the leaf
func (l *LeafAccessor) LastKey() []byte {
	return l.Key(l.num - 1)
}

// UsedBytesWithout returns the size of the leaf if entry i were removed
func (l *LeafAccessor) UsedBytesWithout(i int) int {
	return l.End() - l.EntryWeight(i)
}

// LeafBuilder collects entries in key order and writes them as one or two
// leaf pages
type LeafBuilder struct {
	keyW     base.Width
	valueW   base.Width
	pageSize int
	entries  []Entry
	weight   int
}

func NewLeafBuilder(keyW, valueW base.Width, pageSize, capacity int) *LeafBuilder {
	return &LeafBuilder{
		keyW:     keyW,
		valueW:   valueW,
		pageSize: pageSize,
		entries:  make([]Entry, 0, capacity),
	}
}

// EntryWeight returns the bytes an entry with these payloads costs
func EntryWeight(keyW, valueW base.Width, keyLen, valueLen int) int {
	w := keyW.SlotSize(keyLen) + valueW.SlotSize(valueLen)
	if !dense(keyW, valueW) {
		w += offsetSize
	}
	return w
}

func (b *LeafBuilder) checkWidth(e Entry) {
	if n, ok := b.keyW.Fixed(); ok && len(e.Key) != n {
		panic(fmt.Sprintf("key of %d bytes in a leaf of fixed width %d", len(e.Key), n))
	}
	if n, ok := b.valueW.Fixed(); ok && len(e.Value) != n {
		panic(fmt.Sprintf("value of %d bytes in a leaf of fixed width %d", len(e.Value), n))
	}
}

// Push appends an entry. Entries must be pushed in ascending key order.
func (b *LeafBuilder) Push(key, value []byte) {
	e := Entry{Key: key, Value: value}
	b.checkWidth(e)
	b.entries = append(b.entries, e)
	b.weight += EntryWeight(b.keyW, b.valueW, len(key), len(value))
}

// PushAll appends every entry of l
func (b *LeafBuilder) PushAll(l *LeafAccessor) {
	b.PushAllExcept(l, -1)
}

// PushAllExcept appends every entry of l other than skip
func (b *LeafBuilder) PushAllExcept(l *LeafAccessor, skip int) {
	for i := 0; i < l.NumPairs(); i++ {
		if i != skip {
			e := l.Entry(i)
			b.Push(e.Key, e.Value)
		}
	}
}

// Len returns the number of entries pushed
func (b *LeafBuilder) Len() int {
	return len(b.entries)
}

// RequiredBytes is the size of a single page holding every entry
func (b *LeafBuilder) RequiredBytes() int {
	return HeaderSize + b.weight
}

// ShouldSplit reports whether the entries need two pages
func (b *LeafBuilder) ShouldSplit() bool {
	return b.RequiredBytes() > b.pageSize
}

// Detach copies every entry into a buffer owned by the builder. Required
// before rebuilding a page in place from its own contents.
func (b *LeafBuilder) Detach() {
	total := 0
	for _, e := range b.entries {
		total += len(e.Key) + len(e.Value)
	}
	buf := make([]byte, 0, total)
	for i, e := range b.entries {
		start := len(buf)
		buf = append(buf, e.Key...)
		keyEnd := len(buf)
		buf = append(buf, e.Value...)
		b.entries[i] = Entry{Key: buf[start:keyEnd:keyEnd], Value: buf[keyEnd:len(buf):len(buf)]}
	}
}

// Build writes every entry into dst, which must be a whole page
func (b *LeafBuilder) Build(dst []byte) {
	if b.ShouldSplit() {
		panic(fmt.Sprintf("leaf of %d bytes does not fit a %d byte page", b.RequiredBytes(), b.pageSize))
	}
	writeLeaf(dst, b.keyW, b.valueW, b.entries)
}

// SplitPoint returns the number of entries the left page receives when the
// entries are divided by byte weight. Both sides are non-empty.
func (b *LeafBuilder) SplitPoint() int {
	if len(b.entries) < 2 {
		panic("cannot split a leaf with fewer than two entries")
	}
	half := b.weight / 2
	acc := 0
	for i, e := range b.entries {
		acc += EntryWeight(b.keyW, b.valueW, len(e.Key), len(e.Value))
		if acc >= half {
			return min(max(i+1, 1), len(b.entries)-1)
		}
	}
	return len(b.entries) - 1
}

// BuildSplit writes the entries into left and right and returns the largest
// key of left, which becomes the separator in the parent. The returned key
// is a copy.
func (b *LeafBuilder) BuildSplit(left, right []byte) []byte {
	at := b.SplitPoint()
	writeLeaf(left, b.keyW, b.valueW, b.entries[:at])
	writeLeaf(right, b.keyW, b.valueW, b.entries[at:])
	return append([]byte(nil), b.entries[at-1].Key...)
}

// LastKey returns the largest pushed key
func (b *LeafBuilder) LastKey() []byte {
	return b.entries[len(b.entries)-1].Key
}

func writeLeaf(dst []byte, keyW, valueW base.Width, entries []Entry) {
	pos := HeaderSize
	isDense := dense(keyW, valueW)
	if !isDense {
		pos += offsetSize * len(entries)
	}
	for i, e := range entries {
		if !isDense {
			at := HeaderSize + i*offsetSize
			binary.LittleEndian.PutUint32(dst[at:at+offsetSize], uint32(pos))
		}
		pos = writeSlot(dst, keyW, pos, e.Key)
		pos = writeSlot(dst, valueW, pos, e.Value)
	}
	writeHeader(dst, LeafType, len(entries), pos)
	clear(dst[pos:])
}

func writeSlot(dst []byte, w base.Width, pos int, payload []byte) int {
	if _, ok := w.Fixed(); !ok {
		pos += base.PutPrefix(dst[pos:], len(payload))
	}
	return pos + copy(dst[pos:], payload)
}
