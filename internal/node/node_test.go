package node

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cowtree/internal/base"
)

func u32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

func TestLeafRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		keyW   base.Width
		valueW base.Width
		key    func(i int) []byte
		value  func(i int) []byte
	}{
		{"fixed/fixed", base.FixedWidth(4), base.FixedWidth(4),
			func(i int) []byte { return u32(uint32(i)) },
			func(i int) []byte { return u32(uint32(i * 10)) }},
		{"fixed/variable", base.FixedWidth(4), base.Variable,
			func(i int) []byte { return u32(uint32(i)) },
			func(i int) []byte { return bytes.Repeat([]byte{'v'}, i) }},
		{"variable/variable", base.Variable, base.Variable,
			func(i int) []byte { return []byte(fmt.Sprintf("key%03d", i)) },
			func(i int) []byte { return []byte(fmt.Sprintf("value-%d", i)) }},
		{"variable/unit", base.Variable, base.FixedWidth(0),
			func(i int) []byte { return []byte(fmt.Sprintf("k%02d", i)) },
			func(int) []byte { return nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := NewLeafBuilder(tt.keyW, tt.valueW, 4096, 20)
			for i := 0; i < 20; i++ {
				b.Push(tt.key(i), tt.value(i))
			}
			require.False(t, b.ShouldSplit())

			page := make([]byte, 4096)
			b.Build(page)
			assert.Equal(t, LeafType, PageType(page))
			assert.Equal(t, b.RequiredBytes(), End(page))

			l := NewLeafAccessor(page, tt.keyW, tt.valueW)
			require.Equal(t, 20, l.NumPairs())
			for i := 0; i < 20; i++ {
				assert.Equal(t, tt.key(i), l.Key(i))
				assert.Equal(t, len(tt.value(i)), len(l.Value(i)))
				if len(tt.value(i)) > 0 {
					assert.Equal(t, tt.value(i), l.Value(i))
				}
			}

			idx, found := l.FindKey(bytes.Compare, tt.key(7))
			assert.True(t, found)
			assert.Equal(t, 7, idx)
		})
	}
}

func TestLeafFindKeyInsertPosition(t *testing.T) {
	t.Parallel()

	b := NewLeafBuilder(base.FixedWidth(4), base.FixedWidth(4), 512, 3)
	for _, k := range []uint32{10, 20, 30} {
		b.Push(u32(k), u32(k))
	}
	page := make([]byte, 512)
	b.Build(page)
	l := NewLeafAccessor(page, base.FixedWidth(4), base.FixedWidth(4))

	tests := []struct {
		key   uint32
		idx   int
		found bool
	}{
		{5, 0, false},
		{10, 0, true},
		{15, 1, false},
		{30, 2, true},
		{35, 3, false},
	}
	for _, tt := range tests {
		idx, found := l.FindKey(bytes.Compare, u32(tt.key))
		assert.Equal(t, tt.idx, idx, "key %d", tt.key)
		assert.Equal(t, tt.found, found, "key %d", tt.key)
	}
}

func TestLeafSplit(t *testing.T) {
	t.Parallel()

	b := NewLeafBuilder(base.Variable, base.Variable, 512, 40)
	for i := 0; i < 40; i++ {
		b.Push([]byte(fmt.Sprintf("key%03d", i)), bytes.Repeat([]byte{'x'}, 10))
	}
	require.True(t, b.ShouldSplit())

	left, right := make([]byte, 512), make([]byte, 512)
	sep := b.BuildSplit(left, right)

	l := NewLeafAccessor(left, base.Variable, base.Variable)
	r := NewLeafAccessor(right, base.Variable, base.Variable)
	assert.Equal(t, 40, l.NumPairs()+r.NumPairs())
	assert.Equal(t, sep, l.LastKey(), "Separator is the largest key on the left")
	assert.Equal(t, 1, bytes.Compare(r.Key(0), sep))
	assert.LessOrEqual(t, End(left), 512)
	assert.LessOrEqual(t, End(right), 512)
}

func TestLeafDetachAllowsInPlaceRebuild(t *testing.T) {
	t.Parallel()

	page := make([]byte, 512)
	b := NewLeafBuilder(base.Variable, base.Variable, 512, 3)
	b.Push([]byte("a"), []byte("1"))
	b.Push([]byte("b"), []byte("2"))
	b.Push([]byte("c"), []byte("3"))
	b.Build(page)

	l := NewLeafAccessor(page, base.Variable, base.Variable)
	rebuild := NewLeafBuilder(base.Variable, base.Variable, 512, 2)
	rebuild.PushAllExcept(l, 0)
	rebuild.Detach()
	rebuild.Build(page)

	l = NewLeafAccessor(page, base.Variable, base.Variable)
	require.Equal(t, 2, l.NumPairs())
	assert.Equal(t, []byte("b"), l.Key(0))
	assert.Equal(t, []byte("3"), l.Value(1))
}

func TestBranchRoundTrip(t *testing.T) {
	t.Parallel()

	for _, keyW := range []base.Width{base.FixedWidth(4), base.Variable} {
		t.Run(keyW.String(), func(t *testing.T) {
			t.Parallel()

			b := NewBranchBuilder(keyW, 512, 4)
			for i := 0; i < 4; i++ {
				b.PushChild(base.PageNumber(100+i), base.Checksum(i))
				if i < 3 {
					b.PushKey(u32(uint32((i + 1) * 10)))
				}
			}
			page := make([]byte, 512)
			b.Build(page)

			a := NewBranchAccessor(page, keyW)
			require.Equal(t, 3, a.NumKeys())
			require.Equal(t, 4, a.CountChildren())
			for i := 0; i < 4; i++ {
				assert.Equal(t, base.PageNumber(100+i), a.ChildPage(i))
				assert.Equal(t, base.Checksum(i), a.ChildChecksum(i))
			}

			tests := []struct {
				key  uint32
				want int
			}{
				{1, 0}, {10, 0}, {11, 1}, {20, 1}, {30, 2}, {31, 3}, {1000, 3},
			}
			for _, tt := range tests {
				idx, page := a.ChildForKey(bytes.Compare, u32(tt.key))
				assert.Equal(t, tt.want, idx, "key %d", tt.key)
				assert.Equal(t, base.PageNumber(100+tt.want), page)
			}

			m := NewBranchMutator(page)
			m.WriteChild(2, 999, 7)
			assert.Equal(t, Child{Page: 999, Checksum: 7}, a.Child(2))
			m.WriteChildChecksum(2, 8)
			assert.Equal(t, base.Checksum(8), a.ChildChecksum(2))

			children, err := ReadChildren(page)
			require.NoError(t, err)
			assert.Len(t, children, 4)
		})
	}
}

func TestBranchSplit(t *testing.T) {
	t.Parallel()

	b := NewBranchBuilder(base.Variable, 512, 40)
	for i := 0; i < 30; i++ {
		b.PushChild(base.PageNumber(i), 0)
		if i < 29 {
			b.PushKey([]byte(fmt.Sprintf("separator%03d", i)))
		}
	}
	require.True(t, b.ShouldSplit())

	left, right := make([]byte, 512), make([]byte, 512)
	sep := b.BuildSplit(left, right)

	l := NewBranchAccessor(left, base.Variable)
	r := NewBranchAccessor(right, base.Variable)
	assert.Equal(t, 30, l.CountChildren()+r.CountChildren())
	assert.Equal(t, 28, l.NumKeys()+r.NumKeys(), "One separator moves to the parent")
	assert.Equal(t, 1, bytes.Compare(sep, l.Key(l.NumKeys()-1)))
	assert.Equal(t, -1, bytes.Compare(sep, r.Key(0)))
	assert.Equal(t, base.PageNumber(l.CountChildren()), r.ChildPage(0))
}

func TestChecksum(t *testing.T) {
	t.Parallel()

	page := make([]byte, 512)
	b := NewLeafBuilder(base.FixedWidth(4), base.FixedWidth(4), 512, 1)
	b.Push(u32(1), u32(2))
	b.Build(page)

	sum, err := Checksum(page)
	require.NoError(t, err)

	// Bytes past end do not count
	page[500] = 0xFF
	again, err := Checksum(page)
	require.NoError(t, err)
	assert.Equal(t, sum, again)

	page[HeaderSize] ^= 0x01
	flipped, err := Checksum(page)
	require.NoError(t, err)
	assert.NotEqual(t, sum, flipped)

	binary.LittleEndian.PutUint32(page[4:8], 10000)
	_, err = Checksum(page)
	assert.ErrorIs(t, err, base.ErrInvalidOffset)

	_, err = ReadChildren(page)
	assert.ErrorIs(t, err, base.ErrInvalidPageType)
}

func TestThresholds(t *testing.T) {
	t.Parallel()

	assert.True(t, BelowFillThreshold(100, 4096))
	assert.False(t, BelowFillThreshold(1366, 4096))
	assert.Equal(t, 1022, MaxEntrySize(4096))
	assert.Equal(t, 10, EntryWeight(base.FixedWidth(4), base.FixedWidth(6), 4, 6))
	assert.Equal(t, 4+4+1+3, EntryWeight(base.FixedWidth(4), base.Variable, 4, 3))
}
