package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cowtree/internal/base"
)

func rangeKeys(t *testing.T, tree *TreeMut, r Range) []uint32 {
	t.Helper()
	it, err := tree.Range(r)
	require.NoError(t, err)
	defer it.Close()
	var keys []uint32
	for {
		pair, err := it.Next()
		require.NoError(t, err)
		if pair == nil {
			return keys
		}
		keys = append(keys, readU32(pair.Key.Bytes()))
		pair.Release()
	}
}

func seq(from, to uint32, step int) []uint32 {
	var out []uint32
	if step > 0 {
		for i := from; i <= to; i += uint32(step) {
			out = append(out, i)
		}
	} else {
		for i := int64(from); i >= int64(to); i += int64(step) {
			out = append(out, uint32(i))
		}
	}
	return out
}

func TestRangeBounds(t *testing.T) {
	t.Parallel()

	// even keys 0..998 across several leaves
	f := newFixture(t, u32Schema)
	for i := uint32(0); i < 1000; i += 2 {
		f.insertU32(t, i, i)
	}
	f.commit(t)

	inc := func(k uint32) Bound { return Bound{Kind: Included, Key: u32(k)} }
	exc := func(k uint32) Bound { return Bound{Kind: Excluded, Key: u32(k)} }

	tests := []struct {
		name string
		r    Range
		want []uint32
	}{
		{"all", All, seq(0, 998, 2)},
		{"all reverse", Range{Reverse: true}, seq(998, 0, -2)},
		{"included", Range{Start: inc(100), End: inc(200)}, seq(100, 200, 2)},
		{"excluded", Range{Start: exc(100), End: exc(200)}, seq(102, 198, 2)},
		{"between keys", Range{Start: inc(101), End: inc(111)}, seq(102, 110, 2)},
		{"open end", Range{Start: inc(990)}, seq(990, 998, 2)},
		{"open start", Range{End: exc(6)}, seq(0, 4, 2)},
		{"reverse included", Range{Start: inc(100), End: inc(200), Reverse: true}, seq(200, 100, -2)},
		{"reverse excluded", Range{Start: exc(100), End: exc(200), Reverse: true}, seq(198, 102, -2)},
		{"reverse between keys", Range{Start: inc(101), End: inc(111), Reverse: true}, seq(110, 102, -2)},
		{"reverse open end", Range{Start: inc(993), Reverse: true}, seq(998, 994, -2)},
		{"empty", Range{Start: inc(500), End: exc(500)}, nil},
		{"inverted", Range{Start: inc(600), End: inc(500)}, nil},
		{"past end", Range{Start: inc(5000)}, nil},
		{"before start reverse", Range{End: exc(0), Reverse: true}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, rangeKeys(t, f.tree, tt.r))
		})
	}
}

func TestRangeReset(t *testing.T) {
	t.Parallel()

	f := newFixture(t, u32Schema)
	for i := uint32(0); i < 200; i++ {
		f.insertU32(t, i, i)
	}

	it, err := f.tree.Range(Range{Start: Bound{Kind: Included, Key: u32(150)}})
	require.NoError(t, err)
	defer it.Close()

	first, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(150), readU32(first.Key.Bytes()))
	first.Release()
	_, err = it.Next()
	require.NoError(t, err)

	require.NoError(t, it.Reset())
	again, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(150), readU32(again.Key.Bytes()))
	again.Release()
}

func TestRangeOnEmptyTree(t *testing.T) {
	t.Parallel()

	f := newFixture(t, u32Schema)
	assert.Empty(t, rangeKeys(t, f.tree, All))
	pair, err := f.tree.First()
	require.NoError(t, err)
	assert.Nil(t, pair)
}

func TestRetainIn(t *testing.T) {
	t.Parallel()

	for _, committed := range []bool{false, true} {
		f := newFixture(t, u32Schema)
		for i := uint32(0); i < 600; i++ {
			f.insertU32(t, i, i)
		}
		if committed {
			f.commit(t)
		}

		// drop odd keys in [100, 400)
		r := Range{Start: Bound{Kind: Included, Key: u32(100)}, End: Bound{Kind: Excluded, Key: u32(400)}}
		err := f.tree.RetainIn(r, func(key, value []byte) bool {
			return readU32(key)%2 == 0
		})
		require.NoError(t, err)

		var want []uint32
		want = append(want, seq(0, 99, 1)...)
		want = append(want, seq(100, 398, 2)...)
		want = append(want, seq(400, 599, 1)...)
		assert.Equal(t, want, rangeKeys(t, f.tree, All))
		assert.Equal(t, uint64(len(want)), f.tree.Len())

		f.commit(t)
		ok, err := f.tree.VerifyChecksum()
		require.NoError(t, err)
		assert.True(t, ok)

		// every page is either reachable or free
		reachable := 0
		require.NoError(t, f.tree.VisitAllPages(func(*PagePath) error {
			reachable++
			return nil
		}))
		assert.Equal(t, uint64(reachable), f.store.Stats().Allocated, "committed=%v", committed)
	}
}

func TestRetainInTwiceInOneTransaction(t *testing.T) {
	t.Parallel()

	f := newFixture(t, u32Schema)
	for i := uint32(0); i < 400; i++ {
		f.insertU32(t, i, i)
	}
	f.commit(t)

	require.NoError(t, f.tree.RetainIn(All, func(key, _ []byte) bool { return readU32(key)%2 == 0 }))
	require.NoError(t, f.tree.RetainIn(All, func(key, _ []byte) bool { return readU32(key)%4 == 0 }))
	assert.Equal(t, seq(0, 396, 4), rangeKeys(t, f.tree, All))

	// freed list holds only committed pages, each once
	drained := f.freed.Drain()
	seen := make(map[base.PageNumber]bool)
	for _, p := range drained {
		assert.False(t, seen[p], "page %d queued twice", p)
		assert.False(t, f.store.Uncommitted(p))
		seen[p] = true
	}
	for p := range seen {
		f.store.Free(p)
	}
}

func TestExtractFromIf(t *testing.T) {
	t.Parallel()

	f := newFixture(t, u32Schema)
	for i := uint32(0); i < 300; i++ {
		f.insertU32(t, i, i*10)
	}
	f.commit(t)

	it, err := f.tree.ExtractFromIf(All, func(key, value []byte) bool {
		return readU32(key)%3 == 0
	})
	require.NoError(t, err)

	var extracted []uint32
	for {
		pair, err := it.Next()
		require.NoError(t, err)
		if pair == nil {
			break
		}
		assert.Equal(t, readU32(pair.Key.Bytes())*10, readU32(pair.Value.Bytes()))
		extracted = append(extracted, readU32(pair.Key.Bytes()))
		pair.Release()
	}
	it.Close()

	assert.Equal(t, seq(0, 297, 3), extracted)
	assert.Equal(t, uint64(200), f.tree.Len())
	g, err := f.tree.Get(u32(3))
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestExtractFromIfStopsEarly(t *testing.T) {
	t.Parallel()

	f := newFixture(t, u32Schema)
	for i := uint32(0); i < 100; i++ {
		f.insertU32(t, i, i)
	}

	it, err := f.tree.ExtractFromIf(All, func([]byte, []byte) bool { return true })
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		pair, err := it.Next()
		require.NoError(t, err)
		require.NotNil(t, pair)
		pair.Release()
	}
	it.Close()

	assert.Equal(t, seq(10, 99, 1), rangeKeys(t, f.tree, All))
	pair, err := it.Next()
	require.NoError(t, err)
	assert.Nil(t, pair, "Closed iterator yields nothing")
}

func TestInsertInPlace(t *testing.T) {
	t.Parallel()

	f := newFixture(t, bytesSchema)
	for i := 0; i < 200; i++ {
		_, err := f.tree.Insert(u32(uint32(i)), []byte("original value"))
		require.NoError(t, err)
	}
	f.commit(t)

	// in place requires an uncommitted path
	assert.Panics(t, func() { _ = f.tree.InsertInPlace(u32(5), []byte("x")) })

	_, err := f.tree.Insert(u32(5), []byte("fresh value"))
	require.NoError(t, err)
	require.NoError(t, f.tree.InsertInPlace(u32(5), []byte("short")))

	g, err := f.tree.Get(u32(5))
	require.NoError(t, err)
	assert.Equal(t, "short", string(g.Bytes()))
	g.Release()
	assert.True(t, f.tree.Root().Checksum.IsDeferred())

	assert.Panics(t, func() { _ = f.tree.InsertInPlace(u32(5), []byte("much longer than before")) })
	assert.Panics(t, func() { _ = f.tree.InsertInPlace(u32(9999), []byte("x")) })

	f.commit(t)
	ok, err := f.tree.VerifyChecksum()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInsertReserve(t *testing.T) {
	t.Parallel()

	f := newFixture(t, bytesSchema)
	for i := 0; i < 100; i++ {
		_, err := f.tree.Insert(u32(uint32(i)), []byte("v"))
		require.NoError(t, err)
	}
	f.commit(t)

	g, err := f.tree.InsertReserve(u32(50), 8)
	require.NoError(t, err)
	require.Len(t, g.Bytes(), 8)
	assert.Equal(t, make([]byte, 8), g.Bytes())
	copy(g.Bytes(), "reserved")
	g.Release()

	v, err := f.tree.Get(u32(50))
	require.NoError(t, err)
	assert.Equal(t, "reserved", string(v.Bytes()))
	v.Release()
	assert.Equal(t, uint64(100), f.tree.Len())

	f.commit(t)
	ok, err := f.tree.VerifyChecksum()
	require.NoError(t, err)
	assert.True(t, ok)
}
