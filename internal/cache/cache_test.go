package cache

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ = flag.Bool("slow", false, "run slow tests")

func TestCacheBasics(t *testing.T) {
	t.Parallel()

	c := New[string](10)

	_, hit := c.Get(1)
	assert.False(t, hit, "Expected cache miss for key 1")

	_, replaced := c.Insert(1, "one")
	assert.False(t, replaced)

	v, hit := c.Get(1)
	assert.True(t, hit, "Expected cache hit for key 1")
	assert.Equal(t, "one", v)
	assert.Equal(t, 1, c.Len())

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestCacheMinSize(t *testing.T) {
	t.Parallel()

	c := New[int](2)
	for i := 0; i < MinCacheSize; i++ {
		c.Insert(uint64(i), i)
	}
	assert.Equal(t, MinCacheSize, c.Len(), "Cache should be clamped to MinCacheSize")
}

func TestCacheFIFOEviction(t *testing.T) {
	t.Parallel()

	c := New[int](MinCacheSize)
	for i := 0; i < MinCacheSize; i++ {
		c.Insert(uint64(i), i)
	}

	// Touching key 0 must not save it from eviction
	_, ok := c.Get(0)
	require.True(t, ok)

	c.Insert(100, 100)
	assert.Equal(t, MinCacheSize, c.Len())
	_, ok = c.Get(0)
	assert.False(t, ok, "Oldest insertion should be evicted")
	_, ok = c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestCacheReinsertKeepsPosition(t *testing.T) {
	t.Parallel()

	c := New[string](MinCacheSize)
	c.Insert(1, "a")
	c.Insert(2, "b")

	old, replaced := c.Insert(1, "c")
	assert.True(t, replaced)
	assert.Equal(t, "a", old)

	key, v, ok := c.PopLowestPriority()
	require.True(t, ok)
	assert.Equal(t, uint64(1), key, "Re-insert should not re-queue")
	assert.Equal(t, "c", v)

	key, _, ok = c.PopLowestPriority()
	require.True(t, ok)
	assert.Equal(t, uint64(2), key)

	_, _, ok = c.PopLowestPriority()
	assert.False(t, ok)
}

func TestCacheRemove(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		remove   uint64
		wantPops []uint64
	}{
		{"head", 1, []uint64{2, 3}},
		{"middle", 2, []uint64{1, 3}},
		{"tail", 3, []uint64{1, 2}},
		{"missing", 9, []uint64{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := New[int](MinCacheSize)
			for k := uint64(1); k <= 3; k++ {
				c.Insert(k, int(k))
			}
			c.Remove(tt.remove)

			var got []uint64
			for {
				k, _, ok := c.PopLowestPriority()
				if !ok {
					break
				}
				got = append(got, k)
			}
			assert.Equal(t, tt.wantPops, got)
		})
	}
}
