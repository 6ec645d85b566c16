package cowtree

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkOrder asserts that the codec round-trips each value and that byte
// order under Compare follows the order of values, which must be ascending
func checkOrder[T any](t *testing.T, codec Key[T], values []T) {
	t.Helper()
	encoded := make([][]byte, len(values))
	for i, v := range values {
		encoded[i] = codec.AsBytes(v)
		assert.Equal(t, v, codec.FromBytes(encoded[i]), "round trip of %v", v)
		if n, ok := codec.FixedWidth(); ok {
			assert.Len(t, encoded[i], n)
		}
	}
	for i := 1; i < len(encoded); i++ {
		assert.Negative(t, codec.Compare(encoded[i-1], encoded[i]), "%v < %v", values[i-1], values[i])
		assert.Positive(t, codec.Compare(encoded[i], encoded[i-1]))
		assert.Zero(t, codec.Compare(encoded[i], encoded[i]))
	}
}

func TestIntegerCodecsPreserveOrder(t *testing.T) {
	t.Parallel()

	t.Run("uint8", func(t *testing.T) { checkOrder(t, Uint8, []uint8{0, 1, 127, 128, 255}) })
	t.Run("uint16", func(t *testing.T) { checkOrder(t, Uint16, []uint16{0, 1, 255, 256, math.MaxUint16}) })
	t.Run("uint32", func(t *testing.T) { checkOrder(t, Uint32, []uint32{0, 1, 255, 256, 1 << 24, math.MaxUint32}) })
	t.Run("uint64", func(t *testing.T) { checkOrder(t, Uint64, []uint64{0, 1, 1 << 32, math.MaxUint64}) })
	t.Run("int32", func(t *testing.T) {
		checkOrder(t, Int32, []int32{math.MinInt32, -256, -1, 0, 1, 256, math.MaxInt32})
	})
	t.Run("int64", func(t *testing.T) {
		checkOrder(t, Int64, []int64{math.MinInt64, -1 << 40, -1, 0, 1, 1 << 40, math.MaxInt64})
	})
}

func TestScalarCodecs(t *testing.T) {
	t.Parallel()

	checkOrder(t, Bool, []bool{false, true})
	checkOrder(t, String, []string{"", "a", "ab", "b", "ba"})
	checkOrder(t, Bytes, [][]byte{{}, {0}, {0, 0}, {1}, {0xff}})
	checkOrder(t, FixedBytes(2), [][]byte{{0, 0}, {0, 1}, {1, 0}, {0xff, 0xff}})

	n, ok := Unit.FixedWidth()
	assert.True(t, ok)
	assert.Zero(t, n)
	assert.Empty(t, Unit.AsBytes(struct{}{}))

	assert.Panics(t, func() { FixedBytes(2).AsBytes([]byte{1}) })
	assert.Panics(t, func() { FixedBytes(-1) })
}

func TestTypeNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		got  string
	}{
		{"uint64", Uint64.TypeName()},
		{"int32", Int32.TypeName()},
		{"string", String.TypeName()},
		{"[]byte", Bytes.TypeName()},
		{"[16]byte", FixedBytes(16).TypeName()},
		{"(string, uint32)", PairOf(String, Uint32).TypeName()},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.got)
	}
}

func TestPairOf(t *testing.T) {
	t.Parallel()

	t.Run("fixed first field", func(t *testing.T) {
		codec := PairOf(Uint32, String)
		_, fixed := codec.FixedWidth()
		assert.False(t, fixed)
		checkOrder(t, codec, []Tuple[uint32, string]{
			{1, ""}, {1, "a"}, {1, "b"}, {2, ""}, {300, "a"},
		})
	})

	t.Run("variable first field", func(t *testing.T) {
		codec := PairOf(String, Uint16)
		values := []Tuple[string, uint16]{
			{"", 5}, {"a", 0}, {"a", 9}, {"ab", 0}, {"b", 1},
		}
		checkOrder(t, codec, values)

		// the length prefix would put "b" before "ab" in plain byte order
		ab := codec.AsBytes(Tuple[string, uint16]{"ab", 0})
		b := codec.AsBytes(Tuple[string, uint16]{"b", 0})
		assert.Negative(t, codec.Compare(ab, b))
		assert.Positive(t, bytes.Compare(ab, b))
	})

	t.Run("both fixed", func(t *testing.T) {
		codec := PairOf(Uint16, Int32)
		n, ok := codec.FixedWidth()
		require.True(t, ok)
		assert.Equal(t, 6, n)
		checkOrder(t, codec, []Tuple[uint16, int32]{{0, -5}, {0, 5}, {1, math.MinInt32}})
	})
}
