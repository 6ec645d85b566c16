package cowtree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"cowtree/internal/base"
)

// Value is the encoding contract of a stored value type. A type with a fixed
// width must encode every value to exactly that many bytes; the tree then
// stores it without a length prefix.
type Value[T any] interface {
	// FixedWidth returns the encoded width and true for fixed-width types
	FixedWidth() (int, bool)
	AsBytes(v T) []byte
	// FromBytes decodes a stored value. The input may alias a store page and
	// must not be retained past the guard it came from.
	FromBytes(data []byte) T
	TypeName() string
}

// Key is a Value with a total order over its encoded form
type Key[T any] interface {
	Value[T]
	Compare(a, b []byte) int
}

// reservable is implemented by value types whose encoded bytes can be
// written directly by the caller through InsertReserve.
type reservable interface {
	reservable()
}

func widthOf[T any](v Value[T]) base.Width {
	if n, ok := v.FixedWidth(); ok {
		return base.FixedWidth(n)
	}
	return base.Variable
}

//goland:noinspection GoUnusedGlobalVariable
var (
	Uint8  Key[uint8]    = uint8Codec{}
	Uint16 Key[uint16]   = uint16Codec{}
	Uint32 Key[uint32]   = uint32Codec{}
	Uint64 Key[uint64]   = uint64Codec{}
	Int32  Key[int32]    = int32Codec{}
	Int64  Key[int64]    = int64Codec{}
	Bool   Key[bool]     = boolCodec{}
	String Key[string]   = stringCodec{}
	Bytes  Key[[]byte]   = bytesCodec{}
	Unit   Key[struct{}] = unitCodec{}
)

// Unsigned integers are big-endian so that bytes.Compare orders them
// numerically.

type uint8Codec struct{}

func (uint8Codec) FixedWidth() (int, bool)  { return 1, true }
func (uint8Codec) AsBytes(v uint8) []byte   { return []byte{v} }
func (uint8Codec) FromBytes(b []byte) uint8 { return b[0] }
func (uint8Codec) TypeName() string         { return "uint8" }
func (uint8Codec) Compare(a, b []byte) int  { return bytes.Compare(a, b) }

type uint16Codec struct{}

func (uint16Codec) FixedWidth() (int, bool) { return 2, true }
func (uint16Codec) AsBytes(v uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, v)
}
func (uint16Codec) FromBytes(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func (uint16Codec) TypeName() string          { return "uint16" }
func (uint16Codec) Compare(a, b []byte) int   { return bytes.Compare(a, b) }

type uint32Codec struct{}

func (uint32Codec) FixedWidth() (int, bool) { return 4, true }
func (uint32Codec) AsBytes(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}
func (uint32Codec) FromBytes(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
func (uint32Codec) TypeName() string          { return "uint32" }
func (uint32Codec) Compare(a, b []byte) int   { return bytes.Compare(a, b) }

type uint64Codec struct{}

func (uint64Codec) FixedWidth() (int, bool) { return 8, true }
func (uint64Codec) AsBytes(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}
func (uint64Codec) FromBytes(b []byte) uint64 { return binary.BigEndian.Uint64(b) }
func (uint64Codec) TypeName() string          { return "uint64" }
func (uint64Codec) Compare(a, b []byte) int   { return bytes.Compare(a, b) }

// Signed integers flip the sign bit before the big-endian encoding, which
// moves negative values below positive ones in byte order.

type int32Codec struct{}

func (int32Codec) FixedWidth() (int, bool) { return 4, true }
func (int32Codec) AsBytes(v int32) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(v)^(1<<31))
}
func (int32Codec) FromBytes(b []byte) int32 {
	return int32(binary.BigEndian.Uint32(b) ^ (1 << 31))
}
func (int32Codec) TypeName() string        { return "int32" }
func (int32Codec) Compare(a, b []byte) int { return bytes.Compare(a, b) }

type int64Codec struct{}

func (int64Codec) FixedWidth() (int, bool) { return 8, true }
func (int64Codec) AsBytes(v int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v)^(1<<63))
}
func (int64Codec) FromBytes(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63))
}
func (int64Codec) TypeName() string        { return "int64" }
func (int64Codec) Compare(a, b []byte) int { return bytes.Compare(a, b) }

type boolCodec struct{}

func (boolCodec) FixedWidth() (int, bool) { return 1, true }
func (boolCodec) AsBytes(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}
func (boolCodec) FromBytes(b []byte) bool { return b[0] != 0 }
func (boolCodec) TypeName() string        { return "bool" }
func (boolCodec) Compare(a, b []byte) int { return bytes.Compare(a, b) }

type stringCodec struct{}

func (stringCodec) FixedWidth() (int, bool)   { return 0, false }
func (stringCodec) AsBytes(v string) []byte   { return []byte(v) }
func (stringCodec) FromBytes(b []byte) string { return string(b) }
func (stringCodec) TypeName() string          { return "string" }
func (stringCodec) Compare(a, b []byte) int   { return bytes.Compare(a, b) }

// bytesCodec decodes without copying: the returned slice aliases the page
// and is only valid while the guard it came from is open.
type bytesCodec struct{}

func (bytesCodec) FixedWidth() (int, bool)   { return 0, false }
func (bytesCodec) AsBytes(v []byte) []byte   { return v }
func (bytesCodec) FromBytes(b []byte) []byte { return b }
func (bytesCodec) TypeName() string          { return "[]byte" }
func (bytesCodec) Compare(a, b []byte) int   { return bytes.Compare(a, b) }
func (bytesCodec) reservable()               {}

type unitCodec struct{}

func (unitCodec) FixedWidth() (int, bool)   { return 0, true }
func (unitCodec) AsBytes(struct{}) []byte   { return nil }
func (unitCodec) FromBytes([]byte) struct{} { return struct{}{} }
func (unitCodec) TypeName() string          { return "()" }
func (unitCodec) Compare(_, _ []byte) int   { return 0 }

// FixedBytes returns the codec for byte strings of exactly n bytes. AsBytes
// panics on a value of another length.
func FixedBytes(n int) Key[[]byte] {
	if n < 0 || n > math.MaxUint16 {
		panic(fmt.Sprintf("invalid fixed byte width %d", n))
	}
	return fixedBytesCodec{n: n}
}

type fixedBytesCodec struct {
	n int
}

func (c fixedBytesCodec) FixedWidth() (int, bool) { return c.n, true }

func (c fixedBytesCodec) AsBytes(v []byte) []byte {
	if len(v) != c.n {
		panic(fmt.Sprintf("fixed byte value has %d bytes, want %d", len(v), c.n))
	}
	return v
}

func (c fixedBytesCodec) FromBytes(b []byte) []byte { return b }
func (c fixedBytesCodec) TypeName() string          { return fmt.Sprintf("[%d]byte", c.n) }
func (c fixedBytesCodec) Compare(a, b []byte) int   { return bytes.Compare(a, b) }
func (c fixedBytesCodec) reservable()               {}

// Tuple is the value type of a PairOf codec
type Tuple[A, B any] struct {
	First  A
	Second B
}

// PairOf returns a codec for (A, B) tuples ordered by A, then B. A variable
// width first field is length-prefixed; the second field takes the rest.
func PairOf[A, B any](a Key[A], b Key[B]) Key[Tuple[A, B]] {
	return pairCodec[A, B]{a: a, b: b}
}

type pairCodec[A, B any] struct {
	a Key[A]
	b Key[B]
}

func (c pairCodec[A, B]) FixedWidth() (int, bool) {
	wa, okA := c.a.FixedWidth()
	wb, okB := c.b.FixedWidth()
	if okA && okB {
		return wa + wb, true
	}
	return 0, false
}

func (c pairCodec[A, B]) AsBytes(v Tuple[A, B]) []byte {
	first := c.a.AsBytes(v.First)
	second := c.b.AsBytes(v.Second)
	var out []byte
	if _, ok := c.a.FixedWidth(); ok {
		out = make([]byte, 0, len(first)+len(second))
		out = append(out, first...)
	} else {
		out = make([]byte, 0, base.PrefixSize(len(first))+len(first)+len(second))
		out = base.AppendPrefixed(out, first)
	}
	return append(out, second...)
}

func (c pairCodec[A, B]) split(data []byte) ([]byte, []byte) {
	if n, ok := c.a.FixedWidth(); ok {
		return data[:n], data[n:]
	}
	first, rest, err := base.SplitPrefixed(data)
	if err != nil {
		panic(fmt.Sprintf("corrupt tuple encoding: %v", err))
	}
	return first, rest
}

func (c pairCodec[A, B]) FromBytes(data []byte) Tuple[A, B] {
	first, second := c.split(data)
	return Tuple[A, B]{First: c.a.FromBytes(first), Second: c.b.FromBytes(second)}
}

func (c pairCodec[A, B]) TypeName() string {
	return fmt.Sprintf("(%s, %s)", c.a.TypeName(), c.b.TypeName())
}

func (c pairCodec[A, B]) Compare(x, y []byte) int {
	xa, xb := c.split(x)
	ya, yb := c.split(y)
	if r := c.a.Compare(xa, ya); r != 0 {
		return r
	}
	return c.b.Compare(xb, yb)
}
