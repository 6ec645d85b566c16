package base

import (
	"encoding/binary"
	"math"
)

const (
	// prefix16 introduces a little-endian uint16 length
	prefix16 = 254
	// prefix32 introduces a little-endian uint32 length
	prefix32 = 255
)

// PrefixSize is the size of the length prefix for a payload of n bytes
func PrefixSize(n int) int {
	switch {
	case n < prefix16:
		return 1
	case n <= math.MaxUint16:
		return 3
	default:
		return 5
	}
}

// PutPrefix writes the length prefix for n into dst and returns the number
// of bytes written. dst must hold at least PrefixSize(n) bytes.
func PutPrefix(dst []byte, n int) int {
	switch {
	case n < prefix16:
		dst[0] = byte(n)
		return 1
	case n <= math.MaxUint16:
		dst[0] = prefix16
		binary.LittleEndian.PutUint16(dst[1:], uint16(n))
		return 3
	default:
		dst[0] = prefix32
		binary.LittleEndian.PutUint32(dst[1:], uint32(n))
		return 5
	}
}

// AppendPrefixed appends a length prefix followed by data
func AppendPrefixed(dst, data []byte) []byte {
	var hdr [5]byte
	n := PutPrefix(hdr[:], len(data))
	dst = append(dst, hdr[:n]...)
	return append(dst, data...)
}

// ReadPrefix decodes a length prefix, returning the payload length and the
// prefix size.
func ReadPrefix(src []byte) (length int, size int, err error) {
	if len(src) == 0 {
		return 0, 0, ErrTruncated
	}
	switch src[0] {
	case prefix16:
		if len(src) < 3 {
			return 0, 0, ErrTruncated
		}
		return int(binary.LittleEndian.Uint16(src[1:])), 3, nil
	case prefix32:
		if len(src) < 5 {
			return 0, 0, ErrTruncated
		}
		return int(binary.LittleEndian.Uint32(src[1:])), 5, nil
	default:
		return int(src[0]), 1, nil
	}
}

// SplitPrefixed reads one length-prefixed field from src and returns the
// payload and the remaining bytes.
func SplitPrefixed(src []byte) (field, rest []byte, err error) {
	n, size, err := ReadPrefix(src)
	if err != nil {
		return nil, nil, err
	}
	if size+n > len(src) {
		return nil, nil, ErrTruncated
	}
	return src[size : size+n], src[size+n:], nil
}
