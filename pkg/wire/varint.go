package wire

import (
	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// MaxVarint is the largest value a QUIC varint can carry (2^62 - 1).
const MaxVarint = 1<<62 - 1

// Decoding errors.
var (
	ErrIncomplete = &rerrors.Error{Kind: rerrors.KindIncomplete, Message: "wire: need more bytes"}
	ErrOverflow   = &rerrors.Error{Kind: rerrors.KindMalformed, Message: "wire: integer overflow"}
)

// VarintLen returns the minimal encoded size of v (1, 2, 4 or 8).
func VarintLen(v uint64) int {
	switch {
	case v <= 63:
		return 1
	case v <= 16383:
		return 2
	case v <= 1073741823:
		return 4
	default:
		return 8
	}
}

// AppendVarint appends v using the minimal width.
func AppendVarint(dst []byte, v uint64) []byte {
	return AppendVarintWidth(dst, v, 0)
}

// AppendVarintWidth appends v using exactly width bytes (1, 2, 4 or 8).
// Width 0 selects the minimal width. Any other width is rounded up to the
// next valid one. Bits that do not fit are dropped.
func AppendVarintWidth(dst []byte, v uint64, width int) []byte {
	switch {
	case width <= 0:
		width = VarintLen(v)
	case width <= 1:
		width = 1
	case width <= 2:
		width = 2
	case width <= 4:
		width = 4
	default:
		width = 8
	}
	switch width {
	case 1:
		return append(dst, byte(v&0x3f))
	case 2:
		return append(dst, 0x40|byte(v>>8)&0x3f, byte(v))
	case 4:
		return append(dst, 0x80|byte(v>>24)&0x3f, byte(v>>16), byte(v>>8), byte(v))
	default:
		return append(dst,
			0xc0|byte(v>>56)&0x3f, byte(v>>48), byte(v>>40), byte(v>>32),
			byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
}

// ReadVarint decodes a varint from the front of b.
// Returns the value and the number of bytes consumed, which is also the
// width the value was encoded with.
func ReadVarint(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, ErrIncomplete
	}
	n := 1 << (b[0] >> 6)
	if len(b) < n {
		return 0, 0, ErrIncomplete
	}
	v := uint64(b[0] & 0x3f)
	for i := 1; i < n; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v, n, nil
}
