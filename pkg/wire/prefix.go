package wire

// AppendPrefixInt appends v as an N-bit prefix integer (RFC 7541 §5.1).
// flags supplies the bits above the prefix in the first byte.
func AppendPrefixInt(dst []byte, flags byte, n uint8, v uint64) []byte {
	max := uint64(1)<<n - 1
	mask := byte(max)
	if v < max {
		return append(dst, flags&^mask|byte(v))
	}
	dst = append(dst, flags|mask)
	v -= max
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// PrefixIntLen returns the encoded size of v with an N-bit prefix.
func PrefixIntLen(n uint8, v uint64) int {
	max := uint64(1)<<n - 1
	if v < max {
		return 1
	}
	size := 2
	for v -= max; v >= 0x80; v >>= 7 {
		size++
	}
	return size
}

// ReadPrefixInt decodes an N-bit prefix integer from the front of b.
// The bits above the prefix in the first byte are ignored.
func ReadPrefixInt(b []byte, n uint8) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, ErrIncomplete
	}
	max := uint64(1)<<n - 1
	v := uint64(b[0]) & max
	if v < max {
		return v, 1, nil
	}
	var shift uint
	for i := 1; i < len(b); i++ {
		c := b[i]
		if shift > 56 {
			return 0, 0, ErrOverflow
		}
		v += uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrIncomplete
}
