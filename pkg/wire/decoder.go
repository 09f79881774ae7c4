package wire

// Decoder reads fixed-width and variable-length fields from a byte buffer.
// Short reads return ErrIncomplete and leave the position unchanged.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder creates a new decoder from the given byte slice.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

// EOF returns true if all bytes have been read.
func (d *Decoder) EOF() bool {
	return d.pos >= len(d.buf)
}

// Position returns the current read position.
func (d *Decoder) Position() int {
	return d.pos
}

// Rest returns the unread bytes without consuming them.
func (d *Decoder) Rest() []byte {
	return d.buf[d.pos:]
}

// Skip advances the position by n bytes.
func (d *Decoder) Skip(n int) error {
	if n < 0 || d.pos+n > len(d.buf) {
		return ErrIncomplete
	}
	d.pos += n
	return nil
}

// ReadByte reads a single byte.
func (d *Decoder) ReadByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, ErrIncomplete
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

// ReadBytes reads exactly n bytes and returns them.
// The returned slice references the decoder's buffer; do not modify.
func (d *Decoder) ReadBytes(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.buf) {
		return nil, ErrIncomplete
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// ReadUint16 reads a uint16 in big-endian byte order.
func (d *Decoder) ReadUint16() (uint16, error) {
	if d.pos+2 > len(d.buf) {
		return 0, ErrIncomplete
	}
	v := uint16(d.buf[d.pos])<<8 | uint16(d.buf[d.pos+1])
	d.pos += 2
	return v, nil
}

// ReadUint24 reads a 24-bit big-endian value.
func (d *Decoder) ReadUint24() (uint32, error) {
	if d.pos+3 > len(d.buf) {
		return 0, ErrIncomplete
	}
	v := uint32(d.buf[d.pos])<<16 | uint32(d.buf[d.pos+1])<<8 | uint32(d.buf[d.pos+2])
	d.pos += 3
	return v, nil
}

// ReadUint32 reads a uint32 in big-endian byte order.
func (d *Decoder) ReadUint32() (uint32, error) {
	if d.pos+4 > len(d.buf) {
		return 0, ErrIncomplete
	}
	v := uint32(d.buf[d.pos])<<24 | uint32(d.buf[d.pos+1])<<16 |
		uint32(d.buf[d.pos+2])<<8 | uint32(d.buf[d.pos+3])
	d.pos += 4
	return v, nil
}

// ReadVarint reads a QUIC varint and returns it with its encoded width.
func (d *Decoder) ReadVarint() (uint64, int, error) {
	v, n, err := ReadVarint(d.buf[d.pos:])
	if err != nil {
		return 0, 0, err
	}
	d.pos += n
	return v, n, nil
}

// ReadPrefixInt reads an N-bit prefix integer. The first byte is consumed
// even though its high bits belong to the caller; use PeekByte first.
func (d *Decoder) ReadPrefixInt(n uint8) (uint64, error) {
	v, m, err := ReadPrefixInt(d.buf[d.pos:], n)
	if err != nil {
		return 0, err
	}
	d.pos += m
	return v, nil
}

// ReadString reads a prefixed string literal.
func (d *Decoder) ReadString(n uint8) (string, error) {
	s, _, m, err := ReadString(d.buf[d.pos:], n)
	if err != nil {
		return "", err
	}
	d.pos += m
	return s, nil
}

// PeekByte returns the next byte without consuming it.
func (d *Decoder) PeekByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, ErrIncomplete
	}
	return d.buf[d.pos], nil
}
