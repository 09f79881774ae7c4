package wire

// Encoder is a binary encoder that appends data to an internal buffer.
// It never fails: every write appends.
type Encoder struct {
	buf []byte
}

// NewEncoder creates a new encoder with a default initial capacity.
func NewEncoder() *Encoder {
	return &Encoder{
		buf: make([]byte, 0, 64),
	}
}

// NewEncoderFrom creates an encoder that appends to dst.
func NewEncoderFrom(dst []byte) *Encoder {
	return &Encoder{buf: dst}
}

// Bytes returns the encoded bytes, including any prefix the encoder
// was created with.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// WriteByte appends a single byte.
func (e *Encoder) WriteByte(b byte) {
	e.buf = append(e.buf, b)
}

// WriteBytes appends raw bytes.
func (e *Encoder) WriteBytes(b []byte) {
	e.buf = append(e.buf, b...)
}

// WriteUint16 appends a uint16 in big-endian byte order.
func (e *Encoder) WriteUint16(v uint16) {
	e.buf = append(e.buf, byte(v>>8), byte(v))
}

// WriteUint24 appends the low 24 bits of v in big-endian byte order.
func (e *Encoder) WriteUint24(v uint32) {
	e.buf = append(e.buf, byte(v>>16), byte(v>>8), byte(v))
}

// WriteUint32 appends a uint32 in big-endian byte order.
func (e *Encoder) WriteUint32(v uint32) {
	e.buf = append(e.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// WriteVarint appends a QUIC varint with the minimal width.
func (e *Encoder) WriteVarint(v uint64) {
	e.buf = AppendVarint(e.buf, v)
}

// WriteVarintWidth appends a QUIC varint with a forced width.
func (e *Encoder) WriteVarintWidth(v uint64, width int) {
	e.buf = AppendVarintWidth(e.buf, v, width)
}

// WritePrefixInt appends an N-bit prefix integer.
func (e *Encoder) WritePrefixInt(flags byte, n uint8, v uint64) {
	e.buf = AppendPrefixInt(e.buf, flags, n, v)
}

// WriteString appends a prefixed string literal.
func (e *Encoder) WriteString(flags byte, n uint8, s string, h Huffman) {
	e.buf = AppendString(e.buf, flags, n, s, h)
}
