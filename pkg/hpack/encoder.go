package hpack

import (
	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/wire"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// DefaultTableSize is the initial SETTINGS_HEADER_TABLE_SIZE.
const DefaultTableSize = 4096

// Rep is a field line representation.
type Rep uint8

const (
	// Auto picks indexed when the table holds the field, otherwise a
	// literal with incremental indexing.
	Auto Rep = iota
	Indexed
	Incremental
	WithoutIndexing
	NeverIndexed
)

// String returns the representation name.
func (r Rep) String() string {
	switch r {
	case Auto:
		return "auto"
	case Indexed:
		return "indexed"
	case Incremental:
		return "incremental"
	case WithoutIndexing:
		return "without-indexing"
	case NeverIndexed:
		return "never-indexed"
	default:
		return "unknown"
	}
}

// Field is a header field with encoding directives. Index, when non-zero,
// is written verbatim as the full or name index even if it is out of
// range.
type Field struct {
	Name    string
	Value   string
	Rep     Rep
	Index   uint64
	Huffman wire.Huffman
}

// Fields converts a header list to auto-encoded fields.
func Fields(hs message.Headers) []Field {
	out := make([]Field, len(hs))
	for i, h := range hs {
		out[i] = Field{Name: h.Name, Value: h.Value}
	}
	return out
}

// Encoder is the sending half of a connection's HPACK state.
type Encoder struct {
	table *Table
	// limit is the peer's SETTINGS_HEADER_TABLE_SIZE.
	limit   uint32
	updates []uint64
	// Huffman applies to fields whose own mode is HuffmanAuto.
	Huffman wire.Huffman
}

// NewEncoder returns an encoder with the default table size.
func NewEncoder() *Encoder {
	return &Encoder{table: NewTable(DefaultTableSize), limit: DefaultTableSize}
}

// Table exposes the encoder's dynamic table.
func (e *Encoder) Table() *Table { return e.table }

// SetPeerLimit records the peer's SETTINGS_HEADER_TABLE_SIZE. A limit
// below the current table size shrinks the table and queues an update.
func (e *Encoder) SetPeerLimit(n uint32) {
	e.limit = n
	if e.table.MaxSize() > n {
		e.SetMaxTableSize(n)
	}
}

// SetMaxTableSize resizes the table, clamped to the peer limit, and emits
// a size update at the start of the next block.
func (e *Encoder) SetMaxTableSize(n uint32) {
	if n > e.limit {
		n = e.limit
	}
	e.table.SetMaxSize(n)
	e.updates = append(e.updates, uint64(n))
}

// ForceTableSizeUpdate emits a size update of n at the start of the next
// block without clamping, and resizes the local table to match. Values
// above the peer limit are a decoding error at the peer.
func (e *Encoder) ForceTableSizeUpdate(n uint64) {
	e.updates = append(e.updates, n)
	if n > 1<<32-1 {
		n = 1<<32 - 1
	}
	e.table.SetMaxSize(uint32(n))
}

// EncodeHeaders encodes a header list with default directives.
func (e *Encoder) EncodeHeaders(dst []byte, hs message.Headers) ([]byte, error) {
	return e.Encode(dst, Fields(hs))
}

// Encode appends a header block for fields. The table is updated as each
// field is encoded, so a failed call leaves the entries of the fields
// before the failing one in place.
func (e *Encoder) Encode(dst []byte, fields []Field) ([]byte, error) {
	for _, n := range e.updates {
		dst = wire.AppendPrefixInt(dst, 0x20, 5, n)
	}
	e.updates = e.updates[:0]
	for _, f := range fields {
		var err error
		dst, err = e.encodeField(dst, f)
		if err != nil {
			return dst, err
		}
	}
	return dst, nil
}

func (e *Encoder) encodeField(dst []byte, f Field) ([]byte, error) {
	huff := f.Huffman
	if huff == wire.HuffmanAuto {
		huff = e.Huffman
	}
	rep := f.Rep
	idx := f.Index
	nameOnly := false
	if idx == 0 {
		idx, nameOnly = e.table.Search(f.Name, f.Value)
	}
	if rep == Auto {
		switch {
		case idx != 0 && !nameOnly:
			rep = Indexed
		case entry{f.Name, f.Value}.size() > e.table.MaxSize():
			rep = WithoutIndexing
		default:
			rep = Incremental
		}
	}

	switch rep {
	case Indexed:
		if idx == 0 || (nameOnly && f.Index == 0) {
			return dst, rerrors.New("R060").WithDetail(f.Name + ": " + f.Value)
		}
		return wire.AppendPrefixInt(dst, 0x80, 7, idx), nil
	case Incremental:
		dst = appendLiteral(dst, 0x40, 6, idx, f, huff)
		e.table.Add(f.Name, f.Value)
		return dst, nil
	case NeverIndexed:
		return appendLiteral(dst, 0x10, 4, idx, f, huff), nil
	default:
		return appendLiteral(dst, 0x00, 4, idx, f, huff), nil
	}
}

func appendLiteral(dst []byte, flags byte, n uint8, nameIdx uint64, f Field, h wire.Huffman) []byte {
	dst = wire.AppendPrefixInt(dst, flags, n, nameIdx)
	if nameIdx == 0 {
		dst = wire.AppendString(dst, 0, 7, f.Name, h)
	}
	return wire.AppendString(dst, 0, 7, f.Value, h)
}
