package hpack

import (
	"errors"
	"strconv"

	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/wire"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// Decoder is the receiving half of a connection's HPACK state.
type Decoder struct {
	table *Table
	// limit is our advertised SETTINGS_HEADER_TABLE_SIZE.
	limit uint32
	// MaxListSize, when non-zero, bounds the decoded list size.
	MaxListSize uint32
}

// NewDecoder returns a decoder with the default table size.
func NewDecoder() *Decoder {
	return &Decoder{table: NewTable(DefaultTableSize), limit: DefaultTableSize}
}

// Table exposes the decoder's dynamic table.
func (d *Decoder) Table() *Table { return d.table }

// SetLimit sets the size we advertise. Updates above it are rejected.
func (d *Decoder) SetLimit(n uint32) {
	d.limit = n
	if d.table.MaxSize() > n {
		d.table.SetMaxSize(n)
	}
}

// Decode decodes a complete header block.
func (d *Decoder) Decode(block []byte) (message.Headers, error) {
	fields, err := d.DecodeFields(block)
	hs := make(message.Headers, len(fields))
	for i, f := range fields {
		hs[i] = message.H(f.Name, f.Value)
	}
	return hs, err
}

// DecodeFields decodes a header block and reports the representation and
// index each field used. Table size updates are accepted at any position.
// On error the fields decoded so far are returned with it. A list above
// MaxListSize is still decoded to the end so the dynamic table stays in
// step with the peer's encoder; the size error is reported afterwards.
func (d *Decoder) DecodeFields(block []byte) ([]Field, error) {
	var out []Field
	var listSize uint32
	var sizeErr error
	for pos := 0; pos < len(block); {
		b := block[pos]
		var (
			f   Field
			n   int
			err error
		)
		switch {
		case b&0x80 != 0:
			f.Rep = Indexed
			f.Index, n, err = wire.ReadPrefixInt(block[pos:], 7)
			if err != nil {
				return out, malformed(err)
			}
			var ok bool
			f.Name, f.Value, ok = d.table.Lookup(f.Index)
			if !ok {
				return out, indexError(f.Index, d.table.Len())
			}
		case b&0xc0 == 0x40:
			f.Rep = Incremental
			f, n, err = d.readLiteral(block[pos:], 6, f)
			if err == nil {
				d.table.Add(f.Name, f.Value)
			}
		case b&0xe0 == 0x20:
			var size uint64
			size, n, err = wire.ReadPrefixInt(block[pos:], 5)
			if err != nil {
				return out, malformed(err)
			}
			if size > uint64(d.limit) {
				return out, rerrors.New("R014").WithDetail(
					"update to " + strconv.FormatUint(size, 10) + " above " + strconv.FormatUint(uint64(d.limit), 10))
			}
			d.table.SetMaxSize(uint32(size))
			pos += n
			continue
		case b&0xf0 == 0x10:
			f.Rep = NeverIndexed
			f, n, err = d.readLiteral(block[pos:], 4, f)
		default:
			f.Rep = WithoutIndexing
			f, n, err = d.readLiteral(block[pos:], 4, f)
		}
		if err != nil {
			return out, err
		}
		pos += n
		listSize += entry{f.Name, f.Value}.size()
		if d.MaxListSize != 0 && listSize > d.MaxListSize && sizeErr == nil {
			sizeErr = rerrors.New("R011").WithDetail("header list exceeds " + strconv.FormatUint(uint64(d.MaxListSize), 10) + " bytes")
		}
		out = append(out, f)
	}
	return out, sizeErr
}

func (d *Decoder) readLiteral(b []byte, n uint8, f Field) (Field, int, error) {
	idx, m, err := wire.ReadPrefixInt(b, n)
	if err != nil {
		return f, 0, malformed(err)
	}
	f.Index = idx
	pos := m
	if idx == 0 {
		name, huff, k, err := wire.ReadString(b[pos:], 7)
		if err != nil {
			return f, 0, malformed(err)
		}
		f.Name = name
		if huff {
			f.Huffman = wire.HuffmanAlways
		}
		pos += k
	} else {
		name, _, ok := d.table.Lookup(idx)
		if !ok {
			return f, 0, indexError(idx, d.table.Len())
		}
		f.Name = name
	}
	value, huff, k, err := wire.ReadString(b[pos:], 7)
	if err != nil {
		return f, 0, malformed(err)
	}
	f.Value = value
	if huff {
		f.Huffman = wire.HuffmanAlways
	} else if f.Huffman == wire.HuffmanAuto {
		f.Huffman = wire.HuffmanNever
	}
	return f, pos + k, nil
}

func indexError(idx uint64, dynLen int) error {
	return rerrors.New("R061").WithDetail("index " + strconv.FormatUint(idx, 10) +
		" with " + strconv.Itoa(StaticLen) + " static and " + strconv.Itoa(dynLen) + " dynamic entries")
}

// malformed keeps Huffman errors and turns truncation into R011.
func malformed(err error) error {
	if errors.Is(err, wire.ErrHuffman) {
		return err
	}
	return rerrors.New("R011").Wrap(err)
}
