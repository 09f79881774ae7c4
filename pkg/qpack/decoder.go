package qpack

import (
	"errors"
	"strconv"

	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/wire"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// Decoder is the receiving half of a connection's QPACK state.
type Decoder struct {
	table Table
	// maxCapacity is our SETTINGS_QPACK_MAX_TABLE_CAPACITY.
	maxCapacity uint64
	stream      []byte
	// MaxFieldSectionSize, when non-zero, bounds the decoded section.
	MaxFieldSectionSize uint64
	// AutoAck queues Section Acknowledgment and Insert Count Increment
	// instructions as sections and inserts are processed.
	AutoAck bool
}

// NewDecoder returns a decoder advertising maxCapacity.
func NewDecoder(maxCapacity uint64) *Decoder {
	return &Decoder{maxCapacity: maxCapacity, AutoAck: true}
}

// Table exposes the decoder's dynamic table.
func (d *Decoder) Table() *Table { return &d.table }

// MaxCapacity returns the advertised capacity limit.
func (d *Decoder) MaxCapacity() uint64 { return d.maxCapacity }

// Drain returns and clears the queued decoder stream bytes.
func (d *Decoder) Drain() []byte {
	out := d.stream
	d.stream = nil
	return out
}

// QueueRaw appends arbitrary bytes to the decoder stream.
func (d *Decoder) QueueRaw(b []byte) {
	d.stream = append(d.stream, b...)
}

// HandleEncoderStream applies encoder stream instructions and returns the
// bytes consumed. A trailing partial instruction is left unconsumed.
func (d *Decoder) HandleEncoderStream(b []byte) (int, error) {
	pos := 0
	var inserted uint64
	defer func() {
		if d.AutoAck && inserted > 0 {
			d.stream = AppendInsertCountIncrement(d.stream, inserted)
		}
	}()
	for pos < len(b) {
		in, n, err := ParseEncoderInstruction(b[pos:])
		if err != nil {
			if rerrors.KindOf(err) == rerrors.KindIncomplete {
				return pos, nil
			}
			return pos, err
		}
		if err := d.apply(in); err != nil {
			return pos, err
		}
		if in.Type != SetCapacity {
			inserted++
		}
		pos += n
	}
	return pos, nil
}

func (d *Decoder) apply(in Instruction) error {
	switch in.Type {
	case SetCapacity:
		if in.Value > d.maxCapacity {
			return rerrors.New("R014").WithDetail("capacity " + strconv.FormatUint(in.Value, 10) +
				" above " + strconv.FormatUint(d.maxCapacity, 10))
		}
		d.table.SetCapacity(in.Value)
		return nil
	case InsertNameRef:
		var name string
		var ok bool
		if in.Static {
			name, _, ok = StaticEntry(in.Value)
		} else if in.Value < d.table.Inserted() {
			name, _, ok = d.table.Get(d.table.Inserted() - 1 - in.Value)
		}
		if !ok {
			return indexError("insert name", in.Value)
		}
		return d.table.Insert(name, in.Field)
	case InsertLiteral:
		return d.table.Insert(in.Name, in.Field)
	default:
		if in.Value >= d.table.Inserted() {
			return indexError("duplicate", in.Value)
		}
		name, value, ok := d.table.Get(d.table.Inserted() - 1 - in.Value)
		if !ok {
			return indexError("duplicate", in.Value)
		}
		return d.table.Insert(name, value)
	}
}

// Section is a decoded field section with its prefix.
type Section struct {
	RequiredInsertCount uint64
	Base                uint64
	Fields              []Field
}

// Headers returns the section as a header list.
func (s Section) Headers() message.Headers {
	hs := make(message.Headers, len(s.Fields))
	for i, f := range s.Fields {
		hs[i] = message.H(f.Name, f.Value)
	}
	return hs
}

// Decode decodes a field section received on streamID. A section that
// references inserts not yet received returns a blocked error; the
// caller retries after feeding the encoder stream.
func (d *Decoder) Decode(streamID uint64, block []byte) (message.Headers, error) {
	s, err := d.DecodeSection(streamID, block)
	return s.Headers(), err
}

// DecodeSection decodes a field section and reports each field line's
// representation and index.
func (d *Decoder) DecodeSection(streamID uint64, block []byte) (Section, error) {
	var s Section
	enc, n, err := wire.ReadPrefixInt(block, 8)
	if err != nil {
		return s, malformed(err)
	}
	pos := n
	if pos >= len(block) {
		return s, malformed(wire.ErrIncomplete)
	}
	negative := block[pos]&0x80 != 0
	delta, n, err := wire.ReadPrefixInt(block[pos:], 7)
	if err != nil {
		return s, malformed(err)
	}
	pos += n

	ric, err := d.decodeInsertCount(enc)
	if err != nil {
		return s, err
	}
	s.RequiredInsertCount = ric
	if ric > d.table.Inserted() {
		return s, rerrors.New("R062").WithStream(streamID).WithDetail(
			"needs " + strconv.FormatUint(ric, 10) + " inserts, have " + strconv.FormatUint(d.table.Inserted(), 10))
	}
	if negative {
		if delta+1 > ric {
			return s, rerrors.New("R011").WithDetail("negative base below zero")
		}
		s.Base = ric - delta - 1
	} else {
		s.Base = ric + delta
	}

	var size uint64
	for pos < len(block) {
		f, n, err := d.readLine(block[pos:], s.Base)
		if err != nil {
			return s, err
		}
		pos += n
		size += entry{f.Name, f.Value}.size()
		if d.MaxFieldSectionSize != 0 && size > d.MaxFieldSectionSize {
			return s, rerrors.New("R011").WithDetail("field section exceeds " + strconv.FormatUint(d.MaxFieldSectionSize, 10) + " bytes")
		}
		s.Fields = append(s.Fields, f)
	}
	if d.AutoAck && ric > 0 {
		d.stream = AppendSectionAck(d.stream, streamID)
	}
	return s, nil
}

func (d *Decoder) decodeInsertCount(enc uint64) (uint64, error) {
	if enc == 0 {
		return 0, nil
	}
	maxEntries := d.maxCapacity / 32
	if maxEntries == 0 {
		return 0, rerrors.New("R011").WithDetail("non-zero insert count with zero table capacity")
	}
	fullRange := 2 * maxEntries
	if enc > fullRange {
		return 0, rerrors.New("R011").WithDetail("encoded insert count " + strconv.FormatUint(enc, 10) + " out of range")
	}
	maxValue := d.table.Inserted() + maxEntries
	maxWrapped := maxValue / fullRange * fullRange
	ric := maxWrapped + enc - 1
	if ric > maxValue {
		if ric <= fullRange {
			return 0, rerrors.New("R011").WithDetail("invalid insert count")
		}
		ric -= fullRange
	}
	if ric == 0 {
		return 0, rerrors.New("R011").WithDetail("invalid insert count")
	}
	return ric, nil
}

func (d *Decoder) readLine(b []byte, base uint64) (Field, int, error) {
	var f Field
	c := b[0]
	switch {
	case c&0x80 != 0:
		f.Rep = Indexed
		idx, n, err := wire.ReadPrefixInt(b, 6)
		if err != nil {
			return f, 0, malformed(err)
		}
		f.Index = idx
		if c&0x40 != 0 {
			f.Table = TableStatic
			name, value, ok := StaticEntry(idx)
			if !ok {
				return f, 0, indexError("static", idx)
			}
			f.Name, f.Value = name, value
			return f, n, nil
		}
		f.Table = TableDynamic
		name, value, err := d.relative(base, idx)
		if err != nil {
			return f, 0, err
		}
		f.Name, f.Value = name, value
		return f, n, nil
	case c&0xc0 == 0x40:
		f.Rep = NameRef
		f.NeverIndex = c&0x20 != 0
		idx, n, err := wire.ReadPrefixInt(b, 4)
		if err != nil {
			return f, 0, malformed(err)
		}
		f.Index = idx
		if c&0x10 != 0 {
			f.Table = TableStatic
			name, _, ok := StaticEntry(idx)
			if !ok {
				return f, 0, indexError("static", idx)
			}
			f.Name = name
		} else {
			f.Table = TableDynamic
			name, _, err := d.relative(base, idx)
			if err != nil {
				return f, 0, err
			}
			f.Name = name
		}
		return d.readValue(b, n, f)
	case c&0xe0 == 0x20:
		f.Rep = Literal
		f.NeverIndex = c&0x10 != 0
		name, _, n, err := wire.ReadString(b, 3)
		if err != nil {
			return f, 0, malformed(err)
		}
		f.Name = name
		return d.readValue(b, n, f)
	case c&0xf0 == 0x10:
		f.Rep = IndexedPostBase
		f.Table = TableDynamic
		idx, n, err := wire.ReadPrefixInt(b, 4)
		if err != nil {
			return f, 0, malformed(err)
		}
		f.Index = idx
		name, value, ok := d.table.Get(base + idx)
		if !ok {
			return f, 0, indexError("post-base", idx)
		}
		f.Name, f.Value = name, value
		return f, n, nil
	default:
		f.Rep = NameRefPostBase
		f.Table = TableDynamic
		f.NeverIndex = c&0x08 != 0
		idx, n, err := wire.ReadPrefixInt(b, 3)
		if err != nil {
			return f, 0, malformed(err)
		}
		f.Index = idx
		name, _, ok := d.table.Get(base + idx)
		if !ok {
			return f, 0, indexError("post-base name", idx)
		}
		f.Name = name
		return d.readValue(b, n, f)
	}
}

func (d *Decoder) readValue(b []byte, pos int, f Field) (Field, int, error) {
	value, huff, n, err := wire.ReadString(b[pos:], 7)
	if err != nil {
		return f, 0, malformed(err)
	}
	f.Value = value
	if huff {
		f.Huffman = wire.HuffmanAlways
	} else {
		f.Huffman = wire.HuffmanNever
	}
	return f, pos + n, nil
}

func (d *Decoder) relative(base, idx uint64) (string, string, error) {
	if idx >= base {
		return "", "", indexError("relative", idx)
	}
	name, value, ok := d.table.Get(base - 1 - idx)
	if !ok {
		return "", "", indexError("relative", idx)
	}
	return name, value, nil
}

func indexError(what string, idx uint64) error {
	return rerrors.New("R061").WithDetail(what + " index " + strconv.FormatUint(idx, 10))
}

func malformed(err error) error {
	if errors.Is(err, wire.ErrHuffman) {
		return err
	}
	return rerrors.New("R011").Wrap(err)
}
