package qpack

import (
	"strconv"

	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/wire"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// Rep is a field line representation.
type Rep uint8

const (
	// Auto uses the static table, then the dynamic table when enabled,
	// then a literal.
	Auto Rep = iota
	Indexed
	IndexedPostBase
	NameRef
	NameRefPostBase
	Literal
)

// String returns the representation name.
func (r Rep) String() string {
	switch r {
	case Auto:
		return "auto"
	case Indexed:
		return "indexed"
	case IndexedPostBase:
		return "indexed-post-base"
	case NameRef:
		return "name-ref"
	case NameRefPostBase:
		return "name-ref-post-base"
	case Literal:
		return "literal"
	default:
		return "unknown"
	}
}

// TableRef selects the table an index refers to.
type TableRef uint8

const (
	TableAuto TableRef = iota
	TableStatic
	TableDynamic
)

// Field is a header field with encoding directives. When ForceIndex is set
// Index is written verbatim (relative or post-base as the representation
// implies) whether or not it resolves.
type Field struct {
	Name       string
	Value      string
	Rep        Rep
	Table      TableRef
	Index      uint64
	ForceIndex bool
	// NeverIndex sets the N bit on literal representations.
	NeverIndex bool
	Huffman    wire.Huffman
}

// Fields converts a header list to auto-encoded fields.
func Fields(hs message.Headers) []Field {
	out := make([]Field, len(hs))
	for i, h := range hs {
		out[i] = Field{Name: h.Name, Value: h.Value}
	}
	return out
}

// Prefix is a raw field section prefix. EncodedInsertCount is written
// as is, without the modular encoding.
type Prefix struct {
	EncodedInsertCount uint64
	Negative           bool
	DeltaBase          uint64
}

// Encoder is the sending half of a connection's QPACK state.
type Encoder struct {
	table Table
	// peerMaxCapacity is the peer's SETTINGS_QPACK_MAX_TABLE_CAPACITY.
	peerMaxCapacity uint64
	peerBlocked     uint64
	knownReceived   uint64
	stream          []byte

	// UseDynamic lets Auto fields be inserted into the dynamic table.
	UseDynamic bool
	// Huffman applies to fields whose own mode is HuffmanAuto.
	Huffman wire.Huffman
}

// NewEncoder returns an encoder that only uses the static table until
// capacity is set.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Table exposes the encoder's view of the dynamic table.
func (e *Encoder) Table() *Table { return &e.table }

// SetPeerSettings records the peer's table capacity limit and blocked
// streams limit.
func (e *Encoder) SetPeerSettings(maxCapacity, blockedStreams uint64) {
	e.peerMaxCapacity = maxCapacity
	e.peerBlocked = blockedStreams
}

// PeerMaxCapacity returns the recorded peer limit.
func (e *Encoder) PeerMaxCapacity() uint64 { return e.peerMaxCapacity }

// KnownReceived returns the insert count the peer has acknowledged.
func (e *Encoder) KnownReceived() uint64 { return e.knownReceived }

// SetCapacity resizes the table and queues Set Dynamic Table Capacity. The
// value is not checked against the peer limit.
func (e *Encoder) SetCapacity(c uint64) {
	e.table.SetCapacity(c)
	e.stream = AppendSetCapacity(e.stream, c)
}

// InsertNameRef inserts value under the name of a static or dynamic
// (absolute index) entry and queues the instruction. A name that does not
// resolve is an encode index error and nothing is queued.
func (e *Encoder) InsertNameRef(static bool, index uint64, value string) error {
	var name string
	var ok bool
	rel := index
	if static {
		name, _, ok = StaticEntry(index)
	} else {
		name, _, ok = e.table.Get(index)
		rel = e.table.Inserted() - 1 - index
	}
	if !ok {
		return rerrors.New("R060").WithDetail("name index " + strconv.FormatUint(index, 10))
	}
	if err := e.table.Insert(name, value); err != nil {
		return err
	}
	e.stream = AppendInsertNameRef(e.stream, static, rel, value, e.Huffman)
	return nil
}

// InsertLiteral inserts a literal entry and queues the instruction.
func (e *Encoder) InsertLiteral(name, value string) error {
	if err := e.table.Insert(name, value); err != nil {
		return err
	}
	e.stream = AppendInsertLiteral(e.stream, name, value, e.Huffman)
	return nil
}

// Duplicate re-inserts the entry at absolute index abs.
func (e *Encoder) Duplicate(abs uint64) error {
	name, value, ok := e.table.Get(abs)
	if !ok {
		return rerrors.New("R060").WithDetail("duplicate of index " + strconv.FormatUint(abs, 10))
	}
	rel := e.table.Inserted() - 1 - abs
	if err := e.table.Insert(name, value); err != nil {
		return err
	}
	e.stream = AppendDuplicate(e.stream, rel)
	return nil
}

// QueueRaw appends arbitrary bytes to the encoder stream.
func (e *Encoder) QueueRaw(b []byte) {
	e.stream = append(e.stream, b...)
}

// Drain returns and clears the queued encoder stream bytes.
func (e *Encoder) Drain() []byte {
	out := e.stream
	e.stream = nil
	return out
}

// HandleDecoderStream applies decoder stream instructions from the peer
// and returns the bytes consumed. A trailing partial instruction is left
// unconsumed.
func (e *Encoder) HandleDecoderStream(b []byte) (int, error) {
	pos := 0
	for pos < len(b) {
		in, n, err := ParseDecoderInstruction(b[pos:])
		if err != nil {
			if rerrors.KindOf(err) == rerrors.KindIncomplete {
				return pos, nil
			}
			return pos, err
		}
		if in.Type == InsertCountIncrement {
			e.knownReceived += in.Value
		}
		// Section acknowledgments do not name the insert count they cover,
		// so every insert sent so far is treated as received.
		if in.Type == SectionAck && e.knownReceived < e.table.Inserted() {
			e.knownReceived = e.table.Inserted()
		}
		pos += n
	}
	return pos, nil
}

// EncodeHeaders encodes a header list with default directives.
func (e *Encoder) EncodeHeaders(dst []byte, hs message.Headers) ([]byte, error) {
	return e.Encode(dst, Fields(hs))
}

// Encode appends a field section with a computed prefix.
func (e *Encoder) Encode(dst []byte, fields []Field) ([]byte, error) {
	return e.encode(dst, fields, nil)
}

// EncodeWithPrefix appends a field section with a caller-chosen prefix.
func (e *Encoder) EncodeWithPrefix(dst []byte, fields []Field, p Prefix) ([]byte, error) {
	return e.encode(dst, fields, &p)
}

type line struct {
	f        Field
	rep      Rep
	static   bool
	abs      uint64
	resolved bool
}

func (e *Encoder) encode(dst []byte, fields []Field, prefix *Prefix) ([]byte, error) {
	lines := make([]line, len(fields))
	for i, f := range fields {
		l, err := e.plan(f)
		if err != nil {
			return dst, err
		}
		lines[i] = l
	}

	// Base is the insert count after this section's inserts, so dynamic
	// references are relative unless a post-base index is forced.
	base := e.table.Inserted()
	var ric uint64
	for _, l := range lines {
		if l.resolved && !l.static && l.abs+1 > ric {
			ric = l.abs + 1
		}
	}

	if prefix != nil {
		dst = wire.AppendPrefixInt(dst, 0, 8, prefix.EncodedInsertCount)
		sign := byte(0)
		if prefix.Negative {
			sign = 0x80
		}
		dst = wire.AppendPrefixInt(dst, sign, 7, prefix.DeltaBase)
	} else {
		dst = wire.AppendPrefixInt(dst, 0, 8, e.encodeInsertCount(ric))
		if ric == 0 {
			dst = append(dst, 0)
		} else {
			dst = wire.AppendPrefixInt(dst, 0, 7, base-ric)
		}
	}

	for _, l := range lines {
		dst = e.appendLine(dst, l, base)
	}
	return dst, nil
}

func (e *Encoder) encodeInsertCount(ric uint64) uint64 {
	if ric == 0 {
		return 0
	}
	maxEntries := e.peerMaxCapacity / 32
	if maxEntries == 0 {
		return ric
	}
	return ric%(2*maxEntries) + 1
}

// plan resolves the representation and index of a field, performing any
// dynamic inserts it needs.
func (e *Encoder) plan(f Field) (line, error) {
	l := line{f: f, rep: f.Rep}
	if f.ForceIndex {
		l.abs = f.Index
		l.static = f.Table != TableDynamic && f.Rep != IndexedPostBase && f.Rep != NameRefPostBase
		if l.rep == Auto {
			l.rep = Indexed
		}
		return l, nil
	}

	if f.Rep == Literal {
		return l, nil
	}

	if f.Table != TableDynamic {
		if i, ok := staticExact[entry{f.Name, f.Value}]; ok && (l.rep == Auto || l.rep == Indexed) {
			l.rep, l.static, l.abs, l.resolved = Indexed, true, i, true
			return l, nil
		}
	}
	if f.Table != TableStatic {
		abs, nameOnly, ok := e.table.Search(f.Name, f.Value)
		switch {
		case ok && !nameOnly && (l.rep == Auto || l.rep == Indexed):
			l.rep, l.abs, l.resolved = Indexed, abs, true
			return l, nil
		case l.rep == Auto && e.UseDynamic && entry{f.Name, f.Value}.size() <= e.table.Capacity():
			if err := e.insertFor(f); err != nil {
				return l, err
			}
			l.rep, l.abs, l.resolved = Indexed, e.table.Inserted()-1, true
			return l, nil
		case ok && l.rep == NameRef:
			l.abs, l.resolved = abs, true
			return l, nil
		}
	}
	if f.Table != TableDynamic && (l.rep == Auto || l.rep == NameRef) {
		if i, ok := staticName[f.Name]; ok {
			l.rep, l.static, l.abs, l.resolved = NameRef, true, i, true
			return l, nil
		}
	}
	switch l.rep {
	case Auto:
		l.rep = Literal
		return l, nil
	case Literal:
		return l, nil
	default:
		return l, rerrors.New("R060").WithDetail(l.rep.String() + " " + f.Name + ": " + f.Value)
	}
}

func (e *Encoder) insertFor(f Field) error {
	if i, ok := staticName[f.Name]; ok {
		return e.InsertNameRef(true, i, f.Value)
	}
	if abs, _, ok := e.table.Search(f.Name, ""); ok {
		return e.InsertNameRef(false, abs, f.Value)
	}
	return e.InsertLiteral(f.Name, f.Value)
}

func (e *Encoder) appendLine(dst []byte, l line, base uint64) []byte {
	h := l.f.Huffman
	if h == wire.HuffmanAuto {
		h = e.Huffman
	}
	idx := l.abs
	if !l.static && !l.f.ForceIndex {
		idx = base - 1 - l.abs
	}
	var n byte
	if l.f.NeverIndex {
		n = 1
	}
	switch l.rep {
	case Indexed:
		flags := byte(0x80)
		if l.static {
			flags |= 0x40
		}
		return wire.AppendPrefixInt(dst, flags, 6, idx)
	case IndexedPostBase:
		return wire.AppendPrefixInt(dst, 0x10, 4, l.abs)
	case NameRef:
		flags := 0x40 | n<<5
		if l.static {
			flags |= 0x10
		}
		dst = wire.AppendPrefixInt(dst, flags, 4, idx)
		return wire.AppendString(dst, 0, 7, l.f.Value, h)
	case NameRefPostBase:
		dst = wire.AppendPrefixInt(dst, n<<3, 3, l.abs)
		return wire.AppendString(dst, 0, 7, l.f.Value, h)
	default:
		dst = wire.AppendString(dst, 0x20|n<<4, 3, l.f.Name, h)
		return wire.AppendString(dst, 0, 7, l.f.Value, h)
	}
}
