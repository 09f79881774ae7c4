package qpack

import (
	"fmt"

	"github.com/rawproto/rawhttp/pkg/wire"
)

// InstructionType names an encoder or decoder stream instruction.
type InstructionType uint8

const (
	SetCapacity InstructionType = iota + 1
	InsertNameRef
	InsertLiteral
	Duplicate
	SectionAck
	StreamCancel
	InsertCountIncrement
)

// String returns the instruction name.
func (t InstructionType) String() string {
	switch t {
	case SetCapacity:
		return "SET_CAPACITY"
	case InsertNameRef:
		return "INSERT_NAME_REF"
	case InsertLiteral:
		return "INSERT_LITERAL"
	case Duplicate:
		return "DUPLICATE"
	case SectionAck:
		return "SECTION_ACK"
	case StreamCancel:
		return "STREAM_CANCEL"
	case InsertCountIncrement:
		return "INSERT_COUNT_INCREMENT"
	default:
		return "UNKNOWN"
	}
}

// Instruction is one parsed encoder or decoder stream instruction. Value
// holds the capacity, relative index, stream id or increment depending on
// Type.
type Instruction struct {
	Type   InstructionType
	Value  uint64
	Static bool
	Name   string
	Field  string
}

func (in Instruction) String() string {
	switch in.Type {
	case InsertNameRef:
		return fmt.Sprintf("%s static=%v index=%d value=%q", in.Type, in.Static, in.Value, in.Field)
	case InsertLiteral:
		return fmt.Sprintf("%s %q=%q", in.Type, in.Name, in.Field)
	default:
		return fmt.Sprintf("%s %d", in.Type, in.Value)
	}
}

// AppendSetCapacity appends Set Dynamic Table Capacity.
func AppendSetCapacity(dst []byte, capacity uint64) []byte {
	return wire.AppendPrefixInt(dst, 0x20, 5, capacity)
}

// AppendInsertNameRef appends Insert with Name Reference. For the dynamic
// table index is relative to the insert count.
func AppendInsertNameRef(dst []byte, static bool, index uint64, value string, h wire.Huffman) []byte {
	flags := byte(0x80)
	if static {
		flags |= 0x40
	}
	e := wire.NewEncoderFrom(dst)
	e.WritePrefixInt(flags, 6, index)
	e.WriteString(0, 7, value, h)
	return e.Bytes()
}

// AppendInsertLiteral appends Insert with Literal Name.
func AppendInsertLiteral(dst []byte, name, value string, h wire.Huffman) []byte {
	e := wire.NewEncoderFrom(dst)
	e.WriteString(0x40, 5, name, h)
	e.WriteString(0, 7, value, h)
	return e.Bytes()
}

// AppendDuplicate appends Duplicate with a relative index.
func AppendDuplicate(dst []byte, index uint64) []byte {
	return wire.AppendPrefixInt(dst, 0x00, 5, index)
}

// AppendSectionAck appends Section Acknowledgment.
func AppendSectionAck(dst []byte, streamID uint64) []byte {
	return wire.AppendPrefixInt(dst, 0x80, 7, streamID)
}

// AppendStreamCancel appends Stream Cancellation.
func AppendStreamCancel(dst []byte, streamID uint64) []byte {
	return wire.AppendPrefixInt(dst, 0x40, 6, streamID)
}

// AppendInsertCountIncrement appends Insert Count Increment. An increment
// of 0 is a connection error at the peer but is written as asked.
func AppendInsertCountIncrement(dst []byte, n uint64) []byte {
	return wire.AppendPrefixInt(dst, 0x00, 6, n)
}

// ParseEncoderInstruction parses one encoder stream instruction from the
// front of b. It returns wire.ErrIncomplete when b holds a partial
// instruction.
func ParseEncoderInstruction(b []byte) (Instruction, int, error) {
	d := wire.NewDecoder(b)
	first, err := d.PeekByte()
	if err != nil {
		return Instruction{}, 0, err
	}
	var in Instruction
	switch {
	case first&0x80 != 0:
		in.Type = InsertNameRef
		in.Static = first&0x40 != 0
		if in.Value, err = d.ReadPrefixInt(6); err == nil {
			in.Field, err = d.ReadString(7)
		}
	case first&0x40 != 0:
		in.Type = InsertLiteral
		if in.Name, err = d.ReadString(5); err == nil {
			in.Field, err = d.ReadString(7)
		}
	case first&0x20 != 0:
		in.Type = SetCapacity
		in.Value, err = d.ReadPrefixInt(5)
	default:
		in.Type = Duplicate
		in.Value, err = d.ReadPrefixInt(5)
	}
	if err != nil {
		return in, 0, err
	}
	return in, d.Position(), nil
}

// ParseDecoderInstruction parses one decoder stream instruction.
func ParseDecoderInstruction(b []byte) (Instruction, int, error) {
	d := wire.NewDecoder(b)
	first, err := d.PeekByte()
	if err != nil {
		return Instruction{}, 0, err
	}
	var in Instruction
	switch {
	case first&0x80 != 0:
		in.Type = SectionAck
		in.Value, err = d.ReadPrefixInt(7)
	case first&0x40 != 0:
		in.Type = StreamCancel
		in.Value, err = d.ReadPrefixInt(6)
	default:
		in.Type = InsertCountIncrement
		in.Value, err = d.ReadPrefixInt(6)
	}
	if err != nil {
		return in, 0, err
	}
	return in, d.Position(), nil
}
