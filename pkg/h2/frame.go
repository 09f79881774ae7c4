// Package h2 implements HTTP/2 framing and a client connection that lets
// callers send any frame, in any order, on any stream.
package h2

import (
	"fmt"
	"strconv"

	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/wire"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// Type is an HTTP/2 frame type.
type Type uint8

const (
	TypeData         Type = 0x0
	TypeHeaders      Type = 0x1
	TypePriority     Type = 0x2
	TypeRSTStream    Type = 0x3
	TypeSettings     Type = 0x4
	TypePushPromise  Type = 0x5
	TypePing         Type = 0x6
	TypeGoAway       Type = 0x7
	TypeWindowUpdate Type = 0x8
	TypeContinuation Type = 0x9
)

var typeNames = [...]string{
	TypeData:         "DATA",
	TypeHeaders:      "HEADERS",
	TypePriority:     "PRIORITY",
	TypeRSTStream:    "RST_STREAM",
	TypeSettings:     "SETTINGS",
	TypePushPromise:  "PUSH_PROMISE",
	TypePing:         "PING",
	TypeGoAway:       "GOAWAY",
	TypeWindowUpdate: "WINDOW_UPDATE",
	TypeContinuation: "CONTINUATION",
}

// String returns the RFC 9113 name, or UNKNOWN_0xNN.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("UNKNOWN_0x%02x", uint8(t))
}

// Flags are frame flags, kept as raw bits.
type Flags uint8

const (
	FlagEndStream  Flags = 0x1
	FlagAck        Flags = 0x1
	FlagEndHeaders Flags = 0x4
	FlagPadded     Flags = 0x8
	FlagPriority   Flags = 0x20
)

// Has reports whether all bits of v are set.
func (f Flags) Has(v Flags) bool { return f&v == v }

const (
	// HeaderLen is the size of the frame header.
	HeaderLen = 9
	// MaxLength is the largest encodable payload length.
	MaxLength = 1<<24 - 1
	// DefaultMaxFrameSize is the initial SETTINGS_MAX_FRAME_SIZE.
	DefaultMaxFrameSize = 16384
	// Preface is the client connection preface.
	Preface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"
)

// Frame is an HTTP/2 frame. StreamID holds all 32 bits, including the
// reserved bit. Nothing is validated.
type Frame struct {
	Type     Type
	Flags    Flags
	StreamID uint32
	Payload  []byte
}

// Family implements frame.Frame.
func (f *Frame) Family() frame.Family { return frame.FamilyH2 }

// Stream implements frame.Frame. The reserved bit is ignored.
func (f *Frame) Stream() uint64 { return uint64(f.StreamID & 0x7fffffff) }

// Kind implements frame.Frame.
func (f *Frame) Kind() string { return f.Type.String() }

// Append implements frame.Frame. Payloads longer than MaxLength are
// written in full with the length field masked to 24 bits.
func (f *Frame) Append(dst []byte) []byte {
	e := wire.NewEncoderFrom(dst)
	e.WriteUint24(uint32(len(f.Payload) & MaxLength))
	e.WriteByte(byte(f.Type))
	e.WriteByte(byte(f.Flags))
	e.WriteUint32(f.StreamID)
	e.WriteBytes(f.Payload)
	return e.Bytes()
}

// String describes the frame for logs.
func (f *Frame) String() string {
	return f.Type.String() + " stream=" + strconv.FormatUint(uint64(f.StreamID), 10) +
		" flags=0x" + strconv.FormatUint(uint64(f.Flags), 16) +
		" len=" + strconv.Itoa(len(f.Payload))
}

// Parse decodes one frame from the front of b and returns its size.
// wire.ErrIncomplete means more bytes are needed. The payload is copied.
func Parse(b []byte) (*Frame, int, error) {
	if len(b) < HeaderLen {
		return nil, 0, wire.ErrIncomplete
	}
	d := wire.NewDecoder(b)
	f, n := decodeHeader(d)
	payload, err := d.ReadBytes(n)
	if err != nil {
		return nil, 0, err
	}
	f.Payload = append([]byte(nil), payload...)
	return f, d.Position(), nil
}

// decodeHeader reads a frame header from d, which must hold at least
// HeaderLen bytes, and returns the frame with its payload length.
func decodeHeader(d *wire.Decoder) (*Frame, int) {
	n, _ := d.ReadUint24()
	typ, _ := d.ReadByte()
	flags, _ := d.ReadByte()
	id, _ := d.ReadUint32()
	return &Frame{Type: Type(typ), Flags: Flags(flags), StreamID: id}, int(n)
}

// ParseAll decodes every frame in b. Trailing bytes that do not form a
// whole frame are R010.
func ParseAll(b []byte) ([]*Frame, error) {
	var out []*Frame
	for len(b) > 0 {
		f, n, err := Parse(b)
		if err != nil {
			return out, rerrors.New("R010").WithDetail(fmt.Sprintf("%d trailing bytes", len(b))).Wrap(err)
		}
		out = append(out, f)
		b = b[n:]
	}
	return out, nil
}

// SettingID identifies a SETTINGS parameter.
type SettingID uint16

const (
	SettingHeaderTableSize       SettingID = 0x1
	SettingEnablePush            SettingID = 0x2
	SettingMaxConcurrentStreams  SettingID = 0x3
	SettingInitialWindowSize     SettingID = 0x4
	SettingMaxFrameSize          SettingID = 0x5
	SettingMaxHeaderListSize     SettingID = 0x6
	SettingEnableConnectProtocol SettingID = 0x8
)

var settingNames = map[SettingID]string{
	SettingHeaderTableSize:       "HEADER_TABLE_SIZE",
	SettingEnablePush:            "ENABLE_PUSH",
	SettingMaxConcurrentStreams:  "MAX_CONCURRENT_STREAMS",
	SettingInitialWindowSize:     "INITIAL_WINDOW_SIZE",
	SettingMaxFrameSize:          "MAX_FRAME_SIZE",
	SettingMaxHeaderListSize:     "MAX_HEADER_LIST_SIZE",
	SettingEnableConnectProtocol: "ENABLE_CONNECT_PROTOCOL",
}

func (s SettingID) String() string {
	if n, ok := settingNames[s]; ok {
		return n
	}
	return fmt.Sprintf("UNKNOWN_SETTING_0x%x", uint16(s))
}

// Setting is one SETTINGS parameter.
type Setting struct {
	ID  SettingID
	Val uint32
}

// ErrCode is an HTTP/2 error code.
type ErrCode uint32

const (
	CodeNoError            ErrCode = 0x0
	CodeProtocol           ErrCode = 0x1
	CodeInternal           ErrCode = 0x2
	CodeFlowControl        ErrCode = 0x3
	CodeSettingsTimeout    ErrCode = 0x4
	CodeStreamClosed       ErrCode = 0x5
	CodeFrameSize          ErrCode = 0x6
	CodeRefusedStream      ErrCode = 0x7
	CodeCancel             ErrCode = 0x8
	CodeCompression        ErrCode = 0x9
	CodeConnect            ErrCode = 0xa
	CodeEnhanceYourCalm    ErrCode = 0xb
	CodeInadequateSecurity ErrCode = 0xc
	CodeHTTP11Required     ErrCode = 0xd
)

var codeNames = [...]string{
	"NO_ERROR", "PROTOCOL_ERROR", "INTERNAL_ERROR", "FLOW_CONTROL_ERROR",
	"SETTINGS_TIMEOUT", "STREAM_CLOSED", "FRAME_SIZE_ERROR", "REFUSED_STREAM",
	"CANCEL", "COMPRESSION_ERROR", "CONNECT_ERROR", "ENHANCE_YOUR_CALM",
	"INADEQUATE_SECURITY", "HTTP_1_1_REQUIRED",
}

func (c ErrCode) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("UNKNOWN_ERROR_0x%x", uint32(c))
}

// PriorityParam is the stream dependency carried by PRIORITY frames and
// prioritized HEADERS.
type PriorityParam struct {
	StreamDep uint32
	Exclusive bool
	Weight    uint8
}

func (p PriorityParam) encode(e *wire.Encoder) {
	dep := p.StreamDep
	if p.Exclusive {
		dep |= 1 << 31
	}
	e.WriteUint32(dep)
	e.WriteByte(p.Weight)
}
