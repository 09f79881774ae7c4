// Package h3 implements HTTP/3 framing over QUIC streams and a client
// connection that keeps the control and QPACK streams in sync while
// letting callers write any frame on any stream.
package h3

import (
	"fmt"

	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/qpack"
	"github.com/rawproto/rawhttp/pkg/wire"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// Type is an HTTP/3 frame type.
type Type uint64

const (
	TypeData        Type = 0x0
	TypeHeaders     Type = 0x1
	TypeCancelPush  Type = 0x3
	TypeSettings    Type = 0x4
	TypePushPromise Type = 0x5
	TypeGoAway      Type = 0x7
	TypeMaxPushID   Type = 0xd
)

// Reserved reports whether t is one of the grease types 0x1f*N+0x21.
func (t Type) Reserved() bool {
	return t >= 0x21 && (t-0x21)%0x1f == 0
}

// String returns the RFC 9114 name, RESERVED_0x.. or UNKNOWN_0x...
func (t Type) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeHeaders:
		return "HEADERS"
	case TypeCancelPush:
		return "CANCEL_PUSH"
	case TypeSettings:
		return "SETTINGS"
	case TypePushPromise:
		return "PUSH_PROMISE"
	case TypeGoAway:
		return "GOAWAY"
	case TypeMaxPushID:
		return "MAX_PUSH_ID"
	}
	if t.Reserved() {
		return fmt.Sprintf("RESERVED_0x%x", uint64(t))
	}
	return fmt.Sprintf("UNKNOWN_0x%x", uint64(t))
}

// GreaseType returns the n-th reserved frame type.
func GreaseType(n uint64) Type { return Type(0x1f*n + 0x21) }

// Stream types opening a unidirectional stream.
const (
	StreamControl uint64 = 0x00
	StreamPush    uint64 = 0x01
	StreamEncoder uint64 = 0x02
	StreamDecoder uint64 = 0x03
)

// SettingID is an HTTP/3 setting identifier.
type SettingID uint64

const (
	SettingQPACKMaxTableCapacity SettingID = 0x01
	SettingMaxFieldSectionSize   SettingID = 0x06
	SettingQPACKBlockedStreams   SettingID = 0x07
	SettingEnableConnectProtocol SettingID = 0x08
	SettingH3Datagram            SettingID = 0x33
)

// String returns the setting name.
func (s SettingID) String() string {
	switch s {
	case SettingQPACKMaxTableCapacity:
		return "SETTINGS_QPACK_MAX_TABLE_CAPACITY"
	case SettingMaxFieldSectionSize:
		return "SETTINGS_MAX_FIELD_SECTION_SIZE"
	case SettingQPACKBlockedStreams:
		return "SETTINGS_QPACK_BLOCKED_STREAMS"
	case SettingEnableConnectProtocol:
		return "SETTINGS_ENABLE_CONNECT_PROTOCOL"
	case SettingH3Datagram:
		return "SETTINGS_H3_DATAGRAM"
	default:
		return fmt.Sprintf("UNKNOWN_SETTING_0x%x", uint64(s))
	}
}

// Setting is one SETTINGS parameter.
type Setting struct {
	ID  SettingID
	Val uint64
}

// ErrCode is an HTTP/3 application error code.
type ErrCode uint64

const (
	CodeNoError              ErrCode = 0x0100
	CodeGeneralProtocolError ErrCode = 0x0101
	CodeInternalError        ErrCode = 0x0102
	CodeStreamCreationError  ErrCode = 0x0103
	CodeClosedCriticalStream ErrCode = 0x0104
	CodeFrameUnexpected      ErrCode = 0x0105
	CodeFrameError           ErrCode = 0x0106
	CodeExcessiveLoad        ErrCode = 0x0107
	CodeIDError              ErrCode = 0x0108
	CodeSettingsError        ErrCode = 0x0109
	CodeMissingSettings      ErrCode = 0x010a
	CodeRequestRejected      ErrCode = 0x010b
	CodeRequestCancelled     ErrCode = 0x010c
	CodeRequestIncomplete    ErrCode = 0x010d
	CodeMessageError         ErrCode = 0x010e
	CodeConnectError         ErrCode = 0x010f
	CodeVersionFallback      ErrCode = 0x0110
)

var codeNames = map[ErrCode]string{
	CodeNoError:              "H3_NO_ERROR",
	CodeGeneralProtocolError: "H3_GENERAL_PROTOCOL_ERROR",
	CodeInternalError:        "H3_INTERNAL_ERROR",
	CodeStreamCreationError:  "H3_STREAM_CREATION_ERROR",
	CodeClosedCriticalStream: "H3_CLOSED_CRITICAL_STREAM",
	CodeFrameUnexpected:      "H3_FRAME_UNEXPECTED",
	CodeFrameError:           "H3_FRAME_ERROR",
	CodeExcessiveLoad:        "H3_EXCESSIVE_LOAD",
	CodeIDError:              "H3_ID_ERROR",
	CodeSettingsError:        "H3_SETTINGS_ERROR",
	CodeMissingSettings:      "H3_MISSING_SETTINGS",
	CodeRequestRejected:      "H3_REQUEST_REJECTED",
	CodeRequestCancelled:     "H3_REQUEST_CANCELLED",
	CodeRequestIncomplete:    "H3_REQUEST_INCOMPLETE",
	CodeMessageError:         "H3_MESSAGE_ERROR",
	CodeConnectError:         "H3_CONNECT_ERROR",
	CodeVersionFallback:      "H3_VERSION_FALLBACK",
}

// String returns the RFC 9114 name, or the code in hex.
func (c ErrCode) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("0x%x", uint64(c))
}

// Frame is an HTTP/3 frame on a QUIC stream. TypeWidth and LengthWidth
// force the varint widths of the frame header; 0 selects the minimal
// encoding. Nothing is validated.
type Frame struct {
	Type     Type
	StreamID uint64
	Payload  []byte

	TypeWidth   int
	LengthWidth int
}

var _ frame.Frame = (*Frame)(nil)

// Family implements frame.Frame.
func (f *Frame) Family() frame.Family { return frame.FamilyH3 }

// Stream implements frame.Frame. It is the QUIC stream the frame is
// written to.
func (f *Frame) Stream() uint64 { return f.StreamID }

// Kind implements frame.Frame.
func (f *Frame) Kind() string { return f.Type.String() }

// Append implements frame.Frame.
func (f *Frame) Append(dst []byte) []byte {
	e := wire.NewEncoderFrom(dst)
	e.WriteVarintWidth(uint64(f.Type), f.TypeWidth)
	e.WriteVarintWidth(uint64(len(f.Payload)), f.LengthWidth)
	e.WriteBytes(f.Payload)
	return e.Bytes()
}

// String describes the frame for logs and the decode command.
func (f *Frame) String() string {
	return fmt.Sprintf("%s stream=%d len=%d", f.Type, f.StreamID, len(f.Payload))
}

// Fin closes the send side of a stream. It serializes to nothing.
type Fin struct {
	StreamID uint64
}

var _ frame.Frame = (*Fin)(nil)

// Family implements frame.Frame.
func (f *Fin) Family() frame.Family { return frame.FamilyH3 }

// Stream implements frame.Frame.
func (f *Fin) Stream() uint64 { return f.StreamID }

// Kind implements frame.Frame.
func (f *Fin) Kind() string { return "FIN" }

// Append implements frame.Frame.
func (f *Fin) Append(dst []byte) []byte { return dst }

// Parse reads one frame from the front of b. Non-minimal varint widths are
// kept in TypeWidth and LengthWidth so the frame re-serializes to the same
// bytes. It returns wire.ErrIncomplete when b holds a partial frame.
func Parse(b []byte) (*Frame, int, error) {
	d := wire.NewDecoder(b)
	typ, tn, err := d.ReadVarint()
	if err != nil {
		return nil, 0, err
	}
	length, ln, err := d.ReadVarint()
	if err != nil {
		return nil, 0, err
	}
	if length > uint64(d.Remaining()) {
		return nil, 0, wire.ErrIncomplete
	}
	payload, _ := d.ReadBytes(int(length))
	f := &Frame{
		Type:    Type(typ),
		Payload: append([]byte(nil), payload...),
	}
	if tn != wire.VarintLen(typ) {
		f.TypeWidth = tn
	}
	if ln != wire.VarintLen(length) {
		f.LengthWidth = ln
	}
	return f, d.Position(), nil
}

// ParseAll parses every frame in b and tags them with streamID. A trailing
// partial frame is malformed input here.
func ParseAll(b []byte, streamID uint64) ([]*Frame, error) {
	var out []*Frame
	for len(b) > 0 {
		f, n, err := Parse(b)
		if err != nil {
			if rerrors.KindOf(err) == rerrors.KindIncomplete {
				return out, rerrors.New("R010").WithDetail(fmt.Sprintf("%d trailing bytes after %d frames", len(b), len(out)))
			}
			return out, err
		}
		f.StreamID = streamID
		out = append(out, f)
		b = b[n:]
	}
	return out, nil
}

// Data returns a DATA frame.
func Data(stream uint64, data []byte) *Frame {
	return &Frame{Type: TypeData, StreamID: stream, Payload: data}
}

// HeadersBlock returns a HEADERS frame carrying an already encoded field
// section.
func HeadersBlock(stream uint64, block []byte) *Frame {
	return &Frame{Type: TypeHeaders, StreamID: stream, Payload: block}
}

// Headers encodes fields with enc into a HEADERS frame. Encoder stream
// instructions produced along the way stay queued on enc.
func Headers(enc *qpack.Encoder, stream uint64, fields []qpack.Field) (*Frame, error) {
	block, err := enc.Encode(nil, fields)
	if err != nil {
		return nil, err
	}
	return HeadersBlock(stream, block), nil
}

// Settings returns a SETTINGS frame. The stream id is left for the caller
// or Conn.ControlStream to fill in.
func Settings(settings ...Setting) *Frame {
	e := wire.NewEncoder()
	for _, s := range settings {
		e.WriteVarint(uint64(s.ID))
		e.WriteVarint(s.Val)
	}
	return &Frame{Type: TypeSettings, Payload: e.Bytes()}
}

// GoAway returns a GOAWAY frame carrying a stream or push id.
func GoAway(id uint64) *Frame {
	return &Frame{Type: TypeGoAway, Payload: wire.AppendVarint(nil, id)}
}

// MaxPushID returns a MAX_PUSH_ID frame.
func MaxPushID(id uint64) *Frame {
	return &Frame{Type: TypeMaxPushID, Payload: wire.AppendVarint(nil, id)}
}

// CancelPush returns a CANCEL_PUSH frame.
func CancelPush(id uint64) *Frame {
	return &Frame{Type: TypeCancelPush, Payload: wire.AppendVarint(nil, id)}
}

// PushPromise returns a PUSH_PROMISE frame with an encoded field section.
func PushPromise(stream, pushID uint64, block []byte) *Frame {
	e := wire.NewEncoder()
	e.WriteVarint(pushID)
	e.WriteBytes(block)
	return &Frame{Type: TypePushPromise, StreamID: stream, Payload: e.Bytes()}
}

// Unknown returns a frame of any type, such as a grease type from
// GreaseType.
func Unknown(stream uint64, typ Type, payload []byte) *Frame {
	return &Frame{Type: typ, StreamID: stream, Payload: payload}
}

// SettingsList decodes a SETTINGS payload. Duplicates and unknown ids are
// returned as sent.
func (f *Frame) SettingsList() ([]Setting, error) {
	var out []Setting
	d := wire.NewDecoder(f.Payload)
	for !d.EOF() {
		id, _, err := d.ReadVarint()
		if err != nil {
			return out, short(f)
		}
		v, _, err := d.ReadVarint()
		if err != nil {
			return out, short(f)
		}
		out = append(out, Setting{ID: SettingID(id), Val: v})
	}
	return out, nil
}

// ID returns the varint id carried by GOAWAY, MAX_PUSH_ID, CANCEL_PUSH and
// PUSH_PROMISE frames.
func (f *Frame) ID() (uint64, error) {
	v, _, err := wire.ReadVarint(f.Payload)
	if err != nil {
		return 0, short(f)
	}
	return v, nil
}

// HeaderBlock returns the encoded field section of HEADERS and
// PUSH_PROMISE frames.
func (f *Frame) HeaderBlock() ([]byte, error) {
	if f.Type != TypePushPromise {
		return f.Payload, nil
	}
	d := wire.NewDecoder(f.Payload)
	if _, _, err := d.ReadVarint(); err != nil {
		return nil, short(f)
	}
	return d.Rest(), nil
}

func short(f *Frame) error {
	return rerrors.New("R010").WithStream(f.StreamID).WithDetail(f.Type.String() + " payload is truncated")
}
