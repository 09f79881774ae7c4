package h2

import (
	"github.com/rawproto/rawhttp/pkg/wire"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

func flagIf(set bool, f Flags) Flags {
	if set {
		return f
	}
	return 0
}

// Data returns a DATA frame.
func Data(stream uint32, data []byte, endStream bool) *Frame {
	return &Frame{Type: TypeData, Flags: flagIf(endStream, FlagEndStream), StreamID: stream, Payload: data}
}

// Headers returns a HEADERS frame carrying an encoded header block.
func Headers(stream uint32, block []byte, endStream, endHeaders bool) *Frame {
	return &Frame{
		Type:     TypeHeaders,
		Flags:    flagIf(endStream, FlagEndStream) | flagIf(endHeaders, FlagEndHeaders),
		StreamID: stream,
		Payload:  block,
	}
}

// HeadersPriority returns a HEADERS frame with the PRIORITY flag.
func HeadersPriority(stream uint32, block []byte, p PriorityParam, endStream, endHeaders bool) *Frame {
	e := wire.NewEncoder()
	p.encode(e)
	e.WriteBytes(block)
	f := Headers(stream, e.Bytes(), endStream, endHeaders)
	f.Flags |= FlagPriority
	return f
}

// Priority returns a PRIORITY frame.
func Priority(stream uint32, p PriorityParam) *Frame {
	e := wire.NewEncoder()
	p.encode(e)
	return &Frame{Type: TypePriority, StreamID: stream, Payload: e.Bytes()}
}

// RSTStream returns a RST_STREAM frame.
func RSTStream(stream uint32, code ErrCode) *Frame {
	return &Frame{Type: TypeRSTStream, StreamID: stream, Payload: uint32Payload(uint32(code))}
}

// Settings returns a SETTINGS frame listing settings in order, duplicates
// included.
func Settings(settings ...Setting) *Frame {
	e := wire.NewEncoderFrom(make([]byte, 0, 6*len(settings)))
	for _, s := range settings {
		e.WriteUint16(uint16(s.ID))
		e.WriteUint32(s.Val)
	}
	return &Frame{Type: TypeSettings, Payload: e.Bytes()}
}

// SettingsAck returns an empty SETTINGS frame with ACK.
func SettingsAck() *Frame {
	return &Frame{Type: TypeSettings, Flags: FlagAck}
}

// PushPromise returns a PUSH_PROMISE frame.
func PushPromise(stream, promised uint32, block []byte, endHeaders bool) *Frame {
	e := wire.NewEncoder()
	e.WriteUint32(promised)
	e.WriteBytes(block)
	return &Frame{Type: TypePushPromise, Flags: flagIf(endHeaders, FlagEndHeaders), StreamID: stream, Payload: e.Bytes()}
}

// Ping returns a PING frame.
func Ping(data [8]byte) *Frame {
	return &Frame{Type: TypePing, Payload: data[:]}
}

// PingAck returns a PING frame with ACK.
func PingAck(data [8]byte) *Frame {
	return &Frame{Type: TypePing, Flags: FlagAck, Payload: data[:]}
}

// GoAway returns a GOAWAY frame.
func GoAway(lastStream uint32, code ErrCode, debug []byte) *Frame {
	e := wire.NewEncoder()
	e.WriteUint32(lastStream)
	e.WriteUint32(uint32(code))
	e.WriteBytes(debug)
	return &Frame{Type: TypeGoAway, Payload: e.Bytes()}
}

// WindowUpdate returns a WINDOW_UPDATE frame. The increment is written as
// given, reserved bit and zero included.
func WindowUpdate(stream, increment uint32) *Frame {
	return &Frame{Type: TypeWindowUpdate, StreamID: stream, Payload: uint32Payload(increment)}
}

func uint32Payload(v uint32) []byte {
	e := wire.NewEncoder()
	e.WriteUint32(v)
	return e.Bytes()
}

// Continuation returns a CONTINUATION frame.
func Continuation(stream uint32, block []byte, endHeaders bool) *Frame {
	return &Frame{Type: TypeContinuation, Flags: flagIf(endHeaders, FlagEndHeaders), StreamID: stream, Payload: block}
}

// Padded returns a copy of f with the PADDED flag, a pad length byte and
// padLen zero bytes. The priority fields of a HEADERS frame stay after
// the pad length, as on the wire.
func Padded(f *Frame, padLen uint8) *Frame {
	e := wire.NewEncoderFrom(make([]byte, 0, 1+len(f.Payload)+int(padLen)))
	e.WriteByte(padLen)
	e.WriteBytes(f.Payload)
	e.WriteBytes(make([]byte, padLen))
	return &Frame{Type: f.Type, Flags: f.Flags | FlagPadded, StreamID: f.StreamID, Payload: e.Bytes()}
}

// EndStream reports END_STREAM on DATA and HEADERS.
func (f *Frame) EndStream() bool {
	return (f.Type == TypeData || f.Type == TypeHeaders) && f.Flags.Has(FlagEndStream)
}

// EndHeaders reports END_HEADERS on HEADERS, PUSH_PROMISE and
// CONTINUATION.
func (f *Frame) EndHeaders() bool {
	switch f.Type {
	case TypeHeaders, TypePushPromise, TypeContinuation:
		return f.Flags.Has(FlagEndHeaders)
	}
	return false
}

// IsAck reports ACK on SETTINGS and PING.
func (f *Frame) IsAck() bool {
	return (f.Type == TypeSettings || f.Type == TypePing) && f.Flags.Has(FlagAck)
}

func short(f *Frame, what string) error {
	return rerrors.New("R010").WithDetail(f.Type.String() + " payload too short for " + what).WithStream(f.Stream())
}

// unpad strips padding from a padded payload.
func (f *Frame) unpad() ([]byte, error) {
	p := f.Payload
	if !f.Flags.Has(FlagPadded) {
		return p, nil
	}
	if len(p) < 1 {
		return nil, short(f, "pad length")
	}
	n := int(p[0])
	if n > len(p)-1 {
		return nil, short(f, "padding")
	}
	return p[1 : len(p)-n], nil
}

// Data returns the payload of a DATA frame without padding.
func (f *Frame) Data() ([]byte, error) {
	return f.unpad()
}

// HeaderBlock returns the header block fragment of HEADERS, PUSH_PROMISE
// or CONTINUATION without padding, priority or promised id.
func (f *Frame) HeaderBlock() ([]byte, error) {
	p, err := f.unpad()
	if err != nil {
		return nil, err
	}
	d := wire.NewDecoder(p)
	switch f.Type {
	case TypeHeaders:
		if f.Flags.Has(FlagPriority) && d.Skip(5) != nil {
			return nil, short(f, "priority")
		}
	case TypePushPromise:
		if d.Skip(4) != nil {
			return nil, short(f, "promised stream")
		}
	}
	return d.Rest(), nil
}

// PromisedID returns the promised stream of a PUSH_PROMISE.
func (f *Frame) PromisedID() (uint32, error) {
	p, err := f.unpad()
	if err != nil {
		return 0, err
	}
	id, err := wire.NewDecoder(p).ReadUint32()
	if err != nil {
		return 0, short(f, "promised stream")
	}
	return id & 0x7fffffff, nil
}

// PriorityInfo returns the priority of a PRIORITY frame or prioritized
// HEADERS.
func (f *Frame) PriorityInfo() (PriorityParam, error) {
	p := f.Payload
	if f.Type == TypeHeaders {
		var err error
		if p, err = f.unpad(); err != nil {
			return PriorityParam{}, err
		}
	}
	d := wire.NewDecoder(p)
	dep, err := d.ReadUint32()
	if err != nil {
		return PriorityParam{}, short(f, "priority")
	}
	w, err := d.ReadByte()
	if err != nil {
		return PriorityParam{}, short(f, "priority")
	}
	return PriorityParam{StreamDep: dep & 0x7fffffff, Exclusive: dep>>31 == 1, Weight: w}, nil
}

// SettingsList returns the parameters of a SETTINGS frame in order.
func (f *Frame) SettingsList() ([]Setting, error) {
	if len(f.Payload)%6 != 0 {
		return nil, short(f, "settings")
	}
	out := make([]Setting, 0, len(f.Payload)/6)
	d := wire.NewDecoder(f.Payload)
	for !d.EOF() {
		id, _ := d.ReadUint16()
		v, _ := d.ReadUint32()
		out = append(out, Setting{ID: SettingID(id), Val: v})
	}
	return out, nil
}

// Increment returns the WINDOW_UPDATE increment without the reserved bit.
func (f *Frame) Increment() (uint32, error) {
	v, err := wire.NewDecoder(f.Payload).ReadUint32()
	if err != nil {
		return 0, short(f, "increment")
	}
	return v & 0x7fffffff, nil
}

// ErrorCode returns the code of RST_STREAM or GOAWAY.
func (f *Frame) ErrorCode() (ErrCode, error) {
	d := wire.NewDecoder(f.Payload)
	if f.Type == TypeGoAway && d.Skip(4) != nil {
		return 0, short(f, "error code")
	}
	v, err := d.ReadUint32()
	if err != nil {
		return 0, short(f, "error code")
	}
	return ErrCode(v), nil
}

// GoAwayInfo returns the last stream id, code and debug data of a GOAWAY.
func (f *Frame) GoAwayInfo() (last uint32, code ErrCode, debug []byte, err error) {
	if len(f.Payload) < 8 {
		return 0, 0, nil, short(f, "goaway")
	}
	d := wire.NewDecoder(f.Payload)
	id, _ := d.ReadUint32()
	c, _ := d.ReadUint32()
	return id & 0x7fffffff, ErrCode(c), d.Rest(), nil
}

// PingData returns the opaque data of a PING.
func (f *Frame) PingData() ([8]byte, error) {
	var out [8]byte
	b, err := wire.NewDecoder(f.Payload).ReadBytes(8)
	if err != nil {
		return out, short(f, "ping data")
	}
	copy(out[:], b)
	return out, nil
}
