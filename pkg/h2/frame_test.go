package h2

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/hpack"
	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/wire"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
	}{
		{"data", Data(1, []byte("hello"), true)},
		{"empty data", Data(3, nil, false)},
		{"headers", Headers(1, []byte{0x82}, true, true)},
		{"headers priority", HeadersPriority(5, []byte{0x82}, PriorityParam{StreamDep: 3, Exclusive: true, Weight: 15}, false, true)},
		{"priority", Priority(7, PriorityParam{StreamDep: 7, Weight: 255})},
		{"rst", RSTStream(1, CodeCancel)},
		{"settings", Settings(Setting{SettingInitialWindowSize, 1}, Setting{SettingInitialWindowSize, 2})},
		{"settings ack", SettingsAck()},
		{"push promise", PushPromise(1, 2, []byte{0x82}, true)},
		{"ping", Ping([8]byte{1, 2, 3, 4, 5, 6, 7, 8})},
		{"ping ack", PingAck([8]byte{8})},
		{"goaway", GoAway(9, CodeEnhanceYourCalm, []byte("bye"))},
		{"window update reserved bit", WindowUpdate(0, 0x80000001)},
		{"window update zero", WindowUpdate(1, 0)},
		{"continuation", Continuation(1, []byte{0x84}, false)},
		{"padded", Padded(Data(1, []byte("x"), true), 4)},
		{"unknown type", &Frame{Type: 0xfa, Flags: 0xff, StreamID: 0xffffffff, Payload: []byte{1}}},
		{"ack on data", &Frame{Type: TypeData, Flags: FlagAck | FlagPriority, StreamID: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.frame.Append(nil)
			got, n, err := Parse(b)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if n != len(b) {
				t.Errorf("consumed = %d, want %d", n, len(b))
			}
			if !reflect.DeepEqual(got, tt.frame) {
				t.Errorf("Parse = %+v, want %+v", got, tt.frame)
			}
		})
	}
}

func TestFrameBytes(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
		want  []byte
	}{
		{"settings ack", SettingsAck(), []byte{0, 0, 0, 0x4, 0x1, 0, 0, 0, 0}},
		{"window update", WindowUpdate(1, 0x10), []byte{0, 0, 4, 0x8, 0, 0, 0, 0, 1, 0, 0, 0, 0x10}},
		{"priority", Priority(3, PriorityParam{StreamDep: 1, Exclusive: true, Weight: 16}),
			[]byte{0, 0, 5, 0x2, 0, 0, 0, 0, 3, 0x80, 0, 0, 1, 16}},
		{"settings", Settings(Setting{SettingMaxFrameSize, 1 << 14}),
			[]byte{0, 0, 6, 0x4, 0, 0, 0, 0, 0, 0, 0x5, 0, 0, 0x40, 0}},
		{"goaway", GoAway(5, CodeProtocol, []byte("x")),
			[]byte{0, 0, 9, 0x7, 0, 0, 0, 0, 0, 0, 0, 0, 5, 0, 0, 0, 1, 'x'}},
		{"padded", Padded(Data(1, []byte("a"), false), 2),
			[]byte{0, 0, 4, 0x0, 0x8, 0, 0, 0, 1, 2, 'a', 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.frame.Append([]byte("pre")); !bytes.Equal(got, append([]byte("pre"), tt.want...)) {
				t.Errorf("Append = %x, want pre+%x", got, tt.want)
			}
		})
	}
}

func TestParseIncomplete(t *testing.T) {
	b := Data(1, []byte("hello"), false).Append(nil)
	for _, n := range []int{0, 5, 9, len(b) - 1} {
		if _, _, err := Parse(b[:n]); !errors.Is(err, wire.ErrIncomplete) {
			t.Errorf("Parse(%d bytes) err = %v, want incomplete", n, err)
		}
	}
	frames, err := ParseAll(append(b, b[:4]...))
	if !errors.Is(err, rerrors.ErrMalformed) {
		t.Errorf("ParseAll err = %v, want malformed", err)
	}
	if len(frames) != 1 {
		t.Errorf("ParseAll frames = %d, want 1", len(frames))
	}
}

func TestRepeat(t *testing.T) {
	for _, n := range []int{0, 1, 5} {
		seq := frame.Repeat(Seq(Continuation(1, []byte{0x82}, false)), n)
		frames, err := ParseAll(seq.Bytes())
		if err != nil {
			t.Fatal(err)
		}
		if len(frames) != n {
			t.Errorf("Repeat(%d) parsed %d frames", n, len(frames))
		}
		for _, f := range frames {
			if f.Type != TypeContinuation || f.Flags != 0 || !bytes.Equal(f.Payload, []byte{0x82}) {
				t.Errorf("frame = %v", f)
			}
		}
	}
}

func TestOversizedPayloadMasked(t *testing.T) {
	f := Data(1, make([]byte, MaxLength+2), false)
	b := f.Append(nil)
	if len(b) != HeaderLen+MaxLength+2 {
		t.Fatalf("len = %d", len(b))
	}
	if b[0] != 0 || b[1] != 0 || b[2] != 1 {
		t.Errorf("length field = % x, want 00 00 01", b[:3])
	}
}

func TestAccessors(t *testing.T) {
	f := Padded(HeadersPriority(3, []byte{0x82, 0x86}, PriorityParam{StreamDep: 1, Weight: 9}, true, true), 3)
	block, err := f.HeaderBlock()
	if err != nil || !bytes.Equal(block, []byte{0x82, 0x86}) {
		t.Errorf("HeaderBlock = %x, %v", block, err)
	}
	if p, err := f.PriorityInfo(); err != nil || p.StreamDep != 1 || p.Weight != 9 {
		t.Errorf("PriorityInfo = %+v, %v", p, err)
	}
	if !f.EndStream() || !f.EndHeaders() {
		t.Errorf("flags = %x", f.Flags)
	}

	d := Padded(Data(1, []byte("abc"), false), 2)
	if data, err := d.Data(); err != nil || string(data) != "abc" {
		t.Errorf("Data = %q, %v", data, err)
	}
	bad := &Frame{Type: TypeData, Flags: FlagPadded, Payload: []byte{9, 1}}
	if _, err := bad.Data(); !errors.Is(err, rerrors.ErrMalformed) {
		t.Errorf("bad padding err = %v", err)
	}

	if inc, _ := WindowUpdate(0, 0x80000010).Increment(); inc != 0x10 {
		t.Errorf("Increment = %#x, want 0x10", inc)
	}
	last, code, debug, err := GoAway(7, CodeProtocol, []byte("x")).GoAwayInfo()
	if err != nil || last != 7 || code != CodeProtocol || string(debug) != "x" {
		t.Errorf("GoAwayInfo = %d %v %q %v", last, code, debug, err)
	}
	if c, _ := RSTStream(1, CodeRefusedStream).ErrorCode(); c != CodeRefusedStream {
		t.Errorf("ErrorCode = %v", c)
	}
	list, _ := Settings(Setting{SettingMaxFrameSize, 1 << 20}).SettingsList()
	if len(list) != 1 || list[0].Val != 1<<20 {
		t.Errorf("SettingsList = %v", list)
	}
	if promised, _ := PushPromise(1, 4, nil, true).PromisedID(); promised != 4 {
		t.Errorf("PromisedID = %d", promised)
	}
	if !SettingsAck().IsAck() || Data(1, nil, true).IsAck() {
		t.Error("IsAck mismatch")
	}
	if got := Type(0x20).String(); got != "UNKNOWN_0x20" {
		t.Errorf("String = %q", got)
	}

	truncated := []struct {
		name string
		call func() error
	}{
		{"goaway code", func() error { _, err := (&Frame{Type: TypeGoAway, Payload: make([]byte, 6)}).ErrorCode(); return err }},
		{"rst code", func() error { _, err := (&Frame{Type: TypeRSTStream, Payload: make([]byte, 3)}).ErrorCode(); return err }},
		{"priority weight", func() error { _, err := (&Frame{Type: TypePriority, Payload: make([]byte, 4)}).PriorityInfo(); return err }},
		{"ping data", func() error { _, err := (&Frame{Type: TypePing, Payload: make([]byte, 7)}).PingData(); return err }},
		{"promised id", func() error { _, err := (&Frame{Type: TypePushPromise, Payload: make([]byte, 2)}).HeaderBlock(); return err }},
		{"increment", func() error { _, err := (&Frame{Type: TypeWindowUpdate}).Increment(); return err }},
	}
	for _, tt := range truncated {
		if err := tt.call(); !errors.Is(err, rerrors.ErrMalformed) {
			t.Errorf("%s err = %v, want malformed", tt.name, err)
		}
	}
}

func TestEncodeHeadersSplit(t *testing.T) {
	hs := message.Headers{
		message.H(":method", "GET"),
		message.H(":path", "/"),
		message.H("x-long", string(bytes.Repeat([]byte("v"), 40))),
	}
	tests := []struct {
		name       string
		opts       HeaderOptions
		wantFrames int
		endHeaders bool
	}{
		{"single", HeaderOptions{}, 1, true},
		{"split", HeaderOptions{FrameSize: 10, EndStream: true}, 0, true},
		{"no end headers", HeaderOptions{FrameSize: 10, NoEndHeaders: true}, 0, false},
		{"priority", HeaderOptions{Priority: &PriorityParam{Weight: 1}}, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, err := EncodeHeaders(hpack.NewEncoder(), 1, hpack.Fields(hs), tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if tt.wantFrames > 0 && len(frames) != tt.wantFrames {
				t.Errorf("frames = %d, want %d", len(frames), tt.wantFrames)
			}
			var block []byte
			for i, f := range frames {
				wantType := TypeContinuation
				if i == 0 {
					wantType = TypeHeaders
				}
				if f.Type != wantType {
					t.Errorf("frame %d type = %v, want %v", i, f.Type, wantType)
				}
				last := i == len(frames)-1
				if f.EndHeaders() != (last && tt.endHeaders) {
					t.Errorf("frame %d END_HEADERS = %v", i, f.EndHeaders())
				}
				b, err := f.HeaderBlock()
				if err != nil {
					t.Fatal(err)
				}
				if tt.opts.FrameSize > 0 && len(f.Payload) > tt.opts.FrameSize {
					t.Errorf("frame %d payload = %d bytes", i, len(f.Payload))
				}
				block = append(block, b...)
			}
			if frames[0].EndStream() != tt.opts.EndStream {
				t.Errorf("END_STREAM = %v, want %v", frames[0].EndStream(), tt.opts.EndStream)
			}
			got, err := hpack.NewDecoder().Decode(block)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, hs) {
				t.Errorf("decoded = %v, want %v", got, hs)
			}
		})
	}
}

func FuzzParseAll(f *testing.F) {
	f.Add(Data(1, []byte("x"), true).Append(nil))
	f.Add(Settings(Setting{SettingMaxFrameSize, 16384}).Append(nil))
	f.Add([]byte{0, 0, 1, 0xff})
	f.Fuzz(func(t *testing.T, b []byte) {
		frames, err := ParseAll(b)
		if err != nil {
			return
		}
		var out []byte
		for _, fr := range frames {
			out = fr.Append(out)
			fr.HeaderBlock()
			fr.SettingsList()
			fr.GoAwayInfo()
			fr.PriorityInfo()
		}
		if !bytes.Equal(out, b) {
			t.Errorf("re-encoded %x, want %x", out, b)
		}
	})
}
