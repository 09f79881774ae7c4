package h3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/mux"
	"github.com/rawproto/rawhttp/pkg/qpack"
	"github.com/rawproto/rawhttp/pkg/transport"
	"github.com/rawproto/rawhttp/pkg/wire"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

func TestFrameWidths(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
		want  []byte
	}{
		{"minimal", Data(0, []byte("hi")), []byte{0x00, 0x02, 'h', 'i'}},
		{"wide type", &Frame{Type: TypeData, Payload: []byte("a"), TypeWidth: 2}, []byte{0x40, 0x00, 0x01, 'a'}},
		{"wide length", &Frame{Type: TypeHeaders, LengthWidth: 4}, []byte{0x01, 0x80, 0, 0, 0}},
		{"grease", Unknown(0, GreaseType(0), nil), []byte{0x21, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.frame.Append(nil)
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("Append = % x, want % x", got, tt.want)
			}
			f, n, err := Parse(got)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if n != len(got) {
				t.Errorf("Parse consumed %d, want %d", n, len(got))
			}
			if f.TypeWidth != tt.frame.TypeWidth || f.LengthWidth != tt.frame.LengthWidth {
				t.Errorf("widths = %d/%d, want %d/%d", f.TypeWidth, f.LengthWidth, tt.frame.TypeWidth, tt.frame.LengthWidth)
			}
			if again := f.Append(nil); !bytes.Equal(again, got) {
				t.Errorf("re-serialized = % x, want % x", again, got)
			}
		})
	}
}

func TestParseIncomplete(t *testing.T) {
	full := Data(0, []byte("hello")).Append(nil)
	for i := 0; i < len(full); i++ {
		if _, _, err := Parse(full[:i]); !errors.Is(err, rerrors.ErrIncomplete) {
			t.Errorf("Parse(%d bytes) = %v, want incomplete", i, err)
		}
	}
	if _, err := ParseAll(full[:len(full)-1], 0); !errors.Is(err, rerrors.ErrMalformed) {
		t.Errorf("ParseAll(trailing) = %v, want malformed", err)
	}
}

func TestTypeNames(t *testing.T) {
	tests := []struct {
		typ  Type
		want string
	}{
		{TypeHeaders, "HEADERS"},
		{TypeMaxPushID, "MAX_PUSH_ID"},
		{0x21, "RESERVED_0x21"},
		{0x40, "RESERVED_0x40"},
		{0x22, "UNKNOWN_0x22"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("Type(%#x).String() = %q, want %q", uint64(tt.typ), got, tt.want)
		}
	}
}

func TestControlFrames(t *testing.T) {
	sf := Settings(Setting{SettingQPACKMaxTableCapacity, 4096}, Setting{0x1f*3 + 0x21, 7})
	list, err := sf.SettingsList()
	if err != nil || len(list) != 2 || list[0].Val != 4096 || list[1].Val != 7 {
		t.Errorf("SettingsList = %v, %v", list, err)
	}
	if id, err := GoAway(400).ID(); err != nil || id != 400 {
		t.Errorf("GoAway.ID = %d, %v", id, err)
	}
	pp := PushPromise(0, 3, []byte{0, 0, 0xd1})
	if id, _ := pp.ID(); id != 3 {
		t.Errorf("PushPromise id = %d, want 3", id)
	}
	if block, _ := pp.HeaderBlock(); !bytes.Equal(block, []byte{0, 0, 0xd1}) {
		t.Errorf("HeaderBlock = % x", block)
	}
	if _, err := (&Frame{Type: TypeSettings, Payload: []byte{0x01}}).SettingsList(); !errors.Is(err, rerrors.ErrMalformed) {
		t.Errorf("truncated SETTINGS = %v, want malformed", err)
	}
}

func TestHandshake(t *testing.T) {
	p, c := startPeer(t, Options{QPACKMaxTableCapacity: 4096, QPACKBlockedStreams: 8, Datagrams: true})

	ctrl := p.waitUni(StreamControl, func(b []byte) bool { return len(b) > 0 })
	frames, err := ParseAll(ctrl, c.ControlStream())
	if err != nil || len(frames) != 1 || frames[0].Type != TypeSettings {
		t.Fatalf("control stream = %v, %v", frames, err)
	}
	list, _ := frames[0].SettingsList()
	want := map[SettingID]uint64{
		SettingQPACKMaxTableCapacity: 4096,
		SettingQPACKBlockedStreams:   8,
		SettingH3Datagram:            1,
	}
	for _, s := range list {
		if want[s.ID] != s.Val {
			t.Errorf("%s = %d, want %d", s.ID, s.Val, want[s.ID])
		}
		delete(want, s.ID)
	}
	if len(want) != 0 {
		t.Errorf("missing settings %v", want)
	}
	if c.EncoderStream() == c.DecoderStream() || c.ControlStream() == c.EncoderStream() {
		t.Error("unidirectional streams share an id")
	}

	ps := p.openUni(StreamControl)
	ps.Write(Settings(Setting{SettingQPACKMaxTableCapacity, 0}, Setting{SettingMaxFieldSectionSize, 9000}).Append(nil))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitSettings(ctx); err != nil {
		t.Fatalf("WaitSettings: %v", err)
	}
	if got := c.PeerSettings()[SettingMaxFieldSectionSize]; got != 9000 {
		t.Errorf("peer MaxFieldSectionSize = %d, want 9000", got)
	}
}

func TestRequestResponse(t *testing.T) {
	p, c := startPeer(t, Options{UserAgent: "rawhttp-test"})
	ctx := context.Background()

	req, _ := message.NewRequest("POST", "https://example.test/upload?x=1")
	req.Body = []byte("payload")
	req.Trailers = message.Headers{message.H("X-Sum", "abc")}
	id, err := c.SendRequest(ctx, req)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if c.StreamState(id) != mux.HalfClosedLocal {
		t.Errorf("state after send = %s, want half-closed(local)", c.StreamState(id))
	}

	s := p.accept()
	frames := p.readRequest(s)
	if len(frames) != 3 {
		t.Fatalf("request frames = %v, want HEADERS DATA HEADERS", frames)
	}
	hs := p.decode(frames[0])
	if hs.Value(":method") != "POST" || hs.Value(":path") != "/upload?x=1" || hs.Value("user-agent") != "rawhttp-test" {
		t.Errorf("request headers = %v", hs)
	}
	if string(frames[1].Payload) != "payload" {
		t.Errorf("DATA = %q", frames[1].Payload)
	}
	if tr := p.decode(frames[2]); tr.Value("x-sum") != "abc" {
		t.Errorf("trailers = %v", tr)
	}

	p.headers(s, message.Headers{message.H(":status", "103"), message.H("link", "</a>")})
	p.headers(s, message.Headers{message.H(":status", "200"), message.H("server", "peer")})
	s.Write(Data(s.id, []byte("hello ")).Append(nil))
	s.Write(Data(s.id, []byte("world")).Append(nil))
	p.headers(s, message.Headers{message.H("grpc-status", "0")})
	s.Close()

	resp, err := c.ReadResponse(ctx, id)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.Status != 200 || resp.Text() != "hello world" {
		t.Errorf("response = %d %q", resp.Status, resp.Body)
	}
	if len(resp.Informational) != 1 || resp.Headers.Value("server") != "peer" || resp.Trailers.Value("grpc-status") != "0" {
		t.Errorf("informational = %v, headers = %v, trailers = %v", resp.Informational, resp.Headers, resp.Trailers)
	}
	if last := resp.Frames[len(resp.Frames)-1]; last.Kind() != "FIN" {
		t.Errorf("last frame = %s, want FIN", last.Kind())
	}
	if c.StreamState(id) != mux.Closed {
		t.Errorf("state after response = %s, want closed", c.StreamState(id))
	}
}

func TestRawFramesOnAnyStream(t *testing.T) {
	p, c := startPeer(t, Options{})
	ctx := context.Background()
	id, err := c.CreateStream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	seq := frame.Of(
		&Frame{Type: TypeData, StreamID: id, Payload: []byte("early"), TypeWidth: 8},
		Unknown(id, GreaseType(2), []byte{1}),
		&Fin{StreamID: id},
	)
	if err := c.Send(ctx, seq); err != nil {
		t.Fatalf("Send: %v", err)
	}
	frames := p.readRequest(p.accept())
	if len(frames) != 2 || frames[0].TypeWidth != 8 || !frames[1].Type.Reserved() {
		t.Errorf("frames = %v", frames)
	}

	err = c.Send(ctx, frame.Of(Data(999, nil)))
	var re *rerrors.Error
	if !errors.As(err, &re) || re.Code != "R070" {
		t.Errorf("Send on unknown stream = %v, want R070", err)
	}
}

func TestDynamicTable(t *testing.T) {
	p, c := startPeer(t, Options{QPACKMaxTableCapacity: 4096, QPACKBlockedStreams: 4, DynamicCapacity: 1024})
	ctx := context.Background()

	ps := p.openUni(StreamControl)
	ps.Write(Settings(Setting{SettingQPACKMaxTableCapacity, 4096}, Setting{SettingQPACKBlockedStreams, 4}).Append(nil))
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.WaitSettings(wctx); err != nil {
		t.Fatal(err)
	}
	enc := p.waitUni(StreamEncoder, func(b []byte) bool { return len(b) > 0 })
	in, _, err := qpack.ParseEncoderInstruction(enc)
	if err != nil || in.Type != qpack.SetCapacity || in.Value != 1024 {
		t.Fatalf("first encoder instruction = %v, %v, want capacity 1024", in, err)
	}

	// A response section referencing an insert the client has not seen
	// blocks until the encoder stream delivers it.
	pe := p.qp.Encoder
	pe.SetPeerSettings(4096, 4)
	pe.UseDynamic = true
	pe.SetCapacity(512)
	req, _ := message.NewRequest("GET", "https://example.test/")
	id, err := c.SendRequest(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	s := p.accept()
	p.readRequest(s)
	p.headers(s, message.Headers{message.H(":status", "200"), message.H("x-custom", "dynamic")})
	s.Close()

	done := make(chan error, 1)
	var resp *message.Response
	go func() {
		var err error
		resp, err = c.ReadResponse(ctx, id)
		done <- err
	}()
	select {
	case err := <-done:
		t.Fatalf("ReadResponse returned before the insert arrived: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	pes := p.openUni(StreamEncoder)
	pes.Write(pe.Drain())

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ReadResponse: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked section never decoded")
	}
	if resp.Headers.Value("x-custom") != "dynamic" {
		t.Errorf("headers = %v", resp.Headers)
	}
	p.waitUni(StreamDecoder, func(b []byte) bool { return hasDecoderInstruction(b, qpack.SectionAck, id) })
}

func hasDecoderInstruction(b []byte, typ qpack.InstructionType, value uint64) bool {
	for len(b) > 0 {
		in, n, err := qpack.ParseDecoderInstruction(b)
		if err != nil {
			return false
		}
		if in.Type == typ && in.Value == value {
			return true
		}
		b = b[n:]
	}
	return false
}

func TestStreamReset(t *testing.T) {
	p, c := startPeer(t, Options{})
	ctx := context.Background()
	req, _ := message.NewRequest("GET", "https://example.test/")
	id, err := c.SendRequest(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	s := p.accept()
	p.readRequest(s)
	p.headers(s, message.Headers{message.H(":status", "200")})
	time.Sleep(20 * time.Millisecond)
	s.CancelWrite(uint64(CodeRequestRejected))

	_, err = c.ReadResponse(ctx, id)
	if !errors.Is(err, rerrors.ErrStreamReset) {
		t.Fatalf("err = %v, want stream reset", err)
	}
	var re *rerrors.Error
	if errors.As(err, &re) && re.ResetCode != uint64(CodeRequestRejected) {
		t.Errorf("reset code = %#x", re.ResetCode)
	}
	if c.StreamState(id) != mux.Closed {
		t.Errorf("state = %s, want closed", c.StreamState(id))
	}
}

func TestOversizedFrameResetsStream(t *testing.T) {
	p, c := startPeer(t, Options{})
	ctx := context.Background()
	req, _ := message.NewRequest("GET", "https://example.test/")
	id, err := c.SendRequest(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	s := p.accept()
	p.readRequest(s)
	p.headers(s, message.Headers{message.H(":status", "200")})
	hdr := wire.AppendVarint(nil, uint64(TypeData))
	hdr = wire.AppendVarint(hdr, MaxFrameLen+1)
	s.Write(hdr)

	_, err = c.ReadResponse(ctx, id)
	if !errors.Is(err, rerrors.ErrMalformed) {
		t.Fatalf("err = %v, want malformed", err)
	}
	var re *rerrors.Error
	if errors.As(err, &re) && re.Stream != id {
		t.Errorf("stream = %d, want %d", re.Stream, id)
	}
	if _, serr := s.out.state(); serr == nil {
		t.Errorf("request stream still readable after oversized frame")
	} else if code, ok := transport.ResetCode(serr); !ok || code != uint64(CodeFrameError) {
		t.Errorf("read cancel = %v, want %s", serr, CodeFrameError)
	}
}

func TestClosedRequestsLeaveTable(t *testing.T) {
	p, c := startPeer(t, Options{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		req, _ := message.NewRequest("GET", "https://example.test/")
		id, err := c.SendRequest(ctx, req)
		if err != nil {
			t.Fatal(err)
		}
		s := p.accept()
		p.readRequest(s)
		p.headers(s, message.Headers{message.H(":status", "204")})
		s.Close()
		if _, err := c.ReadResponse(ctx, id); err != nil {
			t.Fatalf("ReadResponse %d: %v", i, err)
		}
		if c.StreamState(id) != mux.Closed {
			t.Errorf("state %d = %s, want closed", id, c.StreamState(id))
		}
	}
	if n := c.streams.Len(); n != 0 {
		t.Errorf("tracked streams = %d, want 0", n)
	}
	c.mu.Lock()
	n := len(c.reqs)
	c.mu.Unlock()
	if n != 0 {
		t.Errorf("pending requests = %d, want 0", n)
	}
}

func TestGoAway(t *testing.T) {
	p, c := startPeer(t, Options{})
	ctx := context.Background()
	first, _ := c.CreateStream(ctx)
	second, _ := c.CreateStream(ctx)

	ps := p.openUni(StreamControl)
	ps.Write(Settings().Append(nil))
	ps.Write(GoAway(second).Append(nil))

	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := c.ReadResponse(rctx, second); !errors.Is(err, rerrors.ErrGoAway) {
		t.Errorf("stream %d = %v, want goaway", second, err)
	}
	if c.StreamState(first) == mux.Closed {
		t.Errorf("stream %d closed by GOAWAY(%d)", first, second)
	}
	if _, err := c.CreateStream(ctx); !errors.Is(err, rerrors.ErrGoAway) {
		t.Errorf("CreateStream after GOAWAY = %v, want goaway", err)
	}
}

func TestGate(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		trailers  message.Headers
		leadTypes []Type
		finalData string
	}{
		{"body", "ab", nil, []Type{TypeHeaders, TypeData}, "b"},
		{"one byte", "a", nil, []Type{TypeHeaders}, "a"},
		{"no body", "", nil, []Type{TypeHeaders}, ""},
		{"trailers", "ab", message.Headers{message.H("x-t", "1")}, []Type{TypeHeaders, TypeData}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, c := startPeer(t, Options{})
			ctx := context.Background()
			req, _ := message.NewRequest("POST", "https://example.test/race")
			req.Body = []byte(tt.body)
			req.Trailers = tt.trailers
			g, err := NewGate(ctx, c, req)
			if err != nil {
				t.Fatal(err)
			}
			if err := g.Release(ctx); err == nil {
				t.Error("Release before Prime succeeded")
			}
			if err := g.Prime(ctx); err != nil {
				t.Fatalf("Prime: %v", err)
			}
			s := p.accept()
			lead, ferr := s.in.state()
			if ferr != nil {
				t.Fatalf("stream finished before release: %v", ferr)
			}
			frames, err := ParseAll(lead, s.id)
			if err != nil || len(frames) != len(tt.leadTypes) {
				t.Fatalf("primed frames = %v, %v", frames, err)
			}
			for i, f := range frames {
				if f.Type != tt.leadTypes[i] {
					t.Errorf("primed frame %d = %s, want %s", i, f.Type, tt.leadTypes[i])
				}
			}

			if err := g.Release(ctx); err != nil {
				t.Fatalf("Release: %v", err)
			}
			rest := p.readRequest(s)[len(frames):]
			var data []byte
			for _, f := range rest {
				if f.Type == TypeData {
					data = append(data, f.Payload...)
				}
			}
			if string(data) != tt.finalData {
				t.Errorf("released DATA = %q, want %q", data, tt.finalData)
			}
			if err := g.Prime(ctx); err == nil {
				t.Error("second Prime succeeded")
			}
		})
	}
}

func TestCancelStream(t *testing.T) {
	p, c := startPeer(t, Options{QPACKMaxTableCapacity: 4096})
	ctx := context.Background()
	id, _ := c.CreateStream(ctx)
	s := p.accept()

	if err := c.CancelStream(ctx, id, CodeRequestCancelled); err != nil {
		t.Fatalf("CancelStream: %v", err)
	}
	if _, err := s.Read(make([]byte, 1)); err == nil || err == io.EOF {
		t.Errorf("peer read after cancel = %v, want reset", err)
	}
	p.waitUni(StreamDecoder, func(b []byte) bool { return hasDecoderInstruction(b, qpack.StreamCancel, id) })
	if c.StreamState(id) != mux.Closed {
		t.Errorf("state = %s, want closed", c.StreamState(id))
	}
}

func TestDatagrams(t *testing.T) {
	p, c := startPeer(t, Options{Datagrams: true})
	if err := c.SendDatagram(4, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	if got := <-p.q.datagrams; !bytes.Equal(got, []byte{0x01, 'p', 'i', 'n', 'g'}) {
		t.Errorf("datagram = % x", got)
	}
	p.q.inDatagrams <- []byte{0x02, 'o', 'k'}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	stream, payload, err := c.ReceiveDatagram(ctx)
	if err != nil || stream != 8 || string(payload) != "ok" {
		t.Errorf("ReceiveDatagram = %d %q %v", stream, payload, err)
	}
}

func TestCloseFailsPendingReads(t *testing.T) {
	_, c := startPeer(t, Options{})
	ctx := context.Background()
	id, _ := c.CreateStream(ctx)
	done := make(chan error, 1)
	go func() {
		_, err := c.ReadResponse(ctx, id)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	c.Close()
	select {
	case err := <-done:
		if !errors.Is(err, rerrors.ErrClosed) {
			t.Errorf("err = %v, want closed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read did not end after Close")
	}
}

func FuzzParseAll(f *testing.F) {
	f.Add(Data(0, []byte("x")).Append(nil))
	f.Add(Settings(Setting{SettingQPACKMaxTableCapacity, 100}).Append(nil))
	f.Add((&Frame{Type: GreaseType(5), LengthWidth: 8}).Append(nil))
	f.Fuzz(func(t *testing.T, b []byte) {
		frames, err := ParseAll(b, 0)
		if err != nil {
			return
		}
		var out []byte
		for _, fr := range frames {
			out = fr.Append(out)
		}
		if !bytes.Equal(out, b) {
			t.Errorf("re-serialized % x, want % x", out, b)
		}
	})
}
