package h2

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rawproto/rawhttp/pkg/conn"
	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/hpack"
	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/mux"
	"github.com/rawproto/rawhttp/pkg/timing"
	"github.com/rawproto/rawhttp/pkg/transport"
	"github.com/rawproto/rawhttp/pkg/wire"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// DefaultWindow is the initial flow-control window of RFC 9113.
const DefaultWindow = 65535

// DefaultSettings returns the SETTINGS sent when Options.Settings is nil.
func DefaultSettings() []Setting {
	return []Setting{
		{SettingEnablePush, 0},
		{SettingMaxConcurrentStreams, 100},
		{SettingInitialWindowSize, DefaultWindow},
		{SettingMaxFrameSize, DefaultMaxFrameSize},
		{SettingMaxHeaderListSize, 8192},
	}
}

// Options configures a Conn.
type Options struct {
	// Settings are sent after the preface. Nil sends DefaultSettings.
	Settings []Setting
	// NoPreface skips the preface and SETTINGS, leaving them to the caller.
	NoPreface bool
	// WaitSettings makes New wait for the peer's first SETTINGS.
	WaitSettings bool
	// NoAutoAck disables acknowledging SETTINGS and PING.
	NoAutoAck bool
	// NoAutoWindowUpdate disables returning credit for received DATA.
	NoAutoWindowUpdate bool
	// Flow selects how DATA sends treat exhausted windows.
	Flow mux.FlowMode
	// AutoFlushBytes flushes a corked writer at this size.
	AutoFlushBytes int
	Timeouts       timing.Timeouts
	// UserAgent is added to requests without one. Empty adds nothing.
	UserAgent string
	// Control sees every frame received on stream 0.
	Control func(f *Frame)
	Hooks   conn.Hooks
	Logger  *slog.Logger
}

type peerSettings struct {
	maxFrameSize  uint32
	maxConcurrent uint32
	hasConcurrent bool
	maxHeaderList uint32
}

// pendingBlock is a header block waiting for CONTINUATION frames.
type pendingBlock struct {
	stream    uint64
	block     []byte
	endStream bool
	push      bool
}

// Conn is an HTTP/2 client connection. A background goroutine reads
// frames, answers SETTINGS and PING, returns flow-control credit and
// routes stream frames to per-stream queues in arrival order.
type Conn struct {
	stream  transport.Stream
	w       *conn.Writer
	br      *bufio.Reader
	hp      *hpack.Context
	encMu   sync.Mutex
	streams *mux.Table
	window  *mux.Window
	opts    Options
	logger  *slog.Logger

	mu      sync.Mutex
	inboxes map[uint64]*mux.Queue[conn.Event]
	peer    peerSettings
	pings   map[[8]byte]chan struct{}
	pingSeq uint64
	readErr error

	// pending is touched only by the reader goroutine.
	pending *pendingBlock

	settingsOnce sync.Once
	settingsCh   chan struct{}
	done         chan struct{}
}

var _ conn.Conn = (*Conn)(nil)

// Dial connects to target with ALPN h2, or with prior knowledge over
// cleartext, and runs New.
func Dial(ctx context.Context, d *transport.Dialer, target message.Target, opts Options) (*Conn, error) {
	tc, err := d.Dial(ctx, target.Addr(), target.TLS(), []string{transport.ALPNHTTP2})
	if err != nil {
		return nil, err
	}
	if target.TLS() && tc.Protocol != transport.ALPNHTTP2 {
		tc.Close()
		return nil, rerrors.New("R003").WithDetail("server selected " + quoteProto(tc.Protocol))
	}
	return New(ctx, tc, target, opts)
}

func quoteProto(p string) string {
	if p == "" {
		return "no protocol"
	}
	return "\"" + p + "\""
}

// New starts HTTP/2 over an established stream: it writes the preface and
// SETTINGS, starts the reader and, when asked, waits for the peer's
// SETTINGS under the first-byte timeout.
func New(ctx context.Context, s transport.Stream, target message.Target, opts Options) (*Conn, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{
		stream:     s,
		w:          conn.NewWriter(s),
		br:         bufio.NewReaderSize(s, 64<<10),
		hp:         hpack.NewContext(),
		streams:    mux.NewTable(1, 2, DefaultWindow),
		window:     mux.NewWindow(DefaultWindow),
		opts:       opts,
		logger:     logger.With("protocol", "h2", "target", target.String()),
		inboxes:    make(map[uint64]*mux.Queue[conn.Event]),
		peer:       peerSettings{maxFrameSize: DefaultMaxFrameSize},
		pings:      make(map[[8]byte]chan struct{}),
		settingsCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
	c.w.AutoFlushBytes = opts.AutoFlushBytes
	c.w.Timeout = opts.Timeouts.Write
	c.w.OnWrite = func(b []byte) { opts.Hooks.Wrote(frame.FamilyH2, 0, b) }

	settings := opts.Settings
	if settings == nil {
		settings = DefaultSettings()
	}
	for _, st := range settings {
		switch st.ID {
		case SettingHeaderTableSize:
			c.hp.Decoder.SetLimit(st.Val)
		case SettingMaxHeaderListSize:
			c.hp.Decoder.MaxListSize = st.Val
		}
	}
	if !opts.NoPreface {
		b := Settings(settings...).Append([]byte(Preface))
		if err := c.w.Write(ctx, b); err != nil {
			s.Close()
			return nil, err
		}
	}
	go c.readLoop()

	if opts.WaitSettings {
		wctx, cancel := opts.Timeouts.FirstByte.Or(opts.Timeouts.Idle).Context(ctx)
		defer cancel()
		if err := c.WaitSettings(wctx); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// Family implements conn.Conn.
func (c *Conn) Family() frame.Family { return frame.FamilyH2 }

// HPACK returns the connection's compression context. The encoder is
// shared with SETTINGS processing, so use HeaderFrames to encode while
// the connection is live.
func (c *Conn) HPACK() *hpack.Context { return c.hp }

// WaitSettings blocks until the peer's first SETTINGS has been applied.
func (c *Conn) WaitSettings(ctx context.Context) error {
	select {
	case <-c.settingsCh:
		return nil
	case <-c.done:
		return c.err()
	case <-ctx.Done():
		return rerrors.New("R032").WithDetail("waiting for peer SETTINGS").Wrap(ctx.Err())
	}
}

// CreateStream implements conn.Conn. It allocates the next odd id. After a
// GOAWAY, ids above the peer's last stream are refused with R041.
func (c *Conn) CreateStream(ctx context.Context) (uint64, error) {
	if last, ok := c.streams.GoAway(); ok && c.streams.Next() > last {
		return 0, rerrors.New("R041").WithDetail("peer sent GOAWAY")
	}
	s := c.streams.Allocate()
	c.inbox(s.ID)
	return s.ID, nil
}

// ReserveStream registers an arbitrary stream id, even or out of order.
func (c *Conn) ReserveStream(id uint64) uint64 {
	c.streams.Reserve(id)
	c.inbox(id)
	return id
}

// StreamState returns the state of a stream. Unknown streams are idle and
// streams forgotten after closing are closed.
func (c *Conn) StreamState(id uint64) mux.State { return c.streams.State(id) }

// ActiveStreams returns the ids of open and half-closed streams.
func (c *Conn) ActiveStreams() []uint64 { return c.streams.Active() }

// Streams returns every known stream with its state.
func (c *Conn) Streams() map[uint64]mux.State { return c.streams.Snapshot() }

// MaxConcurrentStreams returns the peer's limit, if it sent one.
func (c *Conn) MaxConcurrentStreams() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer.maxConcurrent, c.peer.hasConcurrent
}

// MaxFrameSize returns the peer's SETTINGS_MAX_FRAME_SIZE.
func (c *Conn) MaxFrameSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.peer.maxFrameSize)
}

// SendWindow returns the connection-level send credit.
func (c *Conn) SendWindow() int64 { return c.window.Available() }

// Cork buffers writes until Flush or AutoFlushBytes.
func (c *Conn) Cork() { c.w.Cork() }

// Flush implements conn.Conn.
func (c *Conn) Flush(ctx context.Context) error { return c.w.Flush(ctx) }

// Send implements conn.Conn. Frames are serialized into one write. DATA
// frames consume flow-control credit per Options.Flow; under FlowWait the
// frames gathered so far are written before waiting so the peer can grant
// more. Stream state follows END_STREAM and RST_STREAM but never blocks.
func (c *Conn) Send(ctx context.Context, seq frame.Sequence) error {
	var buf []byte
	for f := range seq {
		if hf, ok := f.(*Frame); ok {
			if hf.Type == TypeData {
				var err error
				if buf, err = c.consume(ctx, hf, buf); err != nil {
					return err
				}
			}
			c.track(hf)
		}
		start := len(buf)
		buf = f.Append(buf)
		c.opts.Hooks.Sent(frame.FamilyH2, f, len(buf)-start)
	}
	if len(buf) == 0 {
		return nil
	}
	return c.w.Write(ctx, buf)
}

func (c *Conn) consume(ctx context.Context, f *Frame, buf []byte) ([]byte, error) {
	n := int64(len(f.Payload))
	if n == 0 {
		return buf, nil
	}
	var s *mux.Stream
	if c.streams.Retired(f.Stream()) {
		// DATA on a forgotten stream still spends connection credit.
		s = &mux.Stream{ID: f.Stream(), Send: mux.NewWindow(DefaultWindow)}
	} else {
		s = c.streamFor(f.Stream())
	}
	if c.opts.Flow != mux.FlowWait {
		err := mux.ConsumeBoth(ctx, s.Send, c.window, n, c.opts.Flow)
		if err != nil {
			err = rerrors.New("R050").WithStream(s.ID).Wrap(err)
		}
		return buf, err
	}
	if mux.ConsumeBoth(ctx, s.Send, c.window, n, mux.FlowStrict) == nil {
		return buf, nil
	}
	c.logger.Debug("waiting for flow-control credit", "stream", s.ID, "bytes", n)
	if len(buf) > 0 {
		if err := c.w.Write(ctx, buf); err != nil {
			return nil, err
		}
		buf = nil
	}
	if err := c.w.Flush(ctx); err != nil {
		return nil, err
	}
	return nil, mux.ConsumeBoth(ctx, s.Send, c.window, n, mux.FlowWait)
}

func (c *Conn) streamFor(id uint64) *mux.Stream {
	if s, ok := c.streams.Get(id); ok {
		return s
	}
	return c.streams.Reserve(id)
}

func (c *Conn) track(f *Frame) {
	id := f.Stream()
	if id == 0 || c.streams.Retired(id) {
		return
	}
	switch f.Type {
	case TypeData, TypeHeaders:
		if c.streamFor(id).OnSend(f.EndStream()) == mux.Closed {
			c.forgetIfRead(id)
		}
	case TypeRSTStream:
		code, _ := f.ErrorCode()
		c.streamFor(id).OnReset(false, uint64(code))
	}
}

// forgetIfRead removes a closed stream whose response has already been
// read, which is the case when the peer finished before we did.
func (c *Conn) forgetIfRead(id uint64) {
	c.mu.Lock()
	_, pending := c.inboxes[id]
	c.mu.Unlock()
	if !pending {
		c.streams.Remove(id)
	}
}

// SendPaced implements conn.Conn.
func (c *Conn) SendPaced(ctx context.Context, steps []conn.Step) (timing.Report, error) {
	r, err := conn.SendPaced(ctx, c, steps)
	c.opts.Hooks.Paced(frame.FamilyH2, r)
	return r, err
}

// HeaderFrames encodes fields on stream id through the connection's HPACK
// encoder.
func (c *Conn) HeaderFrames(id uint64, fields []hpack.Field, opts HeaderOptions) ([]*Frame, error) {
	if opts.FrameSize == 0 {
		opts.FrameSize = c.MaxFrameSize()
	}
	c.encMu.Lock()
	defer c.encMu.Unlock()
	return EncodeHeaders(c.hp.Encoder, uint32(id), fields, opts)
}

// RequestFrames translates req into HEADERS, CONTINUATION, DATA and
// trailer frames on stream id. The header block is encoded immediately.
func (c *Conn) RequestFrames(id uint64, req *message.Request) ([]*Frame, error) {
	body, err := req.Payload()
	if err != nil {
		return nil, err
	}
	hs := message.EnsureUserAgent(message.FieldList(req), c.opts.UserAgent)
	size := c.MaxFrameSize()
	frames, err := c.HeaderFrames(id, hpack.Fields(hs), HeaderOptions{
		EndStream: len(body) == 0 && len(req.Trailers) == 0,
		FrameSize: size,
	})
	if err != nil {
		return nil, err
	}
	for off := 0; off < len(body); off += size {
		end := min(off+size, len(body))
		frames = append(frames, Data(uint32(id), body[off:end], end == len(body) && len(req.Trailers) == 0))
	}
	if len(req.Trailers) > 0 {
		tr := req.Trailers
		if !req.RawNames {
			tr = tr.Lower()
		}
		tf, err := c.HeaderFrames(id, hpack.Fields(tr), HeaderOptions{EndStream: true, FrameSize: size})
		if err != nil {
			return nil, err
		}
		frames = append(frames, tf...)
	}
	return frames, nil
}

// Seq adapts frames to a frame.Sequence.
func Seq(frames ...*Frame) frame.Sequence {
	return func(yield func(frame.Frame) bool) {
		for _, f := range frames {
			if !yield(f) {
				return
			}
		}
	}
}

// SendRequest implements conn.Conn.
func (c *Conn) SendRequest(ctx context.Context, req *message.Request) (uint64, error) {
	id, err := c.CreateStream(ctx)
	if err != nil {
		return 0, err
	}
	frames, err := c.RequestFrames(id, req)
	if err != nil {
		return id, err
	}
	return id, c.Send(ctx, Seq(frames...))
}

// SendRST resets a stream.
func (c *Conn) SendRST(ctx context.Context, id uint64, code ErrCode) error {
	return c.Send(ctx, Seq(RSTStream(uint32(id), code)))
}

// SendGoAway sends GOAWAY. The connection stays usable.
func (c *Conn) SendGoAway(ctx context.Context, last uint32, code ErrCode, debug []byte) error {
	return c.Send(ctx, Seq(GoAway(last, code, debug)))
}

// Ping sends a PING and waits for its ACK, returning the round trip.
func (c *Conn) Ping(ctx context.Context) (time.Duration, error) {
	var data [8]byte
	ch := make(chan struct{})
	c.mu.Lock()
	c.pingSeq++
	binary.BigEndian.PutUint64(data[:], c.pingSeq)
	c.pings[data] = ch
	c.mu.Unlock()

	start := time.Now()
	if err := c.Send(ctx, Seq(Ping(data))); err != nil {
		return 0, err
	}
	if err := c.w.Flush(ctx); err != nil {
		return 0, err
	}
	select {
	case <-ch:
		return time.Since(start), nil
	case <-c.done:
		return 0, c.err()
	case <-ctx.Done():
		return 0, rerrors.FromContext(ctx.Err())
	}
}

// ReadResponse implements conn.Conn.
func (c *Conn) ReadResponse(ctx context.Context, id uint64) (*message.Response, error) {
	return c.ReadResponseWithTimeouts(ctx, id, c.opts.Timeouts, nil)
}

// ReadResponseWithTimeouts implements conn.Conn.
func (c *Conn) ReadResponseWithTimeouts(ctx context.Context, id uint64, t timing.Timeouts, h conn.Handler) (*message.Response, error) {
	q := c.inbox(id)
	resp, err := conn.Assemble(ctx, frame.FamilyH2, id, q.Pop, t, h)
	closed := c.streams.State(id) == mux.Closed
	if (err == nil && !resp.Partial) || (err != nil && closed) {
		c.mu.Lock()
		delete(c.inboxes, id)
		c.mu.Unlock()
	}
	if closed {
		c.streams.Remove(id)
	}
	return resp, err
}

// Close implements conn.Conn. It closes the transport and waits for the
// reader to exit.
func (c *Conn) Close() error {
	err := c.stream.Close()
	<-c.done
	return err
}

// Done is closed when the reader exits.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return c.readErr
	}
	return rerrors.New("R042")
}

func (c *Conn) inbox(id uint64) *mux.Queue[conn.Event] {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.inboxes[id]
	if !ok {
		q = mux.NewQueue[conn.Event]()
		if c.readErr != nil {
			q.Close(c.readErr)
		}
		c.inboxes[id] = q
	}
	return q
}

func (c *Conn) push(id uint64, ev conn.Event) {
	if c.streams.Retired(id) {
		c.logger.Debug("frame on closed stream", "stream", id, "type", ev.Frame.Kind())
		return
	}
	c.inbox(id).Push(ev)
}

// writeControl writes an automatic reply from the reader goroutine. It
// goes straight to the transport so a corked batch, such as a pending
// single-packet release, never carries it.
func (c *Conn) writeControl(frames ...*Frame) {
	var buf []byte
	for _, f := range frames {
		start := len(buf)
		buf = f.Append(buf)
		c.opts.Hooks.Sent(frame.FamilyH2, f, len(buf)-start)
	}
	if err := c.w.WriteThrough(context.Background(), buf); err != nil {
		c.logger.Warn("control write failed", "error", err)
	}
}

func (c *Conn) readLoop() {
	defer close(c.done)
	var hdr [HeaderLen]byte
	for {
		if _, err := io.ReadFull(c.br, hdr[:]); err != nil {
			c.fail(err)
			return
		}
		f, n := decodeHeader(wire.NewDecoder(hdr[:]))
		f.Payload = make([]byte, n)
		if _, err := io.ReadFull(c.br, f.Payload); err != nil {
			c.fail(err)
			return
		}
		if c.opts.Hooks.Tap != nil {
			c.opts.Hooks.Read(frame.FamilyH2, f.Stream(), f.Append(nil))
		}
		c.opts.Hooks.Received(frame.FamilyH2, f, HeaderLen+n)
		c.handle(f)
	}
}

func (c *Conn) fail(err error) {
	var cause error
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		cause = rerrors.New("R042").WithDetail("peer closed the connection")
	} else {
		cause = rerrors.New("R042").Wrap(err)
	}
	c.mu.Lock()
	c.readErr = cause
	queues := make([]*mux.Queue[conn.Event], 0, len(c.inboxes))
	for _, q := range c.inboxes {
		queues = append(queues, q)
	}
	c.mu.Unlock()
	for _, q := range queues {
		q.Close(cause)
	}
	c.logger.Debug("reader stopped", "error", err)
}

func (c *Conn) handle(f *Frame) {
	id := f.Stream()
	if id == 0 && c.opts.Control != nil {
		c.opts.Control(f)
	}
	switch f.Type {
	case TypeSettings:
		c.onSettings(f)
	case TypePing:
		c.onPing(f)
	case TypeGoAway:
		c.onGoAway(f)
	case TypeWindowUpdate:
		c.onWindowUpdate(f)
	case TypeData:
		c.onData(f)
	case TypeHeaders, TypePushPromise, TypeContinuation:
		c.onHeaders(f)
	case TypeRSTStream:
		c.onReset(f)
	default:
		if id != 0 {
			c.push(id, conn.Event{Frame: f, Stream: id})
		} else {
			c.logger.Debug("ignored connection frame", "type", f.Type.String())
		}
	}
}

func (c *Conn) onSettings(f *Frame) {
	if f.IsAck() {
		c.logger.Debug("settings acknowledged")
		return
	}
	list, err := f.SettingsList()
	if err != nil {
		c.logger.Warn("bad SETTINGS frame", "error", err)
		return
	}
	for _, s := range list {
		switch s.ID {
		case SettingHeaderTableSize:
			c.encMu.Lock()
			c.hp.Encoder.SetPeerLimit(s.Val)
			c.encMu.Unlock()
		case SettingInitialWindowSize:
			c.streams.AdjustInitialWindow(int64(s.Val))
		case SettingMaxFrameSize:
			c.mu.Lock()
			c.peer.maxFrameSize = s.Val
			c.mu.Unlock()
		case SettingMaxConcurrentStreams:
			c.mu.Lock()
			c.peer.maxConcurrent, c.peer.hasConcurrent = s.Val, true
			c.mu.Unlock()
		case SettingMaxHeaderListSize:
			c.mu.Lock()
			c.peer.maxHeaderList = s.Val
			c.mu.Unlock()
		}
		c.logger.Debug("peer setting", "id", s.ID.String(), "value", s.Val)
	}
	if !c.opts.NoAutoAck {
		c.writeControl(SettingsAck())
	}
	c.settingsOnce.Do(func() { close(c.settingsCh) })
}

func (c *Conn) onPing(f *Frame) {
	data, err := f.PingData()
	if err != nil {
		c.logger.Warn("bad PING frame", "error", err)
		return
	}
	if f.IsAck() {
		c.mu.Lock()
		ch, ok := c.pings[data]
		delete(c.pings, data)
		c.mu.Unlock()
		if ok {
			close(ch)
		}
		return
	}
	if !c.opts.NoAutoAck {
		c.writeControl(PingAck(data))
	}
}

func (c *Conn) onGoAway(f *Frame) {
	last, code, debug, err := f.GoAwayInfo()
	if err != nil {
		c.logger.Warn("bad GOAWAY frame", "error", err)
		return
	}
	c.logger.Debug("goaway", "last_stream", last, "code", code.String(), "debug", string(debug))
	for _, id := range c.streams.CloseAbove(uint64(last)) {
		c.push(id, conn.Event{
			Frame:  f,
			Stream: id,
			Err:    rerrors.New("R041").WithStream(id).WithResetCode(uint64(code)).WithDetail(code.String()),
		})
	}
}

func (c *Conn) onWindowUpdate(f *Frame) {
	inc, err := f.Increment()
	if err != nil {
		c.logger.Warn("bad WINDOW_UPDATE frame", "error", err)
		return
	}
	id := f.Stream()
	if id == 0 {
		c.window.Add(int64(inc))
		return
	}
	if s, ok := c.streams.Get(id); ok {
		s.Send.Add(int64(inc))
	}
	c.push(id, conn.Event{Frame: f, Stream: id})
}

func (c *Conn) onData(f *Frame) {
	id := f.Stream()
	ev := conn.Event{Frame: f, Stream: id, EndStream: f.EndStream()}
	if data, err := f.Data(); err != nil {
		ev.Err = err
	} else {
		ev.Data = data
	}
	if s, ok := c.streams.Get(id); ok {
		s.OnRecv(f.EndStream())
	}
	if n := uint32(len(f.Payload)); n > 0 && !c.opts.NoAutoWindowUpdate {
		updates := []*Frame{WindowUpdate(0, n)}
		if !f.EndStream() {
			updates = append(updates, WindowUpdate(uint32(id), n))
		}
		c.writeControl(updates...)
	}
	c.push(id, ev)
}

// onHeaders reassembles header blocks and decodes them in arrival order,
// which keeps the decoder table in step with the peer's encoder.
func (c *Conn) onHeaders(f *Frame) {
	id := f.Stream()
	ev := conn.Event{Frame: f, Stream: id}
	var (
		block     []byte
		complete  bool
		endStream bool
		push      bool
	)
	switch f.Type {
	case TypeHeaders, TypePushPromise:
		b, err := f.HeaderBlock()
		if err != nil {
			ev.Err = err
			c.push(id, ev)
			return
		}
		if c.pending != nil {
			c.logger.Warn("header block interrupted", "stream", c.pending.stream)
		}
		push = f.Type == TypePushPromise
		endStream = f.EndStream()
		if f.EndHeaders() {
			block, complete = b, true
			c.pending = nil
		} else {
			c.pending = &pendingBlock{stream: id, block: append([]byte(nil), b...), endStream: endStream, push: push}
		}
	case TypeContinuation:
		p := c.pending
		if p == nil || p.stream != id {
			c.logger.Warn("unexpected CONTINUATION", "stream", id)
			c.push(id, ev)
			return
		}
		p.block = append(p.block, f.Payload...)
		if f.EndHeaders() {
			block, complete, endStream, push = p.block, true, p.endStream, p.push
			c.pending = nil
		}
	}
	if complete {
		hs, err := c.hp.Decoder.Decode(block)
		switch {
		case err != nil:
			ev.Err = rerrors.FromError(err, "R011")
		case !push:
			ev.Headers = hs
			ev.EndStream = endStream
		}
		if !push {
			if s, ok := c.streams.Get(id); ok {
				s.OnRecv(endStream)
			}
		}
	}
	c.push(id, ev)
}

func (c *Conn) onReset(f *Frame) {
	id := f.Stream()
	code, err := f.ErrorCode()
	if err != nil {
		c.push(id, conn.Event{Frame: f, Stream: id, Err: err})
		return
	}
	if s, ok := c.streams.Get(id); ok {
		s.OnReset(true, uint64(code))
	}
	c.push(id, conn.Event{
		Frame:  f,
		Stream: id,
		Err:    rerrors.New("R040").WithStream(id).WithResetCode(uint64(code)).WithDetail(code.String()),
	})
}
