package h3

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"net"
	"sync"
	"time"

	"github.com/rawproto/rawhttp/pkg/conn"
	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/mux"
	"github.com/rawproto/rawhttp/pkg/qpack"
	"github.com/rawproto/rawhttp/pkg/timing"
	"github.com/rawproto/rawhttp/pkg/transport"
	"github.com/rawproto/rawhttp/pkg/wire"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// MaxFrameLen bounds the payload of a received frame.
const MaxFrameLen = 16 << 20

// Options configures a Conn.
type Options struct {
	// Settings are sent on the control stream. Nil derives them from the
	// QPACK, field section and datagram options below.
	Settings []Setting
	// NoSettings opens the control stream without sending SETTINGS.
	NoSettings bool
	// WaitSettings makes New wait for the peer's SETTINGS.
	WaitSettings bool

	// QPACKMaxTableCapacity is the dynamic table capacity we accept.
	QPACKMaxTableCapacity uint64
	QPACKBlockedStreams   uint64
	// MaxFieldSectionSize, when non-zero, is advertised and enforced.
	MaxFieldSectionSize uint64
	// DynamicCapacity enables dynamic-table inserts on our encoder, up to
	// this size, once the peer allows a table.
	DynamicCapacity uint64
	// Datagrams advertises SETTINGS_H3_DATAGRAM.
	Datagrams bool

	Timeouts timing.Timeouts
	// UserAgent is added to requests without one. Empty adds nothing.
	UserAgent string
	// Control sees every frame received on the peer's control stream.
	Control func(f *Frame)
	Hooks   conn.Hooks
	Logger  *slog.Logger
}

func (o Options) settings() []Setting {
	if o.Settings != nil {
		return o.Settings
	}
	s := []Setting{
		{SettingQPACKMaxTableCapacity, o.QPACKMaxTableCapacity},
		{SettingQPACKBlockedStreams, o.QPACKBlockedStreams},
	}
	if o.MaxFieldSectionSize > 0 {
		s = append(s, Setting{SettingMaxFieldSectionSize, o.MaxFieldSectionSize})
	}
	if o.Datagrams {
		s = append(s, Setting{SettingH3Datagram, 1})
	}
	return s
}

type request struct {
	s     transport.QUICStream
	inbox *mux.Queue[conn.Event]
}

// Conn is an HTTP/3 client connection over a QUIC connection. It opens the
// control, QPACK encoder and QPACK decoder streams, reads the peer's
// unidirectional streams in the background and runs one reader per
// request stream. Stream ids come from QUIC, and QUIC owns flow control.
type Conn struct {
	qc      transport.QUICConn
	qp      *qpack.Context
	streams *mux.Table
	opts    Options
	logger  *slog.Logger

	control transport.QUICSendStream
	encoder transport.QUICSendStream
	decoder transport.QUICSendStream

	// encMu guards qp.Encoder, decMu guards qp.Decoder and inserted. The
	// stream mutexes keep drained instructions in order on the wire.
	encMu       sync.Mutex
	decMu       sync.Mutex
	encStreamMu sync.Mutex
	decStreamMu sync.Mutex
	inserted    chan struct{}

	mu        sync.Mutex
	reqs      map[uint64]*request
	peer      map[SettingID]uint64
	goaway    uint64
	hasGoAway bool
	closeErr  error

	settingsOnce sync.Once
	settingsCh   chan struct{}
	bg           context.Context
	cancel       context.CancelFunc
	done         chan struct{}
}

var _ conn.Conn = (*Conn)(nil)

// Dial opens a QUIC connection offering ALPN h3 and runs New.
func Dial(ctx context.Context, d *transport.Dialer, target message.Target, opts Options) (*Conn, error) {
	qc, err := d.DialQUIC(ctx, target.Addr(), []string{transport.ALPNHTTP3}, opts.Datagrams)
	if err != nil {
		return nil, err
	}
	return New(ctx, qc, target, opts)
}

// New starts HTTP/3 over an established QUIC connection: it opens the
// control stream with SETTINGS and both QPACK streams, starts accepting
// the peer's streams and, when asked, waits for the peer's SETTINGS.
func New(ctx context.Context, qc transport.QUICConn, target message.Target, opts Options) (*Conn, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bg, cancel := context.WithCancel(context.Background())
	c := &Conn{
		qc:         qc,
		qp:         qpack.NewContext(opts.QPACKMaxTableCapacity),
		streams:    mux.NewTable(0, 4, 0),
		opts:       opts,
		logger:     logger.With("protocol", "h3", "target", target.String()),
		inserted:   make(chan struct{}),
		reqs:       make(map[uint64]*request),
		peer:       make(map[SettingID]uint64),
		settingsCh: make(chan struct{}),
		bg:         bg,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	c.qp.Decoder.MaxFieldSectionSize = opts.MaxFieldSectionSize

	var err error
	if c.control, err = c.openUni(ctx, StreamControl); err == nil {
		if c.encoder, err = c.openUni(ctx, StreamEncoder); err == nil {
			c.decoder, err = c.openUni(ctx, StreamDecoder)
		}
	}
	if err == nil && !opts.NoSettings {
		sf := Settings(opts.settings()...)
		sf.StreamID = c.control.StreamID()
		err = c.Send(ctx, frame.Of(sf))
	}
	if err != nil {
		cancel()
		qc.CloseWithError(uint64(CodeInternalError), "")
		return nil, err
	}
	go c.acceptLoop()

	if opts.WaitSettings {
		wctx, wcancel := opts.Timeouts.FirstByte.Or(opts.Timeouts.Idle).Context(ctx)
		defer wcancel()
		if err := c.WaitSettings(wctx); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *Conn) openUni(ctx context.Context, typ uint64) (transport.QUICSendStream, error) {
	s, err := c.qc.OpenUniStream(ctx)
	if err != nil {
		return nil, rerrors.FromError(err, "R042")
	}
	b := wire.AppendVarint(nil, typ)
	if _, err := s.Write(b); err != nil {
		return nil, rerrors.FromError(err, "R042")
	}
	c.opts.Hooks.Wrote(frame.FamilyH3, s.StreamID(), b)
	return s, nil
}

// Family implements conn.Conn.
func (c *Conn) Family() frame.Family { return frame.FamilyH3 }

// ControlStream returns the id of our control stream.
func (c *Conn) ControlStream() uint64 { return c.control.StreamID() }

// EncoderStream returns the id of our QPACK encoder stream.
func (c *Conn) EncoderStream() uint64 { return c.encoder.StreamID() }

// DecoderStream returns the id of our QPACK decoder stream.
func (c *Conn) DecoderStream() uint64 { return c.decoder.StreamID() }

// WaitSettings blocks until the peer's SETTINGS have been applied.
func (c *Conn) WaitSettings(ctx context.Context) error {
	select {
	case <-c.settingsCh:
		return nil
	case <-c.bg.Done():
		return c.err()
	case <-ctx.Done():
		return rerrors.New("R032").WithDetail("waiting for peer SETTINGS").Wrap(ctx.Err())
	}
}

// PeerSettings returns the peer's SETTINGS as received so far.
func (c *Conn) PeerSettings() map[SettingID]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.peer)
}

// GoAwayID returns the id of a received GOAWAY.
func (c *Conn) GoAwayID() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.goaway, c.hasGoAway
}

// StreamState returns the state of a request stream. Unknown streams are
// idle and streams forgotten after closing are closed.
func (c *Conn) StreamState(id uint64) mux.State { return c.streams.State(id) }

// ActiveStreams returns the ids of open and half-closed request streams.
func (c *Conn) ActiveStreams() []uint64 { return c.streams.Active() }

// Streams returns every request stream with its state.
func (c *Conn) Streams() map[uint64]mux.State { return c.streams.Snapshot() }

// CreateStream implements conn.Conn. QUIC assigns the id. After a GOAWAY,
// ids at or above the peer's limit are cancelled and refused with R041.
func (c *Conn) CreateStream(ctx context.Context) (uint64, error) {
	if err := c.closedErr(); err != nil {
		return 0, err
	}
	s, err := c.qc.OpenStream(ctx)
	if err != nil {
		return 0, rerrors.FromError(err, "R042")
	}
	id := s.StreamID()
	if limit, ok := c.GoAwayID(); ok && id >= limit {
		s.CancelWrite(uint64(CodeRequestCancelled))
		s.CancelRead(uint64(CodeRequestCancelled))
		return 0, rerrors.New("R041").WithStream(id).WithDetail("peer sent GOAWAY")
	}
	r := &request{s: s, inbox: mux.NewQueue[conn.Event]()}
	c.streams.Reserve(id)
	c.mu.Lock()
	c.reqs[id] = r
	c.mu.Unlock()
	go c.readRequest(id, r)
	return id, nil
}

// Flush implements conn.Conn. QUIC packetizes writes itself, so there is
// nothing to flush.
func (c *Conn) Flush(ctx context.Context) error { return nil }

// Send implements conn.Conn. Consecutive frames on one stream are written
// together. A Fin frame closes the send side of its stream. Frames may
// target request streams or our control, encoder and decoder streams.
func (c *Conn) Send(ctx context.Context, seq frame.Sequence) error {
	var (
		buf  []byte
		cur  uint64
		have bool
	)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		err := c.write(ctx, cur, buf)
		buf = nil
		return err
	}
	for f := range seq {
		id := f.Stream()
		if have && id != cur {
			if err := flush(); err != nil {
				return err
			}
		}
		cur, have = id, true
		if fin, ok := f.(*Fin); ok {
			if err := flush(); err != nil {
				return err
			}
			if err := c.closeSend(fin.StreamID); err != nil {
				return err
			}
			c.opts.Hooks.Sent(frame.FamilyH3, f, 0)
			continue
		}
		if hf, ok := f.(*Frame); ok && (hf.Type == TypeHeaders || hf.Type == TypeData) {
			if s, ok := c.streams.Get(id); ok {
				s.OnSend(false)
			}
		}
		start := len(buf)
		buf = f.Append(buf)
		c.opts.Hooks.Sent(frame.FamilyH3, f, len(buf)-start)
	}
	return flush()
}

type deadlineWriter interface {
	io.Writer
	SetWriteDeadline(t time.Time) error
}

func (c *Conn) writerFor(id uint64) (deadlineWriter, *sync.Mutex, error) {
	switch {
	case c.control != nil && id == c.control.StreamID():
		return c.control, nil, nil
	case c.encoder != nil && id == c.encoder.StreamID():
		return c.encoder, &c.encStreamMu, nil
	case c.decoder != nil && id == c.decoder.StreamID():
		return c.decoder, &c.decStreamMu, nil
	}
	c.mu.Lock()
	r, ok := c.reqs[id]
	c.mu.Unlock()
	if !ok {
		return nil, nil, rerrors.New("R070").WithStream(id).WithDetail("no such HTTP/3 stream")
	}
	return r.s, nil, nil
}

func (c *Conn) write(ctx context.Context, id uint64, b []byte) error {
	w, mu, err := c.writerFor(id)
	if err != nil {
		return err
	}
	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	return c.writeTo(ctx, w, id, b)
}

func (c *Conn) writeTo(ctx context.Context, w deadlineWriter, id uint64, b []byte) error {
	dl, ok := ctx.Deadline()
	if c.opts.Timeouts.Write.Enabled() {
		if wd := c.opts.Timeouts.Write.Deadline(time.Now()); !ok || wd.Before(dl) {
			dl, ok = wd, true
		}
	}
	if ok {
		w.SetWriteDeadline(dl)
		defer w.SetWriteDeadline(time.Time{})
	}
	if _, err := w.Write(b); err != nil {
		return rerrors.FromError(err, "R042")
	}
	c.opts.Hooks.Wrote(frame.FamilyH3, id, b)
	return nil
}

func (c *Conn) closeSend(id uint64) error {
	w, _, err := c.writerFor(id)
	if err != nil {
		return err
	}
	cl, ok := w.(io.Closer)
	if !ok {
		return rerrors.New("R071").WithStream(id).WithDetail("stream cannot be closed")
	}
	if err := cl.Close(); err != nil {
		return rerrors.FromError(err, "R042")
	}
	if s, ok := c.streams.Get(id); ok {
		s.OnSend(true)
	}
	return nil
}

// SendPaced implements conn.Conn.
func (c *Conn) SendPaced(ctx context.Context, steps []conn.Step) (timing.Report, error) {
	r, err := conn.SendPaced(ctx, c, steps)
	c.opts.Hooks.Paced(frame.FamilyH3, r)
	return r, err
}

// Encode runs fn with exclusive use of the QPACK encoder, then writes any
// encoder stream instructions it queued. Use it to force inserts or
// capacity changes on a live connection.
func (c *Conn) Encode(ctx context.Context, fn func(enc *qpack.Encoder) error) error {
	c.encMu.Lock()
	err := fn(c.qp.Encoder)
	c.encMu.Unlock()
	if ferr := c.FlushEncoder(ctx); err == nil {
		err = ferr
	}
	return err
}

// Decode runs fn with exclusive use of the QPACK decoder, then writes any
// decoder stream instructions it queued.
func (c *Conn) Decode(ctx context.Context, fn func(dec *qpack.Decoder) error) error {
	c.decMu.Lock()
	err := fn(c.qp.Decoder)
	c.decMu.Unlock()
	if ferr := c.flushDecoder(ctx); err == nil {
		err = ferr
	}
	return err
}

// FlushEncoder writes queued encoder stream instructions.
func (c *Conn) FlushEncoder(ctx context.Context) error {
	c.encStreamMu.Lock()
	defer c.encStreamMu.Unlock()
	c.encMu.Lock()
	b := c.qp.Encoder.Drain()
	c.encMu.Unlock()
	if len(b) == 0 {
		return nil
	}
	return c.writeTo(ctx, c.encoder, c.encoder.StreamID(), b)
}

func (c *Conn) flushDecoder(ctx context.Context) error {
	c.decStreamMu.Lock()
	defer c.decStreamMu.Unlock()
	c.decMu.Lock()
	b := c.qp.Decoder.Drain()
	c.decMu.Unlock()
	if len(b) == 0 {
		return nil
	}
	return c.writeTo(ctx, c.decoder, c.decoder.StreamID(), b)
}

// HeaderFrame encodes fields on stream id through the connection's QPACK
// encoder. Encoder stream instructions stay queued until FlushEncoder.
func (c *Conn) HeaderFrame(id uint64, fields []qpack.Field) (*Frame, error) {
	c.encMu.Lock()
	defer c.encMu.Unlock()
	return Headers(c.qp.Encoder, id, fields)
}

// RequestFrames translates req into HEADERS, DATA, trailer HEADERS and a
// FIN on stream id. Header sections are encoded immediately.
func (c *Conn) RequestFrames(id uint64, req *message.Request) ([]frame.Frame, error) {
	body, err := req.Payload()
	if err != nil {
		return nil, err
	}
	hs := message.EnsureUserAgent(message.FieldList(req), c.opts.UserAgent)
	hf, err := c.HeaderFrame(id, qpack.Fields(hs))
	if err != nil {
		return nil, err
	}
	frames := []frame.Frame{hf}
	if len(body) > 0 {
		frames = append(frames, Data(id, body))
	}
	if len(req.Trailers) > 0 {
		tr := req.Trailers
		if !req.RawNames {
			tr = tr.Lower()
		}
		tf, err := c.HeaderFrame(id, qpack.Fields(tr))
		if err != nil {
			return nil, err
		}
		frames = append(frames, tf)
	}
	return append(frames, &Fin{StreamID: id}), nil
}

// SendRequest implements conn.Conn. Encoder stream instructions are
// written before the request so the peer is not blocked.
func (c *Conn) SendRequest(ctx context.Context, req *message.Request) (uint64, error) {
	id, err := c.CreateStream(ctx)
	if err != nil {
		return 0, err
	}
	frames, err := c.RequestFrames(id, req)
	if err != nil {
		return id, err
	}
	if err := c.FlushEncoder(ctx); err != nil {
		return id, err
	}
	return id, c.Send(ctx, frame.Of(frames...))
}

// SendGoAway sends GOAWAY on the control stream. The connection stays
// usable.
func (c *Conn) SendGoAway(ctx context.Context, id uint64) error {
	f := GoAway(id)
	f.StreamID = c.ControlStream()
	return c.Send(ctx, frame.Of(f))
}

// CancelStream aborts both directions of a request stream with code and,
// when a dynamic table is in use, tells the peer's encoder with a Stream
// Cancellation instruction.
func (c *Conn) CancelStream(ctx context.Context, id uint64, code ErrCode) error {
	c.mu.Lock()
	r, ok := c.reqs[id]
	c.mu.Unlock()
	if !ok {
		return rerrors.New("R070").WithStream(id).WithDetail("no such HTTP/3 stream")
	}
	r.s.CancelWrite(uint64(code))
	r.s.CancelRead(uint64(code))
	if s, ok := c.streams.Get(id); ok {
		s.OnReset(false, uint64(code))
	}
	c.decMu.Lock()
	dynamic := c.qp.Decoder.MaxCapacity() > 0
	if dynamic {
		c.qp.Decoder.QueueRaw(qpack.AppendStreamCancel(nil, id))
	}
	c.decMu.Unlock()
	if !dynamic {
		return nil
	}
	return c.flushDecoder(ctx)
}

// SendDatagram sends an HTTP datagram tied to a request stream.
func (c *Conn) SendDatagram(stream uint64, payload []byte) error {
	b := wire.AppendVarint(nil, stream/4)
	if err := c.qc.SendDatagram(append(b, payload...)); err != nil {
		return rerrors.FromError(err, "R042")
	}
	return nil
}

// ReceiveDatagram returns the next HTTP datagram and its request stream.
func (c *Conn) ReceiveDatagram(ctx context.Context) (uint64, []byte, error) {
	b, err := c.qc.ReceiveDatagram(ctx)
	if err != nil {
		return 0, nil, rerrors.FromError(err, "R042")
	}
	q, n, err := wire.ReadVarint(b)
	if err != nil {
		return 0, nil, rerrors.New("R010").WithDetail("datagram without quarter stream id")
	}
	return q * 4, b[n:], nil
}

// ReadResponse implements conn.Conn.
func (c *Conn) ReadResponse(ctx context.Context, id uint64) (*message.Response, error) {
	return c.ReadResponseWithTimeouts(ctx, id, c.opts.Timeouts, nil)
}

// ReadResponseWithTimeouts implements conn.Conn.
func (c *Conn) ReadResponseWithTimeouts(ctx context.Context, id uint64, t timing.Timeouts, h conn.Handler) (*message.Response, error) {
	c.mu.Lock()
	r, ok := c.reqs[id]
	c.mu.Unlock()
	if !ok {
		return nil, rerrors.New("R070").WithStream(id).WithDetail("no such HTTP/3 stream")
	}
	resp, err := conn.Assemble(ctx, frame.FamilyH3, id, r.inbox.Pop, t, h)
	closed := c.streams.State(id) == mux.Closed
	if (err == nil && !resp.Partial) || (err != nil && closed) {
		c.mu.Lock()
		delete(c.reqs, id)
		c.mu.Unlock()
	}
	if closed {
		c.streams.Remove(id)
	}
	return resp, err
}

// Close implements conn.Conn. It closes the QUIC connection with
// H3_NO_ERROR and waits for the stream acceptor to exit.
func (c *Conn) Close() error {
	c.fail(rerrors.New("R042").WithDetail("connection closed locally"))
	err := c.qc.CloseWithError(uint64(CodeNoError), "")
	<-c.done
	return err
}

// Done is closed when the connection has failed or been closed.
func (c *Conn) Done() <-chan struct{} { return c.bg.Done() }

func (c *Conn) err() error {
	if err := c.closedErr(); err != nil {
		return err
	}
	return rerrors.New("R042")
}

func (c *Conn) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.closeErr != nil {
		c.mu.Unlock()
		return
	}
	c.closeErr = err
	queues := make([]*mux.Queue[conn.Event], 0, len(c.reqs))
	for _, r := range c.reqs {
		queues = append(queues, r.inbox)
	}
	c.mu.Unlock()
	c.cancel()
	for _, q := range queues {
		q.Close(err)
	}
	c.logger.Debug("connection stopped", "error", err)
}

func (c *Conn) acceptLoop() {
	defer close(c.done)
	for {
		rs, err := c.qc.AcceptUniStream(c.bg)
		if err != nil {
			if c.bg.Err() == nil {
				c.fail(closeCause(err))
			}
			return
		}
		go c.readUni(rs)
	}
}

func closeCause(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return rerrors.New("R042").WithDetail("peer closed the connection")
	}
	return rerrors.New("R042").Wrap(err)
}

func (c *Conn) readUni(rs transport.QUICReceiveStream) {
	id := rs.StreamID()
	br := bufio.NewReader(tapReader{rs, c.opts.Hooks, id})
	typ, _, err := readVarint(br)
	if err != nil {
		c.logger.Debug("unidirectional stream ended before its type", "stream", id, "error", err)
		return
	}
	switch typ {
	case StreamControl:
		c.readControl(id, br)
	case StreamEncoder:
		c.readEncoderStream(br)
	case StreamDecoder:
		c.readDecoderStream(br)
	case StreamPush:
		// No MAX_PUSH_ID was sent, so no push is allowed.
		rs.CancelRead(uint64(CodeIDError))
	default:
		c.logger.Debug("ignored unidirectional stream", "stream", id, "type", typ)
		rs.CancelRead(uint64(CodeStreamCreationError))
	}
}

func (c *Conn) readControl(id uint64, br *bufio.Reader) {
	for {
		f, n, err := readFrame(br)
		if err != nil {
			if c.bg.Err() == nil {
				c.logger.Warn("peer control stream ended", "error", err)
			}
			return
		}
		f.StreamID = id
		c.opts.Hooks.Received(frame.FamilyH3, f, n)
		if c.opts.Control != nil {
			c.opts.Control(f)
		}
		switch f.Type {
		case TypeSettings:
			c.onSettings(f)
		case TypeGoAway:
			c.onGoAway(f)
		default:
			c.logger.Debug("ignored control frame", "type", f.Type.String())
		}
	}
}

func (c *Conn) onSettings(f *Frame) {
	list, err := f.SettingsList()
	if err != nil {
		c.logger.Warn("bad SETTINGS frame", "error", err)
	}
	c.mu.Lock()
	for _, s := range list {
		c.peer[s.ID] = s.Val
	}
	capacity := c.peer[SettingQPACKMaxTableCapacity]
	blocked := c.peer[SettingQPACKBlockedStreams]
	c.mu.Unlock()

	c.encMu.Lock()
	c.qp.Encoder.SetPeerSettings(capacity, blocked)
	if c.opts.DynamicCapacity > 0 && capacity > 0 {
		c.qp.Encoder.UseDynamic = true
		c.qp.Encoder.SetCapacity(min(capacity, c.opts.DynamicCapacity))
	}
	c.encMu.Unlock()
	if err := c.FlushEncoder(c.bg); err != nil {
		c.logger.Warn("encoder stream write failed", "error", err)
	}
	c.settingsOnce.Do(func() { close(c.settingsCh) })
	c.logger.Debug("peer settings applied", "count", len(list))
}

func (c *Conn) onGoAway(f *Frame) {
	id, err := f.ID()
	if err != nil {
		c.logger.Warn("bad GOAWAY frame", "error", err)
		return
	}
	c.mu.Lock()
	c.goaway, c.hasGoAway = id, true
	c.mu.Unlock()
	for _, sid := range c.streams.CloseFrom(id) {
		c.mu.Lock()
		r, ok := c.reqs[sid]
		c.mu.Unlock()
		if ok {
			r.inbox.Push(conn.Event{
				Frame:  f,
				Stream: sid,
				Err:    rerrors.New("R041").WithStream(sid).WithDetail("stream not processed"),
			})
		}
	}
	c.logger.Debug("goaway received", "id", id)
}

func (c *Conn) readEncoderStream(br *bufio.Reader) {
	c.readInstructions(br, func(b []byte) (int, error) {
		c.decMu.Lock()
		n, err := c.qp.Decoder.HandleEncoderStream(b)
		if n > 0 {
			close(c.inserted)
			c.inserted = make(chan struct{})
		}
		c.decMu.Unlock()
		if n > 0 {
			if ferr := c.flushDecoder(c.bg); ferr != nil {
				c.logger.Warn("decoder stream write failed", "error", ferr)
			}
		}
		return n, err
	})
}

func (c *Conn) readDecoderStream(br *bufio.Reader) {
	c.readInstructions(br, func(b []byte) (int, error) {
		c.encMu.Lock()
		defer c.encMu.Unlock()
		return c.qp.Encoder.HandleDecoderStream(b)
	})
}

// readInstructions feeds a QPACK stream to handle, carrying partial
// instructions over to the next read.
func (c *Conn) readInstructions(br *bufio.Reader, handle func(b []byte) (int, error)) {
	var pending []byte
	buf := make([]byte, 4096)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			used, herr := handle(pending)
			pending = pending[used:]
			if herr != nil {
				c.logger.Warn("qpack stream error", "error", herr)
				c.fail(rerrors.FromError(herr, "R011"))
				return
			}
		}
		if err != nil {
			if c.bg.Err() == nil {
				c.logger.Debug("qpack stream ended", "error", err)
			}
			return
		}
	}
}

// decode decodes a field section, waiting for encoder stream inserts while
// it is blocked.
func (c *Conn) decode(id uint64, block []byte) (message.Headers, error) {
	for {
		c.decMu.Lock()
		hs, err := c.qp.Decoder.Decode(id, block)
		ch := c.inserted
		c.decMu.Unlock()
		if rerrors.KindOf(err) != rerrors.KindBlocked {
			if ferr := c.flushDecoder(c.bg); ferr != nil {
				c.logger.Warn("decoder stream write failed", "error", ferr)
			}
			return hs, err
		}
		c.logger.Debug("field section blocked", "stream", id)
		select {
		case <-ch:
		case <-c.bg.Done():
			return nil, c.err()
		}
	}
}

func (c *Conn) readRequest(id uint64, r *request) {
	br := bufio.NewReader(tapReader{r.s, c.opts.Hooks, id})
	for {
		f, n, err := readFrame(br)
		if err != nil {
			c.endRequest(id, r, err)
			return
		}
		f.StreamID = id
		c.opts.Hooks.Received(frame.FamilyH3, f, n)
		ev := conn.Event{Frame: f, Stream: id}
		switch f.Type {
		case TypeHeaders, TypePushPromise:
			var hs message.Headers
			block, err := f.HeaderBlock()
			if err == nil {
				hs, err = c.decode(id, block)
			}
			switch {
			case err != nil:
				ev.Err = err
			case f.Type == TypeHeaders:
				ev.Headers = hs
			}
		case TypeData:
			ev.Data = f.Payload
		}
		if s, ok := c.streams.Get(id); ok {
			s.OnRecv(false)
		}
		r.inbox.Push(ev)
	}
}

func (c *Conn) endRequest(id uint64, r *request, err error) {
	s, _ := c.streams.Get(id)
	switch code, reset := transport.ResetCode(err); {
	case errors.Is(err, io.EOF):
		if s != nil {
			s.OnRecv(true)
		}
		fin := &Fin{StreamID: id}
		c.opts.Hooks.Received(frame.FamilyH3, fin, 0)
		r.inbox.Push(conn.Event{Frame: fin, Stream: id, EndStream: true})
		r.inbox.Close(nil)
	case reset:
		if s != nil {
			s.OnReset(true, code)
		}
		r.inbox.Push(conn.Event{
			Stream: id,
			Err:    rerrors.New("R040").WithStream(id).WithResetCode(code).WithDetail(ErrCode(code).String()),
		})
		r.inbox.Close(nil)
	case errors.Is(err, io.ErrUnexpectedEOF):
		r.inbox.Close(rerrors.New("R010").WithStream(id).WithDetail("stream ended inside a frame"))
	case rerrors.KindOf(err) == rerrors.KindMalformed:
		r.s.CancelRead(uint64(CodeFrameError))
		if s != nil {
			s.OnReset(false, uint64(CodeFrameError))
		}
		r.inbox.Close(rerrors.New("R010").WithStream(id).Wrap(err))
	default:
		if cerr := c.closedErr(); cerr != nil {
			r.inbox.Close(cerr)
			return
		}
		r.inbox.Close(closeCause(err))
	}
}

// readVarint reads one varint and returns it with its encoded width.
func readVarint(br *bufio.Reader) (uint64, int, error) {
	first, err := br.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	var buf [8]byte
	buf[0] = first
	n := 1 << (first >> 6)
	if _, err := io.ReadFull(br, buf[1:n]); err != nil {
		return 0, 0, unexpected(err)
	}
	return wire.ReadVarint(buf[:n])
}

// readFrame reads one frame and returns it with its wire size. EOF
// between frames is io.EOF; EOF inside one is io.ErrUnexpectedEOF.
func readFrame(br *bufio.Reader) (*Frame, int, error) {
	typ, tn, err := readVarint(br)
	if err != nil {
		return nil, 0, err
	}
	length, ln, err := readVarint(br)
	if err != nil {
		return nil, 0, unexpected(err)
	}
	if length > MaxFrameLen {
		return nil, 0, rerrors.Newf(rerrors.KindMalformed, "frame of %d bytes exceeds %d", length, MaxFrameLen)
	}
	f := &Frame{Type: Type(typ), Payload: make([]byte, length)}
	if _, err := io.ReadFull(br, f.Payload); err != nil {
		return nil, 0, unexpected(err)
	}
	if tn != wire.VarintLen(typ) {
		f.TypeWidth = tn
	}
	if ln != wire.VarintLen(length) {
		f.LengthWidth = ln
	}
	return f, tn + ln + int(length), nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// tapReader reports bytes read from a QUIC stream to the capture tap.
type tapReader struct {
	r     io.Reader
	hooks conn.Hooks
	id    uint64
}

func (t tapReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		t.hooks.Read(frame.FamilyH3, t.id, p[:n])
	}
	return n, err
}
