package h1

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/rawproto/rawhttp/pkg/conn"
	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/timing"
	"github.com/rawproto/rawhttp/pkg/transport"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// Options configures a Conn.
type Options struct {
	// Mode selects strict or lenient response parsing.
	Mode Mode
	// Build controls the headers SendRequest adds.
	Build BuildOptions
	// Timeouts are used by ReadResponse.
	Timeouts timing.Timeouts
	// AutoFlushBytes flushes a corked writer at this size.
	AutoFlushBytes int
	Hooks          conn.Hooks
	Logger         *slog.Logger
}

// Conn is an HTTP/1.1 connection. Requests may be pipelined; responses
// are read in the order the requests were sent.
type Conn struct {
	stream  transport.Stream
	w       *conn.Writer
	scanner *Scanner
	opts    Options
	logger  *slog.Logger

	mu      sync.Mutex
	methods []string
	readMu  sync.Mutex
}

var _ conn.Conn = (*Conn)(nil)

// New runs HTTP/1.1 over an established stream.
func New(s transport.Stream, target message.Target, opts Options) *Conn {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{
		stream:  s,
		w:       conn.NewWriter(s),
		scanner: NewScanner(bufio.NewReader(tapReader{s, opts.Hooks}), true, opts.Mode),
		opts:    opts,
		logger:  logger.With("protocol", "h1", "target", target.String()),
	}
	c.w.AutoFlushBytes = opts.AutoFlushBytes
	c.w.Timeout = opts.Timeouts.Write
	c.w.OnWrite = func(b []byte) { opts.Hooks.Wrote(frame.FamilyH1, 0, b) }
	if opts.Build.UserAgent == "" {
		c.opts.Build.UserAgent = message.DefaultUserAgent
	}
	return c
}

// Dial connects to target and returns an HTTP/1.1 connection. TLS
// connections offer only http/1.1 in ALPN.
func Dial(ctx context.Context, d *transport.Dialer, target message.Target, opts Options) (*Conn, error) {
	tc, err := d.Dial(ctx, target.Addr(), target.TLS(), []string{transport.ALPNHTTP1})
	if err != nil {
		return nil, err
	}
	return New(tc, target, opts), nil
}

// tapReader reports bytes read from the transport.
type tapReader struct {
	r     io.Reader
	hooks conn.Hooks
}

func (t tapReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		t.hooks.Read(frame.FamilyH1, 0, p[:n])
	}
	return n, err
}

// Family implements conn.Conn.
func (c *Conn) Family() frame.Family { return frame.FamilyH1 }

// CreateStream implements conn.Conn. HTTP/1.1 has a single implicit
// stream, 0.
func (c *Conn) CreateStream(ctx context.Context) (uint64, error) { return 0, nil }

// Cork buffers writes until Flush.
func (c *Conn) Cork() { c.w.Cork() }

// Flush implements conn.Conn.
func (c *Conn) Flush(ctx context.Context) error { return c.w.Flush(ctx) }

// Send implements conn.Conn. The frames of seq are serialized into one
// transport write. Each request line queues its method so the matching
// response is read with the right body rules.
func (c *Conn) Send(ctx context.Context, seq frame.Sequence) error {
	var buf []byte
	for f := range seq {
		start := len(buf)
		buf = f.Append(buf)
		c.opts.Hooks.Sent(frame.FamilyH1, f, len(buf)-start)
		if hf, ok := f.(*Frame); ok && hf.Type == RequestLine {
			c.mu.Lock()
			c.methods = append(c.methods, hf.Method)
			c.mu.Unlock()
		}
	}
	if len(buf) == 0 {
		return nil
	}
	return c.w.Write(ctx, buf)
}

// SendRaw writes b verbatim. The caller reads the response with a known
// method through ReadResponseTo, or with GET semantics.
func (c *Conn) SendRaw(ctx context.Context, b []byte) error {
	return c.w.Write(ctx, b)
}

// SendPaced implements conn.Conn.
func (c *Conn) SendPaced(ctx context.Context, steps []conn.Step) (timing.Report, error) {
	r, err := conn.SendPaced(ctx, c, steps)
	c.opts.Hooks.Paced(frame.FamilyH1, r)
	return r, err
}

// SendRequest implements conn.Conn.
func (c *Conn) SendRequest(ctx context.Context, req *message.Request) (uint64, error) {
	seq, err := Build(req, c.opts.Build)
	if err != nil {
		return 0, err
	}
	return 0, c.Send(ctx, seq)
}

// ReadResponse implements conn.Conn.
func (c *Conn) ReadResponse(ctx context.Context, id uint64) (*message.Response, error) {
	return c.ReadResponseWithTimeouts(ctx, id, c.opts.Timeouts, nil)
}

// ReadResponseWithTimeouts implements conn.Conn. The response is matched
// to the oldest request sent and not yet answered.
func (c *Conn) ReadResponseWithTimeouts(ctx context.Context, id uint64, t timing.Timeouts, h conn.Handler) (*message.Response, error) {
	c.mu.Lock()
	method := "GET"
	if len(c.methods) > 0 {
		method = c.methods[0]
		c.methods = c.methods[1:]
	}
	c.mu.Unlock()
	return c.ReadResponseTo(ctx, method, t, h)
}

// ReadResponseTo reads a response to a request with the given method.
func (c *Conn) ReadResponseTo(ctx context.Context, method string, t timing.Timeouts, h conn.Handler) (*message.Response, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	c.scanner.Begin(method)
	return conn.Assemble(ctx, frame.FamilyH1, 0, c.next, t, h)
}

// next reads one frame under ctx and converts it to an event.
func (c *Conn) next(ctx context.Context) (conn.Event, error) {
	if dl, ok := ctx.Deadline(); ok {
		c.stream.SetReadDeadline(dl)
	} else {
		c.stream.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		c.stream.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	s := c.scanner
	f, err := s.Next()
	if err != nil {
		if errors.Is(err, io.EOF) && s.Done() {
			return conn.Event{EndStream: true}, nil
		}
		if ctx.Err() != nil {
			return conn.Event{}, rerrors.FromContext(ctx.Err())
		}
		if rerrors.IsDeadline(err) {
			return conn.Event{}, rerrors.New("R030").Wrap(err)
		}
		return conn.Event{}, rerrors.FromError(err, "R042")
	}
	c.opts.Hooks.Received(frame.FamilyH1, f, len(f.Append(nil)))

	ev := conn.Event{Frame: f, EndStream: s.Done()}
	switch f.Type {
	case EndHeaders:
		ev.Status = s.Status()
		ev.Headers = s.Headers()
		if ev.Headers == nil {
			ev.Headers = message.Headers{}
		}
	case Body, Chunk:
		ev.Data = f.Data
	case LastChunk:
		if len(f.Trailers) > 0 {
			ev.Headers = f.Trailers
		}
	}
	return ev, nil
}

// Close implements conn.Conn.
func (c *Conn) Close() error {
	return c.stream.Close()
}
