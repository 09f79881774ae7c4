package rawhttp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/rawproto/rawhttp/pkg/conn"
	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/h1"
	"github.com/rawproto/rawhttp/pkg/h2"
	"github.com/rawproto/rawhttp/pkg/h3"
	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/telemetry"
	"github.com/rawproto/rawhttp/pkg/timing"
	"github.com/rawproto/rawhttp/pkg/transport"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// Client opens connections and runs requests. A Client holds no
// connections of its own and is safe for concurrent use.
type Client struct {
	dial         transport.Options
	timeouts     timing.Timeouts
	protocol     frame.Family
	alpn         []string
	maxRedirects int
	h1           h1.Options
	h2           h2.Options
	h3           h3.Options

	logger  *slog.Logger
	metrics *telemetry.Metrics
	tap     conn.Tap
	debug   *telemetry.Debug
	tracer  trace.Tracer

	connSeq atomic.Uint64
}

// Option configures a Client.
type Option func(*Client)

// WithDialOptions sets the transport options. Their Timeout is replaced
// by the connect phase of the request timeouts.
func WithDialOptions(opts transport.Options) Option {
	return func(c *Client) { c.dial = opts }
}

// WithTimeouts sets the phase timeouts used where a request leaves a phase
// disabled.
func WithTimeouts(t timing.Timeouts) Option {
	return func(c *Client) { c.timeouts = t }
}

// WithProtocol forces a protocol for requests that do not pick one.
func WithProtocol(fam frame.Family) Option {
	return func(c *Client) { c.protocol = fam }
}

// WithALPN sets the protocols offered when the client negotiates. The
// default is h2 then http/1.1.
func WithALPN(protos ...string) Option {
	return func(c *Client) { c.alpn = protos }
}

// WithMaxRedirects sets the redirect limit for requests that leave
// MaxRedirects at zero.
func WithMaxRedirects(n int) Option {
	return func(c *Client) { c.maxRedirects = n }
}

// WithH1 sets the HTTP/1.1 connection options.
func WithH1(opts h1.Options) Option {
	return func(c *Client) { c.h1 = opts }
}

// WithH2 sets the HTTP/2 connection options.
func WithH2(opts h2.Options) Option {
	return func(c *Client) { c.h2 = opts }
}

// WithH3 sets the HTTP/3 connection options.
func WithH3(opts h3.Options) Option {
	return func(c *Client) { c.h3 = opts }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics records frames, requests and connections in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTap passes every transport read and write to tap.
func WithTap(tap conn.Tap) Option {
	return func(c *Client) { c.tap = tap }
}

// WithDebug registers multiplexed connections with d while they are open.
func WithDebug(d *telemetry.Debug) Option {
	return func(c *Client) { c.debug = d }
}

// WithTracer sets the tracer for request spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// New returns a client with the default timeouts, negotiated protocol
// selection and a limit of message.DefaultMaxRedirects.
func New(opts ...Option) *Client {
	c := &Client{
		timeouts:     timing.DefaultTimeouts(),
		alpn:         []string{transport.ALPNHTTP2, transport.ALPNHTTP1},
		maxRedirects: message.DefaultMaxRedirects,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.tracer == nil {
		c.tracer = telemetry.Tracer("")
	}
	c.logger = c.logger.With("component", "client")
	return c
}

// Conn is a connection opened by a Client. Close releases its metrics and
// debug registrations.
type Conn struct {
	conn.Conn
	once    sync.Once
	release func()
}

// Unwrap returns the protocol connection: an *h1.Conn, *h2.Conn or
// *h3.Conn.
func (c *Conn) Unwrap() conn.Conn { return c.Conn }

// Close closes the connection.
func (c *Conn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.release)
	return err
}

// Connect opens a connection to target. FamilyUnknown negotiates HTTP/2
// or HTTP/1.1 by ALPN over TLS and uses HTTP/1.1 over cleartext.
func (c *Client) Connect(ctx context.Context, target message.Target, fam frame.Family) (*Conn, error) {
	return c.connect(ctx, target, fam, c.timeouts)
}

func (c *Client) hooks() conn.Hooks {
	h := conn.Hooks{Tap: c.tap}
	if c.metrics != nil {
		h.Observer = c.metrics
	}
	return h
}

func (c *Client) dialer(t timing.Timeouts) *transport.Dialer {
	opts := c.dial
	opts.Timeout = t.Connect
	if opts.Logger == nil {
		opts.Logger = c.logger
	}
	return transport.NewDialer(opts)
}

func (c *Client) h1Options(t timing.Timeouts) h1.Options {
	opts := c.h1
	opts.Timeouts = t
	opts.Hooks = c.hooks()
	opts.Logger = c.logger
	return opts
}

func (c *Client) h2Options(t timing.Timeouts) h2.Options {
	opts := c.h2
	opts.Timeouts = t
	opts.Hooks = c.hooks()
	opts.Logger = c.logger
	if opts.UserAgent == "" {
		opts.UserAgent = message.DefaultUserAgent
	}
	return opts
}

func (c *Client) h3Options(t timing.Timeouts) h3.Options {
	opts := c.h3
	opts.Timeouts = t
	opts.Hooks = c.hooks()
	opts.Logger = c.logger
	if opts.UserAgent == "" {
		opts.UserAgent = message.DefaultUserAgent
	}
	return opts
}

func (c *Client) connect(ctx context.Context, target message.Target, fam frame.Family, t timing.Timeouts) (*Conn, error) {
	if t.Connect.Expired() {
		return nil, rerrors.New("R031").WithDetail("connect timeout is 0 for " + target.Addr())
	}
	d := c.dialer(t)
	var (
		pc  conn.Conn
		err error
	)
	switch fam {
	case frame.FamilyH1:
		pc, err = h1.Dial(ctx, d, target, c.h1Options(t))
	case frame.FamilyH2:
		pc, err = h2.Dial(ctx, d, target, c.h2Options(t))
	case frame.FamilyH3:
		pc, err = h3.Dial(ctx, d, target, c.h3Options(t))
	default:
		pc, err = c.negotiate(ctx, d, target, t)
	}
	if err != nil {
		c.logger.Debug("connect failed", "target", target.String(), "protocol", fam.String(), "error", err)
		return nil, err
	}
	return c.track(target, pc), nil
}

// negotiate dials once and runs whichever protocol ALPN selected.
func (c *Client) negotiate(ctx context.Context, d *transport.Dialer, target message.Target, t timing.Timeouts) (conn.Conn, error) {
	if !target.TLS() {
		return h1.Dial(ctx, d, target, c.h1Options(t))
	}
	tc, err := d.Dial(ctx, target.Addr(), true, c.alpn)
	if err != nil {
		return nil, err
	}
	if tc.Protocol == transport.ALPNHTTP2 {
		return h2.New(ctx, tc, target, c.h2Options(t))
	}
	return h1.New(tc, target, c.h1Options(t)), nil
}

func (c *Client) track(target message.Target, pc conn.Conn) *Conn {
	fam := pc.Family()
	c.metrics.ConnOpened(fam)
	untrack := func() {}
	if lister, ok := pc.(telemetry.StreamLister); ok && c.debug != nil {
		name := fmt.Sprintf("%s#%d", target.Authority(), c.connSeq.Add(1))
		untrack = c.debug.Track(name, lister)
	}
	return &Conn{Conn: pc, release: func() {
		untrack()
		c.metrics.ConnClosed(fam)
	}}
}

// Do sends req on a new connection and returns the response. Redirects
// are followed when req.FollowRedirects is set, each hop on its own
// connection. The request's timeouts override the client's per phase,
// and Total bounds the whole exchange including redirects.
func (c *Client) Do(ctx context.Context, req *message.Request) (*message.Response, error) {
	ctx, span := telemetry.StartRequest(ctx, c.tracer, req)
	resp, err := c.do(ctx, req)
	telemetry.EndRequest(span, resp, err)
	return resp, err
}

func (c *Client) do(ctx context.Context, req *message.Request) (*message.Response, error) {
	t := req.Timeouts.Merge(c.timeouts)
	if t.Total.Expired() {
		return nil, rerrors.New("R030").WithDetail("total timeout is 0")
	}
	ctx, cancel := t.Total.Context(ctx)
	defer cancel()

	if req.MaxRedirects <= 0 {
		r := *req
		r.MaxRedirects = c.maxRedirects
		req = &r
	}
	for hops := 0; ; hops++ {
		resp, err := c.roundTrip(ctx, req, t)
		if err != nil {
			return resp, rerrors.FromContext(err)
		}
		if !req.FollowRedirects {
			return resp, nil
		}
		next, err := message.NextRequest(req, resp)
		if err != nil {
			return resp, err
		}
		if next == nil {
			return resp, nil
		}
		if err := message.CheckRedirects(req, hops+1); err != nil {
			return resp, err
		}
		c.logger.Debug("following redirect", "status", resp.Status, "from", req.Target.String(), "to", next.Target.String())
		req = next
	}
}

func (c *Client) family(req *message.Request) frame.Family {
	if req.Protocol != frame.FamilyUnknown {
		return req.Protocol
	}
	return c.protocol
}

func (c *Client) roundTrip(ctx context.Context, req *message.Request, t timing.Timeouts) (*message.Response, error) {
	start := time.Now()
	fam := c.family(req)
	cn, err := c.connect(ctx, req.Target, fam, t)
	if err != nil {
		c.metrics.RecordRequest(fam, 0, time.Since(start), err)
		return nil, err
	}
	defer cn.Close()

	resp, err := exchange(ctx, cn, req, t)
	status := 0
	if resp != nil {
		status = resp.Status
	}
	c.metrics.RecordRequest(cn.Family(), status, time.Since(start), err)
	return resp, err
}

func exchange(ctx context.Context, cn conn.Conn, req *message.Request, t timing.Timeouts) (*message.Response, error) {
	id, err := cn.SendRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := cn.Flush(ctx); err != nil {
		return nil, err
	}
	return cn.ReadResponseWithTimeouts(ctx, id, t, nil)
}
