package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/rawproto/rawhttp/pkg/timing"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// Options configures a Dialer.
type Options struct {
	// Timeout bounds dialing plus handshakes. An enabled zero fails
	// immediately without dialing.
	Timeout timing.Timeout
	// Insecure skips certificate verification.
	Insecure bool
	// ServerName overrides SNI.
	ServerName string
	// Proxy is an http://, https:// or socks5:// proxy URL.
	Proxy string
	// Tunnel is a ws:// or wss:// relay URL. The target address is passed
	// in the "target" query parameter.
	Tunnel string
	// KeepAlive sets TCP keepalive. Zero uses the net package default.
	KeepAlive time.Duration
	Logger    *slog.Logger
}

// Dialer opens transport streams.
type Dialer struct {
	opts   Options
	logger *slog.Logger
}

// NewDialer returns a dialer for opts.
func NewDialer(opts Options) *Dialer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{opts: opts, logger: logger.With("component", "transport")}
}

// Options returns the dialer's options.
func (d *Dialer) Options() Options { return d.opts }

// Conn is a dialed stream and the protocol negotiated by ALPN.
type Conn struct {
	Stream
	// Protocol is the ALPN result, empty without TLS or agreement.
	Protocol string
	// Remote is the dialed address.
	Remote string
}

// Dial connects to addr. When useTLS is set the stream is wrapped in TLS
// offering alpn.
func (d *Dialer) Dial(ctx context.Context, addr string, useTLS bool, alpn []string) (*Conn, error) {
	if d.opts.Timeout.Expired() {
		return nil, rerrors.New("R031").WithDetail("connect timeout is 0 for " + addr)
	}
	ctx, cancel := d.opts.Timeout.Context(ctx)
	defer cancel()

	raw, err := d.dialRaw(ctx, addr)
	if err != nil {
		return nil, connectError(ctx, "R001", addr, err)
	}
	c := &Conn{Stream: raw, Remote: addr}
	if !useTLS {
		return c, nil
	}
	host, _, _ := net.SplitHostPort(addr)
	cfg := d.tlsConfig(host, alpn)
	tc := tls.Client(asNetConn(raw), cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, connectError(ctx, "R002", addr, err)
	}
	c.Stream = tc
	c.Protocol = tc.ConnectionState().NegotiatedProtocol
	d.logger.Debug("tls established", "addr", addr, "alpn", c.Protocol)
	return c, nil
}

// tlsConfig builds the client config for host, honoring ServerName.
func (d *Dialer) tlsConfig(host string, alpn []string) *tls.Config {
	name := d.opts.ServerName
	if name == "" {
		name = host
	}
	return &tls.Config{
		ServerName:         name,
		InsecureSkipVerify: d.opts.Insecure,
		NextProtos:         alpn,
	}
}

func (d *Dialer) dialRaw(ctx context.Context, addr string) (Stream, error) {
	if d.opts.Tunnel != "" {
		return DialWebSocket(ctx, d.opts.Tunnel, addr)
	}
	nd := &net.Dialer{KeepAlive: d.opts.KeepAlive}
	if d.opts.Proxy == "" {
		return nd.DialContext(ctx, "tcp", addr)
	}
	u, err := url.Parse(d.opts.Proxy)
	if err != nil {
		return nil, rerrors.New("R004").WithDetail(d.opts.Proxy).Wrap(err)
	}
	switch u.Scheme {
	case "socks5", "socks5h":
		pd, err := proxy.FromURL(u, nd)
		if err != nil {
			return nil, rerrors.New("R004").Wrap(err)
		}
		if cd, ok := pd.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, "tcp", addr)
		}
		return pd.Dial("tcp", addr)
	case "http", "https":
		return d.dialConnect(ctx, nd, u, addr)
	default:
		return nil, rerrors.New("R004").WithDetail("unsupported proxy scheme " + u.Scheme)
	}
}

// dialConnect opens a tunnel through an HTTP proxy with CONNECT.
func (d *Dialer) dialConnect(ctx context.Context, nd *net.Dialer, u *url.URL, addr string) (Stream, error) {
	proxyAddr := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		proxyAddr = net.JoinHostPort(u.Hostname(), port)
	}
	pc, err := nd.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, err
	}
	var c net.Conn = pc
	if u.Scheme == "https" {
		tc := tls.Client(pc, &tls.Config{ServerName: u.Hostname(), InsecureSkipVerify: d.opts.Insecure})
		if err := tc.HandshakeContext(ctx); err != nil {
			pc.Close()
			return nil, err
		}
		c = tc
	}
	if dl, ok := ctx.Deadline(); ok {
		c.SetDeadline(dl)
		defer c.SetDeadline(time.Time{})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n", addr, addr)
	if u.User != nil {
		pass, _ := u.User.Password()
		cred := base64.StdEncoding.EncodeToString([]byte(u.User.Username() + ":" + pass))
		fmt.Fprintf(&b, "Proxy-Authorization: Basic %s\r\n", cred)
	}
	b.WriteString("\r\n")
	if _, err := c.Write([]byte(b.String())); err != nil {
		c.Close()
		return nil, err
	}
	br := bufio.NewReader(c)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	if err != nil {
		c.Close()
		return nil, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.Close()
		return nil, rerrors.New("R004").WithDetail("proxy answered " + resp.Status)
	}
	if br.Buffered() > 0 {
		return &bufferedConn{Conn: c, r: br}, nil
	}
	return c, nil
}

// bufferedConn keeps bytes the proxy sent after its CONNECT response.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

func connectError(ctx context.Context, code, addr string, err error) error {
	if ctx.Err() != nil || rerrors.IsDeadline(err) {
		return rerrors.New("R031").WithDetail("dialing " + addr).Wrap(err)
	}
	if rerrors.KindOf(err) != "" {
		return err
	}
	return rerrors.New(code).WithDetail(addr).Wrap(err)
}

// asNetConn adapts a Stream to net.Conn for crypto/tls.
func asNetConn(s Stream) net.Conn {
	if c, ok := s.(net.Conn); ok {
		return c
	}
	return streamConn{s}
}

type streamConn struct{ Stream }

func (streamConn) LocalAddr() net.Addr  { return stubAddr{} }
func (streamConn) RemoteAddr() net.Addr { return stubAddr{} }
func (s streamConn) SetDeadline(t time.Time) error {
	if err := s.SetReadDeadline(t); err != nil {
		return err
	}
	return s.SetWriteDeadline(t)
}

type stubAddr struct{}

func (stubAddr) Network() string { return "stream" }
func (stubAddr) String() string  { return "stream" }
