package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// QUICStream is a bidirectional QUIC stream. Close ends the send side
// with a FIN.
type QUICStream interface {
	io.Reader
	io.Writer
	io.Closer
	StreamID() uint64
	CancelRead(code uint64)
	CancelWrite(code uint64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// QUICSendStream is a unidirectional stream we opened.
type QUICSendStream interface {
	io.Writer
	io.Closer
	StreamID() uint64
	CancelWrite(code uint64)
	SetWriteDeadline(t time.Time) error
}

// QUICReceiveStream is a unidirectional stream the peer opened.
type QUICReceiveStream interface {
	io.Reader
	StreamID() uint64
	CancelRead(code uint64)
}

// QUICConn is the QUIC connection HTTP/3 runs over.
type QUICConn interface {
	OpenStream(ctx context.Context) (QUICStream, error)
	OpenUniStream(ctx context.Context) (QUICSendStream, error)
	AcceptUniStream(ctx context.Context) (QUICReceiveStream, error)
	SendDatagram(b []byte) error
	ReceiveDatagram(ctx context.Context) ([]byte, error)
	// Protocol is the negotiated ALPN.
	Protocol() string
	CloseWithError(code uint64, reason string) error
}

// DialQUIC opens a QUIC connection offering alpn. Datagrams are enabled
// when datagrams is set.
func (d *Dialer) DialQUIC(ctx context.Context, addr string, alpn []string, datagrams bool) (QUICConn, error) {
	if d.opts.Timeout.Expired() {
		return nil, rerrors.New("R031").WithDetail("connect timeout is 0 for " + addr)
	}
	ctx, cancel := d.opts.Timeout.Context(ctx)
	defer cancel()

	host, _, _ := net.SplitHostPort(addr)
	cfg := &quic.Config{EnableDatagrams: datagrams, KeepAlivePeriod: d.opts.KeepAlive}
	if dl, ok := ctx.Deadline(); ok {
		cfg.HandshakeIdleTimeout = time.Until(dl)
	}
	qc, err := quic.DialAddr(ctx, addr, d.tlsConfig(host, alpn), cfg)
	if err != nil {
		return nil, connectError(ctx, "R005", addr, err)
	}
	d.logger.Debug("quic established", "addr", addr, "alpn", qc.ConnectionState().TLS.NegotiatedProtocol)
	return &quicConn{c: qc}, nil
}

type quicConn struct {
	c quic.Connection
}

func (q *quicConn) OpenStream(ctx context.Context) (QUICStream, error) {
	s, err := q.c.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return quicStream{s}, nil
}

func (q *quicConn) OpenUniStream(ctx context.Context) (QUICSendStream, error) {
	s, err := q.c.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return quicSendStream{s}, nil
}

func (q *quicConn) AcceptUniStream(ctx context.Context) (QUICReceiveStream, error) {
	s, err := q.c.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return quicReceiveStream{s}, nil
}

func (q *quicConn) SendDatagram(b []byte) error { return q.c.SendDatagram(b) }

func (q *quicConn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return q.c.ReceiveDatagram(ctx)
}

func (q *quicConn) Protocol() string {
	return q.c.ConnectionState().TLS.NegotiatedProtocol
}

func (q *quicConn) CloseWithError(code uint64, reason string) error {
	return q.c.CloseWithError(quic.ApplicationErrorCode(code), reason)
}

type quicStream struct{ quic.Stream }

func (s quicStream) StreamID() uint64        { return uint64(s.Stream.StreamID()) }
func (s quicStream) CancelRead(code uint64)  { s.Stream.CancelRead(quic.StreamErrorCode(code)) }
func (s quicStream) CancelWrite(code uint64) { s.Stream.CancelWrite(quic.StreamErrorCode(code)) }

type quicSendStream struct{ quic.SendStream }

func (s quicSendStream) StreamID() uint64        { return uint64(s.SendStream.StreamID()) }
func (s quicSendStream) CancelWrite(code uint64) { s.SendStream.CancelWrite(quic.StreamErrorCode(code)) }

type quicReceiveStream struct{ quic.ReceiveStream }

func (s quicReceiveStream) StreamID() uint64       { return uint64(s.ReceiveStream.StreamID()) }
func (s quicReceiveStream) CancelRead(code uint64) { s.ReceiveStream.CancelRead(quic.StreamErrorCode(code)) }

// StreamResetError reports a stream the peer reset. Transports other than
// quic-go return it from Read.
type StreamResetError struct {
	StreamID uint64
	Code     uint64
}

func (e *StreamResetError) Error() string {
	return fmt.Sprintf("stream %d reset by peer with code 0x%x", e.StreamID, e.Code)
}

// ResetCode extracts the peer's reset code from a stream read error.
func ResetCode(err error) (uint64, bool) {
	var qe *quic.StreamError
	if errors.As(err, &qe) && qe.Remote {
		return uint64(qe.ErrorCode), true
	}
	var re *StreamResetError
	if errors.As(err, &re) {
		return re.Code, true
	}
	return 0, false
}
