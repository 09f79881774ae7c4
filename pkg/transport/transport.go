// Package transport provides the byte streams and QUIC connections the
// protocol packages run over: TCP with optional TLS and ALPN, HTTP CONNECT
// and SOCKS5 proxies, a WebSocket relay tunnel, and a quic-go adapter.
package transport

import (
	"io"
	"time"
)

// Stream is a bidirectional byte stream with deadlines. net.Conn and
// *tls.Conn satisfy it.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// ALPN protocol ids.
const (
	ALPNHTTP1 = "http/1.1"
	ALPNHTTP2 = "h2"
	ALPNHTTP3 = "h3"
)
