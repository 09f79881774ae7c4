// Package conn defines the connection capability shared by the HTTP/1.1,
// HTTP/2 and HTTP/3 implementations, and the pieces they share: the
// response assembly loop, the corking writer and paced sends.
package conn

import (
	"context"
	"errors"

	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/timing"
)

// Conn is a client connection of one protocol family.
//
// A Conn is safe for concurrent use by a reader and a writer, but
// concurrent mutating calls (Send, SendRequest, CreateStream) on one
// connection must be serialized by the caller.
type Conn interface {
	// Family reports the protocol.
	Family() frame.Family
	// CreateStream registers the next stream id. HTTP/1.1 returns 0.
	CreateStream(ctx context.Context) (uint64, error)
	// Send writes every frame of seq in order.
	Send(ctx context.Context, seq frame.Sequence) error
	// SendPaced writes each step after its delay and reports the jitter.
	SendPaced(ctx context.Context, steps []Step) (timing.Report, error)
	// Flush writes any corked bytes.
	Flush(ctx context.Context) error
	// SendRequest translates req to frames on a new stream and sends them.
	SendRequest(ctx context.Context, req *message.Request) (uint64, error)
	// ReadResponse assembles the response on stream id.
	ReadResponse(ctx context.Context, id uint64) (*message.Response, error)
	// ReadResponseWithTimeouts assembles the response under per-phase
	// timeouts, passing every frame to h when h is non-nil.
	ReadResponseWithTimeouts(ctx context.Context, id uint64, t timing.Timeouts, h Handler) (*message.Response, error)
	// Close tears the connection down.
	Close() error
}

// ErrStop ends a read early when returned by a Handler. The partial
// response is returned without error.
var ErrStop = errors.New("conn: stop reading")

// Event is one frame observed on a response stream, with the decoded
// pieces the assembler needs.
type Event struct {
	Frame  frame.Frame
	Stream uint64
	// Headers is the decoded header block for header-bearing frames.
	Headers message.Headers
	// Status is set for HTTP/1.1 status lines.
	Status    int
	Data      []byte
	EndStream bool
	// Err is a stream-level error such as a reset.
	Err error
}

// Handler observes frames as they arrive.
type Handler interface {
	OnFrame(ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ev Event) error

// OnFrame calls f.
func (f HandlerFunc) OnFrame(ev Event) error {
	return f(ev)
}
