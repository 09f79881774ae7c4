package h3

import (
	"context"

	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/message"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// Gate holds back the end of one request: the last body byte, or the
// trailers, together with the FIN. Prime sends the rest; Release completes
// the request.
type Gate struct {
	c     *Conn
	id    uint64
	lead  []frame.Frame
	final []frame.Frame

	primed   bool
	released bool
}

// NewGate opens a stream for req and encodes its frames, splitting off the
// final DATA byte (or the trailer HEADERS) and the FIN.
func NewGate(ctx context.Context, c *Conn, req *message.Request) (*Gate, error) {
	id, err := c.CreateStream(ctx)
	if err != nil {
		return nil, err
	}
	frames, err := c.RequestFrames(id, req)
	if err != nil {
		return nil, err
	}
	lead, final := splitFinal(id, frames)
	return &Gate{c: c, id: id, lead: lead, final: final}, nil
}

// splitFinal expects frames to end with a Fin, as RequestFrames builds them.
func splitFinal(id uint64, frames []frame.Frame) (lead, final []frame.Frame) {
	end := len(frames) - 1
	fin := frames[end]
	if end == 0 {
		return nil, frames
	}
	last, ok := frames[end-1].(*Frame)
	switch {
	case !ok || end == 1:
		return frames[:end], []frame.Frame{fin}
	case last.Type == TypeData && len(last.Payload) > 1:
		n := len(last.Payload)
		lead = append(frames[:end-1:end-1], Data(id, last.Payload[:n-1]))
		return lead, []frame.Frame{Data(id, last.Payload[n-1:]), fin}
	default:
		return frames[: end-1 : end-1], frames[end-1:]
	}
}

// ID returns the request stream.
func (g *Gate) ID() uint64 { return g.id }

// Conn returns the connection the gate writes to.
func (g *Gate) Conn() *Conn { return g.c }

// Prime flushes the encoder stream and sends everything but the withheld
// frames.
func (g *Gate) Prime(ctx context.Context) error {
	if g.primed {
		return rerrors.New("R071").WithDetail("gate already primed")
	}
	g.primed = true
	if err := g.c.FlushEncoder(ctx); err != nil {
		return err
	}
	return g.c.Send(ctx, frame.Of(g.lead...))
}

// Release sends the withheld frames and the FIN.
func (g *Gate) Release(ctx context.Context) error {
	if !g.primed || g.released {
		return rerrors.New("R071").WithDetail("gate released before prime or twice")
	}
	g.released = true
	return g.c.Send(ctx, frame.Of(g.final...))
}
