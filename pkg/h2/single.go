package h2

import (
	"context"

	"github.com/rawproto/rawhttp/pkg/message"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// SinglePacket is a batch of requests whose END_STREAM frames are held
// back and later written together in one transport write, so the server
// sees every request complete at once.
type SinglePacket struct {
	c     *Conn
	ids   []uint64
	lead  []*Frame
	final []*Frame

	primed   bool
	released bool
}

// PrepareSinglePacket allocates a stream per request and encodes its
// frames. For each request the stream-ending frame is withheld: a body
// keeps its last byte back, a bodiless request gets an empty END_STREAM
// DATA frame, and trailers are withheld whole.
func (c *Conn) PrepareSinglePacket(ctx context.Context, reqs ...*message.Request) (*SinglePacket, error) {
	sp := &SinglePacket{c: c}
	for _, req := range reqs {
		id, err := c.CreateStream(ctx)
		if err != nil {
			return nil, err
		}
		frames, err := c.RequestFrames(id, req)
		if err != nil {
			return nil, err
		}
		sp.ids = append(sp.ids, id)
		lead, final := splitFinal(uint32(id), frames)
		sp.lead = append(sp.lead, lead...)
		sp.final = append(sp.final, final...)
	}
	return sp, nil
}

func splitFinal(id uint32, frames []*Frame) (lead, final []*Frame) {
	end := -1
	for i, f := range frames {
		if f.EndStream() {
			end = i
			break
		}
	}
	if end < 0 {
		return frames, []*Frame{Data(id, nil, true)}
	}
	f := frames[end]
	switch {
	case end == 0 && f.Type == TypeHeaders:
		f.Flags &^= FlagEndStream
		return frames, []*Frame{Data(id, nil, true)}
	case f.Type == TypeData && len(f.Payload) > 0:
		lead = frames[:end:end]
		if n := len(f.Payload); n > 1 {
			lead = append(lead, Data(id, f.Payload[:n-1], false))
		}
		return lead, []*Frame{Data(id, f.Payload[len(f.Payload)-1:], true)}
	default:
		return frames[:end], frames[end:]
	}
}

// IDs returns the stream of each request, in order.
func (sp *SinglePacket) IDs() []uint64 { return sp.ids }

// Prime sends everything except the withheld frames.
func (sp *SinglePacket) Prime(ctx context.Context) error {
	if sp.primed {
		return rerrors.New("R071").WithDetail("single packet already primed")
	}
	sp.primed = true
	if err := sp.c.Send(ctx, Seq(sp.lead...)); err != nil {
		return err
	}
	return sp.c.Flush(ctx)
}

// Release writes every withheld frame in a single write.
func (sp *SinglePacket) Release(ctx context.Context) error {
	if !sp.primed || sp.released {
		return rerrors.New("R071").WithDetail("single packet released before prime or twice")
	}
	sp.released = true
	if err := sp.c.Send(ctx, Seq(sp.final...)); err != nil {
		return err
	}
	return sp.c.Flush(ctx)
}
