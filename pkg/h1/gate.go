package h1

import (
	"context"

	"github.com/rawproto/rawhttp/pkg/frame"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// Gate holds back the last bytes of a request so many requests can be
// completed at nearly the same instant.
type Gate struct {
	c        *Conn
	head     []byte
	tail     []byte
	method   string
	primed   bool
	released bool
}

// NewGate serializes seq and withholds its last withhold bytes. A
// withhold below 1 is treated as 1.
func NewGate(c *Conn, seq frame.Sequence, withhold int) *Gate {
	g := &Gate{c: c, method: "GET"}
	var buf []byte
	for f := range seq {
		buf = f.Append(buf)
		if hf, ok := f.(*Frame); ok && hf.Type == RequestLine {
			g.method = hf.Method
		}
	}
	if withhold < 1 {
		withhold = 1
	}
	if withhold > len(buf) {
		withhold = len(buf)
	}
	g.head, g.tail = buf[:len(buf)-withhold], buf[len(buf)-withhold:]
	return g
}

// Prime writes everything but the withheld bytes.
func (g *Gate) Prime(ctx context.Context) error {
	if g.primed {
		return rerrors.New("R071").WithDetail("gate already primed")
	}
	g.primed = true
	if len(g.head) == 0 {
		return nil
	}
	return g.c.SendRaw(ctx, g.head)
}

// Release writes the withheld bytes and records the request method for
// the response read.
func (g *Gate) Release(ctx context.Context) error {
	if !g.primed || g.released {
		return rerrors.New("R071").WithDetail("gate released before prime or twice")
	}
	g.released = true
	g.c.mu.Lock()
	g.c.methods = append(g.c.methods, g.method)
	g.c.mu.Unlock()
	return g.c.SendRaw(ctx, g.tail)
}

// Conn returns the gated connection.
func (g *Gate) Conn() *Conn { return g.c }
