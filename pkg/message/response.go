package message

import (
	"fmt"
	"strings"

	"github.com/rawproto/rawhttp/pkg/frame"
)

// Response is the assembled view of a response stream. Frames lists every
// frame observed on the stream in arrival order, including the ones that
// were folded into the other fields.
type Response struct {
	Status   int
	Proto    frame.Family
	Headers  Headers
	Body     []byte
	Trailers Headers
	// Informational holds the header blocks of 1xx responses.
	Informational []Headers
	Frames        []frame.Frame
	// Stream is the stream the response arrived on. Zero for H1.
	Stream uint64
	// Partial is set when a handler stopped the read early.
	Partial bool
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// String renders a status line and headers.
func (r *Response) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d\n", r.Proto, r.Status)
	for _, h := range r.Headers {
		b.WriteString(h.String())
		b.WriteByte('\n')
	}
	return b.String()
}
