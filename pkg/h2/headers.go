package h2

import (
	"github.com/rawproto/rawhttp/pkg/hpack"
)

// HeaderOptions shapes the frames carrying a header block.
type HeaderOptions struct {
	// EndStream sets END_STREAM on the HEADERS frame.
	EndStream bool
	// FrameSize splits the block into fragments of this size. Zero uses
	// DefaultMaxFrameSize.
	FrameSize int
	// NoEndHeaders leaves END_HEADERS off the last frame, so the caller
	// can follow with frames of its own.
	NoEndHeaders bool
	// Priority adds priority fields to the HEADERS frame.
	Priority *PriorityParam
}

// EncodeHeaders encodes fields with enc and returns a HEADERS frame
// followed by as many CONTINUATION frames as the block needs. The encoder
// state advances even if the frames are never sent.
func EncodeHeaders(enc *hpack.Encoder, stream uint32, fields []hpack.Field, opts HeaderOptions) ([]*Frame, error) {
	block, err := enc.Encode(nil, fields)
	if err != nil {
		return nil, err
	}
	return SplitHeaderBlock(stream, block, opts), nil
}

// SplitHeaderBlock cuts an encoded block into HEADERS and CONTINUATION
// frames.
func SplitHeaderBlock(stream uint32, block []byte, opts HeaderOptions) []*Frame {
	size := opts.FrameSize
	if size <= 0 {
		size = DefaultMaxFrameSize
	}
	first := size
	if opts.Priority != nil && first > 5 {
		first -= 5
	}
	var out []*Frame
	chunk := min(first, len(block))
	last := chunk == len(block)
	if opts.Priority != nil {
		out = append(out, HeadersPriority(stream, block[:chunk], *opts.Priority, opts.EndStream, last && !opts.NoEndHeaders))
	} else {
		out = append(out, Headers(stream, block[:chunk], opts.EndStream, last && !opts.NoEndHeaders))
	}
	for rest := block[chunk:]; len(rest) > 0; {
		n := min(size, len(rest))
		last := n == len(rest)
		out = append(out, Continuation(stream, rest[:n], last && !opts.NoEndHeaders))
		rest = rest[n:]
	}
	return out
}
