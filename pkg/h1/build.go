package h1

import (
	"strconv"
	"strings"

	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/message"
)

// BuildOptions controls the headers added to a request.
type BuildOptions struct {
	// UserAgent is added when the request has none. Empty adds nothing.
	UserAgent string
	// NoHost suppresses the automatic Host header.
	NoHost bool
	// NoContentLength suppresses the automatic Content-Length header.
	NoContentLength bool
	// Chunked forces chunked transfer coding.
	Chunked bool
}

// Build translates a request into frames. Host is added first when
// missing. The body is chunked when trailers are present, when the caller
// set Transfer-Encoding: chunked or when forced; otherwise Content-Length
// is added for a non-empty body unless one was given. Caller headers,
// including conflicting framing headers, are kept verbatim and in order.
func Build(req *message.Request, opts BuildOptions) (frame.Sequence, error) {
	body, err := req.Payload()
	if err != nil {
		return nil, err
	}
	hs := req.EffectiveHeaders().Regular()
	if !opts.NoHost && !hs.Has("host") {
		hs = append(message.Headers{message.H("Host", req.Target.Authority())}, hs...)
	}
	if opts.UserAgent != "" && !hs.Has("user-agent") {
		hs = append(hs, message.H("User-Agent", opts.UserAgent))
	}

	chunked := opts.Chunked || len(req.Trailers) > 0
	declaredChunked := false
	for _, v := range hs.Values("transfer-encoding") {
		if strings.Contains(strings.ToLower(v), "chunked") {
			declaredChunked = true
		}
	}
	chunked = chunked || declaredChunked
	if chunked && !declaredChunked {
		hs = append(hs, message.H("Transfer-Encoding", "chunked"))
	}
	if !chunked && !opts.NoContentLength && !hs.Has("content-length") && needsLength(req.Method, body) {
		hs = append(hs, message.H("Content-Length", strconv.Itoa(len(body))))
	}

	frames := make([]frame.Frame, 0, len(hs)+4)
	frames = append(frames, NewRequestLine(req.Method, req.Path()))
	for _, h := range hs {
		frames = append(frames, NewHeaderFrom(h))
	}
	frames = append(frames, NewEndHeaders())
	switch {
	case chunked:
		if len(body) > 0 {
			frames = append(frames, NewChunk(body))
		}
		frames = append(frames, NewLastChunk(req.Trailers...))
	case len(body) > 0:
		frames = append(frames, NewBody(body))
	}
	return frame.Of(frames...), nil
}

func needsLength(method string, body []byte) bool {
	if len(body) > 0 {
		return true
	}
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}
