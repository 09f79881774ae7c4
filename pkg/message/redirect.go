package message

import (
	"strings"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// DefaultMaxRedirects bounds redirect chains.
const DefaultMaxRedirects = 10

// IsRedirect reports whether status is a 3xx that can carry a Location.
func IsRedirect(status int) bool {
	switch status {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

// NextRequest returns the request that follows resp, or nil when resp is
// not a redirect. 303 always becomes GET, and so do 301 and 302 for
// methods other than GET and HEAD. The body, JSON payload and any
// Content-Length or Content-Type are dropped when the method changes.
// Caller pseudo-headers are removed so they are synthesized for the new
// target.
func NextRequest(req *Request, resp *Response) (*Request, error) {
	if !IsRedirect(resp.Status) {
		return nil, nil
	}
	loc, ok := resp.Headers.Get("location")
	if !ok || loc == "" {
		return nil, nil
	}
	target, err := req.Target.Resolve(loc)
	if err != nil {
		return nil, err
	}
	next := *req
	next.Target = target
	next.Params = nil
	next.Headers = req.Headers.Regular()

	method := strings.ToUpper(req.Method)
	switchToGet := resp.Status == 303 && method != "HEAD" ||
		(resp.Status == 301 || resp.Status == 302) && method != "GET" && method != "HEAD"
	if switchToGet {
		next.Method = "GET"
		next.Body = nil
		next.JSON = nil
		next.Trailers = nil
		kept := next.Headers[:0:0]
		for _, h := range next.Headers {
			if strings.EqualFold(h.Name, "content-length") || strings.EqualFold(h.Name, "content-type") ||
				strings.EqualFold(h.Name, "transfer-encoding") {
				continue
			}
			kept = append(kept, h)
		}
		next.Headers = kept
	}
	return &next, nil
}

// CheckRedirects returns R073 once hops exceeds the request's limit.
func CheckRedirects(req *Request, hops int) error {
	max := req.MaxRedirects
	if max <= 0 {
		max = DefaultMaxRedirects
	}
	if hops > max {
		return rerrors.New("R073")
	}
	return nil
}
