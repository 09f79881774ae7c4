package message

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/timing"
)

// DefaultUserAgent is sent when a request carries no User-Agent.
const DefaultUserAgent = "rawhttp/0.1"

// Param is a query parameter appended to the target path.
type Param struct {
	Key, Value string
}

// Request is a caller-built request. Headers are sent in order and
// verbatim, except that regular header names are lowercased for H2 and H3
// unless RawNames is set.
type Request struct {
	Method   string
	Target   Target
	Headers  Headers
	Body     []byte
	Trailers Headers

	// Params are form-encoded and appended to the target's query.
	Params []Param
	// JSON, when set, is marshaled into Body and adds a JSON Content-Type.
	JSON any
	// Cookies are joined into a single Cookie header unless one exists.
	Cookies []Param

	Timeouts        timing.Timeouts
	FollowRedirects bool
	// MaxRedirects caps redirect hops. Zero means DefaultMaxRedirects.
	MaxRedirects int
	// Protocol forces a family. FamilyUnknown lets the client pick.
	Protocol frame.Family
	// RawNames keeps header name case on H2 and H3.
	RawNames bool
}

// NewRequest parses target and returns a request for method.
func NewRequest(method, target string) (*Request, error) {
	t, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}
	return &Request{Method: method, Target: t}, nil
}

// Path returns the target path with Params appended.
func (r *Request) Path() string {
	p := r.Target.Path
	if len(r.Params) == 0 {
		return p
	}
	v := make([]string, 0, len(r.Params))
	for _, kv := range r.Params {
		v = append(v, url.QueryEscape(kv.Key)+"="+url.QueryEscape(kv.Value))
	}
	q := strings.Join(v, "&")
	if strings.Contains(p, "?") {
		return p + "&" + q
	}
	return p + "?" + q
}

// Payload returns the body, marshaling JSON when Body is empty.
func (r *Request) Payload() ([]byte, error) {
	if len(r.Body) > 0 || r.JSON == nil {
		return r.Body, nil
	}
	return json.Marshal(r.JSON)
}

// EffectiveHeaders returns Headers plus the Content-Type for JSON bodies
// and the Cookie header, each only when the caller did not set one.
func (r *Request) EffectiveHeaders() Headers {
	hs := r.Headers.Clone()
	if r.JSON != nil && !hs.Has("content-type") {
		hs = append(hs, H("content-type", "application/json"))
	}
	if len(r.Cookies) > 0 && !hs.Has("cookie") {
		parts := make([]string, 0, len(r.Cookies))
		for _, c := range r.Cookies {
			parts = append(parts, c.Key+"="+c.Value)
		}
		hs = append(hs, H("cookie", strings.Join(parts, "; ")))
	}
	return hs
}

// PseudoHeaders returns the pseudo-headers for an H2 or H3 request. Caller
// supplied pseudo-headers are kept as given, including duplicates and
// unknown names; only missing ones are synthesized. :method goes first
// when synthesized. CONNECT drops :scheme and :path. OPTIONS sends "*" as
// the path when the target path is "*".
func PseudoHeaders(r *Request) Headers {
	ps := r.Headers.Pseudo()
	has := func(name string) bool {
		for _, h := range ps {
			if h.Name == name {
				return true
			}
		}
		return false
	}
	if !has(":method") {
		ps = append(Headers{H(":method", r.Method)}, ps...)
	}
	authority := r.Target.Authority()
	switch strings.ToUpper(r.Method) {
	case "CONNECT":
		if !has(":authority") {
			ps = append(ps, H(":authority", authority))
		}
		out := ps[:0:0]
		for _, h := range ps {
			if h.Name != ":scheme" && h.Name != ":path" {
				out = append(out, h)
			}
		}
		return out
	case "OPTIONS":
		path := r.Path()
		if r.Target.Path == "*" || r.Target.Path == "/*" {
			path = "*"
		}
		if !has(":path") {
			ps = append(ps, H(":path", path))
		}
		if !has(":authority") && authority != "" {
			ps = append(ps, H(":authority", authority))
		}
		if !has(":scheme") {
			ps = append(ps, H(":scheme", r.Target.Scheme))
		}
	default:
		if !has(":path") {
			ps = append(ps, H(":path", r.Path()))
		}
		if !has(":scheme") {
			ps = append(ps, H(":scheme", r.Target.Scheme))
		}
		if !has(":authority") && authority != "" {
			ps = append(ps, H(":authority", authority))
		}
	}
	return ps
}

// FieldList returns the full H2/H3 header list: pseudo-headers followed by
// the effective regular headers, lowercased unless RawNames is set.
func FieldList(r *Request) Headers {
	out := PseudoHeaders(r)
	regular := r.EffectiveHeaders().Regular()
	if !r.RawNames {
		regular = regular.Lower()
	}
	return append(out, regular...)
}

// EnsureUserAgent appends a User-Agent when none is present. An empty ua
// leaves the list unchanged.
func EnsureUserAgent(hs Headers, ua string) Headers {
	if ua == "" || hs.Has("user-agent") {
		return hs
	}
	return append(hs, H("user-agent", ua))
}
