package message

import (
	"net"
	"net/url"
	"strconv"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// Target is a parsed request target.
type Target struct {
	Scheme string
	Host   string
	Port   uint16
	// Path is the path plus query, "/" when empty.
	Path string
	// ExplicitPort is set when the URL spelled out the port.
	ExplicitPort bool
	// URL is the parsed form, used to resolve redirects.
	URL *url.URL
}

// ParseTarget parses an absolute http or https URL.
func ParseTarget(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, rerrors.New("R072").WithDetail(raw).Wrap(err)
	}
	return TargetFromURL(u)
}

// TargetFromURL converts a parsed URL.
func TargetFromURL(u *url.URL) (Target, error) {
	if u.Hostname() == "" {
		return Target{}, rerrors.New("R072").WithDetail("target " + u.String() + " is missing a host")
	}
	t := Target{Scheme: u.Scheme, Host: u.Hostname(), URL: u}
	if p := u.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return Target{}, rerrors.New("R072").WithDetail("invalid port " + p)
		}
		t.Port = uint16(n)
		t.ExplicitPort = true
	} else {
		switch u.Scheme {
		case "http", "ws":
			t.Port = 80
		case "https", "wss":
			t.Port = 443
		default:
			return Target{}, rerrors.New("R072").WithDetail("target " + u.String() + " has no known port")
		}
	}
	t.Path = u.EscapedPath()
	if u.RawQuery != "" {
		t.Path += "?" + u.RawQuery
	}
	if t.Path == "" {
		t.Path = "/"
	}
	return t, nil
}

// TLS reports whether the scheme implies TLS.
func (t Target) TLS() bool {
	return t.Scheme == "https" || t.Scheme == "wss"
}

// Addr returns host:port for dialing.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// Authority returns host, or host:port when the URL named a port.
func (t Target) Authority() string {
	if t.ExplicitPort {
		return t.Addr()
	}
	if ip := net.ParseIP(t.Host); ip != nil && ip.To4() == nil {
		return "[" + t.Host + "]"
	}
	return t.Host
}

// String returns the URL.
func (t Target) String() string {
	if t.URL != nil {
		return t.URL.String()
	}
	return t.Scheme + "://" + t.Authority() + t.Path
}

// Resolve resolves a Location value against the target.
func (t Target) Resolve(location string) (Target, error) {
	base := t.URL
	if base == nil {
		var err error
		base, err = url.Parse(t.String())
		if err != nil {
			return Target{}, rerrors.New("R072").Wrap(err)
		}
	}
	ref, err := url.Parse(location)
	if err != nil {
		return Target{}, rerrors.New("R072").WithDetail(location).Wrap(err)
	}
	return TargetFromURL(base.ResolveReference(ref))
}
