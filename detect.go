package rawhttp

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/h1"
	"github.com/rawproto/rawhttp/pkg/h2"
	"github.com/rawproto/rawhttp/pkg/h3"
	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/timing"
	"github.com/rawproto/rawhttp/pkg/transport"
)

// DefaultProbeTimeout bounds each detection probe phase that the client's
// timeouts leave disabled.
const DefaultProbeTimeout = 5 * time.Second

// AltSvc is one alternative service from an Alt-Svc header.
type AltSvc struct {
	Protocol string
	// Host is empty when the alternative keeps the origin host.
	Host   string
	Port   uint16
	MaxAge time.Duration
}

// Detection reports which protocols a target answered with.
type Detection struct {
	H1 bool
	H2 bool
	H3 bool
	// ALPN is the protocol the server selected when offered h2 and
	// http/1.1.
	ALPN   string
	AltSvc []AltSvc
	// Preferred is the newest protocol that worked.
	Preferred frame.Family
	// Errors holds the probe failures by protocol name.
	Errors map[string]error
}

func (d *Detection) fail(proto string, err error) {
	if d.Errors == nil {
		d.Errors = make(map[string]error)
	}
	d.Errors[proto] = err
}

// Detect probes target. Over TLS it offers h2 and http/1.1 and records
// the ALPN result; over cleartext it tries HTTP/2 prior knowledge. It then
// sends a GET to read Alt-Svc and, when h3 is advertised, dials HTTP/3.
// An error is returned only when no protocol answered.
func (c *Client) Detect(ctx context.Context, target message.Target) (*Detection, error) {
	t := c.timeouts
	t.Connect = t.Connect.Or(timing.After(DefaultProbeTimeout))
	t.FirstByte = t.FirstByte.Or(timing.After(DefaultProbeTimeout))
	t.Total = t.Total.Or(timing.After(3 * DefaultProbeTimeout))
	ctx, cancel := t.Total.Context(ctx)
	defer cancel()

	det := &Detection{}
	req := &message.Request{Method: "GET", Target: target, Timeouts: t}
	var resp *message.Response
	if target.TLS() {
		resp = c.probeALPN(ctx, det, req, t)
	} else {
		resp = c.probeCleartext(ctx, det, req, t)
	}
	if resp != nil {
		for _, v := range resp.Headers.Values("alt-svc") {
			det.AltSvc = append(det.AltSvc, ParseAltSvc(v)...)
		}
	}
	if alt, ok := h3Alternative(det.AltSvc); ok {
		c.probeH3(ctx, det, target, alt, t)
	}

	switch {
	case det.H3:
		det.Preferred = frame.FamilyH3
	case det.H2:
		det.Preferred = frame.FamilyH2
	case det.H1:
		det.Preferred = frame.FamilyH1
	default:
		for _, err := range det.Errors {
			return det, err
		}
	}
	c.logger.Debug("detected protocols", "target", target.String(), "h1", det.H1, "h2", det.H2, "h3", det.H3, "alpn", det.ALPN)
	return det, nil
}

// probeALPN negotiates once and runs a GET over whichever protocol the
// server picked.
func (c *Client) probeALPN(ctx context.Context, det *Detection, req *message.Request, t timing.Timeouts) *message.Response {
	tc, err := c.dialer(t).Dial(ctx, req.Target.Addr(), true, []string{transport.ALPNHTTP2, transport.ALPNHTTP1})
	if err != nil {
		det.fail("tls", err)
		return nil
	}
	det.ALPN = tc.Protocol
	if tc.Protocol == transport.ALPNHTTP2 {
		det.H2 = true
		hc, err := h2.New(ctx, tc, req.Target, c.h2Options(t))
		if err != nil {
			det.fail("h2", err)
			return nil
		}
		defer hc.Close()
		resp, err := exchange(ctx, hc, req, t)
		if err != nil {
			det.fail("h2", err)
		}
		return resp
	}
	hc := h1.New(tc, req.Target, c.h1Options(t))
	defer hc.Close()
	resp, err := exchange(ctx, hc, req, t)
	if err != nil {
		det.fail("h1", err)
		return nil
	}
	det.H1 = true
	return resp
}

// probeCleartext tries HTTP/2 prior knowledge, then HTTP/1.1.
func (c *Client) probeCleartext(ctx context.Context, det *Detection, req *message.Request, t timing.Timeouts) *message.Response {
	opts := c.h2Options(t)
	opts.WaitSettings = true
	if hc, err := h2.Dial(ctx, c.dialer(t), req.Target, opts); err != nil {
		det.fail("h2", err)
	} else {
		det.H2 = true
		hc.Close()
	}

	hc, err := h1.Dial(ctx, c.dialer(t), req.Target, c.h1Options(t))
	if err != nil {
		det.fail("h1", err)
		return nil
	}
	defer hc.Close()
	resp, err := exchange(ctx, hc, req, t)
	if err != nil {
		det.fail("h1", err)
		return nil
	}
	det.H1 = true
	return resp
}

func (c *Client) probeH3(ctx context.Context, det *Detection, target message.Target, alt AltSvc, t timing.Timeouts) {
	qt := target
	if alt.Host != "" {
		qt.Host = alt.Host
	}
	if alt.Port != 0 {
		qt.Port = alt.Port
	}
	hc, err := h3.Dial(ctx, c.dialer(t), qt, c.h3Options(t))
	if err != nil {
		det.fail("h3", err)
		return
	}
	det.H3 = true
	hc.Close()
}

func h3Alternative(alts []AltSvc) (AltSvc, bool) {
	for _, a := range alts {
		if a.Protocol == "h3" || strings.HasPrefix(a.Protocol, "h3-") {
			return a, true
		}
	}
	return AltSvc{}, false
}

// ParseAltSvc parses an Alt-Svc header value (RFC 7838). "clear" and
// entries without a valid authority yield nothing.
func ParseAltSvc(v string) []AltSvc {
	var out []AltSvc
	for _, entry := range splitQuoted(v, ',') {
		params := splitQuoted(entry, ';')
		proto, authority, ok := strings.Cut(strings.TrimSpace(params[0]), "=")
		if !ok {
			continue
		}
		authority = strings.Trim(strings.TrimSpace(authority), `"`)
		host, port, err := net.SplitHostPort(authority)
		if err != nil {
			continue
		}
		p, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			continue
		}
		alt := AltSvc{Protocol: strings.TrimSpace(proto), Host: host, Port: uint16(p), MaxAge: 24 * time.Hour}
		for _, param := range params[1:] {
			k, val, _ := strings.Cut(strings.TrimSpace(param), "=")
			if strings.EqualFold(k, "ma") {
				if secs, err := strconv.ParseInt(strings.Trim(val, `"`), 10, 64); err == nil {
					alt.MaxAge = time.Duration(secs) * time.Second
				}
			}
		}
		out = append(out, alt)
	}
	return out
}

// splitQuoted splits s at sep outside double quotes.
func splitQuoted(s string, sep byte) []string {
	var parts []string
	quoted := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case sep:
			if !quoted {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
