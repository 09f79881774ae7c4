// Package timing provides phase timeouts and the precise sleeps used by
// paced sends.
package timing

import (
	"context"
	"time"
)

// Timeout is an optional duration. The zero value is disabled. An enabled
// timeout of 0 expires immediately, which lets callers probe the timeout
// path of an operation without waiting.
type Timeout struct {
	d  time.Duration
	ok bool
}

// After returns an enabled timeout of d.
func After(d time.Duration) Timeout {
	if d < 0 {
		d = 0
	}
	return Timeout{d: d, ok: true}
}

// Off returns a disabled timeout.
func Off() Timeout { return Timeout{} }

// Enabled reports whether the timeout applies.
func (t Timeout) Enabled() bool { return t.ok }

// Duration returns the duration and whether it is enabled.
func (t Timeout) Duration() (time.Duration, bool) { return t.d, t.ok }

// Expired reports whether the timeout is enabled and zero.
func (t Timeout) Expired() bool { return t.ok && t.d == 0 }

// Or returns t if enabled, otherwise fallback.
func (t Timeout) Or(fallback Timeout) Timeout {
	if t.ok {
		return t
	}
	return fallback
}

// Context derives a context bounded by the timeout. A disabled timeout
// returns a plain cancelable child.
func (t Timeout) Context(parent context.Context) (context.Context, context.CancelFunc) {
	if !t.ok {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, t.d)
}

// Deadline returns now+d, or the zero time when disabled.
func (t Timeout) Deadline(now time.Time) time.Time {
	if !t.ok {
		return time.Time{}
	}
	return now.Add(t.d)
}

// String returns the duration or "off".
func (t Timeout) String() string {
	if !t.ok {
		return "off"
	}
	return t.d.String()
}

// MarshalText implements encoding.TextMarshaler.
func (t Timeout) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts "off", "" or a Go duration.
func (t *Timeout) UnmarshalText(b []byte) error {
	t2, err := ParseTimeout(string(b))
	if err != nil {
		return err
	}
	*t = t2
	return nil
}

// ParseTimeout parses "off", "" or a Go duration string.
func ParseTimeout(s string) (Timeout, error) {
	switch s {
	case "", "off", "none":
		return Timeout{}, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return Timeout{}, err
	}
	return After(d), nil
}

// Timeouts holds the per-phase limits of a request. Connect bounds dialing
// and handshakes, FirstByte bounds the wait for the first frame of a
// response, Idle bounds the gap between frames, Write bounds each transport
// write and Total bounds the whole exchange.
type Timeouts struct {
	Connect   Timeout `json:"connect"`
	FirstByte Timeout `json:"firstByte"`
	Idle      Timeout `json:"idle"`
	Write     Timeout `json:"write"`
	Total     Timeout `json:"total"`
}

// DefaultTimeouts returns connect 10s, idle 30s and write 30s.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect: After(10 * time.Second),
		Idle:    After(30 * time.Second),
		Write:   After(30 * time.Second),
	}
}

// Merge fills disabled phases of t from base.
func (t Timeouts) Merge(base Timeouts) Timeouts {
	return Timeouts{
		Connect:   t.Connect.Or(base.Connect),
		FirstByte: t.FirstByte.Or(base.FirstByte),
		Idle:      t.Idle.Or(base.Idle),
		Write:     t.Write.Or(base.Write),
		Total:     t.Total.Or(base.Total),
	}
}
