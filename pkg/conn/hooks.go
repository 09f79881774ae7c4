package conn

import (
	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/timing"
)

// Observer receives frame-level events for metrics.
type Observer interface {
	FrameSent(fam frame.Family, f frame.Frame, n int)
	FrameReceived(fam frame.Family, f frame.Frame, n int)
	Paced(fam frame.Family, r timing.Report)
}

// Tap receives raw transport bytes for capture.
type Tap interface {
	Wrote(fam frame.Family, stream uint64, b []byte)
	Read(fam frame.Family, stream uint64, b []byte)
}

// Hooks bundles the optional observers of a connection. The zero value
// does nothing.
type Hooks struct {
	Observer Observer
	Tap      Tap
}

// Sent reports a sent frame.
func (h Hooks) Sent(fam frame.Family, f frame.Frame, n int) {
	if h.Observer != nil {
		h.Observer.FrameSent(fam, f, n)
	}
}

// Received reports a received frame.
func (h Hooks) Received(fam frame.Family, f frame.Frame, n int) {
	if h.Observer != nil {
		h.Observer.FrameReceived(fam, f, n)
	}
}

// Paced reports a paced send.
func (h Hooks) Paced(fam frame.Family, r timing.Report) {
	if h.Observer != nil {
		h.Observer.Paced(fam, r)
	}
}

// Wrote reports bytes handed to the transport.
func (h Hooks) Wrote(fam frame.Family, stream uint64, b []byte) {
	if h.Tap != nil {
		h.Tap.Wrote(fam, stream, b)
	}
}

// Read reports bytes read from the transport.
func (h Hooks) Read(fam frame.Family, stream uint64, b []byte) {
	if h.Tap != nil {
		h.Tap.Read(fam, stream, b)
	}
}
