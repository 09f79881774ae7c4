package mux

import (
	"context"
	"sync"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// FlowMode selects how sends treat exhausted credit.
type FlowMode uint8

const (
	// FlowWait suspends until credit arrives.
	FlowWait FlowMode = iota
	// FlowStrict fails with a flow-control error.
	FlowStrict
	// FlowOff ignores credit and lets windows go negative.
	FlowOff
)

// String returns the mode name.
func (m FlowMode) String() string {
	switch m {
	case FlowWait:
		return "wait"
	case FlowStrict:
		return "strict"
	case FlowOff:
		return "off"
	default:
		return "unknown"
	}
}

// ParseFlowMode parses "wait", "strict" or "off".
func ParseFlowMode(s string) (FlowMode, bool) {
	switch s {
	case "wait", "":
		return FlowWait, true
	case "strict":
		return FlowStrict, true
	case "off":
		return FlowOff, true
	default:
		return FlowWait, false
	}
}

// Window is flow-control send credit. It may go negative when the peer
// shrinks the initial window or when FlowOff overdraws it.
type Window struct {
	mu    sync.Mutex
	avail int64
	// changed is closed and replaced whenever credit is added.
	changed chan struct{}
}

// NewWindow returns a window with n bytes of credit.
func NewWindow(n int64) *Window {
	return &Window{avail: n, changed: make(chan struct{})}
}

// Available returns the current credit.
func (w *Window) Available() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.avail
}

// Add adds credit, which may be negative, and wakes waiters.
func (w *Window) Add(n int64) {
	w.mu.Lock()
	w.avail += n
	ch := w.changed
	w.changed = make(chan struct{})
	w.mu.Unlock()
	close(ch)
}

// Consume takes n bytes of credit according to mode.
func (w *Window) Consume(ctx context.Context, n int64, mode FlowMode) error {
	for {
		w.mu.Lock()
		if mode == FlowOff || w.avail >= n {
			w.avail -= n
			w.mu.Unlock()
			return nil
		}
		avail, ch := w.avail, w.changed
		w.mu.Unlock()
		if mode == FlowStrict {
			return rerrors.Newf(rerrors.KindFlowControl, "send of %d bytes exceeds window of %d", n, avail)
		}
		select {
		case <-ctx.Done():
			return rerrors.FromContext(ctx.Err())
		case <-ch:
		}
	}
}

// Wait blocks until the window holds at least n bytes.
func (w *Window) Wait(ctx context.Context, n int64) error {
	for {
		w.mu.Lock()
		if w.avail >= n {
			w.mu.Unlock()
			return nil
		}
		ch := w.changed
		w.mu.Unlock()
		select {
		case <-ctx.Done():
			return rerrors.FromContext(ctx.Err())
		case <-ch:
		}
	}
}

// ConsumeBoth takes n bytes from a stream window and the connection
// window. Under FlowWait it waits for both before taking either, so a
// blocked stream never strands connection credit.
func ConsumeBoth(ctx context.Context, stream, conn *Window, n int64, mode FlowMode) error {
	if mode != FlowWait {
		if err := stream.Consume(ctx, n, mode); err != nil {
			return err
		}
		if err := conn.Consume(ctx, n, mode); err != nil {
			stream.Add(n)
			return err
		}
		return nil
	}
	for {
		if err := stream.Wait(ctx, n); err != nil {
			return err
		}
		if err := conn.Wait(ctx, n); err != nil {
			return err
		}
		if stream.Consume(ctx, n, FlowStrict) != nil {
			continue
		}
		if conn.Consume(ctx, n, FlowStrict) != nil {
			stream.Add(n)
			continue
		}
		return nil
	}
}
