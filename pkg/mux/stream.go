package mux

import (
	"sync"
)

// State is a stream lifecycle state.
type State uint8

const (
	Idle State = iota
	Open
	HalfClosedLocal
	HalfClosedRemote
	Closed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Open:
		return "open"
	case HalfClosedLocal:
		return "half-closed(local)"
	case HalfClosedRemote:
		return "half-closed(remote)"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stream is one stream's bookkeeping.
type Stream struct {
	ID uint64

	mu    sync.Mutex
	state State
	// resetCode is the peer's reset code once reset is set.
	resetCode uint64
	reset     bool

	// Send is the stream's send window.
	Send *Window
}

func newStream(id uint64, initialWindow int64) *Stream {
	return &Stream{ID: id, Send: NewWindow(initialWindow)}
}

// State returns the current state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnSend records a frame sent on the stream.
func (s *Stream) OnSend(endStream bool) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Idle {
		s.state = Open
	}
	if endStream {
		switch s.state {
		case Open:
			s.state = HalfClosedLocal
		case HalfClosedRemote:
			s.state = Closed
		}
	}
	return s.state
}

// OnRecv records a frame received on the stream.
func (s *Stream) OnRecv(endStream bool) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Idle {
		s.state = Open
	}
	if endStream {
		switch s.state {
		case Open:
			s.state = HalfClosedRemote
		case HalfClosedLocal:
			s.state = Closed
		}
	}
	return s.state
}

// OnReset closes the stream. Remote resets keep their code.
func (s *Stream) OnReset(remote bool, code uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Closed
	if remote {
		s.reset = true
		s.resetCode = code
	}
}

// Reset reports whether the peer reset the stream and with which code.
func (s *Stream) Reset() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetCode, s.reset
}
