package conn

import (
	"context"
	"time"

	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/timing"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// Step is one element of a paced send: frames written after Delay has
// elapsed since the previous step's write completed.
type Step struct {
	Frames frame.Sequence
	Delay  time.Duration
}

// Sender is the part of Conn that SendPaced drives.
type Sender interface {
	Send(ctx context.Context, seq frame.Sequence) error
	Flush(ctx context.Context) error
}

// SendPaced writes steps in order, flushing after each so the delay
// separates transport writes. Jitter is reported, never treated as an
// error.
func SendPaced(ctx context.Context, s Sender, steps []Step) (timing.Report, error) {
	r := timing.Report{Started: time.Now()}
	last := r.Started
	for _, st := range steps {
		if err := timing.SleepUntil(ctx, last.Add(st.Delay)); err != nil {
			return r, rerrors.FromContext(err)
		}
		if err := s.Send(ctx, st.Frames); err != nil {
			return r, err
		}
		if err := s.Flush(ctx); err != nil {
			return r, err
		}
		now := time.Now()
		r.Add(st.Delay, now.Sub(last))
		last = now
	}
	return r, nil
}
