package timing

import (
	"context"
	"runtime"
	"time"
)

// spinThreshold is the tail of a sleep that is busy-waited. Timer wakeups
// on most kernels land within this margin.
const spinThreshold = 2 * time.Millisecond

// SleepUntil waits until t with sub-millisecond precision. It sleeps on a
// timer for most of the interval and yields in a loop for the tail. It
// returns the context error if ctx ends first.
func SleepUntil(ctx context.Context, t time.Time) error {
	for {
		remaining := time.Until(t)
		if remaining <= 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if remaining > spinThreshold {
			timer := time.NewTimer(remaining - spinThreshold)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}
		runtime.Gosched()
	}
}

// Sleep waits for d using SleepUntil.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return SleepUntil(ctx, time.Now().Add(d))
}
