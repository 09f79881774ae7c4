package timing

import (
	"fmt"
	"strings"
	"time"
)

// Gap is one measured delay between two paced writes.
type Gap struct {
	Index     int
	Requested time.Duration
	Actual    time.Duration
}

// Jitter returns Actual-Requested. Positive values mean late.
func (g Gap) Jitter() time.Duration {
	return g.Actual - g.Requested
}

// Report lists the gaps of a paced send. Jitter is reported, never an
// error.
type Report struct {
	Started time.Time
	Gaps    []Gap
}

// Add records a gap.
func (r *Report) Add(requested, actual time.Duration) {
	r.Gaps = append(r.Gaps, Gap{Index: len(r.Gaps), Requested: requested, Actual: actual})
}

// MaxJitter returns the largest absolute jitter.
func (r Report) MaxJitter() time.Duration {
	var max time.Duration
	for _, g := range r.Gaps {
		j := g.Jitter()
		if j < 0 {
			j = -j
		}
		if j > max {
			max = j
		}
	}
	return max
}

// Total returns the sum of actual gaps.
func (r Report) Total() time.Duration {
	var sum time.Duration
	for _, g := range r.Gaps {
		sum += g.Actual
	}
	return sum
}

// String renders one line per gap.
func (r Report) String() string {
	var b strings.Builder
	for _, g := range r.Gaps {
		fmt.Fprintf(&b, "step %d: requested %v actual %v jitter %v\n",
			g.Index, g.Requested, g.Actual.Round(time.Microsecond), g.Jitter().Round(time.Microsecond))
	}
	fmt.Fprintf(&b, "max jitter %v\n", r.MaxJitter().Round(time.Microsecond))
	return b.String()
}
