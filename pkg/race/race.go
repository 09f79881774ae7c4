// Package race synchronizes the final bytes of many requests so a server
// processes them at nearly the same instant.
//
// Each request is wrapped in a Gate that can send everything but its
// completing bytes (Prime) and later send the rest (Release). Sync primes
// every gate, waits until all release goroutines are parked on a shared
// barrier, then opens the barrier.
package race

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rawproto/rawhttp/pkg/timing"
)

// Gate is a request held back before its last bytes. h1.Gate,
// h2.SinglePacket and h3.Gate implement it.
type Gate interface {
	Prime(ctx context.Context) error
	Release(ctx context.Context) error
}

// Recorder receives the outcome of a synchronized release.
type Recorder interface {
	ReleaseSpread(gates int, spread time.Duration)
}

// Options configures Sync.
type Options struct {
	// Settle is waited after every gate is primed and before the barrier
	// opens, giving servers time to buffer the primed bytes.
	Settle time.Duration
	// Recorder, when set, receives the release spread.
	Recorder Recorder
	// Tracer defaults to otel.Tracer("rawhttp/race").
	Tracer trace.Tracer
	Logger *slog.Logger
}

// Result describes one synchronized release.
type Result struct {
	// Primed is the time taken to prime every gate.
	Primed time.Duration
	// Started and Finished hold each gate's release start and end.
	Started  []time.Time
	Finished []time.Time
	// Errors holds each gate's release error, nil on success.
	Errors []error
}

// Spread is the time between the first release starting and the last
// release finishing.
func (r Result) Spread() time.Duration {
	if len(r.Started) == 0 {
		return 0
	}
	first, last := r.Started[0], r.Finished[0]
	for i := range r.Started {
		if r.Started[i].Before(first) {
			first = r.Started[i]
		}
		if r.Finished[i].After(last) {
			last = r.Finished[i]
		}
	}
	return last.Sub(first)
}

// StartSpread is the time between the first and last release starting,
// the barrier's own precision.
func (r Result) StartSpread() time.Duration {
	if len(r.Started) == 0 {
		return 0
	}
	first, last := r.Started[0], r.Started[0]
	for _, t := range r.Started[1:] {
		if t.Before(first) {
			first = t
		}
		if t.After(last) {
			last = t
		}
	}
	return last.Sub(first)
}

// Failed returns the number of gates whose release failed.
func (r Result) Failed() int {
	n := 0
	for _, err := range r.Errors {
		if err != nil {
			n++
		}
	}
	return n
}

// String summarizes the result on one line.
func (r Result) String() string {
	return fmt.Sprintf("%d gates primed in %v, released within %v (start spread %v), %d failed",
		len(r.Started), r.Primed.Round(time.Microsecond), r.Spread().Round(time.Microsecond),
		r.StartSpread().Round(time.Microsecond), r.Failed())
}

// Sync primes every gate concurrently and then releases them together.
// A priming failure aborts before anything is released. Release failures
// are reported per gate in Result.Errors and the first one is returned.
func Sync(ctx context.Context, gates []Gate, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "race")
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("rawhttp/race")
	}
	ctx, span := tracer.Start(ctx, "race.Sync", trace.WithAttributes(attribute.Int("race.gates", len(gates))))
	defer span.End()

	var res Result
	if len(gates) == 0 {
		return res, nil
	}

	primeStart := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, gate := range gates {
		g.Go(func() error { return gate.Prime(gctx) })
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prime failed")
		return res, err
	}
	res.Primed = time.Since(primeStart)
	logger.Debug("gates primed", "gates", len(gates), "elapsed", res.Primed)

	if err := timing.Sleep(ctx, opts.Settle); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled before release")
		return res, err
	}

	res.Started = make([]time.Time, len(gates))
	res.Finished = make([]time.Time, len(gates))
	res.Errors = make([]error, len(gates))

	var ready sync.WaitGroup
	ready.Add(len(gates))
	barrier := make(chan struct{})
	var rg errgroup.Group
	for i, gate := range gates {
		rg.Go(func() error {
			ready.Done()
			<-barrier
			res.Started[i] = time.Now()
			err := gate.Release(ctx)
			res.Finished[i] = time.Now()
			res.Errors[i] = err
			return err
		})
	}
	ready.Wait()
	close(barrier)
	err := rg.Wait()

	spread := res.Spread()
	span.SetAttributes(
		attribute.Int64("race.spread_us", spread.Microseconds()),
		attribute.Int("race.failed", res.Failed()),
	)
	if opts.Recorder != nil {
		opts.Recorder.ReleaseSpread(len(gates), spread)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "release failed")
		return res, err
	}
	span.SetStatus(codes.Ok, "")
	logger.Debug("gates released", "gates", len(gates), "spread", spread)
	return res, nil
}
