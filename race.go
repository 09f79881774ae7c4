package rawhttp

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rawproto/rawhttp/pkg/conn"
	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/h1"
	"github.com/rawproto/rawhttp/pkg/h2"
	"github.com/rawproto/rawhttp/pkg/h3"
	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/race"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// RaceMode selects how Race synchronizes its requests.
type RaceMode int

const (
	// RaceLastByte opens one connection per request and withholds the
	// final bytes of each until all are primed.
	RaceLastByte RaceMode = iota
	// RaceSinglePacket opens one HTTP/2 connection and writes the final
	// frame of every stream in one transport write.
	RaceSinglePacket
)

// String returns the mode name accepted by ParseRaceMode.
func (m RaceMode) String() string {
	switch m {
	case RaceLastByte:
		return "last-byte"
	case RaceSinglePacket:
		return "single-packet"
	default:
		return "unknown"
	}
}

// ParseRaceMode parses "last-byte" or "single-packet".
func ParseRaceMode(s string) (RaceMode, bool) {
	switch s {
	case "last-byte", "lastbyte":
		return RaceLastByte, true
	case "single-packet", "singlepacket":
		return RaceSinglePacket, true
	}
	return 0, false
}

// RaceResult is the outcome of Race. Responses and Errors are indexed by
// request; a request has a response or an error.
type RaceResult struct {
	race.Result
	Responses []*message.Response
	Errors    []error
}

// pending is a sent request waiting for its response.
type pending struct {
	c  conn.Conn
	id uint64
}

// Race sends n copies of req synchronized by mode. Connection and priming
// failures abort the race before anything is released; response read
// failures are reported per request.
func (c *Client) Race(ctx context.Context, req *message.Request, n int, mode RaceMode) (*RaceResult, error) {
	if n < 1 {
		return nil, rerrors.Newf(rerrors.KindUsage, "race needs at least one request, got %d", n)
	}
	t := req.Timeouts.Merge(c.timeouts)
	ctx, cancel := t.Total.Context(ctx)
	defer cancel()

	var (
		gates   []race.Gate
		waits   []pending
		closers []*Conn
		err     error
	)
	defer func() {
		for _, cn := range closers {
			cn.Close()
		}
	}()

	switch mode {
	case RaceSinglePacket:
		gates, waits, closers, err = c.singlePacket(ctx, req, n)
	case RaceLastByte:
		gates, waits, closers, err = c.lastByte(ctx, req, n)
	default:
		err = rerrors.New("R071").WithDetail("unknown race mode " + mode.String())
	}
	if err != nil {
		return nil, rerrors.FromContext(err)
	}

	opts := race.Options{Tracer: c.tracer, Logger: c.logger}
	if c.metrics != nil {
		opts.Recorder = c.metrics
	}
	start := time.Now()
	res, err := race.Sync(ctx, gates, opts)
	out := &RaceResult{Result: res}
	if err != nil && len(res.Started) == 0 {
		return out, err
	}

	out.Responses = make([]*message.Response, len(waits))
	out.Errors = make([]error, len(waits))
	var wg sync.WaitGroup
	for i, w := range waits {
		gi := 0
		if len(gates) == len(waits) {
			gi = i
		}
		if rerr := res.Errors[gi]; rerr != nil {
			out.Errors[i] = rerr
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := w.c.ReadResponseWithTimeouts(ctx, w.id, t, nil)
			out.Responses[i], out.Errors[i] = resp, rerrors.FromContext(err)
			status := 0
			if resp != nil {
				status = resp.Status
			}
			c.metrics.RecordRequest(w.c.Family(), status, time.Since(start), err)
		}()
	}
	wg.Wait()
	c.logger.Debug("race finished", "mode", mode.String(), "requests", n, "spread", res.Spread())
	return out, err
}

func (c *Client) singlePacket(ctx context.Context, req *message.Request, n int) ([]race.Gate, []pending, []*Conn, error) {
	fam := c.family(req)
	if fam == frame.FamilyUnknown {
		fam = frame.FamilyH2
	}
	if fam != frame.FamilyH2 {
		return nil, nil, nil, rerrors.New("R071").WithDetail("single-packet races need HTTP/2, not " + fam.String())
	}
	cn, err := c.Connect(ctx, req.Target, fam)
	if err != nil {
		return nil, nil, nil, err
	}
	hc := cn.Unwrap().(*h2.Conn)
	reqs := make([]*message.Request, n)
	for i := range reqs {
		reqs[i] = req
	}
	sp, err := hc.PrepareSinglePacket(ctx, reqs...)
	if err != nil {
		return nil, nil, []*Conn{cn}, err
	}
	waits := make([]pending, 0, n)
	for _, id := range sp.IDs() {
		waits = append(waits, pending{c: hc, id: id})
	}
	return []race.Gate{sp}, waits, []*Conn{cn}, nil
}

func (c *Client) lastByte(ctx context.Context, req *message.Request, n int) ([]race.Gate, []pending, []*Conn, error) {
	fam := c.family(req)
	conns := make([]*Conn, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := range conns {
		g.Go(func() error {
			cn, err := c.Connect(gctx, req.Target, fam)
			conns[i] = cn
			return err
		})
	}
	err := g.Wait()
	closers := make([]*Conn, 0, n)
	for _, cn := range conns {
		if cn != nil {
			closers = append(closers, cn)
		}
	}
	if err != nil {
		return nil, nil, closers, err
	}

	gates := make([]race.Gate, n)
	waits := make([]pending, n)
	for i, cn := range conns {
		gate, id, err := c.gate(ctx, cn.Unwrap(), req)
		if err != nil {
			return nil, nil, closers, err
		}
		gates[i] = gate
		waits[i] = pending{c: cn.Unwrap(), id: id}
	}
	return gates, waits, closers, nil
}

// gate builds the last-byte gate for req on pc and returns the stream the
// response will arrive on.
func (c *Client) gate(ctx context.Context, pc conn.Conn, req *message.Request) (race.Gate, uint64, error) {
	switch pc := pc.(type) {
	case *h1.Conn:
		build := c.h1.Build
		if build.UserAgent == "" {
			build.UserAgent = message.DefaultUserAgent
		}
		seq, err := h1.Build(req, build)
		if err != nil {
			return nil, 0, err
		}
		return h1.NewGate(pc, seq, 1), 0, nil
	case *h2.Conn:
		sp, err := pc.PrepareSinglePacket(ctx, req)
		if err != nil {
			return nil, 0, err
		}
		return sp, sp.IDs()[0], nil
	case *h3.Conn:
		g, err := h3.NewGate(ctx, pc, req)
		if err != nil {
			return nil, 0, err
		}
		return g, g.ID(), nil
	}
	return nil, 0, rerrors.New("R071").WithDetail("no race gate for " + pc.Family().String())
}
