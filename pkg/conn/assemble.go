package conn

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/message"
	"github.com/rawproto/rawhttp/pkg/timing"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// Source returns the next event of a stream, blocking under ctx.
type Source func(ctx context.Context) (Event, error)

// Assemble reads events from next until the stream ends and folds them
// into a Response. Informational header blocks are collected separately,
// the first final header block becomes the response headers and any later
// block becomes trailers.
//
// On a timeout or stream error the response gathered so far is returned
// along with the error, and the stream is left as it was.
func Assemble(ctx context.Context, fam frame.Family, id uint64, next Source, t timing.Timeouts, h Handler) (*message.Response, error) {
	resp := &message.Response{Proto: fam, Stream: id}
	total, cancel := t.Total.Context(ctx)
	defer cancel()

	first := true
	for {
		phase := t.Idle
		code := "R033"
		if first {
			phase = t.FirstByte.Or(t.Idle)
			code = "R032"
		}
		pctx, pcancel := phase.Context(total)
		ev, err := next(pctx)
		// The transport deadline can fire before the context timer.
		expired := pctx.Err() != nil || err != nil && passed(pctx)
		pcancel()
		if err != nil {
			if expired {
				switch {
				case ctx.Err() != nil:
					return resp, rerrors.FromContext(ctx.Err())
				case total.Err() != nil || passed(total):
					return resp, rerrors.New("R030").WithStream(id).WithDetail("total timeout " + t.Total.String())
				default:
					return resp, rerrors.New(code).WithStream(id).WithDetail("after " + phase.String())
				}
			}
			return resp, err
		}
		first = false

		if ev.Frame != nil {
			resp.Frames = append(resp.Frames, ev.Frame)
		}
		if h != nil {
			if err := h.OnFrame(ev); err != nil {
				if errors.Is(err, ErrStop) {
					resp.Partial = true
					return resp, nil
				}
				return resp, err
			}
		}
		if ev.Err != nil {
			return resp, ev.Err
		}
		if ev.Headers != nil || ev.Status != 0 {
			fold(resp, ev)
		}
		if len(ev.Data) > 0 {
			resp.Body = append(resp.Body, ev.Data...)
		}
		if ev.EndStream {
			return resp, nil
		}
	}
}

func passed(ctx context.Context) bool {
	dl, ok := ctx.Deadline()
	return ok && !time.Now().Before(dl)
}

func fold(resp *message.Response, ev Event) {
	status := ev.Status
	if status == 0 {
		if v, ok := ev.Headers.Get(":status"); ok {
			status, _ = strconv.Atoi(v)
		}
	}
	switch {
	case resp.Status == 0 && status >= 100 && status < 200 && status != 101:
		resp.Informational = append(resp.Informational, ev.Headers)
	case resp.Status == 0 && status != 0:
		resp.Status = status
		resp.Headers = ev.Headers.Regular()
	case resp.Status == 0:
		// A header block without a status is kept as headers.
		resp.Headers = append(resp.Headers, ev.Headers...)
	default:
		resp.Trailers = append(resp.Trailers, ev.Headers...)
	}
}
