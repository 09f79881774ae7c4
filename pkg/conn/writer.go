package conn

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rawproto/rawhttp/pkg/timing"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// DeadlineWriter is a writer with a settable write deadline.
type DeadlineWriter interface {
	io.Writer
	SetWriteDeadline(t time.Time) error
}

// Writer serializes writes to a byte-stream transport. While corked it
// buffers writes until Flush or until AutoFlushBytes accumulate.
type Writer struct {
	mu     sync.Mutex
	w      DeadlineWriter
	buf    []byte
	corked bool

	// AutoFlushBytes flushes a corked buffer once it holds this many
	// bytes. Zero disables it.
	AutoFlushBytes int
	// Timeout bounds each transport write.
	Timeout timing.Timeout
	// OnWrite, when set, sees the bytes the transport accepted.
	OnWrite func(b []byte)
}

// NewWriter wraps w.
func NewWriter(w DeadlineWriter) *Writer {
	return &Writer{w: w}
}

// Cork starts buffering.
func (w *Writer) Cork() {
	w.mu.Lock()
	w.corked = true
	w.mu.Unlock()
}

// Uncork stops buffering and flushes.
func (w *Writer) Uncork(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.corked = false
	return w.flushLocked(ctx)
}

// Buffered returns the number of corked bytes.
func (w *Writer) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}

// Write sends b, or buffers it while corked.
func (w *Writer) Write(ctx context.Context, b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.corked {
		w.buf = append(w.buf, b...)
		if w.AutoFlushBytes > 0 && len(w.buf) >= w.AutoFlushBytes {
			return w.flushLocked(ctx)
		}
		return nil
	}
	return w.writeLocked(ctx, b)
}

// WriteThrough sends b to the transport immediately even while corked.
// Corked bytes stay buffered and are not reordered among themselves.
func (w *Writer) WriteThrough(ctx context.Context, b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeLocked(ctx, b)
}

// Flush writes buffered bytes in a single transport write.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

func (w *Writer) flushLocked(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}
	b := w.buf
	w.buf = nil
	return w.writeLocked(ctx, b)
}

func (w *Writer) writeLocked(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return rerrors.FromContext(err)
	}
	deadline := w.Timeout.Deadline(time.Now())
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	w.w.SetWriteDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		w.w.SetWriteDeadline(time.Unix(1, 0))
	})
	n, err := w.w.Write(b)
	stop()
	if w.OnWrite != nil && n > 0 {
		w.OnWrite(b[:n])
	}
	if err != nil {
		if rerrors.IsDeadline(err) {
			return rerrors.New("R030").WithDetail("write").Wrap(err)
		}
		return rerrors.New("R042").Wrap(err)
	}
	return nil
}
