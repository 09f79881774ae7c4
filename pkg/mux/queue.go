package mux

import (
	"context"
	"sync"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// Queue is an unbounded FIFO that a reader goroutine fills and a caller
// drains with a context. Closing it lets the reader deliver a final error
// after the buffered items.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	err    error
	closed bool
	ready  chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{}, 1)}
}

// Push appends v. Pushes after Close are dropped.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.signal()
}

// Close marks the queue finished. err, if non-nil, is returned by Pop once
// the buffered items are drained. Only the first Close counts.
func (q *Queue[T]) Close(err error) {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.err = err
	}
	q.mu.Unlock()
	q.signal()
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pop returns the next item, waiting under ctx. After Close and drain it
// returns the close error, or a closed-connection error.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			more := len(q.items) > 0 || q.closed
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return v, nil
		}
		if q.closed {
			err := q.err
			q.mu.Unlock()
			q.signal()
			if err == nil {
				err = rerrors.New("R042")
			}
			return zero, err
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return zero, rerrors.FromContext(ctx.Err())
		case <-q.ready:
		}
	}
}
