package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/calderareport/crawler/internal/telemetry"
)

// ErrQueueClosed is returned by Dequeue once the producer has closed the
// queue and all buffered items are consumed.
var ErrQueueClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations. A full
// queue blocks its producer, which is the pipeline's backpressure mechanism.
type Queue[T any] struct {
	ch      chan T
	name    string
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	return &Queue[T]{
		ch: make(chan T, capacity),
	}
}

// Enqueue pushes an item into the queue or returns if the context ends.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		q.reportDepth()
		return nil
	}
}

// Dequeue pops the next item, respecting context cancellation. Returns
// ErrQueueClosed once the queue is closed and drained.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return zero, ErrQueueClosed
		}
		q.reportDepth()
		return item, nil
	}
}

// Instrument names the queue for the queue-depth gauge. Unnamed queues are
// not reported.
func (q *Queue[T]) Instrument(name string) *Queue[T] {
	q.name = name
	return q
}

func (q *Queue[T]) reportDepth() {
	if q.name != "" {
		telemetry.SetQueueDepth(q.name, len(q.ch))
	}
}

// Close closes the underlying channel, signaling downstream completion.
func (q *Queue[T]) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
