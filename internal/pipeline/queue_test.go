package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](1)
	result := make(chan int, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	if err := q.Enqueue(context.Background(), 42); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got != 42 {
			t.Fatalf("expected 42, got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Dequeue(ctx); err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("Dequeue() error = %v, want context.Canceled", err)
	}

	full := NewQueue[int](0)
	if err := full.Enqueue(ctx, 1); err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("Enqueue() error = %v, want context.Canceled", err)
	}
}

func TestQueueCloseDrainsBeforeSignaling(t *testing.T) {
	t.Parallel()

	q := NewQueue[string](2)
	if err := q.Enqueue(context.Background(), "a"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	q.Close()
	q.Close() // idempotent

	got, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if got != "a" {
		t.Fatalf("expected buffered item first, got %q", got)
	}

	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Dequeue() after close error = %v, want ErrQueueClosed", err)
	}
}
