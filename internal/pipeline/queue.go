package pipeline

import (
	"context"
	"sync/atomic"
	"time"
)

// Queue is a bounded latest-wins queue. When the queue is full, Push
// evicts the oldest item to admit the new one rather than blocking the
// producer, so backpressure never propagates into the capture path.
// Evictions are counted and surfaced as a metric, never treated as
// errors.
type Queue[T any] struct {
	ch    chan T
	drops atomic.Uint64
}

// NewQueue creates a Queue with the given capacity. Capacity must be at
// least 1.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Push enqueues v, evicting the oldest queued item if the queue is
// full. It never blocks.
func (q *Queue[T]) Push(v T) {
	for {
		select {
		case q.ch <- v:
			return
		default:
		}
		// Full: evict one and retry. The inner default covers the race
		// where a consumer drained the queue between the two selects.
		select {
		case <-q.ch:
			q.drops.Add(1)
		default:
		}
	}
}

// Pop dequeues the oldest item, waiting up to timeout. The boolean is
// false when the timeout expired or ctx was cancelled with nothing
// dequeued; callers use the timed miss to run periodic maintenance.
func (q *Queue[T]) Pop(ctx context.Context, timeout time.Duration) (T, bool) {
	var zero T
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-q.ch:
		return v, true
	case <-timer.C:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}

// TryPop dequeues without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	var zero T
	select {
	case v := <-q.ch:
		return v, true
	default:
		return zero, false
	}
}

// Depth returns the number of queued items.
func (q *Queue[T]) Depth() int {
	return len(q.ch)
}

// Drops returns the number of items evicted by full-queue pushes.
func (q *Queue[T]) Drops() uint64 {
	return q.drops.Load()
}
