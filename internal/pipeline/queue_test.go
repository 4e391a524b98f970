package pipeline

import (
	"context"
	"testing"
	"time"
)

func TestQueuePushPopOrder(t *testing.T) {
	q := NewQueue[int](4)
	for i := 1; i <= 3; i++ {
		q.Push(i)
	}
	for want := 1; want <= 3; want++ {
		got, ok := q.TryPop()
		if !ok || got != want {
			t.Fatalf("TryPop() = %d,%v want %d,true", got, ok, want)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Error("expected empty queue")
	}
}

func TestQueueLatestWinsEviction(t *testing.T) {
	q := NewQueue[int](3)
	for i := 1; i <= 5; i++ {
		q.Push(i)
	}
	// Oldest two evicted; 3,4,5 remain in order.
	for want := 3; want <= 5; want++ {
		got, ok := q.TryPop()
		if !ok || got != want {
			t.Fatalf("TryPop() = %d,%v want %d,true", got, ok, want)
		}
	}
	if got := q.Drops(); got != 2 {
		t.Errorf("Drops() = %d, want 2", got)
	}
}

func TestQueuePopTimeout(t *testing.T) {
	q := NewQueue[int](1)
	start := time.Now()
	_, ok := q.Pop(context.Background(), 20*time.Millisecond)
	if ok {
		t.Error("expected timed-out Pop to report no item")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Pop returned after %v, expected at least 20ms", elapsed)
	}
}

func TestQueuePopCancellation(t *testing.T) {
	q := NewQueue[int](1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool)
	go func() {
		_, ok := q.Pop(ctx, time.Minute)
		done <- ok
	}()
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Error("cancelled Pop should report no item")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not observe cancellation")
	}
}

func TestQueueDepth(t *testing.T) {
	q := NewQueue[string](8)
	if q.Depth() != 0 {
		t.Errorf("Depth() = %d, want 0", q.Depth())
	}
	q.Push("a")
	q.Push("b")
	if q.Depth() != 2 {
		t.Errorf("Depth() = %d, want 2", q.Depth())
	}
}
