package pipeline

import "sync"

// Latest is a single-slot holder with last-write-wins semantics.
// Writers overwrite unconditionally; readers always see the most
// recent value. Used where consumers only ever care about the freshest
// item, such as the latest camera frame.
type Latest[T any] struct {
	mu  sync.RWMutex
	v   T
	set bool
}

// Store replaces the held value.
func (l *Latest[T]) Store(v T) {
	l.mu.Lock()
	l.v = v
	l.set = true
	l.mu.Unlock()
}

// Load returns the held value and whether one has been stored.
func (l *Latest[T]) Load() (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.v, l.set
}
