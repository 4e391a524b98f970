package counting

import (
	"sync"
	"time"
)

// Counters is a point-in-time snapshot of the running totals. Entries
// and exits are monotonically non-decreasing for the process lifetime;
// occupancy is maintained incrementally and clamped at zero because an
// exit can be recorded without a matching prior entry (asymmetric
// door), so it must not be derived as entries minus exits.
type Counters struct {
	Entries   uint64    `json:"entries"`
	Exits     uint64    `json:"exits"`
	Occupancy int64     `json:"occupancy"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Aggregator owns the counters. The crossing worker is the only
// writer; Snapshot is safe for arbitrary concurrent readers.
type Aggregator struct {
	mu       sync.Mutex
	counters Counters
}

// NewAggregator creates a zeroed Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Apply folds one crossing event into the totals.
func (a *Aggregator) Apply(event Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch event.Direction {
	case Entry:
		a.counters.Entries++
		a.counters.Occupancy++
	case Exit:
		a.counters.Exits++
		if a.counters.Occupancy > 0 {
			a.counters.Occupancy--
		}
	}
	a.counters.UpdatedAt = event.Timestamp
}

// Snapshot returns a consistent copy of the totals.
func (a *Aggregator) Snapshot() Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters
}

// Reset zeroes all totals. Administrative, off the hot path.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counters = Counters{UpdatedAt: time.Now()}
}
