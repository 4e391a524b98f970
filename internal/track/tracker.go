// Package track associates per-frame person detections into
// short-lived tracks. A track is a hypothesis that a sequence of
// detections belongs to one physical person moving through the frame.
package track

import (
	"math"
	"sync"
	"time"

	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/detect"
)

// Point is a track centre position in pixel space.
type Point struct {
	X float64
	Y float64
}

// distance returns the Euclidean distance between two points.
func distance(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// TrackerConfig holds configuration parameters for the tracker.
type TrackerConfig struct {
	MaxAssociationDistance float64       // centre distance gate for association (pixels)
	TrackTimeout           time.Duration // idle duration before a track is evicted
	MaxTracks              int           // cap on concurrent tracks
	MaxHistoryLength       int           // bounded centre trail length
}

// TrackerConfigFromCounter builds a TrackerConfig from the loaded
// tuning config.
func TrackerConfigFromCounter(cfg *config.CounterConfig) TrackerConfig {
	return TrackerConfig{
		MaxAssociationDistance: cfg.GetMaxAssociationDistance(),
		TrackTimeout:           cfg.GetTrackTimeout(),
		MaxTracks:              cfg.GetMaxTracks(),
		MaxHistoryLength:       cfg.GetTrackHistoryLength(),
	}
}

// Track is a single tracked person. Fields are mutated only by the
// tracking worker (single-writer invariant); snapshots for rendering
// or metrics go through the Tracker API.
type Track struct {
	// ID is monotonic and never reused for the process lifetime.
	ID int64

	FirstSeenAt time.Time
	LastSeenAt  time.Time
	LastCenter  Point

	// History is the bounded trail of recent centres, oldest first.
	History []Point

	// Hits counts successful associations, used by quality metrics.
	Hits int
}

// Tracker manages the active track set.
type Tracker struct {
	mu     sync.Mutex
	config TrackerConfig
	tracks map[int64]*Track
	nextID int64

	// Lifetime counters for the health snapshot.
	TracksCreated int64
	TracksEvicted int64
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(config TrackerConfig) *Tracker {
	if config.MaxTracks == 0 {
		config.MaxTracks = 32
	}
	if config.MaxHistoryLength == 0 {
		config.MaxHistoryLength = 30
	}
	return &Tracker{
		config: config,
		tracks: make(map[int64]*Track),
		nextID: 1,
	}
}

// Update associates a detection batch with the active track set and
// returns the ids and latest centres of every track still active after
// eviction. The association is greedy and single-pass: detections are
// visited in batch order and each claims its nearest unclaimed track
// within the distance gate. Ties between detections competing for one
// track resolve by batch order; accepted as a simplification for a
// doorway-scale scene.
func (t *Tracker) Update(detections []detect.Detection, now time.Time) map[int64]Point {
	t.mu.Lock()
	defer t.mu.Unlock()

	claimed := make(map[int64]bool, len(detections))
	for _, d := range detections {
		cx, cy := d.Center()
		center := Point{X: cx, Y: cy}

		best := int64(0)
		bestDist := t.config.MaxAssociationDistance
		for id, trk := range t.tracks {
			if claimed[id] {
				continue
			}
			if dist := distance(trk.LastCenter, center); dist < bestDist {
				best = id
				bestDist = dist
			}
		}

		if best == 0 {
			if len(t.tracks) >= t.config.MaxTracks {
				continue
			}
			best = t.allocate(center, now)
		}
		claimed[best] = true
		t.observe(t.tracks[best], center, now)
	}

	// Evict tracks that have gone unseen for longer than the timeout.
	// Eviction discards all track state; no event is synthesised.
	for id, trk := range t.tracks {
		if claimed[id] {
			continue
		}
		if now.Sub(trk.LastSeenAt) > t.config.TrackTimeout {
			delete(t.tracks, id)
			t.TracksEvicted++
		}
	}

	active := make(map[int64]Point, len(t.tracks))
	for id, trk := range t.tracks {
		active[id] = trk.LastCenter
	}
	return active
}

// allocate creates a new track at center with a fresh monotonic id.
func (t *Tracker) allocate(center Point, now time.Time) int64 {
	id := t.nextID
	t.nextID++
	t.tracks[id] = &Track{
		ID:          id,
		FirstSeenAt: now,
		LastSeenAt:  now,
		LastCenter:  center,
	}
	t.TracksCreated++
	return id
}

// observe records a matched detection on trk.
func (t *Tracker) observe(trk *Track, center Point, now time.Time) {
	trk.LastCenter = center
	trk.LastSeenAt = now
	trk.Hits++
	trk.History = append(trk.History, center)
	if len(trk.History) > t.config.MaxHistoryLength {
		trk.History = trk.History[len(trk.History)-t.config.MaxHistoryLength:]
	}
}

// Stats returns the lifetime created and evicted counters.
func (t *Tracker) Stats() (created, evicted int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.TracksCreated, t.TracksEvicted
}

// ActiveCount returns the number of live tracks.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}

// Snapshot returns copies of the active tracks for rendering or
// diagnostics. Histories are copied so callers cannot alias tracker
// state.
func (t *Tracker) Snapshot() []Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Track, 0, len(t.tracks))
	for _, trk := range t.tracks {
		cp := *trk
		cp.History = append([]Point(nil), trk.History...)
		out = append(out, cp)
	}
	return out
}

// Reset clears all tracks. Track ids are not reused: the id counter
// survives the reset.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = make(map[int64]*Track)
}
