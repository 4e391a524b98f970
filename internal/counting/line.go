// Package counting turns track motion into debounced entry/exit events
// and maintains the running totals. The crossing monitor is the
// mechanism that keeps one physical crossing, which typically spans
// several frames near the boundary, from being counted more than once.
package counting

import (
	"time"

	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/track"
)

// Side is which side of the virtual line a centre falls on.
type Side int

const (
	SideUnknown Side = iota
	SideLeft         // X (or Y) below the line position
	SideRight        // X (or Y) at or above the line position
)

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	default:
		return "unknown"
	}
}

// Direction is the counted crossing direction.
type Direction int

const (
	Entry Direction = iota
	Exit
)

func (d Direction) String() string {
	if d == Entry {
		return "entry"
	}
	return "exit"
}

// Event is one counted crossing.
type Event struct {
	TrackID   int64
	Direction Direction
	Timestamp time.Time
}

// crossState is the per-track debounce state.
type crossState int

const (
	stateWaiting crossState = iota
	stateCounted
)

// trackCross is the crossing state carried per live track. It is
// created lazily on first observation and discarded when the track is
// evicted.
type trackCross struct {
	state    crossState
	lastSide Side
	cooldown int
}

// MonitorConfig configures the crossing monitor.
type MonitorConfig struct {
	LinePosition  float64
	Horizontal    bool // compare Y instead of X
	EntryLeftward bool // true when right→left is the entry direction
	CooldownTicks int
}

// MonitorConfigFromCounter builds a MonitorConfig from the tuning
// config. The direction mapping is deployment configuration: which
// ordered side pair means "entry" depends on where the camera hangs.
func MonitorConfigFromCounter(cfg *config.CounterConfig) MonitorConfig {
	return MonitorConfig{
		LinePosition:  cfg.GetLinePosition(),
		Horizontal:    cfg.GetLineOrientation() == config.OrientationHorizontal,
		EntryLeftward: cfg.GetEntryDirection() == config.EntryRightToLeft,
		CooldownTicks: cfg.GetCooldownTicks(),
	}
}

// Monitor runs the per-track crossing state machine. It is owned by
// the single tracking worker and is not safe for concurrent use.
type Monitor struct {
	config MonitorConfig
	states map[int64]*trackCross
}

// NewMonitor creates a Monitor.
func NewMonitor(config MonitorConfig) *Monitor {
	return &Monitor{
		config: config,
		states: make(map[int64]*trackCross),
	}
}

// side classifies a centre relative to the configured line.
func (m *Monitor) side(center track.Point) Side {
	coord := center.X
	if m.config.Horizontal {
		coord = center.Y
	}
	if coord < m.config.LinePosition {
		return SideLeft
	}
	return SideRight
}

// Observe advances the state machine for one track with its latest
// centre and returns a counted crossing event, or nil.
//
// A crossing is counted only from Waiting with an expired cooldown.
// Once counted the track sits in Counted until it reports the same
// side twice in a row (settled), which arms it for the next genuine
// crossing; oscillation across the boundary while in Counted emits
// nothing.
func (m *Monitor) Observe(trackID int64, center track.Point, now time.Time) *Event {
	st, ok := m.states[trackID]
	if !ok {
		st = &trackCross{state: stateWaiting, lastSide: SideUnknown}
		m.states[trackID] = st
	}

	if st.cooldown > 0 {
		st.cooldown--
	}

	currentSide := m.side(center)
	var event *Event

	switch st.state {
	case stateWaiting:
		if st.lastSide == SideUnknown {
			// First observation establishes the reference side.
			break
		}
		if currentSide != st.lastSide && st.cooldown == 0 {
			event = &Event{
				TrackID:   trackID,
				Direction: m.direction(st.lastSide, currentSide),
				Timestamp: now,
			}
			st.state = stateCounted
			st.cooldown = m.config.CooldownTicks
		}
	case stateCounted:
		if currentSide == st.lastSide {
			// Settled on one side: re-arm for the next crossing.
			st.state = stateWaiting
		}
	}

	st.lastSide = currentSide
	return event
}

// direction maps an ordered side transition to entry or exit according
// to the configured mapping.
func (m *Monitor) direction(from, to Side) Direction {
	leftToRight := from == SideLeft && to == SideRight
	if m.config.EntryLeftward {
		leftToRight = !leftToRight
	}
	if leftToRight {
		return Entry
	}
	return Exit
}

// Sweep discards crossing state for tracks no longer in the active
// set. Called after each tracker update so evicted tracks cannot leak
// state or synthesise events.
func (m *Monitor) Sweep(active map[int64]track.Point) {
	for id := range m.states {
		if _, ok := active[id]; !ok {
			delete(m.states, id)
		}
	}
}

// TrackedStates returns the number of per-track states held.
func (m *Monitor) TrackedStates() int {
	return len(m.states)
}
