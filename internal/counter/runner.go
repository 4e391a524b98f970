// Package counter runs the tracking worker: it drains the detection
// queue, advances the tracker and crossing monitor, and applies
// crossing events to the occupancy counters.
package counter

import (
	"context"
	"sort"
	"time"

	"github.com/banshee-data/occupancy.report/internal/capture"
	"github.com/banshee-data/occupancy.report/internal/counting"
	"github.com/banshee-data/occupancy.report/internal/detect"
	"github.com/banshee-data/occupancy.report/internal/mjpeg"
	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/pipeline"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
	"github.com/banshee-data/occupancy.report/internal/track"
)

// EventSink receives each crossing event together with the counter
// totals as of that event. A slow or failing sink must not stall the
// tracking worker, so sink errors are logged and dropped.
type EventSink interface {
	RecordCrossing(event counting.Event, counters counting.Counters) error
}

// QueueHealth reports depth and lifetime drops for one bounded queue.
type QueueHealth struct {
	Depth int    `json:"depth"`
	Drops uint64 `json:"drops"`
}

// IngestHealth reports the ingestion filter counters.
type IngestHealth struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
}

// TrackHealth reports the tracker's live and lifetime counters.
type TrackHealth struct {
	Active  int   `json:"active"`
	Created int64 `json:"created"`
	Evicted int64 `json:"evicted"`
}

// Health is the full pipeline health snapshot served by the API.
type Health struct {
	Camera         capture.ProcessState `json:"camera"`
	FrameQueue     QueueHealth          `json:"frame_queue"`
	DetectionQueue QueueHealth          `json:"detection_queue"`
	Ingestion      IngestHealth         `json:"ingestion"`
	Tracks         TrackHealth          `json:"tracks"`
	Counters       counting.Counters    `json:"counters"`
	GeneratedAt    time.Time            `json:"generated_at"`
}

// RunnerConfig holds the tracking worker's own knobs; the tracker and
// monitor carry their tuning separately.
type RunnerConfig struct {
	// PollInterval bounds how long a Pop blocks so eviction and
	// shutdown checks still run when the detector goes quiet.
	PollInterval time.Duration
}

// Runner is the single consumer of the detection queue. Tracker and
// monitor state are only ever touched from Run's goroutine.
type Runner struct {
	config     RunnerConfig
	detections *pipeline.Queue[[]detect.Detection]
	tracker    *track.Tracker
	monitor    *counting.Monitor
	counters   *counting.Aggregator
	sink       EventSink
	clock      timeutil.Clock

	// Read-only references for the health snapshot.
	supervisor *capture.Supervisor
	frames     *pipeline.Queue[mjpeg.Frame]
	ingestor   *detect.Ingestor
}

// NewRunner wires the tracking worker. sink may be nil when events are
// not persisted (dev mode without a database).
func NewRunner(
	config RunnerConfig,
	detections *pipeline.Queue[[]detect.Detection],
	tracker *track.Tracker,
	monitor *counting.Monitor,
	counters *counting.Aggregator,
	sink EventSink,
	clock timeutil.Clock,
) *Runner {
	if config.PollInterval == 0 {
		config.PollInterval = 100 * time.Millisecond
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Runner{
		config:     config,
		detections: detections,
		tracker:    tracker,
		monitor:    monitor,
		counters:   counters,
		sink:       sink,
		clock:      clock,
	}
}

// AttachHealthSources registers the capture supervisor, frame queue and
// ingestor so Health can report on the full pipeline. Any of them may
// be nil; the matching section then reads zero.
func (r *Runner) AttachHealthSources(supervisor *capture.Supervisor, frames *pipeline.Queue[mjpeg.Frame], ingestor *detect.Ingestor) {
	r.supervisor = supervisor
	r.frames = frames
	r.ingestor = ingestor
}

// Run consumes detection batches until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	for {
		batch, ok := r.detections.Pop(ctx, r.config.PollInterval)
		if ctx.Err() != nil {
			return nil
		}
		if !ok {
			// Quiet detector: still age out idle tracks so a person
			// who left mid-outage does not linger forever.
			active := r.tracker.Update(nil, r.clock.Now())
			r.monitor.Sweep(active)
			continue
		}
		r.step(batch)
	}
}

// step advances the pipeline by one detection report.
func (r *Runner) step(batch []detect.Detection) {
	now := r.clock.Now()
	active := r.tracker.Update(batch, now)

	// Observe tracks in id order so events within one report come out
	// deterministically.
	ids := make([]int64, 0, len(active))
	for id := range active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		event := r.monitor.Observe(id, active[id], now)
		if event == nil {
			continue
		}
		r.counters.Apply(*event)
		totals := r.counters.Snapshot()
		monitoring.Logf("crossing: track %d %s (entries=%d exits=%d occupancy=%d)",
			event.TrackID, event.Direction, totals.Entries, totals.Exits, totals.Occupancy)
		if r.sink != nil {
			if err := r.sink.RecordCrossing(*event, totals); err != nil {
				monitoring.Logf("event sink error: %v", err)
			}
		}
	}

	r.monitor.Sweep(active)
}

// Health assembles the pipeline health snapshot.
func (r *Runner) Health() Health {
	h := Health{
		Counters:    r.counters.Snapshot(),
		GeneratedAt: r.clock.Now(),
	}
	if r.supervisor != nil {
		h.Camera = r.supervisor.Status()
	}
	if r.frames != nil {
		h.FrameQueue = QueueHealth{Depth: r.frames.Depth(), Drops: r.frames.Drops()}
	}
	if r.detections != nil {
		h.DetectionQueue = QueueHealth{Depth: r.detections.Depth(), Drops: r.detections.Drops()}
	}
	if r.ingestor != nil {
		h.Ingestion = IngestHealth{Accepted: r.ingestor.Accepted(), Rejected: r.ingestor.Rejected()}
	}
	created, evicted := r.tracker.Stats()
	h.Tracks = TrackHealth{Active: r.tracker.ActiveCount(), Created: created, Evicted: evicted}
	return h
}
