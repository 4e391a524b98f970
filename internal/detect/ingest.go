package detect

import (
	"sync/atomic"

	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/pipeline"
)

// Ingestor validates detector batches and enqueues the surviving
// records for the tracking worker. Malformed records are rejected
// individually; a bad record never fails its batch.
type Ingestor struct {
	queue *pipeline.Queue[[]Detection]

	minConfidence float64
	normalized    bool
	frameWidth    float64
	frameHeight   float64
	roi           [4]float64
	hasROI        bool

	// Counters for the health snapshot.
	accepted atomic.Uint64
	rejected atomic.Uint64
}

// NewIngestor builds an Ingestor from the tuning config, publishing
// accepted batches on queue.
func NewIngestor(cfg *config.CounterConfig, queue *pipeline.Queue[[]Detection]) *Ingestor {
	roi, hasROI := cfg.GetROI()
	return &Ingestor{
		queue:         queue,
		minConfidence: cfg.GetMinConfidence(),
		normalized:    cfg.GetNormalizedCoords(),
		frameWidth:    float64(cfg.GetFrameWidth()),
		frameHeight:   float64(cfg.GetFrameHeight()),
		roi:           roi,
		hasROI:        hasROI,
	}
}

// Ingest filters a batch and enqueues whatever survives. Batches that
// filter down to nothing are not enqueued. Returns the number of
// records forwarded.
func (in *Ingestor) Ingest(batch []Detection) int {
	var kept []Detection
	for _, d := range batch {
		if in.normalized {
			d.X1 *= in.frameWidth
			d.X2 *= in.frameWidth
			d.Y1 *= in.frameHeight
			d.Y2 *= in.frameHeight
		}
		if !in.admit(d) {
			in.rejected.Add(1)
			continue
		}
		kept = append(kept, d)
	}
	in.accepted.Add(uint64(len(kept)))
	if len(kept) > 0 {
		in.queue.Push(kept)
	}
	return len(kept)
}

// admit applies the per-record filters: well-formed geometry, person
// class, confidence threshold, and centre inside the ROI when one is
// configured.
func (in *Ingestor) admit(d Detection) bool {
	if d.degenerate() {
		return false
	}
	if d.Class != PersonClass {
		return false
	}
	if d.Confidence < in.minConfidence || d.Confidence > 1 {
		return false
	}
	if in.hasROI {
		cx, cy := d.Center()
		if cx < in.roi[0] || cx > in.roi[2] || cy < in.roi[1] || cy > in.roi[3] {
			return false
		}
	}
	return true
}

// Accepted returns the number of records forwarded to the tracker.
func (in *Ingestor) Accepted() uint64 { return in.accepted.Load() }

// Rejected returns the number of records filtered at ingestion.
func (in *Ingestor) Rejected() uint64 { return in.rejected.Load() }
