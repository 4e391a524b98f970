// Package detect defines the detection record consumed by the tracker
// and the ingestion filter that stands between external detector
// backends and the counting pipeline.
package detect

import (
	"math"
	"time"
)

// PersonClass is the detector class label forwarded to the tracker.
// Other classes (vehicles, pets, chairs) are filtered at ingestion.
const PersonClass = "person"

// Detection is one detector observation: a bounding box with a
// confidence score. Coordinates are pixel-space by the time a Detection
// reaches the tracker; the ingestor scales normalised boxes first.
type Detection struct {
	Timestamp  time.Time `json:"timestamp"`
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	X1         float64   `json:"x1"`
	Y1         float64   `json:"y1"`
	X2         float64   `json:"x2"`
	Y2         float64   `json:"y2"`
}

// Center returns the box centre point.
func (d Detection) Center() (x, y float64) {
	return (d.X1 + d.X2) / 2, (d.Y1 + d.Y2) / 2
}

// Area returns the box area in square pixels.
func (d Detection) Area() float64 {
	return (d.X2 - d.X1) * (d.Y2 - d.Y1)
}

// degenerate reports whether the box has no extent or non-finite
// geometry. Such records are rejected per-record without failing the
// batch.
func (d Detection) degenerate() bool {
	for _, v := range []float64{d.X1, d.Y1, d.X2, d.Y2, d.Confidence} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return d.X2 <= d.X1 || d.Y2 <= d.Y1
}
