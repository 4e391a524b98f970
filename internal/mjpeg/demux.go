// Package mjpeg extracts discrete JPEG frames from a continuous
// motion-JPEG byte stream, such as the stdout of an ffmpeg image2pipe
// process. The demuxer is a streaming parser: it tolerates arbitrary
// chunk boundaries, partial frames across Feed calls, and garbage
// between frames, resynchronising on the next start marker.
package mjpeg

import (
	"bytes"
	"image/jpeg"
	"sync/atomic"
	"time"
)

// JPEG stream markers.
var (
	markerSOI = []byte{0xFF, 0xD8} // start of image
	markerEOI = []byte{0xFF, 0xD9} // end of image
)

// Frame is one complete JPEG image cut from the stream. Data is owned
// by the frame after emission and must not be mutated by consumers.
type Frame struct {
	Data      []byte
	Seq       uint64
	Timestamp time.Time
}

// DemuxerConfig bounds the frames a Demuxer will accept.
type DemuxerConfig struct {
	MinFrameBytes  int  // candidates smaller than this are dropped (default 1 KiB)
	MaxFrameBytes  int  // candidates larger than this are dropped (default 8 MiB)
	ValidateDecode bool // when true, reject candidates image/jpeg cannot parse
}

// Demuxer accumulates stream chunks and emits complete bounded frames.
// It is not safe for concurrent use; the capture read loop is the
// single caller.
type Demuxer struct {
	config DemuxerConfig
	buf    []byte
	seq    uint64

	// Counters for the health snapshot. Atomic because Status polls
	// them from other goroutines while the capture worker feeds.
	framesEmitted atomic.Uint64
	framesDropped atomic.Uint64
}

// NewDemuxer creates a Demuxer with the given bounds. Zero-valued
// bounds get defaults suitable for VGA..1080p MJPEG.
func NewDemuxer(config DemuxerConfig) *Demuxer {
	if config.MinFrameBytes == 0 {
		config.MinFrameBytes = 1024
	}
	if config.MaxFrameBytes == 0 {
		config.MaxFrameBytes = 8 * 1024 * 1024
	}
	return &Demuxer{config: config}
}

// Feed appends chunk to the internal accumulator and returns every
// complete frame that can be cut from it. Malformed, undersized or
// oversized candidates are dropped silently and parsing resumes after
// the bad end marker; this is an expected stream condition, never an
// error.
func (d *Demuxer) Feed(chunk []byte) []Frame {
	if len(chunk) == 0 {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	for {
		start := bytes.Index(d.buf, markerSOI)
		if start < 0 {
			// No start marker. Keep the last byte in case it is the
			// first half of a marker split across chunks.
			if len(d.buf) > 1 {
				d.buf = append(d.buf[:0], d.buf[len(d.buf)-1])
			}
			return frames
		}
		if start > 0 {
			// Garbage before the start marker is never part of a frame.
			d.buf = append(d.buf[:0], d.buf[start:]...)
			start = 0
		}

		end := bytes.Index(d.buf[len(markerSOI):], markerEOI)
		if end < 0 {
			// Frame still incomplete. If the accumulator has outgrown the
			// largest acceptable frame the candidate can never validate,
			// so abandon this start marker rather than buffer unboundedly.
			if len(d.buf) > d.config.MaxFrameBytes+len(markerEOI) {
				d.framesDropped.Add(1)
				d.buf = append(d.buf[:0], d.buf[len(d.buf)-1])
			}
			return frames
		}
		end += len(markerSOI) + len(markerEOI)

		candidate := d.buf[:end]
		if d.accept(candidate) {
			frame := Frame{
				Data:      append([]byte(nil), candidate...),
				Seq:       d.seq,
				Timestamp: time.Now(),
			}
			d.seq++
			d.framesEmitted.Add(1)
			frames = append(frames, frame)
		} else {
			d.framesDropped.Add(1)
		}
		// Advance past the consumed candidate either way.
		d.buf = append(d.buf[:0], d.buf[end:]...)
	}
}

// accept validates a candidate frame against the configured bounds and,
// optionally, against the JPEG header parser.
func (d *Demuxer) accept(candidate []byte) bool {
	if len(candidate) < d.config.MinFrameBytes || len(candidate) > d.config.MaxFrameBytes {
		return false
	}
	if d.config.ValidateDecode {
		if _, err := jpeg.DecodeConfig(bytes.NewReader(candidate)); err != nil {
			return false
		}
	}
	return true
}

// Pending returns the number of buffered bytes awaiting a cut point.
func (d *Demuxer) Pending() int {
	return len(d.buf)
}

// FramesEmitted returns the number of frames cut from the stream.
func (d *Demuxer) FramesEmitted() uint64 { return d.framesEmitted.Load() }

// FramesDropped returns the number of candidates rejected or abandoned.
func (d *Demuxer) FramesDropped() uint64 { return d.framesDropped.Load() }
