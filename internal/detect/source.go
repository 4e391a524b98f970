package detect

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/banshee-data/occupancy.report/internal/monitoring"
)

// Source is a detection backend: something that produces Detection
// batches. Implementations are swapped at construction time so the
// tracking and counting components stay backend-agnostic: an external
// model process and replayed fixtures look the same downstream.
type Source interface {
	// Run emits detection batches until ctx is cancelled or the backend
	// fails. A nil error means ctx ended the run.
	Run(ctx context.Context, emit func([]Detection)) error
}

// batchLine is the wire format of the external detector boundary: one
// JSON object per line on the subprocess's stdout.
type batchLine struct {
	TimestampMs int64       `json:"timestamp_ms"`
	Detections  []Detection `json:"detections"`
}

// ExecSource runs an external detector program and parses newline-
// delimited JSON batches from its stdout. The subprocess owns model
// loading and inference; this side only validates shape and forwards.
type ExecSource struct {
	Program string
	Args    []string
}

// Run starts the detector subprocess and forwards its batches. The
// subprocess is killed when ctx is cancelled; a non-zero exit while ctx
// is still live is returned as an error for the caller's restart
// policy.
func (s *ExecSource) Run(ctx context.Context, emit func([]Detection)) error {
	cmd := exec.CommandContext(ctx, s.Program, s.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create detector stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start detector %q: %w", s.Program, err)
	}

	scan := bufio.NewScanner(stdout)
	scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scan.Scan() {
		line := scan.Bytes()
		if len(line) == 0 {
			continue
		}
		var batch batchLine
		if err := json.Unmarshal(line, &batch); err != nil {
			// Detector chatter (progress lines, warnings) is not fatal.
			monitoring.Logf("detector emitted non-JSON line: %.80s", line)
			continue
		}
		ts := time.UnixMilli(batch.TimestampMs)
		for i := range batch.Detections {
			if batch.Detections[i].Timestamp.IsZero() {
				batch.Detections[i].Timestamp = ts
			}
		}
		emit(batch.Detections)
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return nil
	}
	if waitErr != nil {
		return fmt.Errorf("detector %q exited: %w", s.Program, waitErr)
	}
	if err := scan.Err(); err != nil {
		return fmt.Errorf("failed reading detector output: %w", err)
	}
	return nil
}

// ReplaySource emits batches parsed from a fixtures file, one JSON line
// per batch, paced at Interval. Used in dev mode so the whole pipeline
// can run without camera hardware or a model.
type ReplaySource struct {
	Path     string
	Interval time.Duration
	Loop     bool
}

// Run replays the fixture file. Timestamps are rewritten to the replay
// wall clock so downstream timeout logic behaves as in production.
func (s *ReplaySource) Run(ctx context.Context, emit func([]Detection)) error {
	interval := s.Interval
	if interval == 0 {
		interval = 100 * time.Millisecond
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		return fmt.Errorf("failed to read detection fixtures: %w", err)
	}

	for {
		scan := bufio.NewScanner(bytes.NewReader(data))
		for scan.Scan() {
			line := scan.Bytes()
			if len(line) == 0 {
				continue
			}
			var batch batchLine
			if err := json.Unmarshal(line, &batch); err != nil {
				return fmt.Errorf("malformed fixture line %q: %w", line, err)
			}
			now := time.Now()
			for i := range batch.Detections {
				batch.Detections[i].Timestamp = now
			}
			emit(batch.Detections)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
		}
		if !s.Loop {
			return nil
		}
	}
}
