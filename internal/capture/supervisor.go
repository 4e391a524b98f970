// Package capture supervises the external capture subprocess that
// produces the raw MJPEG byte stream, demultiplexes its output into
// frames, and restarts it on failure with a bounded-retry policy.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/occupancy.report/internal/mjpeg"
	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/pipeline"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

// Status is the capture path lifecycle state.
type Status string

const (
	StatusOffline  Status = "offline"  // not yet started or shut down
	StatusStarting Status = "starting" // subprocess launching, no frame yet
	StatusRunning  Status = "running"  // frames flowing
	StatusDegraded Status = "degraded" // subprocess failed, restart pending
	StatusFailed   Status = "failed"   // restart budget exhausted, operator needed
)

// ProcessState is the externally visible supervisor state.
type ProcessState struct {
	Status              Status    `json:"status"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastFrameAt         time.Time `json:"last_frame_at,omitempty"`
	FramesEmitted       uint64    `json:"frames_emitted"`
	FramesDropped       uint64    `json:"frames_dropped"`
}

// errStalled marks a read loop that produced no frame within the stall
// timeout; treated exactly like a subprocess exit.
var errStalled = errors.New("capture stream stalled")

// SupervisorConfig tunes the restart policy.
type SupervisorConfig struct {
	StallTimeout time.Duration // no frame for this long → restart
	RestartDelay time.Duration // fixed delay between attempts
	MaxRestarts  int           // consecutive failures before Failed
	ReadChunk    int           // read buffer size (default 8 KiB)
}

// Supervisor owns the capture subprocess lifecycle. One Run call is
// the dedicated capture worker; Status may be read concurrently.
type Supervisor struct {
	streamer Streamer
	demux    *mjpeg.Demuxer
	frames   *pipeline.Queue[mjpeg.Frame]
	clock    timeutil.Clock
	config   SupervisorConfig

	mu    sync.Mutex
	state ProcessState
}

// NewSupervisor wires a Streamer to a frame queue via a demuxer.
func NewSupervisor(streamer Streamer, demux *mjpeg.Demuxer, frames *pipeline.Queue[mjpeg.Frame], clock timeutil.Clock, config SupervisorConfig) *Supervisor {
	if config.StallTimeout == 0 {
		config.StallTimeout = 5 * time.Second
	}
	if config.RestartDelay == 0 {
		config.RestartDelay = 3 * time.Second
	}
	if config.MaxRestarts == 0 {
		config.MaxRestarts = 5
	}
	if config.ReadChunk == 0 {
		config.ReadChunk = 8 * 1024
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Supervisor{
		streamer: streamer,
		demux:    demux,
		frames:   frames,
		clock:    clock,
		config:   config,
		state:    ProcessState{Status: StatusOffline},
	}
}

// Status returns a copy of the current process state.
func (s *Supervisor) Status() ProcessState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.FramesEmitted = s.demux.FramesEmitted()
	st.FramesDropped = s.demux.FramesDropped()
	return st
}

// Run supervises the capture subprocess until ctx is cancelled or the
// restart budget is exhausted. Exhaustion is fatal only for the
// capture path: Run returns nil with status Failed and the rest of the
// pipeline keeps serving its last-known state.
func (s *Supervisor) Run(ctx context.Context) error {
	defer func() {
		if s.Status().Status != StatusFailed {
			s.setStatus(StatusOffline, nil)
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		s.setStatus(StatusStarting, nil)
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}

		s.mu.Lock()
		s.state.ConsecutiveFailures++
		failures := s.state.ConsecutiveFailures
		s.mu.Unlock()

		if failures >= s.config.MaxRestarts {
			s.setStatus(StatusFailed, fmt.Errorf("restart budget exhausted after %d attempts: %w", failures, err))
			monitoring.Logf("capture failed permanently after %d attempts: %v", failures, err)
			return nil
		}

		s.setStatus(StatusDegraded, err)
		monitoring.Logf("capture attempt failed (%d/%d), restarting in %v: %v",
			failures, s.config.MaxRestarts, s.config.RestartDelay, err)
		s.clock.Sleep(s.config.RestartDelay)
	}
}

// runOnce runs one subprocess attempt to completion. It returns the
// failure cause; a nil-cause return only happens via ctx cancellation.
func (s *Supervisor) runOnce(ctx context.Context) error {
	stream, err := s.streamer.Start(ctx)
	if err != nil {
		return err
	}
	defer func() {
		stream.Close()
		if err := s.streamer.Stop(); err != nil {
			monitoring.Logf("capture stop error: %v", err)
		}
	}()

	chunkChan := make(chan []byte)
	readErrChan := make(chan error, 1)

	// The blocking Read lives in its own goroutine so the outer loop
	// can watch the stall timer and ctx without being wedged on a
	// silent pipe. Zero-byte reads are not errors; only an OS-level
	// read error or EOF ends the stream.
	go func() {
		defer close(chunkChan)
		buf := make([]byte, s.config.ReadChunk)
		for {
			n, err := stream.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunkChan <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				select {
				case readErrChan <- err:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	stall := time.NewTimer(s.config.StallTimeout)
	defer stall.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErrChan:
			if errors.Is(err, io.EOF) {
				return errors.New("capture stream closed")
			}
			return fmt.Errorf("capture read error: %w", err)

		case <-stall.C:
			return fmt.Errorf("%w: no frame within %v", errStalled, s.config.StallTimeout)

		case chunk, ok := <-chunkChan:
			if !ok {
				// Reader exited without an error in flight; treat as
				// stream closure.
				select {
				case err := <-readErrChan:
					return fmt.Errorf("capture read error: %w", err)
				default:
					return errors.New("capture stream closed")
				}
			}
			for _, frame := range s.demux.Feed(chunk) {
				s.frames.Push(frame)
				s.frameObserved(frame)
				if !stall.Stop() {
					select {
					case <-stall.C:
					default:
					}
				}
				stall.Reset(s.config.StallTimeout)
			}
		}
	}
}

// frameObserved records a successful frame: status Running and the
// failure streak reset.
func (s *Supervisor) frameObserved(frame mjpeg.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Status = StatusRunning
	s.state.ConsecutiveFailures = 0
	s.state.LastError = ""
	s.state.LastFrameAt = frame.Timestamp
}

func (s *Supervisor) setStatus(status Status, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Status = status
	if cause != nil {
		s.state.LastError = cause.Error()
	}
}
