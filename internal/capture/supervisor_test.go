package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/occupancy.report/internal/mjpeg"
	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/pipeline"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

func TestMain(m *testing.M) {
	// The restart tests deliberately fail capture attempts; mute the
	// supervisor chatter they would otherwise print.
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

// scriptStreamer hands out one reader per Start call, in order. Once
// the script is exhausted, Start blocks until ctx is cancelled so the
// supervisor cannot spin.
type scriptStreamer struct {
	mu      sync.Mutex
	readers []io.ReadCloser
	starts  int
	stops   int
}

func (s *scriptStreamer) Start(ctx context.Context) (io.ReadCloser, error) {
	s.mu.Lock()
	s.starts++
	if len(s.readers) == 0 {
		s.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r := s.readers[0]
	s.readers = s.readers[1:]
	s.mu.Unlock()
	return r, nil
}

func (s *scriptStreamer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *scriptStreamer) counts() (starts, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops
}

// blockAfter yields its payload then blocks until closed, simulating a
// healthy stream that goes silent.
type blockAfter struct {
	payload *bytes.Reader
	done    chan struct{}
	once    sync.Once
}

func newBlockAfter(payload []byte) *blockAfter {
	return &blockAfter{payload: bytes.NewReader(payload), done: make(chan struct{})}
}

func (b *blockAfter) Read(p []byte) (int, error) {
	if b.payload.Len() > 0 {
		return b.payload.Read(p)
	}
	<-b.done
	return 0, io.EOF
}

func (b *blockAfter) Close() error {
	b.once.Do(func() { close(b.done) })
	return nil
}

func testFrameBytes(body string) []byte {
	frame := append([]byte{0xFF, 0xD8}, []byte(body)...)
	return append(frame, 0xFF, 0xD9)
}

func newTestSupervisor(streamer Streamer, cfg SupervisorConfig) (*Supervisor, *pipeline.Queue[mjpeg.Frame], *timeutil.MockClock) {
	demux := mjpeg.NewDemuxer(mjpeg.DemuxerConfig{MinFrameBytes: 4, MaxFrameBytes: 4096})
	frames := pipeline.NewQueue[mjpeg.Frame](10)
	clock := timeutil.NewMockClock(time.Now())
	return NewSupervisor(streamer, demux, frames, clock, cfg), frames, clock
}

func TestSupervisorEmitsFramesAndRuns(t *testing.T) {
	payload := append(testFrameBytes("frame one"), testFrameBytes("frame two")...)
	streamer := &scriptStreamer{readers: []io.ReadCloser{newBlockAfter(payload)}}
	sup, frames, _ := newTestSupervisor(streamer, SupervisorConfig{StallTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// Both frames must land on the queue.
	deadline := time.After(2 * time.Second)
	for got := 0; got < 2; {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for frames, got %d", got)
		default:
			if _, ok := frames.TryPop(); ok {
				got++
			} else {
				time.Sleep(5 * time.Millisecond)
			}
		}
	}

	st := sup.Status()
	if st.Status != StatusRunning {
		t.Errorf("Status = %s, want running", st.Status)
	}
	if st.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", st.ConsecutiveFailures)
	}
	if st.FramesEmitted != 2 {
		t.Errorf("FramesEmitted = %d, want 2", st.FramesEmitted)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v on cancellation, want nil", err)
	}
	if sup.Status().Status != StatusOffline {
		t.Errorf("Status after shutdown = %s, want offline", sup.Status().Status)
	}
}

func TestSupervisorRestartsOnStreamClosure(t *testing.T) {
	// First attempt EOFs immediately after one frame; second stays up.
	first := io.NopCloser(bytes.NewReader(testFrameBytes("short lived")))
	second := newBlockAfter(testFrameBytes("stable"))
	streamer := &scriptStreamer{readers: []io.ReadCloser{first, second}}
	sup, frames, clock := newTestSupervisor(streamer, SupervisorConfig{
		StallTimeout: time.Minute,
		RestartDelay: 3 * time.Second,
		MaxRestarts:  5,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// Wait for both attempts' frames.
	deadline := time.After(2 * time.Second)
	for got := 0; got < 2; {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for restart, got %d frames", got)
		default:
			if _, ok := frames.TryPop(); ok {
				got++
			} else {
				time.Sleep(5 * time.Millisecond)
			}
		}
	}

	starts, stops := streamer.counts()
	if starts != 2 {
		t.Errorf("starts = %d, want 2", starts)
	}
	if stops < 1 {
		t.Errorf("stops = %d, want at least 1", stops)
	}

	// The fixed restart delay was observed, not a hot retry loop, and
	// the frame on attempt two reset the failure streak.
	sleeps := clock.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != 3*time.Second {
		t.Errorf("restart sleeps = %v, want [3s]", sleeps)
	}
	recovered := false
	for end := time.Now().Add(time.Second); time.Now().Before(end); {
		if st := sup.Status(); st.Status == StatusRunning && st.ConsecutiveFailures == 0 {
			recovered = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !recovered {
		t.Errorf("state after recovery = %+v, want running with 0 failures", sup.Status())
	}

	cancel()
	<-done
}

func TestSupervisorFailsAfterRestartBudget(t *testing.T) {
	// Every attempt dies instantly with no frames.
	streamer := &scriptStreamer{readers: []io.ReadCloser{
		io.NopCloser(bytes.NewReader(nil)),
		io.NopCloser(bytes.NewReader(nil)),
		io.NopCloser(bytes.NewReader(nil)),
	}}
	sup, _, clock := newTestSupervisor(streamer, SupervisorConfig{
		StallTimeout: time.Minute,
		RestartDelay: time.Second,
		MaxRestarts:  3,
	})

	done := make(chan error, 1)
	go func() { done <- sup.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil with Failed status", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after exhausting restart budget")
	}

	st := sup.Status()
	if st.Status != StatusFailed {
		t.Errorf("Status = %s, want failed", st.Status)
	}
	if st.ConsecutiveFailures != 3 {
		t.Errorf("ConsecutiveFailures = %d, want 3", st.ConsecutiveFailures)
	}
	if st.LastError == "" {
		t.Error("expected LastError to be populated")
	}
	// Two sleeps: between attempts 1→2 and 2→3; the third failure
	// exhausts the budget without sleeping again.
	if sleeps := clock.Sleeps(); len(sleeps) != 2 {
		t.Errorf("restart sleeps = %v, want 2 fixed delays", sleeps)
	}
}

func TestSupervisorStallTriggersRestart(t *testing.T) {
	// A stream that produces garbage but never a frame, then a healthy
	// one. The stall watchdog must tear the first down.
	stalled := newBlockAfter([]byte("noise noise noise"))
	healthy := newBlockAfter(testFrameBytes("recovered"))
	streamer := &scriptStreamer{readers: []io.ReadCloser{stalled, healthy}}
	sup, frames, _ := newTestSupervisor(streamer, SupervisorConfig{
		StallTimeout: 50 * time.Millisecond,
		RestartDelay: time.Millisecond,
		MaxRestarts:  5,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := frames.TryPop(); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("stalled stream was never restarted")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	if starts, _ := streamer.counts(); starts != 2 {
		t.Errorf("starts = %d, want 2 (stall restart)", starts)
	}

	cancel()
	<-done
}

func TestSupervisorStatusConcurrentWithCapture(t *testing.T) {
	// Status is polled from HTTP handlers while the capture worker is
	// mid-Feed; the frame counters must be safe to read concurrently.
	var payload []byte
	for i := 0; i < 50; i++ {
		payload = append(payload, testFrameBytes("frame")...)
	}
	streamer := &scriptStreamer{readers: []io.ReadCloser{newBlockAfter(payload)}}
	sup, _, _ := newTestSupervisor(streamer, SupervisorConfig{StallTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	var pollers sync.WaitGroup
	for i := 0; i < 4; i++ {
		pollers.Add(1)
		go func() {
			defer pollers.Done()
			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				if st := sup.Status(); st.FramesEmitted >= 50 {
					return
				}
			}
			t.Errorf("poller never observed 50 frames, last state %+v", sup.Status())
		}()
	}
	pollers.Wait()

	cancel()
	<-done
}

func TestSupervisorReadErrorIsFailure(t *testing.T) {
	streamer := &scriptStreamer{readers: []io.ReadCloser{
		io.NopCloser(&failingReader{err: errors.New("input/output error")}),
	}}
	sup, _, _ := newTestSupervisor(streamer, SupervisorConfig{
		StallTimeout: time.Minute,
		RestartDelay: time.Second,
		MaxRestarts:  1,
	})

	done := make(chan error, 1)
	go func() { done <- sup.Run(context.Background()) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not terminate")
	}

	st := sup.Status()
	if st.Status != StatusFailed {
		t.Errorf("Status = %s, want failed", st.Status)
	}
	if st.LastError == "" {
		t.Error("expected read error recorded in LastError")
	}
}

type failingReader struct{ err error }

func (r *failingReader) Read(p []byte) (int, error) { return 0, r.err }
