package capture

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Streamer owns a single attempt at producing the raw MJPEG byte
// stream. The supervisor starts one, drains its reader, and stops it on
// failure or shutdown; restart policy lives entirely in the supervisor.
type Streamer interface {
	// Start launches the stream and returns the byte source.
	Start(ctx context.Context) (io.ReadCloser, error)
	// Stop terminates the stream if still alive. It must be safe to
	// call after the reader has already failed or returned EOF.
	Stop() error
}

// CommandStreamer runs an external capture program (ffmpeg by default)
// that writes an MJPEG stream to stdout.
type CommandStreamer struct {
	Program string // capture binary; defaults to "ffmpeg"
	Device  string // v4l2 device path or http/rtsp URL
	Width   int
	Height  int
	FPS     int

	// KillGrace is how long Stop waits after SIGTERM before SIGKILL.
	KillGrace time.Duration

	mu  sync.Mutex
	cmd *exec.Cmd
}

// isNetworkSource reports whether the device is an HTTP/RTSP URL rather
// than a local V4L2 node.
func isNetworkSource(device string) bool {
	return strings.HasPrefix(device, "http://") ||
		strings.HasPrefix(device, "https://") ||
		strings.HasPrefix(device, "rtsp://")
}

// args builds the capture program's argument set from configuration.
func (s *CommandStreamer) args() []string {
	if isNetworkSource(s.Device) {
		args := []string{}
		if strings.HasPrefix(s.Device, "rtsp://") {
			args = append(args, "-rtsp_transport", "tcp")
		}
		return append(args,
			"-i", s.Device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", s.FPS),
			"-q:v", "5",
			"-",
		)
	}
	return []string{
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"-framerate", fmt.Sprintf("%d", s.FPS),
		"-i", s.Device,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-",
	}
}

// Start launches the capture subprocess and returns its stdout.
func (s *CommandStreamer) Start(ctx context.Context) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	program := s.Program
	if program == "" {
		program = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, program, s.args()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create capture stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start capture program %q: %w", program, err)
	}
	s.cmd = cmd
	return stdout, nil
}

// Stop terminates the subprocess: SIGTERM, a bounded grace period, then
// SIGKILL. The wait is bounded so shutdown can never hang on a stuck
// encoder.
func (s *CommandStreamer) Stop() error {
	s.mu.Lock()
	cmd := s.cmd
	s.cmd = nil
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	grace := s.KillGrace
	if grace == 0 {
		grace = 2 * time.Second
	}

	_ = cmd.Process.Signal(interruptSignal)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
		return nil
	case <-time.After(grace):
		_ = cmd.Process.Kill()
		<-done
		return nil
	}
}
