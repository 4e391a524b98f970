package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"time"
)

// SyntheticStreamer generates a steady MJPEG byte stream from an
// encoded placeholder frame. It stands in for the capture subprocess in
// dev mode so the demuxer and frame queue run against real JPEG bytes
// without a camera.
type SyntheticStreamer struct {
	Width  int
	Height int
	FPS    int
}

// Start begins emitting frames until ctx is cancelled.
func (s *SyntheticStreamer) Start(ctx context.Context) (io.ReadCloser, error) {
	width, height, fps := s.Width, s.Height, s.FPS
	if width == 0 {
		width = 640
	}
	if height == 0 {
		height = 480
	}
	if fps == 0 {
		fps = 15
	}

	frame, err := encodePlaceholderFrame(width, height)
	if err != nil {
		return nil, fmt.Errorf("failed to encode placeholder frame: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		ticker := time.NewTicker(time.Second / time.Duration(fps))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				pw.Close()
				return
			case <-ticker.C:
				if _, err := pw.Write(frame); err != nil {
					return
				}
			}
		}
	}()
	return pr, nil
}

func (s *SyntheticStreamer) Stop() error { return nil }

func encodePlaceholderFrame(width, height int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	fill := color.RGBA{R: 24, G: 24, B: 32, A: 255}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 60}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
