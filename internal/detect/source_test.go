package detect

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// batchCollector gathers emitted batches across source goroutines.
type batchCollector struct {
	mu      sync.Mutex
	batches [][]Detection
}

func (c *batchCollector) emit(batch []Detection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, batch)
}

func (c *batchCollector) all() [][]Detection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]Detection(nil), c.batches...)
}

func writeFixture(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "detections.jsonl")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatalf("Failed to write fixture file: %v", err)
	}
	return path
}

func TestReplaySourceEmitsBatches(t *testing.T) {
	path := writeFixture(t, `{"timestamp_ms":1000,"detections":[{"class":"person","confidence":0.9,"x1":100,"y1":80,"x2":140,"y2":200}]}
{"timestamp_ms":1066,"detections":[]}
{"timestamp_ms":1133,"detections":[{"class":"person","confidence":0.8,"x1":120,"y1":80,"x2":160,"y2":200},{"class":"dog","confidence":0.7,"x1":10,"y1":10,"x2":60,"y2":50}]}
`)

	source := &ReplaySource{Path: path, Interval: time.Millisecond}
	collector := &batchCollector{}

	err := source.Run(context.Background(), collector.emit)
	require.NoError(t, err)

	batches := collector.all()
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 1)
	assert.Empty(t, batches[1])
	assert.Len(t, batches[2], 2)

	assert.Equal(t, "person", batches[0][0].Class)
	assert.Equal(t, 0.9, batches[0][0].Confidence)
	assert.Equal(t, 140.0, batches[0][0].X2)
	// Fixture timestamps are rewritten to the replay clock.
	assert.False(t, batches[0][0].Timestamp.IsZero())
	assert.WithinDuration(t, time.Now(), batches[0][0].Timestamp, 5*time.Second)
}

func TestReplaySourceLoopStopsOnCancel(t *testing.T) {
	path := writeFixture(t, `{"timestamp_ms":1000,"detections":[{"class":"person","confidence":0.9,"x1":100,"y1":80,"x2":140,"y2":200}]}
`)

	source := &ReplaySource{Path: path, Interval: time.Millisecond, Loop: true}
	collector := &batchCollector{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx, collector.emit) }()

	deadline := time.After(2 * time.Second)
	for len(collector.all()) < 3 {
		select {
		case <-deadline:
			t.Fatal("Replay never looped past the fixture file")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Replay did not stop after cancel")
	}
	assert.GreaterOrEqual(t, len(collector.all()), 3)
}

func TestReplaySourceRejectsMalformedFixture(t *testing.T) {
	path := writeFixture(t, "this is not json\n")

	source := &ReplaySource{Path: path, Interval: time.Millisecond}
	err := source.Run(context.Background(), func([]Detection) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed fixture line")
}

func TestReplaySourceMissingFile(t *testing.T) {
	source := &ReplaySource{Path: filepath.Join(t.TempDir(), "absent.jsonl")}
	err := source.Run(context.Background(), func([]Detection) {})
	require.Error(t, err)
}

func TestExecSourceParsesSubprocessOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test detector uses sh")
	}

	script := `echo 'starting up'
echo '{"timestamp_ms":5000,"detections":[{"class":"person","confidence":0.95,"x1":200,"y1":60,"x2":250,"y2":220}]}'
echo '{"timestamp_ms":5066,"detections":[]}'`

	source := &ExecSource{Program: "sh", Args: []string{"-c", script}}
	collector := &batchCollector{}

	err := source.Run(context.Background(), collector.emit)
	require.NoError(t, err)

	// The chatter line is skipped, the two JSON lines survive.
	batches := collector.all()
	require.Len(t, batches, 2)
	require.Len(t, batches[0], 1)
	assert.Equal(t, "person", batches[0][0].Class)
	assert.Equal(t, time.UnixMilli(5000), batches[0][0].Timestamp)
	assert.Empty(t, batches[1])
}

func TestExecSourceReportsExitFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test detector uses sh")
	}

	source := &ExecSource{Program: "sh", Args: []string{"-c", "exit 3"}}
	err := source.Run(context.Background(), func([]Detection) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited")
}
