// Package config loads the counter tuning file. The schema matches the
// /api/config endpoint so the same JSON serves both startup
// configuration and operator inspection.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/counter.defaults.json"

// Line orientations.
const (
	OrientationVertical   = "vertical"   // line at X = position; sides are left/right
	OrientationHorizontal = "horizontal" // line at Y = position; sides are above/below
)

// Direction mappings. Which ordered side pair counts as an entry
// depends on physical camera orientation, so it is configuration and
// never hard-coded.
const (
	EntryLeftToRight = "left_to_right"
	EntryRightToLeft = "right_to_left"
)

// CounterConfig is the root tuning configuration. Fields are pointers
// so a partial JSON file only overrides what it names; the Get*
// accessors carry the defaults.
type CounterConfig struct {
	// Capture params
	FrameWidth   *int    `json:"frame_width,omitempty"`
	FrameHeight  *int    `json:"frame_height,omitempty"`
	FrameRate    *int    `json:"frame_rate,omitempty"`
	StallTimeout *string `json:"stall_timeout,omitempty"`  // duration string like "5s"
	RestartDelay *string `json:"restart_delay,omitempty"`  // duration string like "3s"
	MaxRestarts  *int    `json:"max_restarts,omitempty"`   // consecutive failures before Failed
	MinFrameKB   *int    `json:"min_frame_kb,omitempty"`   // demuxer lower bound
	MaxFrameKB   *int    `json:"max_frame_kb,omitempty"`   // demuxer upper bound

	// Detection params
	MinConfidence    *float64   `json:"min_confidence,omitempty"`
	NormalizedCoords *bool      `json:"normalized_coords,omitempty"` // detections in [0,1], scaled to pixels
	ROI              *[4]float64 `json:"roi,omitempty"`              // x1,y1,x2,y2 in pixel space; zero value disables

	// Tracker params
	MaxAssociationDistance *float64 `json:"max_association_distance,omitempty"`
	TrackTimeout           *string  `json:"track_timeout,omitempty"` // duration string like "2s"
	MaxTracks              *int     `json:"max_tracks,omitempty"`
	TrackHistoryLength     *int     `json:"track_history_length,omitempty"`

	// Crossing params
	LinePosition    *float64 `json:"line_position,omitempty"`
	LineOrientation *string  `json:"line_orientation,omitempty"`
	EntryDirection  *string  `json:"entry_direction,omitempty"`
	CooldownTicks   *int     `json:"cooldown_ticks,omitempty"`

	// Queue params
	FrameQueueDepth     *int `json:"frame_queue_depth,omitempty"`
	DetectionQueueDepth *int `json:"detection_queue_depth,omitempty"`
}

// EmptyCounterConfig returns a CounterConfig with all fields set to nil.
// Use LoadCounterConfig to load actual values from the defaults file.
func EmptyCounterConfig() *CounterConfig {
	return &CounterConfig{}
}

// LoadCounterConfig loads a CounterConfig from a JSON file. The file is
// validated to have a .json extension and to be under the max file
// size. Fields omitted from the JSON retain their defaults, so partial
// configs are safe.
func LoadCounterConfig(path string) (*CounterConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCounterConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *CounterConfig) Validate() error {
	if c.MinConfidence != nil {
		v := *c.MinConfidence
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("min_confidence must be between 0 and 1, got %f", v)
		}
	}
	if c.LineOrientation != nil {
		switch *c.LineOrientation {
		case OrientationVertical, OrientationHorizontal:
		default:
			return fmt.Errorf("line_orientation must be %q or %q, got %q",
				OrientationVertical, OrientationHorizontal, *c.LineOrientation)
		}
	}
	if c.EntryDirection != nil {
		switch *c.EntryDirection {
		case EntryLeftToRight, EntryRightToLeft:
		default:
			return fmt.Errorf("entry_direction must be %q or %q, got %q",
				EntryLeftToRight, EntryRightToLeft, *c.EntryDirection)
		}
	}
	if c.MaxAssociationDistance != nil && *c.MaxAssociationDistance <= 0 {
		return fmt.Errorf("max_association_distance must be positive, got %f", *c.MaxAssociationDistance)
	}
	if c.CooldownTicks != nil && *c.CooldownTicks < 0 {
		return fmt.Errorf("cooldown_ticks must be non-negative, got %d", *c.CooldownTicks)
	}
	if c.ROI != nil {
		roi := *c.ROI
		if roi[2] <= roi[0] || roi[3] <= roi[1] {
			return fmt.Errorf("roi must satisfy x2>x1 and y2>y1, got %v", roi)
		}
	}
	if c.MinFrameKB != nil && c.MaxFrameKB != nil && *c.MaxFrameKB <= *c.MinFrameKB {
		return fmt.Errorf("max_frame_kb (%d) must exceed min_frame_kb (%d)", *c.MaxFrameKB, *c.MinFrameKB)
	}
	for name, field := range map[string]*string{
		"stall_timeout": c.StallTimeout,
		"restart_delay": c.RestartDelay,
		"track_timeout": c.TrackTimeout,
	} {
		if field != nil && *field != "" {
			if _, err := time.ParseDuration(*field); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *field, err)
			}
		}
	}
	return nil
}

// Accessors with defaults. Defaults target a doorway camera at VGA
// resolution on a single-board computer.

func (c *CounterConfig) GetFrameWidth() int {
	if c.FrameWidth != nil {
		return *c.FrameWidth
	}
	return 640
}

func (c *CounterConfig) GetFrameHeight() int {
	if c.FrameHeight != nil {
		return *c.FrameHeight
	}
	return 480
}

func (c *CounterConfig) GetFrameRate() int {
	if c.FrameRate != nil {
		return *c.FrameRate
	}
	return 15
}

func (c *CounterConfig) GetStallTimeout() time.Duration {
	return c.duration(c.StallTimeout, 5*time.Second)
}

func (c *CounterConfig) GetRestartDelay() time.Duration {
	return c.duration(c.RestartDelay, 3*time.Second)
}

func (c *CounterConfig) GetMaxRestarts() int {
	if c.MaxRestarts != nil {
		return *c.MaxRestarts
	}
	return 5
}

func (c *CounterConfig) GetMinFrameBytes() int {
	if c.MinFrameKB != nil {
		return *c.MinFrameKB * 1024
	}
	return 1 * 1024
}

func (c *CounterConfig) GetMaxFrameBytes() int {
	if c.MaxFrameKB != nil {
		return *c.MaxFrameKB * 1024
	}
	return 2 * 1024 * 1024
}

func (c *CounterConfig) GetMinConfidence() float64 {
	if c.MinConfidence != nil {
		return *c.MinConfidence
	}
	return 0.45
}

func (c *CounterConfig) GetNormalizedCoords() bool {
	if c.NormalizedCoords != nil {
		return *c.NormalizedCoords
	}
	return false
}

// GetROI returns the region of interest in pixel space and whether one
// is configured. Detections outside the ROI are discarded before
// tracking.
func (c *CounterConfig) GetROI() ([4]float64, bool) {
	if c.ROI != nil {
		return *c.ROI, true
	}
	return [4]float64{}, false
}

func (c *CounterConfig) GetMaxAssociationDistance() float64 {
	if c.MaxAssociationDistance != nil {
		return *c.MaxAssociationDistance
	}
	return 120.0
}

func (c *CounterConfig) GetTrackTimeout() time.Duration {
	return c.duration(c.TrackTimeout, 2*time.Second)
}

func (c *CounterConfig) GetMaxTracks() int {
	if c.MaxTracks != nil {
		return *c.MaxTracks
	}
	return 32
}

func (c *CounterConfig) GetTrackHistoryLength() int {
	if c.TrackHistoryLength != nil {
		return *c.TrackHistoryLength
	}
	return 30
}

func (c *CounterConfig) GetLinePosition() float64 {
	if c.LinePosition != nil {
		return *c.LinePosition
	}
	return 320.0
}

func (c *CounterConfig) GetLineOrientation() string {
	if c.LineOrientation != nil {
		return *c.LineOrientation
	}
	return OrientationVertical
}

func (c *CounterConfig) GetEntryDirection() string {
	if c.EntryDirection != nil {
		return *c.EntryDirection
	}
	return EntryLeftToRight
}

func (c *CounterConfig) GetCooldownTicks() int {
	if c.CooldownTicks != nil {
		return *c.CooldownTicks
	}
	return 15
}

func (c *CounterConfig) GetFrameQueueDepth() int {
	if c.FrameQueueDepth != nil {
		return *c.FrameQueueDepth
	}
	return 10
}

func (c *CounterConfig) GetDetectionQueueDepth() int {
	if c.DetectionQueueDepth != nil {
		return *c.DetectionQueueDepth
	}
	return 50
}

func (c *CounterConfig) duration(field *string, fallback time.Duration) time.Duration {
	if field != nil && *field != "" {
		if d, err := time.ParseDuration(*field); err == nil {
			return d
		}
	}
	return fallback
}
