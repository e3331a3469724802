// Package camera bridges webcam devices to the render loop.
//
// The Adapter owns at most one live stream. Selecting a device releases the
// previous stream before the new one is requested, then reports the
// negotiated resolution so frame buffers can be resized.
package camera

import (
	"fmt"
	"math"
)

// Config holds the capture and output parameters that can be changed at
// runtime through the camera API.
type Config struct {
	// Requested capture resolution. The device may negotiate something else;
	// the adapter reports the real size after the first frame.
	Width     int `json:"width"`
	Height    int `json:"height"`
	Framerate int `json:"framerate"`

	// Quality is the JPEG quality of presented frames (1-100).
	Quality int `json:"quality"`

	// Scale is the output image scale in percent (1-100).
	Scale int `json:"scale"`
}

// Limits of the values Validate accepts.
const (
	MaxWidth     = 4096
	MaxHeight    = 2160
	MaxFramerate = 120
)

// FramerateFor converts a processing rate into a whole capture framerate.
// Fractional rates round up so the camera never delivers fewer frames than
// are processed; the result is clamped to 1..MaxFramerate.
func FramerateFor(fps float64) int {
	if math.IsNaN(fps) || fps <= 1 {
		return 1
	}
	if fps >= MaxFramerate {
		return MaxFramerate
	}
	return int(math.Ceil(fps))
}

// DefaultConfig returns a 640x480 webcam configuration at full output scale.
func DefaultConfig() Config {
	return Config{
		Width:     640,
		Height:    480,
		Framerate: 30,
		Quality:   80,
		Scale:     100,
	}
}

// Validate checks the config values and returns one message per problem, or
// nil if the config is usable.
func (c *Config) Validate() []string {
	var problems []string

	if c.Width < 160 || c.Width > MaxWidth {
		problems = append(problems, fmt.Sprintf("width must be between 160 and %d", MaxWidth))
	}
	if c.Height < 120 || c.Height > MaxHeight {
		problems = append(problems, fmt.Sprintf("height must be between 120 and %d", MaxHeight))
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		problems = append(problems, fmt.Sprintf("framerate must be between 1 and %d", MaxFramerate))
	}
	if c.Quality < 1 || c.Quality > 100 {
		problems = append(problems, "quality must be between 1 and 100")
	}
	if c.Scale < 1 || c.Scale > 100 {
		problems = append(problems, "scale must be between 1 and 100")
	}

	return problems
}

// ScaleFactor returns Scale as a fraction.
func (c Config) ScaleFactor() float64 {
	return float64(c.Scale) / 100
}

// Capabilities describes the accepted ranges for API clients.
func Capabilities() map[string]any {
	return map[string]any{
		"max_width":     MaxWidth,
		"max_height":    MaxHeight,
		"max_framerate": MaxFramerate,
		"scale_range":   []int{1, 100},
		"presets":       PresetNames(),
	}
}
