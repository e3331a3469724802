package render

import (
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// Config holds render loop configuration.
type Config struct {
	// Buffer size in pixels. Camera selection resizes it to the negotiated resolution.
	Width  int
	Height int

	// FPS caps how often frames are processed.
	FPS float64

	// RefreshRate is how often the display offers a frame opportunity (Hz).
	RefreshRate float64

	Clock  clock.Clock
	Logger *slog.Logger
}

// Option is a functional option for the render loop.
type Option func(*Config)

// WithSize sets the initial buffer size.
func WithSize(width, height int) Option {
	return func(c *Config) {
		c.Width = width
		c.Height = height
	}
}

// WithFrameRate sets the processing frame rate cap.
func WithFrameRate(fps float64) Option {
	return func(c *Config) {
		c.FPS = fps
	}
}

// WithRefreshRate sets the display opportunity rate.
func WithRefreshRate(hz float64) Option {
	return func(c *Config) {
		c.RefreshRate = hz
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *Config) {
		c.Clock = clk
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns a 640x480 loop processing 30 FPS on a 60 Hz display.
func DefaultConfig() Config {
	return Config{
		Width:       640,
		Height:      480,
		FPS:         30,
		RefreshRate: 60,
		Clock:       clock.New(),
		Logger:      slog.Default(),
	}
}

// frameInterval converts a rate to the minimum spacing between ticks.
func frameInterval(fps float64) time.Duration {
	return time.Duration(float64(time.Second) / fps)
}

// throttleWindow is the minimum spacing enforced between processed ticks.
// Opportunities land on the refresh grid, whose period does not divide the
// frame interval exactly, so up to half a refresh period (capped at half the
// frame interval) is forgiven. Spacing stays within one refresh period of
// 1s/fps.
func throttleWindow(fps, refreshHz float64) time.Duration {
	interval := frameInterval(fps)
	slack := min(frameInterval(refreshHz)/2, interval/2)
	return interval - slack
}
