// Package render drives the capture, process, present cycle at a capped
// frame rate.
//
// The display offers frame opportunities at its refresh rate. The loop polls
// every opportunity but only processes one when the configured frame interval
// has elapsed since the last processed tick, so detection and calibration work
// never runs faster than the requested FPS.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/teslashibe/go-webtrack/pkg/vision"
)

// ErrInvalidFrameRate is returned for non-positive frame rates.
var ErrInvalidFrameRate = errors.New("render: frame rate must be positive")

// FrameHandler processes one frame. src holds the captured image and dst is
// what gets presented. A returned error is treated as a programming error and
// stops the loop.
type FrameHandler func(lib vision.Library, src, dst *image.RGBA) error

// FrameSource copies the current camera frame into dst.
type FrameSource interface {
	Capture(dst *image.RGBA) error
}

// Surface displays a processed frame.
type Surface interface {
	Present(img *image.RGBA) error
}

// Stats counts loop activity since construction.
type Stats struct {
	Processed     uint64    `json:"processed"`
	Skipped       uint64    `json:"skipped"`
	CaptureErrors uint64    `json:"capture_errors"`
	PresentErrors uint64    `json:"present_errors"`
	LastTick      time.Time `json:"last_tick"`
}

// Loop is a single-flight render loop. One goroutine runs ticks; Stop only
// prevents the next tick from being scheduled.
type Loop struct {
	cfg     Config
	lib     vision.Library
	source  FrameSource
	surface Surface

	tickMu sync.Mutex // serializes ticks across restarts

	mu          sync.Mutex
	handler     FrameHandler
	interval    time.Duration // throttle window, see throttleWindow
	src, dst    *image.RGBA
	nextAllowed time.Time
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	err         error
	stats       Stats
}

// New creates a stopped loop.
func New(lib vision.Library, source FrameSource, surface Surface, opts ...Option) *Loop {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultConfig().FPS
	}
	if cfg.RefreshRate <= 0 {
		cfg.RefreshRate = DefaultConfig().RefreshRate
	}

	done := make(chan struct{})
	close(done)

	return &Loop{
		cfg:      cfg,
		lib:      lib,
		source:   source,
		surface:  surface,
		interval: throttleWindow(cfg.FPS, cfg.RefreshRate),
		src:      image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height)),
		dst:      image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height)),
		done:     done,
	}
}

// Start begins scheduling ticks. It is a no-op while already running.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	// Created before the goroutine so no opportunity is missed.
	ticker := l.cfg.Clock.Ticker(frameInterval(l.cfg.RefreshRate))

	l.running = true
	l.cancel = cancel
	l.err = nil
	l.done = make(chan struct{})

	go l.run(ctx, ticker, l.done)
	l.cfg.Logger.Info("render loop started", "fps", l.cfg.FPS, "refresh_hz", l.cfg.RefreshRate)
}

// Stop cancels the next scheduled tick. A tick in progress finishes.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	l.running = false
	l.cancel()
	l.cfg.Logger.Info("render loop stopped")
}

// StopAndWait stops the loop and blocks until a tick in progress has
// returned. Use it before releasing anything the frame handler touches.
func (l *Loop) StopAndWait() {
	l.Stop()
	<-l.Done()
}

// Running reports whether ticks are being scheduled.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Done is closed when the current run's goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Err returns the handler error that stopped the loop, if any.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// SetFrameRate changes the minimum inter-tick interval for later ticks.
func (l *Loop) SetFrameRate(fps float64) error {
	if fps <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidFrameRate, fps)
	}
	l.mu.Lock()
	l.cfg.FPS = fps
	l.interval = throttleWindow(fps, l.cfg.RefreshRate)
	l.mu.Unlock()
	return nil
}

// FrameRate returns the configured processing rate.
func (l *Loop) FrameRate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg.FPS
}

// OnFrame registers the frame handler, replacing any previous one.
func (l *Loop) OnFrame(handler FrameHandler) {
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()
}

// Resize reallocates the frame buffers. A tick in progress keeps the old ones.
func (l *Loop) Resize(width, height int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.src.Bounds().Dx() == width && l.src.Bounds().Dy() == height {
		return
	}
	l.src = image.NewRGBA(image.Rect(0, 0, width, height))
	l.dst = image.NewRGBA(image.Rect(0, 0, width, height))
	l.cfg.Width, l.cfg.Height = width, height
	l.cfg.Logger.Debug("render buffers resized", "width", width, "height", height)
}

// Size returns the frame buffer size.
func (l *Loop) Size() image.Point {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.Bounds().Size()
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Loop) run(ctx context.Context, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if _, err := l.tick(l.cfg.Clock.Now()); err != nil {
				l.fail(err, done)
				return
			}
		}
	}
}

// tick handles one display opportunity and reports whether it did work.
func (l *Loop) tick(now time.Time) (bool, error) {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	l.mu.Lock()
	if now.Before(l.nextAllowed) {
		l.stats.Skipped++
		l.mu.Unlock()
		return false, nil
	}
	l.nextAllowed = now.Add(l.interval)
	handler, src, dst := l.handler, l.src, l.dst
	l.mu.Unlock()

	captureFailed := false
	if l.source != nil {
		if err := l.source.Capture(src); err != nil {
			captureFailed = true
			l.cfg.Logger.Debug("frame capture failed, keeping previous frame", "error", err)
		}
	}

	if handler != nil {
		if err := handler(l.lib, src, dst); err != nil {
			return true, fmt.Errorf("render: frame handler: %w", err)
		}
	}

	presentFailed := false
	if l.surface != nil {
		if err := l.surface.Present(dst); err != nil {
			presentFailed = true
			l.cfg.Logger.Debug("present failed, frame dropped", "error", err)
		}
	}

	l.mu.Lock()
	l.stats.Processed++
	l.stats.LastTick = now
	if captureFailed {
		l.stats.CaptureErrors++
	}
	if presentFailed {
		l.stats.PresentErrors++
	}
	l.mu.Unlock()
	return true, nil
}

func (l *Loop) fail(err error, done chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.Logger.Error("render loop stopped on handler error", "error", err)
	if l.done != done {
		// a newer run owns the loop state
		return
	}
	l.err = err
	if l.running {
		l.running = false
		l.cancel()
	}
}
