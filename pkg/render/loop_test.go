package render

import (
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/teslashibe/go-webtrack/pkg/vision"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	mu    sync.Mutex
	err   error
	calls int
	fill  color.RGBA
}

func (f *fakeSource) Capture(dst *image.RGBA) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	dst.SetRGBA(0, 0, f.fill)
	return nil
}

type fakeSurface struct {
	mu        sync.Mutex
	err       error
	presented []*image.RGBA
	signal    chan struct{}
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{signal: make(chan struct{}, 1024)}
}

func (f *fakeSurface) Present(img *image.RGBA) error {
	f.mu.Lock()
	f.presented = append(f.presented, img)
	err := f.err
	f.mu.Unlock()
	f.signal <- struct{}{}
	return err
}

func (f *fakeSurface) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.presented)
}

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a presented frame")
	}
}

func newTestLoop(source FrameSource, surface Surface, fps float64) (*Loop, *clock.Mock) {
	clk := clock.NewMock()
	l := New(vision.NewMock(), source, surface,
		WithSize(8, 6),
		WithFrameRate(fps),
		WithClock(clk),
		WithLogger(quietLogger()),
	)
	return l, clk
}

func TestTick_ThrottlesToFrameRate(t *testing.T) {
	surface := newFakeSurface()
	l, clk := newTestLoop(&fakeSource{}, surface, 30)

	start := clk.Now()
	var processedAt []time.Time
	for i := 0; i < 100; i++ {
		now := start.Add(time.Duration(i) * 10 * time.Millisecond)
		did, err := l.tick(now)
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		if did {
			processedAt = append(processedAt, now)
		}
	}

	// 100 opportunities over one second must not all be processed
	if n := len(processedAt); n < 30 || n > 34 {
		t.Errorf("processed %d of 100 opportunities at 30 FPS, want about 30", n)
	}
	if got := surface.count(); got != len(processedAt) {
		t.Errorf("presented %d frames, processed %d", got, len(processedAt))
	}

	stats := l.Stats()
	if stats.Processed+stats.Skipped != 100 {
		t.Errorf("stats: processed %d + skipped %d != 100", stats.Processed, stats.Skipped)
	}
}

func TestTick_MinimumSpacing(t *testing.T) {
	rates := []float64{1, 10, 24, 30, 60, 144}

	for _, fps := range rates {
		l, clk := newTestLoop(nil, nil, fps)
		// spacing may fall short of 1s/fps by less than one refresh period
		minimum := frameInterval(fps) - frameInterval(60)

		start := clk.Now()
		var last time.Time
		for i := 0; i < 1000; i++ {
			now := start.Add(time.Duration(i) * 7 * time.Millisecond)
			did, _ := l.tick(now)
			if !did {
				continue
			}
			if !last.IsZero() && now.Sub(last) < minimum {
				t.Errorf("fps=%v: ticks %v apart, minimum %v", fps, now.Sub(last), minimum)
			}
			last = now
		}
	}
}

func TestTick_RefreshGridKeepsFullRate(t *testing.T) {
	tests := []struct {
		fps       float64
		refreshHz float64
		want      int
	}{
		{fps: 30, refreshHz: 60, want: 30},
		{fps: 60, refreshHz: 60, want: 60},
		{fps: 20, refreshHz: 60, want: 20},
		{fps: 24, refreshHz: 144, want: 24},
		{fps: 144, refreshHz: 60, want: 60},
	}

	for _, tt := range tests {
		clk := clock.NewMock()
		l := New(vision.NewMock(), nil, nil,
			WithSize(8, 6),
			WithFrameRate(tt.fps),
			WithRefreshRate(tt.refreshHz),
			WithClock(clk),
			WithLogger(quietLogger()),
		)

		// one second of display opportunities on the refresh grid
		start := clk.Now()
		step := frameInterval(tt.refreshHz)
		processed := 0
		for i := 0; i < int(tt.refreshHz); i++ {
			did, err := l.tick(start.Add(time.Duration(i) * step))
			if err != nil {
				t.Fatalf("tick %d: %v", i, err)
			}
			if did {
				processed++
			}
		}
		if processed != tt.want {
			t.Errorf("fps=%v refresh=%vHz: processed %d of %d opportunities, want %d",
				tt.fps, tt.refreshHz, processed, int(tt.refreshHz), tt.want)
		}
	}
}

func TestTick_CaptureFailureIsNotFatal(t *testing.T) {
	source := &fakeSource{err: errors.New("no context")}
	surface := newFakeSurface()
	l, clk := newTestLoop(source, surface, 30)

	handled := 0
	l.OnFrame(func(lib vision.Library, src, dst *image.RGBA) error {
		handled++
		return nil
	})

	did, err := l.tick(clk.Now())
	if err != nil || !did {
		t.Fatalf("tick: did=%v err=%v", did, err)
	}
	if handled != 1 {
		t.Errorf("handler should still run after a capture failure, ran %d times", handled)
	}
	if surface.count() != 1 {
		t.Errorf("frame should still be presented, got %d", surface.count())
	}
	if l.Stats().CaptureErrors != 1 {
		t.Errorf("CaptureErrors: got %d, want 1", l.Stats().CaptureErrors)
	}
}

func TestTick_PresentFailureIsNotFatal(t *testing.T) {
	surface := newFakeSurface()
	surface.err = errors.New("no drawing context")
	l, clk := newTestLoop(&fakeSource{}, surface, 30)

	if _, err := l.tick(clk.Now()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if l.Stats().PresentErrors != 1 {
		t.Errorf("PresentErrors: got %d, want 1", l.Stats().PresentErrors)
	}
}

func TestOnFrame_LastHandlerWins(t *testing.T) {
	l, clk := newTestLoop(&fakeSource{}, nil, 30)

	var first, second int
	l.OnFrame(func(vision.Library, *image.RGBA, *image.RGBA) error { first++; return nil })
	l.OnFrame(func(vision.Library, *image.RGBA, *image.RGBA) error { second++; return nil })

	if _, err := l.tick(clk.Now()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if first != 0 || second != 1 {
		t.Errorf("handlers ran first=%d second=%d, want 0 and 1", first, second)
	}
}

func TestOnFrame_ReceivesBuffers(t *testing.T) {
	source := &fakeSource{fill: color.RGBA{R: 200, A: 255}}
	l, clk := newTestLoop(source, nil, 30)

	var gotLib vision.Library
	l.OnFrame(func(lib vision.Library, src, dst *image.RGBA) error {
		gotLib = lib
		if src.RGBAAt(0, 0).R != 200 {
			t.Errorf("src not captured before handler")
		}
		if src == dst {
			t.Errorf("src and dst must be distinct buffers")
		}
		return nil
	})

	if _, err := l.tick(clk.Now()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if gotLib == nil {
		t.Error("handler did not receive the library handle")
	}
}

func TestSetFrameRate(t *testing.T) {
	l, clk := newTestLoop(nil, nil, 10)

	if err := l.SetFrameRate(0); !errors.Is(err, ErrInvalidFrameRate) {
		t.Errorf("SetFrameRate(0): expected ErrInvalidFrameRate, got %v", err)
	}

	start := clk.Now()
	l.tick(start)
	// at 10 FPS the next tick is 100ms away
	if did, _ := l.tick(start.Add(50 * time.Millisecond)); did {
		t.Error("tick at +50ms should be throttled at 10 FPS")
	}

	if err := l.SetFrameRate(50); err != nil {
		t.Fatalf("SetFrameRate: %v", err)
	}
	// interval already scheduled by the previous tick still applies
	if did, _ := l.tick(start.Add(60 * time.Millisecond)); did {
		t.Error("rate change must not shorten the interval already scheduled")
	}
	l.tick(start.Add(100 * time.Millisecond))
	if did, _ := l.tick(start.Add(120 * time.Millisecond)); !did {
		t.Error("tick 20ms later should run at 50 FPS")
	}
	if l.FrameRate() != 50 {
		t.Errorf("FrameRate: got %v, want 50", l.FrameRate())
	}
}

func TestResize(t *testing.T) {
	l, _ := newTestLoop(nil, nil, 30)
	l.Resize(32, 24)
	if got := l.Size(); got != image.Pt(32, 24) {
		t.Errorf("Size: got %v, want 32x24", got)
	}
}

func TestStartStop(t *testing.T) {
	surface := newFakeSurface()
	l, clk := newTestLoop(&fakeSource{}, surface, 30)

	l.Start()
	l.Start() // no-op while running
	if !l.Running() {
		t.Fatal("loop should be running")
	}

	clk.Add(frameInterval(60))
	waitSignal(t, surface.signal)

	l.Stop()
	<-l.Done()
	if l.Running() {
		t.Error("loop should be stopped")
	}

	before := surface.count()
	for i := 0; i < 10; i++ {
		clk.Add(50 * time.Millisecond)
	}
	if after := surface.count(); after != before {
		t.Errorf("frames presented after Stop: before=%d after=%d", before, after)
	}

	// restart resumes presenting
	l.Start()
	clk.Add(100 * time.Millisecond)
	waitSignal(t, surface.signal)
	l.Stop()
	<-l.Done()
}

func TestStopAndWait_WaitsForTickInProgress(t *testing.T) {
	l, clk := newTestLoop(&fakeSource{}, nil, 30)

	entered := make(chan struct{})
	release := make(chan struct{})
	l.OnFrame(func(vision.Library, *image.RGBA, *image.RGBA) error {
		close(entered)
		<-release
		return nil
	})

	l.Start()
	clk.Add(frameInterval(60))
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("tick never started")
	}

	stopped := make(chan struct{})
	go func() {
		l.StopAndWait()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("StopAndWait returned while the handler was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("StopAndWait did not return after the tick finished")
	}
	if l.Running() {
		t.Error("loop should be stopped")
	}
}

func TestHandlerErrorStopsLoop(t *testing.T) {
	l, clk := newTestLoop(&fakeSource{}, nil, 30)
	boom := errors.New("incompatible image format")
	l.OnFrame(func(vision.Library, *image.RGBA, *image.RGBA) error { return boom })

	l.Start()
	clk.Add(frameInterval(60))

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after handler error")
	}
	if !errors.Is(l.Err(), boom) {
		t.Errorf("Err: got %v, want %v", l.Err(), boom)
	}
	if l.Running() {
		t.Error("loop should not be running after handler error")
	}
}
