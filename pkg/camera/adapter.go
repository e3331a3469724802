package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/image/draw"
)

// readRetryDelay spaces out reads after a transient driver error.
const readRetryDelay = 20 * time.Millisecond

// Device describes a video input.
type Device struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Stream is a live video stream from one device.
type Stream interface {
	// Read blocks for the next frame. release must be called once the image
	// is no longer used.
	Read() (img image.Image, release func(), err error)

	// Close stops every track of the stream.
	Close() error
}

// Backend is the platform camera API.
type Backend interface {
	Devices() ([]Device, error)

	// Open requests a stream. An empty id selects the default device.
	Open(ctx context.Context, id string, cfg Config) (Stream, error)
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// WithScaler replaces the interpolator used to fit frames into the capture
// buffer.
func WithScaler(s draw.Scaler) Option {
	return func(a *Adapter) {
		a.scaler = s
	}
}

// Adapter owns the active stream and copies its newest frame on Capture.
type Adapter struct {
	backend Backend
	manager *Manager
	logger  *slog.Logger
	scaler  draw.Scaler

	selectMu sync.Mutex // serializes SelectDevice and Close

	mu       sync.Mutex
	stream   Stream
	deviceID string
	size     image.Point
	latest   *image.RGBA
	frames   uint64
	stop     context.CancelFunc
	pumpDone chan struct{}
	onResize func(width, height int)
	closed   bool
}

// NewAdapter creates an adapter with no active stream. Capture constraints
// come from manager's current config.
func NewAdapter(backend Backend, manager *Manager, opts ...Option) *Adapter {
	a := &Adapter{
		backend: backend,
		manager: manager,
		logger:  slog.Default(),
		scaler:  draw.ApproxBiLinear,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "camera")
	return a
}

// OnResize registers the hook called with the negotiated resolution of each
// new stream, before frames from it are captured. A later registration
// replaces an earlier one.
func (a *Adapter) OnResize(fn func(width, height int)) {
	a.mu.Lock()
	a.onResize = fn
	a.mu.Unlock()
}

// ListDevices enumerates video inputs without touching the active stream.
func (a *Adapter) ListDevices() ([]Device, error) {
	devices, err := a.backend.Devices()
	if err != nil {
		return nil, fmt.Errorf("camera: enumerate devices: %w", err)
	}
	return devices, nil
}

// SelectDevice switches to the device with the given id, or the default
// device when id is empty.
//
// The previous stream is always stopped first, so a rejected request leaves
// no stream running. Rejections are returned as *UnavailableError and are
// not retried.
func (a *Adapter) SelectDevice(ctx context.Context, id string) error {
	a.selectMu.Lock()
	defer a.selectMu.Unlock()

	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if err := a.stopStream(); err != nil {
		a.logger.Warn("failed to stop previous stream", "error", err)
	}

	cfg := a.manager.GetConfig()
	stream, err := a.backend.Open(ctx, id, cfg)
	if err != nil {
		a.logger.Warn("camera unavailable", "device", id, "error", err)
		return &UnavailableError{DeviceID: id, Err: err}
	}

	first, err := readFrame(stream)
	if err != nil {
		return multierr.Append(&UnavailableError{DeviceID: id, Err: err}, stream.Close())
	}
	size := first.Bounds().Size()

	pumpCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	a.mu.Lock()
	a.stream = stream
	a.deviceID = id
	a.size = size
	a.latest = first
	a.frames = 1
	a.stop = cancel
	a.pumpDone = done
	resize := a.onResize
	a.mu.Unlock()

	a.logger.Info("camera selected", "device", id, "width", size.X, "height", size.Y,
		"requested_width", cfg.Width, "requested_height", cfg.Height)

	if resize != nil {
		resize(size.X, size.Y)
	}

	go a.pump(pumpCtx, stream, done)
	return nil
}

// Reopen restarts the active device with the current config.
func (a *Adapter) Reopen(ctx context.Context) error {
	return a.SelectDevice(ctx, a.DeviceID())
}

// DeviceID returns the selected device id.
func (a *Adapter) DeviceID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deviceID
}

// Size returns the negotiated resolution of the active stream.
func (a *Adapter) Size() image.Point {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Active reports whether a stream is running.
func (a *Adapter) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream != nil
}

// Frames returns how many frames the active stream has delivered.
func (a *Adapter) Frames() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames
}

// Capture scales the newest frame into dst. It implements render.FrameSource.
func (a *Adapter) Capture(dst *image.RGBA) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.latest == nil {
		return ErrNoStream
	}
	if a.latest.Bounds().Size() == dst.Bounds().Size() {
		copy(dst.Pix, a.latest.Pix)
		return nil
	}
	a.scaler.Scale(dst, dst.Bounds(), a.latest, a.latest.Bounds(), draw.Src, nil)
	return nil
}

// Close stops the active stream. The adapter cannot be used afterwards.
func (a *Adapter) Close() error {
	a.selectMu.Lock()
	defer a.selectMu.Unlock()

	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return a.stopStream()
}

// stopStream closes the active stream and waits for its pump to exit.
func (a *Adapter) stopStream() error {
	a.mu.Lock()
	stream, cancel, done := a.stream, a.stop, a.pumpDone
	a.stream, a.stop, a.pumpDone = nil, nil, nil
	a.latest = nil
	a.mu.Unlock()

	if stream == nil {
		return nil
	}
	cancel()
	// Closing the tracks unblocks a pending Read.
	err := stream.Close()
	<-done
	a.logger.Debug("stream stopped")
	return err
}

func (a *Adapter) pump(ctx context.Context, stream Stream, done chan struct{}) {
	defer close(done)
	for {
		img, err := readFrame(stream)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrClosed) {
				a.logger.Warn("stream ended", "error", err)
				return
			}
			a.logger.Debug("frame read failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(readRetryDelay):
			}
			continue
		}

		a.mu.Lock()
		if a.stream == stream {
			a.latest = img
			a.frames++
		}
		a.mu.Unlock()
	}
}

// readFrame reads one frame and copies it out of the driver's buffer.
func readFrame(stream Stream) (*image.RGBA, error) {
	img, release, err := stream.Read()
	if release != nil {
		defer release()
	}
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out, nil
}
