// Package tracker is the per-frame processing callback: it detects markers,
// draws the overlay for the current mode and feeds board observations to
// the calibration session.
package tracker

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-webtrack/pkg/calibration"
	"github.com/teslashibe/go-webtrack/pkg/vision"
)

// Config holds the board geometry and drawing sizes.
type Config struct {
	// Board is the Charuco board used for calibration.
	Board *vision.CharucoBoard

	// Tracker is the rigid marker board tracked in ModeBoard.
	Tracker *vision.MarkerBoard

	// MarkerLength is the printed side of a single marker in meters.
	MarkerLength float64

	// AxisLength is the length of drawn pose axes in meters.
	AxisLength float64

	Logger *slog.Logger
}

// Option is a functional option for the tracker.
type Option func(*Config)

// WithTrackerBoard sets the board tracked in ModeBoard.
func WithTrackerBoard(b *vision.MarkerBoard) Option {
	return func(c *Config) {
		c.Tracker = b
	}
}

// WithMarkerLength sets the marker side used for per-marker poses.
func WithMarkerLength(length float64) Option {
	return func(c *Config) {
		c.MarkerLength = length
	}
}

// WithAxisLength sets the drawn axis length.
func WithAxisLength(length float64) Option {
	return func(c *Config) {
		c.AxisLength = length
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Status is a point-in-time summary for the dashboard.
type Status struct {
	Mode           Mode   `json:"mode"`
	Capturing      bool   `json:"capturing"`
	Calibrated     bool   `json:"calibrated"`
	PoseCount      int    `json:"pose_count"`
	Progress       string `json:"progress"`
	Markers        int    `json:"markers"`
	BoardCorners   int    `json:"board_corners"`
	TrackerVisible bool   `json:"tracker_visible"`
}

// Tracker processes frames and owns the settings snapshot.
type Tracker struct {
	cfg     Config
	session *calibration.Session

	settings atomic.Pointer[Settings]

	mu           sync.Mutex
	latest       vision.Detection
	latestObs    vision.BoardObservation
	frameSize    image.Point
	trackerPose  vision.Pose
	trackerFound bool
	onSettings   func(Settings)
	onPoseCount  func(int)
}

// New creates a tracker bound to session. The tracker registers itself as the
// session's observer; use OnSettingsChanged and OnPoseCountChanged to follow
// updates.
func New(session *calibration.Session, settings Settings, opts ...Option) (*Tracker, error) {
	board := vision.DefaultCharucoBoard()
	cfg := Config{
		Board:        board,
		MarkerLength: board.MarkerLength,
		AxisLength:   board.SquareLength,
		Logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Tracker == nil {
		cube, err := vision.CubeTracker(cfg.Board.Dictionary)
		if err != nil {
			return nil, fmt.Errorf("tracker: load cube tracker: %w", err)
		}
		cfg.Tracker = cube
	}
	cfg.Logger = cfg.Logger.With("component", "tracker")

	t := &Tracker{cfg: cfg, session: session}
	t.ApplySettings(settings)

	session.OnIntrinsicsReady(t.publishIntrinsics)
	session.OnSampleCountChanged(func(n int) {
		t.mu.Lock()
		fn := t.onPoseCount
		t.mu.Unlock()
		if fn != nil {
			fn(n)
		}
	})
	return t, nil
}

// Settings returns the current snapshot.
func (t *Tracker) Settings() Settings {
	return t.settings.Load().clone()
}

// ApplySettings replaces the settings snapshot. Frames processed afterwards
// see the new values.
func (t *Tracker) ApplySettings(s Settings) {
	snap := s.clone()
	t.settings.Store(&snap)
	t.cfg.Logger.Debug("settings applied", "mode", s.Mode, "draw_markers", s.DrawMarkers,
		"capturing", s.Capturing, "calibrated", s.Calibrated())
}

// OnSettingsChanged registers the handler called when the tracker itself
// changes settings, i.e. after a successful calibration.
func (t *Tracker) OnSettingsChanged(fn func(Settings)) {
	t.mu.Lock()
	t.onSettings = fn
	t.mu.Unlock()
}

// OnPoseCountChanged registers the handler for captured board pose counts.
func (t *Tracker) OnPoseCountChanged(fn func(int)) {
	t.mu.Lock()
	t.onPoseCount = fn
	t.mu.Unlock()
}

func (t *Tracker) publishIntrinsics(in vision.Intrinsics) {
	next := t.Settings().WithIntrinsics(in)
	t.ApplySettings(next)

	t.mu.Lock()
	fn := t.onSettings
	t.mu.Unlock()
	if fn != nil {
		fn(next)
	}
}

// ProcessFrame is the render loop frame handler. It copies src into dst,
// detects markers and draws the overlay selected by the settings.
//
// Detection failures are returned and stop the loop. Pose solves that fail
// for lack of points only skip the overlay.
func (t *Tracker) ProcessFrame(lib vision.Library, src, dst *image.RGBA) error {
	s := t.settings.Load()

	copyFrame(dst, src)

	det, err := lib.DetectMarkers(src)
	if err != nil {
		return fmt.Errorf("tracker: detect markers: %w", err)
	}

	var obs vision.BoardObservation
	if !det.Empty() {
		obs, err = lib.InterpolateBoard(det, t.cfg.Board)
		if err != nil {
			return fmt.Errorf("tracker: interpolate board: %w", err)
		}
	}

	if s.DrawMarkers && !det.Empty() {
		lib.DrawMarkers(dst, det)
	}

	var (
		pose  vision.Pose
		found bool
	)
	in, calibrated := s.Intrinsics()

	switch s.Mode {
	case ModeCalibrate:
		if obs.Len() > 0 {
			lib.DrawBoardCorners(dst, obs)
		}

	case ModeMarkers:
		if calibrated && !det.Empty() {
			poses, err := lib.EstimateMarkerPoses(det, t.cfg.MarkerLength, in)
			if err := t.skippable(err); err != nil {
				return err
			}
			for _, p := range poses {
				lib.DrawAxes(dst, in, p, t.cfg.AxisLength)
			}
		}

	case ModeBoard:
		if calibrated && !det.Empty() {
			pose, found, err = lib.EstimateBoardPose(det, t.cfg.Tracker, in)
			if err := t.skippable(err); err != nil {
				return err
			}
			if found {
				lib.DrawAxes(dst, in, pose, t.cfg.AxisLength)
			}
		}
	}

	t.mu.Lock()
	t.latest = det
	t.latestObs = obs
	t.frameSize = src.Bounds().Size()
	t.trackerPose, t.trackerFound = pose, found
	t.mu.Unlock()
	return nil
}

// skippable drops solver failures that only mean "not enough of the target
// is visible".
func (t *Tracker) skippable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, vision.ErrNotEnoughPoints) || errors.Is(err, vision.ErrSolveFailed) {
		t.cfg.Logger.Debug("pose skipped", "error", err)
		return nil
	}
	return fmt.Errorf("tracker: estimate pose: %w", err)
}

// CaptureBoardPose stores the board observation of the latest frame. It
// reports false when that frame had no markers.
func (t *Tracker) CaptureBoardPose() bool {
	t.mu.Lock()
	det, obs, size := t.latest, t.latestObs, t.frameSize
	t.mu.Unlock()

	if size != (image.Point{}) {
		t.session.SetImageSize(size)
	}
	return t.session.CaptureSample(det, obs)
}

// Calibrate runs the calibration solve. On success the intrinsics are
// written into the settings.
func (t *Tracker) Calibrate() error {
	return t.session.Calibrate()
}

// ClearBoardPoses discards the captured board poses.
func (t *Tracker) ClearBoardPoses() {
	t.session.Clear()
}

// ResetCalibration discards captured poses and the intrinsics in the
// settings.
func (t *Tracker) ResetCalibration() {
	t.session.Clear()
	next := t.Settings().WithoutIntrinsics()
	t.ApplySettings(next)

	t.mu.Lock()
	fn := t.onSettings
	t.mu.Unlock()
	if fn != nil {
		fn(next)
	}
}

// PoseCount returns the number of captured board poses.
func (t *Tracker) PoseCount() int {
	return t.session.Count()
}

// LastDetection returns the markers found in the latest frame.
func (t *Tracker) LastDetection() vision.Detection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest
}

// TrackerPose returns the cube tracker pose from the latest frame.
func (t *Tracker) TrackerPose() (vision.Pose, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trackerPose, t.trackerFound
}

// Status summarizes the tracker for the dashboard.
func (t *Tracker) Status() Status {
	s := t.Settings()
	n := t.session.Count()

	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		Mode:           s.Mode,
		Capturing:      s.Capturing,
		Calibrated:     s.Calibrated(),
		PoseCount:      n,
		Progress:       calibration.Progress(n, s.Calibrated()),
		Markers:        len(t.latest.Markers),
		BoardCorners:   t.latestObs.Len(),
		TrackerVisible: t.trackerFound,
	}
}

func copyFrame(dst, src *image.RGBA) {
	if dst.Bounds() == src.Bounds() && dst.Stride == src.Stride {
		copy(dst.Pix, src.Pix)
		return
	}
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
}
