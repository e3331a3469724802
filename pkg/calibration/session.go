// Package calibration accumulates Charuco board observations and turns them
// into camera intrinsics.
//
// A Session moves between three states:
//
//	Empty --capture--> Accumulating(n) --capture--> Accumulating(n+1)
//	Accumulating --calibrate ok--> Calibrated
//	Accumulating --calibrate fail--> Empty
//	any --clear--> Empty
//
// Callers gate Calibrate behind MinSamples; the session itself only refuses
// to solve with zero samples.
package calibration

import (
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/teslashibe/go-webtrack/pkg/vision"
)

// MinSamples is how many board poses the UI asks for before calibrating.
const MinSamples = 10

// State is the lifecycle stage of a session.
type State int

const (
	Empty State = iota
	Accumulating
	Calibrated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Accumulating:
		return "accumulating"
	case Calibrated:
		return "calibrated"
	default:
		return "unknown"
	}
}

// Solver runs the external calibration solve.
type Solver interface {
	Calibrate(samples []vision.BoardObservation, size image.Point) (vision.Intrinsics, error)
}

// LibrarySolver solves against a fixed Charuco board with a vision library.
type LibrarySolver struct {
	Lib   vision.Library
	Board *vision.CharucoBoard
}

// NewLibrarySolver returns a solver for board using lib.
func NewLibrarySolver(lib vision.Library, board *vision.CharucoBoard) *LibrarySolver {
	return &LibrarySolver{Lib: lib, Board: board}
}

// Calibrate implements Solver.
func (s *LibrarySolver) Calibrate(samples []vision.BoardObservation, size image.Point) (vision.Intrinsics, error) {
	return s.Lib.Calibrate(samples, s.Board, size)
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithImageSize sets the frame size passed to the solver.
func WithImageSize(size image.Point) Option {
	return func(s *Session) {
		s.size = size
	}
}

// Session holds the captured samples and the calibration result.
type Session struct {
	id     string
	solver Solver
	logger *slog.Logger

	solveMu sync.Mutex // one solve at a time

	mu         sync.Mutex
	size       image.Point
	samples    []vision.BoardObservation
	state      State
	intrinsics vision.Intrinsics

	onIntrinsics func(vision.Intrinsics)
	onCount      func(int)
}

// NewSession creates an empty session.
func NewSession(solver Solver, opts ...Option) *Session {
	s := &Session{
		id:     uuid.NewString(),
		solver: solver,
		logger: slog.Default(),
		size:   image.Pt(640, 480),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "calibration", "session", s.id)
	return s
}

// ID identifies the session in logs.
func (s *Session) ID() string {
	return s.id
}

// OnIntrinsicsReady registers the handler for solved intrinsics. A later
// registration replaces an earlier one.
func (s *Session) OnIntrinsicsReady(fn func(vision.Intrinsics)) {
	s.mu.Lock()
	s.onIntrinsics = fn
	s.mu.Unlock()
}

// OnSampleCountChanged registers the handler for sample count updates. A
// later registration replaces an earlier one.
func (s *Session) OnSampleCountChanged(fn func(int)) {
	s.mu.Lock()
	s.onCount = fn
	s.mu.Unlock()
}

// SetImageSize records the frame size the samples were taken at.
func (s *Session) SetImageSize(size image.Point) {
	s.mu.Lock()
	s.size = size
	s.mu.Unlock()
}

// CaptureSample appends obs when det contains at least one marker. It reports
// whether a sample was added.
func (s *Session) CaptureSample(det vision.Detection, obs vision.BoardObservation) bool {
	if det.Empty() {
		return false
	}

	s.mu.Lock()
	s.samples = append(s.samples, obs.Clone())
	n := len(s.samples)
	if s.state == Empty {
		s.state = Accumulating
	}
	notify := s.onCount
	s.mu.Unlock()

	s.logger.Debug("board pose captured", "samples", n, "corners", obs.Len())
	if notify != nil {
		notify(n)
	}
	return true
}

// Clear discards every sample and any result.
func (s *Session) Clear() {
	s.mu.Lock()
	s.samples = nil
	s.state = Empty
	s.intrinsics = vision.Intrinsics{}
	notify := s.onCount
	s.mu.Unlock()

	s.logger.Debug("board poses cleared")
	if notify != nil {
		notify(0)
	}
}

// Calibrate solves for intrinsics from every captured sample.
//
// With no samples it returns ErrNoSamples and changes nothing. A failed solve
// discards all samples and returns a *SolveError.
func (s *Session) Calibrate() error {
	s.solveMu.Lock()
	defer s.solveMu.Unlock()

	s.mu.Lock()
	if len(s.samples) == 0 {
		s.mu.Unlock()
		return ErrNoSamples
	}
	samples := append([]vision.BoardObservation(nil), s.samples...)
	size := s.size
	s.mu.Unlock()

	s.logger.Info("calibrating", "samples", len(samples), "width", size.X, "height", size.Y)
	in, err := s.solver.Calibrate(samples, size)
	if err != nil {
		s.mu.Lock()
		s.samples = nil
		s.state = Empty
		notify := s.onCount
		s.mu.Unlock()

		s.logger.Warn("calibration failed, samples discarded", "samples", len(samples), "error", err)
		if notify != nil {
			notify(0)
		}
		return &SolveError{Samples: len(samples), Err: err}
	}

	s.mu.Lock()
	s.state = Calibrated
	s.intrinsics = in
	notify := s.onIntrinsics
	s.mu.Unlock()

	s.logger.Info("calibration complete",
		"fx", in.Fx(), "fy", in.Fy(), "cx", in.Cx(), "cy", in.Cy())
	if notify != nil {
		notify(in)
	}
	return nil
}

// Count returns the number of captured samples.
func (s *Session) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Intrinsics returns the solved intrinsics and whether the session is
// calibrated.
func (s *Session) Intrinsics() (vision.Intrinsics, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intrinsics, s.state == Calibrated
}

// Progress formats the calibration status line: "Yes" once calibrated,
// otherwise the captured count against MinSamples.
func Progress(n int, calibrated bool) string {
	if calibrated {
		return "Yes"
	}
	return fmt.Sprintf("No (%d/%d)", n, MinSamples)
}
