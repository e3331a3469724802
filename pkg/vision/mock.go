package vision

import (
	"image"
	"sync"
)

// Mock implements Library for testing.
// Every method can be customized via its function field; nil fields fall
// back to harmless defaults.
type Mock struct {
	DetectMarkersFunc       func(img *image.RGBA) (Detection, error)
	InterpolateBoardFunc    func(det Detection, board *CharucoBoard) (BoardObservation, error)
	CalibrateFunc           func(samples []BoardObservation, board *CharucoBoard, size image.Point) (Intrinsics, error)
	EstimateMarkerPosesFunc func(det Detection, markerLength float64, in Intrinsics) ([]Pose, error)
	EstimateBoardPoseFunc   func(det Detection, board *MarkerBoard, in Intrinsics) (Pose, bool, error)

	mu    sync.Mutex
	calls []string
}

// NewMock creates a mock that detects nothing and solves nothing.
func NewMock() *Mock {
	return &Mock{}
}

// Calls returns the names of the methods invoked so far.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallCount returns how many times method was invoked.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (m *Mock) record(method string) {
	m.mu.Lock()
	m.calls = append(m.calls, method)
	m.mu.Unlock()
}

// DetectMarkers calls DetectMarkersFunc and records the call.
func (m *Mock) DetectMarkers(img *image.RGBA) (Detection, error) {
	m.record("DetectMarkers")
	if m.DetectMarkersFunc != nil {
		return m.DetectMarkersFunc(img)
	}
	return Detection{}, nil
}

// InterpolateBoard calls InterpolateBoardFunc and records the call.
func (m *Mock) InterpolateBoard(det Detection, board *CharucoBoard) (BoardObservation, error) {
	m.record("InterpolateBoard")
	if m.InterpolateBoardFunc != nil {
		return m.InterpolateBoardFunc(det, board)
	}
	var obs BoardObservation
	for _, mk := range det.Markers {
		if !board.HasMarker(mk.ID) {
			continue
		}
		for k, c := range mk.Corners {
			obs.Corners = append(obs.Corners, c)
			obs.IDs = append(obs.IDs, board.CornerID(mk.ID, k))
		}
	}
	return obs, nil
}

// Calibrate calls CalibrateFunc and records the call.
func (m *Mock) Calibrate(samples []BoardObservation, board *CharucoBoard, size image.Point) (Intrinsics, error) {
	m.record("Calibrate")
	if m.CalibrateFunc != nil {
		return m.CalibrateFunc(samples, board, size)
	}
	return Intrinsics{}, ErrSolveFailed
}

// EstimateMarkerPoses calls EstimateMarkerPosesFunc and records the call.
func (m *Mock) EstimateMarkerPoses(det Detection, markerLength float64, in Intrinsics) ([]Pose, error) {
	m.record("EstimateMarkerPoses")
	if m.EstimateMarkerPosesFunc != nil {
		return m.EstimateMarkerPosesFunc(det, markerLength, in)
	}
	return make([]Pose, len(det.Markers)), nil
}

// EstimateBoardPose calls EstimateBoardPoseFunc and records the call.
func (m *Mock) EstimateBoardPose(det Detection, board *MarkerBoard, in Intrinsics) (Pose, bool, error) {
	m.record("EstimateBoardPose")
	if m.EstimateBoardPoseFunc != nil {
		return m.EstimateBoardPoseFunc(det, board, in)
	}
	return Pose{}, false, nil
}

// DrawMarkers records the call.
func (m *Mock) DrawMarkers(dst *image.RGBA, det Detection) {
	m.record("DrawMarkers")
}

// DrawBoardCorners records the call.
func (m *Mock) DrawBoardCorners(dst *image.RGBA, obs BoardObservation) {
	m.record("DrawBoardCorners")
}

// DrawAxes records the call.
func (m *Mock) DrawAxes(dst *image.RGBA, in Intrinsics, pose Pose, length float64) {
	m.record("DrawAxes")
}

// Close records the call.
func (m *Mock) Close() error {
	m.record("Close")
	return nil
}
