package tracker

import (
	"fmt"
	"strings"

	"github.com/teslashibe/go-webtrack/pkg/vision"
)

// Mode selects what the processing callback draws.
type Mode int

const (
	// ModeCalibrate highlights calibration board corners.
	ModeCalibrate Mode = iota
	// ModeMarkers draws a pose axis on every marker.
	ModeMarkers
	// ModeBoard draws the pose of the cube tracker.
	ModeBoard
)

var modeNames = map[Mode]string{
	ModeCalibrate: "calibrate",
	ModeMarkers:   "markers",
	ModeBoard:     "board",
}

// String returns the mode name.
func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("tracker: unknown mode %q", s)
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	if _, ok := modeNames[m]; !ok {
		return nil, fmt.Errorf("tracker: unknown mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Settings steer frame processing. A Settings value is replaced as a whole,
// never patched in place. Intrinsics present means the camera is calibrated.
type Settings struct {
	DrawMarkers  bool        `json:"draw_markers"`
	Mode         Mode        `json:"mode"`
	Capturing    bool        `json:"capturing"`
	CameraMatrix *[9]float64 `json:"camera_matrix,omitempty"`
	DistCoeffs   *[5]float64 `json:"dist_coeffs,omitempty"`
}

// DefaultSettings draws markers in marker mode with capture on and no
// intrinsics.
func DefaultSettings() Settings {
	return Settings{
		DrawMarkers: true,
		Mode:        ModeMarkers,
		Capturing:   true,
	}
}

// Calibrated reports whether both intrinsics are present.
func (s Settings) Calibrated() bool {
	return s.CameraMatrix != nil && s.DistCoeffs != nil
}

// Intrinsics returns the camera intrinsics when calibrated.
func (s Settings) Intrinsics() (vision.Intrinsics, bool) {
	if !s.Calibrated() {
		return vision.Intrinsics{}, false
	}
	return vision.Intrinsics{CameraMatrix: *s.CameraMatrix, DistCoeffs: *s.DistCoeffs}, true
}

// WithIntrinsics returns a copy of s carrying in.
func (s Settings) WithIntrinsics(in vision.Intrinsics) Settings {
	cm, dc := in.CameraMatrix, in.DistCoeffs
	s.CameraMatrix = &cm
	s.DistCoeffs = &dc
	return s
}

// WithoutIntrinsics returns a copy of s with the intrinsics removed.
func (s Settings) WithoutIntrinsics() Settings {
	s.CameraMatrix = nil
	s.DistCoeffs = nil
	return s
}

// clone copies the intrinsics arrays so a snapshot shares nothing with the
// caller.
func (s Settings) clone() Settings {
	if s.CameraMatrix != nil {
		cm := *s.CameraMatrix
		s.CameraMatrix = &cm
	}
	if s.DistCoeffs != nil {
		dc := *s.DistCoeffs
		s.DistCoeffs = &dc
	}
	return s
}
