// Package vision defines the capability object used to reach the native
// computer-vision library, plus the marker, board and intrinsics types that
// flow between the render loop, the tracker and the calibration session.
//
// Nothing in this package detects markers or solves calibration. The work is
// done by a Library implementation (see pkg/vision/opencv); this package only
// carries the data in and out.
package vision

import (
	"image"
)

// Point is a 2D image coordinate in pixels.
type Point struct {
	X, Y float64
}

// Point3 is a 3D object coordinate in meters.
type Point3 struct {
	X, Y, Z float64
}

// Marker is a single detected ArUco marker.
// Corners are ordered top-left, top-right, bottom-right, bottom-left.
type Marker struct {
	ID      int
	Corners [4]Point
}

// Center returns the mean of the marker corners.
func (m Marker) Center() Point {
	var c Point
	for _, p := range m.Corners {
		c.X += p.X
		c.Y += p.Y
	}
	c.X /= 4
	c.Y /= 4
	return c
}

// Detection is the marker-detection state of one frame.
type Detection struct {
	Markers []Marker
}

// Empty reports whether no marker was found.
func (d Detection) Empty() bool {
	return len(d.Markers) == 0
}

// IDs returns the marker ids in detection order.
func (d Detection) IDs() []int {
	ids := make([]int, len(d.Markers))
	for i, m := range d.Markers {
		ids[i] = m.ID
	}
	return ids
}

// BoardObservation holds the calibration-board corners found in one frame
// together with their board corner ids. Corners[i] belongs to IDs[i].
type BoardObservation struct {
	Corners []Point
	IDs     []int
}

// Len returns the number of observed corners.
func (o BoardObservation) Len() int {
	return len(o.IDs)
}

// Clone returns a deep copy so a stored sample cannot alias a frame buffer.
func (o BoardObservation) Clone() BoardObservation {
	return BoardObservation{
		Corners: append([]Point(nil), o.Corners...),
		IDs:     append([]int(nil), o.IDs...),
	}
}

// Pose is a rotation vector (Rodrigues) and a translation vector in meters.
type Pose struct {
	Rvec [3]float64
	Tvec [3]float64
}

// Library is the opaque handle onto the vision backend. All calls are
// synchronous. Errors returned here are the backend's "throw": callers decide
// whether to recover locally or to treat them as fatal.
type Library interface {
	// DetectMarkers finds ArUco markers in an RGBA image.
	DetectMarkers(img *image.RGBA) (Detection, error)

	// InterpolateBoard extracts the calibration-board corners from a detection.
	InterpolateBoard(det Detection, board *CharucoBoard) (BoardObservation, error)

	// Calibrate solves camera intrinsics from accumulated board observations.
	Calibrate(samples []BoardObservation, board *CharucoBoard, size image.Point) (Intrinsics, error)

	// EstimateMarkerPoses solves one pose per detected marker.
	EstimateMarkerPoses(det Detection, markerLength float64, in Intrinsics) ([]Pose, error)

	// EstimateBoardPose solves the pose of a rigid multi-marker board.
	// The bool is false when no board marker is visible.
	EstimateBoardPose(det Detection, board *MarkerBoard, in Intrinsics) (Pose, bool, error)

	// DrawMarkers outlines detected markers and labels their ids.
	DrawMarkers(dst *image.RGBA, det Detection)

	// DrawBoardCorners marks observed calibration-board corners.
	DrawBoardCorners(dst *image.RGBA, obs BoardObservation)

	// DrawAxes draws the x (red), y (green) and z (blue) axes of a pose.
	DrawAxes(dst *image.RGBA, in Intrinsics, pose Pose, length float64)

	// Close releases backend resources.
	Close() error
}
