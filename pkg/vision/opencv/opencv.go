// Package opencv binds vision.Library to OpenCV through gocv.
package opencv

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"math"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-webtrack/pkg/vision"
)

// solvePnP flag values (cv::SolvePnPMethod).
const (
	solvePnPIterative   = 0
	solvePnPIPPESquare  = 7
	minCalibrationViews = 1
	minViewPoints       = 4
)

var (
	markerColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	cornerColor = color.RGBA{R: 255, G: 0, B: 255, A: 255}
	axisColors  = [3]color.RGBA{
		{R: 255, A: 255},
		{G: 255, A: 255},
		{B: 255, A: 255},
	}
)

// Config holds adapter configuration.
type Config struct {
	Dictionary vision.Dictionary
	Logger     *slog.Logger
}

// Option is a functional option for the adapter.
type Option func(*Config)

// WithDictionary selects the ArUco dictionary used for detection.
func WithDictionary(d vision.Dictionary) Option {
	return func(c *Config) {
		c.Dictionary = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Library is a vision.Library backed by gocv.
type Library struct {
	cfg      Config
	detector gocv.ArucoDetector
	mu       sync.Mutex // gocv objects are not safe for concurrent use
	closed   bool
}

var _ vision.Library = (*Library)(nil)

// New creates the OpenCV adapter.
func New(opts ...Option) *Library {
	cfg := Config{
		Dictionary: vision.Dict4x4_1000,
		Logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	dict := gocv.GetPredefinedDictionary(gocv.ArucoDictionaryCode(cfg.Dictionary))
	params := gocv.NewArucoDetectorParameters()

	return &Library{
		cfg:      cfg,
		detector: gocv.NewArucoDetectorWithParams(dict, params),
	}
}

// DetectMarkers finds ArUco markers in img.
func (l *Library) DetectMarkers(img *image.RGBA) (vision.Detection, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return vision.Detection{}, vision.WrapError("detect", vision.ErrClosed)
	}

	src, err := toMat(img)
	if err != nil {
		return vision.Detection{}, vision.WrapError("detect", err)
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRAToGray)

	corners, ids, _ := l.detector.DetectMarkers(gray)

	det := vision.Detection{Markers: make([]vision.Marker, 0, len(ids))}
	for i, id := range ids {
		if i >= len(corners) || len(corners[i]) < 4 {
			continue
		}
		m := vision.Marker{ID: id}
		for k := 0; k < 4; k++ {
			m.Corners[k] = vision.Point{X: float64(corners[i][k].X), Y: float64(corners[i][k].Y)}
		}
		det.Markers = append(det.Markers, m)
	}
	return det, nil
}

// InterpolateBoard keeps the board's markers and numbers their corners.
func (l *Library) InterpolateBoard(det vision.Detection, board *vision.CharucoBoard) (vision.BoardObservation, error) {
	var obs vision.BoardObservation
	if board == nil {
		return obs, vision.WrapError("interpolate", fmt.Errorf("nil board"))
	}
	for _, m := range det.Markers {
		if !board.HasMarker(m.ID) {
			continue
		}
		for k, c := range m.Corners {
			obs.Corners = append(obs.Corners, c)
			obs.IDs = append(obs.IDs, board.CornerID(m.ID, k))
		}
	}
	return obs, nil
}

// Calibrate runs cv::calibrateCamera over every stored observation.
func (l *Library) Calibrate(samples []vision.BoardObservation, board *vision.CharucoBoard, size image.Point) (vision.Intrinsics, error) {
	var in vision.Intrinsics
	if board == nil {
		return in, vision.WrapError("calibrate", fmt.Errorf("nil board"))
	}
	if len(samples) < minCalibrationViews {
		return in, vision.WrapError("calibrate", vision.ErrNotEnoughPoints)
	}

	objectViews := make([][]gocv.Point3f, 0, len(samples))
	imageViews := make([][]gocv.Point2f, 0, len(samples))
	for i, s := range samples {
		objs, imgs := board.ObjectPoints(s)
		if len(objs) < minViewPoints {
			return in, vision.WrapError("calibrate",
				fmt.Errorf("sample %d: %w (%d corners)", i, vision.ErrNotEnoughPoints, len(objs)))
		}
		objectViews = append(objectViews, toPoint3f(objs))
		imageViews = append(imageViews, toPoint2f(imgs))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return in, vision.WrapError("calibrate", vision.ErrClosed)
	}

	objectPoints := gocv.NewPoints3fVectorFromPoints(objectViews)
	defer objectPoints.Close()
	imagePoints := gocv.NewPoints2fVectorFromPoints(imageViews)
	defer imagePoints.Close()

	cameraMatrix := gocv.NewMat()
	defer cameraMatrix.Close()
	distCoeffs := gocv.NewMat()
	defer distCoeffs.Close()
	rvecs := gocv.NewMat()
	defer rvecs.Close()
	tvecs := gocv.NewMat()
	defer tvecs.Close()

	rms := gocv.CalibrateCamera(objectPoints, imagePoints, size,
		&cameraMatrix, &distCoeffs, &rvecs, &tvecs, gocv.CalibFlag(0))
	if math.IsNaN(rms) || math.IsInf(rms, 0) || cameraMatrix.Empty() {
		return in, vision.WrapError("calibrate", vision.ErrSolveFailed)
	}

	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			in.CameraMatrix[r*3+c] = cameraMatrix.GetDoubleAt(r, c)
		}
	}
	for i := 0; i < 5 && i < int(distCoeffs.Total()); i++ {
		in.DistCoeffs[i] = distCoeffs.GetDoubleAt(0, i)
	}
	if err := in.CheckValid(); err != nil {
		return vision.Intrinsics{}, vision.WrapError("calibrate", fmt.Errorf("%w: %v", vision.ErrSolveFailed, err))
	}

	l.cfg.Logger.Debug("calibration solved", "views", len(samples), "rms", rms)
	return in, nil
}

// EstimateMarkerPoses solves each marker independently as a square.
func (l *Library) EstimateMarkerPoses(det vision.Detection, markerLength float64, in vision.Intrinsics) ([]vision.Pose, error) {
	if err := in.CheckValid(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, vision.WrapError("marker pose", vision.ErrClosed)
	}

	camera, dist := intrinsicsToMats(in)
	defer camera.Close()
	defer dist.Close()

	square := vision.SquareMarker(markerLength)
	poses := make([]vision.Pose, 0, len(det.Markers))
	for _, m := range det.Markers {
		pose, ok := solvePose(square[:], m.Corners[:], camera, dist, solvePnPIPPESquare)
		if !ok {
			return nil, vision.WrapError("marker pose", fmt.Errorf("%w: marker %d", vision.ErrSolveFailed, m.ID))
		}
		poses = append(poses, pose)
	}
	return poses, nil
}

// EstimateBoardPose solves the rigid board from every visible board marker.
func (l *Library) EstimateBoardPose(det vision.Detection, board *vision.MarkerBoard, in vision.Intrinsics) (vision.Pose, bool, error) {
	if err := in.CheckValid(); err != nil {
		return vision.Pose{}, false, err
	}
	objs, imgs := board.Match(det)
	if len(objs) < minViewPoints {
		return vision.Pose{}, false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return vision.Pose{}, false, vision.WrapError("board pose", vision.ErrClosed)
	}

	camera, dist := intrinsicsToMats(in)
	defer camera.Close()
	defer dist.Close()

	pose, ok := solvePose(objs, imgs, camera, dist, solvePnPIterative)
	if !ok {
		return vision.Pose{}, false, vision.WrapError("board pose", vision.ErrSolveFailed)
	}
	return pose, true, nil
}

// DrawMarkers outlines markers with their ids.
func (l *Library) DrawMarkers(dst *image.RGBA, det vision.Detection) {
	if det.Empty() {
		return
	}
	corners := make([][]gocv.Point2f, len(det.Markers))
	for i, m := range det.Markers {
		corners[i] = toPoint2f(m.Corners[:])
	}

	l.drawOn(dst, func(img *gocv.Mat) {
		gocv.ArucoDrawDetectedMarkers(*img, corners, det.IDs(), toScalar(markerColor))
	})
}

// DrawBoardCorners marks each observed board corner.
func (l *Library) DrawBoardCorners(dst *image.RGBA, obs vision.BoardObservation) {
	if obs.Len() == 0 {
		return
	}
	l.drawOn(dst, func(img *gocv.Mat) {
		for _, c := range obs.Corners {
			gocv.Circle(img, toImagePoint(c), 3, cornerColor, -1)
		}
	})
}

// DrawAxes projects and draws the pose axes.
func (l *Library) DrawAxes(dst *image.RGBA, in vision.Intrinsics, pose vision.Pose, length float64) {
	pts, ok := in.Project(vision.AxisPoints(length), pose)
	if !ok {
		return
	}
	l.drawOn(dst, func(img *gocv.Mat) {
		origin := toImagePoint(pts[0])
		for i := 0; i < 3; i++ {
			gocv.Line(img, origin, toImagePoint(pts[i+1]), axisColors[i], 2)
		}
	})
}

// Close releases the detector.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.detector.Close()
}

// drawOn runs fn on a BGR copy of dst and writes the result back. It does
// nothing once the library is closed.
func (l *Library) drawOn(dst *image.RGBA, fn func(img *gocv.Mat)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	src, err := toMat(dst)
	if err != nil {
		l.cfg.Logger.Debug("draw skipped", "error", err)
		return
	}
	defer src.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(src, &bgr, gocv.ColorBGRAToBGR)

	fn(&bgr)

	out, err := bgr.ToImage()
	if err != nil {
		l.cfg.Logger.Debug("draw write-back failed", "error", err)
		return
	}
	draw.Draw(dst, dst.Bounds(), out, out.Bounds().Min, draw.Src)
}

func toMat(img *image.RGBA) (gocv.Mat, error) {
	if img == nil || img.Bounds().Empty() {
		return gocv.Mat{}, vision.ErrBadImage
	}
	m, err := gocv.ImageToMatRGBA(img)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %v", vision.ErrBadImage, err)
	}
	return m, nil
}

func solvePose(objs []vision.Point3, imgs []vision.Point, camera, dist gocv.Mat, flags int) (vision.Pose, bool) {
	objectPoints := gocv.NewPoint3fVectorFromPoints(toPoint3f(objs))
	defer objectPoints.Close()
	imagePoints := gocv.NewPoint2fVectorFromPoints(toPoint2f(imgs))
	defer imagePoints.Close()

	rvec := gocv.NewMat()
	defer rvec.Close()
	tvec := gocv.NewMat()
	defer tvec.Close()

	if !gocv.SolvePnP(objectPoints, imagePoints, camera, dist, &rvec, &tvec, false, flags) {
		return vision.Pose{}, false
	}

	var pose vision.Pose
	for i := 0; i < 3; i++ {
		pose.Rvec[i] = rvec.GetDoubleAt(i, 0)
		pose.Tvec[i] = tvec.GetDoubleAt(i, 0)
	}
	return pose, true
}

func intrinsicsToMats(in vision.Intrinsics) (camera, dist gocv.Mat) {
	camera = gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			camera.SetDoubleAt(r, c, in.CameraMatrix[r*3+c])
		}
	}
	dist = gocv.NewMatWithSize(1, 5, gocv.MatTypeCV64F)
	for i, v := range in.DistCoeffs {
		dist.SetDoubleAt(0, i, v)
	}
	return camera, dist
}

func toPoint2f(pts []vision.Point) []gocv.Point2f {
	out := make([]gocv.Point2f, len(pts))
	for i, p := range pts {
		out[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
	}
	return out
}

func toPoint3f(pts []vision.Point3) []gocv.Point3f {
	out := make([]gocv.Point3f, len(pts))
	for i, p := range pts {
		out[i] = gocv.Point3f{X: float32(p.X), Y: float32(p.Y), Z: float32(p.Z)}
	}
	return out
}

func toImagePoint(p vision.Point) image.Point {
	return image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
}

// toScalar orders channels for a BGR Mat.
func toScalar(c color.RGBA) gocv.Scalar {
	return gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), float64(c.A))
}
