package vision

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Intrinsics are the solved camera parameters.
// CameraMatrix is the row-major 3x3 matrix [fx s cx; 0 fy cy; 0 0 1].
// DistCoeffs follow the OpenCV order k1, k2, p1, p2, k3.
type Intrinsics struct {
	CameraMatrix [9]float64 `json:"camera_matrix"`
	DistCoeffs   [5]float64 `json:"dist_coeffs"`
}

// NewIntrinsics builds Intrinsics from flattened slices, as published to
// settings observers. Missing distortion coefficients are zero.
func NewIntrinsics(cameraMatrix, distCoeffs []float64) (Intrinsics, error) {
	var in Intrinsics
	if len(cameraMatrix) != 9 {
		return in, fmt.Errorf("vision: camera matrix needs 9 values, got %d", len(cameraMatrix))
	}
	if len(distCoeffs) > 5 {
		return in, fmt.Errorf("vision: expected at most 5 distortion coefficients, got %d", len(distCoeffs))
	}
	copy(in.CameraMatrix[:], cameraMatrix)
	copy(in.DistCoeffs[:], distCoeffs)
	return in, nil
}

// Fx returns the horizontal focal length in pixels.
func (in Intrinsics) Fx() float64 { return in.CameraMatrix[0] }

// Fy returns the vertical focal length in pixels.
func (in Intrinsics) Fy() float64 { return in.CameraMatrix[4] }

// Cx returns the principal point x.
func (in Intrinsics) Cx() float64 { return in.CameraMatrix[2] }

// Cy returns the principal point y.
func (in Intrinsics) Cy() float64 { return in.CameraMatrix[5] }

// CheckValid rejects matrices a solver could not have produced.
func (in Intrinsics) CheckValid() error {
	if in.Fx() <= 0 || in.Fy() <= 0 {
		return fmt.Errorf("%w: invalid focal length (%v, %v)", ErrNoIntrinsics, in.Fx(), in.Fy())
	}
	if in.Cx() < 0 || in.Cy() < 0 {
		return fmt.Errorf("%w: invalid principal point (%v, %v)", ErrNoIntrinsics, in.Cx(), in.Cy())
	}
	for _, v := range in.CameraMatrix {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite camera matrix", ErrNoIntrinsics)
		}
	}
	for _, v := range in.DistCoeffs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite distortion coefficients", ErrNoIntrinsics)
		}
	}
	return nil
}

// Matrix returns the camera matrix as a gonum matrix.
func (in Intrinsics) Matrix() *mat.Dense {
	return mat.NewDense(3, 3, append([]float64(nil), in.CameraMatrix[:]...))
}

// Rodrigues converts a rotation vector into a rotation matrix.
func Rodrigues(rvec [3]float64) *mat.Dense {
	theta := math.Sqrt(rvec[0]*rvec[0] + rvec[1]*rvec[1] + rvec[2]*rvec[2])
	r := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	if theta < 1e-12 {
		return r
	}

	kx, ky, kz := rvec[0]/theta, rvec[1]/theta, rvec[2]/theta
	k := mat.NewDense(3, 3, []float64{
		0, -kz, ky,
		kz, 0, -kx,
		-ky, kx, 0,
	})

	var k2 mat.Dense
	k2.Mul(k, k)

	var term mat.Dense
	term.Scale(math.Sin(theta), k)
	r.Add(r, &term)
	term.Scale(1-math.Cos(theta), &k2)
	r.Add(r, &term)
	return r
}

// Project maps object points through a pose and the camera model, applying
// Brown-Conrady distortion. Points behind the camera are returned with ok=false.
func (in Intrinsics) Project(points []Point3, pose Pose) (out []Point, ok bool) {
	rot := Rodrigues(pose.Rvec)
	t := mat.NewVecDense(3, pose.Tvec[:])

	k1, k2, p1, p2, k3 := in.DistCoeffs[0], in.DistCoeffs[1], in.DistCoeffs[2], in.DistCoeffs[3], in.DistCoeffs[4]
	skew := in.CameraMatrix[1]

	ok = true
	out = make([]Point, len(points))
	for i, p := range points {
		var cam mat.VecDense
		cam.MulVec(rot, mat.NewVecDense(3, []float64{p.X, p.Y, p.Z}))
		cam.AddVec(&cam, t)

		z := cam.AtVec(2)
		if z <= 0 {
			ok = false
			continue
		}
		x := cam.AtVec(0) / z
		y := cam.AtVec(1) / z

		r2 := x*x + y*y
		radial := 1 + k1*r2 + k2*r2*r2 + k3*r2*r2*r2
		xd := x*radial + 2*p1*x*y + p2*(r2+2*x*x)
		yd := y*radial + p1*(r2+2*y*y) + 2*p2*x*y

		out[i] = Point{
			X: in.Fx()*xd + skew*yd + in.Cx(),
			Y: in.Fy()*yd + in.Cy(),
		}
	}
	return out, ok
}

// AxisPoints returns the origin and the three unit-axis tips scaled by length.
func AxisPoints(length float64) []Point3 {
	return []Point3{
		{0, 0, 0},
		{length, 0, 0},
		{0, length, 0},
		{0, 0, length},
	}
}
