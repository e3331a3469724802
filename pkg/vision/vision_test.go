package vision

import (
	"errors"
	"math"
	"testing"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestCharucoBoard_MarkerCount(t *testing.T) {
	b := DefaultCharucoBoard()
	if got := b.MarkerCount(); got != 17 {
		t.Errorf("MarkerCount: got %d, want 17", got)
	}
	if !b.HasMarker(0) || !b.HasMarker(16) {
		t.Error("HasMarker: expected ids 0 and 16 on the board")
	}
	if b.HasMarker(17) || b.HasMarker(-1) {
		t.Error("HasMarker: ids outside 0..16 should not be on the board")
	}
}

func TestCharucoBoard_MarkerCorners(t *testing.T) {
	b := DefaultCharucoBoard()
	margin := (b.SquareLength - b.MarkerLength) / 2

	tests := []struct {
		name   string
		id     int
		startX float64
		startY float64
	}{
		{"first marker in second square", 0, b.SquareLength + margin, margin},
		{"second marker in fourth square", 1, 3*b.SquareLength + margin, margin},
		{"first marker on second row", 2, margin, b.SquareLength + margin},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, ok := b.MarkerCorners(tc.id)
			if !ok {
				t.Fatalf("MarkerCorners(%d): not found", tc.id)
			}
			if !near(c[0].X, tc.startX) || !near(c[0].Y, tc.startY) {
				t.Errorf("top-left: got (%v, %v), want (%v, %v)", c[0].X, c[0].Y, tc.startX, tc.startY)
			}
			if !near(c[2].X-c[0].X, b.MarkerLength) || !near(c[2].Y-c[0].Y, b.MarkerLength) {
				t.Errorf("marker side: got (%v, %v), want %v", c[2].X-c[0].X, c[2].Y-c[0].Y, b.MarkerLength)
			}
		})
	}
}

func TestCharucoBoard_ObjectPoints(t *testing.T) {
	b := DefaultCharucoBoard()
	obs := BoardObservation{
		Corners: []Point{{1, 1}, {2, 2}, {3, 3}},
		IDs:     []int{b.CornerID(0, 0), 9999, b.CornerID(1, 2)},
	}

	objs, imgs := b.ObjectPoints(obs)
	if len(objs) != 2 || len(imgs) != 2 {
		t.Fatalf("ObjectPoints: got %d/%d points, want 2/2", len(objs), len(imgs))
	}
	if imgs[1] != (Point{3, 3}) {
		t.Errorf("ObjectPoints: image points lost pairing, got %+v", imgs[1])
	}
	want, _ := b.MarkerCorners(1)
	if objs[1] != want[2] {
		t.Errorf("ObjectPoints: got %+v, want %+v", objs[1], want[2])
	}
}

func TestCubeTracker(t *testing.T) {
	board, err := CubeTracker(Dict4x4_1000)
	if err != nil {
		t.Fatalf("CubeTracker: %v", err)
	}
	if board.Name != "cube" {
		t.Errorf("Name: got %q, want cube", board.Name)
	}
	ids := board.IDs()
	want := []int{20, 21, 22, 23, 24}
	if len(ids) != len(want) {
		t.Fatalf("IDs: got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("IDs[%d]: got %d, want %d", i, ids[i], want[i])
		}
	}

	charuco := DefaultCharucoBoard()
	for _, id := range ids {
		if charuco.HasMarker(id) {
			t.Errorf("tracker marker %d collides with the calibration board", id)
		}
	}
}

func TestParseTracker(t *testing.T) {
	data := []byte(`{"name":"pair","markers":{"3":[[0,0,0],[1,0,0],[1,1,0],[0,1,0]],"7":[[2,0,0],[3,0,0],[3,1,0],[2,1,0]]}}`)
	board, err := ParseTracker(data, Dict4x4_50)
	if err != nil {
		t.Fatalf("ParseTracker: %v", err)
	}

	det := Detection{Markers: []Marker{
		{ID: 99},
		{ID: 7, Corners: [4]Point{{10, 10}, {20, 10}, {20, 20}, {10, 20}}},
	}}
	objs, imgs := board.Match(det)
	if len(objs) != 4 || len(imgs) != 4 {
		t.Fatalf("Match: got %d/%d points, want 4/4", len(objs), len(imgs))
	}
	if objs[0] != (Point3{2, 0, 0}) || imgs[0] != (Point{10, 10}) {
		t.Errorf("Match: got %+v -> %+v", objs[0], imgs[0])
	}

	if _, err := ParseTracker([]byte(`{"markers":{"x":[]}}`), Dict4x4_50); err == nil {
		t.Error("ParseTracker: expected error for non-numeric marker key")
	}
	if _, err := ParseTracker([]byte(`not json`), Dict4x4_50); err == nil {
		t.Error("ParseTracker: expected error for invalid JSON")
	}
}

func TestRodrigues(t *testing.T) {
	r := Rodrigues([3]float64{0, 0, math.Pi / 2})
	// x axis rotates onto y
	if !near(r.At(0, 0), 0) || !near(r.At(1, 0), 1) || !near(r.At(2, 0), 0) {
		t.Errorf("Rodrigues z90: first column got (%v, %v, %v)", r.At(0, 0), r.At(1, 0), r.At(2, 0))
	}

	id := Rodrigues([3]float64{})
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if !near(id.At(i, j), want) {
				t.Errorf("Rodrigues zero: (%d,%d) got %v", i, j, id.At(i, j))
			}
		}
	}
}

func TestIntrinsics_Project(t *testing.T) {
	in, err := NewIntrinsics([]float64{500, 0, 320, 0, 500, 240, 0, 0, 1}, nil)
	if err != nil {
		t.Fatalf("NewIntrinsics: %v", err)
	}
	pose := Pose{Tvec: [3]float64{0, 0, 1}}

	pts, ok := in.Project(AxisPoints(0.1), pose)
	if !ok {
		t.Fatal("Project: expected all points in front of the camera")
	}
	want := []Point{{320, 240}, {370, 240}, {320, 290}, {320, 240}}
	for i := range want[:3] {
		if !near(pts[i].X, want[i].X) || !near(pts[i].Y, want[i].Y) {
			t.Errorf("point %d: got %+v, want %+v", i, pts[i], want[i])
		}
	}

	// z tip sits closer to the camera but on the optical axis
	if !near(pts[3].X, 320) || !near(pts[3].Y, 240) {
		t.Errorf("z tip: got %+v", pts[3])
	}

	_, ok = in.Project([]Point3{{0, 0, -2}}, pose)
	if ok {
		t.Error("Project: expected ok=false for a point behind the camera")
	}
}

func TestIntrinsics_Distortion(t *testing.T) {
	plain, _ := NewIntrinsics([]float64{500, 0, 320, 0, 500, 240, 0, 0, 1}, nil)
	barrel, _ := NewIntrinsics([]float64{500, 0, 320, 0, 500, 240, 0, 0, 1}, []float64{-0.2})
	pose := Pose{Tvec: [3]float64{0, 0, 1}}
	p := []Point3{{0.3, 0, 0}}

	a, _ := plain.Project(p, pose)
	b, _ := barrel.Project(p, pose)
	if b[0].X >= a[0].X {
		t.Errorf("barrel distortion should pull points inward: plain %v, distorted %v", a[0].X, b[0].X)
	}
}

func TestIntrinsics_CheckValid(t *testing.T) {
	tests := []struct {
		name    string
		matrix  []float64
		wantErr bool
	}{
		{"valid", []float64{600, 0, 320, 0, 600, 240, 0, 0, 1}, false},
		{"zero focal", []float64{0, 0, 320, 0, 600, 240, 0, 0, 1}, true},
		{"negative principal", []float64{600, 0, -1, 0, 600, 240, 0, 0, 1}, true},
		{"nan", []float64{600, 0, 320, 0, math.NaN(), 240, 0, 0, 1}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in, err := NewIntrinsics(tc.matrix, nil)
			if err != nil {
				t.Fatalf("NewIntrinsics: %v", err)
			}
			err = in.CheckValid()
			if (err != nil) != tc.wantErr {
				t.Errorf("CheckValid: got %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, ErrNoIntrinsics) {
				t.Errorf("CheckValid: expected ErrNoIntrinsics, got %v", err)
			}
		})
	}

	if _, err := NewIntrinsics([]float64{1, 2}, nil); err == nil {
		t.Error("NewIntrinsics: expected error for short matrix")
	}
}

func TestDetection(t *testing.T) {
	var d Detection
	if !d.Empty() {
		t.Error("zero Detection should be empty")
	}
	d.Markers = []Marker{{ID: 4, Corners: [4]Point{{0, 0}, {2, 0}, {2, 2}, {0, 2}}}}
	if d.Empty() {
		t.Error("Detection with a marker should not be empty")
	}
	if c := d.Markers[0].Center(); c != (Point{1, 1}) {
		t.Errorf("Center: got %+v, want (1,1)", c)
	}
	if ids := d.IDs(); len(ids) != 1 || ids[0] != 4 {
		t.Errorf("IDs: got %v", ids)
	}
}
