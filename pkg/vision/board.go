package vision

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/samber/lo"
)

// Dictionary identifies a predefined ArUco dictionary.
type Dictionary int

// Dictionaries supported by the backend. Values match OpenCV's PredefinedDictionaryType.
const (
	Dict4x4_50   Dictionary = 0
	Dict4x4_100  Dictionary = 1
	Dict4x4_250  Dictionary = 2
	Dict4x4_1000 Dictionary = 3
	Dict5x5_50   Dictionary = 4
	Dict5x5_1000 Dictionary = 7
	Dict6x6_250  Dictionary = 10
)

// CharucoBoard describes a checkerboard with ArUco markers in the white squares.
// Markers sit where (x+y) is odd, numbered row by row starting at FirstMarker.
type CharucoBoard struct {
	SquaresX     int
	SquaresY     int
	SquareLength float64 // meters
	MarkerLength float64 // meters
	Dictionary   Dictionary
	FirstMarker  int
}

// DefaultCharucoBoard is the 5x7 board printed at 37.4 mm squares.
func DefaultCharucoBoard() *CharucoBoard {
	square := 37.4 / 1000
	return &CharucoBoard{
		SquaresX:     5,
		SquaresY:     7,
		SquareLength: square,
		MarkerLength: square * 4 / 5,
		Dictionary:   Dict4x4_1000,
	}
}

// MarkerCount returns how many markers are printed on the board.
func (b *CharucoBoard) MarkerCount() int {
	n := 0
	for y := 0; y < b.SquaresY; y++ {
		for x := 0; x < b.SquaresX; x++ {
			if (x+y)%2 == 1 {
				n++
			}
		}
	}
	return n
}

// HasMarker reports whether id belongs to this board.
func (b *CharucoBoard) HasMarker(id int) bool {
	return id >= b.FirstMarker && id < b.FirstMarker+b.MarkerCount()
}

// markerSquare returns the square holding the i-th board marker.
func (b *CharucoBoard) markerSquare(i int) (x, y int, ok bool) {
	n := 0
	for y = 0; y < b.SquaresY; y++ {
		for x = 0; x < b.SquaresX; x++ {
			if (x+y)%2 == 0 {
				continue
			}
			if n == i {
				return x, y, true
			}
			n++
		}
	}
	return 0, 0, false
}

// MarkerCorners returns the board-frame corners of marker id.
func (b *CharucoBoard) MarkerCorners(id int) ([4]Point3, bool) {
	var corners [4]Point3
	if !b.HasMarker(id) {
		return corners, false
	}
	x, y, ok := b.markerSquare(id - b.FirstMarker)
	if !ok {
		return corners, false
	}
	margin := (b.SquareLength - b.MarkerLength) / 2
	sx := float64(x)*b.SquareLength + margin
	sy := float64(y)*b.SquareLength + margin
	corners[0] = Point3{sx, sy, 0}
	corners[1] = Point3{sx + b.MarkerLength, sy, 0}
	corners[2] = Point3{sx + b.MarkerLength, sy + b.MarkerLength, 0}
	corners[3] = Point3{sx, sy + b.MarkerLength, 0}
	return corners, true
}

// CornerID numbers the k-th corner of a board marker.
func (b *CharucoBoard) CornerID(markerID, k int) int {
	return (markerID-b.FirstMarker)*4 + k
}

// ObjectPoint returns the board-frame position of a corner id.
func (b *CharucoBoard) ObjectPoint(cornerID int) (Point3, bool) {
	if cornerID < 0 {
		return Point3{}, false
	}
	corners, ok := b.MarkerCorners(b.FirstMarker + cornerID/4)
	if !ok {
		return Point3{}, false
	}
	return corners[cornerID%4], true
}

// ObjectPoints resolves every id of an observation. Unknown ids are dropped
// from both returned slices so indices stay paired.
func (b *CharucoBoard) ObjectPoints(obs BoardObservation) ([]Point3, []Point) {
	objs := make([]Point3, 0, obs.Len())
	imgs := make([]Point, 0, obs.Len())
	for i, id := range obs.IDs {
		p, ok := b.ObjectPoint(id)
		if !ok || i >= len(obs.Corners) {
			continue
		}
		objs = append(objs, p)
		imgs = append(imgs, obs.Corners[i])
	}
	return objs, imgs
}

// MarkerBoard is a rigid set of markers with known 3D corners, such as a
// tracker cube. It is built once from static geometry and never mutated.
type MarkerBoard struct {
	Name       string
	Dictionary Dictionary
	markers    map[int][4]Point3
}

// TrackerGeometry is the on-disk tracker format: marker id (as a string key)
// to four [x, y, z] corners in meters.
type TrackerGeometry struct {
	Name    string                  `json:"name"`
	Markers map[string][][3]float64 `json:"markers"`
}

//go:embed trackers/cube_tracker.json
var cubeTrackerJSON []byte

// CubeTracker returns the board for the bundled cube tracker.
func CubeTracker(dict Dictionary) (*MarkerBoard, error) {
	return ParseTracker(cubeTrackerJSON, dict)
}

// ParseTracker decodes tracker geometry into a MarkerBoard. Entries are
// assumed well-formed: corners beyond the fourth are ignored and missing
// corners stay at the origin.
func ParseTracker(data []byte, dict Dictionary) (*MarkerBoard, error) {
	var geom TrackerGeometry
	if err := json.Unmarshal(data, &geom); err != nil {
		return nil, fmt.Errorf("vision: parse tracker: %w", err)
	}

	board := &MarkerBoard{
		Name:       geom.Name,
		Dictionary: dict,
		markers:    make(map[int][4]Point3, len(geom.Markers)),
	}
	for key, corners := range geom.Markers {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("vision: tracker %q: marker key %q: %w", geom.Name, key, err)
		}
		var pts [4]Point3
		for i := 0; i < len(corners) && i < 4; i++ {
			pts[i] = Point3{corners[i][0], corners[i][1], corners[i][2]}
		}
		board.markers[id] = pts
	}
	return board, nil
}

// IDs returns the board's marker ids in ascending order.
func (b *MarkerBoard) IDs() []int {
	ids := lo.Keys(b.markers)
	sort.Ints(ids)
	return ids
}

// Corners returns the 3D corners of marker id.
func (b *MarkerBoard) Corners(id int) ([4]Point3, bool) {
	c, ok := b.markers[id]
	return c, ok
}

// Match pairs the visible board markers' object corners with their image
// corners, in detection order.
func (b *MarkerBoard) Match(det Detection) ([]Point3, []Point) {
	visible := lo.Filter(det.Markers, func(m Marker, _ int) bool {
		_, ok := b.markers[m.ID]
		return ok
	})

	objs := make([]Point3, 0, len(visible)*4)
	imgs := make([]Point, 0, len(visible)*4)
	for _, m := range visible {
		corners := b.markers[m.ID]
		objs = append(objs, corners[:]...)
		imgs = append(imgs, m.Corners[:]...)
	}
	return objs, imgs
}

// SquareMarker returns the object corners of a lone marker centred on its
// origin, in the same order the detector reports image corners.
func SquareMarker(length float64) [4]Point3 {
	h := length / 2
	return [4]Point3{
		{-h, h, 0},
		{h, h, 0},
		{h, -h, 0},
		{-h, -h, 0},
	}
}
