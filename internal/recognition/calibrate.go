package recognition

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/aliabd97/smart-attendance-system-sub001/internal/raster"
	"github.com/aliabd97/smart-attendance-system-sub001/internal/sheet"
)

const (
	// Speckle floor for marker candidate extraction.
	minMarkerArea = 25

	// A corner marker is a solid square. The solidity floor leaves room for
	// the bounding-box growth of a square rotated up to the tolerance; rings
	// and glyphs stay well below it.
	markerMinSolidity = 0.6
	markerAspectMin   = 0.6
	markerAspectMax   = 1 / markerAspectMin

	// Orientation companion: area relative to the corner markers, and how
	// far from a corner center it may sit (relative to the printed layout).
	orientAreaMin    = 0.08
	orientAreaMax    = 0.45
	orientReachScale = 1.5
)

// Point is a position in page pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Affine maps sheet millimeters to page pixels:
// u = A*x + B*y + C, v = D*x + E*y + F.
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// Apply projects a sheet position into page pixels.
func (t Affine) Apply(p sheet.Point) Point {
	return Point{
		X: t.A*p.X + t.B*p.Y + t.C,
		Y: t.D*p.X + t.E*p.Y + t.F,
	}
}

// Frame is the calibration result for one page: the detected marker centers
// in schema order, the fitted transform and its quality.
type Frame struct {
	Markers    [4]Point
	Orient     Point
	T          Affine
	PxPerMM    float64
	ResidualMM float64
	Quality    float64

	// RotationDeg is the residual page rotation after any inversion
	// correction. Inverted reports a 180-degree scan that was recognized by
	// the orientation mark and compensated in the transform.
	RotationDeg float64
	Inverted    bool
}

// Calibrate locates the four corner markers in a binarized page, verifies
// orientation against the companion mark and fits the millimeter-to-pixel
// transform by least squares. It fails rather than guess: wrong marker
// count, missing orientation mark, 90-degree rotation, excess rotation or a
// residual beyond tolerance all return ErrCalibration.
func Calibrate(bm *raster.Bitmap, sc sheet.Schema, cfg Config) (*Frame, error) {
	blobs := raster.FindBlobs(bm, minMarkerArea)

	var candidates []raster.Blob
	for _, b := range blobs {
		if b.Solidity() >= markerMinSolidity &&
			b.Aspect() >= markerAspectMin && b.Aspect() <= markerAspectMax {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) < 4 {
		return nil, fmt.Errorf("%w: found %d marker candidates, need 4", ErrCalibration, len(candidates))
	}

	// The markers print inside the page corners, so each one must be the
	// candidate nearest its image corner. Center clutter like QR data
	// regions never wins a corner.
	picked, err := pickCorners(candidates, bm.W, bm.H)
	if err != nil {
		return nil, err
	}
	var det [4]Point
	var markerArea float64
	areas := make([]int, 4)
	for i, idx := range picked {
		det[i] = Point{candidates[idx].CX, candidates[idx].CY}
		areas[i] = candidates[idx].Area
		markerArea += float64(candidates[idx].Area)
	}
	markerArea /= 4

	med := medianArea(areas)
	for _, a := range areas {
		if a*2 < med || a > med*2 {
			return nil, fmt.Errorf("%w: corner marker sizes inconsistent", ErrCalibration)
		}
	}

	det, orient, inverted, err := fixOrientation(det, picked, candidates, markerArea, sc)
	if err != nil {
		return nil, err
	}

	src := []sheet.Point{sc.Markers[0], sc.Markers[1], sc.Markers[2], sc.Markers[3], sc.OrientMark}
	dst := []Point{det[0], det[1], det[2], det[3], orient}
	t, err := solveAffine(src, dst)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCalibration, err)
	}

	pxPerMM := math.Sqrt(math.Abs(t.A*t.E - t.B*t.D))
	if pxPerMM <= 0 {
		return nil, fmt.Errorf("%w: degenerate transform scale", ErrCalibration)
	}

	var sq float64
	for i := range src {
		p := t.Apply(src[i])
		sq += (p.X-dst[i].X)*(p.X-dst[i].X) + (p.Y-dst[i].Y)*(p.Y-dst[i].Y)
	}
	residualMM := math.Sqrt(sq/float64(len(src))) / pxPerMM

	rot := math.Atan2(t.D, t.A) * 180 / math.Pi
	if inverted {
		rot = normAngle(rot - 180)
	}
	if math.Abs(rot) > cfg.MaxRotationDeg {
		return nil, fmt.Errorf("%w: page rotated %.1f degrees, tolerance %.1f", ErrCalibration, rot, cfg.MaxRotationDeg)
	}

	quality := clamp01(1 - residualMM/cfg.MaxResidualMM)
	if residualMM > cfg.MaxResidualMM || quality < cfg.MinQuality {
		return nil, fmt.Errorf("%w: quality %.2f below %.2f (marker residual %.2fmm)",
			ErrCalibration, quality, cfg.MinQuality, residualMM)
	}

	return &Frame{
		Markers:     det,
		Orient:      orient,
		T:           t,
		PxPerMM:     pxPerMM,
		ResidualMM:  residualMM,
		Quality:     quality,
		RotationDeg: rot,
		Inverted:    inverted,
	}, nil
}

// pickCorners selects, for each image corner in TL, TR, BR, BL order, the
// candidate blob nearest to it. A corner without its own marker steals
// another corner's pick and trips the distinctness check.
func pickCorners(candidates []raster.Blob, w, h int) ([4]int, error) {
	imgCorners := [4]Point{
		{0, 0},
		{float64(w - 1), 0},
		{float64(w - 1), float64(h - 1)},
		{0, float64(h - 1)},
	}
	var picked [4]int
	for c, corner := range imgCorners {
		best, bestD := -1, math.Inf(1)
		for i, b := range candidates {
			if d := dist(Point{b.CX, b.CY}, corner); d < bestD {
				best, bestD = i, d
			}
		}
		picked[c] = best
	}
	for a := 0; a < 4; a++ {
		for b := a + 1; b < 4; b++ {
			if picked[a] == picked[b] {
				return picked, fmt.Errorf("%w: no distinct marker near every corner", ErrCalibration)
			}
		}
	}
	return picked, nil
}

func medianArea(areas []int) int {
	s := append([]int(nil), areas...)
	sort.Ints(s)
	return (s[1] + s[2]) / 2
}

// fixOrientation finds the companion mark among the remaining candidates.
// Printed beside the top-left marker, it shows up beside the detected
// bottom-right corner exactly when the sheet went through the scanner upside
// down; in that case the corner labels are rotated so the transform carries
// the correction.
func fixOrientation(det [4]Point, picked [4]int, candidates []raster.Blob, markerArea float64, sc sheet.Schema) ([4]Point, Point, bool, error) {
	scaleEst := dist(det[0], det[1]) / distMM(sc.Markers[0], sc.Markers[1])
	reach := orientReachScale * distMM(sc.Markers[0], sc.OrientMark) * scaleEst

	var hits [4]int
	var nearest [4]Point
	nearestDist := [4]float64{math.Inf(1), math.Inf(1), math.Inf(1), math.Inf(1)}
	for i, b := range candidates {
		if i == picked[0] || i == picked[1] || i == picked[2] || i == picked[3] {
			continue
		}
		ratio := float64(b.Area) / markerArea
		if ratio < orientAreaMin || ratio > orientAreaMax {
			continue
		}
		p := Point{b.CX, b.CY}
		for c := range det {
			if d := dist(p, det[c]); d <= reach {
				hits[c]++
				if d < nearestDist[c] {
					nearestDist[c] = d
					nearest[c] = p
				}
			}
		}
	}

	found := 0
	for _, h := range hits {
		if h > 0 {
			found++
		}
	}
	switch {
	case found == 0:
		return det, Point{}, false, fmt.Errorf("%w: orientation mark not found", ErrCalibration)
	case found > 1:
		return det, Point{}, false, fmt.Errorf("%w: orientation mark ambiguous", ErrCalibration)
	case hits[1] > 0 || hits[3] > 0:
		return det, Point{}, false, fmt.Errorf("%w: page rotated 90 degrees", ErrCalibration)
	case hits[2] > 0:
		// Upside down: printed TL landed at detected BR.
		return [4]Point{det[2], det[3], det[0], det[1]}, nearest[2], true, nil
	default:
		return det, nearest[0], false, nil
	}
}

// solveAffine fits the six affine parameters to the correspondences by least
// squares over the normal equations.
func solveAffine(src []sheet.Point, dst []Point) (Affine, error) {
	if len(src) != len(dst) || len(src) < 3 {
		return Affine{}, errors.New("need at least 3 correspondences")
	}
	var sxx, sxy, sx, syy, sy, n float64
	var sxu, syu, su, sxv, syv, sv float64
	for i := range src {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y
		sxx += x * x
		sxy += x * y
		sx += x
		syy += y * y
		sy += y
		n++
		sxu += x * u
		syu += y * u
		su += u
		sxv += x * v
		syv += y * v
		sv += v
	}
	m := [3][3]float64{
		{sxx, sxy, sx},
		{sxy, syy, sy},
		{sx, sy, n},
	}
	abc, ok1 := solve3(m, [3]float64{sxu, syu, su})
	def, ok2 := solve3(m, [3]float64{sxv, syv, sv})
	if !ok1 || !ok2 {
		return Affine{}, errors.New("marker geometry degenerate")
	}
	return Affine{A: abc[0], B: abc[1], C: abc[2], D: def[0], E: def[1], F: def[2]}, nil
}

func solve3(m [3][3]float64, b [3]float64) ([3]float64, bool) {
	d := det3(m)
	if math.Abs(d) < 1e-9 {
		return [3]float64{}, false
	}
	var out [3]float64
	for col := 0; col < 3; col++ {
		mc := m
		for row := 0; row < 3; row++ {
			mc[row][col] = b[row]
		}
		out[col] = det3(mc) / d
	}
	return out, true
}

func det3(m [3][3]float64) float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

func dist(p, q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

func distMM(p, q sheet.Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

func normAngle(deg float64) float64 {
	for deg > 180 {
		deg -= 360
	}
	for deg <= -180 {
		deg += 360
	}
	return deg
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
