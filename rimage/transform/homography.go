package transform

import (
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrHomographyFailed is returned when no homography can be estimated from the given points.
var ErrHomographyFailed = errors.New("homography estimation failed")

// Homography is a 3x3 matrix (represented as a 2D array) used to transform a plane from the perspective of a 2D
// camera to the perspective of another 2D camera. Indices are [row][column].
type Homography [3][3]float64

// IdentityHomography maps every point to itself.
func IdentityHomography() Homography {
	return Homography{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// NewHomography builds a homography from 9 row-major values.
func NewHomography(vals []float64) (Homography, error) {
	var h Homography
	if len(vals) != 9 {
		return h, errors.Errorf("homography needs 9 values, got %d", len(vals))
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h[i][j] = vals[3*i+j]
		}
	}
	return h, nil
}

// HomographyFromDense converts a 3x3 matrix.
func HomographyFromDense(m mat.Matrix) (Homography, error) {
	var h Homography
	if r, c := m.Dims(); r != 3 || c != 3 {
		return h, errors.Errorf("homography must be 3x3, got %dx%d", r, c)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h[i][j] = m.At(i, j)
		}
	}
	return h, nil
}

// Dense returns the homography as a gonum matrix.
func (h Homography) Dense() *mat.Dense {
	return mat.NewDense(3, 3, h.Values())
}

// Values returns the 9 row-major values.
func (h Homography) Values() []float64 {
	return []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	}
}

// At returns the value at the given row and column.
func (h Homography) At(row, col int) float64 {
	return h[row][col]
}

// Apply maps a point. Points mapped to infinity come back with infinite coordinates.
func (h Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// ApplyAll maps every point.
func (h Homography) ApplyAll(pts []r2.Point) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = h.Apply(p)
	}
	return out
}

// Mul returns h*o, the homography that applies o first and then h.
func (h Homography) Mul(o Homography) Homography {
	var out Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += h[i][k] * o[k][j]
			}
		}
	}
	return out
}

// Inverse returns the homography mapping the target plane back to the source plane.
func (h Homography) Inverse() (Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.Dense()); err != nil {
		return Homography{}, errors.Wrap(err, "homography is not invertible")
	}
	out, err := HomographyFromDense(&inv)
	if err != nil {
		return Homography{}, err
	}
	return out.Normalize(), nil
}

// Normalize scales the homography so its bottom-right entry is 1. Homographies whose
// bottom-right entry vanishes are scaled to unit Frobenius norm instead.
func (h Homography) Normalize() Homography {
	s := h[2][2]
	if math.Abs(s) < 1e-12 {
		s = 0
		for _, v := range h.Values() {
			s += v * v
		}
		s = math.Sqrt(s)
	}
	if s == 0 {
		return h
	}
	var out Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = h[i][j] / s
		}
	}
	return out
}

// IsFinite reports whether every entry is a finite number.
func (h Homography) IsFinite() bool {
	for _, v := range h.Values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Rescale adapts a homography estimated between images of size srcFrom and dstFrom to images
// of size srcTo and dstTo.
func (h Homography) Rescale(srcFrom, srcTo, dstFrom, dstTo image.Point) Homography {
	scaleSrc := Homography{
		{float64(srcFrom.X) / float64(srcTo.X), 0, 0},
		{0, float64(srcFrom.Y) / float64(srcTo.Y), 0},
		{0, 0, 1},
	}
	scaleDst := Homography{
		{float64(dstTo.X) / float64(dstFrom.X), 0, 0},
		{0, float64(dstTo.Y) / float64(dstFrom.Y), 0},
		{0, 0, 1},
	}
	return scaleDst.Mul(h).Mul(scaleSrc).Normalize()
}

// PreservesOrientation reports whether the homography maps a small counter-clockwise loop
// around p to a counter-clockwise loop.
func (h Homography) PreservesOrientation(p r2.Point) bool {
	a := h.Apply(p)
	b := h.Apply(p.Add(r2.Point{X: 1}))
	c := h.Apply(p.Add(r2.Point{Y: 1}))
	return triangleArea(a, b, c) > 0
}

// String formats the matrix one row per line.
func (h Homography) String() string {
	var sb strings.Builder
	for i, row := range h {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "[% 12.6f % 12.6f % 12.6f]", row[0], row[1], row[2])
	}
	return sb.String()
}

// EstimateHomography fits the homography mapping src onto dst with the normalized direct linear
// transform. At least 4 point pairs in general position are needed; with more pairs the
// algebraic error is minimized in the least squares sense.
func EstimateHomography(src, dst []r2.Point) (Homography, error) {
	if len(src) != len(dst) {
		return Homography{}, errors.Errorf("point counts differ: %d source, %d destination", len(src), len(dst))
	}
	if len(src) < 4 {
		return Homography{}, errors.Wrapf(ErrHomographyFailed, "need at least 4 point pairs, got %d", len(src))
	}
	srcN, tSrc := normalizePoints(src)
	dstN, tDst := normalizePoints(dst)
	if collinear(srcN) || collinear(dstN) {
		return Homography{}, errors.Wrap(ErrHomographyFailed, "points are collinear")
	}
	if len(src) == 4 && (degenerateSample(srcN) || degenerateSample(dstN)) {
		return Homography{}, errors.Wrap(ErrHomographyFailed, "three of the four points are collinear")
	}

	rows := 2 * len(src)
	if rows < 9 {
		// pad with a zero row so the SVD yields a full 9x9 V
		rows = 9
	}
	a := mat.NewDense(rows, 9, nil)
	for i := range srcN {
		x, y := srcN[i].X, srcN[i].Y
		u, v := dstN[i].X, dstN[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}
	hVec, err := NullVector(a)
	if err != nil {
		return Homography{}, errors.Wrap(ErrHomographyFailed, err.Error())
	}
	hn := mat.NewDense(3, 3, hVec)

	var tDstInv mat.Dense
	if err := tDstInv.Inverse(tDst); err != nil {
		return Homography{}, errors.Wrap(ErrHomographyFailed, "degenerate destination points")
	}
	var full mat.Dense
	full.Product(&tDstInv, hn, tSrc)
	if math.Abs(mat.Det(&full)) < 1e-12*math.Pow(mat.Norm(&full, 2), 3) {
		return Homography{}, errors.Wrap(ErrHomographyFailed, "degenerate point configuration")
	}
	h, err := HomographyFromDense(&full)
	if err != nil {
		return Homography{}, err
	}
	h = h.Normalize()
	if !h.IsFinite() {
		return Homography{}, errors.Wrap(ErrHomographyFailed, "non-finite solution")
	}
	return h, nil
}

// ReprojectionErrors returns the distance between h(src[i]) and dst[i] for every pair.
func ReprojectionErrors(h Homography, src, dst []r2.Point) []float64 {
	errs := make([]float64, len(src))
	for i := range src {
		errs[i] = h.Apply(src[i]).Sub(dst[i]).Norm()
		if math.IsNaN(errs[i]) {
			errs[i] = math.Inf(1)
		}
	}
	return errs
}
