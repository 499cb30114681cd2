package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// normalizePoints translates points to their centroid and scales them so the mean distance
// to the origin is sqrt(2). It returns the normalized points and the 3x3 transform applied.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	nPoints := len(pts)
	// computer centroid of points
	mu := r2.Point{}

	for _, pt := range pts {
		mu.X += pt.X
		mu.Y += pt.Y
	}
	mu = mu.Mul(1. / float64(nPoints))
	// compute scale factor
	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(nPoints)
	}
	scale := 1.0
	if d > 0 {
		scale = math.Sqrt(2) / d
	}
	transformData := []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	}
	T := mat.NewDense(3, 3, transformData)
	// apply transform to points
	pointsTransformed := make([]r2.Point, nPoints)
	for i := range pointsTransformed {
		pointsTransformed[i] = r2.Point{X: scale * (pts[i].X - mu.X), Y: scale * (pts[i].Y - mu.Y)}
	}
	return pointsTransformed, T
}

// NullVector returns the right singular vector of a for its smallest singular value, the least
// squares solution of a x = 0 with |x| = 1.
func NullVector(a mat.Matrix) ([]float64, error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nil, errors.New("SVD factorization failed")
	}
	var v mat.Dense
	svd.VTo(&v)
	_, c := v.Dims()
	return mat.Col(nil, c-1, &v), nil
}

// NearestRotation projects a 3x3 matrix onto SO(3) in the Frobenius sense.
func NearestRotation(m mat.Matrix) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, errors.New("SVD factorization failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		// flip the axis of the smallest singular value
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		r.Mul(&u, v.T())
	}
	return &r, nil
}

// triangleArea is twice the signed area of a triangle.
func triangleArea(a, b, c r2.Point) float64 {
	return b.Sub(a).Cross(c.Sub(a))
}

// collinear reports whether centred points all lie on one line, by comparing the eigenvalues
// of their scatter matrix.
func collinear(pts []r2.Point) bool {
	var sxx, sxy, syy float64
	for _, p := range pts {
		sxx += p.X * p.X
		sxy += p.X * p.Y
		syy += p.Y * p.Y
	}
	tr := sxx + syy
	det := sxx*syy - sxy*sxy
	if tr <= 0 {
		return true
	}
	disc := math.Sqrt(math.Max(0, tr*tr/4-det))
	smallest := tr/2 - disc
	return smallest <= 1e-10*tr
}
