package calibration

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/rimage/transform"
)

// viewHomographies fits the board plane to image homography of every view.
func viewHomographies(views []View) ([]transform.Homography, error) {
	homs := make([]transform.Homography, len(views))
	for i, v := range views {
		plane := make([]r2.Point, len(v.Points))
		for j, p := range v.Points {
			plane[j] = r2.Point{X: p.Object.X, Y: p.Object.Y}
		}
		h, err := transform.EstimateHomography(plane, v.ImagePoints())
		if err != nil {
			return nil, errors.Wrapf(err, "view %q", v.Name)
		}
		homs[i] = h
	}
	return homs, nil
}

// conicRow is the row v_ij of the absolute conic constraints for columns i and j of h.
func conicRow(h transform.Homography, i, j int) []float64 {
	return []float64{
		h[0][i] * h[0][j],
		h[0][i]*h[1][j] + h[1][i]*h[0][j],
		h[1][i] * h[1][j],
		h[2][i]*h[0][j] + h[0][i]*h[2][j],
		h[2][i]*h[1][j] + h[1][i]*h[2][j],
		h[2][i] * h[2][j],
	}
}

// closedFormIntrinsics solves for fx, fy, cx, cy from the image of the absolute conic, with
// zero skew enforced as an extra constraint.
func closedFormIntrinsics(homs []transform.Homography) (fx, fy, cx, cy float64, err error) {
	a := mat.NewDense(2*len(homs)+1, 6, nil)
	for k, h := range homs {
		v12 := conicRow(h, 0, 1)
		v11 := conicRow(h, 0, 0)
		v22 := conicRow(h, 1, 1)
		diff := make([]float64, 6)
		for i := range diff {
			diff[i] = v11[i] - v22[i]
		}
		a.SetRow(2*k, v12)
		a.SetRow(2*k+1, diff)
	}
	a.SetRow(2*len(homs), []float64{0, 1, 0, 0, 0, 0})

	b, err := transform.NullVector(a)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	b11, b12, b22, b13, b23, b33 := b[0], b[1], b[2], b[3], b[4], b[5]
	den := b11*b22 - b12*b12
	if den == 0 || b11 == 0 {
		return 0, 0, 0, 0, errors.New("degenerate conic")
	}
	cy = (b12*b13 - b11*b23) / den
	lambda := b33 - (b13*b13+cy*(b12*b13-b11*b23))/b11
	if lambda/b11 <= 0 || lambda*b11/den <= 0 {
		return 0, 0, 0, 0, errors.New("conic is not positive definite")
	}
	fx = math.Sqrt(lambda / b11)
	fy = math.Sqrt(lambda * b11 / den)
	cx = -b13 * fx * fx / lambda
	return fx, fy, cx, cy, nil
}

// centredIntrinsics assumes the principal point is the image centre and solves for the focal
// lengths only. It is the fallback for view sets too weak for the full closed form.
func centredIntrinsics(homs []transform.Homography, cx, cy float64) (fx, fy float64, err error) {
	a := mat.NewDense(2*len(homs), 2, nil)
	rhs := mat.NewVecDense(2*len(homs), nil)
	for k, h := range homs {
		var hv, vv, d1, d2 r3.Vector
		// move the principal point to the origin
		hv = r3.Vector{X: h[0][0] - cx*h[2][0], Y: h[1][0] - cy*h[2][0], Z: h[2][0]}
		vv = r3.Vector{X: h[0][1] - cx*h[2][1], Y: h[1][1] - cy*h[2][1], Z: h[2][1]}
		d1 = hv.Add(vv).Mul(0.5)
		d2 = hv.Sub(vv).Mul(0.5)
		hv, vv, d1, d2 = hv.Normalize(), vv.Normalize(), d1.Normalize(), d2.Normalize()
		a.SetRow(2*k, []float64{hv.X * vv.X, hv.Y * vv.Y})
		rhs.SetVec(2*k, -hv.Z*vv.Z)
		a.SetRow(2*k+1, []float64{d1.X * d2.X, d1.Y * d2.Y})
		rhs.SetVec(2*k+1, -d1.Z*d2.Z)
	}
	var f mat.VecDense
	if err := f.SolveVec(a, rhs); err != nil {
		return 0, 0, errors.Wrap(err, "solving focal lengths")
	}
	if f.AtVec(0) == 0 || f.AtVec(1) == 0 {
		return 0, 0, errors.New("degenerate focal length solution")
	}
	return math.Sqrt(math.Abs(1 / f.AtVec(0))), math.Sqrt(math.Abs(1 / f.AtVec(1))), nil
}

// initialExtrinsics recovers the board pose of a view from its homography and the intrinsics.
func initialExtrinsics(h transform.Homography, k *mat.Dense) (transform.Pose, error) {
	var kInv mat.Dense
	if err := kInv.Inverse(k); err != nil {
		return transform.Pose{}, errors.Wrap(err, "camera matrix not invertible")
	}
	var m mat.Dense
	m.Mul(&kInv, h.Dense())
	col := func(j int) r3.Vector { return r3.Vector{X: m.At(0, j), Y: m.At(1, j), Z: m.At(2, j)} }
	m1, m2, m3 := col(0), col(1), col(2)
	n1 := m1.Norm()
	if n1 == 0 {
		return transform.Pose{}, errors.New("degenerate homography")
	}
	scale := 2 / (n1 + m2.Norm())
	r1, r2v, t := m1.Mul(scale), m2.Mul(scale), m3.Mul(scale)
	if t.Z < 0 {
		// the board must lie in front of the camera
		r1, r2v, t = r1.Mul(-1), r2v.Mul(-1), t.Mul(-1)
	}
	r3v := r1.Cross(r2v)
	rot := mat.NewDense(3, 3, []float64{
		r1.X, r2v.X, r3v.X,
		r1.Y, r2v.Y, r3v.Y,
		r1.Z, r2v.Z, r3v.Z,
	})
	nearest, err := transform.NearestRotation(rot)
	if err != nil {
		return transform.Pose{}, err
	}
	return transform.Pose{Rotation: transform.RotationVector(nearest), Translation: t}, nil
}

// conditioner maps pixels of an image of the given size to coordinates centred on the image
// with unit scale. The closed forms are solved in these coordinates.
type conditioner struct {
	scale, cx, cy float64
}

func newConditioner(width, height int) conditioner {
	return conditioner{scale: 2 / float64(width+height), cx: float64(width) / 2, cy: float64(height) / 2}
}

func (c conditioner) apply(h transform.Homography) transform.Homography {
	t := transform.Homography{
		{c.scale, 0, -c.scale * c.cx},
		{0, c.scale, -c.scale * c.cy},
		{0, 0, 1},
	}
	return t.Mul(h).Normalize()
}

// intrinsics converts intrinsics solved in conditioned coordinates back to pixels.
func (c conditioner) intrinsics(fx, fy, cx, cy float64) (float64, float64, float64, float64) {
	return fx / c.scale, fy / c.scale, cx/c.scale + c.cx, cy/c.scale + c.cy
}

func cameraMatrix(fx, fy, cx, cy float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{fx, 0, cx, 0, fy, cy, 0, 0, 1})
}
