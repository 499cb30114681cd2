package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Pose is a rigid transform from board coordinates into the camera frame, with the rotation
// stored as an axis-angle vector.
type Pose struct {
	Rotation    r3.Vector `json:"rvec"`
	Translation r3.Vector `json:"tvec"`
}

// Apply moves a point from the board frame into the camera frame.
func (p Pose) Apply(pt r3.Vector) r3.Vector {
	return RotateVector(RotationMatrix(p.Rotation), pt).Add(p.Translation)
}

// RotationMatrix converts an axis-angle vector to a rotation matrix with Rodrigues' formula.
func RotationMatrix(rvec r3.Vector) *mat.Dense {
	theta := rvec.Norm()
	if theta < 1e-12 {
		// first order expansion: I + [r]x
		return mat.NewDense(3, 3, []float64{
			1, -rvec.Z, rvec.Y,
			rvec.Z, 1, -rvec.X,
			-rvec.Y, rvec.X, 1,
		})
	}
	k := rvec.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	v := 1 - c
	return mat.NewDense(3, 3, []float64{
		c + k.X*k.X*v, k.X*k.Y*v - k.Z*s, k.X*k.Z*v + k.Y*s,
		k.Y*k.X*v + k.Z*s, c + k.Y*k.Y*v, k.Y*k.Z*v - k.X*s,
		k.Z*k.X*v - k.Y*s, k.Z*k.Y*v + k.X*s, c + k.Z*k.Z*v,
	})
}

// RotationVector converts a rotation matrix to an axis-angle vector.
func RotationVector(r mat.Matrix) r3.Vector {
	trace := r.At(0, 0) + r.At(1, 1) + r.At(2, 2)
	cosTheta := math.Max(-1, math.Min(1, (trace-1)/2))
	theta := math.Acos(cosTheta)
	axis := r3.Vector{
		X: r.At(2, 1) - r.At(1, 2),
		Y: r.At(0, 2) - r.At(2, 0),
		Z: r.At(1, 0) - r.At(0, 1),
	}
	switch {
	case theta < 1e-9:
		return axis.Mul(0.5)
	case math.Pi-theta < 1e-6:
		// near pi the antisymmetric part vanishes; read the axis off the symmetric part
		xx := math.Sqrt(math.Max(0, (r.At(0, 0)+1)/2))
		yy := math.Sqrt(math.Max(0, (r.At(1, 1)+1)/2))
		zz := math.Sqrt(math.Max(0, (r.At(2, 2)+1)/2))
		k := r3.Vector{X: xx, Y: yy, Z: zz}
		switch {
		case xx >= yy && xx >= zz:
			k.Y = math.Copysign(yy, r.At(0, 1))
			k.Z = math.Copysign(zz, r.At(0, 2))
		case yy >= zz:
			k.X = math.Copysign(xx, r.At(0, 1))
			k.Z = math.Copysign(zz, r.At(1, 2))
		default:
			k.X = math.Copysign(xx, r.At(0, 2))
			k.Y = math.Copysign(yy, r.At(1, 2))
		}
		return k.Normalize().Mul(theta)
	default:
		return axis.Mul(theta / (2 * math.Sin(theta)))
	}
}

// RotateVector multiplies a vector by a 3x3 matrix.
func RotateVector(r mat.Matrix, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: r.At(0, 0)*v.X + r.At(0, 1)*v.Y + r.At(0, 2)*v.Z,
		Y: r.At(1, 0)*v.X + r.At(1, 1)*v.Y + r.At(1, 2)*v.Z,
		Z: r.At(2, 0)*v.X + r.At(2, 1)*v.Y + r.At(2, 2)*v.Z,
	}
}

// ProjectPoints moves board points into the camera frame and projects them to distorted pixels.
func ProjectPoints(model *PinholeCameraModel, pose Pose, pts []r3.Vector) []r2.Point {
	rot := RotationMatrix(pose.Rotation)
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = model.Project(RotateVector(rot, p).Add(pose.Translation))
	}
	return out
}
