package calibration

import (
	"context"
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/logging"
	"go.viam.com/stereocal/rimage/transform"
)

// DefaultMinImages is the number of usable views needed before calibrating.
const DefaultMinImages = 5

var (
	// ErrInsufficientImages means too few usable views were collected.
	ErrInsufficientImages = errors.New("not enough calibration images")
	// ErrResolutionMismatch means the views were not all taken at the same resolution.
	ErrResolutionMismatch = errors.New("calibration images differ in resolution")
	// ErrSolverFailed means the solver could not produce finite, valid parameters.
	ErrSolverFailed = errors.New("calibration solver failed")
)

// Options tunes Calibrate.
type Options struct {
	MinImages     int  `json:"min_images"`
	FixDistortion bool `json:"fix_distortion"`
	FixK3         bool `json:"fix_k3"`
	MaxIterations int  `json:"max_iterations"`
}

// DefaultOptions estimates every distortion term and needs five views.
func DefaultOptions() Options {
	return Options{MinImages: DefaultMinImages, MaxIterations: 50}
}

// ViewResult is the fit of one view.
type ViewResult struct {
	Name   string         `json:"name"`
	Points int            `json:"points"`
	RMS    float64        `json:"rms"`
	Pose   transform.Pose `json:"pose"`
}

// Intrinsics is the outcome of a calibration.
type Intrinsics struct {
	Camera     transform.PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion transform.BrownConrady            `json:"distortion_parameters"`
	// RMS is the root mean square reprojection error over every point, in pixels.
	RMS   float64      `json:"rms"`
	Views []ViewResult `json:"views"`
}

// Model returns the pinhole camera model with its distortion.
func (in *Intrinsics) Model() *transform.PinholeCameraModel {
	intr := in.Camera
	dist := in.Distortion
	return &transform.PinholeCameraModel{PinholeCameraIntrinsics: &intr, Distortion: &dist}
}

// CameraMatrix returns the 3x3 camera matrix.
func (in *Intrinsics) CameraMatrix() *mat.Dense {
	return in.Camera.GetCameraMatrix()
}

// Resolution is the image size the calibration applies to.
func (in *Intrinsics) Resolution() image.Point {
	return in.Camera.Size()
}

// parameter layout: fx fy cx cy k1 k2 p1 p2 k3, then rvec and tvec per view.
const (
	idxFx = iota
	idxFy
	idxCx
	idxCy
	idxK1
	idxK2
	idxP1
	idxP2
	idxK3
	numIntrinsic
)

const numExtrinsic = 6

// Calibrate estimates the intrinsics and distortion of the camera that took the views. It
// refuses to run with fewer than opts.MinImages views.
func Calibrate(ctx context.Context, set *CorrespondenceSet, opts Options, logger logging.Logger) (*Intrinsics, error) {
	if opts.MinImages <= 0 {
		opts.MinImages = DefaultMinImages
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultOptions().MaxIterations
	}
	views := set.Views()
	if len(views) < opts.MinImages {
		return nil, errors.Wrapf(ErrInsufficientImages, "have %d, need %d", len(views), opts.MinImages)
	}
	size := views[0].ImageSize
	for _, v := range views[1:] {
		if v.ImageSize != size {
			return nil, errors.Wrapf(ErrResolutionMismatch, "view %q is %v, view %q is %v", v.Name, v.ImageSize, views[0].Name, size)
		}
	}

	x0, err := initialGuess(views, size, logger)
	if err != nil {
		return nil, errors.Wrap(ErrSolverFailed, err.Error())
	}

	p := newProblem(views, x0, opts)
	free, cost, err := p.solve(ctx, opts.MaxIterations, logger)
	if err != nil {
		return nil, err
	}
	full := p.expand(free)
	if !finite(full) || full[idxFx] <= 0 || full[idxFy] <= 0 {
		return nil, errors.Wrap(ErrSolverFailed, "parameters diverged")
	}

	out := &Intrinsics{
		Camera: transform.PinholeCameraIntrinsics{
			Width: size.X, Height: size.Y,
			Fx: full[idxFx], Fy: full[idxFy], Ppx: full[idxCx], Ppy: full[idxCy],
		},
		Distortion: transform.BrownConrady{
			RadialK1: full[idxK1], RadialK2: full[idxK2], RadialK3: full[idxK3],
			TangentialP1: full[idxP1], TangentialP2: full[idxP2],
		},
		RMS: math.Sqrt(cost / float64(set.NumPoints())),
	}
	res := make([]float64, p.numResiduals)
	p.residuals(res, full)
	off := 0
	for k, v := range views {
		var sum float64
		for i := 0; i < 2*len(v.Points); i++ {
			sum += res[off+i] * res[off+i]
		}
		off += 2 * len(v.Points)
		out.Views = append(out.Views, ViewResult{
			Name:   v.Name,
			Points: len(v.Points),
			RMS:    math.Sqrt(sum / float64(len(v.Points))),
			Pose:   viewPose(full, k),
		})
	}
	logger.Infow("calibration finished", "views", len(views), "points", set.NumPoints(), "rms", out.RMS,
		"fx", out.Camera.Fx, "fy", out.Camera.Fy, "cx", out.Camera.Ppx, "cy", out.Camera.Ppy)
	return out, nil
}

// initialGuess computes closed form intrinsics and per-view poses with zero distortion.
func initialGuess(views []View, size image.Point, logger logging.Logger) ([]float64, error) {
	homs, err := viewHomographies(views)
	if err != nil {
		return nil, err
	}
	cond := newConditioner(size.X, size.Y)
	conditioned := make([]transform.Homography, len(homs))
	for i, h := range homs {
		conditioned[i] = cond.apply(h)
	}

	fx, fy, cx, cy, err := closedFormIntrinsics(conditioned)
	if err == nil {
		fx, fy, cx, cy = cond.intrinsics(fx, fy, cx, cy)
	}
	if err != nil || cx < 0 || cy < 0 || cx >= float64(size.X) || cy >= float64(size.Y) {
		logger.Debugw("closed form intrinsics unusable, assuming centred principal point", "error", err)
		fx, fy, err = centredIntrinsics(conditioned, 0, 0)
		if err != nil {
			return nil, err
		}
		fx, fy, cx, cy = cond.intrinsics(fx, fy, 0, 0)
	}
	if !(fx > 0 && fy > 0) || math.IsInf(fx, 0) || math.IsInf(fy, 0) {
		return nil, errors.Errorf("invalid initial focal lengths %v, %v", fx, fy)
	}
	logger.Debugw("initial intrinsics", "fx", fx, "fy", fy, "cx", cx, "cy", cy)

	k := cameraMatrix(fx, fy, cx, cy)
	x := make([]float64, numIntrinsic+numExtrinsic*len(views))
	x[idxFx], x[idxFy], x[idxCx], x[idxCy] = fx, fy, cx, cy
	for i, h := range homs {
		pose, err := initialExtrinsics(h, k)
		if err != nil {
			return nil, errors.Wrapf(err, "view %q", views[i].Name)
		}
		setViewPose(x, i, pose)
	}
	return x, nil
}

func finite(vals []float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func viewPose(x []float64, view int) transform.Pose {
	o := numIntrinsic + numExtrinsic*view
	return transform.Pose{
		Rotation:    r3.Vector{X: x[o], Y: x[o+1], Z: x[o+2]},
		Translation: r3.Vector{X: x[o+3], Y: x[o+4], Z: x[o+5]},
	}
}

func setViewPose(x []float64, view int, pose transform.Pose) {
	o := numIntrinsic + numExtrinsic*view
	copy(x[o:o+numExtrinsic], []float64{
		pose.Rotation.X, pose.Rotation.Y, pose.Rotation.Z,
		pose.Translation.X, pose.Translation.Y, pose.Translation.Z,
	})
}

// problem is the reprojection least squares problem over the free parameters.
type problem struct {
	views        []View
	template     []float64
	free         []int
	numResiduals int
}

func newProblem(views []View, x0 []float64, opts Options) *problem {
	p := &problem{views: views, template: x0}
	for i := range x0 {
		switch {
		case opts.FixDistortion && i >= idxK1 && i <= idxK3:
			continue
		case opts.FixK3 && i == idxK3:
			continue
		}
		p.free = append(p.free, i)
	}
	for _, v := range views {
		p.numResiduals += 2 * len(v.Points)
	}
	return p
}

func (p *problem) expand(free []float64) []float64 {
	full := append([]float64(nil), p.template...)
	for i, idx := range p.free {
		full[idx] = free[i]
	}
	return full
}

func (p *problem) initial() []float64 {
	x := make([]float64, len(p.free))
	for i, idx := range p.free {
		x[i] = p.template[idx]
	}
	return x
}

// residuals writes projected minus observed pixel coordinates for every point.
func (p *problem) residuals(dst, full []float64) {
	dist := transform.BrownConrady{
		RadialK1: full[idxK1], RadialK2: full[idxK2], RadialK3: full[idxK3],
		TangentialP1: full[idxP1], TangentialP2: full[idxP2],
	}
	fx, fy, cx, cy := full[idxFx], full[idxFy], full[idxCx], full[idxCy]
	off := 0
	for k, v := range p.views {
		pose := viewPose(full, k)
		rot := transform.RotationMatrix(pose.Rotation)
		for _, c := range v.Points {
			pc := transform.RotateVector(rot, c.Object).Add(pose.Translation)
			xd, yd := dist.Transform(pc.X/pc.Z, pc.Y/pc.Z)
			proj := r2.Point{X: fx*xd + cx, Y: fy*yd + cy}
			dst[off] = proj.X - c.Image.X
			dst[off+1] = proj.Y - c.Image.Y
			off += 2
		}
	}
}

func (p *problem) freeResiduals(dst, x []float64) {
	p.residuals(dst, p.expand(x))
}

// solve runs Levenberg-Marquardt from the initial guess and returns the free parameters and
// the final sum of squared residuals.
func (p *problem) solve(ctx context.Context, maxIterations int, logger logging.Logger) ([]float64, float64, error) {
	const (
		minCostDecrease = 1e-15
		maxLambda       = 1e12
	)
	x := p.initial()
	n, m := len(x), p.numResiduals
	r := make([]float64, m)
	p.freeResiduals(r, x)
	cost := floats.Dot(r, r)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return nil, 0, errors.Wrap(ErrSolverFailed, "initial guess projects behind the camera")
	}
	debug := logging.IsDebugMode(ctx)

	jac := mat.NewDense(m, n, nil)
	lambda := 1e-3
	candidate := make([]float64, n)
	rNew := make([]float64, m)
	for iter := 0; iter < maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		fd.Jacobian(jac, p.freeResiduals, x, &fd.JacobianSettings{
			Formula:     fd.Central,
			Concurrent:  true,
			OriginValue: r,
		})
		var jtj mat.SymDense
		jtj.SymOuterK(1, jac.T())
		var g mat.VecDense
		g.MulVec(jac.T(), mat.NewVecDense(m, r))

		accepted := false
		var newCost float64
		var step mat.VecDense
		for lambda <= maxLambda {
			a := mat.NewSymDense(n, nil)
			a.CopySym(&jtj)
			for i := 0; i < n; i++ {
				d := jtj.At(i, i)
				if d == 0 {
					d = 1
				}
				a.SetSym(i, i, jtj.At(i, i)+lambda*d)
			}
			var chol mat.Cholesky
			if ok := chol.Factorize(a); !ok {
				lambda *= 10
				continue
			}
			if err := chol.SolveVecTo(&step, &g); err != nil {
				lambda *= 10
				continue
			}
			for i := range candidate {
				candidate[i] = x[i] - step.AtVec(i)
			}
			p.freeResiduals(rNew, candidate)
			newCost = floats.Dot(rNew, rNew)
			if !math.IsNaN(newCost) && newCost < cost {
				accepted = true
				break
			}
			lambda *= 10
		}
		if !accepted {
			break
		}
		decrease := cost - newCost
		copy(x, candidate)
		copy(r, rNew)
		cost = newCost
		lambda = math.Max(lambda/10, 1e-12)
		if debug {
			logger.Debugw("refinement step", "iteration", iter, "cost", cost, "lambda", lambda)
		}
		if decrease <= minCostDecrease*cost || mat.Norm(&step, 2) <= 1e-12*(floats.Norm(x, 2)+1e-12) {
			break
		}
	}
	return x, cost, nil
}
