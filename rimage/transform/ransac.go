package transform

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/optimize"
)

// RANSACOptions tunes robust homography fitting.
type RANSACOptions struct {
	// Threshold is the forward reprojection distance in pixels under which a pair is an inlier.
	Threshold     float64 `json:"reprojection_threshold_px"`
	MaxIterations int     `json:"max_iterations"`
	Confidence    float64 `json:"confidence"`
	Seed          int64   `json:"seed"`
	// Refine polishes the inlier fit by minimizing geometric error.
	Refine bool `json:"refine"`
}

// DefaultRANSACOptions uses a 5 pixel inlier threshold.
func DefaultRANSACOptions() RANSACOptions {
	return RANSACOptions{
		Threshold:     5.0,
		MaxIterations: 2000,
		Confidence:    0.995,
		Seed:          1,
		Refine:        true,
	}
}

// HomographyFit is the result of a robust homography fit.
type HomographyFit struct {
	H          Homography
	Inliers    []bool
	NumInliers int
	// RMS and MaxError are forward reprojection errors over the inliers, in pixels.
	RMS        float64
	MaxError   float64
	Iterations int
	Refined    bool
}

// InlierRatio is the fraction of pairs kept as inliers.
func (f *HomographyFit) InlierRatio() float64 {
	if len(f.Inliers) == 0 {
		return 0
	}
	return float64(f.NumInliers) / float64(len(f.Inliers))
}

// FitHomographyRANSAC robustly fits the homography mapping src onto dst. Minimal 4 point
// samples are drawn from a seeded source so fits are reproducible; the model with the most
// inliers is re-estimated on all of its inliers and optionally refined.
func FitHomographyRANSAC(src, dst []r2.Point, opts RANSACOptions) (*HomographyFit, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("point counts differ: %d source, %d destination", len(src), len(dst))
	}
	n := len(src)
	if n < 4 {
		return nil, errors.Wrapf(ErrHomographyFailed, "need at least 4 point pairs, got %d", n)
	}
	if opts.Threshold <= 0 {
		return nil, errors.Errorf("inlier threshold must be positive, got %v", opts.Threshold)
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultRANSACOptions().MaxIterations
	}
	if opts.Confidence <= 0 || opts.Confidence >= 1 {
		opts.Confidence = DefaultRANSACOptions().Confidence
	}

	r := rand.New(rand.NewSource(opts.Seed)) //nolint:gosec
	var (
		best      Homography
		bestCount int
		bestCost  = math.Inf(1)
		found     bool
	)
	needed := opts.MaxIterations
	iter := 0
	sample := make([]int, 4)
	for ; iter < needed && iter < opts.MaxIterations; iter++ {
		sampleIndexes(r, n, sample)
		s4 := []r2.Point{src[sample[0]], src[sample[1]], src[sample[2]], src[sample[3]]}
		d4 := []r2.Point{dst[sample[0]], dst[sample[1]], dst[sample[2]], dst[sample[3]]}
		if degenerateSample(s4) || degenerateSample(d4) {
			continue
		}
		h, err := EstimateHomography(s4, d4)
		if err != nil {
			continue
		}
		count, cost := scoreHomography(h, src, dst, opts.Threshold)
		if count > bestCount || (count == bestCount && cost < bestCost) {
			best, bestCount, bestCost, found = h, count, cost, true
			needed = adaptiveIterations(float64(count)/float64(n), opts.Confidence, opts.MaxIterations)
		}
	}
	if !found || bestCount < 4 {
		return nil, errors.Wrapf(ErrHomographyFailed, "no model with at least 4 inliers after %d iterations", iter)
	}

	// re-estimate on the consensus set twice so the mask settles on the least squares model
	h := best
	mask := inlierMask(h, src, dst, opts.Threshold)
	for round := 0; round < 2; round++ {
		is, id := selectPoints(src, dst, mask)
		if len(is) < 4 {
			break
		}
		refit, err := EstimateHomography(is, id)
		if err != nil {
			break
		}
		refitMask := inlierMask(refit, src, dst, opts.Threshold)
		if countTrue(refitMask) < countTrue(mask) {
			break
		}
		h, mask = refit, refitMask
	}

	fit := &HomographyFit{H: h, Inliers: mask, Iterations: iter}
	fit.NumInliers = countTrue(mask)
	fit.RMS, fit.MaxError = inlierError(h, src, dst, mask)

	if opts.Refine {
		is, id := selectPoints(src, dst, mask)
		if refined, ok := refineHomography(h, is, id); ok {
			rms, maxErr := inlierError(refined, src, dst, mask)
			if rms < fit.RMS {
				fit.H, fit.RMS, fit.MaxError, fit.Refined = refined, rms, maxErr, true
			}
		}
	}
	return fit, nil
}

// sampleIndexes fills out with distinct indexes in [0, n).
func sampleIndexes(r *rand.Rand, n int, out []int) {
	for i := range out {
	retry:
		for {
			c := r.Intn(n)
			for _, prev := range out[:i] {
				if prev == c {
					continue retry
				}
			}
			out[i] = c
			break
		}
	}
}

// degenerateSample reports whether any three of the four points are collinear.
func degenerateSample(p []r2.Point) bool {
	scale := 0.0
	for _, q := range p[1:] {
		scale = math.Max(scale, q.Sub(p[0]).Norm())
	}
	eps := 1e-6 * scale * scale
	for i := 0; i < 4; i++ {
		a, b, c := p[(i+1)%4], p[(i+2)%4], p[(i+3)%4]
		if math.Abs(triangleArea(a, b, c)) <= eps {
			return true
		}
	}
	return false
}

func scoreHomography(h Homography, src, dst []r2.Point, threshold float64) (int, float64) {
	count := 0
	cost := 0.0
	for i := range src {
		d := h.Apply(src[i]).Sub(dst[i]).Norm()
		if d < threshold {
			count++
			cost += d * d
		} else {
			cost += threshold * threshold
		}
	}
	return count, cost
}

// adaptiveIterations is the number of samples needed to draw one all-inlier sample with the
// given confidence.
func adaptiveIterations(inlierRatio, confidence float64, maxIterations int) int {
	if inlierRatio >= 1 {
		return 1
	}
	pAllInliers := math.Pow(inlierRatio, 4)
	if pAllInliers <= 0 {
		return maxIterations
	}
	k := math.Log(1-confidence) / math.Log(1-pAllInliers)
	if math.IsNaN(k) || k > float64(maxIterations) {
		return maxIterations
	}
	return int(math.Ceil(k))
}

func inlierMask(h Homography, src, dst []r2.Point, threshold float64) []bool {
	mask := make([]bool, len(src))
	for i, d := range ReprojectionErrors(h, src, dst) {
		mask[i] = d < threshold
	}
	return mask
}

func selectPoints(src, dst []r2.Point, mask []bool) ([]r2.Point, []r2.Point) {
	var is, id []r2.Point
	for i, in := range mask {
		if in {
			is = append(is, src[i])
			id = append(id, dst[i])
		}
	}
	return is, id
}

func countTrue(mask []bool) int {
	n := 0
	for _, b := range mask {
		if b {
			n++
		}
	}
	return n
}

func inlierError(h Homography, src, dst []r2.Point, mask []bool) (float64, float64) {
	sum, maxErr, n := 0.0, 0.0, 0
	for i, d := range ReprojectionErrors(h, src, dst) {
		if !mask[i] {
			continue
		}
		sum += d * d
		maxErr = math.Max(maxErr, d)
		n++
	}
	if n == 0 {
		return math.Inf(1), math.Inf(1)
	}
	return math.Sqrt(sum / float64(n)), maxErr
}

// refineHomography minimizes the summed squared forward reprojection error over the 8 free
// entries of h (h33 fixed to 1).
func refineHomography(h Homography, src, dst []r2.Point) (Homography, bool) {
	h = h.Normalize()
	x0 := h.Values()[:8]
	cost := func(x []float64) float64 {
		cand := Homography{{x[0], x[1], x[2]}, {x[3], x[4], x[5]}, {x[6], x[7], 1}}
		sum := 0.0
		for i := range src {
			d := cand.Apply(src[i]).Sub(dst[i])
			sum += d.Dot(d)
		}
		if math.IsNaN(sum) {
			return math.Inf(1)
		}
		return sum
	}
	result, err := optimize.Minimize(
		optimize.Problem{Func: cost},
		x0,
		&optimize.Settings{FuncEvaluations: 4000},
		&optimize.NelderMead{},
	)
	if err != nil || result == nil {
		return h, false
	}
	x := result.X
	refined := Homography{{x[0], x[1], x[2]}, {x[3], x[4], x[5]}, {x[6], x[7], 1}}
	if !refined.IsFinite() {
		return h, false
	}
	return refined, true
}
