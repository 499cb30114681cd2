// Package stereo accumulates corner correspondences between two cameras viewing the same board
// and fits the homography between their image planes.
package stereo

import (
	"image"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/stereocal/logging"
	"go.viam.com/stereocal/rimage/transform"
	"go.viam.com/stereocal/vision/charuco"
)

// Defaults for accepting pairs and fitting.
const (
	// MinCommon is the number of corner ids both images of a pair must share.
	MinCommon = 8
	// MinPairs is the number of accepted pairs needed before fitting.
	MinPairs = 3
)

var (
	// ErrTooFewCommon means the two images of a pair share too few corners. The pair is skipped.
	ErrTooFewCommon = errors.New("too few common corners in pair")
	// ErrInsufficientPairs means too few pairs were accepted to fit a homography.
	ErrInsufficientPairs = errors.New("not enough stereo pairs")
	// ErrResolutionMismatch means a pair was taken at a different resolution than earlier pairs.
	ErrResolutionMismatch = errors.New("stereo pair resolution differs from earlier pairs")
)

// Options tunes pair acceptance and the robust fit.
type Options struct {
	MinCommon int                     `json:"min_common"`
	MinPairs  int                     `json:"min_pairs"`
	RANSAC    transform.RANSACOptions `json:"ransac"`
}

// DefaultOptions matches the capture tools: 8 common corners, 3 pairs, 5 px threshold.
func DefaultOptions() Options {
	return Options{MinCommon: MinCommon, MinPairs: MinPairs, RANSAC: transform.DefaultRANSACOptions()}
}

// Pair is the common corners of one accepted stereo pair.
type Pair struct {
	Name   string
	IDs    []int
	Source []r2.Point
	Target []r2.Point
}

// Accumulator collects the corners seen by both cameras over many pairs.
type Accumulator struct {
	opts       Options
	pairs      []Pair
	sourceSize image.Point
	targetSize image.Point
	logger     logging.Logger
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator(opts Options, logger logging.Logger) *Accumulator {
	if opts.MinCommon <= 0 {
		opts.MinCommon = MinCommon
	}
	if opts.MinPairs <= 0 {
		opts.MinPairs = MinPairs
	}
	return &Accumulator{opts: opts, logger: logger}
}

// AddPair intersects the corner ids of the source and target detections and keeps the pair if
// enough are shared. It returns the number of common corners.
func (a *Accumulator) AddPair(name string, src, dst *charuco.Detection) (int, error) {
	if src == nil || dst == nil {
		return 0, errors.Errorf("pair %q is missing a detection", name)
	}
	if len(a.pairs) > 0 && (src.ImageSize != a.sourceSize || dst.ImageSize != a.targetSize) {
		return 0, errors.Wrapf(ErrResolutionMismatch, "pair %q is %v/%v, expected %v/%v",
			name, src.ImageSize, dst.ImageSize, a.sourceSize, a.targetSize)
	}
	common := lo.Intersect(src.IDs, dst.IDs)
	sort.Ints(common)
	if len(common) < a.opts.MinCommon {
		return len(common), errors.Wrapf(ErrTooFewCommon, "pair %q shares %d, need %d", name, len(common), a.opts.MinCommon)
	}
	p := Pair{Name: name, IDs: common, Source: make([]r2.Point, len(common)), Target: make([]r2.Point, len(common))}
	for i, id := range common {
		p.Source[i], _ = src.Lookup(id)
		p.Target[i], _ = dst.Lookup(id)
	}
	if len(a.pairs) == 0 {
		a.sourceSize, a.targetSize = src.ImageSize, dst.ImageSize
	}
	a.pairs = append(a.pairs, p)
	a.logger.Debugw("pair accepted", "pair", name, "common", len(common))
	return len(common), nil
}

// NumPairs is the number of accepted pairs.
func (a *Accumulator) NumPairs() int {
	return len(a.pairs)
}

// Pairs returns the accepted pairs.
func (a *Accumulator) Pairs() []Pair {
	return a.pairs
}

// Points concatenates the correspondences of every accepted pair.
func (a *Accumulator) Points() ([]r2.Point, []r2.Point) {
	var src, dst []r2.Point
	for _, p := range a.pairs {
		src = append(src, p.Source...)
		dst = append(dst, p.Target...)
	}
	return src, dst
}

// Result is a fitted source to target homography.
type Result struct {
	*transform.HomographyFit
	SourceSize image.Point
	TargetSize image.Point
	Pairs      int
	// Undistorted is set when the source corners had lens distortion removed before fitting, so
	// source frames must be undistorted before the homography is applied.
	Undistorted bool
}

// Fit robustly estimates the homography from every accumulated correspondence. It refuses with
// ErrInsufficientPairs when fewer than the minimum number of pairs were accepted.
func (a *Accumulator) Fit() (*Result, error) {
	if len(a.pairs) < a.opts.MinPairs {
		return nil, errors.Wrapf(ErrInsufficientPairs, "have %d, need %d", len(a.pairs), a.opts.MinPairs)
	}
	src, dst := a.Points()
	fit, err := transform.FitHomographyRANSAC(src, dst, a.opts.RANSAC)
	if err != nil {
		return nil, err
	}
	a.logger.Infow("homography fitted", "pairs", len(a.pairs), "points", len(src),
		"inliers", fit.NumInliers, "rms", fit.RMS, "max_error", fit.MaxError)
	return &Result{HomographyFit: fit, SourceSize: a.sourceSize, TargetSize: a.targetSize, Pairs: len(a.pairs)}, nil
}
