package stereo

import (
	"fmt"
	"image"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/stereocal/logging"
	"go.viam.com/stereocal/rimage/transform"
	"go.viam.com/stereocal/testutils/calibtest"
	"go.viam.com/stereocal/vision/charuco"
)

var sourceToTarget = transform.Homography{
	{1.4, 0.05, 180},
	{-0.03, 1.38, 95},
	{1e-5, 2e-5, 1},
}

// syntheticPair views the board with the source camera and maps the corners into the target
// image through sourceToTarget. Target corners with ids in drop are removed.
func syntheticPair(t *testing.T, poseIndex int, drop map[int]bool) (*charuco.Detection, *charuco.Detection) {
	t.Helper()
	b := calibtest.Board()
	pose := calibtest.Poses(b, poseIndex+1)[poseIndex]
	v := calibtest.ProjectCorners(calibtest.Camera(nil), pose, b)
	src := &charuco.Detection{IDs: v.IDs, Corners: v.Image, ImageSize: image.Pt(640, 480)}
	dst := &charuco.Detection{ImageSize: image.Pt(1280, 720)}
	for i, id := range v.IDs {
		if drop[id] {
			continue
		}
		dst.IDs = append(dst.IDs, id)
		dst.Corners = append(dst.Corners, sourceToTarget.Apply(v.Image[i]))
	}
	return src, dst
}

func TestAddPairCommonCorners(t *testing.T) {
	acc := NewAccumulator(DefaultOptions(), logging.NewTestLogger(t))
	drop := map[int]bool{}
	for id := 7; id < 24; id++ {
		drop[id] = true
	}
	src, dst := syntheticPair(t, 0, drop)
	n, err := acc.AddPair("pair_000", src, dst)
	test.That(t, errors.Is(err, ErrTooFewCommon), test.ShouldBeTrue)
	test.That(t, n, test.ShouldEqual, 7)
	test.That(t, acc.NumPairs(), test.ShouldEqual, 0)

	delete(drop, 7)
	src, dst = syntheticPair(t, 0, drop)
	n, err = acc.AddPair("pair_001", src, dst)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, MinCommon)
	pair := acc.Pairs()[0]
	test.That(t, pair.IDs, test.ShouldResemble, []int{0, 1, 2, 3, 4, 5, 6, 7})
	for i := range pair.IDs {
		test.That(t, sourceToTarget.Apply(pair.Source[i]).Sub(pair.Target[i]).Norm(), test.ShouldBeLessThan, 1e-9)
	}

	_, err = acc.AddPair("missing", src, nil)
	test.That(t, err, test.ShouldNotBeNil)

	src.ImageSize = image.Pt(1920, 1080)
	_, err = acc.AddPair("resized", src, dst)
	test.That(t, errors.Is(err, ErrResolutionMismatch), test.ShouldBeTrue)
}

func TestFitNeedsThreePairs(t *testing.T) {
	acc := NewAccumulator(DefaultOptions(), logging.NewTestLogger(t))
	for i := 0; i < MinPairs-1; i++ {
		src, dst := syntheticPair(t, i, nil)
		_, err := acc.AddPair(fmt.Sprintf("pair_%03d", i), src, dst)
		test.That(t, err, test.ShouldBeNil)
	}
	_, err := acc.Fit()
	test.That(t, errors.Is(err, ErrInsufficientPairs), test.ShouldBeTrue)

	src, dst := syntheticPair(t, MinPairs-1, nil)
	_, err = acc.AddPair("last", src, dst)
	test.That(t, err, test.ShouldBeNil)
	res, err := acc.Fit()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Pairs, test.ShouldEqual, MinPairs)
	test.That(t, res.SourceSize, test.ShouldResemble, image.Pt(640, 480))
	test.That(t, res.TargetSize, test.ShouldResemble, image.Pt(1280, 720))
	test.That(t, res.NumInliers, test.ShouldEqual, 3*24)
	test.That(t, res.RMS, test.ShouldBeLessThan, 1e-6)
	for _, p := range []r2.Point{{X: 0, Y: 0}, {X: 639, Y: 0}, {X: 639, Y: 479}, {X: 0, Y: 479}, {X: 320, Y: 240}} {
		test.That(t, res.H.Apply(p).Sub(sourceToTarget.Apply(p)).Norm(), test.ShouldBeLessThan, 1e-4)
	}
}

func TestFitRejectsOutliers(t *testing.T) {
	acc := NewAccumulator(DefaultOptions(), logging.NewTestLogger(t))
	for i := 0; i < 4; i++ {
		src, dst := syntheticPair(t, i, nil)
		src.Corners = calibtest.AddNoise(src.Corners, 0.3, int64(i))
		if i == 2 {
			// a misdetected corner
			dst.Corners[5] = dst.Corners[5].Add(r2.Point{X: 60, Y: -40})
		}
		_, err := acc.AddPair(fmt.Sprintf("pair_%03d", i), src, dst)
		test.That(t, err, test.ShouldBeNil)
	}
	res, err := acc.Fit()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.NumInliers, test.ShouldEqual, 4*24-1)
	test.That(t, res.Inliers[2*24+5], test.ShouldBeFalse)
	test.That(t, res.MaxError, test.ShouldBeLessThan, DefaultOptions().RANSAC.Threshold)
}
