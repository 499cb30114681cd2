package charuco_test

import (
	"context"
	"image"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/stereocal/logging"
	"go.viam.com/stereocal/testutils/calibtest"
	"go.viam.com/stereocal/vision/charuco"
)

func TestNewDetector(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := charuco.NewDetector(calibtest.Board(), nil, charuco.DefaultOptions(), logger)
	test.That(t, err, test.ShouldBeError, charuco.ErrNoMarkerDetector)
	_, err = charuco.NewDetector(nil, calibtest.NewMarkerDetector(), charuco.DefaultOptions(), logger)
	test.That(t, err, test.ShouldNotBeNil)
	d, err := charuco.NewDetector(calibtest.Board(), calibtest.NewMarkerDetector(), charuco.Options{}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.Board().NumCorners(), test.ShouldEqual, 24)
}

func TestDetectMarkersFiltering(t *testing.T) {
	logger := logging.NewTestLogger(t)
	b := calibtest.Board()
	fake := calibtest.NewMarkerDetector()
	d, err := charuco.NewDetector(b, fake, charuco.DefaultOptions(), logger)
	test.That(t, err, test.ShouldBeNil)

	img := image.NewGray(image.Rect(0, 0, 10, 10))
	fake.Set(img, []charuco.Marker{{ID: 3}, {ID: 1}, {ID: 3}, {ID: 99}, {ID: -1}, {ID: 2}})
	markers, err := d.DetectMarkers(context.Background(), img)
	test.That(t, errors.Is(err, charuco.ErrTooFewMarkers), test.ShouldBeTrue)
	test.That(t, charuco.IsInsufficient(err), test.ShouldBeTrue)
	test.That(t, len(markers), test.ShouldEqual, 3)
	test.That(t, markers[0].ID, test.ShouldEqual, 1)
	test.That(t, markers[2].ID, test.ShouldEqual, 3)

	fake.Set(img, []charuco.Marker{{ID: 3}, {ID: 1}, {ID: 0}, {ID: 16}})
	markers, err = d.DetectMarkers(context.Background(), img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(markers), test.ShouldEqual, charuco.MinMarkers)

	fake.Err = errors.New("camera unplugged")
	_, err = d.DetectMarkers(context.Background(), img)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, charuco.IsInsufficient(err), test.ShouldBeFalse)
}

func TestDetectSyntheticView(t *testing.T) {
	logger := logging.NewTestLogger(t)
	b := calibtest.Board()
	model := calibtest.Camera(nil)
	fake := calibtest.NewMarkerDetector()
	d, err := charuco.NewDetector(b, fake, charuco.DefaultOptions(), logger)
	test.That(t, err, test.ShouldBeNil)

	for _, pose := range calibtest.Poses(b, 3) {
		img := calibtest.RenderView(model, pose, b)
		fake.Set(img, calibtest.ProjectMarkers(model, pose, b))
		truth := calibtest.ProjectCorners(model, pose, b)

		det, err := d.Detect(context.Background(), img)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, det.Usable(), test.ShouldBeTrue)
		test.That(t, det.Len(), test.ShouldEqual, b.NumCorners())
		test.That(t, det.ImageSize, test.ShouldResemble, image.Pt(calibtest.Width, calibtest.Height))
		for i, id := range truth.IDs {
			got, ok := det.Lookup(id)
			test.That(t, ok, test.ShouldBeTrue)
			test.That(t, got.Sub(truth.Image[i]).Norm(), test.ShouldBeLessThan, 0.5)
		}
		obj, err := det.ObjectPoints(b)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, obj, test.ShouldResemble, truth.Object)
		test.That(t, det.MarkerIDs(), test.ShouldHaveLength, b.NumMarkers())
	}
}

func TestDetectTooFewCorners(t *testing.T) {
	logger := logging.NewTestLogger(t)
	b := calibtest.Board()
	model := calibtest.Camera(nil)
	fake := calibtest.NewMarkerDetector()
	d, err := charuco.NewDetector(b, fake, charuco.DefaultOptions(), logger)
	test.That(t, err, test.ShouldBeNil)

	pose := calibtest.Poses(b, 1)[0]
	img := calibtest.RenderView(model, pose, b)
	all := calibtest.ProjectMarkers(model, pose, b)
	// four markers along the first row touch too few corners
	var firstRow []charuco.Marker
	for _, m := range all {
		if m.ID < 4 {
			firstRow = append(firstRow, m)
		}
	}
	fake.Set(img, firstRow)
	det, err := d.Detect(context.Background(), img)
	test.That(t, errors.Is(err, charuco.ErrTooFewCorners), test.ShouldBeTrue)
	test.That(t, det.Len(), test.ShouldBeLessThan, charuco.MinCorners)
	test.That(t, det.Usable(), test.ShouldBeFalse)
	test.That(t, len(det.Markers), test.ShouldEqual, 4)
}

func TestUsableFollowsConfiguredMinimum(t *testing.T) {
	logger := logging.NewTestLogger(t)
	b := calibtest.Board()
	model := calibtest.Camera(nil)
	fake := calibtest.NewMarkerDetector()
	opts := charuco.DefaultOptions()
	opts.MinCorners = b.NumCorners() + 1
	d, err := charuco.NewDetector(b, fake, opts, logger)
	test.That(t, err, test.ShouldBeNil)

	pose := calibtest.Poses(b, 1)[0]
	img := calibtest.RenderView(model, pose, b)
	fake.Set(img, calibtest.ProjectMarkers(model, pose, b))
	det, err := d.Detect(context.Background(), img)
	test.That(t, errors.Is(err, charuco.ErrTooFewCorners), test.ShouldBeTrue)
	test.That(t, det.Len(), test.ShouldEqual, b.NumCorners())
	test.That(t, det.Len(), test.ShouldBeGreaterThanOrEqualTo, charuco.MinCorners)
	test.That(t, det.Usable(), test.ShouldBeFalse)

	// hand-built detections fall back to the package default
	manual := &charuco.Detection{IDs: make([]int, charuco.MinCorners), Corners: make([]r2.Point, charuco.MinCorners)}
	test.That(t, manual.Usable(), test.ShouldBeTrue)
}

func TestMapCorners(t *testing.T) {
	det := &charuco.Detection{IDs: []int{2, 5}, Corners: []r2.Point{{X: 1, Y: 1}, {X: 2, Y: 4}}, ImageSize: image.Pt(10, 10)}
	moved := det.MapCorners(func(p r2.Point) r2.Point { return p.Mul(2) })
	test.That(t, moved.Corners, test.ShouldResemble, []r2.Point{{X: 2, Y: 2}, {X: 4, Y: 8}})
	test.That(t, moved.IDs, test.ShouldResemble, det.IDs)
	test.That(t, moved.ImageSize, test.ShouldResemble, det.ImageSize)
	// the original is untouched
	test.That(t, det.Corners[1], test.ShouldResemble, r2.Point{X: 2, Y: 4})
}

func TestDetectionLookup(t *testing.T) {
	det := &charuco.Detection{IDs: []int{2, 5, 9}, Corners: []r2.Point{{X: 1}, {X: 2}, {X: 3}}}
	p, ok := det.Lookup(5)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, p.X, test.ShouldEqual, 2.0)
	_, ok = det.Lookup(4)
	test.That(t, ok, test.ShouldBeFalse)
	var empty *charuco.Detection
	test.That(t, empty.Len(), test.ShouldEqual, 0)
}

func TestDrawDetection(t *testing.T) {
	det := &charuco.Detection{
		IDs:     []int{0},
		Corners: []r2.Point{{X: 120, Y: 95}},
		Markers: []charuco.Marker{{ID: 0, Corners: [4]r2.Point{{X: 100, Y: 80}, {X: 140, Y: 80}, {X: 140, Y: 110}, {X: 100, Y: 110}}}},
	}
	src := image.NewGray(image.Rect(0, 0, 200, 120))
	out := det.Draw(src)
	test.That(t, out.Bounds(), test.ShouldResemble, src.Bounds())
	r, g, _, _ := out.At(140, 100).RGBA()
	test.That(t, g, test.ShouldBeGreaterThan, r)
	r, g, _, _ = out.At(120, 95).RGBA()
	test.That(t, r, test.ShouldBeGreaterThan, g)
}
