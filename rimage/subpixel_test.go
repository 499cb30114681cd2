package rimage

import (
	"image"
	"image/color"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
)

// checkerQuadrants draws a 2x2 checkerboard whose squares meet between pixels 99 and 100.
func checkerQuadrants() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			if (x < 100) == (y < 100) {
				img.SetGray(x, y, color.Gray{Y: 20})
			} else {
				img.SetGray(x, y, color.Gray{Y: 230})
			}
		}
	}
	return img
}

func TestRefineCorner(t *testing.T) {
	img := checkerQuadrants()
	for _, start := range []r2.Point{{X: 101, Y: 98}, {X: 99.5, Y: 99.5}, {X: 97.2, Y: 102.7}} {
		got, ok := RefineCorner(img, start, DefaultSubPixOptions())
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, got.X, test.ShouldAlmostEqual, 99.5, 0.25)
		test.That(t, got.Y, test.ShouldAlmostEqual, 99.5, 0.25)
	}
}

func TestRefineCornerFailures(t *testing.T) {
	img := checkerQuadrants()
	// window leaves the image
	_, ok := RefineCorner(img, r2.Point{X: 2, Y: 2}, DefaultSubPixOptions())
	test.That(t, ok, test.ShouldBeFalse)

	// flat region has no gradient
	flat := image.NewGray(image.Rect(0, 0, 50, 50))
	_, ok = RefineCorner(flat, r2.Point{X: 25, Y: 25}, DefaultSubPixOptions())
	test.That(t, ok, test.ShouldBeFalse)

	pts, oks := RefineCorners(img, []r2.Point{{X: 101, Y: 98}, {X: 2, Y: 2}}, DefaultSubPixOptions())
	test.That(t, oks, test.ShouldResemble, []bool{true, false})
	test.That(t, pts[1], test.ShouldResemble, r2.Point{X: 2, Y: 2})
}
