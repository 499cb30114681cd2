package rimage

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
)

func TestBilinearGray(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	img.SetGray(0, 0, color.Gray{Y: 0})
	img.SetGray(1, 0, color.Gray{Y: 100})
	img.SetGray(0, 1, color.Gray{Y: 100})
	img.SetGray(1, 1, color.Gray{Y: 200})

	v, ok := BilinearGray(img, r2.Point{X: 0.5, Y: 0.5})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldAlmostEqual, 100)
	v, ok = BilinearGray(img, r2.Point{X: 1, Y: 0.25})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldAlmostEqual, 125)
	_, ok = BilinearGray(img, r2.Point{X: 1.01, Y: 0})
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = BilinearGray(img, r2.Point{X: -0.5, Y: 0})
	test.That(t, ok, test.ShouldBeFalse)
}

func TestBilinearRGBA(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 0, G: 100, A: 255})
	img.SetRGBA(1, 0, color.RGBA{R: 200, G: 100, A: 255})
	c, ok := BilinearRGBA(img, r2.Point{X: 0.5, Y: 0})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, c, test.ShouldResemble, color.RGBA{R: 100, G: 100, A: 255})
}

func TestToGrayAndFiles(t *testing.T) {
	rgba := image.NewRGBA(image.Rect(10, 10, 30, 20))
	for y := 10; y < 20; y++ {
		for x := 10; x < 30; x++ {
			rgba.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(x), B: uint8(x), A: 255})
		}
	}
	g := ToGray(rgba)
	test.That(t, g.Bounds(), test.ShouldResemble, image.Rect(0, 0, 20, 10))
	test.That(t, g.GrayAt(5, 0).Y, test.ShouldEqual, 15)
	test.That(t, ToGray(g), test.ShouldEqual, g)
	test.That(t, SameImgSize(g, rgba), test.ShouldBeTrue)

	path := filepath.Join(t.TempDir(), "gray.png")
	test.That(t, WriteImage(path, g), test.ShouldBeNil)
	back, err := ReadGray(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.Pix, test.ShouldResemble, g.Pix)

	_, err = ReadGray(filepath.Join(t.TempDir(), "missing.png"))
	test.That(t, err, test.ShouldNotBeNil)

	resized := Resize(g, image.Pt(10, 5))
	test.That(t, resized.Bounds().Size(), test.ShouldResemble, image.Pt(10, 5))
}

func TestAnnotate(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 64, 48))
	dc := Annotate(g)
	DrawPolygon(dc, []r2.Point{{X: 10, Y: 10}, {X: 50, Y: 10}, {X: 50, Y: 40}, {X: 10, Y: 40}}, Green, 2)
	DrawLabeledPoint(dc, r2.Point{X: 30, Y: 25}, "7", Red, 2)
	DrawBanner(dc, Yellow, "Markers: 4")
	out := dc.Image()
	test.That(t, out.Bounds().Size(), test.ShouldResemble, image.Pt(64, 48))
	r, gg, _, _ := out.At(30, 25).RGBA()
	test.That(t, r, test.ShouldBeGreaterThan, gg)
	test.That(t, FormatPoint(r2.Point{X: 1.26, Y: 2}), test.ShouldEqual, "(1.3, 2.0)")
}
