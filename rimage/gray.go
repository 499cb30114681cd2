// Package rimage holds the image helpers shared by detection, calibration and warping: grayscale
// conversion and file IO, bilinear sampling, annotation drawing and sub-pixel corner refinement.
package rimage

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// SameImgSize compares image.Grays to see if they are the same size.
func SameImgSize(g1, g2 image.Image) bool {
	return g1.Bounds().Dx() == g2.Bounds().Dx() && g1.Bounds().Dy() == g2.Bounds().Dy()
}

// ToGray returns a grayscale copy of an image with its origin at (0, 0). Gray inputs already at
// the origin are returned as is.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

// ToRGBA returns an RGBA copy of an image with its origin at (0, 0).
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// ReadGray reads an image file and converts it to grayscale.
func ReadGray(path string) (*image.Gray, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading image %q", path)
	}
	return ToGray(img), nil
}

// ReadImage reads an image file as is.
func ReadImage(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading image %q", path)
	}
	return img, nil
}

// WriteImage saves an image; the format follows the file extension.
func WriteImage(path string, img image.Image) error {
	return errors.Wrapf(imaging.Save(img, path), "writing image %q", path)
}

// Resize scales an image to the given size.
func Resize(img image.Image, size image.Point) image.Image {
	if img.Bounds().Size() == size {
		return img
	}
	return imaging.Resize(img, size.X, size.Y, imaging.Linear)
}

// BilinearGray samples a grayscale image at a fractional position. The second return is false
// when the position is outside the image.
func BilinearGray(img *image.Gray, p r2.Point) (float64, bool) {
	b := img.Bounds()
	if p.X < float64(b.Min.X) || p.Y < float64(b.Min.Y) || p.X > float64(b.Max.X-1) || p.Y > float64(b.Max.Y-1) {
		return 0, false
	}
	x0, y0 := int(math.Floor(p.X)), int(math.Floor(p.Y))
	x1, y1 := x0+1, y0+1
	if x1 >= b.Max.X {
		x1 = x0
	}
	if y1 >= b.Max.Y {
		y1 = y0
	}
	fx, fy := p.X-float64(x0), p.Y-float64(y0)
	at := func(x, y int) float64 {
		return float64(img.Pix[img.PixOffset(x, y)])
	}
	top := at(x0, y0)*(1-fx) + at(x1, y0)*fx
	bottom := at(x0, y1)*(1-fx) + at(x1, y1)*fx
	return top*(1-fy) + bottom*fy, true
}

// BilinearRGBA samples an RGBA image at a fractional position. The second return is false
// when the position is outside the image.
func BilinearRGBA(img *image.RGBA, p r2.Point) (color.RGBA, bool) {
	b := img.Bounds()
	if p.X < float64(b.Min.X) || p.Y < float64(b.Min.Y) || p.X > float64(b.Max.X-1) || p.Y > float64(b.Max.Y-1) {
		return color.RGBA{}, false
	}
	x0, y0 := int(math.Floor(p.X)), int(math.Floor(p.Y))
	x1, y1 := x0+1, y0+1
	if x1 >= b.Max.X {
		x1 = x0
	}
	if y1 >= b.Max.Y {
		y1 = y0
	}
	fx, fy := p.X-float64(x0), p.Y-float64(y0)
	w := [4]float64{(1 - fx) * (1 - fy), fx * (1 - fy), (1 - fx) * fy, fx * fy}
	offs := [4]int{img.PixOffset(x0, y0), img.PixOffset(x1, y0), img.PixOffset(x0, y1), img.PixOffset(x1, y1)}
	var out [4]float64
	for i, off := range offs {
		for c := 0; c < 4; c++ {
			out[c] += w[i] * float64(img.Pix[off+c])
		}
	}
	return color.RGBA{
		R: uint8(math.Round(out[0])),
		G: uint8(math.Round(out[1])),
		B: uint8(math.Round(out[2])),
		A: uint8(math.Round(out[3])),
	}, true
}
