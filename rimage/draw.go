package rimage

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/golang/geo/r2"
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

// init sets up the fonts we want to use.
func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Font returns the font we use for drawing.
func Font() *truetype.Font {
	return font
}

// Colors used for annotations.
var (
	Red    = color.RGBA{R: 255, A: 255}
	Green  = color.RGBA{G: 255, A: 255}
	Blue   = color.RGBA{B: 255, A: 255}
	Yellow = color.RGBA{R: 255, G: 255, A: 255}
	White  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// DrawString writes a string to the given context at a particular point.
func DrawString(dc *gg.Context, text string, p image.Point, c color.Color, size float64) {
	dc.SetFontFace(truetype.NewFace(Font(), &truetype.Options{Size: size}))
	dc.SetColor(c)
	dc.DrawStringWrapped(text, float64(p.X), float64(p.Y), 0, 0, float64(dc.Width()), 1, 0)
}

// DrawPolygon draws a closed outline through the given points.
func DrawPolygon(dc *gg.Context, pts []r2.Point, c color.Color, width float64) {
	if len(pts) < 2 {
		return
	}
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.MoveTo(pts[0].X, pts[0].Y)
	for _, p := range pts[1:] {
		dc.LineTo(p.X, p.Y)
	}
	dc.ClosePath()
	dc.Stroke()
}

// DrawLabeledPoint draws a small filled circle with a label next to it.
func DrawLabeledPoint(dc *gg.Context, p r2.Point, label string, c color.Color, radius float64) {
	dc.SetColor(c)
	dc.DrawCircle(p.X, p.Y, radius)
	dc.Fill()
	if label != "" {
		DrawString(dc, label, image.Point{int(p.X + radius + 1), int(p.Y - 3*radius)}, c, 4*radius)
	}
}

// Annotate copies an image into a drawing context so overlays can be drawn on top of it.
func Annotate(img image.Image) *gg.Context {
	dc := gg.NewContext(img.Bounds().Dx(), img.Bounds().Dy())
	dc.DrawImage(img, -img.Bounds().Min.X, -img.Bounds().Min.Y)
	return dc
}

// DrawBanner writes status lines in the top-left corner.
func DrawBanner(dc *gg.Context, c color.Color, lines ...string) {
	const size = 24
	for i, line := range lines {
		DrawString(dc, line, image.Point{10, 10 + i*int(size*1.5)}, c, size)
	}
}

// FormatPoint formats a point for tables and labels.
func FormatPoint(p r2.Point) string {
	return fmt.Sprintf("(%.1f, %.1f)", p.X, p.Y)
}
