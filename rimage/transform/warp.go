package transform

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/stereocal/rimage"
)

// WarpPerspective maps src onto an output of the given size through h, where h takes source
// pixels to output pixels. Each output pixel is pulled back through the inverse and sampled
// bilinearly; pixels whose preimage falls outside src stay black.
func WarpPerspective(src image.Image, h Homography, size image.Point) (*image.RGBA, error) {
	inv, err := h.Inverse()
	if err != nil {
		return nil, err
	}
	in := rimage.ToRGBA(src)
	out := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.RGBA{A: 255}), image.Point{}, draw.Src)
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			p := inv.Apply(r2.Point{X: float64(x), Y: float64(y)})
			if c, ok := rimage.BilinearRGBA(in, p); ok {
				out.SetRGBA(x, y, c)
			}
		}
	}
	return out, nil
}

// Overlay blends b over a with the given opacity of b. Both images must be the same size.
func Overlay(a, b image.Image, alpha float64) (*image.RGBA, error) {
	if !rimage.SameImgSize(a, b) {
		return nil, errors.Errorf("overlay needs equal sizes, got %v and %v", a.Bounds().Size(), b.Bounds().Size())
	}
	if alpha < 0 || alpha > 1 {
		return nil, errors.Errorf("overlay alpha must be in [0, 1], got %v", alpha)
	}
	ra, rb := rimage.ToRGBA(a), rimage.ToRGBA(b)
	out := image.NewRGBA(ra.Bounds())
	for i := range out.Pix {
		out.Pix[i] = uint8(float64(ra.Pix[i])*(1-alpha) + float64(rb.Pix[i])*alpha + 0.5)
	}
	return out, nil
}

// Panel is one labelled tile of a debug grid.
type Panel struct {
	Label string
	Image image.Image
}

// DebugGrid tiles panels two per row, each scaled to the size of the first panel, and writes
// each panel's label in its top-left corner.
func DebugGrid(panels ...Panel) (image.Image, error) {
	if len(panels) == 0 {
		return nil, errors.New("debug grid needs at least one panel")
	}
	for _, p := range panels {
		if p.Image == nil {
			return nil, errors.Errorf("panel %q has no image", p.Label)
		}
	}
	tile := panels[0].Image.Bounds().Size()
	cols := 2
	if len(panels) == 1 {
		cols = 1
	}
	rows := (len(panels) + cols - 1) / cols
	dc := gg.NewContext(tile.X*cols, tile.Y*rows)
	dc.SetColor(color.Black)
	dc.Clear()
	labelSize := float64(tile.Y) / 20
	if labelSize < 10 {
		labelSize = 10
	}
	for i, p := range panels {
		x, y := (i%cols)*tile.X, (i/cols)*tile.Y
		dc.DrawImage(rimage.Resize(p.Image, tile), x, y)
		rimage.DrawString(dc, p.Label, image.Pt(x+10, y+10), rimage.Yellow, labelSize)
	}
	return dc.Image(), nil
}
