package board

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Print sizes for an A4 landscape sheet at 300 DPI.
const (
	A4Width300DPI  = 2480
	A4Height300DPI = 1754
	DefaultMargin  = 60
)

// ErrNoMarkerRenderer is returned when rendering is attempted without a marker source.
var ErrNoMarkerRenderer = errors.New("no marker renderer available; build with -tags opencv")

// A MarkerRenderer produces the bitmap of a single marker from a dictionary.
type MarkerRenderer interface {
	RenderMarker(dictionary string, id, sidePixels int) (*image.Gray, error)
}

// Render draws the board, centred and scaled to fit inside width x height pixels less a
// margin on every side.
func (b *Board) Render(r MarkerRenderer, width, height, margin int) (*image.Gray, error) {
	if r == nil {
		return nil, ErrNoMarkerRenderer
	}
	if width <= 2*margin || height <= 2*margin {
		return nil, errors.Errorf("image %dx%d too small for margin %d", width, height, margin)
	}
	squarePx := int(math.Min(
		float64(width-2*margin)/float64(b.cfg.Columns),
		float64(height-2*margin)/float64(b.cfg.Rows),
	))
	markerPx := int(math.Round(float64(squarePx) * b.cfg.MarkerSize / b.cfg.SquareSize))
	if markerPx < 1 {
		return nil, errors.Errorf("image %dx%d too small to render %s", width, height, b)
	}
	offX := (width - squarePx*b.cfg.Columns) / 2
	offY := (height - squarePx*b.cfg.Rows) / 2

	img := image.NewGray(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Gray{Y: 255}), image.Point{}, draw.Src)

	black := image.NewUniform(color.Gray{Y: 0})
	for y := 0; y < b.cfg.Rows; y++ {
		for x := 0; x < b.cfg.Columns; x++ {
			cell := image.Rect(offX+x*squarePx, offY+y*squarePx, offX+(x+1)*squarePx, offY+(y+1)*squarePx)
			id, isMarker := b.MarkerAt(Square{Col: x, Row: y})
			if !isMarker {
				draw.Draw(img, cell, black, image.Point{}, draw.Src)
				continue
			}
			marker, err := r.RenderMarker(b.cfg.Dictionary, id, markerPx)
			if err != nil {
				return nil, errors.Wrapf(err, "rendering marker %d", id)
			}
			var src image.Image = marker
			if marker.Bounds().Dx() != markerPx || marker.Bounds().Dy() != markerPx {
				src = imaging.Resize(marker, markerPx, markerPx, imaging.NearestNeighbor)
			}
			pad := (squarePx - markerPx) / 2
			dst := image.Rect(cell.Min.X+pad, cell.Min.Y+pad, cell.Min.X+pad+markerPx, cell.Min.Y+pad+markerPx)
			draw.Draw(img, dst, src, src.Bounds().Min, draw.Src)
		}
	}
	return img, nil
}
