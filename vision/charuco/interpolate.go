package charuco

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/stereocal/board"
	"go.viam.com/stereocal/rimage"
	"go.viam.com/stereocal/rimage/transform"
)

// minSubPixWindow is the smallest refinement half window worth running.
const minSubPixWindow = 2

// InterpolateCorners predicts every chessboard corner next to a detected marker through the
// homography of each adjacent marker, averages the predictions and refines them to sub-pixel
// accuracy. The refinement window is shrunk per corner so it never reaches the marker edges
// around that corner. Corners whose refinement fails are dropped. The ids come back sorted.
func InterpolateCorners(b *board.Board, markers []Marker, img *image.Gray, opts rimage.SubPixOptions) ([]int, []r2.Point) {
	homs := make(map[int]transform.Homography, len(markers))
	for _, m := range markers {
		objCorners, err := b.MarkerCorners(m.ID)
		if err != nil {
			continue
		}
		src := make([]r2.Point, 4)
		for i, c := range objCorners {
			src[i] = planePoint(c)
		}
		h, err := transform.EstimateHomography(src, m.Corners[:])
		if err != nil {
			continue
		}
		homs[m.ID] = h
	}

	cfg := b.Config()
	gap := (cfg.SquareSize - cfg.MarkerSize) / 2
	bounds := img.Bounds()
	var ids []int
	var pts []r2.Point
	for id := 0; id < b.NumCorners(); id++ {
		adjacent, err := b.CornerMarkers(id)
		if err != nil {
			continue
		}
		obj, err := b.CornerPoint(id)
		if err != nil {
			continue
		}
		corner := planePoint(obj)

		var sum r2.Point
		n := 0
		gapPx := math.Inf(1)
		for _, mid := range adjacent {
			h, ok := homs[mid]
			if !ok {
				continue
			}
			p := h.Apply(corner)
			sum = sum.Add(p)
			n++
			gapPx = math.Min(gapPx, h.Apply(corner.Add(r2.Point{X: gap})).Sub(p).Norm())
			gapPx = math.Min(gapPx, h.Apply(corner.Add(r2.Point{Y: gap})).Sub(p).Norm())
		}
		if n == 0 {
			continue
		}
		guess := sum.Mul(1 / float64(n))
		if guess.X < float64(bounds.Min.X) || guess.Y < float64(bounds.Min.Y) ||
			guess.X >= float64(bounds.Max.X) || guess.Y >= float64(bounds.Max.Y) {
			continue
		}

		local := opts
		if win := int(gapPx) - 1; win < local.HalfWindow {
			local.HalfWindow = win
		}
		if local.HalfWindow < minSubPixWindow {
			local.HalfWindow = minSubPixWindow
		}
		refined, ok := rimage.RefineCorner(img, guess, local)
		if !ok {
			continue
		}
		ids = append(ids, id)
		pts = append(pts, refined)
	}
	return ids, pts
}

func planePoint(v r3.Vector) r2.Point {
	return r2.Point{X: v.X, Y: v.Y}
}
