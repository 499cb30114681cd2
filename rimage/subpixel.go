package rimage

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
)

// SubPixOptions controls corner refinement.
type SubPixOptions struct {
	// HalfWindow is the half side of the search window in pixels.
	HalfWindow    int     `json:"half_window_px"`
	MaxIterations int     `json:"max_iterations"`
	Epsilon       float64 `json:"epsilon_px"`
}

// DefaultSubPixOptions are the refinement settings used by the ChArUco detector.
func DefaultSubPixOptions() SubPixOptions {
	return SubPixOptions{HalfWindow: 5, MaxIterations: 30, Epsilon: 0.001}
}

// RefineCorner moves an approximate saddle corner to sub-pixel accuracy. Every image gradient
// in the window is orthogonal to the vector from the corner to that pixel, so the corner q
// solves sum(g g^T) q = sum(g g^T p). The window is resampled around the current estimate on
// every iteration. It returns false if the window leaves the image, the system is singular,
// or the estimate drifts further than the window from where it started.
func RefineCorner(img *image.Gray, start r2.Point, opts SubPixOptions) (r2.Point, bool) {
	win := opts.HalfWindow
	side := 2*win + 3
	patch := make([]float64, side*side)

	// gaussian weights over the window
	weights := make([]float64, (2*win+1)*(2*win+1))
	for j := -win; j <= win; j++ {
		for i := -win; i <= win; i++ {
			d2 := float64(i*i+j*j) / float64(win*win)
			weights[(j+win)*(2*win+1)+i+win] = math.Exp(-d2)
		}
	}

	cur := start
	for iter := 0; iter < opts.MaxIterations; iter++ {
		for j := 0; j < side; j++ {
			for i := 0; i < side; i++ {
				v, ok := BilinearGray(img, r2.Point{X: cur.X + float64(i-win-1), Y: cur.Y + float64(j-win-1)})
				if !ok {
					return start, false
				}
				patch[j*side+i] = v
			}
		}

		var a, b, c, bb1, bb2 float64
		for j := -win; j <= win; j++ {
			for i := -win; i <= win; i++ {
				pi, pj := i+win+1, j+win+1
				gx := (patch[pj*side+pi+1] - patch[pj*side+pi-1]) / 2
				gy := (patch[(pj+1)*side+pi] - patch[(pj-1)*side+pi]) / 2
				w := weights[(j+win)*(2*win+1)+i+win]
				gxx, gxy, gyy := w*gx*gx, w*gx*gy, w*gy*gy
				px, py := cur.X+float64(i), cur.Y+float64(j)
				a += gxx
				b += gxy
				c += gyy
				bb1 += gxx*px + gxy*py
				bb2 += gxy*px + gyy*py
			}
		}
		det := a*c - b*b
		if math.Abs(det) < 1e-12*(a*c+1) {
			return start, false
		}
		next := r2.Point{X: (c*bb1 - b*bb2) / det, Y: (a*bb2 - b*bb1) / det}
		moved := next.Sub(cur).Norm()
		cur = next
		if math.Abs(cur.X-start.X) > float64(win) || math.Abs(cur.Y-start.Y) > float64(win) {
			return start, false
		}
		if moved < opts.Epsilon {
			break
		}
	}
	return cur, true
}

// RefineCorners refines every point, reporting per point whether refinement succeeded.
// Points that fail keep their input position.
func RefineCorners(img *image.Gray, pts []r2.Point, opts SubPixOptions) ([]r2.Point, []bool) {
	out := make([]r2.Point, len(pts))
	ok := make([]bool, len(pts))
	for i, p := range pts {
		out[i], ok[i] = RefineCorner(img, p, opts)
	}
	return out, ok
}
