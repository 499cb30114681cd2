// Package calibtest generates synthetic cameras, board poses and board images for tests.
package calibtest

import (
	"context"
	"image"
	"image/color"
	"math"
	"math/rand"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/board"
	"go.viam.com/stereocal/rimage/transform"
	"go.viam.com/stereocal/vision/charuco"
)

// Ground truth camera used across tests.
const (
	Width  = 640
	Height = 480
	Fx     = 800.0
	Fy     = 780.0
	Ppx    = 320.0
	Ppy    = 240.0
)

// Camera returns the ground truth camera, optionally with lens distortion.
func Camera(distortion *transform.BrownConrady) *transform.PinholeCameraModel {
	model := &transform.PinholeCameraModel{
		PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
			Width: Width, Height: Height, Fx: Fx, Fy: Fy, Ppx: Ppx, Ppy: Ppy,
		},
	}
	if distortion != nil {
		model.Distortion = distortion
	}
	return model
}

// Board returns the default board.
func Board() *board.Board {
	b, err := board.New(board.DefaultConfig())
	if err != nil {
		panic(err)
	}
	return b
}

// tilts are rotations in degrees about x, y and z, plus distance in meters.
var tilts = [][4]float64{
	{20, 0, 0, 0.50},
	{-20, 5, 3, 0.55},
	{0, 25, -4, 0.50},
	{5, -25, 6, 0.52},
	{15, 15, -8, 0.58},
	{-15, -15, 10, 0.48},
	{25, -10, 0, 0.60},
	{-10, 20, -12, 0.53},
	{10, -20, 5, 0.47},
	{-25, -5, -3, 0.56},
	{30, 10, 2, 0.62},
	{-5, 30, 9, 0.51},
}

// Poses returns n distinct board poses that keep the default board inside the ground truth
// camera's view, with the board centre on the optical axis.
func Poses(b *board.Board, n int) []transform.Pose {
	w, h := b.Size()
	centre := r3.Vector{X: w / 2, Y: h / 2}
	poses := make([]transform.Pose, n)
	for i := range poses {
		t := tilts[i%len(tilts)]
		rx, ry, rz := t[0]*math.Pi/180, t[1]*math.Pi/180, t[2]*math.Pi/180
		rot := composeRotation(rx, ry, rz)
		rvec := transform.RotationVector(rot)
		dist := t[3] + 0.01*float64(i/len(tilts))
		trans := r3.Vector{Z: dist}.Sub(transform.RotateVector(rot, centre))
		poses[i] = transform.Pose{Rotation: rvec, Translation: trans}
	}
	return poses
}

func composeRotation(rx, ry, rz float64) *mat.Dense {
	var zy, out mat.Dense
	zy.Mul(transform.RotationMatrix(r3.Vector{Z: rz}), transform.RotationMatrix(r3.Vector{Y: ry}))
	out.Mul(&zy, transform.RotationMatrix(r3.Vector{X: rx}))
	return &out
}

// View is a synthetic observation of the board.
type View struct {
	IDs    []int
	Object []r3.Vector
	Image  []r2.Point
}

// ProjectCorners projects every chessboard corner that lands inside the image.
func ProjectCorners(model *transform.PinholeCameraModel, pose transform.Pose, b *board.Board) View {
	var v View
	corners := b.ChessboardCorners()
	px := transform.ProjectPoints(model, pose, corners)
	for id, p := range px {
		if p.X < 0 || p.Y < 0 || p.X > float64(model.Width-1) || p.Y > float64(model.Height-1) {
			continue
		}
		v.IDs = append(v.IDs, id)
		v.Object = append(v.Object, corners[id])
		v.Image = append(v.Image, p)
	}
	return v
}

// AddNoise perturbs image points with gaussian noise of the given standard deviation.
func AddNoise(pts []r2.Point, sigma float64, seed int64) []r2.Point {
	r := rand.New(rand.NewSource(seed)) //nolint:gosec
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = p.Add(r2.Point{X: r.NormFloat64() * sigma, Y: r.NormFloat64() * sigma})
	}
	return out
}

// ProjectMarkers projects the corners of every marker fully inside the image.
func ProjectMarkers(model *transform.PinholeCameraModel, pose transform.Pose, b *board.Board) []charuco.Marker {
	var markers []charuco.Marker
	for id := 0; id < b.NumMarkers(); id++ {
		obj, err := b.MarkerCorners(id)
		if err != nil {
			continue
		}
		px := transform.ProjectPoints(model, pose, obj[:])
		inside := true
		for _, p := range px {
			if p.X < 0 || p.Y < 0 || p.X > float64(model.Width-1) || p.Y > float64(model.Height-1) {
				inside = false
			}
		}
		if !inside {
			continue
		}
		m := charuco.Marker{ID: id}
		copy(m.Corners[:], px)
		markers = append(markers, m)
	}
	return markers
}

// RenderView draws the board as seen by an undistorted camera: black squares, white squares with
// a black marker inset, gray background. Each pixel is supersampled 4x4.
func RenderView(model *transform.PinholeCameraModel, pose transform.Pose, b *board.Board) *image.Gray {
	rot := transform.RotationMatrix(pose.Rotation)
	// board plane (x, y, 1) -> image: K [r1 r2 t]
	var h transform.Homography
	k := model.GetCameraMatrix()
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			var v float64
			for i := 0; i < 3; i++ {
				var m float64
				switch col {
				case 0, 1:
					m = rot.At(i, col)
				default:
					m = []float64{pose.Translation.X, pose.Translation.Y, pose.Translation.Z}[i]
				}
				v += k.At(row, i) * m
			}
			h[row][col] = v
		}
	}
	inv, err := h.Inverse()
	if err != nil {
		panic(err)
	}

	cfg := b.Config()
	bw, bh := b.Size()
	inset := (cfg.SquareSize - cfg.MarkerSize) / 2
	shade := func(p r2.Point) float64 {
		if p.X < 0 || p.Y < 0 || p.X >= bw || p.Y >= bh {
			return 128
		}
		col, row := int(p.X/cfg.SquareSize), int(p.Y/cfg.SquareSize)
		if _, isMarker := b.MarkerAt(board.Square{Col: col, Row: row}); !isMarker {
			return 0
		}
		lx := p.X - float64(col)*cfg.SquareSize
		ly := p.Y - float64(row)*cfg.SquareSize
		if lx > inset && lx < cfg.SquareSize-inset && ly > inset && ly < cfg.SquareSize-inset {
			return 0
		}
		return 255
	}

	img := image.NewGray(image.Rect(0, 0, model.Width, model.Height))
	const ss = 4
	for y := 0; y < model.Height; y++ {
		for x := 0; x < model.Width; x++ {
			sum := 0.0
			for sy := 0; sy < ss; sy++ {
				for sx := 0; sx < ss; sx++ {
					p := r2.Point{
						X: float64(x) + (float64(sx)+0.5)/ss - 0.5,
						Y: float64(y) + (float64(sy)+0.5)/ss - 0.5,
					}
					sum += shade(inv.Apply(p))
				}
			}
			img.SetGray(x, y, color.Gray{Y: uint8(math.Round(sum / (ss * ss)))})
		}
	}
	return img
}

// MarkerDetector returns canned markers for known images. Images are matched by content, so
// a view written to disk and read back is still recognized.
type MarkerDetector struct {
	mu      sync.Mutex
	markers map[string][]charuco.Marker
	Err     error
}

// NewMarkerDetector returns an empty fake detector.
func NewMarkerDetector() *MarkerDetector {
	return &MarkerDetector{markers: map[string][]charuco.Marker{}}
}

func contentKey(img *image.Gray) string {
	return img.Rect.String() + string(img.Pix)
}

// Set registers the markers to report for an image.
func (md *MarkerDetector) Set(img *image.Gray, markers []charuco.Marker) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.markers[contentKey(img)] = markers
}

// DetectMarkers implements charuco.MarkerDetector.
func (md *MarkerDetector) DetectMarkers(ctx context.Context, img *image.Gray) ([]charuco.Marker, error) {
	md.mu.Lock()
	defer md.mu.Unlock()
	if md.Err != nil {
		return nil, md.Err
	}
	return append([]charuco.Marker(nil), md.markers[contentKey(img)]...), nil
}
