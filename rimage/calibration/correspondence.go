// Package calibration estimates pinhole intrinsics and lens distortion from many views of a
// planar calibration board.
package calibration

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/stereocal/board"
	"go.viam.com/stereocal/vision/charuco"
)

// MinViewPoints is the number of correspondences below which a view is left out.
const MinViewPoints = charuco.MinCorners

// ErrInsufficientPoints means a view has too few correspondences to be used.
var ErrInsufficientPoints = errors.New("too few correspondences in view")

// Correspondence ties a board point to where it was seen in one image.
type Correspondence struct {
	ID     int
	Object r3.Vector
	Image  r2.Point
}

// View is every correspondence found in one image.
type View struct {
	Name      string
	ImageSize image.Point
	Points    []Correspondence
}

// ObjectPoints returns the board points of the view.
func (v *View) ObjectPoints() []r3.Vector {
	out := make([]r3.Vector, len(v.Points))
	for i, p := range v.Points {
		out[i] = p.Object
	}
	return out
}

// ImagePoints returns the image points of the view.
func (v *View) ImagePoints() []r2.Point {
	out := make([]r2.Point, len(v.Points))
	for i, p := range v.Points {
		out[i] = p.Image
	}
	return out
}

// CorrespondenceSet collects views for one camera. Points of different views are never mixed.
type CorrespondenceSet struct {
	views []View
}

// NewCorrespondenceSet returns an empty set.
func NewCorrespondenceSet() *CorrespondenceSet {
	return &CorrespondenceSet{}
}

// AddView adds the correspondences of one image. Ids must be unique within the view. A view with
// fewer than MinViewPoints points is rejected with ErrInsufficientPoints.
func (s *CorrespondenceSet) AddView(name string, size image.Point, ids []int, obj []r3.Vector, img []r2.Point) error {
	if len(ids) != len(obj) || len(ids) != len(img) {
		return errors.Errorf("view %q: %d ids, %d object points, %d image points", name, len(ids), len(obj), len(img))
	}
	if size.X <= 0 || size.Y <= 0 {
		return errors.Errorf("view %q: invalid image size %v", name, size)
	}
	if len(ids) < MinViewPoints {
		return errors.Wrapf(ErrInsufficientPoints, "view %q has %d, need %d", name, len(ids), MinViewPoints)
	}
	seen := make(map[int]bool, len(ids))
	v := View{Name: name, ImageSize: size, Points: make([]Correspondence, len(ids))}
	for i, id := range ids {
		if seen[id] {
			return errors.Errorf("view %q: duplicate corner id %d", name, id)
		}
		seen[id] = true
		v.Points[i] = Correspondence{ID: id, Object: obj[i], Image: img[i]}
	}
	s.views = append(s.views, v)
	return nil
}

// AddDetection adds a board detection as a view.
func (s *CorrespondenceSet) AddDetection(name string, b *board.Board, det *charuco.Detection) error {
	if det == nil {
		return errors.Errorf("view %q: no detection", name)
	}
	obj, err := det.ObjectPoints(b)
	if err != nil {
		return errors.Wrapf(err, "view %q", name)
	}
	return s.AddView(name, det.ImageSize, det.IDs, obj, det.Corners)
}

// NumViews is the number of views.
func (s *CorrespondenceSet) NumViews() int {
	return len(s.views)
}

// NumPoints is the total number of correspondences over all views.
func (s *CorrespondenceSet) NumPoints() int {
	n := 0
	for _, v := range s.views {
		n += len(v.Points)
	}
	return n
}

// Views returns the views in insertion order.
func (s *CorrespondenceSet) Views() []View {
	return s.views
}
