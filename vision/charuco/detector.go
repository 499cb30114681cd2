// Package charuco finds ChArUco board corners in grayscale images. Marker decoding is delegated
// to a MarkerDetector; chessboard corners are interpolated from the detected markers through
// local homographies and refined to sub-pixel accuracy.
package charuco

import (
	"context"
	"image"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/stereocal/board"
	"go.viam.com/stereocal/logging"
	"go.viam.com/stereocal/rimage"
)

// Usability thresholds.
const (
	// MinMarkers is the number of markers below which a frame is not worth saving.
	MinMarkers = 4
	// MinCorners is the number of interpolated corners below which an image is left out of
	// calibration.
	MinCorners = 8
)

var (
	// ErrTooFewMarkers means the frame showed too few markers to be captured.
	ErrTooFewMarkers = errors.New("too few markers detected")
	// ErrTooFewCorners means too few chessboard corners were found for calibration.
	ErrTooFewCorners = errors.New("too few board corners detected")
	// ErrNoMarkerDetector is returned when no marker detector is compiled in.
	ErrNoMarkerDetector = errors.New("no marker detector available; build with -tags opencv")
)

// IsInsufficient reports whether err means the image simply did not show enough of the board.
// Such images are skipped rather than aborting a batch.
func IsInsufficient(err error) bool {
	return errors.Is(err, ErrTooFewMarkers) || errors.Is(err, ErrTooFewCorners)
}

// Marker is one decoded fiducial marker with its corners in top-left, top-right,
// bottom-right, bottom-left order.
type Marker struct {
	ID      int
	Corners [4]r2.Point
}

// A MarkerDetector decodes fiducial markers in a grayscale image.
type MarkerDetector interface {
	DetectMarkers(ctx context.Context, img *image.Gray) ([]Marker, error)
}

// Options tunes corner detection.
type Options struct {
	SubPix     rimage.SubPixOptions `json:"subpix"`
	MinMarkers int                  `json:"min_markers"`
	MinCorners int                  `json:"min_corners"`
}

// DefaultOptions uses the usability thresholds of the capture and calibration tools.
func DefaultOptions() Options {
	return Options{
		SubPix:     rimage.DefaultSubPixOptions(),
		MinMarkers: MinMarkers,
		MinCorners: MinCorners,
	}
}

// Detection is the set of board corners found in one image. IDs are unique and sorted.
type Detection struct {
	IDs       []int
	Corners   []r2.Point
	Markers   []Marker
	ImageSize image.Point

	// minCorners is the threshold of the detector that produced the detection.
	minCorners int
}

// Len is the number of detected corners.
func (d *Detection) Len() int {
	if d == nil {
		return 0
	}
	return len(d.IDs)
}

// Usable reports whether the detection has enough corners for calibration, judged by the
// threshold of the detector that produced it or MinCorners for hand-built detections.
func (d *Detection) Usable() bool {
	need := MinCorners
	if d != nil && d.minCorners > 0 {
		need = d.minCorners
	}
	return d.Len() >= need
}

// MapCorners returns a copy of the detection with f applied to every corner position, such as
// removing lens distortion.
func (d *Detection) MapCorners(f func(r2.Point) r2.Point) *Detection {
	out := *d
	out.Corners = make([]r2.Point, len(d.Corners))
	for i, c := range d.Corners {
		out.Corners[i] = f(c)
	}
	return &out
}

// Lookup returns the image position of a corner id.
func (d *Detection) Lookup(id int) (r2.Point, bool) {
	i := sort.SearchInts(d.IDs, id)
	if i < len(d.IDs) && d.IDs[i] == id {
		return d.Corners[i], true
	}
	return r2.Point{}, false
}

// ObjectPoints returns the board-local positions of the detected corners.
func (d *Detection) ObjectPoints(b *board.Board) ([]r3.Vector, error) {
	pts := make([]r3.Vector, len(d.IDs))
	for i, id := range d.IDs {
		p, err := b.CornerPoint(id)
		if err != nil {
			return nil, err
		}
		pts[i] = p
	}
	return pts, nil
}

// MarkerIDs returns the ids of the markers the corners were interpolated from.
func (d *Detection) MarkerIDs() []int {
	ids := make([]int, len(d.Markers))
	for i, m := range d.Markers {
		ids[i] = m.ID
	}
	return ids
}

// Detector finds the corners of one board.
type Detector struct {
	board   *board.Board
	markers MarkerDetector
	opts    Options
	logger  logging.Logger
}

// NewDetector returns a detector for the given board.
func NewDetector(b *board.Board, markers MarkerDetector, opts Options, logger logging.Logger) (*Detector, error) {
	if markers == nil {
		return nil, ErrNoMarkerDetector
	}
	if b == nil {
		return nil, errors.New("detector needs a board")
	}
	if opts.MinMarkers <= 0 {
		opts.MinMarkers = MinMarkers
	}
	if opts.MinCorners <= 0 {
		opts.MinCorners = MinCorners
	}
	if opts.SubPix.MaxIterations <= 0 {
		opts.SubPix = rimage.DefaultSubPixOptions()
	}
	return &Detector{board: b, markers: markers, opts: opts, logger: logger}, nil
}

// Board returns the board being detected.
func (d *Detector) Board() *board.Board {
	return d.board
}

// DetectMarkers decodes markers and keeps those that belong to the board, one per id. It
// returns ErrTooFewMarkers, along with the markers found, when fewer than the minimum remain.
func (d *Detector) DetectMarkers(ctx context.Context, img *image.Gray) ([]Marker, error) {
	raw, err := d.markers.DetectMarkers(ctx, img)
	if err != nil {
		return nil, errors.Wrap(err, "detecting markers")
	}
	seen := map[int]bool{}
	markers := make([]Marker, 0, len(raw))
	for _, m := range raw {
		if m.ID < 0 || m.ID >= d.board.NumMarkers() {
			d.logger.Debugw("ignoring marker not on board", "id", m.ID)
			continue
		}
		if seen[m.ID] {
			d.logger.Debugw("ignoring duplicate marker", "id", m.ID)
			continue
		}
		seen[m.ID] = true
		markers = append(markers, m)
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i].ID < markers[j].ID })
	if len(markers) < d.opts.MinMarkers {
		return markers, errors.Wrapf(ErrTooFewMarkers, "found %d, need %d", len(markers), d.opts.MinMarkers)
	}
	return markers, nil
}

// Detect finds the board corners in an image. Too few markers or corners yield a partial
// detection together with ErrTooFewMarkers or ErrTooFewCorners.
func (d *Detector) Detect(ctx context.Context, img *image.Gray) (*Detection, error) {
	det := &Detection{ImageSize: img.Bounds().Size(), minCorners: d.opts.MinCorners}
	markers, err := d.DetectMarkers(ctx, img)
	det.Markers = markers
	if err != nil {
		return det, err
	}
	det.IDs, det.Corners = InterpolateCorners(d.board, markers, img, d.opts.SubPix)
	if len(det.IDs) < d.opts.MinCorners {
		return det, errors.Wrapf(ErrTooFewCorners, "found %d, need %d", len(det.IDs), d.opts.MinCorners)
	}
	d.logger.Debugw("board detected", "markers", len(markers), "corners", len(det.IDs))
	return det, nil
}
