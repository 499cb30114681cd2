// Package board describes the printed ChArUco calibration target: a checkerboard whose white
// squares carry ArUco markers. A Board is created once from configuration and passed to every
// component that needs board-local coordinates.
package board

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// DefaultDictionary is the marker dictionary the printed boards use.
const DefaultDictionary = "DICT_5X5_1000"

// ErrInvalidID is returned when a corner or marker identifier does not exist on the board.
var ErrInvalidID = errors.New("identifier not on board")

// Config is the geometry of a board. Sizes are in meters.
type Config struct {
	Dictionary string  `json:"dictionary"`
	Columns    int     `json:"columns"`
	Rows       int     `json:"rows"`
	SquareSize float64 `json:"square_size_m"`
	MarkerSize float64 `json:"marker_size_m"`
}

// DefaultConfig returns the 7x5 board printed on A4.
func DefaultConfig() Config {
	return Config{
		Dictionary: DefaultDictionary,
		Columns:    7,
		Rows:       5,
		SquareSize: 0.035,
		MarkerSize: 0.028,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Dictionary == "" {
		return errors.Errorf("%s: dictionary is required", path)
	}
	if cfg.Columns < 2 || cfg.Rows < 2 {
		return errors.Errorf("%s: board needs at least 2x2 squares, got %dx%d", path, cfg.Columns, cfg.Rows)
	}
	if cfg.SquareSize <= 0 {
		return errors.Errorf("%s: square size must be positive, got %v", path, cfg.SquareSize)
	}
	if cfg.MarkerSize <= 0 {
		return errors.Errorf("%s: marker size must be positive, got %v", path, cfg.MarkerSize)
	}
	if cfg.MarkerSize >= cfg.SquareSize {
		return errors.Errorf("%s: marker size %v must be smaller than square size %v", path, cfg.MarkerSize, cfg.SquareSize)
	}
	return nil
}

// Square is a board cell addressed by column and row.
type Square struct {
	Col, Row int
}

// Board is an immutable ChArUco board. Chessboard corner ids run row-major over the
// (Columns-1)x(Rows-1) inner corners; marker ids run row-major over the white squares.
type Board struct {
	cfg     Config
	markers []Square
	// squareMarker maps a square to its marker id, or -1 for black squares.
	squareMarker [][]int
}

// New returns a board for the given geometry, failing on invalid geometry.
func New(cfg Config) (*Board, error) {
	if err := cfg.Validate("board"); err != nil {
		return nil, err
	}
	b := &Board{cfg: cfg}
	b.squareMarker = make([][]int, cfg.Rows)
	for y := 0; y < cfg.Rows; y++ {
		b.squareMarker[y] = make([]int, cfg.Columns)
		for x := 0; x < cfg.Columns; x++ {
			b.squareMarker[y][x] = -1
			// top-left square is black
			if y%2 != x%2 {
				b.squareMarker[y][x] = len(b.markers)
				b.markers = append(b.markers, Square{Col: x, Row: y})
			}
		}
	}
	return b, nil
}

// Config returns the geometry the board was built from.
func (b *Board) Config() Config {
	return b.cfg
}

// String describes the board.
func (b *Board) String() string {
	return fmt.Sprintf("%s %dx%d squares, square %.4fm, marker %.4fm",
		b.cfg.Dictionary, b.cfg.Columns, b.cfg.Rows, b.cfg.SquareSize, b.cfg.MarkerSize)
}

// NumCorners is the number of inner chessboard corners.
func (b *Board) NumCorners() int {
	return (b.cfg.Columns - 1) * (b.cfg.Rows - 1)
}

// NumMarkers is the number of markers printed on the board.
func (b *Board) NumMarkers() int {
	return len(b.markers)
}

// Size is the physical width and height of the board in meters.
func (b *Board) Size() (float64, float64) {
	return float64(b.cfg.Columns) * b.cfg.SquareSize, float64(b.cfg.Rows) * b.cfg.SquareSize
}

// CornerPoint returns the board-local position of a chessboard corner.
func (b *Board) CornerPoint(id int) (r3.Vector, error) {
	if id < 0 || id >= b.NumCorners() {
		return r3.Vector{}, errors.Wrapf(ErrInvalidID, "corner %d (board has %d corners)", id, b.NumCorners())
	}
	col, row := id%(b.cfg.Columns-1), id/(b.cfg.Columns-1)
	return r3.Vector{
		X: float64(col+1) * b.cfg.SquareSize,
		Y: float64(row+1) * b.cfg.SquareSize,
	}, nil
}

// ChessboardCorners returns every chessboard corner, indexed by corner id.
func (b *Board) ChessboardCorners() []r3.Vector {
	pts := make([]r3.Vector, b.NumCorners())
	for id := range pts {
		// ids in range never fail
		pts[id], _ = b.CornerPoint(id)
	}
	return pts
}

// MarkerSquare returns the square that holds a marker.
func (b *Board) MarkerSquare(id int) (Square, error) {
	if id < 0 || id >= len(b.markers) {
		return Square{}, errors.Wrapf(ErrInvalidID, "marker %d (board has %d markers)", id, len(b.markers))
	}
	return b.markers[id], nil
}

// MarkerCorners returns the four board-local corners of a marker in top-left, top-right,
// bottom-right, bottom-left order.
func (b *Board) MarkerCorners(id int) ([4]r3.Vector, error) {
	sq, err := b.MarkerSquare(id)
	if err != nil {
		return [4]r3.Vector{}, err
	}
	s, m := b.cfg.SquareSize, b.cfg.MarkerSize
	x0 := float64(sq.Col)*s + (s-m)/2
	y0 := float64(sq.Row)*s + (s-m)/2
	return [4]r3.Vector{
		{X: x0, Y: y0},
		{X: x0 + m, Y: y0},
		{X: x0 + m, Y: y0 + m},
		{X: x0, Y: y0 + m},
	}, nil
}

// CornerMarkers returns the ids of the markers touching a chessboard corner. Every inner
// corner touches exactly two markers on a diagonal.
func (b *Board) CornerMarkers(id int) ([]int, error) {
	if id < 0 || id >= b.NumCorners() {
		return nil, errors.Wrapf(ErrInvalidID, "corner %d (board has %d corners)", id, b.NumCorners())
	}
	col, row := id%(b.cfg.Columns-1), id/(b.cfg.Columns-1)
	var ids []int
	for dy := 0; dy <= 1; dy++ {
		for dx := 0; dx <= 1; dx++ {
			if m := b.squareMarker[row+dy][col+dx]; m >= 0 {
				ids = append(ids, m)
			}
		}
	}
	return ids, nil
}

// MarkerAt returns the marker in a square, or false for black squares and squares off the board.
func (b *Board) MarkerAt(sq Square) (int, bool) {
	if sq.Row < 0 || sq.Row >= b.cfg.Rows || sq.Col < 0 || sq.Col >= b.cfg.Columns {
		return 0, false
	}
	m := b.squareMarker[sq.Row][sq.Col]
	return m, m >= 0
}
