package transform

import (
	"fmt"
	"image"
	"io"

	"github.com/golang/geo/r2"
	"github.com/jedib0t/go-pretty/v6/table"

	"go.viam.com/stereocal/rimage"
)

// CornerShift is where one reference point of the source image lands after warping.
type CornerShift struct {
	Name         string
	Source       r2.Point
	Warped       r2.Point
	Displacement float64
}

// CornerAnalysis summarizes how a homography moves the frame of the source image.
type CornerAnalysis struct {
	Shifts []CornerShift
	// InsideTarget is true when the warped centre lands inside the target frame.
	InsideTarget         bool
	PreservesOrientation bool
}

// AnalyzeCorners maps the four corners and the centre of a source frame of size src through h
// and checks the result against a target frame of size dst.
func AnalyzeCorners(h Homography, src, dst image.Point) CornerAnalysis {
	w, ht := float64(src.X-1), float64(src.Y-1)
	refs := []struct {
		name string
		p    r2.Point
	}{
		{"top-left", r2.Point{X: 0, Y: 0}},
		{"top-right", r2.Point{X: w, Y: 0}},
		{"bottom-right", r2.Point{X: w, Y: ht}},
		{"bottom-left", r2.Point{X: 0, Y: ht}},
		{"centre", r2.Point{X: w / 2, Y: ht / 2}},
	}
	var a CornerAnalysis
	for _, ref := range refs {
		warped := h.Apply(ref.p)
		a.Shifts = append(a.Shifts, CornerShift{
			Name:         ref.name,
			Source:       ref.p,
			Warped:       warped,
			Displacement: warped.Sub(ref.p).Norm(),
		})
	}
	centre := a.Shifts[len(a.Shifts)-1].Warped
	a.InsideTarget = centre.X >= 0 && centre.Y >= 0 && centre.X < float64(dst.X) && centre.Y < float64(dst.Y)
	a.PreservesOrientation = h.PreservesOrientation(refs[len(refs)-1].p)
	return a
}

// Render writes the analysis as a table.
func (a CornerAnalysis) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Point", "Source", "Warped", "Displacement (px)"})
	for _, s := range a.Shifts {
		t.AppendRow(table.Row{s.Name, rimage.FormatPoint(s.Source), rimage.FormatPoint(s.Warped), fmt.Sprintf("%.1f", s.Displacement)})
	}
	t.AppendFooter(table.Row{"centre in target", a.InsideTarget, "orientation kept", a.PreservesOrientation})
	t.Render()
}
