package calibration

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// Summary aggregates per-view reprojection errors.
type Summary struct {
	Mean   float64
	Median float64
	Max    float64
	Worst  string
}

// Summarize computes statistics over the per-view RMS errors.
func (in *Intrinsics) Summarize() (Summary, error) {
	if len(in.Views) == 0 {
		return Summary{}, errors.New("no views to summarize")
	}
	data := make(stats.Float64Data, len(in.Views))
	worst := 0
	for i, v := range in.Views {
		data[i] = v.RMS
		if v.RMS > in.Views[worst].RMS {
			worst = i
		}
	}
	mean, err := data.Mean()
	if err != nil {
		return Summary{}, err
	}
	median, err := data.Median()
	if err != nil {
		return Summary{}, err
	}
	maxVal, err := data.Max()
	if err != nil {
		return Summary{}, err
	}
	return Summary{Mean: mean, Median: median, Max: maxVal, Worst: in.Views[worst].Name}, nil
}

// WriteReport prints the intrinsics and the per-view errors as tables.
func (in *Intrinsics) WriteReport(w io.Writer) error {
	params := table.NewWriter()
	params.SetOutputMirror(w)
	params.AppendHeader(table.Row{"Parameter", "Value"})
	params.AppendRows([]table.Row{
		{"resolution", fmt.Sprintf("%dx%d", in.Camera.Width, in.Camera.Height)},
		{"fx", fmt.Sprintf("%.3f", in.Camera.Fx)},
		{"fy", fmt.Sprintf("%.3f", in.Camera.Fy)},
		{"cx", fmt.Sprintf("%.3f", in.Camera.Ppx)},
		{"cy", fmt.Sprintf("%.3f", in.Camera.Ppy)},
		{"dist (k1 k2 p1 p2 k3)", fmt.Sprintf("%.5f", in.Distortion.OpenCVCoefficients())},
		{"rms (px)", fmt.Sprintf("%.4f", in.RMS)},
	})
	params.Render()

	summary, err := in.Summarize()
	if err != nil {
		return err
	}
	views := table.NewWriter()
	views.SetOutputMirror(w)
	views.AppendHeader(table.Row{"View", "Points", "RMS (px)"})
	for _, v := range in.Views {
		views.AppendRow(table.Row{v.Name, v.Points, fmt.Sprintf("%.4f", v.RMS)})
	}
	views.AppendFooter(table.Row{"mean / median / max", "", fmt.Sprintf("%.4f / %.4f / %.4f", summary.Mean, summary.Median, summary.Max)})
	views.Render()
	return nil
}
