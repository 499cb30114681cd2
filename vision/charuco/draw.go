package charuco

import (
	"fmt"
	"image"
	"strconv"

	"go.viam.com/stereocal/rimage"
)

// Draw annotates a copy of img with the detected markers, the interpolated corners and a
// status banner.
func (d *Detection) Draw(img image.Image) image.Image {
	dc := rimage.Annotate(img)
	for _, m := range d.Markers {
		rimage.DrawPolygon(dc, m.Corners[:], rimage.Green, 2)
		rimage.DrawLabeledPoint(dc, m.Corners[0], strconv.Itoa(m.ID), rimage.Blue, 2)
	}
	for i, id := range d.IDs {
		rimage.DrawLabeledPoint(dc, d.Corners[i], strconv.Itoa(id), rimage.Red, 3)
	}
	status, c := "GOOD - enough markers detected", rimage.Green
	if len(d.Markers) < MinMarkers {
		status, c = "NEED MORE MARKERS", rimage.Red
	}
	rimage.DrawBanner(dc, c, fmt.Sprintf("Markers: %d  Corners: %d", len(d.Markers), len(d.IDs)), status)
	return dc.Image()
}
