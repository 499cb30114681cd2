package cli

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/stereocal/rimage"
	"go.viam.com/stereocal/vision/charuco"
)

// DiagnoseAction is the corresponding Action for 'diagnose'.
func DiagnoseAction(c *cli.Context) error {
	cc, err := newCalClient(c)
	if err != nil {
		return err
	}
	return cc.diagnoseAction(c.String(imageFlag), c.String(visFlag))
}

func (cc *calClient) diagnoseAction(path, vis string) (err error) {
	img, err := rimage.ReadImage(path)
	if err != nil {
		return err
	}
	det, closer, err := cc.detector()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, closer())
	}()

	res, detErr := det.Detect(cc.ctx(), rimage.ToGray(img))
	if detErr != nil && !charuco.IsInsufficient(detErr) {
		return detErr
	}
	w := cc.c.App.Writer
	size := img.Bounds().Size()
	printf(w, "Image: %s (%dx%d)", path, size.X, size.Y)
	printf(w, "Board: %s", det.Board())
	ids := res.MarkerIDs()
	printf(w, "Markers detected: %d of %d", len(ids), det.Board().NumMarkers())
	if len(ids) > 0 {
		printf(w, "Marker IDs: %s", strings.Join(lo.Map(ids, func(id, _ int) string { return strconv.Itoa(id) }), " "))
	}
	printf(w, "ChArUco corners: %d of %d", res.Len(), det.Board().NumCorners())
	if detErr == nil {
		printf(w, "Verdict: GOOD, the image can be used for calibration")
	} else {
		printf(w, "Verdict: NOT USABLE, %v", detErr)
		printf(w, "Show more of the board, move closer, or improve the lighting.")
	}
	if vis != "" {
		if err := rimage.WriteImage(vis, res.Draw(img)); err != nil {
			return errors.Wrap(err, "could not write visualization")
		}
		printf(w, "Annotated image written to %s", vis)
	}
	return nil
}
