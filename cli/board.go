package cli

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/stereocal/rimage"
)

// BoardAction is the corresponding Action for 'board'.
func BoardAction(c *cli.Context) error {
	cc, err := newCalClient(c)
	if err != nil {
		return err
	}
	return cc.boardAction(c.String(outFlag), c.Int(widthFlag), c.Int(heightFlag), c.Int(marginFlag))
}

func (cc *calClient) boardAction(out string, width, height, margin int) error {
	b, err := cc.board()
	if err != nil {
		return err
	}
	img, err := b.Render(markerRenderer, width, height, margin)
	if err != nil {
		return errors.Wrap(err, "could not render board")
	}
	if err := rimage.WriteImage(out, img); err != nil {
		return err
	}
	w, h := b.Size()
	printf(cc.c.App.Writer, "Wrote %s to %s (%dx%d px)", b, out, width, height)
	printf(cc.c.App.Writer, "%d markers, %d chessboard corners, printed size %.0fx%.0f mm",
		b.NumMarkers(), b.NumCorners(), w*1000, h*1000)
	return nil
}
