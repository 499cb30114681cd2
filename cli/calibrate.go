package cli

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/stereocal/rimage"
	"go.viam.com/stereocal/rimage/calibration"
	"go.viam.com/stereocal/vision/charuco"
)

// CalibrateAction is the corresponding Action for 'calibrate'.
func CalibrateAction(c *cli.Context) error {
	cc, err := newCalClient(c)
	if err != nil {
		return err
	}
	opts := cc.cfg.Calibration
	if c.IsSet(minImagesFlag) {
		opts.MinImages = c.Int(minImagesFlag)
	}
	opts.FixK3 = opts.FixK3 || c.Bool(fixK3Flag)
	opts.FixDistortion = opts.FixDistortion || c.Bool(fixDistortionFlag)
	return cc.calibrateAction(c.String(roleFlag), opts)
}

func (cc *calClient) calibrateAction(role string, opts calibration.Options) (err error) {
	ds, err := cc.dataset()
	if err != nil {
		return err
	}
	paths, err := ds.CalibrationImages(role)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.Wrapf(calibration.ErrInsufficientImages, "no images of role %q in %s", role, ds.Dir())
	}
	store, err := cc.store()
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

	pm := cc.progress(
		&Step{ID: "detect", Message: "Detecting board corners"},
		&Step{ID: "solve", Message: "Estimating intrinsics", Spinner: true},
		&Step{ID: "save", Message: "Saving calibration"},
	)
	defer pm.Stop()

	cc.logProgress(pm.Start("detect"))
	set := calibration.NewCorrespondenceSet()
	bar := pm.Bar(len(paths), "detect")
	for _, path := range paths {
		cc.logProgress(bar.Add(1))
		if err := cc.ctx().Err(); err != nil {
			return err
		}
		name := filepath.Base(path)
		img, err := rimage.ReadGray(path)
		if err != nil {
			cc.logger.Warnw("skipping unreadable image", "image", name, "error", err)
			continue
		}
		found, err := det.Detect(cc.ctx(), img)
		if charuco.IsInsufficient(err) {
			cc.logger.Warnw("skipping image", "image", name, "error", err)
			continue
		}
		if err != nil {
			cc.logProgress(pm.Fail("detect", err))
			return err
		}
		if err := set.AddDetection(name, det.Board(), found); err != nil {
			if errors.Is(err, calibration.ErrInsufficientPoints) {
				cc.logger.Warnw("skipping image", "image", name, "error", err)
				continue
			}
			cc.logProgress(pm.Fail("detect", err))
			return err
		}
		cc.logger.Debugw("image accepted", "image", name, "corners", found.Len())
	}
	cc.logProgress(bar.Finish())
	cc.logProgress(pm.CompleteWithMessage("detect", plural(set.NumViews(), "usable image")+" of "+plural(len(paths), "image")))

	cc.logProgress(pm.Start("solve"))
	in, err := calibration.Calibrate(cc.ctx(), set, opts, cc.logger)
	if err != nil {
		cc.logProgress(pm.Fail("solve", err))
		return err
	}
	cc.logProgress(pm.Complete("solve"))

	cc.logProgress(pm.Start("save"))
	if err := store.SaveIntrinsics(role, in); err != nil {
		cc.logProgress(pm.Fail("save", err))
		return err
	}
	cc.logProgress(pm.CompleteWithMessage("save", "Saved to "+store.Dir()))
	return in.WriteReport(cc.c.App.Writer)
}
