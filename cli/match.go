package cli

import (
	"fmt"
	"image"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/stereocal/rimage"
	"go.viam.com/stereocal/rimage/transform"
	"go.viam.com/stereocal/stereo"
	"go.viam.com/stereocal/vision/charuco"
)

// MatchAction is the corresponding Action for 'match'.
func MatchAction(c *cli.Context) error {
	cc, err := newCalClient(c)
	if err != nil {
		return err
	}
	return cc.matchAction(c.String(sourceFlag), c.String(targetFlag), c.Bool(undistortFlag))
}

func (cc *calClient) matchAction(source, target string, undistort bool) (err error) {
	ds, err := cc.dataset()
	if err != nil {
		return err
	}
	pairs, unmatched, err := ds.Pairs()
	if err != nil {
		return err
	}
	for _, u := range unmatched {
		cc.logger.Warnw("pair half without partner", "file", u)
	}
	if len(pairs) == 0 {
		return errors.Wrapf(stereo.ErrInsufficientPairs, "no stereo pairs in %s", ds.Dir())
	}
	store, err := cc.store()
	if err != nil {
		return err
	}
	var model *transform.PinholeCameraModel
	if undistort {
		in, err := store.LoadIntrinsics(source, image.Point{})
		if err != nil {
			return errors.Wrapf(err, "undistorting needs the %s intrinsics; run calibrate --role %s", source, source)
		}
		model = in.Model()
	}
	det, closer, err := cc.detector()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, closer())
	}()

	pm := cc.progress(
		&Step{ID: "detect", Message: "Matching corners across pairs"},
		&Step{ID: "fit", Message: "Fitting homography", Spinner: true},
		&Step{ID: "save", Message: "Saving homography"},
	)
	defer pm.Stop()

	cc.logProgress(pm.Start("detect"))
	acc := stereo.NewAccumulator(cc.cfg.Homography, cc.logger)
	bar := pm.Bar(len(pairs), "match")
	for _, p := range pairs {
		cc.logProgress(bar.Add(1))
		if err := cc.ctx().Err(); err != nil {
			return err
		}
		name := fmt.Sprintf("pair %03d", p.Index)
		src, err := cc.detectFile(det, p.Source)
		if err != nil {
			if charuco.IsInsufficient(err) {
				cc.logger.Warnw("skipping pair", "pair", name, "camera", source, "error", err)
				continue
			}
			return err
		}
		if model != nil {
			if src.ImageSize != model.Size() {
				err := errors.Errorf("%s is %dx%d but the %s intrinsics are for %dx%d", p.Source,
					src.ImageSize.X, src.ImageSize.Y, source, model.Width, model.Height)
				cc.logProgress(pm.Fail("detect", err))
				return err
			}
			src = src.MapCorners(model.UndistortPoint)
		}
		dst, err := cc.detectFile(det, p.Target)
		if err != nil {
			if charuco.IsInsufficient(err) {
				cc.logger.Warnw("skipping pair", "pair", name, "camera", target, "error", err)
				continue
			}
			return err
		}
		common, err := acc.AddPair(name, src, dst)
		if errors.Is(err, stereo.ErrTooFewCommon) {
			cc.logger.Warnw("skipping pair", "pair", name, "common", common, "error", err)
			continue
		}
		if err != nil {
			cc.logProgress(pm.Fail("detect", err))
			return err
		}
	}
	cc.logProgress(bar.Finish())
	cc.logProgress(pm.CompleteWithMessage("detect", plural(acc.NumPairs(), "usable pair")+" of "+plural(len(pairs), "pair")))

	cc.logProgress(pm.Start("fit"))
	res, err := acc.Fit()
	if err != nil {
		cc.logProgress(pm.Fail("fit", err))
		return err
	}
	res.Undistorted = model != nil
	cc.logProgress(pm.CompleteWithMessage("fit", fmt.Sprintf("Fitted homography, %d/%d inliers, RMS %.3f px", res.NumInliers, len(res.Inliers), res.RMS)))

	cc.logProgress(pm.Start("save"))
	if err := store.SaveHomography(source, target, res); err != nil {
		cc.logProgress(pm.Fail("save", err))
		return err
	}
	cc.logProgress(pm.CompleteWithMessage("save", "Saved to "+store.Dir()))

	w := cc.c.App.Writer
	printf(w, "Homography %s -> %s:\n%s", source, target, res.H)
	if res.Undistorted {
		infof(w, "fit on undistorted %s corners; warp removes %s lens distortion before applying it", source, source)
	}
	analysis := transform.AnalyzeCorners(res.H, res.SourceSize, res.TargetSize)
	analysis.Render(w)
	if !analysis.PreservesOrientation {
		warningf(w, "the homography mirrors the image; check that pair0 is the %s camera", source)
	}
	return nil
}

func (cc *calClient) detectFile(det *charuco.Detector, path string) (*charuco.Detection, error) {
	img, err := rimage.ReadGray(path)
	if err != nil {
		return nil, err
	}
	return det.Detect(cc.ctx(), img)
}
