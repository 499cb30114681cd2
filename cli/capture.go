package cli

import (
	"context"
	"strconv"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/stereocal/capture"
)

// CaptureCalibrationAction is the corresponding Action for 'capture calib'.
func CaptureCalibrationAction(c *cli.Context) error {
	cc, err := newCalClient(c)
	if err != nil {
		return err
	}
	role := c.String(roleFlag)
	device, err := cc.device(role, c.Int(cameraFlag))
	if err != nil && c.String(fromDirFlag) == "" {
		return err
	}
	return cc.captureCalibrationAction(role, device, c.Int(countFlag), c.String(fromDirFlag))
}

// CapturePairsAction is the corresponding Action for 'capture pairs'.
func CapturePairsAction(c *cli.Context) error {
	cc, err := newCalClient(c)
	if err != nil {
		return err
	}
	fromDir := c.String(fromDirFlag)
	source, target := c.String(sourceFlag), c.String(targetFlag)
	srcDev, err := cc.device(source, c.Int(sourceCamFlag))
	if err != nil && fromDir == "" {
		return err
	}
	dstDev, err := cc.device(target, c.Int(targetCamFlag))
	if err != nil && fromDir == "" {
		return err
	}
	return cc.capturePairsAction(srcDev, dstDev, c.Int(countFlag), fromDir)
}

// device is the camera index given on the command line, or else the one configured for role.
func (cc *calClient) device(role string, flagValue int) (int, error) {
	if flagValue >= 0 {
		return flagValue, nil
	}
	idx, ok := cc.cfg.Capture.Camera(role)
	if !ok {
		return 0, errors.Errorf("no camera configured for role %q; pass a device index", role)
	}
	return idx, nil
}

// openSource opens a camera, or replays the images in dir whose names start with prefix.
func (cc *calClient) openSource(ctx context.Context, device int, dir, prefix string) (capture.FrameSource, error) {
	name := "camera " + strconv.Itoa(device)
	if dir != "" {
		name = dir
	}
	return capture.Open(ctx, name, func(ctx context.Context) (capture.FrameSource, error) {
		if dir != "" {
			src, err := capture.NewDirectorySource(dir, prefix)
			if err != nil {
				return nil, err
			}
			return src, nil
		}
		return openCamera(device, cc.cfg.Capture.Resolution())
	})
}

// session builds a capture session. Replayed images are not rate limited.
func (cc *calClient) session(count int, replay bool) (*capture.Session, func() error, error) {
	ds, err := cc.dataset()
	if err != nil {
		return nil, nil, err
	}
	det, closer, err := cc.detector()
	if err != nil {
		return nil, nil, err
	}
	interval := cc.cfg.Capture.MinIntervalDuration()
	if replay {
		interval = 0
	}
	return &capture.Session{
		Gate:         capture.NewGate(det, interval, nil),
		Dataset:      ds,
		Count:        count,
		ReadAttempts: cc.cfg.Capture.ReadAttempts,
		Logger:       cc.logger,
	}, closer, nil
}

func (cc *calClient) printStats(st capture.Stats, what string) {
	printf(cc.c.App.Writer, "Saved %s (%d frames read, %d without enough markers, %d out of sync)",
		plural(st.Saved, what), st.Frames, st.Rejected, st.Skewed)
}

func (cc *calClient) captureCalibrationAction(role string, device, count int, fromDir string) (err error) {
	sess, closer, err := cc.session(count, fromDir != "")
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, closer())
	}()
	ctx := cc.ctx()
	src, err := cc.openSource(ctx, device, fromDir, "")
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, src.Close(context.Background()))
	}()

	pm := cc.progress(&Step{ID: "capture", Message: "Capturing " + role + " images from " + src.Name()})
	defer pm.Stop()
	cc.logProgress(pm.Start("capture"))
	bar := pm.Bar(count, role)
	sess.OnSave = func(n int) {
		cc.logProgress(bar.Set(n))
	}
	st, err := sess.RunCalibration(ctx, role, src)
	cc.logProgress(bar.Finish())
	if err != nil {
		cc.logProgress(pm.Fail("capture", err))
		return err
	}
	cc.logProgress(pm.Complete("capture"))
	cc.printStats(st, "image")
	return nil
}

func (cc *calClient) capturePairsAction(srcDevice, dstDevice, count int, fromDir string) (err error) {
	sess, closer, err := cc.session(count, fromDir != "")
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, closer())
	}()
	ctx := cc.ctx()
	src, err := cc.openSource(ctx, srcDevice, fromDir, "pair0_")
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, src.Close(context.Background()))
	}()
	dst, err := cc.openSource(ctx, dstDevice, fromDir, "pair1_")
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, dst.Close(context.Background()))
	}()

	// replayed frames carry no capture time, so a stopped clock keeps every pair in sync
	var clk clock.Clock
	if fromDir != "" {
		clk = clock.NewMock()
	}
	grabber := capture.NewPairGrabber(src, dst, capture.PairOptions{
		MaxSkew:      cc.cfg.Capture.MaxSkewDuration(),
		ReadAttempts: cc.cfg.Capture.ReadAttempts,
	}, clk, cc.logger)

	pm := cc.progress(&Step{ID: "capture", Message: "Capturing stereo pairs"})
	defer pm.Stop()
	cc.logProgress(pm.Start("capture"))
	bar := pm.Bar(count, "pairs")
	sess.OnSave = func(n int) {
		cc.logProgress(bar.Set(n))
	}
	st, err := sess.RunPairs(ctx, grabber)
	cc.logProgress(bar.Finish())
	if err != nil {
		cc.logProgress(pm.Fail("capture", err))
		return err
	}
	cc.logProgress(pm.Complete("capture"))
	cc.printStats(st, "pair")
	return nil
}
