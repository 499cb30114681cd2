package cli

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/stereocal/artifact"
	"go.viam.com/stereocal/capture"
	"go.viam.com/stereocal/logging"
	"go.viam.com/stereocal/rimage"
	"go.viam.com/stereocal/rimage/transform"
)

// watchSettle is how long a file must stay unchanged before a watched directory warps it.
const watchSettle = 200 * time.Millisecond

var outputSuffixes = []string{"_warped", "_overlay", "_debug"}

type warpArgs struct {
	Source    string
	Target    string
	In        string
	Out       string
	Overlay   string
	Alpha     float64
	DebugGrid bool
	Undistort bool
	Watch     bool
	Size      image.Point
	// Camera and FromDir select a live source whose frames are warped into numbered images.
	Camera  int
	FromDir string
	Frames  int
}

// WarpAction is the corresponding Action for 'warp'.
func WarpAction(c *cli.Context) error {
	cc, err := newCalClient(c)
	if err != nil {
		return err
	}
	size, err := parseSize(c.String(sizeFlag))
	if err != nil {
		return err
	}
	return cc.warpAction(warpArgs{
		Source:    c.String(sourceFlag),
		Target:    c.String(targetFlag),
		In:        c.String(inFlag),
		Out:       c.String(outFlag),
		Overlay:   c.String(overlayFlag),
		Alpha:     c.Float64(alphaFlag),
		DebugGrid: c.Bool(debugGridFlag),
		Undistort: c.Bool(undistortFlag),
		Watch:     c.Bool(watchFlag),
		Size:      size,
		Camera:    c.Int(cameraFlag),
		FromDir:   c.String(fromDirFlag),
		Frames:    c.Int(framesFlag),
	})
}

func (args warpArgs) stream() bool {
	return args.Camera >= 0 || args.FromDir != ""
}

// parseSize reads a WxH size. The empty string is the zero size.
func parseSize(s string) (image.Point, error) {
	if s == "" {
		return image.Point{}, nil
	}
	var p image.Point
	if _, err := fmt.Sscanf(s, "%dx%d", &p.X, &p.Y); err != nil || p.X <= 0 || p.Y <= 0 {
		return image.Point{}, errors.Errorf("size %q is not of the form WxH", s)
	}
	return p, nil
}

func (cc *calClient) warpAction(args warpArgs) error {
	sources := 0
	for _, set := range []bool{args.In != "", args.Camera >= 0, args.FromDir != ""} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return errors.New("warp needs exactly one of --in, --camera or --from-dir")
	}
	if args.Watch && args.stream() {
		return errors.New("--watch only applies to an --in directory")
	}
	store, err := cc.store()
	if err != nil {
		return err
	}
	h, err := store.LoadHomography(args.Source, args.Target)
	if err != nil {
		return err
	}
	entry, _ := store.Entry(artifact.HomographyFile(args.Source, args.Target))
	wp := &warper{
		h:       h,
		calSrc:  entry.Resolution(),
		calDst:  entry.TargetResolution(),
		size:    args.Size,
		out:     args.Out,
		alpha:   args.Alpha,
		grid:    args.DebugGrid,
		logger:  cc.logger,
		written: map[string]bool{},
	}
	// a homography fit on undistorted corners only holds for undistorted frames
	switch {
	case entry.Undistorted:
		in, err := store.LoadIntrinsics(args.Source, wp.calSrc)
		if err != nil {
			return errors.Wrapf(err, "the homography was matched on undistorted corners and needs the %s intrinsics", args.Source)
		}
		wp.model = in.Model()
	case args.Undistort:
		return errors.Errorf("%s was matched on raw pixels; rerun match --undistort to warp undistorted frames",
			artifact.HomographyFile(args.Source, args.Target))
	}
	if args.Overlay != "" {
		if wp.overlay, err = rimage.ReadImage(args.Overlay); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(args.Out, 0o755); err != nil {
		return errors.Wrapf(err, "creating output directory %q", args.Out)
	}
	if args.stream() {
		return cc.warpStream(args, wp)
	}

	info, err := os.Stat(args.In)
	if err != nil {
		return err
	}
	inputs := []string{args.In}
	if info.IsDir() {
		if inputs, err = listImages(args.In); err != nil {
			return err
		}
	} else if args.Watch {
		return errors.New("--watch needs a directory as input")
	}

	var errs error
	for _, path := range inputs {
		if err := cc.ctx().Err(); err != nil {
			return err
		}
		if wp.isOutput(path) {
			continue
		}
		outPath, err := wp.warpFile(path)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, filepath.Base(path)))
			continue
		}
		printf(cc.c.App.Writer, "%s -> %s", path, outPath)
	}
	if errs != nil || !args.Watch {
		return errs
	}
	return cc.watch(cc.ctx(), args.In, wp)
}

// warper applies one homography to many images.
type warper struct {
	h              transform.Homography
	calSrc, calDst image.Point
	size           image.Point
	model          *transform.PinholeCameraModel
	overlay        image.Image
	alpha          float64
	grid           bool
	out            string
	logger         logging.Logger

	mu      sync.Mutex
	written map[string]bool
}

func (wp *warper) isOutput(path string) bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.written[filepath.Clean(path)] {
		return true
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for _, s := range outputSuffixes {
		if strings.HasSuffix(stem, s) {
			return true
		}
	}
	return false
}

// homographyFor adapts the homography to the input and output sizes.
func (wp *warper) homographyFor(srcSize image.Point) (transform.Homography, image.Point) {
	calSrc, calDst := wp.calSrc, wp.calDst
	if calSrc.X == 0 || calSrc.Y == 0 {
		calSrc = srcSize
	}
	if calDst.X == 0 || calDst.Y == 0 {
		calDst = calSrc
	}
	outSize := calDst
	switch {
	case wp.size != image.Point{}:
		outSize = wp.size
	case wp.overlay != nil:
		outSize = wp.overlay.Bounds().Size()
	}
	if srcSize == calSrc && outSize == calDst {
		return wp.h, outSize
	}
	return wp.h.Rescale(calSrc, srcSize, calDst, outSize), outSize
}

func (wp *warper) write(path string, img image.Image) error {
	if err := rimage.WriteImage(path, img); err != nil {
		return err
	}
	wp.mu.Lock()
	wp.written[filepath.Clean(path)] = true
	wp.mu.Unlock()
	return nil
}

// warpFile warps one image and writes the result, and optionally the overlay and debug grid,
// into the output directory. It returns the path of the warped image.
func (wp *warper) warpFile(path string) (string, error) {
	src, err := rimage.ReadImage(path)
	if err != nil {
		return "", err
	}
	outPath, err := wp.warpImage(src, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if err != nil {
		return "", err
	}
	wp.logger.Debugw("image warped", "input", path, "output", outPath)
	return outPath, nil
}

// warpImage warps src and writes the results named after stem.
func (wp *warper) warpImage(src image.Image, stem string) (string, error) {
	var err error
	if wp.model != nil {
		if src, err = wp.model.UndistortImage(src); err != nil {
			return "", err
		}
	}
	h, outSize := wp.homographyFor(src.Bounds().Size())
	warped, err := transform.WarpPerspective(src, h, outSize)
	if err != nil {
		return "", err
	}
	outPath := filepath.Join(wp.out, stem+"_warped.png")
	if err := wp.write(outPath, warped); err != nil {
		return "", err
	}

	panels := []transform.Panel{{Label: "source", Image: src}, {Label: "warped", Image: warped}}
	if wp.overlay != nil {
		target := rimage.Resize(wp.overlay, outSize)
		blended, err := transform.Overlay(warped, target, wp.alpha)
		if err != nil {
			return "", err
		}
		if err := wp.write(filepath.Join(wp.out, stem+"_overlay.png"), blended); err != nil {
			return "", err
		}
		panels = append(panels, transform.Panel{Label: "target", Image: target}, transform.Panel{Label: "overlay", Image: blended})
	}
	if wp.grid {
		grid, err := transform.DebugGrid(panels...)
		if err != nil {
			return "", err
		}
		if err := wp.write(filepath.Join(wp.out, stem+"_debug.png"), grid); err != nil {
			return "", err
		}
	}
	return outPath, nil
}

// warpStream warps the frames of a camera, or of a replayed directory, into frame_NNNNNN
// images until the source runs out, the command is interrupted or args.Frames were written.
func (cc *calClient) warpStream(args warpArgs, wp *warper) (err error) {
	ctx := cc.ctx()
	src, err := cc.openSource(ctx, args.Camera, args.FromDir, "")
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, src.Close(context.Background()))
	}()

	pm := cc.progress(&Step{ID: "stream", Message: "Warping frames from " + src.Name(), Spinner: true})
	defer pm.Stop()
	cc.logProgress(pm.Start("stream"))
	n := 0
	for ; args.Frames <= 0 || n < args.Frames; n++ {
		img, err := capture.ReadRetry(ctx, src, cc.cfg.Capture.ReadAttempts, cc.logger)
		if errors.Is(err, capture.ErrExhausted) || ctx.Err() != nil {
			break
		}
		if err != nil {
			cc.logProgress(pm.Fail("stream", err))
			return err
		}
		outPath, err := wp.warpImage(img, fmt.Sprintf("frame_%06d", n))
		if err != nil {
			cc.logProgress(pm.Fail("stream", err))
			return errors.Wrapf(err, "frame %d", n)
		}
		cc.logger.Debugw("frame warped", "source", src.Name(), "frame", n, "output", outPath)
		pm.UpdateText(fmt.Sprintf("Warping frames from %s (%d)", src.Name(), n+1))
	}
	cc.logProgress(pm.CompleteWithMessage("stream", "Warped "+plural(n, "frame")+" from "+src.Name()))
	printf(cc.c.App.Writer, "Wrote %s to %s", plural(n, "frame"), args.Out)
	return nil
}

// watch warps images written into dir until ctx is done. Each file is warped once it has
// stopped changing for watchSettle.
func (cc *calClient) watch(ctx context.Context, dir string, wp *warper) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			cc.logger.Debugw("closing watcher", "error", err)
		}
	}()
	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "watching %q", dir)
	}
	printf(cc.c.App.Writer, "Watching %s for new images", dir)

	var (
		mu      sync.Mutex
		stopped bool
		wg      sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		stopped = true
		mu.Unlock()
		wg.Wait()
	}()
	pending := map[string]func(func()){}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			cc.logger.Warnw("watch error", "error", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if _, err := imaging.FormatFromFilename(ev.Name); err != nil || wp.isOutput(ev.Name) {
				continue
			}
			debounced, ok := pending[ev.Name]
			if !ok {
				debounced = debounce.New(watchSettle)
				pending[ev.Name] = debounced
			}
			path := ev.Name
			debounced(func() {
				mu.Lock()
				if stopped {
					mu.Unlock()
					return
				}
				wg.Add(1)
				mu.Unlock()
				defer wg.Done()
				outPath, err := wp.warpFile(path)
				if err != nil {
					cc.logger.Warnw("could not warp image", "image", path, "error", err)
					return
				}
				cc.logger.Infow("image warped", "input", path, "output", outPath)
			})
		}
	}
}

// listImages returns the image files of dir sorted by name.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %q", dir)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := imaging.FormatFromFilename(e.Name()); err != nil {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
