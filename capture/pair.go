package capture

import (
	"context"
	"image"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"go.viam.com/stereocal/logging"
)

// DefaultMaxSkew is the largest time difference allowed between the two frames of a pair.
const DefaultMaxSkew = 50 * time.Millisecond

// ErrPairSkew means the two frames of a pair were taken too far apart. The pair is dropped and
// grabbing may continue.
var ErrPairSkew = errors.New("stereo frames too far apart")

// Frame is an image and the time it was taken.
type Frame struct {
	Image image.Image
	Time  time.Time
}

// PairOptions tunes a PairGrabber.
type PairOptions struct {
	MaxSkew      time.Duration
	ReadAttempts int
}

// PairGrabber reads one frame from each of two sources at the same time.
type PairGrabber struct {
	source, target FrameSource
	opts           PairOptions
	clock          clock.Clock
	logger         logging.Logger
}

// NewPairGrabber pairs source and target frames. A nil clock uses the wall clock.
func NewPairGrabber(source, target FrameSource, opts PairOptions, clk clock.Clock, logger logging.Logger) *PairGrabber {
	if opts.MaxSkew <= 0 {
		opts.MaxSkew = DefaultMaxSkew
	}
	if opts.ReadAttempts <= 0 {
		opts.ReadAttempts = MaxReadAttempts
	}
	if clk == nil {
		clk = clock.New()
	}
	return &PairGrabber{source: source, target: target, opts: opts, clock: clk, logger: logger}
}

// Grab reads both sources concurrently. It returns ErrPairSkew, with both frames, when they
// were taken more than MaxSkew apart.
func (g *PairGrabber) Grab(ctx context.Context) (Frame, Frame, error) {
	var src, dst Frame
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		img, at, err := readRetry(egCtx, g.source, g.opts.ReadAttempts, g.clock.Now, g.logger)
		src = Frame{Image: img, Time: at}
		return err
	})
	eg.Go(func() error {
		img, at, err := readRetry(egCtx, g.target, g.opts.ReadAttempts, g.clock.Now, g.logger)
		dst = Frame{Image: img, Time: at}
		return err
	})
	if err := eg.Wait(); err != nil {
		return Frame{}, Frame{}, err
	}
	skew := src.Time.Sub(dst.Time)
	if skew < 0 {
		skew = -skew
	}
	if skew > g.opts.MaxSkew {
		return src, dst, errors.Wrapf(ErrPairSkew, "%v apart, limit %v", skew, g.opts.MaxSkew)
	}
	return src, dst, nil
}
