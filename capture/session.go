package capture

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/stereocal/logging"
	"go.viam.com/stereocal/scans"
)

// Session saves gated frames into a dataset until enough are collected.
type Session struct {
	Gate    *Gate
	Dataset *scans.Dataset
	// Count is how many images or pairs to save.
	Count int
	// ReadAttempts bounds consecutive failed reads from a single source.
	ReadAttempts int
	// OnSave, when set, is called after each save with the number saved so far.
	OnSave func(saved int)
	Logger logging.Logger
}

// Stats counts what happened during a session.
type Stats struct {
	Saved    int
	Frames   int
	Rejected int
	Skewed   int
}

func (s *Session) saved(n int) {
	if s.OnSave != nil {
		s.OnSave(n)
	}
}

func (s *Session) done(ctx context.Context, st Stats) bool {
	return st.Saved >= s.Count || ctx.Err() != nil
}

// finish turns an end of input or cancellation into a normal stop.
func finish(st Stats, err error) (Stats, error) {
	if errors.Is(err, ErrExhausted) || errors.Is(err, context.Canceled) {
		return st, nil
	}
	return st, err
}

// RunCalibration captures calibration images of one camera.
func (s *Session) RunCalibration(ctx context.Context, role string, src FrameSource) (Stats, error) {
	var st Stats
	next, err := s.Dataset.NextCalibrationIndex(role)
	if err != nil {
		return st, err
	}
	for !s.done(ctx, st) {
		img, err := ReadRetry(ctx, src, s.ReadAttempts, s.Logger)
		if err != nil {
			return finish(st, err)
		}
		st.Frames++
		v, err := s.Gate.Check(ctx, img)
		if err != nil {
			return finish(st, err)
		}
		if !v.Save {
			st.Rejected++
			s.Logger.Debugw("frame not saved", "reason", v.Reason, "markers", v.Markers[0])
			continue
		}
		path, err := s.Dataset.SaveCalibration(role, next, img)
		if err != nil {
			return st, err
		}
		next++
		st.Saved++
		s.Logger.Infow("saved calibration image", "path", path, "markers", v.Markers[0])
		s.saved(st.Saved)
	}
	return st, nil
}

// RunPairs captures stereo pairs.
func (s *Session) RunPairs(ctx context.Context, grabber *PairGrabber) (Stats, error) {
	var st Stats
	next, err := s.Dataset.NextPairIndex()
	if err != nil {
		return st, err
	}
	for !s.done(ctx, st) {
		src, dst, err := grabber.Grab(ctx)
		if errors.Is(err, ErrPairSkew) {
			st.Skewed++
			s.Logger.Debugw("pair dropped", "error", err)
			continue
		}
		if err != nil {
			return finish(st, err)
		}
		st.Frames++
		v, err := s.Gate.Check(ctx, src.Image, dst.Image)
		if err != nil {
			return finish(st, err)
		}
		if !v.Save {
			st.Rejected++
			s.Logger.Debugw("pair not saved", "reason", v.Reason, "markers", v.Markers)
			continue
		}
		files, err := s.Dataset.SavePair(next, src.Image, dst.Image)
		if err != nil {
			return st, err
		}
		next++
		st.Saved++
		s.Logger.Infow("saved stereo pair", "source", files.Source, "target", files.Target, "markers", v.Markers)
		s.saved(st.Saved)
	}
	return st, nil
}
