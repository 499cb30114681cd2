// Package capture reads frames from cameras or directories, pairs frames from two cameras and
// saves the ones that show enough of the calibration board.
package capture

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"go.viam.com/stereocal/logging"
	"go.viam.com/stereocal/rimage"
)

// MaxReadAttempts is how many consecutive reads may fail before a source is given up on.
const MaxReadAttempts = 10

var (
	// ErrDeviceUnavailable means a camera could not be opened.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrReadFailed means a source kept failing to deliver frames.
	ErrReadFailed = errors.New("frame read failed")
	// ErrExhausted means a finite source has no more frames.
	ErrExhausted = errors.New("no more frames")
)

// A FrameSource delivers frames from one camera.
type FrameSource interface {
	Name() string
	Next(ctx context.Context) (image.Image, error)
	Close(ctx context.Context) error
}

// A TimestampedSource knows when each of its frames was taken.
type TimestampedSource interface {
	FrameSource
	NextWithTime(ctx context.Context) (image.Image, time.Time, error)
}

// OpenFunc opens a source.
type OpenFunc func(ctx context.Context) (FrameSource, error)

// Open opens a source and classifies any failure as ErrDeviceUnavailable.
func Open(ctx context.Context, name string, open OpenFunc) (FrameSource, error) {
	src, err := open(ctx)
	if err != nil {
		return nil, errors.Wrapf(ErrDeviceUnavailable, "%s: %v", name, err)
	}
	return src, nil
}

// ReadRetry reads a frame, retrying failed reads up to attempts times in total. A source that
// is exhausted or a cancelled context is not retried.
func ReadRetry(ctx context.Context, src FrameSource, attempts int, logger logging.Logger) (image.Image, error) {
	img, _, err := readRetry(ctx, src, attempts, nil, logger)
	return img, err
}

func readRetry(
	ctx context.Context,
	src FrameSource,
	attempts int,
	now func() time.Time,
	logger logging.Logger,
) (image.Image, time.Time, error) {
	if attempts <= 0 {
		attempts = MaxReadAttempts
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, time.Time{}, err
		}
		var img image.Image
		var at time.Time
		var err error
		if ts, ok := src.(TimestampedSource); ok {
			img, at, err = ts.NextWithTime(ctx)
		} else {
			img, err = src.Next(ctx)
			if now != nil {
				at = now()
			}
		}
		if err == nil {
			return img, at, nil
		}
		if errors.Is(err, ErrExhausted) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, time.Time{}, err
		}
		lastErr = err
		logger.Debugw("frame read failed", "source", src.Name(), "attempt", i+1, "error", err)
	}
	return nil, time.Time{}, errors.Wrapf(ErrReadFailed, "%s: %d attempts, last error: %v", src.Name(), attempts, lastErr)
}

// DirectorySource replays the images of a directory in name order.
type DirectorySource struct {
	mu    sync.Mutex
	name  string
	files []string
	next  int
}

// NewDirectorySource lists the images in dir whose names start with prefix.
func NewDirectorySource(dir, prefix string) (*DirectorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(ErrDeviceUnavailable, "%s: %v", dir, err)
	}
	src := &DirectorySource{name: filepath.Join(dir, prefix+"*")}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || !isImageFile(e.Name()) {
			continue
		}
		src.files = append(src.files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(src.files)
	return src, nil
}

func isImageFile(name string) bool {
	_, err := imaging.FormatFromFilename(name)
	return err == nil
}

// Name implements FrameSource.
func (s *DirectorySource) Name() string {
	return s.name
}

// Len is the number of images.
func (s *DirectorySource) Len() int {
	return len(s.files)
}

// Next implements FrameSource.
func (s *DirectorySource) Next(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.files) {
		return nil, ErrExhausted
	}
	path := s.files[s.next]
	s.next++
	return rimage.ReadImage(path)
}

// Close implements FrameSource.
func (s *DirectorySource) Close(ctx context.Context) error {
	return nil
}
