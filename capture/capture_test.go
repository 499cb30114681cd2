package capture

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/goleak"
	"go.viam.com/test"

	"go.viam.com/stereocal/logging"
	"go.viam.com/stereocal/rimage"
	"go.viam.com/stereocal/scans"
	"go.viam.com/stereocal/testutils/calibtest"
	"go.viam.com/stereocal/vision/charuco"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	mu       sync.Mutex
	name     string
	failures int
	err      error
	calls    int
	frame    image.Image
	at       []time.Time
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Next(ctx context.Context) (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.calls <= f.failures {
		return nil, errors.New("grab failed")
	}
	if f.frame == nil {
		return image.NewGray(image.Rect(0, 0, 4, 4)), nil
	}
	return f.frame, nil
}

func (f *fakeSource) Close(ctx context.Context) error { return nil }

// stampedSource reports fixed capture times.
type stampedSource struct {
	fakeSource
}

func (s *stampedSource) NextWithTime(ctx context.Context) (image.Image, time.Time, error) {
	img, err := s.Next(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return img, s.at[(s.calls-1)%len(s.at)], nil
}

func TestReadRetry(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()

	broken := &fakeSource{name: "broken", failures: 1000}
	_, err := ReadRetry(ctx, broken, MaxReadAttempts, logger)
	test.That(t, errors.Is(err, ErrReadFailed), test.ShouldBeTrue)
	test.That(t, broken.calls, test.ShouldEqual, MaxReadAttempts)

	flaky := &fakeSource{name: "flaky", failures: MaxReadAttempts - 1}
	img, err := ReadRetry(ctx, flaky, MaxReadAttempts, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img, test.ShouldNotBeNil)
	test.That(t, flaky.calls, test.ShouldEqual, MaxReadAttempts)

	done := &fakeSource{name: "done", err: ErrExhausted}
	_, err = ReadRetry(ctx, done, 0, logger)
	test.That(t, errors.Is(err, ErrExhausted), test.ShouldBeTrue)
	test.That(t, done.calls, test.ShouldEqual, 1)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = ReadRetry(cancelled, &fakeSource{name: "any"}, 3, logger)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestOpen(t *testing.T) {
	_, err := Open(context.Background(), "camera 3", func(ctx context.Context) (FrameSource, error) {
		return nil, errors.New("no such device")
	})
	test.That(t, errors.Is(err, ErrDeviceUnavailable), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "camera 3")

	src, err := Open(context.Background(), "fake", func(ctx context.Context) (FrameSource, error) {
		return &fakeSource{name: "fake"}, nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, src.Name(), test.ShouldEqual, "fake")
}

func TestDirectorySource(t *testing.T) {
	dir := t.TempDir()
	for i, name := range []string{"pair0_001.png", "pair0_000.png", "pair1_000.png", "notes.txt"} {
		img := image.NewGray(image.Rect(0, 0, 4, 4))
		img.SetGray(0, 0, color.Gray{Y: uint8(10 * (i + 1))})
		if filepath.Ext(name) == ".png" {
			test.That(t, rimage.WriteImage(filepath.Join(dir, name), img), test.ShouldBeNil)
		}
	}
	src, err := NewDirectorySource(dir, "pair0_")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, src.Len(), test.ShouldEqual, 2)
	first, err := src.Next(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rimage.ToGray(first).GrayAt(0, 0).Y, test.ShouldEqual, uint8(20))
	_, err = src.Next(context.Background())
	test.That(t, err, test.ShouldBeNil)
	_, err = src.Next(context.Background())
	test.That(t, errors.Is(err, ErrExhausted), test.ShouldBeTrue)
	test.That(t, src.Close(context.Background()), test.ShouldBeNil)

	_, err = NewDirectorySource(filepath.Join(dir, "missing"), "")
	test.That(t, errors.Is(err, ErrDeviceUnavailable), test.ShouldBeTrue)
}

func TestPairGrabberSkew(t *testing.T) {
	logger := logging.NewTestLogger(t)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	source := &stampedSource{fakeSource{name: "left", at: []time.Time{t0, t0}}}
	target := &stampedSource{fakeSource{name: "right", at: []time.Time{t0.Add(20 * time.Millisecond), t0.Add(80 * time.Millisecond)}}}
	g := NewPairGrabber(source, target, PairOptions{}, nil, logger)

	a, b, err := g.Grab(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b.Time.Sub(a.Time), test.ShouldEqual, 20*time.Millisecond)

	_, _, err = g.Grab(context.Background())
	test.That(t, errors.Is(err, ErrPairSkew), test.ShouldBeTrue)
}

func TestPairGrabberClock(t *testing.T) {
	logger := logging.NewTestLogger(t)
	clk := clock.NewMock()
	g := NewPairGrabber(&fakeSource{name: "left"}, &fakeSource{name: "right", failures: 2}, PairOptions{MaxSkew: time.Millisecond}, clk, logger)
	a, b, err := g.Grab(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.Time, test.ShouldResemble, clk.Now())
	test.That(t, b.Time, test.ShouldResemble, clk.Now())

	broken := NewPairGrabber(&fakeSource{name: "left"}, &fakeSource{name: "right", failures: 100}, PairOptions{ReadAttempts: 3}, clk, logger)
	_, _, err = broken.Grab(context.Background())
	test.That(t, errors.Is(err, ErrReadFailed), test.ShouldBeTrue)
}

// brightnessMarkers reports a full board of markers for frames whose top-left pixel is bright.
type brightnessMarkers struct{}

func (brightnessMarkers) DetectMarkers(ctx context.Context, img *image.Gray) ([]charuco.Marker, error) {
	if img.GrayAt(0, 0).Y < 128 {
		return []charuco.Marker{{ID: 0}}, nil
	}
	markers := make([]charuco.Marker, 6)
	for i := range markers {
		markers[i].ID = i
	}
	return markers, nil
}

func shade(v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 16, 12))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func newTestGate(t *testing.T, interval time.Duration, clk clock.Clock) *Gate {
	t.Helper()
	d, err := charuco.NewDetector(calibtest.Board(), brightnessMarkers{}, charuco.DefaultOptions(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return NewGate(d, interval, clk)
}

func TestGate(t *testing.T) {
	clk := clock.NewMock()
	gate := newTestGate(t, time.Second, clk)
	ctx := context.Background()

	v, err := gate.Check(ctx, shade(10))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v.Save, test.ShouldBeFalse)
	test.That(t, v.Markers, test.ShouldResemble, []int{1})

	v, err = gate.Check(ctx, shade(200))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v.Save, test.ShouldBeTrue)

	v, err = gate.Check(ctx, shade(200))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v.Save, test.ShouldBeFalse)
	test.That(t, v.Reason, test.ShouldContainSubstring, "interval")

	clk.Add(time.Second)
	v, err = gate.Check(ctx, shade(200), shade(10))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v.Save, test.ShouldBeFalse)
	test.That(t, v.Markers, test.ShouldResemble, []int{6, 1})

	v, err = gate.Check(ctx, shade(200), shade(250))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v.Save, test.ShouldBeTrue)
}

// sequenceSource alternates between frames without and with the board.
type sequenceSource struct {
	fakeSource
	frames []image.Image
	i      int
}

func (s *sequenceSource) Next(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.i >= len(s.frames) {
		return nil, ErrExhausted
	}
	s.i++
	return s.frames[s.i-1], nil
}

func TestSessionCalibration(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ds, err := scans.Open(t.TempDir())
	test.That(t, err, test.ShouldBeNil)
	src := &sequenceSource{fakeSource: fakeSource{name: "cam"}, frames: []image.Image{shade(0), shade(200), shade(0), shade(220), shade(230), shade(240)}}
	var progress []int
	s := &Session{
		Gate:    newTestGate(t, 0, clock.NewMock()),
		Dataset: ds,
		Count:   2,
		OnSave:  func(n int) { progress = append(progress, n) },
		Logger:  logger,
	}
	st, err := s.RunCalibration(context.Background(), "facecam", src)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, st, test.ShouldResemble, Stats{Saved: 2, Frames: 4, Rejected: 2})
	test.That(t, progress, test.ShouldResemble, []int{1, 2})
	files, err := ds.CalibrationImages("facecam")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, files, test.ShouldHaveLength, 2)

	// a second session continues the numbering and stops when the source runs dry
	s.Count = 10
	st, err = s.RunCalibration(context.Background(), "facecam", src)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, st.Saved, test.ShouldEqual, 2)
	files, err = ds.CalibrationImages("facecam")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, filepath.Base(files[3]), test.ShouldEqual, "cal_facecam_003.png")
}

func TestSessionPairs(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ds, err := scans.Open(t.TempDir())
	test.That(t, err, test.ShouldBeNil)
	left := &sequenceSource{fakeSource: fakeSource{name: "left"}, frames: []image.Image{shade(200), shade(200), shade(200)}}
	right := &sequenceSource{fakeSource: fakeSource{name: "right"}, frames: []image.Image{shade(0), shade(200), shade(200)}}
	s := &Session{Gate: newTestGate(t, 0, clock.NewMock()), Dataset: ds, Count: 5, Logger: logger}
	st, err := s.RunPairs(context.Background(), NewPairGrabber(left, right, PairOptions{}, clock.NewMock(), logger))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, st.Saved, test.ShouldEqual, 2)
	test.That(t, st.Rejected, test.ShouldEqual, 1)
	pairs, unmatched, err := ds.Pairs()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pairs, test.ShouldHaveLength, 2)
	test.That(t, unmatched, test.ShouldBeEmpty)
}

func TestSessionStopsOnReadFailure(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ds, err := scans.Open(t.TempDir())
	test.That(t, err, test.ShouldBeNil)
	s := &Session{Gate: newTestGate(t, 0, clock.NewMock()), Dataset: ds, Count: 1, Logger: logger}
	_, err = s.RunCalibration(context.Background(), "zed", &fakeSource{name: "zed", failures: 100})
	test.That(t, errors.Is(err, ErrReadFailed), test.ShouldBeTrue)
}
