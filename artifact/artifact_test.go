package artifact

import (
	"bytes"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/logging"
	"go.viam.com/stereocal/rimage/calibration"
	"go.viam.com/stereocal/rimage/transform"
	"go.viam.com/stereocal/stereo"
)

func sampleIntrinsics() *calibration.Intrinsics {
	return &calibration.Intrinsics{
		Camera: transform.PinholeCameraIntrinsics{
			Width: 1920, Height: 1080, Fx: 1402.5, Fy: 1398.25, Ppx: 955.1, Ppy: 541.7,
		},
		Distortion: transform.BrownConrady{RadialK1: -0.21, RadialK2: 0.05, RadialK3: -0.003, TangentialP1: 0.0007, TangentialP2: -0.0011},
		RMS:        0.31,
		Views:      []calibration.ViewResult{{Name: "a"}, {Name: "b"}},
	}
}

func sampleHomography() *stereo.Result {
	return &stereo.Result{
		HomographyFit: &transform.HomographyFit{
			H:          transform.Homography{{1.02, 0.01, -35}, {-0.004, 0.99, 12}, {1e-6, -2e-6, 1}},
			Inliers:    []bool{true, true, false},
			NumInliers: 2,
			RMS:        0.8,
		},
		SourceSize: image.Pt(1920, 1080),
		TargetSize: image.Pt(1920, 1080),
		Pairs:      4,
	}
}

func TestIntrinsicsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	store, err := OpenWithClock(dir, clk, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	in := sampleIntrinsics()
	test.That(t, store.SaveIntrinsics("facecam", in), test.ShouldBeNil)
	for _, name := range []string{"K_facecam.npy", "dist_facecam.npy", ManifestName} {
		_, err := os.Stat(filepath.Join(dir, name))
		test.That(t, err, test.ShouldBeNil)
	}

	back, err := store.LoadIntrinsics("facecam", image.Point{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.Camera, test.ShouldResemble, in.Camera)
	test.That(t, back.Distortion, test.ShouldResemble, in.Distortion)
	test.That(t, back.RMS, test.ShouldEqual, in.RMS)

	e, ok := store.Entry("K_facecam.npy")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, e.Kind, test.ShouldEqual, KindCameraMatrix)
	test.That(t, e.Resolution(), test.ShouldResemble, image.Pt(1920, 1080))
	test.That(t, e.Views, test.ShouldEqual, 2)
	test.That(t, e.Created, test.ShouldResemble, clk.Now().UTC())

	// the distortion file is a 1x5 array in OpenCV order
	f, err := os.Open(filepath.Join(dir, "dist_facecam.npy"))
	test.That(t, err, test.ShouldBeNil)
	defer f.Close()
	var d mat.Dense
	test.That(t, npyio.Read(f, &d), test.ShouldBeNil)
	test.That(t, mat.Row(nil, 0, &d), test.ShouldResemble, []float64{-0.21, 0.05, 0.0007, -0.0011, -0.003})

	// reopening reads the manifest back
	again, err := Open(dir, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again.Entries(), test.ShouldHaveLength, 2)
	test.That(t, again.Verify(), test.ShouldBeNil)
}

func TestHomographyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	res := sampleHomography()
	test.That(t, store.SaveHomography("facecam", "zed", res), test.ShouldBeNil)

	h, err := store.LoadHomography("facecam", "zed")
	test.That(t, err, test.ShouldBeNil)
	for _, p := range []r2.Point{{X: 0, Y: 0}, {X: 1919, Y: 0}, {X: 1919, Y: 1079}, {X: 0, Y: 1079}} {
		test.That(t, h.Apply(p).Sub(res.H.Apply(p)).Norm(), test.ShouldBeLessThan, 1e-9)
	}
	e, ok := store.Entry(HomographyFile("facecam", "zed"))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, e.Roles, test.ShouldResemble, []string{"facecam", "zed"})
	test.That(t, e.Inliers, test.ShouldEqual, 2)
	test.That(t, e.Points, test.ShouldEqual, 3)
	test.That(t, e.Undistorted, test.ShouldBeFalse)

	undistorted := sampleHomography()
	undistorted.Undistorted = true
	test.That(t, store.SaveHomography("facecam", "zed", undistorted), test.ShouldBeNil)
	reopened, err := Open(dir, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	e, ok = reopened.Entry(HomographyFile("facecam", "zed"))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, e.Undistorted, test.ShouldBeTrue)

	_, err = store.LoadHomography("zed", "facecam")
	test.That(t, errors.Is(err, ErrNotFound), test.ShouldBeTrue)
}

func TestHashMismatch(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, store.SaveHomography("a", "b", sampleHomography()), test.ShouldBeNil)

	other := transform.IdentityHomography()
	var buf bytes.Buffer
	test.That(t, npyio.Write(&buf, other.Dense()), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, HomographyFile("a", "b")), buf.Bytes(), 0o644), test.ShouldBeNil)

	_, err = store.LoadHomography("a", "b")
	test.That(t, errors.Is(err, ErrHashMismatch), test.ShouldBeTrue)
	test.That(t, errors.Is(store.Verify(), ErrHashMismatch), test.ShouldBeTrue)
}

func TestUnmanagedFiles(t *testing.T) {
	dir := t.TempDir()
	k := mat.NewDense(3, 3, []float64{800, 0, 320, 0, 780, 240, 0, 0, 1})
	var buf bytes.Buffer
	test.That(t, npyio.Write(&buf, k), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, "K_zed.npy"), buf.Bytes(), 0o644), test.ShouldBeNil)
	buf.Reset()
	test.That(t, npyio.Write(&buf, mat.NewDense(1, 5, []float64{0.1, 0, 0, 0, 0})), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, "dist_zed.npy"), buf.Bytes(), 0o644), test.ShouldBeNil)

	logger, logs := logging.NewObservedTestLogger(t)
	store, err := Open(dir, logger)
	test.That(t, err, test.ShouldBeNil)
	_, err = store.LoadIntrinsics("zed", image.Point{})
	test.That(t, err, test.ShouldNotBeNil)
	in, err := store.LoadIntrinsics("zed", image.Pt(640, 480))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, in.Camera.Fy, test.ShouldEqual, 780.0)
	test.That(t, in.Distortion.RadialK1, test.ShouldEqual, 0.1)
	test.That(t, logs.FilterMessage("artifact not in manifest, reading unverified").Len(), test.ShouldEqual, 4)
}

func TestInvalidRole(t *testing.T) {
	store, err := Open(t.TempDir(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, store.SaveIntrinsics("", sampleIntrinsics()), test.ShouldNotBeNil)
	test.That(t, store.SaveHomography("a/b", "c", sampleHomography()), test.ShouldNotBeNil)
	test.That(t, store.Entries(), test.ShouldBeEmpty)
	test.That(t, validRole("zed_2i-left"), test.ShouldBeNil)
}

func TestFilesAreWorldReadable(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, store.SaveIntrinsics("facecam", sampleIntrinsics()), test.ShouldBeNil)
	for _, name := range []string{"K_facecam.npy", "dist_facecam.npy", ManifestName} {
		info, err := os.Stat(filepath.Join(dir, name))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, info.Mode().Perm(), test.ShouldEqual, os.FileMode(0o644))
	}
}

func TestFailedWriteKeepsPreviousArtifact(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, store.SaveIntrinsics("facecam", sampleIntrinsics()), test.ShouldBeNil)
	before, err := os.ReadFile(filepath.Join(dir, ManifestName))
	test.That(t, err, test.ShouldBeNil)

	// the second file cannot be staged, so nothing may be replaced
	k := CameraMatrixFile("facecam")
	err = store.put(map[string][]byte{k: []byte("new"), "missing/dist.npy": []byte("new")},
		Entry{File: k, Kind: KindCameraMatrix}, Entry{File: "missing/dist.npy", Kind: KindDistortion})
	test.That(t, err, test.ShouldNotBeNil)

	in, err := store.LoadIntrinsics("facecam", image.Point{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, in.Camera, test.ShouldResemble, sampleIntrinsics().Camera)
	after, err := os.ReadFile(filepath.Join(dir, ManifestName))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, after, test.ShouldResemble, before)
	test.That(t, store.Verify(), test.ShouldBeNil)

	// no temporary files are left behind
	entries, err := os.ReadDir(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, entries, test.ShouldHaveLength, 3)
}

func TestComputeHash(t *testing.T) {
	a := computeHash([]byte("mycoolcontent"))
	test.That(t, a, test.ShouldHaveLength, 32)
	test.That(t, computeHash([]byte("mycoolcontent")), test.ShouldEqual, a)
	test.That(t, computeHash([]byte("myothercoolcontent")), test.ShouldNotEqual, a)
}
