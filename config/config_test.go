package config

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/stereocal/board"
	"go.viam.com/stereocal/capture"
	"go.viam.com/stereocal/logging"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	test.That(t, cfg.Ensure(), test.ShouldBeNil)
	test.That(t, cfg.Board, test.ShouldResemble, board.DefaultConfig())
	test.That(t, cfg.Capture.MaxSkewDuration(), test.ShouldEqual, capture.DefaultMaxSkew)
	test.That(t, cfg.Capture.MinIntervalDuration(), test.ShouldEqual, time.Second)
	test.That(t, cfg.Calibration.MinImages, test.ShouldEqual, 5)
	test.That(t, cfg.Homography.MinCommon, test.ShouldEqual, 8)
	test.That(t, cfg.Homography.MinPairs, test.ShouldEqual, 3)
	test.That(t, cfg.Homography.RANSAC.Threshold, test.ShouldEqual, 5.0)
}

func TestReadWithEnvironment(t *testing.T) {
	t.Setenv("STEREOCAL_SCANS", "/data/scans")
	t.Setenv("STEREOCAL_SKEW", "20ms")
	path := filepath.Join(t.TempDir(), "stereocal.json")
	body := `{
		"board": {"dictionary": "DICT_4X4_50", "columns": 9, "rows": 6, "square_size_m": 0.03, "marker_size_m": 0.022},
		"homography": {"min_common": 10},
		"capture": {"width": 1280, "height": 720, "max_skew": "${STEREOCAL_SKEW}", "cameras": {"source": 2}},
		"paths": {"scans": "${STEREOCAL_SCANS}"}
	}`
	test.That(t, os.WriteFile(path, []byte(body), 0o600), test.ShouldBeNil)

	cfg, err := Read(context.Background(), path, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, path)
	test.That(t, cfg.Board.Columns, test.ShouldEqual, 9)
	test.That(t, cfg.Board.Dictionary, test.ShouldEqual, "DICT_4X4_50")
	test.That(t, cfg.Paths.Scans, test.ShouldEqual, "/data/scans")
	test.That(t, cfg.Paths.Artifacts, test.ShouldEqual, "calibration")
	test.That(t, cfg.Capture.MaxSkewDuration(), test.ShouldEqual, 20*time.Millisecond)
	test.That(t, cfg.Capture.Resolution().X, test.ShouldEqual, 1280)

	// untouched fields of a section keep their defaults
	test.That(t, cfg.Homography.MinCommon, test.ShouldEqual, 10)
	test.That(t, cfg.Homography.MinPairs, test.ShouldEqual, 3)

	idx, ok := cfg.Capture.Camera("source")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, idx, test.ShouldEqual, 2)
	idx, ok = cfg.Capture.Camera("target")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, idx, test.ShouldEqual, 1)
	_, ok = cfg.Capture.Camera("left")
	test.That(t, ok, test.ShouldBeFalse)
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(context.Background(), filepath.Join(t.TempDir(), "nope.json"), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFromReaderValidation(t *testing.T) {
	logger := logging.NewTestLogger(t)
	for _, tc := range []struct {
		name, body, errContains string
	}{
		{"unknown field", `{"bored": {}}`, "unknown field"},
		{"bad json", `{"board": `, "cannot parse"},
		{"marker too big", `{"board": {"marker_size_m": 0.05}}`, "marker size"},
		{"negative skew", `{"capture": {"max_skew": "-5ms"}}`, "capture.max_skew"},
		{"bad interval", `{"capture": {"min_interval": "soon"}}`, "capture.min_interval"},
		{"zero width", `{"capture": {"width": 0}}`, "resolution"},
		{"negative camera", `{"capture": {"cameras": {"source": -1}}}`, "capture.cameras.source"},
		{"few images", `{"calibration": {"min_images": 2}}`, "min_images"},
		{"confidence", `{"homography": {"ransac": {"confidence": 1}}}`, "confidence"},
		{"threshold", `{"homography": {"ransac": {"reprojection_threshold_px": 0}}}`, "reprojection_threshold_px"},
		{"min corners", `{"detection": {"min_corners": 3}}`, "min_corners"},
		{"no artifacts dir", `{"paths": {"artifacts": ""}}`, "artifacts"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromReader(context.Background(), "test.json", strings.NewReader(tc.body), logger)
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errContains)
		})
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load(context.Background(), "", logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, "")
	test.That(t, cfg.Paths.Scans, test.ShouldEqual, "scans")
}

func TestFromReaderJSON5(t *testing.T) {
	body := `{
		// tighter skew for the hardware-synced rig
		capture: {max_skew: "20ms", width: 1280, height: 720,},
		paths: {scans: "captures"},
	}`
	cfg, err := FromReader(context.Background(), "rig.json5", strings.NewReader(body), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Capture.MaxSkewDuration(), test.ShouldEqual, 20*time.Millisecond)
	test.That(t, cfg.Capture.Resolution(), test.ShouldResemble, image.Pt(1280, 720))
	test.That(t, cfg.Paths.Scans, test.ShouldEqual, "captures")
	test.That(t, cfg.Paths.Artifacts, test.ShouldEqual, "calibration")

	// json5 accepts comments, unquoted keys and trailing commas but not single-quoted strings
	_, err = FromReader(context.Background(), "rig.json5", strings.NewReader(`{paths: {scans: 'captures'}}`), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cannot parse config")
}
