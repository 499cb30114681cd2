// Package config defines the configuration file shared by every stereocal command.
package config

import (
	"image"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/stereocal/board"
	"go.viam.com/stereocal/capture"
	"go.viam.com/stereocal/rimage/calibration"
	"go.viam.com/stereocal/stereo"
	"go.viam.com/stereocal/vision/charuco"
)

// Config describes the board, the solvers and where files live.
type Config struct {
	Board       board.Config        `json:"board"`
	Detection   charuco.Options     `json:"detection"`
	Calibration calibration.Options `json:"calibration"`
	Homography  stereo.Options      `json:"homography"`
	Capture     Capture             `json:"capture"`
	Paths       Paths               `json:"paths"`

	// ConfigFilePath is the path this config was read from, if any.
	ConfigFilePath string `json:"-"`
}

// Capture configures the cameras. Durations are Go duration strings such as "50ms".
type Capture struct {
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	MaxSkew      string         `json:"max_skew"`
	MinInterval  string         `json:"min_interval"`
	ReadAttempts int            `json:"read_attempts"`
	Cameras      map[string]int `json:"cameras"`
}

// Paths are the directories read and written by the tools.
type Paths struct {
	Scans     string `json:"scans"`
	Artifacts string `json:"artifacts"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Board:       board.DefaultConfig(),
		Detection:   charuco.DefaultOptions(),
		Calibration: calibration.DefaultOptions(),
		Homography:  stereo.DefaultOptions(),
		Capture: Capture{
			Width:        1920,
			Height:       1080,
			MaxSkew:      capture.DefaultMaxSkew.String(),
			MinInterval:  "1s",
			ReadAttempts: capture.MaxReadAttempts,
			Cameras:      map[string]int{"source": 0, "target": 1},
		},
		Paths: Paths{Scans: "scans", Artifacts: "calibration"},
	}
}

// Ensure validates every section.
func (c *Config) Ensure() error {
	if err := c.Board.Validate("board"); err != nil {
		return err
	}
	if err := validateDetection("detection", c.Detection); err != nil {
		return err
	}
	if err := validateCalibration("calibration", c.Calibration); err != nil {
		return err
	}
	if err := validateHomography("homography", c.Homography); err != nil {
		return err
	}
	if err := c.Capture.Validate("capture"); err != nil {
		return err
	}
	return c.Paths.Validate("paths")
}

// Validate ensures all parts of the config are valid.
func (c *Capture) Validate(path string) error {
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Errorf("%s: resolution must be positive, got %dx%d", path, c.Width, c.Height)
	}
	if c.ReadAttempts <= 0 {
		return errors.Errorf("%s: read_attempts must be positive, got %d", path, c.ReadAttempts)
	}
	if _, err := parseDuration(c.MaxSkew); err != nil {
		return errors.Wrapf(err, "%s.max_skew", path)
	}
	if _, err := parseDuration(c.MinInterval); err != nil {
		return errors.Wrapf(err, "%s.min_interval", path)
	}
	for role, idx := range c.Cameras {
		if role == "" {
			return errors.Errorf("%s.cameras: empty role", path)
		}
		if idx < 0 {
			return errors.Errorf("%s.cameras.%s: device index must not be negative, got %d", path, role, idx)
		}
	}
	return nil
}

// Resolution is the requested frame size.
func (c Capture) Resolution() image.Point {
	return image.Pt(c.Width, c.Height)
}

// MaxSkewDuration is the parsed MaxSkew, falling back to the default when unset.
func (c Capture) MaxSkewDuration() time.Duration {
	d, err := parseDuration(c.MaxSkew)
	if err != nil || d == 0 {
		return capture.DefaultMaxSkew
	}
	return d
}

// MinIntervalDuration is the parsed MinInterval.
func (c Capture) MinIntervalDuration() time.Duration {
	//nolint:errcheck
	d, _ := parseDuration(c.MinInterval)
	return d
}

// Camera returns the device index configured for role.
func (c Capture) Camera(role string) (int, bool) {
	idx, ok := c.Cameras[role]
	return idx, ok
}

// Validate ensures all parts of the config are valid.
func (p *Paths) Validate(path string) error {
	if p.Scans == "" {
		return errors.Errorf("%s: scans directory is required", path)
	}
	if p.Artifacts == "" {
		return errors.Errorf("%s: artifacts directory is required", path)
	}
	return nil
}

func validateDetection(path string, opts charuco.Options) error {
	if opts.MinMarkers < 1 {
		return errors.Errorf("%s: min_markers must be at least 1, got %d", path, opts.MinMarkers)
	}
	if opts.MinCorners < 4 {
		return errors.Errorf("%s: min_corners must be at least 4, got %d", path, opts.MinCorners)
	}
	if opts.SubPix.HalfWindow < 1 || opts.SubPix.MaxIterations < 1 || opts.SubPix.Epsilon <= 0 {
		return errors.Errorf("%s.subpix: window, iterations and epsilon must be positive", path)
	}
	return nil
}

func validateCalibration(path string, opts calibration.Options) error {
	if opts.MinImages < 3 {
		return errors.Errorf("%s: min_images must be at least 3, got %d", path, opts.MinImages)
	}
	if opts.MaxIterations < 1 {
		return errors.Errorf("%s: max_iterations must be positive, got %d", path, opts.MaxIterations)
	}
	return nil
}

func validateHomography(path string, opts stereo.Options) error {
	if opts.MinCommon < 4 {
		return errors.Errorf("%s: min_common must be at least 4, got %d", path, opts.MinCommon)
	}
	if opts.MinPairs < 1 {
		return errors.Errorf("%s: min_pairs must be positive, got %d", path, opts.MinPairs)
	}
	r := opts.RANSAC
	if r.Threshold <= 0 {
		return errors.Errorf("%s.ransac: reprojection_threshold_px must be positive, got %v", path, r.Threshold)
	}
	if r.MaxIterations < 1 {
		return errors.Errorf("%s.ransac: max_iterations must be positive, got %d", path, r.MaxIterations)
	}
	if r.Confidence <= 0 || r.Confidence >= 1 {
		return errors.Errorf("%s.ransac: confidence must be in (0, 1), got %v", path, r.Confidence)
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.Errorf("duration %q is negative", s)
	}
	return d, nil
}
