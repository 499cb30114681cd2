package cli

import (
	"image"

	"github.com/pkg/errors"

	"go.viam.com/stereocal/board"
	"go.viam.com/stereocal/capture"
	"go.viam.com/stereocal/vision/charuco"
)

var errNoCamera = errors.New("camera capture needs the opencv build; use --from-dir to replay images")

// Marker decoding, marker bitmaps and cameras come from OpenCV. The opencv build replaces
// these; without it only commands that work on stored images and artifacts are available.
var (
	newMarkerDetector = func(dictionary string) (charuco.MarkerDetector, func() error, error) {
		return nil, nil, charuco.ErrNoMarkerDetector
	}
	markerRenderer board.MarkerRenderer
	openCamera     = func(device int, size image.Point) (capture.FrameSource, error) {
		return nil, errNoCamera
	}
)
