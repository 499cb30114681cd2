//go:build opencv

package cli

import (
	"image"

	"go.viam.com/stereocal/capture"
	"go.viam.com/stereocal/vision/charuco"
	"go.viam.com/stereocal/vision/charuco/opencv"
)

func init() {
	newMarkerDetector = func(dictionary string) (charuco.MarkerDetector, func() error, error) {
		md, err := opencv.NewMarkerDetector(dictionary)
		if err != nil {
			return nil, nil, err
		}
		return md, md.Close, nil
	}
	markerRenderer = opencv.MarkerRenderer{}
	openCamera = func(device int, size image.Point) (capture.FrameSource, error) {
		cam, err := opencv.OpenCamera(device, size)
		if err != nil {
			return nil, err
		}
		return cam, nil
	}
}
