//go:build opencv

package opencv

import (
	"context"
	"image"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"go.viam.com/stereocal/vision/charuco"
)

var dictionaries = map[string]gocv.ArucoDictionaryCode{
	"DICT_4X4_50":   gocv.ArucoDict4x4_50,
	"DICT_4X4_100":  gocv.ArucoDict4x4_100,
	"DICT_4X4_250":  gocv.ArucoDict4x4_250,
	"DICT_4X4_1000": gocv.ArucoDict4x4_1000,
	"DICT_5X5_50":   gocv.ArucoDict5x5_50,
	"DICT_5X5_100":  gocv.ArucoDict5x5_100,
	"DICT_5X5_250":  gocv.ArucoDict5x5_250,
	"DICT_5X5_1000": gocv.ArucoDict5x5_1000,
	"DICT_6X6_50":   gocv.ArucoDict6x6_50,
	"DICT_6X6_100":  gocv.ArucoDict6x6_100,
	"DICT_6X6_250":  gocv.ArucoDict6x6_250,
	"DICT_6X6_1000": gocv.ArucoDict6x6_1000,
	"DICT_7X7_1000": gocv.ArucoDict7x7_1000,
}

func dictionary(name string) (gocv.ArucoDictionaryCode, error) {
	code, ok := dictionaries[name]
	if !ok {
		return 0, errors.Errorf("unsupported marker dictionary %q", name)
	}
	return code, nil
}

// MarkerDetector decodes ArUco markers of one dictionary.
type MarkerDetector struct {
	mu       sync.Mutex
	detector gocv.ArucoDetector
}

// NewMarkerDetector returns a detector for the named dictionary, e.g. DICT_5X5_1000.
func NewMarkerDetector(dictName string) (*MarkerDetector, error) {
	code, err := dictionary(dictName)
	if err != nil {
		return nil, err
	}
	params := gocv.NewArucoDetectorParameters()
	return &MarkerDetector{
		detector: gocv.NewArucoDetectorWithParams(gocv.GetPredefinedDictionary(code), params),
	}, nil
}

// DetectMarkers implements charuco.MarkerDetector.
func (md *MarkerDetector) DetectMarkers(ctx context.Context, img *image.Gray) ([]charuco.Marker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return nil, errors.Wrap(err, "converting image")
	}
	defer m.Close()

	md.mu.Lock()
	corners, ids, _ := md.detector.DetectMarkers(m)
	md.mu.Unlock()

	markers := make([]charuco.Marker, 0, len(ids))
	for i, id := range ids {
		if len(corners[i]) != 4 {
			continue
		}
		mk := charuco.Marker{ID: id}
		for j, c := range corners[i] {
			mk.Corners[j] = r2.Point{X: float64(c.X) + float64(img.Bounds().Min.X), Y: float64(c.Y) + float64(img.Bounds().Min.Y)}
		}
		markers = append(markers, mk)
	}
	return markers, nil
}

// Close releases the OpenCV detector.
func (md *MarkerDetector) Close() error {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.detector.Close()
	return nil
}

// MarkerRenderer draws markers with OpenCV. It implements board.MarkerRenderer.
type MarkerRenderer struct{}

// RenderMarker draws one marker, including its one-bit black border, as a square image.
func (MarkerRenderer) RenderMarker(dictName string, id, sidePixels int) (*image.Gray, error) {
	code, err := dictionary(dictName)
	if err != nil {
		return nil, err
	}
	m := gocv.NewMat()
	defer m.Close()
	gocv.ArucoGenerateImageMarker(code, id, sidePixels, m, 1)
	img, err := m.ToImage()
	if err != nil {
		return nil, errors.Wrapf(err, "rendering marker %d", id)
	}
	gray, ok := img.(*image.Gray)
	if !ok {
		return nil, errors.Errorf("marker rendered as %T, want grayscale", img)
	}
	return gray, nil
}
