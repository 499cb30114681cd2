//go:build opencv

package opencv

import (
	"context"
	"image"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

// videoCapture is the part of gocv.VideoCapture a Camera uses.
type videoCapture interface {
	IsOpened() bool
	Set(prop gocv.VideoCaptureProperties, param float64)
	Read(m *gocv.Mat) bool
	Close() error
}

var openVideoCapture = func(device int) (videoCapture, error) {
	return gocv.OpenVideoCapture(device)
}

// Camera reads frames from a local video device.
type Camera struct {
	mu     sync.Mutex
	device int
	cap    videoCapture
	frame  gocv.Mat
}

// OpenCamera opens a video device and requests the given resolution. A zero size keeps the
// device default.
func OpenCamera(device int, size image.Point) (*Camera, error) {
	vc, err := openVideoCapture(device)
	if err != nil {
		return nil, errors.Wrapf(err, "opening camera %d", device)
	}
	if !vc.IsOpened() {
		return nil, multierr.Combine(errors.Errorf("camera %d did not open", device), vc.Close())
	}
	if size.X > 0 && size.Y > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(size.X))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(size.Y))
	}
	return &Camera{device: device, cap: vc, frame: gocv.NewMat()}, nil
}

// Name identifies the device in logs.
func (c *Camera) Name() string {
	return "camera " + strconv.Itoa(c.device)
}

// Next reads one frame.
func (c *Camera) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok := c.cap.Read(&c.frame); !ok || c.frame.Empty() {
		return nil, errors.Errorf("cannot read frame from camera %d", c.device)
	}
	return c.frame.ToImage()
}

// Close releases the device.
func (c *Camera) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame.Close()
	return c.cap.Close()
}
