package capture

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"go.viam.com/stereocal/rimage"
	"go.viam.com/stereocal/vision/charuco"
)

// Gate decides whether frames are worth saving: every frame must show at least the minimum
// number of board markers and at least MinInterval must have passed since the last save.
type Gate struct {
	mu          sync.Mutex
	detector    *charuco.Detector
	minInterval time.Duration
	clock       clock.Clock
	last        time.Time
}

// NewGate returns a gate using the detector's marker threshold. A nil clock uses the wall clock.
func NewGate(detector *charuco.Detector, minInterval time.Duration, clk clock.Clock) *Gate {
	if clk == nil {
		clk = clock.New()
	}
	return &Gate{detector: detector, minInterval: minInterval, clock: clk}
}

// Verdict is the outcome of a gate check.
type Verdict struct {
	Save    bool
	Markers []int
	Reason  string
}

// Check inspects frames that would be saved together. Errors other than too few markers are
// returned.
func (g *Gate) Check(ctx context.Context, frames ...image.Image) (Verdict, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := Verdict{Markers: make([]int, len(frames))}
	if !g.last.IsZero() && g.clock.Since(g.last) < g.minInterval {
		v.Reason = "waiting for the save interval"
		return v, nil
	}
	ok := true
	for i, f := range frames {
		markers, err := g.detector.DetectMarkers(ctx, rimage.ToGray(f))
		v.Markers[i] = len(markers)
		if err != nil {
			if !charuco.IsInsufficient(err) {
				return v, err
			}
			ok = false
		}
	}
	if !ok {
		v.Reason = "too few markers"
		return v, nil
	}
	v.Save = true
	g.last = g.clock.Now()
	return v, nil
}
