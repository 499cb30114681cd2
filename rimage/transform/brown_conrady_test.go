package transform

import (
	"image"
	"image/color"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestBrownConradyRoundTrip(t *testing.T) {
	bc := &BrownConrady{RadialK1: -0.12, RadialK2: 0.05, RadialK3: -0.01, TangentialP1: 0.001, TangentialP2: -0.0008}
	test.That(t, bc.CheckValid(), test.ShouldBeNil)
	for _, p := range []r2.Point{{X: 0, Y: 0}, {X: 0.1, Y: -0.2}, {X: -0.35, Y: 0.25}, {X: 0.4, Y: 0.3}} {
		xd, yd := bc.Transform(p.X, p.Y)
		xu, yu := bc.Undistort(xd, yd)
		test.That(t, xu, test.ShouldAlmostEqual, p.X, 1e-9)
		test.That(t, yu, test.ShouldAlmostEqual, p.Y, 1e-9)
	}
	var zero *BrownConrady
	x, y := zero.Transform(0.3, 0.2)
	test.That(t, x, test.ShouldEqual, 0.3)
	test.That(t, y, test.ShouldEqual, 0.2)
	test.That(t, zero.CheckValid(), test.ShouldNotBeNil)
	test.That(t, zero.CheckValid().Error(), test.ShouldContainSubstring, "invalid distortion_parameters")

	err := InvalidDistortionError("k1 off by 100%")
	test.That(t, err.Error(), test.ShouldEqual, "k1 off by 100%: invalid distortion_parameters")
}

func TestBrownConradyCoefficientOrder(t *testing.T) {
	bc, err := NewBrownConradyFromOpenCV([]float64{1, 2, 3, 4, 5})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, *bc, test.ShouldResemble, BrownConrady{RadialK1: 1, RadialK2: 2, TangentialP1: 3, TangentialP2: 4, RadialK3: 5})
	test.That(t, bc.OpenCVCoefficients(), test.ShouldResemble, []float64{1, 2, 3, 4, 5})
	test.That(t, bc.Parameters(), test.ShouldResemble, []float64{1, 2, 5, 3, 4})

	short, err := NewBrownConrady([]float64{0.1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, short.Parameters(), test.ShouldResemble, []float64{0.1, 0, 0, 0, 0})
	_, err = NewBrownConrady(make([]float64, 6))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewBrownConradyFromOpenCV(make([]float64, 8))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, (&BrownConrady{}).IsZero(), test.ShouldBeTrue)

	d, err := NewDistorter(BrownConradyDistortionType, []float64{0.1, 0.2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.ModelType(), test.ShouldEqual, BrownConradyDistortionType)
	_, err = NewDistorter("fisheye", nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func testModel() *PinholeCameraModel {
	return &PinholeCameraModel{
		PinholeCameraIntrinsics: &PinholeCameraIntrinsics{Width: 64, Height: 48, Fx: 60, Fy: 60, Ppx: 32, Ppy: 24},
		Distortion:              &BrownConrady{RadialK1: -0.2, RadialK2: 0.03},
	}
}

func TestPinholeModel(t *testing.T) {
	model := testModel()
	test.That(t, model.CheckValid(), test.ShouldBeNil)
	test.That(t, (&PinholeCameraModel{}).CheckValid(), test.ShouldNotBeNil)

	p := model.Project(r3.Vector{X: 0.1, Y: -0.05, Z: 0.5})
	undist := model.UndistortPoint(p)
	ideal := r2.Point{X: 0.2*60 + 32, Y: -0.1*60 + 24}
	test.That(t, undist.Sub(ideal).Norm(), test.ShouldBeLessThan, 1e-6)

	x, y := model.PointToPixel(0.1, -0.05, 0.5)
	test.That(t, x, test.ShouldAlmostEqual, ideal.X)
	test.That(t, y, test.ShouldAlmostEqual, ideal.Y)
	px, py, pz := model.PixelToPoint(ideal.X, ideal.Y, 0.5)
	test.That(t, px, test.ShouldAlmostEqual, 0.1)
	test.That(t, py, test.ShouldAlmostEqual, -0.05)
	test.That(t, pz, test.ShouldEqual, 0.5)

	k := model.GetCameraMatrix()
	back, err := NewPinholeCameraIntrinsicsFromMatrix(k, 64, 48)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, *back, test.ShouldResemble, *model.PinholeCameraIntrinsics)
	test.That(t, back.Size(), test.ShouldResemble, image.Pt(64, 48))
}

func TestUndistortImage(t *testing.T) {
	model := testModel()
	img := image.NewGray(image.Rect(0, 0, 64, 48))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	out, err := model.UndistortImage(img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Bounds(), test.ShouldResemble, img.Bounds())
	// the principal point is a fixed point of the distortion
	test.That(t, out.RGBAAt(32, 24), test.ShouldResemble, color.RGBA{200, 200, 200, 255})

	_, err = model.UndistortImage(image.NewGray(image.Rect(0, 0, 10, 10)))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = model.UndistortImage(nil)
	test.That(t, err, test.ShouldNotBeNil)
}
