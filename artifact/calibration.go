package artifact

import (
	"bytes"
	"fmt"
	"image"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/rimage/calibration"
	"go.viam.com/stereocal/rimage/transform"
	"go.viam.com/stereocal/stereo"
)

// CameraMatrixFile names the camera matrix of a role.
func CameraMatrixFile(role string) string {
	return fmt.Sprintf("K_%s.npy", role)
}

// DistortionFile names the distortion coefficients of a role.
func DistortionFile(role string) string {
	return fmt.Sprintf("dist_%s.npy", role)
}

// HomographyFile names the homography from the source role's image to the target role's image.
func HomographyFile(source, target string) string {
	return fmt.Sprintf("%s_to_%s_transform.npy", source, target)
}

// SaveIntrinsics writes the camera matrix and the distortion coefficients (OpenCV order, 1x5)
// of a role.
func (s *Store) SaveIntrinsics(role string, in *calibration.Intrinsics) error {
	if err := validRole(role); err != nil {
		return err
	}
	kData, err := encodeNpy(in.CameraMatrix())
	if err != nil {
		return err
	}
	dData, err := encodeNpy(mat.NewDense(1, 5, in.Distortion.OpenCVCoefficients()))
	if err != nil {
		return err
	}
	base := Entry{
		Roles:  []string{role},
		Width:  in.Camera.Width,
		Height: in.Camera.Height,
		RMS:    in.RMS,
		Views:  len(in.Views),
	}
	k, d := base, base
	k.File, k.Kind = CameraMatrixFile(role), KindCameraMatrix
	d.File, d.Kind = DistortionFile(role), KindDistortion
	if err := s.put(map[string][]byte{k.File: kData, d.File: dData}, k, d); err != nil {
		return errors.Wrapf(err, "saving intrinsics of %q", role)
	}
	s.logger.Infow("intrinsics saved", "role", role, "dir", s.dir, "rms", in.RMS)
	return nil
}

// LoadIntrinsics reads back the intrinsics of a role. The resolution comes from the manifest;
// fallback is used for files written by other tools.
func (s *Store) LoadIntrinsics(role string, fallback image.Point) (*calibration.Intrinsics, error) {
	k, err := s.loadMatrix(CameraMatrixFile(role), 3, 3)
	if err != nil {
		return nil, err
	}
	d, err := s.loadMatrix(DistortionFile(role), 1, 5)
	if err != nil {
		return nil, err
	}
	dist, err := transform.NewBrownConradyFromOpenCV(mat.Row(nil, 0, d))
	if err != nil {
		return nil, err
	}
	out := &calibration.Intrinsics{Distortion: *dist}
	e, ok := s.Entry(CameraMatrixFile(role))
	if !ok || e.Width == 0 || e.Height == 0 {
		e.Width, e.Height = fallback.X, fallback.Y
	}
	intr, err := transform.NewPinholeCameraIntrinsicsFromMatrix(k, e.Width, e.Height)
	if err != nil {
		return nil, err
	}
	out.Camera = *intr
	out.RMS = e.RMS
	return out, nil
}

// SaveHomography writes the fitted homography between two roles.
func (s *Store) SaveHomography(source, target string, res *stereo.Result) error {
	if err := validRole(source); err != nil {
		return err
	}
	if err := validRole(target); err != nil {
		return err
	}
	data, err := encodeNpy(res.H.Dense())
	if err != nil {
		return err
	}
	e := Entry{
		File:    HomographyFile(source, target),
		Kind:    KindHomography,
		Roles:   []string{source, target},
		Width:   res.SourceSize.X,
		Height:  res.SourceSize.Y,
		RMS:     res.RMS,
		Inliers: res.NumInliers,
		Points:  len(res.Inliers),
		Views:   res.Pairs,

		TargetWidth:  res.TargetSize.X,
		TargetHeight: res.TargetSize.Y,
		Undistorted:  res.Undistorted,
	}
	if err := s.put(map[string][]byte{e.File: data}, e); err != nil {
		return errors.Wrapf(err, "saving %s to %s homography", source, target)
	}
	s.logger.Infow("homography saved", "file", e.File, "inliers", res.NumInliers, "rms", res.RMS)
	return nil
}

// LoadHomography reads the homography between two roles.
func (s *Store) LoadHomography(source, target string) (transform.Homography, error) {
	m, err := s.loadMatrix(HomographyFile(source, target), 3, 3)
	if err != nil {
		return transform.Homography{}, err
	}
	h, err := transform.HomographyFromDense(m)
	if err != nil {
		return transform.Homography{}, err
	}
	if !h.IsFinite() {
		return transform.Homography{}, errors.Errorf("%s holds non-finite values", HomographyFile(source, target))
	}
	return h, nil
}

func (s *Store) loadMatrix(name string, rows, cols int) (*mat.Dense, error) {
	data, err := s.read(name)
	if err != nil {
		return nil, err
	}
	var m mat.Dense
	if err := npyio.Read(bytes.NewReader(data), &m); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", name)
	}
	if r, c := m.Dims(); r != rows || c != cols {
		// numpy may store a 1-D array for 5 coefficients
		if r*c == rows*cols {
			return mat.NewDense(rows, cols, m.RawMatrix().Data), nil
		}
		return nil, errors.Errorf("%s is %dx%d, want %dx%d", name, r, c, rows, cols)
	}
	return &m, nil
}

func encodeNpy(m *mat.Dense) ([]byte, error) {
	var buf bytes.Buffer
	if err := npyio.Write(&buf, m); err != nil {
		return nil, errors.Wrap(err, "encoding npy")
	}
	return buf.Bytes(), nil
}

func validRole(role string) error {
	if role == "" {
		return errors.New("role name is empty")
	}
	for _, r := range role {
		if !(r == '_' || r == '-' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return errors.Errorf("role %q may only hold letters, digits, '-' and '_'", role)
		}
	}
	return nil
}
