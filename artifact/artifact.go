// Package artifact persists calibration results in a directory of NumPy .npy files that the
// original Python tools can read, alongside a manifest.json recording what each file holds and a
// content hash per file.
//
// Every file is written to a temporary name and renamed into place, so a failed write never
// leaves a partial artifact behind.
package artifact

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"hash/fnv"
	"image"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.viam.com/stereocal/logging"
)

// ManifestName is the file name of the manifest inside an artifact directory.
const ManifestName = "manifest.json"

// Kind is what an artifact file holds.
type Kind string

// Artifact kinds.
const (
	KindCameraMatrix Kind = "camera_matrix"
	KindDistortion   Kind = "distortion"
	KindHomography   Kind = "homography"
)

var (
	// ErrNotFound means no artifact exists under the requested name.
	ErrNotFound = errors.New("artifact not found")
	// ErrHashMismatch means a file changed since the manifest was written.
	ErrHashMismatch = errors.New("artifact content does not match manifest")
)

// Entry describes one artifact file.
type Entry struct {
	File   string   `json:"file"`
	Kind   Kind     `json:"kind"`
	Roles  []string `json:"roles"`
	Width  int      `json:"width,omitempty"`
	Height int      `json:"height,omitempty"`
	// TargetWidth and TargetHeight are the target image size of a homography.
	TargetWidth  int     `json:"target_width,omitempty"`
	TargetHeight int     `json:"target_height,omitempty"`
	RMS          float64 `json:"rms,omitempty"`
	Inliers      int     `json:"inliers,omitempty"`
	Points       int     `json:"points,omitempty"`
	Views        int     `json:"views,omitempty"`
	// Undistorted marks a homography fit on undistorted source corners.
	Undistorted bool      `json:"undistorted,omitempty"`
	Created     time.Time `json:"created"`
	Hash        string    `json:"hash"`
}

// Resolution is the image size the artifact applies to.
func (e *Entry) Resolution() image.Point {
	return image.Pt(e.Width, e.Height)
}

// TargetResolution is the target image size of a homography.
func (e *Entry) TargetResolution() image.Point {
	return image.Pt(e.TargetWidth, e.TargetHeight)
}

type manifest struct {
	Artifacts map[string]*Entry `json:"artifacts"`
}

// Store is a directory of artifacts.
type Store struct {
	mu       sync.Mutex
	dir      string
	clock    clock.Clock
	manifest manifest
	logger   logging.Logger
}

// Open opens or creates an artifact directory.
func Open(dir string, logger logging.Logger) (*Store, error) {
	return OpenWithClock(dir, clock.New(), logger)
}

// OpenWithClock is Open with an explicit clock for creation times.
func OpenWithClock(dir string, clk clock.Clock, logger logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating artifact directory %q", dir)
	}
	s := &Store{dir: dir, clock: clk, logger: logger, manifest: manifest{Artifacts: map[string]*Entry{}}}
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, errors.Wrap(err, "reading manifest")
	default:
		if err := json.Unmarshal(data, &s.manifest); err != nil {
			return nil, errors.Wrapf(err, "decoding %s", ManifestName)
		}
		if s.manifest.Artifacts == nil {
			s.manifest.Artifacts = map[string]*Entry{}
		}
	}
	return s, nil
}

// Dir is the artifact directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path is the location of a file in the artifact directory.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Entries lists the manifest entries ordered by file name.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.manifest.Artifacts))
	for _, e := range s.manifest.Artifacts {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out
}

// Entry returns the manifest entry of a file.
func (s *Store) Entry(name string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.manifest.Artifacts[name]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Verify checks every file against its manifest hash.
func (s *Store) Verify() error {
	var errs error
	for _, e := range s.Entries() {
		if _, err := s.read(e.File); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// put writes the files of one logical artifact and records them in the manifest. Entries need
// File set; Created and Hash are filled in. Every file and the new manifest are staged before
// any is renamed into place, so a failed write leaves the previous artifact intact.
func (s *Store) put(files map[string][]byte, entries ...Entry) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now().UTC()
	next := manifest{Artifacts: make(map[string]*Entry, len(s.manifest.Artifacts)+len(entries))}
	for name, e := range s.manifest.Artifacts {
		next.Artifacts[name] = e
	}
	for i := range entries {
		e := entries[i]
		data, ok := files[e.File]
		if !ok {
			return errors.Errorf("no content for %q", e.File)
		}
		e.Created = now
		e.Hash = computeHash(data)
		next.Artifacts[e.File] = &e
	}
	manifestData, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return err
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	staged := make(map[string]string, len(files)+1)
	defer func() {
		for _, tmp := range staged {
			multierr.AppendInto(&err, os.Remove(tmp))
		}
	}()
	// the manifest goes last so it never names content that is not in place
	paths := append(lo.Map(names, func(name string, _ int) string { return filepath.Join(s.dir, name) }),
		filepath.Join(s.dir, ManifestName))
	contents := append(lo.Map(names, func(name string, _ int) []byte { return files[name] }), manifestData)
	for i, path := range paths {
		tmp, err := stage(path, contents[i])
		if err != nil {
			return err
		}
		staged[path] = tmp
	}
	for _, path := range paths {
		if err := os.Rename(staged[path], path); err != nil {
			return errors.Wrapf(err, "renaming into %q", path)
		}
		delete(staged, path)
	}
	s.manifest = next
	for _, e := range entries {
		s.logger.Debugw("artifact written", "file", e.File, "kind", e.Kind)
	}
	return nil
}

// read returns a file's content after checking it against the manifest. Files the manifest
// does not know are read unchecked.
func (s *Store) read(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "%s in %s", name, s.dir)
	}
	if err != nil {
		return nil, err
	}
	e, ok := s.Entry(name)
	if !ok {
		s.logger.Warnw("artifact not in manifest, reading unverified", "file", name)
		return data, nil
	}
	if got := computeHash(data); got != e.Hash {
		return nil, errors.Wrapf(ErrHashMismatch, "%s: manifest %s, file %s", name, e.Hash, got)
	}
	return data, nil
}

// stage writes data to a synced temporary file next to path and returns its name. The file has
// the permissions of a regular artifact; the caller renames or removes it.
func stage(path string, data []byte) (name string, err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", errors.Wrapf(err, "creating temporary file for %q", path)
	}
	defer func() {
		if err != nil {
			multierr.AppendInto(&err, os.Remove(tmp.Name()))
		}
	}()
	if _, err := bytes.NewReader(data).WriteTo(tmp); err != nil {
		return "", multierr.Combine(errors.Wrapf(err, "writing %q", path), tmp.Close())
	}
	if err := tmp.Chmod(0o644); err != nil {
		return "", multierr.Combine(err, tmp.Close())
	}
	if err := tmp.Sync(); err != nil {
		return "", multierr.Combine(err, tmp.Close())
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	return tmp.Name(), nil
}

func computeHash(data []byte) string {
	hasher := fnv.New128a()
	//nolint:errcheck
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}
