// Package scans lays out captured images on disk: cal_<role>_NNN.png for single camera
// calibration images and pair0_NNN.png / pair1_NNN.png for the two halves of a stereo pair.
package scans

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/stereocal/rimage"
)

// DefaultDir is where captures go unless configured otherwise.
const DefaultDir = "scans"

var (
	calibrationPattern = regexp.MustCompile(`^cal_(.+)_(\d{3,})\.png$`)
	pairPattern        = regexp.MustCompile(`^pair([01])_(\d{3,})\.png$`)
)

// CalibrationName is the file name of a calibration image.
func CalibrationName(role string, index int) string {
	return fmt.Sprintf("cal_%s_%03d.png", role, index)
}

// PairNames are the file names of the two halves of a stereo pair.
func PairNames(index int) (string, string) {
	return fmt.Sprintf("pair0_%03d.png", index), fmt.Sprintf("pair1_%03d.png", index)
}

// Dataset is a directory of captures.
type Dataset struct {
	dir string
}

// Open opens or creates a capture directory.
func Open(dir string) (*Dataset, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating scans directory %q", dir)
	}
	return &Dataset{dir: dir}, nil
}

// Dir is the capture directory.
func (d *Dataset) Dir() string {
	return d.dir
}

type indexedFile struct {
	index int
	path  string
}

func (d *Dataset) list(match func(name string) (int, bool)) ([]indexedFile, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %q", d.dir)
	}
	var out []indexedFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if idx, ok := match(e.Name()); ok {
			out = append(out, indexedFile{index: idx, path: filepath.Join(d.dir, e.Name())})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out, nil
}

func (d *Dataset) calibrationFiles(role string) ([]indexedFile, error) {
	return d.list(func(name string) (int, bool) {
		m := calibrationPattern.FindStringSubmatch(name)
		if m == nil || m[1] != role {
			return 0, false
		}
		idx, err := strconv.Atoi(m[2])
		return idx, err == nil
	})
}

// CalibrationImages lists the calibration images of a role in capture order.
func (d *Dataset) CalibrationImages(role string) ([]string, error) {
	files, err := d.calibrationFiles(role)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

// NextCalibrationIndex is the index after the highest existing calibration image of a role.
func (d *Dataset) NextCalibrationIndex(role string) (int, error) {
	files, err := d.calibrationFiles(role)
	if err != nil || len(files) == 0 {
		return 0, err
	}
	return files[len(files)-1].index + 1, nil
}

// SaveCalibration writes a calibration image.
func (d *Dataset) SaveCalibration(role string, index int, img image.Image) (string, error) {
	path := filepath.Join(d.dir, CalibrationName(role, index))
	return path, rimage.WriteImage(path, img)
}

// PairFiles are the two halves of one stereo pair.
type PairFiles struct {
	Index  int
	Source string
	Target string
}

// Pairs matches pair0 and pair1 files by index. Halves without a partner are returned
// separately.
func (d *Dataset) Pairs() ([]PairFiles, []string, error) {
	halves := map[int]*PairFiles{}
	files, err := d.list(func(name string) (int, bool) {
		m := pairPattern.FindStringSubmatch(name)
		if m == nil {
			return 0, false
		}
		idx, err := strconv.Atoi(m[2])
		if err != nil {
			return 0, false
		}
		p, ok := halves[idx]
		if !ok {
			p = &PairFiles{Index: idx}
			halves[idx] = p
		}
		if m[1] == "0" {
			p.Source = filepath.Join(d.dir, name)
		} else {
			p.Target = filepath.Join(d.dir, name)
		}
		return idx, true
	})
	if err != nil {
		return nil, nil, err
	}
	var pairs []PairFiles
	var unmatched []string
	seen := map[int]bool{}
	for _, f := range files {
		if seen[f.index] {
			continue
		}
		seen[f.index] = true
		p := halves[f.index]
		switch {
		case p.Source != "" && p.Target != "":
			pairs = append(pairs, *p)
		case p.Source != "":
			unmatched = append(unmatched, p.Source)
		default:
			unmatched = append(unmatched, p.Target)
		}
	}
	return pairs, unmatched, nil
}

// NextPairIndex is the index after the highest existing pair half.
func (d *Dataset) NextPairIndex() (int, error) {
	pairs, unmatched, err := d.Pairs()
	if err != nil {
		return 0, err
	}
	next := 0
	for _, p := range pairs {
		if p.Index >= next {
			next = p.Index + 1
		}
	}
	for _, u := range unmatched {
		m := pairPattern.FindStringSubmatch(filepath.Base(u))
		if idx, err := strconv.Atoi(m[2]); err == nil && idx >= next {
			next = idx + 1
		}
	}
	return next, nil
}

// SavePair writes both halves of a stereo pair. If the second write fails the first is removed.
func (d *Dataset) SavePair(index int, source, target image.Image) (PairFiles, error) {
	n0, n1 := PairNames(index)
	p := PairFiles{Index: index, Source: filepath.Join(d.dir, n0), Target: filepath.Join(d.dir, n1)}
	if err := rimage.WriteImage(p.Source, source); err != nil {
		return PairFiles{}, err
	}
	if err := rimage.WriteImage(p.Target, target); err != nil {
		return PairFiles{}, multierr.Combine(err, os.Remove(p.Source))
	}
	return p, nil
}
