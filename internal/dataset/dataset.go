// Package dataset indexes labelled renders so a prediction can be paired
// with the closest known orientation.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/isopose/isopose/internal/rotation"
)

// ErrEmpty reports an index with no labelled samples.
var ErrEmpty = errors.New("no labelled samples")

// Sample is one labelled image.
type Sample struct {
	Quat rotation.Quat
	Path string
}

// Index is an in-memory set of samples searched linearly.
type Index struct {
	samples []Sample
}

// Len returns the number of samples.
func (ix *Index) Len() int { return len(ix.samples) }

// Samples returns the indexed samples in load order.
func (ix *Index) Samples() []Sample { return slices.Clone(ix.samples) }

// Nearest returns the sample closest to q and its distance. Quaternions
// are compared sign-invariantly.
func (ix *Index) Nearest(q rotation.Quat) (Sample, float64, error) {
	if len(ix.samples) == 0 {
		return Sample{}, 0, ErrEmpty
	}
	best, bestDist := 0, rotation.Distance(q, ix.samples[0].Quat)
	for i := 1; i < len(ix.samples); i++ {
		if d := rotation.Distance(q, ix.samples[i].Quat); d < bestDist {
			best, bestDist = i, d
		}
	}
	return ix.samples[best], bestDist, nil
}

var csvColumns = []string{"x", "y", "z", "w", "filename"}

// LoadCSV reads a table with x, y, z, w and filename columns. Filenames
// resolve against imageDir, preferring a .jpg sibling of a listed .png and
// falling back to the bare base name.
func LoadCSV(path, imageDir string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f, imageDir)
}

// ReadCSV is LoadCSV over an arbitrary reader.
func ReadCSV(r io.Reader, imageDir string) (*Index, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range csvColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("csv is missing column %q", name)
		}
	}

	ix := &Index{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		var q rotation.Quat
		for i, name := range csvColumns[:4] {
			idx := col[name]
			if idx >= len(rec) {
				return nil, fmt.Errorf("line %d: missing %s", line, name)
			}
			q[i], err = strconv.ParseFloat(strings.TrimSpace(rec[idx]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, name, err)
			}
		}
		if col["filename"] >= len(rec) {
			return nil, fmt.Errorf("line %d: missing filename", line)
		}
		ix.samples = append(ix.samples, Sample{
			Quat: rotation.Normalize(q),
			Path: resolve(imageDir, strings.TrimSpace(rec[col["filename"]])),
		})
	}
	return ix, nil
}

func resolve(dir, name string) string {
	candidate := filepath.Join(dir, strings.ReplaceAll(name, ".png", ".jpg"))
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return filepath.Join(dir, filepath.Base(filepath.FromSlash(name)))
}

var quatName = regexp.MustCompile(`(?i)w([+-]?\d+(?:\.\d+)?)_?x([+-]?\d+(?:\.\d+)?)_?y([+-]?\d+(?:\.\d+)?)_?z([+-]?\d+(?:\.\d+)?)`)

// ParseFilename extracts a quaternion from names such as
// "w0.7_x0.1_y-0.2_z0.3.png".
func ParseFilename(name string) (rotation.Quat, bool) {
	m := quatName.FindStringSubmatch(name)
	if m == nil {
		return rotation.Quat{}, false
	}
	var v [4]float64
	for i := range v {
		f, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return rotation.Quat{}, false
		}
		v[i] = f
	}
	return rotation.Quat{v[1], v[2], v[3], v[0]}, true
}

// IsImage reports whether name has a png, jpg or jpeg extension.
func IsImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

// LoadDir indexes the images in dir whose names encode a quaternion.
func LoadDir(dir string) (*Index, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	ix := &Index{}
	for _, e := range entries {
		if e.IsDir() || !IsImage(e.Name()) {
			continue
		}
		q, ok := ParseFilename(e.Name())
		if !ok {
			continue
		}
		ix.samples = append(ix.samples, Sample{Quat: rotation.Normalize(q), Path: filepath.Join(dir, e.Name())})
	}
	return ix, nil
}

// Load prefers csvPath when it yields samples and falls back to parsing
// filenames in imageDir. Either argument may be empty.
func Load(csvPath, imageDir string) (*Index, error) {
	if csvPath != "" {
		ix, err := LoadCSV(csvPath, imageDir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if err == nil && ix.Len() > 0 {
			return ix, nil
		}
	}
	if imageDir == "" {
		return nil, ErrEmpty
	}
	ix, err := LoadDir(imageDir)
	if err != nil {
		return nil, err
	}
	if ix.Len() == 0 {
		return nil, ErrEmpty
	}
	return ix, nil
}

// ListImages returns the image files in dir sorted by name.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && IsImage(e.Name()) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}
