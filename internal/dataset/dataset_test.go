package dataset

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isopose/isopose/internal/rotation"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
}

func TestParseFilename(t *testing.T) {
	tests := []struct {
		name string
		want rotation.Quat
		ok   bool
	}{
		{"w1_x0_y0_z0.png", rotation.Quat{0, 0, 0, 1}, true},
		{"render_W0.5x-0.5_y0.5_z+0.5.jpg", rotation.Quat{-0.5, 0.5, 0.5, 0.5}, true},
		{"w0.7_x0.1_y0.2_z0.3.png", rotation.Quat{0.1, 0.2, 0.3, 0.7}, true},
		{"X12.3_Y-45.0_Z90.0.png", rotation.Quat{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseFilename(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadCSV(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.jpg")

	ix, err := ReadCSV(strings.NewReader("filename,w,x,y,z\na.png,2,0,0,0\nsub/b.png,0,0,0,1\n"), dir)
	require.NoError(t, err)
	require.Equal(t, 2, ix.Len())

	s := ix.Samples()
	assert.Equal(t, rotation.Identity, s[0].Quat, "rows are normalized")
	assert.Equal(t, filepath.Join(dir, "a.jpg"), s[0].Path, "existing jpg sibling wins")
	assert.Equal(t, filepath.Join(dir, "b.png"), s[1].Path, "missing file falls back to base name")
}

func TestReadCSVErrors(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("x,y,z,filename\n"), "")
	assert.ErrorContains(t, err, `missing column "w"`)

	_, err = ReadCSV(strings.NewReader("x,y,z,w,filename\n0,0,zero,1,a.png\n"), "")
	assert.ErrorContains(t, err, "line 2: z")

	_, err = ReadCSV(strings.NewReader(""), "")
	assert.Error(t, err)
}

func TestNearestIgnoresSign(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "w1_x0_y0_z0.png")
	touch(t, dir, "w0_x1_y0_z0.png")
	touch(t, dir, "w0.7071_x0_y0_z0.7071.jpeg")
	touch(t, dir, "notes.txt")
	touch(t, dir, "unlabelled.png")

	ix, err := LoadDir(dir)
	require.NoError(t, err)
	require.Equal(t, 3, ix.Len())

	s, d, err := ix.Nearest(rotation.Quat{-0.99, 0, 0, -0.1})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "w0_x1_y0_z0.png"), s.Path)
	assert.Less(t, d, 0.2)

	h := math.Sqrt(0.5)
	s, d, err = ix.Nearest(rotation.Quat{0, 0, h, h})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "w0.7071_x0_y0_z0.7071.jpeg"), s.Path)
	assert.InDelta(t, 0, d, 1e-4)
}

func TestNearestEmpty(t *testing.T) {
	_, _, err := (&Index{}).Nearest(rotation.Identity)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestLoadFallsBackToDirectory(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "w1_x0_y0_z0.png")

	ix, err := Load(filepath.Join(dir, "absent.csv"), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, ix.Len())

	csvPath := filepath.Join(dir, "rotations.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("x,y,z,w,filename\n0,1,0,0,r1.png\n0,0,1,0,r2.png\n"), 0o600))
	ix, err = Load(csvPath, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, ix.Len(), "csv wins when it has rows")

	_, err = Load("", t.TempDir())
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestListImagesSorted(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"c.JPG", "a.png", "b.jpeg", "d.gif"} {
		touch(t, dir, n)
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "e.png"), 0o700))

	names, err := ListImages(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.jpeg", "c.JPG"}, names)
}
