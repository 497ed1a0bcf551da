// Package review runs the pose model over a directory of test renders and
// writes side-by-side comparisons with the nearest labelled sample.
package review

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/sync/errgroup"

	"github.com/isopose/isopose/internal/dataset"
	"github.com/isopose/isopose/internal/pose"
	"github.com/isopose/isopose/internal/rotation"
)

// Predictor is the subset of pose.Estimator used here.
type Predictor interface {
	Predict(ctx context.Context, img image.Image) (pose.Prediction, error)
}

// Result is the outcome for one test image.
type Result struct {
	Name       string
	Prediction pose.Prediction
	// Nearest is nil when no index was given.
	Nearest *dataset.Sample
	// NearestEuler is the Euler decomposition of Nearest.Quat.
	NearestEuler [3]float64
	Distance     float64
	// Composite is the written PNG path, empty when no output dir is set.
	Composite string
}

// Options configures a Runner.
type Options struct {
	Index   *dataset.Index
	OutDir  string
	Workers int
	Logger  *slog.Logger
}

// Runner performs batch inference.
type Runner struct {
	pred Predictor
	opts Options
}

// NewRunner returns a Runner. Workers defaults to 1.
func NewRunner(p Predictor, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{pred: p, opts: opts}
}

// Run predicts every image in dir, in name order. Results keep that order
// regardless of how the work is scheduled.
func (r *Runner) Run(ctx context.Context, dir string) ([]Result, error) {
	names, err := dataset.ListImages(dir)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no test images in %s", dir)
	}
	if r.opts.OutDir != "" {
		if err := os.MkdirAll(r.opts.OutDir, 0o755); err != nil {
			return nil, err
		}
	}

	results := make([]Result, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i, name := range names {
		g.Go(func() error {
			res, err := r.one(ctx, filepath.Join(dir, name))
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Runner) one(ctx context.Context, path string) (Result, error) {
	img, err := loadImage(path)
	if err != nil {
		return Result{}, err
	}
	p, err := r.pred.Predict(ctx, img)
	if err != nil {
		return Result{}, err
	}
	res := Result{Name: filepath.Base(path), Prediction: p}

	var nearestImg image.Image
	if r.opts.Index != nil && r.opts.Index.Len() > 0 {
		s, d, err := r.opts.Index.Nearest(p.Quaternion)
		if err != nil {
			return Result{}, err
		}
		res.Nearest, res.Distance = &s, d
		res.NearestEuler = rotation.Euler(s.Quat)
		nearestImg, err = loadImage(s.Path)
		if err != nil {
			r.opts.Logger.Warn("nearest image unreadable", "path", s.Path, "error", err)
			nearestImg = nil
		}
	}

	if r.opts.OutDir != "" {
		out := filepath.Join(r.opts.OutDir, strings.TrimSuffix(res.Name, filepath.Ext(res.Name))+"_review.png")
		if err := WritePNG(out, Composite(res.Name, img, nearestImg)); err != nil {
			return Result{}, err
		}
		res.Composite = out
	}
	return res, nil
}

func loadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, _, err := pose.DecodeImage(data)
	return img, err
}

// Report prints one block per result.
func Report(w io.Writer, results []Result) {
	for _, res := range results {
		fmt.Fprintf(w, "\n=== %s ===\n", res.Name)
		fmt.Fprintf(w, "Predicted quaternion [x, y, z, w]: %s\n", formatVec(res.Prediction.Quaternion[:]))
		fmt.Fprintf(w, "Predicted Euler angles [deg]: %s\n", formatVec(res.Prediction.Euler[:]))
		if res.Nearest != nil {
			fmt.Fprintf(w, "Closest dataset quaternion [x, y, z, w]: %s\n", formatVec(res.Nearest.Quat[:]))
			fmt.Fprintf(w, "Closest dataset Euler angles [deg]: %s\n", formatVec(res.NearestEuler[:]))
			fmt.Fprintf(w, "Closest dataset image: %s (distance %.4f)\n", res.Nearest.Path, res.Distance)
		}
		if res.Composite != "" {
			fmt.Fprintf(w, "Composite: %s\n", res.Composite)
		}
	}
}

func formatVec(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%.4f", x)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Panel is the edge length of each half of a composite.
const Panel = 256

const header = 20

// Composite draws test and nearest side by side under a title bar. A nil
// nearest leaves a placeholder panel.
func Composite(title string, test, nearest image.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, 2*Panel, Panel+header))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)

	label(dst, 4, 14, title)
	place(dst, test, 0, "Test")
	if nearest != nil {
		place(dst, nearest, Panel, "Closest dataset image")
	} else {
		label(dst, Panel+40, header+Panel/2, "No nearest-image available")
	}
	return dst
}

// place scales img to fit a panel, keeping its aspect ratio.
func place(dst *image.RGBA, img image.Image, x0 int, caption string) {
	b := img.Bounds()
	if b.Empty() {
		return
	}
	w, h := Panel, Panel-16
	if b.Dx()*h > b.Dy()*w {
		h = b.Dy() * w / b.Dx()
	} else {
		w = b.Dx() * h / b.Dy()
	}
	x := x0 + (Panel-w)/2
	y := header + 16 + (Panel-16-h)/2
	xdraw.BiLinear.Scale(dst, image.Rect(x, y, x+w, y+h), img, b, xdraw.Over, nil)
	label(dst, x0+4, header+12, caption)
}

func label(dst draw.Image, x, y int, s string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// WritePNG encodes img to path.
func WritePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
