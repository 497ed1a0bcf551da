// Package pose turns images into orientation predictions with the pose
// regression model.
package pose

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/isopose/isopose/internal/cache"
	"github.com/isopose/isopose/internal/metrics"
	"github.com/isopose/isopose/internal/onnx"
	"github.com/isopose/isopose/internal/rotation"
	"github.com/isopose/isopose/internal/tensor"
)

// ErrNoImage reports a request without image data.
var ErrNoImage = errors.New("no image provided")

// DefaultImageSize is the square input resolution of the pose model.
const DefaultImageSize = 224

// Prediction is the orientation estimated for one image.
type Prediction struct {
	Quaternion rotation.Quat `json:"quaternion"`
	Euler      [3]float64    `json:"euler"`
}

// Estimator runs the pose model. Safe for concurrent use.
type Estimator struct {
	model   *onnx.Model
	input   string
	output  string
	size    int
	keyPref string
	cache   cache.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithCache memoizes predictions by image digest.
func WithCache(s cache.Store) Option {
	return func(e *Estimator) { e.cache = s }
}

// WithMetrics records inference latency and cache lookups.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Estimator) { e.metrics = m }
}

// WithImageSize overrides DefaultImageSize.
func WithImageSize(size int) Option {
	return func(e *Estimator) { e.size = size }
}

// WithLogger sets the logger used for cache failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Estimator) { e.logger = l }
}

// NewEstimator wraps a loaded pose model. The model's first input receives
// the image tensor and the first four values of its first output are read
// as [x, y, z, w].
func NewEstimator(model *onnx.Model, opts ...Option) (*Estimator, error) {
	if model == nil {
		return nil, errors.New("pose model is nil")
	}
	ins, outs := model.Inputs(), model.Outputs()
	if len(ins) == 0 || len(outs) == 0 {
		return nil, fmt.Errorf("pose model must have inputs and outputs, got %d and %d", len(ins), len(outs))
	}

	e := &Estimator{
		model:   model,
		input:   ins[0].Name,
		output:  outs[0].Name,
		size:    DefaultImageSize,
		keyPref: model.Fingerprint() + ":",
		cache:   cache.Nop{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if dims := ins[0].Dims; len(dims) == 4 {
		for _, d := range dims[2:] {
			if !d.Symbolic() && int(d.Value) != e.size {
				return nil, fmt.Errorf("pose model expects %s input, configured image size is %d", ins[0].ShapeString(), e.size)
			}
		}
	}
	return e, nil
}

// Predict estimates the orientation of img.
func (e *Estimator) Predict(ctx context.Context, img image.Image) (Prediction, error) {
	x, err := Preprocess(img, e.size)
	if err != nil {
		return Prediction{}, err
	}

	start := time.Now()
	out, err := e.model.ForwardContext(ctx, map[string]*tensor.RawTensor{e.input: x})
	e.metrics.ObserveInference("pose", time.Since(start))
	if err != nil {
		return Prediction{}, fmt.Errorf("pose inference: %w", err)
	}

	q, err := rotation.FromFloat32(out[e.output].Float32s())
	if err != nil {
		return Prediction{}, fmt.Errorf("pose output: %w", err)
	}
	q = rotation.Normalize(q)
	return Prediction{Quaternion: q, Euler: rotation.Euler(q)}, nil
}

// PredictBytes decodes an encoded image and predicts its orientation,
// consulting the cache by model fingerprint and SHA-256 of data.
func (e *Estimator) PredictBytes(ctx context.Context, data []byte) (Prediction, error) {
	sum := sha256.Sum256(data)
	key := e.keyPref + hex.EncodeToString(sum[:])

	if p, ok := e.lookup(ctx, key); ok {
		return p, nil
	}

	img, _, err := DecodeImage(data)
	if err != nil {
		return Prediction{}, err
	}
	p, err := e.Predict(ctx, img)
	if err != nil {
		return Prediction{}, err
	}

	if blob, err := json.Marshal(p); err == nil {
		if err := e.cache.Set(ctx, key, blob); err != nil {
			e.logger.Warn("failed to cache prediction", "key", key, "error", err)
		}
	}
	return p, nil
}

// PredictBase64 decodes a base64 (optionally data-URL) image and predicts
// its orientation.
func (e *Estimator) PredictBase64(ctx context.Context, s string) (Prediction, error) {
	data, err := DecodeBase64(s)
	if err != nil {
		return Prediction{}, err
	}
	return e.PredictBytes(ctx, data)
}

func (e *Estimator) lookup(ctx context.Context, key string) (Prediction, bool) {
	blob, ok, err := e.cache.Get(ctx, key)
	switch {
	case err != nil:
		e.metrics.CacheLookup(metrics.CacheError)
		e.logger.Warn("prediction cache lookup failed", "key", key, "error", err)
		return Prediction{}, false
	case !ok:
		e.metrics.CacheLookup(metrics.CacheMiss)
		return Prediction{}, false
	}

	var p Prediction
	if err := json.Unmarshal(blob, &p); err != nil {
		e.metrics.CacheLookup(metrics.CacheError)
		return Prediction{}, false
	}
	e.metrics.CacheLookup(metrics.CacheHit)
	return p, true
}
