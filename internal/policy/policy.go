// Package policy runs the exported reinforcement-learning controller that
// maps an orientation and angular velocity to a torque action.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/isopose/isopose/internal/metrics"
	"github.com/isopose/isopose/internal/onnx"
	"github.com/isopose/isopose/internal/rotation"
	"github.com/isopose/isopose/internal/tensor"
)

// ActionSize is the number of torque components.
const ActionSize = 3

// Bounds of the action box.
const (
	ActionLow  = -1
	ActionHigh = 1
)

// Decision is the policy output for one state.
type Decision struct {
	Action      [ActionSize]float32 `json:"action"`
	ZAxis       [3]float64          `json:"z_axis"`
	Orientation [6]float32          `json:"orientation"`
}

// Policy evaluates the deterministic (mean) action of the exported policy
// network. Safe for concurrent use.
type Policy struct {
	model   *onnx.Model
	input   string
	output  string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Policy.
type Option func(*Policy)

// WithMetrics records inference latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Policy) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) { p.logger = l }
}

// New wraps a loaded policy model. The first input receives the [1, 16]
// observation; the first output carries the action.
func New(model *onnx.Model, opts ...Option) (*Policy, error) {
	if model == nil {
		return nil, errors.New("policy model is nil")
	}
	ins, outs := model.Inputs(), model.Outputs()
	if len(ins) == 0 || len(outs) == 0 {
		return nil, fmt.Errorf("policy model must have inputs and outputs, got %d and %d", len(ins), len(outs))
	}
	if dims := ins[0].Dims; len(dims) > 0 {
		if last := dims[len(dims)-1]; !last.Symbolic() && last.Value != rotation.ObservationSize {
			return nil, fmt.Errorf("policy model expects observation %s, want %d values", ins[0].ShapeString(), rotation.ObservationSize)
		}
	}

	p := &Policy{
		model:  model,
		input:  ins[0].Name,
		output: outs[0].Name,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Decide builds the observation for q and angVel, runs the policy and clips
// the first three outputs to the action box.
func (p *Policy) Decide(ctx context.Context, q rotation.Quat, angVel [3]float64) (Decision, error) {
	q = rotation.Normalize(q)
	obs := rotation.Observation(q, angVel)

	x, err := tensor.FromFloat32(tensor.Shape{1, rotation.ObservationSize}, obs[:])
	if err != nil {
		return Decision{}, err
	}

	start := time.Now()
	out, err := p.model.ForwardContext(ctx, map[string]*tensor.RawTensor{p.input: x})
	p.metrics.ObserveInference("policy", time.Since(start))
	if err != nil {
		return Decision{}, fmt.Errorf("policy inference: %w", err)
	}

	raw := out[p.output].Float32s()
	if len(raw) < ActionSize {
		return Decision{}, fmt.Errorf("policy output has %d values, want %d: %w", len(raw), ActionSize, rotation.ErrShape)
	}

	d := Decision{
		ZAxis: rotation.ZAxis(q),
	}
	d.Orientation = rotation.OrientationOneHot(d.ZAxis)
	for i := range d.Action {
		d.Action[i] = clip(raw[i])
	}
	p.logger.Debug("policy decision", "action", d.Action, "orientation", d.Orientation)
	return d, nil
}

func clip(v float32) float32 {
	switch {
	case v != v:
		return 0
	case v < ActionLow:
		return ActionLow
	case v > ActionHigh:
		return ActionHigh
	}
	return v
}
