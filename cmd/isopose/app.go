package main

import (
	"fmt"
	"log/slog"

	"github.com/isopose/isopose/internal/backend/cpu"
	"github.com/isopose/isopose/internal/cache"
	"github.com/isopose/isopose/internal/config"
	"github.com/isopose/isopose/internal/metrics"
	"github.com/isopose/isopose/internal/onnx"
	"github.com/isopose/isopose/internal/parallel"
	"github.com/isopose/isopose/internal/policy"
	"github.com/isopose/isopose/internal/pose"
	"github.com/isopose/isopose/internal/service"
)

// app holds everything built from the configuration.
type app struct {
	svc     *service.Service
	est     *pose.Estimator
	store   cache.Store
	metrics *metrics.Metrics
}

func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func newBackend(c *config.Config) *cpu.CPUBackend {
	if c.Inference.Workers > 0 {
		return cpu.NewWithConfig(parallel.WithWorkers(c.Inference.Workers))
	}
	return cpu.New()
}

func loadOptions(c *config.Config) onnx.LoadOptions {
	opts := onnx.DefaultLoadOptions()
	opts.StrictMode = c.Models.Strict
	return opts
}

// appOptions selects what newApp builds.
type appOptions struct {
	metrics bool
	// requirePose turns a pose model failure into an error for commands
	// that cannot run without it.
	requirePose bool
	skipPolicy  bool
}

// newApp loads the models. A model that fails to load is logged and left
// unavailable so the remaining endpoints keep working.
func newApp(c *config.Config, log *slog.Logger, opts appOptions) (*app, error) {
	a := &app{}
	if opts.metrics && c.Metrics.Enabled {
		a.metrics = metrics.New()
	}

	store, err := cache.New(c.CacheOptions())
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	a.store = store

	backend := newBackend(c)
	var est service.PoseEstimator
	poseModel, err := onnx.Load(c.Models.Pose, backend, loadOptions(c))
	if err == nil {
		a.est, err = pose.NewEstimator(poseModel,
			pose.WithCache(store),
			pose.WithMetrics(a.metrics),
			pose.WithImageSize(c.Inference.ImageSize),
			pose.WithLogger(log),
		)
	}
	if err != nil {
		if opts.requirePose {
			a.Close()
			return nil, fmt.Errorf("pose model %s: %w", c.Models.Pose, err)
		}
		log.Error("pose model unavailable", "path", c.Models.Pose, "error", err)
	} else {
		est = a.est
		log.Info("pose model loaded", "path", c.Models.Pose, "nodes", poseModel.NodeCount())
	}

	var pol service.ActionPolicy
	if !opts.skipPolicy {
		if p := loadPolicy(c, backend, a.metrics, log); p != nil {
			pol = p
		}
	}

	a.svc = service.New(est, pol)
	return a, nil
}

func loadPolicy(c *config.Config, backend *cpu.CPUBackend, m *metrics.Metrics, log *slog.Logger) *policy.Policy {
	model, err := onnx.Load(c.Models.Policy, backend, loadOptions(c))
	var p *policy.Policy
	if err == nil {
		p, err = policy.New(model, policy.WithMetrics(m), policy.WithLogger(log))
	}
	if err != nil {
		log.Error("rl model unavailable", "path", c.Models.Policy, "error", err)
		return nil
	}
	log.Info("rl model loaded", "path", c.Models.Policy, "nodes", model.NodeCount())
	return p
}
