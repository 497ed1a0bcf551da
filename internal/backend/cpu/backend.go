// Package cpu implements the CPU inference backend.
//
// Dense products (MatMul, Gemm, the im2col step of Conv2D) are delegated to
// gonum's BLAS. Per-image and per-channel loops are spread over a bounded
// worker pool from internal/parallel.
package cpu

import (
	"github.com/isopose/isopose/internal/parallel"
	"github.com/isopose/isopose/internal/tensor"
)

var _ tensor.Backend = (*CPUBackend)(nil)

// CPUBackend implements tensor.Backend on the host CPU.
type CPUBackend struct {
	par parallel.Config
}

// New creates a CPU backend using all available cores.
func New() *CPUBackend {
	return &CPUBackend{par: parallel.DefaultConfig()}
}

// NewWithConfig creates a CPU backend with an explicit parallelism config.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{par: cfg}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "cpu"
}
