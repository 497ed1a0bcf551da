package cpu

import (
	"fmt"
	"math"

	"github.com/isopose/isopose/internal/tensor"
)

// BatchNorm applies inference-mode batch normalization over axis 1:
//
//	y = scale * (x - mean) / sqrt(variance + eps) + bias
func (cpu *CPUBackend) BatchNorm(x, scale, bias, mean, variance *tensor.RawTensor, eps float32) (*tensor.RawTensor, error) {
	if x.DType() != tensor.Float32 {
		return nil, fmt.Errorf("batchnorm: unsupported dtype %v", x.DType())
	}
	xs := x.Shape()
	if len(xs) < 2 {
		return nil, fmt.Errorf("batchnorm: input must be at least 2D, got %v", xs)
	}
	N, C := xs[0], xs[1]
	for _, p := range []*tensor.RawTensor{scale, bias, mean, variance} {
		if p.NumElements() != C {
			return nil, fmt.Errorf("batchnorm: parameter has %d elements, want %d", p.NumElements(), C)
		}
	}

	s, b, m, v := scale.Float32s(), bias.Float32s(), mean.Float32s(), variance.Float32s()
	mul := make([]float32, C)
	add := make([]float32, C)
	for c := 0; c < C; c++ {
		mul[c] = s[c] / float32(math.Sqrt(float64(v[c]+eps)))
		add[c] = b[c] - m[c]*mul[c]
	}

	spatial := xs[2:].NumElements()
	src := x.AsFloat32()
	dst := make([]float32, len(src))
	for n := 0; n < N; n++ {
		for c := 0; c < C; c++ {
			off := (n*C + c) * spatial
			for i := off; i < off+spatial; i++ {
				dst[i] = src[i]*mul[c] + add[c]
			}
		}
	}
	return tensor.FromFloat32(xs, dst)
}

// ReduceMean averages over axes. Empty axes reduce every dimension.
func (cpu *CPUBackend) ReduceMean(x *tensor.RawTensor, axes []int, keepDims bool) (*tensor.RawTensor, error) {
	if x.DType() != tensor.Float32 {
		return nil, fmt.Errorf("reduce_mean: unsupported dtype %v", x.DType())
	}
	shape := x.Shape()
	rank := len(shape)

	reduced := make([]bool, rank)
	if len(axes) == 0 {
		for i := range reduced {
			reduced[i] = true
		}
	}
	for _, a := range axes {
		ax, err := tensor.NormalizeAxis(a, rank)
		if err != nil {
			return nil, fmt.Errorf("reduce_mean: %w", err)
		}
		reduced[ax] = true
	}

	kept := make(tensor.Shape, rank)
	var squeezed tensor.Shape
	for i, d := range shape {
		if reduced[i] {
			kept[i] = 1
			continue
		}
		kept[i] = d
		squeezed = append(squeezed, d)
	}

	outStr := tensor.BroadcastStrides(kept, shape)
	src := x.AsFloat32()
	sums := make([]float64, kept.NumElements())
	idx := make([]int, rank)
	oi := 0
	for i := range src {
		sums[oi] += float64(src[i])
		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			oi += outStr[d]
			if idx[d] < shape[d] {
				break
			}
			oi -= outStr[d] * shape[d]
			idx[d] = 0
		}
	}

	out := make([]float32, len(sums))
	if len(sums) > 0 {
		count := float64(len(src) / len(sums))
		for i, s := range sums {
			if count > 0 {
				out[i] = float32(s / count)
			}
		}
	}

	if keepDims {
		return tensor.FromFloat32(kept, out)
	}
	if squeezed == nil {
		squeezed = tensor.Shape{}
	}
	return tensor.FromFloat32(squeezed, out)
}
