package cpu

import (
	"fmt"
	"math"

	"github.com/isopose/isopose/internal/tensor"
)

// Exp computes e^x element-wise.
func (cpu *CPUBackend) Exp(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return unaryFloat("exp", x, func(v float32) float32 { return float32(math.Exp(float64(v))) })
}

// Log computes the natural logarithm element-wise.
func (cpu *CPUBackend) Log(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return unaryFloat("log", x, func(v float32) float32 { return float32(math.Log(float64(v))) })
}

// Sqrt computes the square root element-wise.
func (cpu *CPUBackend) Sqrt(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return unaryFloat("sqrt", x, func(v float32) float32 { return float32(math.Sqrt(float64(v))) })
}

// Neg negates element-wise.
func (cpu *CPUBackend) Neg(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	if x.DType() == tensor.Int64 {
		return unaryInt("neg", x, func(v int64) int64 { return -v })
	}
	return unaryFloat("neg", x, func(v float32) float32 { return -v })
}

// Abs computes the absolute value element-wise.
func (cpu *CPUBackend) Abs(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	if x.DType() == tensor.Int64 {
		return unaryInt("abs", x, func(v int64) int64 {
			if v < 0 {
				return -v
			}
			return v
		})
	}
	return unaryFloat("abs", x, func(v float32) float32 { return float32(math.Abs(float64(v))) })
}

// Relu computes max(0, x).
func (cpu *CPUBackend) Relu(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return unaryFloat("relu", x, func(v float32) float32 { return max(v, 0) })
}

// LeakyRelu computes x for x >= 0 and alpha*x otherwise.
func (cpu *CPUBackend) LeakyRelu(x *tensor.RawTensor, alpha float32) (*tensor.RawTensor, error) {
	return unaryFloat("leaky_relu", x, func(v float32) float32 {
		if v < 0 {
			return alpha * v
		}
		return v
	})
}

// Sigmoid computes 1 / (1 + e^-x).
func (cpu *CPUBackend) Sigmoid(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return unaryFloat("sigmoid", x, func(v float32) float32 {
		return float32(1 / (1 + math.Exp(-float64(v))))
	})
}

// Tanh computes the hyperbolic tangent.
func (cpu *CPUBackend) Tanh(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return unaryFloat("tanh", x, func(v float32) float32 { return float32(math.Tanh(float64(v))) })
}

// Clip limits every element to [lo, hi].
func (cpu *CPUBackend) Clip(x *tensor.RawTensor, lo, hi float32) (*tensor.RawTensor, error) {
	if lo > hi {
		return nil, fmt.Errorf("clip: min %v greater than max %v", lo, hi)
	}
	if x.DType() == tensor.Int64 {
		l, h := floatToInt64(lo), floatToInt64(hi)
		return unaryInt("clip", x, func(v int64) int64 { return min(max(v, l), h) })
	}
	return unaryFloat("clip", x, func(v float32) float32 { return min(max(v, lo), hi) })
}

// Softmax normalizes exponentials along axis.
func (cpu *CPUBackend) Softmax(x *tensor.RawTensor, axis int) (*tensor.RawTensor, error) {
	if x.DType() != tensor.Float32 {
		return nil, fmt.Errorf("softmax: unsupported dtype %v", x.DType())
	}
	shape := x.Shape()
	axis, err := tensor.NormalizeAxis(axis, len(shape))
	if err != nil {
		return nil, fmt.Errorf("softmax: %w", err)
	}

	outer := shape[:axis].NumElements()
	dim := shape[axis]
	inner := shape[axis+1:].NumElements()

	src := x.AsFloat32()
	dst := make([]float32, len(src))
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			base := o*dim*inner + in
			maxVal := float32(math.Inf(-1))
			for d := 0; d < dim; d++ {
				maxVal = max(maxVal, src[base+d*inner])
			}
			var sum float64
			for d := 0; d < dim; d++ {
				e := math.Exp(float64(src[base+d*inner] - maxVal))
				dst[base+d*inner] = float32(e)
				sum += e
			}
			for d := 0; d < dim; d++ {
				dst[base+d*inner] = float32(float64(dst[base+d*inner]) / sum)
			}
		}
	}
	return tensor.FromFloat32(shape, dst)
}

// floatToInt64 converts a clip bound, saturating outside the int64 range.
func floatToInt64(v float32) int64 {
	switch {
	case float64(v) <= math.MinInt64:
		return math.MinInt64
	case float64(v) >= math.MaxInt64:
		return math.MaxInt64
	default:
		return int64(v)
	}
}

func unaryFloat(name string, x *tensor.RawTensor, f func(float32) float32) (*tensor.RawTensor, error) {
	if x.DType() != tensor.Float32 {
		return nil, fmt.Errorf("%s: unsupported dtype %v", name, x.DType())
	}
	src := x.AsFloat32()
	dst := make([]float32, len(src))
	for i, v := range src {
		dst[i] = f(v)
	}
	return tensor.FromFloat32(x.Shape(), dst)
}

func unaryInt(name string, x *tensor.RawTensor, f func(int64) int64) (*tensor.RawTensor, error) {
	if x.DType() != tensor.Int64 {
		return nil, fmt.Errorf("%s: unsupported dtype %v", name, x.DType())
	}
	src := x.AsInt64()
	dst := make([]int64, len(src))
	for i, v := range src {
		dst[i] = f(v)
	}
	return tensor.FromInt64(x.Shape(), dst)
}
