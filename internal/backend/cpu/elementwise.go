package cpu

import (
	"fmt"
	"math"

	"github.com/isopose/isopose/internal/tensor"
)

type number interface {
	~float32 | ~int64
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	return binary("add", a, b,
		func(x, y float32) float32 { return x + y },
		func(x, y int64) int64 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	return binary("sub", a, b,
		func(x, y float32) float32 { return x - y },
		func(x, y int64) int64 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	return binary("mul", a, b,
		func(x, y float32) float32 { return x * y },
		func(x, y int64) int64 { return x * y })
}

// Div performs element-wise division with broadcasting. Integer division by
// zero yields zero.
func (cpu *CPUBackend) Div(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	return binary("div", a, b,
		func(x, y float32) float32 { return x / y },
		func(x, y int64) int64 {
			if y == 0 {
				return 0
			}
			return x / y
		})
}

// Pow raises a to the power b element-wise.
func (cpu *CPUBackend) Pow(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	return binary("pow", a, b,
		func(x, y float32) float32 { return float32(math.Pow(float64(x), float64(y))) },
		func(x, y int64) int64 { return int64(math.Pow(float64(x), float64(y))) })
}

func binary(name string, a, b *tensor.RawTensor,
	f32 func(x, y float32) float32, i64 func(x, y int64) int64,
) (*tensor.RawTensor, error) {
	outShape, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	if a.DType() == tensor.Int64 && b.DType() == tensor.Int64 {
		data := broadcastApply(a.AsInt64(), b.AsInt64(), a.Shape(), b.Shape(), outShape, i64)
		return tensor.FromInt64(outShape, data)
	}

	// Mixed operands are promoted to float32.
	data := broadcastApply(a.Float32s(), b.Float32s(), a.Shape(), b.Shape(), outShape, f32)
	return tensor.FromFloat32(outShape, data)
}

// broadcastApply evaluates f over the broadcast of a and b into out.
func broadcastApply[T number](a, b []T, aShape, bShape, out tensor.Shape, f func(x, y T) T) []T {
	n := out.NumElements()
	res := make([]T, n)

	switch {
	case aShape.Equal(bShape):
		for i := range res {
			res[i] = f(a[i], b[i])
		}
		return res
	case len(b) == 1 && aShape.Equal(out):
		for i := range res {
			res[i] = f(a[i], b[0])
		}
		return res
	case len(a) == 1 && bShape.Equal(out):
		for i := range res {
			res[i] = f(a[0], b[i])
		}
		return res
	}

	aStr := tensor.BroadcastStrides(aShape, out)
	bStr := tensor.BroadcastStrides(bShape, out)
	idx := make([]int, len(out))
	ai, bi := 0, 0
	for i := 0; i < n; i++ {
		res[i] = f(a[ai], b[bi])
		for d := len(out) - 1; d >= 0; d-- {
			idx[d]++
			ai += aStr[d]
			bi += bStr[d]
			if idx[d] < out[d] {
				break
			}
			ai -= aStr[d] * out[d]
			bi -= bStr[d] * out[d]
			idx[d] = 0
		}
	}
	return res
}
