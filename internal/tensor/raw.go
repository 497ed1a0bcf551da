package tensor

import (
	"fmt"
	"math"
)

// RawTensor is a dense row-major tensor with runtime element type.
//
// Exactly one of the typed buffers is populated, selected by dtype. Tensors
// produced by Reshape share storage with their source; kernels never write
// into their inputs, so sharing is safe across concurrent forward passes.
type RawTensor struct {
	shape Shape
	dtype DataType
	f32   []float32
	i64   []int64
}

// NewRaw allocates a zero-filled tensor.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	t := &RawTensor{shape: shape.Clone(), dtype: dtype}
	switch dtype {
	case Float32:
		t.f32 = make([]float32, shape.NumElements())
	case Int64:
		t.i64 = make([]int64, shape.NumElements())
	default:
		return nil, fmt.Errorf("unsupported dtype %v", dtype)
	}
	return t, nil
}

// FromFloat32 wraps data as a float32 tensor. The slice is not copied.
func FromFloat32(shape Shape, data []float32) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}
	return &RawTensor{shape: shape.Clone(), dtype: Float32, f32: data}, nil
}

// FromInt64 wraps data as an int64 tensor. The slice is not copied.
func FromInt64(shape Shape, data []int64) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}
	return &RawTensor{shape: shape.Clone(), dtype: Int64, i64: data}, nil
}

// MustFloat32 is FromFloat32 that panics on shape mismatch. Intended for
// constants and tests.
func MustFloat32(shape Shape, data []float32) *RawTensor {
	t, err := FromFloat32(shape, data)
	if err != nil {
		panic(err)
	}
	return t
}

// Shape returns the tensor dimensions. Callers must not modify the result.
func (t *RawTensor) Shape() Shape { return t.shape }

// DType returns the element type.
func (t *RawTensor) DType() DataType { return t.dtype }

// NumElements returns the number of elements.
func (t *RawTensor) NumElements() int { return t.shape.NumElements() }

// Rank returns the number of dimensions.
func (t *RawTensor) Rank() int { return len(t.shape) }

// AsFloat32 returns the underlying float32 buffer.
func (t *RawTensor) AsFloat32() []float32 {
	if t.dtype != Float32 {
		panic(fmt.Sprintf("AsFloat32: tensor has dtype %v", t.dtype))
	}
	return t.f32
}

// AsInt64 returns the underlying int64 buffer.
func (t *RawTensor) AsInt64() []int64 {
	if t.dtype != Int64 {
		panic(fmt.Sprintf("AsInt64: tensor has dtype %v", t.dtype))
	}
	return t.i64
}

// Float32s returns the elements converted to float32, copying when the
// tensor is not already float32.
func (t *RawTensor) Float32s() []float32 {
	if t.dtype == Float32 {
		return t.f32
	}
	out := make([]float32, len(t.i64))
	for i, v := range t.i64 {
		out[i] = float32(v)
	}
	return out
}

// Int64s returns the elements converted to int64, truncating floats.
func (t *RawTensor) Int64s() []int64 {
	if t.dtype == Int64 {
		return t.i64
	}
	out := make([]int64, len(t.f32))
	for i, v := range t.f32 {
		out[i] = int64(v)
	}
	return out
}

// Reshape returns a view with a new shape and the same storage.
func (t *RawTensor) Reshape(shape Shape) (*RawTensor, error) {
	if shape.NumElements() != t.NumElements() {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v (%d elements)",
			t.shape, t.NumElements(), shape, shape.NumElements())
	}
	return &RawTensor{shape: shape.Clone(), dtype: t.dtype, f32: t.f32, i64: t.i64}, nil
}

// Clone returns a deep copy.
func (t *RawTensor) Clone() *RawTensor {
	c := &RawTensor{shape: t.shape.Clone(), dtype: t.dtype}
	if t.f32 != nil {
		c.f32 = append([]float32(nil), t.f32...)
	}
	if t.i64 != nil {
		c.i64 = append([]int64(nil), t.i64...)
	}
	return c
}

// Cast converts the tensor to dtype. Casting to the same type returns t.
func (t *RawTensor) Cast(dtype DataType) (*RawTensor, error) {
	if dtype == t.dtype {
		return t, nil
	}
	switch dtype {
	case Float32:
		return &RawTensor{shape: t.shape.Clone(), dtype: Float32, f32: t.Float32s()}, nil
	case Int64:
		return &RawTensor{shape: t.shape.Clone(), dtype: Int64, i64: t.Int64s()}, nil
	default:
		return nil, fmt.Errorf("unsupported cast target %v", dtype)
	}
}

// HasNaN reports whether a float32 tensor contains NaN or Inf.
func (t *RawTensor) HasNaN() bool {
	for _, v := range t.f32 {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return true
		}
	}
	return false
}

// String returns a short description, not the data.
func (t *RawTensor) String() string {
	return fmt.Sprintf("RawTensor(%v, %v)", t.dtype, t.shape)
}
