package operators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isopose/isopose/internal/tensor"
)

func TestReshapeInferAndCopy(t *testing.T) {
	x := tensor.MustFloat32(tensor.Shape{2, 3, 4}, make([]float32, 24))

	y := run(t, newCtx(13), &Node{OpType: "Reshape"}, x, i64(tensor.Shape{2}, 0, -1))
	assert.Equal(t, tensor.Shape{2, 12}, y.Shape())

	_, err := NewRegistry().Execute(newCtx(13), &Node{OpType: "Reshape"},
		[]*tensor.RawTensor{x, i64(tensor.Shape{2}, -1, -1)})
	assert.Error(t, err)
}

func TestFlatten(t *testing.T) {
	x := tensor.MustFloat32(tensor.Shape{1, 512, 1, 1}, make([]float32, 512))
	y := run(t, newCtx(13), &Node{OpType: "Flatten"}, x)
	assert.Equal(t, tensor.Shape{1, 512}, y.Shape())
}

func TestSqueezeUnsqueeze(t *testing.T) {
	x := tensor.MustFloat32(tensor.Shape{1, 3, 1}, []float32{1, 2, 3})

	y := run(t, newCtx(11), &Node{OpType: "Squeeze"}, x)
	assert.Equal(t, tensor.Shape{3}, y.Shape())

	y = run(t, newCtx(13), &Node{OpType: "Squeeze"}, x, i64(tensor.Shape{1}, -1))
	assert.Equal(t, tensor.Shape{1, 3}, y.Shape())

	node := &Node{OpType: "Unsqueeze", Attributes: []Attribute{{Name: "axes", Ints: []int64{0, 3}}}}
	y = run(t, newCtx(11), node, tensor.MustFloat32(tensor.Shape{2, 2}, make([]float32, 4)))
	assert.Equal(t, tensor.Shape{1, 2, 2, 1}, y.Shape())
}

func TestConcat(t *testing.T) {
	a := tensor.MustFloat32(tensor.Shape{2, 1}, []float32{1, 2})
	b := tensor.MustFloat32(tensor.Shape{2, 2}, []float32{3, 4, 5, 6})
	node := &Node{OpType: "Concat", Attributes: []Attribute{{Name: "axis", I: 1}}}

	y := run(t, newCtx(13), node, a, b)
	assert.Equal(t, tensor.Shape{2, 3}, y.Shape())
	assert.Equal(t, []float32{1, 3, 4, 2, 5, 6}, y.AsFloat32())

	shape := run(t, newCtx(13), &Node{OpType: "Concat", Attributes: []Attribute{{Name: "axis", I: 0}}},
		i64(tensor.Shape{1}, 1), i64(tensor.Shape{1}, -1))
	assert.Equal(t, []int64{1, -1}, shape.AsInt64())
}

func TestGather(t *testing.T) {
	x := tensor.MustFloat32(tensor.Shape{3, 2}, []float32{1, 2, 3, 4, 5, 6})

	y := run(t, newCtx(13), &Node{OpType: "Gather"}, x, i64(tensor.Shape{2}, 2, -3))
	assert.Equal(t, tensor.Shape{2, 2}, y.Shape())
	assert.Equal(t, []float32{5, 6, 1, 2}, y.AsFloat32())

	node := &Node{OpType: "Gather", Attributes: []Attribute{{Name: "axis", I: 1}}}
	y = run(t, newCtx(13), node, x, i64(tensor.Shape{}, 1))
	assert.Equal(t, tensor.Shape{3}, y.Shape())
	assert.Equal(t, []float32{2, 4, 6}, y.AsFloat32())

	_, err := NewRegistry().Execute(newCtx(13), &Node{OpType: "Gather"},
		[]*tensor.RawTensor{x, i64(tensor.Shape{1}, 3)})
	assert.Error(t, err)
}

func TestSlice(t *testing.T) {
	x := tensor.MustFloat32(tensor.Shape{2, 4}, []float32{1, 2, 3, 4, 5, 6, 7, 8})

	y := run(t, newCtx(13), &Node{OpType: "Slice"}, x,
		i64(tensor.Shape{1}, 1), i64(tensor.Shape{1}, 1<<62), i64(tensor.Shape{1}, 1))
	assert.Equal(t, tensor.Shape{2, 3}, y.Shape())
	assert.Equal(t, []float32{2, 3, 4, 6, 7, 8}, y.AsFloat32())

	// Reverse the last axis with a negative step.
	y = run(t, newCtx(13), &Node{OpType: "Slice"}, x,
		i64(tensor.Shape{1}, -1), i64(tensor.Shape{1}, -1<<62), i64(tensor.Shape{1}, -1), i64(tensor.Shape{1}, -1))
	assert.Equal(t, []float32{4, 3, 2, 1, 8, 7, 6, 5}, y.AsFloat32())

	legacy := &Node{OpType: "Slice", Attributes: []Attribute{
		{Name: "starts", Ints: []int64{0}},
		{Name: "ends", Ints: []int64{1}},
		{Name: "axes", Ints: []int64{0}},
	}}
	y = run(t, newCtx(9), legacy, x)
	assert.Equal(t, []float32{1, 2, 3, 4}, y.AsFloat32())
}

func TestShapeOp(t *testing.T) {
	x := tensor.MustFloat32(tensor.Shape{1, 3, 224, 224}, make([]float32, 3*224*224))

	y := run(t, newCtx(13), &Node{OpType: "Shape"}, x)
	assert.Equal(t, []int64{1, 3, 224, 224}, y.AsInt64())

	node := &Node{OpType: "Shape", Attributes: []Attribute{{Name: "start", I: -2}}}
	y = run(t, newCtx(15), node, x)
	assert.Equal(t, []int64{224, 224}, y.AsInt64())
}

func TestConstantAndCast(t *testing.T) {
	value := tensor.MustFloat32(tensor.Shape{2}, []float32{1.5, -2.5})
	c := run(t, newCtx(13), &Node{OpType: "Constant", Attributes: []Attribute{{Name: "value", T: value}}})
	assert.Same(t, value, c)

	ints := run(t, newCtx(13), &Node{OpType: "Constant", Attributes: []Attribute{{Name: "value_ints", Ints: []int64{4, 5}}}})
	assert.Equal(t, []int64{4, 5}, ints.AsInt64())

	cast := run(t, newCtx(13), &Node{OpType: "Cast", Attributes: []Attribute{{Name: "to", I: 7}}}, value)
	require.Equal(t, tensor.Int64, cast.DType())
	assert.Equal(t, []int64{1, -2}, cast.AsInt64())

	b := run(t, newCtx(13), &Node{OpType: "Cast", Attributes: []Attribute{{Name: "to", I: 9}}},
		tensor.MustFloat32(tensor.Shape{2}, []float32{0, 3}))
	assert.Equal(t, []int64{0, 1}, b.AsInt64())
}
