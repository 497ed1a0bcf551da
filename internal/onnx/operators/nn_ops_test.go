package operators

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/isopose/isopose/internal/tensor"
)

func TestConvPadsAndBias(t *testing.T) {
	x := tensor.MustFloat32(tensor.Shape{1, 1, 3, 3}, []float32{1, 1, 1, 1, 1, 1, 1, 1, 1})
	w := tensor.MustFloat32(tensor.Shape{1, 1, 3, 3}, []float32{1, 1, 1, 1, 1, 1, 1, 1, 1})
	b := tensor.MustFloat32(tensor.Shape{1}, []float32{0.5})
	node := &Node{OpType: "Conv", Attributes: []Attribute{
		{Name: "kernel_shape", Ints: []int64{3, 3}},
		{Name: "pads", Ints: []int64{1, 1, 1, 1}},
		{Name: "strides", Ints: []int64{2, 2}},
	}}

	y := run(t, newCtx(13), node, x, w, b)
	assert.Equal(t, tensor.Shape{1, 1, 2, 2}, y.Shape())
	assert.InDeltaSlice(t, []float32{4.5, 4.5, 4.5, 4.5}, y.AsFloat32(), 1e-5)
}

func TestConvAutoPadSameUpper(t *testing.T) {
	x := tensor.MustFloat32(tensor.Shape{1, 1, 4, 4}, make([]float32, 16))
	w := tensor.MustFloat32(tensor.Shape{2, 1, 3, 3}, make([]float32, 18))
	node := &Node{OpType: "Conv", Attributes: []Attribute{{Name: "auto_pad", S: []byte("SAME_UPPER")}}}

	y := run(t, newCtx(13), node, x, w)
	assert.Equal(t, tensor.Shape{1, 2, 4, 4}, y.Shape())
}

func TestResolvePadsSameLower(t *testing.T) {
	node := &Node{Attributes: []Attribute{{Name: "auto_pad", S: []byte("SAME_LOWER")}}}
	pads, err := resolvePads(node, tensor.Shape{1, 1, 5, 5}, [2]int{2, 2}, [2]int{1, 1}, [2]int{1, 1})
	assert.NoError(t, err)
	assert.Equal(t, [4]int{1, 1, 0, 0}, pads)
}

func TestBatchNormalization(t *testing.T) {
	x := tensor.MustFloat32(tensor.Shape{1, 1, 1, 2}, []float32{2, 4})
	one := tensor.MustFloat32(tensor.Shape{1}, []float32{1})
	zero := tensor.MustFloat32(tensor.Shape{1}, []float32{0})
	mean := tensor.MustFloat32(tensor.Shape{1}, []float32{3})
	node := &Node{OpType: "BatchNormalization", Attributes: []Attribute{{Name: "epsilon", F: 0}}}

	y := run(t, newCtx(13), node, x, one, zero, mean, one)
	assert.InDeltaSlice(t, []float32{-1, 1}, y.AsFloat32(), 1e-6)
}

func TestMaxPoolAndGlobalAverage(t *testing.T) {
	x := tensor.MustFloat32(tensor.Shape{1, 1, 4, 4}, []float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	})
	node := &Node{OpType: "MaxPool", Attributes: []Attribute{
		{Name: "kernel_shape", Ints: []int64{3, 3}},
		{Name: "strides", Ints: []int64{2, 2}},
		{Name: "pads", Ints: []int64{1, 1, 1, 1}},
	}}

	y := run(t, newCtx(13), node, x)
	assert.Equal(t, tensor.Shape{1, 1, 2, 2}, y.Shape())
	assert.Equal(t, []float32{6, 8, 14, 16}, y.AsFloat32())

	g := run(t, newCtx(13), &Node{OpType: "GlobalAveragePool"}, x)
	assert.Equal(t, tensor.Shape{1, 1, 1, 1}, g.Shape())
	assert.InDelta(t, 8.5, g.AsFloat32()[0], 1e-6)
}

func TestMaxPoolCeilModeRejected(t *testing.T) {
	x := tensor.MustFloat32(tensor.Shape{1, 1, 2, 2}, make([]float32, 4))
	node := &Node{OpType: "MaxPool", Attributes: []Attribute{
		{Name: "kernel_shape", Ints: []int64{2, 2}},
		{Name: "ceil_mode", I: 1},
	}}
	_, err := NewRegistry().Execute(newCtx(13), node, []*tensor.RawTensor{x})
	assert.ErrorContains(t, err, "ceil_mode")
}

func TestPoolDilationsRejected(t *testing.T) {
	x := tensor.MustFloat32(tensor.Shape{1, 1, 4, 4}, make([]float32, 16))
	for _, op := range []string{"MaxPool", "AveragePool"} {
		node := &Node{OpType: op, Attributes: []Attribute{
			{Name: "kernel_shape", Ints: []int64{2, 2}},
			{Name: "dilations", Ints: []int64{2, 2}},
		}}
		_, err := NewRegistry().Execute(newCtx(13), node, []*tensor.RawTensor{x})
		assert.ErrorContains(t, err, "dilations", op)
	}

	node := &Node{OpType: "MaxPool", Attributes: []Attribute{
		{Name: "kernel_shape", Ints: []int64{2, 2}},
		{Name: "dilations", Ints: []int64{1, 1}},
	}}
	y := run(t, newCtx(13), node, x)
	assert.Equal(t, tensor.Shape{1, 1, 3, 3}, y.Shape())
}

func TestReduceMeanOpsetForms(t *testing.T) {
	x := tensor.MustFloat32(tensor.Shape{1, 2, 2}, []float32{1, 3, 5, 7})

	attr := &Node{OpType: "ReduceMean", Attributes: []Attribute{
		{Name: "axes", Ints: []int64{-1}},
		{Name: "keepdims", I: 0},
	}}
	y := run(t, newCtx(13), attr, x)
	assert.Equal(t, tensor.Shape{1, 2}, y.Shape())
	assert.Equal(t, []float32{2, 6}, y.AsFloat32())

	y = run(t, newCtx(18), &Node{OpType: "ReduceMean"}, x, i64(tensor.Shape{1}, 1))
	assert.Equal(t, tensor.Shape{1, 1, 2}, y.Shape())
	assert.Equal(t, []float32{3, 5}, y.AsFloat32())
}
