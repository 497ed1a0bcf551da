package onnx

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isopose/isopose/internal/backend/cpu"
	"github.com/isopose/isopose/internal/onnx/onnxtest"
	"github.com/isopose/isopose/internal/onnx/operators"
	"github.com/isopose/isopose/internal/tensor"
)

func TestForwardNamedAdd(t *testing.T) {
	model, err := LoadFromBytes(onnxtest.AddModel(), cpu.New())
	require.NoError(t, err)

	x := tensor.MustFloat32(tensor.Shape{2, 2}, []float32{1, 2, 3, 4})
	y := tensor.MustFloat32(tensor.Shape{2, 2}, []float32{10, 20, 30, 40})

	out, err := model.ForwardNamed(map[string]*tensor.RawTensor{"X": x, "Y": y})
	require.NoError(t, err)
	assert.Equal(t, []float32{11, 22, 33, 44}, out["Z"].AsFloat32())

	_, err = model.Forward(x)
	assert.ErrorContains(t, err, "use ForwardNamed")

	_, err = model.ForwardNamed(map[string]*tensor.RawTensor{"X": x})
	assert.ErrorContains(t, err, "missing input: Y")
}

func TestForwardChecksStaticDims(t *testing.T) {
	model, err := LoadFromBytes(onnxtest.PoseModel([4]float32{0, 0, 0, 1}), cpu.New())
	require.NoError(t, err)

	_, err = model.Forward(tensor.MustFloat32(tensor.Shape{1, 3, 8, 8}, make([]float32, 3*64)))
	assert.ErrorContains(t, err, "expected shape [batch_size 3 224 224]")

	_, err = model.Forward(tensor.MustFloat32(tensor.Shape{3, 224, 224}, make([]float32, 3*224*224)))
	assert.ErrorContains(t, err, "expected rank 4")
}

func TestPoseModelForward(t *testing.T) {
	quat := [4]float32{0.1, 0.2, 0.3, 0.9}
	model, err := LoadFromBytes(onnxtest.PoseModel(quat), cpu.New())
	require.NoError(t, err)

	in := model.Inputs()[0]
	shape := in.ConcreteShape(1)
	assert.Equal(t, tensor.Shape{1, 3, 224, 224}, shape)

	x, err := tensor.NewRaw(shape, tensor.Float32)
	require.NoError(t, err)
	data := x.AsFloat32()
	for i := range data {
		data[i] = float32(i%7) / 7
	}

	y, err := model.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 4}, y.Shape())
	assert.InDeltaSlice(t, quat[:], y.AsFloat32(), 1e-6)
}

func TestForwardConcurrent(t *testing.T) {
	var w [3][16]float32
	w[0][0], w[1][1], w[2][2] = 1, 2, 3
	model, err := LoadFromBytes(onnxtest.PolicyModel(w, [3]float32{}), cpu.New())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			obs := make([]float32, 16)
			obs[0], obs[1], obs[2] = float32(g), float32(g), float32(g)
			y, err := model.Forward(tensor.MustFloat32(tensor.Shape{1, 16}, obs))
			if err != nil {
				errs <- err
				return
			}
			got := y.AsFloat32()
			if got[0] != float32(g) || got[1] != 2*float32(g) || got[2] != 3*float32(g) {
				errs <- assert.AnError
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestForwardContextCanceled(t *testing.T) {
	model, err := LoadFromBytes(onnxtest.AddModel(), cpu.New())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	x := tensor.MustFloat32(tensor.Shape{2, 2}, make([]float32, 4))
	_, err = model.ForwardContext(ctx, map[string]*tensor.RawTensor{"X": x, "Y": x})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestForwardRecoversPanics(t *testing.T) {
	data := onnxtest.New().
		Input("X", onnxtest.Float, 1).Output("Y", onnxtest.Float, 1).
		Node("Boom", []string{"X"}, []string{"Y"}).
		Bytes()
	boom := func(*operators.Context, *operators.Node, []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		panic("index out of range")
	}

	model, err := LoadFromBytes(data, cpu.New(), LoadOptions{CustomOps: map[string]operators.OpHandler{"Boom": boom}})
	require.NoError(t, err)

	_, err = model.Forward(tensor.MustFloat32(tensor.Shape{1}, []float32{0}))
	assert.ErrorContains(t, err, "Boom")
	assert.ErrorContains(t, err, "panic")
}

func TestConstantAttributeTensor(t *testing.T) {
	data := onnxtest.New().
		Input("X", onnxtest.Float, 2).Output("Y", onnxtest.Float, 2).
		Node("Constant", nil, []string{"c"}, onnxtest.Tensor("value", []int64{2}, []float32{0.5, 0.25})).
		Node("Mul", []string{"X", "c"}, []string{"Y"}).
		Bytes()

	model, err := LoadFromBytes(data, cpu.New())
	require.NoError(t, err)

	y, err := model.Forward(tensor.MustFloat32(tensor.Shape{2}, []float32{4, 4}))
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 1}, y.AsFloat32())
}

func TestModelMetadata(t *testing.T) {
	data := onnxtest.New().Producer("tf2onnx", "1.16").Metadata("dataset", "isotope").
		Input("X", onnxtest.Float, 1).Output("Y", onnxtest.Float, 1).
		Node("Identity", []string{"X"}, []string{"Y"}).Bytes()

	model, err := LoadFromBytes(data, cpu.New())
	require.NoError(t, err)

	meta := model.Metadata()
	assert.Equal(t, "tf2onnx", meta["producer_name"])
	assert.Equal(t, "isotope", meta["dataset"])
	assert.Equal(t, int64(13), model.OpsetVersion())
	assert.Equal(t, 1, model.NodeCount())
	assert.Equal(t, []string{"Y"}, model.OutputNames())
}
