package policy

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isopose/isopose/internal/backend/cpu"
	"github.com/isopose/isopose/internal/onnx"
	"github.com/isopose/isopose/internal/onnx/onnxtest"
	"github.com/isopose/isopose/internal/rotation"
)

func load(t *testing.T, w [3][16]float32, bias [3]float32) *Policy {
	t.Helper()
	model, err := onnx.LoadFromBytes(onnxtest.PolicyModel(w, bias), cpu.New())
	require.NoError(t, err)
	p, err := New(model)
	require.NoError(t, err)
	return p
}

func TestDecideUsesObservation(t *testing.T) {
	// action0 = angular velocity x, action1 = z-axis z, action2 = "up" slot.
	var w [3][16]float32
	w[0][4] = 1
	w[1][9] = 0.5
	w[2][10] = -0.25
	p := load(t, w, [3]float32{})

	d, err := p.Decide(context.Background(), rotation.Quat{0, 0, 0, 3}, [3]float64{0.3, 0, 0})
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float32{0.3, 0.5, -0.25}, d.Action[:], 1e-6)
	assert.InDeltaSlice(t, []float64{0, 0, 1}, d.ZAxis[:], 1e-9)
	assert.Equal(t, [6]float32{1, 0, 0, 0, 0, 0}, d.Orientation)
}

func TestDecideClipsToActionBox(t *testing.T) {
	p := load(t, [3][16]float32{}, [3]float32{5, -7, 0.5})

	d, err := p.Decide(context.Background(), rotation.Identity, [3]float64{})
	require.NoError(t, err)
	assert.Equal(t, [3]float32{1, -1, 0.5}, d.Action)
}

func TestDecideUpsideDown(t *testing.T) {
	p := load(t, [3][16]float32{}, [3]float32{})

	d, err := p.Decide(context.Background(), rotation.Quat{1, 0, 0, 0}, [3]float64{})
	require.NoError(t, err)
	assert.InDelta(t, -1, d.ZAxis[2], 1e-9)
	assert.Equal(t, [6]float32{0, 1, 0, 0, 0, 0}, d.Orientation)
}

func TestNewRejectsWrongObservationSize(t *testing.T) {
	data := onnxtest.New().
		Input("obs", onnxtest.Float, 1, 12).Output("actions", onnxtest.Float, 1, 12).
		Node("Identity", []string{"obs"}, []string{"actions"}).Bytes()
	model, err := onnx.LoadFromBytes(data, cpu.New())
	require.NoError(t, err)

	_, err = New(model)
	assert.ErrorContains(t, err, "want 16 values")
}

func TestDecideShortOutput(t *testing.T) {
	data := onnxtest.New().
		Input("obs", onnxtest.Float, 1, 16).Output("value", onnxtest.Float, 1, 1).
		Initializer("w", []int64{16, 1}, make([]float32, 16)).
		Node("MatMul", []string{"obs", "w"}, []string{"value"}).Bytes()
	model, err := onnx.LoadFromBytes(data, cpu.New())
	require.NoError(t, err)
	p, err := New(model)
	require.NoError(t, err)

	_, err = p.Decide(context.Background(), rotation.Identity, [3]float64{})
	assert.ErrorIs(t, err, rotation.ErrShape)
}

func TestClip(t *testing.T) {
	assert.Equal(t, float32(0), clip(float32(math.NaN())))
	assert.Equal(t, float32(1), clip(float32(math.Inf(1))))
	assert.Equal(t, float32(-0.25), clip(-0.25))
}
