package cpu

import (
	"math"
	"testing"

	"github.com/isopose/isopose/internal/parallel"
	"github.com/isopose/isopose/internal/tensor"
)

func assertClose(t *testing.T, got, want []float32, tol float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length: expected %d, got %d", len(want), len(got))
	}
	for i := range want {
		if float32(math.Abs(float64(got[i]-want[i]))) > tol {
			t.Errorf("Output[%d]: expected %.4f, got %.4f", i, want[i], got[i])
		}
	}
}

func seq(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i + 1)
	}
	return out
}

func fill(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// TestConv2D_BasicForward tests basic Conv2D forward pass.
func TestConv2D_BasicForward(t *testing.T) {
	backend := New()

	// 1 2 3
	// 4 5 6
	// 7 8 9
	input := tensor.MustFloat32(tensor.Shape{1, 1, 3, 3}, seq(9))
	// 1 0
	// 0 1
	kernel := tensor.MustFloat32(tensor.Shape{1, 1, 2, 2}, []float32{1, 0, 0, 1})

	output, err := backend.Conv2D(input, kernel, nil, tensor.Conv2DParams{})
	if err != nil {
		t.Fatalf("Conv2D: %v", err)
	}

	expectedShape := tensor.Shape{1, 1, 2, 2}
	if !output.Shape().Equal(expectedShape) {
		t.Fatalf("Expected shape %v, got %v", expectedShape, output.Shape())
	}
	assertClose(t, output.AsFloat32(), []float32{6, 8, 12, 14}, 1e-5)
}

// TestConv2D_WithPadding tests Conv2D with zero padding.
func TestConv2D_WithPadding(t *testing.T) {
	backend := New()

	input := tensor.MustFloat32(tensor.Shape{1, 1, 3, 3}, fill(9, 1))
	kernel := tensor.MustFloat32(tensor.Shape{1, 1, 3, 3}, fill(9, 1))

	output, err := backend.Conv2D(input, kernel, nil, tensor.Conv2DParams{Pads: [4]int{1, 1, 1, 1}})
	if err != nil {
		t.Fatalf("Conv2D: %v", err)
	}
	// Corners see 4 ones, edges 6, center 9.
	assertClose(t, output.AsFloat32(), []float32{4, 6, 4, 6, 9, 6, 4, 6, 4}, 1e-5)
}

func TestConv2D_StrideAndBias(t *testing.T) {
	backend := New()

	input := tensor.MustFloat32(tensor.Shape{1, 1, 4, 4}, seq(16))
	kernel := tensor.MustFloat32(tensor.Shape{1, 1, 1, 1}, []float32{2})
	bias := tensor.MustFloat32(tensor.Shape{1}, []float32{1})

	output, err := backend.Conv2D(input, kernel, bias, tensor.Conv2DParams{Strides: [2]int{2, 2}})
	if err != nil {
		t.Fatalf("Conv2D: %v", err)
	}
	if !output.Shape().Equal(tensor.Shape{1, 1, 2, 2}) {
		t.Fatalf("Expected shape [1 1 2 2], got %v", output.Shape())
	}
	// Samples 1, 3, 9, 11.
	assertClose(t, output.AsFloat32(), []float32{3, 7, 19, 23}, 1e-5)
}

func TestConv2D_Depthwise(t *testing.T) {
	backend := NewWithConfig(parallel.WithWorkers(2))

	input := tensor.MustFloat32(tensor.Shape{1, 2, 2, 2}, []float32{1, 1, 1, 1, 2, 2, 2, 2})
	kernel := tensor.MustFloat32(tensor.Shape{2, 1, 1, 1}, []float32{3, 5})

	output, err := backend.Conv2D(input, kernel, nil, tensor.Conv2DParams{Group: 2})
	if err != nil {
		t.Fatalf("Conv2D: %v", err)
	}
	assertClose(t, output.AsFloat32(), []float32{3, 3, 3, 3, 10, 10, 10, 10}, 1e-5)
}

func TestConv2D_Batch(t *testing.T) {
	backend := New()

	input := tensor.MustFloat32(tensor.Shape{2, 1, 2, 2}, []float32{1, 2, 3, 4, 5, 6, 7, 8})
	kernel := tensor.MustFloat32(tensor.Shape{1, 1, 2, 2}, fill(4, 1))

	output, err := backend.Conv2D(input, kernel, nil, tensor.Conv2DParams{})
	if err != nil {
		t.Fatalf("Conv2D: %v", err)
	}
	assertClose(t, output.AsFloat32(), []float32{10, 26}, 1e-5)
}

func TestConv2D_Errors(t *testing.T) {
	backend := New()

	input := tensor.MustFloat32(tensor.Shape{1, 3, 4, 4}, fill(48, 1))
	badChannels := tensor.MustFloat32(tensor.Shape{1, 2, 3, 3}, fill(18, 1))
	if _, err := backend.Conv2D(input, badChannels, nil, tensor.Conv2DParams{}); err == nil {
		t.Error("expected channel mismatch error")
	}

	tooBig := tensor.MustFloat32(tensor.Shape{1, 3, 5, 5}, fill(75, 1))
	if _, err := backend.Conv2D(input, tooBig, nil, tensor.Conv2DParams{}); err == nil {
		t.Error("expected invalid output dimensions error")
	}

	flat := tensor.MustFloat32(tensor.Shape{3, 4}, fill(12, 1))
	if _, err := backend.Conv2D(flat, badChannels, nil, tensor.Conv2DParams{}); err == nil {
		t.Error("expected rank error")
	}
}
