package cpu

import (
	"fmt"
	"math"

	"github.com/isopose/isopose/internal/parallel"
	"github.com/isopose/isopose/internal/tensor"
)

// MaxPool2D takes the maximum over each window of an NCHW tensor. Padded
// positions never win.
func (cpu *CPUBackend) MaxPool2D(x *tensor.RawTensor, p tensor.Pool2DParams) (*tensor.RawTensor, error) {
	return cpu.pool2d("maxpool2d", x, p, func(vals []float32, _ int) float32 {
		m := float32(math.Inf(-1))
		for _, v := range vals {
			m = max(m, v)
		}
		return m
	})
}

// AvgPool2D averages each window of an NCHW tensor. The divisor counts pads
// only when CountIncludePad is set.
func (cpu *CPUBackend) AvgPool2D(x *tensor.RawTensor, p tensor.Pool2DParams) (*tensor.RawTensor, error) {
	return cpu.pool2d("avgpool2d", x, p, func(vals []float32, padded int) float32 {
		var sum float32
		for _, v := range vals {
			sum += v
		}
		n := len(vals)
		if p.CountIncludePad {
			n = padded
		}
		if n == 0 {
			return 0
		}
		return sum / float32(n)
	})
}

// pool2d walks every output position and hands reduce the in-bounds window
// values plus the window size clipped to the padded extent.
func (cpu *CPUBackend) pool2d(name string, x *tensor.RawTensor, p tensor.Pool2DParams,
	reduce func(vals []float32, padded int) float32,
) (*tensor.RawTensor, error) {
	if x.DType() != tensor.Float32 {
		return nil, fmt.Errorf("%s: unsupported dtype %v", name, x.DType())
	}
	xs := x.Shape()
	if len(xs) != 4 {
		return nil, fmt.Errorf("%s: input must be 4D [N,C,H,W], got %v", name, xs)
	}
	KH, KW := p.Kernel[0], p.Kernel[1]
	if KH <= 0 || KW <= 0 {
		return nil, fmt.Errorf("%s: invalid kernel %v", name, p.Kernel)
	}
	sh, sw := max(p.Strides[0], 1), max(p.Strides[1], 1)
	padT, padL, padB, padR := p.Pads[0], p.Pads[1], p.Pads[2], p.Pads[3]

	N, C, H, W := xs[0], xs[1], xs[2], xs[3]
	HOut := (H+padT+padB-KH)/sh + 1
	WOut := (W+padL+padR-KW)/sw + 1
	if HOut <= 0 || WOut <= 0 {
		return nil, fmt.Errorf("%s: invalid output dimensions: out_h=%d, out_w=%d", name, HOut, WOut)
	}

	src := x.AsFloat32()
	out := make([]float32, N*C*HOut*WOut)

	parallel.ForBatch(N, C, func(n, c int) {
		plane := src[(n*C+c)*H*W : (n*C+c+1)*H*W]
		dst := out[(n*C+c)*HOut*WOut : (n*C+c+1)*HOut*WOut]
		window := make([]float32, 0, KH*KW)
		for oh := 0; oh < HOut; oh++ {
			hStart := oh*sh - padT
			hEnd := min(hStart+KH, H+padB)
			for ow := 0; ow < WOut; ow++ {
				wStart := ow*sw - padL
				wEnd := min(wStart+KW, W+padR)
				window = window[:0]
				for ih := max(hStart, 0); ih < min(hEnd, H); ih++ {
					for iw := max(wStart, 0); iw < min(wEnd, W); iw++ {
						window = append(window, plane[ih*W+iw])
					}
				}
				dst[oh*WOut+ow] = reduce(window, (hEnd-hStart)*(wEnd-wStart))
			}
		}
	}, cpu.par)

	return tensor.FromFloat32(tensor.Shape{N, C, HOut, WOut}, out)
}

// GlobalAvgPool averages every spatial position: [N, C, ...] -> [N, C, 1, ...].
func (cpu *CPUBackend) GlobalAvgPool(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	if x.DType() != tensor.Float32 {
		return nil, fmt.Errorf("global_avgpool: unsupported dtype %v", x.DType())
	}
	xs := x.Shape()
	if len(xs) < 3 {
		return nil, fmt.Errorf("global_avgpool: input must be at least 3D, got %v", xs)
	}
	N, C := xs[0], xs[1]
	spatial := xs[2:].NumElements()
	src := x.AsFloat32()
	out := make([]float32, N*C)
	for i := range out {
		var sum float64
		for _, v := range src[i*spatial : (i+1)*spatial] {
			sum += float64(v)
		}
		if spatial > 0 {
			out[i] = float32(sum / float64(spatial))
		}
	}

	outShape := tensor.Shape{N, C}
	for range xs[2:] {
		outShape = append(outShape, 1)
	}
	return tensor.FromFloat32(outShape, out)
}
