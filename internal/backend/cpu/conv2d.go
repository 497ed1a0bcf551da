package cpu

import (
	"fmt"

	"github.com/isopose/isopose/internal/parallel"
	"github.com/isopose/isopose/internal/tensor"
)

// Conv2D performs grouped 2-D convolution using the im2col algorithm.
//
// Input shape:  [N, C, H, W]
// Weight shape: [M, C/group, KH, KW]
// Bias shape:   [M] (optional, may be nil)
// Output shape: [N, M, HOut, WOut]
//
// For every (image, group) pair the receptive fields are unrolled into a
// column matrix [C/group*KH*KW, HOut*WOut] and multiplied by the group's
// weights [M/group, C/group*KH*KW] with a single BLAS call. Pairs run in
// parallel.
func (cpu *CPUBackend) Conv2D(x, w, bias *tensor.RawTensor, p tensor.Conv2DParams) (*tensor.RawTensor, error) {
	if x.DType() != tensor.Float32 || w.DType() != tensor.Float32 {
		return nil, fmt.Errorf("conv2d: unsupported dtypes %v, %v", x.DType(), w.DType())
	}
	xs, ws := x.Shape(), w.Shape()
	if len(xs) != 4 {
		return nil, fmt.Errorf("conv2d: input must be 4D [N,C,H,W], got %v", xs)
	}
	if len(ws) != 4 {
		return nil, fmt.Errorf("conv2d: weight must be 4D [M,C,KH,KW], got %v", ws)
	}

	N, C, H, W := xs[0], xs[1], xs[2], xs[3]
	M, Cg, KH, KW := ws[0], ws[1], ws[2], ws[3]
	group := max(p.Group, 1)
	if Cg*group != C {
		return nil, fmt.Errorf("conv2d: input channels %d != weight channels %d * group %d", C, Cg, group)
	}
	if M%group != 0 {
		return nil, fmt.Errorf("conv2d: output channels %d not divisible by group %d", M, group)
	}
	if bias != nil && bias.NumElements() != M {
		return nil, fmt.Errorf("conv2d: bias has %d elements, want %d", bias.NumElements(), M)
	}

	p = normalizeConvParams(p)
	HOut := (H+p.Pads[0]+p.Pads[2]-(p.Dilations[0]*(KH-1)+1))/p.Strides[0] + 1
	WOut := (W+p.Pads[1]+p.Pads[3]-(p.Dilations[1]*(KW-1)+1))/p.Strides[1] + 1
	if HOut <= 0 || WOut <= 0 {
		return nil, fmt.Errorf("conv2d: invalid output dimensions: out_h=%d, out_w=%d (check stride/padding)", HOut, WOut)
	}

	xData, wData := x.AsFloat32(), w.AsFloat32()
	var bData []float32
	if bias != nil {
		bData = bias.Float32s()
	}

	Mg := M / group
	colRows := Cg * KH * KW
	colCols := HOut * WOut
	out := make([]float32, N*M*colCols)

	parallel.ForBatch(N, group, func(n, g int) {
		col := make([]float32, colRows*colCols)
		src := xData[(n*C+g*Cg)*H*W : (n*C+(g+1)*Cg)*H*W]
		im2col(col, src, Cg, H, W, KH, KW, HOut, WOut, p)

		dst := out[(n*M+g*Mg)*colCols : (n*M+(g+1)*Mg)*colCols]
		gemm32(Mg, colCols, colRows, wData[g*Mg*colRows:(g+1)*Mg*colRows], col, dst)

		if bData != nil {
			for oc := 0; oc < Mg; oc++ {
				b := bData[g*Mg+oc]
				row := dst[oc*colCols : (oc+1)*colCols]
				for i := range row {
					row[i] += b
				}
			}
		}
	}, cpu.par)

	return tensor.FromFloat32(tensor.Shape{N, M, HOut, WOut}, out)
}

// im2col unrolls one image's channels into col [C*KH*KW, HOut*WOut].
// Positions that fall into padding are zero.
func im2col(col, src []float32, C, H, W, KH, KW, HOut, WOut int, p tensor.Conv2DParams) {
	colCols := HOut * WOut
	for c := 0; c < C; c++ {
		plane := src[c*H*W : (c+1)*H*W]
		for kh := 0; kh < KH; kh++ {
			for kw := 0; kw < KW; kw++ {
				row := col[((c*KH+kh)*KW+kw)*colCols:]
				for oh := 0; oh < HOut; oh++ {
					ih := oh*p.Strides[0] - p.Pads[0] + kh*p.Dilations[0]
					base := oh * WOut
					if ih < 0 || ih >= H {
						clear(row[base : base+WOut])
						continue
					}
					for ow := 0; ow < WOut; ow++ {
						iw := ow*p.Strides[1] - p.Pads[1] + kw*p.Dilations[1]
						if iw < 0 || iw >= W {
							row[base+ow] = 0
						} else {
							row[base+ow] = plane[ih*W+iw]
						}
					}
				}
			}
		}
	}
}

func normalizeConvParams(p tensor.Conv2DParams) tensor.Conv2DParams {
	for i := range p.Strides {
		if p.Strides[i] <= 0 {
			p.Strides[i] = 1
		}
		if p.Dilations[i] <= 0 {
			p.Dilations[i] = 1
		}
	}
	return p
}
