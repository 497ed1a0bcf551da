package operators

import (
	"fmt"

	"github.com/isopose/isopose/internal/tensor"
)

// registerNNOps adds convolutional network operators to the registry.
func (r *Registry) registerNNOps() {
	r.Register("Conv", handleConv)
	r.Register("BatchNormalization", handleBatchNorm)
	r.Register("MaxPool", handleMaxPool)
	r.Register("AveragePool", handleAveragePool)
	r.Register("GlobalAveragePool", handleGlobalAveragePool)
	r.Register("ReduceMean", handleReduceMean)
}

// handleConv implements 2-D Conv: Y = conv(X, W) + B.
func handleConv(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 2 {
		return nil, fmt.Errorf("conv requires at least 2 inputs, got %d", len(inputs))
	}
	x, w := inputs[0], inputs[1]
	if x.Rank() != 4 || w.Rank() != 4 {
		return nil, fmt.Errorf("conv: only 2D convolution is supported, got input %v weight %v", x.Shape(), w.Shape())
	}

	ws := w.Shape()
	kernel := [2]int{ws[2], ws[3]}
	if ks := GetAttrInts(node, "kernel_shape"); len(ks) == 2 {
		kernel = [2]int{int(ks[0]), int(ks[1])}
	}

	p := tensor.Conv2DParams{
		Strides:   pair(GetAttrInts(node, "strides"), 1),
		Dilations: pair(GetAttrInts(node, "dilations"), 1),
		Group:     int(GetAttrInt(node, "group", 1)),
	}
	pads, err := resolvePads(node, x.Shape(), kernel, p.Strides, p.Dilations)
	if err != nil {
		return nil, fmt.Errorf("conv: %w", err)
	}
	p.Pads = pads

	return single(ctx.Backend.Conv2D(x, w, optional(inputs, 2), p))
}

func handleBatchNorm(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 5 {
		return nil, fmt.Errorf("batchNormalization requires 5 inputs, got %d", len(inputs))
	}
	eps := GetAttrFloat(node, "epsilon", 1e-5)
	return single(ctx.Backend.BatchNorm(inputs[0], inputs[1], inputs[2], inputs[3], inputs[4], eps))
}

func handleMaxPool(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	p, err := poolParams("maxPool", node, inputs)
	if err != nil {
		return nil, err
	}
	return single(ctx.Backend.MaxPool2D(inputs[0], p))
}

func handleAveragePool(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	p, err := poolParams("averagePool", node, inputs)
	if err != nil {
		return nil, err
	}
	p.CountIncludePad = GetAttrInt(node, "count_include_pad", 0) != 0
	return single(ctx.Backend.AvgPool2D(inputs[0], p))
}

func handleGlobalAveragePool(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("globalAveragePool requires 1 input, got %d", len(inputs))
	}
	return single(ctx.Backend.GlobalAvgPool(inputs[0]))
}

// handleReduceMean reads axes from the attribute before opset 18 and from
// the optional second input after.
func handleReduceMean(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 1 {
		return nil, fmt.Errorf("reduceMean requires at least 1 input")
	}
	axes := toInts(axesOf(node, inputs, 1))
	if len(axes) == 0 && GetAttrInt(node, "noop_with_empty_axes", 0) != 0 {
		return []*tensor.RawTensor{inputs[0]}, nil
	}
	keep := GetAttrInt(node, "keepdims", 1) != 0
	return single(ctx.Backend.ReduceMean(inputs[0], axes, keep))
}

func poolParams(name string, node *Node, inputs []*tensor.RawTensor) (tensor.Pool2DParams, error) {
	if len(inputs) != 1 {
		return tensor.Pool2DParams{}, fmt.Errorf("%s requires 1 input, got %d", name, len(inputs))
	}
	if inputs[0].Rank() != 4 {
		return tensor.Pool2DParams{}, fmt.Errorf("%s: only 2D pooling is supported, got %v", name, inputs[0].Shape())
	}
	if GetAttrInt(node, "ceil_mode", 0) != 0 {
		return tensor.Pool2DParams{}, fmt.Errorf("%s: ceil_mode is not supported", name)
	}
	ks := GetAttrInts(node, "kernel_shape")
	if len(ks) != 2 {
		return tensor.Pool2DParams{}, fmt.Errorf("%s: kernel_shape must have 2 values, got %v", name, ks)
	}

	if d := pair(GetAttrInts(node, "dilations"), 1); d != [2]int{1, 1} {
		return tensor.Pool2DParams{}, fmt.Errorf("%s: dilations %v are not supported", name, d)
	}

	p := tensor.Pool2DParams{
		Kernel:  [2]int{int(ks[0]), int(ks[1])},
		Strides: pair(GetAttrInts(node, "strides"), 1),
	}
	pads, err := resolvePads(node, inputs[0].Shape(), p.Kernel, p.Strides, [2]int{1, 1})
	if err != nil {
		return tensor.Pool2DParams{}, fmt.Errorf("%s: %w", name, err)
	}
	p.Pads = pads
	return p, nil
}

// resolvePads returns [top, left, bottom, right] from explicit pads or the
// auto_pad attribute.
func resolvePads(node *Node, xs tensor.Shape, kernel, strides, dilations [2]int) ([4]int, error) {
	var pads [4]int
	switch mode := GetAttrString(node, "auto_pad", "NOTSET"); mode {
	case "NOTSET", "":
		if p := GetAttrInts(node, "pads"); p != nil {
			if len(p) != 4 {
				return pads, fmt.Errorf("pads must have 4 values, got %v", p)
			}
			// ONNX order is [x1_begin, x2_begin, x1_end, x2_end].
			pads = [4]int{int(p[0]), int(p[1]), int(p[2]), int(p[3])}
		}
	case "VALID":
	case "SAME_UPPER", "SAME_LOWER":
		for i := 0; i < 2; i++ {
			in := xs[2+i]
			out := (in + strides[i] - 1) / strides[i]
			total := max((out-1)*strides[i]+(kernel[i]-1)*dilations[i]+1-in, 0)
			small, large := total/2, total-total/2
			if mode == "SAME_UPPER" {
				pads[i], pads[i+2] = small, large
			} else {
				pads[i], pads[i+2] = large, small
			}
		}
	default:
		return pads, fmt.Errorf("unsupported auto_pad %q", mode)
	}
	return pads, nil
}

func pair(vals []int64, def int) [2]int {
	if len(vals) == 2 {
		return [2]int{int(vals[0]), int(vals[1])}
	}
	return [2]int{def, def}
}
