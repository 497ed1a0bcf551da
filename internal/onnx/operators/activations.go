package operators

import (
	"fmt"
	"math"

	"github.com/isopose/isopose/internal/tensor"
)

// registerActivations adds activation operators to the registry.
func (r *Registry) registerActivations() {
	r.Register("Relu", unaryOp("relu", tensor.Backend.Relu))
	r.Register("Sigmoid", unaryOp("sigmoid", tensor.Backend.Sigmoid))
	r.Register("Tanh", unaryOp("tanh", tensor.Backend.Tanh))
	r.Register("LeakyRelu", handleLeakyRelu)
	r.Register("Softmax", handleSoftmax)
	r.Register("Clip", handleClip)
}

func handleLeakyRelu(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("leakyRelu requires 1 input, got %d", len(inputs))
	}
	alpha := GetAttrFloat(node, "alpha", 0.01)
	return single(ctx.Backend.LeakyRelu(inputs[0], alpha))
}

// handleSoftmax applies softmax along axis. Before opset 13 the input is
// coerced to 2D at axis (default 1) and normalized over the flattened tail.
func handleSoftmax(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("softmax requires 1 input, got %d", len(inputs))
	}
	x := inputs[0]

	if ctx.Opset >= 13 {
		return single(ctx.Backend.Softmax(x, int(GetAttrInt(node, "axis", -1))))
	}

	shape := x.Shape()
	axis, err := tensor.NormalizeAxis(int(GetAttrInt(node, "axis", 1)), len(shape))
	if err != nil {
		return nil, fmt.Errorf("softmax: %w", err)
	}
	flat, err := x.Reshape(tensor.Shape{shape[:axis].NumElements(), shape[axis:].NumElements()})
	if err != nil {
		return nil, err
	}
	y, err := ctx.Backend.Softmax(flat, 1)
	if err != nil {
		return nil, err
	}
	return single(y.Reshape(shape))
}

// handleClip limits values to [min, max]. Opset 11+ passes the bounds as
// optional inputs; older opsets use attributes.
func handleClip(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 1 || inputs[0] == nil {
		return nil, fmt.Errorf("clip requires at least 1 input, got %d", len(inputs))
	}

	lo := float32(-math.MaxFloat32)
	hi := float32(math.MaxFloat32)

	if ctx.Opset >= 11 || len(inputs) > 1 {
		if t := optional(inputs, 1); t != nil {
			if t.NumElements() != 1 {
				return nil, fmt.Errorf("clip: min must be a scalar, got %v", t.Shape())
			}
			lo = t.Float32s()[0]
		}
		if t := optional(inputs, 2); t != nil {
			if t.NumElements() != 1 {
				return nil, fmt.Errorf("clip: max must be a scalar, got %v", t.Shape())
			}
			hi = t.Float32s()[0]
		}
	} else {
		lo = GetAttrFloat(node, "min", lo)
		hi = GetAttrFloat(node, "max", hi)
	}

	return single(ctx.Backend.Clip(inputs[0], lo, hi))
}
