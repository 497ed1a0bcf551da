package operators

import (
	"fmt"

	"github.com/isopose/isopose/internal/tensor"
)

// registerMathOps adds math operators to the registry.
func (r *Registry) registerMathOps() {
	r.Register("Add", binaryOp("add", tensor.Backend.Add))
	r.Register("Sub", binaryOp("sub", tensor.Backend.Sub))
	r.Register("Mul", binaryOp("mul", tensor.Backend.Mul))
	r.Register("Div", binaryOp("div", tensor.Backend.Div))
	r.Register("Pow", binaryOp("pow", tensor.Backend.Pow))
	r.Register("MatMul", binaryOp("matMul", tensor.Backend.MatMul))
	r.Register("Gemm", handleGemm)
	r.Register("Sum", handleSum)
	r.Register("Sqrt", unaryOp("sqrt", tensor.Backend.Sqrt))
	r.Register("Exp", unaryOp("exp", tensor.Backend.Exp))
	r.Register("Log", unaryOp("log", tensor.Backend.Log))
	r.Register("Neg", unaryOp("neg", tensor.Backend.Neg))
	r.Register("Abs", unaryOp("abs", tensor.Backend.Abs))
}

// binaryOp adapts a two-input backend kernel to an OpHandler.
func binaryOp(name string, kernel func(tensor.Backend, *tensor.RawTensor, *tensor.RawTensor) (*tensor.RawTensor, error)) OpHandler {
	return func(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		if len(inputs) != 2 || inputs[0] == nil || inputs[1] == nil {
			return nil, fmt.Errorf("%s requires 2 inputs, got %d", name, len(inputs))
		}
		return single(kernel(ctx.Backend, inputs[0], inputs[1]))
	}
}

// unaryOp adapts a one-input backend kernel to an OpHandler.
func unaryOp(name string, kernel func(tensor.Backend, *tensor.RawTensor) (*tensor.RawTensor, error)) OpHandler {
	return func(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		if len(inputs) != 1 || inputs[0] == nil {
			return nil, fmt.Errorf("%s requires 1 input, got %d", name, len(inputs))
		}
		return single(kernel(ctx.Backend, inputs[0]))
	}
}

// handleGemm implements General Matrix Multiplication: Y = alpha*A'*B' + beta*C.
func handleGemm(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 2 {
		return nil, fmt.Errorf("gemm requires at least 2 inputs, got %d", len(inputs))
	}

	alpha := GetAttrFloat(node, "alpha", 1.0)
	beta := GetAttrFloat(node, "beta", 1.0)
	transA := GetAttrInt(node, "transA", 0) != 0
	transB := GetAttrInt(node, "transB", 0) != 0

	a, b := inputs[0], inputs[1]
	if a.Rank() != 2 || b.Rank() != 2 {
		return nil, fmt.Errorf("gemm requires 2D inputs, got %v and %v", a.Shape(), b.Shape())
	}

	var err error
	if transA {
		if a, err = ctx.Backend.Transpose(a, nil); err != nil {
			return nil, err
		}
	}
	if transB {
		if b, err = ctx.Backend.Transpose(b, nil); err != nil {
			return nil, err
		}
	}

	y, err := ctx.Backend.MatMul(a, b)
	if err != nil {
		return nil, err
	}
	if alpha != 1 {
		if y, err = ctx.Backend.Mul(y, scalar(alpha)); err != nil {
			return nil, err
		}
	}

	if c := optional(inputs, 2); c != nil && beta != 0 {
		if beta != 1 {
			if c, err = ctx.Backend.Mul(c, scalar(beta)); err != nil {
				return nil, err
			}
		}
		if y, err = ctx.Backend.Add(y, c); err != nil {
			return nil, err
		}
	}
	return []*tensor.RawTensor{y}, nil
}

func handleSum(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("sum requires at least 1 input")
	}
	acc := inputs[0]
	for _, in := range inputs[1:] {
		var err error
		if acc, err = ctx.Backend.Add(acc, in); err != nil {
			return nil, err
		}
	}
	return []*tensor.RawTensor{acc}, nil
}

func scalar(v float32) *tensor.RawTensor {
	return tensor.MustFloat32(tensor.Shape{}, []float32{v})
}
