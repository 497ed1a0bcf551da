package operators

import (
	"fmt"

	"github.com/isopose/isopose/internal/tensor"
)

// registerUtilityOps adds utility operators to the registry.
func (r *Registry) registerUtilityOps() {
	r.Register("Identity", handleIdentity)
	r.Register("Dropout", handleIdentity)
	r.Register("Constant", handleConstant)
	r.Register("Cast", handleCast)
}

// handleIdentity passes the first input through. Dropout is the identity at
// inference time.
func handleIdentity(_ *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 1 || inputs[0] == nil {
		return nil, fmt.Errorf("identity requires 1 input")
	}
	return []*tensor.RawTensor{inputs[0]}, nil
}

func handleConstant(_ *Context, node *Node, _ []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if t := GetAttrTensor(node, "value"); t != nil {
		return []*tensor.RawTensor{t}, nil
	}
	switch {
	case HasAttr(node, "value_float"):
		return single(tensor.FromFloat32(tensor.Shape{}, []float32{GetAttrFloat(node, "value_float", 0)}))
	case HasAttr(node, "value_floats"):
		v := GetAttrFloats(node, "value_floats")
		return single(tensor.FromFloat32(tensor.Shape{len(v)}, append([]float32(nil), v...)))
	case HasAttr(node, "value_int"):
		return single(tensor.FromInt64(tensor.Shape{}, []int64{GetAttrInt(node, "value_int", 0)}))
	case HasAttr(node, "value_ints"):
		v := GetAttrInts(node, "value_ints")
		return single(tensor.FromInt64(tensor.Shape{len(v)}, append([]int64(nil), v...)))
	}
	return nil, fmt.Errorf("constant: no supported value attribute")
}

// ONNX element types accepted by Cast's "to" attribute.
const (
	castFloat   = 1
	castBool    = 9
	castFloat16 = 10
	castDouble  = 11
)

func handleCast(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("cast requires 1 input, got %d", len(inputs))
	}
	x := inputs[0]
	to := GetAttrInt(node, "to", castFloat)

	switch to {
	case castFloat, castDouble, castFloat16:
		return single(x.Cast(tensor.Float32))
	case castBool:
		src := x.Float32s()
		out := make([]int64, len(src))
		for i, v := range src {
			if v != 0 {
				out[i] = 1
			}
		}
		return single(tensor.FromInt64(x.Shape(), out))
	case 8, 14, 15, 16: // string, complex, bfloat16
		return nil, fmt.Errorf("cast: unsupported target type %d", to)
	default:
		return single(x.Cast(tensor.Int64))
	}
}
