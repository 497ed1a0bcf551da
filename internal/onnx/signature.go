package onnx

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/isopose/isopose/internal/tensor"
)

// Dim is one declared dimension: a fixed size, or a symbolic name such as
// "batch_size" when Value is zero.
type Dim struct {
	Value int64
	Param string
}

// Symbolic reports whether the dimension has no fixed size.
func (d Dim) Symbolic() bool {
	return d.Value <= 0
}

func (d Dim) String() string {
	switch {
	case !d.Symbolic():
		return strconv.FormatInt(d.Value, 10)
	case d.Param != "":
		return d.Param
	default:
		return "?"
	}
}

// ValueInfo is the declared signature of a graph input or output.
type ValueInfo struct {
	Name     string
	ElemType int32
	Dims     []Dim
}

// TypeName returns the element type in "tensor(float)" form.
func (v ValueInfo) TypeName() string {
	return ElemTypeName(v.ElemType)
}

// ShapeString renders the dims as "[1 3 224 224]" with symbolic names kept.
func (v ValueInfo) ShapeString() string {
	parts := make([]string, len(v.Dims))
	for i, d := range v.Dims {
		parts[i] = d.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// ConcreteShape substitutes fill for every symbolic dimension.
func (v ValueInfo) ConcreteShape(fill int) tensor.Shape {
	shape := make(tensor.Shape, len(v.Dims))
	for i, d := range v.Dims {
		if d.Symbolic() {
			shape[i] = fill
		} else {
			shape[i] = int(d.Value)
		}
	}
	return shape
}

// check verifies t against the fixed dimensions of v. Symbolic dimensions
// and undeclared shapes accept anything.
func (v ValueInfo) check(t *tensor.RawTensor) error {
	if v.Dims == nil {
		return nil
	}
	shape := t.Shape()
	if len(shape) != len(v.Dims) {
		return fmt.Errorf("input %s: expected rank %d %s, got shape %v", v.Name, len(v.Dims), v.ShapeString(), shape)
	}
	for i, d := range v.Dims {
		if !d.Symbolic() && int64(shape[i]) != d.Value {
			return fmt.Errorf("input %s: expected shape %s, got %v", v.Name, v.ShapeString(), shape)
		}
	}
	return nil
}

func valueInfoFromProto(p *ValueInfoProto) ValueInfo {
	v := ValueInfo{Name: p.Name}
	if p.Type == nil || p.Type.TensorType == nil {
		return v
	}
	v.ElemType = p.Type.TensorType.ElemType
	if s := p.Type.TensorType.Shape; s != nil {
		v.Dims = make([]Dim, len(s.Dims))
		for i, d := range s.Dims {
			v.Dims[i] = Dim{Value: d.DimValue, Param: d.DimParam}
		}
	}
	return v
}

func names(vs []ValueInfo) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Name
	}
	return out
}
