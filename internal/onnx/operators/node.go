// Package operators provides ONNX operator implementations.
//
// Each operator is an OpHandler registered by its ONNX op_type. Handlers
// validate their inputs, read attributes through the GetAttr helpers and
// delegate the arithmetic to the tensor.Backend carried by the Context.
package operators

import (
	"github.com/isopose/isopose/internal/tensor"
)

// Node represents an ONNX operation node.
// This mirrors the executable fields of onnx.NodeProto so the onnx and
// operators packages do not import each other.
type Node struct {
	Name       string      // Node name (optional)
	OpType     string      // Operation type (e.g., "Conv", "MatMul", "Relu")
	Inputs     []string    // Input tensor names
	Outputs    []string    // Output tensor names
	Attributes []Attribute // Operation attributes
	Domain     string      // Custom domain (empty for default)
}

// Attribute represents a node attribute. Tensor attributes are converted
// once at load time.
type Attribute struct {
	Name    string
	Type    int32
	F       float32
	I       int64
	S       []byte
	T       *tensor.RawTensor
	Floats  []float32
	Ints    []int64
	Strings [][]byte
}

func (n *Node) attr(name string) *Attribute {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return &n.Attributes[i]
		}
	}
	return nil
}

// HasAttr reports whether the node carries the named attribute.
func HasAttr(node *Node, name string) bool {
	return node.attr(name) != nil
}

// GetAttrInt returns an integer attribute or default value.
func GetAttrInt(node *Node, name string, defaultVal int64) int64 {
	if a := node.attr(name); a != nil {
		return a.I
	}
	return defaultVal
}

// GetAttrInts returns an integer array attribute.
func GetAttrInts(node *Node, name string) []int64 {
	if a := node.attr(name); a != nil {
		return a.Ints
	}
	return nil
}

// GetAttrFloat returns a float attribute or default value.
func GetAttrFloat(node *Node, name string, defaultVal float32) float32 {
	if a := node.attr(name); a != nil {
		return a.F
	}
	return defaultVal
}

// GetAttrFloats returns a float array attribute.
func GetAttrFloats(node *Node, name string) []float32 {
	if a := node.attr(name); a != nil {
		return a.Floats
	}
	return nil
}

// GetAttrString returns a string attribute or default value.
func GetAttrString(node *Node, name, defaultVal string) string {
	if a := node.attr(name); a != nil {
		return string(a.S)
	}
	return defaultVal
}

// GetAttrTensor returns a tensor attribute or nil.
func GetAttrTensor(node *Node, name string) *tensor.RawTensor {
	if a := node.attr(name); a != nil {
		return a.T
	}
	return nil
}

func toInts(vals []int64) []int {
	out := make([]int, len(vals))
	for i, v := range vals {
		out[i] = int(v)
	}
	return out
}
