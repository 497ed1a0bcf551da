// Package tensor provides the dense tensor type shared by the ONNX executor
// and the CPU kernels.
//
// Tensors are row-major and typed at runtime. Only the element types needed
// by exported vision and control graphs are stored natively: float32 for
// activations and weights, int64 for shapes, indices and axes. Other ONNX
// element types are converted on load.
package tensor

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types for tensors.
const (
	Float32 DataType = iota
	Int64
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	case Int64:
		return 8
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Int64:
		return "int64"
	default:
		return "unknown"
	}
}
