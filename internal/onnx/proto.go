package onnx

// ModelProto is the top-level ONNX model container.
//
// Field numbers follow onnx.proto; only the subset needed to execute
// feed-forward inference graphs is decoded.
type ModelProto struct {
	IRVersion       int64               // 1
	ProducerName    string              // 2
	ProducerVersion string              // 3
	Domain          string              // 4
	ModelVersion    int64               // 5
	DocString       string              // 6
	Graph           *GraphProto         // 7
	OpsetImport     []OperatorSetID     // 8
	MetadataProps   []StringStringEntry // 14
}

// GraphProto is a computation graph.
type GraphProto struct {
	Nodes        []NodeProto      // 1
	Name         string           // 2
	Initializers []TensorProto    // 5
	DocString    string           // 10
	Inputs       []ValueInfoProto // 11
	Outputs      []ValueInfoProto // 12
	ValueInfo    []ValueInfoProto // 13
}

// NodeProto is a single operator invocation.
type NodeProto struct {
	Inputs     []string         // 1
	Outputs    []string         // 2
	Name       string           // 3
	OpType     string           // 4
	Attributes []AttributeProto // 5
	DocString  string           // 6
	Domain     string           // 7
}

// TensorProto holds a constant tensor (weights, Constant node values).
type TensorProto struct {
	Dims       []int64   // 1
	DataType   int32     // 2
	FloatData  []float32 // 4
	Int32Data  []int32   // 5
	Int64Data  []int64   // 7
	Name       string    // 8
	RawData    []byte    // 9
	DoubleData []float64 // 10
	DocString  string    // 12
}

// ValueInfoProto describes a graph input, output or intermediate value.
type ValueInfoProto struct {
	Name      string     // 1
	Type      *TypeProto // 2
	DocString string     // 3
}

// TypeProto wraps the tensor type; sequence and map types are not decoded.
type TypeProto struct {
	TensorType *TensorTypeProto // 1
}

// TensorTypeProto is an element type plus an optional shape.
type TensorTypeProto struct {
	ElemType int32             // 1
	Shape    *TensorShapeProto // 2
}

// TensorShapeProto lists dimensions.
type TensorShapeProto struct {
	Dims []DimensionProto // 1
}

// DimensionProto is either a fixed size or a symbolic name.
type DimensionProto struct {
	DimValue int64  // 1
	DimParam string // 2
}

// AttributeProto is a named operator attribute.
type AttributeProto struct {
	Name    string       // 1
	F       float32      // 2
	I       int64        // 3
	S       []byte       // 4
	T       *TensorProto // 5
	Floats  []float32    // 7
	Ints    []int64      // 8
	Strings [][]byte     // 9
	Type    int32        // 20
}

// OperatorSetID names an imported opset.
type OperatorSetID struct {
	Domain  string // 1
	Version int64  // 2
}

// StringStringEntry is a metadata key/value pair.
type StringStringEntry struct {
	Key   string // 1
	Value string // 2
}

// ONNX tensor element types (TensorProto.DataType).
const (
	TensorProtoUndefined  = 0
	TensorProtoFloat      = 1
	TensorProtoUint8      = 2
	TensorProtoInt8       = 3
	TensorProtoUint16     = 4
	TensorProtoInt16      = 5
	TensorProtoInt32      = 6
	TensorProtoInt64      = 7
	TensorProtoString     = 8
	TensorProtoBool       = 9
	TensorProtoFloat16    = 10
	TensorProtoDouble     = 11
	TensorProtoUint32     = 12
	TensorProtoUint64     = 13
	TensorProtoComplex64  = 14
	TensorProtoComplex128 = 15
	TensorProtoBfloat16   = 16
)

// ONNX attribute types (AttributeProto.AttributeType).
const (
	AttributeProtoUndefined = 0
	AttributeProtoFloat     = 1
	AttributeProtoInt       = 2
	AttributeProtoString    = 3
	AttributeProtoTensor    = 4
	AttributeProtoGraph     = 5
	AttributeProtoFloats    = 6
	AttributeProtoInts      = 7
	AttributeProtoStrings   = 8
)

// ElemTypeName returns the ONNX spelling of an element type, e.g. "tensor(float)".
func ElemTypeName(t int32) string {
	names := map[int32]string{
		TensorProtoFloat:      "float",
		TensorProtoUint8:      "uint8",
		TensorProtoInt8:       "int8",
		TensorProtoUint16:     "uint16",
		TensorProtoInt16:      "int16",
		TensorProtoInt32:      "int32",
		TensorProtoInt64:      "int64",
		TensorProtoString:     "string",
		TensorProtoBool:       "bool",
		TensorProtoFloat16:    "float16",
		TensorProtoDouble:     "double",
		TensorProtoUint32:     "uint32",
		TensorProtoUint64:     "uint64",
		TensorProtoComplex64:  "complex64",
		TensorProtoComplex128: "complex128",
		TensorProtoBfloat16:   "bfloat16",
	}
	if n, ok := names[t]; ok {
		return "tensor(" + n + ")"
	}
	return "tensor(undefined)"
}
