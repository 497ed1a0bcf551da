package onnx

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ParseFile parses an ONNX model from file.
//
//nolint:gosec // G304: model path is operator-supplied configuration.
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes an ONNX ModelProto from its protobuf wire encoding.
// Unknown fields are skipped.
func Parse(data []byte) (*ModelProto, error) {
	model := &ModelProto{}
	if err := parseModel(data, model); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	return model, nil
}

// field is one tag-prefixed protobuf field; b starts at the field value.
type field struct {
	num protowire.Number
	typ protowire.Type
	b   []byte
}

// walk calls fn for every top-level field of the message in b. fn returns the
// number of value bytes it consumed.
func walk(b []byte, fn func(f field) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(field{num: num, typ: typ, b: b})
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		b = b[m:]
	}
	return nil
}

func (f field) wireErr(want protowire.Type) error {
	return fmt.Errorf("unexpected wire type %d (want %d)", f.typ, want)
}

func (f field) skip() (int, error) {
	n := protowire.ConsumeFieldValue(f.num, f.typ, f.b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}

func (f field) varint() (uint64, int, error) {
	if f.typ != protowire.VarintType {
		return 0, 0, f.wireErr(protowire.VarintType)
	}
	v, n := protowire.ConsumeVarint(f.b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func (f field) bytes() ([]byte, int, error) {
	if f.typ != protowire.BytesType {
		return nil, 0, f.wireErr(protowire.BytesType)
	}
	v, n := protowire.ConsumeBytes(f.b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func (f field) str() (string, int, error) {
	v, n, err := f.bytes()
	return string(v), n, err
}

func (f field) float32() (float32, int, error) {
	if f.typ != protowire.Fixed32Type {
		return 0, 0, f.wireErr(protowire.Fixed32Type)
	}
	v, n := protowire.ConsumeFixed32(f.b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return math.Float32frombits(v), n, nil
}

// int64s appends a repeated varint field, packed or not.
func (f field) int64s(dst []int64) ([]int64, int, error) {
	if f.typ == protowire.VarintType {
		v, n, err := f.varint()
		return append(dst, int64(v)), n, err
	}
	packed, n, err := f.bytes()
	if err != nil {
		return dst, 0, err
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeVarint(packed)
		if m < 0 {
			return dst, 0, protowire.ParseError(m)
		}
		dst = append(dst, int64(v))
		packed = packed[m:]
	}
	return dst, n, nil
}

// float32s appends a repeated float field, packed or not.
func (f field) float32s(dst []float32) ([]float32, int, error) {
	if f.typ == protowire.Fixed32Type {
		v, n, err := f.float32()
		return append(dst, v), n, err
	}
	packed, n, err := f.bytes()
	if err != nil {
		return dst, 0, err
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeFixed32(packed)
		if m < 0 {
			return dst, 0, protowire.ParseError(m)
		}
		dst = append(dst, math.Float32frombits(v))
		packed = packed[m:]
	}
	return dst, n, nil
}

// float64s appends a repeated double field, packed or not.
func (f field) float64s(dst []float64) ([]float64, int, error) {
	if f.typ == protowire.Fixed64Type {
		v, n := protowire.ConsumeFixed64(f.b)
		if n < 0 {
			return dst, 0, protowire.ParseError(n)
		}
		return append(dst, math.Float64frombits(v)), n, nil
	}
	packed, n, err := f.bytes()
	if err != nil {
		return dst, 0, err
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeFixed64(packed)
		if m < 0 {
			return dst, 0, protowire.ParseError(m)
		}
		dst = append(dst, math.Float64frombits(v))
		packed = packed[m:]
	}
	return dst, n, nil
}

// message decodes an embedded message with parse.
func message[T any](f field, parse func([]byte, *T) error) (T, int, error) {
	var msg T
	data, n, err := f.bytes()
	if err != nil {
		return msg, 0, err
	}
	return msg, n, parse(data, &msg)
}

func parseModel(b []byte, m *ModelProto) error {
	return walk(b, func(f field) (int, error) {
		switch f.num {
		case 1:
			v, n, err := f.varint()
			m.IRVersion = int64(v)
			return n, err
		case 2:
			v, n, err := f.str()
			m.ProducerName = v
			return n, err
		case 3:
			v, n, err := f.str()
			m.ProducerVersion = v
			return n, err
		case 4:
			v, n, err := f.str()
			m.Domain = v
			return n, err
		case 5:
			v, n, err := f.varint()
			m.ModelVersion = int64(v)
			return n, err
		case 6:
			v, n, err := f.str()
			m.DocString = v
			return n, err
		case 7:
			g, n, err := message(f, parseGraph)
			m.Graph = &g
			return n, err
		case 8:
			op, n, err := message(f, parseOpset)
			m.OpsetImport = append(m.OpsetImport, op)
			return n, err
		case 14:
			e, n, err := message(f, parseStringEntry)
			m.MetadataProps = append(m.MetadataProps, e)
			return n, err
		}
		return f.skip()
	})
}

func parseGraph(b []byte, g *GraphProto) error {
	return walk(b, func(f field) (int, error) {
		switch f.num {
		case 1:
			node, n, err := message(f, parseNode)
			g.Nodes = append(g.Nodes, node)
			return n, err
		case 2:
			v, n, err := f.str()
			g.Name = v
			return n, err
		case 5:
			t, n, err := message(f, parseTensor)
			g.Initializers = append(g.Initializers, t)
			return n, err
		case 10:
			v, n, err := f.str()
			g.DocString = v
			return n, err
		case 11:
			vi, n, err := message(f, parseValueInfo)
			g.Inputs = append(g.Inputs, vi)
			return n, err
		case 12:
			vi, n, err := message(f, parseValueInfo)
			g.Outputs = append(g.Outputs, vi)
			return n, err
		case 13:
			vi, n, err := message(f, parseValueInfo)
			g.ValueInfo = append(g.ValueInfo, vi)
			return n, err
		}
		return f.skip()
	})
}

func parseNode(b []byte, node *NodeProto) error {
	return walk(b, func(f field) (int, error) {
		switch f.num {
		case 1:
			v, n, err := f.str()
			node.Inputs = append(node.Inputs, v)
			return n, err
		case 2:
			v, n, err := f.str()
			node.Outputs = append(node.Outputs, v)
			return n, err
		case 3:
			v, n, err := f.str()
			node.Name = v
			return n, err
		case 4:
			v, n, err := f.str()
			node.OpType = v
			return n, err
		case 5:
			a, n, err := message(f, parseAttribute)
			node.Attributes = append(node.Attributes, a)
			return n, err
		case 6:
			v, n, err := f.str()
			node.DocString = v
			return n, err
		case 7:
			v, n, err := f.str()
			node.Domain = v
			return n, err
		}
		return f.skip()
	})
}

func parseTensor(b []byte, t *TensorProto) error {
	return walk(b, func(f field) (n int, err error) {
		switch f.num {
		case 1:
			t.Dims, n, err = f.int64s(t.Dims)
			return n, err
		case 2:
			v, n, err := f.varint()
			t.DataType = int32(v)
			return n, err
		case 4:
			t.FloatData, n, err = f.float32s(t.FloatData)
			return n, err
		case 5:
			var vals []int64
			vals, n, err = f.int64s(nil)
			for _, v := range vals {
				t.Int32Data = append(t.Int32Data, int32(v))
			}
			return n, err
		case 7:
			t.Int64Data, n, err = f.int64s(t.Int64Data)
			return n, err
		case 8:
			v, n, err := f.str()
			t.Name = v
			return n, err
		case 9:
			v, n, err := f.bytes()
			t.RawData = v
			return n, err
		case 10:
			t.DoubleData, n, err = f.float64s(t.DoubleData)
			return n, err
		case 12:
			v, n, err := f.str()
			t.DocString = v
			return n, err
		}
		return f.skip()
	})
}

func parseValueInfo(b []byte, vi *ValueInfoProto) error {
	return walk(b, func(f field) (int, error) {
		switch f.num {
		case 1:
			v, n, err := f.str()
			vi.Name = v
			return n, err
		case 2:
			tp, n, err := message(f, parseType)
			vi.Type = &tp
			return n, err
		case 3:
			v, n, err := f.str()
			vi.DocString = v
			return n, err
		}
		return f.skip()
	})
}

func parseType(b []byte, tp *TypeProto) error {
	return walk(b, func(f field) (int, error) {
		if f.num == 1 {
			tt, n, err := message(f, parseTensorType)
			tp.TensorType = &tt
			return n, err
		}
		return f.skip()
	})
}

func parseTensorType(b []byte, tt *TensorTypeProto) error {
	return walk(b, func(f field) (int, error) {
		switch f.num {
		case 1:
			v, n, err := f.varint()
			tt.ElemType = int32(v)
			return n, err
		case 2:
			s, n, err := message(f, parseShape)
			tt.Shape = &s
			return n, err
		}
		return f.skip()
	})
}

func parseShape(b []byte, s *TensorShapeProto) error {
	return walk(b, func(f field) (int, error) {
		if f.num == 1 {
			d, n, err := message(f, parseDimension)
			s.Dims = append(s.Dims, d)
			return n, err
		}
		return f.skip()
	})
}

func parseDimension(b []byte, d *DimensionProto) error {
	return walk(b, func(f field) (int, error) {
		switch f.num {
		case 1:
			v, n, err := f.varint()
			d.DimValue = int64(v)
			return n, err
		case 2:
			v, n, err := f.str()
			d.DimParam = v
			return n, err
		}
		return f.skip()
	})
}

func parseAttribute(b []byte, a *AttributeProto) error {
	return walk(b, func(f field) (n int, err error) {
		switch f.num {
		case 1:
			v, n, err := f.str()
			a.Name = v
			return n, err
		case 2:
			a.F, n, err = f.float32()
			return n, err
		case 3:
			v, n, err := f.varint()
			a.I = int64(v)
			return n, err
		case 4:
			a.S, n, err = f.bytes()
			return n, err
		case 5:
			t, n, err := message(f, parseTensor)
			a.T = &t
			return n, err
		case 7:
			a.Floats, n, err = f.float32s(a.Floats)
			return n, err
		case 8:
			a.Ints, n, err = f.int64s(a.Ints)
			return n, err
		case 9:
			v, n, err := f.bytes()
			a.Strings = append(a.Strings, v)
			return n, err
		case 20:
			v, n, err := f.varint()
			a.Type = int32(v)
			return n, err
		}
		return f.skip()
	})
}

func parseOpset(b []byte, op *OperatorSetID) error {
	return walk(b, func(f field) (int, error) {
		switch f.num {
		case 1:
			v, n, err := f.str()
			op.Domain = v
			return n, err
		case 2:
			v, n, err := f.varint()
			op.Version = int64(v)
			return n, err
		}
		return f.skip()
	})
}

func parseStringEntry(b []byte, e *StringStringEntry) error {
	return walk(b, func(f field) (int, error) {
		switch f.num {
		case 1:
			v, n, err := f.str()
			e.Key = v
			return n, err
		case 2:
			v, n, err := f.str()
			e.Value = v
			return n, err
		}
		return f.skip()
	})
}
