package onnx

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/isopose/isopose/internal/tensor"
)

// tensorFromProto converts a TensorProto into a RawTensor.
//
// Floating point element types become float32; integer and bool types become
// int64. RawData takes precedence over the typed repeated fields.
func tensorFromProto(p *TensorProto) (*tensor.RawTensor, error) {
	shape := make(tensor.Shape, len(p.Dims))
	for i, d := range p.Dims {
		if d < 0 {
			return nil, fmt.Errorf("tensor %q: negative dimension %d", p.Name, d)
		}
		shape[i] = int(d)
	}
	n := shape.NumElements()

	switch p.DataType {
	case TensorProtoFloat, TensorProtoDouble:
		data, err := floatData(p, n)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", p.Name, err)
		}
		return tensor.FromFloat32(shape, data)
	case TensorProtoInt64, TensorProtoInt32, TensorProtoInt16, TensorProtoInt8,
		TensorProtoUint8, TensorProtoUint16, TensorProtoUint32, TensorProtoUint64, TensorProtoBool:
		data, err := intData(p, n)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", p.Name, err)
		}
		return tensor.FromInt64(shape, data)
	default:
		return nil, fmt.Errorf("tensor %q: unsupported data type %s", p.Name, ElemTypeName(p.DataType))
	}
}

func floatData(p *TensorProto, n int) ([]float32, error) {
	out := make([]float32, n)
	switch {
	case len(p.RawData) > 0 && p.DataType == TensorProtoDouble:
		if len(p.RawData) != n*8 {
			return nil, fmt.Errorf("raw data has %d bytes, want %d", len(p.RawData), n*8)
		}
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(p.RawData[i*8:])))
		}
	case len(p.RawData) > 0:
		if len(p.RawData) != n*4 {
			return nil, fmt.Errorf("raw data has %d bytes, want %d", len(p.RawData), n*4)
		}
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(p.RawData[i*4:]))
		}
	case len(p.FloatData) > 0:
		if len(p.FloatData) != n {
			return nil, fmt.Errorf("float_data has %d values, want %d", len(p.FloatData), n)
		}
		copy(out, p.FloatData)
	case len(p.DoubleData) > 0:
		if len(p.DoubleData) != n {
			return nil, fmt.Errorf("double_data has %d values, want %d", len(p.DoubleData), n)
		}
		for i, v := range p.DoubleData {
			out[i] = float32(v)
		}
	case n > 0:
		return nil, fmt.Errorf("no data for %d elements", n)
	}
	return out, nil
}

func intData(p *TensorProto, n int) ([]int64, error) {
	out := make([]int64, n)
	if len(p.RawData) > 0 {
		width := rawWidth(p.DataType)
		if len(p.RawData) != n*width {
			return nil, fmt.Errorf("raw data has %d bytes, want %d", len(p.RawData), n*width)
		}
		for i := range out {
			b := p.RawData[i*width:]
			switch p.DataType {
			case TensorProtoInt64, TensorProtoUint64:
				out[i] = int64(binary.LittleEndian.Uint64(b))
			case TensorProtoInt32:
				out[i] = int64(int32(binary.LittleEndian.Uint32(b)))
			case TensorProtoUint32:
				out[i] = int64(binary.LittleEndian.Uint32(b))
			case TensorProtoInt16:
				out[i] = int64(int16(binary.LittleEndian.Uint16(b)))
			case TensorProtoUint16:
				out[i] = int64(binary.LittleEndian.Uint16(b))
			case TensorProtoInt8:
				out[i] = int64(int8(b[0]))
			default:
				out[i] = int64(b[0])
			}
		}
		return out, nil
	}

	switch {
	case len(p.Int64Data) > 0:
		if len(p.Int64Data) != n {
			return nil, fmt.Errorf("int64_data has %d values, want %d", len(p.Int64Data), n)
		}
		copy(out, p.Int64Data)
	case len(p.Int32Data) > 0:
		if len(p.Int32Data) != n {
			return nil, fmt.Errorf("int32_data has %d values, want %d", len(p.Int32Data), n)
		}
		for i, v := range p.Int32Data {
			out[i] = int64(v)
		}
	case n > 0:
		return nil, fmt.Errorf("no data for %d elements", n)
	}
	return out, nil
}

func rawWidth(dataType int32) int {
	switch dataType {
	case TensorProtoInt64, TensorProtoUint64:
		return 8
	case TensorProtoInt32, TensorProtoUint32:
		return 4
	case TensorProtoInt16, TensorProtoUint16:
		return 2
	default:
		return 1
	}
}
