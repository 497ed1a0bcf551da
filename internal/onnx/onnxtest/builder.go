// Package onnxtest encodes small ONNX models for tests.
//
// Models are written with protowire directly so tests need neither the onnx
// Python tooling nor checked-in binaries.
package onnxtest

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Element types used by the builder.
const (
	Float = 1
	Int64 = 7
)

// Symbolic dimension name written for non-positive dims.
const BatchDim = "batch_size"

// Builder accumulates one graph. Methods return the receiver for chaining.
type Builder struct {
	opset    int64
	producer string
	version  string
	name     string
	meta     [][2]string
	nodes    [][]byte
	inits    [][]byte
	inputs   [][]byte
	outputs  [][]byte
}

// New returns a builder for an opset-13 graph.
func New() *Builder {
	return &Builder{opset: 13, producer: "onnxtest", version: "1", name: "graph"}
}

// Opset sets the default-domain opset version.
func (b *Builder) Opset(v int64) *Builder {
	b.opset = v
	return b
}

// Producer sets producer_name and producer_version.
func (b *Builder) Producer(name, version string) *Builder {
	b.producer, b.version = name, version
	return b
}

// Metadata adds a metadata_props entry.
func (b *Builder) Metadata(key, value string) *Builder {
	b.meta = append(b.meta, [2]string{key, value})
	return b
}

// Input declares a graph input. A dim <= 0 is written as BatchDim.
func (b *Builder) Input(name string, elemType int32, dims ...int64) *Builder {
	b.inputs = append(b.inputs, valueInfo(name, elemType, dims))
	return b
}

// Output declares a graph output.
func (b *Builder) Output(name string, elemType int32, dims ...int64) *Builder {
	b.outputs = append(b.outputs, valueInfo(name, elemType, dims))
	return b
}

// Initializer adds a float32 weight stored as raw_data.
func (b *Builder) Initializer(name string, dims []int64, data []float32) *Builder {
	b.inits = append(b.inits, floatTensor(name, dims, data))
	return b
}

// InitializerInt64 adds an int64 weight stored as packed int64_data.
func (b *Builder) InitializerInt64(name string, dims []int64, data []int64) *Builder {
	var t []byte
	t = appendPackedVarints(t, 1, dims)
	t = appendVarint(t, 2, Int64)
	t = appendPackedVarints(t, 7, data)
	t = appendString(t, 8, name)
	b.inits = append(b.inits, t)
	return b
}

// Node appends an operator node. Its name is derived from the first output.
func (b *Builder) Node(opType string, inputs, outputs []string, attrs ...Attr) *Builder {
	var n []byte
	for _, in := range inputs {
		n = appendString(n, 1, in)
	}
	for _, out := range outputs {
		n = appendString(n, 2, out)
	}
	if len(outputs) > 0 {
		n = appendString(n, 3, opType+"_"+outputs[0])
	}
	n = appendString(n, 4, opType)
	for _, a := range attrs {
		n = appendBytes(n, 5, a.encode())
	}
	b.nodes = append(b.nodes, n)
	return b
}

// Bytes encodes the ModelProto.
func (b *Builder) Bytes() []byte {
	var g []byte
	for _, n := range b.nodes {
		g = appendBytes(g, 1, n)
	}
	g = appendString(g, 2, b.name)
	for _, t := range b.inits {
		g = appendBytes(g, 5, t)
	}
	for _, in := range b.inputs {
		g = appendBytes(g, 11, in)
	}
	for _, out := range b.outputs {
		g = appendBytes(g, 12, out)
	}

	var m []byte
	m = appendVarint(m, 1, 8)
	m = appendString(m, 2, b.producer)
	m = appendString(m, 3, b.version)
	m = appendBytes(m, 7, g)

	var opset []byte
	opset = appendString(opset, 1, "")
	opset = appendVarint(opset, 2, b.opset)
	m = appendBytes(m, 8, opset)

	for _, kv := range b.meta {
		var e []byte
		e = appendString(e, 1, kv[0])
		e = appendString(e, 2, kv[1])
		m = appendBytes(m, 14, e)
	}
	return m
}

// Attr is an encoded-on-demand node attribute.
type Attr struct {
	name   string
	typ    int64
	f      float32
	i      int64
	s      string
	floats []float32
	ints   []int64
	t      []byte
}

// Int returns an INT attribute.
func Int(name string, v int64) Attr { return Attr{name: name, typ: 2, i: v} }

// Ints returns an INTS attribute.
func Ints(name string, v ...int64) Attr { return Attr{name: name, typ: 7, ints: v} }

// FloatAttr returns a FLOAT attribute.
func FloatAttr(name string, v float32) Attr { return Attr{name: name, typ: 1, f: v} }

// Floats returns a FLOATS attribute.
func Floats(name string, v ...float32) Attr { return Attr{name: name, typ: 6, floats: v} }

// String returns a STRING attribute.
func String(name, v string) Attr { return Attr{name: name, typ: 3, s: v} }

// Tensor returns a TENSOR attribute holding float32 data.
func Tensor(name string, dims []int64, data []float32) Attr {
	return Attr{name: name, typ: 4, t: floatTensor("", dims, data)}
}

func (a Attr) encode() []byte {
	var b []byte
	b = appendString(b, 1, a.name)
	switch a.typ {
	case 1:
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.f))
	case 2:
		b = appendVarint(b, 3, a.i)
	case 3:
		b = appendString(b, 4, a.s)
	case 4:
		b = appendBytes(b, 5, a.t)
	case 6:
		b = appendPackedFloats(b, 7, a.floats)
	case 7:
		b = appendPackedVarints(b, 8, a.ints)
	}
	return appendVarint(b, 20, a.typ)
}

func valueInfo(name string, elemType int32, dims []int64) []byte {
	var shape []byte
	for _, d := range dims {
		var dim []byte
		if d > 0 {
			dim = appendVarint(dim, 1, d)
		} else {
			dim = appendString(dim, 2, BatchDim)
		}
		shape = appendBytes(shape, 1, dim)
	}

	var tt []byte
	tt = appendVarint(tt, 1, int64(elemType))
	tt = appendBytes(tt, 2, shape)

	var typ []byte
	typ = appendBytes(typ, 1, tt)

	var vi []byte
	vi = appendString(vi, 1, name)
	return appendBytes(vi, 2, typ)
}

func floatTensor(name string, dims []int64, data []float32) []byte {
	raw := make([]byte, 0, 4*len(data))
	for _, v := range data {
		raw = protowire.AppendFixed32(raw, math.Float32bits(v))
	}
	var t []byte
	t = appendPackedVarints(t, 1, dims)
	t = appendVarint(t, 2, Float)
	if name != "" {
		t = appendString(t, 8, name)
	}
	return appendBytes(t, 9, raw)
}

func appendVarint(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendPackedVarints(b []byte, num protowire.Number, vs []int64) []byte {
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	return appendBytes(b, num, packed)
}

func appendPackedFloats(b []byte, num protowire.Number, vs []float32) []byte {
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	return appendBytes(b, num, packed)
}
