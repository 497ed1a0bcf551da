package operators

import (
	"fmt"
	"math"

	"github.com/isopose/isopose/internal/tensor"
)

// registerShapeOps adds shape manipulation operators to the registry.
func (r *Registry) registerShapeOps() {
	r.Register("Reshape", handleReshape)
	r.Register("Flatten", handleFlatten)
	r.Register("Transpose", handleTranspose)
	r.Register("Squeeze", handleSqueeze)
	r.Register("Unsqueeze", handleUnsqueeze)
	r.Register("Concat", handleConcat)
	r.Register("Gather", handleGather)
	r.Register("Slice", handleSlice)
	r.Register("Shape", handleShape)
}

func handleReshape(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("reshape requires 2 inputs, got %d", len(inputs))
	}
	x := inputs[0]
	spec := inputs[1].Int64s()
	allowZero := GetAttrInt(node, "allowzero", 0) != 0
	inShape := x.Shape()

	newShape := make(tensor.Shape, len(spec))
	infer := -1
	known := 1
	for i, v := range spec {
		switch {
		case v == 0 && !allowZero:
			if i >= len(inShape) {
				return nil, fmt.Errorf("reshape: dim %d copies missing input dim", i)
			}
			newShape[i] = inShape[i]
		case v == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("reshape: more than one -1 in %v", spec)
			}
			infer = i
			continue
		case v < 0:
			return nil, fmt.Errorf("reshape: invalid dim %d", v)
		default:
			newShape[i] = int(v)
		}
		known *= newShape[i]
	}
	if infer >= 0 {
		if known == 0 {
			return nil, fmt.Errorf("reshape: cannot infer -1 with zero-sized dims")
		}
		newShape[infer] = x.NumElements() / known
	}
	return single(x.Reshape(newShape))
}

func handleFlatten(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("flatten requires 1 input, got %d", len(inputs))
	}
	x := inputs[0]
	shape := x.Shape()
	axis := int(GetAttrInt(node, "axis", 1))
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis > len(shape) {
		return nil, fmt.Errorf("flatten: axis %d out of range for rank %d", axis, len(shape))
	}
	return single(x.Reshape(tensor.Shape{shape[:axis].NumElements(), shape[axis:].NumElements()}))
}

func handleTranspose(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("transpose requires 1 input, got %d", len(inputs))
	}
	var perm []int
	if p := GetAttrInts(node, "perm"); p != nil {
		perm = toInts(p)
	}
	return single(ctx.Backend.Transpose(inputs[0], perm))
}

// axesOf reads axes from input i (newer opsets) or the "axes" attribute.
func axesOf(node *Node, inputs []*tensor.RawTensor, i int) []int64 {
	if t := optional(inputs, i); t != nil {
		return t.Int64s()
	}
	return GetAttrInts(node, "axes")
}

func handleSqueeze(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 1 {
		return nil, fmt.Errorf("squeeze requires at least 1 input")
	}
	x := inputs[0]
	shape := x.Shape()
	drop := make([]bool, len(shape))

	axes := axesOf(node, inputs, 1)
	if len(axes) == 0 {
		for i, d := range shape {
			drop[i] = d == 1
		}
	}
	for _, a := range axes {
		ax, err := tensor.NormalizeAxis(int(a), len(shape))
		if err != nil {
			return nil, fmt.Errorf("squeeze: %w", err)
		}
		if shape[ax] != 1 {
			return nil, fmt.Errorf("squeeze: dim %d has size %d", ax, shape[ax])
		}
		drop[ax] = true
	}

	out := tensor.Shape{}
	for i, d := range shape {
		if !drop[i] {
			out = append(out, d)
		}
	}
	return single(x.Reshape(out))
}

func handleUnsqueeze(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 1 {
		return nil, fmt.Errorf("unsqueeze requires at least 1 input")
	}
	x := inputs[0]
	shape := x.Shape()
	axes := axesOf(node, inputs, 1)
	if len(axes) == 0 {
		return nil, fmt.Errorf("unsqueeze: axes required")
	}

	rank := len(shape) + len(axes)
	insert := make([]bool, rank)
	for _, a := range axes {
		ax, err := tensor.NormalizeAxis(int(a), rank)
		if err != nil {
			return nil, fmt.Errorf("unsqueeze: %w", err)
		}
		if insert[ax] {
			return nil, fmt.Errorf("unsqueeze: duplicate axis %d", ax)
		}
		insert[ax] = true
	}

	out := make(tensor.Shape, rank)
	j := 0
	for i := range out {
		if insert[i] {
			out[i] = 1
			continue
		}
		out[i] = shape[j]
		j++
	}
	return single(x.Reshape(out))
}

func handleConcat(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("concat requires at least 1 input")
	}
	first := inputs[0].Shape()
	axis, err := tensor.NormalizeAxis(int(GetAttrInt(node, "axis", 0)), len(first))
	if err != nil {
		return nil, fmt.Errorf("concat: %w", err)
	}

	dtype := inputs[0].DType()
	outShape := first.Clone()
	outShape[axis] = 0
	for _, in := range inputs {
		s := in.Shape()
		if len(s) != len(first) {
			return nil, fmt.Errorf("concat: rank mismatch %v vs %v", s, first)
		}
		for d := range s {
			if d != axis && s[d] != first[d] {
				return nil, fmt.Errorf("concat: shape mismatch %v vs %v on dim %d", s, first, d)
			}
		}
		outShape[axis] += s[axis]
		if in.DType() != dtype {
			dtype = tensor.Float32
		}
	}

	outer := first[:axis].NumElements()
	inner := first[axis+1:].NumElements()
	if dtype == tensor.Int64 {
		parts := make([][]int64, len(inputs))
		for i, in := range inputs {
			parts[i] = in.AsInt64()
		}
		return single(tensor.FromInt64(outShape, concat(parts, inputs, outer, inner, axis)))
	}
	parts := make([][]float32, len(inputs))
	for i, in := range inputs {
		parts[i] = in.Float32s()
	}
	return single(tensor.FromFloat32(outShape, concat(parts, inputs, outer, inner, axis)))
}

func concat[T float32 | int64](parts [][]T, inputs []*tensor.RawTensor, outer, inner, axis int) []T {
	var out []T
	for o := 0; o < outer; o++ {
		for i, p := range parts {
			chunk := inputs[i].Shape()[axis] * inner
			out = append(out, p[o*chunk:(o+1)*chunk]...)
		}
	}
	return out
}

func handleGather(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("gather requires 2 inputs, got %d", len(inputs))
	}
	data, indices := inputs[0], inputs[1]
	shape := data.Shape()
	axis, err := tensor.NormalizeAxis(int(GetAttrInt(node, "axis", 0)), len(shape))
	if err != nil {
		return nil, fmt.Errorf("gather: %w", err)
	}

	outer := shape[:axis].NumElements()
	dim := shape[axis]
	inner := shape[axis+1:].NumElements()
	idx := indices.Int64s()

	outShape := append(append(shape[:axis].Clone(), indices.Shape()...), shape[axis+1:]...)
	src := make([]int, 0, outShape.NumElements())
	for o := 0; o < outer; o++ {
		for _, k := range idx {
			if k < 0 {
				k += int64(dim)
			}
			if k < 0 || k >= int64(dim) {
				return nil, fmt.Errorf("gather: index %d out of range for dim %d", k, dim)
			}
			base := (o*dim + int(k)) * inner
			for in := 0; in < inner; in++ {
				src = append(src, base+in)
			}
		}
	}
	return single(take(data, outShape, src))
}

// handleSlice extracts a strided window. Opset 10+ reads starts, ends, axes
// and steps from inputs; earlier opsets from attributes.
func handleSlice(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 1 {
		return nil, fmt.Errorf("slice requires at least 1 input")
	}
	x := inputs[0]
	shape := x.Shape()
	rank := len(shape)

	var starts, ends, axes, steps []int64
	if ctx.Opset >= 10 || len(inputs) > 1 {
		if len(inputs) < 3 {
			return nil, fmt.Errorf("slice requires starts and ends inputs")
		}
		starts, ends = inputs[1].Int64s(), inputs[2].Int64s()
		if t := optional(inputs, 3); t != nil {
			axes = t.Int64s()
		}
		if t := optional(inputs, 4); t != nil {
			steps = t.Int64s()
		}
	} else {
		starts, ends, axes = GetAttrInts(node, "starts"), GetAttrInts(node, "ends"), GetAttrInts(node, "axes")
	}
	if len(starts) != len(ends) {
		return nil, fmt.Errorf("slice: %d starts vs %d ends", len(starts), len(ends))
	}

	begin := make([]int, rank)
	step := make([]int, rank)
	outShape := shape.Clone()
	for i := range step {
		step[i] = 1
	}

	for i := range starts {
		ax := i
		if axes != nil {
			ax = int(axes[i])
		}
		ax, err := tensor.NormalizeAxis(ax, rank)
		if err != nil {
			return nil, fmt.Errorf("slice: %w", err)
		}
		st := int64(1)
		if steps != nil {
			st = steps[i]
		}
		if st == 0 {
			return nil, fmt.Errorf("slice: zero step on axis %d", ax)
		}
		b, count := sliceRange(starts[i], ends[i], st, int64(shape[ax]))
		begin[ax], step[ax], outShape[ax] = b, int(st), count
	}

	strides := shape.ComputeStrides()
	n := outShape.NumElements()
	src := make([]int, n)
	idx := make([]int, rank)
	for i := 0; i < n; i++ {
		off := 0
		for d := range idx {
			off += (begin[d] + idx[d]*step[d]) * strides[d]
		}
		src[i] = off
		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < outShape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return single(take(x, outShape, src))
}

// sliceRange clamps ONNX slice bounds to a dimension of size dim and returns
// the first index and the element count.
func sliceRange(start, end, step, dim int64) (int, int) {
	if start < 0 {
		start += dim
	}
	if end < 0 && end > math.MinInt64+dim {
		end += dim
	}
	var count int64
	if step > 0 {
		start = min(max(start, 0), dim)
		end = min(max(end, 0), dim)
		if end > start {
			count = (end - start + step - 1) / step
		}
	} else {
		start = min(max(start, -1), dim-1)
		end = min(max(end, -1), dim-1)
		if start > end {
			count = (start - end - step - 1) / -step
		}
	}
	return int(start), int(count)
}

func handleShape(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("shape requires 1 input, got %d", len(inputs))
	}
	shape := inputs[0].Shape()
	rank := int64(len(shape))

	start := GetAttrInt(node, "start", 0)
	end := GetAttrInt(node, "end", rank)
	if start < 0 {
		start += rank
	}
	if end < 0 {
		end += rank
	}
	start = min(max(start, 0), rank)
	end = min(max(end, start), rank)

	dims := make([]int64, 0, end-start)
	for _, d := range shape[start:end] {
		dims = append(dims, int64(d))
	}
	return single(tensor.FromInt64(tensor.Shape{len(dims)}, dims))
}

// take builds a tensor of shape whose i-th element is x's element src[i].
func take(x *tensor.RawTensor, shape tensor.Shape, src []int) (*tensor.RawTensor, error) {
	if x.DType() == tensor.Int64 {
		data := x.AsInt64()
		out := make([]int64, len(src))
		for i, j := range src {
			out[i] = data[j]
		}
		return tensor.FromInt64(shape, out)
	}
	data := x.AsFloat32()
	out := make([]float32, len(src))
	for i, j := range src {
		out[i] = data[j]
	}
	return tensor.FromFloat32(shape, out)
}
