package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/isopose/isopose/internal/tensor"
)

// MatMul performs matrix multiplication with numpy.matmul semantics.
//
// 1-D operands are promoted (a to a row, b to a column) and the promoted
// dimension is dropped from the result. Leading batch dimensions broadcast.
//
//	[M, K]    @ [K, N]    -> [M, N]
//	[B, M, K] @ [K, N]    -> [B, M, N]
//	[K]       @ [K, N]    -> [N]
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	if a.DType() != tensor.Float32 || b.DType() != tensor.Float32 {
		return nil, fmt.Errorf("matmul: unsupported dtypes %v, %v", a.DType(), b.DType())
	}
	as, bs := a.Shape(), b.Shape()
	if len(as) == 0 || len(bs) == 0 {
		return nil, fmt.Errorf("matmul: scalar operands not allowed")
	}

	aVec, bVec := len(as) == 1, len(bs) == 1
	if aVec {
		as = tensor.Shape{1, as[0]}
	}
	if bVec {
		bs = tensor.Shape{bs[0], 1}
	}

	m, k := as[len(as)-2], as[len(as)-1]
	k2, n := bs[len(bs)-2], bs[len(bs)-1]
	if k != k2 {
		return nil, fmt.Errorf("matmul: inner dimensions mismatch: %v @ %v", a.Shape(), b.Shape())
	}

	batchA, batchB := as[:len(as)-2], bs[:len(bs)-2]
	batch, err := tensor.BroadcastShapes(batchA, batchB)
	if err != nil {
		return nil, fmt.Errorf("matmul: %w", err)
	}
	aStr := tensor.BroadcastStrides(batchA, batch)
	bStr := tensor.BroadcastStrides(batchB, batch)

	aData, bData := a.AsFloat32(), b.AsFloat32()
	nb := batch.NumElements()
	out := make([]float32, nb*m*n)
	idx := make([]int, len(batch))
	for bi := 0; bi < nb; bi++ {
		ao, bo := 0, 0
		for d := range idx {
			ao += idx[d] * aStr[d]
			bo += idx[d] * bStr[d]
		}
		gemm32(m, n, k,
			aData[ao*m*k:(ao+1)*m*k],
			bData[bo*k*n:(bo+1)*k*n],
			out[bi*m*n:(bi+1)*m*n])
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < batch[d] {
				break
			}
			idx[d] = 0
		}
	}

	outShape := append(batch.Clone(), m, n)
	switch {
	case aVec && bVec:
		outShape = outShape[:len(outShape)-2]
	case aVec:
		outShape = append(outShape[:len(outShape)-2], n)
	case bVec:
		outShape = outShape[:len(outShape)-1]
	}
	return tensor.FromFloat32(outShape, out)
}

// gemm32 computes c = a @ b for row-major a [m, k] and b [k, n].
func gemm32(m, n, k int, a, b, c []float32) {
	if m == 0 || n == 0 {
		return
	}
	if k == 0 {
		clear(c)
		return
	}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: a},
		blas32.General{Rows: k, Cols: n, Stride: n, Data: b},
		0,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: c})
}

// Transpose permutes the axes of x. A nil perm reverses the axes.
func (cpu *CPUBackend) Transpose(x *tensor.RawTensor, perm []int) (*tensor.RawTensor, error) {
	shape := x.Shape()
	rank := len(shape)
	if perm == nil {
		perm = make([]int, rank)
		for i := range perm {
			perm[i] = rank - 1 - i
		}
	}
	if len(perm) != rank {
		return nil, fmt.Errorf("transpose: perm %v does not match rank %d", perm, rank)
	}
	seen := make([]bool, rank)
	for _, p := range perm {
		if p < 0 || p >= rank || seen[p] {
			return nil, fmt.Errorf("transpose: invalid perm %v", perm)
		}
		seen[p] = true
	}

	inStr := shape.ComputeStrides()
	outShape := make(tensor.Shape, rank)
	srcStr := make([]int, rank)
	for i, p := range perm {
		outShape[i] = shape[p]
		srcStr[i] = inStr[p]
	}

	if x.DType() == tensor.Int64 {
		return tensor.FromInt64(outShape, permute(x.AsInt64(), outShape, srcStr))
	}
	return tensor.FromFloat32(outShape, permute(x.AsFloat32(), outShape, srcStr))
}

func permute[T number](src []T, outShape tensor.Shape, srcStr []int) []T {
	n := outShape.NumElements()
	dst := make([]T, n)
	idx := make([]int, len(outShape))
	off := 0
	for i := 0; i < n; i++ {
		dst[i] = src[off]
		for d := len(outShape) - 1; d >= 0; d-- {
			idx[d]++
			off += srcStr[d]
			if idx[d] < outShape[d] {
				break
			}
			off -= srcStr[d] * outShape[d]
			idx[d] = 0
		}
	}
	return dst
}
