package mathops

import (
	"github.com/nervegraph/inferon/pkg/core/infer/datum"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

type numeric interface {
	~float32 | ~float64 | ~int32 | ~int64
}

func apply[T numeric](kind Kind, a, b T) T {
	switch kind {
	case KindAdd:
		return a + b
	case KindSub:
		return a - b
	case KindMul:
		return a * b
	case KindDiv:
		return a / b
	default:
		return a
	}
}

func stridesOf(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

func size(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func unravel(idx int, shape []int) []int {
	out := make([]int, len(shape))
	for i := len(shape) - 1; i >= 0; i-- {
		if shape[i] == 0 {
			continue
		}
		out[i] = idx % shape[i]
		idx /= shape[i]
	}
	return out
}

// broadcastFlat maps an index into the (right-aligned) output shape to
// the flat offset of the corresponding element in a narrower/broadcast
// input array, per spec §4.6.1.
func broadcastFlat(outIdx, outShape, inShape, inStrides []int) int {
	rankDiff := len(outShape) - len(inShape)
	flat := 0
	for i, d := range inShape {
		oi := outIdx[i+rankDiff]
		if d == 1 {
			oi = 0
		}
		flat += oi * inStrides[i]
	}
	return flat
}

func elementwise[T numeric](kind Kind, ad, bd []T, ashape, bshape, outshape []int) []T {
	astr := stridesOf(ashape)
	bstr := stridesOf(bshape)
	n := size(outshape)
	out := make([]T, n)
	for i := 0; i < n; i++ {
		oi := unravel(i, outshape)
		ai := broadcastFlat(oi, outshape, ashape, astr)
		bi := broadcastFlat(oi, outshape, bshape, bstr)
		out[i] = apply(kind, ad[ai], bd[bi])
	}
	return out
}

func kernelFor(dt datum.DatumType) func(Kind, *tens.Tensor, *tens.Tensor, []int) (*tens.Tensor, error) {
	switch dt {
	case datum.F32:
		return func(kind Kind, a, b *tens.Tensor, shape []int) (*tens.Tensor, error) {
			out := elementwise(kind, a.Data().([]float32), b.Data().([]float32), a.Shape(), b.Shape(), shape)
			return tens.FromBacking(shape, out)
		}
	case datum.F64:
		return func(kind Kind, a, b *tens.Tensor, shape []int) (*tens.Tensor, error) {
			out := elementwise(kind, a.Data().([]float64), b.Data().([]float64), a.Shape(), b.Shape(), shape)
			return tens.FromBacking(shape, out)
		}
	case datum.I32:
		return func(kind Kind, a, b *tens.Tensor, shape []int) (*tens.Tensor, error) {
			out := elementwise(kind, a.Data().([]int32), b.Data().([]int32), a.Shape(), b.Shape(), shape)
			return tens.FromBacking(shape, out)
		}
	case datum.I64:
		return func(kind Kind, a, b *tens.Tensor, shape []int) (*tens.Tensor, error) {
			out := elementwise(kind, a.Data().([]int64), b.Data().([]int64), a.Shape(), b.Shape(), shape)
			return tens.FromBacking(shape, out)
		}
	default:
		return func(Kind, *tens.Tensor, *tens.Tensor, []int) (*tens.Tensor, error) {
			return nil, infererr.New(infererr.EvaluationFailure, "unsupported dtype for elementwise binary op: "+dt.String())
		}
	}
}
