package scan

import (
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// generalSlice extracts the [begins[i], ends[i]) box out of t, mirroring
// arrayops' own (unexported) slice machinery but kept local to this
// package to avoid reaching into arrayops' internals.
func generalSlice(t *tens.Tensor, begins, ends []int) (*tens.Tensor, error) {
	shape := t.Shape()
	oshape := make([]int, len(shape))
	for i := range shape {
		oshape[i] = ends[i] - begins[i]
	}
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	n := 1
	for _, d := range oshape {
		n *= d
	}
	srcIdx := func(outFlat int) int {
		rem := outFlat
		flat := 0
		for i := len(oshape) - 1; i >= 0; i-- {
			c := 0
			if oshape[i] > 0 {
				c = rem % oshape[i]
				rem /= oshape[i]
			}
			flat += (c + begins[i]) * strides[i]
		}
		return flat
	}
	switch d := t.Data().(type) {
	case []float32:
		out := make([]float32, n)
		for i := range out {
			out[i] = d[srcIdx(i)]
		}
		return tens.FromBacking(oshape, out)
	case []float64:
		out := make([]float64, n)
		for i := range out {
			out[i] = d[srcIdx(i)]
		}
		return tens.FromBacking(oshape, out)
	case []int32:
		out := make([]int32, n)
		for i := range out {
			out[i] = d[srcIdx(i)]
		}
		return tens.FromBacking(oshape, out)
	case []int64:
		out := make([]int64, n)
		for i := range out {
			out[i] = d[srcIdx(i)]
		}
		return tens.FromBacking(oshape, out)
	default:
		return nil, infererr.New(infererr.InvalidInput, "scan: unsupported dtype for tensor slicing")
	}
}

// sliceIndexSqueezed extracts one step at axis=index and drops that axis
// (the inverse of stackNew).
func sliceIndexSqueezed(t *tens.Tensor, axis, index int) (*tens.Tensor, error) {
	shape := t.Shape()
	begins := make([]int, len(shape))
	ends := append([]int(nil), shape...)
	begins[axis], ends[axis] = index, index+1
	sliced, err := generalSlice(t, begins, ends)
	if err != nil {
		return nil, err
	}
	return squeezeAxis(sliced, axis)
}

// sliceRange extracts [begin, end) along axis, keeping that axis (with
// its new, possibly shrunk, length).
func sliceRange(t *tens.Tensor, axis, begin, end int) (*tens.Tensor, error) {
	shape := t.Shape()
	begins := make([]int, len(shape))
	ends := append([]int(nil), shape...)
	begins[axis], ends[axis] = begin, end
	return generalSlice(t, begins, ends)
}

// squeezeAxis drops a length-1 axis; the backing data is unchanged,
// since removing a size-1 dimension never reorders row-major elements.
func squeezeAxis(t *tens.Tensor, axis int) (*tens.Tensor, error) {
	shape := t.Shape()
	if shape[axis] != 1 {
		return nil, infererr.New(infererr.ShapeMismatch, "scan: squeezeAxis on a non-unit axis")
	}
	oshape := append(append([]int(nil), shape[:axis]...), shape[axis+1:]...)
	return rewrap(t, oshape)
}

// unsqueezeAxis inserts a length-1 axis at position axis.
func unsqueezeAxis(t *tens.Tensor, axis int) (*tens.Tensor, error) {
	shape := t.Shape()
	oshape := make([]int, 0, len(shape)+1)
	oshape = append(oshape, shape[:axis]...)
	oshape = append(oshape, 1)
	oshape = append(oshape, shape[axis:]...)
	return rewrap(t, oshape)
}

// rewrap reinterprets t's existing backing storage under a new shape
// with the same element count, without copying.
func rewrap(t *tens.Tensor, shape []int) (*tens.Tensor, error) {
	switch d := t.Data().(type) {
	case []float32:
		return tens.FromBacking(shape, d)
	case []float64:
		return tens.FromBacking(shape, d)
	case []int32:
		return tens.FromBacking(shape, d)
	case []int64:
		return tens.FromBacking(shape, d)
	default:
		return nil, infererr.New(infererr.InvalidInput, "scan: unsupported dtype for reshape")
	}
}

// concatAxis joins a and b along axis; every other axis must agree.
func concatAxis(a, b *tens.Tensor, axis int) (*tens.Tensor, error) {
	ash, bsh := a.Shape(), b.Shape()
	if len(ash) != len(bsh) {
		return nil, infererr.New(infererr.ShapeMismatch, "scan: concat operands have different rank")
	}
	oshape := append([]int(nil), ash...)
	oshape[axis] = ash[axis] + bsh[axis]
	for i := range ash {
		if i != axis && ash[i] != bsh[i] {
			return nil, infererr.New(infererr.ShapeMismatch, "scan: concat operands disagree off-axis")
		}
	}

	astrides, bstrides := stridesOf(ash), stridesOf(bsh)
	n := 1
	for _, d := range oshape {
		n *= d
	}
	coordAt := func(flat int, shape []int) []int {
		coord := make([]int, len(shape))
		rem := flat
		for i := len(shape) - 1; i >= 0; i-- {
			if shape[i] > 0 {
				coord[i] = rem % shape[i]
				rem /= shape[i]
			}
		}
		return coord
	}
	flatFrom := func(coord []int, strides []int) int {
		f := 0
		for i, c := range coord {
			f += c * strides[i]
		}
		return f
	}
	srcIdx := func(outFlat int) (fromB bool, idx int) {
		coord := coordAt(outFlat, oshape)
		if coord[axis] < ash[axis] {
			return false, flatFrom(coord, astrides)
		}
		coord[axis] -= ash[axis]
		return true, flatFrom(coord, bstrides)
	}

	switch ad := a.Data().(type) {
	case []float32:
		bd := b.Data().([]float32)
		out := make([]float32, n)
		for i := range out {
			fromB, idx := srcIdx(i)
			if fromB {
				out[i] = bd[idx]
			} else {
				out[i] = ad[idx]
			}
		}
		return tens.FromBacking(oshape, out)
	case []float64:
		bd := b.Data().([]float64)
		out := make([]float64, n)
		for i := range out {
			fromB, idx := srcIdx(i)
			if fromB {
				out[i] = bd[idx]
			} else {
				out[i] = ad[idx]
			}
		}
		return tens.FromBacking(oshape, out)
	case []int32:
		bd := b.Data().([]int32)
		out := make([]int32, n)
		for i := range out {
			fromB, idx := srcIdx(i)
			if fromB {
				out[i] = bd[idx]
			} else {
				out[i] = ad[idx]
			}
		}
		return tens.FromBacking(oshape, out)
	case []int64:
		bd := b.Data().([]int64)
		out := make([]int64, n)
		for i := range out {
			fromB, idx := srcIdx(i)
			if fromB {
				out[i] = bd[idx]
			} else {
				out[i] = ad[idx]
			}
		}
		return tens.FromBacking(oshape, out)
	default:
		return nil, infererr.New(infererr.InvalidInput, "scan: unsupported dtype for concat")
	}
}

func stridesOf(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

// stackNew joins len(steps) same-shaped tensors into one with a new
// axis of that length inserted at position axis (the inverse of slicing
// one step out at a time) — used both to grow a memory's history buffer
// by one step and to accumulate a Scan output's full sequence.
func stackNew(steps []*tens.Tensor, axis int) (*tens.Tensor, error) {
	if len(steps) == 0 {
		return nil, infererr.New(infererr.InvalidInput, "scan: stackNew needs at least one step")
	}
	acc, err := unsqueezeAxis(steps[0], axis)
	if err != nil {
		return nil, err
	}
	for _, s := range steps[1:] {
		u, err := unsqueezeAxis(s, axis)
		if err != nil {
			return nil, err
		}
		acc, err = concatAxis(acc, u, axis)
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}
