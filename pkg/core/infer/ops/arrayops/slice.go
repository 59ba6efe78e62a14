package arrayops

import (
	"github.com/nervegraph/inferon/pkg/core/infer/dim"
	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	"github.com/nervegraph/inferon/pkg/core/infer/model"
	"github.com/nervegraph/inferon/pkg/core/infer/solver"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// Slice is the ONNX-style multi-axis slice: Axes (or, if nil, every axis
// in order), paired with per-axis Starts/Ends (negative-from-end,
// clamped to the axis's own length), grounded on the original's
// onnx::ops::array::Slice.
type Slice struct {
	model.Stateless
	model.NotIncorporated
	Axes         []int // nil means "one entry per axis, in order"
	Starts, Ends []int
}

func (s *Slice) Name() string    { return "Slice" }
func (s *Slice) NumOutputs() int { return 1 }

func clampBound(b, d int) int {
	switch {
	case b < 0:
		b += d
		if b < 0 {
			b = 0
		}
	case b > d:
		b = d
	}
	return b
}

func (s *Slice) axisFor(ix int) int {
	if s.Axes != nil {
		return s.Axes[ix]
	}
	return ix
}

func (s *Slice) Eval(inputs []*tens.Tensor) ([]*tens.Tensor, error) {
	if len(inputs) != 1 {
		return nil, infererr.New(infererr.ArityMismatch, "slice expects exactly 1 input")
	}
	in := inputs[0]
	shape := in.Shape()
	begins := make([]int, len(shape))
	ends := append([]int(nil), shape...)
	for ix := range s.Starts {
		axis := s.axisFor(ix)
		begins[axis] = clampBound(s.Starts[ix], shape[axis])
		ends[axis] = clampBound(s.Ends[ix], shape[axis])
		if ends[axis] < begins[axis] {
			ends[axis] = begins[axis]
		}
	}
	return []*tens.Tensor{sliceTensor(in, begins, ends)}, nil
}

func sliceTensor(in *tens.Tensor, begins, ends []int) *tens.Tensor {
	shape := in.Shape()
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
			var c int
			if oshape[i] > 0 {
				c = rem % oshape[i]
				rem /= oshape[i]
			}
			flat += (c + begins[i]) * strides[i]
		}
		return flat
	}
	switch d := in.Data().(type) {
	case []float32:
		out := make([]float32, n)
		for i := range out {
			out[i] = d[srcIdx(i)]
		}
		t, _ := tens.FromBacking(oshape, out)
		return t
	case []float64:
		out := make([]float64, n)
		for i := range out {
			out[i] = d[srcIdx(i)]
		}
		t, _ := tens.FromBacking(oshape, out)
		return t
	case []int32:
		out := make([]int32, n)
		for i := range out {
			out[i] = d[srcIdx(i)]
		}
		t, _ := tens.FromBacking(oshape, out)
		return t
	case []int64:
		out := make([]int64, n)
		for i := range out {
			out[i] = d[srcIdx(i)]
		}
		t, _ := tens.FromBacking(oshape, out)
		return t
	default:
		return in
	}
}

func (s *Slice) Rules(sv *solver.Solver, in, out []solver.TensorProxy) error {
	if len(in) != 1 || len(out) != 1 {
		return infererr.New(infererr.ArityMismatch, "slice expects 1 input and 1 output")
	}
	if s.Axes == nil {
		if err := sv.Equals(in[0].Rank(), len(s.Starts)); err != nil {
			return err
		}
		if err := sv.Equals(in[0].Rank(), len(s.Ends)); err != nil {
			return err
		}
	}
	if err := sv.Equals(in[0].Rank(), out[0].Rank()); err != nil {
		return err
	}
	if err := sv.Equals(in[0].DatumType(), out[0].DatumType()); err != nil {
		return err
	}
	sv.GivenShape(in[0].Shape(), func(sv2 *solver.Solver, shape []dim.TDim) error {
		for axis := range shape {
			sliceIx := -1
			for ix := 0; ix < len(s.Starts); ix++ {
				if s.axisFor(ix) == axis {
					sliceIx = ix
					break
				}
			}
			if sliceIx < 0 {
				if err := sv2.Equals(out[0].Shape().At(axis), shape[axis]); err != nil {
					return err
				}
				continue
			}
			d := shape[axis]
			b, e := s.Starts[sliceIx], s.Ends[sliceIx]
			if n, err := d.ToInteger(); err == nil {
				b, e = clampBound(b, int(n)), clampBound(e, int(n))
				if e < b {
					e = b
				}
				if err := sv2.Equals(out[0].Shape().At(axis), dim.Int(int64(e-b))); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return nil
}

func (s *Slice) ToTyped(source *model.InferenceModel, node *model.InferenceNode, target *model.TypedModel, mapping map[model.OutletId]model.OutletId) ([]model.OutletId, error) {
	wire := mapping[node.Inputs[0]]
	for ix := range s.Starts {
		axis := s.axisFor(ix)
		xFact, err := target.OutletFact(wire)
		if err != nil {
			return nil, err
		}
		d := xFact.Shape[axis]
		b, e := clampBound(s.Starts[ix], d), clampBound(s.Ends[ix], d)
		if e < b {
			e = b
		}
		if b == 0 && e == d {
			continue
		}
		oshape := append([]int(nil), xFact.Shape...)
		oshape[axis] = e - b
		id, err := target.AddNode(node.Name, &AxisSlice{Axis: axis, Begin: b, End: e}, 1,
			[]fact.TypedTensorInfo{{DType: xFact.DType, Shape: oshape}})
		if err != nil {
			return nil, err
		}
		if err := target.AddEdge(wire, model.InletId{NodeID: id, Slot: 0}); err != nil {
			return nil, err
		}
		wire = model.OutletId{NodeID: id, Slot: 0}
	}
	return []model.OutletId{wire}, nil
}

// AxisSlice is the single-axis typed form Slice lowers into, one node per
// sliced axis, mirroring the original's tract_core::ops::array::Slice.
type AxisSlice struct {
	model.Stateless
	model.NotIncorporated
	Axis, Begin, End int
}

func (a *AxisSlice) Name() string    { return "AxisSlice" }
func (a *AxisSlice) NumOutputs() int { return 1 }

func (a *AxisSlice) Eval(inputs []*tens.Tensor) ([]*tens.Tensor, error) {
	if len(inputs) != 1 {
		return nil, infererr.New(infererr.ArityMismatch, "axis slice expects exactly 1 input")
	}
	shape := inputs[0].Shape()
	begins := make([]int, len(shape))
	ends := append([]int(nil), shape...)
	begins[a.Axis], ends[a.Axis] = a.Begin, a.End
	return []*tens.Tensor{sliceTensor(inputs[0], begins, ends)}, nil
}

func (a *AxisSlice) Rules(sv *solver.Solver, in, out []solver.TensorProxy) error {
	if err := sv.Equals(in[0].DatumType(), out[0].DatumType()); err != nil {
		return err
	}
	return sv.Equals(out[0].Shape().At(a.Axis), dim.Int(int64(a.End-a.Begin)))
}

func (a *AxisSlice) ToTyped(source *model.InferenceModel, node *model.InferenceNode, target *model.TypedModel, mapping map[model.OutletId]model.OutletId) ([]model.OutletId, error) {
	return (model.IdentityToTyped{Self: a}).ToTyped(source, node, target, mapping)
}
