package arrayops

import (
	"github.com/nervegraph/inferon/pkg/core/infer/datum"
	"github.com/nervegraph/inferon/pkg/core/infer/dim"
	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	"github.com/nervegraph/inferon/pkg/core/infer/model"
	"github.com/nervegraph/inferon/pkg/core/infer/solver"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// Shape reports an input's own dimensions as a rank-1 tensor. When every
// dim is a plain integer it coerces to DT (I32 or I64); when any dim is
// still symbolic (the streaming axis), the output instead carries raw
// dim.TDim values (spec §6 scenario S6), grounded on the original's
// ops::array::Shape dtype duality.
type Shape struct {
	model.Stateless
	model.NotIncorporated
	DT datum.DatumType // I32 or I64; the concrete-dims coercion target
}

func (s *Shape) Name() string    { return "Shape" }
func (s *Shape) NumOutputs() int { return 1 }

func (s *Shape) Eval(inputs []*tens.Tensor) ([]*tens.Tensor, error) {
	if len(inputs) != 1 {
		return nil, infererr.New(infererr.ArityMismatch, "shape expects exactly 1 input")
	}
	shape := inputs[0].Shape()
	switch s.DT {
	case datum.I64:
		out := make([]int64, len(shape))
		for i, d := range shape {
			out[i] = int64(d)
		}
		return []*tens.Tensor{mustTensorArr(tens.FromBacking([]int{len(shape)}, out))}, nil
	default:
		out := make([]int32, len(shape))
		for i, d := range shape {
			out[i] = int32(d)
		}
		return []*tens.Tensor{mustTensorArr(tens.FromBacking([]int{len(shape)}, out))}, nil
	}
}

func mustTensorArr(t *tens.Tensor, err error) *tens.Tensor {
	if err != nil {
		panic(err)
	}
	return t
}

func (s *Shape) Rules(sv *solver.Solver, in, out []solver.TensorProxy) error {
	if len(in) != 1 || len(out) != 1 {
		return infererr.New(infererr.ArityMismatch, "shape expects 1 input and 1 output")
	}
	if err := sv.Equals(out[0].Rank(), 1); err != nil {
		return err
	}
	sv.GivenRank(in[0].Rank(), func(sv2 *solver.Solver, r int) error {
		return sv2.Equals(out[0].Shape().At(0), dim.Int(int64(r)))
	})
	sv.GivenDim(out[0].Shape().At(0), func(sv2 *solver.Solver, d dim.TDim) error {
		if n, err := d.ToInteger(); err == nil {
			return sv2.Equals(in[0].Rank(), int(n))
		}
		return nil
	})
	sv.GivenShape(in[0].Shape(), func(sv2 *solver.Solver, shape []dim.TDim) error {
		allConcrete := true
		for _, d := range shape {
			if !d.IsInteger() {
				allConcrete = false
				break
			}
		}
		if !allConcrete {
			t := tens.NewTDim([]int{len(shape)}, append([]dim.TDim(nil), shape...))
			if err := sv2.Equals(out[0].DatumType(), datum.TDim); err != nil {
				return err
			}
			return sv2.Equals(out[0].Value(), t)
		}
		if s.DT == datum.I64 {
			vals := make([]int64, len(shape))
			for i, d := range shape {
				vals[i], _ = d.ToInteger()
			}
			t, err := tens.FromBacking([]int{len(shape)}, vals)
			if err != nil {
				return err
			}
			if err := sv2.Equals(out[0].DatumType(), datum.I64); err != nil {
				return err
			}
			return sv2.Equals(out[0].Value(), t)
		}
		vals := make([]int32, len(shape))
		for i, d := range shape {
			n, _ := d.ToInteger()
			vals[i] = int32(n)
		}
		t, err := tens.FromBacking([]int{len(shape)}, vals)
		if err != nil {
			return err
		}
		if err := sv2.Equals(out[0].DatumType(), datum.I32); err != nil {
			return err
		}
		return sv2.Equals(out[0].Value(), t)
	})
	return nil
}

func (s *Shape) ToTyped(source *model.InferenceModel, node *model.InferenceNode, target *model.TypedModel, mapping map[model.OutletId]model.OutletId) ([]model.OutletId, error) {
	xFact, err := target.OutletFact(mapping[node.Inputs[0]])
	if err != nil {
		return nil, err
	}
	out, err := s.Eval([]*tens.Tensor{tensorSkeleton(xFact)})
	if err != nil {
		return nil, err
	}
	facts := []fact.TypedTensorInfo{{DType: out[0].DatumType(), Shape: out[0].Shape(), Konst: out[0]}}
	id, err := target.AddNode(node.Name, s, 1, facts)
	if err != nil {
		return nil, err
	}
	if err := target.AddEdge(mapping[node.Inputs[0]], model.InletId{NodeID: id, Slot: 0}); err != nil {
		return nil, err
	}
	return []model.OutletId{{NodeID: id, Slot: 0}}, nil
}

// tensorSkeleton builds a zero-valued tensor carrying only f's shape, for
// feeding Eval at typed-lowering time when only the shape is needed.
func tensorSkeleton(f fact.TypedTensorInfo) *tens.Tensor {
	t, err := tens.New(f.DType, f.Shape)
	if err != nil {
		return tens.NewTDim(f.Shape, nil)
	}
	return t
}
