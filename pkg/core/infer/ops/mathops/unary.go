package mathops

import (
	"github.com/nervegraph/inferon/pkg/core/infer/dim"
	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	"github.com/nervegraph/inferon/pkg/core/infer/model"
	"github.com/nervegraph/inferon/pkg/core/infer/solver"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// UnaryConst is a binary op with one operand baked in as a constant —
// the shape a lowering-time rewrite emits (BatchNorm's slope/intercept
// folding, Gemm's scale/bias decomposition; spec's supplemented
// features, grounded on the original's `mul::unary`/`add::unary`).
type UnaryConst struct {
	model.Stateless
	model.NotIncorporated
	Kind  Kind
	Const *tens.Tensor
}

func (u *UnaryConst) Name() string    { return u.Kind.String() + "Unary" }
func (u *UnaryConst) NumOutputs() int { return 1 }

func (u *UnaryConst) Eval(inputs []*tens.Tensor) ([]*tens.Tensor, error) {
	if len(inputs) != 1 {
		return nil, infererr.New(infererr.ArityMismatch, "unary-const op expects exactly 1 input")
	}
	out, err := broadcastEval(u.Kind, inputs[0], u.Const)
	if err != nil {
		return nil, err
	}
	return []*tens.Tensor{out}, nil
}

func (u *UnaryConst) Rules(s *solver.Solver, in, out []solver.TensorProxy) error {
	if len(in) != 1 || len(out) != 1 {
		return infererr.New(infererr.ArityMismatch, "unary-const op expects 1 input and 1 output")
	}
	if err := s.Equals(out[0].DatumType(), in[0].DatumType()); err != nil {
		return err
	}
	constShape := intsToTDims(u.Const.Shape())
	outShape := out[0].Shape()
	s.GivenShape(in[0].Shape(), func(sv *solver.Solver, sa []dim.TDim) error {
		merged, err := BroadcastShapes(sa, constShape)
		if err != nil {
			return err
		}
		return sv.Equals(outShape, fact.Closed(dimsToFacts(merged)...))
	})
	return nil
}

func (u *UnaryConst) ToTyped(source *model.InferenceModel, node *model.InferenceNode, target *model.TypedModel, mapping map[model.OutletId]model.OutletId) ([]model.OutletId, error) {
	return (model.IdentityToTyped{Self: u}).ToTyped(source, node, target, mapping)
}

func dimsToFacts(ds []dim.TDim) []fact.DimFact {
	out := make([]fact.DimFact, len(ds))
	for i, d := range ds {
		out[i] = fact.Only(d)
	}
	return out
}
