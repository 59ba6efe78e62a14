package nnops

import (
	"github.com/nervegraph/inferon/pkg/core/infer/datum"
	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	"github.com/nervegraph/inferon/pkg/core/infer/model"
	"github.com/nervegraph/inferon/pkg/core/infer/ops/mathops"
	"github.com/nervegraph/inferon/pkg/core/infer/solver"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// MatMul is a rank-2 matrix product with optional operand transposition,
// grounded on the original's ops::math::MatMul (reached from onnx's
// "MatMul" and, after Gemm's incorporate rewrite, from "Gemm" too).
type MatMul struct {
	model.Stateless
	model.NotIncorporated
	TransA bool
	TransB bool
}

func (m *MatMul) Name() string    { return "MatMul" }
func (m *MatMul) NumOutputs() int { return 1 }

func transposed(t *tens.Tensor, trans bool) (rows, cols int, at func(r, c int) int) {
	shape := t.Shape()
	if !trans {
		return shape[0], shape[1], func(r, c int) int { return r*shape[1] + c }
	}
	return shape[1], shape[0], func(r, c int) int { return c*shape[1] + r }
}

func (m *MatMul) Eval(inputs []*tens.Tensor) ([]*tens.Tensor, error) {
	if len(inputs) != 2 {
		return nil, infererr.New(infererr.ArityMismatch, "matmul expects exactly 2 inputs")
	}
	a, b := inputs[0], inputs[1]
	if a.Rank() != 2 || b.Rank() != 2 {
		return nil, infererr.New(infererr.ShapeMismatch, "matmul operands must be rank 2")
	}
	if a.DatumType() != b.DatumType() {
		return nil, infererr.New(infererr.UnificationConflict, "matmul operands must share a datum type")
	}
	ar, ac, aAt := transposed(a, m.TransA)
	br, bc, bAt := transposed(b, m.TransB)
	if ac != br {
		return nil, infererr.New(infererr.ShapeMismatch, "matmul inner dimensions disagree")
	}
	switch a.DatumType() {
	case datum.F32:
		ad, bd := a.Data().([]float32), b.Data().([]float32)
		out := make([]float32, ar*bc)
		for r := 0; r < ar; r++ {
			for c := 0; c < bc; c++ {
				var acc float32
				for k := 0; k < ac; k++ {
					acc += ad[aAt(r, k)] * bd[bAt(k, c)]
				}
				out[r*bc+c] = acc
			}
		}
		return []*tens.Tensor{mustTensor(tens.FromBacking([]int{ar, bc}, out))}, nil
	case datum.F64:
		ad, bd := a.Data().([]float64), b.Data().([]float64)
		out := make([]float64, ar*bc)
		for r := 0; r < ar; r++ {
			for c := 0; c < bc; c++ {
				var acc float64
				for k := 0; k < ac; k++ {
					acc += ad[aAt(r, k)] * bd[bAt(k, c)]
				}
				out[r*bc+c] = acc
			}
		}
		return []*tens.Tensor{mustTensor(tens.FromBacking([]int{ar, bc}, out))}, nil
	default:
		return nil, infererr.New(infererr.EvaluationFailure, "unsupported dtype for matmul: "+a.DatumType().String())
	}
}

func mustTensor(t *tens.Tensor, err error) *tens.Tensor {
	if err != nil {
		panic(err)
	}
	return t
}

func (m *MatMul) Rules(s *solver.Solver, in, out []solver.TensorProxy) error {
	if len(in) != 2 || len(out) != 1 {
		return infererr.New(infererr.ArityMismatch, "matmul expects 2 inputs and 1 output")
	}
	if err := s.EqualsAllTypes(in[0].DatumType(), in[1].DatumType(), out[0].DatumType()); err != nil {
		return err
	}
	if err := s.Equals(in[0].Rank(), 2); err != nil {
		return err
	}
	if err := s.Equals(in[1].Rank(), 2); err != nil {
		return err
	}
	if err := s.Equals(out[0].Rank(), 2); err != nil {
		return err
	}
	ra, ca := 0, 1
	if m.TransA {
		ra, ca = 1, 0
	}
	rb, cb := 0, 1
	if m.TransB {
		rb, cb = 1, 0
	}
	if err := s.Equals(in[0].Shape().At(ra), out[0].Shape().At(0)); err != nil {
		return err
	}
	if err := s.Equals(in[0].Shape().At(ca), in[1].Shape().At(rb)); err != nil {
		return err
	}
	return s.Equals(in[1].Shape().At(cb), out[0].Shape().At(1))
}

func (m *MatMul) ToTyped(source *model.InferenceModel, node *model.InferenceNode, target *model.TypedModel, mapping map[model.OutletId]model.OutletId) ([]model.OutletId, error) {
	return (model.IdentityToTyped{Self: m}).ToTyped(source, node, target, mapping)
}

// Gemm is alpha*op(A)*op(B) + beta*C, decomposed at incorporate time into
// MatMul plus scalar multiplies/add (grounded on the original's
// ops::math::Gemm, whose incorporate performs exactly this rewrite).
type Gemm struct {
	model.Stateless
	Alpha, Beta    float32
	TransA, TransB bool
}

func (g *Gemm) Name() string    { return "Gemm" }
func (g *Gemm) NumOutputs() int { return 1 }

func (g *Gemm) Eval([]*tens.Tensor) ([]*tens.Tensor, error) {
	return nil, infererr.New(infererr.EvaluationFailure, "Gemm has no direct eval: it is rewritten at incorporate time")
}

func (g *Gemm) Rules(s *solver.Solver, in, out []solver.TensorProxy) error {
	if len(in) != 3 || len(out) != 1 {
		return infererr.New(infererr.ArityMismatch, "gemm expects 3 inputs and 1 output")
	}
	if err := s.Equals(in[2].DatumType(), out[0].DatumType()); err != nil {
		return err
	}
	if err := s.Equals(in[0].Rank(), 2); err != nil {
		return err
	}
	if err := s.Equals(in[1].Rank(), 2); err != nil {
		return err
	}
	if err := s.Equals(out[0].Rank(), 2); err != nil {
		return err
	}
	if err := s.EqualsAllTypes(in[0].DatumType(), out[0].DatumType()); err != nil {
		return err
	}
	if err := s.Equals(in[1].DatumType(), out[0].DatumType()); err != nil {
		return err
	}
	ra, ca := 0, 1
	if g.TransA {
		ra, ca = 1, 0
	}
	rb, cb := 0, 1
	if g.TransB {
		rb, cb = 1, 0
	}
	if err := s.Equals(in[0].Shape().At(ra), out[0].Shape().At(0)); err != nil {
		return err
	}
	if err := s.Equals(in[0].Shape().At(ca), in[1].Shape().At(rb)); err != nil {
		return err
	}
	return s.Equals(in[1].Shape().At(cb), out[0].Shape().At(1))
}

// Incorporate rewrites Gemm into MatMul(A,B), optionally scaled by alpha,
// plus beta*C added in, mirroring the original's Gemm::incorporate.
func (g *Gemm) Incorporate(m *model.InferenceModel, node *model.InferenceNode) (*model.Patch, error) {
	patch := model.NewPatch(m)
	a, b, c := node.Inputs[0], node.Inputs[1], node.Inputs[2]

	mmID, err := patch.AddNode(node.Name+"-ab", &MatMul{TransA: g.TransA, TransB: g.TransB}, 1, []fact.TensorFact{fact.Unknown()})
	if err != nil {
		return nil, err
	}
	if err := patch.Wire(mmID, a); err != nil {
		return nil, err
	}
	if err := patch.Wire(mmID, b); err != nil {
		return nil, err
	}
	result := model.OutletId{NodeID: mmID, Slot: 0}

	if g.Alpha != 1.0 {
		alphaT, err := tens.FromBacking([]int{}, []float32{g.Alpha})
		if err != nil {
			return nil, err
		}
		alphaConstID, err := patch.AddConst(node.Name+"-alpha", alphaT, fact.FromTensor(alphaT))
		if err != nil {
			return nil, err
		}
		mulID, err := patch.AddNode(node.Name+"-alpha_ab", &mathops.Binary{Kind: mathops.KindMul}, 1, []fact.TensorFact{fact.Unknown()})
		if err != nil {
			return nil, err
		}
		if err := patch.Wire(mulID, model.OutletId{NodeID: alphaConstID, Slot: 0}); err != nil {
			return nil, err
		}
		if err := patch.Wire(mulID, result); err != nil {
			return nil, err
		}
		result = model.OutletId{NodeID: mulID, Slot: 0}
	}

	if g.Beta != 0.0 {
		betaC := c
		if g.Beta != 1.0 {
			betaT, err := tens.FromBacking([]int{}, []float32{g.Beta})
			if err != nil {
				return nil, err
			}
			betaConstID, err := patch.AddConst(node.Name+"-beta", betaT, fact.FromTensor(betaT))
			if err != nil {
				return nil, err
			}
			mulID, err := patch.AddNode(node.Name+"-beta_c", &mathops.Binary{Kind: mathops.KindMul}, 1, []fact.TensorFact{fact.Unknown()})
			if err != nil {
				return nil, err
			}
			if err := patch.Wire(mulID, model.OutletId{NodeID: betaConstID, Slot: 0}); err != nil {
				return nil, err
			}
			if err := patch.Wire(mulID, betaC); err != nil {
				return nil, err
			}
			betaC = model.OutletId{NodeID: mulID, Slot: 0}
		}
		addID, err := patch.AddNode(node.Name+"-gemm", &mathops.Binary{Kind: mathops.KindAdd}, 1, []fact.TensorFact{fact.Unknown()})
		if err != nil {
			return nil, err
		}
		if err := patch.Wire(addID, betaC); err != nil {
			return nil, err
		}
		if err := patch.Wire(addID, result); err != nil {
			return nil, err
		}
		result = model.OutletId{NodeID: addID, Slot: 0}
	}

	patch.Shunt(model.OutletId{NodeID: node.ID, Slot: 0}, result)
	patch.Obliterate(node.ID)
	return patch, nil
}

func (g *Gemm) ToTyped(source *model.InferenceModel, node *model.InferenceNode, target *model.TypedModel, mapping map[model.OutletId]model.OutletId) ([]model.OutletId, error) {
	return nil, infererr.New(infererr.LoweringFailure, "Gemm must be rewritten by Incorporate before lowering")
}
