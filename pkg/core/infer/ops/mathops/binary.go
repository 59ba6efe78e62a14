// Package mathops implements the elementwise arithmetic operators of
// spec §6 (Add/Sub/Mul/Div) plus the unary constant-operand forms used
// by lowering-time rewrites such as BatchNorm folding and Gemm
// decomposition.
package mathops

import (
	"github.com/nervegraph/inferon/pkg/core/infer/analyser"
	"github.com/nervegraph/inferon/pkg/core/infer/datum"
	"github.com/nervegraph/inferon/pkg/core/infer/dim"
	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	"github.com/nervegraph/inferon/pkg/core/infer/model"
	"github.com/nervegraph/inferon/pkg/core/infer/solver"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// Kind names the arithmetic performed; the same Binary type serves all
// four spec-listed operators, differing only by kernel.
type Kind int

const (
	KindAdd Kind = iota
	KindSub
	KindMul
	KindDiv
)

func (k Kind) String() string {
	switch k {
	case KindAdd:
		return "Add"
	case KindSub:
		return "Sub"
	case KindMul:
		return "Mul"
	case KindDiv:
		return "Div"
	default:
		return "Binary"
	}
}

// Binary is a broadcasting elementwise binary operator (spec §6 S1, S3).
type Binary struct {
	model.Stateless
	model.NotIncorporated
	Kind Kind
}

func (b *Binary) Name() string    { return b.Kind.String() }
func (b *Binary) NumOutputs() int { return 1 }

func (b *Binary) Eval(inputs []*tens.Tensor) ([]*tens.Tensor, error) {
	if len(inputs) != 2 {
		return nil, infererr.New(infererr.ArityMismatch, "binary op expects exactly 2 inputs")
	}
	out, err := broadcastEval(b.Kind, inputs[0], inputs[1])
	if err != nil {
		return nil, err
	}
	return []*tens.Tensor{out}, nil
}

// Rules is superseded by InferFacts below (spec §4.6's "unary or binary
// operators" shortcut bypasses the solver entirely); kept as a no-op to
// satisfy the Op contract, mirroring Memory's own Rules.
func (b *Binary) Rules(*solver.Solver, []solver.TensorProxy, []solver.TensorProxy) error { return nil }

// InferFacts implements analyser.CustomInferrer: a broadcasting binary
// op's output dtype and shape are derived by InferForwardBasic (first
// forward-concrete evaluation, then the common dtype plus the
// broadcasting shape rule over whatever rank each operand already
// carries), tolerating a still-partially-unknown operand rather than
// requiring both shapes fully closed (spec §4.6.1, grounded on the
// original's infer_forward_basic/infer_shape_broadcasting — the binary
// operator shortcut the helpers describe).
func (b *Binary) InferFacts(inputs, outputs, observed []fact.TensorFact) ([]fact.TensorFact, []fact.TensorFact, []fact.TensorFact, error) {
	if len(inputs) != 2 || len(outputs) != 1 {
		return nil, nil, nil, infererr.New(infererr.ArityMismatch, "binary op expects 2 inputs and 1 output")
	}

	typeEq := func(a, b datum.DatumType) bool { return a == b }
	dt, err := inputs[0].Type.Unify(inputs[1].Type, typeEq)
	if err != nil {
		return nil, nil, nil, infererr.Wrap(infererr.UnificationConflict, "binary op operand datum types", err)
	}
	dt, err = dt.Unify(outputs[0].Type, typeEq)
	if err != nil {
		return nil, nil, nil, infererr.Wrap(infererr.UnificationConflict, "binary op datum type vs output", err)
	}
	in0 := fact.TensorFact{Type: dt, Shape: inputs[0].Shape, Value: inputs[0].Value}
	in1 := fact.TensorFact{Type: dt, Shape: inputs[1].Shape, Value: inputs[1].Value}
	out := fact.TensorFact{Type: dt, Shape: outputs[0].Shape, Value: outputs[0].Value}

	basic, ok, err := analyser.InferForwardBasic(b, []fact.TensorFact{in0, in1})
	if err != nil {
		return nil, nil, nil, err
	}
	if ok {
		merged, err := out.Unify(basic[0])
		if err != nil {
			return nil, nil, nil, err
		}
		out = merged
	}
	return []fact.TensorFact{in0, in1}, []fact.TensorFact{out}, append([]fact.TensorFact(nil), observed...), nil
}

func (b *Binary) ToTyped(source *model.InferenceModel, node *model.InferenceNode, target *model.TypedModel, mapping map[model.OutletId]model.OutletId) ([]model.OutletId, error) {
	return (model.IdentityToTyped{Self: b}).ToTyped(source, node, target, mapping)
}

var _ analyser.CustomInferrer = (*Binary)(nil)

// BroadcastShapes implements spec §4.6.1's aligned-from-the-right
// broadcasting rule over fully concretized shapes.
func BroadcastShapes(a, b []dim.TDim) ([]dim.TDim, error) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]dim.TDim, n)
	for i := 0; i < n; i++ {
		ai := n - 1 - i
		da, haveA := dimAt(a, ai)
		db, haveB := dimAt(b, ai)
		d, err := broadcastOne(da, haveA, db, haveB)
		if err != nil {
			return nil, err
		}
		out[n-1-i] = d
	}
	return out, nil
}

func dimAt(s []dim.TDim, fromRight int) (dim.TDim, bool) {
	idx := len(s) - 1 - fromRight
	if idx < 0 {
		return dim.TDim{}, false
	}
	return s[idx], true
}

func broadcastOne(a dim.TDim, haveA bool, b dim.TDim, haveB bool) (dim.TDim, error) {
	switch {
	case !haveA && !haveB:
		return dim.Int(1), nil
	case haveA && !haveB:
		return normalizeOne(a), nil
	case !haveA && haveB:
		return normalizeOne(b), nil
	default:
		aIsOne := a.IsInteger() && a.IsOne()
		bIsOne := b.IsInteger() && b.IsOne()
		switch {
		case aIsOne && bIsOne:
			return dim.Int(1), nil
		case aIsOne:
			return b, nil
		case bIsOne:
			return a, nil
		case a.Equal(b):
			return a, nil
		default:
			return dim.TDim{}, infererr.New(infererr.BroadcastConflict, "incompatible non-1 dims at an aligned axis")
		}
	}
}

func normalizeOne(d dim.TDim) dim.TDim {
	if d.IsInteger() && d.IsOne() {
		return dim.Int(1)
	}
	return d
}

func broadcastEval(kind Kind, a, b *tens.Tensor) (*tens.Tensor, error) {
	outShape, err := BroadcastShapes(intsToTDims(a.Shape()), intsToTDims(b.Shape()))
	if err != nil {
		return nil, err
	}
	shape := make([]int, len(outShape))
	for i, d := range outShape {
		n, err := d.ToInteger()
		if err != nil {
			return nil, infererr.Wrap(infererr.EvaluationFailure, "broadcast dim is symbolic", err)
		}
		shape[i] = int(n)
	}
	return kernelFor(a.DatumType())(kind, a, b, shape)
}

func intsToTDims(s []int) []dim.TDim {
	out := make([]dim.TDim, len(s))
	for i, v := range s {
		out[i] = dim.Int(int64(v))
	}
	return out
}
