// Package analyser drives the rule solver (C5) over an inference graph
// until no fact tightens any further (spec §4.6), grounded on the
// original's analyser/helpers.rs and analyser/mod.rs.
package analyser

import (
	"github.com/nervegraph/inferon/pkg/core/infer/dim"
	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	"github.com/nervegraph/inferon/pkg/core/infer/model"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// InferForwardConcrete is the default per-node shortcut: when every
// input has a concretized value, it evaluates the operator directly and
// returns the fully concrete output facts (spec §4.6
// "infer_forward_concrete"). ok is false when some input is still
// unknown, in which case the caller should fall back to rule-based
// inference instead.
func InferForwardConcrete(op model.Op, inputs []fact.TensorFact) (outputs []fact.TensorFact, ok bool, err error) {
	values := make([]*tens.Tensor, len(inputs))
	for i, in := range inputs {
		v, has := in.Value.Concretize()
		if !has {
			return nil, false, nil
		}
		values[i] = v
	}
	out, err := op.Eval(values)
	if err != nil {
		return nil, false, err
	}
	outs := make([]fact.TensorFact, len(out))
	for i, t := range out {
		outs[i] = fact.FromTensor(t)
	}
	return outs, true, nil
}

// InferShapeBroadcasting derives one output shape from several input
// shapes by the numpy-style broadcasting rule of spec §4.6.1, aligning
// ranks from the right, dropping Any and Only(1) dims, and failing on
// two distinct known dims at the same aligned axis. ok is false when any
// input shape is still open (rank unknown) or an axis can't yet be
// resolved.
func InferShapeBroadcasting(shapes []fact.ShapeFact) (out fact.ShapeFact, ok bool, err error) {
	bound := 0
	for _, s := range shapes {
		if s.IsOpen() {
			return fact.ShapeFact{}, false, nil
		}
		if len(s.Dims) > bound {
			bound = len(s.Dims)
		}
	}

	dims := make([]fact.DimFact, bound)
	for i := 0; i < bound; i++ {
		var known *dim.TDim
		unknown := 0
		for _, s := range shapes {
			rank := len(s.Dims)
			if i >= rank {
				continue
			}
			d := s.Dims[rank-i-1]
			v, has := d.Concretize()
			switch {
			case !has:
				unknown++
			case v.IsOne():
				// dropped: broadcasts against whatever the other operand carries
			case known != nil && !known.Equal(v):
				return fact.ShapeFact{}, false, infererr.New(infererr.BroadcastConflict,
					"broadcasting: incompatible dims at this axis")
			default:
				vv := v
				known = &vv
			}
		}
		switch {
		case unknown > 1:
			return fact.ShapeFact{}, false, nil
		case unknown == 1 && known != nil:
			// one side unresolved, the other concrete and not 1: can't
			// tell yet whether the unresolved side is 1 or must match.
			return fact.ShapeFact{}, false, nil
		case unknown == 1:
			dims[bound-i-1] = fact.Any[dim.TDim]()
		case known != nil:
			dims[bound-i-1] = fact.Only(*known)
		default:
			dims[bound-i-1] = fact.Only(dim.Int(1))
		}
	}
	return fact.Closed(dims...), true, nil
}

// InferForwardBasic is the default shortcut for unary/binary operators:
// it first tries InferForwardConcrete, then falls back to deriving the
// common dtype from any known input and the broadcast shape alone (spec
// §4.6 "infer_forward_basic").
func InferForwardBasic(op model.Op, inputs []fact.TensorFact) ([]fact.TensorFact, bool, error) {
	if out, ok, err := InferForwardConcrete(op, inputs); ok || err != nil {
		return out, ok, err
	}

	var dt fact.TypeFact
	for _, in := range inputs {
		if v, has := in.Type.Concretize(); has {
			dt = fact.Only(v)
			break
		}
	}

	shapes := make([]fact.ShapeFact, len(inputs))
	for i, in := range inputs {
		shapes[i] = in.Shape
	}
	outShape, ok, err := InferShapeBroadcasting(shapes)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		outShape = fact.Open1D()
	}

	outs := make([]fact.TensorFact, op.NumOutputs())
	for i := range outs {
		outs[i] = fact.TensorFact{Type: dt, Shape: outShape, Value: fact.Any[*tens.Tensor]()}
	}
	return outs, true, nil
}
