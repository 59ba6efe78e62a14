// Package arrayops implements the shape-manipulating operators: Reshape,
// Shape (with its symbolic/concrete dtype duality, spec §6 scenario S6)
// and Slice (grounded on the original's ops/array package).
package arrayops

import (
	"github.com/nervegraph/inferon/pkg/core/infer/dim"
	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	"github.com/nervegraph/inferon/pkg/core/infer/model"
	"github.com/nervegraph/inferon/pkg/core/infer/solver"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// Reshape takes a tensor and a shape tensor (with at most one -1
// wildcard axis and zeroes meaning "keep the input's dim"), producing a
// tensor with the same element count and the requested shape. Grounded
// on the original's ops::array::Reshape.
type Reshape struct {
	model.Stateless
	model.NotIncorporated
}

func (r *Reshape) Name() string    { return "Reshape" }
func (r *Reshape) NumOutputs() int { return 1 }

// computeShape resolves 0 (keep input dim) and one -1 (infer from total
// element count) wildcards against the input's own shape.
func computeShape(input []int, requested []int64) ([]int, error) {
	out := make([]int, len(requested))
	minusOne := -1
	for i, d := range requested {
		switch {
		case d > 0:
			out[i] = int(d)
		case d == 0:
			if i >= len(input) {
				return nil, infererr.New(infererr.ShapeMismatch, "reshape: 0-wildcard axis has no matching input axis")
			}
			out[i] = input[i]
		case d == -1:
			if minusOne >= 0 {
				return nil, infererr.New(infererr.InvalidInput, "reshape: at most one -1 wildcard axis is allowed")
			}
			minusOne = i
		default:
			return nil, infererr.New(infererr.InvalidInput, "reshape: shape entries must be -1, 0, or positive")
		}
	}
	if minusOne >= 0 {
		inTotal := 1
		for _, d := range input {
			inTotal *= d
		}
		outKnown := 1
		for i, d := range out {
			if i != minusOne {
				outKnown *= d
			}
		}
		if outKnown == 0 || inTotal%outKnown != 0 {
			return nil, infererr.New(infererr.ShapeMismatch, "reshape: element count does not divide evenly for the -1 axis")
		}
		out[minusOne] = inTotal / outKnown
	}
	return out, nil
}

func tensorAsInt64(t *tens.Tensor) ([]int64, error) {
	switch d := t.Data().(type) {
	case []int64:
		return d, nil
	case []int32:
		out := make([]int64, len(d))
		for i, v := range d {
			out[i] = int64(v)
		}
		return out, nil
	case []dim.TDim:
		out := make([]int64, len(d))
		for i, v := range d {
			n, err := v.ToInteger()
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return nil, infererr.New(infererr.InvalidInput, "reshape: shape tensor must hold integers")
	}
}

func (r *Reshape) Eval(inputs []*tens.Tensor) ([]*tens.Tensor, error) {
	if len(inputs) != 2 {
		return nil, infererr.New(infererr.ArityMismatch, "reshape expects exactly 2 inputs")
	}
	in, shapeT := inputs[0], inputs[1]
	requested, err := tensorAsInt64(shapeT)
	if err != nil {
		return nil, err
	}
	oshape, err := computeShape(in.Shape(), requested)
	if err != nil {
		return nil, err
	}
	return []*tens.Tensor{reshapeData(in, oshape)}, nil
}

// reshapeData builds a new tensor sharing in's backing values under a
// different shape (a reshape never moves data, only reinterprets it).
func reshapeData(in *tens.Tensor, shape []int) *tens.Tensor {
	switch d := in.Data().(type) {
	case []float32:
		t, _ := tens.FromBacking(shape, append([]float32(nil), d...))
		return t
	case []float64:
		t, _ := tens.FromBacking(shape, append([]float64(nil), d...))
		return t
	case []int32:
		t, _ := tens.FromBacking(shape, append([]int32(nil), d...))
		return t
	case []int64:
		t, _ := tens.FromBacking(shape, append([]int64(nil), d...))
		return t
	case []dim.TDim:
		return tens.NewTDim(shape, append([]dim.TDim(nil), d...))
	default:
		return in
	}
}

func (r *Reshape) Rules(s *solver.Solver, in, out []solver.TensorProxy) error {
	if len(in) != 2 || len(out) != 1 {
		return infererr.New(infererr.ArityMismatch, "reshape expects 2 inputs and 1 output")
	}
	if err := s.Equals(out[0].DatumType(), in[0].DatumType()); err != nil {
		return err
	}
	s.Given2ShapeValue(in[0].Shape(), in[1].Value(), func(sv *solver.Solver, ishape []dim.TDim, shapeT *tens.Tensor) error {
		requested, err := tensorAsInt64(shapeT)
		if err != nil {
			return err
		}
		iints := make([]int, len(ishape))
		for i, d := range ishape {
			n, err := d.ToInteger()
			if err != nil {
				return nil // symbolic input shape: can't resolve wildcards yet
			}
			iints[i] = int(n)
		}
		oshape, err := computeShape(iints, requested)
		if err != nil {
			return err
		}
		dims := make([]fact.DimFact, len(oshape))
		for i, d := range oshape {
			dims[i] = fact.Only(dim.Int(int64(d)))
		}
		return sv.Equals(out[0].Shape(), fact.Closed(dims...))
	})
	return nil
}

func (r *Reshape) ToTyped(source *model.InferenceModel, node *model.InferenceNode, target *model.TypedModel, mapping map[model.OutletId]model.OutletId) ([]model.OutletId, error) {
	shapeFact, err := target.OutletFact(mapping[node.Inputs[1]])
	if err != nil {
		return nil, err
	}
	if shapeFact.Konst == nil {
		return nil, infererr.New(infererr.LoweringFailure, "reshape: shape input is not constant")
	}
	requested, err := tensorAsInt64(shapeFact.Konst)
	if err != nil {
		return nil, err
	}
	xFact, err := target.OutletFact(mapping[node.Inputs[0]])
	if err != nil {
		return nil, err
	}
	oshape, err := computeShape(xFact.Shape, requested)
	if err != nil {
		return nil, err
	}
	id, err := target.AddNode(node.Name, &IntoShape{Shape: oshape}, 1, []fact.TypedTensorInfo{{DType: xFact.DType, Shape: oshape}})
	if err != nil {
		return nil, err
	}
	if err := target.AddEdge(mapping[node.Inputs[0]], model.InletId{NodeID: id, Slot: 0}); err != nil {
		return nil, err
	}
	return []model.OutletId{{NodeID: id, Slot: 0}}, nil
}

// IntoShape is Reshape's typed form once the target shape is a
// compile-time constant: a pure reinterpretation of an input's data
// under a new, fixed shape (grounded on the original's array::IntoShape).
type IntoShape struct {
	model.Stateless
	model.NotIncorporated
	Shape []int
}

func (o *IntoShape) Name() string    { return "IntoShape" }
func (o *IntoShape) NumOutputs() int { return 1 }

func (o *IntoShape) Eval(inputs []*tens.Tensor) ([]*tens.Tensor, error) {
	if len(inputs) != 1 {
		return nil, infererr.New(infererr.ArityMismatch, "IntoShape expects exactly 1 input")
	}
	return []*tens.Tensor{reshapeData(inputs[0], o.Shape)}, nil
}

func (o *IntoShape) Rules(s *solver.Solver, in, out []solver.TensorProxy) error {
	if err := s.Equals(out[0].DatumType(), in[0].DatumType()); err != nil {
		return err
	}
	dims := make([]fact.DimFact, len(o.Shape))
	for i, d := range o.Shape {
		dims[i] = fact.Only(dim.Int(int64(d)))
	}
	return s.Equals(out[0].Shape(), fact.Closed(dims...))
}

func (o *IntoShape) ToTyped(source *model.InferenceModel, node *model.InferenceNode, target *model.TypedModel, mapping map[model.OutletId]model.OutletId) ([]model.OutletId, error) {
	return (model.IdentityToTyped{Self: o}).ToTyped(source, node, target, mapping)
}
