package fact

import (
	"fmt"

	"github.com/nervegraph/inferon/pkg/core/infer/datum"
	"github.com/nervegraph/inferon/pkg/core/infer/dim"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// TensorFact is the triple (TypeFact, ShapeFact, ValueFact) of spec
// §3.2: everything the analyser knows, or doesn't, about one tensor.
type TensorFact struct {
	Type  TypeFact
	Shape ShapeFact
	Value ValueFact
}

// Unknown is the fully uninformative TensorFact.
func Unknown() TensorFact {
	return TensorFact{Type: Any[datum.DatumType](), Shape: Open1D(), Value: Any[*tens.Tensor]()}
}

// DtShape builds a TensorFact with a known type and closed shape but no
// known value — the common case for a graph's declared sources.
func DtShape(dt datum.DatumType, shape ...int) TensorFact {
	return TensorFact{Type: Only(dt), Shape: ClosedInts(shape...), Value: Any[*tens.Tensor]()}
}

// FromTensor builds the fully concrete TensorFact describing t,
// mirroring dt_shape_from_tensor in the original.
func FromTensor(t *tens.Tensor) TensorFact {
	dims := make([]DimFact, t.Rank())
	for i, d := range t.Shape() {
		dims[i] = Only(dim.Int(int64(d)))
	}
	return TensorFact{
		Type:  Only(t.DatumType()),
		Shape: ShapeFact{Dims: dims},
		Value: Only(t),
	}
}

// Unify computes the component-wise meet, then re-asserts the §3.2
// invariant that a known Value stays consistent with Type/Shape.
func (f TensorFact) Unify(o TensorFact) (TensorFact, error) {
	t, err := f.Type.Unify(o.Type, typeEq)
	if err != nil {
		return TensorFact{}, infererr.Wrap(infererr.UnificationConflict, "datum type", err)
	}
	s, err := UnifyShape(f.Shape, o.Shape)
	if err != nil {
		return TensorFact{}, err
	}
	v, err := f.Value.Unify(o.Value, valueEq)
	if err != nil {
		return TensorFact{}, infererr.Wrap(infererr.UnificationConflict, "value", err)
	}
	merged := TensorFact{Type: t, Shape: s, Value: v}
	return merged.tightenFromValue()
}

// tightenFromValue enforces "if ValueFact is Only(t) then Type and Shape
// must be consistent with t" by meeting in the concrete tensor's own
// facts whenever a value has become known.
func (f TensorFact) tightenFromValue() (TensorFact, error) {
	val, ok := f.Value.Concretize()
	if !ok {
		return f, nil
	}
	vf := FromTensor(val)
	t, err := f.Type.Unify(vf.Type, typeEq)
	if err != nil {
		return TensorFact{}, infererr.Wrap(infererr.UnificationConflict, "value vs datum type", err)
	}
	s, err := UnifyShape(f.Shape, vf.Shape)
	if err != nil {
		return TensorFact{}, err
	}
	return TensorFact{Type: t, Shape: s, Value: f.Value}, nil
}

// UnifyWithMut mirrors GenericFact's symmetric in-place meet.
func (f *TensorFact) UnifyWithMut(o *TensorFact) error {
	m, err := f.Unify(*o)
	if err != nil {
		return err
	}
	*f = m
	*o = m
	return nil
}

func (f TensorFact) String() string {
	return fmt.Sprintf("TensorFact{%s, %s, %s}", f.Type, f.Shape, f.Value)
}

// TypedTensorInfo is the fully-determined post-lowering counterpart of
// TensorFact (spec §3.3): no Any permitted anywhere.
type TypedTensorInfo struct {
	DType datum.DatumType
	Shape []int
	Konst *tens.Tensor // non-nil when the value is a compile-time constant
}

// FromTensorFact converts a fully concretized TensorFact, failing if any
// component is still Any.
func FromTensorFact(f TensorFact) (TypedTensorInfo, error) {
	dt, ok := f.Type.Concretize()
	if !ok {
		return TypedTensorInfo{}, infererr.New(infererr.AnalysisStuck, "datum type still unknown")
	}
	shape, ok := f.Shape.Concretize()
	if !ok {
		return TypedTensorInfo{}, infererr.New(infererr.AnalysisStuck, "shape still unknown")
	}
	ishape := make([]int, len(shape))
	for i, d := range shape {
		n, err := d.ToInteger()
		if err != nil {
			return TypedTensorInfo{}, infererr.Wrap(infererr.AnalysisStuck, "shape dim is symbolic outside a scan body", err)
		}
		ishape[i] = int(n)
	}
	var konst *tens.Tensor
	if v, ok := f.Value.Concretize(); ok {
		konst = v
	}
	return TypedTensorInfo{DType: dt, Shape: ishape, Konst: konst}, nil
}

// ToTensorFact lifts a TypedTensorInfo back into the richer TensorFact
// lattice (used by the executor's debug-mode reassertion, spec §4.10).
func (ti TypedTensorInfo) ToTensorFact() TensorFact {
	dims := make([]DimFact, len(ti.Shape))
	for i, d := range ti.Shape {
		dims[i] = Only(dim.Int(int64(d)))
	}
	v := Any[*tens.Tensor]()
	if ti.Konst != nil {
		v = Only(ti.Konst)
	}
	return TensorFact{Type: Only(ti.DType), Shape: ShapeFact{Dims: dims}, Value: v}
}

// Unify lets TypedTensorInfo participate in the same meet-only
// SetOutletFact contract as TensorFact (spec §4.3): once a node is
// lowered its facts are concrete, so unifying two typed facts just
// checks they agree, keeping whichever side carries a known constant.
func (ti TypedTensorInfo) Unify(o TypedTensorInfo) (TypedTensorInfo, error) {
	if ti.DType != o.DType {
		return TypedTensorInfo{}, infererr.New(infererr.UnificationConflict, "typed datum types disagree")
	}
	if !tens.ShapeEqual(ti.Shape, o.Shape) {
		return TypedTensorInfo{}, infererr.New(infererr.ShapeMismatch, "typed shapes disagree")
	}
	merged := ti
	if merged.Konst == nil {
		merged.Konst = o.Konst
	}
	return merged, nil
}

func (ti TypedTensorInfo) String() string {
	return fmt.Sprintf("TypedTensorInfo{%s, %v}", ti.DType, ti.Shape)
}
