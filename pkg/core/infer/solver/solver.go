package solver

import (
	"reflect"

	"github.com/nervegraph/inferon/pkg/core/infer/datum"
	"github.com/nervegraph/inferon/pkg/core/infer/dim"
	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// rule is one pending constraint. step re-evaluates it against the
// solver's current facts; changed reports whether any fact tightened;
// retire reports whether the rule is done and should leave the worklist
// (equals rules never retire on their own; given rules retire once
// fired, per spec §4.5).
type rule interface {
	step(s *Solver) (changed bool, retire bool, err error)
}

// Solver is the fixed-point propagator of spec §4.5. Each InferenceOp
// builds one per call to infer facts, registers its rules, then calls
// Solve.
type Solver struct {
	inputs  []fact.TensorFact
	outputs []fact.TensorFact
	rules   []rule
}

// Inputs exposes proxies for the op's input tensors.
func (s *Solver) Inputs(n int) []TensorProxy {
	out := make([]TensorProxy, n)
	for i := range out {
		out[i] = newProxy(sideInput, i)
	}
	return out
}

// Outputs exposes proxies for the op's output tensors.
func (s *Solver) Outputs(n int) []TensorProxy {
	out := make([]TensorProxy, n)
	for i := range out {
		out[i] = newProxy(sideOutput, i)
	}
	return out
}

func (s *Solver) addRule(r rule) { s.rules = append(s.rules, r) }

func (s *Solver) tensorFactAt(p Path) *fact.TensorFact {
	if side(p[0]) == sideInput {
		return &s.inputs[p[1]]
	}
	return &s.outputs[p[1]]
}

// --- generic get/set by path, dispatched on Path.kind() ---

func (s *Solver) getType(p Path) fact.TypeFact { return s.tensorFactAt(p).Type }
func (s *Solver) setType(p Path, v fact.TypeFact) { s.tensorFactAt(p).Type = v }

func (s *Solver) getRank(p Path) fact.GenericFact[int] { return s.tensorFactAt(p).Shape.Rank() }

func (s *Solver) setRank(p Path, v fact.GenericFact[int]) error {
	n, ok := v.Concretize()
	if !ok {
		return nil
	}
	tf := s.tensorFactAt(p)
	shape := tf.Shape
	if !shape.Open {
		if len(shape.Dims) != n {
			return infererr.New(infererr.ShapeMismatch, "rank rule conflicts with already-closed shape")
		}
		return nil
	}
	if len(shape.Dims) > n {
		return infererr.New(infererr.ShapeMismatch, "rank rule conflicts with known prefix length")
	}
	dims := append([]fact.DimFact(nil), shape.Dims...)
	for len(dims) < n {
		dims = append(dims, fact.Any[dim.TDim]())
	}
	tf.Shape = fact.ShapeFact{Dims: dims}
	return nil
}

func (s *Solver) getShape(p Path) fact.ShapeFact { return s.tensorFactAt(p).Shape }
func (s *Solver) setShape(p Path, v fact.ShapeFact) { s.tensorFactAt(p).Shape = v }

func (s *Solver) getDim(p Path) fact.DimFact {
	axis := p[len(p)-1]
	return s.tensorFactAt(p).Shape.Dim(axis)
}

func (s *Solver) setDim(p Path, v fact.DimFact) error {
	d, ok := v.Concretize()
	if !ok {
		return nil
	}
	axis := p[len(p)-1]
	tf := s.tensorFactAt(p)
	shape := tf.Shape
	if axis >= len(shape.Dims) {
		if !shape.Open {
			return infererr.New(infererr.ShapeMismatch, "axis out of range for closed shape")
		}
		dims := append([]fact.DimFact(nil), shape.Dims...)
		for len(dims) <= axis {
			dims = append(dims, fact.Any[dim.TDim]())
		}
		shape = fact.ShapeFact{Dims: dims, Open: true}
	}
	newShape, err := shape.SetDim(axis, d)
	if err != nil {
		return err
	}
	tf.Shape = newShape
	return nil
}

func (s *Solver) getValue(p Path) fact.ValueFact { return s.tensorFactAt(p).Value }
func (s *Solver) setValue(p Path, v fact.ValueFact) { s.tensorFactAt(p).Value = v }

func changedFact(before, after any) bool { return !reflect.DeepEqual(before, after) }

// --- Equals family ---

type eqRule struct {
	a, b Path
}

func (r *eqRule) step(s *Solver) (bool, bool, error) {
	switch r.a.kind() {
	case kindType:
		a, b := s.getType(r.a), s.getType(r.b)
		m, err := a.Unify(b, func(x, y datum.DatumType) bool { return x == y })
		if err != nil {
			return false, false, err
		}
		before := [2]fact.TypeFact{a, b}
		s.setType(r.a, m)
		s.setType(r.b, m)
		return changedFact(before, [2]fact.TypeFact{m, m}), false, nil
	case kindRank:
		a, b := s.getRank(r.a), s.getRank(r.b)
		m, err := a.Unify(b, func(x, y int) bool { return x == y })
		if err != nil {
			return false, false, err
		}
		before := [2]fact.GenericFact[int]{a, b}
		if err := s.setRank(r.a, m); err != nil {
			return false, false, err
		}
		if err := s.setRank(r.b, m); err != nil {
			return false, false, err
		}
		return changedFact(before, [2]fact.GenericFact[int]{m, m}), false, nil
	case kindShape:
		a, b := s.getShape(r.a), s.getShape(r.b)
		m, err := fact.UnifyShape(a, b)
		if err != nil {
			return false, false, err
		}
		before := [2]fact.ShapeFact{a, b}
		s.setShape(r.a, m)
		s.setShape(r.b, m)
		return changedFact(before, [2]fact.ShapeFact{m, m}), false, nil
	case kindDim:
		a, b := s.getDim(r.a), s.getDim(r.b)
		m, err := a.Unify(b, func(x, y dim.TDim) bool { return x.Equal(y) })
		if err != nil {
			return false, false, err
		}
		before := [2]fact.DimFact{a, b}
		if err := s.setDim(r.a, m); err != nil {
			return false, false, err
		}
		if err := s.setDim(r.b, m); err != nil {
			return false, false, err
		}
		return changedFact(before, [2]fact.DimFact{m, m}), false, nil
	case kindValue:
		a, b := s.getValue(r.a), s.getValue(r.b)
		m, err := a.Unify(b, func(x, y *tens.Tensor) bool { return x == y || (x != nil && y != nil && x.ID() == y.ID()) })
		if err != nil {
			return false, false, err
		}
		before := [2]fact.ValueFact{a, b}
		s.setValue(r.a, m)
		s.setValue(r.b, m)
		return changedFact(before, [2]fact.ValueFact{m, m}), false, nil
	default:
		return false, false, infererr.New(infererr.Parse, "malformed equals rule")
	}
}

type eqLitRule struct {
	a   Path
	lit Literal
}

func (r *eqLitRule) step(s *Solver) (bool, bool, error) {
	switch r.a.kind() {
	case kindType:
		a := s.getType(r.a)
		m, err := a.Unify(fact.Only(r.lit.dt), func(x, y datum.DatumType) bool { return x == y })
		if err != nil {
			return false, false, err
		}
		changed := changedFact(a, m)
		s.setType(r.a, m)
		return changed, false, nil
	case kindRank:
		a := s.getRank(r.a)
		m, err := a.Unify(fact.Only(r.lit.i), func(x, y int) bool { return x == y })
		if err != nil {
			return false, false, err
		}
		changed := changedFact(a, m)
		if err := s.setRank(r.a, m); err != nil {
			return false, false, err
		}
		return changed, false, nil
	case kindShape:
		a := s.getShape(r.a)
		m, err := fact.UnifyShape(a, r.lit.shape)
		if err != nil {
			return false, false, err
		}
		changed := changedFact(a, m)
		s.setShape(r.a, m)
		return changed, false, nil
	case kindDim:
		a := s.getDim(r.a)
		m, err := a.Unify(fact.Only(r.lit.d), func(x, y dim.TDim) bool { return x.Equal(y) })
		if err != nil {
			return false, false, err
		}
		changed := changedFact(a, m)
		if err := s.setDim(r.a, m); err != nil {
			return false, false, err
		}
		return changed, false, nil
	case kindValue:
		a := s.getValue(r.a)
		m, err := a.Unify(fact.Only(r.lit.val), func(x, y *tens.Tensor) bool {
			return x == y || (x != nil && y != nil && x.ID() == y.ID())
		})
		if err != nil {
			return false, false, err
		}
		changed := changedFact(a, m)
		s.setValue(r.a, m)
		return changed, false, nil
	default:
		return false, false, infererr.New(infererr.Parse, "malformed equals-literal rule")
	}
}

func isExp(v any) (Path, bool) {
	switch e := v.(type) {
	case TypeExp:
		return e.path, true
	case IntExp:
		return e.path, true
	case ShapeExp:
		return e.path, true
	case DimExp:
		return e.path, true
	case ValueExp:
		return e.path, true
	default:
		return nil, false
	}
}

func toLiteral(v any) (Literal, bool) {
	switch x := v.(type) {
	case datum.DatumType:
		return DT(x), true
	case int:
		return Rank(x), true
	case dim.TDim:
		return Dim(x), true
	case fact.ShapeFact:
		return Shape(x), true
	case *tens.Tensor:
		return Value(x), true
	case Literal:
		return x, true
	default:
		return Literal{}, false
	}
}

// Equals unifies a and b, where each is either a proxy expression
// (TypeExp/IntExp/ShapeExp/DimExp/ValueExp) or a matching Go literal.
// This mirrors the original's `solver.equals(path, path|literal)`.
func (s *Solver) Equals(a, b any) error {
	aPath, aIsExp := isExp(a)
	bPath, bIsExp := isExp(b)
	switch {
	case aIsExp && bIsExp:
		s.addRule(&eqRule{a: aPath, b: bPath})
	case aIsExp && !bIsExp:
		lit, ok := toLiteral(b)
		if !ok {
			return infererr.New(infererr.Parse, "equals: right-hand side is neither a proxy nor a known literal")
		}
		s.addRule(&eqLitRule{a: aPath, lit: lit})
	case !aIsExp && bIsExp:
		lit, ok := toLiteral(a)
		if !ok {
			return infererr.New(infererr.Parse, "equals: left-hand side is neither a proxy nor a known literal")
		}
		s.addRule(&eqLitRule{a: bPath, lit: lit})
	default:
		return infererr.New(infererr.Parse, "equals: at least one side must be a proxy expression")
	}
	return nil
}

// EqualsAllDims unifies every given dimension placeholder to one common
// value (spec §4.5 equals_all).
func (s *Solver) EqualsAllDims(exps ...DimExp) error {
	for i := 1; i < len(exps); i++ {
		if err := s.Equals(exps[0], exps[i]); err != nil {
			return err
		}
	}
	return nil
}

// EqualsAllTypes unifies every given dtype placeholder to one common value.
func (s *Solver) EqualsAllTypes(exps ...TypeExp) error {
	for i := 1; i < len(exps); i++ {
		if err := s.Equals(exps[0], exps[i]); err != nil {
			return err
		}
	}
	return nil
}

// Solve runs the propagation loop to a fixed point (spec §4.5 algorithm)
// and returns the resolved facts, or the first unification error.
func (s *Solver) Solve(inputs, outputs []fact.TensorFact) ([]fact.TensorFact, []fact.TensorFact, error) {
	s.inputs = append([]fact.TensorFact(nil), inputs...)
	s.outputs = append([]fact.TensorFact(nil), outputs...)
	for {
		current := s.rules
		s.rules = nil
		changedAny := false
		for _, r := range current {
			changed, retire, err := r.step(s)
			if err != nil {
				return nil, nil, err
			}
			if changed {
				changedAny = true
			}
			if !retire {
				s.rules = append(s.rules, r)
			}
		}
		if !changedAny {
			break
		}
	}
	return s.inputs, s.outputs, nil
}
