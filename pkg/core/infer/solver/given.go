package solver

import (
	"github.com/nervegraph/inferon/pkg/core/infer/datum"
	"github.com/nervegraph/inferon/pkg/core/infer/dim"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// Given rules are deferred closures: they stay dormant until their
// watched path concretizes, fire exactly once, and may register further
// Equals/Given rules of their own (spec §4.5 "given").

type givenTypeRule struct {
	dep Path
	fn  func(*Solver, datum.DatumType) error
}

func (r *givenTypeRule) step(s *Solver) (bool, bool, error) {
	v, ok := s.getType(r.dep).Concretize()
	if !ok {
		return false, false, nil
	}
	if err := r.fn(s, v); err != nil {
		return false, false, err
	}
	return true, true, nil
}

// GivenType defers fn until dep's dtype is known.
func (s *Solver) GivenType(dep TypeExp, fn func(s *Solver, dt datum.DatumType) error) {
	s.addRule(&givenTypeRule{dep: dep.path, fn: fn})
}

type givenRankRule struct {
	dep Path
	fn  func(*Solver, int) error
}

func (r *givenRankRule) step(s *Solver) (bool, bool, error) {
	v, ok := s.getRank(r.dep).Concretize()
	if !ok {
		return false, false, nil
	}
	if err := r.fn(s, v); err != nil {
		return false, false, err
	}
	return true, true, nil
}

// GivenRank defers fn until dep's rank is known.
func (s *Solver) GivenRank(dep IntExp, fn func(s *Solver, n int) error) {
	s.addRule(&givenRankRule{dep: dep.path, fn: fn})
}

type givenDimRule struct {
	dep Path
	fn  func(*Solver, dim.TDim) error
}

func (r *givenDimRule) step(s *Solver) (bool, bool, error) {
	v, ok := s.getDim(r.dep).Concretize()
	if !ok {
		return false, false, nil
	}
	if err := r.fn(s, v); err != nil {
		return false, false, err
	}
	return true, true, nil
}

// GivenDim defers fn until dep's dimension is known.
func (s *Solver) GivenDim(dep DimExp, fn func(s *Solver, d dim.TDim) error) {
	s.addRule(&givenDimRule{dep: dep.path, fn: fn})
}

type givenShapeRule struct {
	dep Path
	fn  func(*Solver, []dim.TDim) error
}

func (r *givenShapeRule) step(s *Solver) (bool, bool, error) {
	v, ok := s.getShape(r.dep).Concretize()
	if !ok {
		return false, false, nil
	}
	if err := r.fn(s, v); err != nil {
		return false, false, err
	}
	return true, true, nil
}

// GivenShape defers fn until dep's whole shape (every dim, closed) is known.
func (s *Solver) GivenShape(dep ShapeExp, fn func(s *Solver, shape []dim.TDim) error) {
	s.addRule(&givenShapeRule{dep: dep.path, fn: fn})
}

type givenValueRule struct {
	dep Path
	fn  func(*Solver, *tens.Tensor) error
}

func (r *givenValueRule) step(s *Solver) (bool, bool, error) {
	v, ok := s.getValue(r.dep).Concretize()
	if !ok {
		return false, false, nil
	}
	if err := r.fn(s, v); err != nil {
		return false, false, err
	}
	return true, true, nil
}

// GivenValue defers fn until dep's concrete tensor value is known.
func (s *Solver) GivenValue(dep ValueExp, fn func(s *Solver, v *tens.Tensor) error) {
	s.addRule(&givenValueRule{dep: dep.path, fn: fn})
}

// Given2ShapeValue defers fn until both an input shape and a tensor value
// are known — the pattern Reshape uses to turn its second input's value
// into the output shape (spec §4.5 "given_2", grounded on the original's
// Reshape rules).
type given2ShapeValueRule struct {
	shapeDep Path
	valueDep Path
	fn       func(*Solver, []dim.TDim, *tens.Tensor) error
}

func (r *given2ShapeValueRule) step(s *Solver) (bool, bool, error) {
	shape, ok := s.getShape(r.shapeDep).Concretize()
	if !ok {
		return false, false, nil
	}
	val, ok := s.getValue(r.valueDep).Concretize()
	if !ok {
		return false, false, nil
	}
	if err := r.fn(s, shape, val); err != nil {
		return false, false, err
	}
	return true, true, nil
}

// Given2ShapeValue registers a two-dependency deferred rule over a shape
// and a value.
func (s *Solver) Given2ShapeValue(shapeDep ShapeExp, valueDep ValueExp, fn func(s *Solver, shape []dim.TDim, v *tens.Tensor) error) {
	s.addRule(&given2ShapeValueRule{shapeDep: shapeDep.path, valueDep: valueDep.path, fn: fn})
}

// Given2Shapes defers fn until two independent shapes are both known —
// the pattern broadcasting binary ops use (spec §4.6.1: "all must be
// closed; else defer").
type given2ShapesRule struct {
	aDep, bDep Path
	fn         func(*Solver, []dim.TDim, []dim.TDim) error
}

func (r *given2ShapesRule) step(s *Solver) (bool, bool, error) {
	a, ok := s.getShape(r.aDep).Concretize()
	if !ok {
		return false, false, nil
	}
	b, ok := s.getShape(r.bDep).Concretize()
	if !ok {
		return false, false, nil
	}
	if err := r.fn(s, a, b); err != nil {
		return false, false, err
	}
	return true, true, nil
}

// Given2Shapes registers a two-dependency deferred rule over two shapes.
func (s *Solver) Given2Shapes(aDep, bDep ShapeExp, fn func(s *Solver, a, b []dim.TDim) error) {
	s.addRule(&given2ShapesRule{aDep: aDep.path, bDep: bDep.path, fn: fn})
}
