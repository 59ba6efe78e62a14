// Package solver implements the fluent constraint language of spec §4.5:
// operators register Equals/Given rules over TensorProxy paths instead
// of touching facts directly, and a fixed-point propagator resolves them.
package solver

import (
	"github.com/nervegraph/inferon/pkg/core/infer/datum"
	"github.com/nervegraph/inferon/pkg/core/infer/dim"
	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// side tags which half of a Solver's (inputs, outputs) pair a path
// addresses, matching the original's path roots 0/1.
type side int

const (
	sideInput side = iota
	sideOutput
)

// Path is the short integer sequence addressing into the solver's facts
// arrays (spec §4.5): [side, tensorIndex, field, axis?].
type Path []int

const (
	fieldDatumType = iota
	fieldRank
	fieldShape
	fieldValue
)

// TensorProxy is a declarative placeholder for one tensor's facts; it
// never holds a value, only the path to it.
type TensorProxy struct {
	s   side
	idx int
}

func newProxy(s side, idx int) TensorProxy { return TensorProxy{s: s, idx: idx} }

// DatumType returns a placeholder for this tensor's element type.
func (p TensorProxy) DatumType() TypeExp {
	return TypeExp{path: Path{int(p.s), p.idx, fieldDatumType}}
}

// Rank returns a placeholder for this tensor's rank.
func (p TensorProxy) Rank() IntExp {
	return IntExp{path: Path{int(p.s), p.idx, fieldRank}}
}

// Shape returns a placeholder for this tensor's whole shape.
func (p TensorProxy) Shape() ShapeExp {
	return ShapeExp{path: Path{int(p.s), p.idx, fieldShape}}
}

// Value returns a placeholder for this tensor's concrete value.
func (p TensorProxy) Value() ValueExp {
	return ValueExp{path: Path{int(p.s), p.idx, fieldValue}}
}

// TypeExp addresses a DatumType fact.
type TypeExp struct{ path Path }

// IntExp addresses an int-valued fact (rank).
type IntExp struct{ path Path }

// ShapeExp addresses a whole ShapeFact.
type ShapeExp struct{ path Path }

// At addresses a single axis of the shape (a DimExp).
func (s ShapeExp) At(axis int) DimExp {
	p := append(append(Path(nil), s.path...), axis)
	return DimExp{path: p}
}

// DimExp addresses a single symbolic dimension.
type DimExp struct{ path Path }

// ValueExp addresses a concrete tensor value.
type ValueExp struct{ path Path }

// kinds used by the solver to know how to read/write a path generically.
type kind int

const (
	kindType kind = iota
	kindRank
	kindShape
	kindDim
	kindValue
)

func (p Path) kind() kind {
	switch p[2] {
	case fieldDatumType:
		return kindType
	case fieldRank:
		return kindRank
	case fieldShape:
		if len(p) > 3 {
			return kindDim
		}
		return kindShape
	case fieldValue:
		return kindValue
	default:
		panic("solver: malformed path")
	}
}

// literal helpers so rules can target a constant instead of another path.
type Literal struct {
	dt      datum.DatumType
	hasDt   bool
	i       int
	hasI    bool
	d       dim.TDim
	hasD    bool
	shape   fact.ShapeFact
	hasSh   bool
	val     *tens.Tensor
	hasVal  bool
}

// DT wraps a concrete dtype as a rule-hand-side literal.
func DT(d datum.DatumType) Literal { return Literal{dt: d, hasDt: true} }

// Rank wraps a concrete rank as a rule-hand-side literal.
func Rank(n int) Literal { return Literal{i: n, hasI: true} }

// Dim wraps a concrete TDim as a rule-hand-side literal.
func Dim(d dim.TDim) Literal { return Literal{d: d, hasD: true} }

// Shape wraps a concrete ShapeFact as a rule-hand-side literal.
func Shape(s fact.ShapeFact) Literal { return Literal{shape: s, hasSh: true} }

// Value wraps a concrete tensor as a rule-hand-side literal.
func Value(t *tens.Tensor) Literal { return Literal{val: t, hasVal: true} }
