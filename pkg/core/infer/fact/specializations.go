package fact

import (
	"github.com/nervegraph/inferon/pkg/core/infer/datum"
	"github.com/nervegraph/inferon/pkg/core/infer/dim"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// TypeFact is a partial fact about an element type.
type TypeFact = GenericFact[datum.DatumType]

func typeEq(a, b datum.DatumType) bool { return a == b }

// UnifyType unifies two TypeFacts.
func UnifyType(a, b TypeFact) (TypeFact, error) { return a.Unify(b, typeEq) }

// DimFact is a partial fact about a single symbolic dimension.
type DimFact = GenericFact[dim.TDim]

func dimEq(a, b dim.TDim) bool { return a.Equal(b) }

// UnifyDim unifies two DimFacts.
func UnifyDim(a, b DimFact) (DimFact, error) { return a.Unify(b, dimEq) }

// ValueFact is a partial fact about a concrete tensor value.
type ValueFact = GenericFact[*tens.Tensor]

func valueEq(a, b *tens.Tensor) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.ID() == b.ID()
}

// UnifyValue unifies two ValueFacts.
func UnifyValue(a, b ValueFact) (ValueFact, error) { return a.Unify(b, valueEq) }
