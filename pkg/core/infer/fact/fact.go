// Package fact implements the partial-information lattice of spec §4.1:
// a GenericFact[T] is either Any or Only(v), with meet (unification) as
// the sole combinator, plus the three specializations (type, dim,
// value) and their composite, TensorFact.
package fact

import (
	"fmt"

	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
)

// GenericFact is a partial description of a single scalar quantity of
// type T: Any (nothing known) or Only(v) (exactly v).
type GenericFact[T any] struct {
	known bool
	value T
}

// Any returns the uninformative fact.
func Any[T any]() GenericFact[T] { return GenericFact[T]{} }

// Only returns the fact asserting exactly v.
func Only[T any](v T) GenericFact[T] { return GenericFact[T]{known: true, value: v} }

// Concretize returns (v, true) if the fact is Only(v), else (zero, false).
func (f GenericFact[T]) Concretize() (T, bool) {
	return f.value, f.known
}

// IsAny reports whether the fact carries no information.
func (f GenericFact[T]) IsAny() bool { return !f.known }

// Unify computes the meet of f and o using eq to compare concrete
// values: Any⊓x=x, Only(a)⊓Only(b)=Only(a) if eq(a,b) else conflict.
func (f GenericFact[T]) Unify(o GenericFact[T], eq func(a, b T) bool) (GenericFact[T], error) {
	if !f.known {
		return o, nil
	}
	if !o.known {
		return f, nil
	}
	if !eq(f.value, o.value) {
		return GenericFact[T]{}, infererr.New(infererr.UnificationConflict,
			fmt.Sprintf("cannot unify %v with %v", f.value, o.value))
	}
	return f, nil
}

// UnifyWithMut unifies f and *o symmetrically in place: on success both
// end up logically equal; on conflict neither is modified (spec §4.1
// "Contract: both operands end logically equal; on conflict, neither is
// modified").
func (f *GenericFact[T]) UnifyWithMut(o *GenericFact[T], eq func(a, b T) bool) error {
	m, err := f.Unify(*o, eq)
	if err != nil {
		return err
	}
	*f = m
	*o = m
	return nil
}

func (f GenericFact[T]) String() string {
	if !f.known {
		return "Any"
	}
	return fmt.Sprintf("Only(%v)", f.value)
}
