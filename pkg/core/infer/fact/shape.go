package fact

import (
	"fmt"

	"github.com/nervegraph/inferon/pkg/core/infer/dim"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
)

// ShapeFact is a possibly-open ordered sequence of DimFacts (spec §3.1).
// Closed means the rank is fixed at len(Dims); open means trailing dims
// exist but their count is unknown.
type ShapeFact struct {
	Dims []DimFact
	Open bool
}

// Open1D builds a wide-open shape fact ("..." with no known prefix).
func Open1D() ShapeFact { return ShapeFact{Open: true} }

// Closed builds a closed shape fact with exactly the given dims.
func Closed(dims ...DimFact) ShapeFact { return ShapeFact{Dims: dims} }

// ClosedInts is a convenience constructor for fully concrete closed
// shapes, as used when authoring test models (spec §6 scenario S1/S2).
func ClosedInts(dims ...int) ShapeFact {
	out := make([]DimFact, len(dims))
	for i, d := range dims {
		out[i] = Only(dim.Int(int64(d)))
	}
	return ShapeFact{Dims: out}
}

// Rank returns the partial fact about the shape's rank.
func (s ShapeFact) Rank() GenericFact[int] {
	if s.Open {
		return Any[int]()
	}
	return Only(len(s.Dims))
}

// IsOpen reports whether the trailing dim count is unknown.
func (s ShapeFact) IsOpen() bool { return s.Open }

// Dim returns the DimFact at axis, or Any if axis falls beyond a known
// open prefix.
func (s ShapeFact) Dim(axis int) DimFact {
	if axis < len(s.Dims) {
		return s.Dims[axis]
	}
	return Any[dim.TDim]()
}

// SetDim returns a copy of s with dim axis tightened to v (meet, never
// weakens); axis must be within the known prefix.
func (s ShapeFact) SetDim(axis int, v dim.TDim) (ShapeFact, error) {
	if axis >= len(s.Dims) {
		return s, infererr.New(infererr.ShapeMismatch, fmt.Sprintf("axis %d beyond known shape prefix", axis))
	}
	cp := append([]DimFact(nil), s.Dims...)
	u, err := cp[axis].Unify(Only(v), dimEq)
	if err != nil {
		return s, err
	}
	cp[axis] = u
	return ShapeFact{Dims: cp, Open: s.Open}, nil
}

// Concretize returns the fully resolved []dim.TDim iff every dim and the
// rank are known.
func (s ShapeFact) Concretize() ([]dim.TDim, bool) {
	if s.Open {
		return nil, false
	}
	out := make([]dim.TDim, len(s.Dims))
	for i, d := range s.Dims {
		v, ok := d.Concretize()
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// UnifyShape implements spec §4.1's ShapeFact unification: closing an
// open shape against a compatible closed one, meeting overlapping
// prefixes, and failing on a closed/closed rank mismatch.
func UnifyShape(a, b ShapeFact) (ShapeFact, error) {
	switch {
	case !a.Open && !b.Open:
		if len(a.Dims) != len(b.Dims) {
			return ShapeFact{}, infererr.New(infererr.ShapeMismatch,
				fmt.Sprintf("rank mismatch: %d vs %d", len(a.Dims), len(b.Dims)))
		}
		out := make([]DimFact, len(a.Dims))
		for i := range a.Dims {
			u, err := a.Dims[i].Unify(b.Dims[i], dimEq)
			if err != nil {
				return ShapeFact{}, err
			}
			out[i] = u
		}
		return ShapeFact{Dims: out}, nil

	case !a.Open || !b.Open:
		closed, open := a, b
		if b.Open == false {
			closed, open = b, a
		}
		if len(open.Dims) > len(closed.Dims) {
			return ShapeFact{}, infererr.New(infererr.ShapeMismatch, "open shape's known prefix exceeds closed rank")
		}
		out := make([]DimFact, len(closed.Dims))
		for i := range closed.Dims {
			if i < len(open.Dims) {
				u, err := closed.Dims[i].Unify(open.Dims[i], dimEq)
				if err != nil {
					return ShapeFact{}, err
				}
				out[i] = u
			} else {
				out[i] = closed.Dims[i]
			}
		}
		return ShapeFact{Dims: out}, nil

	default: // both open
		n := len(a.Dims)
		if len(b.Dims) > n {
			n = len(b.Dims)
		}
		out := make([]DimFact, n)
		for i := 0; i < n; i++ {
			out[i] = Any[dim.TDim]()
			if i < len(a.Dims) {
				out[i] = a.Dims[i]
			}
			if i < len(b.Dims) {
				u, err := out[i].Unify(b.Dims[i], dimEq)
				if err != nil {
					return ShapeFact{}, err
				}
				out[i] = u
			}
		}
		return ShapeFact{Dims: out, Open: true}, nil
	}
}

func (s ShapeFact) String() string {
	parts := make([]string, len(s.Dims))
	for i, d := range s.Dims {
		parts[i] = d.String()
	}
	if s.Open {
		return fmt.Sprintf("%v,..", parts)
	}
	return fmt.Sprintf("%v", parts)
}
