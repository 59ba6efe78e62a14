// Package dim implements the symbolic dimension algebra (spec §4.2): a
// dimension is either a plain integer or a linear expression a*S + b
// over the single reserved streaming-axis variable S.
package dim

import (
	"fmt"

	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
)

// TDim is an integer or a linear polynomial a*S + b over the one free
// stream variable S. Canonical form always has A == 0 for a pure
// integer; Stream reports whether S appears at all.
type TDim struct {
	A      int64 // coefficient of S
	B      int64 // constant term
	Stream bool  // true iff A != 0 (kept explicit for a cheap Equal/zero check)
}

// S is the reserved streaming-axis variable itself, i.e. 1*S + 0.
var S = TDim{A: 1, B: 0, Stream: true}

// Int builds a concrete integer TDim.
func Int(v int64) TDim { return TDim{B: v} }

func (d TDim) normalize() TDim {
	if d.A == 0 {
		d.Stream = false
	} else {
		d.Stream = true
	}
	return d
}

// IsInteger reports whether d carries no stream term.
func (d TDim) IsInteger() bool { return d.A == 0 }

// ToInteger succeeds iff d has no stream term (a=0), per spec §3.
func (d TDim) ToInteger() (int64, error) {
	if d.A != 0 {
		return 0, infererr.New(infererr.InvalidInput, fmt.Sprintf("symbolic dim %s is not a plain integer", d))
	}
	return d.B, nil
}

// Equal compares canonical forms; this is the only comparison TDim
// offers. It returns false whenever the forms differ (e.g. S+1 vs 2),
// even where the values could coincide for some S, so callers must not
// treat !Equal as "less than" or "different value".
func (d TDim) Equal(o TDim) bool {
	return d.normalize() == o.normalize()
}

// Add returns d + o.
func (d TDim) Add(o TDim) TDim {
	return TDim{A: d.A + o.A, B: d.B + o.B}.normalize()
}

// Sub returns d - o.
func (d TDim) Sub(o TDim) TDim {
	return TDim{A: d.A - o.A, B: d.B - o.B}.normalize()
}

// MulInt returns d * k for an integer k.
func (d TDim) MulInt(k int64) TDim {
	return TDim{A: d.A * k, B: d.B * k}.normalize()
}

// DivInt returns d / k, succeeding only when k divides both coefficients
// exactly (spec §3: "integer division when divisor divides all
// coefficients").
func (d TDim) DivInt(k int64) (TDim, error) {
	if k == 0 {
		return TDim{}, infererr.New(infererr.InvalidInput, "division by zero dim")
	}
	if d.A%k != 0 || d.B%k != 0 {
		return TDim{}, infererr.New(infererr.InvalidInput, fmt.Sprintf("%s is not divisible by %d", d, k))
	}
	return TDim{A: d.A / k, B: d.B / k}.normalize(), nil
}

// IsOne reports whether d is the concrete integer 1 (used by the
// broadcast rule to special-case size-1 axes).
func (d TDim) IsOne() bool { return d.A == 0 && d.B == 1 }

func (d TDim) String() string {
	if !d.Stream {
		return fmt.Sprintf("%d", d.B)
	}
	switch {
	case d.A == 1 && d.B == 0:
		return "S"
	case d.B == 0:
		return fmt.Sprintf("%d*S", d.A)
	case d.B > 0:
		return fmt.Sprintf("%d*S+%d", d.A, d.B)
	default:
		return fmt.Sprintf("%d*S-%d", d.A, -d.B)
	}
}

// ToDim lifts an int into a TDim, mirroring the original's ToDim trait.
func ToDim(v int) TDim { return Int(int64(v)) }
