// Package pulse names the interface a streaming-pulse optimization would
// implement, without providing one (spec §1: "streaming-pulse optimization
// beyond naming its interface" is out of scope).
//
// A pulse transform rewrites a TypedModel whose streaming axis carries the
// free dimension S (pkg/core/infer/dim) into a model that consumes and
// produces fixed-size chunks along that axis, one pulse at a time, instead
// of the whole stream at once — the shape carried by a Scan body's MapScan
// inputs (pkg/core/infer/scan) generalized to an outer-level rewrite. The
// reference implementation's conv/pad pulse tests
// (original_source/harness/core-proptest-pulse) exercise exactly this: a
// convolution or padding op rewritten to consume a short delay buffer per
// pulse rather than the full symbolic-length input.
package pulse

import "github.com/nervegraph/inferon/pkg/core/infer/model"

// Pulsify rewrites src, chunking its streaming axis into fixed-size pulses,
// and returns the pulsed model. It does not report per-node delays; an
// operator's delay (in stream-axis elements) comes from DelayOp below.
type Pulsify interface {
	Pulsify(src *model.TypedModel, pulse int) (*model.TypedModel, error)
}

// DelayOp is an operator that knows its own stream-axis delay under
// pulsing — the only piece of per-op knowledge a Pulsify implementation
// would need beyond the Op contract. No operator in this module implements
// it; wiring one in is left to a pulse-aware operator set, per the spec's
// scope limit.
type DelayOp interface {
	model.Op
	// Delay returns the number of leading stream-axis elements this
	// operator must see before it can emit a valid first pulse.
	Delay(pulse int) (int, error)
}
