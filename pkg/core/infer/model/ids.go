// Package model implements the graph model (spec §4.3), the operator
// contract (§4.4), the lowerer (§4.7) and the patch engine (§4.8) in one
// package: a Node holds an Op, and Op's ToTyped/Incorporate hooks need to
// reference InferenceModel/TypedModel/Patch directly, so splitting these
// across packages would create an import cycle. The upstream engine this
// is modelled on keeps the same boundary — all of it lives in one crate;
// only per-framework operator sets and format parsers are separate.
package model

import "fmt"

// OutletId addresses one producer port: the slot'th output of node NodeID.
type OutletId struct {
	NodeID int
	Slot   int
}

func (o OutletId) String() string { return fmt.Sprintf("%d:%d", o.NodeID, o.Slot) }

// InletId addresses one consumer port: the slot'th input of node NodeID.
type InletId struct {
	NodeID int
	Slot   int
}

func (i InletId) String() string { return fmt.Sprintf("%d#%d", i.NodeID, i.Slot) }
