package scan

import (
	"sort"

	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	"github.com/nervegraph/inferon/pkg/core/infer/model"
	"github.com/nervegraph/inferon/pkg/core/infer/plan"
	"github.com/nervegraph/inferon/pkg/core/infer/solver"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// InputMappingKind tags how one of a Scan body's inputs is fed across
// iterations (spec §4.11).
type InputMappingKind int

const (
	// MapState feeds the body a value carried from the previous
	// iteration's matching output (the previous step's State output,
	// or the Initializer on the very first step).
	MapState InputMappingKind = iota
	// MapScan slices the outer input along Axis, one chunk per
	// iteration.
	MapScan
	// MapFull passes the outer input to every iteration unchanged.
	MapFull
)

// StateInitializer seeds a State input's value before the first
// iteration: either a fixed constant (the common case — a memory node's
// zeroed history) or a copy of one of the Scan node's own outer inputs.
type StateInitializer struct {
	Value         *tens.Tensor
	FromInputSlot int // used when Value == nil; -1 means Value is authoritative
}

// InputMapping describes one inner-body input outlet.
type InputMapping struct {
	Kind        InputMappingKind
	Slot        int // outer Eval input index, for MapScan/MapFull
	Axis        int // chunking axis, for MapScan
	Initializer StateInitializer
}

// OutputMapping describes one inner-body output outlet.
type OutputMapping struct {
	// State marks this output as next iteration's value for the State
	// input at the same position among state mappings.
	State bool
	Axis  int
	// FullSlot, if set, accumulates every iteration's slice along Axis
	// into the Scan node's own output at that index.
	FullSlot *int
	// LastValueSlot, if set, exposes only the final iteration's value.
	LastValueSlot *int
}

// Scan iterates Body once per timestep over its MapScan inputs,
// threading MapState inputs from one iteration's matching output to the
// next (spec §4.11). It is built exclusively by the memory fold pass
// today; InputMapping/OutputMapping are general enough to also describe
// a plain ONNX-style scan/loop body should one be wired in later.
type Scan struct {
	model.NotIncorporated

	Body          *model.InferenceModel
	InputMapping  []InputMapping
	OutputMapping []OutputMapping

	numOutputs int
}

func (s *Scan) Name() string    { return "Scan" }
func (s *Scan) NumOutputs() int { return s.numOutputs }

func (s *Scan) Rules(sv *solver.Solver, in, out []solver.TensorProxy) error {
	expectedIn := 0
	for _, im := range s.InputMapping {
		if im.Kind != MapState {
			expectedIn++
		}
	}
	if len(in) != expectedIn {
		return infererr.New(infererr.ArityMismatch, "scan: input count disagrees with its mapping")
	}
	if len(out) != s.numOutputs {
		return infererr.New(infererr.ArityMismatch, "scan: output count disagrees with its mapping")
	}
	return nil
}

func (s *Scan) ToTyped(source *model.InferenceModel, node *model.InferenceNode, target *model.TypedModel, mapping map[model.OutletId]model.OutletId) ([]model.OutletId, error) {
	return (model.IdentityToTyped{Self: s}).ToTyped(source, node, target, mapping)
}

// scanState caches the compiled inner Plan so every Eval call (every
// outer run, spec §4.10) reuses it instead of rescheduling Body from
// scratch, and lets stateful inner ops keep their own OpState across
// the iterations of a single Eval call. Body stays a fact.TensorFact
// graph: Scan bodies are never separately lowered to a TypedModel in
// this port (Scan's own ToTyped just re-wires the Scan node itself).
type scanState struct {
	plan *plan.Plan[fact.TensorFact]
}

func (s *Scan) State(model.Session) (model.OpState, error) {
	p, err := plan.New(s.Body)
	if err != nil {
		return nil, err
	}
	return &scanState{plan: p}, nil
}

func (st *scanState) Eval(session model.Session, op model.Op, inputs []*tens.Tensor) ([]*tens.Tensor, error) {
	s, ok := op.(*Scan)
	if !ok {
		return nil, infererr.New(infererr.InvalidInput, "scan: OpState handed a non-Scan op")
	}
	return s.runLoop(plan.NewState(st.plan), inputs)
}

func (s *Scan) Eval(inputs []*tens.Tensor) ([]*tens.Tensor, error) {
	p, err := plan.New(s.Body)
	if err != nil {
		return nil, err
	}
	return s.runLoop(plan.NewState(p), inputs)
}

// runLoop drives the inner executor T times, T being the common chunk
// count of every MapScan input along its axis.
func (s *Scan) runLoop(body *plan.SimpleState[fact.TensorFact], inputs []*tens.Tensor) ([]*tens.Tensor, error) {
	steps := -1
	for _, im := range s.InputMapping {
		if im.Kind != MapScan {
			continue
		}
		if im.Slot < 0 || im.Slot >= len(inputs) {
			return nil, infererr.New(infererr.ArityMismatch, "scan: input mapping slot out of range")
		}
		n := inputs[im.Slot].Shape()[im.Axis]
		if steps == -1 {
			steps = n
		} else if steps != n {
			return nil, infererr.New(infererr.ShapeMismatch, "scan: scanned inputs disagree on step count")
		}
	}
	if steps < 0 {
		return nil, infererr.New(infererr.InvalidInput, "scan: no scanned input to size the iteration count from")
	}

	stateIdx := make([]int, 0)
	for ix, im := range s.InputMapping {
		if im.Kind == MapState {
			stateIdx = append(stateIdx, ix)
		}
	}
	state := make([]*tens.Tensor, len(stateIdx))
	for i, ix := range stateIdx {
		init := s.InputMapping[ix].Initializer
		if init.Value != nil {
			state[i] = init.Value
		} else {
			if init.FromInputSlot < 0 || init.FromInputSlot >= len(inputs) {
				return nil, infererr.New(infererr.InvalidInput, "scan: state initializer references an invalid input slot")
			}
			state[i] = inputs[init.FromInputSlot]
		}
	}

	fullAccum := make(map[int][]*tens.Tensor)
	lastValue := make(map[int]*tens.Tensor)
	maxOutSlot := -1
	for _, om := range s.OutputMapping {
		if om.FullSlot != nil && *om.FullSlot > maxOutSlot {
			maxOutSlot = *om.FullSlot
		}
		if om.LastValueSlot != nil && *om.LastValueSlot > maxOutSlot {
			maxOutSlot = *om.LastValueSlot
		}
	}

	for t := 0; t < steps; t++ {
		bodyInputs := make([]*tens.Tensor, len(s.InputMapping))
		nextState := 0
		for ix, im := range s.InputMapping {
			switch im.Kind {
			case MapState:
				bodyInputs[ix] = state[nextState]
				nextState++
			case MapFull:
				bodyInputs[ix] = inputs[im.Slot]
			case MapScan:
				chunk, err := sliceIndexSqueezed(inputs[im.Slot], im.Axis, t)
				if err != nil {
					return nil, err
				}
				bodyInputs[ix] = chunk
			}
		}

		outs, err := body.Run(bodyInputs)
		if err != nil {
			return nil, infererr.Wrap(infererr.EvaluationFailure, "scan: inner step failed", err)
		}
		if len(outs) != len(s.OutputMapping) {
			return nil, infererr.New(infererr.ArityMismatch, "scan: inner model produced an unexpected output count")
		}

		nextState = 0
		for omIx, om := range s.OutputMapping {
			v := outs[omIx]
			if om.State {
				state[nextState] = v
				nextState++
			}
			if om.FullSlot != nil {
				fullAccum[*om.FullSlot] = append(fullAccum[*om.FullSlot], v)
			}
			if om.LastValueSlot != nil {
				lastValue[*om.LastValueSlot] = v
			}
		}
	}

	results := make([]*tens.Tensor, maxOutSlot+1)
	for _, om := range s.OutputMapping {
		if om.FullSlot != nil {
			stacked, err := stackNew(fullAccum[*om.FullSlot], om.Axis)
			if err != nil {
				return nil, err
			}
			results[*om.FullSlot] = stacked
		}
		if om.LastValueSlot != nil {
			results[*om.LastValueSlot] = lastValue[*om.LastValueSlot]
		}
	}

	var sortedSlots []int
	for i := range results {
		sortedSlots = append(sortedSlots, i)
	}
	sort.Ints(sortedSlots)
	for _, slot := range sortedSlots {
		if results[slot] == nil {
			return nil, infererr.New(infererr.EvaluationFailure, "scan: an output slot was never produced")
		}
	}
	return results, nil
}
