package scan

import (
	"encoding/binary"
	"hash/fnv"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	"github.com/nervegraph/inferon/pkg/core/infer/model"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
	"github.com/nervegraph/inferon/pkg/logger"
)

// allSuccessors is every node reachable forward from start, start itself
// included, by walking each visited node's outlets' consumers.
func allSuccessors(m *model.InferenceModel, start int) (map[int]bool, error) {
	visited := map[int]bool{start: true}
	queue := []int{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		n, err := m.Node(id)
		if err != nil {
			return nil, err
		}
		for slot := range n.OutputFacts {
			for _, in := range m.Successors(model.OutletId{NodeID: id, Slot: slot}) {
				if !visited[in.NodeID] {
					visited[in.NodeID] = true
					queue = append(queue, in.NodeID)
				}
			}
		}
	}
	return visited, nil
}

// allPrecursors is every node reachable backward from start, start
// itself included, by walking each visited node's inputs.
func allPrecursors(m *model.InferenceModel, start int) (map[int]bool, error) {
	visited := map[int]bool{start: true}
	queue := []int{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		n, err := m.Node(id)
		if err != nil {
			return nil, err
		}
		for _, in := range n.Inputs {
			if !visited[in.NodeID] {
				visited[in.NodeID] = true
				queue = append(queue, in.NodeID)
			}
		}
	}
	return visited, nil
}

// timeLoopNodesForMemory is the set of nodes a memory's recurrence
// passes through: everything downstream of the memory's own output that
// is also upstream of (or is) the node it observes.
func timeLoopNodesForMemory(m *model.InferenceModel, memID int) (map[int]bool, error) {
	n, err := m.Node(memID)
	if err != nil {
		return nil, err
	}
	mem, ok := n.Op.(*Memory)
	if !ok {
		return nil, infererr.New(infererr.InvalidInput, "timeLoopNodesForMemory: not a memory node")
	}
	obsID, err := m.NodeByName(mem.Observed)
	if err != nil {
		return nil, err
	}
	succ, err := allSuccessors(m, memID)
	if err != nil {
		return nil, err
	}
	prec, err := allPrecursors(m, obsID)
	if err != nil {
		return nil, err
	}
	loop := make(map[int]bool)
	for id := range succ {
		if prec[id] {
			loop[id] = true
		}
	}
	return loop, nil
}

func intersects(a, b map[int]bool) bool {
	for k := range a {
		if b[k] {
			return true
		}
	}
	return false
}

func union(a, b map[int]bool) map[int]bool {
	out := make(map[int]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}

// incorporateMemoryOpsAsScans is the fold pass of spec §4.11: it finds
// every memory node in m, groups memories whose time loops overlap
// ("coupled" memories, sharing one Scan), and replaces each group's
// loop nodes with a single Scan node via one combined patch.
func incorporateMemoryOpsAsScans(m *model.InferenceModel, _ *model.InferenceNode) (*model.Patch, error) {
	var memIDs []int
	for _, id := range m.Nodes() {
		n, err := m.Node(id)
		if err != nil {
			continue
		}
		if _, ok := n.Op.(*Memory); ok {
			memIDs = append(memIDs, id)
		}
	}
	if len(memIDs) == 0 {
		return nil, nil
	}

	loops := make(map[int]map[int]bool, len(memIDs))
	for _, id := range memIDs {
		loop, err := timeLoopNodesForMemory(m, id)
		if err != nil {
			return nil, err
		}
		loops[id] = loop
	}

	remaining := append([]int(nil), memIDs...)
	var groups [][]int
	for len(remaining) > 0 {
		seed := remaining[0]
		remaining = remaining[1:]
		group := []int{seed}
		combined := loops[seed]
		for {
			changed := false
			var kept []int
			for _, cand := range remaining {
				if intersects(combined, loops[cand]) {
					group = append(group, cand)
					combined = union(combined, loops[cand])
					changed = true
				} else {
					kept = append(kept, cand)
				}
			}
			remaining = kept
			if !changed {
				break
			}
		}
		groups = append(groups, group)
	}
	logger.Log.Debug().Int("memory_nodes", len(memIDs)).Int("scan_groups", len(groups)).Msg("scan: folding memory nodes into scan groups")

	patch := model.NewPatch(m)
	for _, group := range groups {
		combinedLoop := make(map[int]bool)
		for _, id := range group {
			for k := range loops[id] {
				combinedLoop[k] = true
			}
		}
		if err := foldGroup(m, patch, group, combinedLoop); err != nil {
			return nil, err
		}
	}
	return patch, nil
}

// foldGroup builds the inner model and Scan node for one coupled-memory
// group and stages it into patch.
func foldGroup(m *model.InferenceModel, patch *model.Patch, memIDs []int, loop map[int]bool) error {
	inner := model.New[fact.TensorFact]()
	oldToNew := make(map[int]int, len(loop)+len(memIDs))

	// One inner source per coupled memory: the recurrent state, fed a
	// zero initializer and, each step, overwritten with the observed
	// node's freshly computed value. The zero initializer's shape/dtype
	// is read off the memory node's own fact, not the observed node's:
	// a memory must carry its own declared shape independent of whatever
	// the node it observes resolves to (spec §4.11 step 3's "zeroed
	// initial state", grounded on the original's kaldi Memory, which
	// reads `mem_node.outputs[0].fact.shape` — its own channel-derived
	// shape — rather than the observed node's). A memory and the node it
	// observes are mutually dependent through Memory.InferFacts' own
	// unification, so waiting on the observed side to close first can
	// deadlock forever when nothing else ever closes it; the memory's
	// own fact must already be closed by the time it reaches this point.
	stateSourceID := make(map[int]int, len(memIDs))
	stateInit := make(map[int]*tens.Tensor, len(memIDs))
	innerInputs := make([]model.OutletId, 0, len(memIDs)+len(loop))
	for _, memID := range memIDs {
		n, err := m.Node(memID)
		if err != nil {
			return err
		}
		id, err := inner.AddSource(n.Name, fact.Unknown())
		if err != nil {
			return err
		}
		stateSourceID[memID] = id
		oldToNew[memID] = id
		innerInputs = append(innerInputs, model.OutletId{NodeID: id, Slot: 0})

		memFact, err := m.OutletFact(model.OutletId{NodeID: memID, Slot: 0})
		if err != nil {
			return err
		}
		dt, ok := memFact.Type.Concretize()
		if !ok {
			return infererr.New(infererr.LoweringFailure, "scan fold: memory's own dtype is not yet resolved; declare it at construction")
		}
		dims, ok := memFact.Shape.Concretize()
		if !ok {
			return infererr.New(infererr.LoweringFailure, "scan fold: memory's own shape is not yet resolved; declare it at construction")
		}
		shape := make([]int, len(dims))
		for i, d := range dims {
			n, err := d.ToInteger()
			if err != nil {
				return infererr.Wrap(infererr.LoweringFailure, "scan fold: memory's own shape carries a symbolic dim", err)
			}
			shape[i] = int(n)
		}
		zero, err := tens.New(dt, shape)
		if err != nil {
			return err
		}
		stateInit[memID] = zero
	}

	// Discover external scan inputs: edges into loop nodes whose
	// producer is outside both the loop and the memory set, in first-
	// seen order.
	var scanInputs []model.OutletId
	seenInput := make(map[model.OutletId]bool)
	loopOrder := make([]int, 0, len(loop))
	for _, id := range m.Nodes() {
		if loop[id] {
			loopOrder = append(loopOrder, id)
		}
	}
	for _, id := range loopOrder {
		n, err := m.Node(id)
		if err != nil {
			return err
		}
		for _, in := range n.Inputs {
			if loop[in.NodeID] {
				continue
			}
			if _, isState := stateSourceID[in.NodeID]; isState {
				continue
			}
			if !seenInput[in] {
				seenInput[in] = true
				scanInputs = append(scanInputs, in)
			}
		}
	}

	inputMapping := make([]InputMapping, 0, len(memIDs)+len(scanInputs))
	for _, memID := range memIDs {
		inputMapping = append(inputMapping, InputMapping{Kind: MapState, Initializer: StateInitializer{Value: stateInit[memID], FromInputSlot: -1}})
	}
	inputNames := make([]string, len(scanInputs))
	for ix, o := range scanInputs {
		prod, err := m.Node(o.NodeID)
		if err != nil {
			return err
		}
		inputNames[ix] = prod.Name
		id, err := inner.AddSource(prod.Name+"-scan", fact.Unknown())
		if err != nil {
			return err
		}
		oldToNew[o.NodeID] = id
		innerInputs = append(innerInputs, model.OutletId{NodeID: id, Slot: 0})
		inputMapping = append(inputMapping, InputMapping{Kind: MapScan, Slot: ix, Axis: 0})
	}
	// Inner sources are bound positionally by the executor (spec §4.10
	// "Run binds inputs to the plan's designated source outlets"), so
	// this order must track inputMapping's: state sources first, then
	// scan sources, exactly how runLoop assembles each step's
	// bodyInputs.
	inner.SetInputOutlets(innerInputs)

	// Copy every loop node into the inner model, remapping its inputs
	// through oldToNew (every producer is either another loop node, a
	// memory's state source, or an external scan source — all present
	// in the map by now). Memory nodes are skipped here: a memory is
	// trivially its own time-loop member (it is always both its own
	// successor and a precursor of what it observes), but it is already
	// represented by its dedicated state source above and must never be
	// copied again, or the second copy clobbers oldToNew[memID] with a
	// dead, unwired Memory op right before the observed node's edge to
	// it gets remapped.
	isMemID := make(map[int]bool, len(memIDs))
	for _, id := range memIDs {
		isMemID[id] = true
	}
	for _, id := range loopOrder {
		if isMemID[id] {
			continue
		}
		n, err := m.Node(id)
		if err != nil {
			return err
		}
		newID, err := inner.AddNode(n.Name, n.Op, len(n.OutputFacts), append([]fact.TensorFact(nil), n.OutputFacts...))
		if err != nil {
			return err
		}
		oldToNew[id] = newID
		for slot, in := range n.Inputs {
			newFrom, ok := oldToNew[in.NodeID]
			if !ok {
				return infererr.New(infererr.LoweringFailure, "scan fold: loop node input has no inner mapping")
			}
			if err := inner.AddEdge(model.OutletId{NodeID: newFrom, Slot: in.Slot}, model.InletId{NodeID: newID, Slot: slot}); err != nil {
				return err
			}
		}
	}

	// Discover external scan outputs: outlets of loop nodes consumed by
	// a node outside the loop, in first-seen order.
	var scanOutputs []model.OutletId
	seenOutput := make(map[model.OutletId]bool)
	for _, id := range loopOrder {
		n, err := m.Node(id)
		if err != nil {
			return err
		}
		for slot := range n.OutputFacts {
			o := model.OutletId{NodeID: id, Slot: slot}
			for _, consumer := range m.Successors(o) {
				if !loop[consumer.NodeID] && !seenOutput[o] {
					seenOutput[o] = true
					scanOutputs = append(scanOutputs, o)
				}
			}
		}
	}

	outputMapping := make([]OutputMapping, 0, len(memIDs)+len(scanOutputs))
	var innerOutputs []model.OutletId
	for _, memID := range memIDs {
		n, err := m.Node(memID)
		if err != nil {
			return err
		}
		mem := n.Op.(*Memory)
		obsID, err := m.NodeByName(mem.Observed)
		if err != nil {
			return err
		}
		newObsID, ok := oldToNew[obsID]
		if !ok {
			return infererr.New(infererr.LoweringFailure, "scan fold: observed node is not part of the time loop")
		}
		innerOutputs = append(innerOutputs, model.OutletId{NodeID: newObsID, Slot: 0})
		outputMapping = append(outputMapping, OutputMapping{State: true, Axis: 0})
	}
	outFacts := make([]fact.TensorFact, 0, len(scanOutputs))
	for ix, o := range scanOutputs {
		newFrom, ok := oldToNew[o.NodeID]
		if !ok {
			return infererr.New(infererr.LoweringFailure, "scan fold: scan output has no inner mapping")
		}
		innerOutputs = append(innerOutputs, model.OutletId{NodeID: newFrom, Slot: o.Slot})
		slot := ix
		outputMapping = append(outputMapping, OutputMapping{Axis: 0, FullSlot: &slot})
		f, err := m.OutletFact(o)
		if err != nil {
			return err
		}
		outFacts = append(outFacts, f)
	}
	inner.SetOutputOutlets(innerOutputs)

	scanOp := &Scan{
		Body:          inner,
		InputMapping:  inputMapping,
		OutputMapping: outputMapping,
		numOutputs:    len(scanOutputs),
	}

	name := scanNodeName(inputNames)
	scanID, err := patch.AddNode(name, scanOp, len(outFacts), outFacts)
	if err != nil {
		return err
	}
	for _, o := range scanInputs {
		if err := patch.Wire(scanID, patch.Tap(o)); err != nil {
			return err
		}
	}
	for ix, o := range scanOutputs {
		patch.Shunt(o, model.OutletId{NodeID: scanID, Slot: ix})
	}
	for _, memID := range memIDs {
		patch.Obliterate(memID)
	}
	for id := range loop {
		patch.Obliterate(id)
	}
	return nil
}

// scanNodeName mirrors the original's format!("scan-{joined-inputs}")
// but collapses the joined names to a short base58 digest once they'd
// otherwise make an unwieldy node name.
func scanNodeName(inputNames []string) string {
	joined := strings.Join(inputNames, "-")
	if len(joined) <= 32 {
		return "scan-" + joined
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(joined))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return "scan-" + base58.Encode(buf[:])
}
