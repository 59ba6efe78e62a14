package model

import (
	"fmt"

	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
)

// TopoOrder returns every node id in topological order, lower id first
// among ties, matching the deterministic tie-breaker the scheduler also
// uses (spec §4.9).
func TopoOrder[F Fact[F]](m *Model[F]) ([]int, error) {
	children := make(map[int][]int)
	indegree := make(map[int]int, len(m.order))
	for _, id := range m.order {
		indegree[id] = len(m.nodes[id].Inputs)
		for _, in := range m.nodes[id].Inputs {
			children[in.NodeID] = append(children[in.NodeID], id)
		}
	}

	ready := make([]int, 0, len(m.order))
	for _, id := range m.order {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	var out []int
	for len(ready) > 0 {
		lowest := 0
		for i := 1; i < len(ready); i++ {
			if ready[i] < ready[lowest] {
				lowest = i
			}
		}
		id := ready[lowest]
		ready = append(ready[:lowest], ready[lowest+1:]...)
		out = append(out, id)
		for _, child := range children[id] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}

	if len(out) != len(m.order) {
		return nil, infererr.New(infererr.LoweringFailure, "graph contains a cycle")
	}
	return out, nil
}

// IntoTyped lowers an inference graph into a typed graph (spec §4.7):
// nodes are visited in topological order, each calling its operator's
// ToTyped hook, with an old-outlet-to-new-outlet mapping threaded
// through. Any single failure aborts the whole lowering.
func IntoTyped(source *InferenceModel) (*TypedModel, error) {
	order, err := TopoOrder(source)
	if err != nil {
		return nil, infererr.Wrap(infererr.LoweringFailure, "computing topological order", err)
	}

	target := New[fact.TypedTensorInfo]()
	mapping := make(map[OutletId]OutletId)

	for _, id := range order {
		n := source.nodes[id]
		outs, err := n.Op.ToTyped(source, n, target, mapping)
		if err != nil {
			return nil, infererr.Wrap(infererr.LoweringFailure, fmt.Sprintf("lowering node %q", n.Name), err)
		}
		if len(outs) != len(n.OutputFacts) {
			return nil, infererr.New(infererr.LoweringFailure,
				fmt.Sprintf("node %q lowered to %d outlets, want %d", n.Name, len(outs), len(n.OutputFacts)))
		}
		for slot, newOut := range outs {
			mapping[OutletId{NodeID: id, Slot: slot}] = newOut
		}
	}

	ins := make([]OutletId, len(source.inputs))
	for i, o := range source.inputs {
		ins[i] = mapping[o]
	}
	target.SetInputOutlets(ins)

	outs := make([]OutletId, len(source.outputs))
	for i, o := range source.outputs {
		outs[i] = mapping[o]
	}
	target.SetOutputOutlets(outs)

	return target, nil
}
