// Package plan implements the scheduler (spec §4.9) and the executor
// (spec §4.10): a read-only, reusable Plan computed once from a model
// and a set of desired outputs, and a SimpleState that runs it,
// optionally sharing its session state with sibling plans (the
// multiplan pattern spec §5 describes for read/set/reset over the same
// variables).
package plan

import (
	"sort"

	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	"github.com/nervegraph/inferon/pkg/core/infer/model"
)

// Plan is the immutable result of scheduling a model against a set of
// designated outputs (spec §4.9): the restricted evaluation order, and
// the last-use step of every node's values so the executor can flush
// them as soon as they are no longer needed.
type Plan[F model.Fact[F]] struct {
	Model   *model.Model[F]
	Inputs  []model.OutletId
	Outputs []model.OutletId

	// Order is eval_order: topological order restricted to nodes
	// transitively needed for Outputs, lower node id first among ties.
	Order []int
	// LastUse maps node id to the step index at which its last
	// successor consumes it; designated outputs get len(Order) so they
	// are never flushed during the run itself.
	LastUse map[int]int
	// FlushLists[step] lists the node ids whose values may be released
	// immediately after that step executes.
	FlushLists [][]int
}

// New schedules a plan over every outlet the model auto/explicitly
// designates as an output.
func New[F model.Fact[F]](m *model.Model[F]) (*Plan[F], error) {
	return NewForOutputs(m, m.OutputOutlets())
}

// NewForOutputs schedules a plan over an explicit set of output outlets
// (spec §4.9, §6 "SimplePlan::new_for_outputs").
func NewForOutputs[F model.Fact[F]](m *model.Model[F], outputs []model.OutletId) (*Plan[F], error) {
	needed, err := neededNodes(m, outputs)
	if err != nil {
		return nil, err
	}
	order, err := restrictedTopoOrder(m, needed)
	if err != nil {
		return nil, err
	}
	lastUse := computeLastUse(m, order, outputs)
	flush := computeFlushLists(order, lastUse)

	return &Plan[F]{
		Model:      m,
		Inputs:     m.InputOutlets(),
		Outputs:    append([]model.OutletId(nil), outputs...),
		Order:      order,
		LastUse:    lastUse,
		FlushLists: flush,
	}, nil
}

// neededNodes is the transitive closure, backward through node inputs,
// of every output's producing node (spec §4.9 step 1's "restricted to
// nodes transitively needed for the outputs").
func neededNodes[F model.Fact[F]](m *model.Model[F], outputs []model.OutletId) (map[int]bool, error) {
	needed := make(map[int]bool)
	var visit func(id int) error
	visit = func(id int) error {
		if needed[id] {
			return nil
		}
		needed[id] = true
		n, err := m.Node(id)
		if err != nil {
			return err
		}
		for _, in := range n.Inputs {
			if err := visit(in.NodeID); err != nil {
				return err
			}
		}
		return nil
	}
	for _, o := range outputs {
		if err := visit(o.NodeID); err != nil {
			return nil, err
		}
	}
	return needed, nil
}

// restrictedTopoOrder is model.TopoOrder's Kahn's-algorithm sort, scoped
// to the needed subset and built from the public Model surface rather
// than the model package's own node table.
func restrictedTopoOrder[F model.Fact[F]](m *model.Model[F], needed map[int]bool) ([]int, error) {
	children := make(map[int][]int)
	indegree := make(map[int]int, len(needed))
	for id := range needed {
		n, err := m.Node(id)
		if err != nil {
			return nil, err
		}
		count := 0
		for _, in := range n.Inputs {
			if needed[in.NodeID] {
				children[in.NodeID] = append(children[in.NodeID], id)
				count++
			}
		}
		indegree[id] = count
	}

	var ready []int
	for _, id := range m.Nodes() {
		if needed[id] && indegree[id] == 0 {
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

	if len(out) != len(needed) {
		return nil, infererr.New(infererr.LoweringFailure, "graph contains a cycle within the needed node set")
	}
	return out, nil
}

// computeLastUse implements spec §4.9 step 2.
func computeLastUse[F model.Fact[F]](m *model.Model[F], order []int, outputs []model.OutletId) map[int]int {
	stepOf := make(map[int]int, len(order))
	for i, id := range order {
		stepOf[id] = i
	}

	lastUse := make(map[int]int, len(order))
	for _, id := range order {
		lastUse[id] = stepOf[id]
	}
	for _, id := range order {
		n, err := m.Node(id)
		if err != nil {
			continue
		}
		for _, in := range n.Inputs {
			if lastUse[in.NodeID] < stepOf[id] {
				lastUse[in.NodeID] = stepOf[id]
			}
		}
	}
	for _, o := range outputs {
		lastUse[o.NodeID] = len(order)
	}
	return lastUse
}

// computeFlushLists implements spec §4.9 step 3.
func computeFlushLists(order []int, lastUse map[int]int) [][]int {
	flush := make([][]int, len(order))
	for id, step := range lastUse {
		if step >= 0 && step < len(order) {
			flush[step] = append(flush[step], id)
		}
	}
	for i := range flush {
		sort.Ints(flush[i])
	}
	return flush
}
