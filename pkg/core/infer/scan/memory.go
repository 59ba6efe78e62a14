// Package scan implements the recurrent memory/fold subsystem of spec
// §4.11: a Memory pseudo-op marking "the value of node X, offset steps
// in the past", a fold pass that rewrites every tangle of coupled
// memories into a single Scan node, and the Scan operator itself, which
// iterates a small inner graph once per timestep. Grounded on the
// original's ops::memory::Memory and ops::scan::Inference.
package scan

import (
	"fmt"

	"github.com/nervegraph/inferon/pkg/core/infer/analyser"
	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	"github.com/nervegraph/inferon/pkg/core/infer/model"
	"github.com/nervegraph/inferon/pkg/core/infer/solver"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// Memory stands in for "the value of the node named Observed on an
// earlier step" (Offset is negative). It never executes: Incorporate
// folds every memory of the graph into a Scan, one Scan per group of
// memories coupled through their observed nodes, before the graph is
// lowered, and obliterates the memory nodes themselves. The fold carries
// a single prior value per memory as its state, so the folded graph reads
// the value from one step ago whatever Offset is; Offset is not used.
type Memory struct {
	model.Stateless
	Observed string
	Offset   int
}

func (m *Memory) Name() string    { return fmt.Sprintf("Memory(%s,%d)", m.Observed, m.Offset) }
func (m *Memory) NumOutputs() int { return 1 }

func (m *Memory) Eval([]*tens.Tensor) ([]*tens.Tensor, error) {
	return nil, infererr.New(infererr.EvaluationFailure, "memory node survived past the scan fold pass")
}

func (m *Memory) Rules(*solver.Solver, []solver.TensorProxy, []solver.TensorProxy) error { return nil }

func (m *Memory) ToTyped(*model.InferenceModel, *model.InferenceNode, *model.TypedModel, map[model.OutletId]model.OutletId) ([]model.OutletId, error) {
	return nil, infererr.New(infererr.LoweringFailure, "memory node survived past the scan fold pass")
}

// Incorporate triggers the fold pass the first time any memory node on
// this graph is visited; Incorporate is idempotent since a fold removes
// every memory node it touches in one patch.
func (m *Memory) Incorporate(mdl *model.InferenceModel, node *model.InferenceNode) (*model.Patch, error) {
	return incorporateMemoryOpsAsScans(mdl, node)
}

// Observe implements analyser.ObservingOp: a memory's output tracks the
// fact of the node it observes, not any of its graph inputs (it has
// none).
func (m *Memory) Observe(mdl *model.InferenceModel, node *model.InferenceNode) []model.OutletId {
	id, err := mdl.NodeByName(m.Observed)
	if err != nil {
		return nil
	}
	return []model.OutletId{{NodeID: id, Slot: 0}}
}

// InferFacts implements analyser.CustomInferrer: a memory's own output
// fact and the fact it observes must agree, and the merged result feeds
// back into both (spec §4.11 "its output unifies with... the observed
// outlet").
func (m *Memory) InferFacts(inputs, outputs, observed []fact.TensorFact) ([]fact.TensorFact, []fact.TensorFact, []fact.TensorFact, error) {
	if len(outputs) != 1 || len(observed) != 1 {
		return nil, nil, nil, infererr.New(infererr.ArityMismatch, "memory expects exactly one output and one observed fact")
	}
	unified, err := outputs[0].Unify(observed[0])
	if err != nil {
		return nil, nil, nil, err
	}
	return inputs, []fact.TensorFact{unified}, []fact.TensorFact{unified}, nil
}

var _ analyser.ObservingOp = (*Memory)(nil)
var _ analyser.CustomInferrer = (*Memory)(nil)
