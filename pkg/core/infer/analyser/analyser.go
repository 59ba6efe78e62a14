package analyser

import (
	"reflect"

	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	"github.com/nervegraph/inferon/pkg/core/infer/model"
	"github.com/nervegraph/inferon/pkg/core/infer/solver"
	"github.com/nervegraph/inferon/pkg/logger"
)

// ObservingOp is implemented by operators that read facts from outlets
// outside their direct predecessors — the "observed" side channel of
// spec §4.6, needed by recurrent memory nodes whose state fact lives on
// a node the graph never wires as a normal input.
type ObservingOp interface {
	Observe(m *model.InferenceModel, node *model.InferenceNode) []model.OutletId
}

// CustomInferrer is implemented by operators that need to replace the
// whole-node inference step (rules + solve + forward-concrete) instead
// of just contributing rules — the default trait behaviour everywhere
// else just passes observed facts through unchanged, but Memory (spec
// §4.11) overrides it to unify its output against the outlet it
// observes.
type CustomInferrer interface {
	InferFacts(inputs, outputs, observed []fact.TensorFact) (resolvedIn, resolvedOut, resolvedObserved []fact.TensorFact, err error)
}

// InferNode runs one node's rule solver to a fixed point (spec §4.6
// "per-node" mode: build proxies, run rules(), then solve), then layers
// the infer_forward_concrete shortcut on top: when every resolved input
// is concrete, it also evaluates the operator and merges the concrete
// result into the output facts, since several operators' own rules only
// constrain type and shape and leave value propagation to evaluation.
// Operators implementing CustomInferrer bypass all of that and own the
// whole step themselves.
func InferNode(op model.Op, inputs, outputs []fact.TensorFact, observed []fact.TensorFact) ([]fact.TensorFact, []fact.TensorFact, []fact.TensorFact, error) {
	if custom, ok := op.(CustomInferrer); ok {
		return custom.InferFacts(inputs, outputs, observed)
	}

	s := new(solver.Solver)
	ins := s.Inputs(len(inputs))
	outs := s.Outputs(len(outputs))
	if err := op.Rules(s, ins, outs); err != nil {
		return nil, nil, nil, err
	}

	resolvedIn, resolvedOut, err := s.Solve(inputs, outputs)
	if err != nil {
		return nil, nil, nil, err
	}

	concreteOut, ok, err := InferForwardConcrete(op, resolvedIn)
	if err != nil {
		return nil, nil, nil, err
	}
	if ok {
		for i := range concreteOut {
			if i >= len(resolvedOut) {
				break
			}
			merged, err := resolvedOut[i].Unify(concreteOut[i])
			if err != nil {
				return nil, nil, nil, err
			}
			resolvedOut[i] = merged
		}
	}
	return resolvedIn, resolvedOut, append([]fact.TensorFact(nil), observed...), nil
}

func outletSnapshot(m *model.InferenceModel) map[model.OutletId]fact.TensorFact {
	snap := make(map[model.OutletId]fact.TensorFact)
	for _, id := range m.Nodes() {
		n, _ := m.Node(id)
		for slot := range n.OutputFacts {
			o := model.OutletId{NodeID: id, Slot: slot}
			f, _ := m.OutletFact(o)
			snap[o] = f
		}
	}
	return snap
}

func sweepNode(m *model.InferenceModel, id int) error {
	n, err := m.Node(id)
	if err != nil {
		return err
	}

	inFacts := make([]fact.TensorFact, len(n.Inputs))
	for i, o := range n.Inputs {
		f, err := m.OutletFact(o)
		if err != nil {
			return err
		}
		inFacts[i] = f
	}
	outFacts := append([]fact.TensorFact(nil), n.OutputFacts...)

	var observedOutlets []model.OutletId
	var observed []fact.TensorFact
	if ob, isObserving := n.Op.(ObservingOp); isObserving {
		observedOutlets = ob.Observe(m, n)
		for _, o := range observedOutlets {
			f, err := m.OutletFact(o)
			if err != nil {
				return err
			}
			observed = append(observed, f)
		}
	}

	resolvedIn, resolvedOut, resolvedObserved, err := InferNode(n.Op, inFacts, outFacts, observed)
	if err != nil {
		return err
	}

	for i, o := range n.Inputs {
		if err := m.SetOutletFact(o, resolvedIn[i]); err != nil {
			return err
		}
	}
	for slot := range n.OutputFacts {
		o := model.OutletId{NodeID: id, Slot: slot}
		if err := m.SetOutletFact(o, resolvedOut[slot]); err != nil {
			return err
		}
	}
	for i, o := range observedOutlets {
		if err := m.SetOutletFact(o, resolvedObserved[i]); err != nil {
			return err
		}
	}
	return nil
}

// Analyse runs the whole-graph mode of spec §4.6: alternating forward
// and reverse sweeps over node order, meeting each node's surrounding
// facts, until a full sweep changes nothing.
func Analyse(m *model.InferenceModel) error {
	const maxPasses = 100
	for pass := 0; pass < maxPasses; pass++ {
		before := outletSnapshot(m)

		order := m.Nodes()
		if pass%2 == 1 {
			for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
				order[i], order[j] = order[j], order[i]
			}
		}
		for _, id := range order {
			if err := sweepNode(m, id); err != nil {
				return err
			}
		}

		if reflect.DeepEqual(before, outletSnapshot(m)) {
			logger.Log.Debug().Int("passes", pass+1).Msg("analyser: converged")
			return nil
		}
	}
	logger.Log.Warn().Int("passes", maxPasses).Msg("analyser: stuck, an Any fact survived the pass budget")
	return infererr.New(infererr.AnalysisStuck, "analysis did not converge within the pass budget")
}
