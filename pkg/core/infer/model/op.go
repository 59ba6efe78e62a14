package model

import (
	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/solver"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// Session is the slice of the executor's session state an operator may
// touch: named variables and the stream length once it is known (spec
// §4.10 session_state). The plan package's executor implements this.
type Session interface {
	Variable(name string) (*tens.Tensor, bool)
	SetVariable(name string, t *tens.Tensor)
	KnownStreamLen() (int64, bool)
}

// OpState is the stateful evaluation form an Op may opt into (spec §4.4:
// "state(session) -> Option<OpState>").
type OpState interface {
	Eval(session Session, op Op, inputs []*tens.Tensor) ([]*tens.Tensor, error)
}

// Op is the contract every operator implements (spec §4.4).
type Op interface {
	// Name is the display string used in dumps and error messages.
	Name() string
	// NumOutputs is the operator's declared output arity.
	NumOutputs() int
	// Eval is the stateless evaluation form.
	Eval(inputs []*tens.Tensor) ([]*tens.Tensor, error)
	// State returns a fresh OpState for stateful operators, or (nil, nil)
	// for stateless ones.
	State(session Session) (OpState, error)
	// Rules registers this operator's inference constraints with s.
	Rules(s *solver.Solver, inputs, outputs []solver.TensorProxy) error
	// ToTyped lowers one inference-graph node into one or more
	// typed-graph nodes, returning their output outlets (spec §4.7).
	ToTyped(source *InferenceModel, node *InferenceNode, target *TypedModel, mapping map[OutletId]OutletId) ([]OutletId, error)
	// Incorporate performs an optional pre-typing rewrite, returning a
	// patch to apply against the inference model (spec §4.4, §4.8).
	Incorporate(m *InferenceModel, node *InferenceNode) (*Patch, error)
}

// Stateless is embedded by operators with no OpState — spec's "state()
// returning None".
type Stateless struct{}

func (Stateless) State(Session) (OpState, error) { return nil, nil }

// NotIncorporated is embedded by operators with no incorporate rewrite.
type NotIncorporated struct{}

func (NotIncorporated) Incorporate(*InferenceModel, *InferenceNode) (*Patch, error) { return nil, nil }

// IdentityToTyped is embedded by operators that lower to themselves
// unchanged, the common case for elementwise and shape ops whose Eval
// and Rules are dtype/shape-agnostic of the inference/typed distinction.
type IdentityToTyped struct{ Self Op }

func (d IdentityToTyped) ToTyped(source *InferenceModel, node *InferenceNode, target *TypedModel, mapping map[OutletId]OutletId) ([]OutletId, error) {
	op := d.Self
	if op == nil {
		op = node.Op
	}
	facts := make([]fact.TypedTensorInfo, len(node.OutputFacts))
	for i, f := range node.OutputFacts {
		ti, err := fact.FromTensorFact(f)
		if err != nil {
			return nil, err
		}
		facts[i] = ti
	}
	inputs := make([]OutletId, len(node.Inputs))
	for i, old := range node.Inputs {
		inputs[i] = mapping[old]
	}
	id, err := target.AddNode(node.Name, op, len(facts), facts)
	if err != nil {
		return nil, err
	}
	for slot, in := range inputs {
		if err := target.AddEdge(in, InletId{NodeID: id, Slot: slot}); err != nil {
			return nil, err
		}
	}
	out := make([]OutletId, len(facts))
	for i := range facts {
		out[i] = OutletId{NodeID: id, Slot: i}
	}
	return out, nil
}
