package model

import (
	"fmt"

	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	"github.com/nervegraph/inferon/pkg/core/infer/solver"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// Fact constrains the outlet-fact type a Model can carry: it must be
// able to meet with another value of the same type without weakening
// either side (spec §4.3 "never weakens an existing fact").
type Fact[T any] interface {
	Unify(T) (T, error)
}

// Model is the shared structure behind both graph incarnations of spec
// §4.3. InferenceModel and TypedModel are instantiations of it.
type Model[F Fact[F]] struct {
	nodes   map[int]*Node[F]
	order   []int
	byName  map[string]int
	nextID  int
	inputs  []OutletId
	outputs []OutletId
}

// InferenceModel carries TensorFact outlets — the Any-permitting graph
// the analyser works over.
type InferenceModel = Model[fact.TensorFact]

// TypedModel carries TypedTensorInfo outlets — the fully concrete graph
// the scheduler and executor work over.
type TypedModel = Model[fact.TypedTensorInfo]

// InferenceNode and TypedNode are the two graphs' node types.
type InferenceNode = Node[fact.TensorFact]
type TypedNode = Node[fact.TypedTensorInfo]

// New builds an empty model.
func New[F Fact[F]]() *Model[F] {
	return &Model[F]{
		nodes:  make(map[int]*Node[F]),
		byName: make(map[string]int),
	}
}

// Nodes returns every node id in insertion order.
func (m *Model[F]) Nodes() []int { return append([]int(nil), m.order...) }

// Node looks up a node by id.
func (m *Model[F]) Node(id int) (*Node[F], error) {
	n, ok := m.nodes[id]
	if !ok {
		return nil, infererr.New(infererr.NotFound, fmt.Sprintf("no node with id %d", id))
	}
	return n, nil
}

// NodeByName resolves a node id from its display name (spec §4.3).
func (m *Model[F]) NodeByName(name string) (int, error) {
	id, ok := m.byName[name]
	if !ok {
		return 0, infererr.New(infererr.NotFound, fmt.Sprintf("no node named %q", name))
	}
	return id, nil
}

func (m *Model[F]) insert(name string, op Op, numOutputs int, facts []F) (int, error) {
	if len(facts) != numOutputs {
		return 0, infererr.New(infererr.ArityMismatch, fmt.Sprintf("%d output facts for %d declared outputs", len(facts), numOutputs))
	}
	if _, exists := m.byName[name]; exists {
		return 0, infererr.New(infererr.InvalidInput, fmt.Sprintf("duplicate node name %q", name))
	}
	id := m.nextID
	m.nextID++
	n := &Node[F]{ID: id, Name: name, Op: op, OutputFacts: append([]F(nil), facts...)}
	m.nodes[id] = n
	m.order = append(m.order, id)
	m.byName[name] = id
	return id, nil
}

// AddSource adds a graph input node with one output of the given fact
// (spec §4.3 add_source).
func (m *Model[F]) AddSource(name string, f F) (int, error) {
	return m.insert(name, &sourceOp{name: name}, 1, []F{f})
}

// AddConst adds a compile-time constant node (spec §4.3 add_const). t is
// carried opaquely; f is the caller-built fact for t in this model's
// fact type F (the two instantiations differ: TensorFact wraps it as a
// concretized ValueFact, TypedTensorInfo stores it as Konst).
func (m *Model[F]) AddConst(name string, t *tens.Tensor, f F) (int, error) {
	return m.insert(name, &constOp{t: t}, 1, []F{f})
}

// AddNode adds an operator node with the given declared output facts
// (spec §4.3 add_node).
func (m *Model[F]) AddNode(name string, op Op, numOutputs int, facts []F) (int, error) {
	return m.insert(name, op, numOutputs, facts)
}

// AddEdge wires producer outlet `out` into consumer inlet `in` (spec
// §4.3 add_edge): inlets are occupied strictly in slot order and never
// twice.
func (m *Model[F]) AddEdge(out OutletId, in InletId) error {
	prod, err := m.Node(out.NodeID)
	if err != nil {
		return err
	}
	if out.Slot < 0 || out.Slot >= len(prod.OutputFacts) {
		return infererr.New(infererr.ArityMismatch, fmt.Sprintf("outlet %s has no slot %d", out, out.Slot))
	}
	cons, err := m.Node(in.NodeID)
	if err != nil {
		return err
	}
	switch {
	case in.Slot < len(cons.Inputs):
		return infererr.New(infererr.InvalidInput, fmt.Sprintf("inlet %s already occupied", in))
	case in.Slot > len(cons.Inputs):
		return infererr.New(infererr.InvalidInput, fmt.Sprintf("inlet %s leaves a gap in %s's inputs", in, cons.Name))
	}
	cons.Inputs = append(cons.Inputs, out)
	return nil
}

// InputOutlets/SetInputOutlets and OutputOutlets/SetOutputOutlets record
// which outlets are the model's designated external inputs/outputs.
func (m *Model[F]) InputOutlets() []OutletId  { return append([]OutletId(nil), m.inputs...) }
func (m *Model[F]) OutputOutlets() []OutletId { return append([]OutletId(nil), m.outputs...) }

func (m *Model[F]) SetInputOutlets(o []OutletId)  { m.inputs = append([]OutletId(nil), o...) }
func (m *Model[F]) SetOutputOutlets(o []OutletId) { m.outputs = append([]OutletId(nil), o...) }

// AutoOutputs designates every outlet with no consumer as a model
// output, in node-id order — the common case when no explicit outputs
// were named.
func (m *Model[F]) AutoOutputs() {
	consumed := make(map[OutletId]bool)
	for _, id := range m.order {
		for _, in := range m.nodes[id].Inputs {
			consumed[in] = true
		}
	}
	var outs []OutletId
	for _, id := range m.order {
		n := m.nodes[id]
		for slot := range n.OutputFacts {
			o := OutletId{NodeID: id, Slot: slot}
			if !consumed[o] {
				outs = append(outs, o)
			}
		}
	}
	m.outputs = outs
}

// OutletFact reads the current fact at an outlet.
func (m *Model[F]) OutletFact(o OutletId) (F, error) {
	n, err := m.Node(o.NodeID)
	if err != nil {
		var zero F
		return zero, err
	}
	if o.Slot < 0 || o.Slot >= len(n.OutputFacts) {
		var zero F
		return zero, infererr.New(infererr.ArityMismatch, fmt.Sprintf("outlet %s has no slot %d", o, o.Slot))
	}
	return n.OutputFacts[o.Slot], nil
}

// SetOutletFact tightens the fact at an outlet via meet, never
// weakening what was already known (spec §4.3).
func (m *Model[F]) SetOutletFact(o OutletId, f F) error {
	n, err := m.Node(o.NodeID)
	if err != nil {
		return err
	}
	if o.Slot < 0 || o.Slot >= len(n.OutputFacts) {
		return infererr.New(infererr.ArityMismatch, fmt.Sprintf("outlet %s has no slot %d", o, o.Slot))
	}
	merged, err := n.OutputFacts[o.Slot].Unify(f)
	if err != nil {
		return err
	}
	n.OutputFacts[o.Slot] = merged
	return nil
}

// Successors returns every inlet fed directly from outlet o, in node-id
// then slot order.
func (m *Model[F]) Successors(o OutletId) []InletId {
	var out []InletId
	for _, id := range m.order {
		n := m.nodes[id]
		for slot, in := range n.Inputs {
			if in == o {
				out = append(out, InletId{NodeID: id, Slot: slot})
			}
		}
	}
	return out
}

// sourceOp marks a graph input; it has no eval of its own, the executor
// binds its output directly from the caller-supplied input tensor.
type sourceOp struct{ name string }

func (s *sourceOp) Name() string        { return "Source(" + s.name + ")" }
func (s *sourceOp) NumOutputs() int     { return 1 }
func (s *sourceOp) Eval([]*tens.Tensor) ([]*tens.Tensor, error) {
	return nil, infererr.New(infererr.EvaluationFailure, "source node has no eval: bind an input tensor instead")
}
func (s *sourceOp) State(Session) (OpState, error) { return nil, nil }
func (s *sourceOp) Rules(*solver.Solver, []solver.TensorProxy, []solver.TensorProxy) error {
	return nil
}
func (s *sourceOp) ToTyped(source *InferenceModel, node *InferenceNode, target *TypedModel, mapping map[OutletId]OutletId) ([]OutletId, error) {
	return (IdentityToTyped{Self: s}).ToTyped(source, node, target, mapping)
}
func (s *sourceOp) Incorporate(*InferenceModel, *InferenceNode) (*Patch, error) { return nil, nil }

// constOp wraps a compile-time constant tensor.
type constOp struct{ t *tens.Tensor }

func (c *constOp) Name() string    { return "Const" }
func (c *constOp) NumOutputs() int { return 1 }
func (c *constOp) Eval([]*tens.Tensor) ([]*tens.Tensor, error) {
	return []*tens.Tensor{c.t}, nil
}
func (c *constOp) State(Session) (OpState, error) { return nil, nil }
func (c *constOp) Rules(s *solver.Solver, _, outputs []solver.TensorProxy) error {
	return s.Equals(outputs[0].Value(), c.t)
}
func (c *constOp) ToTyped(source *InferenceModel, node *InferenceNode, target *TypedModel, mapping map[OutletId]OutletId) ([]OutletId, error) {
	return (IdentityToTyped{Self: c}).ToTyped(source, node, target, mapping)
}
func (c *constOp) Incorporate(*InferenceModel, *InferenceNode) (*Patch, error) { return nil, nil }
