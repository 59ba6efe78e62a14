package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervegraph/inferon/pkg/core/infer/datum"
	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	"github.com/nervegraph/inferon/pkg/core/infer/solver"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// identityOp is a minimal Op used only to exercise the graph/patch/lower
// machinery in isolation from any concrete operator package.
type identityOp struct {
	Stateless
	NotIncorporated
}

func (identityOp) Name() string    { return "Identity" }
func (identityOp) NumOutputs() int { return 1 }
func (identityOp) Eval(in []*tens.Tensor) ([]*tens.Tensor, error) { return in, nil }
func (identityOp) Rules(s *solver.Solver, in, out []solver.TensorProxy) error {
	return s.Equals(out[0].Shape(), in[0].Shape())
}
func (op identityOp) ToTyped(source *InferenceModel, node *InferenceNode, target *TypedModel, mapping map[OutletId]OutletId) ([]OutletId, error) {
	return (IdentityToTyped{Self: op}).ToTyped(source, node, target, mapping)
}

func buildChain(t *testing.T) *InferenceModel {
	t.Helper()
	m := New[fact.TensorFact]()
	src, err := m.AddSource("in", fact.DtShape(datum.F32, 2, 3))
	require.NoError(t, err)
	mid, err := m.AddNode("mid", identityOp{}, 1, []fact.TensorFact{fact.DtShape(datum.F32, 2, 3)})
	require.NoError(t, err)
	require.NoError(t, m.AddEdge(OutletId{NodeID: src, Slot: 0}, InletId{NodeID: mid, Slot: 0}))
	end, err := m.AddNode("out", identityOp{}, 1, []fact.TensorFact{fact.DtShape(datum.F32, 2, 3)})
	require.NoError(t, err)
	require.NoError(t, m.AddEdge(OutletId{NodeID: mid, Slot: 0}, InletId{NodeID: end, Slot: 0}))
	m.SetInputOutlets([]OutletId{{NodeID: src, Slot: 0}})
	m.AutoOutputs()
	return m
}

func TestAddEdgeRejectsOccupiedAndGappedInlets(t *testing.T) {
	m := New[fact.TensorFact]()
	a, _ := m.AddSource("a", fact.Unknown())
	b, _ := m.AddSource("b", fact.Unknown())
	sink, _ := m.AddNode("sink", identityOp{}, 1, []fact.TensorFact{fact.Unknown()})

	require.NoError(t, m.AddEdge(OutletId{NodeID: a, Slot: 0}, InletId{NodeID: sink, Slot: 0}))
	err := m.AddEdge(OutletId{NodeID: b, Slot: 0}, InletId{NodeID: sink, Slot: 0})
	assert.Error(t, err, "re-occupying slot 0 must fail")

	err = m.AddEdge(OutletId{NodeID: b, Slot: 0}, InletId{NodeID: sink, Slot: 2})
	assert.Error(t, err, "leaving a gap at slot 1 must fail")
}

func TestNodeByNameNotFound(t *testing.T) {
	m := New[fact.TensorFact]()
	_, err := m.NodeByName("nope")
	assert.True(t, infererr.Is(err, infererr.NotFound))
}

func TestTopoOrderIsDeterministic(t *testing.T) {
	m := buildChain(t)
	order, err := TopoOrder(m)
	require.NoError(t, err)
	require.Len(t, order, 3)
	assert.Less(t, order[0], order[1])
	assert.Less(t, order[1], order[2])
}

func TestIntoTypedLowersEveryNode(t *testing.T) {
	m := buildChain(t)
	typed, err := IntoTyped(m)
	require.NoError(t, err)
	assert.Len(t, typed.Nodes(), 3)
	assert.Len(t, typed.InputOutlets(), 1)
	assert.Len(t, typed.OutputOutlets(), 1)
}

func TestPatchReplacesAMiddleNode(t *testing.T) {
	m := buildChain(t)
	nodes := m.Nodes()
	midID, err := m.NodeByName("mid")
	require.NoError(t, err)

	p := NewPatch(m)
	replacement, err := p.AddNode("mid2", identityOp{}, 1, []fact.TensorFact{fact.DtShape(datum.F32, 2, 3)})
	require.NoError(t, err)

	srcID, err := m.NodeByName("in")
	require.NoError(t, err)
	require.NoError(t, p.Wire(replacement, OutletId{NodeID: srcID, Slot: 0}))

	p.Shunt(OutletId{NodeID: midID, Slot: 0}, OutletId{NodeID: replacement, Slot: 0})
	p.Obliterate(midID)

	require.NoError(t, p.Apply())
	assert.Len(t, m.Nodes(), len(nodes)) // one obliterated, one added
	_, err = m.NodeByName("mid2")
	assert.NoError(t, err)
	_, err = m.NodeByName("mid")
	assert.Error(t, err)
}

func TestPatchApplyFailsWithoutShuntForLiveConsumer(t *testing.T) {
	m := buildChain(t)
	midID, err := m.NodeByName("mid")
	require.NoError(t, err)

	p := NewPatch(m)
	p.Obliterate(midID)
	err = p.Apply()
	assert.Error(t, err)
}
