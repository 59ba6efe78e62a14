package analyser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervegraph/inferon/pkg/core/infer/dim"
	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/model"
	"github.com/nervegraph/inferon/pkg/core/infer/ops/mathops"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

func TestInferShapeBroadcastingMergesOneAndConcreteDims(t *testing.T) {
	out, ok, err := InferShapeBroadcasting([]fact.ShapeFact{
		fact.ClosedInts(1, 4),
		fact.ClosedInts(3, 1),
	})
	require.NoError(t, err)
	require.True(t, ok)
	concrete, ok := out.Concretize()
	require.True(t, ok)
	assert.True(t, concrete[0].Equal(dim.Int(3)))
	assert.True(t, concrete[1].Equal(dim.Int(4)))
}

func TestInferShapeBroadcastingConflictsOnDistinctDims(t *testing.T) {
	_, _, err := InferShapeBroadcasting([]fact.ShapeFact{
		fact.ClosedInts(2),
		fact.ClosedInts(3),
	})
	require.Error(t, err)
}

func TestInferNodeMergesConcreteValueOntoBroadcastBinary(t *testing.T) {
	a, err := tens.FromBacking([]int{3}, []float32{1, 2, 3})
	require.NoError(t, err)
	b, err := tens.FromBacking([]int{}, []float32{10})
	require.NoError(t, err)

	op := &mathops.Binary{Kind: mathops.KindAdd}
	in := []fact.TensorFact{fact.FromTensor(a), fact.FromTensor(b)}
	out := []fact.TensorFact{fact.Unknown()}

	resolvedIn, resolvedOut, _, err := InferNode(op, in, out, nil)
	require.NoError(t, err)
	require.Len(t, resolvedIn, 2)
	require.Len(t, resolvedOut, 1)

	v, ok := resolvedOut[0].Value.Concretize()
	require.True(t, ok)
	assert.Equal(t, []float32{11, 12, 13}, v.Data().([]float32))
}

func TestAnalyseConvergesShapeAcrossGraph(t *testing.T) {
	m := model.New[fact.TensorFact]()

	aT, err := tens.FromBacking([]int{3}, []float32{1, 2, 3})
	require.NoError(t, err)
	bT, err := tens.FromBacking([]int{}, []float32{10})
	require.NoError(t, err)

	aID, err := m.AddConst("a", aT, fact.FromTensor(aT))
	require.NoError(t, err)
	bID, err := m.AddConst("b", bT, fact.FromTensor(bT))
	require.NoError(t, err)

	sumID, err := m.AddNode("sum", &mathops.Binary{Kind: mathops.KindAdd}, 1, []fact.TensorFact{fact.Unknown()})
	require.NoError(t, err)

	require.NoError(t, m.AddEdge(model.OutletId{NodeID: aID, Slot: 0}, model.InletId{NodeID: sumID, Slot: 0}))
	require.NoError(t, m.AddEdge(model.OutletId{NodeID: bID, Slot: 0}, model.InletId{NodeID: sumID, Slot: 1}))

	require.NoError(t, Analyse(m))

	out, err := m.OutletFact(model.OutletId{NodeID: sumID, Slot: 0})
	require.NoError(t, err)
	dims, ok := out.Shape.Concretize()
	require.True(t, ok)
	require.Len(t, dims, 1)
	assert.True(t, dims[0].Equal(dim.Int(3)))

	v, ok := out.Value.Concretize()
	require.True(t, ok)
	assert.Equal(t, []float32{11, 12, 13}, v.Data().([]float32))
}
