package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervegraph/inferon/pkg/core/infer/analyser"
	"github.com/nervegraph/inferon/pkg/core/infer/datum"
	"github.com/nervegraph/inferon/pkg/core/infer/dim"
	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/model"
	"github.com/nervegraph/inferon/pkg/core/infer/ops/mathops"
	"github.com/nervegraph/inferon/pkg/core/infer/plan"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// TestAddConstantEndToEnd runs the full pipeline — build, analyse,
// incorporate, lower, schedule, execute — over the smallest possible
// graph: one source added to one constant.
func TestAddConstantEndToEnd(t *testing.T) {
	m := model.New[fact.TensorFact]()

	inputID, err := m.AddSource("input", fact.DtShape(datum.F32, 3))
	require.NoError(t, err)

	threeT, err := tens.FromBacking([]int{}, []float32{3})
	require.NoError(t, err)
	threeID, err := m.AddConst("three", threeT, fact.FromTensor(threeT))
	require.NoError(t, err)

	addID, err := m.AddNode("add", &mathops.Binary{Kind: mathops.KindAdd}, 1, []fact.TensorFact{fact.Unknown()})
	require.NoError(t, err)
	require.NoError(t, m.AddEdge(model.OutletId{NodeID: inputID, Slot: 0}, model.InletId{NodeID: addID, Slot: 0}))
	require.NoError(t, m.AddEdge(model.OutletId{NodeID: threeID, Slot: 0}, model.InletId{NodeID: addID, Slot: 1}))

	m.SetInputOutlets([]model.OutletId{{NodeID: inputID, Slot: 0}})
	m.SetOutputOutlets([]model.OutletId{{NodeID: addID, Slot: 0}})

	require.NoError(t, analyser.Analyse(m))
	require.NoError(t, model.IncorporateAll(m))

	out, err := m.OutletFact(model.OutletId{NodeID: addID, Slot: 0})
	require.NoError(t, err)
	dims, ok := out.Shape.Concretize()
	require.True(t, ok)
	require.Len(t, dims, 1)
	assert.True(t, dims[0].Equal(dim.Int(3)))

	typed, err := model.IntoTyped(m)
	require.NoError(t, err)

	p, err := plan.New(typed)
	require.NoError(t, err)
	st := plan.NewState(p)

	inputT, err := tens.FromBacking([]int{3}, []float32{1, 2.5, 5})
	require.NoError(t, err)
	results, err := st.Run([]*tens.Tensor{inputT})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []float32{4, 5.5, 8}, results[0].Data().([]float32))

	// A second run over the same reusable plan/state must reproduce the
	// same result from fresh input tensors.
	inputT2, err := tens.FromBacking([]int{3}, []float32{0, 0, 0})
	require.NoError(t, err)
	results2, err := st.Run([]*tens.Tensor{inputT2})
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 3, 3}, results2[0].Data().([]float32))
}
