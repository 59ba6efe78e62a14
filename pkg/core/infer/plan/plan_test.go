package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervegraph/inferon/pkg/core/infer/datum"
	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/model"
	"github.com/nervegraph/inferon/pkg/core/infer/ops/mathops"
	"github.com/nervegraph/inferon/pkg/core/infer/ops/varops"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

func TestPlanOrdersAndFlushesByLastUse(t *testing.T) {
	m := model.New[fact.TensorFact]()

	aT, err := tens.FromBacking([]int{2}, []float32{1, 2})
	require.NoError(t, err)
	bT, err := tens.FromBacking([]int{2}, []float32{3, 4})
	require.NoError(t, err)

	a, err := m.AddConst("a", aT, fact.FromTensor(aT))
	require.NoError(t, err)
	b, err := m.AddConst("b", bT, fact.FromTensor(bT))
	require.NoError(t, err)
	sum, err := m.AddNode("sum", &mathops.Binary{Kind: mathops.KindAdd}, 1, []fact.TensorFact{fact.Unknown()})
	require.NoError(t, err)
	require.NoError(t, m.AddEdge(model.OutletId{NodeID: a, Slot: 0}, model.InletId{NodeID: sum, Slot: 0}))
	require.NoError(t, m.AddEdge(model.OutletId{NodeID: b, Slot: 0}, model.InletId{NodeID: sum, Slot: 1}))
	m.SetOutputOutlets([]model.OutletId{{NodeID: sum, Slot: 0}})

	p, err := New(m)
	require.NoError(t, err)
	require.Equal(t, []int{a, b, sum}, p.Order)
	// a and b are last used at the step that runs sum (step 2); sum
	// itself is a designated output, so it's never flushed mid-run.
	assert.Equal(t, 2, p.LastUse[a])
	assert.Equal(t, 2, p.LastUse[b])
	assert.Equal(t, len(p.Order), p.LastUse[sum])
	assert.ElementsMatch(t, []int{a, b}, p.FlushLists[2])

	st := NewState(p)
	out, err := st.Run(nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []float32{4, 6}, out[0].Data().([]float32))
}

func TestMultiPlanVariableReadSetReset(t *testing.T) {
	const varID = "xxx"

	buildVarModel := func(t *testing.T) (*model.Model[fact.TensorFact], int) {
		m := model.New[fact.TensorFact]()
		id, err := m.AddNode("v", &varops.VariableV2{ID: varID, DT: datum.F32}, 1, []fact.TensorFact{fact.Unknown()})
		require.NoError(t, err)
		return m, id
	}

	readModel, vRead := buildVarModel(t)
	readModel.SetOutputOutlets([]model.OutletId{{NodeID: vRead, Slot: 0}})
	readPlan, err := New(readModel)
	require.NoError(t, err)

	buildAssignModel := func(t *testing.T, newValue float32) *model.Model[fact.TensorFact] {
		m, v := buildVarModel(t)
		nv, err := tens.FromBacking([]int{}, []float32{newValue})
		require.NoError(t, err)
		newVal, err := m.AddConst("newVal", nv, fact.FromTensor(nv))
		require.NoError(t, err)
		assign, err := m.AddNode("assign", &varops.Assign{VarID: varID}, 1, []fact.TensorFact{fact.Unknown()})
		require.NoError(t, err)
		require.NoError(t, m.AddEdge(model.OutletId{NodeID: v, Slot: 0}, model.InletId{NodeID: assign, Slot: 0}))
		require.NoError(t, m.AddEdge(model.OutletId{NodeID: newVal, Slot: 0}, model.InletId{NodeID: assign, Slot: 1}))
		m.SetOutputOutlets([]model.OutletId{{NodeID: assign, Slot: 0}})
		return m
	}

	setModel := buildAssignModel(t, 7)
	setPlan, err := New(setModel)
	require.NoError(t, err)

	resetModel := buildAssignModel(t, 0)
	resetPlan, err := New(resetModel)
	require.NoError(t, err)

	mp := NewMultiPlan(readPlan, setPlan, resetPlan)

	out, err := mp.RunPlan(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []float32{0}, out[0].Data().([]float32))

	out, err = mp.RunPlan(nil, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{7}, out[0].Data().([]float32))

	out, err = mp.RunPlan(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []float32{7}, out[0].Data().([]float32))

	out, err = mp.RunPlan(nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{0}, out[0].Data().([]float32))
}
