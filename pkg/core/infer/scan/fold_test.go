package scan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervegraph/inferon/pkg/core/infer/analyser"
	"github.com/nervegraph/inferon/pkg/core/infer/datum"
	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/model"
	"github.com/nervegraph/inferon/pkg/core/infer/ops/mathops"
	"github.com/nervegraph/inferon/pkg/core/infer/plan"
	"github.com/nervegraph/inferon/pkg/core/infer/scan"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// TestMemoryFoldRunsARunningSum builds the smallest coupled-memory
// graph: m observes y, y = x + m, and a downstream node z consumes y so
// the fold pass (spec §4.11) must genuinely shunt a scan output rather
// than only a recurrent state. Running the folded model should compute
// a running sum of x's steps plus a constant bias at every step.
func TestMemoryFoldRunsARunningSum(t *testing.T) {
	m := model.New[fact.TensorFact]()

	xID, err := m.AddSource("x", fact.DtShape(datum.F32))
	require.NoError(t, err)

	// A memory's own shape must be declared independently of the node
	// it observes (mirroring the original's channel-derived Kaldi
	// memory shape) rather than left Unknown: m and y are mutually
	// coupled through Memory.InferFacts' unification, and if m starts
	// Open, its shape can only ever close by waiting on y's — which
	// itself never closes without m. Declaring m scalar here, matching
	// x, breaks that cycle on the very first analyser sweep.
	memID, err := m.AddNode("m", &scan.Memory{Observed: "y", Offset: -1}, 1, []fact.TensorFact{fact.DtShape(datum.F32)})
	require.NoError(t, err)

	yID, err := m.AddNode("y", &mathops.Binary{Kind: mathops.KindAdd}, 1, []fact.TensorFact{fact.Unknown()})
	require.NoError(t, err)
	require.NoError(t, m.AddEdge(model.OutletId{NodeID: xID, Slot: 0}, model.InletId{NodeID: yID, Slot: 0}))
	require.NoError(t, m.AddEdge(model.OutletId{NodeID: memID, Slot: 0}, model.InletId{NodeID: yID, Slot: 1}))

	biasT, err := tens.FromBacking([]int{}, []float32{100})
	require.NoError(t, err)
	biasID, err := m.AddConst("bias", biasT, fact.FromTensor(biasT))
	require.NoError(t, err)

	zID, err := m.AddNode("z", &mathops.Binary{Kind: mathops.KindAdd}, 1, []fact.TensorFact{fact.Unknown()})
	require.NoError(t, err)
	require.NoError(t, m.AddEdge(model.OutletId{NodeID: yID, Slot: 0}, model.InletId{NodeID: zID, Slot: 0}))
	require.NoError(t, m.AddEdge(model.OutletId{NodeID: biasID, Slot: 0}, model.InletId{NodeID: zID, Slot: 1}))

	m.SetInputOutlets([]model.OutletId{{NodeID: xID, Slot: 0}})
	m.SetOutputOutlets([]model.OutletId{{NodeID: zID, Slot: 0}})

	require.NoError(t, analyser.Analyse(m))
	require.NoError(t, model.IncorporateAll(m))

	var scanOps int
	var scanID int
	for _, id := range m.Nodes() {
		n, err := m.Node(id)
		require.NoError(t, err)
		if _, ok := n.Op.(*scan.Scan); ok {
			scanOps++
			scanID = id
		}
	}
	require.Equal(t, 1, scanOps, "memory fold must replace m/y with exactly one Scan node")

	zNode, err := m.Node(zID)
	require.NoError(t, err)
	assert.Equal(t, scanID, zNode.Inputs[0].NodeID, "z's first input must be shunted onto the scan node")

	_, err = m.Node(memID)
	assert.Error(t, err, "the memory node must be obliterated by the fold")
	_, err = m.Node(yID)
	assert.Error(t, err, "the intermediate y node must be obliterated by the fold")

	p, err := plan.New(m)
	require.NoError(t, err)
	st := plan.NewState(p)

	xT, err := tens.FromBacking([]int{3}, []float32{1, 2, 3})
	require.NoError(t, err)
	out, err := st.Run([]*tens.Tensor{xT})
	require.NoError(t, err)
	require.Len(t, out, 1)
	// y accumulates 0+1=1, 1+2=3, 3+3=6 across the three steps; z adds
	// the 100 bias to each step's running total.
	assert.Equal(t, []float32{101, 103, 106}, out[0].Data().([]float32))
}
