package arrayops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervegraph/inferon/pkg/core/infer/analyser"
	"github.com/nervegraph/inferon/pkg/core/infer/datum"
	"github.com/nervegraph/inferon/pkg/core/infer/dim"
	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

func TestReshapeEvalResolvesMinusOneWildcard(t *testing.T) {
	in, err := tens.FromBacking([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	shapeT, err := tens.FromBacking([]int{2}, []int64{3, -1})
	require.NoError(t, err)

	op := &Reshape{}
	out, err := op.Eval([]*tens.Tensor{in, shapeT})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, out[0].Shape())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, out[0].Data().([]float32))
}

func TestComputeShapeKeepsZeroWildcardAxis(t *testing.T) {
	out, err := computeShape([]int{2, 3, 4}, []int64{0, 0, -1})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, out)
}

func TestShapeEvalReturnsDims(t *testing.T) {
	in, err := tens.FromBacking([]int{2, 3}, []float32{0, 0, 0, 0, 0, 0})
	require.NoError(t, err)

	op := &Shape{DT: datum.I32}
	out, err := op.Eval([]*tens.Tensor{in})
	require.NoError(t, err)
	assert.Equal(t, []int32{2, 3}, out[0].Data().([]int32))
}

func TestSliceEvalClampsAndExtractsRange(t *testing.T) {
	in, err := tens.FromBacking([]int{5}, []float32{10, 20, 30, 40, 50})
	require.NoError(t, err)

	op := &Slice{Starts: []int{1}, Ends: []int{100}}
	out, err := op.Eval([]*tens.Tensor{in})
	require.NoError(t, err)
	assert.Equal(t, []float32{20, 30, 40, 50}, out[0].Data().([]float32))
}

func TestSliceEvalNegativeStart(t *testing.T) {
	in, err := tens.FromBacking([]int{5}, []float32{10, 20, 30, 40, 50})
	require.NoError(t, err)

	op := &Slice{Starts: []int{-2}, Ends: []int{100}}
	out, err := op.Eval([]*tens.Tensor{in})
	require.NoError(t, err)
	assert.Equal(t, []float32{40, 50}, out[0].Data().([]float32))
}

// TestShapeRulesEmitsSymbolicDimsForStreamingAxis covers the dtype
// duality the Shape operator owes the streaming axis: when one of the
// input's dims is still the symbolic stream variable, Rules cannot
// coerce the output to an integer dtype and instead carries the raw
// dim.TDim values (spec §6 scenario S6).
func TestShapeRulesEmitsSymbolicDimsForStreamingAxis(t *testing.T) {
	op := &Shape{DT: datum.I64}
	in := []fact.TensorFact{{
		Type:  fact.Only(datum.F32),
		Shape: fact.Closed(fact.Only(dim.Int(1)), fact.Only(dim.S), fact.Only(dim.Int(4))),
		Value: fact.Any[*tens.Tensor](),
	}}
	out := []fact.TensorFact{fact.Unknown()}

	_, resolvedOut, _, err := analyser.InferNode(op, in, out, nil)
	require.NoError(t, err)
	require.Len(t, resolvedOut, 1)

	dt, ok := resolvedOut[0].Type.Concretize()
	require.True(t, ok)
	assert.Equal(t, datum.TDim, dt)

	dims, ok := resolvedOut[0].Shape.Concretize()
	require.True(t, ok)
	require.Len(t, dims, 1)
	assert.True(t, dims[0].Equal(dim.Int(3)))

	v, ok := resolvedOut[0].Value.Concretize()
	require.True(t, ok)
	assert.Equal(t, []dim.TDim{dim.Int(1), dim.S, dim.Int(4)}, v.Data().([]dim.TDim))
}
