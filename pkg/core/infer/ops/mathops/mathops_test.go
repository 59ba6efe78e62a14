package mathops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervegraph/inferon/pkg/core/infer/dim"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

func TestBinaryAddConstant(t *testing.T) {
	in, err := tens.FromBacking([]int{3}, []float32{1.0, 2.5, 5.0})
	require.NoError(t, err)
	three, err := tens.FromBacking([]int{3}, []float32{3, 3, 3})
	require.NoError(t, err)

	op := &Binary{Kind: KindAdd}
	out, err := op.Eval([]*tens.Tensor{in, three})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []float32{4.0, 5.5, 8.0}, out[0].Data().([]float32))
}

func TestBroadcastShapesUnifiesOneFourAndThreeOne(t *testing.T) {
	out, err := BroadcastShapes(
		[]dim.TDim{dim.Int(1), dim.Int(4)},
		[]dim.TDim{dim.Int(3), dim.Int(1)},
	)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, out[0].Equal(dim.Int(3)))
	assert.True(t, out[1].Equal(dim.Int(4)))
}

func TestBroadcastShapesConflictsOnDistinctNonOneDims(t *testing.T) {
	_, err := BroadcastShapes([]dim.TDim{dim.Int(2)}, []dim.TDim{dim.Int(3)})
	require.Error(t, err)
	assert.True(t, infererr.Is(err, infererr.BroadcastConflict))
}
