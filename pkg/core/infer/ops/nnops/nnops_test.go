package nnops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

func TestBatchNormEvalScalesPerChannel(t *testing.T) {
	x, err := tens.FromBacking([]int{1, 2, 2}, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	scale, err := tens.FromBacking([]int{2}, []float32{2, 1})
	require.NoError(t, err)
	beta, err := tens.FromBacking([]int{2}, []float32{0, 1})
	require.NoError(t, err)
	mean, err := tens.FromBacking([]int{2}, []float32{0, 0})
	require.NoError(t, err)
	variance, err := tens.FromBacking([]int{2}, []float32{3, 0})
	require.NoError(t, err)

	op := &BatchNorm{Format: NCHW, Epsilon: 1}
	out, err := op.Eval([]*tens.Tensor{x, scale, beta, mean, variance})
	require.NoError(t, err)
	require.Len(t, out, 1)
	got := out[0].Data().([]float32)
	assert.InDelta(t, 1.0, got[0], 1e-5)
	assert.InDelta(t, 2.0, got[1], 1e-5)
	assert.InDelta(t, 4.0, got[2], 1e-5)
	assert.InDelta(t, 5.0, got[3], 1e-5)
}

func TestMatMulEvalMultipliesRank2(t *testing.T) {
	a, err := tens.FromBacking([]int{2, 2}, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	b, err := tens.FromBacking([]int{2, 2}, []float32{5, 6, 7, 8})
	require.NoError(t, err)

	op := &MatMul{}
	out, err := op.Eval([]*tens.Tensor{a, b})
	require.NoError(t, err)
	assert.Equal(t, []float32{19, 22, 43, 50}, out[0].Data().([]float32))
}

func TestMatMulEvalHonorsTransposedOperand(t *testing.T) {
	a, err := tens.FromBacking([]int{2, 2}, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	bt, err := tens.FromBacking([]int{2, 2}, []float32{5, 7, 6, 8})
	require.NoError(t, err)

	op := &MatMul{TransB: true}
	out, err := op.Eval([]*tens.Tensor{a, bt})
	require.NoError(t, err)
	assert.Equal(t, []float32{19, 22, 43, 50}, out[0].Data().([]float32))
}
