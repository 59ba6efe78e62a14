package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervegraph/inferon/pkg/core/infer/datum"
	"github.com/nervegraph/inferon/pkg/core/infer/dim"
	"github.com/nervegraph/inferon/pkg/core/infer/fact"
)

func TestSolverEqualsPropagatesAcrossInputsAndOutputs(t *testing.T) {
	s := &Solver{}
	ins := s.Inputs(2)
	outs := s.Outputs(1)

	require.NoError(t, s.Equals(outs[0].DatumType(), ins[0].DatumType()))
	require.NoError(t, s.Equals(ins[0].DatumType(), ins[1].DatumType()))
	require.NoError(t, s.Equals(ins[0].DatumType(), datum.F32))

	inputs := []fact.TensorFact{fact.Unknown(), fact.Unknown()}
	outputs := []fact.TensorFact{fact.Unknown()}

	resolvedIn, resolvedOut, err := s.Solve(inputs, outputs)
	require.NoError(t, err)

	dt, ok := resolvedIn[0].Type.Concretize()
	require.True(t, ok)
	assert.Equal(t, datum.F32, dt)

	dt, ok = resolvedIn[1].Type.Concretize()
	require.True(t, ok)
	assert.Equal(t, datum.F32, dt)

	dt, ok = resolvedOut[0].Type.Concretize()
	require.True(t, ok)
	assert.Equal(t, datum.F32, dt)
}

func TestSolverEqualsRejectsConflictingLiterals(t *testing.T) {
	s := &Solver{}
	ins := s.Inputs(1)

	require.NoError(t, s.Equals(ins[0].DatumType(), datum.F32))
	require.NoError(t, s.Equals(ins[0].DatumType(), datum.I32))

	_, _, err := s.Solve([]fact.TensorFact{fact.Unknown()}, nil)
	assert.Error(t, err)
}

func TestSolverGivenFiresOnceShapeConcretizes(t *testing.T) {
	s := &Solver{}
	ins := s.Inputs(1)
	outs := s.Outputs(1)

	fired := 0
	s.GivenRank(ins[0].Rank(), func(sv *Solver, n int) error {
		fired++
		return sv.Equals(outs[0].Rank(), n)
	})

	inputs := []fact.TensorFact{fact.DtShape(datum.F32, 2, 3)}
	outputs := []fact.TensorFact{fact.Unknown()}

	_, resolvedOut, err := s.Solve(inputs, outputs)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	n, ok := resolvedOut[0].Shape.Rank().Concretize()
	require.True(t, ok)
	assert.Equal(t, 2, n)
}

func TestSolverEqualsDimUnifiesAxisAcrossShapes(t *testing.T) {
	s := &Solver{}
	ins := s.Inputs(2)

	require.NoError(t, s.Equals(ins[0].Shape().At(0), ins[1].Shape().At(0)))

	inputs := []fact.TensorFact{
		fact.DtShape(datum.F32, 4, 5),
		fact.Unknown(),
	}
	resolvedIn, _, err := s.Solve(inputs, nil)
	require.NoError(t, err)

	d := resolvedIn[1].Shape.Dim(0)
	v, ok := d.Concretize()
	require.True(t, ok)
	assert.True(t, v.Equal(dim.Int(4)))
}
