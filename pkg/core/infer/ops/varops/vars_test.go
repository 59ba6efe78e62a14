package varops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervegraph/inferon/pkg/core/infer/datum"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// fakeSession is a minimal model.Session for exercising VariableV2/Assign
// in isolation, without pulling in the full executor.
type fakeSession struct{ vars map[string]*tens.Tensor }

func newFakeSession() *fakeSession { return &fakeSession{vars: map[string]*tens.Tensor{}} }

func (s *fakeSession) Variable(name string) (*tens.Tensor, bool) { t, ok := s.vars[name]; return t, ok }
func (s *fakeSession) SetVariable(name string, t *tens.Tensor)   { s.vars[name] = t }
func (s *fakeSession) KnownStreamLen() (int64, bool)             { return 0, false }

func TestVariableV2AllocatesZeroedOnFirstState(t *testing.T) {
	session := newFakeSession()
	v := &VariableV2{ID: "xxx", Shape: nil, DT: datum.F32}
	state, err := v.State(session)
	require.NoError(t, err)
	out, err := state.Eval(session, v, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{0}, out[0].Data().([]float32))
}

func TestAssignWritesThenVariableReadsBack(t *testing.T) {
	session := newFakeSession()
	v := &VariableV2{ID: "xxx", Shape: nil, DT: datum.F32}
	vState, err := v.State(session)
	require.NoError(t, err)

	one, err := tens.FromBacking([]int{}, []float32{1})
	require.NoError(t, err)
	a := &Assign{VarID: "xxx"}
	aState, err := a.State(session)
	require.NoError(t, err)
	_, err = aState.Eval(session, a, []*tens.Tensor{nil, one})
	require.NoError(t, err)

	out, err := vState.Eval(session, v, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, out[0].Data().([]float32))
}

func TestVarIDMatchesOriginalFormat(t *testing.T) {
	assert.Equal(t, `None#None#var`, VarID("", "", "var"))
	assert.Equal(t, `Some("c")#Some("s")#var`, VarID("c", "s", "var"))
}
