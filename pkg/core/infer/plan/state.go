package plan

import (
	"fmt"

	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	"github.com/nervegraph/inferon/pkg/core/infer/model"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// SessionState is the part of spec §4.10's executor that outlives any
// one plan: named variables and the stream length once known. Several
// SimpleState executors can share one SessionState (the multiplan
// pattern of spec §5), so a write an Assign makes while running one plan
// is visible to a VariableV2 read in another.
type SessionState struct {
	vars           map[string]*tens.Tensor
	streamLen      int64
	streamLenKnown bool
}

// NewSessionState builds an empty session.
func NewSessionState() *SessionState {
	return &SessionState{vars: make(map[string]*tens.Tensor)}
}

func (s *SessionState) Variable(name string) (*tens.Tensor, bool) {
	t, ok := s.vars[name]
	return t, ok
}

func (s *SessionState) SetVariable(name string, t *tens.Tensor) { s.vars[name] = t }

func (s *SessionState) KnownStreamLen() (int64, bool) { return s.streamLen, s.streamLenKnown }

// SetKnownStreamLen records the input sequence length once it is known,
// for operators (notably Scan) that size their iteration count from it.
func (s *SessionState) SetKnownStreamLen(n int64) {
	s.streamLen = n
	s.streamLenKnown = true
}

// SimpleState is the reusable executor of spec §4.10, built once from a
// Plan and re-runnable many times. Its values and per-node OpStates are
// private to this plan; its session state may be shared with sibling
// executors over other plans (see MultiPlan).
type SimpleState[F model.Fact[F]] struct {
	Plan    *Plan[F]
	Session *SessionState

	values map[int][]*tens.Tensor
	states map[int]model.OpState

	// Debug, when set, unifies every produced tensor's concrete fact
	// against the node's declared typed info before accepting it (spec
	// §4.10 step 2's "in debug mode unify produced tensor facts against
	// expected typed info").
	Debug bool
}

// NewState builds a fresh executor over p with its own private session.
func NewState[F model.Fact[F]](p *Plan[F]) *SimpleState[F] {
	return NewStateWithSession(p, NewSessionState())
}

// NewStateWithSession builds an executor over p that reads and writes
// through an existing, possibly shared, session state.
func NewStateWithSession[F model.Fact[F]](p *Plan[F], session *SessionState) *SimpleState[F] {
	return &SimpleState[F]{
		Plan:    p,
		Session: session,
		values:  make(map[int][]*tens.Tensor),
		states:  make(map[int]model.OpState),
	}
}

// Variable, SetVariable and KnownStreamLen implement model.Session by
// delegating to this executor's (possibly shared) session state.
func (s *SimpleState[F]) Variable(name string) (*tens.Tensor, bool) { return s.Session.Variable(name) }
func (s *SimpleState[F]) SetVariable(name string, t *tens.Tensor)   { s.Session.SetVariable(name, t) }
func (s *SimpleState[F]) KnownStreamLen() (int64, bool)             { return s.Session.KnownStreamLen() }

// Run binds inputs to the plan's designated source outlets and executes
// every scheduled step in order (spec §4.10).
func (s *SimpleState[F]) Run(inputs []*tens.Tensor) ([]*tens.Tensor, error) {
	if len(inputs) != len(s.Plan.Inputs) {
		return nil, infererr.New(infererr.ArityMismatch,
			fmt.Sprintf("run: got %d input tensors, plan wants %d", len(inputs), len(s.Plan.Inputs)))
	}

	for i, o := range s.Plan.Inputs {
		n, err := s.Plan.Model.Node(o.NodeID)
		if err != nil {
			return nil, err
		}
		if _, ok := s.values[o.NodeID]; !ok {
			s.values[o.NodeID] = make([]*tens.Tensor, n.NumOutputs())
		}
		s.values[o.NodeID][o.Slot] = inputs[i]
	}

	for step, id := range s.Plan.Order {
		if step > 0 {
			for _, flushed := range s.Plan.FlushLists[step-1] {
				delete(s.values, flushed)
			}
		}

		if _, bound := s.values[id]; bound {
			continue
		}

		n, err := s.Plan.Model.Node(id)
		if err != nil {
			return nil, err
		}

		ins := make([]*tens.Tensor, len(n.Inputs))
		for i, o := range n.Inputs {
			produced, ok := s.values[o.NodeID]
			if !ok || o.Slot >= len(produced) || produced[o.Slot] == nil {
				return nil, infererr.New(infererr.EvaluationFailure,
					fmt.Sprintf("node %q: predecessor outlet %s has no value", n.Name, o))
			}
			ins[i] = produced[o.Slot]
		}

		out, err := s.evalNode(id, n, ins)
		if err != nil {
			return nil, infererr.Wrap(infererr.EvaluationFailure, fmt.Sprintf("node %q", n.Name), err)
		}
		if len(out) != n.NumOutputs() {
			return nil, infererr.New(infererr.ArityMismatch,
				fmt.Sprintf("node %q produced %d outputs, declared %d", n.Name, len(out), n.NumOutputs()))
		}
		if s.Debug {
			if err := s.checkDebug(n, out); err != nil {
				return nil, err
			}
		}
		s.values[id] = out
	}

	results := make([]*tens.Tensor, len(s.Plan.Outputs))
	for i, o := range s.Plan.Outputs {
		produced, ok := s.values[o.NodeID]
		if !ok || o.Slot >= len(produced) {
			return nil, infererr.New(infererr.NotFound, fmt.Sprintf("output outlet %s was never produced", o))
		}
		results[i] = s.Take(o)
	}

	s.values = make(map[int][]*tens.Tensor)
	return results, nil
}

func (s *SimpleState[F]) evalNode(id int, n *model.Node[F], ins []*tens.Tensor) ([]*tens.Tensor, error) {
	st, ok := s.states[id]
	if !ok {
		built, err := n.Op.State(s)
		if err != nil {
			return nil, err
		}
		if built != nil {
			s.states[id] = built
		}
		st = built
	}
	if st != nil {
		return st.Eval(s, n.Op, ins)
	}
	return n.Op.Eval(ins)
}

// checkDebug reassembles each produced tensor's concrete fact and
// unifies it against the node's declared output fact, which only
// carries useful information when F is fact.TypedTensorInfo (plans over
// an InferenceModel skip the check silently, since an un-lowered graph's
// facts may still legitimately be Any).
func (s *SimpleState[F]) checkDebug(n *model.Node[F], out []*tens.Tensor) error {
	for slot, t := range out {
		expected, ok := any(n.OutputFacts[slot]).(fact.TypedTensorInfo)
		if !ok {
			return nil
		}
		if _, err := expected.ToTensorFact().Unify(fact.FromTensor(t)); err != nil {
			return infererr.Wrap(infererr.InvalidInput, fmt.Sprintf("node %q output %d disagrees with its typed info", n.Name, slot), err)
		}
	}
	return nil
}

// Take returns the tensor produced at outlet o, transferring ownership:
// since this module's Tensor is immutable once emitted, sharing the same
// pointer across multiple takers is always safe and no defensive clone
// is needed (unlike a mutable-buffer tensor type, which would have to
// clone whenever more than one holder remains).
func (s *SimpleState[F]) Take(o model.OutletId) *tens.Tensor {
	produced, ok := s.values[o.NodeID]
	if !ok || o.Slot >= len(produced) {
		return nil
	}
	return produced[o.Slot]
}

// MultiPlan holds several plans, each with its own executor state but
// all sharing one SessionState, selected per run by index (spec §5
// "multiplan" — e.g. read / set / reset alternatives over the same
// variables).
type MultiPlan[F model.Fact[F]] struct {
	states []*SimpleState[F]
}

// NewMultiPlan builds one executor per plan, all sharing a single fresh
// session.
func NewMultiPlan[F model.Fact[F]](plans ...*Plan[F]) *MultiPlan[F] {
	session := NewSessionState()
	states := make([]*SimpleState[F], len(plans))
	for i, p := range plans {
		states[i] = NewStateWithSession(p, session)
	}
	return &MultiPlan[F]{states: states}
}

// RunPlan executes the plan at planIndex using the shared session state.
func (mp *MultiPlan[F]) RunPlan(inputs []*tens.Tensor, planIndex int) ([]*tens.Tensor, error) {
	if planIndex < 0 || planIndex >= len(mp.states) {
		return nil, infererr.New(infererr.NotFound, fmt.Sprintf("multiplan: no plan at index %d", planIndex))
	}
	return mp.states[planIndex].Run(inputs)
}
