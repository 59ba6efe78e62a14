// Package varops implements the mutable-state operators: VariableV2 (a
// session-keyed tensor slot) and Assign (writes into one), grounded on
// the original's tensorflow/src/ops/vars.rs and exercised by the
// multiplan read/set/reset scenario.
package varops

import (
	"fmt"

	"github.com/nervegraph/inferon/pkg/core/infer/datum"
	"github.com/nervegraph/inferon/pkg/core/infer/dim"
	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	"github.com/nervegraph/inferon/pkg/core/infer/model"
	"github.com/nervegraph/inferon/pkg/core/infer/solver"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// VarID builds the stable session key for a variable, mirroring the
// original's "{container}#{shared_name}#{name}" format.
func VarID(container, sharedName, name string) string {
	return fmt.Sprintf("%v#%v#%s", optStr(container), optStr(sharedName), name)
}

func optStr(s string) string {
	if s == "" {
		return "None"
	}
	return fmt.Sprintf("Some(%q)", s)
}

// VariableV2 reads a named, persistent tensor slot out of the executor's
// session state, allocating it zero-valued on first use.
type VariableV2 struct {
	model.NotIncorporated
	ID    string
	Shape []int
	DT    datum.DatumType
}

func (v *VariableV2) Name() string    { return "VariableV2" }
func (v *VariableV2) NumOutputs() int { return 1 }

func (v *VariableV2) Eval([]*tens.Tensor) ([]*tens.Tensor, error) {
	return nil, infererr.New(infererr.EvaluationFailure, "VariableV2 has no stateless eval: it requires session state")
}

type variableV2State struct{ v *VariableV2 }

func (s *variableV2State) Eval(session model.Session, op model.Op, inputs []*tens.Tensor) ([]*tens.Tensor, error) {
	t, ok := session.Variable(s.v.ID)
	if !ok {
		fresh, err := tens.New(s.v.DT, s.v.Shape)
		if err != nil {
			return nil, err
		}
		session.SetVariable(s.v.ID, fresh)
		t = fresh
	}
	return []*tens.Tensor{t}, nil
}

func (v *VariableV2) State(session model.Session) (model.OpState, error) {
	if _, ok := session.Variable(v.ID); !ok {
		fresh, err := tens.New(v.DT, v.Shape)
		if err != nil {
			return nil, err
		}
		session.SetVariable(v.ID, fresh)
	}
	return &variableV2State{v: v}, nil
}

func (v *VariableV2) Rules(s *solver.Solver, in, out []solver.TensorProxy) error {
	if len(in) != 0 || len(out) != 1 {
		return infererr.New(infererr.ArityMismatch, "VariableV2 expects 0 inputs and 1 output")
	}
	if err := s.Equals(out[0].DatumType(), v.DT); err != nil {
		return err
	}
	dims := make([]fact.DimFact, len(v.Shape))
	for i, d := range v.Shape {
		dims[i] = fact.Only(dim.Int(int64(d)))
	}
	return s.Equals(out[0].Shape(), fact.Closed(dims...))
}

func (v *VariableV2) ToTyped(source *model.InferenceModel, node *model.InferenceNode, target *model.TypedModel, mapping map[model.OutletId]model.OutletId) ([]model.OutletId, error) {
	return (model.IdentityToTyped{Self: v}).ToTyped(source, node, target, mapping)
}

// Assign writes its second input's value into the variable named VarID,
// and returns that same value — grounded on the original's tf.Assign,
// which must be linked to a variable id before it can be evaluated.
type Assign struct {
	model.NotIncorporated
	VarID string
}

func (a *Assign) Name() string    { return "Assign" }
func (a *Assign) NumOutputs() int { return 1 }

func (a *Assign) Eval([]*tens.Tensor) ([]*tens.Tensor, error) {
	return nil, infererr.New(infererr.EvaluationFailure, "Assign has no stateless eval: it requires session state")
}

type assignState struct{ a *Assign }

func (s *assignState) Eval(session model.Session, op model.Op, inputs []*tens.Tensor) ([]*tens.Tensor, error) {
	if len(inputs) != 2 {
		return nil, infererr.New(infererr.ArityMismatch, "assign expects exactly 2 inputs")
	}
	if s.a.VarID == "" {
		return nil, infererr.New(infererr.InvalidInput, "Assign has not been linked to a variable")
	}
	newVal := inputs[1]
	session.SetVariable(s.a.VarID, newVal)
	return []*tens.Tensor{newVal}, nil
}

func (a *Assign) State(model.Session) (model.OpState, error) { return &assignState{a: a}, nil }

func (a *Assign) Rules(s *solver.Solver, in, out []solver.TensorProxy) error {
	if len(in) != 2 || len(out) != 1 {
		return infererr.New(infererr.ArityMismatch, "assign expects 2 inputs and 1 output")
	}
	if err := s.Equals(in[0].DatumType(), in[1].DatumType()); err != nil {
		return err
	}
	if err := s.Equals(out[0].DatumType(), in[0].DatumType()); err != nil {
		return err
	}
	if err := s.Equals(in[1].Shape(), in[0].Shape()); err != nil {
		return err
	}
	if err := s.Equals(out[0].Shape(), in[0].Shape()); err != nil {
		return err
	}
	return s.Equals(out[0].Value(), in[1].Value())
}

func (a *Assign) ToTyped(source *model.InferenceModel, node *model.InferenceNode, target *model.TypedModel, mapping map[model.OutletId]model.OutletId) ([]model.OutletId, error) {
	return (model.IdentityToTyped{Self: a}).ToTyped(source, node, target, mapping)
}
