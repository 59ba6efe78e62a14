package model

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type dumpNode struct {
	ID      int      `yaml:"id"`
	Name    string   `yaml:"name"`
	Op      string   `yaml:"op"`
	Inputs  []string `yaml:"inputs,omitempty"`
	Outputs []string `yaml:"outputs"`
}

type dumpModel struct {
	Nodes   []dumpNode `yaml:"nodes"`
	Inputs  []string   `yaml:"inputs"`
	Outputs []string   `yaml:"outputs"`
}

// dumpable is the extra requirement DumpYAML places on a fact type
// beyond Fact[F]: it must render to a readable string.
type dumpable[T any] interface {
	Fact[T]
	fmt.Stringer
}

// DumpYAML renders the model as a human-readable debugging dump —
// never parsed back in, purely for introspection during development.
func DumpYAML[F dumpable[F]](m *Model[F]) (string, error) {
	d := dumpModel{}
	for _, id := range m.order {
		n := m.nodes[id]
		dn := dumpNode{ID: n.ID, Name: n.Name, Op: n.Op.Name()}
		for _, in := range n.Inputs {
			dn.Inputs = append(dn.Inputs, in.String())
		}
		for _, f := range n.OutputFacts {
			dn.Outputs = append(dn.Outputs, f.String())
		}
		d.Nodes = append(d.Nodes, dn)
	}
	for _, o := range m.inputs {
		d.Inputs = append(d.Inputs, o.String())
	}
	for _, o := range m.outputs {
		d.Outputs = append(d.Outputs, o.String())
	}
	out, err := yaml.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
