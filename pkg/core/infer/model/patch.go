package model

import (
	"fmt"

	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
	"github.com/nervegraph/inferon/pkg/logger"
)

// PatchOn is a staged, transactional rewrite of a Model (spec §4.8): a
// mini-graph of taps, new nodes, shunts and obliterations that is
// applied atomically or not at all.
type PatchOn[F Fact[F]] struct {
	base       *Model[F]
	newNodes   []*Node[F]
	shunts     map[OutletId]OutletId
	obliterate map[int]bool
	nextTemp   int
}

// Patch is the incorporate/scan-fold specialization over InferenceModel
// — the graph incarnation every pre-typing rewrite operates on.
type Patch = PatchOn[fact.TensorFact]

// NewPatch starts a patch staged against base.
func NewPatch[F Fact[F]](base *Model[F]) *PatchOn[F] {
	return &PatchOn[F]{
		base:       base,
		shunts:     make(map[OutletId]OutletId),
		obliterate: make(map[int]bool),
		nextTemp:   -1,
	}
}

// AddNode stages a new node inside the patch, returning a temporary id
// usable as the NodeID half of an OutletId until Apply resolves it to a
// fresh node id in the base model.
func (p *PatchOn[F]) AddNode(name string, op Op, numOutputs int, facts []F) (int, error) {
	if len(facts) != numOutputs {
		return 0, infererr.New(infererr.ArityMismatch, fmt.Sprintf("%d output facts for %d declared outputs", len(facts), numOutputs))
	}
	id := p.nextTemp
	p.nextTemp--
	p.newNodes = append(p.newNodes, &Node[F]{ID: id, Name: name, Op: op, OutputFacts: append([]F(nil), facts...)})
	return id, nil
}

// AddConst stages a new compile-time-constant node, mirroring Model's
// AddConst but scoped to the patch until Apply commits it.
func (p *PatchOn[F]) AddConst(name string, t *tens.Tensor, f F) (int, error) {
	return p.AddNode(name, &constOp{t: t}, 1, []F{f})
}

func (p *PatchOn[F]) tempNode(id int) *Node[F] {
	for _, n := range p.newNodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Wire occupies the next free inlet slot of a patch-local new node with
// from, which may be a tap into the base model or another new node's
// outlet.
func (p *PatchOn[F]) Wire(newNodeID int, from OutletId) error {
	n := p.tempNode(newNodeID)
	if n == nil {
		return infererr.New(infererr.NotFound, fmt.Sprintf("no patch-local node %d", newNodeID))
	}
	n.Inputs = append(n.Inputs, from)
	return nil
}

// Tap references a base-model outlet as a read-only cut-in into the
// patch — a pure documentation wrapper, since OutletId already
// addresses the base model directly.
func (p *PatchOn[F]) Tap(o OutletId) OutletId { return o }

// Shunt redirects every surviving consumer of original to replacement
// once the patch commits.
func (p *PatchOn[F]) Shunt(original, replacement OutletId) {
	p.shunts[original] = replacement
}

// Obliterate marks a base-model node for removal.
func (p *PatchOn[F]) Obliterate(nodeID int) { p.obliterate[nodeID] = true }

// IncorporateAll repeatedly asks every node's operator for an optional
// pre-typing rewrite (spec §4.4, §4.8) and applies whatever patch comes
// back, restarting the scan each time since a patch can add, remove or
// renumber nodes. It stops once a full pass over the current node set
// produces no patch. Most operators embed NotIncorporated and never
// contribute one; the scan fold (spec §4.11) and Gemm's rewrite into
// MatMul do.
func IncorporateAll(m *Model[fact.TensorFact]) error {
	for {
		applied := false
		for _, id := range m.Nodes() {
			n, err := m.Node(id)
			if err != nil {
				// a previous patch in this pass already removed it.
				continue
			}
			patch, err := n.Op.Incorporate(m, n)
			if err != nil {
				return err
			}
			if patch == nil {
				continue
			}
			if err := patch.Apply(); err != nil {
				return err
			}
			applied = true
			break
		}
		if !applied {
			return nil
		}
	}
}

// Apply commits the patch: it validates shunt coverage, then rewrites
// the base model in one step, or leaves it untouched on error (spec
// §4.8 "Application is atomic").
func (p *PatchOn[F]) Apply() error {
	for id := range p.obliterate {
		n, ok := p.base.nodes[id]
		if !ok {
			logger.Log.Debug().Int("node", id).Msg("patch: rollback, obliterated node does not exist")
			return infererr.New(infererr.NotFound, fmt.Sprintf("obliterated node %d does not exist", id))
		}
		for slot := range n.OutputFacts {
			out := OutletId{NodeID: id, Slot: slot}
			for _, in := range p.base.Successors(out) {
				if p.obliterate[in.NodeID] {
					continue
				}
				if _, shunted := p.shunts[out]; !shunted {
					logger.Log.Debug().Str("outlet", out.String()).Msg("patch: rollback, uncovered consumer of an obliterated outlet")
					return infererr.New(infererr.InvalidInput,
						fmt.Sprintf("obliterated outlet %s has a surviving consumer %s with no shunt", out, in))
				}
			}
		}
	}

	tempToFresh := make(map[int]int, len(p.newNodes))
	for _, n := range p.newNodes {
		fresh := p.base.nextID
		p.base.nextID++
		tempToFresh[n.ID] = fresh
	}
	resolve := func(o OutletId) OutletId {
		if fresh, ok := tempToFresh[o.NodeID]; ok {
			return OutletId{NodeID: fresh, Slot: o.Slot}
		}
		return o
	}

	for _, n := range p.newNodes {
		fresh := tempToFresh[n.ID]
		inputs := make([]OutletId, len(n.Inputs))
		for i, in := range n.Inputs {
			inputs[i] = resolve(in)
		}
		nn := &Node[F]{ID: fresh, Name: n.Name, Op: n.Op, Inputs: inputs, OutputFacts: n.OutputFacts}
		p.base.nodes[fresh] = nn
		p.base.order = append(p.base.order, fresh)
		p.base.byName[n.Name] = fresh
	}

	for original, replacement := range p.shunts {
		target := resolve(replacement)
		for _, id := range p.base.order {
			node := p.base.nodes[id]
			if p.obliterate[id] {
				continue
			}
			for slot, in := range node.Inputs {
				if in == original {
					node.Inputs[slot] = target
				}
			}
		}
		for i, o := range p.base.outputs {
			if o == original {
				p.base.outputs[i] = target
			}
		}
	}

	kept := p.base.order[:0]
	for _, id := range p.base.order {
		if p.obliterate[id] {
			n := p.base.nodes[id]
			delete(p.base.byName, n.Name)
			delete(p.base.nodes, id)
			continue
		}
		kept = append(kept, id)
	}
	p.base.order = kept
	logger.Log.Debug().Int("new_nodes", len(p.newNodes)).Int("obliterated", len(p.obliterate)).Msg("patch: applied")
	return nil
}
