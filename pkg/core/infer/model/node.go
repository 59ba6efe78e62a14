package model

// Node is one vertex of a graph (spec §4.3). It is generic over its
// outlet fact type F so the same structure serves both graph
// incarnations: InferenceModel (F = fact.TensorFact) and TypedModel
// (F = fact.TypedTensorInfo).
type Node[F any] struct {
	ID          int
	Name        string
	Op          Op
	Inputs      []OutletId
	OutputFacts []F
}

// NumOutputs is the node's declared output arity.
func (n *Node[F]) NumOutputs() int { return len(n.OutputFacts) }
