// Package tensor implements the immutable, reference-counted CPU tensor
// described in spec §3, backed by gorgonia.org/tensor's dense array
// storage.
package tensor

import (
	"fmt"
	"sync/atomic"

	"github.com/nervegraph/inferon/pkg/core/infer/datum"
	"github.com/nervegraph/inferon/pkg/core/infer/dim"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	gorgonia "gorgonia.org/tensor"
)

var idSeq uint64

func nextID() uint64 { return atomic.AddUint64(&idSeq, 1) }

// Tensor is a handed-off-once, read-only value once it reaches the
// executor (spec §3 "Tensors are immutable once handed to the
// executor"); sharing among consumers is by Arc, not by copy.
type Tensor struct {
	id    uint64
	dt    datum.DatumType
	shape []int
	dense *gorgonia.Dense // nil when dt == datum.TDim
	tdims []dim.TDim      // populated only when dt == datum.TDim
}

// New allocates a zeroed tensor of the given type and shape.
func New(dt datum.DatumType, shape []int) (*Tensor, error) {
	if dt == datum.TDim {
		return NewTDim(shape, nil), nil
	}
	gdt, ok := dt.ToGorgonia()
	if !ok {
		return nil, infererr.New(infererr.InvalidInput, fmt.Sprintf("cannot allocate tensor of dtype %s", dt))
	}
	d := gorgonia.New(gorgonia.Of(gdt), gorgonia.WithShape(shape...))
	return &Tensor{id: nextID(), dt: dt, shape: append([]int(nil), shape...), dense: d}, nil
}

// FromBacking wraps an existing Go slice as tensor storage without
// copying, inferring dtype from the slice's element type.
func FromBacking(shape []int, backing any) (*Tensor, error) {
	var gdt gorgonia.Dtype
	var dt datum.DatumType
	switch backing.(type) {
	case []float32:
		gdt, dt = gorgonia.Float32, datum.F32
	case []float64:
		gdt, dt = gorgonia.Float64, datum.F64
	case []int8:
		gdt, dt = gorgonia.Int8, datum.I8
	case []int16:
		gdt, dt = gorgonia.Int16, datum.I16
	case []int32:
		gdt, dt = gorgonia.Int32, datum.I32
	case []int64:
		gdt, dt = gorgonia.Int64, datum.I64
	case []uint8:
		gdt, dt = gorgonia.Uint8, datum.U8
	case []bool:
		gdt, dt = gorgonia.Bool, datum.Bool
	default:
		return nil, infererr.New(infererr.InvalidInput, fmt.Sprintf("unsupported backing type %T", backing))
	}
	d := gorgonia.New(gorgonia.Of(gdt), gorgonia.WithShape(shape...), gorgonia.WithBacking(backing))
	return &Tensor{id: nextID(), dt: dt, shape: append([]int(nil), shape...), dense: d}, nil
}

// NewTDim builds a tensor of symbolic dimensions (used by the Shape
// operator, spec §6). If values is nil, the tensor is zero-valued
// (all Int(0)).
func NewTDim(shape []int, values []dim.TDim) *Tensor {
	size := 1
	for _, s := range shape {
		size *= s
	}
	if values == nil {
		values = make([]dim.TDim, size)
	}
	return &Tensor{id: nextID(), dt: datum.TDim, shape: append([]int(nil), shape...), tdims: values}
}

// ID is a process-local identity, distinct from any value equality.
func (t *Tensor) ID() uint64 { return t.id }

// DatumType returns the tensor's element type.
func (t *Tensor) DatumType() datum.DatumType { return t.dt }

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() []int { return append([]int(nil), t.shape...) }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.shape) }

// Size returns the total element count.
func (t *Tensor) Size() int {
	n := 1
	for _, s := range t.shape {
		n *= s
	}
	return n
}

// Dense returns the backing gorgonia dense array; panics if the tensor
// holds symbolic dims (check DatumType first).
func (t *Tensor) Dense() *gorgonia.Dense {
	if t.dense == nil {
		panic("tensor: Dense() called on a symbolic-dim tensor")
	}
	return t.dense
}

// TDims returns the backing symbolic-dim slice; panics unless
// DatumType() == datum.TDim.
func (t *Tensor) TDims() []dim.TDim {
	if t.dt != datum.TDim {
		panic("tensor: TDims() called on a non symbolic-dim tensor")
	}
	return t.tdims
}

// Data returns the underlying Go slice for concrete element types.
func (t *Tensor) Data() any {
	if t.dense == nil {
		return t.tdims
	}
	return t.dense.Data()
}

// Clone makes a deep, independent copy (used when a shared tensor has
// other holders and the caller needs exclusive access; spec §4.10
// "Taking outputs transfers ownership... cloning when shared").
func (t *Tensor) Clone() *Tensor {
	if t.dense == nil {
		cp := append([]dim.TDim(nil), t.tdims...)
		return &Tensor{id: nextID(), dt: t.dt, shape: append([]int(nil), t.shape...), tdims: cp}
	}
	cloned := t.dense.Clone().(*gorgonia.Dense)
	return &Tensor{id: nextID(), dt: t.dt, shape: append([]int(nil), t.shape...), dense: cloned}
}

// ShapeEqual reports whether two tensors have the same rank and dims.
func ShapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(%s, shape=%v)", t.dt, t.shape)
}
