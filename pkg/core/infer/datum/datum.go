// Package datum defines the closed set of element types a Tensor can
// hold, and the small dispatch helpers operators use to jump on them.
package datum

import "gorgonia.org/tensor"

// DatumType is the element type tag carried by every tensor and fact.
// The zero value, Unknown, is never a valid concrete fact — it only
// appears as the sentinel used by the `Any` case of a type fact.
type DatumType uint8

const (
	Unknown DatumType = iota
	Bool
	I8
	I16
	I32
	I64
	U8
	U16
	U32
	U64
	F16
	F32
	F64
	// TDim tags a tensor whose elements are symbolic dimensions
	// (dim.TDim), produced by the Shape operator when an input shape is
	// not fully concrete (spec §6, scenario S6).
	TDim
)

func (d DatumType) String() string {
	switch d {
	case Bool:
		return "bool"
	case I8:
		return "i8"
	case I16:
		return "i16"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case U8:
		return "u8"
	case U16:
		return "u16"
	case U32:
		return "u32"
	case U64:
		return "u64"
	case F16:
		return "f16"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case TDim:
		return "symbolic-dim"
	default:
		return "unknown"
	}
}

// IsKnown reports whether d is a concrete, dispatchable element type.
func (d DatumType) IsKnown() bool { return d != Unknown }

// ToGorgonia maps a DatumType onto the gorgonia.org/tensor Dtype used to
// back the concrete storage of a Tensor. F16, TDim and Unknown have no
// gorgonia counterpart: TDim tensors are stored as a plain Go slice
// (see pkg/core/infer/tensor), since gorgonia has no symbolic element.
func (d DatumType) ToGorgonia() (tensor.Dtype, bool) {
	switch d {
	case Bool:
		return tensor.Bool, true
	case I8:
		return tensor.Int8, true
	case I16:
		return tensor.Int16, true
	case I32:
		return tensor.Int32, true
	case I64:
		return tensor.Int64, true
	case U8:
		return tensor.Uint8, true
	case U16:
		return tensor.Uint16, true
	case U32:
		return tensor.Uint32, true
	case U64:
		return tensor.Uint64, true
	case F32:
		return tensor.Float32, true
	case F64:
		return tensor.Float64, true
	default:
		return tensor.Dtype{}, false
	}
}

// FromGorgonia is the inverse of ToGorgonia.
func FromGorgonia(dt tensor.Dtype) (DatumType, bool) {
	switch dt {
	case tensor.Bool:
		return Bool, true
	case tensor.Int8:
		return I8, true
	case tensor.Int16:
		return I16, true
	case tensor.Int32:
		return I32, true
	case tensor.Int64:
		return I64, true
	case tensor.Uint8:
		return U8, true
	case tensor.Uint16:
		return U16, true
	case tensor.Uint32:
		return U32, true
	case tensor.Uint64:
		return U64, true
	case tensor.Float32:
		return F32, true
	case tensor.Float64:
		return F64, true
	default:
		return Unknown, false
	}
}

// IsFloat reports whether d is one of the floating-point element types.
func (d DatumType) IsFloat() bool {
	return d == F16 || d == F32 || d == F64
}

// IsInteger reports whether d is one of the fixed-width integer types.
func (d DatumType) IsInteger() bool {
	switch d {
	case I8, I16, I32, I64, U8, U16, U32, U64:
		return true
	default:
		return false
	}
}
