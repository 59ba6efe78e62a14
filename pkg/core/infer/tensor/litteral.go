package tensor

// Scalar builds a rank-0 tensor holding a single value, mirroring the
// teacher/original's tensor0() convenience constructor used throughout
// model-authoring tests (spec §6 scenario S1's constant `three`).
func Scalar[T float32 | float64 | int8 | int16 | int32 | int64 | uint8 | bool](v T) *Tensor {
	t, err := FromBacking(nil, []T{v})
	if err != nil {
		panic(err)
	}
	return t
}

// Vector builds a rank-1 tensor from a slice, mirroring tensor1().
func Vector[T float32 | float64 | int8 | int16 | int32 | int64 | uint8 | bool](vs []T) *Tensor {
	t, err := FromBacking([]int{len(vs)}, append([]T(nil), vs...))
	if err != nil {
		panic(err)
	}
	return t
}
