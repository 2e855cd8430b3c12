// Package volume implements the 4D tensor ("volume") engine: shapes, storage
// backends, the Volume value type with its numeric kernels, and builders.
package volume

import (
	"math"
	"unsafe"
)

// Float is the constraint for volume element types.
type Float interface {
	~float32 | ~float64
}

// DataType represents runtime type information for volumes.
type DataType int

// Supported data types.
const (
	Float32 DataType = iota
	Float64
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	case Float64:
		return 8
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "unknown"
	}
}

// DataTypeOf returns the runtime DataType of T.
func DataTypeOf[T Float]() DataType {
	var zero T
	if unsafe.Sizeof(zero) == 4 {
		return Float32
	}
	return Float64
}

// SizeOf returns the byte size of one element of T.
func SizeOf[T Float]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// Epsilon returns the smallest positive value representable by T.
// It floors probabilities before taking logarithms.
func Epsilon[T Float]() T {
	if DataTypeOf[T]() == Float32 {
		return T(math.SmallestNonzeroFloat32)
	}
	return T(math.SmallestNonzeroFloat64)
}

// lowest returns the most negative finite value of T.
func lowest[T Float]() T {
	return -highest[T]()
}

// highest returns the largest finite value of T.
func highest[T Float]() T {
	// Constants must fit every type in T's set, so convert from variables.
	if DataTypeOf[T]() == Float32 {
		f := float32(math.MaxFloat32)
		return T(f)
	}
	f := math.MaxFloat64
	return T(f)
}
