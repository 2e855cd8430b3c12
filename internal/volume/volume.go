package volume

import (
	"fmt"

	"github.com/born-ml/volume/internal/parallel"
	"github.com/pkg/errors"
)

// Volume is a 4D tensor value (width, height, depth, batch) over a Storage.
//
// Kernels are methods on the input volume that write into a caller-allocated
// result volume. A Volume never owns another Volume.
type Volume[T Float] struct {
	storage Storage[T]
	par     parallel.Config
}

// New wraps storage in a Volume.
func New[T Float](storage Storage[T]) *Volume[T] {
	return &Volume[T]{
		storage: storage,
		par:     parallel.KernelConfig(),
	}
}

// WithParallel sets the parallel configuration used by this volume's kernels
// and returns the volume.
func (v *Volume[T]) WithParallel(cfg parallel.Config) *Volume[T] {
	v.par = cfg
	return v
}

// Storage returns the underlying storage.
func (v *Volume[T]) Storage() Storage[T] {
	return v.storage
}

// Shape returns the volume shape.
func (v *Volume[T]) Shape() Shape {
	return v.storage.Shape()
}

// Get returns the element at coords (1 to 4 coordinates).
func (v *Volume[T]) Get(coords ...int) T {
	return v.storage.Get(coords...)
}

// Set stores value at coords (1 to 4 coordinates).
func (v *Volume[T]) Set(value T, coords ...int) {
	v.storage.Set(value, coords...)
}

// ToArray returns a flat copy of the elements.
func (v *Volume[T]) ToArray() ([]T, error) {
	return v.storage.ToArray()
}

// Clear zero-fills the volume.
func (v *Volume[T]) Clear() error {
	return v.storage.Clear()
}

// Reshape returns a volume viewing the same storage under new dimensions.
// One dimension may be Unknown.
func (v *Volume[T]) Reshape(dims ...int) (*Volume[T], error) {
	shape, err := NewShape(dims...)
	if err != nil {
		return nil, err
	}
	storage, err := v.storage.Reshape(shape)
	if err != nil {
		return nil, err
	}
	return &Volume[T]{storage: storage, par: v.par}, nil
}

// Release releases the underlying storage.
func (v *Volume[T]) Release() error {
	return v.storage.Release()
}

// String returns a short description of the volume.
func (v *Volume[T]) String() string {
	return fmt.Sprintf("Volume[%s]%v", DataTypeOf[T](), v.Shape())
}

// batchView reshapes v to (features, batch) where batch is the last declared
// dimension (1 for a rank-1 shape).
func (v *Volume[T]) batchView() (*Volume[T], int, error) {
	batch := 1
	if v.Shape().DimensionCount() > 1 {
		batch = v.Shape().Dimension(-1)
	}
	view, err := v.Reshape(Unknown, batch)
	if err != nil {
		return nil, 0, err
	}
	return view, batch, nil
}

func sameShape(op string, vols ...interface{ Shape() Shape }) error {
	for _, other := range vols[1:] {
		if !vols[0].Shape().Equal(other.Shape()) {
			return errors.Wrapf(ErrDimension, "%s: shape %v does not match %v", op, other.Shape(), vols[0].Shape())
		}
	}
	return nil
}
