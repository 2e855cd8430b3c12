package volume

import (
	"fmt"

	"github.com/pkg/errors"
)

// HostStorage is a Storage backed by one contiguous Go slice.
// It is always consistent; there is no other copy of the data.
type HostStorage[T Float] struct {
	shape Shape
	data  []T
}

// NewHostStorage allocates a zero-filled host storage. The shape must be
// resolved.
func NewHostStorage[T Float](shape Shape) (*HostStorage[T], error) {
	if !shape.IsResolved() {
		return nil, errors.Wrapf(ErrDimension, "host storage: shape %v has an unknown dimension", shape)
	}
	return &HostStorage[T]{
		shape: shape,
		data:  make([]T, shape.TotalLength()),
	}, nil
}

// NewHostStorageFrom wraps values (without copying) under shape. An Unknown
// dimension is inferred from len(values).
func NewHostStorageFrom[T Float](values []T, shape Shape) (*HostStorage[T], error) {
	resolved, err := shape.Resolve(len(values))
	if err != nil {
		return nil, errors.WithMessage(err, "host storage")
	}
	return &HostStorage[T]{shape: resolved, data: values}, nil
}

// Shape returns the storage shape.
func (s *HostStorage[T]) Shape() Shape {
	return s.shape
}

// Get returns the element at coords.
func (s *HostStorage[T]) Get(coords ...int) T {
	return s.live()[s.shape.Offset(coords)]
}

// Set stores value at coords.
func (s *HostStorage[T]) Set(value T, coords ...int) {
	s.live()[s.shape.Offset(coords)] = value
}

// Map writes f(x) into dst.
func (s *HostStorage[T]) Map(f func(x T) T, dst Storage[T]) error {
	return ApplyMap(f, s, dst)
}

// MapPair writes f(x, y) into dst.
func (s *HostStorage[T]) MapPair(f func(x, y T) T, other, dst Storage[T]) error {
	return ApplyMapPair(f, s, other, dst)
}

// Clear zero-fills the storage.
func (s *HostStorage[T]) Clear() error {
	clear(s.live())
	return nil
}

// ToArray returns a copy of the elements.
func (s *HostStorage[T]) ToArray() ([]T, error) {
	out := make([]T, len(s.live()))
	copy(out, s.data)
	return out, nil
}

// Data returns the backing slice.
func (s *HostStorage[T]) Data() ([]T, error) {
	return s.live(), nil
}

// Reshape returns a view sharing the backing slice.
func (s *HostStorage[T]) Reshape(shape Shape) (Storage[T], error) {
	resolved, err := shape.Resolve(s.shape.TotalLength())
	if err != nil {
		return nil, errors.WithMessagef(err, "reshape %v", s.shape)
	}
	return &HostStorage[T]{shape: resolved, data: s.live()}, nil
}

// Release drops the reference to the backing slice. Views keep theirs.
func (s *HostStorage[T]) Release() error {
	s.data = nil
	return nil
}

func (s *HostStorage[T]) live() []T {
	if s.data == nil && s.shape.TotalLength() > 0 {
		panic(fmt.Sprintf("volume: use of released host storage %v", s.shape))
	}
	return s.data
}
