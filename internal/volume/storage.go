package volume

import "github.com/pkg/errors"

// Storage is the element buffer behind a Volume.
//
// Implementations address a dense array of Shape().TotalLength() elements
// with up to four coordinates (w, h, c, n). Missing trailing coordinates are 0;
// a single coordinate is a flat index.
type Storage[T Float] interface {
	// Shape returns the resolved shape of the storage.
	Shape() Shape

	// Get returns the element at the given coordinates.
	// Panics if the coordinates are out of range.
	Get(coords ...int) T

	// Set stores value at the given coordinates.
	// Panics if the coordinates are out of range.
	Set(value T, coords ...int)

	// Map writes f(x) for every element x into dst. dst may alias the receiver.
	Map(f func(x T) T, dst Storage[T]) error

	// MapPair writes f(x, y) for every pair of elements into dst.
	// dst may alias either operand.
	MapPair(f func(x, y T) T, other, dst Storage[T]) error

	// Clear zero-fills the storage in place.
	Clear() error

	// ToArray returns a flat copy of the elements.
	ToArray() ([]T, error)

	// Data returns the backing slice after making the host copy authoritative.
	// Writes through the slice are visible to the storage.
	Data() ([]T, error)

	// Reshape returns a view of the same elements under a new shape.
	Reshape(shape Shape) (Storage[T], error)

	// Release frees the resources held by the storage. It is idempotent.
	Release() error
}

// ApplyMap is the shared Map implementation: dst[i] = f(src[i]).
// All operands must have equal shapes; no broadcasting is performed.
func ApplyMap[T Float](f func(x T) T, src, dst Storage[T]) error {
	if !src.Shape().Equal(dst.Shape()) {
		return errors.Wrapf(ErrDimension, "map: source %v and destination %v differ", src.Shape(), dst.Shape())
	}
	in, err := src.Data()
	if err != nil {
		return err
	}
	out, err := dst.Data()
	if err != nil {
		return err
	}
	for i, x := range in {
		out[i] = f(x)
	}
	return nil
}

// ApplyMapPair is the shared MapPair implementation: dst[i] = f(a[i], b[i]).
// All operands must have equal shapes; no broadcasting is performed.
func ApplyMapPair[T Float](f func(x, y T) T, a, b, dst Storage[T]) error {
	if !a.Shape().Equal(b.Shape()) || !a.Shape().Equal(dst.Shape()) {
		return errors.Wrapf(ErrDimension, "map pair: shapes %v, %v and destination %v differ",
			a.Shape(), b.Shape(), dst.Shape())
	}
	left, err := a.Data()
	if err != nil {
		return err
	}
	right, err := b.Data()
	if err != nil {
		return err
	}
	out, err := dst.Data()
	if err != nil {
		return err
	}
	for i := range left {
		out[i] = f(left[i], right[i])
	}
	return nil
}
