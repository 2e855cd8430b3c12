package volume

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// MaxRank is the number of logical dimensions of a volume:
// width, height, depth (channels) and batch.
const MaxRank = 4

// Unknown marks the single dimension inferred from the element count.
const Unknown = -1

// Shape describes the logical dimensions of a volume.
//
// A shape declares between one and four dimensions; undeclared trailing
// dimensions read as 1. At most one dimension may be Unknown until the shape
// is resolved against an element count. Shape is an immutable value.
type Shape struct {
	dims [MaxRank]int
	rank int
}

// NewShape creates a shape from 1 to 4 dimension sizes.
// Each size must be non-negative or Unknown, with at most one Unknown.
func NewShape(dims ...int) (Shape, error) {
	if len(dims) == 0 || len(dims) > MaxRank {
		return Shape{}, errors.Wrapf(ErrDimension, "shape: expected 1 to %d dimensions, got %d", MaxRank, len(dims))
	}

	s := Shape{rank: len(dims)}
	unknown := 0
	for i := range s.dims {
		s.dims[i] = 1
	}
	for i, d := range dims {
		switch {
		case d == Unknown:
			unknown++
		case d < 0:
			return Shape{}, errors.Wrapf(ErrDimension, "shape: invalid dimension at index %d: %d", i, d)
		}
		s.dims[i] = d
	}
	if unknown > 1 {
		return Shape{}, errors.Wrapf(ErrDimension, "shape: %d unknown dimensions, at most one allowed", unknown)
	}
	return s, nil
}

// MustShape is like NewShape but panics on invalid input.
// Intended for literals in tests and examples.
func MustShape(dims ...int) Shape {
	s, err := NewShape(dims...)
	if err != nil {
		panic(err)
	}
	return s
}

// DimensionCount returns the number of declared dimensions.
func (s Shape) DimensionCount() int {
	return s.rank
}

// Dimension returns the size of dimension i. Negative indices count from the
// end of the declared dimensions, so Dimension(-1) is the last declared axis.
// Indices past the declared rank read as 1.
func (s Shape) Dimension(i int) int {
	if i < 0 {
		i += s.rank
	}
	if i < 0 || i >= MaxRank {
		panic(fmt.Sprintf("shape: dimension index %d out of range for rank %d", i, s.rank))
	}
	return s.dims[i]
}

// Dims returns a copy of the declared dimensions.
func (s Shape) Dims() []int {
	out := make([]int, s.rank)
	copy(out, s.dims[:s.rank])
	return out
}

// IsResolved reports whether no dimension is Unknown.
func (s Shape) IsResolved() bool {
	return s.unknownIndex() < 0
}

// TotalLength returns the product of the resolved dimensions.
// The Unknown dimension, if any, is skipped.
func (s Shape) TotalLength() int {
	n := 1
	for _, d := range s.dims {
		if d == Unknown {
			continue
		}
		n *= d
	}
	return n
}

// Resolve returns a copy of s in which the Unknown dimension is set so that
// the total length equals total. A shape without an Unknown dimension must
// already match total.
func (s Shape) Resolve(total int) (Shape, error) {
	if total < 0 {
		return Shape{}, errors.Wrapf(ErrDimension, "shape: negative element count %d", total)
	}

	idx := s.unknownIndex()
	known := s.TotalLength()
	if idx < 0 {
		if known != total {
			return Shape{}, errors.Wrapf(ErrDimension, "shape: %v holds %d elements, not %d", s, known, total)
		}
		return s, nil
	}

	if known == 0 || total%known != 0 {
		return Shape{}, errors.Wrapf(ErrDimension, "shape: cannot infer unknown dimension of %v from %d elements", s, total)
	}
	resolved := s
	resolved.dims[idx] = total / known
	return resolved, nil
}

// Equal reports whether both shapes have the same four logical sizes.
func (s Shape) Equal(other Shape) bool {
	return s.dims == other.dims
}

// String returns the shape as "(w, h, d, n)" over its declared dimensions.
func (s Shape) String() string {
	parts := make([]string, s.rank)
	for i := 0; i < s.rank; i++ {
		parts[i] = fmt.Sprint(s.dims[i])
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (s Shape) unknownIndex() int {
	for i, d := range s.dims {
		if d == Unknown {
			return i
		}
	}
	return -1
}

// Offset computes the row-major element offset w + h*W + c*W*H + n*W*H*D.
// Missing trailing coordinates are 0.
func (s Shape) Offset(coords []int) int {
	if len(coords) == 0 || len(coords) > MaxRank {
		panic(fmt.Sprintf("volume: expected 1 to %d coordinates, got %d", MaxRank, len(coords)))
	}
	if len(coords) == 1 {
		i := coords[0]
		if i < 0 || i >= s.TotalLength() {
			panic(fmt.Sprintf("volume: index %d out of range for shape %v", i, s))
		}
		return i
	}

	off := 0
	stride := 1
	for i, c := range coords {
		if c < 0 || c >= s.dims[i] {
			panic(fmt.Sprintf("volume: coordinate %d = %d out of range for shape %v", i, c, s))
		}
		off += c * stride
		stride *= s.dims[i]
	}
	return off
}
