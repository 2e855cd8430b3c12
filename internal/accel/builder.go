package accel

import (
	"github.com/born-ml/volume/internal/volume"
	"github.com/pkg/errors"
)

// Builder builds volumes on accelerator storage.
type Builder[T volume.Float] struct {
	ctx *Context
}

var _ volume.Builder[float32] = (*Builder[float32])(nil)

// NewBuilder creates a builder allocating on ctx, or on Default() when ctx
// is nil.
func NewBuilder[T volume.Float](ctx *Context) *Builder[T] {
	return &Builder[T]{ctx: orDefault(ctx)}
}

// Context returns the builder context.
func (b *Builder[T]) Context() *Context {
	return b.ctx
}

// SameAs allocates a zero-filled accelerator volume.
func (b *Builder[T]) SameAs(example volume.Storage[T], shape volume.Shape) (*volume.Volume[T], error) {
	if err := b.checkExample(example); err != nil {
		return nil, err
	}
	return b.Zeros(shape)
}

// SameAsValue allocates an accelerator volume filled with value.
func (b *Builder[T]) SameAsValue(example volume.Storage[T], value T, shape volume.Shape) (*volume.Volume[T], error) {
	if err := b.checkExample(example); err != nil {
		return nil, err
	}
	s, err := NewStorage[T](b.ctx, shape)
	if err != nil {
		return nil, err
	}
	data := elements[T](s.res.region)
	for i := range data {
		data[i] = value
	}
	return b.wrap(s), nil
}

// From allocates an accelerator volume holding a copy of values.
func (b *Builder[T]) From(values []T, shape volume.Shape) (*volume.Volume[T], error) {
	s, err := NewStorageFrom(b.ctx, values, shape)
	if err != nil {
		return nil, err
	}
	return b.wrap(s), nil
}

// Zeros allocates a zero-filled accelerator volume.
func (b *Builder[T]) Zeros(shape volume.Shape) (*volume.Volume[T], error) {
	s, err := NewStorage[T](b.ctx, shape)
	if err != nil {
		return nil, err
	}
	return b.wrap(s), nil
}

// Random allocates an accelerator volume of Gaussian samples.
func (b *Builder[T]) Random(shape volume.Shape, mean, std float64) (*volume.Volume[T], error) {
	s, err := NewStorage[T](b.ctx, shape)
	if err != nil {
		return nil, err
	}
	volume.FillNormal(elements[T](s.res.region), mean, std)
	return b.wrap(s), nil
}

// Build wraps a view of storage under shape. The volume does not own the
// memory.
func (b *Builder[T]) Build(storage volume.Storage[T], shape volume.Shape) (*volume.Volume[T], error) {
	if err := b.checkExample(storage); err != nil {
		return nil, err
	}
	view, err := storage.Reshape(shape)
	if err != nil {
		return nil, err
	}
	return b.wrap(view), nil
}

func (b *Builder[T]) wrap(s volume.Storage[T]) *volume.Volume[T] {
	return volume.New(s).WithParallel(b.ctx.par)
}

func (b *Builder[T]) checkExample(example volume.Storage[T]) error {
	if _, ok := example.(*Storage[T]); !ok {
		return errors.Wrapf(volume.ErrNotSupported, "accel builder: example storage %T", example)
	}
	return nil
}
