package volume

import (
	"sync"

	"github.com/born-ml/volume/internal/parallel"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"
)

// Builder is the allocation entry point for volumes. A builder produces
// volumes on one storage backend; examples from another backend are rejected
// with ErrNotSupported.
type Builder[T Float] interface {
	// SameAs allocates a zero-filled volume on the backend of example.
	SameAs(example Storage[T], shape Shape) (*Volume[T], error)

	// SameAsValue allocates a volume filled with value on the backend of example.
	SameAsValue(example Storage[T], value T, shape Shape) (*Volume[T], error)

	// From allocates a volume holding values. One dimension of shape may be Unknown.
	From(values []T, shape Shape) (*Volume[T], error)

	// Zeros allocates a zero-filled volume.
	Zeros(shape Shape) (*Volume[T], error)

	// Random allocates a volume of Gaussian samples N(mean, std²).
	Random(shape Shape, mean, std float64) (*Volume[T], error)

	// Build reinterprets storage under shape without copying.
	Build(storage Storage[T], shape Shape) (*Volume[T], error)
}

// BuilderOption configures a HostBuilder.
type BuilderOption func(*builderOptions)

type builderOptions struct {
	par parallel.Config
}

// WithParallel sets the parallel configuration of built volumes.
func WithParallel(cfg parallel.Config) BuilderOption {
	return func(o *builderOptions) {
		o.par = cfg
	}
}

// HostBuilder builds volumes on HostStorage.
type HostBuilder[T Float] struct {
	par parallel.Config
}

// NewHostBuilder creates a host builder.
func NewHostBuilder[T Float](opts ...BuilderOption) *HostBuilder[T] {
	o := builderOptions{par: parallel.KernelConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	return &HostBuilder[T]{par: o.par}
}

// SameAs allocates a zero-filled host volume.
func (b *HostBuilder[T]) SameAs(example Storage[T], shape Shape) (*Volume[T], error) {
	if err := b.checkExample(example); err != nil {
		return nil, err
	}
	return b.Zeros(shape)
}

// SameAsValue allocates a host volume filled with value.
func (b *HostBuilder[T]) SameAsValue(example Storage[T], value T, shape Shape) (*Volume[T], error) {
	if err := b.checkExample(example); err != nil {
		return nil, err
	}
	v, err := b.Zeros(shape)
	if err != nil {
		return nil, err
	}
	data, err := v.storage.Data()
	if err != nil {
		return nil, err
	}
	for i := range data {
		data[i] = value
	}
	return v, nil
}

// From wraps values in a host volume without copying.
func (b *HostBuilder[T]) From(values []T, shape Shape) (*Volume[T], error) {
	s, err := NewHostStorageFrom(values, shape)
	if err != nil {
		return nil, err
	}
	return b.wrap(s), nil
}

// Zeros allocates a zero-filled host volume.
func (b *HostBuilder[T]) Zeros(shape Shape) (*Volume[T], error) {
	s, err := NewHostStorage[T](shape)
	if err != nil {
		return nil, err
	}
	return b.wrap(s), nil
}

// Random allocates a host volume of Gaussian samples.
func (b *HostBuilder[T]) Random(shape Shape, mean, std float64) (*Volume[T], error) {
	v, err := b.Zeros(shape)
	if err != nil {
		return nil, err
	}
	data, err := v.storage.Data()
	if err != nil {
		return nil, err
	}
	FillNormal(data, mean, std)
	return v, nil
}

// Build reinterprets a host storage under shape.
func (b *HostBuilder[T]) Build(storage Storage[T], shape Shape) (*Volume[T], error) {
	if err := b.checkExample(storage); err != nil {
		return nil, err
	}
	view, err := storage.Reshape(shape)
	if err != nil {
		return nil, err
	}
	return b.wrap(view), nil
}

func (b *HostBuilder[T]) wrap(s Storage[T]) *Volume[T] {
	return New(s).WithParallel(b.par)
}

func (b *HostBuilder[T]) checkExample(example Storage[T]) error {
	if _, ok := example.(*HostStorage[T]); !ok {
		return errors.Wrapf(ErrNotSupported, "host builder: example storage %T", example)
	}
	return nil
}

// FillNormal fills data with samples of N(mean, std²).
func FillNormal[T Float](data []T, mean, std float64) {
	dist := distuv.Normal{Mu: mean, Sigma: std}
	for i := range data {
		data[i] = T(dist.Rand())
	}
}

var registry = struct {
	mu       sync.RWMutex
	builders map[DataType]any
}{builders: make(map[DataType]any)}

// SetBuilder installs the process-wide builder for element type T.
// Select it once before building volumes.
func SetBuilder[T Float](b Builder[T]) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.builders[DataTypeOf[T]()] = b
}

// CurrentBuilder returns the process-wide builder for T, a HostBuilder unless
// SetBuilder installed another one.
func CurrentBuilder[T Float]() Builder[T] {
	registry.mu.RLock()
	b, ok := registry.builders[DataTypeOf[T]()]
	registry.mu.RUnlock()
	if ok {
		if typed, ok := b.(Builder[T]); ok {
			return typed
		}
	}
	return NewHostBuilder[T]()
}
