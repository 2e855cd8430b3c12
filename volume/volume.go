// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package volume

import "github.com/born-ml/volume/internal/volume"

// Float is the element type constraint: float32 or float64.
type Float = volume.Float

// DataType identifies the element type at runtime.
type DataType = volume.DataType

// Element types.
const (
	Float32 = volume.Float32
	Float64 = volume.Float64
)

// Shape describes up to four dimensions (width, height, depth, batch).
type Shape = volume.Shape

// Unknown marks the dimension inferred from the element count.
const Unknown = volume.Unknown

// Volume is a four-dimensional tensor over a Storage.
type Volume[T Float] = volume.Volume[T]

// Storage is the element buffer behind a Volume.
type Storage[T Float] = volume.Storage[T]

// HostStorage is the Storage backed by a Go slice.
type HostStorage[T Float] = volume.HostStorage[T]

// Builder allocates volumes on one storage backend.
type Builder[T Float] = volume.Builder[T]

// HostBuilder allocates host volumes.
type HostBuilder[T Float] = volume.HostBuilder[T]

// ActivationType selects an activation function.
type ActivationType = volume.ActivationType

// Activations.
const (
	Sigmoid     = volume.Sigmoid
	Relu        = volume.Relu
	Tanh        = volume.Tanh
	ClippedRelu = volume.ClippedRelu
)

// ReduceOp selects a reduction.
type ReduceOp = volume.ReduceOp

// Reductions.
const (
	ReduceAdd   = volume.ReduceAdd
	ReduceMul   = volume.ReduceMul
	ReduceMin   = volume.ReduceMin
	ReduceMax   = volume.ReduceMax
	ReduceAMax  = volume.ReduceAMax
	ReduceAvg   = volume.ReduceAvg
	ReduceNorm1 = volume.ReduceNorm1
	ReduceNorm2 = volume.ReduceNorm2
)

// PoolConfig describes a max-pooling window.
type PoolConfig = volume.PoolConfig

// Errors returned by shape checks and kernels. Test with errors.Is.
var (
	ErrDimension     = volume.ErrDimension
	ErrNotSupported  = volume.ErrNotSupported
	ErrAllocation    = volume.ErrAllocation
	ErrInvalidResult = volume.ErrInvalidResult
)

// NewShape creates a shape from 1 to 4 dimensions.
func NewShape(dims ...int) (Shape, error) {
	return volume.NewShape(dims...)
}

// MustShape is like NewShape but panics on invalid input.
func MustShape(dims ...int) Shape {
	return volume.MustShape(dims...)
}

// New wraps storage in a Volume.
func New[T Float](storage Storage[T]) *Volume[T] {
	return volume.New(storage)
}

// NewHostStorage allocates a zero-filled host storage.
func NewHostStorage[T Float](shape Shape) (*HostStorage[T], error) {
	return volume.NewHostStorage[T](shape)
}

// NewHostBuilder creates a host builder.
func NewHostBuilder[T Float]() *HostBuilder[T] {
	return volume.NewHostBuilder[T]()
}

// SetBuilder installs the process-wide builder for T.
//
// Example:
//
//	volume.SetBuilder[float32](accel.NewBuilder[float32](nil))
func SetBuilder[T Float](b Builder[T]) {
	volume.SetBuilder(b)
}

// CurrentBuilder returns the process-wide builder for T.
func CurrentBuilder[T Float]() Builder[T] {
	return volume.CurrentBuilder[T]()
}

// Square returns a size×size pooling window with the same stride on both axes.
func Square(size, stride int) PoolConfig {
	return volume.Square(size, stride)
}

// ConvolutionOutputShape returns the output shape of a convolution.
func ConvolutionOutputShape(input, filters Shape, pad, stride int) (Shape, error) {
	return volume.ConvolutionOutputShape(input, filters, pad, stride)
}

// PoolOutputShape returns the output shape of a pooling.
func PoolOutputShape(input Shape, cfg PoolConfig) (Shape, error) {
	return volume.PoolOutputShape(input, cfg)
}

// NegativeLogLikelihood returns the cross-entropy loss of actual against the
// one-hot target.
func NegativeLogLikelihood[T Float](target, actual *Volume[T]) (T, error) {
	return volume.NegativeLogLikelihood(target, actual)
}
