package ops

import (
	"github.com/born-ml/volume/internal/volume"
	"github.com/pkg/errors"
)

// Convolution records a convolution of an input op with a filter op.
//
// Forward: output = input ⊛ filter (pad, stride)
//
// Backward, given the derivate op ∂L/∂output:
//   - input gradient:  ∂L/∂input, recomputed from scratch each pass
//   - filter gradient: ∂L/∂filter
//
// Output and gradient volumes are allocated through the builder on the
// backend of the input and reused while their shapes stay the same.
type Convolution[T volume.Float] struct {
	input    Op[T]
	filter   Op[T]
	derivate Op[T]
	builder  volume.Builder[T]
	pad      int
	stride   int

	result  *volume.Volume[T]
	forward stamp

	inputGradient  *volume.Volume[T]
	filterGradient *volume.Volume[T]
	gradient       stamp
}

// ConvolutionOption configures a Convolution.
type ConvolutionOption[T volume.Float] func(*Convolution[T])

// WithBuilder allocates through b instead of volume.CurrentBuilder.
func WithBuilder[T volume.Float](b volume.Builder[T]) ConvolutionOption[T] {
	return func(c *Convolution[T]) {
		c.builder = b
	}
}

// NewConvolution creates a convolution op.
func NewConvolution[T volume.Float](input, filter Op[T], pad, stride int, opts ...ConvolutionOption[T]) *Convolution[T] {
	c := &Convolution[T]{
		input:  input,
		filter: filter,
		pad:    pad,
		stride: stride,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.builder == nil {
		c.builder = volume.CurrentBuilder[T]()
	}
	return c
}

// Parents returns the input and filter ops.
func (c *Convolution[T]) Parents() []Op[T] {
	return []Op[T]{c.input, c.filter}
}

// SetDerivate sets the op producing ∂L/∂output.
func (c *Convolution[T]) SetDerivate(derivate Op[T]) {
	c.derivate = derivate
}

// Derivate returns the op producing ∂L/∂output, nil until set.
func (c *Convolution[T]) Derivate() Op[T] {
	return c.derivate
}

// Evaluate runs the forward convolution once per pass.
func (c *Convolution[T]) Evaluate(s *Session) (*volume.Volume[T], error) {
	return c.Forward(s)
}

// Forward runs the forward convolution unless it already ran in the current
// pass, and returns the output.
func (c *Convolution[T]) Forward(s *Session) (*volume.Volume[T], error) {
	if c.result != nil && c.forward.current(s) {
		return c.result, nil
	}

	input, err := c.input.Evaluate(s)
	if err != nil {
		return nil, err
	}
	filter, err := c.filter.Evaluate(s)
	if err != nil {
		return nil, err
	}

	shape, err := volume.ConvolutionOutputShape(input.Shape(), filter.Shape(), c.pad, c.stride)
	if err != nil {
		return nil, err
	}
	c.result, err = c.ensure(c.result, input, shape)
	if err != nil {
		return nil, err
	}

	if err := input.Convolution(filter, c.pad, c.stride, c.result); err != nil {
		return nil, errors.WithMessage(err, "convolution forward")
	}
	c.forward = stampOf(s)
	return c.result, nil
}

// Backward computes both gradients once per pass. The forward pass of the
// same session pass runs first if it has not yet.
func (c *Convolution[T]) Backward(s *Session) error {
	if c.derivate == nil {
		return errors.Wrap(volume.ErrNotSupported, "convolution backward: no derivate set")
	}
	if c.inputGradient != nil && c.gradient.current(s) {
		return nil
	}

	if _, err := c.Forward(s); err != nil {
		return err
	}
	input, err := c.input.Evaluate(s)
	if err != nil {
		return err
	}
	filter, err := c.filter.Evaluate(s)
	if err != nil {
		return err
	}
	chain, err := c.derivate.Evaluate(s)
	if err != nil {
		return err
	}

	if c.inputGradient, err = c.ensure(c.inputGradient, input, input.Shape()); err != nil {
		return err
	}
	if c.filterGradient, err = c.ensure(c.filterGradient, input, filter.Shape()); err != nil {
		return err
	}
	// The kernel accumulates into the filter gradient.
	if err := c.filterGradient.Clear(); err != nil {
		return err
	}

	err = input.ConvolutionGradient(filter, chain, c.inputGradient, c.filterGradient, c.pad, c.stride)
	if err != nil {
		return errors.WithMessage(err, "convolution backward")
	}
	c.gradient = stampOf(s)
	return nil
}

// EvaluateGradient is Backward; it is idempotent within a pass.
func (c *Convolution[T]) EvaluateGradient(s *Session) error {
	return c.Backward(s)
}

// InputGradient returns ∂L/∂input of the last backward pass.
func (c *Convolution[T]) InputGradient() *volume.Volume[T] {
	return c.inputGradient
}

// FilterGradient returns ∂L/∂filter of the last backward pass.
func (c *Convolution[T]) FilterGradient() *volume.Volume[T] {
	return c.filterGradient
}

// Release frees the output and gradient volumes.
func (c *Convolution[T]) Release() error {
	var firstErr error
	for _, v := range []**volume.Volume[T]{&c.result, &c.inputGradient, &c.filterGradient} {
		if *v == nil {
			continue
		}
		if err := (*v).Release(); err != nil && firstErr == nil {
			firstErr = err
		}
		*v = nil
	}
	c.forward = stamp{}
	c.gradient = stamp{}
	return firstErr
}

// String returns "Convolution".
func (c *Convolution[T]) String() string {
	return "Convolution"
}

// ensure returns current when it already has shape, otherwise releases it and
// allocates a zeroed volume of shape on the backend of example.
func (c *Convolution[T]) ensure(current, example *volume.Volume[T], shape volume.Shape) (*volume.Volume[T], error) {
	if current != nil {
		if current.Shape().Equal(shape) {
			return current, nil
		}
		if err := current.Release(); err != nil {
			return nil, err
		}
	}
	return c.builder.SameAs(example.Storage(), shape)
}
