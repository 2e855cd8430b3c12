package ops

import (
	"github.com/born-ml/volume/internal/volume"
	"github.com/pkg/errors"
)

// ConvolutionFilterGradient is the graph node for ∂L/∂filter of a
// Convolution.
type ConvolutionFilterGradient[T volume.Float] struct {
	convolution *Convolution[T]
	derivate    Op[T]
}

// NewConvolutionFilterGradient creates the filter gradient node of conv,
// driven by derivate (∂L/∂output).
func NewConvolutionFilterGradient[T volume.Float](conv *Convolution[T], derivate Op[T]) *ConvolutionFilterGradient[T] {
	conv.SetDerivate(derivate)
	return &ConvolutionFilterGradient[T]{convolution: conv, derivate: derivate}
}

// Evaluate runs the convolution backward pass (once per pass) and returns
// the filter gradient. The volume is owned by the convolution.
func (g *ConvolutionFilterGradient[T]) Evaluate(s *Session) (*volume.Volume[T], error) {
	if err := g.convolution.EvaluateGradient(s); err != nil {
		return nil, errors.WithMessage(err, "convolution filter gradient")
	}
	return g.convolution.FilterGradient(), nil
}

// Parents returns the convolution and the derivate.
func (g *ConvolutionFilterGradient[T]) Parents() []Op[T] {
	return []Op[T]{g.convolution, g.derivate}
}

// Release is a no-op; the convolution owns the gradient.
func (g *ConvolutionFilterGradient[T]) Release() error {
	return nil
}

// String returns "ConvolutionFilterGradient".
func (g *ConvolutionFilterGradient[T]) String() string {
	return "ConvolutionFilterGradient"
}

// ConvolutionInputGradient is the graph node for ∂L/∂input of a Convolution.
type ConvolutionInputGradient[T volume.Float] struct {
	convolution *Convolution[T]
	derivate    Op[T]
}

// NewConvolutionInputGradient creates the input gradient node of conv,
// driven by derivate (∂L/∂output).
func NewConvolutionInputGradient[T volume.Float](conv *Convolution[T], derivate Op[T]) *ConvolutionInputGradient[T] {
	conv.SetDerivate(derivate)
	return &ConvolutionInputGradient[T]{convolution: conv, derivate: derivate}
}

// Evaluate runs the convolution backward pass (once per pass) and returns
// the input gradient. The volume is owned by the convolution.
func (g *ConvolutionInputGradient[T]) Evaluate(s *Session) (*volume.Volume[T], error) {
	if err := g.convolution.EvaluateGradient(s); err != nil {
		return nil, errors.WithMessage(err, "convolution input gradient")
	}
	return g.convolution.InputGradient(), nil
}

// Parents returns the convolution and the derivate.
func (g *ConvolutionInputGradient[T]) Parents() []Op[T] {
	return []Op[T]{g.convolution, g.derivate}
}

// Release is a no-op; the convolution owns the gradient.
func (g *ConvolutionInputGradient[T]) Release() error {
	return nil
}

// String returns "ConvolutionInputGradient".
func (g *ConvolutionInputGradient[T]) String() string {
	return "ConvolutionInputGradient"
}
