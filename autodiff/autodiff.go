// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autodiff exposes the volume kernels as nodes of a symbolic
// computation graph.
//
// The graph owner starts a pass on a Session before every sweep. Within one
// pass each node computes its value once, however many consumers read it.
//
// Example:
//
//	import (
//	    "github.com/born-ml/volume/autodiff"
//	    "github.com/born-ml/volume/volume"
//	)
//
//	func main() {
//	    x := autodiff.NewVariable(input, "x")
//	    w := autodiff.NewVariable(filters, "w")
//	    conv := autodiff.NewConvolution[float32](x, w, 1, 1)
//	    dW := autodiff.NewConvolutionFilterGradient[float32](conv, lossGradient)
//
//	    s := autodiff.NewSession()
//	    s.BeginPass()
//	    grad, err := dW.Evaluate(s)
//	}
package autodiff

import (
	"github.com/born-ml/volume/internal/autodiff/ops"
	"github.com/born-ml/volume/volume"
)

// Session numbers evaluation passes.
type Session = ops.Session

// Op is a node of the computation graph.
type Op[T volume.Float] = ops.Op[T]

// Const is a leaf with a fixed value.
type Const[T volume.Float] = ops.Const[T]

// Variable is a leaf whose value can change between passes.
type Variable[T volume.Float] = ops.Variable[T]

// Convolution is the convolution node with its gradients.
type Convolution[T volume.Float] = ops.Convolution[T]

// ConvolutionOption configures a Convolution.
type ConvolutionOption[T volume.Float] = ops.ConvolutionOption[T]

// ConvolutionFilterGradient is the filter gradient node of a Convolution.
type ConvolutionFilterGradient[T volume.Float] = ops.ConvolutionFilterGradient[T]

// ConvolutionInputGradient is the input gradient node of a Convolution.
type ConvolutionInputGradient[T volume.Float] = ops.ConvolutionInputGradient[T]

// NewSession creates a session.
func NewSession() *Session {
	return ops.NewSession()
}

// NewConst creates a constant leaf.
func NewConst[T volume.Float](value *volume.Volume[T], name string) *Const[T] {
	return ops.NewConst(value, name)
}

// NewVariable creates a variable leaf.
func NewVariable[T volume.Float](value *volume.Volume[T], name string) *Variable[T] {
	return ops.NewVariable(value, name)
}

// NewConvolution creates a convolution node.
func NewConvolution[T volume.Float](input, filter Op[T], pad, stride int, opts ...ConvolutionOption[T]) *Convolution[T] {
	return ops.NewConvolution(input, filter, pad, stride, opts...)
}

// WithBuilder makes a Convolution allocate through b.
func WithBuilder[T volume.Float](b volume.Builder[T]) ConvolutionOption[T] {
	return ops.WithBuilder(b)
}

// NewConvolutionFilterGradient creates the filter gradient node of conv.
func NewConvolutionFilterGradient[T volume.Float](conv *Convolution[T], derivate Op[T]) *ConvolutionFilterGradient[T] {
	return ops.NewConvolutionFilterGradient(conv, derivate)
}

// NewConvolutionInputGradient creates the input gradient node of conv.
func NewConvolutionInputGradient[T volume.Float](conv *Convolution[T], derivate Op[T]) *ConvolutionInputGradient[T] {
	return ops.NewConvolutionInputGradient(conv, derivate)
}
