package volume

import (
	"math"

	"github.com/pkg/errors"
)

// ActivationType selects an activation function.
type ActivationType int

// Activation functions.
const (
	Sigmoid ActivationType = iota
	Relu
	Tanh
	ClippedRelu
)

// String returns the activation name.
func (a ActivationType) String() string {
	switch a {
	case Sigmoid:
		return "sigmoid"
	case Relu:
		return "relu"
	case Tanh:
		return "tanh"
	case ClippedRelu:
		return "clipped-relu"
	default:
		return "unknown"
	}
}

// Activation writes f(v) into result for the given activation.
func (v *Volume[T]) Activation(result *Volume[T], kind ActivationType) error {
	switch kind {
	case Sigmoid:
		return v.Sigmoid(result)
	case Relu:
		return v.Relu(result)
	case Tanh:
		return v.Tanh(result)
	default:
		return errors.Wrapf(ErrNotSupported, "activation %s", kind)
	}
}

// ActivationGradient computes the input gradient of an activation. The
// receiver is the activation output.
func (v *Volume[T]) ActivationGradient(input, outputGradient, inputGradient *Volume[T], kind ActivationType) error {
	switch kind {
	case Sigmoid:
		return v.SigmoidGradient(input, outputGradient, inputGradient)
	case Relu:
		return v.ReluGradient(input, outputGradient, inputGradient)
	case Tanh:
		return v.TanhGradient(input, outputGradient, inputGradient)
	default:
		return errors.Wrapf(ErrNotSupported, "activation gradient %s", kind)
	}
}

// Sigmoid writes 1 / (1 + e^-x) into result.
func (v *Volume[T]) Sigmoid(result *Volume[T]) error {
	return v.storage.Map(func(x T) T {
		return T(1 / (1 + math.Exp(-float64(x))))
	}, result.storage)
}

// SigmoidGradient writes y(1-y)*dy into inputGradient, where the receiver
// is the sigmoid output y.
func (v *Volume[T]) SigmoidGradient(_, outputGradient, inputGradient *Volume[T]) error {
	return v.storage.MapPair(func(y, dy T) T {
		return y * (1 - y) * dy
	}, outputGradient.storage, inputGradient.storage)
}

// Tanh writes tanh(x) into result.
func (v *Volume[T]) Tanh(result *Volume[T]) error {
	return v.storage.Map(func(x T) T {
		return T(math.Tanh(float64(x)))
	}, result.storage)
}

// TanhGradient writes (1-y²)*dy into inputGradient, where the receiver is
// the tanh output y.
func (v *Volume[T]) TanhGradient(_, outputGradient, inputGradient *Volume[T]) error {
	return v.storage.MapPair(func(y, dy T) T {
		return (1 - y*y) * dy
	}, outputGradient.storage, inputGradient.storage)
}

// Relu writes max(x, 0) into result.
func (v *Volume[T]) Relu(result *Volume[T]) error {
	return v.storage.Map(func(x T) T {
		if x <= 0 {
			return 0
		}
		return x
	}, result.storage)
}

// ReluGradient passes dy through where the activation input is positive.
// The receiver is the relu output and only fixes the expected shape.
func (v *Volume[T]) ReluGradient(input, outputGradient, inputGradient *Volume[T]) error {
	if err := sameShape("relu gradient", v, input); err != nil {
		return err
	}
	return input.storage.MapPair(func(x, dy T) T {
		if x > 0 {
			return dy
		}
		return 0
	}, outputGradient.storage, inputGradient.storage)
}
