package volume

import (
	"math"

	"github.com/pkg/errors"
)

// broadcastCheck fails with ErrNotSupported when two operands differ in shape.
// Elementwise kernels only accept equal shapes.
func broadcastCheck(op string, a, b Shape) error {
	if !a.Equal(b) {
		return errors.Wrapf(ErrNotSupported, "%s: broadcasting %v with %v", op, a, b)
	}
	return nil
}

// Add writes v + other into result.
func (v *Volume[T]) Add(other, result *Volume[T]) error {
	if err := broadcastCheck("add", v.Shape(), other.Shape()); err != nil {
		return err
	}
	return v.storage.MapPair(func(x, y T) T { return x + y }, other.storage, result.storage)
}

// SubtractFrom writes other - v into result.
func (v *Volume[T]) SubtractFrom(other, result *Volume[T]) error {
	if err := broadcastCheck("subtract", v.Shape(), other.Shape()); err != nil {
		return err
	}
	return v.storage.MapPair(func(x, y T) T { return y - x }, other.storage, result.storage)
}

// Multiply writes the elementwise product v * other into result.
func (v *Volume[T]) Multiply(other, result *Volume[T]) error {
	if err := broadcastCheck("multiply", v.Shape(), other.Shape()); err != nil {
		return err
	}
	return v.storage.MapPair(func(x, y T) T { return x * y }, other.storage, result.storage)
}

// Divide writes the elementwise quotient v / other into result.
func (v *Volume[T]) Divide(other, result *Volume[T]) error {
	if err := broadcastCheck("divide", v.Shape(), other.Shape()); err != nil {
		return err
	}
	return v.storage.MapPair(func(x, y T) T { return x / y }, other.storage, result.storage)
}

// Scale writes v * factor into result.
func (v *Volume[T]) Scale(factor T, result *Volume[T]) error {
	return v.storage.Map(func(x T) T { return x * factor }, result.storage)
}

// Negate writes -v into result.
func (v *Volume[T]) Negate(result *Volume[T]) error {
	return v.Scale(-1, result)
}

// Exp writes e^v into result.
func (v *Volume[T]) Exp(result *Volume[T]) error {
	return v.storage.Map(func(x T) T { return T(math.Exp(float64(x))) }, result.storage)
}

// Log writes the natural logarithm of v into result.
func (v *Volume[T]) Log(result *Volume[T]) error {
	return v.storage.Map(func(x T) T { return T(math.Log(float64(x))) }, result.storage)
}
