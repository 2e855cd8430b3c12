package volume

import (
	"math"

	"github.com/born-ml/volume/internal/parallel"
	"github.com/pkg/errors"
)

// Softmax normalizes every batch item of the receiver into result.
//
// The maximum activation of each item is subtracted before exponentiating,
// so large logits cannot overflow.
func (v *Volume[T]) Softmax(result *Volume[T]) error {
	if err := sameShape("softmax", v, result); err != nil {
		return err
	}

	in, err := v.storage.Data()
	if err != nil {
		return err
	}
	out, err := result.storage.Data()
	if err != nil {
		return err
	}

	shape := v.Shape()
	batch := shape.Dimension(3)
	features := shape.Dimension(0) * shape.Dimension(1) * shape.Dimension(2)

	parallel.For(batch, func(n int) {
		x := in[n*features:][:features]
		y := out[n*features:][:features]

		amax := lowest[T]()
		for _, e := range x {
			if e > amax {
				amax = e
			}
		}

		var esum float64
		for i, e := range x {
			ex := math.Exp(float64(e - amax))
			esum += ex
			y[i] = T(ex)
		}
		for i := range y {
			y[i] = T(float64(y[i]) / esum)
		}
	}, v.par)
	return nil
}

// SoftmaxGradient computes the input gradient of a softmax followed by a
// one-hot cross-entropy loss. The receiver is the softmax output p.
//
// The upstream gradient carries the true class: in every batch column the
// index whose gradient is exactly 1 is the class c. The input gradient is
// p_c(1-p_c) at c and -p_c*p_i elsewhere.
func (v *Volume[T]) SoftmaxGradient(outputGradient, inputGradient *Volume[T]) error {
	if err := sameShape("softmax gradient", v, outputGradient, inputGradient); err != nil {
		return err
	}

	batch := 1
	if v.Shape().TotalLength() != 1 {
		batch = v.Shape().Dimension(-1)
	}
	p, err := v.Reshape(Unknown, batch)
	if err != nil {
		return err
	}
	dy, err := outputGradient.Reshape(Unknown, batch)
	if err != nil {
		return err
	}
	dx, err := inputGradient.Reshape(Unknown, batch)
	if err != nil {
		return err
	}

	features := p.Shape().Dimension(0)
	for b := 0; b < batch; b++ {
		class := -1
		for i := 0; i < features; i++ {
			if dy.Get(i, b) == 1 {
				class = i
			}
		}
		if class < 0 {
			return errors.Wrapf(ErrNotSupported, "softmax gradient: batch item %d has no one-hot class", b)
		}

		pc := p.Get(class, b)
		for i := 0; i < features; i++ {
			if i == class {
				dx.Set(pc*(1-pc), i, b)
			} else {
				dx.Set(-pc*p.Get(i, b), i, b)
			}
		}
	}
	return nil
}
