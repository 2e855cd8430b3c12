package volume

import "github.com/pkg/errors"

// BiasGradient accumulates the receiver (an output gradient of shape
// (W, H, D, N)) into a per-channel bias gradient holding D values, summing
// over batch and spatial axes.
func (v *Volume[T]) BiasGradient(biasGradient *Volume[T]) error {
	shape := v.Shape()
	width, height, depth, batch := shape.Dimension(0), shape.Dimension(1), shape.Dimension(2), shape.Dimension(3)
	if biasGradient.Shape().TotalLength() != depth {
		return errors.Wrapf(ErrDimension, "bias gradient: %v cannot hold %d channels", biasGradient.Shape(), depth)
	}

	chain, err := v.storage.Data()
	if err != nil {
		return err
	}
	out, err := biasGradient.storage.Data()
	if err != nil {
		return err
	}

	for n := 0; n < batch; n++ {
		for d := 0; d < depth; d++ {
			base := (n*depth + d) * width * height
			for ay := 0; ay < height; ay++ {
				for ax := 0; ax < width; ax++ {
					out[d] += chain[base+ay*width+ax]
				}
			}
		}
	}
	return nil
}
