package volume

import (
	"github.com/born-ml/volume/internal/parallel"
	"github.com/pkg/errors"
)

// convGeometry holds the dimensions shared by convolution forward and backward.
type convGeometry struct {
	inW, inH, inD, batch int
	outW, outH, outD     int
	fW, fH               int
	pad, stride          int
}

func newConvGeometry(input, filters, output Shape, pad, stride int) (convGeometry, error) {
	g := convGeometry{
		inW: input.Dimension(0), inH: input.Dimension(1), inD: input.Dimension(2), batch: input.Dimension(3),
		outW: output.Dimension(0), outH: output.Dimension(1), outD: output.Dimension(2),
		fW: filters.Dimension(0), fH: filters.Dimension(1),
		pad: pad, stride: stride,
	}
	switch {
	case stride <= 0:
		return g, errors.Wrapf(ErrDimension, "convolution: invalid stride %d", stride)
	case pad < 0:
		return g, errors.Wrapf(ErrDimension, "convolution: invalid pad %d", pad)
	case filters.Dimension(2) != g.inD:
		return g, errors.Wrapf(ErrDimension, "convolution: filter depth %d != input depth %d", filters.Dimension(2), g.inD)
	case filters.Dimension(3) != g.outD:
		return g, errors.Wrapf(ErrDimension, "convolution: %d filters for output depth %d", filters.Dimension(3), g.outD)
	case output.Dimension(3) != g.batch:
		return g, errors.Wrapf(ErrDimension, "convolution: output batch %d != input batch %d", output.Dimension(3), g.batch)
	}
	return g, nil
}

// ConvolutionOutputShape returns the (outW, outH, K, N) shape produced by
// convolving an input of shape input with filters of shape filters.
func ConvolutionOutputShape(input, filters Shape, pad, stride int) (Shape, error) {
	if stride <= 0 || pad < 0 {
		return Shape{}, errors.Wrapf(ErrDimension, "convolution: invalid pad %d or stride %d", pad, stride)
	}
	spanW := input.Dimension(0) + 2*pad - filters.Dimension(0)
	spanH := input.Dimension(1) + 2*pad - filters.Dimension(1)
	if spanW < 0 || spanH < 0 {
		return Shape{}, errors.Wrapf(ErrDimension, "convolution: filters %v do not fit input %v with pad %d", filters, input, pad)
	}
	return NewShape(spanW/stride+1, spanH/stride+1, filters.Dimension(3), input.Dimension(3))
}

// Convolution convolves the receiver (W, H, D, N) with filters
// (fW, fH, D, K) and writes the (outW, outH, K, N) output into result.
//
// Output position (ax, ay) reads the input window anchored at
// (ax*stride - pad, ay*stride - pad). Taps outside the input contribute
// nothing (implicit zero padding).
func (v *Volume[T]) Convolution(filters *Volume[T], pad, stride int, result *Volume[T]) error {
	g, err := newConvGeometry(v.Shape(), filters.Shape(), result.Shape(), pad, stride)
	if err != nil {
		return err
	}

	in, err := v.storage.Data()
	if err != nil {
		return err
	}
	w, err := filters.storage.Data()
	if err != nil {
		return err
	}
	out, err := result.storage.Data()
	if err != nil {
		return err
	}

	parallel.ForBatch(g.batch, g.outD, func(n, depth int) {
		convolvePlane(in, w, out, g, n, depth)
	}, v.par)
	return nil
}

// convolvePlane computes one (batch item, output channel) plane.
func convolvePlane[T Float](in, w, out []T, g convGeometry, n, depth int) {
	inPlane := g.inW * g.inH
	fPlane := g.fW * g.fH
	inBase := n * g.inD * inPlane
	fBase := depth * g.inD * fPlane
	outBase := (n*g.outD + depth) * g.outW * g.outH

	y := -g.pad
	for ay := 0; ay < g.outH; ay, y = ay+1, y+g.stride {
		x := -g.pad
		for ax := 0; ax < g.outW; ax, x = ax+1, x+g.stride {
			var a T
			for fy := 0; fy < g.fH; fy++ {
				oy := y + fy
				if oy < 0 || oy >= g.inH {
					continue
				}
				for fx := 0; fx < g.fW; fx++ {
					ox := x + fx
					if ox < 0 || ox >= g.inW {
						continue
					}
					for fd := 0; fd < g.inD; fd++ {
						a += w[fBase+fd*fPlane+fy*g.fW+fx] * in[inBase+fd*inPlane+oy*g.inW+ox]
					}
				}
			}
			out[outBase+ay*g.outW+ax] = a
		}
	}
}

// ConvolutionGradient back-propagates outputGradients through the
// convolution of the receiver with filters.
//
// inputGradient is zeroed and then receives filter*chain for every in-bounds
// tap; filterGradient accumulates input*chain on top of its current content.
// Several output positions may scatter into the same input gradient cell, so
// this kernel runs sequentially.
func (v *Volume[T]) ConvolutionGradient(filters, outputGradients, inputGradient, filterGradient *Volume[T], pad, stride int) error {
	g, err := newConvGeometry(v.Shape(), filters.Shape(), outputGradients.Shape(), pad, stride)
	if err != nil {
		return err
	}
	if err := sameShape("convolution gradient", v, inputGradient); err != nil {
		return err
	}
	if err := sameShape("convolution gradient", filters, filterGradient); err != nil {
		return err
	}

	if err := inputGradient.Clear(); err != nil {
		return err
	}

	in, err := v.storage.Data()
	if err != nil {
		return err
	}
	w, err := filters.storage.Data()
	if err != nil {
		return err
	}
	chain, err := outputGradients.storage.Data()
	if err != nil {
		return err
	}
	dIn, err := inputGradient.storage.Data()
	if err != nil {
		return err
	}
	dW, err := filterGradient.storage.Data()
	if err != nil {
		return err
	}

	inPlane := g.inW * g.inH
	fPlane := g.fW * g.fH
	for n := 0; n < g.batch; n++ {
		inBase := n * g.inD * inPlane
		for depth := 0; depth < g.outD; depth++ {
			fBase := depth * g.inD * fPlane
			outBase := (n*g.outD + depth) * g.outW * g.outH

			y := -g.pad
			for ay := 0; ay < g.outH; ay, y = ay+1, y+g.stride {
				x := -g.pad
				for ax := 0; ax < g.outW; ax, x = ax+1, x+g.stride {
					c := chain[outBase+ay*g.outW+ax]
					for fy := 0; fy < g.fH; fy++ {
						oy := y + fy
						if oy < 0 || oy >= g.inH {
							continue
						}
						for fx := 0; fx < g.fW; fx++ {
							ox := x + fx
							if ox < 0 || ox >= g.inW {
								continue
							}
							for fd := 0; fd < g.inD; fd++ {
								fi := fBase + fd*fPlane + fy*g.fW + fx
								ii := inBase + fd*inPlane + oy*g.inW + ox
								dW[fi] += in[ii] * c
								dIn[ii] += w[fi] * c
							}
						}
					}
				}
			}
		}
	}
	return nil
}
