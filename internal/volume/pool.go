package volume

import (
	"github.com/born-ml/volume/internal/parallel"
	"github.com/pkg/errors"
)

// PoolConfig describes a max-pooling window.
//
// The horizontal stride and pad apply to the width axis and the vertical
// stride and pad to the height axis.
type PoolConfig struct {
	WindowWidth      int
	WindowHeight     int
	HorizontalPad    int
	VerticalPad      int
	HorizontalStride int
	VerticalStride   int
}

// Square returns a pooling config with a size×size window, the same stride on
// both axes and no padding.
func Square(size, stride int) PoolConfig {
	return PoolConfig{
		WindowWidth:      size,
		WindowHeight:     size,
		HorizontalStride: stride,
		VerticalStride:   stride,
	}
}

func (c PoolConfig) validate() error {
	switch {
	case c.WindowWidth <= 0 || c.WindowHeight <= 0:
		return errors.Wrapf(ErrDimension, "pool: invalid window %dx%d", c.WindowWidth, c.WindowHeight)
	case c.HorizontalStride <= 0 || c.VerticalStride <= 0:
		return errors.Wrapf(ErrDimension, "pool: invalid stride %dx%d", c.HorizontalStride, c.VerticalStride)
	case c.HorizontalPad < 0 || c.VerticalPad < 0:
		return errors.Wrapf(ErrDimension, "pool: invalid pad %dx%d", c.HorizontalPad, c.VerticalPad)
	}
	return nil
}

type poolGeometry struct {
	inW, inH   int
	outW, outH int
	depth      int
	batch      int
	cfg        PoolConfig
}

func newPoolGeometry(input, output Shape, cfg PoolConfig) (poolGeometry, error) {
	if err := cfg.validate(); err != nil {
		return poolGeometry{}, err
	}
	if input.Dimension(2) != output.Dimension(2) || input.Dimension(3) != output.Dimension(3) {
		return poolGeometry{}, errors.Wrapf(ErrDimension, "pool: input %v and output %v differ in depth or batch", input, output)
	}
	return poolGeometry{
		inW: input.Dimension(0), inH: input.Dimension(1),
		outW: output.Dimension(0), outH: output.Dimension(1),
		depth: output.Dimension(2), batch: output.Dimension(3),
		cfg: cfg,
	}, nil
}

// argMax returns the flat plane offset of the maximum of the window anchored
// at (x, y). The window is scanned column by column (x outer, y inner) and
// the first maximum wins.
// ok is false when no tap of the window lies inside the input.
func argMax[T Float](plane []T, g poolGeometry, x, y int) (best int, ok bool) {
	var a T
	best = -1
	for fx := 0; fx < g.cfg.WindowWidth; fx++ {
		ox := x + fx
		if ox < 0 || ox >= g.inW {
			continue
		}
		for fy := 0; fy < g.cfg.WindowHeight; fy++ {
			oy := y + fy
			if oy < 0 || oy >= g.inH {
				continue
			}
			i := oy*g.inW + ox
			if best < 0 || plane[i] > a {
				a = plane[i]
				best = i
			}
		}
	}
	return best, best >= 0
}

// PoolOutputShape returns the shape produced by pooling an input of shape
// input with cfg.
func PoolOutputShape(input Shape, cfg PoolConfig) (Shape, error) {
	if err := cfg.validate(); err != nil {
		return Shape{}, err
	}
	spanW := input.Dimension(0) + 2*cfg.HorizontalPad - cfg.WindowWidth
	spanH := input.Dimension(1) + 2*cfg.VerticalPad - cfg.WindowHeight
	if spanW < 0 || spanH < 0 {
		return Shape{}, errors.Wrapf(ErrDimension, "pool: window %dx%d does not fit input %v", cfg.WindowWidth, cfg.WindowHeight, input)
	}
	return NewShape(spanW/cfg.HorizontalStride+1, spanH/cfg.VerticalStride+1, input.Dimension(2), input.Dimension(3))
}

// Pool writes the max over every pooling window of the receiver into result.
// Out-of-bounds taps are excluded from the max; a window with no in-bounds
// tap yields 0.
func (v *Volume[T]) Pool(result *Volume[T], cfg PoolConfig) error {
	g, err := newPoolGeometry(v.Shape(), result.Shape(), cfg)
	if err != nil {
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

	inPlane := g.inW * g.inH
	outPlane := g.outW * g.outH
	parallel.ForBatch(g.batch, g.depth, func(n, depth int) {
		plane := in[(n*g.depth+depth)*inPlane:][:inPlane]
		dst := out[(n*g.depth+depth)*outPlane:][:outPlane]

		y := -cfg.VerticalPad
		for ay := 0; ay < g.outH; ay, y = ay+1, y+cfg.VerticalStride {
			x := -cfg.HorizontalPad
			for ax := 0; ax < g.outW; ax, x = ax+1, x+cfg.HorizontalStride {
				var a T
				if best, ok := argMax(plane, g, x, y); ok {
					a = plane[best]
				}
				dst[ay*g.outW+ax] = a
			}
		}
	}, v.par)
	return nil
}

// PoolGradient routes each window's chain gradient to the input cell that
// won the max in the forward pass. The receiver is the pooling output.
//
// inputGradient is zeroed first; cells shared by overlapping windows sum the
// gradient of every window they win.
func (v *Volume[T]) PoolGradient(input, outputGradient, inputGradient *Volume[T], cfg PoolConfig) error {
	g, err := newPoolGeometry(input.Shape(), outputGradient.Shape(), cfg)
	if err != nil {
		return err
	}
	if err := sameShape("pool gradient", v, outputGradient); err != nil {
		return err
	}
	if err := sameShape("pool gradient", input, inputGradient); err != nil {
		return err
	}
	if err := inputGradient.Clear(); err != nil {
		return err
	}

	in, err := input.storage.Data()
	if err != nil {
		return err
	}
	chain, err := outputGradient.storage.Data()
	if err != nil {
		return err
	}
	dIn, err := inputGradient.storage.Data()
	if err != nil {
		return err
	}

	inPlane := g.inW * g.inH
	outPlane := g.outW * g.outH
	parallel.ForBatch(g.batch, g.depth, func(n, depth int) {
		plane := in[(n*g.depth+depth)*inPlane:][:inPlane]
		grad := dIn[(n*g.depth+depth)*inPlane:][:inPlane]
		dy := chain[(n*g.depth+depth)*outPlane:][:outPlane]

		y := -cfg.VerticalPad
		for ay := 0; ay < g.outH; ay, y = ay+1, y+cfg.VerticalStride {
			x := -cfg.HorizontalPad
			for ax := 0; ax < g.outW; ax, x = ax+1, x+cfg.HorizontalStride {
				if best, ok := argMax(plane, g, x, y); ok {
					grad[best] += dy[ay*g.outW+ax]
				}
			}
		}
	}, v.par)
	return nil
}
