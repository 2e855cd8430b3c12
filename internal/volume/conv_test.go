package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvolution_Basic(t *testing.T) {
	in := vol(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, 3, 3, 1, 1)
	filters := vol(t, []float32{1, 1, 1, 1}, 2, 2, 1, 1)
	out := zeros[float32](t, 2, 2, 1, 1)

	require.NoError(t, in.Convolution(filters, 0, 1, out))
	assert.Equal(t, []float32{12, 16, 24, 28}, values(t, out))
}

func TestConvolution_SingleCellInput(t *testing.T) {
	// A 3x3 filter over a 1x1 input with pad 1 only touches the filter center.
	in := vol(t, []float64{2}, 1, 1, 1, 1)
	filters := vol(t, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, 3, 3, 1, 1)
	out := zeros[float64](t, 1, 1, 1, 1)

	require.NoError(t, in.Convolution(filters, 1, 1, out))
	assert.Equal(t, 10.0, out.Get(0))
}

func TestConvolution_FilterWiderThanInputWithoutPad(t *testing.T) {
	// Without padding only the top-left tap lands on the 1x1 input.
	in := vol(t, []float64{2}, 1, 1, 1, 1)
	filters := vol(t, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, 3, 3, 1, 1)
	out := zeros[float64](t, 1, 1, 1, 1)

	require.NoError(t, in.Convolution(filters, 0, 1, out))
	assert.Equal(t, []float64{2}, values(t, out))

	dIn := zeros[float64](t, 1, 1, 1, 1)
	dW := zeros[float64](t, 3, 3, 1, 1)
	require.NoError(t, in.ConvolutionGradient(filters, vol(t, []float64{3}, 1, 1, 1, 1), dIn, dW, 0, 1))
	assert.Equal(t, []float64{3}, values(t, dIn))
	assert.Equal(t, []float64{6, 0, 0, 0, 0, 0, 0, 0, 0}, values(t, dW))
}

func TestConvolution_StrideAndDepth(t *testing.T) {
	// Two input channels, two filters, stride 2.
	in := vol(t, []float64{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,

		1, 1, 1, 1,
		1, 1, 1, 1,
		1, 1, 1, 1,
		1, 1, 1, 1,
	}, 4, 4, 2, 1)
	filters := vol(t, []float64{
		1, 0, 0, 0, // filter 0, channel 0
		0, 0, 0, 0, // filter 0, channel 1
		0, 0, 0, 0, // filter 1, channel 0
		1, 1, 1, 1, // filter 1, channel 1
	}, 2, 2, 2, 2)
	out := zeros[float64](t, 2, 2, 2, 1)

	require.NoError(t, in.Convolution(filters, 0, 2, out))
	assert.Equal(t, []float64{1, 3, 9, 11, 4, 4, 4, 4}, values(t, out))
}

func TestConvolution_InvalidGeometry(t *testing.T) {
	in := zeros[float32](t, 3, 3, 2, 1)

	err := in.Convolution(zeros[float32](t, 2, 2, 2, 1), 0, 0, zeros[float32](t, 2, 2, 1, 1))
	assert.ErrorIs(t, err, ErrDimension, "zero stride")

	err = in.Convolution(zeros[float32](t, 2, 2, 1, 1), 0, 1, zeros[float32](t, 2, 2, 1, 1))
	assert.ErrorIs(t, err, ErrDimension, "filter depth")

	err = in.Convolution(zeros[float32](t, 2, 2, 2, 3), 0, 1, zeros[float32](t, 2, 2, 1, 1))
	assert.ErrorIs(t, err, ErrDimension, "filter count")

	err = in.Convolution(zeros[float32](t, 2, 2, 2, 1), -1, 1, zeros[float32](t, 2, 2, 1, 1))
	assert.ErrorIs(t, err, ErrDimension, "negative pad")

	err = in.Convolution(zeros[float32](t, 2, 2, 2, 1), 0, 1, zeros[float32](t, 2, 2, 1, 2))
	assert.ErrorIs(t, err, ErrDimension, "batch")
}

func TestConvolutionGradient_Basic(t *testing.T) {
	in := vol(t, []float32{1, 2, 3, 4}, 2, 2, 1, 1)
	filters := vol(t, []float32{3}, 1, 1, 1, 1)
	chain := vol(t, []float32{1, 1, 1, 1}, 2, 2, 1, 1)
	dIn := vol(t, []float32{9, 9, 9, 9}, 2, 2, 1, 1)
	dW := vol(t, []float32{1}, 1, 1, 1, 1)

	require.NoError(t, in.ConvolutionGradient(filters, chain, dIn, dW, 0, 1))
	assert.Equal(t, []float32{3, 3, 3, 3}, values(t, dIn), "input gradient is overwritten")
	assert.Equal(t, float32(11), dW.Get(0), "filter gradient accumulates")
}

// convLoss is Σ conv(in, w) * chain, linear in both in and w.
func convLoss(t *testing.T, in, w, chain *Volume[float64], pad, stride int) float64 {
	t.Helper()
	out := zeros[float64](t, chain.Shape().Dims()...)
	require.NoError(t, in.Convolution(w, pad, stride, out))
	var loss float64
	for i, c := range values(t, chain) {
		loss += c * out.Get(i)
	}
	return loss
}

func TestConvolutionGradient_FiniteDifference(t *testing.T) {
	const pad, stride, h = 1, 2, 1e-3

	in := random(t, 5, 4, 2, 2)
	w := random(t, 3, 3, 2, 3)
	chain := random(t, 3, 2, 3, 2)
	dIn := zeros[float64](t, 5, 4, 2, 2)
	dW := zeros[float64](t, 3, 3, 2, 3)

	require.NoError(t, in.ConvolutionGradient(w, chain, dIn, dW, pad, stride))

	for i := 0; i < in.Shape().TotalLength(); i++ {
		x := in.Get(i)
		in.Set(x+h, i)
		plus := convLoss(t, in, w, chain, pad, stride)
		in.Set(x-h, i)
		minus := convLoss(t, in, w, chain, pad, stride)
		in.Set(x, i)
		assert.InDelta(t, (plus-minus)/(2*h), dIn.Get(i), 1e-6, "input %d", i)
	}
	for i := 0; i < w.Shape().TotalLength(); i++ {
		x := w.Get(i)
		w.Set(x+h, i)
		plus := convLoss(t, in, w, chain, pad, stride)
		w.Set(x-h, i)
		minus := convLoss(t, in, w, chain, pad, stride)
		w.Set(x, i)
		assert.InDelta(t, (plus-minus)/(2*h), dW.Get(i), 1e-6, "filter %d", i)
	}
}

func TestConvolutionGradient_ShapeMismatch(t *testing.T) {
	in := zeros[float32](t, 2, 2, 1, 1)
	filters := zeros[float32](t, 1, 1, 1, 1)
	chain := zeros[float32](t, 2, 2, 1, 1)

	err := in.ConvolutionGradient(filters, chain, zeros[float32](t, 3, 2, 1, 1), zeros[float32](t, 1, 1, 1, 1), 0, 1)
	assert.ErrorIs(t, err, ErrDimension)

	err = in.ConvolutionGradient(filters, chain, zeros[float32](t, 2, 2, 1, 1), zeros[float32](t, 2, 1, 1, 1), 0, 1)
	assert.ErrorIs(t, err, ErrDimension)
}

func TestConvolutionOutputShape(t *testing.T) {
	s, err := ConvolutionOutputShape(MustShape(5, 4, 2, 3), MustShape(3, 3, 2, 6), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 6, 3}, s.Dims())

	_, err = ConvolutionOutputShape(MustShape(2, 2, 1, 1), MustShape(5, 5, 1, 1), 0, 1)
	assert.ErrorIs(t, err, ErrDimension)
	_, err = ConvolutionOutputShape(MustShape(2, 2, 1, 1), MustShape(1, 1, 1, 1), 0, 0)
	assert.ErrorIs(t, err, ErrDimension)
}
