package accel

import (
	"testing"

	"github.com/born-ml/volume/internal/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_Zeros(t *testing.T) {
	ctx, _ := newTestContext(t)
	b := NewBuilder[float32](ctx)

	v, err := b.Zeros(volume.MustShape(2, 2))
	require.NoError(t, err)
	defer v.Release()

	_, ok := v.Storage().(*Storage[float32])
	assert.True(t, ok)
	assert.Equal(t, int64(16), ctx.Memory().TotalMemoryUsage())
}

func TestBuilder_SameAsValue(t *testing.T) {
	ctx, _ := newTestContext(t)
	b := NewBuilder[float64](ctx)

	example, err := b.Zeros(volume.MustShape(1))
	require.NoError(t, err)
	defer example.Release()

	v, err := b.SameAsValue(example.Storage(), 2.5, volume.MustShape(3))
	require.NoError(t, err)
	defer v.Release()

	out, err := v.ToArray()
	require.NoError(t, err)
	assert.Equal(t, []float64{2.5, 2.5, 2.5}, out)
}

func TestBuilder_RejectsHostExample(t *testing.T) {
	ctx, _ := newTestContext(t)
	b := NewBuilder[float32](ctx)

	host, err := volume.NewHostStorage[float32](volume.MustShape(2))
	require.NoError(t, err)

	_, err = b.SameAs(host, volume.MustShape(2))
	assert.ErrorIs(t, err, volume.ErrNotSupported)
	_, err = b.SameAsValue(host, 1, volume.MustShape(2))
	assert.ErrorIs(t, err, volume.ErrNotSupported)
	_, err = b.Build(host, volume.MustShape(2))
	assert.ErrorIs(t, err, volume.ErrNotSupported)
}

func TestBuilder_HostBuilderRejectsAccelExample(t *testing.T) {
	ctx, _ := newTestContext(t)
	s, err := NewStorage[float32](ctx, volume.MustShape(2))
	require.NoError(t, err)
	defer s.Release()

	_, err = volume.NewHostBuilder[float32]().SameAs(s, volume.MustShape(2))
	assert.ErrorIs(t, err, volume.ErrNotSupported)
}

func TestBuilder_Build(t *testing.T) {
	ctx, _ := newTestContext(t)
	b := NewBuilder[float32](ctx)

	v, err := b.From([]float32{1, 2, 3, 4, 5, 6}, volume.MustShape(6))
	require.NoError(t, err)
	defer v.Release()

	view, err := b.Build(v.Storage(), volume.MustShape(3, 2))
	require.NoError(t, err)
	assert.Equal(t, float32(6), view.Get(2, 1))

	_, err = b.Build(v.Storage(), volume.MustShape(4))
	assert.ErrorIs(t, err, volume.ErrDimension)
}

func TestBuilder_Random(t *testing.T) {
	ctx, _ := newTestContext(t)
	b := NewBuilder[float64](ctx)

	v, err := b.Random(volume.MustShape(1000), 5, 0.01)
	require.NoError(t, err)
	defer v.Release()

	out, err := v.ToArray()
	require.NoError(t, err)
	var sum float64
	for _, x := range out {
		sum += x
	}
	assert.InDelta(t, 5.0, sum/float64(len(out)), 0.01)
}

func TestBuilder_NilContextUsesDefault(t *testing.T) {
	assert.Same(t, Default(), NewBuilder[float32](nil).Context())
}

// trainingStep runs one conv, relu, pool, softmax, loss pass on b and
// releases every volume it allocated.
func trainingStep(t *testing.T, b volume.Builder[float64]) {
	t.Helper()

	input, err := b.Random(volume.MustShape(6, 6, 2, 3), 0, 1)
	require.NoError(t, err)
	filters, err := b.Random(volume.MustShape(3, 3, 2, 4), 0, 0.1)
	require.NoError(t, err)
	conv, err := b.Zeros(volume.MustShape(6, 6, 4, 3))
	require.NoError(t, err)
	relu, err := b.Zeros(volume.MustShape(6, 6, 4, 3))
	require.NoError(t, err)
	pooled, err := b.Zeros(volume.MustShape(3, 3, 4, 3))
	require.NoError(t, err)
	probs, err := b.Zeros(volume.MustShape(3, 3, 4, 3))
	require.NoError(t, err)
	target, err := b.Zeros(volume.MustShape(3, 3, 4, 3))
	require.NoError(t, err)
	for n := 0; n < 3; n++ {
		target.Set(1, n, 0, 0, n)
	}

	require.NoError(t, input.Convolution(filters, 1, 1, conv))
	require.NoError(t, conv.Relu(relu))
	require.NoError(t, relu.Pool(pooled, volume.Square(2, 2)))
	require.NoError(t, pooled.Softmax(probs))
	_, err = volume.NegativeLogLikelihood(target, probs)
	require.NoError(t, err)

	// Exercise the device path as a real backend would between kernels.
	require.NoError(t, probs.Storage().(*Storage[float64]).CopyToDevice())

	for _, v := range []*volume.Volume[float64]{input, filters, conv, relu, pooled, probs, target} {
		require.NoError(t, v.Release())
	}
}

func TestBuilder_MemoryIsConservedAcrossIterations(t *testing.T) {
	ctx, dev := newTestContext(t)
	b := NewBuilder[float64](ctx)
	initial := ctx.Memory().Snapshot()

	trainingStep(t, b)
	afterFirst := ctx.Memory().Snapshot()
	trainingStep(t, b)
	afterSecond := ctx.Memory().Snapshot()

	assert.Equal(t, afterFirst.TotalMemoryUsage, afterSecond.TotalMemoryUsage)
	assert.Equal(t, afterFirst.NotDisposedDueToOwnership, afterSecond.NotDisposedDueToOwnership)
	assert.Equal(t, initial.TotalMemoryUsage, afterSecond.TotalMemoryUsage)
	assert.Equal(t, int64(0), afterSecond.LiveRegions)
	assert.Equal(t, 0, dev.LiveBuffers())
}
