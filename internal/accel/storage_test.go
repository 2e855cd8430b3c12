package accel

import (
	"fmt"
	"math"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/born-ml/volume/internal/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T) (*Context, *SimDevice) {
	t.Helper()
	dev := NewSimDevice(SimConfig{Latency: 100 * time.Microsecond})
	t.Cleanup(func() { _ = dev.Close() })
	return NewContext(dev), dev
}

func TestStorage_AllocationIsCounted(t *testing.T) {
	ctx, _ := newTestContext(t)

	s, err := NewStorage[float32](ctx, volume.MustShape(2, 3))
	require.NoError(t, err)
	assert.Equal(t, int64(24), ctx.Memory().TotalMemoryUsage())
	assert.Equal(t, LocationHost, s.Location())
	assert.True(t, s.IsOwner())

	data, err := s.Data()
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 6), data)

	require.NoError(t, s.Release())
	assert.Equal(t, int64(0), ctx.Memory().TotalMemoryUsage())
}

func TestStorage_UnresolvedShape(t *testing.T) {
	ctx, _ := newTestContext(t)
	_, err := NewStorage[float64](ctx, volume.MustShape(2, volume.Unknown))
	assert.ErrorIs(t, err, volume.ErrDimension)
}

func TestStorage_FromCopiesValues(t *testing.T) {
	ctx, _ := newTestContext(t)
	values := []float64{1, 2, 3, 4}

	s, err := NewStorageFrom(ctx, values, volume.MustShape(2, volume.Unknown))
	require.NoError(t, err)
	defer s.Release()

	values[0] = 100
	assert.Equal(t, 1.0, s.Get(0, 0))
	assert.Equal(t, 4.0, s.Get(1, 1))
	assert.Equal(t, 2, s.Shape().Dimension(1))
}

func TestStorage_DeviceRoundTrip(t *testing.T) {
	ctx, dev := newTestContext(t)

	s, err := NewStorageFrom(ctx, []float32{1, 2, 3}, volume.MustShape(3))
	require.NoError(t, err)

	require.NoError(t, s.CopyToDevice())
	assert.Equal(t, LocationDevice, s.Location())
	assert.Equal(t, int64(12), dev.AllocatedBytes())
	require.NoError(t, s.CopyToDevice(), "no-op when already on device")

	// The device copy is authoritative now; reading brings it back.
	assert.Equal(t, float32(2), s.Get(1))
	assert.Equal(t, LocationHost, s.Location())

	require.NoError(t, s.Release())
	assert.Equal(t, int64(0), dev.AllocatedBytes())
	assert.Equal(t, 0, dev.LiveBuffers())
}

func TestStorage_ClearOnDevice(t *testing.T) {
	ctx, _ := newTestContext(t)

	s, err := NewStorageFrom(ctx, []float64{1, 2, 3, 4}, volume.MustShape(4))
	require.NoError(t, err)
	defer s.Release()

	require.NoError(t, s.CopyToDevice())
	require.NoError(t, s.Clear())
	assert.Equal(t, LocationDevice, s.Location())

	out, err := s.ToArray()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 0}, out)
}

func TestStorage_ClearOnHost(t *testing.T) {
	ctx, _ := newTestContext(t)

	s, err := NewStorageFrom(ctx, []float32{5, 6}, volume.MustShape(2))
	require.NoError(t, err)
	defer s.Release()

	require.NoError(t, s.Clear())
	assert.Equal(t, float32(0), s.Get(1))
}

func TestStorage_ViewSharesLocation(t *testing.T) {
	ctx, _ := newTestContext(t)

	owner, err := NewStorageFrom(ctx, []float32{1, 2, 3, 4, 5, 6}, volume.MustShape(2, 3))
	require.NoError(t, err)
	defer owner.Release()

	v, err := owner.Reshape(volume.MustShape(volume.Unknown))
	require.NoError(t, err)
	view := v.(*Storage[float32])
	assert.False(t, view.IsOwner())
	assert.Equal(t, 6, view.Shape().Dimension(0))

	require.NoError(t, owner.CopyToDevice())
	assert.Equal(t, LocationDevice, view.Location())

	view.Set(42, 5)
	assert.Equal(t, float32(42), owner.Get(1, 2))
}

func TestStorage_ReleaseViewBeforeOwner(t *testing.T) {
	ctx, _ := newTestContext(t)

	owner, err := NewStorage[float64](ctx, volume.MustShape(4))
	require.NoError(t, err)
	view, err := owner.Reshape(volume.MustShape(2, 2))
	require.NoError(t, err)

	require.NoError(t, view.Release())
	assert.Equal(t, int64(32), ctx.Memory().NotDisposedDueToOwnership())
	assert.Equal(t, int64(32), ctx.Memory().TotalMemoryUsage(), "a view never frees the memory")

	require.NoError(t, owner.Release())
	assert.Equal(t, int64(0), ctx.Memory().TotalMemoryUsage())
}

func TestStorage_ReleaseViewAfterOwner(t *testing.T) {
	ctx, _ := newTestContext(t)

	owner, err := NewStorage[float64](ctx, volume.MustShape(4))
	require.NoError(t, err)
	view, err := owner.Reshape(volume.MustShape(4))
	require.NoError(t, err)

	require.NoError(t, owner.Release())
	require.NoError(t, view.Release())
	assert.Equal(t, int64(0), ctx.Memory().NotDisposedDueToOwnership())
	assert.Equal(t, int64(0), ctx.Memory().TotalMemoryUsage())
}

func TestStorage_ReleaseIsIdempotent(t *testing.T) {
	ctx, dev := newTestContext(t)

	s, err := NewStorage[float32](ctx, volume.MustShape(8))
	require.NoError(t, err)
	require.NoError(t, s.CopyToDevice())

	require.NoError(t, s.Release())
	require.NoError(t, s.Release())
	assert.Equal(t, int64(0), ctx.Memory().TotalMemoryUsage())
	assert.Equal(t, 0, dev.LiveBuffers())
}

func TestStorage_UseAfterRelease(t *testing.T) {
	ctx, _ := newTestContext(t)

	s, err := NewStorage[float32](ctx, volume.MustShape(2))
	require.NoError(t, err)
	require.NoError(t, s.Release())

	assert.Panics(t, func() { s.Get(0) })
	assert.Panics(t, func() { _ = s.CopyToDevice() })
}

func TestStorage_ViewUseAfterOwnerRelease(t *testing.T) {
	ctx, _ := newTestContext(t)

	owner, err := NewStorage[float32](ctx, volume.MustShape(2))
	require.NoError(t, err)
	view, err := owner.Reshape(volume.MustShape(2))
	require.NoError(t, err)
	require.NoError(t, owner.Release())

	_, err = view.Data()
	assert.Error(t, err)
	assert.Panics(t, func() { view.Get(0) })
}

func TestStorage_OutOfRangeCoordinates(t *testing.T) {
	ctx, _ := newTestContext(t)

	s, err := NewStorage[float32](ctx, volume.MustShape(2, 2))
	require.NoError(t, err)
	defer s.Release()

	assert.Panics(t, func() { s.Get(2, 0) })
	assert.Panics(t, func() { s.Set(1, 4) })
}

func TestStorage_DeviceAllocationFailure(t *testing.T) {
	dev := NewSimDevice(SimConfig{CapacityBytes: 8})
	defer dev.Close()
	ctx := NewContext(dev)

	s, err := NewStorage[float64](ctx, volume.MustShape(2))
	require.NoError(t, err)
	defer s.Release()

	err = s.CopyToDevice()
	assert.ErrorIs(t, err, volume.ErrAllocation)
	assert.Equal(t, LocationHost, s.Location())
}

func TestAllocateRegion_Errors(t *testing.T) {
	m := &MemoryInfo{}

	_, err := allocateRegion(m, -1, 4)
	assert.ErrorIs(t, err, volume.ErrAllocation)

	_, err = allocateRegion(m, math.MaxInt/2, 8)
	assert.ErrorIs(t, err, volume.ErrAllocation)

	assert.Equal(t, int64(0), m.TotalMemoryUsage())
}

func TestAllocateRegion_Empty(t *testing.T) {
	m := &MemoryInfo{}

	r, err := allocateRegion(m, 0, 4)
	require.NoError(t, err)
	assert.Empty(t, elements[float32](r))
	r.release()
	r.release()
	assert.Equal(t, MemoryStats{}, m.Snapshot())
}

func TestStorage_Workspace(t *testing.T) {
	ctx, dev := newTestContext(t)

	s, err := NewStorage[float32](ctx, volume.MustShape(4))
	require.NoError(t, err)

	ws, err := s.Workspace(ConvolutionForward, 64)
	require.NoError(t, err)
	again, err := s.Workspace(ConvolutionForward, 32)
	require.NoError(t, err)
	assert.Same(t, ws, again)

	grown, err := s.Workspace(ConvolutionForward, 128)
	require.NoError(t, err)
	assert.Equal(t, 128, grown.Size())

	_, err = s.Workspace(ConvolutionBackwardFilter, 16)
	require.NoError(t, err)
	assert.Equal(t, int64(144), dev.AllocatedBytes())

	require.NoError(t, s.Release())
	assert.Equal(t, int64(0), dev.AllocatedBytes())
}

func TestStorage_FinalizerReleasesLeak(t *testing.T) {
	ctx, _ := newTestContext(t)

	func() {
		_, err := NewStorage[float64](ctx, volume.MustShape(16))
		require.NoError(t, err)
	}()
	assert.Equal(t, int64(128), ctx.Memory().TotalMemoryUsage())

	assert.Eventually(t, func() bool {
		runtime.GC()
		return ctx.Memory().TotalMemoryUsage() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStorage_FinalizerReleasesWorkspaces(t *testing.T) {
	ctx, dev := newTestContext(t)

	func() {
		s, err := NewStorage[float32](ctx, volume.MustShape(8))
		require.NoError(t, err)
		require.NoError(t, s.CopyToDevice())
		_, err = s.Workspace(ConvolutionForward, 128)
		require.NoError(t, err)
		_, err = s.Workspace(ConvolutionBackwardData, 64)
		require.NoError(t, err)
	}()
	assert.Equal(t, 3, dev.LiveBuffers())

	assert.Eventually(t, func() bool {
		runtime.GC()
		return dev.LiveBuffers() == 0 && ctx.Memory().TotalMemoryUsage() == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), dev.AllocatedBytes())
}

func TestStorage_ConcurrentStoragesShareDevice(t *testing.T) {
	ctx, dev := newTestContext(t)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			errs[w] = roundTrip(ctx, float32(w))
		}(w)
	}
	wg.Wait()

	for w, err := range errs {
		assert.NoError(t, err, "worker %d", w)
	}
	assert.Equal(t, 0, dev.LiveBuffers())
	assert.Equal(t, int64(0), ctx.Memory().TotalMemoryUsage())
}

// roundTrip moves a storage filled with value to the device and back a few
// times and checks the contents survive.
func roundTrip(ctx *Context, value float32) error {
	values := make([]float32, 64)
	for i := range values {
		values[i] = value
	}
	s, err := NewStorageFrom(ctx, values, volume.MustShape(64))
	if err != nil {
		return err
	}
	defer s.Release()

	for i := 0; i < 10; i++ {
		if err := s.CopyToDevice(); err != nil {
			return err
		}
		if err := s.CopyToHost(); err != nil {
			return err
		}
	}
	got, err := s.ToArray()
	if err != nil {
		return err
	}
	for i, v := range got {
		if v != value {
			return fmt.Errorf("element %d: got %v, want %v", i, v, value)
		}
	}
	return nil
}

func TestMemoryInfo_Peak(t *testing.T) {
	ctx, _ := newTestContext(t)

	a, err := NewStorage[float32](ctx, volume.MustShape(10))
	require.NoError(t, err)
	b, err := NewStorage[float32](ctx, volume.MustShape(5))
	require.NoError(t, err)
	require.NoError(t, a.Release())
	require.NoError(t, b.Release())

	stats := ctx.Memory().Snapshot()
	assert.Equal(t, int64(60), stats.PeakMemoryUsage)
	assert.Equal(t, int64(0), stats.TotalMemoryUsage)
	assert.Equal(t, int64(0), stats.LiveRegions)
}

func TestContext_SharedMemoryInfo(t *testing.T) {
	m := &MemoryInfo{}
	dev := NewSimDevice(DefaultSimConfig())
	defer dev.Close()
	ctx := NewContext(dev, WithMemoryInfo(m))

	s, err := NewStorage[float32](ctx, volume.MustShape(1))
	require.NoError(t, err)
	assert.Equal(t, int64(4), m.TotalMemoryUsage())
	require.NoError(t, s.Release())
}

func TestDefault(t *testing.T) {
	ctx := Default()
	require.NotNil(t, ctx)
	assert.Same(t, ctx, Default())
	assert.Same(t, ProcessMemory(), ctx.Memory())
	assert.Equal(t, "sim", ctx.Device().Name())

	before := TotalMemoryUsage()
	s, err := NewStorage[float32](nil, volume.MustShape(3))
	require.NoError(t, err)
	assert.Equal(t, before+12, TotalMemoryUsage())
	require.NoError(t, s.Release())
	assert.Equal(t, before, TotalMemoryUsage())
}
