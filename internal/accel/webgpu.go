//go:build windows

package accel

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/born-ml/volume/internal/volume"
	"github.com/go-webgpu/webgpu/wgpu"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// Buffer copies must be a multiple of 4 bytes.
	copyAlignment = 4
	// Max idle staging buffers kept for reuse.
	maxStagingPool = 32
)

type gpuBuffer struct {
	device *WebGPUDevice
	buffer *wgpu.Buffer
	size   int
	freed  bool
}

func (b *gpuBuffer) Size() int {
	return b.size
}

// pendingRead is a device to host copy whose staging buffer is mapped at
// the next Synchronize.
type pendingRead struct {
	staging *wgpu.Buffer
	dst     []byte
	size    uint64
}

// WebGPUDevice runs storages on a GPU through WebGPU.
type WebGPUDevice struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	stream *gpuStream

	mu       sync.Mutex
	staging  []*wgpu.Buffer
	stageCap []uint64
	closed   bool
}

// gpuStream collects the upload buffers and pending reads issued through it.
// All streams submit to the one device queue.
type gpuStream struct {
	device *WebGPUDevice

	mu      sync.Mutex
	uploads []*wgpu.Buffer
	reads   []pendingRead
}

// NewWebGPUDevice opens the high performance adapter.
// Returns an error if WebGPU is not available.
func NewWebGPUDevice() (dev *WebGPUDevice, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			dev = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, errors.Wrap(adapterErr, "webgpu: failed to request adapter")
	}

	device, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, errors.Wrap(deviceErr, "webgpu: failed to request device")
	}

	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, errors.New("webgpu: failed to get queue")
	}

	d := &WebGPUDevice{
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    queue,
	}
	d.stream = &gpuStream{device: d}
	return d, nil
}

// Name returns "webgpu".
func (d *WebGPUDevice) Name() string {
	return "webgpu"
}

// Allocate creates a storage buffer usable as copy source and destination.
func (d *WebGPUDevice) Allocate(size int) (buf DeviceBuffer, err error) {
	if size < 0 {
		return nil, errors.Wrapf(volume.ErrAllocation, "webgpu: negative size %d", size)
	}
	defer func() {
		if r := recover(); r != nil {
			buf = nil
			err = errors.Wrapf(volume.ErrAllocation, "webgpu: allocating %d bytes: %v", size, r)
		}
	}()

	buffer := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  aligned(size),
	})
	if buffer == nil {
		return nil, errors.Wrapf(volume.ErrAllocation, "webgpu: allocating %d bytes", size)
	}
	return &gpuBuffer{device: d, buffer: buffer, size: size}, nil
}

// Free releases a device buffer.
func (d *WebGPUDevice) Free(buf DeviceBuffer) error {
	b, err := d.own(buf)
	if err != nil {
		return err
	}
	if b.freed {
		return errors.New("webgpu: double free")
	}
	b.freed = true
	b.buffer.Release()
	return nil
}

// NewStream creates a stream on the device queue.
func (d *WebGPUDevice) NewStream() Stream {
	return &gpuStream{device: d}
}

// CopyHostToDeviceAsync uploads src on the default stream.
func (d *WebGPUDevice) CopyHostToDeviceAsync(dst DeviceBuffer, src []byte) error {
	return d.stream.CopyHostToDeviceAsync(dst, src)
}

// CopyDeviceToHostAsync reads src back on the default stream.
func (d *WebGPUDevice) CopyDeviceToHostAsync(dst []byte, src DeviceBuffer) error {
	return d.stream.CopyDeviceToHostAsync(dst, src)
}

// MemsetZeroAsync zero-fills buf on the default stream.
func (d *WebGPUDevice) MemsetZeroAsync(buf DeviceBuffer) error {
	return d.stream.MemsetZeroAsync(buf)
}

// Synchronize completes the default stream.
func (d *WebGPUDevice) Synchronize() error {
	return d.stream.Synchronize()
}

// CopyHostToDeviceAsync uploads src through a buffer mapped at creation.
func (st *gpuStream) CopyHostToDeviceAsync(dst DeviceBuffer, src []byte) error {
	d := st.device
	b, err := d.own(dst)
	if err != nil {
		return err
	}
	if len(src) == 0 {
		return nil
	}
	size := aligned(len(src))

	upload := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageCopySrc,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mappedPtr := upload.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mapped := unsafe.Slice((*byte)(mappedPtr), size)
	copy(mapped, src)
	upload.Unmap()

	encoder := d.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(upload, 0, b.buffer, 0, size)
	d.queue.Submit(encoder.Finish(nil))

	st.mu.Lock()
	st.uploads = append(st.uploads, upload)
	st.mu.Unlock()
	return nil
}

// CopyDeviceToHostAsync copies src into a staging buffer. dst is filled at
// the next Synchronize.
func (st *gpuStream) CopyDeviceToHostAsync(dst []byte, src DeviceBuffer) error {
	d := st.device
	b, err := d.own(src)
	if err != nil {
		return err
	}
	if len(dst) == 0 {
		return nil
	}
	size := aligned(len(dst))
	staging := d.acquireStaging(size)

	encoder := d.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(b.buffer, 0, staging, 0, size)
	d.queue.Submit(encoder.Finish(nil))

	st.mu.Lock()
	st.reads = append(st.reads, pendingRead{staging: staging, dst: dst, size: size})
	st.mu.Unlock()
	return nil
}

// MemsetZeroAsync overwrites buf with zeros.
func (st *gpuStream) MemsetZeroAsync(buf DeviceBuffer) error {
	b, err := st.device.own(buf)
	if err != nil {
		return err
	}
	return st.CopyHostToDeviceAsync(b, make([]byte, b.size))
}

// Synchronize completes the stream's pending reads and drops upload buffers.
func (st *gpuStream) Synchronize() error {
	d := st.device
	st.mu.Lock()
	reads := st.reads
	uploads := st.uploads
	st.reads = nil
	st.uploads = nil
	st.mu.Unlock()

	var firstErr error
	for _, r := range reads {
		// MapAsync waits for the submitted copy.
		if err := r.staging.MapAsync(d.device, wgpu.MapModeRead, 0, r.size); err != nil {
			if firstErr == nil {
				firstErr = errors.Wrap(err, "webgpu: failed to map staging buffer")
			}
			r.staging.Release()
			continue
		}
		mappedPtr := r.staging.GetMappedRange(0, r.size)
		//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
		mapped := unsafe.Slice((*byte)(mappedPtr), r.size)
		copy(r.dst, mapped)
		r.staging.Unmap()
		d.releaseStaging(r.staging, r.size)
	}
	for _, u := range uploads {
		u.Release()
	}
	return firstErr
}

// Close releases the staging buffers and the WebGPU objects.
func (d *WebGPUDevice) Close() error {
	if err := d.Synchronize(); err != nil {
		klog.Warningf("webgpu: synchronize on close: %v", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for _, s := range d.staging {
		s.Release()
	}
	d.staging = nil
	d.stageCap = nil

	if d.queue != nil {
		d.queue.Release()
	}
	if d.device != nil {
		d.device.Release()
	}
	if d.adapter != nil {
		d.adapter.Release()
	}
	if d.instance != nil {
		d.instance.Release()
	}
	return nil
}

// acquireStaging reuses an idle read-back buffer of sufficient size.
func (d *WebGPUDevice) acquireStaging(size uint64) *wgpu.Buffer {
	d.mu.Lock()
	for i, capacity := range d.stageCap {
		if capacity >= size {
			buffer := d.staging[i]
			d.staging = append(d.staging[:i], d.staging[i+1:]...)
			d.stageCap = append(d.stageCap[:i], d.stageCap[i+1:]...)
			d.mu.Unlock()
			return buffer
		}
	}
	d.mu.Unlock()

	return d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
}

func (d *WebGPUDevice) releaseStaging(buffer *wgpu.Buffer, size uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || len(d.staging) >= maxStagingPool {
		buffer.Release()
		return
	}
	d.staging = append(d.staging, buffer)
	d.stageCap = append(d.stageCap, size)
}

func (d *WebGPUDevice) own(buf DeviceBuffer) (*gpuBuffer, error) {
	b, ok := buf.(*gpuBuffer)
	if !ok || b.device != d {
		return nil, errors.Wrapf(volume.ErrNotSupported, "webgpu: foreign buffer %T", buf)
	}
	return b, nil
}

func aligned(size int) uint64 {
	return uint64((size + copyAlignment - 1) / copyAlignment * copyAlignment)
}

// OpenDevice opens the platform accelerator.
func OpenDevice() (Device, error) {
	dev, err := NewWebGPUDevice()
	if err != nil {
		return nil, err
	}
	return dev, nil
}
