package accel

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/born-ml/volume/internal/volume"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SimConfig configures a SimDevice.
type SimConfig struct {
	// CapacityBytes bounds the device memory; 0 means unbounded.
	CapacityBytes int64
	// Latency delays every queued operation, to surface missing waits.
	Latency time.Duration
	// QueueDepth is the number of operations that may be in flight.
	QueueDepth int
}

// DefaultSimConfig returns an unbounded device without artificial latency.
func DefaultSimConfig() SimConfig {
	return SimConfig{QueueDepth: 64}
}

type simBuffer struct {
	device *SimDevice
	data   []byte
	freed  atomic.Bool
}

func (b *simBuffer) Size() int {
	return len(b.data)
}

// simOp is one queued operation and the stream it reports to.
type simOp struct {
	stream *simStream
	run    func() error
}

// SimDevice is an in-process accelerator. Device memory is ordinary Go
// memory, and transfers run on a worker goroutine, so issue and completion are
// separated exactly as on a real device stream. All streams share the one
// worker, which executes operations in issue order.
type SimDevice struct {
	cfg SimConfig

	mu        sync.Mutex
	allocated int64
	buffers   int
	closed    bool

	stream *simStream
	queue  chan simOp
	done   chan struct{}
}

// NewSimDevice starts a simulated device.
func NewSimDevice(cfg SimConfig) *SimDevice {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultSimConfig().QueueDepth
	}
	d := &SimDevice{
		cfg:   cfg,
		queue: make(chan simOp, cfg.QueueDepth),
		done:  make(chan struct{}),
	}
	d.stream = &simStream{device: d}
	go d.run()
	return d
}

func (d *SimDevice) run() {
	defer close(d.done)
	for op := range d.queue {
		if d.cfg.Latency > 0 {
			time.Sleep(d.cfg.Latency)
		}
		if err := op.run(); err != nil {
			op.stream.fail(err)
		}
	}
}

// Name returns "sim".
func (d *SimDevice) Name() string {
	return "sim"
}

// Allocate reserves size bytes of simulated device memory.
func (d *SimDevice) Allocate(size int) (DeviceBuffer, error) {
	if size < 0 {
		return nil, errors.Wrapf(volume.ErrAllocation, "sim device: negative size %d", size)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.Wrap(volume.ErrAllocation, "sim device: closed")
	}
	if d.cfg.CapacityBytes > 0 && d.allocated+int64(size) > d.cfg.CapacityBytes {
		return nil, errors.Wrapf(volume.ErrAllocation, "sim device: out of memory allocating %d bytes (%d of %d in use)",
			size, d.allocated, d.cfg.CapacityBytes)
	}
	d.allocated += int64(size)
	d.buffers++
	klog.V(3).Infof("sim device: allocated %d bytes", size)
	return &simBuffer{device: d, data: make([]byte, size)}, nil
}

// Free releases a buffer. Freeing a foreign or already freed buffer fails.
func (d *SimDevice) Free(buf DeviceBuffer) error {
	b, err := d.own(buf)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !b.freed.CompareAndSwap(false, true) {
		return errors.New("sim device: double free")
	}
	d.allocated -= int64(len(b.data))
	d.buffers--
	return nil
}

// NewStream creates a stream on the device.
func (d *SimDevice) NewStream() Stream {
	return &simStream{device: d}
}

// CopyHostToDeviceAsync queues a host to device copy on the default stream.
func (d *SimDevice) CopyHostToDeviceAsync(dst DeviceBuffer, src []byte) error {
	return d.stream.CopyHostToDeviceAsync(dst, src)
}

// CopyDeviceToHostAsync queues a device to host copy on the default stream.
func (d *SimDevice) CopyDeviceToHostAsync(dst []byte, src DeviceBuffer) error {
	return d.stream.CopyDeviceToHostAsync(dst, src)
}

// MemsetZeroAsync queues a zero fill on the default stream.
func (d *SimDevice) MemsetZeroAsync(buf DeviceBuffer) error {
	return d.stream.MemsetZeroAsync(buf)
}

// Synchronize waits for the operations of the default stream.
func (d *SimDevice) Synchronize() error {
	return d.stream.Synchronize()
}

// Close drains the queue and stops the worker. Close is idempotent.
func (d *SimDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.done
	return nil
}

// AllocatedBytes returns the bytes currently allocated on the device.
func (d *SimDevice) AllocatedBytes() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocated
}

// LiveBuffers returns the number of buffers not yet freed.
func (d *SimDevice) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buffers
}

func (d *SimDevice) own(buf DeviceBuffer) (*simBuffer, error) {
	b, ok := buf.(*simBuffer)
	if !ok || b.device != d {
		return nil, errors.Wrapf(volume.ErrNotSupported, "sim device: foreign buffer %T", buf)
	}
	return b, nil
}

func (d *SimDevice) enqueue(op simOp) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("sim device: closed")
	}
	d.queue <- op
	return nil
}

// String describes the device state.
func (d *SimDevice) String() string {
	return fmt.Sprintf("sim device (%d buffers, %d bytes)", d.LiveBuffers(), d.AllocatedBytes())
}

// simStream tags the operations issued through it so that Synchronize waits
// for them and reports only their failures.
type simStream struct {
	device *SimDevice

	mu  sync.Mutex
	err error
}

func (s *simStream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// CopyHostToDeviceAsync queues a host to device copy.
func (s *simStream) CopyHostToDeviceAsync(dst DeviceBuffer, src []byte) error {
	b, err := s.device.own(dst)
	if err != nil {
		return err
	}
	if len(src) > b.Size() {
		return errors.Errorf("sim device: copy of %d bytes into %d byte buffer", len(src), b.Size())
	}
	return s.device.enqueue(simOp{stream: s, run: func() error {
		if b.freed.Load() {
			return errors.New("sim device: copy into freed buffer")
		}
		copy(b.data, src)
		return nil
	}})
}

// CopyDeviceToHostAsync queues a device to host copy.
func (s *simStream) CopyDeviceToHostAsync(dst []byte, src DeviceBuffer) error {
	b, err := s.device.own(src)
	if err != nil {
		return err
	}
	if len(dst) > b.Size() {
		return errors.Errorf("sim device: copy of %d bytes from %d byte buffer", len(dst), b.Size())
	}
	return s.device.enqueue(simOp{stream: s, run: func() error {
		if b.freed.Load() {
			return errors.New("sim device: copy from freed buffer")
		}
		copy(dst, b.data)
		return nil
	}})
}

// MemsetZeroAsync queues a zero fill.
func (s *simStream) MemsetZeroAsync(buf DeviceBuffer) error {
	b, err := s.device.own(buf)
	if err != nil {
		return err
	}
	return s.device.enqueue(simOp{stream: s, run: func() error {
		if b.freed.Load() {
			return errors.New("sim device: memset of freed buffer")
		}
		clear(b.data)
		return nil
	}})
}

// Synchronize queues a marker behind the operations issued so far and waits
// for the worker to reach it. The first failure since the previous
// Synchronize is reported once.
func (s *simStream) Synchronize() error {
	reached := make(chan struct{})
	err := s.device.enqueue(simOp{stream: s, run: func() error {
		close(reached)
		return nil
	}})
	if err != nil {
		return err
	}
	<-reached

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.err
	s.err = nil
	return err
}
