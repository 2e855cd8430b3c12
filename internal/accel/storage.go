package accel

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/born-ml/volume/internal/volume"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// WorkspaceKind names a scratch buffer a convolution kernel may request.
type WorkspaceKind int

// Workspace kinds.
const (
	ConvolutionForward WorkspaceKind = iota
	ConvolutionBackwardData
	ConvolutionBackwardFilter
)

// String returns the workspace kind name.
func (k WorkspaceKind) String() string {
	switch k {
	case ConvolutionForward:
		return "convolution-forward"
	case ConvolutionBackwardData:
		return "convolution-backward-data"
	case ConvolutionBackwardFilter:
		return "convolution-backward-filter"
	default:
		return fmt.Sprintf("workspace(%d)", int(k))
	}
}

// residency is the memory shared by an owner storage and all of its views:
// the pinned region, the lazily allocated device buffer and which of the two
// is authoritative.
type residency struct {
	ctx    *Context
	stream Stream

	mu       sync.Mutex
	region   *hostRegion
	device   DeviceBuffer
	location Location
	released bool
}

// free releases the region and the device buffer once.
func (r *residency) free() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	r.released = true
	r.region.release()
	if r.device != nil {
		buf := r.device
		r.device = nil
		if err := r.ctx.device.Free(buf); err != nil {
			return errors.WithMessagef(err, "accel: free device buffer of %d bytes", buf.Size())
		}
	}
	return nil
}

// finalizeResidency is the safety net for storages dropped without Release.
func finalizeResidency(r *residency) {
	if r.released {
		return
	}
	klog.Warningf("accel: storage of %d bytes was never released; freeing in finalizer", r.region.size())
	if err := r.free(); err != nil {
		klog.Warningf("accel: finalizer: %v", err)
	}
}

// toHost makes the pinned region authoritative. Callers hold r.mu.
func (r *residency) toHost() error {
	if r.released {
		return errors.New("accel: storage used after release")
	}
	if r.location == LocationHost {
		return nil
	}
	if err := r.stream.CopyDeviceToHostAsync(r.region.bytes, r.device); err != nil {
		return errors.WithMessage(err, "accel: copy to host")
	}
	if err := r.stream.Synchronize(); err != nil {
		return errors.WithMessage(err, "accel: synchronize after copy to host")
	}
	r.location = LocationHost
	klog.V(2).Infof("accel: copied %d bytes to host", r.region.size())
	return nil
}

// toDevice makes the device buffer authoritative. Callers hold r.mu.
func (r *residency) toDevice() error {
	if r.released {
		return errors.New("accel: storage used after release")
	}
	if r.location == LocationDevice {
		return nil
	}
	dev := r.ctx.device
	if r.device == nil {
		buf, err := dev.Allocate(r.region.size())
		if err != nil {
			return errors.WithMessagef(err, "accel: allocate device copy of %d bytes", r.region.size())
		}
		r.device = buf
		klog.V(2).Infof("accel: allocated %d device bytes on %s", buf.Size(), dev.Name())
	}
	if err := r.stream.CopyHostToDeviceAsync(r.device, r.region.bytes); err != nil {
		return errors.WithMessage(err, "accel: copy to device")
	}
	if err := r.stream.Synchronize(); err != nil {
		return errors.WithMessage(err, "accel: synchronize after copy to device")
	}
	r.location = LocationDevice
	klog.V(2).Infof("accel: copied %d bytes to device", r.region.size())
	return nil
}

// Storage is an accelerator-backed Storage: a pinned host region mirrored by
// a device buffer. Every transfer completes before the storage reports its new
// location.
//
// A storage returned by NewStorage or NewStorageFrom owns its memory.
// Reshape returns views sharing the memory; releasing a view never frees it.
type Storage[T volume.Float] struct {
	ctx        *Context
	res        *residency
	shape      volume.Shape
	owner      bool
	released   bool
	workspaces *workspaceSet
}

var _ volume.Storage[float32] = (*Storage[float32])(nil)

// NewStorage allocates a zero-filled storage on ctx, or on Default() when ctx
// is nil. The shape must be resolved.
func NewStorage[T volume.Float](ctx *Context, shape volume.Shape) (*Storage[T], error) {
	if !shape.IsResolved() {
		return nil, errors.Wrapf(volume.ErrDimension, "accel storage: shape %v has an unknown dimension", shape)
	}
	ctx = orDefault(ctx)

	region, err := allocateRegion(ctx.memory, shape.TotalLength(), volume.SizeOf[T]())
	if err != nil {
		return nil, err
	}
	res := &residency{ctx: ctx, stream: ctx.device.NewStream(), region: region, location: LocationHost}
	runtime.SetFinalizer(res, finalizeResidency)

	return &Storage[T]{ctx: ctx, res: res, shape: shape, owner: true}, nil
}

// NewStorageFrom allocates a storage holding a copy of values. An Unknown
// dimension is inferred from len(values).
func NewStorageFrom[T volume.Float](ctx *Context, values []T, shape volume.Shape) (*Storage[T], error) {
	resolved, err := shape.Resolve(len(values))
	if err != nil {
		return nil, errors.WithMessage(err, "accel storage")
	}
	s, err := NewStorage[T](ctx, resolved)
	if err != nil {
		return nil, err
	}
	copy(elements[T](s.res.region), values)
	return s, nil
}

// Shape returns the storage shape.
func (s *Storage[T]) Shape() volume.Shape {
	return s.shape
}

// Location returns the authoritative copy.
func (s *Storage[T]) Location() Location {
	s.res.mu.Lock()
	defer s.res.mu.Unlock()
	return s.res.location
}

// IsOwner reports whether releasing s frees the memory.
func (s *Storage[T]) IsOwner() bool {
	return s.owner
}

// ByteCount returns the size of the elements in bytes.
func (s *Storage[T]) ByteCount() int {
	return s.shape.TotalLength() * volume.SizeOf[T]()
}

// Context returns the context the storage was allocated on.
func (s *Storage[T]) Context() *Context {
	return s.ctx
}

// CopyToDevice makes the device copy authoritative, allocating it on first
// use. It is a no-op when the storage is already on the device.
func (s *Storage[T]) CopyToDevice() error {
	s.check()
	s.res.mu.Lock()
	defer s.res.mu.Unlock()
	return s.res.toDevice()
}

// CopyToHost makes the host copy authoritative. It is a no-op when the
// storage is already on the host.
func (s *Storage[T]) CopyToHost() error {
	s.check()
	s.res.mu.Lock()
	defer s.res.mu.Unlock()
	return s.res.toHost()
}

// DeviceBuffer returns the device copy after making it authoritative.
func (s *Storage[T]) DeviceBuffer() (DeviceBuffer, error) {
	if err := s.CopyToDevice(); err != nil {
		return nil, err
	}
	s.res.mu.Lock()
	defer s.res.mu.Unlock()
	return s.res.device, nil
}

// Get returns the element at coords. Panics if the coordinates are out of
// range or the host copy cannot be synchronized.
func (s *Storage[T]) Get(coords ...int) T {
	data := s.mustHost()
	return data[s.flat(coords)]
}

// Set stores value at coords. Panics if the coordinates are out of range or
// the host copy cannot be synchronized.
func (s *Storage[T]) Set(value T, coords ...int) {
	data := s.mustHost()
	data[s.flat(coords)] = value
}

// Map writes f(x) into dst.
func (s *Storage[T]) Map(f func(x T) T, dst volume.Storage[T]) error {
	return volume.ApplyMap(f, s, dst)
}

// MapPair writes f(x, y) into dst.
func (s *Storage[T]) MapPair(f func(x, y T) T, other, dst volume.Storage[T]) error {
	return volume.ApplyMapPair(f, s, other, dst)
}

// Clear zero-fills the authoritative copy; on the device this is a device
// memset and the storage stays there.
func (s *Storage[T]) Clear() error {
	s.check()
	s.res.mu.Lock()
	defer s.res.mu.Unlock()
	if s.res.released {
		return errors.New("accel: storage used after release")
	}

	if s.res.location == LocationDevice {
		if err := s.res.stream.MemsetZeroAsync(s.res.device); err != nil {
			return errors.WithMessage(err, "accel: clear")
		}
		if err := s.res.stream.Synchronize(); err != nil {
			return errors.WithMessage(err, "accel: synchronize after clear")
		}
		return nil
	}
	clear(s.res.region.bytes)
	return nil
}

// ToArray returns a copy of the elements.
func (s *Storage[T]) ToArray() ([]T, error) {
	data, err := s.Data()
	if err != nil {
		return nil, err
	}
	out := make([]T, len(data))
	copy(out, data)
	return out, nil
}

// Data returns the pinned host elements after making them authoritative.
func (s *Storage[T]) Data() ([]T, error) {
	s.check()
	s.res.mu.Lock()
	defer s.res.mu.Unlock()
	if err := s.res.toHost(); err != nil {
		return nil, err
	}
	return elements[T](s.res.region), nil
}

// Reshape returns a view sharing the memory of s under shape.
func (s *Storage[T]) Reshape(shape volume.Shape) (volume.Storage[T], error) {
	s.check()
	resolved, err := shape.Resolve(s.shape.TotalLength())
	if err != nil {
		return nil, errors.WithMessagef(err, "reshape %v", s.shape)
	}
	return &Storage[T]{ctx: s.ctx, res: s.res, shape: resolved}, nil
}

// Workspace returns a device scratch buffer of at least bytes for kind. The
// buffer is allocated on first request, grown when a larger one is asked for
// and freed with the storage.
func (s *Storage[T]) Workspace(kind WorkspaceKind, bytes int) (DeviceBuffer, error) {
	s.check()
	if s.workspaces == nil {
		s.workspaces = newWorkspaceSet(s.ctx.device)
	}
	return s.workspaces.get(kind, bytes)
}

// Release frees the workspaces held by s, and the shared memory when s is the
// owner. Releasing a view whose memory is still live is recorded in
// NotDisposedDueToOwnership. Release is idempotent.
func (s *Storage[T]) Release() error {
	if s.released {
		return nil
	}
	s.released = true

	var firstErr error
	if s.workspaces != nil {
		firstErr = s.workspaces.free()
		s.workspaces = nil
	}

	if s.owner {
		if err := s.res.free(); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}

	s.res.mu.Lock()
	live := !s.res.released
	s.res.mu.Unlock()
	if live {
		s.ctx.memory.skipped(int64(s.ByteCount()))
	}
	return firstErr
}

// String describes the storage.
func (s *Storage[T]) String() string {
	role := "view"
	if s.owner {
		role = "owner"
	}
	return fmt.Sprintf("accel.Storage%v(%s, %s)", s.shape, role, s.Location())
}

func (s *Storage[T]) check() {
	if s.released {
		panic(fmt.Sprintf("accel: use of released storage %v", s.shape))
	}
}

func (s *Storage[T]) mustHost() []T {
	data, err := s.Data()
	if err != nil {
		panic(fmt.Sprintf("accel: synchronizing %v: %v", s.shape, err))
	}
	return data
}

func (s *Storage[T]) flat(coords []int) int {
	return s.shape.Offset(coords)
}

// workspaceSet holds the scratch buffers of one storage. It carries its own
// finalizer so a storage dropped without Release still frees them.
type workspaceSet struct {
	device  Device
	buffers map[WorkspaceKind]DeviceBuffer
	freed   bool
}

func newWorkspaceSet(device Device) *workspaceSet {
	w := &workspaceSet{device: device, buffers: make(map[WorkspaceKind]DeviceBuffer)}
	runtime.SetFinalizer(w, finalizeWorkspaces)
	return w
}

func (w *workspaceSet) get(kind WorkspaceKind, bytes int) (DeviceBuffer, error) {
	if buf, ok := w.buffers[kind]; ok {
		if buf.Size() >= bytes {
			return buf, nil
		}
		delete(w.buffers, kind)
		if err := w.device.Free(buf); err != nil {
			return nil, errors.WithMessagef(err, "accel: free %s workspace", kind)
		}
	}

	buf, err := w.device.Allocate(bytes)
	if err != nil {
		return nil, errors.WithMessagef(err, "accel: allocate %s workspace of %d bytes", kind, bytes)
	}
	w.buffers[kind] = buf
	klog.V(2).Infof("accel: %s workspace of %d bytes", kind, bytes)
	return buf, nil
}

// free releases every buffer once and reports the first failure.
func (w *workspaceSet) free() error {
	if w.freed {
		return nil
	}
	w.freed = true

	var firstErr error
	for kind, buf := range w.buffers {
		if err := w.device.Free(buf); err != nil && firstErr == nil {
			firstErr = errors.WithMessagef(err, "accel: free %s workspace", kind)
		}
	}
	w.buffers = nil
	return firstErr
}

func finalizeWorkspaces(w *workspaceSet) {
	if w.freed || len(w.buffers) == 0 {
		return
	}
	klog.Warningf("accel: %d workspace buffers were never released; freeing in finalizer", len(w.buffers))
	if err := w.free(); err != nil {
		klog.Warningf("accel: finalizer: %v", err)
	}
}
