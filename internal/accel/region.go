package accel

import (
	"math"
	"unsafe"

	"github.com/born-ml/volume/internal/volume"
	"github.com/pkg/errors"
)

// hostRegion is a zeroed, 8-byte aligned host buffer used as the staging side
// of every transfer. Its size is counted in a MemoryInfo while it is live.
type hostRegion struct {
	words  []uint64
	bytes  []byte
	memory *MemoryInfo
	freed  bool
}

func allocateRegion(memory *MemoryInfo, count, elemSize int) (*hostRegion, error) {
	if count < 0 {
		return nil, errors.Wrapf(volume.ErrAllocation, "host region: negative element count %d", count)
	}
	if elemSize <= 0 || count > math.MaxInt/elemSize {
		return nil, errors.Wrapf(volume.ErrAllocation, "host region: %d elements of %d bytes overflow", count, elemSize)
	}
	size := count * elemSize

	r := &hostRegion{memory: memory}
	if size > 0 {
		r.words = make([]uint64, (size+7)/8)
		//nolint:gosec // reinterpreting the aligned word slice as bytes
		r.bytes = unsafe.Slice((*byte)(unsafe.Pointer(&r.words[0])), size)
	}
	memory.allocated(int64(size))
	return r, nil
}

func (r *hostRegion) size() int {
	return len(r.bytes)
}

// release returns the region to the counters; later calls are no-ops.
func (r *hostRegion) release() {
	if r.freed {
		return
	}
	r.freed = true
	r.memory.freed(int64(len(r.bytes)))
	r.words = nil
	r.bytes = nil
}

// elements reinterprets the region as a slice of T.
func elements[T volume.Float](r *hostRegion) []T {
	if len(r.bytes) == 0 {
		return []T{}
	}
	n := len(r.bytes) / volume.SizeOf[T]()
	//nolint:gosec // the region is 8-byte aligned and sized for n elements
	return unsafe.Slice((*T)(unsafe.Pointer(&r.words[0])), n)
}
