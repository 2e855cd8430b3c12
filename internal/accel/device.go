// Package accel implements the accelerator storage backend: a pinned host
// region mirrored by a device buffer, host/device synchronization, ownership
// tracking and process-wide memory counters.
package accel

// Location records which copy of an accelerator storage is authoritative.
type Location int

// Storage locations.
const (
	LocationHost Location = iota
	LocationDevice
)

// String returns the location name.
func (l Location) String() string {
	switch l {
	case LocationHost:
		return "host"
	case LocationDevice:
		return "device"
	default:
		return "unknown"
	}
}

// DeviceBuffer is a device-resident allocation.
type DeviceBuffer interface {
	// Size returns the usable size in bytes.
	Size() int
}

// Stream is an ordered queue of asynchronous device operations.
//
// Copies and memsets are only guaranteed to have completed after Synchronize
// returns. Source and destination host slices must stay untouched until then.
type Stream interface {
	// CopyHostToDeviceAsync issues a copy of src into dst.
	CopyHostToDeviceAsync(dst DeviceBuffer, src []byte) error

	// CopyDeviceToHostAsync issues a copy of src into dst.
	CopyDeviceToHostAsync(dst []byte, src DeviceBuffer) error

	// MemsetZeroAsync issues a zero fill of buf.
	MemsetZeroAsync(buf DeviceBuffer) error

	// Synchronize blocks until every operation issued on this stream
	// completed and reports the first failure among them.
	Synchronize() error
}

// Device is the accelerator the storages synchronize with.
//
// The Stream methods of a Device operate on its default stream. Each storage
// issues its transfers on a stream of its own, so goroutines working on
// distinct storages never wait on or observe each other's operations.
type Device interface {
	Stream

	// Name identifies the device.
	Name() string

	// Allocate reserves a device buffer of size bytes.
	Allocate(size int) (DeviceBuffer, error)

	// Free releases a buffer returned by Allocate.
	Free(buf DeviceBuffer) error

	// NewStream creates a stream whose failures are reported only by its
	// own Synchronize.
	NewStream() Stream

	// Close releases the device.
	Close() error
}
