// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package accel provides accelerator-backed volumes.
//
// Accelerator storage keeps a pinned host region mirrored by a device
// buffer and tracks which copy is authoritative. Every transfer is waited
// for before the storage reports its new location, and all memory is
// counted so leaks show up in the diagnostics.
//
// Example:
//
//	import (
//	    "github.com/born-ml/volume/backend/accel"
//	    "github.com/born-ml/volume/volume"
//	)
//
//	func main() {
//	    volume.SetBuilder[float32](accel.NewBuilder[float32](nil))
//
//	    x, _ := volume.CurrentBuilder[float32]().Zeros(volume.MustShape(32, 32, 3, 8))
//	    defer x.Release()
//
//	    fmt.Println(accel.TotalMemoryUsage())
//	}
package accel

import (
	"github.com/born-ml/volume/internal/accel"
	"github.com/born-ml/volume/volume"
)

// Device is the accelerator storages synchronize with.
type Device = accel.Device

// Stream is an ordered queue of asynchronous device operations.
type Stream = accel.Stream

// DeviceBuffer is a device-resident allocation.
type DeviceBuffer = accel.DeviceBuffer

// SimDevice is the in-process accelerator.
type SimDevice = accel.SimDevice

// SimConfig configures a SimDevice.
type SimConfig = accel.SimConfig

// Context binds storages to a device and memory counters.
type Context = accel.Context

// Option configures a Context.
type Option = accel.Option

// MemoryInfo holds the memory counters of a context.
type MemoryInfo = accel.MemoryInfo

// MemoryStats is a snapshot of a MemoryInfo.
type MemoryStats = accel.MemoryStats

// Location records which copy of a storage is authoritative.
type Location = accel.Location

// Storage locations.
const (
	LocationHost   = accel.LocationHost
	LocationDevice = accel.LocationDevice
)

// WorkspaceKind names a convolution scratch buffer.
type WorkspaceKind = accel.WorkspaceKind

// Workspace kinds.
const (
	ConvolutionForward        = accel.ConvolutionForward
	ConvolutionBackwardData   = accel.ConvolutionBackwardData
	ConvolutionBackwardFilter = accel.ConvolutionBackwardFilter
)

// Storage is the accelerator Storage.
type Storage[T volume.Float] = accel.Storage[T]

// Builder allocates accelerator volumes.
type Builder[T volume.Float] = accel.Builder[T]

// Compile-time check that Builder implements volume.Builder.
var _ volume.Builder[float32] = (*Builder[float32])(nil)

// NewSimDevice starts an in-process accelerator.
func NewSimDevice(cfg SimConfig) *SimDevice {
	return accel.NewSimDevice(cfg)
}

// DefaultSimConfig returns an unbounded simulated device configuration.
func DefaultSimConfig() SimConfig {
	return accel.DefaultSimConfig()
}

// OpenDevice opens the hardware accelerator of the platform.
// Returns an error wrapping volume.ErrNotSupported when there is none.
func OpenDevice() (Device, error) {
	return accel.OpenDevice()
}

// NewContext creates a context for device.
func NewContext(device Device, opts ...Option) *Context {
	return accel.NewContext(device, opts...)
}

// WithMemoryInfo makes a context count into m.
func WithMemoryInfo(m *MemoryInfo) Option {
	return accel.WithMemoryInfo(m)
}

// Default returns the process-wide context on a simulated device.
func Default() *Context {
	return accel.Default()
}

// NewBuilder creates a builder on ctx, or on Default() when ctx is nil.
func NewBuilder[T volume.Float](ctx *Context) *Builder[T] {
	return accel.NewBuilder[T](ctx)
}

// NewStorage allocates a zero-filled storage on ctx.
func NewStorage[T volume.Float](ctx *Context, shape volume.Shape) (*Storage[T], error) {
	return accel.NewStorage[T](ctx, shape)
}

// TotalMemoryUsage returns the process-wide pinned memory in bytes.
func TotalMemoryUsage() int64 {
	return accel.TotalMemoryUsage()
}

// NotDisposedDueToOwnership returns the process-wide bytes of views released
// while their owner was live.
func NotDisposedDueToOwnership() int64 {
	return accel.NotDisposedDueToOwnership()
}
