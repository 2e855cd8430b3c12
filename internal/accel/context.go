package accel

import (
	"sync"

	"github.com/born-ml/volume/internal/parallel"
)

// Context binds accelerator storages to one device and one set of memory
// counters.
type Context struct {
	device Device
	memory *MemoryInfo
	par    parallel.Config
}

// Option configures a Context.
type Option func(*Context)

// WithMemoryInfo makes the context count into m instead of fresh counters.
func WithMemoryInfo(m *MemoryInfo) Option {
	return func(c *Context) {
		c.memory = m
	}
}

// WithParallel sets the kernel parallelism of volumes built on the context.
func WithParallel(cfg parallel.Config) Option {
	return func(c *Context) {
		c.par = cfg
	}
}

// NewContext creates a context for device.
func NewContext(device Device, opts ...Option) *Context {
	c := &Context{
		device: device,
		par:    parallel.KernelConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.memory == nil {
		c.memory = &MemoryInfo{}
	}
	return c
}

// Device returns the context device.
func (c *Context) Device() Device {
	return c.device
}

// Memory returns the context counters.
func (c *Context) Memory() *MemoryInfo {
	return c.memory
}

// Parallel returns the kernel parallelism of the context.
func (c *Context) Parallel() parallel.Config {
	return c.par
}

// Close closes the device.
func (c *Context) Close() error {
	return c.device.Close()
}

var (
	defaultOnce    sync.Once
	defaultContext *Context
	processMemory  = &MemoryInfo{}
)

// Default returns the process-wide context on a simulated device. It is
// created on first use and shares the process-wide counters.
func Default() *Context {
	defaultOnce.Do(func() {
		defaultContext = NewContext(NewSimDevice(DefaultSimConfig()), WithMemoryInfo(processMemory))
	})
	return defaultContext
}

// TotalMemoryUsage returns the process-wide pinned memory in bytes.
func TotalMemoryUsage() int64 {
	return processMemory.TotalMemoryUsage()
}

// NotDisposedDueToOwnership returns the process-wide bytes of views released
// while their owner was live.
func NotDisposedDueToOwnership() int64 {
	return processMemory.NotDisposedDueToOwnership()
}

// ProcessMemory returns the process-wide counters.
func ProcessMemory() *MemoryInfo {
	return processMemory
}

func orDefault(ctx *Context) *Context {
	if ctx == nil {
		return Default()
	}
	return ctx
}
