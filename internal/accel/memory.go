package accel

import (
	"fmt"
	"sync/atomic"
)

// MemoryInfo counts pinned host memory. All counters are safe for concurrent
// use.
type MemoryInfo struct {
	totalMemoryUsage          atomic.Int64
	peakMemoryUsage           atomic.Int64
	liveRegions               atomic.Int64
	notDisposedDueToOwnership atomic.Int64
}

// MemoryStats is a point-in-time copy of a MemoryInfo.
type MemoryStats struct {
	TotalMemoryUsage          int64
	PeakMemoryUsage           int64
	LiveRegions               int64
	NotDisposedDueToOwnership int64
}

// String formats the statistics for diagnostics output.
func (s MemoryStats) String() string {
	return fmt.Sprintf("total=%d peak=%d regions=%d not-disposed=%d",
		s.TotalMemoryUsage, s.PeakMemoryUsage, s.LiveRegions, s.NotDisposedDueToOwnership)
}

// TotalMemoryUsage returns the bytes held by live pinned regions.
func (m *MemoryInfo) TotalMemoryUsage() int64 {
	return m.totalMemoryUsage.Load()
}

// NotDisposedDueToOwnership returns the bytes of views that were released
// while their owner still held the memory.
func (m *MemoryInfo) NotDisposedDueToOwnership() int64 {
	return m.notDisposedDueToOwnership.Load()
}

// Snapshot returns the current counters.
func (m *MemoryInfo) Snapshot() MemoryStats {
	return MemoryStats{
		TotalMemoryUsage:          m.totalMemoryUsage.Load(),
		PeakMemoryUsage:           m.peakMemoryUsage.Load(),
		LiveRegions:               m.liveRegions.Load(),
		NotDisposedDueToOwnership: m.notDisposedDueToOwnership.Load(),
	}
}

func (m *MemoryInfo) allocated(bytes int64) {
	total := m.totalMemoryUsage.Add(bytes)
	m.liveRegions.Add(1)
	for {
		peak := m.peakMemoryUsage.Load()
		if total <= peak || m.peakMemoryUsage.CompareAndSwap(peak, total) {
			return
		}
	}
}

func (m *MemoryInfo) freed(bytes int64) {
	m.totalMemoryUsage.Add(-bytes)
	m.liveRegions.Add(-1)
}

func (m *MemoryInfo) skipped(bytes int64) {
	m.notDisposedDueToOwnership.Add(bytes)
}
