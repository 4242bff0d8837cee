// Package memtrack implements the storage engine's atomic memory
// accountant: every shard registers its estimated footprint here, and the
// engine periodically reconciles the running total against ground truth.
package memtrack

import "sync/atomic"

// Tracker is a compare-and-swap memory accountant with a configured cap, a
// high-water mark, and a pressure signal. Memory pressure is observable
// but deliberately not enforced on inserts: TryAllocate lets callers gate
// admission themselves, but Tracker never blocks a write.
type Tracker struct {
	capBytes    int64
	used        atomic.Int64
	highWater   atomic.Int64
	pressurePct float64
}

// New creates a Tracker with the given capacity in bytes. pressurePct is
// the fraction of capacity (0, 1] above which Pressure reports true;
// defaults to 0.8 if out of range.
func New(capBytes int64, pressurePct float64) *Tracker {
	if pressurePct <= 0 || pressurePct > 1 {
		pressurePct = 0.8
	}
	return &Tracker{capBytes: capBytes, pressurePct: pressurePct}
}

// Used returns the currently accounted byte total.
func (t *Tracker) Used() int64 { return t.used.Load() }

// Cap returns the configured byte capacity.
func (t *Tracker) Cap() int64 { return t.capBytes }

// HighWaterMark returns the highest Used value ever observed.
func (t *Tracker) HighWaterMark() int64 { return t.highWater.Load() }

// Pressure reports whether usage currently exceeds the configured
// pressure threshold.
func (t *Tracker) Pressure() bool {
	if t.capBytes <= 0 {
		return false
	}
	return float64(t.used.Load()) > float64(t.capBytes)*t.pressurePct
}

// Release decrements the accounted total by n bytes (e.g. when a shard is
// dropped on expiry). Never goes below zero.
func (t *Tracker) Release(n int64) {
	for {
		cur := t.used.Load()
		next := cur - n
		if next < 0 {
			next = 0
		}
		if t.used.CompareAndSwap(cur, next) {
			return
		}
	}
}

// TryAllocate attempts to account for n additional bytes via
// compare-and-swap. It always succeeds and returns true: memory pressure
// is observable (see Pressure) but is never enforced as an admission
// gate, per the documented limitation that inserts are not refused when
// the cap is exceeded. The boolean return is kept for callers that choose
// to treat pressure as a soft gate themselves.
func (t *Tracker) TryAllocate(n int64) bool {
	for {
		cur := t.used.Load()
		next := cur + n
		if t.used.CompareAndSwap(cur, next) {
			t.bumpHighWater(next)
			return true
		}
	}
}

func (t *Tracker) bumpHighWater(v int64) {
	for {
		cur := t.highWater.Load()
		if v <= cur {
			return
		}
		if t.highWater.CompareAndSwap(cur, v) {
			return
		}
	}
}

// SyncMemory overwrites the accounted total with actual, computed from
// ground truth (e.g. summing every live shard's MemoryUsage). This
// corrects drift accumulated from estimates made at insert time.
func (t *Tracker) SyncMemory(actual int64) {
	t.used.Store(actual)
	t.bumpHighWater(actual)
}
