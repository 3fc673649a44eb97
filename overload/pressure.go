package overload

import (
	goruntime "runtime"
)

// HeapPressureSource reports heap usage of the running process against a
// fixed byte limit.
type HeapPressureSource struct {
	// LimitBytes is the heap size treated as pressure 1.0.
	LimitBytes uint64
}

// Pressure returns heap-allocated bytes over the limit, capped at 1.
func (h *HeapPressureSource) Pressure() float64 {
	var stats goruntime.MemStats

	goruntime.ReadMemStats(&stats)

	pressure := float64(stats.HeapAlloc) / float64(h.LimitBytes)
	if pressure > 1 {
		pressure = 1
	}

	return pressure
}
