package tcp

import "sync/atomic"

// BackpressureController caps the connections a server holds at once.
// Normal capacity is the server's workers plus its queue; connections over
// it are rejected at accept instead of waiting.
//
// Connections served by the record socket are long-lived, so the load is
// a plain in-flight count with no periodic reset.
type BackpressureController struct {
	normalCapacity int64
	currentLoad    atomic.Int64
	rejectedCount  atomic.Int64
}

// NewBackpressureController creates a controller; capacity below 1 is 1.
func NewBackpressureController(normalCapacity int) *BackpressureController {
	if normalCapacity < 1 {
		normalCapacity = 1
	}
	return &BackpressureController{normalCapacity: int64(normalCapacity)}
}

// TryAcquire takes one unit of capacity, or reports false when full.
func (bc *BackpressureController) TryAcquire() bool {
	for {
		cur := bc.currentLoad.Load()
		if cur >= bc.normalCapacity {
			bc.rejectedCount.Add(1)
			return false
		}
		if bc.currentLoad.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release returns one unit taken by TryAcquire.
func (bc *BackpressureController) Release() {
	bc.currentLoad.Add(-1)
}

// GetMetrics returns current backpressure metrics.
func (bc *BackpressureController) GetMetrics() BackpressureMetrics {
	load := bc.currentLoad.Load()
	return BackpressureMetrics{
		NormalCapacity: bc.normalCapacity,
		CurrentLoad:    load,
		RejectedCount:  bc.rejectedCount.Load(),
		Utilization:    float64(load) / float64(bc.normalCapacity) * 100,
	}
}

// BackpressureMetrics provides backpressure statistics.
type BackpressureMetrics struct {
	NormalCapacity int64
	CurrentLoad    int64
	RejectedCount  int64
	Utilization    float64 // percent of normal capacity
}
