package fwlog

import "sync/atomic"

// FastCounter is a lock-free event counter for hot paths (virtual
// queue push/pop, DMA completions) where routing through slog on
// every event would dominate the cost of the operation itself —
// the same split the original firmware drew between its full
// structured logger and a compact high-frequency counterpart.
type FastCounter struct {
	n atomic.Uint64
}

// Incr increments the counter by one and returns the new value.
func (c *FastCounter) Incr() uint64 {
	return c.n.Add(1)
}

// Add increments the counter by delta and returns the new value.
func (c *FastCounter) Add(delta uint64) uint64 {
	return c.n.Add(delta)
}

// Load returns the current value.
func (c *FastCounter) Load() uint64 {
	return c.n.Load()
}
