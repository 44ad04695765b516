package cache

import "sync/atomic"

// atomicCounter is a plain 64-bit counter, used for cache hit/miss
// bookkeeping instead of a packed, width-limited field.
type atomicCounter struct {
	v atomic.Uint64
}

func (c *atomicCounter) add(n uint64) { c.v.Add(n) }
func (c *atomicCounter) load() uint64 { return c.v.Load() }
