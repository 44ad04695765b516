// Package cache implements Hummock's bounded block cache: a single
// LRU of decoded SST blocks shared by every reader, with single-flight
// fills so concurrent misses for the same block collapse into one
// backing fetch.
package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultCapacity is the default number of blocks held in cache.
const DefaultCapacity = 65536

// MetaBlockIndex is the sentinel block index under which an SST's
// footer/meta block is cached, sharing the same key space as data
// blocks.
const MetaBlockIndex = -1

// Key identifies one cached block.
type Key struct {
	SSTID      uint64 // sstable.ID collapsed to a single comparable value by the caller
	BlockIndex int
}

// Fetcher loads and decodes the block for a cache miss. Returning a
// value of any concrete type is fine; BlockCache does not interpret
// it.
type Fetcher func(ctx context.Context) (any, error)

// BlockCache is a bounded, concurrency-safe LRU keyed by (sst_id,
// block_index). Any concurrent misses for the same key await one
// shared fetch: hashicorp/golang-lru paired with
// golang.org/x/sync/singleflight for exactly this cache-fill pattern.
type BlockCache struct {
	lru    *lru.Cache[Key, any]
	flight singleflight.Group

	hits   atomicCounter
	misses atomicCounter
}

// NewBlockCache creates a BlockCache holding up to capacity entries.
func NewBlockCache(capacity int) (*BlockCache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l, err := lru.New[Key, any](capacity)
	if err != nil {
		return nil, err
	}
	return &BlockCache{lru: l}, nil
}

// GetOrFetch returns the cached value for key, or calls fetch exactly
// once across any number of concurrent callers racing on the same
// key, caching and returning its result.
func (c *BlockCache) GetOrFetch(ctx context.Context, key Key, fetch Fetcher) (any, error) {
	if v, ok := c.lru.Get(key); ok {
		c.hits.add(1)
		return v, nil
	}
	c.misses.add(1)

	flightKey := flightKeyOf(key)
	v, err, _ := c.flight.Do(flightKey, func() (any, error) {
		// Re-check: another goroutine may have populated the cache
		// while we were queued behind the single-flight group.
		if v, ok := c.lru.Get(key); ok {
			return v, nil
		}
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, v)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Peek returns the cached value for key without affecting recency or
// triggering a fetch.
func (c *BlockCache) Peek(key Key) (any, bool) {
	return c.lru.Peek(key)
}

// Insert directly populates the cache, used by callers that already
// fetched a block through some other path (e.g. a Fill write-through
// on SST upload).
func (c *BlockCache) Insert(key Key, v any) {
	c.lru.Add(key, v)
}

// Remove evicts key if present.
func (c *BlockCache) Remove(key Key) {
	c.lru.Remove(key)
}

// Len returns the number of entries currently cached.
func (c *BlockCache) Len() int { return c.lru.Len() }

// Hits and Misses report cumulative GetOrFetch hit and miss counts.
func (c *BlockCache) Hits() uint64   { return c.hits.load() }
func (c *BlockCache) Misses() uint64 { return c.misses.load() }

func flightKeyOf(k Key) string {
	// singleflight.Group keys on string; a block index is bounded well
	// under 2^31 in practice, so a fixed decimal encoding is cheap and
	// collision-free against the sst id.
	buf := make([]byte, 0, 32)
	buf = appendUint(buf, k.SSTID)
	buf = append(buf, '/')
	buf = appendUint(buf, uint64(k.BlockIndex))
	return string(buf)
}

func appendUint(dst []byte, v uint64) []byte {
	if v == 0 {
		return append(dst, '0')
	}
	var tmp [20]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	return append(dst, tmp[i:]...)
}
