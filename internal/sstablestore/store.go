// Package sstablestore mediates between the object store and the
// block cache: every SST read or write funnels through here so that
// callers never talk to the object store directly.
package sstablestore

import (
	"context"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hummockdb/hummock/internal/cache"
	"github.com/hummockdb/hummock/internal/objectstore"
	"github.com/hummockdb/hummock/internal/sstable"
)

// CachePolicy controls whether a read or write touches the block
// cache.
type CachePolicy int

const (
	// Fill uses the cache on hit and populates it on miss.
	Fill CachePolicy = iota
	// NotFill uses the cache on hit but never populates it.
	NotFill
	// Disable bypasses the cache entirely.
	Disable
)

// Store is the C5 SST store: put/get_block/get_meta against an
// objectstore.Store, warmed through an internal/cache.BlockCache.
type Store struct {
	objects objectstore.Store
	cache   *cache.BlockCache
	root    string
	log     *zap.Logger

	blockHits   prometheus.Counter
	blockMisses prometheus.Counter
}

// NewStore creates a Store rooted at root (the object-store prefix
// under which every SST's data/meta pair lives).
func NewStore(objects objectstore.Store, blockCache *cache.BlockCache, root string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		objects: objects,
		cache:   blockCache,
		root:    root,
		log:     log.Named("sstable_store"),
		blockHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hummock_block_cache_hits_total",
			Help: "Block cache hits served by the SST store.",
		}),
		blockMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hummock_block_cache_misses_total",
			Help: "Block cache misses served by the SST store.",
		}),
	}
}

// Put uploads data and metaBytes for id, then conditionally warms the
// block cache with meta and with every block decoded from data at the
// ranges meta's block index gives (Fill), or
// leaves the cache untouched (NotFill/Disable). On a meta-write
// failure after the data write succeeded, the data blob is removed
// best-effort so a partial SST is never left registered.
func (s *Store) Put(ctx context.Context, id sstable.ID, data, metaBytes []byte, meta *sstable.Meta, policy CachePolicy) error {
	if err := s.objects.Put(ctx, id.DataPath(s.root), data); err != nil {
		return errors.Wrapf(err, "sstable_store: put data %s", id)
	}
	if err := s.objects.Put(ctx, id.MetaPath(s.root), metaBytes); err != nil {
		if delErr := s.objects.Delete(ctx, id.DataPath(s.root)); delErr != nil {
			s.log.Warn("failed to clean up orphaned data blob after meta write failure",
				zap.Stringer("sst_id", id), zap.Error(delErr))
		}
		return errors.Wrapf(err, "sstable_store: put meta %s", id)
	}

	if policy == Fill {
		s.cache.Insert(s.metaKey(id), meta)
		for i, e := range meta.BlockIndex {
			raw := data[e.Offset : e.Offset+int64(e.Length)]
			block, err := sstable.DecodeBlock(raw)
			if err != nil {
				s.log.Warn("failed to warm block cache from freshly written SST",
					zap.Stringer("sst_id", id), zap.Int("block_index", i), zap.Error(err))
				continue
			}
			s.cache.Insert(s.blockKey(id, i), block)
		}
	}
	return nil
}

// GetMeta returns id's decoded metadata, consulting the cache per
// policy.
func (s *Store) GetMeta(ctx context.Context, id sstable.ID, policy CachePolicy) (*sstable.Meta, error) {
	key := s.metaKey(id)

	switch policy {
	case Disable:
		return s.fetchMeta(ctx, id)
	case NotFill:
		if v, ok := s.cache.Peek(key); ok {
			s.blockHits.Inc()
			return v.(*sstable.Meta), nil
		}
		s.blockMisses.Inc()
		return s.fetchMeta(ctx, id)
	default: // Fill
		v, err := s.cache.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
			return s.fetchMeta(ctx, id)
		})
		if err != nil {
			return nil, err
		}
		return v.(*sstable.Meta), nil
	}
}

func (s *Store) fetchMeta(ctx context.Context, id sstable.ID) (*sstable.Meta, error) {
	raw, err := s.objects.Read(ctx, id.MetaPath(s.root), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "sstable_store: read meta %s", id)
	}
	meta, err := sstable.DecodeMeta(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "sstable_store: decode meta %s", id)
	}
	return meta, nil
}

// GetBlock returns the decoded block at blockIndex for id, consulting
// the cache per policy and deriving the byte range to read from
// meta's block index on a miss.
func (s *Store) GetBlock(ctx context.Context, id sstable.ID, meta *sstable.Meta, blockIndex int, policy CachePolicy) (*sstable.DecodedBlock, error) {
	key := s.blockKey(id, blockIndex)

	switch policy {
	case Disable:
		return s.fetchBlock(ctx, id, meta, blockIndex)
	case NotFill:
		if v, ok := s.cache.Peek(key); ok {
			s.blockHits.Inc()
			return v.(*sstable.DecodedBlock), nil
		}
		s.blockMisses.Inc()
		return s.fetchBlock(ctx, id, meta, blockIndex)
	default: // Fill
		v, err := s.cache.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
			return s.fetchBlock(ctx, id, meta, blockIndex)
		})
		if err != nil {
			return nil, err
		}
		return v.(*sstable.DecodedBlock), nil
	}
}

func (s *Store) fetchBlock(ctx context.Context, id sstable.ID, meta *sstable.Meta, blockIndex int) (*sstable.DecodedBlock, error) {
	if blockIndex < 0 || blockIndex >= len(meta.BlockIndex) {
		return nil, errors.Wrapf(sstable.ErrInvalidBlockOffset, "sstable_store: block %d of %s", blockIndex, id)
	}
	e := meta.BlockIndex[blockIndex]
	raw, err := s.objects.Read(ctx, id.DataPath(s.root), &objectstore.Range{Offset: e.Offset, Length: int64(e.Length)})
	if err != nil {
		return nil, errors.Wrapf(err, "sstable_store: read block %d of %s", blockIndex, id)
	}
	block, err := sstable.DecodeBlock(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "sstable_store: decode block %d of %s", blockIndex, id)
	}
	return block, nil
}

// Reader opens a sstable.Reader backed by this store, consulting the
// cache per policy for every block it subsequently loads.
func (s *Store) Reader(ctx context.Context, id sstable.ID, policy CachePolicy) (*sstable.Reader, error) {
	meta, err := s.GetMeta(ctx, id, policy)
	if err != nil {
		return nil, err
	}
	src := &storeBlockSource{store: s, id: id, meta: meta, policy: policy}
	return sstable.NewReader(id, meta, src)
}

// Delete removes id's data and meta blobs and evicts its cached meta.
// Cached data blocks of id are not evicted; they stay in the LRU until
// displaced.
func (s *Store) Delete(ctx context.Context, id sstable.ID) error {
	if err := s.objects.Delete(ctx, id.DataPath(s.root)); err != nil {
		return errors.Wrapf(err, "sstable_store: delete data %s", id)
	}
	if err := s.objects.Delete(ctx, id.MetaPath(s.root)); err != nil {
		return errors.Wrapf(err, "sstable_store: delete meta %s", id)
	}
	s.cache.Remove(s.metaKey(id))
	return nil
}

func (s *Store) sstIDKey(id sstable.ID) uint64 {
	return xxhash.Sum64String(id.String())
}

func (s *Store) metaKey(id sstable.ID) cache.Key {
	return cache.Key{SSTID: s.sstIDKey(id), BlockIndex: cache.MetaBlockIndex}
}

func (s *Store) blockKey(id sstable.ID, blockIndex int) cache.Key {
	return cache.Key{SSTID: s.sstIDKey(id), BlockIndex: blockIndex}
}

// storeBlockSource adapts Store into sstable.BlockSource for one
// opened SST.
type storeBlockSource struct {
	store  *Store
	id     sstable.ID
	meta   *sstable.Meta
	policy CachePolicy
}

func (b *storeBlockSource) GetBlock(ctx context.Context, index int) (*sstable.DecodedBlock, error) {
	return b.store.GetBlock(ctx, b.id, b.meta, index, b.policy)
}
