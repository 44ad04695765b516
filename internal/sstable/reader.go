package sstable

import (
	"context"
	"sort"

	"github.com/hummockdb/hummock/pkg/fullkey"
)

// BlockSource loads and decodes the block at index from whatever
// backs an SST (object store, cache, or a plain in-memory byte
// slice). Implementations may suspend on ctx for a remote fetch.
type BlockSource interface {
	GetBlock(ctx context.Context, index int) (*DecodedBlock, error)
}

// Reader exposes point lookups and iteration over one SST's meta and
// blocks. It does not own the object-store or cache wiring; callers
// supply a BlockSource (the SST store mediates that in the layer
// above this package).
type Reader struct {
	id     ID
	meta   *Meta
	blocks BlockSource
	bloom  *BloomFilter
}

// NewReader wraps a decoded Meta and a BlockSource into a Reader.
func NewReader(id ID, meta *Meta, blocks BlockSource) (*Reader, error) {
	bloom, err := DecodeBloomFilter(meta.Bloom)
	if err != nil {
		return nil, err
	}
	return &Reader{id: id, meta: meta, blocks: blocks, bloom: bloom}, nil
}

// ID returns the SST identifier this reader was opened for.
func (r *Reader) ID() ID { return r.id }

// Meta returns the reader's decoded metadata.
func (r *Reader) Meta() *Meta { return r.meta }

// SmallestKey and LargestKey bound the reader's full-key range.
func (r *Reader) SmallestKey() []byte { return r.meta.SmallestKey }
func (r *Reader) LargestKey() []byte  { return r.meta.LargestKey }

// MayContain reports whether userKey might be present in this SST,
// consulting the bloom filter. A false answer is definitive; a true
// answer requires an actual lookup to confirm.
func (r *Reader) MayContain(userKey []byte) bool {
	return r.bloom.MayContain(userKey)
}

// blockContaining returns the index of the block whose key range may
// hold target: the first block whose LastFullKey is >= target. It
// returns -1 if target is past every block's range.
func (r *Reader) blockContaining(target []byte) int {
	idx := sort.Search(len(r.meta.BlockIndex), func(i int) bool {
		return fullkey.Compare(r.meta.BlockIndex[i].LastFullKey, target) >= 0
	})
	if idx == len(r.meta.BlockIndex) {
		return -1
	}
	return idx
}

// keyAtOffset returns the full key of the entry stored at a restart
// offset within a decoded block. Restart-point entries always store
// the verbatim key (overlap == 0), so this never needs prevKey.
func keyAtOffset(block *DecodedBlock, offset uint32) []byte {
	key, _, _, err := decodeEntryAt(block.Data(), int(offset), nil)
	if err != nil {
		return nil
	}
	return key
}
