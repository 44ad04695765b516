package sstable

import (
	"bytes"

	"github.com/hummockdb/hummock/pkg/fullkey"
)

// DefaultBlockSize is the default block-sealing threshold.
const DefaultBlockSize = 64 << 10

// DefaultSSTableSize is the default per-SST size budget.
const DefaultSSTableSize = 256 << 20

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	BlockSize         int
	SSTableSize       int
	RestartInterval   int
	Compression       Compression
	ChecksumAlgorithm ChecksumAlgorithm
	BloomFalsePositive float64
	// EstimatedKeys sizes the bloom filter; a rough guess is fine, the
	// filter degrades gracefully (higher false-positive rate) if it
	// undershoots.
	EstimatedKeys uint
}

// DefaultBuilderOptions returns the documented default tuning.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		BlockSize:          DefaultBlockSize,
		SSTableSize:        DefaultSSTableSize,
		RestartInterval:    DefaultRestartInterval,
		Compression:        CompressionNone,
		ChecksumAlgorithm:  ChecksumXXHash64,
		BloomFalsePositive: DefaultBloomFalsePositiveRate,
		EstimatedKeys:      4096,
	}
}

// Builder is fed full keys in strictly ascending order and produces an
// SST's data and meta bytes: accumulate into a current block, seal on
// size threshold, track min/max key, feed a bloom filter, and write a
// separate data/meta file pair.
type Builder struct {
	opts BuilderOptions

	data    bytes.Buffer
	block   *BlockBuilder
	index   []BlockIndexEntry
	bloom   *BloomFilter
	lastKey []byte

	smallestKey []byte
	largestKey  []byte

	sealed bool
}

// NewBuilder creates a Builder with the given options.
func NewBuilder(opts BuilderOptions) *Builder {
	return &Builder{
		opts:  opts,
		block: NewBlockBuilder(opts.RestartInterval, opts.Compression, opts.ChecksumAlgorithm),
		bloom: NewBloomFilter(opts.EstimatedKeys, opts.BloomFalsePositive),
	}
}

// Add appends a full key/value pair. Keys must be added in strictly
// ascending order; an out-of-order key returns ErrKeysOutOfOrder and
// the builder must then be discarded — no partial SST is registered
// on this error.
func (b *Builder) Add(fullKey []byte, value Value) error {
	if b.lastKey != nil && fullkey.Compare(fullKey, b.lastKey) <= 0 {
		return ErrKeysOutOfOrder
	}

	encodedValue := EncodeValue(nil, value)
	b.block.Add(fullKey, encodedValue)

	if b.smallestKey == nil {
		b.smallestKey = append([]byte(nil), fullKey...)
	}
	b.largestKey = append([]byte(nil), fullKey...)
	b.lastKey = b.largestKey

	b.bloom.Add(fullkey.UserKey(fullKey))

	if b.block.ApproximateSize() >= b.opts.BlockSize {
		b.sealBlock()
	}
	return nil
}

// ApproximateSize estimates the SST's total encoded size so far,
// including the pending (unsealed) block. Callers (the shared buffer
// flush path, the compactor's capacity-split builder) use this to
// decide when to roll to a new SST.
func (b *Builder) ApproximateSize() int {
	return b.data.Len() + b.block.ApproximateSize()
}

// ShouldSeal reports whether the builder has reached the configured
// per-SST size budget.
func (b *Builder) ShouldSeal() bool { return b.ApproximateSize() >= b.opts.SSTableSize }

func (b *Builder) sealBlock() {
	if b.block.Empty() {
		return
	}
	offset := int64(b.data.Len())
	encoded := b.block.Build()
	b.data.Write(encoded)

	b.index = append(b.index, BlockIndexEntry{
		Offset:      offset,
		Length:      uint32(len(encoded)),
		LastFullKey: append([]byte(nil), b.lastKey...),
	})
	b.block = NewBlockBuilder(b.opts.RestartInterval, b.opts.Compression, b.opts.ChecksumAlgorithm)
}

// Finish seals any pending block and produces the SST's data and meta
// bytes. Finish must be called exactly once; the Builder must not be
// reused afterward.
func (b *Builder) Finish() (data []byte, meta []byte, info *Meta, err error) {
	if b.sealed {
		return nil, nil, nil, ErrMalformedEntry
	}
	b.sealed = true

	b.sealBlock()

	bloomBytes, err := b.bloom.Encode()
	if err != nil {
		return nil, nil, nil, err
	}

	m := &Meta{
		BlockIndex:        b.index,
		Bloom:             bloomBytes,
		SmallestKey:       b.smallestKey,
		LargestKey:        b.largestKey,
		EstimatedSize:     uint64(b.data.Len()),
		Compression:       b.opts.Compression,
		ChecksumAlgorithm: b.opts.ChecksumAlgorithm,
	}

	return b.data.Bytes(), encodeMeta(m), m, nil
}
