package sstable

import (
	"bytes"

	bloomfilter "github.com/bits-and-blooms/bloom/v3"
)

// DefaultBloomFalsePositiveRate is the default target false-positive
// rate for an SST's bloom filter.
const DefaultBloomFalsePositiveRate = 0.1

// BloomFilter wraps bits-and-blooms/bloom over user keys only (the
// epoch suffix is stripped before adding or testing a key).
type BloomFilter struct {
	filter *bloomfilter.BloomFilter
}

// NewBloomFilter sizes a filter for expectedKeys entries at the given
// target false-positive rate.
func NewBloomFilter(expectedKeys uint, falsePositiveRate float64) *BloomFilter {
	if expectedKeys == 0 {
		expectedKeys = 1
	}
	if falsePositiveRate <= 0 {
		falsePositiveRate = 1e-9
	}
	return &BloomFilter{filter: bloomfilter.NewWithEstimates(expectedKeys, falsePositiveRate)}
}

// Add registers a user key.
func (b *BloomFilter) Add(userKey []byte) { b.filter.Add(userKey) }

// MayContain reports whether userKey is possibly present. It never
// returns false for a key that was previously Add-ed.
func (b *BloomFilter) MayContain(userKey []byte) bool { return b.filter.Test(userKey) }

// Encode serializes the filter for storage in the SST meta file.
func (b *BloomFilter) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := b.filter.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeBloomFilter parses a filter previously written by Encode.
func DecodeBloomFilter(b []byte) (*BloomFilter, error) {
	filter := &bloomfilter.BloomFilter{}
	if _, err := filter.ReadFrom(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return &BloomFilter{filter: filter}, nil
}
