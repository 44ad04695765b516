package sstable

import (
	"fmt"
	"testing"

	"github.com/hummockdb/hummock/pkg/fullkey"
)

func buildSingleBlockSST(t *testing.T, opts BuilderOptions, n int) (data []byte, meta *Meta) {
	t.Helper()
	b := NewBuilder(opts)
	for i := 0; i < n; i++ {
		fk := fullkey.New([]byte(fmt.Sprintf("key-%04d", i)), 1)
		payload := []byte(fmt.Sprintf("a redundant, repeatable value for key %d, to give the compressor something to chew on", i))
		if err := b.Add(fk, Value{Kind: KindPut, Payload: payload}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	data, _, meta, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return data, meta
}

func TestBuilderLZ4RoundTrip(t *testing.T) {
	opts := DefaultBuilderOptions()
	opts.Compression = CompressionLZ4
	data, meta := buildSingleBlockSST(t, opts, 200)

	if meta.Compression != CompressionLZ4 {
		t.Fatalf("meta.Compression = %v, want CompressionLZ4", meta.Compression)
	}
	if len(meta.BlockIndex) == 0 {
		t.Fatal("expected at least one block")
	}

	for _, e := range meta.BlockIndex {
		raw := data[e.Offset : e.Offset+int64(e.Length)]
		decoded, err := DecodeBlock(raw)
		if err != nil {
			t.Fatalf("DecodeBlock: %v", err)
		}
		if decoded.RestartCount() == 0 {
			t.Fatal("decoded block has no restart points")
		}
	}
}

func TestBuilderLZ4CorruptedByteIsRejected(t *testing.T) {
	opts := DefaultBuilderOptions()
	opts.Compression = CompressionLZ4
	data, meta := buildSingleBlockSST(t, opts, 200)

	e := meta.BlockIndex[0]
	raw := append([]byte(nil), data[e.Offset:e.Offset+int64(e.Length)]...)

	raw[len(raw)/2] ^= 0xff

	if _, err := DecodeBlock(raw); err != ErrInvalidChecksum {
		t.Fatalf("DecodeBlock on corrupted block: err = %v, want ErrInvalidChecksum", err)
	}
}

func TestBuilderCRC32CRoundTrip(t *testing.T) {
	opts := DefaultBuilderOptions()
	opts.ChecksumAlgorithm = ChecksumCRC32C
	data, meta := buildSingleBlockSST(t, opts, 50)

	if meta.ChecksumAlgorithm != ChecksumCRC32C {
		t.Fatalf("meta.ChecksumAlgorithm = %v, want ChecksumCRC32C", meta.ChecksumAlgorithm)
	}

	for _, e := range meta.BlockIndex {
		raw := data[e.Offset : e.Offset+int64(e.Length)]
		if _, err := DecodeBlock(raw); err != nil {
			t.Fatalf("DecodeBlock: %v", err)
		}
	}
}

func TestBuilderCRC32CCorruptedByteIsRejected(t *testing.T) {
	opts := DefaultBuilderOptions()
	opts.ChecksumAlgorithm = ChecksumCRC32C
	data, meta := buildSingleBlockSST(t, opts, 50)

	e := meta.BlockIndex[0]
	raw := append([]byte(nil), data[e.Offset:e.Offset+int64(e.Length)]...)
	raw[0] ^= 0xff

	if _, err := DecodeBlock(raw); err != ErrInvalidChecksum {
		t.Fatalf("DecodeBlock on corrupted block: err = %v, want ErrInvalidChecksum", err)
	}
}

func TestMetaRoundTripAndCorruption(t *testing.T) {
	opts := DefaultBuilderOptions()
	opts.Compression = CompressionLZ4
	opts.ChecksumAlgorithm = ChecksumCRC32C
	b := NewBuilder(opts)
	if err := b.Add(fullkey.New([]byte("a"), 1), Value{Kind: KindPut, Payload: []byte("v")}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	_, metaBytes, meta, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	decoded, err := decodeMeta(metaBytes)
	if err != nil {
		t.Fatalf("decodeMeta: %v", err)
	}
	if decoded.Compression != CompressionLZ4 || decoded.ChecksumAlgorithm != ChecksumCRC32C {
		t.Fatalf("decoded meta algorithms = (%v, %v), want (LZ4, CRC32C)", decoded.Compression, decoded.ChecksumAlgorithm)
	}
	if len(decoded.SmallestKey) == 0 || fullkey.Compare(decoded.SmallestKey, meta.SmallestKey) != 0 {
		t.Fatalf("decoded SmallestKey mismatch")
	}

	corrupt := append([]byte(nil), metaBytes...)
	corrupt[0] ^= 0xff
	if _, err := decodeMeta(corrupt); err != ErrInvalidChecksum {
		t.Fatalf("decodeMeta on corrupted meta: err = %v, want ErrInvalidChecksum", err)
	}
}

func TestBuilderDefaultUsesNoCompressionAndXXHash64(t *testing.T) {
	opts := DefaultBuilderOptions()
	if opts.Compression != CompressionNone {
		t.Fatalf("default Compression = %v, want CompressionNone", opts.Compression)
	}
	if opts.ChecksumAlgorithm != ChecksumXXHash64 {
		t.Fatalf("default ChecksumAlgorithm = %v, want ChecksumXXHash64", opts.ChecksumAlgorithm)
	}
}
