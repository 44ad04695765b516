package sstable

import (
	"encoding/binary"
)

// BlockIndexEntry records one data block's location and the last full
// key it contains.
type BlockIndexEntry struct {
	Offset      int64
	Length      uint32
	LastFullKey []byte
}

// Meta is the decoded form of an SST's meta file: block index, bloom
// filter, overall key range, and size estimate.
type Meta struct {
	BlockIndex    []BlockIndexEntry
	Bloom         []byte
	SmallestKey   []byte
	LargestKey    []byte
	EstimatedSize uint64
	Compression   Compression
	ChecksumAlgorithm ChecksumAlgorithm
}

// encodeMeta serializes a Meta into the on-disk meta-file format: a
// sequence of length-prefixed sections followed by a checksum-algorithm
// tag and a checksum footer, computed with that algorithm over
// everything preceding it.
func encodeMeta(m *Meta) []byte {
	buf := make([]byte, 0, 256+len(m.Bloom)+len(m.SmallestKey)+len(m.LargestKey)+32*len(m.BlockIndex))

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(m.BlockIndex)))
	for _, e := range m.BlockIndex {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Offset))
		buf = binary.LittleEndian.AppendUint32(buf, e.Length)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.LastFullKey)))
		buf = append(buf, e.LastFullKey...)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(m.Bloom)))
	buf = append(buf, m.Bloom...)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(m.SmallestKey)))
	buf = append(buf, m.SmallestKey...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(m.LargestKey)))
	buf = append(buf, m.LargestKey...)

	buf = binary.LittleEndian.AppendUint64(buf, m.EstimatedSize)
	buf = append(buf, byte(m.Compression))
	buf = append(buf, byte(m.ChecksumAlgorithm))

	checksum, err := checksumOf(m.ChecksumAlgorithm, buf)
	if err != nil {
		// m.ChecksumAlgorithm was validated by NewBuilder; reaching here
		// with an unknown value is a programmer error.
		panic(err)
	}
	buf = binary.LittleEndian.AppendUint64(buf, checksum)
	return buf
}

// DecodeMeta parses a meta file previously written by the Builder,
// verifying its trailing checksum first. Exported for the SST store,
// which reads meta bytes back from the object store.
func DecodeMeta(raw []byte) (*Meta, error) { return decodeMeta(raw) }

// decodeMeta parses a meta file previously written by encodeMeta,
// verifying its trailing checksum first.
func decodeMeta(raw []byte) (*Meta, error) {
	if len(raw) < 1+8 {
		return nil, ErrMalformedEntry
	}
	checksumOffset := len(raw) - 8
	wantChecksum := binary.LittleEndian.Uint64(raw[checksumOffset:])

	checksumAlgoOffset := checksumOffset - 1
	checksumAlgo := ChecksumAlgorithm(raw[checksumAlgoOffset])
	gotChecksum, err := checksumOf(checksumAlgo, raw[:checksumOffset])
	if err != nil {
		return nil, err
	}
	if gotChecksum != wantChecksum {
		return nil, ErrInvalidChecksum
	}
	body := raw[:checksumAlgoOffset]

	r := &reader{buf: body}
	m := &Meta{}

	n := r.u32()
	m.BlockIndex = make([]BlockIndexEntry, n)
	for i := range m.BlockIndex {
		offset := int64(r.u64())
		length := r.u32()
		keyLen := r.u32()
		key := r.bytes(int(keyLen))
		if r.err != nil {
			return nil, r.err
		}
		m.BlockIndex[i] = BlockIndexEntry{Offset: offset, Length: length, LastFullKey: key}
	}

	bloomLen := r.u32()
	m.Bloom = r.bytes(int(bloomLen))

	smallestLen := r.u32()
	m.SmallestKey = r.bytes(int(smallestLen))
	largestLen := r.u32()
	m.LargestKey = r.bytes(int(largestLen))

	m.EstimatedSize = r.u64()
	m.Compression = Compression(r.byte())
	m.ChecksumAlgorithm = checksumAlgo

	if r.err != nil {
		return nil, r.err
	}
	return m, nil
}

// reader is a tiny cursor over a byte slice used by decodeMeta; it
// records the first error encountered and becomes a no-op afterward,
// so callers can check r.err once at the end.
type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.buf) {
		r.err = ErrMalformedEntry
		return false
	}
	return true
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

func (r *reader) byte() byte {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.pos]
	r.pos++
	return v
}

func (r *reader) bytes(n int) []byte {
	if n == 0 || !r.need(n) {
		if r.err == nil {
			return nil
		}
		return nil
	}
	v := make([]byte, n)
	copy(v, r.buf[r.pos:r.pos+n])
	r.pos += n
	return v
}
