package sstable

import (
	"encoding/binary"
	"sort"

	"github.com/pierrec/lz4/v4"

	"github.com/hummockdb/hummock/pkg/fullkey"
)

// Compression identifies a block's on-disk compression algorithm.
type Compression byte

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
)

// DefaultRestartInterval is the default spacing between restart points.
const DefaultRestartInterval = 16

// blockEntry is one key/value pair staged in a BlockBuilder before
// prefix compression is applied.
type blockEntry struct {
	key   []byte // full key
	value []byte // pre-encoded value bytes (tag + payload)
}

// BlockBuilder accumulates full keys in strictly ascending order,
// emitting a restart-point entry (verbatim key) every RestartInterval
// entries and a prefix-compressed entry otherwise.
type BlockBuilder struct {
	restartInterval int
	compression     Compression
	checksum        ChecksumAlgorithm

	entries []blockEntry
	lastKey []byte
	size    int // approximate uncompressed encoded size so far
}

// NewBlockBuilder creates a BlockBuilder with the given restart
// interval, compression algorithm, and block-checksum algorithm.
func NewBlockBuilder(restartInterval int, compression Compression, checksum ChecksumAlgorithm) *BlockBuilder {
	if restartInterval <= 0 {
		restartInterval = DefaultRestartInterval
	}
	return &BlockBuilder{restartInterval: restartInterval, compression: compression, checksum: checksum}
}

// Empty reports whether no entries have been added yet.
func (b *BlockBuilder) Empty() bool { return len(b.entries) == 0 }

// EntryCount returns the number of entries added so far.
func (b *BlockBuilder) EntryCount() int { return len(b.entries) }

// ApproximateSize returns an estimate of the block's encoded size if
// sealed right now (before compression).
func (b *BlockBuilder) ApproximateSize() int { return b.size }

// Add appends a full key/value entry. Keys must be added in strictly
// ascending order; callers are responsible for surfacing
// ErrKeysOutOfOrder since an out-of-order add is a builder-level
// fatal error for the whole SST.
func (b *BlockBuilder) Add(fullKey []byte, value []byte) {
	isRestart := len(b.entries)%b.restartInterval == 0

	var overlap, diffLen int
	if isRestart {
		overlap, diffLen = 0, len(fullKey)
	} else {
		overlap = commonPrefixLen(b.lastKey, fullKey)
		diffLen = len(fullKey) - overlap
	}

	entry := make([]byte, 0, binary.MaxVarintLen32*3+diffLen+len(value))
	entry = binary.AppendUvarint(entry, uint64(overlap))
	entry = binary.AppendUvarint(entry, uint64(diffLen))
	entry = binary.AppendUvarint(entry, uint64(len(value)))
	entry = append(entry, fullKey[overlap:]...)
	entry = append(entry, value...)

	b.entries = append(b.entries, blockEntry{key: fullKey, value: entry})
	b.lastKey = append(b.lastKey[:0], fullKey...)
	b.size += len(entry)
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// Build finalizes the block: entries, restart-point offset array,
// restart count, optional compression, and a trailer of
// compression byte, uncompressed length, checksum-algorithm byte, and
// the checksum computed with that algorithm.
func (b *BlockBuilder) Build() []byte {
	body := make([]byte, 0, b.size+4*((len(b.entries)/b.restartInterval)+1)+4)
	restarts := make([]uint32, 0, len(b.entries)/b.restartInterval+1)

	for i, e := range b.entries {
		if i%b.restartInterval == 0 {
			restarts = append(restarts, uint32(len(body)))
		}
		body = append(body, e.value...)
	}

	for _, r := range restarts {
		body = binary.LittleEndian.AppendUint32(body, r)
	}
	body = binary.LittleEndian.AppendUint32(body, uint32(len(restarts)))

	uncompressedLen := uint32(len(body))
	payload := body
	algo := b.compression
	if algo == CompressionLZ4 {
		compressed := make([]byte, lz4.CompressBlockBound(len(body)))
		var c lz4.Compressor
		n, err := c.CompressBlock(body, compressed)
		if err != nil || n == 0 || n >= len(body) {
			// Incompressible or failed: fall back to storing uncompressed
			// rather than failing the whole SST.
			algo = CompressionNone
			payload = body
		} else {
			payload = compressed[:n]
		}
	}

	out := make([]byte, 0, len(payload)+1+4+1+8)
	out = append(out, payload...)
	out = append(out, byte(algo))
	out = binary.LittleEndian.AppendUint32(out, uncompressedLen)
	out = append(out, byte(b.checksum))
	checksum, err := checksumOf(b.checksum, out)
	if err != nil {
		// b.checksum was validated when this BlockBuilder was
		// constructed (see NewBuilder); an unknown algorithm here would
		// be a programmer error, not a runtime condition to recover from.
		panic(err)
	}
	out = binary.LittleEndian.AppendUint64(out, checksum)
	return out
}

// DecodedBlock is a parsed, decompressed, checksum-verified block
// ready for lookups and iteration.
type DecodedBlock struct {
	data     []byte // entries payload, after restart array is stripped
	restarts []uint32
}

// DecodeBlock verifies the trailing checksum, decompresses if
// necessary, and parses the restart-point array.
func DecodeBlock(raw []byte) (*DecodedBlock, error) {
	if len(raw) < 1+4+1+8 {
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

	uncompressedLenOffset := checksumAlgoOffset - 4
	uncompressedLen := binary.LittleEndian.Uint32(raw[uncompressedLenOffset:checksumAlgoOffset])
	algo := Compression(raw[uncompressedLenOffset-1])
	compressed := raw[:uncompressedLenOffset-1]

	var body []byte
	switch algo {
	case CompressionNone:
		body = compressed
	case CompressionLZ4:
		body = make([]byte, uncompressedLen)
		n, err := lz4.UncompressBlock(compressed, body)
		if err != nil {
			return nil, ErrMalformedEntry
		}
		body = body[:n]
	default:
		return nil, ErrUnknownCompression
	}

	if len(body) < 4 {
		return nil, ErrMalformedEntry
	}
	nRestarts := binary.LittleEndian.Uint32(body[len(body)-4:])
	restartsStart := len(body) - 4 - int(nRestarts)*4
	if restartsStart < 0 {
		return nil, ErrMalformedEntry
	}

	restarts := make([]uint32, nRestarts)
	for i := range restarts {
		restarts[i] = binary.LittleEndian.Uint32(body[restartsStart+i*4:])
	}

	return &DecodedBlock{data: body[:restartsStart], restarts: restarts}, nil
}

// RestartCount returns the number of restart points in the block.
func (d *DecodedBlock) RestartCount() int { return len(d.restarts) }

// RestartOffset returns the byte offset of the i-th restart point
// within the block's entry data.
func (d *DecodedBlock) RestartOffset(i int) uint32 { return d.restarts[i] }

// SearchRestart returns the index of the restart point whose key is
// the largest one ≤ target, found by binary search comparing target
// against each restart point's verbatim key. keyAt must return the
// full key stored at the restart point with the given data offset.
func (d *DecodedBlock) SearchRestart(target []byte, keyAt func(offset uint32) []byte) int {
	idx := sort.Search(len(d.restarts), func(i int) bool {
		return fullkey.Compare(keyAt(d.restarts[i]), target) > 0
	})
	if idx == 0 {
		return 0
	}
	return idx - 1
}

// Data returns the block's entry-encoded payload (restart array and
// trailer already stripped).
func (d *DecodedBlock) Data() []byte { return d.data }

