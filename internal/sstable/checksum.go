package sstable

import (
	"hash/crc32"

	"github.com/cespare/xxhash/v2"
)

// ChecksumAlgorithm identifies the hash used to checksum a block or
// meta file's footer. Recorded in Meta so a reader decodes with the
// same algorithm the writer chose; block.go and meta.go both also
// carry a per-footer tag byte, since a reader must know the algorithm
// before it has parsed far enough to look at Meta.
type ChecksumAlgorithm byte

const (
	ChecksumXXHash64 ChecksumAlgorithm = 0
	ChecksumCRC32C   ChecksumAlgorithm = 1
)

// crc32cTable is the Castagnoli polynomial table ("CRC32C"); the
// standard library's crc32 package recognizes this specific table and
// dispatches to a hardware-accelerated (SSE4.2/ARMv8) implementation
// where available, the same way a dedicated CRC32C package would.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// checksumOf computes algo's checksum over data, widened to 64 bits so
// every algorithm shares one on-disk field width (CRC32C's upper 32
// bits are always zero).
func checksumOf(algo ChecksumAlgorithm, data []byte) (uint64, error) {
	switch algo {
	case ChecksumXXHash64:
		return xxhash.Sum64(data), nil
	case ChecksumCRC32C:
		return uint64(crc32.Checksum(data, crc32cTable)), nil
	default:
		return 0, ErrUnknownChecksum
	}
}
