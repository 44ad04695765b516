package sstable

import "github.com/cockroachdb/errors"

// Decode/checksum errors are fatal for the affected read;
// KeysOutOfOrder is fatal for the in-flight SST being built (no
// partial SST is ever registered).
var (
	ErrInvalidChecksum   = errors.New("sstable: invalid checksum")
	ErrUnknownCompression = errors.New("sstable: unknown compression algorithm")
	ErrUnknownChecksum    = errors.New("sstable: unknown checksum algorithm")
	ErrMalformedEntry    = errors.New("sstable: malformed entry")
	ErrKeysOutOfOrder    = errors.New("sstable: keys out of order")
	ErrInvalidBlockOffset = errors.New("sstable: invalid block offset")
)
