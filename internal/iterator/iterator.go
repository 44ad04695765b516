// Package iterator provides the merge and concat iterators that stitch
// together per-SST and shared-buffer iterators into one full-key
// ordered stream, for reads and compaction alike.
package iterator

import (
	"context"

	"github.com/hummockdb/hummock/internal/sstable"
)

// ForwardIterator is the capability every source a merge iterator can
// consume must implement: ascending full-key order, positioning
// before Next, invalid once exhausted. sstable.Iterator,
// sharedbuffer.EpochIterator and this package's own ConcatIterator
// and MergeIterator all satisfy it.
type ForwardIterator interface {
	Rewind(ctx context.Context) error
	Seek(ctx context.Context, target []byte) error
	Next(ctx context.Context) error
	Valid() bool
	Key() []byte
	Value() (sstable.Value, error)
}
