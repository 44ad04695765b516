package iterator

import (
	"context"
	"sort"

	"github.com/hummockdb/hummock/internal/sstable"
	"github.com/hummockdb/hummock/pkg/fullkey"
)

// ConcatIterator concatenates iterators over SSTs with disjoint,
// ascending key ranges (the ordinary arrangement at levels >= 1):
// it advances to the next SST only once the current one is exhausted.
type ConcatIterator struct {
	readers []*sstable.Reader
	idx     int
	cur     *sstable.Iterator
	started bool
}

// NewConcatIterator builds a ConcatIterator over readers, which must
// already be sorted by smallest key and have non-overlapping ranges.
func NewConcatIterator(readers []*sstable.Reader) *ConcatIterator {
	return &ConcatIterator{readers: readers, idx: -1}
}

func (it *ConcatIterator) Valid() bool { return it.cur != nil && it.cur.Valid() }
func (it *ConcatIterator) Key() []byte { return it.cur.Key() }
func (it *ConcatIterator) Value() (sstable.Value, error) { return it.cur.Value() }

// Rewind positions the iterator at the first entry of the first
// non-empty SST.
func (it *ConcatIterator) Rewind(ctx context.Context) error {
	it.started = true
	it.idx = 0
	return it.advanceUntilValid(ctx, func(r *sstable.Iterator) error { return r.Rewind(ctx) })
}

// Seek finds the SST whose range could contain target by binary
// search on largest key, then delegates to its iterator; if target
// falls past every SST's range, the iterator becomes invalid.
func (it *ConcatIterator) Seek(ctx context.Context, target []byte) error {
	it.started = true
	it.idx = sort.Search(len(it.readers), func(i int) bool {
		return fullkey.Compare(it.readers[i].LargestKey(), target) >= 0
	})
	return it.advanceUntilValid(ctx, func(r *sstable.Iterator) error { return r.Seek(ctx, target) })
}

// Next advances within the current SST, hopping to the next one on
// exhaustion.
func (it *ConcatIterator) Next(ctx context.Context) error {
	if !it.started {
		panic("iterator: Next called before Rewind or Seek")
	}
	if it.cur == nil {
		return nil
	}
	if err := it.cur.Next(ctx); err != nil {
		return err
	}
	if it.cur.Valid() {
		return nil
	}
	it.idx++
	return it.advanceUntilValid(ctx, func(r *sstable.Iterator) error { return r.Rewind(ctx) })
}

// advanceUntilValid positions (via position, applied to the first
// iterator it opens) starting at it.idx, opening subsequent readers
// with a plain Rewind until one yields a valid entry or the list is
// exhausted.
func (it *ConcatIterator) advanceUntilValid(ctx context.Context, position func(*sstable.Iterator) error) error {
	first := true
	for it.idx < len(it.readers) {
		cur := sstable.NewIterator(it.readers[it.idx])
		var err error
		if first {
			err = position(cur)
			first = false
		} else {
			err = cur.Rewind(ctx)
		}
		if err != nil {
			return err
		}
		if cur.Valid() {
			it.cur = cur
			return nil
		}
		it.idx++
	}
	it.cur = nil
	return nil
}
