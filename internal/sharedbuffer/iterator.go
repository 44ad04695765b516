package sharedbuffer

import (
	"context"
	"sort"

	"github.com/hummockdb/hummock/internal/sstable"
	"github.com/hummockdb/hummock/pkg/fullkey"
)

// EpochIterator walks a snapshot of one epoch's entries in ascending
// full-key order, for use alongside SST iterators in a merge iterator
// reading uncommitted state. The snapshot is taken once, at
// construction; writes to the epoch after that are not reflected.
type EpochIterator struct {
	epoch   uint64
	entries []BatchEntry
	pos     int
	started bool
}

// Iterator returns a forward iterator over epoch's current contents.
// The epoch need not be frozen.
func (b *Buffer) Iterator(epoch uint64) *EpochIterator {
	b.mu.RLock()
	es, ok := b.epochs[epoch]
	b.mu.RUnlock()
	if !ok {
		return &EpochIterator{epoch: epoch}
	}

	es.mu.Lock()
	var entries []BatchEntry
	for rec := range es.data.Iterator() {
		entries = append(entries, BatchEntry{UserKey: []byte(rec.Key), Value: rec.Value})
	}
	es.mu.Unlock()

	return &EpochIterator{epoch: epoch, entries: entries}
}

func (it *EpochIterator) Valid() bool { return it.pos >= 0 && it.pos < len(it.entries) }
func (it *EpochIterator) Key() []byte { return fullkey.New(it.entries[it.pos].UserKey, it.epoch) }
func (it *EpochIterator) Value() (sstable.Value, error) { return it.entries[it.pos].Value, nil }

// Rewind positions the iterator at the first entry.
func (it *EpochIterator) Rewind(ctx context.Context) error {
	it.started = true
	it.pos = 0
	return nil
}

// Seek positions the iterator at the first entry whose full key is >=
// target.
func (it *EpochIterator) Seek(ctx context.Context, target []byte) error {
	it.started = true
	it.pos = sort.Search(len(it.entries), func(i int) bool {
		return fullkey.Compare(fullkey.New(it.entries[i].UserKey, it.epoch), target) >= 0
	})
	return nil
}

// Next advances to the following entry.
func (it *EpochIterator) Next(ctx context.Context) error {
	if !it.started {
		panic("sharedbuffer: Next called before Rewind or Seek")
	}
	it.pos++
	return nil
}
