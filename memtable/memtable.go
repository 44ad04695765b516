// Package memtable holds one epoch's uncommitted writes in key order:
// an ordered map from user key to the latest value (or delete
// tombstone) written for it, backed by a google/btree.BTree so lookup,
// insert, and in-order iteration are all O(log n) / amortized O(1) per
// step without a bespoke ordered-structure implementation.
package memtable

import (
	"iter"

	"github.com/google/btree"

	"github.com/hummockdb/hummock/internal/sstable"
)

// degree is the branching factor passed to btree.New. 32 keeps node
// depth shallow for the batch sizes a single epoch typically holds
// without the rebalancing cost of a much wider tree.
const degree = 32

// Record is one user key and the value (possibly a delete tombstone)
// currently recorded for it.
type Record struct {
	Key   string
	Value sstable.Value
}

func (r Record) Less(than btree.Item) bool {
	return r.Key < than.(Record).Key
}

// Memtable is an ordered, mutable map from user key to Value, used as
// the per-epoch buffer a shared-buffer epoch accumulates writes into
// before it is sealed and flushed to an SST.
type Memtable struct {
	tree *btree.BTree
	size int
}

// New returns an empty Memtable.
func New() *Memtable {
	return &Memtable{tree: btree.New(degree)}
}

// Put records value for key, overwriting any value already recorded
// for it.
func (m *Memtable) Put(key string, value sstable.Value) {
	if m.tree.ReplaceOrInsert(Record{Key: key, Value: value}) == nil {
		m.size++
	}
}

// Get returns the value recorded for key, if any.
func (m *Memtable) Get(key string) (sstable.Value, bool) {
	item := m.tree.Get(Record{Key: key})
	if item == nil {
		return sstable.Value{}, false
	}
	return item.(Record).Value, true
}

// Delete removes key's recorded value entirely (distinct from
// recording a delete tombstone via Put, which keeps the key present so
// a later read at an earlier epoch still sees it).
func (m *Memtable) Delete(key string) {
	if m.tree.Delete(Record{Key: key}) != nil {
		m.size--
	}
}

// Len returns the number of distinct keys currently recorded.
func (m *Memtable) Len() int { return m.size }

// Iterator walks every record in ascending key order.
func (m *Memtable) Iterator() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		m.tree.Ascend(func(item btree.Item) bool {
			return yield(item.(Record))
		})
	}
}
