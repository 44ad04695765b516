package iterator

import (
	"container/heap"
	"context"

	"github.com/hummockdb/hummock/internal/sstable"
	"github.com/hummockdb/hummock/pkg/fullkey"
)

// MergeIterator is a min-heap over a fixed set of sources (SST
// iterators, ConcatIterators, shared-buffer EpochIterators), yielding
// their combined entries in ascending full-key order. When two
// sources present equal full keys, the one registered earlier (lower
// index in the sources slice) is ordered first — callers register
// newer data first, so ties surface the newer entry first. Heap
// operations are O(log k) for k live sources; it does not deduplicate
// equal user keys across epochs, since deciding which versions to drop
// is the caller's concern (the read path or the compactor).
type MergeIterator struct {
	sources []ForwardIterator
	h       mergeHeap
	started bool
}

type mergeItem struct {
	idx int
	it  ForwardIterator
}

type mergeHeap []*mergeItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	c := fullkey.Compare(h[i].it.Key(), h[j].it.Key())
	if c != 0 {
		return c < 0
	}
	return h[i].idx < h[j].idx
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(*mergeItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// NewMergeIterator builds a MergeIterator over sources, in tie-break
// priority order (earliest first).
func NewMergeIterator(sources []ForwardIterator) *MergeIterator {
	return &MergeIterator{sources: sources}
}

func (m *MergeIterator) Valid() bool { return len(m.h) > 0 }
func (m *MergeIterator) Key() []byte { return m.h[0].it.Key() }
func (m *MergeIterator) Value() (sstable.Value, error) { return m.h[0].it.Value() }

// Rewind positions every source at its first entry and seeds the
// heap with whichever are non-empty.
func (m *MergeIterator) Rewind(ctx context.Context) error {
	m.started = true
	return m.seed(ctx, func(it ForwardIterator) error { return it.Rewind(ctx) })
}

// Seek positions every source at its first entry >= target and seeds
// the heap with whichever are non-empty.
func (m *MergeIterator) Seek(ctx context.Context, target []byte) error {
	m.started = true
	return m.seed(ctx, func(it ForwardIterator) error { return it.Seek(ctx, target) })
}

func (m *MergeIterator) seed(ctx context.Context, position func(ForwardIterator) error) error {
	m.h = m.h[:0]
	for i, src := range m.sources {
		if err := position(src); err != nil {
			return err
		}
		if src.Valid() {
			m.h = append(m.h, &mergeItem{idx: i, it: src})
		}
	}
	heap.Init(&m.h)
	return nil
}

// Next advances the current minimum source and re-heapifies (or
// drops it from the heap if it's now exhausted).
func (m *MergeIterator) Next(ctx context.Context) error {
	if !m.started {
		panic("iterator: Next called before Rewind or Seek")
	}
	if len(m.h) == 0 {
		return nil
	}
	top := m.h[0]
	if err := top.it.Next(ctx); err != nil {
		return err
	}
	if top.it.Valid() {
		heap.Fix(&m.h, 0)
	} else {
		heap.Pop(&m.h)
	}
	return nil
}
