package sharedbuffer

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/hummockdb/hummock/internal/cache"
	"github.com/hummockdb/hummock/internal/objectstore"
	"github.com/hummockdb/hummock/internal/sstable"
	"github.com/hummockdb/hummock/internal/sstablestore"
)

func newTestStore(t *testing.T) *sstablestore.Store {
	t.Helper()
	blockCache, err := cache.NewBlockCache(64)
	if err != nil {
		t.Fatalf("NewBlockCache: %v", err)
	}
	return sstablestore.NewStore(objectstore.NewMemStore(), blockCache, "hummock", nil)
}

func TestWriteBatchLastWriteWinsWithinEpoch(t *testing.T) {
	b := New()
	err := b.WriteBatch(1, []BatchEntry{
		{UserKey: []byte("a"), Value: sstable.Value{Kind: sstable.KindPut, Payload: []byte("v1")}},
		{UserKey: []byte("a"), Value: sstable.Value{Kind: sstable.KindPut, Payload: []byte("v2")}},
	})
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	v, ok := b.Read([]byte("a"), 1)
	if !ok {
		t.Fatal("expected a hit")
	}
	if string(v.Payload) != "v2" {
		t.Fatalf("got %q, want v2", v.Payload)
	}
}

func TestReadConsultsHighestEpochFirst(t *testing.T) {
	b := New()
	must(t, b.WriteBatch(1, []BatchEntry{{UserKey: []byte("k"), Value: sstable.Value{Kind: sstable.KindPut, Payload: []byte("old")}}}))
	must(t, b.WriteBatch(2, []BatchEntry{{UserKey: []byte("k"), Value: sstable.Value{Kind: sstable.KindPut, Payload: []byte("new")}}}))

	v, ok := b.Read([]byte("k"), 5)
	if !ok || string(v.Payload) != "new" {
		t.Fatalf("got %+v, want new", v)
	}

	v, ok = b.Read([]byte("k"), 1)
	if !ok || string(v.Payload) != "old" {
		t.Fatalf("snapshot at epoch 1 got %+v, want old", v)
	}
}

func TestReadSeesDeleteTombstone(t *testing.T) {
	b := New()
	must(t, b.WriteBatch(1, []BatchEntry{{UserKey: []byte("k"), Value: sstable.Value{Kind: sstable.KindPut, Payload: []byte("v")}}}))
	must(t, b.WriteBatch(2, []BatchEntry{{UserKey: []byte("k"), Value: sstable.Value{Kind: sstable.KindDelete}}}))

	v, ok := b.Read([]byte("k"), 2)
	if !ok {
		t.Fatal("expected the tombstone to be a hit, not a miss")
	}
	if !v.IsDelete() {
		t.Fatal("expected a Delete tombstone")
	}
}

func TestWriteBatchRejectsFrozenEpoch(t *testing.T) {
	b := New()
	must(t, b.WriteBatch(1, []BatchEntry{{UserKey: []byte("k"), Value: sstable.Value{Kind: sstable.KindPut, Payload: []byte("v")}}}))

	es := b.stateFor(1)
	es.mu.Lock()
	es.frozen = true
	es.mu.Unlock()

	err := b.WriteBatch(1, []BatchEntry{{UserKey: []byte("k2"), Value: sstable.Value{Kind: sstable.KindPut, Payload: []byte("v2")}}})
	if err == nil {
		t.Fatal("expected WriteBatch against a frozen epoch to fail")
	}
	if !errors.Is(err, ErrEpochFrozen) {
		t.Fatalf("got %v, want ErrEpochFrozen", err)
	}
}

func TestSyncProducesReadableSST(t *testing.T) {
	b := New()
	for i := 0; i < 40; i++ {
		must(t, b.WriteBatch(7, []BatchEntry{{UserKey: []byte(keyN(i)), Value: sstable.Value{Kind: sstable.KindPut, Payload: []byte(keyN(i))}}}))
	}

	store := newTestStore(t)
	opts := sstable.DefaultBuilderOptions()
	opts.BlockSize = 64
	opts.SSTableSize = 512
	var seq uint64
	nextID := func() sstable.ID { seq++; return sstable.ID{NodeID: 9, SeqID: seq} }

	tables, err := b.Sync(context.Background(), 7, store, opts, nextID, sstablestore.Fill)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(tables) == 0 {
		t.Fatal("expected at least one SST from a non-empty epoch")
	}

	ctx := context.Background()
	var total int
	for _, table := range tables {
		reader, err := store.Reader(ctx, table.ID, sstablestore.Fill)
		if err != nil {
			t.Fatalf("Reader: %v", err)
		}
		it := sstable.NewIterator(reader)
		if err := it.Rewind(ctx); err != nil {
			t.Fatalf("Rewind: %v", err)
		}
		for it.Valid() {
			total++
			if err := it.Next(ctx); err != nil {
				t.Fatalf("Next: %v", err)
			}
		}
	}
	if total != 40 {
		t.Fatalf("read back %d entries across %d SSTs, want 40", total, len(tables))
	}
}

func TestOpenReplaysUnsyncedEpoch(t *testing.T) {
	dir := t.TempDir()

	b1, w1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	must(t, b1.WriteBatch(3, []BatchEntry{
		{UserKey: []byte("a"), Value: sstable.Value{Kind: sstable.KindPut, Payload: []byte("v1")}},
		{UserKey: []byte("b"), Value: sstable.Value{Kind: sstable.KindPut, Payload: []byte("v2")}},
	}))
	if err := w1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b2, w2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer w2.Close()

	v, ok := b2.Read([]byte("a"), 3)
	if !ok || string(v.Payload) != "v1" {
		t.Fatalf("got %+v, ok=%v, want v1", v, ok)
	}
	v, ok = b2.Read([]byte("b"), 3)
	if !ok || string(v.Payload) != "v2" {
		t.Fatalf("got %+v, ok=%v, want v2", v, ok)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func keyN(i int) string {
	const digits = "0123456789"
	s := []byte("key-0000")
	for p := len(s) - 1; i > 0; p-- {
		s[p] = digits[i%10]
		i /= 10
	}
	return string(s)
}
