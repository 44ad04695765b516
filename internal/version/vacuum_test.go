package version

import (
	"context"
	"testing"
	"time"

	"github.com/hummockdb/hummock/internal/cache"
	"github.com/hummockdb/hummock/internal/compaction"
	"github.com/hummockdb/hummock/internal/objectstore"
	"github.com/hummockdb/hummock/internal/sstable"
	"github.com/hummockdb/hummock/internal/sstablestore"
)

func newTestVacuumStore(t *testing.T) (*sstablestore.Store, objectstore.Store) {
	t.Helper()
	objs := objectstore.NewMemStore()
	blockCache, err := cache.NewBlockCache(64)
	if err != nil {
		t.Fatalf("NewBlockCache: %v", err)
	}
	return sstablestore.NewStore(objs, blockCache, "hummock", nil), objs
}

func putFakeSST(t *testing.T, objs objectstore.Store, root string, id sstable.ID) {
	t.Helper()
	ctx := context.Background()
	if err := objs.Put(ctx, id.DataPath(root), []byte("data")); err != nil {
		t.Fatalf("put data: %v", err)
	}
	if err := objs.Put(ctx, id.MetaPath(root), []byte("meta")); err != nil {
		t.Fatalf("put meta: %v", err)
	}
}

func TestVacuumVersionMetadataDeletesOnlyDeadStaleSSTs(t *testing.T) {
	store, objs := newTestVacuumStore(t)
	m := NewManager(1)

	live := sstable.ID{SeqID: 1}
	dead := sstable.ID{SeqID: 2}
	putFakeSST(t, objs, "hummock", live)
	putFakeSST(t, objs, "hummock", dead)

	if _, err := m.AddTables([]compaction.SSTInfo{{ID: live}}, 1); err != nil {
		t.Fatalf("AddTables: %v", err)
	}
	// Simulate dead having been superseded by a prior compaction.
	m.stale = append(m.stale, compaction.SSTInfo{ID: dead})

	v := NewVacuum(m, store, objs, "hummock", nil)
	if err := v.VacuumVersionMetadata(context.Background()); err != nil {
		t.Fatalf("VacuumVersionMetadata: %v", err)
	}

	ctx := context.Background()
	if _, err := objs.Read(ctx, dead.DataPath("hummock"), nil); err == nil {
		t.Fatalf("dead SST's data blob should have been deleted")
	}
	if _, err := objs.Read(ctx, live.DataPath("hummock"), nil); err != nil {
		t.Fatalf("live SST's data blob must survive: %v", err)
	}
	if len(m.StaleSSTs()) != 0 {
		t.Fatalf("stale list should be empty after vacuum clears it")
	}
}

func TestVacuumVersionMetadataSkipsWhenOtherVersionPinned(t *testing.T) {
	store, objs := newTestVacuumStore(t)
	m := NewManager(1)

	dead := sstable.ID{SeqID: 1}
	putFakeSST(t, objs, "hummock", dead)
	m.stale = append(m.stale, compaction.SSTInfo{ID: dead})

	// Fabricate a pin on some other version id.
	m.versionPins[999] = &pin{contexts: map[string]struct{}{"reader": {}}}

	v := NewVacuum(m, store, objs, "hummock", nil)
	if err := v.VacuumVersionMetadata(context.Background()); err != nil {
		t.Fatalf("VacuumVersionMetadata: %v", err)
	}
	if len(m.StaleSSTs()) != 1 {
		t.Fatalf("vacuum must not run while another version is pinned")
	}
}

func TestRunFullGCIgnoresRecentBlobsRegardlessOfLiveness(t *testing.T) {
	store, objs := newTestVacuumStore(t)
	m := NewManager(1)

	orphan := sstable.ID{SeqID: 1}
	known := sstable.ID{SeqID: 2}
	putFakeSST(t, objs, "hummock", orphan)
	putFakeSST(t, objs, "hummock", known)

	if _, err := m.AddTables([]compaction.SSTInfo{{ID: known}}, 1); err != nil {
		t.Fatalf("AddTables: %v", err)
	}

	v := NewVacuum(m, store, objs, "hummock", nil)
	deleted, err := v.RunFullGC(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("RunFullGC: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("freshly written blobs are younger than the retention window; got %d deleted", deleted)
	}

	ctx := context.Background()
	if _, err := objs.Read(ctx, orphan.DataPath("hummock"), nil); err != nil {
		t.Fatalf("orphan blob should still be present before its retention window elapses: %v", err)
	}
}

func TestRunFullGCDeletesUnknownBlobsPastRetention(t *testing.T) {
	store, objs := newTestVacuumStore(t)
	m := NewManager(1)

	orphan := sstable.ID{SeqID: 1}
	known := sstable.ID{SeqID: 2}
	putFakeSST(t, objs, "hummock", orphan)
	putFakeSST(t, objs, "hummock", known)

	if _, err := m.AddTables([]compaction.SSTInfo{{ID: known}}, 1); err != nil {
		t.Fatalf("AddTables: %v", err)
	}

	orig := nowMinus
	defer func() { nowMinus = orig }()
	// Pretend the retention cutoff is far in the future, so every
	// blob actually written just now reads as "older than retention".
	nowMinus = func(time.Duration) time.Time { return time.Now().Add(time.Hour) }

	v := NewVacuum(m, store, objs, "hummock", nil)
	v.GCBatchSize = 1
	deleted, err := v.RunFullGC(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("RunFullGC: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("got %d deleted, want 1 (only the orphan, not the live table)", deleted)
	}

	ctx := context.Background()
	if _, err := objs.Read(ctx, orphan.DataPath("hummock"), nil); err == nil {
		t.Fatalf("orphan blob should have been deleted")
	}
	if _, err := objs.Read(ctx, known.DataPath("hummock"), nil); err != nil {
		t.Fatalf("live table must survive full GC: %v", err)
	}
}

func TestParseSSTPathRoundTrips(t *testing.T) {
	id := sstable.ID{NodeID: 0xabcd, SeqID: 0x1234}
	path := id.DataPath("hummock")
	got, ok := parseSSTPath("hummock", path)
	if !ok {
		t.Fatalf("parseSSTPath failed to parse %q", path)
	}
	if got != id {
		t.Fatalf("got %+v, want %+v", got, id)
	}

	if _, ok := parseSSTPath("hummock", "other-root/abc_def.data"); ok {
		t.Fatalf("parseSSTPath should reject a path outside root")
	}
}
