package version

import (
	"testing"

	"github.com/hummockdb/hummock/internal/compaction"
	"github.com/hummockdb/hummock/internal/sstable"
	"github.com/hummockdb/hummock/pkg/fullkey"
)

func sst(seq uint64, lo, hi string, size uint64) compaction.SSTInfo {
	return compaction.SSTInfo{
		ID:          sstable.ID{SeqID: seq},
		SmallestKey: fullkey.New([]byte(lo), 1),
		LargestKey:  fullkey.New([]byte(hi), 1),
		FileSize:    size,
	}
}

func TestAddTablesRequiresNextEpoch(t *testing.T) {
	m := NewManager(1)
	if _, err := m.AddTables([]compaction.SSTInfo{sst(1, "a", "b", 10)}, 1); err != nil {
		t.Fatalf("AddTables epoch 1: %v", err)
	}
	if _, err := m.AddTables(nil, 3); err == nil {
		t.Fatalf("AddTables with out-of-order epoch should fail")
	}
	if _, err := m.AddTables(nil, 2); err != nil {
		t.Fatalf("AddTables epoch 2: %v", err)
	}
}

func TestPinCurrentVersionDoesNotBlockVacuumAndUnpinsOnce(t *testing.T) {
	m := NewManager(1)
	v1, err := m.AddTables([]compaction.SSTInfo{sst(1, "a", "a", 10)}, 1)
	if err != nil {
		t.Fatalf("AddTables: %v", err)
	}

	pinned, err := m.PinVersion("reader-1")
	if err != nil {
		t.Fatalf("PinVersion: %v", err)
	}
	if pinned.ID != v1.ID {
		t.Fatalf("pinned version id = %d, want %d", pinned.ID, v1.ID)
	}

	if m.HasPinnedVersionOtherThanCurrent() {
		t.Fatalf("pinning only the current version should not block vacuum")
	}

	if err := m.UnpinVersion("reader-1", pinned.ID); err != nil {
		t.Fatalf("UnpinVersion: %v", err)
	}
	if err := m.UnpinVersion("reader-1", pinned.ID); err == nil {
		t.Fatalf("double UnpinVersion should fail with ErrContextNotPinned")
	}
}

func TestGetCompactTaskMarksPendingAndReportSuccessRewritesLevels(t *testing.T) {
	m := NewManager(1)
	l0 := []compaction.SSTInfo{sst(1, "a", "a", 10), sst(2, "b", "b", 10)}
	if _, err := m.AddTables(l0, 1); err != nil {
		t.Fatalf("AddTables: %v", err)
	}

	task, ok := m.GetCompactTask()
	if !ok {
		t.Fatalf("GetCompactTask found nothing, want a level-0 task")
	}
	if task.SourceLevel != 0 || task.TargetLevel != 1 {
		t.Fatalf("task levels = %d -> %d, want 0 -> 1", task.SourceLevel, task.TargetLevel)
	}
	if len(task.Inputs) != 2 {
		t.Fatalf("got %d inputs, want both level-0 tables claimed together", len(task.Inputs))
	}

	// A second GetCompactTask call must find nothing: both tables are
	// already pending.
	if _, ok := m.GetCompactTask(); ok {
		t.Fatalf("a second GetCompactTask should find no eligible candidate while the first is pending")
	}

	output := []compaction.SSTInfo{sst(3, "a", "b", 15)}
	next, err := m.ReportCompactTask(task.ID, true, output)
	if err != nil {
		t.Fatalf("ReportCompactTask: %v", err)
	}
	if len(next.Levels[0]) != 0 {
		t.Fatalf("level 0 should be empty after the compaction consumed it, got %d", len(next.Levels[0]))
	}
	if len(next.Levels[1]) != 1 || next.Levels[1][0].ID.SeqID != 3 {
		t.Fatalf("level 1 should contain only the new output table, got %+v", next.Levels[1])
	}

	stale := m.StaleSSTs()
	if len(stale) != 2 {
		t.Fatalf("got %d stale SSTs, want the two superseded level-0 tables", len(stale))
	}
}

func TestReportCompactTaskFailureClearsPendingWithoutMutatingManifest(t *testing.T) {
	m := NewManager(1)
	l0 := []compaction.SSTInfo{sst(1, "a", "a", 10)}
	before, err := m.AddTables(l0, 1)
	if err != nil {
		t.Fatalf("AddTables: %v", err)
	}

	task, ok := m.GetCompactTask()
	if !ok {
		t.Fatalf("GetCompactTask found nothing")
	}

	after, err := m.ReportCompactTask(task.ID, false, nil)
	if err != nil {
		t.Fatalf("ReportCompactTask: %v", err)
	}
	if after.ID != before.ID {
		t.Fatalf("a failed task must not produce a new version: got id %d, want %d", after.ID, before.ID)
	}

	// Pending marks must be cleared: a fresh GetCompactTask can pick
	// the same table up again.
	task2, ok := m.GetCompactTask()
	if !ok {
		t.Fatalf("GetCompactTask after failure found nothing, want the table to be retryable")
	}
	if task2.Inputs[0].ID != task.Inputs[0].ID {
		t.Fatalf("expected the same table to be retried")
	}
}

func TestReportCompactTaskUnknownIDFails(t *testing.T) {
	m := NewManager(1)
	if _, err := m.ReportCompactTask(999, true, nil); err == nil {
		t.Fatalf("ReportCompactTask with an unknown task id should fail")
	}
}

func TestReleaseContextsDropsAllPins(t *testing.T) {
	m := NewManager(1)
	if _, err := m.AddTables([]compaction.SSTInfo{sst(1, "a", "a", 10)}, 1); err != nil {
		t.Fatalf("AddTables: %v", err)
	}
	if _, err := m.PinVersion("worker-1"); err != nil {
		t.Fatalf("PinVersion: %v", err)
	}
	if _, err := m.PinSnapshot("worker-1"); err != nil {
		t.Fatalf("PinSnapshot: %v", err)
	}

	m.ReleaseContexts([]string{"worker-1"})

	if err := m.UnpinVersion("worker-1", m.current.ID); err == nil {
		t.Fatalf("pin should already be released by ReleaseContexts")
	}
}

func TestGetNewTableIDIsUniqueAndStable(t *testing.T) {
	m := NewManager(7)
	a := m.GetNewTableID()
	b := m.GetNewTableID()
	if a == b {
		t.Fatalf("two calls returned the same id: %+v", a)
	}
	if a.NodeID != 7 || b.NodeID != 7 {
		t.Fatalf("ids must carry the manager's node id")
	}
}
