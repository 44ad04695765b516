package compaction

import (
	"testing"

	"github.com/hummockdb/hummock/internal/sstable"
	"github.com/hummockdb/hummock/pkg/fullkey"
)

func fk(key string, epoch uint64) []byte {
	return fullkey.New([]byte(key), epoch)
}

func TestOverlapPickerChoosesMaxOverlapCandidate(t *testing.T) {
	levelTables := map[int][]SSTInfo{
		1: {
			// Overlaps one table of size 10 at level 2.
			{ID: sstable.ID{SeqID: 1}, SmallestKey: fk("a", 1), LargestKey: fk("b", 1), FileSize: 1},
			// Overlaps two tables of size 10 + 20 at level 2.
			{ID: sstable.ID{SeqID: 2}, SmallestKey: fk("m", 1), LargestKey: fk("p", 1), FileSize: 1},
		},
		2: {
			{ID: sstable.ID{SeqID: 10}, SmallestKey: fk("a", 1), LargestKey: fk("a", 1), FileSize: 10},
			{ID: sstable.ID{SeqID: 11}, SmallestKey: fk("n", 1), LargestKey: fk("n", 1), FileSize: 10},
			{ID: sstable.ID{SeqID: 12}, SmallestKey: fk("o", 1), LargestKey: fk("o", 1), FileSize: 20},
		},
	}
	handlers := map[int]*LevelHandler{1: NewLevelHandler(), 2: NewLevelHandler()}

	p := NewOverlapPicker(1, 1, RangeOverlapStrategy{})
	result, ok := p.Pick(levelTables, handlers)
	if !ok {
		t.Fatalf("Pick returned ok=false, want a result")
	}
	if len(result.SelectTables) != 1 || result.SelectTables[0].ID.SeqID != 2 {
		t.Fatalf("selected table = %+v, want the level-1 table at seq 2", result.SelectTables)
	}
	if len(result.TargetTables) != 2 {
		t.Fatalf("got %d target tables, want 2 (seq 11 and seq 12)", len(result.TargetTables))
	}

	if !handlers[1].IsPending(sstable.ID{SeqID: 2}) {
		t.Fatalf("chosen source table must be marked pending")
	}
	if !handlers[2].IsPending(sstable.ID{SeqID: 11}) || !handlers[2].IsPending(sstable.ID{SeqID: 12}) {
		t.Fatalf("both overlapping target tables must be marked pending")
	}
	if handlers[1].IsPending(sstable.ID{SeqID: 1}) {
		t.Fatalf("non-chosen source table must not be marked pending")
	}
}

func TestOverlapPickerSkipsCandidateOverlappingPendingTarget(t *testing.T) {
	levelTables := map[int][]SSTInfo{
		1: {
			{ID: sstable.ID{SeqID: 1}, SmallestKey: fk("a", 1), LargestKey: fk("a", 1), FileSize: 1},
		},
		2: {
			{ID: sstable.ID{SeqID: 10}, SmallestKey: fk("a", 1), LargestKey: fk("a", 1), FileSize: 100},
		},
	}
	handlers := map[int]*LevelHandler{1: NewLevelHandler(), 2: NewLevelHandler()}
	handlers[2].AddPendingTask(99, []sstable.ID{{SeqID: 10}})

	p := NewOverlapPicker(1, 1, RangeOverlapStrategy{})
	_, ok := p.Pick(levelTables, handlers)
	if ok {
		t.Fatalf("Pick should find no eligible candidate when its only overlap target is pending")
	}
}

func TestOverlapPickerSkipsPendingSourceTable(t *testing.T) {
	levelTables := map[int][]SSTInfo{
		1: {
			{ID: sstable.ID{SeqID: 1}, SmallestKey: fk("a", 1), LargestKey: fk("a", 1), FileSize: 1},
		},
		2: {},
	}
	handlers := map[int]*LevelHandler{1: NewLevelHandler(), 2: NewLevelHandler()}
	handlers[1].AddPendingTask(5, []sstable.ID{{SeqID: 1}})

	p := NewOverlapPicker(1, 1, RangeOverlapStrategy{})
	_, ok := p.Pick(levelTables, handlers)
	if ok {
		t.Fatalf("Pick should not select a source table that is already pending")
	}
}

func TestLevel0PickerWaitsForMinFiles(t *testing.T) {
	levelTables := map[int][]SSTInfo{
		0: {
			{ID: sstable.ID{SeqID: 1}, SmallestKey: fk("a", 1), LargestKey: fk("a", 1), FileSize: 1},
		},
		1: {},
	}
	handlers := map[int]*LevelHandler{0: NewLevelHandler(), 1: NewLevelHandler()}

	p := NewLevel0Picker(1, RangeOverlapStrategy{}, 2)
	_, ok := p.Pick(levelTables, handlers)
	if ok {
		t.Fatalf("Pick should not fire below minFiles")
	}
}

func TestLevel0PickerClaimsWholeBatch(t *testing.T) {
	levelTables := map[int][]SSTInfo{
		0: {
			{ID: sstable.ID{SeqID: 1}, SmallestKey: fk("a", 1), LargestKey: fk("a", 1), FileSize: 1},
			{ID: sstable.ID{SeqID: 2}, SmallestKey: fk("b", 1), LargestKey: fk("b", 1), FileSize: 1},
		},
		1: {
			{ID: sstable.ID{SeqID: 10}, SmallestKey: fk("a", 1), LargestKey: fk("a", 1), FileSize: 50},
			{ID: sstable.ID{SeqID: 11}, SmallestKey: fk("z", 1), LargestKey: fk("z", 1), FileSize: 50},
		},
	}
	handlers := map[int]*LevelHandler{0: NewLevelHandler(), 1: NewLevelHandler()}

	p := NewLevel0Picker(7, RangeOverlapStrategy{}, 2)
	result, ok := p.Pick(levelTables, handlers)
	if !ok {
		t.Fatalf("Pick returned ok=false, want a result")
	}
	if len(result.SelectTables) != 2 {
		t.Fatalf("got %d selected level-0 tables, want both", len(result.SelectTables))
	}
	if len(result.TargetTables) != 1 || result.TargetTables[0].ID.SeqID != 10 {
		t.Fatalf("target tables = %+v, want only seq 10 (seq 11 does not overlap)", result.TargetTables)
	}
	if !handlers[0].IsPending(sstable.ID{SeqID: 1}) || !handlers[0].IsPending(sstable.ID{SeqID: 2}) {
		t.Fatalf("both level-0 tables must be marked pending")
	}
}

func TestLevel0PickerRefusesWhenOverlapTargetPending(t *testing.T) {
	levelTables := map[int][]SSTInfo{
		0: {
			{ID: sstable.ID{SeqID: 1}, SmallestKey: fk("a", 1), LargestKey: fk("a", 1), FileSize: 1},
			{ID: sstable.ID{SeqID: 2}, SmallestKey: fk("b", 1), LargestKey: fk("b", 1), FileSize: 1},
		},
		1: {
			{ID: sstable.ID{SeqID: 10}, SmallestKey: fk("a", 1), LargestKey: fk("a", 1), FileSize: 50},
		},
	}
	handlers := map[int]*LevelHandler{0: NewLevelHandler(), 1: NewLevelHandler()}
	handlers[1].AddPendingTask(3, []sstable.ID{{SeqID: 10}})

	p := NewLevel0Picker(7, RangeOverlapStrategy{}, 2)
	_, ok := p.Pick(levelTables, handlers)
	if ok {
		t.Fatalf("Pick should refuse the whole batch when an overlapping target table is pending")
	}
}

func TestLevelHandlerClearPendingTask(t *testing.T) {
	h := NewLevelHandler()
	h.AddPendingTask(1, []sstable.ID{{SeqID: 1}, {SeqID: 2}})
	h.AddPendingTask(2, []sstable.ID{{SeqID: 3}})

	h.ClearPendingTask(1)

	if h.IsPending(sstable.ID{SeqID: 1}) || h.IsPending(sstable.ID{SeqID: 2}) {
		t.Fatalf("task 1's claims should be cleared")
	}
	if !h.IsPending(sstable.ID{SeqID: 3}) {
		t.Fatalf("task 2's claim should be untouched")
	}
}
