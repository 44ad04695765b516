package compaction

import (
	"sort"
	"sync"

	"github.com/hummockdb/hummock/internal/sstable"
	"github.com/hummockdb/hummock/pkg/fullkey"
)

// SSTInfo is the subset of an SST's metadata the selector needs: its
// id, key range and size, independent of where the bytes actually
// live.
type SSTInfo struct {
	ID          sstable.ID
	SmallestKey []byte
	LargestKey  []byte
	FileSize    uint64
}

// OverlapStrategy decides whether two SSTs' key ranges overlap.
// Swappable so a hash-bucket strategy could replace the point-range
// one without touching the pickers.
type OverlapStrategy interface {
	CheckOverlap(a, b SSTInfo) bool
}

// RangeOverlapStrategy treats each SST's [SmallestKey, LargestKey] as
// a closed full-key interval and reports whether two such intervals
// intersect.
type RangeOverlapStrategy struct{}

func (RangeOverlapStrategy) CheckOverlap(a, b SSTInfo) bool {
	return fullkey.Compare(a.SmallestKey, b.LargestKey) <= 0 && fullkey.Compare(b.SmallestKey, a.LargestKey) <= 0
}

// LevelHandler tracks which SSTs in one level are already claimed by
// an in-flight compaction task, so concurrent pickers never select
// overlapping work.
type LevelHandler struct {
	mu      sync.Mutex
	pending map[sstable.ID]uint64
}

// NewLevelHandler creates an empty LevelHandler.
func NewLevelHandler() *LevelHandler {
	return &LevelHandler{pending: make(map[sstable.ID]uint64)}
}

// IsPending reports whether id is currently claimed by any task.
func (h *LevelHandler) IsPending(id sstable.ID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.pending[id]
	return ok
}

// AddPendingTask claims every id in ids for taskID.
func (h *LevelHandler) AddPendingTask(taskID uint64, ids []sstable.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range ids {
		h.pending[id] = taskID
	}
}

// ClearPendingTask releases every claim held by taskID: called when a
// compact task is reported as failed, or cancelled.
func (h *LevelHandler) ClearPendingTask(taskID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, t := range h.pending {
		if t == taskID {
			delete(h.pending, id)
		}
	}
}

// SearchResult is one selector's proposed compaction: the tables
// taken from the source level and the tables they overlap in the
// target level.
type SearchResult struct {
	SelectLevel  int
	SelectTables []SSTInfo
	TargetLevel  int
	TargetTables []SSTInfo
}

func idsOf(tables []SSTInfo) []sstable.ID {
	ids := make([]sstable.ID, len(tables))
	for i, t := range tables {
		ids[i] = t.ID
	}
	return ids
}

// OverlapPicker implements the overlap-driven strategy for levels >=
// 1: for each non-pending candidate in level, sum the file sizes of
// overlapping tables in level+1 (skipping any candidate whose overlap
// set includes a pending table), and pick the candidate maximizing
// that sum.
type OverlapPicker struct {
	taskID  uint64
	level   int
	overlap OverlapStrategy
}

// NewOverlapPicker creates an OverlapPicker targeting level -> level+1.
func NewOverlapPicker(taskID uint64, level int, overlap OverlapStrategy) *OverlapPicker {
	return &OverlapPicker{taskID: taskID, level: level, overlap: overlap}
}

// Pick selects one compaction from levelTables (a level index ->
// table list map), marking chosen tables pending in the corresponding
// handlers. It returns (nil, false) if no candidate qualifies.
func (p *OverlapPicker) Pick(levelTables map[int][]SSTInfo, handlers map[int]*LevelHandler) (*SearchResult, bool) {
	target := p.level + 1
	srcHandler := handlers[p.level]
	targetHandler := handlers[target]

	type scored struct {
		size  uint64
		table SSTInfo
	}
	var candidates []scored

	for _, table := range levelTables[p.level] {
		if srcHandler.IsPending(table.ID) {
			continue
		}
		var total uint64
		pending := false
		for _, other := range levelTables[target] {
			if !p.overlap.CheckOverlap(table, other) {
				continue
			}
			if targetHandler.IsPending(other.ID) {
				pending = true
				break
			}
			total += other.FileSize
		}
		if pending {
			continue
		}
		candidates = append(candidates, scored{size: total, table: table})
	}
	if len(candidates) == 0 {
		return nil, false
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].size < candidates[j].size })
	best := candidates[len(candidates)-1]

	var targetTables []SSTInfo
	for _, other := range levelTables[target] {
		if p.overlap.CheckOverlap(best.table, other) {
			targetTables = append(targetTables, other)
		}
	}
	selectTables := []SSTInfo{best.table}

	targetHandler.AddPendingTask(p.taskID, idsOf(targetTables))
	srcHandler.AddPendingTask(p.taskID, idsOf(selectTables))

	return &SearchResult{
		SelectLevel:  p.level,
		SelectTables: selectTables,
		TargetLevel:  target,
		TargetTables: targetTables,
	}, true
}

// Level0Picker implements the size-tiered strategy at level 0: level-0
// files are mutually overlapping and unsorted, so rather than picking
// one file at a time it claims every non-pending level-0 file once at
// least MinFiles of them have accumulated, together with every
// level-1 file any of them overlaps.
type Level0Picker struct {
	taskID   uint64
	overlap  OverlapStrategy
	minFiles int
}

// NewLevel0Picker creates a Level0Picker that only fires once at
// least minFiles level-0 tables are eligible.
func NewLevel0Picker(taskID uint64, overlap OverlapStrategy, minFiles int) *Level0Picker {
	return &Level0Picker{taskID: taskID, overlap: overlap, minFiles: minFiles}
}

// Pick selects the whole eligible level-0 batch, or (nil, false) if
// fewer than minFiles tables are eligible, or if any table they
// overlap at level 1 is already claimed by another task.
func (p *Level0Picker) Pick(levelTables map[int][]SSTInfo, handlers map[int]*LevelHandler) (*SearchResult, bool) {
	h0 := handlers[0]
	h1 := handlers[1]

	var selected []SSTInfo
	for _, t := range levelTables[0] {
		if !h0.IsPending(t.ID) {
			selected = append(selected, t)
		}
	}
	if len(selected) < p.minFiles {
		return nil, false
	}

	targetSet := make(map[sstable.ID]SSTInfo)
	for _, t := range selected {
		for _, other := range levelTables[1] {
			if !p.overlap.CheckOverlap(t, other) {
				continue
			}
			if h1.IsPending(other.ID) {
				return nil, false
			}
			targetSet[other.ID] = other
		}
	}

	targetTables := make([]SSTInfo, 0, len(targetSet))
	for _, t := range targetSet {
		targetTables = append(targetTables, t)
	}
	sort.Slice(targetTables, func(i, j int) bool {
		return fullkey.Compare(targetTables[i].SmallestKey, targetTables[j].SmallestKey) < 0
	})

	h0.AddPendingTask(p.taskID, idsOf(selected))
	h1.AddPendingTask(p.taskID, idsOf(targetTables))

	return &SearchResult{
		SelectLevel:  0,
		SelectTables: selected,
		TargetLevel:  1,
		TargetTables: targetTables,
	}, true
}
