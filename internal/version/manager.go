// Package version implements Hummock's version manager: the
// single-writer authority over which SSTs make up each level, which
// versions and snapshots are pinned, and which compact tasks are
// currently in flight. It hands out compaction work to
// internal/compaction's pickers and applies the resulting deltas.
package version

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/hummockdb/hummock/internal/compaction"
	"github.com/hummockdb/hummock/internal/sstable"
)

// ErrInvalidEpoch is returned when a commit or add_tables call names
// an epoch that is not exactly the next one expected.
var ErrInvalidEpoch = errors.New("version: invalid epoch")

// ErrTaskNotFound is returned when ReportCompactTask names a task id
// the manager has no record of.
var ErrTaskNotFound = errors.New("version: task not found")

// ErrContextNotPinned is returned when UnpinVersion or UnpinSnapshot
// is called for a context holding no matching pin.
var ErrContextNotPinned = errors.New("version: context not pinned")

// SST is one registered table's identity, key range and size as the
// manager tracks it — an alias of compaction.SSTInfo; the level a
// table lives in is given by its key in Version.Levels.
type SST = compaction.SSTInfo

// Version is an immutable snapshot of the manifest: the SSTs present
// in each level as of some point, and the epoch committed as of that
// point.
type Version struct {
	ID                 uint64
	Levels             map[int][]SST
	MaxCommittedEpoch uint64
}

// clone deep-copies v's level map so callers (and the manager's own
// next-version construction) never alias a previous version's slices.
func (v *Version) clone() *Version {
	levels := make(map[int][]SST, len(v.Levels))
	for l, tables := range v.Levels {
		cp := make([]SST, len(tables))
		copy(cp, tables)
		levels[l] = cp
	}
	return &Version{ID: v.ID, Levels: levels, MaxCommittedEpoch: v.MaxCommittedEpoch}
}

// Task is a compact task handed to a compactor: which SSTs to read
// from which source level, the target level, and the task id the
// compactor must quote back in ReportCompactTask.
type Task struct {
	ID           uint64
	SourceLevel  int
	TargetLevel  int
	Inputs       []SST
	TargetInputs []SST
}

type pin struct {
	contexts map[string]struct{}
}

// Manager is the process-wide version/level authority: a single
// coordinator lock serializes every mutation; readers pin a version
// or snapshot to read consistently without blocking mutation.
//
// The manifest is kept in memory only; NewManager takes no object
// store, and no RPC transport is implemented here.
type Manager struct {
	mu sync.Mutex

	current *Version
	nextID  uint64

	versionPins  map[uint64]*pin  // version id -> pinning contexts
	snapshotPins map[uint64]*pin  // epoch -> pinning contexts

	handlers map[int]*compaction.LevelHandler
	overlap  compaction.OverlapStrategy

	inFlight map[uint64]*Task
	nextTask uint64

	nextSSTID  uint64
	nodeID     uint64

	stale []SST // SSTs superseded by a version but not yet GC'd
}

// NewManager creates a Manager with an empty initial version (version
// id 1, max_committed_epoch 0) and no levels populated.
func NewManager(nodeID uint64) *Manager {
	return &Manager{
		current:      &Version{ID: 1, Levels: make(map[int][]SST)},
		nextID:       2,
		versionPins:  make(map[uint64]*pin),
		snapshotPins: make(map[uint64]*pin),
		handlers:     make(map[int]*compaction.LevelHandler),
		overlap:      compaction.RangeOverlapStrategy{},
		inFlight:     make(map[uint64]*Task),
		nextTask:     1,
		nextSSTID:    1,
		nodeID:       nodeID,
	}
}

func (m *Manager) levelHandler(level int) *compaction.LevelHandler {
	h, ok := m.handlers[level]
	if !ok {
		h = compaction.NewLevelHandler()
		m.handlers[level] = h
	}
	return h
}

// PinVersion returns the current version and records ctxID as pinning
// it, preventing its SSTs from being GC'd until UnpinVersion is
// called.
func (m *Manager) PinVersion(ctxID string) (*Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := m.current
	p, ok := m.versionPins[v.ID]
	if !ok {
		p = &pin{contexts: make(map[string]struct{})}
		m.versionPins[v.ID] = p
	}
	p.contexts[ctxID] = struct{}{}
	return v.clone(), nil
}

// UnpinVersion releases ctxID's pin on versionID.
func (m *Manager) UnpinVersion(ctxID string, versionID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releasePin(m.versionPins, versionID, ctxID)
}

// PinSnapshot returns the current max_committed_epoch and records
// ctxID as pinning it. The version that first satisfies this epoch
// (the current version, since max_committed_epoch only advances on
// commit) is transitively pinned as well: callers relying on a
// snapshot read are protected from both SST GC and version GC for as
// long as the snapshot pin is held.
func (m *Manager) PinSnapshot(ctxID string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	epoch := m.current.MaxCommittedEpoch
	p, ok := m.snapshotPins[epoch]
	if !ok {
		p = &pin{contexts: make(map[string]struct{})}
		m.snapshotPins[epoch] = p
	}
	p.contexts[ctxID] = struct{}{}

	vp, ok := m.versionPins[m.current.ID]
	if !ok {
		vp = &pin{contexts: make(map[string]struct{})}
		m.versionPins[m.current.ID] = vp
	}
	vp.contexts[ctxID] = struct{}{}

	return epoch, nil
}

// UnpinSnapshot releases ctxID's pin on epoch, and the version pin
// PinSnapshot took out alongside it.
func (m *Manager) UnpinSnapshot(ctxID string, epoch uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.releasePin(m.snapshotPins, epoch, ctxID); err != nil {
		return err
	}
	for id, p := range m.versionPins {
		if _, ok := p.contexts[ctxID]; ok {
			delete(p.contexts, ctxID)
			if len(p.contexts) == 0 {
				delete(m.versionPins, id)
			}
		}
	}
	return nil
}

func (m *Manager) releasePin(pins map[uint64]*pin, key uint64, ctxID string) error {
	p, ok := pins[key]
	if !ok {
		return errors.Wrapf(ErrContextNotPinned, "no pin recorded for %d", key)
	}
	if _, ok := p.contexts[ctxID]; !ok {
		return errors.Wrapf(ErrContextNotPinned, "context %q does not pin %d", ctxID, key)
	}
	delete(p.contexts, ctxID)
	if len(p.contexts) == 0 {
		delete(pins, key)
	}
	return nil
}

// ReleaseContexts drops every pin (version and snapshot) held by any
// context in ctxIDs — used when a worker is declared dead so its pins
// never block GC indefinitely.
func (m *Manager) ReleaseContexts(ctxIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dead := make(map[string]struct{}, len(ctxIDs))
	for _, c := range ctxIDs {
		dead[c] = struct{}{}
	}
	for _, pins := range []map[uint64]*pin{m.versionPins, m.snapshotPins} {
		for key, p := range pins {
			for c := range dead {
				delete(p.contexts, c)
			}
			if len(p.contexts) == 0 {
				delete(pins, key)
			}
		}
	}
}

// AddTables appends newTables at level 0 under epoch, producing a new
// version. epoch must be exactly current.MaxCommittedEpoch+1.
func (m *Manager) AddTables(newTables []SST, epoch uint64) (*Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.current.MaxCommittedEpoch+1 {
		return nil, errors.Wrapf(ErrInvalidEpoch, "got %d, want %d", epoch, m.current.MaxCommittedEpoch+1)
	}

	next := m.current.clone()
	next.ID = m.nextID
	m.nextID++
	next.MaxCommittedEpoch = epoch
	next.Levels[0] = append(next.Levels[0], newTables...)

	m.current = next
	return next.clone(), nil
}

// CommitEpoch marks epoch committed without adding any tables (an
// empty-batch commit). epoch must be exactly the next expected one.
func (m *Manager) CommitEpoch(epoch uint64) error {
	_, err := m.AddTables(nil, epoch)
	return err
}

// GetNewTableID issues a fresh, process-unique SST id.
func (m *Manager) GetNewTableID() sstable.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := sstable.ID{NodeID: m.nodeID, SeqID: m.nextSSTID}
	m.nextSSTID++
	return id
}

// GetCompactTask asks the selector for one compaction (level 0 first,
// then each populated level in ascending order) and records it as
// in-flight. It returns (nil, false) if no level currently yields a
// candidate.
func (m *Manager) GetCompactTask() (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	levelTables := m.current.Levels

	maxLevel := 0
	for l := range levelTables {
		if l > maxLevel {
			maxLevel = l
		}
	}

	taskID := m.nextTask

	if l0 := levelTables[0]; len(l0) > 0 {
		p := compaction.NewLevel0Picker(taskID, m.overlap, 1)
		if result, ok := p.Pick(levelTables, m.handlersFor(0, 1)); ok {
			return m.recordTask(taskID, result), true
		}
	}
	for l := 1; l <= maxLevel; l++ {
		if len(levelTables[l]) == 0 {
			continue
		}
		p := compaction.NewOverlapPicker(taskID, l, m.overlap)
		if result, ok := p.Pick(levelTables, m.handlersFor(l, l+1)); ok {
			return m.recordTask(taskID, result), true
		}
	}
	return nil, false
}

func (m *Manager) handlersFor(levels ...int) map[int]*compaction.LevelHandler {
	out := make(map[int]*compaction.LevelHandler, len(levels))
	for _, l := range levels {
		out[l] = m.levelHandler(l)
	}
	return out
}

func (m *Manager) recordTask(taskID uint64, result *compaction.SearchResult) *Task {
	m.nextTask++
	t := &Task{
		ID:           taskID,
		SourceLevel:  result.SelectLevel,
		TargetLevel:  result.TargetLevel,
		Inputs:       result.SelectTables,
		TargetInputs: result.TargetTables,
	}
	m.inFlight[taskID] = t
	return t
}

// ReportCompactTask applies the outcome of taskID. On success, output
// replaces the task's source and target inputs in TargetLevel,
// producing a new version; the replaced SSTs move to the stale list.
// On failure, the task's pending marks are cleared and the manifest
// is left untouched.
func (m *Manager) ReportCompactTask(taskID uint64, ok bool, output []SST) (*Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, found := m.inFlight[taskID]
	if !found {
		return nil, errors.Wrapf(ErrTaskNotFound, "task %d", taskID)
	}
	delete(m.inFlight, taskID)

	m.levelHandler(t.SourceLevel).ClearPendingTask(taskID)
	m.levelHandler(t.TargetLevel).ClearPendingTask(taskID)

	if !ok {
		return m.current.clone(), nil
	}

	next := m.current.clone()
	next.ID = m.nextID
	m.nextID++

	next.Levels[t.SourceLevel] = removeByID(next.Levels[t.SourceLevel], t.Inputs)
	next.Levels[t.TargetLevel] = removeByID(next.Levels[t.TargetLevel], t.TargetInputs)
	next.Levels[t.TargetLevel] = append(next.Levels[t.TargetLevel], output...)

	m.stale = append(m.stale, t.Inputs...)
	m.stale = append(m.stale, t.TargetInputs...)

	m.current = next
	return next.clone(), nil
}

func removeByID(tables []SST, remove []SST) []SST {
	skip := make(map[sstable.ID]struct{}, len(remove))
	for _, t := range remove {
		skip[t.ID] = struct{}{}
	}
	out := tables[:0:0]
	for _, t := range tables {
		if _, ok := skip[t.ID]; ok {
			continue
		}
		out = append(out, t)
	}
	return out
}

// StaleSSTs returns the SSTs currently superseded by some version and
// awaiting a pinned-version check before deletion, for Vacuum to
// consume.
func (m *Manager) StaleSSTs() []SST {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SST, len(m.stale))
	copy(out, m.stale)
	return out
}

// LiveSSTIDs returns the id of every SST referenced by the current
// version, for Vacuum to check the stale list against. Tables that
// only an older pinned version still references are not included;
// Vacuum guards those through HasPinnedVersionOtherThanCurrent.
func (m *Manager) LiveSSTIDs() map[sstable.ID]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[sstable.ID]struct{})
	for _, tables := range m.current.Levels {
		for _, t := range tables {
			out[t.ID] = struct{}{}
		}
	}
	return out
}

// HasPinnedVersionOtherThanCurrent reports whether any version id
// besides the current one is still pinned, which the stale list
// must treat as "not yet safe to collect" since Vacuum cannot
// reconstruct that version's table membership from m.current alone.
func (m *Manager) HasPinnedVersionOtherThanCurrent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.versionPins {
		if id != m.current.ID {
			return true
		}
	}
	return false
}

// MinPinnedSnapshotEpoch returns the lowest snapshot epoch still
// pinned by any context, for compaction to use as its drop watermark:
// a version older than every live snapshot can be safely merged away.
// The second return is false if no snapshot is currently pinned, in
// which case a caller may use MaxCommittedEpoch()+1 instead (nothing
// older than the latest commit needs to survive).
func (m *Manager) MinPinnedSnapshotEpoch() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.snapshotPins) == 0 {
		return 0, false
	}
	min, found := uint64(0), false
	for epoch := range m.snapshotPins {
		if !found || epoch < min {
			min, found = epoch, true
		}
	}
	return min, true
}

// MaxCommittedEpoch returns the current version's committed epoch.
func (m *Manager) MaxCommittedEpoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.MaxCommittedEpoch
}

// ClearStale removes the SSTs named by deleted from the stale list
// once Vacuum has deleted their blobs.
func (m *Manager) ClearStale(deleted []sstable.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	skip := make(map[sstable.ID]struct{}, len(deleted))
	for _, id := range deleted {
		skip[id] = struct{}{}
	}
	out := m.stale[:0:0]
	for _, t := range m.stale {
		if _, ok := skip[t.ID]; ok {
			continue
		}
		out = append(out, t)
	}
	m.stale = out
}
