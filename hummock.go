// Package hummock wires the storage engine's components (shared
// buffer, version manager, SST store, compactor, vacuum) behind one
// facade: Write/Get/Sync/Close.
package hummock

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hummockdb/hummock/internal/cache"
	"github.com/hummockdb/hummock/internal/compaction"
	"github.com/hummockdb/hummock/internal/iterator"
	"github.com/hummockdb/hummock/internal/objectstore"
	"github.com/hummockdb/hummock/internal/recoverylog"
	"github.com/hummockdb/hummock/internal/sharedbuffer"
	"github.com/hummockdb/hummock/internal/sstable"
	"github.com/hummockdb/hummock/internal/sstablestore"
	"github.com/hummockdb/hummock/internal/version"
	"github.com/hummockdb/hummock/pkg/config"
	"github.com/hummockdb/hummock/pkg/fullkey"
)

// ErrNotFound is returned by Get when a key has no visible value at
// the requested snapshot (either never written, or its latest visible
// write is a delete tombstone).
var ErrNotFound = errors.New("hummock: key not found")

// Engine is the top-level handle: one shared buffer, one version
// manager, one SST store, all sharing one background vacuum loop.
type Engine struct {
	cfg     config.Config
	log     *zap.Logger
	nodeID  uint64
	objects objectstore.Store
	store   *sstablestore.Store
	buffer  *sharedbuffer.Buffer
	bufLog  *recoverylog.Writer
	manager *version.Manager
	vacuum  *version.Vacuum

	stopVacuum chan struct{}
	vacuumDone chan struct{}
}

// Open builds an Engine over objects (the SST/blob backend) and a
// recovery log directory (uncommitted writes survive a crash there
// until their epoch is synced). nodeID distinguishes this process's
// minted SST ids from any other writer sharing the same object store.
func Open(cfg config.Config, nodeID uint64, objects objectstore.Store, recoveryDir string, log *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	blockCache, err := cache.NewBlockCache(cfg.BlockCacheCapacity)
	if err != nil {
		return nil, errors.Wrap(err, "hummock: open block cache")
	}
	store := sstablestore.NewStore(objects, blockCache, cfg.ObjectStoreRoot, log)

	buffer, bufLog, err := sharedbuffer.Open(recoveryDir)
	if err != nil {
		return nil, errors.Wrap(err, "hummock: open shared buffer")
	}

	manager := version.NewManager(nodeID)
	vac := version.NewVacuum(manager, store, objects, cfg.ObjectStoreRoot, log)
	vac.GCBatchSize = cfg.GCBatchSize

	e := &Engine{
		cfg:        cfg,
		log:        log.Named("engine"),
		nodeID:     nodeID,
		objects:    objects,
		store:      store,
		buffer:     buffer,
		bufLog:     bufLog,
		manager:    manager,
		vacuum:     vac,
		stopVacuum: make(chan struct{}),
		vacuumDone: make(chan struct{}),
	}

	go e.runVacuumLoop()
	return e, nil
}

// Write appends entries to epoch's shared buffer. The write is
// durable (survives an Engine restart replaying the recovery log)
// once Write returns nil, and is visible right away to a Get at a
// snapshot epoch >= epoch, which reads the shared buffer first.
// SyncEpoch later flushes it to SSTs and commits the epoch.
func (e *Engine) Write(epoch uint64, entries []sharedbuffer.BatchEntry) error {
	return e.buffer.WriteBatch(epoch, entries)
}

// Get returns the value visible for userKey at snapshotEpoch: the
// shared buffer's most recent write at or below snapshotEpoch if one
// exists, else the newest version at or below snapshotEpoch found by
// scanning level 0 (most recently flushed first) and then each level
// >= 1 (disjoint key ranges, so at most one table per level can
// contain userKey). Returns ErrNotFound if no write is visible or the
// visible write is a delete tombstone.
func (e *Engine) Get(ctx context.Context, userKey []byte, snapshotEpoch uint64) (sstable.Value, error) {
	if v, ok := e.buffer.Read(userKey, snapshotEpoch); ok {
		if v.IsDelete() {
			return sstable.Value{}, ErrNotFound
		}
		return v, nil
	}

	ctxID := uuid.NewString()
	ver, err := e.manager.PinVersion(ctxID)
	if err != nil {
		return sstable.Value{}, errors.Wrap(err, "hummock: pin version for read")
	}
	defer func() {
		if uerr := e.manager.UnpinVersion(ctxID, ver.ID); uerr != nil {
			e.log.Warn("failed to unpin read version", zap.Error(uerr))
		}
	}()

	probe := fullkey.New(userKey, snapshotEpoch)

	maxLevel := 0
	for l := range ver.Levels {
		if l > maxLevel {
			maxLevel = l
		}
	}

	// Level 0 is mutually overlapping and unsorted: every table might
	// hold userKey, so every candidate is checked, most recently
	// flushed (last appended) first.
	l0 := ver.Levels[0]
	for i := len(l0) - 1; i >= 0; i-- {
		v, ok, err := e.searchTable(ctx, l0[i], userKey, probe)
		if err != nil {
			return sstable.Value{}, err
		}
		if ok {
			if v.IsDelete() {
				return sstable.Value{}, ErrNotFound
			}
			return v, nil
		}
	}

	for l := 1; l <= maxLevel; l++ {
		for _, t := range ver.Levels[l] {
			if !keyRangeMayContain(t, userKey) {
				continue
			}
			v, ok, err := e.searchTable(ctx, t, userKey, probe)
			if err != nil {
				return sstable.Value{}, err
			}
			if ok {
				if v.IsDelete() {
					return sstable.Value{}, ErrNotFound
				}
				return v, nil
			}
			break // levels >= 1 are disjoint: at most one table can match
		}
	}

	return sstable.Value{}, ErrNotFound
}

// keyRangeMayContain reports whether t's key range could hold userKey,
// comparing user-key prefixes only (t's bounds carry their own epoch
// suffixes, which must be stripped before the comparison is valid).
func keyRangeMayContain(t version.SST, userKey []byte) bool {
	lo := fullkey.UserKey(t.SmallestKey)
	hi := fullkey.UserKey(t.LargestKey)
	return bytesCompare(userKey, lo) >= 0 && bytesCompare(userKey, hi) <= 0
}

func bytesCompare(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// searchTable opens t and seeks to probe, returning the value found if
// the landed entry shares userKey's prefix (the bloom filter is
// consulted first so a table known not to hold userKey never pays for
// a block read).
func (e *Engine) searchTable(ctx context.Context, t version.SST, userKey, probe []byte) (sstable.Value, bool, error) {
	reader, err := e.store.Reader(ctx, t.ID, sstablestore.Fill)
	if err != nil {
		return sstable.Value{}, false, errors.Wrapf(err, "hummock: open reader for %s", t.ID)
	}
	if !reader.MayContain(userKey) {
		return sstable.Value{}, false, nil
	}

	it := sstable.NewIterator(reader)
	if err := it.Seek(ctx, probe); err != nil {
		return sstable.Value{}, false, errors.Wrapf(err, "hummock: seek %s", t.ID)
	}
	if !it.Valid() || !fullkey.SameUserKey(it.Key(), probe) {
		return sstable.Value{}, false, nil
	}
	v, err := it.Value()
	if err != nil {
		return sstable.Value{}, false, errors.Wrapf(err, "hummock: decode value in %s", t.ID)
	}
	return v, true, nil
}

// SyncEpoch flushes epoch's shared-buffer contents to one or more
// SSTs and commits them to the version manager, making every write at
// or below epoch visible to subsequent Get calls at that snapshot.
// Syncing an epoch with no writes is a cheap no-op (an empty commit
// still advances max_committed_epoch).
func (e *Engine) SyncEpoch(ctx context.Context, epoch uint64) error {
	opts := e.builderOptions()

	tables, err := e.buffer.Sync(ctx, epoch, e.store, opts, e.manager.GetNewTableID, sstablestore.Fill)
	if err != nil {
		return errors.Wrapf(err, "hummock: sync epoch %d", epoch)
	}

	ssts := make([]version.SST, 0, len(tables))
	for _, t := range tables {
		ssts = append(ssts, version.SST{
			ID:          t.ID,
			SmallestKey: t.Meta.SmallestKey,
			LargestKey:  t.Meta.LargestKey,
			FileSize:    t.Meta.EstimatedSize,
		})
	}

	if _, err := e.manager.AddTables(ssts, epoch); err != nil {
		return errors.Wrapf(err, "hummock: commit epoch %d", epoch)
	}
	return nil
}

// RunCompaction claims one compact task from the version manager (if
// any is available), runs it, and reports the outcome back. It
// returns (false, nil) if no task was available.
func (e *Engine) RunCompaction(ctx context.Context) (bool, error) {
	task, ok := e.manager.GetCompactTask()
	if !ok {
		return false, nil
	}

	inputs := append(append([]version.SST{}, task.Inputs...), task.TargetInputs...)
	watermark := e.gcWatermark()

	ctxID := uuid.NewString()
	ver, err := e.manager.PinVersion(ctxID)
	if err != nil {
		return true, errors.Wrap(err, "hummock: pin version for compaction")
	}
	bottomLevel := isBottomLevel(ver, task.TargetLevel)
	if err := e.manager.UnpinVersion(ctxID, ver.ID); err != nil {
		e.log.Warn("failed to unpin compaction-planning version", zap.Error(err))
	}

	ctask := compaction.Task{
		NewSources: func() []iterator.ForwardIterator {
			sources := make([]iterator.ForwardIterator, 0, len(inputs))
			for _, in := range inputs {
				reader, err := e.store.Reader(ctx, in.ID, sstablestore.NotFill)
				if err != nil {
					e.log.Error("failed to open compaction source reader", zap.Stringer("sst_id", in.ID), zap.Error(err))
					continue
				}
				sources = append(sources, sstable.NewIterator(reader))
			}
			return sources
		},
		Watermark:           watermark,
		Splits:              []compaction.Split{{}},
		TargetIsBottomLevel: bottomLevel,
	}

	opts := e.builderOptions()
	newBuilder := func() *compaction.CapacitySplitBuilder {
		return compaction.NewCapacitySplitBuilder(opts, func() (sstable.ID, error) {
			return e.manager.GetNewTableID(), nil
		})
	}

	built, err := compaction.Run(ctx, ctask, newBuilder, e.cfg.CompactionConcurrency)
	if err != nil {
		e.log.Warn("compaction task failed", zap.Uint64("task_id", task.ID), zap.Error(err))
		if _, rerr := e.manager.ReportCompactTask(task.ID, false, nil); rerr != nil {
			return false, errors.Wrap(rerr, "hummock: report failed compaction")
		}
		return true, err
	}

	output := make([]version.SST, 0, len(built))
	for _, t := range built {
		if err := e.store.Put(ctx, t.ID, t.Data, t.MetaBytes, t.Meta, sstablestore.NotFill); err != nil {
			return true, errors.Wrapf(err, "hummock: upload compacted sst %s", t.ID)
		}
		output = append(output, version.SST{
			ID:          t.ID,
			SmallestKey: t.Meta.SmallestKey,
			LargestKey:  t.Meta.LargestKey,
			FileSize:    t.Meta.EstimatedSize,
		})
	}

	if _, err := e.manager.ReportCompactTask(task.ID, true, output); err != nil {
		return true, errors.Wrap(err, "hummock: report compaction outcome")
	}
	return true, nil
}

// builderOptions translates the engine's config into the tuning an
// sstable.Builder needs, shared by both the shared-buffer flush path
// (SyncEpoch) and the compaction output path (RunCompaction) so the
// two always agree on block size, compression, and checksum choice.
func (e *Engine) builderOptions() sstable.BuilderOptions {
	return sstable.BuilderOptions{
		BlockSize:          int(e.cfg.BlockSize),
		SSTableSize:        int(e.cfg.SSTableSize),
		RestartInterval:    e.cfg.RestartInterval,
		Compression:        compressionFor(e.cfg.CompressionAlgorithm),
		ChecksumAlgorithm:  checksumFor(e.cfg.ChecksumAlgorithm),
		BloomFalsePositive: e.cfg.BloomFalsePositive,
	}
}

// compressionFor maps a validated config.CompressionAlgorithm onto the
// sstable codec's own enum. config.Validate rejects any other value
// before it reaches here.
func compressionFor(algo config.CompressionAlgorithm) sstable.Compression {
	if algo == config.CompressionLZ4 {
		return sstable.CompressionLZ4
	}
	return sstable.CompressionNone
}

// checksumFor maps a validated config.ChecksumAlgorithm onto the
// sstable codec's own enum. config.Validate rejects any other value
// before it reaches here.
func checksumFor(algo config.ChecksumAlgorithm) sstable.ChecksumAlgorithm {
	if algo == config.ChecksumCRC32C {
		return sstable.ChecksumCRC32C
	}
	return sstable.ChecksumXXHash64
}

// gcWatermark is the epoch below which a superseded version of a key
// may be dropped during compaction: the oldest epoch any live
// snapshot pin still reads at, or one past the latest commit if
// nothing is pinned (nothing needs a version older than the newest
// commit).
func (e *Engine) gcWatermark() uint64 {
	if epoch, ok := e.manager.MinPinnedSnapshotEpoch(); ok {
		return epoch
	}
	return e.manager.MaxCommittedEpoch() + 1
}

// isBottomLevel reports whether targetLevel is the last level holding
// any tables in ver: tombstones are only safe to drop outright when
// compacting into a level with nothing below it to shadow.
func isBottomLevel(ver *version.Version, targetLevel int) bool {
	for l, tables := range ver.Levels {
		if l > targetLevel && len(tables) > 0 {
			return false
		}
	}
	return true
}

func (e *Engine) runVacuumLoop() {
	defer close(e.vacuumDone)

	interval := e.cfg.VacuumInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopVacuum:
			return
		case <-ticker.C:
			ctx := context.Background()
			if err := e.vacuum.VacuumVersionMetadata(ctx); err != nil {
				e.log.Warn("vacuum pass failed", zap.Error(err))
			}
			if _, err := e.vacuum.RunFullGC(ctx, e.cfg.SSTRetention); err != nil {
				e.log.Warn("full gc pass failed", zap.Error(err))
			}
		}
	}
}

// CurrentVersion returns a snapshot of the manifest currently in
// effect, for diagnostics (hummockctl dump-version).
func (e *Engine) CurrentVersion(ctx context.Context) (*version.Version, error) {
	ctxID := uuid.NewString()
	ver, err := e.manager.PinVersion(ctxID)
	if err != nil {
		return nil, err
	}
	if err := e.manager.UnpinVersion(ctxID, ver.ID); err != nil {
		e.log.Warn("failed to unpin diagnostic version read", zap.Error(err))
	}
	return ver, nil
}

// VacuumTrackedMetadata runs one tracked-path vacuum pass on demand
// (hummockctl vacuum), outside the periodic background loop.
func (e *Engine) VacuumTrackedMetadata(ctx context.Context) error {
	return e.vacuum.VacuumVersionMetadata(ctx)
}

// RunFullGC runs one full-GC pass on demand (hummockctl vacuum --full),
// listing the object store directly instead of relying on the
// manifest's tracked stale-SST list.
func (e *Engine) RunFullGC(ctx context.Context) (int, error) {
	return e.vacuum.RunFullGC(ctx, e.cfg.SSTRetention)
}

// Close stops the background vacuum loop and the recovery log writer.
func (e *Engine) Close() error {
	close(e.stopVacuum)
	<-e.vacuumDone
	return e.bufLog.Close()
}
