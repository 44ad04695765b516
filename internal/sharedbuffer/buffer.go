// Package sharedbuffer holds writes for epochs that have not yet been
// flushed to SSTs: a map from epoch to an ordered user-key map backed
// by memtable.Memtable (a B-tree).
package sharedbuffer

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/hummockdb/hummock/internal/recoverylog"
	"github.com/hummockdb/hummock/internal/sstable"
	"github.com/hummockdb/hummock/internal/sstablestore"
	"github.com/hummockdb/hummock/memtable"
	"github.com/hummockdb/hummock/pkg/fullkey"
)

// ErrEpochFrozen is returned by WriteBatch against an epoch that has
// already been synced.
var ErrEpochFrozen = errors.New("sharedbuffer: epoch already frozen")

// BatchEntry is one write in a write_batch call.
type BatchEntry struct {
	UserKey []byte
	Value   sstable.Value
}

// SyncedTable is one SST produced by flushing an epoch.
type SyncedTable struct {
	ID   sstable.ID
	Meta *sstable.Meta
}

type epochState struct {
	mu     sync.Mutex
	data   *memtable.Memtable
	frozen bool
	// seq counts writes to this epoch; a plain atomic.Uint64, not a
	// packed field, per the concurrent-batch-counter decision.
	seq atomic.Uint64
}

// Buffer is the C6 shared buffer: one ordered map per uncommitted
// epoch.
type Buffer struct {
	mu     sync.RWMutex
	epochs map[uint64]*epochState
	log    *recoverylog.Writer
}

// New creates an empty Buffer with no durability log: writes
// acknowledged by WriteBatch are lost if the process dies before the
// epoch is synced.
func New() *Buffer {
	return &Buffer{epochs: make(map[uint64]*epochState)}
}

// Open creates a Buffer backed by a recovery log under dir, replaying
// any entries already there (from a prior process that wrote batches
// but never synced their epoch) before accepting new writes. The
// returned Writer must be closed by the caller once the buffer is no
// longer needed.
func Open(dir string, segmentOpts ...recoverylog.DiskSegmentWriterOption) (*Buffer, *recoverylog.Writer, error) {
	sw, err := recoverylog.NewDiskSegmentWriter(dir, segmentOpts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "sharedbuffer: open recovery log")
	}

	b := New()
	err = recoverylog.Replay(dir, func(e *recoverylog.Entry) error {
		return b.WriteBatch(e.Epoch, []BatchEntry{{UserKey: e.UserKey, Value: e.Value}})
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "sharedbuffer: replay recovery log")
	}

	w := recoverylog.NewWriter(sw, 64)
	b.log = w
	return b, w, nil
}

func (b *Buffer) stateFor(epoch uint64) *epochState {
	b.mu.RLock()
	es, ok := b.epochs[epoch]
	b.mu.RUnlock()
	if ok {
		return es
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if es, ok := b.epochs[epoch]; ok {
		return es
	}
	es = &epochState{data: memtable.New()}
	b.epochs[epoch] = es
	return es
}

// WriteBatch inserts entries at epoch. Within the batch, a later entry
// for the same user key overwrites an earlier one; across calls at the
// same epoch, insertion order is preserved the same way.
func (b *Buffer) WriteBatch(epoch uint64, entries []BatchEntry) error {
	es := b.stateFor(epoch)

	es.mu.Lock()
	defer es.mu.Unlock()
	if es.frozen {
		return errors.Wrapf(ErrEpochFrozen, "epoch %d", epoch)
	}
	if b.log != nil {
		for _, e := range entries {
			err := b.log.Append(&recoverylog.Entry{Epoch: epoch, UserKey: e.UserKey, Value: e.Value})
			if err != nil {
				return errors.Wrapf(err, "sharedbuffer: log epoch %d", epoch)
			}
		}
	}
	for _, e := range entries {
		es.data.Put(string(e.UserKey), e.Value)
		es.seq.Add(1)
	}
	return nil
}

// Read consults every epoch <= snapshotEpoch in descending order and
// returns the value at the highest such epoch that wrote userKey
// (including a Delete tombstone), since at most one value per user key
// survives within a single epoch.
func (b *Buffer) Read(userKey []byte, snapshotEpoch uint64) (sstable.Value, bool) {
	b.mu.RLock()
	epochs := make([]uint64, 0, len(b.epochs))
	for e := range b.epochs {
		if e <= snapshotEpoch {
			epochs = append(epochs, e)
		}
	}
	states := make(map[uint64]*epochState, len(epochs))
	for _, e := range epochs {
		states[e] = b.epochs[e]
	}
	b.mu.RUnlock()

	sort.Slice(epochs, func(i, j int) bool { return epochs[i] > epochs[j] })

	key := string(userKey)
	for _, e := range epochs {
		es := states[e]
		es.mu.Lock()
		v, ok := es.data.Get(key)
		es.mu.Unlock()
		if ok {
			return v, true
		}
	}
	return sstable.Value{}, false
}

// Sync freezes epoch, encodes its contents into one or more SSTs
// (rolling to a new SST when a builder reaches its configured size),
// uploads each through store, and returns the resulting table list.
// Syncing an epoch with no writes, or an epoch never written to,
// returns an empty, nil-error result. The epoch's in-memory state is
// dropped once its SSTs are uploaded; the caller is responsible for
// committing the epoch with the version manager.
func (b *Buffer) Sync(ctx context.Context, epoch uint64, store *sstablestore.Store, opts sstable.BuilderOptions, nextID func() sstable.ID, policy sstablestore.CachePolicy) ([]SyncedTable, error) {
	b.mu.RLock()
	es, ok := b.epochs[epoch]
	b.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	es.mu.Lock()
	es.frozen = true
	es.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.epochs, epoch)
		b.mu.Unlock()
	}()

	var tables []SyncedTable
	builder := sstable.NewBuilder(opts)

	flush := func() error {
		if builder.ApproximateSize() == 0 {
			return nil
		}
		data, metaBytes, meta, err := builder.Finish()
		if err != nil {
			return errors.Wrap(err, "sharedbuffer: finish sst")
		}
		id := nextID()
		if err := store.Put(ctx, id, data, metaBytes, meta, policy); err != nil {
			return errors.Wrapf(err, "sharedbuffer: put sst %s", id)
		}
		tables = append(tables, SyncedTable{ID: id, Meta: meta})
		return nil
	}

	for entry := range es.data.Iterator() {
		fk := fullkey.New([]byte(entry.Key), epoch)
		if err := builder.Add(fk, entry.Value); err != nil {
			return nil, errors.Wrap(err, "sharedbuffer: add entry")
		}
		if builder.ShouldSeal() {
			if err := flush(); err != nil {
				return nil, err
			}
			builder = sstable.NewBuilder(opts)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return tables, nil
}
