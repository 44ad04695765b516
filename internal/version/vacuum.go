package version

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/hummockdb/hummock/internal/objectstore"
	"github.com/hummockdb/hummock/internal/sstable"
)

// Deleter removes an SST's blobs given its id — satisfied by
// *sstablestore.Store.
type Deleter interface {
	Delete(ctx context.Context, id sstable.ID) error
}

// Vacuum reclaims SST blobs the manifest no longer needs: the
// tracked path (scan the stale list, drop anything not live or
// pinned) and the full-GC path (list the object store directly and
// delete anything older than a retention window that the manifest
// does not know about at all), mirroring vacuum.rs's Tracked/Orphan
// split — Orphan was left a todo there; FullGC below is this
// implementation's version of it.
type Vacuum struct {
	manager *Manager
	deleter Deleter
	objects objectstore.Store
	root    string
	log     *zap.Logger

	// GCBatchSize is how many deletes RunFullGC groups into one batch;
	// a single call still deletes every candidate, batch by batch.
	// Defaults to 1000 if zero.
	GCBatchSize int
}

// NewVacuum creates a Vacuum over manager, deleting blobs through
// deleter (tracked path) and objects (full-GC listing path).
func NewVacuum(manager *Manager, deleter Deleter, objects objectstore.Store, root string, log *zap.Logger) *Vacuum {
	if log == nil {
		log = zap.NewNop()
	}
	return &Vacuum{manager: manager, deleter: deleter, objects: objects, root: root, log: log.Named("vacuum"), GCBatchSize: 1000}
}

// VacuumVersionMetadata deletes every stale SST not referenced by the
// current version and not guarded by a pin on some other version. It
// is the "tracked" path: the manager already knows exactly which SSTs
// are candidates.
func (v *Vacuum) VacuumVersionMetadata(ctx context.Context) error {
	if v.manager.HasPinnedVersionOtherThanCurrent() {
		return nil
	}

	live := v.manager.LiveSSTIDs()
	stale := v.manager.StaleSSTs()

	var deleted []sstable.ID
	for _, t := range stale {
		if _, ok := live[t.ID]; ok {
			continue
		}
		if err := v.deleter.Delete(ctx, t.ID); err != nil {
			if errors.Is(err, objectstore.ErrNotFound) {
				deleted = append(deleted, t.ID)
				continue
			}
			return errors.Wrapf(err, "vacuum: delete %s", t.ID)
		}
		deleted = append(deleted, t.ID)
	}

	v.manager.ClearStale(deleted)
	if len(deleted) > 0 {
		v.log.Debug("vacuumed tracked SSTs", zap.Int("count", len(deleted)))
	}
	return nil
}

// RunFullGC lists every blob under root and deletes any whose last
// modification is older than retention and whose id is neither part
// of the current live set nor on the stale list (stale SSTs are left
// to the tracked path, which respects pins) — catching orphans left behind by a crash
// between an SST's data/meta upload and its registration in a
// version, which the tracked path above never sees because they were
// never added to the stale list in the first place.
func (v *Vacuum) RunFullGC(ctx context.Context, retention time.Duration) (int, error) {
	entries, err := v.objects.List(ctx, v.root+"/")
	if err != nil {
		return 0, errors.Wrap(err, "vacuum: list object store")
	}

	live := v.manager.LiveSSTIDs()
	for _, t := range v.manager.StaleSSTs() {
		live[t.ID] = struct{}{}
	}
	cutoff := nowMinus(retention)

	batchSize := v.GCBatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	candidates := make(map[sstable.ID]struct{})
	for _, e := range entries {
		if e.LastModified.After(cutoff) {
			continue
		}
		id, ok := parseSSTPath(v.root, e.Path)
		if !ok {
			continue
		}
		if _, ok := live[id]; ok {
			continue
		}
		candidates[id] = struct{}{}
	}

	var deleted int
	batch := make([]sstable.ID, 0, batchSize)
	flush := func() error {
		for _, id := range batch {
			if err := v.deleter.Delete(ctx, id); err != nil && !errors.Is(err, objectstore.ErrNotFound) {
				return errors.Wrapf(err, "vacuum: full gc delete %s", id)
			}
			deleted++
		}
		batch = batch[:0]
		return nil
	}

	for id := range candidates {
		batch = append(batch, id)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := flush(); err != nil {
		return deleted, err
	}

	v.log.Debug("full gc complete", zap.Int("deleted", deleted), zap.Int("candidates", len(candidates)))
	return deleted, nil
}

// nowMinus is a seam over time.Now so tests can pin a deterministic
// retention cutoff without sleeping.
var nowMinus = func(d time.Duration) time.Time { return time.Now().Add(-d) }

// parseSSTPath recovers the SST id embedded in a data or meta path
// produced by sstable.ID.DataPath/MetaPath.
func parseSSTPath(root, path string) (sstable.ID, bool) {
	prefix := root + "/"
	if !strings.HasPrefix(path, prefix) {
		return sstable.ID{}, false
	}
	name := strings.TrimPrefix(path, prefix)
	name = strings.TrimSuffix(strings.TrimSuffix(name, ".data"), ".meta")
	parts := strings.SplitN(name, "_", 2)
	if len(parts) != 2 {
		return sstable.ID{}, false
	}
	nodeID, err1 := parseHexUint64(parts[0])
	seqID, err2 := parseHexUint64(parts[1])
	if err1 != nil || err2 != nil {
		return sstable.ID{}, false
	}
	return sstable.ID{NodeID: nodeID, SeqID: seqID}, true
}

func parseHexUint64(s string) (uint64, error) {
	var v uint64
	_, err := fmt.Sscanf(s, "%x", &v)
	return v, err
}
