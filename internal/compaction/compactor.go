package compaction

import (
	"context"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hummockdb/hummock/internal/iterator"
	"github.com/hummockdb/hummock/pkg/fullkey"
)

// Split is one key-range slice of a compact task, driving one
// sub-compaction. An empty Left/Right bound means unbounded on that
// side.
type Split struct {
	Left  []byte
	Right []byte
}

// Task is one compaction job handed down by the version manager:
// NewSources builds a fresh, independently-positioned set of source
// iterators over the task's input SSTs (each split runs its own
// merge iterator concurrently, so sources can't be shared across
// splits), a watermark epoch below which superseded versions may be
// dropped, a set of key-range splits to run in parallel, and whether
// the output level has nothing below it.
type Task struct {
	NewSources          func() []iterator.ForwardIterator
	Watermark           uint64
	Splits              []Split
	TargetIsBottomLevel bool
}

// SubCompact runs the sub-compaction procedure for one split over a
// fresh merge iterator built from sources, feeding surviving entries
// into builder. It tracks skipUserKey (a user key currently being
// squelched because a version below the watermark was seen) and
// lastKey (the previous full key), matching the documented per-split
// algorithm exactly.
func SubCompact(ctx context.Context, sources []iterator.ForwardIterator, split Split, watermark uint64, targetIsBottomLevel bool, builder *CapacitySplitBuilder) error {
	merged := iterator.NewMergeIterator(sources)

	var err error
	if len(split.Left) > 0 {
		err = merged.Seek(ctx, split.Left)
	} else {
		err = merged.Rewind(ctx)
	}
	if err != nil {
		return errors.Wrap(err, "compaction: position merge iterator")
	}

	var skipUserKey []byte
	var lastKey []byte

	for merged.Valid() {
		key := merged.Key()

		if skipUserKey != nil {
			if fullkey.SameUserKey(key, skipUserKey) {
				if err := merged.Next(ctx); err != nil {
					return errors.Wrap(err, "compaction: advance merge iterator")
				}
				continue
			}
			skipUserKey = nil
		}

		isNewUserKey := lastKey == nil || !fullkey.SameUserKey(key, lastKey)
		if isNewUserKey {
			if len(split.Right) > 0 && fullkey.Compare(key, split.Right) >= 0 {
				break
			}
			lastKey = append(lastKey[:0], key...)
		}

		value, err := merged.Value()
		if err != nil {
			return errors.Wrap(err, "compaction: decode value")
		}

		drop := false
		if fullkey.Epoch(key) < watermark {
			skipUserKey = append(skipUserKey[:0], key...)
			if value.IsDelete() && targetIsBottomLevel {
				drop = true
			}
		}

		if !drop {
			if err := builder.AddFullKey(key, value, isNewUserKey); err != nil {
				return errors.Wrap(err, "compaction: add entry to output sst")
			}
		}

		if err := merged.Next(ctx); err != nil {
			return errors.Wrap(err, "compaction: advance merge iterator")
		}
	}
	return nil
}

// Run executes every split of task concurrently (bounded by
// concurrency), then concatenates their output tables in split order.
// On any split's failure, the partial output of every split is
// discarded (the caller is responsible for deleting any already
// uploaded blobs) and the first error is returned.
func Run(ctx context.Context, task Task, newBuilder func() *CapacitySplitBuilder, concurrency int) ([]BuiltTable, error) {
	results := make([][]BuiltTable, len(task.Splits))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, split := range task.Splits {
		i, split := i, split
		g.Go(func() error {
			builder := newBuilder()
			sources := task.NewSources()
			if err := SubCompact(gctx, sources, split, task.Watermark, task.TargetIsBottomLevel, builder); err != nil {
				return err
			}
			builder.SealCurrent()
			tables, err := builder.Finish()
			if err != nil {
				return err
			}
			results[i] = tables
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []BuiltTable
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}
