// Package compaction implements the sub-compaction procedure and the
// level-0/level-N+ candidate selection the manager drives it with.
package compaction

import "github.com/hummockdb/hummock/internal/sstable"

type builderWrapper struct {
	id      sstable.ID
	builder *sstable.Builder
	sealed  bool
}

// BuiltTable is one finished SST produced by a CapacitySplitBuilder.
type BuiltTable struct {
	ID        sstable.ID
	Data      []byte
	MetaBytes []byte
	Meta      *sstable.Meta
}

// CapacitySplitBuilder wraps sstable.Builder, automatically starting
// a new one once the current builder reaches its configured size —
// except inside a run of identical user keys, where the caller passes
// allowSplit=false to defer the roll until the user key changes, so a
// single user key's versions never straddle two output SSTs.
type CapacitySplitBuilder struct {
	opts     sstable.BuilderOptions
	nextID   func() (sstable.ID, error)
	builders []*builderWrapper
}

// NewCapacitySplitBuilder creates a builder that mints a fresh SST id
// via nextID each time it rolls to a new table.
func NewCapacitySplitBuilder(opts sstable.BuilderOptions, nextID func() (sstable.ID, error)) *CapacitySplitBuilder {
	return &CapacitySplitBuilder{opts: opts, nextID: nextID}
}

// Len reports how many SSTs have been started so far.
func (c *CapacitySplitBuilder) Len() int { return len(c.builders) }

// AddFullKey adds one entry to the current table, starting a new one
// first if the current table has reached capacity (or was explicitly
// sealed) and allowSplit permits rolling over here.
func (c *CapacitySplitBuilder) AddFullKey(fullKey []byte, value sstable.Value, allowSplit bool) error {
	lastIsFull := len(c.builders) == 0
	if !lastIsFull {
		last := c.builders[len(c.builders)-1]
		lastIsFull = last.builder.ShouldSeal() || last.sealed
	}
	needNew := len(c.builders) == 0 || (allowSplit && lastIsFull)

	if needNew {
		id, err := c.nextID()
		if err != nil {
			return err
		}
		c.builders = append(c.builders, &builderWrapper{id: id, builder: sstable.NewBuilder(c.opts)})
	}

	cur := c.builders[len(c.builders)-1]
	return cur.builder.Add(fullKey, value)
}

// SealCurrent marks the current table sealed: the next AddFullKey
// call with allowSplit=true starts a new one; with allowSplit=false
// the entry still goes into the sealed table, so a user key's run is
// never split. A no-op if no table has been started yet, or the
// current one is already sealed.
func (c *CapacitySplitBuilder) SealCurrent() {
	if len(c.builders) == 0 {
		return
	}
	c.builders[len(c.builders)-1].sealed = true
}

// Finish finalizes every started table into its encoded data and meta
// bytes. The builder must not be reused afterward.
func (c *CapacitySplitBuilder) Finish() ([]BuiltTable, error) {
	out := make([]BuiltTable, 0, len(c.builders))
	for _, bw := range c.builders {
		data, metaBytes, meta, err := bw.builder.Finish()
		if err != nil {
			return nil, err
		}
		out = append(out, BuiltTable{ID: bw.id, Data: data, MetaBytes: metaBytes, Meta: meta})
	}
	return out, nil
}
