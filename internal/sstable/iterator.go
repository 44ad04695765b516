package sstable

import (
	"context"

	"github.com/hummockdb/hummock/pkg/fullkey"
)

// Iterator walks one SST's full keys in ascending order. Positioning
// methods (Rewind, Seek) must be called before Next or Key/Value;
// calling Next on an iterator that was never positioned panics, per
// the documented iterator-misuse contract.
type Iterator struct {
	reader *Reader

	blockIdx int
	block    *DecodedBlock

	offset int // start offset of the current entry within block.Data()
	next   int // start offset of the following entry

	key      []byte
	rawValue []byte
	valid    bool
	started  bool
}

// NewIterator creates a forward Iterator over reader. The iterator is
// not positioned until Rewind or Seek is called.
func NewIterator(reader *Reader) *Iterator {
	return &Iterator{reader: reader, blockIdx: -1}
}

// Valid reports whether the iterator currently points at an entry.
func (it *Iterator) Valid() bool { return it.valid }

// Key returns the full key at the iterator's current position. Valid
// must be true.
func (it *Iterator) Key() []byte { return it.key }

// Value decodes the value at the iterator's current position.
func (it *Iterator) Value() (Value, error) { return DecodeValue(it.rawValue) }

// Rewind positions the iterator at the first entry of the SST.
func (it *Iterator) Rewind(ctx context.Context) error {
	it.started = true
	return it.positionAtBlockStart(ctx, 0)
}

// Seek positions the iterator at the first entry whose full key is >=
// target, or makes it invalid if no such entry exists.
func (it *Iterator) Seek(ctx context.Context, target []byte) error {
	it.started = true

	blockIdx := it.reader.blockContaining(target)
	if blockIdx == -1 {
		it.valid = false
		return nil
	}
	block, err := it.reader.blocks.GetBlock(ctx, blockIdx)
	if err != nil {
		return err
	}

	restart := block.SearchRestart(target, func(offset uint32) []byte {
		return keyAtOffset(block, offset)
	})
	offset := int(block.RestartOffset(restart))
	var prevKey []byte

	for {
		key, value, nextOffset, err := decodeEntryAt(block.Data(), offset, prevKey)
		if err != nil {
			return err
		}
		if fullkey.Compare(key, target) >= 0 {
			it.blockIdx = blockIdx
			it.block = block
			it.offset = offset
			it.next = nextOffset
			it.key = key
			it.rawValue = value
			it.valid = true
			return nil
		}
		if nextOffset >= len(block.Data()) {
			return it.positionAtBlockStart(ctx, blockIdx+1)
		}
		prevKey = key
		offset = nextOffset
	}
}

// Next advances to the following entry.
func (it *Iterator) Next(ctx context.Context) error {
	if !it.started {
		panic("sstable: Next called before Rewind or Seek")
	}
	if !it.valid {
		return nil
	}

	if it.next >= len(it.block.Data()) {
		return it.positionAtBlockStart(ctx, it.blockIdx+1)
	}

	key, value, nextOffset, err := decodeEntryAt(it.block.Data(), it.next, it.key)
	if err != nil {
		return err
	}
	it.offset = it.next
	it.key = key
	it.rawValue = value
	it.next = nextOffset
	return nil
}

func (it *Iterator) positionAtBlockStart(ctx context.Context, blockIdx int) error {
	if blockIdx >= len(it.reader.meta.BlockIndex) {
		it.valid = false
		return nil
	}
	block, err := it.reader.blocks.GetBlock(ctx, blockIdx)
	if err != nil {
		return err
	}
	key, value, nextOffset, err := decodeEntryAt(block.Data(), 0, nil)
	if err != nil {
		return err
	}
	it.blockIdx = blockIdx
	it.block = block
	it.offset = 0
	it.next = nextOffset
	it.key = key
	it.rawValue = value
	it.valid = true
	return nil
}

// ReverseIterator walks one SST's full keys in descending order.
type ReverseIterator struct {
	reader *Reader

	blockIdx int
	entries  []decodedEntry
	pos      int

	valid   bool
	started bool
}

type decodedEntry struct {
	key   []byte
	value []byte
}

// NewReverseIterator creates a ReverseIterator over reader.
func NewReverseIterator(reader *Reader) *ReverseIterator {
	return &ReverseIterator{reader: reader, blockIdx: -1}
}

func (it *ReverseIterator) Valid() bool { return it.valid }
func (it *ReverseIterator) Key() []byte { return it.entries[it.pos].key }
func (it *ReverseIterator) Value() (Value, error) {
	return DecodeValue(it.entries[it.pos].value)
}

// Rewind positions the iterator at the last entry of the SST.
func (it *ReverseIterator) Rewind(ctx context.Context) error {
	it.started = true
	last := len(it.reader.meta.BlockIndex) - 1
	if last < 0 {
		it.valid = false
		return nil
	}
	if err := it.loadBlock(ctx, last); err != nil {
		return err
	}
	it.pos = len(it.entries) - 1
	it.valid = true
	return nil
}

// SeekForPrev positions the iterator at the last entry whose full key
// is <= target, or makes it invalid if no such entry exists.
func (it *ReverseIterator) SeekForPrev(ctx context.Context, target []byte) error {
	it.started = true

	blockIdx := it.reader.blockContaining(target)
	if blockIdx == -1 {
		blockIdx = len(it.reader.meta.BlockIndex) - 1
	}
	if blockIdx < 0 {
		it.valid = false
		return nil
	}
	if err := it.loadBlock(ctx, blockIdx); err != nil {
		return err
	}

	pos := -1
	for i, e := range it.entries {
		if fullkey.Compare(e.key, target) > 0 {
			break
		}
		pos = i
	}
	if pos == -1 {
		return it.positionAtBlockEnd(ctx, blockIdx-1)
	}
	it.pos = pos
	it.valid = true
	return nil
}

// Prev moves to the preceding entry.
func (it *ReverseIterator) Prev(ctx context.Context) error {
	if !it.started {
		panic("sstable: Prev called before Rewind or SeekForPrev")
	}
	if !it.valid {
		return nil
	}
	if it.pos > 0 {
		it.pos--
		return nil
	}
	return it.positionAtBlockEnd(ctx, it.blockIdx-1)
}

func (it *ReverseIterator) positionAtBlockEnd(ctx context.Context, blockIdx int) error {
	if blockIdx < 0 {
		it.valid = false
		return nil
	}
	if err := it.loadBlock(ctx, blockIdx); err != nil {
		return err
	}
	it.pos = len(it.entries) - 1
	it.valid = true
	return nil
}

func (it *ReverseIterator) loadBlock(ctx context.Context, blockIdx int) error {
	block, err := it.reader.blocks.GetBlock(ctx, blockIdx)
	if err != nil {
		return err
	}
	entries, err := decodeAllEntries(block.Data())
	if err != nil {
		return err
	}
	it.blockIdx = blockIdx
	it.entries = entries
	return nil
}

func decodeAllEntries(data []byte) ([]decodedEntry, error) {
	var entries []decodedEntry
	var prevKey []byte
	offset := 0
	for offset < len(data) {
		key, value, next, err := decodeEntryAt(data, offset, prevKey)
		if err != nil {
			return nil, err
		}
		entries = append(entries, decodedEntry{key: key, value: value})
		prevKey = key
		offset = next
	}
	return entries, nil
}
