package recoverylog

import (
	"testing"

	"github.com/hummockdb/hummock/internal/sstable"
)

func TestWriterAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	sw, err := NewDiskSegmentWriter(dir, WithMaxSegmentSize(256))
	if err != nil {
		t.Fatalf("NewDiskSegmentWriter: %v", err)
	}
	w := NewWriter(sw, 4)

	want := []*Entry{
		{Epoch: 1, UserKey: []byte("a"), Value: sstable.Value{Kind: sstable.KindPut, Payload: []byte("v1")}},
		{Epoch: 1, UserKey: []byte("b"), Value: sstable.Value{Kind: sstable.KindPut, Payload: []byte("v2")}},
		{Epoch: 2, UserKey: []byte("a"), Value: sstable.Value{Kind: sstable.KindDelete}},
	}
	for _, e := range want {
		if err := w.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var got []*Entry
	err = Replay(dir, func(e *Entry) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("replayed %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Epoch != want[i].Epoch || string(got[i].UserKey) != string(want[i].UserKey) ||
			got[i].Value.Kind != want[i].Value.Kind || string(got[i].Value.Payload) != string(want[i].Value.Payload) {
			t.Fatalf("entry %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestWriterAppendAfterCloseFails(t *testing.T) {
	dir := t.TempDir()
	sw, err := NewDiskSegmentWriter(dir)
	if err != nil {
		t.Fatalf("NewDiskSegmentWriter: %v", err)
	}
	w := NewWriter(sw, 1)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	err = w.Append(&Entry{Epoch: 1, UserKey: []byte("x"), Value: sstable.Value{Kind: sstable.KindPut, Payload: []byte("y")}})
	if err != ErrClosed {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}

func TestSegmentRotationAcrossMultipleFiles(t *testing.T) {
	dir := t.TempDir()
	sw, err := NewDiskSegmentWriter(dir, WithMaxSegmentSize(64))
	if err != nil {
		t.Fatalf("NewDiskSegmentWriter: %v", err)
	}
	w := NewWriter(sw, 4)
	for i := 0; i < 20; i++ {
		e := &Entry{Epoch: uint64(i), UserKey: []byte("key"), Value: sstable.Value{Kind: sstable.KindPut, Payload: []byte("payload")}}
		if err := w.Append(e); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var count int
	err = Replay(dir, func(e *Entry) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if count != 20 {
		t.Fatalf("replayed %d entries across rotated segments, want 20", count)
	}
}
