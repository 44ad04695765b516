package recoverylog

import (
	"io"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrClosed is returned by Append once the writer has been closed.
var ErrClosed = errors.New("recoverylog: writer closed")

type appendRequest struct {
	entry *Entry
	done  chan error
}

// Writer serializes concurrent Append calls onto one SegmentWriter
// through a single background goroutine, so record framing (the
// seek-back CRC patch) never races across writers sharing one active
// segment file.
type Writer struct {
	mu     sync.Mutex
	ch     chan *appendRequest
	done   chan struct{}
	closed bool
	sw     SegmentWriter
	wg     sync.WaitGroup
}

// NewWriter starts a Writer appending through sw. buffer sizes the
// internal request channel.
func NewWriter(sw SegmentWriter, buffer int) *Writer {
	w := &Writer{
		ch:   make(chan *appendRequest, buffer),
		done: make(chan struct{}),
		sw:   sw,
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Append logs entry and blocks until it has been durably written (or
// the write failed).
func (w *Writer) Append(entry *Entry) error {
	req := &appendRequest{entry: entry, done: make(chan error, 1)}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	select {
	case w.ch <- req:
	case <-w.done:
		w.mu.Unlock()
		return ErrClosed
	}
	w.mu.Unlock()

	return <-req.done
}

func (w *Writer) loop() {
	defer w.wg.Done()
	for req := range w.ch {
		var encodeErr error
		err := w.sw.WriteActive(req.entry.Size(), func(out io.Writer) {
			// Entry.Encode needs an io.Seeker too, which every
			// SegmentWriter implementation in this package satisfies via
			// *os.File.
			if _, ok := out.(io.Seeker); !ok {
				encodeErr = errors.New("recoverylog: segment writer is not seekable")
				return
			}
			encodeErr = req.entry.Encode(out)
		})
		if err == nil {
			err = encodeErr
		}
		req.done <- err
	}
}

// Close stops accepting new entries, drains in-flight ones, and
// closes the underlying SegmentWriter.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.done)
	w.mu.Unlock()

	close(w.ch)
	w.wg.Wait()
	return w.sw.Close()
}
