// Package recoverylog is the optional write-ahead log the shared
// buffer appends to before acknowledging a write_batch, replayed on
// reopen to recover epochs that were written but never synced to an
// SST.
package recoverylog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
)

const (
	defaultMaxSegmentSize = 16 * 1024 * 1024
	logFileExt            = ".log"
)

var segmentFileNamePattern = regexp.MustCompile(`^segment-(\d+)\.log$`)

// segmentEntry names one on-disk segment file by its sequence id.
type segmentEntry struct {
	id   int
	name string
}

type segmentEntries []segmentEntry

func (a segmentEntries) Len() int           { return len(a) }
func (a segmentEntries) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a segmentEntries) Less(i, j int) bool { return a[i].id < a[j].id }

// SegmentWriter is the interface a recoverylog Writer appends
// through: one active file that rotates once it would exceed its
// configured size.
type SegmentWriter interface {
	WriteActive(n int, fn func(w io.Writer)) error
	RotateSegment() error
	Sync() error
	Close() error
}

// DiskSegmentWriter is a SegmentWriter backed by rotating files named
// segment-<NNNN>.log under one directory.
type DiskSegmentWriter struct {
	mu             sync.Mutex
	active         *os.File
	activeID       int
	dir            string
	maxSegmentSize int64
}

// DiskSegmentWriterOption configures NewDiskSegmentWriter.
type DiskSegmentWriterOption func(*DiskSegmentWriter)

// WithMaxSegmentSize overrides the default 16 MiB rotation threshold.
func WithMaxSegmentSize(n int64) DiskSegmentWriterOption {
	return func(s *DiskSegmentWriter) { s.maxSegmentSize = n }
}

// NewDiskSegmentWriter opens (or creates) a segment directory,
// resuming at its newest segment if one already exists.
func NewDiskSegmentWriter(dir string, opts ...DiskSegmentWriterOption) (*DiskSegmentWriter, error) {
	s := &DiskSegmentWriter{dir: dir, maxSegmentSize: defaultMaxSegmentSize}
	for _, opt := range opts {
		opt(s)
	}

	if err := isDirectoryValid(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
			return initializeEmptySegmentDir(s)
		}
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var found segmentEntries
	for _, entry := range entries {
		if !entry.Type().IsRegular() || filepath.Ext(entry.Name()) != logFileExt {
			continue
		}
		matches := segmentFileNamePattern.FindStringSubmatch(entry.Name())
		if len(matches) != 2 {
			continue
		}
		id, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}
		found = append(found, segmentEntry{id: id, name: entry.Name()})
	}

	if len(found) == 0 {
		return initializeEmptySegmentDir(s)
	}

	sort.Sort(found)
	if !validateSegmentEntries(found) {
		return nil, fmt.Errorf("recoverylog: invalid segment sequence in %s", dir)
	}

	s.activeID = found[len(found)-1].id
	active, err := os.OpenFile(s.idToPath(s.activeID), os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recoverylog: open active segment: %w", err)
	}
	if _, err := active.Seek(0, io.SeekEnd); err != nil {
		active.Close()
		return nil, fmt.Errorf("recoverylog: seek active segment: %w", err)
	}
	s.active = active
	return s, nil
}

func isDirectoryValid(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return nil
		}
		return fmt.Errorf("recoverylog: %s exists but is not a directory", path)
	}
	return err
}

func initializeEmptySegmentDir(s *DiskSegmentWriter) (*DiskSegmentWriter, error) {
	if err := s.RotateSegment(); err != nil {
		return nil, fmt.Errorf("recoverylog: create first segment: %w", err)
	}
	return s, nil
}

func validateSegmentEntries(entries segmentEntries) bool {
	for i, e := range entries {
		if e.id != i+1 {
			return false
		}
	}
	return true
}

func (s *DiskSegmentWriter) idToPath(id int) string {
	return filepath.Join(s.dir, fmt.Sprintf("segment-%04d%s", id, logFileExt))
}

func (s *DiskSegmentWriter) RotateSegment() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotateLocked()
}

// rotateLocked closes the active segment and creates the next one.
// The caller holds s.mu.
func (s *DiskSegmentWriter) rotateLocked() error {
	if s.active != nil {
		if err := s.active.Close(); err != nil {
			return fmt.Errorf("recoverylog: close previous segment: %w", err)
		}
	}

	s.activeID++
	file, err := os.Create(s.idToPath(s.activeID))
	if err != nil {
		return err
	}
	s.active = file
	return nil
}

func (s *DiskSegmentWriter) WriteActive(n int, fn func(w io.Writer)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int64(n) > s.maxSegmentSize {
		return fmt.Errorf("recoverylog: entry of %d bytes exceeds max segment size %d", n, s.maxSegmentSize)
	}
	if s.active == nil {
		return fmt.Errorf("recoverylog: active segment not initialized")
	}

	stat, err := s.active.Stat()
	if err != nil {
		return fmt.Errorf("recoverylog: stat active segment: %w", err)
	}
	if stat.Size()+int64(n) > s.maxSegmentSize {
		if err := s.rotateLocked(); err != nil {
			return fmt.Errorf("recoverylog: rotate segment: %w", err)
		}
	}

	fn(s.active)

	if err := s.active.Sync(); err != nil {
		return fmt.Errorf("recoverylog: sync active segment: %w", err)
	}
	return nil
}

func (s *DiskSegmentWriter) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return fmt.Errorf("recoverylog: active segment not initialized")
	}
	if err := s.active.Sync(); err != nil {
		return fmt.Errorf("recoverylog: sync active segment: %w", err)
	}
	return nil
}

func (s *DiskSegmentWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	if err := s.active.Close(); err != nil {
		return fmt.Errorf("recoverylog: close active segment: %w", err)
	}
	return nil
}
