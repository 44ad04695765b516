// Package objectstore provides Hummock's C1 object-store abstraction:
// named-blob put/read/delete/list with optional byte-range reads.
package objectstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned when an operation addresses a path that does
// not exist in the store.
var ErrNotFound = errors.New("objectstore: not found")

// Range selects a byte range of an object. A zero-value Range with
// Length == 0 is never passed to Read; use nil instead to read the
// whole object.
type Range struct {
	Offset int64
	Length int64
}

// Metadata describes a stored blob, returned by List.
type Metadata struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// Store is the object-store contract every backend (S3, MinIO,
// in-memory) must satisfy. All operations are suspension points: no
// implementation may block the calling goroutine on blocking I/O
// without going through ctx cancellation.
type Store interface {
	// Put writes path atomically as a whole object, overwriting any
	// existing object at path.
	Put(ctx context.Context, path string, data []byte) error
	// Read returns the bytes of path. If r is non-nil, only that byte
	// range is returned.
	Read(ctx context.Context, path string, r *Range) ([]byte, error)
	// Delete removes path. Deleting a path that does not exist is not
	// an error.
	Delete(ctx context.Context, path string) error
	// List returns metadata for every object whose path has the given
	// prefix, ordered by path.
	List(ctx context.Context, prefix string) ([]Metadata, error)
}

// memObject pairs an object's bytes with its metadata.
type memObject struct {
	data []byte
	meta Metadata
}

// MemStore is an in-memory Store, useful for tests and for running
// Hummock entirely without a network object store: a mutex-guarded
// map plus a sorted-by-path List.
type MemStore struct {
	mu      sync.Mutex
	objects map[string]memObject
	clock   func() time.Time
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		objects: make(map[string]memObject),
		clock:   time.Now,
	}
}

func (m *MemStore) Put(_ context.Context, path string, data []byte) error {
	if len(data) == 0 {
		return errors.New("objectstore: refusing to upload empty object")
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = memObject{
		data: cp,
		meta: Metadata{Path: path, Size: int64(len(cp)), LastModified: m.clock()},
	}
	return nil
}

func (m *MemStore) Read(_ context.Context, path string, r *Range) ([]byte, error) {
	m.mu.Lock()
	obj, ok := m.objects[path]
	m.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "path %q", path)
	}

	if r == nil {
		out := make([]byte, len(obj.data))
		copy(out, obj.data)
		return out, nil
	}

	end := r.Offset + r.Length
	if r.Offset < 0 || r.Length < 0 || end > int64(len(obj.data)) {
		return nil, errors.Newf("objectstore: bad range offset=%d length=%d on object of size %d", r.Offset, r.Length, len(obj.data))
	}
	out := make([]byte, r.Length)
	copy(out, obj.data[r.Offset:end])
	return out, nil
}

func (m *MemStore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	return nil
}

func (m *MemStore) List(_ context.Context, prefix string) ([]Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Metadata, 0, len(m.objects))
	for path, obj := range m.objects {
		if len(prefix) > len(path) || path[:len(prefix)] != prefix {
			continue
		}
		out = append(out, obj.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
