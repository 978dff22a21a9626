package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	stdsync "sync"
	"time"

	"nassync/internal/model"
	"nassync/internal/sync"
)

// StoredObject is one object held by a MemoryStore.
type StoredObject struct {
	Data        []byte
	ContentType string
	Version     string
}

// MemoryStore is an in-memory ObjectStore for tests. It records every Put
// and supports injected per-key failures.
type MemoryStore struct {
	mu      stdsync.Mutex
	bucket  string
	objects map[string]StoredObject
	fails   map[string]error
	puts    int
}

func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string]StoredObject),
		fails:   make(map[string]error),
	}
}

// FailKey makes subsequent Puts of key fail with err.
func (m *MemoryStore) FailKey(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fails[key] = err
}

func (m *MemoryStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*model.UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("object key cannot be empty")
	}

	m.mu.Lock()
	failErr := m.fails[key]
	m.mu.Unlock()
	if failErr != nil {
		return nil, failErr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading object body: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return nil, fmt.Errorf("object %s: declared %d bytes, read %d", key, size, len(data))
	}

	sum := sha256.Sum256(data)
	version := hex.EncodeToString(sum[:8])

	m.mu.Lock()
	m.objects[key] = StoredObject{Data: data, ContentType: contentType, Version: version}
	m.puts++
	m.mu.Unlock()

	return &model.UploadResult{
		Key:      key,
		Version:  version,
		Duration: time.Millisecond,
	}, nil
}

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryStore) Bucket() string {
	return m.bucket
}

// Object returns the stored object for key and whether it exists.
func (m *MemoryStore) Object(key string) (StoredObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// PutCount returns the number of successful Put calls.
func (m *MemoryStore) PutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// Compile-time check that MemoryStore implements sync.ObjectStore
var _ sync.ObjectStore = (*MemoryStore)(nil)
