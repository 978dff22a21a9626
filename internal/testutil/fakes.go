package testutil

import (
	"nassync/internal/adapter"
	"nassync/internal/queue"
	"nassync/internal/storage"
)

// NewMemoryAdapter creates an empty in-memory filesystem adapter.
func NewMemoryAdapter() *adapter.MemoryAdapter {
	return adapter.NewMemoryAdapter()
}

// NewMemoryStore creates an in-memory object store for the given bucket.
func NewMemoryStore(bucket string) *storage.MemoryStore {
	return storage.NewMemoryStore(bucket)
}

// NewMemoryQueue creates an in-memory delivery queue. hasDLQ controls whether
// the fake reports a dead-letter destination.
func NewMemoryQueue(hasDLQ bool) *queue.MemoryQueue {
	return queue.NewMemoryQueue(hasDLQ)
}
