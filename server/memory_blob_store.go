package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

type memoryBlob struct {
	data        []byte
	contentType string
}

// MemoryBlobStore is an in-memory BlobStore implementation for tests and
// local runs. Thread-safe for concurrent reads and writes.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

// NewMemoryBlobStore creates a new in-memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{
		blobs: make(map[string]memoryBlob),
	}
}

// Put writes the full object, overwriting any existing blob with the name.
func (m *MemoryBlobStore) Put(_ context.Context, name string, data io.Reader, size int64, contentType string) error {
	content, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("failed to read blob data: %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.blobs[name] = memoryBlob{data: content, contentType: contentType}
	return nil
}

// Get returns a reader over a copy of the stored bytes plus metadata.
func (m *MemoryBlobStore) Get(_ context.Context, name string) (io.ReadCloser, *BlobInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blob, ok := m.blobs[name]
	if !ok {
		return nil, nil, ErrNotFound
	}

	// Copy to prevent external mutation
	copied := make([]byte, len(blob.data))
	copy(copied, blob.data)

	info := &BlobInfo{
		ContentType: blob.contentType,
		Length:      int64(len(copied)),
	}

	return io.NopCloser(bytes.NewReader(copied)), info, nil
}

// Delete removes the blob if present and reports whether it existed.
func (m *MemoryBlobStore) Delete(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.blobs[name]
	delete(m.blobs, name)
	return ok, nil
}

// Exists checks for the blob without copying its content.
func (m *MemoryBlobStore) Exists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.blobs[name]
	return ok, nil
}
