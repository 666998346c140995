package server

import (
	"context"
	"sort"
	"sync"
)

type entityKey struct {
	partition string
	row       string
}

// MemoryStore is an in-memory RecordStore implementation for tests and local
// runs. It follows the same conditional-write rules as the DynamoDB backend.
// Thread-safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[entityKey]*TodoEntity
}

// NewMemoryStore creates a new in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[entityKey]*TodoEntity),
	}
}

// Create inserts a new row, rejecting an existing key.
func (m *MemoryStore) Create(_ context.Context, entity *TodoEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entityKey{entity.PartitionKey, entity.RowKey}
	if _, ok := m.rows[key]; ok {
		return ErrConflict
	}

	entity.Version = newVersion()
	m.rows[key] = cloneEntity(entity)
	return nil
}

// Get returns a copy of the row or ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, partitionKey, rowKey string) (*TodoEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entity, ok := m.rows[entityKey{partitionKey, rowKey}]
	if !ok {
		return nil, ErrNotFound
	}

	return cloneEntity(entity), nil
}

// List returns matching rows ordered by (partition_key, row_key).
func (m *MemoryStore) List(_ context.Context, query *Query) ([]*TodoEntity, error) {
	if query == nil {
		query = &Query{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entities := make([]*TodoEntity, 0, len(m.rows))
	for _, entity := range m.rows {
		if query.Partition != "" && entity.PartitionKey != query.Partition {
			continue
		}
		if query.RowKeyAfter != "" && entity.RowKey <= query.RowKeyAfter {
			continue
		}
		entities = append(entities, cloneEntity(entity))
	}

	sort.Slice(entities, func(i, j int) bool {
		if entities[i].PartitionKey != entities[j].PartitionKey {
			return entities[i].PartitionKey < entities[j].PartitionKey
		}
		return entities[i].RowKey < entities[j].RowKey
	})

	return entities, nil
}

// Update merges the patch into the stored row under the lock, so the
// read-then-write is atomic here and never conflicts with itself.
func (m *MemoryStore) Update(_ context.Context, partitionKey, rowKey string, patch *TodoPatch) (*TodoEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entityKey{partitionKey, rowKey}
	entity, ok := m.rows[key]
	if !ok {
		return nil, ErrNotFound
	}

	updated := cloneEntity(entity)
	patch.Apply(updated)
	updated.Version = newVersion()
	m.rows[key] = updated

	return cloneEntity(updated), nil
}

// Delete removes the row, reporting ErrNotFound when absent.
func (m *MemoryStore) Delete(_ context.Context, partitionKey, rowKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entityKey{partitionKey, rowKey}
	if _, ok := m.rows[key]; !ok {
		return ErrNotFound
	}

	delete(m.rows, key)
	return nil
}

func cloneEntity(entity *TodoEntity) *TodoEntity {
	copied := *entity
	return &copied
}
