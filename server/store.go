package server

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Structured outcomes of normal operation. Handlers branch on these with
// errors.Is; anything else from a store is a backend failure.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Todo is the domain record exposed over HTTP.
type Todo struct {
	ID          string    `json:"id"`
	CreatedTime time.Time `json:"createdTime"`
	Name        string    `json:"name"`
	IsCompleted bool      `json:"isCompleted"`
}

// NewTodo builds a record with a server-assigned id and creation time.
func NewTodo(name string) *Todo {
	id := uuid.New()
	return &Todo{
		ID:          hex.EncodeToString(id[:]),
		CreatedTime: time.Now().UTC(),
		Name:        name,
	}
}

// TodoEntity is the persisted row shape for a Todo. A row is identified by
// (partition_key, row_key); the row key is the record id. Version is an opaque
// token regenerated on every successful write, used for optimistic concurrency.
type TodoEntity struct {
	PartitionKey string `json:"partition_key"`
	RowKey       string `json:"row_key"`
	Name         string `json:"name"`
	IsCompleted  bool   `json:"is_completed"`
	CreatedTime  int64  `json:"created_time"`
	Version      string `json:"version"`
}

// ToEntity encodes a Todo into its row representation under the given
// partition. No validation happens here; that is the caller's job.
func ToEntity(todo *Todo, partitionKey string) *TodoEntity {
	return &TodoEntity{
		PartitionKey: partitionKey,
		RowKey:       todo.ID,
		Name:         todo.Name,
		IsCompleted:  todo.IsCompleted,
		CreatedTime:  todo.CreatedTime.Unix(),
	}
}

// ToTodo decodes a row back into the domain record, recovering the id from
// the row key.
func ToTodo(entity *TodoEntity) *Todo {
	return &Todo{
		ID:          entity.RowKey,
		CreatedTime: time.Unix(entity.CreatedTime, 0).UTC(),
		Name:        entity.Name,
		IsCompleted: entity.IsCompleted,
	}
}

// TodoPatch is a partial update. IsCompleted always replaces the stored value;
// Nombre replaces the stored name only when non-empty.
type TodoPatch struct {
	Nombre      string `json:"nombre"`
	IsCompleted bool   `json:"isCompleted"`
}

// Apply merges the patch into the entity.
func (p *TodoPatch) Apply(entity *TodoEntity) {
	entity.IsCompleted = p.IsCompleted
	if p.Nombre != "" {
		entity.Name = p.Nombre
	}
}

// Query restricts a List call. The zero value returns every row.
type Query struct {
	// Partition, when non-empty, keeps only rows in that partition.
	Partition string
	// RowKeyAfter, when non-empty, keeps only rows whose row key sorts
	// strictly after it. Combined with Partition by logical AND.
	RowKeyAfter string
}

// RecordStore defines the partitioned record operations.
type RecordStore interface {
	// Create inserts a new row. Returns ErrConflict if the
	// (partition_key, row_key) pair already exists.
	Create(ctx context.Context, entity *TodoEntity) error

	// Get returns the row or ErrNotFound.
	Get(ctx context.Context, partitionKey, rowKey string) (*TodoEntity, error)

	// List returns rows matching the query. Results are in a deterministic
	// order consistent across reads of unchanged data.
	List(ctx context.Context, query *Query) ([]*TodoEntity, error)

	// Update reads the row, applies the patch, and writes back conditioned
	// on the version token read. Returns ErrNotFound if the row is absent
	// and ErrConflict if a concurrent writer changed it in between.
	Update(ctx context.Context, partitionKey, rowKey string, patch *TodoPatch) (*TodoEntity, error)

	// Delete removes the row regardless of its version. Returns ErrNotFound
	// if no row exists at delete time.
	Delete(ctx context.Context, partitionKey, rowKey string) error
}

// newVersion returns a fresh version token.
func newVersion() string {
	return uuid.NewString()
}
