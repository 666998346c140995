package server

import (
	"context"
)

// Cache defines the read-through cache for single records.
type Cache interface {
	GetTodo(ctx context.Context, partitionKey, rowKey string) (*TodoEntity, error)
	SetTodo(ctx context.Context, entity *TodoEntity) error
	DeleteTodo(ctx context.Context, partitionKey, rowKey string) error
}

// NoOpCache implements the Cache interface but does nothing.
type NoOpCache struct{}

// GetTodo returns a not found error
func (c *NoOpCache) GetTodo(ctx context.Context, partitionKey, rowKey string) (*TodoEntity, error) {
	return nil, ErrNotFound
}

// SetTodo does nothing
func (c *NoOpCache) SetTodo(ctx context.Context, entity *TodoEntity) error {
	return nil
}

// DeleteTodo does nothing
func (c *NoOpCache) DeleteTodo(ctx context.Context, partitionKey, rowKey string) error {
	return nil
}
