package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache implements the Cache interface using Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(ctx context.Context, address string, ttlSeconds int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        address,
		Password:    "", // no password
		DB:          0,  // use default DB
		DialTimeout: 2 * time.Second,
		ReadTimeout: 2 * time.Second,
	})

	// Test connection with the provided context
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &RedisCache{
		client: client,
		ttl:    time.Duration(ttlSeconds) * time.Second,
	}, nil
}

// Close closes the Redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// GetTodo gets a record from the cache
func (c *RedisCache) GetTodo(ctx context.Context, partitionKey, rowKey string) (*TodoEntity, error) {
	key := todoCacheKey(partitionKey, rowKey)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var entity TodoEntity
	if err := json.Unmarshal(data, &entity); err != nil {
		return nil, err
	}

	return &entity, nil
}

// SetTodo sets a record in the cache
func (c *RedisCache) SetTodo(ctx context.Context, entity *TodoEntity) error {
	key := todoCacheKey(entity.PartitionKey, entity.RowKey)
	data, err := json.Marshal(entity)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// DeleteTodo deletes a record from the cache
func (c *RedisCache) DeleteTodo(ctx context.Context, partitionKey, rowKey string) error {
	return c.client.Del(ctx, todoCacheKey(partitionKey, rowKey)).Err()
}

func todoCacheKey(partitionKey, rowKey string) string {
	return fmt.Sprintf("todo:%s:%s", partitionKey, rowKey)
}
