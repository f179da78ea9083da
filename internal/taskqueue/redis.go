package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	taskMetaPrefix  = "wallpaper:task-meta-"
	groupMetaPrefix = "wallpaper:group-meta-"
)

// RedisClient is the subset of go-redis used by the result backend.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

var _ RedisClient = (*redis.Client)(nil)

// RedisBackend stores task and group state as JSON values with a TTL.
type RedisBackend struct {
	rdb RedisClient
	ttl time.Duration
}

func NewRedisBackend(rdb RedisClient, ttl time.Duration) *RedisBackend {
	return &RedisBackend{rdb: rdb, ttl: ttl}
}

func (b *RedisBackend) SetMeta(ctx context.Context, meta TaskMeta) error {
	return b.set(ctx, taskMetaPrefix+meta.ID, meta)
}

func (b *RedisBackend) GetMeta(ctx context.Context, taskID string) (TaskMeta, error) {
	var meta TaskMeta
	if err := b.get(ctx, taskMetaPrefix+taskID, &meta, ErrTaskNotFound); err != nil {
		return TaskMeta{}, err
	}
	return meta, nil
}

func (b *RedisBackend) SaveGroup(ctx context.Context, group GroupMeta) error {
	return b.set(ctx, groupMetaPrefix+group.ID, group)
}

func (b *RedisBackend) GetGroup(ctx context.Context, groupID string) (GroupMeta, error) {
	var group GroupMeta
	if err := b.get(ctx, groupMetaPrefix+groupID, &group, ErrGroupNotFound); err != nil {
		return GroupMeta{}, err
	}
	return group, nil
}

func (b *RedisBackend) set(ctx context.Context, key string, v any) error {
	const op = "taskqueue.RedisBackend.set"

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := b.rdb.Set(ctx, key, data, b.ttl).Err(); err != nil {
		return fmt.Errorf("%s: %s: %w", op, key, err)
	}
	return nil
}

func (b *RedisBackend) get(ctx context.Context, key string, v any, notFound error) error {
	const op = "taskqueue.RedisBackend.get"

	data, err := b.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return notFound
		}
		return fmt.Errorf("%s: %s: %w", op, key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %s: %w", op, key, err)
	}
	return nil
}
