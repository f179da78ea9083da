package taskqueue

import (
	"context"
	"sync"
)

// Backend persists task and group state.
type Backend interface {
	SetMeta(ctx context.Context, meta TaskMeta) error
	GetMeta(ctx context.Context, taskID string) (TaskMeta, error)
	SaveGroup(ctx context.Context, group GroupMeta) error
	GetGroup(ctx context.Context, groupID string) (GroupMeta, error)
}

// MemoryBackend keeps state in process memory.
type MemoryBackend struct {
	mu     sync.RWMutex
	tasks  map[string]TaskMeta
	groups map[string]GroupMeta
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		tasks:  make(map[string]TaskMeta),
		groups: make(map[string]GroupMeta),
	}
}

func (b *MemoryBackend) SetMeta(ctx context.Context, meta TaskMeta) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks[meta.ID] = meta
	return nil
}

func (b *MemoryBackend) GetMeta(ctx context.Context, taskID string) (TaskMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	meta, ok := b.tasks[taskID]
	if !ok {
		return TaskMeta{}, ErrTaskNotFound
	}
	return meta, nil
}

func (b *MemoryBackend) SaveGroup(ctx context.Context, group GroupMeta) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.groups[group.ID] = group
	return nil
}

func (b *MemoryBackend) GetGroup(ctx context.Context, groupID string) (GroupMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	group, ok := b.groups[groupID]
	if !ok {
		return GroupMeta{}, ErrGroupNotFound
	}
	return group, nil
}
