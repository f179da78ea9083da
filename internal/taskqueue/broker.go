package taskqueue

import (
	"context"
	"sync"
)

// Handler executes one delivered message.
type Handler func(ctx context.Context, msg Message) error

// Broker moves messages from publishers to workers with at-least-once delivery.
type Broker interface {
	Publish(ctx context.Context, msg Message) error
	// Consume delivers messages to h until ctx is done.
	Consume(ctx context.Context, h Handler) error
	Close() error
}

// MemoryBroker queues messages in process. ETAs are recorded but not awaited.
type MemoryBroker struct {
	mu     sync.Mutex
	queue  []Message
	notify chan struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{notify: make(chan struct{}, 1)}
}

func (b *MemoryBroker) Publish(ctx context.Context, msg Message) error {
	b.mu.Lock()
	b.queue = append(b.queue, msg)
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

func (b *MemoryBroker) pop() (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return Message{}, false
	}
	msg := b.queue[0]
	b.queue = b.queue[1:]
	return msg, true
}

func (b *MemoryBroker) Consume(ctx context.Context, h Handler) error {
	for {
		if msg, ok := b.pop(); ok {
			_ = h(ctx, msg)
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-b.notify:
		}
	}
}

// Drain delivers queued messages, including ones published while draining, until the
// queue is empty, and returns how many were delivered.
func (b *MemoryBroker) Drain(ctx context.Context, h Handler) int {
	n := 0
	for {
		msg, ok := b.pop()
		if !ok {
			return n
		}
		_ = h(ctx, msg)
		n++
	}
}

// Pending returns a snapshot of undelivered messages.
func (b *MemoryBroker) Pending() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.queue...)
}

func (b *MemoryBroker) Close() error { return nil }
