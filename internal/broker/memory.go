package broker

import (
	"context"
	"slices"
	"sync"
)

const memoryBufferSize = 1024

type memSub struct {
	ch   chan []byte
	done chan struct{}
}

// MemoryBroker fans messages out to in-process subscribers.
// Publish blocks while a subscriber's buffer is full rather than dropping.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[string][]*memSub
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string][]*memSub)}
}

func (b *MemoryBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	list := slices.Clone(b.subs[channel])
	b.mu.RUnlock()

	for _, s := range list {
		select {
		case s.ch <- slices.Clone(payload):
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channel string, h Handler) error {
	s := &memSub{ch: make(chan []byte, memoryBufferSize), done: make(chan struct{})}
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], s)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.subs[channel] = slices.DeleteFunc(b.subs[channel], func(v *memSub) bool { return v == s })
		b.mu.Unlock()
		close(s.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-s.ch:
			h(ctx, p)
		}
	}
}

// Subscribers reports how many subscriptions are live on channel.
func (b *MemoryBroker) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

func (b *MemoryBroker) Close() error { return nil }
