package realtime

import (
	"context"
	"sync"
	"sync/atomic"
)

const memoryBufferSize = 256

// MemoryBus is an in-process Bus. It backs single-node deployments without
// Redis and the tests. A subscriber whose buffer is full is evicted: its
// Events channel is closed and the consumer is expected to resubscribe.
type MemoryBus struct {
	mu      sync.RWMutex
	subs    map[Stream]map[*memorySubscription]struct{}
	evicted atomic.Int64
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[Stream]map[*memorySubscription]struct{})}
}

type memorySubscription struct {
	bus    *MemoryBus
	stream Stream
	events chan RowChange

	mu     sync.Mutex
	closed bool
}

func (s *memorySubscription) Events() <-chan RowChange { return s.events }

func (s *memorySubscription) Close() error {
	s.detach()
	s.shut()
	return nil
}

func (s *memorySubscription) detach() {
	s.bus.mu.Lock()
	delete(s.bus.subs[s.stream], s)
	s.bus.mu.Unlock()
}

func (s *memorySubscription) shut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.events)
	return true
}

// offer queues change without blocking. It reports false when the buffer is
// full.
func (s *memorySubscription) offer(change RowChange) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.events <- change:
		return true
	default:
		return false
	}
}

func (b *MemoryBus) Subscribe(ctx context.Context, stream Stream) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &memorySubscription{
		bus:    b,
		stream: stream,
		events: make(chan RowChange, memoryBufferSize),
	}
	b.mu.Lock()
	if b.subs[stream] == nil {
		b.subs[stream] = make(map[*memorySubscription]struct{})
	}
	b.subs[stream][sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

// Publish delivers change to every current subscriber of its stream in
// order. It never waits on a slow subscriber: one whose buffer is full is
// evicted instead.
func (b *MemoryBus) Publish(ctx context.Context, change RowChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	targets := make([]*memorySubscription, 0, len(b.subs[change.Stream]))
	for sub := range b.subs[change.Stream] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if sub.offer(change) {
			continue
		}
		sub.detach()
		if sub.shut() {
			b.evicted.Add(1)
		}
	}
	return nil
}

// Evicted returns how many subscribers were dropped for falling behind.
func (b *MemoryBus) Evicted() int64 {
	return b.evicted.Load()
}

// Subscribers returns the number of live subscriptions on stream.
func (b *MemoryBus) Subscribers(stream Stream) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[stream])
}
