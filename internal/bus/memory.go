package bus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process model.Bus used by tests and the backtest
// worker, where nothing crosses a process boundary. Semantics match the
// Redis bus: no replay, slow subscribers drop.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan []byte
}

// NewMemory creates an empty in-memory bus.
func NewMemory() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]chan []byte)}
}

// Publish fans the payload out to every subscriber of the channel.
func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
			// Slow subscriber: drop, like pub/sub would.
		}
	}
	return nil
}

// Subscribe registers a new subscriber channel.
func (b *MemoryBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 256)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, c := range b.subs[channel] {
			if c == ch {
				b.subs[channel] = append(b.subs[channel][:i], b.subs[channel][i+1:]...)
				close(ch)
				return
			}
		}
	}()
	return ch, nil
}

// Close drops all subscribers.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.subs = make(map[string][]chan []byte)
	return nil
}
