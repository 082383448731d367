// Package bus carries the in-process channel plumbing of the market
// data pipeline: a fan-out that feeds one ingested tick stream to the
// aggregator, the tick writer and the raw-tick publisher at once.
package bus

import (
	"context"
	"log"
	"sync"
)

// FanOut broadcasts values from a single input channel to N output
// channels. If an output channel is full, the value is dropped for that
// consumer to prevent a slow consumer from blocking the pipeline.
type FanOut[T any] struct {
	mu      sync.RWMutex
	outputs []chan T
	bufSize int

	// OnDrop is called when a value is dropped for a subscriber.
	// subscriberIdx is the 0-based index of the slow consumer.
	OnDrop func(subscriberIdx int)
}

// New creates a FanOut with the given buffer size for output channels.
func New[T any](outputBufferSize int) *FanOut[T] {
	return &FanOut[T]{
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new output channel.
func (f *FanOut[T]) Subscribe() <-chan T {
	ch := make(chan T, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed.
func (f *FanOut[T]) Run(ctx context.Context, input <-chan T) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for i, ch := range f.outputs {
				select {
				case ch <- v:
				default:
					if f.OnDrop != nil {
						f.OnDrop(i)
					} else {
						log.Printf("[fanout] output channel %d full, dropping", i)
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat is (length, capacity) for one subscriber channel. Used for
// reporting channel saturation percentage.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats returns the stats for each subscriber channel.
func (f *FanOut[T]) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
