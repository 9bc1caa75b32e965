// Package events carries loop events to presentation-layer sinks without
// ever blocking the loop.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/eatd/vl-desktop-agent/internal/types"
)

// Sink receives events from the bus goroutine. Implementations must bound
// their own latency; a slow sink delays the others.
type Sink interface {
	Send(ctx context.Context, ev types.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev types.Event) error

func (f SinkFunc) Send(ctx context.Context, ev types.Event) error { return f(ctx, ev) }

// DefaultBufferSize is the number of events held before the oldest are dropped.
const DefaultBufferSize = 256

// Bus is a bounded queue between publishers and sinks. When the queue is
// full, Publish drops the oldest queued event to make room.
type Bus struct {
	ch      chan types.Event
	pubMu   sync.Mutex
	dropped atomic.Uint64
	logger  *slog.Logger

	mu    sync.RWMutex
	sinks []Sink
}

func NewBus(size int, logger *slog.Logger) *Bus {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{ch: make(chan types.Event, size), logger: logger}
}

// Subscribe adds a sink. Events already forwarded are not replayed.
func (b *Bus) Subscribe(s Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// Publish enqueues ev without blocking.
func (b *Bus) Publish(ev types.Event) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	for {
		select {
		case b.ch <- ev:
			return
		default:
		}
		select {
		case <-b.ch:
			b.dropped.Add(1)
		default:
		}
	}
}

// Dropped is the number of events discarded because the queue was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Run forwards events to sinks in publish order until ctx is done.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-b.ch:
			b.mu.RLock()
			sinks := b.sinks
			b.mu.RUnlock()
			for _, s := range sinks {
				if err := s.Send(ctx, ev); err != nil {
					b.logger.Warn("event sink failed", "type", ev.Type, "error", err)
				}
			}
		}
	}
}
