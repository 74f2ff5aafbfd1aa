// Package event carries the single ordered stream of things that happen to a
// node. Discovery, gossip and transport each define their own event structs;
// they all satisfy Event so one dispatcher can consume them.
package event

import "context"

// Source tags which subsystem produced an event.
type Source int

const (
	SourceDiscovery Source = iota
	SourceGossip
	SourceTransport
	SourceLocal
)

func (s Source) String() string {
	switch s {
	case SourceDiscovery:
		return "discovery"
	case SourceGossip:
		return "gossip"
	case SourceTransport:
		return "transport"
	case SourceLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Event is one variant of the tagged union consumed by the session loop.
type Event interface {
	Source() Source
}

// Bus is a bounded FIFO of events. Producers may live on any goroutine;
// there is exactly one consumer.
type Bus struct {
	ch chan Event
}

// NewBus returns a bus that buffers up to size events.
func NewBus(size int) *Bus {
	if size < 1 {
		size = 1
	}
	return &Bus{ch: make(chan Event, size)}
}

// Emit queues ev, waiting for room until ctx is done. It reports whether the
// event was queued.
func (b *Bus) Emit(ctx context.Context, ev Event) bool {
	select {
	case b.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Events is the receive side of the bus.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Len reports how many events are waiting.
func (b *Bus) Len() int {
	return len(b.ch)
}
