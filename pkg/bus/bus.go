package bus

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const subscriberBuffer = 64

// Event is one inbound message: the input id it arrived on and its raw value.
type Event struct {
	ID       string
	Value    any
	Received time.Time
}

// Output is one outbound message. Data is a JSON document.
type Output struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// Bus is what a channel node needs from the dataflow bus. Every call to
// Events returns a new subscription that sees all inbound events.
type Bus interface {
	Events() <-chan Event
	Publish(ctx context.Context, out Output) error
}

// fanout delivers every value to all subscribers. Delivery blocks until each
// subscriber has taken the value or ctx ends.
type fanout[T any] struct {
	mu     sync.RWMutex
	subs   []chan T
	closed bool
}

func (f *fanout[T]) subscribe() <-chan T {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan T, subscriberBuffer)
	if f.closed {
		close(ch)
		return ch
	}
	f.subs = append(f.subs, ch)
	return ch
}

func (f *fanout[T]) deliver(ctx context.Context, v T) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrClosed
	}
	for _, ch := range f.subs {
		select {
		case ch <- v:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *fanout[T]) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, ch := range f.subs {
		close(ch)
	}
	f.subs = nil
}

// MemoryBus is an in-process Bus.
type MemoryBus struct {
	events  fanout[Event]
	outputs fanout[Output]
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Events subscribes to inbound events.
func (m *MemoryBus) Events() <-chan Event { return m.events.subscribe() }

// Outputs subscribes to published outputs.
func (m *MemoryBus) Outputs() <-chan Output { return m.outputs.subscribe() }

// Send injects an inbound event.
func (m *MemoryBus) Send(ctx context.Context, id string, value any) error {
	return m.events.deliver(ctx, Event{ID: id, Value: value, Received: time.Now()})
}

// Publish delivers out to every Outputs subscriber.
func (m *MemoryBus) Publish(ctx context.Context, out Output) error {
	return m.outputs.deliver(ctx, out)
}

// Close ends every subscription.
func (m *MemoryBus) Close() error {
	m.events.close()
	m.outputs.close()
	return nil
}
