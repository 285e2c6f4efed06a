package arbengine

import (
	"sync/atomic"
	"time"

	"funding_arb/internal/core"
)

// EventBus is a buffered event channel. Publish never blocks; events are
// dropped and counted when no reader keeps up.
type EventBus struct {
	ch      chan core.Event
	dropped atomic.Int64
	now     func() time.Time
}

var _ core.IEventSink = (*EventBus)(nil)

func NewEventBus(size int) *EventBus {
	return &EventBus{ch: make(chan core.Event, size), now: time.Now}
}

func (b *EventBus) Publish(event core.Event) {
	if event.Time.IsZero() {
		event.Time = b.now()
	}
	select {
	case b.ch <- event:
	default:
		b.dropped.Add(1)
	}
}

func (b *EventBus) Events() <-chan core.Event {
	return b.ch
}

func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}
