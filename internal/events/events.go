// Package events fans routing events out to in-process subscribers and,
// optionally, an MQTT broker.
package events

import (
	"sync"
	"time"

	"github.com/corvidlabs/pennywise/internal/task"
	"github.com/corvidlabs/pennywise/internal/tier"
)

// Event kinds.
const (
	KindAttempt   = "attempt"
	KindCompleted = "completed"
	KindExhausted = "exhausted"
	KindReset     = "ledger-reset"
)

// Event is one routing lifecycle notification.
type Event struct {
	Kind       string        `json:"kind"`
	TaskID     string        `json:"taskId"`
	Category   string        `json:"category,omitempty"`
	Tier       tier.Tier     `json:"tier"`
	Attempt    *task.Attempt `json:"attempt,omitempty"`
	Degraded   bool          `json:"degraded,omitempty"`
	CostUSD    float64       `json:"costUsd"`
	OccurredAt time.Time     `json:"occurredAt"`
}

// Publisher receives every event. Implementations must not block.
type Publisher interface {
	Publish(ev Event)
	Close() error
}

// Bus fans events out to channel subscribers. Slow subscribers lose
// events rather than stalling the router.
type Bus struct {
	mu         sync.RWMutex
	subs       map[int]chan Event
	nextID     int
	bufferSize int
	publishers []Publisher
	closed     bool
}

// NewBus creates a bus. bufferSize bounds each subscriber channel.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		subs:       make(map[int]chan Event),
		bufferSize: bufferSize,
	}
}

// AddPublisher attaches an external publisher (e.g. MQTT).
func (b *Bus) AddPublisher(p Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishers = append(b.publishers, p)
}

// Subscribe returns a channel of events and a cancel func. The channel is
// closed on cancel or bus close.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber and publisher. Full
// subscriber buffers drop the event.
func (b *Bus) Publish(ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	for _, p := range b.publishers {
		p.Publish(ev)
	}
}

// Close shuts the bus and all attached publishers.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	var firstErr error
	for _, p := range b.publishers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.publishers = nil
	return firstErr
}
