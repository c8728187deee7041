package api

import (
	"sync"
)

// Event is one message on a run's progress stream.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventBroker fans run events out to stream subscribers keyed by optimization id.
type EventBroker interface {
	Subscribe(optID string) chan Event
	Unsubscribe(optID string, ch chan Event)
	Publish(optID string, evt Event)
}

// Broker is the in-process EventBroker. Slow subscribers drop events.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe(optID string) chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	if b.subs[optID] == nil {
		b.subs[optID] = map[chan Event]struct{}{}
	}
	b.subs[optID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(optID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[optID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, optID)
	}
	close(ch)
}

func (b *Broker) Publish(optID string, evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[optID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// RunEvents adapts a broker to the run service's event hook.
func RunEvents(b EventBroker) func(optID, eventType string, data map[string]any) {
	return func(optID, eventType string, data map[string]any) {
		b.Publish(optID, Event{Type: eventType, Data: data})
	}
}
