package api

import (
	"sync"
)

type SSEEvent struct {
	Type string
	Data map[string]any
}

// Broker fans schedule events out to SSE/websocket watchers, keyed by
// schedule ID. Slow consumers drop events rather than block publishers.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SSEEvent]struct{} // scheduleId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(scheduleID string) chan SSEEvent {
	ch := make(chan SSEEvent, 8)
	b.mu.Lock()
	if b.subs[scheduleID] == nil {
		b.subs[scheduleID] = map[chan SSEEvent]struct{}{}
	}
	b.subs[scheduleID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(scheduleID string, ch chan SSEEvent) {
	b.mu.Lock()
	if m := b.subs[scheduleID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, scheduleID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(scheduleID string, evt SSEEvent) {
	b.mu.Lock()
	m := b.subs[scheduleID]
	for ch := range m {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
