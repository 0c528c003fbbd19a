package notify

import (
	"context"
	"sync"
)

// Broker fans events out to in-process subscribers such as SSE clients.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]subscriber
	next   int
	buffer int
}

type subscriber struct {
	ch  chan Event
	org string
}

// NewBroker returns a broker whose subscriber channels hold buffer events.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broker{subs: make(map[int]subscriber), buffer: buffer}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events involving org, or every event when org is empty. The channel is closed
// when ctx ends.
func (b *Broker) Subscribe(ctx context.Context, org string) <-chan Event {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = subscriber{ch: ch, org: org}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish delivers evt to every matching subscriber.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.org != "" && !evt.Involves(sub.org) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Notify implements trust.Notifier.
func (b *Broker) Notify(_ context.Context, eventType string, payload map[string]any) error {
	b.Publish(NewEvent(eventType, payload))
	return nil
}
