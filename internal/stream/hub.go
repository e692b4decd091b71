package stream

import (
	"sync"

	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/observability"
)

const subscriberBuffer = 16

// Hub fans location samples out to per-trip subscribers. Publishing never
// blocks: a subscriber that cannot keep up loses samples rather than
// delaying or reordering the stream for everyone else.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]*topic
}

type topic struct {
	mu   sync.Mutex
	subs map[int]chan models.LocationSample
	next int
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]*topic)}
}

// Subscribe returns a channel of samples for one trip and a cancel func.
func (h *Hub) Subscribe(tripID string) (<-chan models.LocationSample, func()) {
	h.mu.Lock()
	t, ok := h.topics[tripID]
	if !ok {
		t = &topic{subs: make(map[int]chan models.LocationSample)}
		h.topics[tripID] = t
	}
	h.mu.Unlock()

	t.mu.Lock()
	id := t.next
	t.next++
	ch := make(chan models.LocationSample, subscriberBuffer)
	t.subs[id] = ch
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		if _, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(ch)
		}
		t.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers a sample to every subscriber of the trip. The topic lock
// keeps samples in submission order across subscribers.
func (h *Hub) Publish(s models.LocationSample) {
	h.mu.RLock()
	t, ok := h.topics[s.TripID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- s:
		default:
			observability.SamplesDropped.Inc()
		}
	}
}

// Close drops all subscribers of a trip, typically at termination.
func (h *Hub) Close(tripID string) {
	h.mu.Lock()
	t, ok := h.topics[tripID]
	if ok {
		delete(h.topics, tripID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
	t.mu.Unlock()
}
