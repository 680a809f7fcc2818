// Package fanout is the in-process publish/subscribe channel for status
// updates shown in the local UI. Delivery is best-effort: each subscriber has
// a bounded buffer and events are dropped when it is full. Per-subscriber
// delivery preserves publish order; nothing is persisted.
package fanout

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/eventqueue/agent/internal/domain"
)

// subscriberBuffer bounds each observer's queue so a stalled UI connection
// cannot grow memory without limit.
const subscriberBuffer = 32

// Subscriber is a registered observer. Events arrive on C in publish order.
type Subscriber struct {
	C chan domain.StatusEvent
}

// Hub manages all active observers.
// Single-instance model: all broadcast is in-process.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new observer.
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{C: make(chan domain.StatusEvent, subscriberBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[s] = struct{}{}

	log.Debug().Int("subscribers", len(h.subs)).Msg("status observer connected")
	return s
}

// Unsubscribe removes an observer. Its channel is closed so range loops end.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.C)

	log.Debug().Int("subscribers", len(h.subs)).Msg("status observer disconnected")
}

// Publish enqueues ev to every current observer. When an observer's buffer is
// full the event is dropped for that observer only.
func (h *Hub) Publish(ev domain.StatusEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs {
		select {
		case s.C <- ev:
		default:
			log.Warn().Str("message", ev.Message).Msg("status observer buffer full, dropping event")
		}
	}
}

// SubscriberCount returns the number of connected observers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
