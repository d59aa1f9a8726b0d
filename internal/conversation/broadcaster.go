// ABOUTME: In-memory publish/subscribe hub for live support-chat rooms
// ABOUTME: Fans persisted chat events out to every stream subscribed to a room

package conversation

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/2389/opsdesk/internal/metrics"
)

// Handler receives events published to a room. Handlers run on the
// publisher's goroutine and must not block for long or call back into the
// hub for their own room.
type Handler func(Event)

// Hub routes events to the handlers currently registered for a room.
// It keeps nothing beyond the live registrations: no buffering, no replay.
//
// No hub lock is held while a handler runs. Publishes to one room are
// serialized by that room's publish lock, which Subscribe and Unsubscribe
// never take, so every subscriber of a room observes the same order and a
// handler may unsubscribe itself.
type Hub struct {
	mu     sync.Mutex
	rooms  map[int64]*roomSubs
	nextID atomic.Uint64
	logger *slog.Logger
}

// roomSubs holds the registrations of one room. Once retired it has been
// removed from the registry and must not receive new handlers.
type roomSubs struct {
	publishMu sync.Mutex // serializes delivery

	mu      sync.Mutex // guards subs and retired
	subs    map[uint64]*Subscription
	retired bool
}

// Subscription is the token returned by Subscribe. Its only capability is
// removing the registration.
type Subscription struct {
	hub     *Hub
	room    int64
	id      uint64
	handler Handler
	closed  atomic.Bool
	once    sync.Once
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:  make(map[int64]*roomSubs),
		logger: logger.With("component", "hub"),
	}
}

// Subscribe registers handler for events published to room.
func (h *Hub) Subscribe(room int64, handler Handler) *Subscription {
	sub := &Subscription{hub: h, room: room, id: h.nextID.Add(1), handler: handler}

	for {
		h.mu.Lock()
		r, ok := h.rooms[room]
		if !ok {
			r = &roomSubs{subs: make(map[uint64]*Subscription)}
			h.rooms[room] = r
		}
		h.mu.Unlock()

		r.mu.Lock()
		if r.retired {
			// Lost a race with the last unsubscribe of this room; look it up again
			r.mu.Unlock()
			continue
		}
		r.subs[sub.id] = sub
		r.mu.Unlock()
		break
	}

	metrics.HubSubscribers.Inc()
	h.logger.Debug("subscriber added", "room_id", room, "sub_id", sub.id)

	return sub
}

// Unsubscribe removes the registration. Calling it more than once is a no-op,
// and it may be called from within the subscription's own handler.
// Once it returns the handler will not be invoked again, except that a
// delivery already running on another goroutine finishes.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.hub.unsubscribe(s.room, s.id)
	})
}

func (h *Hub) unsubscribe(room int64, id uint64) {
	h.mu.Lock()
	r, ok := h.rooms[room]
	h.mu.Unlock()
	if !ok {
		return
	}

	// Lock order is room then registry; Subscribe and Publish never hold both.
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.subs[id]; !exists {
		return
	}
	delete(r.subs, id)
	metrics.HubSubscribers.Dec()

	if len(r.subs) == 0 {
		h.mu.Lock()
		if h.rooms[room] == r {
			delete(h.rooms, room)
		}
		h.mu.Unlock()
		r.retired = true
	}

	h.logger.Debug("subscriber removed", "room_id", room, "sub_id", id)
}

// Publish delivers ev synchronously to every handler subscribed to room at
// the time of the call and returns how many handlers were invoked.
func (h *Hub) Publish(room int64, ev Event) int {
	metrics.HubEventsPublished.WithLabelValues(TypeOf(ev)).Inc()

	h.mu.Lock()
	r, ok := h.rooms[room]
	h.mu.Unlock()
	if !ok {
		return 0
	}

	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	r.mu.Lock()
	subs := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	delivered := 0
	for _, sub := range subs {
		if h.deliver(sub, ev) {
			delivered++
		}
	}
	metrics.HubDeliveries.Add(float64(delivered))
	return delivered
}

// deliver invokes one handler unless it has been unsubscribed, containing
// a panic to that subscriber.
func (h *Hub) deliver(sub *Subscription, ev Event) (invoked bool) {
	if sub.closed.Load() {
		return false
	}
	invoked = true
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("subscriber handler panicked",
				"room_id", sub.room,
				"sub_id", sub.id,
				"panic", rec)
		}
	}()
	sub.handler(ev)
	return invoked
}

// Subscribers returns the number of handlers registered for room.
func (h *Hub) Subscribers(room int64) int {
	h.mu.Lock()
	r, ok := h.rooms[room]
	h.mu.Unlock()
	if !ok {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Rooms returns the number of rooms with at least one subscriber.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}
