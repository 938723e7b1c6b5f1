package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/italolelis/downloadhub/internal/logctx"
	"github.com/italolelis/downloadhub/internal/telemetry"
)

// Subscriber receives serialized events. Send must not block; an error removes the subscriber.
type Subscriber interface {
	Send(msg []byte) error
	Close()
}

// Publisher is the narrow view producers depend on.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Hub fans events out to a set of live subscribers.
type Hub struct {
	mu          sync.Mutex
	subscribers map[Subscriber]struct{}
	closed      bool

	telemetry *telemetry.Telemetry
}

func NewHub(tel *telemetry.Telemetry) *Hub {
	return &Hub{
		subscribers: make(map[Subscriber]struct{}),
		telemetry:   tel,
	}
}

var _ Publisher = (*Hub)(nil)

// Subscribe adds s. After Close the subscriber is closed immediately.
func (h *Hub) Subscribe(ctx context.Context, s Subscriber) {
	h.mu.Lock()

	if h.closed {
		h.mu.Unlock()
		s.Close()

		return
	}

	h.subscribers[s] = struct{}{}
	h.mu.Unlock()

	h.telemetry.AddSubscribers(ctx, 1)
}

// Unsubscribe removes s without closing it. Unknown subscribers are ignored.
func (h *Hub) Unsubscribe(ctx context.Context, s Subscriber) {
	if h.remove(s) {
		h.telemetry.AddSubscribers(ctx, -1)
	}
}

func (h *Hub) remove(s Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[s]; !ok {
		return false
	}

	delete(h.subscribers, s)

	return true
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subscribers)
}

// Publish delivers e to every subscriber. Subscribers whose Send fails are dropped and closed.
func (h *Hub) Publish(ctx context.Context, e Event) {
	logger := logctx.LoggerFromContext(ctx).With("event_type", e.Type)

	msg, err := json.Marshal(e)
	if err != nil {
		logger.Error("failed to marshal event", "err", err)

		return
	}

	h.telemetry.RecordEventPublished(ctx, string(e.Type))

	h.mu.Lock()
	targets := make([]Subscriber, 0, len(h.subscribers))

	for s := range h.subscribers {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		if err := h.send(s, msg); err != nil {
			logger.Warn("dropping subscriber", "err", err)

			if h.remove(s) {
				h.telemetry.AddSubscribers(ctx, -1)
				h.telemetry.RecordSubscriberDropped(ctx)
			}

			s.Close()
		}
	}
}

// send shields the publisher from a misbehaving subscriber.
func (h *Hub) send(s Subscriber, msg []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()

	return s.Send(msg)
}

// Close closes and removes every subscriber. Later subscriptions are closed on arrival.
func (h *Hub) Close(ctx context.Context) {
	h.mu.Lock()
	h.closed = true
	targets := h.subscribers
	h.subscribers = make(map[Subscriber]struct{})
	h.mu.Unlock()

	for s := range targets {
		s.Close()
	}

	h.telemetry.AddSubscribers(ctx, -int64(len(targets)))
}
