package realtime

import (
	"context"
	"log/slog"
	"sync"

	"clinix/internal/domain/chat"
)

const subscriptionBuffer = 64

// Hub is an in-process live-update channel: stores publish row inserts into
// it, sessions subscribe by (table, equality-filter). A Kafka relay feeds the
// hub with inserts that originated on other instances.
type Hub struct {
	logger *slog.Logger

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscription
	closed bool
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger, subs: make(map[uint64]*subscription)}
}

// Subscribe registers a filter and returns its handle. The handle owns the
// registration; releasing it removes the hub entry.
func (h *Hub) Subscribe(ctx context.Context, filter chat.Filter) (chat.Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, chat.ErrSubscriptionClosed
	}
	h.nextID++
	sub := &subscription{
		id:     h.nextID,
		hub:    h,
		filter: filter,
		events: make(chan chat.Event, subscriptionBuffer),
	}
	h.subs[sub.id] = sub
	return sub, nil
}

// Publish fans the event out to every matching subscription. Delivery is
// best-effort: a subscriber that stopped draining loses events rather than
// blocking the publisher.
func (h *Hub) Publish(event chat.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if !sub.filter.Matches(event) {
			continue
		}
		select {
		case sub.events <- event:
		default:
			if h.logger != nil {
				h.logger.Warn("live-update event dropped, subscriber not draining",
					"table", event.Table, "filter_field", sub.filter.Field, "filter_value", sub.filter.Value)
			}
		}
	}
}

// Close releases every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.closed = true
	h.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Close()
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

type subscription struct {
	id     uint64
	hub    *Hub
	filter chat.Filter
	events chan chat.Event
	once   sync.Once
}

func (s *subscription) Events() <-chan chat.Event {
	return s.events
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.hub.remove(s.id)
		close(s.events)
	})
	return nil
}

var _ chat.Feed = (*Hub)(nil)
