// Package events fans relay activity out to live observers (the SSE endpoint
// and the terminal dashboard).
package events

import (
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"time"
)

// Event types published by the relay.
const (
	TypeWebhookReceived   = "webhook.received"
	TypeWebhookRejected   = "webhook.rejected"
	TypeDeliverySucceeded = "delivery.succeeded"
	TypeDeliveryFailed    = "delivery.failed"
	TypeConfigUpdated     = "config.updated"
	TypeLogsCleared       = "logs.cleared"
)

// Publisher is the write side of the hub.
type Publisher interface {
	Publish(eventType string, data any)
}

// Event is one published activity record. IDs increase by one per publish.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// subscriberBuffer is how many events a subscriber may lag before it starts
// missing them.
const subscriberBuffer = 128

// Hub retains the most recent events for replay and pushes new ones to live
// subscribers.
type Hub struct {
	mu      sync.Mutex
	lastID  int64
	keep    int
	history []Event
	subs    map[chan Event]struct{}
}

// NewHub returns a hub that retains up to keep events.
func NewHub(keep int) *Hub {
	if keep <= 0 {
		keep = 100
	}
	return &Hub{
		keep:    keep,
		history: make([]Event, 0, keep),
		subs:    make(map[chan Event]struct{}),
	}
}

// Publish never blocks; subscribers that fall behind miss events.
func (h *Hub) Publish(eventType string, data any) {
	raw := encode(data)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: time.Now().UTC(), Data: raw}

	if len(h.history) == h.keep {
		h.history = append(h.history[:0], h.history[1:]...)
	}
	h.history = append(h.history, ev)

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func encode(data any) json.RawMessage {
	if data == nil {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(data)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

// Subscribe registers a live listener. cancel closes the channel and may be
// called more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// SnapshotSince returns retained events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := sort.Search(len(h.history), func(i int) bool { return h.history[i].ID > lastID })
	return slices.Clone(h.history[i:])
}

// Nop discards everything published to it.
type Nop struct{}

func (Nop) Publish(string, any) {}
