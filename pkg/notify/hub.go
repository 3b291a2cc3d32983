// Package notify fans committed room changes out to every connected viewer.
package notify

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/astromechza/roomboard/pkg/rooms"
)

type Kind string

const (
	KindConnected  Kind = "connected"
	KindRoomUpdate Kind = "roomUpdate"
	KindReset      Kind = "reset"
)

var ErrClosed = errors.New("notifier closed")

// Event is one notification. Room is set for roomUpdate, Rooms for reset.
type Event struct {
	Kind  Kind
	Seq   uint64
	Room  *rooms.Room
	Rooms []rooms.Room
}

// Payload is the value sent on the wire for the event.
func (e Event) Payload(subscriberID string) any {
	switch e.Kind {
	case KindRoomUpdate:
		return e.Room
	case KindReset:
		return e.Rooms
	default:
		return map[string]string{"status": "connected", "subscriber": subscriberID}
	}
}

type Subscription struct {
	ID     string
	Events <-chan Event

	hub *Hub
}

// Close deregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.ID)
}

// Hub delivers events to subscribers in publish order. A subscriber whose
// buffer is full is evicted rather than allowed to block publishers; it is
// expected to reconnect and pull a snapshot.
type Hub struct {
	buffer int
	logger *slog.Logger

	mu     sync.Mutex
	seq    uint64
	subs   map[string]chan Event
	closed bool
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{buffer: buffer, logger: logger, subs: make(map[string]chan Event)}
}

// Subscribe registers a new observer. The first event on the channel is
// always a connected acknowledgment; no earlier events are replayed.
func (h *Hub) Subscribe() (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	id := uuid.NewString()
	ch := make(chan Event, h.buffer+1)
	ch <- Event{Kind: KindConnected, Seq: h.seq}
	h.subs[id] = ch
	h.logger.Debug("subscriber added", "subscriber", id, "subscribers", len(h.subs))
	return &Subscription{ID: id, Events: ch, hub: h}, nil
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
		h.logger.Debug("subscriber removed", "subscriber", id, "subscribers", len(h.subs))
	}
}

func (h *Hub) PublishUpdate(room rooms.Room) {
	h.publish(Event{Kind: KindRoomUpdate, Room: &room})
}

func (h *Hub) PublishReset(roster []rooms.Room) {
	h.publish(Event{Kind: KindReset, Rooms: append([]rooms.Room(nil), roster...)})
}

func (h *Hub) publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.seq++
	e.Seq = h.seq
	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			delete(h.subs, id)
			close(ch)
			h.logger.Warn("evicted slow subscriber", "subscriber", id, "event", e.Kind)
		}
	}
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription and drops later publishes.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
