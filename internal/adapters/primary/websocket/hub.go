// Package websocket serves the chat socket: one Client per connection, one
// Hub per process routing chat events to the connections that joined a chat.
package websocket

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/lorrc/marketplace-realtime/internal/core/domain"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
	"github.com/lorrc/marketplace-realtime/internal/infrastructure/metrics"
)

const eventQueueSize = 256

type set[T comparable] map[T]struct{}

func (s set[T]) add(v T) { s[v] = struct{}{} }

// Hub owns connection and room membership. Membership changes go through
// Run's goroutine or take mu; readers take mu.RLock.
type Hub struct {
	mu      sync.RWMutex
	users   map[uuid.UUID]set[*Client]
	rooms   map[uuid.UUID]set[*Client]
	joined  map[*Client]set[uuid.UUID]
	events  chan domain.Event
	attach  chan *Client
	detach  chan *Client
	stopped chan struct{}

	logger  *slog.Logger
	metrics *metrics.Metrics
}

var _ ports.EventBroadcaster = (*Hub)(nil)

// NewHub returns a hub that does nothing until Run is called. m may be nil.
func NewHub(m *metrics.Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		users:   map[uuid.UUID]set[*Client]{},
		rooms:   map[uuid.UUID]set[*Client]{},
		joined:  map[*Client]set[uuid.UUID]{},
		events:  make(chan domain.Event, eventQueueSize),
		attach:  make(chan *Client),
		detach:  make(chan *Client),
		stopped: make(chan struct{}),
		logger:  logger.With("component", "websocket_hub"),
		metrics: m,
	}
}

// Broadcast queues event for the room event.ChatID. It never blocks: when
// the queue is full the event is dropped and clients recover it from
// history on their next fetch.
func (h *Hub) Broadcast(event domain.Event) error {
	select {
	case h.events <- event:
	default:
		h.logger.Warn("event queue full, dropping", "event_type", event.Type, "chat_id", event.ChatID)
	}
	return nil
}

// Run processes attach, detach and broadcast requests until ctx ends, then
// closes every client's outbox.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.attach:
			h.add(c)
		case c := <-h.detach:
			h.remove(c)
		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

// Attach reports false once Run has returned.
func (h *Hub) Attach(c *Client) bool {
	select {
	case h.attach <- c:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) Detach(c *Client) {
	select {
	case h.detach <- c:
	case <-h.stopped:
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.users[c.UserID]
	if conns == nil {
		conns = set[*Client]{}
		h.users[c.UserID] = conns
	}
	conns.add(c)
	h.joined[c] = set[uuid.UUID]{}
	h.metrics.SetWSConnections(len(h.joined))
	h.logger.Info("client attached", "user_id", c.UserID, "user_connections", len(conns))
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	chats, ok := h.joined[c]
	if !ok {
		return
	}
	for chatID := range chats {
		h.dropFromRoom(c, chatID)
	}
	delete(h.joined, c)
	if conns := h.users[c.UserID]; conns != nil {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.users, c.UserID)
		}
	}
	c.closeOutbox()

	h.metrics.SetWSConnections(len(h.joined))
	h.metrics.SetWSRooms(len(h.rooms))
	h.logger.Info("client detached", "user_id", c.UserID)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.joined {
		c.closeOutbox()
	}
	clear(h.users)
	clear(h.rooms)
	clear(h.joined)
	h.metrics.SetWSConnections(0)
	h.metrics.SetWSRooms(0)
}

// deliver runs on Run's goroutine. A client whose outbox is full is
// detached on the spot rather than slowing the room down.
func (h *Hub) deliver(ev domain.Event) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[ev.ChatID]))
	for c := range h.rooms[ev.ChatID] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		select {
		case c.outbox <- ev:
			h.metrics.WSMessage("out", string(ev.Type))
		default:
			h.logger.Warn("client outbox full, detaching", "user_id", c.UserID)
			h.remove(c)
		}
	}
}

func (h *Hub) join(c *Client, chatID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	chats, ok := h.joined[c]
	if !ok {
		return
	}
	room := h.rooms[chatID]
	if room == nil {
		room = set[*Client]{}
		h.rooms[chatID] = room
	}
	room.add(c)
	chats.add(chatID)
	h.metrics.SetWSRooms(len(h.rooms))
	h.logger.Debug("joined chat", "user_id", c.UserID, "chat_id", chatID)
}

func (h *Hub) leave(c *Client, chatID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.dropFromRoom(c, chatID)
	h.metrics.SetWSRooms(len(h.rooms))
	h.logger.Debug("left chat", "user_id", c.UserID, "chat_id", chatID)
}

func (h *Hub) dropFromRoom(c *Client, chatID uuid.UUID) {
	if room := h.rooms[chatID]; room != nil {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, chatID)
		}
	}
	if chats := h.joined[c]; chats != nil {
		delete(chats, chatID)
	}
}

// ClientCount is the number of attached connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.joined)
}

// RoomCount is the number of chats with at least one joined connection.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) RoomSize(chatID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}

// Connected reports whether userID has any attached connection.
func (h *Hub) Connected(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}
