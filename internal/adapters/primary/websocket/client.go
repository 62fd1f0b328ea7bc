package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	mw "github.com/lorrc/marketplace-realtime/internal/adapters/primary/http/middleware"
	"github.com/lorrc/marketplace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/marketplace-realtime/internal/core/errors"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// maxFrameSize fits a maximum-length text message plus envelope.
	maxFrameSize = 32 << 10
	outboxSize   = 256

	// opTimeout bounds the service call behind a single frame.
	opTimeout = 10 * time.Second
)

// Frame types a client may send.
const (
	MsgJoinChat    = "join_chat"
	MsgLeaveChat   = "leave_chat"
	MsgSendMessage = "send_message"
	MsgPing        = "ping"
)

// ClientMessage is the envelope of every inbound frame.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ChatPayload addresses join_chat and leave_chat.
type ChatPayload struct {
	ChatID string `json:"chatId"`
}

type SendMessagePayload struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
}

// errFrame is reported to the peer verbatim.
type errFrame string

func (e errFrame) Error() string { return string(e) }

const (
	errMalformed   errFrame = "malformed message"
	errUnknownType errFrame = "unknown message type"
	errBadChatID   errFrame = "invalid chat id"
	errTooFast     errFrame = "sending too fast, slow down"
)

// Client is one authenticated socket. Start launches its read and write
// loops; the hub closes the outbox when the client is detached.
type Client struct {
	UserID uuid.UUID

	hub     *Hub
	conn    *websocket.Conn
	outbox  chan domain.Event
	chats   ports.ChatService
	limiter *mw.RateLimitByKey
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// closeMu orders closeOutbox against enqueue so a late reply never
	// sends on a closed channel.
	closeMu sync.RWMutex
	closed  bool
}

// NewClient wires a connection to the hub. limiter may be nil.
func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, chats ports.ChatService, limiter *mw.RateLimitByKey, logger *slog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		UserID:  userID,
		hub:     hub,
		conn:    conn,
		outbox:  make(chan domain.Event, outboxSize),
		chats:   chats,
		limiter: limiter,
		logger:  logger.With("user_id", userID.String()),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start runs the write loop and the read loop on their own goroutines.
func (c *Client) Start() {
	go c.writeLoop()
	go c.readLoop()
}

func (c *Client) closeOutbox() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.outbox)
	}
}

// enqueue drops the event when the outbox is full or already closed.
func (c *Client) enqueue(ev domain.Event) {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.outbox <- ev:
	default:
	}
}

func (c *Client) readLoop() {
	defer func() {
		c.cancel()
		c.hub.Detach(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) }
	if err := extend(""); err != nil {
		return
	}
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		if err := c.dispatch(data); err != nil {
			c.reject(err)
		}
	}
}

func (c *Client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.outbox:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch handles one inbound frame. A returned error is sent back to
// the peer as an error event.
func (c *Client) dispatch(data []byte) error {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return errMalformed
	}
	c.hub.metrics.WSMessage("in", msg.Type)

	switch msg.Type {
	case MsgPing:
		c.enqueue(domain.Event{Type: domain.EventPong})
		return nil
	case MsgJoinChat:
		chatID, err := chatIDOf(msg)
		if err != nil {
			return err
		}
		return c.join(chatID)
	case MsgLeaveChat:
		chatID, err := chatIDOf(msg)
		if err != nil {
			return err
		}
		c.hub.leave(c, chatID)
		return nil
	case MsgSendMessage:
		var p SendMessagePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return errFrame("invalid " + msg.Type + " payload")
		}
		chatID, ok := parseChatID(p.ChatID)
		if !ok {
			return errBadChatID
		}
		return c.send(chatID, p.Text)
	default:
		return errUnknownType
	}
}

// chatIDOf decodes the ChatPayload shared by join_chat and leave_chat.
func chatIDOf(msg ClientMessage) (uuid.UUID, error) {
	var p ChatPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return uuid.Nil, errFrame("invalid " + msg.Type + " payload")
	}
	id, ok := parseChatID(p.ChatID)
	if !ok {
		return uuid.Nil, errBadChatID
	}
	return id, nil
}

func parseChatID(raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	return id, err == nil && id != uuid.Nil
}

func (c *Client) join(chatID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(c.ctx, opTimeout)
	defer cancel()

	if _, err := c.chats.EnsureParticipant(ctx, c.UserID, chatID); err != nil {
		c.logger.Warn("join rejected", "chat_id", chatID, "error", err)
		return err
	}
	c.hub.join(c, chatID)
	return nil
}

// send persists the message. ChatService broadcasts the stored copy to the
// room, so the sender sees its own echo once it has joined.
func (c *Client) send(chatID uuid.UUID, text string) error {
	if c.limiter != nil && !c.limiter.Allow(c.UserID.String()) {
		return errTooFast
	}

	ctx, cancel := context.WithTimeout(c.ctx, opTimeout)
	defer cancel()

	_, err := c.chats.SendMessage(ctx, ports.SendMessageParams{ChatID: chatID, SenderID: c.UserID, Text: text})
	if err != nil {
		c.logger.Warn("send_message failed", "chat_id", chatID, "error", err)
	}
	return err
}

func (c *Client) reject(err error) {
	msg := apperrors.PublicMessage(err)
	var fe errFrame
	if errors.As(err, &fe) {
		msg = string(fe)
	}
	c.enqueue(domain.Event{Type: domain.EventError, Payload: domain.ErrorPayload{Message: msg}})
}
