// Package chat is the client side of the chat socket. A Manager owns one
// connection with an explicit Connect/Disconnect lifecycle; Threads are the
// chats the user has joined over it.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lorrc/marketplace-realtime/internal/client/api"
)

// Frame types exchanged with the server.
const (
	MsgJoinChat    = "join_chat"
	MsgLeaveChat   = "leave_chat"
	MsgSendMessage = "send_message"
	MsgPing        = "ping"

	EventNewMessage = "new_message"
	EventError      = "error"
	EventPong       = "pong"
)

const (
	writeWait = 10 * time.Second
	// The server pings every ~54s; anything slower means the link is dead.
	readWait      = 90 * time.Second
	markReadAfter = 10 * time.Second
)

var (
	ErrNotConnected = errors.New("chat socket not connected")
	ErrNotJoined    = errors.New("chat not joined")
)

// API is the subset of the REST client chat threads need.
type API interface {
	OpenChat(ctx context.Context, recipientID string) (*api.Chat, bool, error)
	ChatMessages(ctx context.Context, chatID string) ([]api.ChatMessage, error)
	MarkChatRead(ctx context.Context, chatID string) (int64, error)
	UploadChatImage(ctx context.Context, chatID, filename string, r io.Reader) (*api.ChatMessage, error)
}

var _ API = (*api.Client)(nil)

// Options configures a Manager.
type Options struct {
	// URL is the socket endpoint, e.g. ws://localhost:8080/api/ws.
	URL string
	// UserID of the signed-in user; messages from anyone else trigger a mark-read.
	UserID string
	// Header returns handshake headers, typically the bearer token.
	Header func() http.Header
	// Jar supplies the session cookie during the handshake.
	Jar http.CookieJar

	MinBackoff time.Duration
	MaxBackoff time.Duration
	Logger     *slog.Logger
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type chatPayload struct {
	ChatID string `json:"chatId"`
}

type sendPayload struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Manager is safe for concurrent use.
type Manager struct {
	api    API
	opts   Options
	dialer *websocket.Dialer
	logger *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	threads   map[string]*Thread
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool

	writeMu sync.Mutex
	bg      sync.WaitGroup
	errs    chan string
}

// NewManager creates a disconnected manager.
func NewManager(client API, opts Options) *Manager {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Header == nil {
		opts.Header = func() http.Header { return http.Header{} }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		api:  client,
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			Jar:              opts.Jar,
		},
		logger:  opts.Logger.With("component", "chat_manager"),
		threads: make(map[string]*Thread),
		errs:    make(chan string, 16),
	}
}

// Errors delivers messages of server error frames. Slow readers miss some.
func (m *Manager) Errors() <-chan string { return m.errs }

// Connected reports whether the socket is currently up.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Connect dials the socket and keeps it up until Disconnect, reconnecting
// with exponential backoff and re-joining every joined chat.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		select {
		case <-m.done:
			// The previous session gave up on its own.
			m.cancel()
			m.cancel, m.done, m.conn = nil, nil, nil
		default:
			m.mu.Unlock()
			return nil
		}
	}
	m.mu.Unlock()

	conn, err := m.dial(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.conn = conn
	m.connected = true
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.run(runCtx, conn)
	}()

	m.logger.Info("chat socket connected", "url", m.opts.URL)
	m.resubscribe(ctx)
	return nil
}

// Disconnect closes the socket and waits for background work to stop.
// Joined threads are kept and re-joined by the next Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done, conn := m.cancel, m.done, m.conn
	m.cancel, m.done, m.conn = nil, nil, nil
	m.connected = false
	if cancel != nil {
		// Under the lock so a concurrent redial cannot install a new conn.
		cancel()
	}
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	if conn != nil {
		m.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		m.writeMu.Unlock()
		_ = conn.Close()
	}
	<-done
	m.bg.Wait()
	m.logger.Info("chat socket disconnected")
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := m.dialer.DialContext(ctx, m.opts.URL, m.opts.Header())
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, &DialError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("dial chat socket: %w", err)
	}
	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		m.writeMu.Lock()
		defer m.writeMu.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	return conn, nil
}

// DialError is a rejected handshake.
type DialError struct {
	StatusCode int
	Err        error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("chat socket handshake rejected with status %d: %v", e.StatusCode, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

func (m *Manager) run(ctx context.Context, conn *websocket.Conn) {
	for {
		err := m.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("chat socket lost", "error", err)

		m.mu.Lock()
		m.connected = false
		m.mu.Unlock()
		_ = conn.Close()

		conn = m.redial(ctx)
		if conn == nil {
			return
		}
		m.resubscribe(ctx)
	}
}

// redial retries with backoff; nil means stop (cancelled or rejected).
func (m *Manager) redial(ctx context.Context) *websocket.Conn {
	backoff := m.opts.MinBackoff
	for {
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, err := m.dial(ctx)
		if err == nil {
			m.mu.Lock()
			if ctx.Err() != nil {
				m.mu.Unlock()
				_ = conn.Close()
				return nil
			}
			m.conn = conn
			m.connected = true
			m.mu.Unlock()
			m.logger.Info("chat socket reconnected")
			return conn
		}

		var dialErr *DialError
		if errors.As(err, &dialErr) && dialErr.StatusCode == http.StatusUnauthorized {
			m.logger.Error("chat socket rejected, giving up", "error", err)
			return nil
		}
		m.logger.Warn("chat socket reconnect failed", "error", err, "retry_in", backoff)
		backoff *= 2
		if backoff > m.opts.MaxBackoff {
			backoff = m.opts.MaxBackoff
		}
	}
}

// resubscribe re-joins every thread and refetches its history to cover
// messages sent while the socket was down.
func (m *Manager) resubscribe(ctx context.Context) {
	for _, t := range m.joinedThreads() {
		if err := m.write(MsgJoinChat, chatPayload{ChatID: t.chatID}); err != nil {
			m.logger.Warn("rejoin failed", "chat_id", t.chatID, "error", err)
			continue
		}
		if err := t.refresh(ctx); err != nil {
			m.logger.Warn("history refetch failed", "chat_id", t.chatID, "error", err)
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		switch env.Type {
		case EventNewMessage:
			var msg api.ChatMessage
			if err := json.Unmarshal(env.Payload, &msg); err != nil {
				m.logger.Warn("malformed new_message", "error", err)
				continue
			}
			m.deliver(ctx, msg)
		case EventError:
			var p errorPayload
			_ = json.Unmarshal(env.Payload, &p)
			m.logger.Warn("chat server error", "message", p.Message)
			select {
			case m.errs <- p.Message:
			default:
			}
		case EventPong:
		default:
			m.logger.Debug("ignoring socket event", "type", env.Type)
		}
	}
}

func (m *Manager) deliver(ctx context.Context, msg api.ChatMessage) {
	m.mu.Lock()
	t := m.threads[msg.ChatID]
	m.mu.Unlock()
	if t == nil {
		return
	}
	if !t.add(msg) {
		return
	}
	if msg.SenderID != m.opts.UserID {
		m.markReadAsync(ctx, t.chatID)
	}
}

// markReadAsync fires a mark-read without waiting; failures are only logged.
func (m *Manager) markReadAsync(ctx context.Context, chatID string) {
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		rctx, cancel := context.WithTimeout(ctx, markReadAfter)
		defer cancel()
		if _, err := m.api.MarkChatRead(rctx, chatID); err != nil && ctx.Err() == nil {
			m.logger.Warn("mark chat read failed", "chat_id", chatID, "error", err)
		}
	}()
}

func (m *Manager) write(msgType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	conn, connected := m.conn, m.connected
	m.mu.Unlock()
	if conn == nil || !connected {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(envelope{Type: msgType, Payload: raw}); err != nil {
		return fmt.Errorf("write %s: %w", msgType, err)
	}
	return nil
}

// Ping asks the server for a pong frame.
func (m *Manager) Ping() error {
	return m.write(MsgPing, struct{}{})
}

// Open resolves the chat with recipientID through the create-or-get
// endpoint and joins it. No message is sent before the chat id is known.
func (m *Manager) Open(ctx context.Context, recipientID string) (*Thread, error) {
	chat, created, err := m.api.OpenChat(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	if created {
		m.logger.Info("chat created", "chat_id", chat.ChatID, "recipient_id", recipientID)
	}
	return m.Join(ctx, chat.ChatID)
}

// Join enters a chat: loads its history and subscribes to its room.
// Joining an already joined chat returns the existing thread.
func (m *Manager) Join(ctx context.Context, chatID string) (*Thread, error) {
	m.mu.Lock()
	if t, ok := m.threads[chatID]; ok {
		m.mu.Unlock()
		return t, nil
	}
	m.mu.Unlock()

	t := newThread(m, chatID)

	m.mu.Lock()
	if existing, ok := m.threads[chatID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.threads[chatID] = t
	m.mu.Unlock()

	// Subscribe before loading history; overlap is removed by messageId.
	if err := m.write(MsgJoinChat, chatPayload{ChatID: chatID}); err != nil {
		// Joined locally; the next reconnect subscribes the room.
		m.logger.Warn("join_chat not sent", "chat_id", chatID, "error", err)
	}
	if err := t.refresh(ctx); err != nil {
		_ = m.leave(t)
		return nil, err
	}
	return t, nil
}

func (m *Manager) leave(t *Thread) error {
	m.mu.Lock()
	if m.threads[t.chatID] != t {
		m.mu.Unlock()
		return ErrNotJoined
	}
	delete(m.threads, t.chatID)
	m.mu.Unlock()

	err := m.write(MsgLeaveChat, chatPayload{ChatID: t.chatID})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

func (m *Manager) joinedThreads() []*Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Thread, 0, len(m.threads))
	for _, t := range m.threads {
		out = append(out, t)
	}
	return out
}
