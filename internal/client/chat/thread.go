package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/lorrc/marketplace-realtime/internal/client/api"
	"github.com/lorrc/marketplace-realtime/internal/client/dedup"
)

// ErrEmptyMessage is returned by Send for blank text.
var ErrEmptyMessage = errors.New("message is empty")

// Thread is one joined chat. Messages are kept in arrival order with each
// messageId present once.
type Thread struct {
	m      *Manager
	chatID string

	mu       sync.RWMutex
	messages []api.ChatMessage
	seen     *dedup.Deduper
	updates  chan api.ChatMessage
}

func newThread(m *Manager, chatID string) *Thread {
	return &Thread{
		m:       m,
		chatID:  chatID,
		seen:    dedup.New(0),
		updates: make(chan api.ChatMessage, 64),
	}
}

// ChatID returns the server chat id.
func (t *Thread) ChatID() string { return t.chatID }

// Messages returns a copy of the thread's messages.
func (t *Thread) Messages() []api.ChatMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]api.ChatMessage, len(t.messages))
	copy(out, t.messages)
	return out
}

// Updates delivers each newly appended message. Slow readers miss some;
// Messages is authoritative.
func (t *Thread) Updates() <-chan api.ChatMessage { return t.updates }

// Send emits send_message. The server persists the message and fans it out
// to the room, so it is appended when it comes back as new_message.
func (t *Thread) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if !t.joined() {
		return ErrNotJoined
	}
	return t.m.write(MsgSendMessage, sendPayload{ChatID: t.chatID, Text: text})
}

// UploadImage posts an image and appends the resulting message. The size
// and type are checked before anything is sent.
func (t *Thread) UploadImage(ctx context.Context, filename string, r io.Reader) (*api.ChatMessage, error) {
	if !t.joined() {
		return nil, ErrNotJoined
	}
	msg, err := t.m.api.UploadChatImage(ctx, t.chatID, filename, r)
	if err != nil {
		return nil, err
	}
	t.add(*msg)
	return msg, nil
}

// Leave unsubscribes from the room. The thread keeps its messages but no
// longer receives new ones.
func (t *Thread) Leave() error {
	return t.m.leave(t)
}

func (t *Thread) joined() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.m.threads[t.chatID] == t
}

// refresh loads the history and merges it in.
func (t *Thread) refresh(ctx context.Context) error {
	history, err := t.m.api.ChatMessages(ctx, t.chatID)
	if err != nil {
		return err
	}
	// Every refetched message must still be in the window, or a reconnect
	// would append the history again.
	t.seen.Grow(2 * len(history))
	for _, msg := range history {
		t.add(msg)
	}
	return nil
}

// add appends msg unless its id was already seen; it reports whether it did.
func (t *Thread) add(msg api.ChatMessage) bool {
	if msg.ChatID != "" && msg.ChatID != t.chatID {
		return false
	}
	t.mu.Lock()
	if !t.seen.Admit(msg.MessageID, 0) {
		t.mu.Unlock()
		return false
	}
	t.messages = append(t.messages, msg)
	t.mu.Unlock()

	select {
	case t.updates <- msg:
	default:
	}
	return true
}
