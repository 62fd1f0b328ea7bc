package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lorrc/marketplace-realtime/internal/client/api"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	me   = "u1"
	peer = "u2"
)

type fakeChatServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	writeMu   sync.Mutex
	frames    []envelope
	conns     []*websocket.Conn
	history   map[string][]api.ChatMessage
	markReads map[string]int
	rejectWS  bool
	uploads   int
}

func newFakeChatServer(t *testing.T) *fakeChatServer {
	f := &fakeChatServer{
		t:         t,
		history:   map[string][]api.ChatMessage{},
		markReads: map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chats/me", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		writeJSON(w, http.StatusCreated, api.Chat{ChatID: "chat-" + in["recipientId"]})
	})
	mux.HandleFunc("GET /api/chats/me/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		data := f.history[r.PathValue("id")]
		f.mu.Unlock()
		if data == nil {
			data = []api.ChatMessage{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": data, "count": len(data)})
	})
	mux.HandleFunc("PATCH /api/chats/me/{id}/read", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.markReads[r.PathValue("id")]++
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]int64{"updated": 1})
	})
	mux.HandleFunc("POST /api/chats/me/{id}/upload", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.uploads++
		f.mu.Unlock()
		writeJSON(w, http.StatusCreated, api.ChatMessage{MessageID: "img-1", ChatID: r.PathValue("id"), SenderID: me, ImageURL: "/api/uploads/x.png"})
	})
	mux.HandleFunc("GET /api/ws", f.serveWS)
	f.srv = httptest.NewServer(mux)
	return f
}

func (f *fakeChatServer) serveWS(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	reject := f.rejectWS
	f.mu.Unlock()
	if reject {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()
	defer conn.Close()

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		f.mu.Lock()
		f.frames = append(f.frames, env)
		f.mu.Unlock()

		if env.Type == MsgSendMessage {
			var p sendPayload
			_ = json.Unmarshal(env.Payload, &p)
			msg := api.ChatMessage{MessageID: "m-" + p.Text, ChatID: p.ChatID, SenderID: me, Text: p.Text}
			// Delivered twice to exercise de-duplication.
			f.write(conn, msg)
			f.write(conn, msg)
		}
	}
}

func (f *fakeChatServer) write(conn *websocket.Conn, msg api.ChatMessage) {
	raw, _ := json.Marshal(msg)
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = conn.WriteJSON(envelope{Type: EventNewMessage, Payload: raw})
}

func (f *fakeChatServer) push(msg api.ChatMessage) {
	f.mu.Lock()
	conns := append([]*websocket.Conn(nil), f.conns...)
	f.mu.Unlock()
	for _, c := range conns {
		f.write(c, msg)
	}
}

func (f *fakeChatServer) pushError(message string) {
	raw, _ := json.Marshal(errorPayload{Message: message})
	f.mu.Lock()
	conns := append([]*websocket.Conn(nil), f.conns...)
	f.mu.Unlock()
	for _, c := range conns {
		f.writeMu.Lock()
		_ = c.WriteJSON(envelope{Type: EventError, Payload: raw})
		f.writeMu.Unlock()
	}
}

func (f *fakeChatServer) dropAll() {
	f.mu.Lock()
	conns := f.conns
	f.conns = nil
	f.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (f *fakeChatServer) framesOf(msgType string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, env := range f.frames {
		if env.Type != msgType {
			continue
		}
		var p chatPayload
		_ = json.Unmarshal(env.Payload, &p)
		out = append(out, p.ChatID)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestManager(t *testing.T, f *fakeChatServer) *Manager {
	t.Helper()
	client, err := api.New(f.srv.URL)
	require.NoError(t, err)
	m := NewManager(client, Options{
		URL:        "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/ws",
		UserID:     me,
		Header:     client.AuthHeader,
		Jar:        client.Jar(),
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 50 * time.Millisecond,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(func() {
		m.Disconnect()
		f.srv.Close()
	})
	return m
}

func messageIDs(msgs []api.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.MessageID
	}
	return out
}

func TestManager_OpenSendAndDedup(t *testing.T) {
	f := newFakeChatServer(t)
	f.history["chat-"+peer] = []api.ChatMessage{{MessageID: "m-hello", ChatID: "chat-" + peer, SenderID: peer, Text: "hello"}}
	m := newTestManager(t, f)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx))
	thread, err := m.Open(ctx, peer)
	require.NoError(t, err)
	assert.Equal(t, "chat-"+peer, thread.ChatID())

	require.Eventually(t, func() bool {
		return len(f.framesOf(MsgJoinChat)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, thread.Send("hi there"))
	require.Eventually(t, func() bool { return len(thread.Messages()) == 2 }, 2*time.Second, 10*time.Millisecond)

	// History item redelivered over the socket is not duplicated.
	f.push(api.ChatMessage{MessageID: "m-hello", ChatID: "chat-" + peer, SenderID: peer})
	f.push(api.ChatMessage{MessageID: "m-last", ChatID: "chat-" + peer, SenderID: me})
	require.Eventually(t, func() bool { return len(thread.Messages()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"m-hello", "m-hi there", "m-last"}, messageIDs(thread.Messages()))

	// Own messages never trigger a mark-read.
	f.mu.Lock()
	assert.Zero(t, f.markReads["chat-"+peer])
	f.mu.Unlock()
}

func TestManager_MarksIncomingRead(t *testing.T) {
	f := newFakeChatServer(t)
	m := newTestManager(t, f)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx))
	thread, err := m.Join(ctx, "c1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.framesOf(MsgJoinChat)) == 1 }, 2*time.Second, 10*time.Millisecond)

	f.push(api.ChatMessage{MessageID: "x1", ChatID: "c1", SenderID: peer, Text: "offer"})
	f.push(api.ChatMessage{MessageID: "other", ChatID: "not-joined", SenderID: peer})

	select {
	case msg := <-thread.Updates():
		assert.Equal(t, "x1", msg.MessageID)
	case <-time.After(2 * time.Second):
		t.Fatal("no update")
	}
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.markReads["c1"] == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, thread.Messages(), 1)
}

func TestManager_ReconnectRejoins(t *testing.T) {
	f := newFakeChatServer(t)
	m := newTestManager(t, f)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx))
	_, err := m.Join(ctx, "c1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.framesOf(MsgJoinChat)) == 1 }, 2*time.Second, 10*time.Millisecond)

	f.dropAll()

	require.Eventually(t, func() bool {
		return len(f.framesOf(MsgJoinChat)) == 2 && m.Connected()
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"c1", "c1"}, f.framesOf(MsgJoinChat))
}

func TestThread_RefreshKeepsLongHistoryUnique(t *testing.T) {
	f := newFakeChatServer(t)
	long := make([]api.ChatMessage, 1500)
	for i := range long {
		long[i] = api.ChatMessage{MessageID: fmt.Sprintf("m-%d", i), ChatID: "c1", SenderID: me}
	}
	f.history["c1"] = long
	m := newTestManager(t, f)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx))
	thread, err := m.Join(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, thread.Messages(), len(long))

	// What a reconnect does.
	require.NoError(t, thread.refresh(ctx))
	assert.Len(t, thread.Messages(), len(long))
}

func TestManager_ServerErrors(t *testing.T) {
	f := newFakeChatServer(t)
	m := newTestManager(t, f)
	require.NoError(t, m.Connect(context.Background()))
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.conns) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.pushError("you are not a participant of this chat")
	select {
	case msg := <-m.Errors():
		assert.Equal(t, "you are not a participant of this chat", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no error delivered")
	}
}

func TestThread_LeaveAndSendErrors(t *testing.T) {
	f := newFakeChatServer(t)
	m := newTestManager(t, f)
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))

	thread, err := m.Join(ctx, "c1")
	require.NoError(t, err)

	assert.ErrorIs(t, thread.Send("   "), ErrEmptyMessage)

	require.NoError(t, thread.Leave())
	require.Eventually(t, func() bool { return len(f.framesOf(MsgLeaveChat)) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, thread.Send("hello"), ErrNotJoined)
	assert.ErrorIs(t, thread.Leave(), ErrNotJoined)
}

func TestThread_SendWhileDisconnected(t *testing.T) {
	f := newFakeChatServer(t)
	m := newTestManager(t, f)

	thread, err := m.Join(context.Background(), "c1")
	require.NoError(t, err)
	assert.ErrorIs(t, thread.Send("hello"), ErrNotConnected)
}

func TestThread_UploadImage(t *testing.T) {
	f := newFakeChatServer(t)
	m := newTestManager(t, f)
	ctx := context.Background()

	thread, err := m.Join(ctx, "c1")
	require.NoError(t, err)

	_, err = thread.UploadImage(ctx, "notes.txt", strings.NewReader("plain text"))
	assert.ErrorIs(t, err, api.ErrImageType)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	msg, err := thread.UploadImage(ctx, "photo.png", bytes.NewReader(png))
	require.NoError(t, err)
	assert.Equal(t, "img-1", msg.MessageID)
	assert.Equal(t, []string{"img-1"}, messageIDs(thread.Messages()))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 1, f.uploads)
}

func TestConnect_Rejected(t *testing.T) {
	f := newFakeChatServer(t)
	f.rejectWS = true
	m := newTestManager(t, f)

	err := m.Connect(context.Background())
	var dialErr *DialError
	require.ErrorAs(t, err, &dialErr)
	assert.Equal(t, http.StatusUnauthorized, dialErr.StatusCode)
	assert.False(t, m.Connected())
}
