package http

import (
	"context"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wsAdapter "github.com/lorrc/marketplace-realtime/internal/adapters/primary/websocket"
	"github.com/lorrc/marketplace-realtime/internal/core/domain"
)

func newWebSocketServer(t *testing.T, env *testEnv, cfg WebSocketConfig) (*httptest.Server, *wsAdapter.Hub) {
	t.Helper()

	hub := wsAdapter.NewHub(env.metrics, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	cfg.CookieName = testCookie
	handler := NewWebSocketHandler(hub, env.tm, env.chats, nil, cfg, discardLogger())

	r := chi.NewRouter()
	r.Get("/api/ws", handler.ServeHTTP)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server, hub
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws"
}

func TestWebSocketHandler_RejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)
	server, _ := newWebSocketServer(t, env, WebSocketConfig{IsDevelopment: true})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, stdhttp.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(server)+"?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, stdhttp.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketHandler_CookieSession(t *testing.T) {
	env := newTestEnv(t)
	server, hub := newWebSocketServer(t, env, WebSocketConfig{IsDevelopment: true})
	userID := uuid.New()

	header := stdhttp.Header{}
	header.Set("Cookie", testCookie+"="+env.token(t, userID, domain.RoleBuyer))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), header)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return hub.Connected(userID) }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame struct {
		Type string `json:"type"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "pong", frame.Type)
}

func TestWebSocketHandler_QueryToken(t *testing.T) {
	env := newTestEnv(t)
	server, hub := newWebSocketServer(t, env, WebSocketConfig{IsDevelopment: true})
	userID := uuid.New()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server)+"?token="+env.token(t, userID, domain.RoleSupplier), nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return hub.Connected(userID) }, time.Second, 10*time.Millisecond)
}

func TestWebSocketHandler_Origin(t *testing.T) {
	env := newTestEnv(t)
	server, _ := newWebSocketServer(t, env, WebSocketConfig{AllowedOrigins: []string{"https://shop.example.com"}})
	token := env.token(t, uuid.New(), domain.RoleBuyer)

	header := stdhttp.Header{}
	header.Set("Origin", "https://evil.example.org")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server)+"?token="+token, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, stdhttp.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://shop.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server)+"?token="+token, header)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"localhost:5173", "https://shop.example.com", "*.market.io"}

	assert.True(t, originAllowed("localhost:5173", allowed))
	assert.True(t, originAllowed("shop.example.com", allowed))
	assert.True(t, originAllowed("eu.market.io", allowed))
	assert.True(t, originAllowed("market.io", allowed))
	assert.False(t, originAllowed("evilmarket.io", allowed))
	assert.False(t, originAllowed("localhost:3000", allowed))
}
