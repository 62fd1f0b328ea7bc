package http

import (
	"cmp"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	mw "github.com/lorrc/marketplace-realtime/internal/adapters/primary/http/middleware"
	wsAdapter "github.com/lorrc/marketplace-realtime/internal/adapters/primary/websocket"
	"github.com/lorrc/marketplace-realtime/internal/auth"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
)

// WebSocketConfig tunes the /api/ws upgrade. In development every origin
// is accepted.
type WebSocketConfig struct {
	AllowedOrigins  []string
	ReadBufferSize  int
	WriteBufferSize int
	IsDevelopment   bool
	CookieName      string
}

// WebSocketHandler authenticates and upgrades chat sockets, then hands them
// to the hub.
type WebSocketHandler struct {
	hub        *wsAdapter.Hub
	tm         *auth.TokenManager
	chats      ports.ChatService
	limiter    *mw.RateLimitByKey
	cookieName string
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewWebSocketHandler builds the handler. limiter throttles send_message
// per user and may be nil.
func NewWebSocketHandler(
	hub *wsAdapter.Hub,
	tm *auth.TokenManager,
	chats ports.ChatService,
	limiter *mw.RateLimitByKey,
	cfg WebSocketConfig,
	logger *slog.Logger,
) *WebSocketHandler {
	h := &WebSocketHandler{
		hub:        hub,
		tm:         tm,
		chats:      chats,
		limiter:    limiter,
		cookieName: cmp.Or(cfg.CookieName, mw.DefaultSessionCookie),
		logger:     logger.With("handler", "websocket"),
	}
	policy := originPolicy{allowed: cfg.AllowedOrigins, allowAll: cfg.IsDevelopment, logger: h.logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     policy.check,
	}
	return h
}

// originPolicy accepts requests without an Origin header, which come from
// same-origin pages and non-browser clients.
type originPolicy struct {
	allowed  []string
	allowAll bool
	logger   *slog.Logger
}

func (p originPolicy) check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || p.allowAll {
		return true
	}
	u, err := url.Parse(origin)
	if err == nil && originAllowed(u.Host, p.allowed) {
		return true
	}
	p.logger.Warn("websocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
	return false
}

// originAllowed matches host against plain hosts, full origins and
// "*.example.com" wildcards. A wildcard also matches its apex.
func originAllowed(host string, allowed []string) bool {
	for _, entry := range allowed {
		if u, err := url.Parse(entry); err == nil && u.Host != "" {
			entry = u.Host
		}
		apex, wildcard := strings.CutPrefix(entry, "*.")
		switch {
		case !wildcard && host == entry:
			return true
		case wildcard && (host == apex || strings.HasSuffix(host, "."+apex)):
			return true
		}
	}
	return false
}

// ServeHTTP upgrades GET /api/ws. The session token is read from the
// Authorization header, then the session cookie, then ?token=.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.logger.With("request_id", GetRequestID(r.Context()), "remote_addr", r.RemoteAddr)

	token := mw.TokenFromRequest(r, h.cookieName)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		log.Warn("websocket rejected: no token")
		unauthorized(w, r, "Missing authentication token")
		return
	}
	claims, err := h.tm.ValidateToken(token)
	if err != nil {
		log.Warn("websocket rejected: bad token", "error", err)
		unauthorized(w, r, "Invalid or expired token")
		return
	}

	// Upgrade writes its own error response.
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "user_id", claims.UserID, "error", err)
		return
	}

	client := wsAdapter.NewClient(h.hub, conn, claims.UserID, h.chats, h.limiter, h.logger)
	if !h.hub.Attach(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
		return
	}
	log.Info("websocket connected", "user_id", claims.UserID)
	client.Start()
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	mw.WriteError(w, r, http.StatusUnauthorized, mw.ErrorBody{Code: "UNAUTHORIZED", Message: msg})
}
