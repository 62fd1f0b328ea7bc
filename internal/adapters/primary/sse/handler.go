package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/lorrc/marketplace-realtime/internal/adapters/primary/http/middleware"
	"github.com/lorrc/marketplace-realtime/internal/core/domain"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
	"github.com/lorrc/marketplace-realtime/internal/infrastructure/metrics"
)

// EventNotification is the SSE event name for a notification.
const EventNotification = "notification"

// HandlerConfig tunes the stream.
type HandlerConfig struct {
	Heartbeat time.Duration // comment line interval keeping proxies from closing idle streams
	Retry     time.Duration // reconnect delay advertised to clients

	// ReplayOverlap widens a resume below Last-Event-ID. Seqs are assigned
	// at insert and may commit out of order, so a notification can become
	// visible after a higher seq was already streamed.
	ReplayOverlap int64
}

// Handler serves GET /api/notifications/stream.
type Handler struct {
	broker        *Broker
	notifications ports.NotificationService
	cfg           HandlerConfig
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

func NewHandler(
	broker *Broker,
	notifications ports.NotificationService,
	cfg HandlerConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Handler {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 25 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 3 * time.Second
	}
	return &Handler{
		broker:        broker,
		notifications: notifications,
		cfg:           cfg,
		metrics:       m,
		logger:        logger.With("handler", "sse"),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream", h.Stream)
}

// Stream subscribes before replaying so nothing published during the replay
// is lost. A live event whose notification was already replayed on this
// connection is skipped. Replay only runs when the client sent a resume
// point; "0" replays everything the user has, up to the replay limit.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	claims, ok := mw.GetClaims(r.Context())
	if !ok {
		mw.WriteError(w, r, http.StatusUnauthorized, mw.ErrorBody{Code: "UNAUTHORIZED", Message: "Authentication required"})
		return
	}
	ctx := r.Context()
	userID := claims.UserID

	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	sub := h.broker.Subscribe(userID)
	defer h.broker.Unsubscribe(sub)

	lastSeq, resume := lastEventID(r)
	var replay []*domain.Notification
	if resume {
		var err error
		replay, err = h.notifications.Replay(ctx, userID, max(lastSeq-h.cfg.ReplayOverlap, 0))
		if err != nil {
			h.logger.WarnContext(ctx, "notification replay failed", "error", err, "last_event_id", lastSeq)
			replay = nil
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", h.cfg.Retry.Milliseconds()); err != nil {
		return
	}

	// The broker publishes each notification once, so an id only needs
	// remembering until its live copy has been skipped.
	replayed := make(map[uuid.UUID]struct{}, len(replay))
	for _, n := range replay {
		if err := writeNotification(w, n); err != nil {
			return
		}
		h.metrics.SSEEvent("replayed")
		replayed[n.ID] = struct{}{}
	}
	if err := rc.Flush(); err != nil {
		h.logger.ErrorContext(ctx, "streaming unsupported", "error", err)
		return
	}

	h.logger.InfoContext(ctx, "notification stream opened", "last_event_id", lastSeq, "replayed", len(replay))

	heartbeat := time.NewTicker(h.cfg.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case n := <-sub.Events():
			if _, dup := replayed[n.ID]; dup {
				delete(replayed, n.ID)
				continue
			}
			if err := writeNotification(w, n); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeNotification(w io.Writer, n *domain.Notification) error {
	data, err := json.Marshal(domain.NewNotificationSnapshot(n))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", n.Seq, EventNotification, data)
	return err
}

// lastEventID reads the resume point from the Last-Event-ID header, or the
// lastEventId query parameter for clients that cannot set headers. ok is
// false when neither carries a usable seq.
func lastEventID(r *http.Request) (seq int64, ok bool) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("lastEventId")
	}
	seq, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}
