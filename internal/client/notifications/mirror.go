// Package notifications keeps a local mirror of the signed-in user's
// notifications: one initial fetch, then live events from the notification
// stream, de-duplicated and prepended newest first.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/lorrc/marketplace-realtime/internal/client/api"
	"github.com/lorrc/marketplace-realtime/internal/client/dedup"
	"github.com/lorrc/marketplace-realtime/internal/client/intent"
	"github.com/lorrc/marketplace-realtime/internal/client/sse"
)

// EventNotification is the stream event type carrying a notification.
const EventNotification = "notification"

// API is the subset of the REST client the mirror needs.
type API interface {
	ListNotifications(ctx context.Context, limit, offset int) (*api.NotificationPage, error)
	MarkNotificationsRead(ctx context.Context, ids []string) ([]string, error)
	MarkNotificationRead(ctx context.Context, id string) (*api.Notification, error)
	OpenNotificationStream(ctx context.Context, lastEventID string) (io.ReadCloser, error)
	UserInfo(ctx context.Context, userID string) (*api.UserInfo, error)
}

var _ API = (*api.Client)(nil)

// ErrNotStarted is returned by operations that need a running mirror.
var ErrNotStarted = errors.New("notification mirror not started")

// UpdateKind says what changed in the mirror.
type UpdateKind int

const (
	Added UpdateKind = iota
	MarkedRead
	AvatarLoaded
	Reset
)

// Update is published on Updates after each change.
type Update struct {
	Kind         UpdateKind
	Notification *api.Notification // Added
	IDs          []string          // MarkedRead
	SenderID     string            // AvatarLoaded
}

// Options tunes a Mirror. Zero values pick defaults.
type Options struct {
	PageSize      int
	DedupWindow   int
	AvatarCache   int
	UpdatesBuffer int
	Retry         time.Duration
	Logger        *slog.Logger
}

type readOp struct {
	IDs []string
}

type session struct {
	lang   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Mirror is safe for concurrent use.
type Mirror struct {
	api    API
	opts   Options
	logger *slog.Logger

	lifeMu  sync.Mutex
	current *session

	mu            sync.RWMutex
	items         []api.Notification
	avatars       *lru.Cache[string, string]
	avatarPending map[string]bool

	seen    *dedup.Deduper
	reads   *intent.Queue[readOp]
	updates chan Update
}

// NewMirror creates a stopped mirror.
func NewMirror(client API, opts Options) *Mirror {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.AvatarCache <= 0 {
		opts.AvatarCache = 256
	}
	if opts.UpdatesBuffer <= 0 {
		opts.UpdatesBuffer = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	avatars, err := lru.New[string, string](opts.AvatarCache)
	if err != nil {
		panic(err)
	}
	return &Mirror{
		api:           client,
		opts:          opts,
		logger:        opts.Logger.With("component", "notification_mirror"),
		avatars:       avatars,
		avatarPending: make(map[string]bool),
		seen:          dedup.New(opts.DedupWindow),
		reads:         intent.NewQueue[readOp](),
		updates:       make(chan Update, opts.UpdatesBuffer),
	}
}

// Updates delivers change notices. Slow readers miss updates; Items is
// always authoritative. The channel is never closed.
func (m *Mirror) Updates() <-chan Update { return m.updates }

// Start fetches the first page in lang and opens the stream. It fails if
// the initial fetch fails. Starting a running mirror restarts it.
func (m *Mirror) Start(ctx context.Context, lang string) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	m.stopLocked()
	return m.startLocked(ctx, lang)
}

// SetLanguage tears the mirror down and starts over in lang: the stream is
// reopened and the list refetched. Same-language calls are no-ops.
func (m *Mirror) SetLanguage(ctx context.Context, lang string) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.current != nil && m.current.lang == lang {
		return nil
	}
	m.stopLocked()
	return m.startLocked(ctx, lang)
}

// Language returns the language of the running session.
func (m *Mirror) Language() string {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.lang
}

// Close closes the stream and clears local state.
func (m *Mirror) Close() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	m.stopLocked()
}

func (m *Mirror) startLocked(parent context.Context, lang string) error {
	ctx, cancel := context.WithCancel(api.WithLanguage(parent, lang))

	page, err := m.api.ListNotifications(ctx, m.opts.PageSize, 0)
	if err != nil {
		cancel()
		m.logger.Error("initial notification fetch failed", "error", err, "lang", lang)
		return fmt.Errorf("fetch notifications: %w", err)
	}
	senders := m.seed(page)

	// Always resume, even from 0, so anything created between the fetch
	// and the subscription is replayed.
	stream := sse.NewStream(m.api.OpenNotificationStream, sse.StreamOptions{
		LastEventID: strconv.FormatInt(m.seen.Watermark(), 10),
		Retry:       m.opts.Retry,
		Fatal:       isFatal,
		Logger:      m.logger,
	})

	avatarReqs := make(chan string, 64)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := stream.Run(gctx, func(ev sse.Event) { m.handleEvent(gctx, ev, avatarReqs) })
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		m.avatarLoop(gctx, senders, avatarReqs)
		return nil
	})

	s := &session{lang: lang, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		if err := g.Wait(); err != nil {
			m.logger.Error("notification mirror stopped", "error", err)
		}
	}()
	m.current = s

	m.logger.Info("notification mirror started", "lang", lang, "items", len(page.Data), "watermark", page.Watermark)
	return nil
}

func (m *Mirror) stopLocked() {
	if m.current == nil {
		return
	}
	m.current.cancel()
	<-m.current.done
	m.current = nil

	m.mu.Lock()
	m.items = nil
	m.avatars.Purge()
	m.avatarPending = make(map[string]bool)
	m.mu.Unlock()

	m.seen.Reset()
	m.reads.Clear()
	m.publish(Update{Kind: Reset})
}

// seed installs the initial page and returns the senders needing avatars.
func (m *Mirror) seed(page *api.NotificationPage) []string {
	m.seen.Advance(page.Watermark)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make([]api.Notification, 0, len(page.Data))
	var senders []string
	for _, n := range page.Data {
		if !m.seen.Admit(n.NotificationID, 0) {
			continue
		}
		m.seen.Advance(n.Seq)
		m.items = append(m.items, n)
		if id := m.noteSenderLocked(n.Sender); id != "" {
			senders = append(senders, id)
		}
	}
	return senders
}

func (m *Mirror) handleEvent(ctx context.Context, ev sse.Event, avatarReqs chan<- string) {
	if ev.Type != EventNotification && ev.Type != "message" {
		return
	}
	n, err := decodeNotification(ev.Data)
	if err != nil {
		m.logger.Warn("dropping malformed notification event", "error", err, "event_id", ev.ID)
		return
	}
	if n.Seq == 0 {
		n.Seq, _ = strconv.ParseInt(ev.ID, 10, 64)
	}
	if !m.seen.Admit(n.NotificationID, n.Seq) {
		m.logger.Debug("duplicate notification skipped", "notification_id", n.NotificationID, "seq", n.Seq)
		return
	}

	m.mu.Lock()
	m.items = append([]api.Notification{n}, m.items...)
	senderID := m.noteSenderLocked(n.Sender)
	m.mu.Unlock()

	added := n
	m.publish(Update{Kind: Added, Notification: &added})

	if senderID != "" {
		select {
		case avatarReqs <- senderID:
		case <-ctx.Done():
		}
	}
}

// noteSenderLocked caches an avatar carried in the payload, or marks the
// sender for a lookup. It returns the id to look up, if any.
func (m *Mirror) noteSenderLocked(s *api.Sender) string {
	if s == nil || s.UserID == "" {
		return ""
	}
	if m.avatars.Contains(s.UserID) || m.avatarPending[s.UserID] {
		return ""
	}
	if s.AvatarURL != "" {
		m.avatars.Add(s.UserID, s.AvatarURL)
		return ""
	}
	m.avatarPending[s.UserID] = true
	return s.UserID
}

func (m *Mirror) avatarLoop(ctx context.Context, initial []string, reqs <-chan string) {
	for _, id := range initial {
		if ctx.Err() != nil {
			return
		}
		m.loadAvatar(ctx, id)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-reqs:
			m.loadAvatar(ctx, id)
		}
	}
}

func (m *Mirror) loadAvatar(ctx context.Context, senderID string) {
	url := ""
	info, err := m.api.UserInfo(ctx, senderID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Cached empty so the sender is not fetched again this session.
		m.logger.Warn("avatar lookup failed", "sender_id", senderID, "error", err)
	} else {
		url = info.AvatarURL
	}

	m.mu.Lock()
	delete(m.avatarPending, senderID)
	m.avatars.Add(senderID, url)
	m.mu.Unlock()

	m.publish(Update{Kind: AvatarLoaded, SenderID: senderID})
}

// Avatar returns the cached avatar URL for a sender.
func (m *Mirror) Avatar(senderID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.avatars.Get(senderID)
}

// Items returns a copy of the mirrored notifications, newest first.
func (m *Mirror) Items() []api.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]api.Notification, len(m.items))
	copy(out, m.items)
	return out
}

// UnreadCount returns the number of unread mirrored notifications.
func (m *Mirror) UnreadCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, it := range m.items {
		if !it.IsRead {
			n++
		}
	}
	return n
}

// MarkAllAsRead marks ids read on the server, then flips the ids the server
// acknowledged that are present locally. A failure is logged and leaves
// local state untouched.
func (m *Mirror) MarkAllAsRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	lang, ok := m.sessionLanguage()
	if !ok {
		return ErrNotStarted
	}
	id := m.reads.Enqueue(readOp{IDs: ids})

	updated, err := m.api.MarkNotificationsRead(api.WithLanguage(ctx, lang), ids)
	if err != nil {
		_, _ = m.reads.Fail(id, err)
		m.logger.Error("mark notifications read failed", "count", len(ids), "error", err)
		return err
	}
	if _, err := m.reads.Confirm(id); err != nil {
		// The mirror was reset while the request was in flight.
		return nil
	}
	m.applyRead(updated)
	return nil
}

// MarkSingleAsRead marks one notification read; same semantics as MarkAllAsRead.
func (m *Mirror) MarkSingleAsRead(ctx context.Context, notificationID string) error {
	lang, ok := m.sessionLanguage()
	if !ok {
		return ErrNotStarted
	}
	id := m.reads.Enqueue(readOp{IDs: []string{notificationID}})

	n, err := m.api.MarkNotificationRead(api.WithLanguage(ctx, lang), notificationID)
	if err != nil {
		_, _ = m.reads.Fail(id, err)
		m.logger.Error("mark notification read failed", "notification_id", notificationID, "error", err)
		return err
	}
	if _, err := m.reads.Confirm(id); err != nil {
		return nil
	}
	if n.IsRead {
		m.applyRead([]string{n.NotificationID})
	}
	return nil
}

// PendingReads returns the read marks still awaiting a response.
func (m *Mirror) PendingReads() int { return m.reads.Len() }

func (m *Mirror) applyRead(ids []string) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	m.mu.Lock()
	var flipped []string
	for i := range m.items {
		if want[m.items[i].NotificationID] && !m.items[i].IsRead {
			m.items[i].IsRead = true
			flipped = append(flipped, m.items[i].NotificationID)
		}
	}
	m.mu.Unlock()

	if len(flipped) > 0 {
		m.publish(Update{Kind: MarkedRead, IDs: flipped})
	}
}

func (m *Mirror) sessionLanguage() (string, bool) {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.current == nil {
		return "", false
	}
	return m.current.lang, true
}

func (m *Mirror) publish(u Update) {
	select {
	case m.updates <- u:
	default:
	}
}

// decodeNotification accepts the snapshot as a JSON object or as a JSON
// string holding the object.
func decodeNotification(data string) (api.Notification, error) {
	var n api.Notification
	raw := []byte(data)

	var inner string
	if err := json.Unmarshal(raw, &inner); err == nil {
		raw = []byte(inner)
	}
	if err := json.Unmarshal(raw, &n); err != nil {
		return api.Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	if n.NotificationID == "" {
		return api.Notification{}, errors.New("notification without id")
	}
	return n, nil
}

// isFatal stops reconnecting on client errors other than throttling.
func isFatal(err error) bool {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	s := apiErr.StatusCode
	return s >= 400 && s < 500 && s != http.StatusTooManyRequests && s != http.StatusRequestTimeout
}
