package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lorrc/marketplace-realtime/internal/client/api"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeBackend struct {
	t      *testing.T
	frames chan string

	mu          sync.Mutex
	initial     []api.Notification
	backlog     []api.Notification // stored after the list call, replayed on resume
	owned       map[string]bool
	failReads   bool
	listLangs   []string
	streamLangs []string
	resumeIDs   []string
	avatarCalls map[string]int
}

func newFakeBackend(t *testing.T, initial ...api.Notification) *fakeBackend {
	return &fakeBackend{
		t:           t,
		frames:      make(chan string, 16),
		initial:     initial,
		owned:       map[string]bool{},
		avatarCalls: map[string]int{},
	}
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/notifications/me", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.listLangs = append(f.listLangs, r.Header.Get("Accept-Language"))
		page := api.NotificationPage{Data: f.initial, Count: len(f.initial)}
		for _, n := range f.initial {
			if n.Seq > page.Watermark {
				page.Watermark = n.Seq
			}
		}
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, page)
	})
	mux.HandleFunc("GET /api/notifications/stream", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.streamLangs = append(f.streamLangs, r.Header.Get("Accept-Language"))
		resume := r.Header.Get("Last-Event-ID")
		f.resumeIDs = append(f.resumeIDs, resume)
		var replay []string
		if after, err := strconv.ParseInt(resume, 10, 64); err == nil {
			for _, n := range f.backlog {
				if n.Seq > after {
					replay = append(replay, frame(f.t, n))
				}
			}
		}
		f.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "retry: 20\n\n")
		for _, fr := range replay {
			_, _ = io.WriteString(w, fr)
		}
		w.(http.Flusher).Flush()
		for {
			select {
			case <-r.Context().Done():
				return
			case fr := <-f.frames:
				_, _ = io.WriteString(w, fr)
				w.(http.Flusher).Flush()
			}
		}
	})
	mux.HandleFunc("GET /api/users/{id}/avatar", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		f.mu.Lock()
		f.avatarCalls[id]++
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, api.UserInfo{UserID: id, Name: "Seller", AvatarURL: "/avatars/" + id + ".png"})
	})
	mux.HandleFunc("PATCH /api/notifications/read-many", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failReads {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": map[string]string{"code": "INTERNAL_ERROR", "message": "try later"}})
			return
		}
		var in struct {
			NotificationIDs []string `json:"notificationIds"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&in))
		updated := []string{}
		for _, id := range in.NotificationIDs {
			if f.owned[id] {
				updated = append(updated, id)
			}
		}
		writeJSON(w, http.StatusOK, map[string][]string{"updated": updated})
	})
	mux.HandleFunc("PATCH /api/notifications/{id}/read", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, api.Notification{NotificationID: r.PathValue("id"), IsRead: true})
	})
	return mux
}

func (f *fakeBackend) push(n api.Notification) {
	f.frames <- frame(f.t, n)
}

func frame(t *testing.T, n api.Notification) string {
	data, err := json.Marshal(n)
	require.NoError(t, err)
	return fmt.Sprintf("id: %d\nevent: notification\ndata: %s\n\n", n.Seq, data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startMirror(t *testing.T, f *fakeBackend) *Mirror {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	client, err := api.New(srv.URL)
	require.NoError(t, err)

	m := NewMirror(client, Options{Logger: discardLogger(), Retry: 20 * time.Millisecond})
	require.NoError(t, m.Start(context.Background(), "en"))
	t.Cleanup(func() {
		m.Close()
		srv.Close()
	})
	return m
}

func ids(items []api.Notification) []string {
	out := make([]string, len(items))
	for i, n := range items {
		out[i] = n.NotificationID
	}
	return out
}

func TestMirror_DeduplicatesStreamAgainstInitialFetch(t *testing.T) {
	f := newFakeBackend(t, api.Notification{NotificationID: "n1", Seq: 1, Title: "first"})
	m := startMirror(t, f)

	f.push(api.Notification{NotificationID: "n1", Seq: 1, Title: "first again"})
	f.push(api.Notification{NotificationID: "n2", Seq: 2})
	f.push(api.Notification{NotificationID: "n2", Seq: 2})

	// Double-encoded payload without seq in the body.
	inner, err := json.Marshal(api.Notification{NotificationID: "n3"})
	require.NoError(t, err)
	outer, err := json.Marshal(string(inner))
	require.NoError(t, err)
	f.frames <- "id: 3\nevent: notification\ndata: " + string(outer) + "\n\n"

	require.Eventually(t, func() bool { return len(m.Items()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"n3", "n2", "n1"}, ids(m.Items()))
	assert.Equal(t, "first", m.Items()[2].Title)
	assert.Equal(t, int64(3), m.Items()[0].Seq)
}

func TestMirror_OutOfOrderSeqsAreKept(t *testing.T) {
	f := newFakeBackend(t, api.Notification{NotificationID: "n1", Seq: 1})
	m := startMirror(t, f)

	f.push(api.Notification{NotificationID: "n43", Seq: 43})
	f.push(api.Notification{NotificationID: "n42", Seq: 42})
	f.push(api.Notification{NotificationID: "n43", Seq: 43})

	require.Eventually(t, func() bool { return len(m.Items()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"n42", "n43", "n1"}, ids(m.Items()))
}

func TestMirror_EmptyInboxStillReplaysFromZero(t *testing.T) {
	f := newFakeBackend(t)
	// Created after the first page was read but before the stream opened.
	f.backlog = []api.Notification{{NotificationID: "n1", Seq: 1}}
	m := startMirror(t, f)

	require.Eventually(t, func() bool { return len(m.Items()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"n1"}, ids(m.Items()))
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "0", f.resumeIDs[0])
}

func TestMirror_ResumesFromWatermark(t *testing.T) {
	f := newFakeBackend(t, api.Notification{NotificationID: "n7", Seq: 7})
	startMirror(t, f)

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.resumeIDs) == 1
	}, 2*time.Second, 10*time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "7", f.resumeIDs[0])
}

func TestMirror_MarkAllAsRead_OnlyAcknowledgedLocalIDs(t *testing.T) {
	f := newFakeBackend(t,
		api.Notification{NotificationID: "n1", Seq: 2},
		api.Notification{NotificationID: "n3", Seq: 1},
	)
	f.owned = map[string]bool{"n1": true, "n2": true, "n3": true}
	m := startMirror(t, f)

	require.NoError(t, m.MarkAllAsRead(context.Background(), []string{"n1", "n2"}))

	items := m.Items()
	require.Len(t, items, 2)
	assert.True(t, items[0].IsRead, "n1 flips")
	assert.False(t, items[1].IsRead, "n3 untouched")
	assert.Equal(t, 1, m.UnreadCount())
	assert.Zero(t, m.PendingReads())
}

func TestMirror_MarkAllAsRead_FailureKeepsState(t *testing.T) {
	f := newFakeBackend(t, api.Notification{NotificationID: "n1", Seq: 1})
	f.failReads = true
	m := startMirror(t, f)

	err := m.MarkAllAsRead(context.Background(), []string{"n1"})
	require.Error(t, err)
	assert.Equal(t, "try later", api.Message(err))
	assert.False(t, m.Items()[0].IsRead)
	assert.Zero(t, m.PendingReads())
}

func TestMirror_MarkSingleAsRead(t *testing.T) {
	f := newFakeBackend(t,
		api.Notification{NotificationID: "n1", Seq: 2},
		api.Notification{NotificationID: "n2", Seq: 1},
	)
	m := startMirror(t, f)

	require.NoError(t, m.MarkSingleAsRead(context.Background(), "n2"))
	items := m.Items()
	assert.False(t, items[0].IsRead)
	assert.True(t, items[1].IsRead)
}

func TestMirror_NotStarted(t *testing.T) {
	m := NewMirror(nil, Options{Logger: discardLogger()})
	assert.ErrorIs(t, m.MarkAllAsRead(context.Background(), []string{"n1"}), ErrNotStarted)
	assert.ErrorIs(t, m.MarkSingleAsRead(context.Background(), "n1"), ErrNotStarted)
	m.Close()
}

func TestMirror_AvatarFetchedOncePerSender(t *testing.T) {
	seller := &api.Sender{UserID: "s1", Name: "Seller"}
	f := newFakeBackend(t, api.Notification{NotificationID: "n1", Seq: 1, Sender: seller})
	m := startMirror(t, f)

	f.push(api.Notification{NotificationID: "n2", Seq: 2, Sender: seller})
	f.push(api.Notification{NotificationID: "n3", Seq: 3, Sender: &api.Sender{UserID: "s2", AvatarURL: "/inline.png"}})

	require.Eventually(t, func() bool {
		url, ok := m.Avatar("s1")
		return ok && url == "/avatars/s1.png" && len(m.Items()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	url, ok := m.Avatar("s2")
	assert.True(t, ok)
	assert.Equal(t, "/inline.png", url)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 1, f.avatarCalls["s1"])
	assert.Zero(t, f.avatarCalls["s2"])
}

func TestMirror_SetLanguageResets(t *testing.T) {
	f := newFakeBackend(t, api.Notification{NotificationID: "n1", Seq: 1})
	m := startMirror(t, f)

	f.push(api.Notification{NotificationID: "n2", Seq: 2})
	require.Eventually(t, func() bool { return len(m.Items()) == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.SetLanguage(context.Background(), "en"), "same language is a no-op")
	assert.Len(t, m.Items(), 2)

	require.NoError(t, m.SetLanguage(context.Background(), "ar"))
	assert.Equal(t, "ar", m.Language())
	assert.Equal(t, []string{"n1"}, ids(m.Items()), "state refetched from scratch")

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.streamLangs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{"en", "ar"}, f.listLangs)
	assert.Equal(t, []string{"en", "ar"}, f.streamLangs)
}

func TestMirror_StartFailsOnFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]string{"code": "UNAUTHORIZED", "message": "Authentication required"}})
	}))
	defer srv.Close()
	client, err := api.New(srv.URL)
	require.NoError(t, err)

	m := NewMirror(client, Options{Logger: discardLogger()})
	err = m.Start(context.Background(), "en")
	require.Error(t, err)
	assert.True(t, api.IsStatus(err, http.StatusUnauthorized))
	assert.Empty(t, m.Language())
	m.Close()
}

func TestDecodeNotification(t *testing.T) {
	n, err := decodeNotification(`{"notificationId":"n1","title":"t"}`)
	require.NoError(t, err)
	assert.Equal(t, "n1", n.NotificationID)

	n, err = decodeNotification(`"{\"notificationId\":\"n2\"}"`)
	require.NoError(t, err)
	assert.Equal(t, "n2", n.NotificationID)

	_, err = decodeNotification(`{"title":"no id"}`)
	assert.Error(t, err)

	_, err = decodeNotification(`not json`)
	assert.Error(t, err)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, isFatal(&api.Error{StatusCode: http.StatusUnauthorized}))
	assert.True(t, isFatal(fmt.Errorf("wrapped: %w", &api.Error{StatusCode: http.StatusForbidden})))
	assert.False(t, isFatal(&api.Error{StatusCode: http.StatusTooManyRequests}))
	assert.False(t, isFatal(&api.Error{StatusCode: http.StatusBadGateway}))
	assert.False(t, isFatal(io.ErrUnexpectedEOF))
}
