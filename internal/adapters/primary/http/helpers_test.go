package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	mw "github.com/lorrc/marketplace-realtime/internal/adapters/primary/http/middleware"
	"github.com/lorrc/marketplace-realtime/internal/adapters/secondary/blob"
	"github.com/lorrc/marketplace-realtime/internal/auth"
	"github.com/lorrc/marketplace-realtime/internal/core/domain"
	"github.com/lorrc/marketplace-realtime/internal/core/mocks"
	"github.com/lorrc/marketplace-realtime/internal/core/services"
	"github.com/lorrc/marketplace-realtime/internal/infrastructure/metrics"
)

const testCookie = "session"

type testEnv struct {
	tm            *auth.TokenManager
	users         *mocks.MockUserRepository
	notifications *mocks.MockNotificationService
	chats         *mocks.MockChatService
	images        *blob.Memory
	metrics       *metrics.Metrics
	router        chi.Router
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		tm:            auth.NewTokenManager("test-secret", time.Hour),
		users:         mocks.NewMockUserRepository(),
		notifications: mocks.NewMockNotificationService(),
		chats:         mocks.NewMockChatService(),
		images:        blob.NewMemory(""),
		metrics:       metrics.New(),
	}

	logger := discardLogger()
	errorHandler := NewErrorHandler(logger)
	userLookup := services.NewUserLookupService(env.users)

	authHandler := NewAuthHandler(services.NewAuthService(env.users), env.tm, SessionCookieConfig{Name: testCookie}, errorHandler, logger)
	userHandler := NewUserHandler(env.users, userLookup, errorHandler, logger)
	notificationHandler := NewNotificationHandler(env.notifications, errorHandler, logger)
	chatHandler := NewChatHandler(env.chats, userLookup, 0, env.metrics, errorHandler, logger)
	uploadHandler := NewUploadHandler(env.images, env.chats, errorHandler, logger)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", authHandler.RegisterRoutes)
		r.Group(func(r chi.Router) {
			r.Use(mw.JWTMiddleware(env.tm, testCookie))
			r.Route("/users", userHandler.RegisterRoutes)
			r.Route("/notifications", notificationHandler.RegisterRoutes)
			r.Route("/chats", chatHandler.RegisterRoutes)
			r.Route("/uploads", uploadHandler.RegisterRoutes)
		})
	})
	env.router = r

	return env
}

func (e *testEnv) token(t *testing.T, userID uuid.UUID, role domain.Role) string {
	t.Helper()
	token, err := e.tm.GenerateToken(userID, role)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) mw.ErrorBody {
	t.Helper()
	return decodeBody[mw.ErrorEnvelope](t, rec).Error
}

func findCookie(resp *stdhttp.Response, name string) *stdhttp.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
