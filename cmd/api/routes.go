package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	httpAdapter "github.com/lorrc/marketplace-realtime/internal/adapters/primary/http"
	mw "github.com/lorrc/marketplace-realtime/internal/adapters/primary/http/middleware"
	"github.com/lorrc/marketplace-realtime/internal/adapters/primary/sse"
	"github.com/lorrc/marketplace-realtime/internal/auth"
	"github.com/lorrc/marketplace-realtime/internal/config"
	"github.com/lorrc/marketplace-realtime/internal/infrastructure/metrics"
)

type routes struct {
	logger  *slog.Logger
	tokens  *auth.TokenManager
	metrics *metrics.Metrics
	limits  limiters

	auth          *httpAdapter.AuthHandler
	users         *httpAdapter.UserHandler
	notifications *httpAdapter.NotificationHandler
	stream        *sse.Handler
	chats         *httpAdapter.ChatHandler
	uploads       *httpAdapter.UploadHandler
	socket        *httpAdapter.WebSocketHandler
	health        *httpAdapter.HealthHandler
}

// throttled applies rl when rate limiting is enabled.
func throttled(r chi.Router, rl *mw.RateLimiter) {
	if rl != nil {
		r.Use(rl.Middleware)
	}
}

func newRouter(cfg *config.Config, h routes) http.Handler {
	r := chi.NewRouter()
	r.Use(
		mw.RequestID,
		mw.RequestLogger(h.logger),
		mw.RecoveryLogger(h.logger),
		mw.HTTPMetrics(h.metrics),
		cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type", "Last-Event-ID", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           cfg.CORS.MaxAge,
		}),
		mw.Language,
	)

	h.health.RegisterRoutes(r)
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, h.metrics.Handler())
	}

	requireSession := mw.JWTMiddleware(h.tokens, cfg.Session.CookieName)

	r.Route("/api", func(r chi.Router) {
		// Long-lived connections are not counted against the limiter.
		r.Get("/ws", h.socket.ServeHTTP)

		r.Route("/notifications", func(r chi.Router) {
			r.Use(requireSession)
			h.stream.RegisterRoutes(r)
			r.Group(func(r chi.Router) {
				throttled(r, h.limits.general)
				h.notifications.RegisterRoutes(r)
			})
		})

		r.Group(func(r chi.Router) {
			throttled(r, h.limits.general)
			r.Group(func(r chi.Router) {
				throttled(r, h.limits.auth)
				r.Route("/auth", h.auth.RegisterRoutes)
			})
			r.Group(func(r chi.Router) {
				r.Use(requireSession)
				r.Route("/users", h.users.RegisterRoutes)
				r.Route("/chats", h.chats.RegisterRoutes)
				r.Route("/uploads", h.uploads.RegisterRoutes)
			})
		})
	})
	return r
}
