// Command api serves the marketplace REST API, the notification stream and
// the chat socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	httpAdapter "github.com/lorrc/marketplace-realtime/internal/adapters/primary/http"
	mw "github.com/lorrc/marketplace-realtime/internal/adapters/primary/http/middleware"
	"github.com/lorrc/marketplace-realtime/internal/adapters/primary/sse"
	"github.com/lorrc/marketplace-realtime/internal/adapters/primary/websocket"
	"github.com/lorrc/marketplace-realtime/internal/adapters/secondary/blob"
	"github.com/lorrc/marketplace-realtime/internal/adapters/secondary/email"
	"github.com/lorrc/marketplace-realtime/internal/adapters/secondary/postgres"
	"github.com/lorrc/marketplace-realtime/internal/auth"
	"github.com/lorrc/marketplace-realtime/internal/config"
	"github.com/lorrc/marketplace-realtime/internal/core/services"
	"github.com/lorrc/marketplace-realtime/internal/infrastructure/logging"
	"github.com/lorrc/marketplace-realtime/internal/infrastructure/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      os.Stdout,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("server shutdown complete")
}

func openPool(ctx context.Context, db config.DatabaseConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(db.URL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	pc.MaxConns = int32(db.MaxOpenConns)
	pc.MinConns = int32(db.MaxIdleConns)
	pc.MaxConnLifetime = db.ConnMaxLifetime
	pc.MaxConnIdleTime = db.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting service", "version", cfg.App.Version, "config", cfg.String())

	pool, err := openPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()

	if cfg.Migrations.AutoMigrate {
		if _, err := postgres.Migrate(cfg.Migrations.Dir, cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	images, err := blob.Open(ctx, blob.Config{
		Driver:        cfg.Blob.Driver,
		FSRoot:        cfg.Blob.FSRoot,
		PublicBaseURL: cfg.Blob.PublicBaseURL,
		S3: blob.S3Config{
			Region:          cfg.Blob.S3Region,
			Bucket:          cfg.Blob.S3Bucket,
			Endpoint:        cfg.Blob.S3Endpoint,
			AccessKeyID:     cfg.Blob.S3AccessKeyID,
			SecretAccessKey: cfg.Blob.S3SecretAccessKey,
			PathStyle:       cfg.Blob.S3PathStyle,
		},
	})
	if err != nil {
		return fmt.Errorf("image store %q: %w", cfg.Blob.Driver, err)
	}

	m := metrics.New()
	tokens := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL)
	hub := websocket.NewHub(m, logger)
	broker := sse.NewBroker(cfg.SSE.BufferSize, m, logger)

	limits := newLimiters(cfg)
	defer limits.stop()

	users := postgres.NewUserRepository(pool)
	notifications := services.NewNotificationService(
		postgres.NewNotificationRepository(pool), broker, email.NewLogNotifier(users, logger), logger, cfg.SSE.ReplayLimit,
	)
	defer notifications.Shutdown()
	lookup := services.NewUserLookupService(users)
	chats := services.NewChatService(services.ChatServiceDeps{
		Chats:         postgres.NewChatRepository(pool),
		Messages:      postgres.NewMessageRepository(pool),
		Users:         users,
		Notifications: notifications,
		Broadcaster:   hub,
		Images:        images,
		TxManager:     postgres.NewTransactionManager(pool),
		Logger:        logger,
		HistoryLimit:  cfg.Chat.HistoryLimit,
		MaxImageSize:  cfg.Chat.MaxUploadBytes,
	})

	errs := httpAdapter.NewErrorHandler(logger)
	router := newRouter(cfg, routes{
		logger:  logger,
		tokens:  tokens,
		metrics: m,
		limits:  limits,
		auth: httpAdapter.NewAuthHandler(services.NewAuthService(users), tokens, httpAdapter.SessionCookieConfig{
			Name:   cfg.Session.CookieName,
			Secure: cfg.Session.CookieSecure,
		}, errs, logger),
		users:         httpAdapter.NewUserHandler(users, lookup, errs, logger),
		notifications: httpAdapter.NewNotificationHandler(notifications, errs, logger),
		stream: sse.NewHandler(broker, notifications, sse.HandlerConfig{
			Heartbeat:     cfg.SSE.Heartbeat,
			Retry:         cfg.SSE.Retry,
			ReplayOverlap: cfg.SSE.ReplayOverlap,
		}, m, logger),
		chats:   httpAdapter.NewChatHandler(chats, lookup, cfg.Chat.MaxUploadBytes, m, errs, logger),
		uploads: httpAdapter.NewUploadHandler(images, chats, errs, logger),
		socket: httpAdapter.NewWebSocketHandler(hub, tokens, chats, limits.wsSend, httpAdapter.WebSocketConfig{
			AllowedOrigins:  cfg.WebSocket.AllowedOrigins,
			ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: cfg.WebSocket.WriteBufferSize,
			IsDevelopment:   cfg.IsDevelopment(),
			CookieName:      cfg.Session.CookieName,
		}, logger),
		health: httpAdapter.NewHealthHandler(cfg.App.Version, func() map[string]int {
			return map[string]int{
				"ws_clients":  hub.ClientCount(),
				"ws_rooms":    hub.RoomCount(),
				"sse_streams": broker.StreamCount(),
			}
		}, httpAdapter.DatabaseProbe(pool)),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Streams and sockets never end on their own. Closing the broker
		// and cancelling the hub first leaves Shutdown only ordinary
		// requests to wait for.
		broker.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// limiters groups the request throttles. The REST ones are nil when rate
// limiting is disabled; the socket send throttle always exists.
type limiters struct {
	general *mw.RateLimiter
	auth    *mw.RateLimiter
	wsSend  *mw.RateLimitByKey
}

func newLimiters(cfg *config.Config) limiters {
	l := limiters{wsSend: mw.NewRateLimitByKey(cfg.WebSocket.SendRPS, cfg.WebSocket.SendBurst)}
	if !cfg.RateLimit.Enabled {
		return l
	}
	l.general = mw.NewRateLimiter(mw.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.BurstSize,
		CleanupInterval:   time.Minute,
		TTL:               3 * time.Minute,
	})
	l.auth = mw.NewRateLimiter(mw.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimit.AuthRPS,
		BurstSize:         cfg.RateLimit.AuthBurst,
		CleanupInterval:   time.Minute,
		TTL:               5 * time.Minute,
	})
	return l
}

func (l limiters) stop() {
	l.wsSend.Stop()
	for _, rl := range []*mw.RateLimiter{l.general, l.auth} {
		if rl != nil {
			rl.Stop()
		}
	}
}
