// Package config reads the backend's settings from the environment.
//
// A .env file in the working directory is merged in for local runs; real
// environment variables always win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MaxUploadBytes is the hard ceiling for a single chat image.
const MaxUploadBytes = 5 << 20

// MaxHistoryLimit caps how many messages one history request returns.
const MaxHistoryLimit = 1000

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	RateLimit  RateLimitConfig
	WebSocket  WebSocketConfig
	Session    SessionConfig
	CORS       CORSConfig
	SSE        SSEConfig
	Chat       ChatConfig
	Blob       BlobConfig
	Migrations MigrationsConfig
	Logging    LoggingConfig
	Metrics    MetricsConfig
	App        AppConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type JWTConfig struct {
	Secret         string
	AccessTokenTTL time.Duration
}

// RateLimitConfig covers the REST surface. Auth endpoints get their own,
// tighter bucket.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	BurstSize         int
	AuthRPS           float64
	AuthBurst         int
}

type WebSocketConfig struct {
	AllowedOrigins  []string
	ReadBufferSize  int
	WriteBufferSize int
	// SendRPS and SendBurst throttle send_message per user.
	SendRPS   float64
	SendBurst int
}

type SessionConfig struct {
	CookieName   string
	CookieSecure bool
}

type CORSConfig struct {
	AllowedOrigins []string
	MaxAge         int
}

// SSEConfig tunes the notification stream. ReplayOverlap is how far below
// Last-Event-ID a resumed stream starts.
type SSEConfig struct {
	Heartbeat     time.Duration
	Retry         time.Duration
	ReplayLimit   int
	ReplayOverlap int64
	BufferSize    int
}

type ChatConfig struct {
	HistoryLimit   int
	MaxUploadBytes int64
}

// BlobConfig selects the chat image store. Driver is one of fs, s3 or memory.
type BlobConfig struct {
	Driver        string
	FSRoot        string
	PublicBaseURL string

	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3PathStyle       bool
}

type MigrationsConfig struct {
	Dir         string
	AutoMigrate bool
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type AppConfig struct {
	Name        string
	Version     string
	Environment string
}

// Load builds a Config from the environment and validates it. Malformed
// values are reported instead of silently falling back to defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	var e env
	cfg := &Config{
		Server: ServerConfig{
			Port:            e.str("SERVER_PORT", ":8080"),
			ReadTimeout:     e.duration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    e.duration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     e.duration("SERVER_IDLE_TIMEOUT", time.Minute),
			ShutdownTimeout: e.duration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:             e.str("DATABASE_URL", ""),
			MaxOpenConns:    e.int("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    e.int("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: e.duration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: e.duration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		JWT: JWTConfig{
			Secret:         e.str("JWT_SECRET", ""),
			AccessTokenTTL: e.duration("JWT_ACCESS_TOKEN_TTL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Enabled:           e.bool("RATE_LIMIT_ENABLED", true),
			RequestsPerSecond: e.float("RATE_LIMIT_RPS", 10),
			BurstSize:         e.int("RATE_LIMIT_BURST", 20),
			AuthRPS:           e.float("RATE_LIMIT_AUTH_RPS", 1),
			AuthBurst:         e.int("RATE_LIMIT_AUTH_BURST", 5),
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins:  e.list("WS_ALLOWED_ORIGINS", nil),
			ReadBufferSize:  e.int("WS_READ_BUFFER_SIZE", 1024),
			WriteBufferSize: e.int("WS_WRITE_BUFFER_SIZE", 1024),
			SendRPS:         e.float("WS_SEND_RPS", 5),
			SendBurst:       e.int("WS_SEND_BURST", 10),
		},
		Session: SessionConfig{
			CookieName:   e.str("SESSION_COOKIE_NAME", "session"),
			CookieSecure: e.bool("SESSION_COOKIE_SECURE", false),
		},
		CORS: CORSConfig{
			AllowedOrigins: e.list("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
			MaxAge:         e.int("CORS_MAX_AGE", 300),
		},
		SSE: SSEConfig{
			Heartbeat:     e.duration("SSE_HEARTBEAT", 25*time.Second),
			Retry:         e.duration("SSE_RETRY", 3*time.Second),
			ReplayLimit:   e.int("SSE_REPLAY_LIMIT", 200),
			ReplayOverlap: int64(e.int("SSE_REPLAY_OVERLAP", 64)),
			BufferSize:    e.int("SSE_BUFFER_SIZE", 32),
		},
		Chat: ChatConfig{
			HistoryLimit:   e.int("CHAT_HISTORY_LIMIT", 200),
			MaxUploadBytes: int64(e.int("CHAT_MAX_UPLOAD_BYTES", MaxUploadBytes)),
		},
		Blob: BlobConfig{
			Driver:            e.str("BLOB_DRIVER", "fs"),
			FSRoot:            e.str("BLOB_FS_ROOT", "./uploads"),
			PublicBaseURL:     e.str("BLOB_PUBLIC_BASE_URL", ""),
			S3Bucket:          e.str("BLOB_S3_BUCKET", ""),
			S3Region:          e.str("BLOB_S3_REGION", "us-east-1"),
			S3Endpoint:        e.str("BLOB_S3_ENDPOINT", ""),
			S3AccessKeyID:     e.str("BLOB_S3_ACCESS_KEY_ID", ""),
			S3SecretAccessKey: e.str("BLOB_S3_SECRET_ACCESS_KEY", ""),
			S3PathStyle:       e.bool("BLOB_S3_PATH_STYLE", false),
		},
		Migrations: MigrationsConfig{
			Dir:         e.str("MIGRATIONS_DIR", "migrations"),
			AutoMigrate: e.bool("AUTO_MIGRATE", true),
		},
		Logging: LoggingConfig{
			Level:  e.str("LOG_LEVEL", "info"),
			Format: e.str("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: e.bool("METRICS_ENABLED", true),
			Path:    e.str("METRICS_PATH", "/metrics"),
		},
		App: AppConfig{
			Name:        e.str("APP_NAME", "marketplace-realtime"),
			Version:     e.str("APP_VERSION", "dev"),
			Environment: e.str("APP_ENV", "development"),
		},
	}

	if err := errors.Join(e.err(), cfg.Validate()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and the rules that only apply in
// production.
func (c *Config) Validate() error {
	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Database.URL == "" {
		fail("DATABASE_URL is required")
	}
	if c.JWT.Secret == "" {
		fail("JWT_SECRET is required")
	}

	if c.IsProduction() {
		if len(c.JWT.Secret) < 32 {
			fail("JWT_SECRET must be at least 32 characters in production")
		}
		if len(c.WebSocket.AllowedOrigins) == 0 {
			fail("WS_ALLOWED_ORIGINS must be set in production")
		}
		if !c.Session.CookieSecure {
			fail("SESSION_COOKIE_SECURE must be true in production")
		}
	}

	switch c.Blob.Driver {
	case "fs", "memory":
	case "s3":
		if c.Blob.S3Bucket == "" {
			fail("BLOB_S3_BUCKET is required when BLOB_DRIVER=s3")
		}
	default:
		fail("BLOB_DRIVER must be one of fs, s3, memory (got %q)", c.Blob.Driver)
	}

	if c.Chat.MaxUploadBytes <= 0 || c.Chat.MaxUploadBytes > MaxUploadBytes {
		fail("CHAT_MAX_UPLOAD_BYTES must be between 1 and %d", MaxUploadBytes)
	}
	if c.SSE.Heartbeat <= 0 {
		fail("SSE_HEARTBEAT must be positive")
	}
	if c.Chat.HistoryLimit <= 0 || c.Chat.HistoryLimit > MaxHistoryLimit {
		fail("CHAT_HISTORY_LIMIT must be between 1 and %d", MaxHistoryLimit)
	}
	if c.SSE.ReplayOverlap < 0 {
		fail("SSE_REPLAY_OVERLAP cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		fail("DB_MAX_IDLE_CONNS cannot exceed DB_MAX_OPEN_CONNS")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration:\n  - " + strings.Join(problems, "\n  - "))
}

func (c *Config) IsDevelopment() bool { return c.App.Environment == "development" }

func (c *Config) IsProduction() bool { return c.App.Environment == "production" }

// String is safe to log: the JWT secret, S3 keys and database password are
// never included.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Server: %s, DB: %s, JWT: [REDACTED], RateLimit: %v, Blob: %s, Environment: %s}",
		c.Server.Port,
		redactDSN(c.Database.URL),
		c.RateLimit.Enabled,
		c.Blob.Driver,
		c.App.Environment,
	)
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "[REDACTED]"
	}
	u.User = nil
	u.RawQuery = ""
	return u.Scheme + "://[REDACTED]@" + u.Host + u.Path
}

// env reads typed values and remembers every variable it could not parse.
type env struct {
	bad []string
}

func (e *env) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) invalid(key, raw string, err error) {
	e.bad = append(e.bad, fmt.Sprintf("%s=%q: %v", key, raw, err))
}

func (e *env) err() error {
	if len(e.bad) == 0 {
		return nil
	}
	return errors.New("malformed environment:\n  - " + strings.Join(e.bad, "\n  - "))
}

func (e *env) str(key, def string) string {
	if v, ok := e.lookup(key); ok {
		return v
	}
	return def
}

func (e *env) int(key string, def int) int {
	return parse(e, key, def, strconv.Atoi)
}

func (e *env) float(key string, def float64) float64 {
	return parse(e, key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func (e *env) bool(key string, def bool) bool {
	return parse(e, key, def, strconv.ParseBool)
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	return parse(e, key, def, time.ParseDuration)
}

func (e *env) list(key string, def []string) []string {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	var out []string
	for item := range strings.SplitSeq(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func parse[T any](e *env, key string, def T, conv func(string) (T, error)) T {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	out, err := conv(v)
	if err != nil {
		e.invalid(key, v, err)
		return def
	}
	return out
}
