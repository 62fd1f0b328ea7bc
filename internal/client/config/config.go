// Package config loads the marketplace client settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the client configuration.
type Config struct {
	// BackendURL is the API base, e.g. http://localhost:8080
	BackendURL string
	// Language is sent as Accept-Language; changing it resets the notification mirror.
	Language string
	// SessionFile persists the session cookie between CLI runs.
	SessionFile string
	// Timeout bounds ordinary REST requests. Streams are not affected.
	Timeout time.Duration

	Payment PaymentConfig
}

// PaymentConfig carries the payment provider's public identifiers. The client
// only passes them through; nothing here talks to the provider.
type PaymentConfig struct {
	PublicKey  string
	MerchantID string
}

// Load reads the configuration. Files are loaded in order and never override
// variables already set in the environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{
		BackendURL:  firstEnv("BACKEND_URL", "VITE_BACKEND_URL"),
		Language:    getEnvOrDefault("MARKET_LANGUAGE", "en"),
		SessionFile: getEnvOrDefault("MARKET_SESSION_FILE", defaultSessionFile()),
		Timeout:     getDurationOrDefault("MARKET_TIMEOUT", 15*time.Second),
		Payment: PaymentConfig{
			PublicKey:  firstEnv("TAP_PUBLIC_KEY", "VITE_TAP_PUBLIC_KEY"),
			MerchantID: firstEnv("TAP_MERCHANT_ID", "VITE_TAP_MERCHANT_ID"),
		},
	}
	if cfg.BackendURL == "" {
		cfg.BackendURL = "http://localhost:8080"
	}
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil {
		return fmt.Errorf("BACKEND_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("BACKEND_URL must be http or https, got %q", c.BackendURL)
	}
	if u.Host == "" {
		return fmt.Errorf("BACKEND_URL has no host: %q", c.BackendURL)
	}
	if c.Timeout <= 0 {
		return errors.New("MARKET_TIMEOUT must be positive")
	}
	return nil
}

// WebSocketURL derives the socket endpoint from the backend URL.
func (c *Config) WebSocketURL() string {
	u, _ := url.Parse(c.BackendURL)
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/ws"
	return u.String()
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".marketctl-session"
	}
	return filepath.Join(dir, "marketctl", "session.json")
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
