// Package blob holds the object storage drivers backing chat image uploads.
package blob

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/lorrc/marketplace-realtime/internal/core/ports"
)

const (
	DriverFilesystem = "fs"
	DriverS3         = "s3"
	DriverMemory     = "memory"
)

// UploadsRoute is where the API serves stored objects when no public base URL is configured.
const UploadsRoute = "/api/uploads/"

// Config selects and configures a driver.
type Config struct {
	Driver string
	FSRoot string

	S3 S3Config

	// PublicBaseURL, when set, is prefixed to keys instead of UploadsRoute
	// (e.g. a CDN in front of the bucket).
	PublicBaseURL string
}

// Open builds the ImageStore named by cfg.Driver. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (ports.ImageStore, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.FSRoot, cfg.PublicBaseURL)
	case DriverS3:
		return NewS3(ctx, cfg.S3, cfg.PublicBaseURL)
	case DriverMemory:
		return NewMemory(cfg.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// urlBuilder maps object keys to client-visible URLs.
type urlBuilder string

func (b urlBuilder) url(key string) string {
	if b == "" {
		return UploadsRoute + key
	}
	return strings.TrimRight(string(b), "/") + "/" + key
}

// sanitizeKey rejects keys that could escape a storage root.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty key")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid absolute key %q", key)
	}
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key %q contains '..'", key)
	}
	return path.Clean(key), nil
}
