package ports

import (
	"context"
	"io"
	"time"
)

// StoredObject describes an object held by an ImageStore.
type StoredObject struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// ImageStore is the object storage port used for chat images.
type ImageStore interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (StoredObject, error)
	Get(ctx context.Context, key string) (StoredObject, io.ReadCloser, error)
	Delete(ctx context.Context, key string) (bool, error)
	// URL returns the address clients use to fetch key.
	URL(key string) string
	Driver() string
}
