package blob

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	apperrors "github.com/lorrc/marketplace-realtime/internal/core/errors"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
)

// Memory keeps objects in process memory. Used in development and tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
	urls    urlBuilder
}

type memObject struct {
	data []byte
	info ports.StoredObject
}

var _ ports.ImageStore = (*Memory)(nil)

func NewMemory(publicBaseURL string) *Memory {
	return &Memory{objects: make(map[string]memObject), urls: urlBuilder(publicBaseURL)}
}

func (m *Memory) Driver() string { return DriverMemory }

func (m *Memory) URL(key string) string { return m.urls.url(key) }

func (m *Memory) Put(ctx context.Context, key string, r io.Reader, contentType string) (ports.StoredObject, error) {
	key, err := sanitizeKey(key)
	if err != nil {
		return ports.StoredObject{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return ports.StoredObject{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[key]; exists {
		return ports.StoredObject{}, apperrors.ErrObjectExists
	}
	info := ports.StoredObject{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  contentType,
		LastModified: time.Now().UTC(),
	}
	m.objects[key] = memObject{data: data, info: info}
	return info, nil
}

func (m *Memory) Get(ctx context.Context, key string) (ports.StoredObject, io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return ports.StoredObject{}, nil, apperrors.ErrObjectNotFound
	}
	return obj.info, io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *Memory) Delete(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return false, nil
	}
	delete(m.objects, key)
	return true, nil
}
