package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/lorrc/marketplace-realtime/internal/core/errors"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
)

// Filesystem stores objects as files under a root directory.
// Content type is kept in a "<file>.meta" JSON sidecar.
type Filesystem struct {
	root string
	urls urlBuilder
}

var _ ports.ImageStore = (*Filesystem)(nil)

type fsMeta struct {
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewFilesystem creates the root directory if needed.
func NewFilesystem(root string, publicBaseURL string) (*Filesystem, error) {
	if root == "" {
		root = "./uploads"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Filesystem{root: root, urls: urlBuilder(publicBaseURL)}, nil
}

func (s *Filesystem) Driver() string { return DriverFilesystem }

func (s *Filesystem) URL(key string) string { return s.urls.url(key) }

func (s *Filesystem) paths(key string) (dataPath, metaPath string, err error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	dataPath = filepath.Join(s.root, filepath.FromSlash(k))
	return dataPath, dataPath + ".meta", nil
}

func (s *Filesystem) Put(ctx context.Context, key string, r io.Reader, contentType string) (ports.StoredObject, error) {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return ports.StoredObject{}, err
	}
	if _, err := os.Stat(dataPath); err == nil {
		return ports.StoredObject{}, apperrors.ErrObjectExists
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return ports.StoredObject{}, err
	}

	// Write to a temp file and rename so readers never see a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".tmp-*")
	if err != nil {
		return ports.StoredObject{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	size, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		return ports.StoredObject{}, err
	}
	if err := tmp.Close(); err != nil {
		return ports.StoredObject{}, err
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		return ports.StoredObject{}, err
	}

	meta := fsMeta{ContentType: contentType, Size: size, CreatedAt: time.Now().UTC()}
	raw, err := json.Marshal(meta)
	if err != nil {
		return ports.StoredObject{}, err
	}
	if err := os.WriteFile(metaPath, raw, 0o644); err != nil {
		return ports.StoredObject{}, err
	}

	return ports.StoredObject{Key: key, Size: size, ContentType: contentType, LastModified: meta.CreatedAt}, nil
}

func (s *Filesystem) Get(ctx context.Context, key string) (ports.StoredObject, io.ReadCloser, error) {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return ports.StoredObject{}, nil, apperrors.ErrObjectNotFound
	}
	file, err := os.Open(dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return ports.StoredObject{}, nil, apperrors.ErrObjectNotFound
	}
	if err != nil {
		return ports.StoredObject{}, nil, err
	}

	var meta fsMeta
	raw, err := os.ReadFile(metaPath)
	if err == nil {
		err = json.Unmarshal(raw, &meta)
	}
	if err != nil {
		_ = file.Close()
		return ports.StoredObject{}, nil, fmt.Errorf("read blob metadata: %w", err)
	}

	return ports.StoredObject{Key: key, Size: meta.Size, ContentType: meta.ContentType, LastModified: meta.CreatedAt}, file, nil
}

func (s *Filesystem) Delete(ctx context.Context, key string) (bool, error) {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(dataPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	_ = os.Remove(metaPath)
	return true, nil
}
