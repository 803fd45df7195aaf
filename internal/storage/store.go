package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/boostorg/boost-archives/internal/config"
	"github.com/boostorg/boost-archives/pkg/logger"
)

// ErrNotFound is returned by Open when the key does not exist.
var ErrNotFound = errors.New("blob not found")

// Object describes one blob to write.
type Object struct {
	Key         string
	Body        io.Reader
	Size        int64
	ContentType string
}

// BlobStore is the byte-storage abstraction the release importer writes to.
type BlobStore interface {
	Put(ctx context.Context, obj Object) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// New builds the backend selected in cfg.
func New(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (BlobStore, error) {
	switch cfg.Backend {
	case "s3":
		return NewS3(ctx, cfg, log)
	case "local":
		return NewLocal(cfg.LocalRoot)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// CleanKey validates a slash-separated object key.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("blob key is required")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("blob key must be relative: %s", key)
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid blob key: %s", key)
	}
	return clean, nil
}
