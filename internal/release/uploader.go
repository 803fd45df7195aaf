package release

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/boostorg/boost-archives/internal/storage"
	"github.com/boostorg/boost-archives/pkg/logger"
)

// ErrNotValidated is returned when asked to upload a descriptor whose
// download has not been validated.
var ErrNotValidated = errors.New("descriptor has no validated digest")

// PartialUploadError reports an artifact that was stored without its sidecar.
type PartialUploadError struct {
	ArtifactKey string
	Err         error
}

func (e *PartialUploadError) Error() string {
	return fmt.Sprintf("artifact %s stored but sidecar write failed: %v", e.ArtifactKey, e.Err)
}

func (e *PartialUploadError) Unwrap() error {
	return e.Err
}

// Uploader writes validated artifacts and their sidecars to blob storage.
type Uploader struct {
	store  storage.BlobStore
	prefix string
	logger *logger.Logger
}

// NewUploader creates an uploader writing under prefix.
func NewUploader(store storage.BlobStore, prefix string, log *logger.Logger) *Uploader {
	if log == nil {
		log = logger.Nop()
	}
	return &Uploader{store: store, prefix: prefix, logger: log}
}

// Key returns the artifact key for d.
func (u *Uploader) Key(d *Descriptor) string {
	return ArtifactKey(u.prefix, d.Release, d.File)
}

// Upload stores the artifact, then its sidecar. The two writes are not
// atomic; a failed sidecar write yields a *PartialUploadError.
func (u *Uploader) Upload(ctx context.Context, d *Descriptor, p *Payload) error {
	if !d.Validated() {
		return fmt.Errorf("%s: %w", d.File, ErrNotValidated)
	}

	meta, err := d.Metadata().JSON()
	if err != nil {
		return fmt.Errorf("failed to encode metadata for %s: %w", d.File, err)
	}

	body, err := p.Reader()
	if err != nil {
		return fmt.Errorf("failed to rewind %s: %w", d.File, err)
	}

	key := u.Key(d)
	if err := u.store.Put(ctx, storage.Object{
		Key:         key,
		Body:        body,
		Size:        p.Size,
		ContentType: "application/octet-stream",
	}); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	u.logger.WithFields(logger.Fields{"key": key, "bytes": p.Size}).Info("Artifact uploaded")

	sidecar := SidecarKey(key)
	if err := u.store.Put(ctx, storage.Object{
		Key:         sidecar,
		Body:        bytes.NewReader(meta),
		Size:        int64(len(meta)),
		ContentType: "application/json",
	}); err != nil {
		return &PartialUploadError{ArtifactKey: key, Err: err}
	}
	u.logger.WithField("key", sidecar).Info("Metadata uploaded")

	return nil
}
