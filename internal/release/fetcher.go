package release

import (
	"context"
	"fmt"

	"github.com/boostorg/boost-archives/pkg/logger"
)

// Fetcher downloads artifacts and validates them against their descriptor.
type Fetcher struct {
	client  Getter
	tempDir string
	logger  *logger.Logger
}

// NewFetcher creates a fetcher spooling downloads into tempDir ("" for the
// system temp directory).
func NewFetcher(client Getter, tempDir string, log *logger.Logger) *Fetcher {
	if log == nil {
		log = logger.Nop()
	}
	return &Fetcher{client: client, tempDir: tempDir, logger: log}
}

// Download streams d.DownloadLink to a spool file. When d carries an MD5 the
// content must match it; on success d.SHA256 is set. The caller closes the
// returned payload.
func (f *Fetcher) Download(ctx context.Context, d *Descriptor) (*Payload, error) {
	f.logger.WithFields(logger.Fields{
		"file": d.File,
		"url":  d.DownloadLink,
	}).Debug("Downloading file")

	resp, err := f.client.Get(ctx, d.DownloadLink)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", d.File, err)
	}
	defer resp.Body.Close()

	payload, err := Spool(ctx, f.tempDir, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", d.File, err)
	}

	if err := Validate(d, payload.Digests); err != nil {
		_ = payload.Close()
		f.logger.WithFields(logger.Fields{
			"file":     d.File,
			"expected": d.MD5,
			"actual":   payload.MD5,
		}).Error("Checksum mismatch")
		return nil, err
	}

	d.SHA256 = payload.SHA256
	f.logger.WithFields(logger.Fields{
		"file":   d.File,
		"bytes":  payload.Size,
		"sha256": payload.SHA256,
	}).Debug("File download completed")
	return payload, nil
}
