package release

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// ChunkSize is the read size used while streaming artifacts.
const ChunkSize = 64 * 1024

// Digests holds the checksums computed over one artifact.
type Digests struct {
	SHA256 string
	MD5    string
	Size   int64
}

// ChecksumMismatchError reports an artifact whose content disagrees with the
// checksum published upstream.
type ChecksumMismatchError struct {
	File      string
	Algorithm string
	Expected  string
	Actual    string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("%s checksum mismatch for %s: expected %s, got %s", e.Algorithm, e.File, e.Expected, e.Actual)
}

// Digest streams src in ChunkSize reads, hashing every byte and copying it
// to dst when dst is not nil. Cancellation is checked between chunks.
func Digest(ctx context.Context, src io.Reader, dst io.Writer) (Digests, error) {
	sha := sha256.New()
	sum := md5.New()
	sinks := []io.Writer{sha, sum}
	if dst != nil {
		sinks = append(sinks, dst)
	}
	w := io.MultiWriter(sinks...)

	buf := make([]byte, ChunkSize)
	var written int64
	for {
		select {
		case <-ctx.Done():
			return Digests{}, ctx.Err()
		default:
		}

		nr, readErr := src.Read(buf)
		if nr > 0 {
			nw, writeErr := w.Write(buf[:nr])
			written += int64(nw)
			if writeErr != nil {
				return Digests{}, writeErr
			}
			if nr != nw {
				return Digests{}, io.ErrShortWrite
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Digests{}, readErr
		}
	}

	return Digests{
		SHA256: hex.EncodeToString(sha.Sum(nil)),
		MD5:    hex.EncodeToString(sum.Sum(nil)),
		Size:   written,
	}, nil
}

// Validate compares the computed digests with the checksum the listing
// published for d, if any.
func Validate(d *Descriptor, got Digests) error {
	if d.MD5 == "" {
		return nil
	}
	if !strings.EqualFold(strings.TrimSpace(d.MD5), got.MD5) {
		return &ChecksumMismatchError{
			File:      d.File,
			Algorithm: "md5",
			Expected:  strings.ToLower(d.MD5),
			Actual:    got.MD5,
		}
	}
	return nil
}

// Payload is a downloaded artifact spooled to a temporary file.
type Payload struct {
	Digests
	file *os.File
}

// Spool copies src into a temporary file in dir (the system default when
// empty) and returns it with its digests.
func Spool(ctx context.Context, dir string, src io.Reader) (*Payload, error) {
	f, err := os.CreateTemp(dir, "boost-archive-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	digests, err := Digest(ctx, src, f)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, err
	}
	return &Payload{Digests: digests, file: f}, nil
}

// Reader rewinds the spool file and returns it for reading.
func (p *Payload) Reader() (io.ReadSeeker, error) {
	if _, err := p.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return p.file, nil
}

// Close removes the spool file.
func (p *Payload) Close() error {
	if p == nil || p.file == nil {
		return nil
	}
	name := p.file.Name()
	_ = p.file.Close()
	return os.Remove(name)
}
