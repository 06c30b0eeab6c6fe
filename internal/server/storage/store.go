package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/zeebo/blake3"
)

var (
	// ErrNotFound is returned when no artifact exists under a name.
	ErrNotFound = errors.New("artifact not found")
)

// Object describes one stored artifact.
type Object struct {
	Name     string
	Size     int64
	Checksum string // BLAKE3-256 hex; only set by Save
	ModTime  time.Time
}

// Usage summarises what the storage root currently holds.
type Usage struct {
	Files int
	Bytes int64
}

// Store defines the interface for artifact storage backends. Names passed
// to Save are sanitized; every other method expects an already sanitized
// name and reports ErrNotFound for anything else.
type Store interface {
	// Save writes data under the sanitized form of name, replacing any
	// existing artifact. The artifact only becomes visible once every byte
	// has been written.
	Save(ctx context.Context, name string, data io.Reader) (Object, error)
	Open(ctx context.Context, name string) (io.ReadCloser, Object, error)
	Stat(ctx context.Context, name string) (Object, error)
	// Remove deletes an artifact. Removing a missing artifact is not an error.
	Remove(ctx context.Context, name string) error
	// Reset destroys and recreates the storage root.
	Reset(ctx context.Context) error
	Usage(ctx context.Context) (Usage, error)
	Ping(ctx context.Context) error
}

// checksumReader hashes everything read through it.
type checksumReader struct {
	r io.Reader
	h *blake3.Hasher
}

func newChecksumReader(r io.Reader) *checksumReader {
	h := blake3.New()
	return &checksumReader{r: io.TeeReader(r, h), h: h}
}

func (c *checksumReader) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *checksumReader) Sum() string {
	return hex.EncodeToString(c.h.Sum(nil))
}
