// Package blob abstracts where pipeline inputs and outputs live: local
// filesystem for development, S3-compatible object storage for cloud runs,
// and memory for tests. Keys are slash-separated paths relative to the
// store root.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
)

// Driver identifies a concrete backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

// ErrNotFound is returned for keys with no stored object.
var ErrNotFound = errors.New("blob: not found")

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Store is the storage surface the pipeline needs. Put overwrites: restarted
// runs regenerate identical objects, so last-write-wins is safe.
// Implementations must be safe for concurrent use.
type Store interface {
	Driver() Driver
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// ReadRange reads length bytes at offset. A read past the end returns
	// the available bytes (possibly zero) without error.
	ReadRange(ctx context.Context, key string, offset, length int64) ([]byte, error)
	Size(ctx context.Context, key string) (int64, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Open resolves a location string to a store. "s3://bucket/prefix" opens the
// S3 backend; anything else is a filesystem directory.
func Open(ctx context.Context, location string) (Store, error) {
	return OpenWith(ctx, location, S3Config{})
}

// OpenWith is Open with explicit S3 settings. Bucket and prefix come from
// the location; endpoint, region and credentials from cfg.
func OpenWith(ctx context.Context, location string, cfg S3Config) (Store, error) {
	if strings.HasPrefix(location, "s3://") {
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("invalid s3 location %q: %w", location, err)
		}
		cfg.Bucket = u.Host
		cfg.Prefix = strings.TrimPrefix(u.Path, "/")
		return NewS3(ctx, cfg)
	}
	return NewFilesystem(location)
}

// PutBytes is a convenience wrapper for writing a whole object.
func PutBytes(ctx context.Context, s Store, key string, data []byte) error {
	return s.Put(ctx, key, strings.NewReader(string(data)))
}

// GetBytes reads a whole object.
func GetBytes(ctx context.Context, s Store, key string) ([]byte, error) {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// ReaderAt adapts ranged reads on one key to io.ReaderAt, giving raster
// parsers random access to remote objects.
type ReaderAt struct {
	ctx   context.Context
	store Store
	key   string
	size  int64
}

// NewReaderAt probes the object size and returns a random-access view.
func NewReaderAt(ctx context.Context, s Store, key string) (*ReaderAt, error) {
	size, err := s.Size(ctx, key)
	if err != nil {
		return nil, err
	}
	return &ReaderAt{ctx: ctx, store: s, key: key, size: size}, nil
}

// Size returns the object size in bytes.
func (r *ReaderAt) Size() int64 { return r.size }

func (r *ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	data, err := r.store.ReadRange(r.ctx, r.key, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func sortedKeys(keys []string) []string {
	sort.Strings(keys)
	return keys
}
