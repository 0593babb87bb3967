// Package storage abstracts where normalized output is written: a local
// directory or an S3 bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/dgallion1/epubnorm/internal/config"
)

// ErrNotFound is returned by Get for keys that do not exist.
var ErrNotFound = errors.New("storage: not found")

// Adapter defines the interface for storage backends. Keys are
// slash-separated paths relative to the adapter root.
type Adapter interface {
	// Put stores data at key, replacing any existing object.
	Put(ctx context.Context, key string, data io.Reader) error

	// Get retrieves the object at key.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object at key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns the sorted keys under prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close cleans up any resources.
	Close() error
}

// NewAdapter creates a storage adapter based on the configuration.
func NewAdapter(ctx context.Context, cfg config.StorageConfig) (Adapter, error) {
	switch cfg.Adapter {
	case "", "local":
		return NewLocalAdapter(cfg.Local.BasePath)
	case "s3":
		return NewS3Adapter(ctx, S3Options{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Prefix:          cfg.S3.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown storage adapter: %s", cfg.Adapter)
	}
}

// PutBytes stores data at key.
func PutBytes(ctx context.Context, a Adapter, key string, data []byte) error {
	return a.Put(ctx, key, bytes.NewReader(data))
}

// ReadAll returns the full object at key.
func ReadAll(ctx context.Context, a Adapter, key string) ([]byte, error) {
	rc, err := a.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Sub returns an adapter whose keys live under prefix of a. Closing the
// returned adapter does not close a.
func Sub(a Adapter, prefix string) Adapter {
	return &subAdapter{parent: a, prefix: strings.Trim(prefix, "/")}
}

type subAdapter struct {
	parent Adapter
	prefix string
}

func (s *subAdapter) key(k string) string {
	return path.Join(s.prefix, k)
}

func (s *subAdapter) Put(ctx context.Context, key string, data io.Reader) error {
	return s.parent.Put(ctx, s.key(key), data)
}

func (s *subAdapter) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.parent.Get(ctx, s.key(key))
}

func (s *subAdapter) Delete(ctx context.Context, key string) error {
	return s.parent.Delete(ctx, s.key(key))
}

func (s *subAdapter) Exists(ctx context.Context, key string) (bool, error) {
	return s.parent.Exists(ctx, s.key(key))
}

func (s *subAdapter) List(ctx context.Context, prefix string) ([]string, error) {
	full := s.key(prefix)
	if full != "" && (prefix == "" || strings.HasSuffix(prefix, "/")) {
		full += "/"
	}
	keys, err := s.parent.List(ctx, full)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, s.prefix+"/"))
	}
	return out, nil
}

func (s *subAdapter) Close() error { return nil }
