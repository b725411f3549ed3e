// Package objectstore persists index artifacts (snapshots, manifests and
// exported clusters) in memory, in a local directory or in an S3-compatible
// bucket.
package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	ErrNotFound       = errors.New("object not found")
	ErrAlreadyExists  = errors.New("object already exists")
	ErrChecksumFailed = errors.New("checksum verification failed")
	ErrUnknownType    = errors.New("unknown object store type")
)

// Store types accepted by New.
const (
	TypeMemory = "memory"
	TypeFS     = "fs"
	TypeS3     = "s3"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
}

type PutOptions struct {
	ContentType string
	// Checksum is the base64 SHA-256 of the body. A mismatch fails the put
	// with ErrChecksumFailed and leaves any existing object untouched.
	Checksum string
}

type Store interface {
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	Put(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error)
	// PutIfAbsent fails with ErrAlreadyExists when key is already present.
	PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	// List returns every object whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// Config selects and configures a Store implementation.
type Config struct {
	Type      string
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	RootPath  string
}

// New creates the store described by cfg, wrapped with metrics.
func New(cfg Config) (Store, error) {
	var (
		inner Store
		err   error
	)
	switch cfg.Type {
	case TypeMemory:
		inner = NewMemoryStore()
	case TypeFS:
		if cfg.RootPath == "" {
			return nil, fmt.Errorf("fs object store requires a root path")
		}
		inner, err = NewFSStore(cfg.RootPath)
	case TypeS3, "":
		inner, err = NewS3Store(S3Config{
			Endpoint:  cfg.Endpoint,
			Bucket:    cfg.Bucket,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Region:    cfg.Region,
			UseSSL:    cfg.UseSSL,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return NewInstrumentedStore(inner), nil
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflictError(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// Checksum returns the base64 SHA-256 of data in the form PutOptions expects.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// ReadAll fetches the full body of key.
func ReadAll(ctx context.Context, s Store, key string) ([]byte, error) {
	rc, _, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// PutBytes stores data under key with its checksum attached.
func PutBytes(ctx context.Context, s Store, key string, data []byte, contentType string) (*ObjectInfo, error) {
	return s.Put(ctx, key, bytes.NewReader(data), int64(len(data)), &PutOptions{
		ContentType: contentType,
		Checksum:    Checksum(data),
	})
}

// readVerified drains body and checks it against the optional checksum.
func readVerified(body io.Reader, opts *PutOptions) ([]byte, string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", err
	}
	checksum := Checksum(data)
	if opts != nil && opts.Checksum != "" && opts.Checksum != checksum {
		return nil, "", fmt.Errorf("%w: checksum mismatch: expected %s, got %s", ErrChecksumFailed, opts.Checksum, checksum)
	}
	sum := sha256.Sum256(data)
	return data, fmt.Sprintf("%x", sum[:16]), nil
}

func contentType(opts *PutOptions) string {
	if opts == nil {
		return ""
	}
	return opts.ContentType
}
