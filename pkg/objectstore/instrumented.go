package objectstore

import (
	"context"
	"io"
	"time"

	"github.com/vexsearch/vexroute/internal/metrics"
)

// InstrumentedStore records latency and outcome of every call on the inner
// store.
type InstrumentedStore struct {
	inner Store
}

func NewInstrumentedStore(inner Store) *InstrumentedStore {
	return &InstrumentedStore{inner: inner}
}

// Unwrap returns the underlying store.
func (s *InstrumentedStore) Unwrap() Store {
	return s.inner
}

func observe(op string, start time.Time, err error) {
	// A missing object is an expected answer, not a failed call.
	if IsNotFoundError(err) {
		err = nil
	}
	metrics.ObserveObjectStoreOp(op, time.Since(start).Seconds(), err)
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	start := time.Now()
	rc, info, err := s.inner.Get(ctx, key)
	observe("get", start, err)
	return rc, info, err
}

func (s *InstrumentedStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	start := time.Now()
	info, err := s.inner.Head(ctx, key)
	observe("head", start, err)
	return info, err
}

func (s *InstrumentedStore) Put(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error) {
	start := time.Now()
	info, err := s.inner.Put(ctx, key, body, size, opts)
	observe("put", start, err)
	return info, err
}

func (s *InstrumentedStore) PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error) {
	start := time.Now()
	info, err := s.inner.PutIfAbsent(ctx, key, body, size, opts)
	observe("put_if_absent", start, err)
	return info, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, key)
	observe("delete", start, err)
	return err
}

func (s *InstrumentedStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	start := time.Now()
	objects, err := s.inner.List(ctx, prefix)
	observe("list", start, err)
	return objects, err
}
