package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FSStore keeps objects under root/objects and a JSON sidecar per object
// under root/meta.
type FSStore struct {
	root string
	mu   sync.RWMutex
}

type fsMeta struct {
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	LastModified time.Time `json:"last_modified"`
	ContentType  string    `json:"content_type,omitempty"`
}

func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) objectPath(key string) string {
	return filepath.Join(s.root, "objects", filepath.FromSlash(key))
}

func (s *FSStore) metaPath(key string) string {
	return filepath.Join(s.root, "meta", filepath.FromSlash(key)+".json")
}

func (s *FSStore) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := s.info(key)
	if err != nil {
		return nil, nil, err
	}
	file, err := os.Open(s.objectPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	return file, info, nil
}

func (s *FSStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info(key)
}

func (s *FSStore) Put(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error) {
	data, etag, err := readVerified(body, opts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(key, data, etag, opts)
}

func (s *FSStore) PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error) {
	data, etag, err := readVerified(body, opts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.info(key); err == nil {
		return nil, ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.write(key, data, etag, opts)
}

// write stores the object before its sidecar, so a key only becomes visible
// once its bytes are on disk.
func (s *FSStore) write(key string, data []byte, etag string, opts *PutOptions) (*ObjectInfo, error) {
	objPath := s.objectPath(key)
	metaPath := s.metaPath(key)
	for _, dir := range []string{filepath.Dir(objPath), filepath.Dir(metaPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	if err := writeFileAtomic(objPath, data); err != nil {
		return nil, err
	}

	meta := fsMeta{
		Size:         int64(len(data)),
		ETag:         etag,
		LastModified: time.Now().UTC(),
		ContentType:  contentType(opts),
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(metaPath, metaData); err != nil {
		return nil, err
	}
	return meta.objectInfo(key), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range []string{s.metaPath(key), s.objectPath(key)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (s *FSStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metaDir := filepath.Join(s.root, "meta")
	var out []ObjectInfo
	err := filepath.WalkDir(metaDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		rel, err := filepath.Rel(metaDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(strings.TrimSuffix(rel, ".json"))
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := s.info(key)
		if err != nil {
			return nil
		}
		out = append(out, *info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *FSStore) info(key string) (*ObjectInfo, error) {
	data, err := os.ReadFile(s.metaPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var meta fsMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("corrupt metadata for %s: %w", key, err)
	}
	return meta.objectInfo(key), nil
}

func (m fsMeta) objectInfo(key string) *ObjectInfo {
	return &ObjectInfo{
		Key:          key,
		Size:         m.Size,
		ETag:         m.ETag,
		LastModified: m.LastModified,
		ContentType:  m.ContentType,
	}
}
