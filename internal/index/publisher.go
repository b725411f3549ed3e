package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vexsearch/vexroute/pkg/objectstore"
)

var (
	ErrPublishAborted       = errors.New("publish was aborted")
	ErrSnapshotUploadFailed = errors.New("failed to upload snapshot")
	ErrManifestUploadFailed = errors.New("failed to upload manifest")
	ErrRunAlreadyPublished  = errors.New("run already published")
	ErrObjectMissing        = errors.New("snapshot object missing from storage")
	ErrNoManifest           = errors.New("no manifest published")
	ErrFingerprintMismatch  = errors.New("snapshot fingerprint does not match manifest")
)

// Publisher writes an index snapshot and its manifest to object storage.
// It ensures:
//  1. The snapshot is uploaded and verified before the manifest
//  2. The manifest never references a missing snapshot
//  3. A manifest, once written, is never overwritten
type Publisher struct {
	store  objectstore.Store
	prefix string
	runID  string

	mu     sync.Mutex
	sealed bool
}

// NewPublisher creates a publisher for one build run.
func NewPublisher(store objectstore.Store, prefix, runID string) *Publisher {
	return &Publisher{store: store, prefix: prefix, runID: runID}
}

// PublishResult contains the result of a successful publish.
type PublishResult struct {
	ManifestKey   string
	SnapshotKey   string
	BytesUploaded int64
	Manifest      *Manifest
}

// Publish uploads idx and its manifest. A publisher publishes at most once.
func (p *Publisher) Publish(ctx context.Context, idx *PartitionedIndex, info PartitionInfo) (*PublishResult, error) {
	p.mu.Lock()
	if p.sealed {
		p.mu.Unlock()
		return nil, ErrPublishAborted
	}
	p.sealed = true
	p.mu.Unlock()

	snapshot, err := EncodeSnapshot(idx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotUploadFailed, err)
	}

	snapshotKey := SnapshotKey(p.prefix, p.runID)
	if _, err := objectstore.PutBytes(ctx, p.store, snapshotKey, snapshot, "application/zstd"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotUploadFailed, err)
	}
	if err := p.verifyObject(ctx, snapshotKey, int64(len(snapshot))); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrObjectMissing, err)
	}

	manifest := &Manifest{
		FormatVersion: CurrentManifestVersion,
		RunID:         p.runID,
		GeneratedAt:   time.Now().UTC(),
		SnapshotKey:   snapshotKey,
		SnapshotSize:  int64(len(snapshot)),
		Fingerprint:   FormatFingerprint(idx.Fingerprint()),
		Stats:         idx.Stats(),
		Partition:     info,
	}
	manifestKey := ManifestKey(p.prefix, p.runID)
	n, err := p.uploadManifest(ctx, manifestKey, manifest)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestUploadFailed, err)
	}

	return &PublishResult{
		ManifestKey:   manifestKey,
		SnapshotKey:   snapshotKey,
		BytesUploaded: int64(len(snapshot)) + n,
		Manifest:      manifest,
	}, nil
}

func (p *Publisher) verifyObject(ctx context.Context, key string, size int64) error {
	info, err := p.store.Head(ctx, key)
	if err != nil {
		if objectstore.IsNotFoundError(err) {
			return fmt.Errorf("object not found: %s", key)
		}
		return fmt.Errorf("failed to verify object %s: %w", key, err)
	}
	if info.Size != size {
		return fmt.Errorf("object %s has %d bytes, uploaded %d", key, info.Size, size)
	}
	return nil
}

func (p *Publisher) uploadManifest(ctx context.Context, key string, manifest *Manifest) (int64, error) {
	data, err := manifest.Marshal()
	if err != nil {
		return 0, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	_, err = p.store.PutIfAbsent(ctx, key, bytes.NewReader(data), int64(len(data)), &objectstore.PutOptions{
		ContentType: "application/json",
		Checksum:    objectstore.Checksum(data),
	})
	if objectstore.IsConflictError(err) {
		return 0, fmt.Errorf("%w: manifest %s exists", ErrRunAlreadyPublished, key)
	}
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// Loader reads published indexes back from object storage.
type Loader struct {
	store  objectstore.Store
	prefix string
}

func NewLoader(store objectstore.Store, prefix string) *Loader {
	return &Loader{store: store, prefix: prefix}
}

// LatestManifestKey returns the key of the most recent manifest.
func (l *Loader) LatestManifestKey(ctx context.Context) (string, error) {
	objects, err := l.store.List(ctx, ManifestPrefix(l.prefix))
	if err != nil {
		return "", err
	}
	if len(objects) == 0 {
		return "", ErrNoManifest
	}
	return objects[len(objects)-1].Key, nil
}

// ReadManifest fetches and validates the manifest at key.
func (l *Loader) ReadManifest(ctx context.Context, key string) (*Manifest, error) {
	data, err := objectstore.ReadAll(ctx, l.store, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", key, err)
	}
	return ParseManifest(data)
}

// Load fetches the manifest for runID and the snapshot it points to. An
// empty runID loads the latest build.
func (l *Loader) Load(ctx context.Context, runID string) (*PartitionedIndex, *Manifest, error) {
	key := ManifestKey(l.prefix, runID)
	if runID == "" {
		latest, err := l.LatestManifestKey(ctx)
		if err != nil {
			return nil, nil, err
		}
		key = latest
	}

	manifest, err := l.ReadManifest(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	data, err := objectstore.ReadAll(ctx, l.store, manifest.SnapshotKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read snapshot %s: %w", manifest.SnapshotKey, err)
	}
	idx, err := DecodeSnapshot(data)
	if err != nil {
		return nil, nil, err
	}

	want, _ := ParseFingerprint(manifest.Fingerprint)
	if got := idx.Fingerprint(); got != want {
		return nil, nil, fmt.Errorf("%w: manifest %s, snapshot %s", ErrFingerprintMismatch, manifest.Fingerprint, FormatFingerprint(got))
	}
	return idx, manifest, nil
}

// LoadInto loads runID and swaps it into h.
func (l *Loader) LoadInto(ctx context.Context, h *Holder, runID string) (*Manifest, error) {
	idx, manifest, err := l.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	h.Swap(idx)
	return manifest, nil
}
