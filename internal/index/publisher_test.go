package index

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexsearch/vexroute/pkg/objectstore"
)

// recordingStore wraps a MemoryStore and records call order, optionally
// failing puts for a key substring.
type recordingStore struct {
	*objectstore.MemoryStore

	mu         sync.Mutex
	calls      []string
	failPutKey string
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: objectstore.NewMemoryStore()}
}

func (s *recordingStore) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *recordingStore) Put(ctx context.Context, key string, body io.Reader, size int64, opts *objectstore.PutOptions) (*objectstore.ObjectInfo, error) {
	s.record("Put:" + key)
	if s.failPutKey != "" && strings.Contains(key, s.failPutKey) {
		return nil, errors.New("injected put failure")
	}
	return s.MemoryStore.Put(ctx, key, body, size, opts)
}

func (s *recordingStore) PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64, opts *objectstore.PutOptions) (*objectstore.ObjectInfo, error) {
	s.record("PutIfAbsent:" + key)
	return s.MemoryStore.PutIfAbsent(ctx, key, body, size, opts)
}

func (s *recordingStore) Head(ctx context.Context, key string) (*objectstore.ObjectInfo, error) {
	s.record("Head:" + key)
	return s.MemoryStore.Head(ctx, key)
}

const testRunID = "0192f0c4-7a00-7000-8000-000000000001"

func testIndex(t *testing.T) *PartitionedIndex {
	t.Helper()
	vectors, centroids, assignment := sixVectors(t)
	idx, err := Build(vectors, centroids, assignment)
	require.NoError(t, err)
	return idx
}

func TestPublishUploadsSnapshotBeforeManifest(t *testing.T) {
	store := newRecordingStore()
	idx := testIndex(t)
	pub := NewPublisher(store, "idx/", testRunID)

	res, err := pub.Publish(context.Background(), idx, PartitionInfo{Source: "computed", MaxIterations: 2, Iterations: 1})
	require.NoError(t, err)

	assert.Equal(t, "idx/manifests/"+testRunID+".json", res.ManifestKey)
	assert.Equal(t, "idx/snapshots/"+testRunID+".vxri.zst", res.SnapshotKey)
	assert.Equal(t, []string{
		"Put:" + res.SnapshotKey,
		"Head:" + res.SnapshotKey,
		"PutIfAbsent:" + res.ManifestKey,
	}, store.calls)
	assert.Greater(t, res.BytesUploaded, int64(0))
	assert.Equal(t, 6, res.Manifest.Stats.NumVectors)
	assert.Equal(t, FormatFingerprint(idx.Fingerprint()), res.Manifest.Fingerprint)
}

func TestPublishOnlyOnce(t *testing.T) {
	pub := NewPublisher(newRecordingStore(), "", testRunID)
	idx := testIndex(t)

	_, err := pub.Publish(context.Background(), idx, PartitionInfo{})
	require.NoError(t, err)
	_, err = pub.Publish(context.Background(), idx, PartitionInfo{})
	assert.ErrorIs(t, err, ErrPublishAborted)
}

func TestPublishSnapshotFailureWritesNoManifest(t *testing.T) {
	store := newRecordingStore()
	store.failPutKey = "snapshots/"

	_, err := NewPublisher(store, "", testRunID).Publish(context.Background(), testIndex(t), PartitionInfo{})
	assert.ErrorIs(t, err, ErrSnapshotUploadFailed)

	_, err = store.Head(context.Background(), ManifestKey("", testRunID))
	assert.True(t, objectstore.IsNotFoundError(err))
}

func TestPublishNeverOverwritesManifest(t *testing.T) {
	store := newRecordingStore()
	ctx := context.Background()

	_, err := NewPublisher(store, "", testRunID).Publish(ctx, testIndex(t), PartitionInfo{})
	require.NoError(t, err)

	_, err = NewPublisher(store, "", testRunID).Publish(ctx, testIndex(t), PartitionInfo{})
	assert.ErrorIs(t, err, ErrManifestUploadFailed)
	assert.ErrorIs(t, err, ErrRunAlreadyPublished)
	assert.False(t, objectstore.IsConflictError(err))
}

func TestLoaderRoundTrip(t *testing.T) {
	store := objectstore.NewMemoryStore()
	ctx := context.Background()
	idx := testIndex(t)

	_, err := NewPublisher(store, "p/", testRunID).Publish(ctx, idx, PartitionInfo{Source: "precomputed"})
	require.NoError(t, err)

	loader := NewLoader(store, "p/")
	got, manifest, err := loader.Load(ctx, testRunID)
	require.NoError(t, err)
	assert.Equal(t, idx.Fingerprint(), got.Fingerprint())
	assert.Equal(t, "precomputed", manifest.Partition.Source)

	holder := NewHolder(nil)
	_, err = loader.LoadInto(ctx, holder, "")
	require.NoError(t, err)
	require.NotNil(t, holder.Load())
	assert.Equal(t, idx.ClusterOffsets(), holder.Load().ClusterOffsets())
}

func TestLoaderPicksLatestRun(t *testing.T) {
	store := objectstore.NewMemoryStore()
	ctx := context.Background()

	older := "0192f0c4-7a00-7000-8000-000000000001"
	newer := "0192f0c4-7b00-7000-8000-000000000001"
	_, err := NewPublisher(store, "", newer).Publish(ctx, testIndex(t), PartitionInfo{Seed: 2})
	require.NoError(t, err)
	_, err = NewPublisher(store, "", older).Publish(ctx, testIndex(t), PartitionInfo{Seed: 1})
	require.NoError(t, err)

	_, manifest, err := NewLoader(store, "").Load(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, newer, manifest.RunID)
	assert.Equal(t, int64(2), manifest.Partition.Seed)
}

func TestLoaderErrors(t *testing.T) {
	store := objectstore.NewMemoryStore()
	ctx := context.Background()
	loader := NewLoader(store, "")

	_, _, err := loader.Load(ctx, "")
	assert.ErrorIs(t, err, ErrNoManifest)

	_, _, err = loader.Load(ctx, "missing")
	assert.True(t, objectstore.IsNotFoundError(err))

	res, err := NewPublisher(store, "", testRunID).Publish(ctx, testIndex(t), PartitionInfo{})
	require.NoError(t, err)

	// Replace the snapshot with a different, valid index.
	vectors, centroids, _ := sixVectors(t)
	other, err := Build(vectors, centroids, []int32{1, 1, 1, 0, 0, 0})
	require.NoError(t, err)
	data, err := EncodeSnapshot(other)
	require.NoError(t, err)
	_, err = objectstore.PutBytes(ctx, store, res.SnapshotKey, data, "application/zstd")
	require.NoError(t, err)

	_, _, err = loader.Load(ctx, testRunID)
	assert.ErrorIs(t, err, ErrFingerprintMismatch)
}

func TestManifestValidate(t *testing.T) {
	_, err := ParseManifest([]byte(`{"format_version": 1}`))
	assert.Error(t, err)

	_, err = ParseManifest([]byte(`not json`))
	assert.Error(t, err)

	assert.Equal(t, testRunID, RunIDFromManifestKey(ManifestKey("a/b/", testRunID)))

	fp, err := ParseFingerprint(FormatFingerprint(0xdeadbeef))
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef), fp)
}

func TestHolderSwap(t *testing.T) {
	h := NewHolder(nil)
	assert.Nil(t, h.Load())
	assert.Equal(t, uint64(0), h.Version())

	first := testIndex(t)
	assert.Nil(t, h.Swap(first))
	second := testIndex(t)
	assert.Same(t, first, h.Swap(second))
	assert.Same(t, second, h.Load())
	assert.Equal(t, uint64(2), h.Version())
}

func TestHolderConcurrentReaders(t *testing.T) {
	h := NewHolder(testIndex(t))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				idx := h.Load()
				res, err := idx.SearchInCluster(1, []float32{10, 10}, 2)
				if err != nil || len(res) != 2 {
					t.Errorf("unexpected result %v, %v", res, err)
					return
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		h.Swap(testIndex(t))
	}
	wg.Wait()
}
