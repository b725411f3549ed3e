package query

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexsearch/vexroute/internal/index"
	"github.com/vexsearch/vexroute/internal/logging"
	"github.com/vexsearch/vexroute/internal/metrics"
	"github.com/vexsearch/vexroute/internal/routing"
	"github.com/vexsearch/vexroute/internal/vector"
)

func matrix(t *testing.T, rows [][]float32) *vector.Matrix {
	t.Helper()
	m, err := vector.FromRows(rows)
	require.NoError(t, err)
	return m
}

// sixVectorIndex holds ordinals 0..2 near the origin in cluster 0 and 3..5
// near (10, 10) in cluster 1. A third centroid, far away, owns nothing.
func sixVectorIndex(t *testing.T, withEmpty bool) *index.PartitionedIndex {
	t.Helper()
	vectors := matrix(t, [][]float32{
		{0, 0}, {1, 0}, {0, 2},
		{10, 10}, {11, 10}, {10, 12},
	})
	centroidRows := [][]float32{{0, 0}, {10, 10}}
	if withEmpty {
		centroidRows = append(centroidRows, []float32{100, 100})
	}
	idx, err := index.Build(vectors, matrix(t, centroidRows), []int32{0, 0, 0, 1, 1, 1})
	require.NoError(t, err)
	return idx
}

func ordinals(ns []index.Neighbor) []int32 {
	out := make([]int32, len(ns))
	for i, n := range ns {
		out[i] = n.Ordinal
	}
	return out
}

func centroidEngine(t *testing.T, idx *index.PartitionedIndex) *Engine {
	t.Helper()
	r, err := routing.NewCentroidRouter(idx.Centroids())
	require.NoError(t, err)
	return NewEngine(idx, r, logging.Discard())
}

func TestQueryRoutedToAssignedCluster(t *testing.T) {
	idx := sixVectorIndex(t, false)
	require.Equal(t, []int{0, 3, 6}, idx.ClusterOffsets())

	e := NewEngine(idx, routing.NewAssignedRouter(idx.NumClusters()), logging.Discard())
	q := routing.Query{Vector: []float32{10, 10}, Cluster: 1, HasCluster: true}

	res := e.Batch(context.Background(), []routing.Query{q}, 3, 1, 1)
	require.Len(t, res, 1)
	require.NoError(t, res[0].Err)
	assert.Equal(t, []int32{3, 4, 5}, res[0].Ordinals)
	assert.Equal(t, []int{1}, res[0].Probed)
	assert.Equal(t, 3, res[0].Scanned)
	assert.Equal(t, float32(0), res[0].Neighbors[0].Distance)
}

func TestQueryCentroidRouting(t *testing.T) {
	e := centroidEngine(t, sixVectorIndex(t, false))

	// (0.5, 0) is equidistant from ordinals 0 and 1; the lower ordinal wins.
	got, err := e.Query(context.Background(), routing.Query{Vector: []float32{0.5, 0}}, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 1, 2}, ordinals(got))
	assert.InDelta(t, 0.5, got[0].Distance, 1e-6)

	got, err = e.Query(context.Background(), routing.Query{Vector: []float32{0, 0}}, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 1, 2, 3}, ordinals(got))
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Less(got[i-1]), "results must be ascending")
	}
}

func TestQueryShortResult(t *testing.T) {
	e := centroidEngine(t, sixVectorIndex(t, false))

	got, err := e.Query(context.Background(), routing.Query{Vector: []float32{1, 1}}, 10, 1)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = e.Query(context.Background(), routing.Query{Vector: []float32{1, 1}}, 10, 5)
	require.NoError(t, err)
	assert.Len(t, got, 6)
}

func TestQueryDeduplicatesRepeatedProbes(t *testing.T) {
	idx := sixVectorIndex(t, false)
	r, err := routing.NewLearnedRouter([][]int32{{1, 1, 0}}, idx.NumClusters())
	require.NoError(t, err)
	e := NewEngine(idx, r, logging.Discard())

	res := e.Batch(context.Background(), []routing.Query{{Index: 0, Vector: []float32{10, 10}}}, 6, 2, 1)
	require.NoError(t, res[0].Err)
	assert.Equal(t, []int32{3, 4, 5}, res[0].Ordinals)
	assert.Equal(t, []int{1, 1}, res[0].Probed)
	assert.Equal(t, 6, res[0].Scanned)
}

func TestQueryEmptyClusterProbe(t *testing.T) {
	idx := sixVectorIndex(t, true)
	e := NewEngine(idx, routing.NewAssignedRouter(idx.NumClusters()), logging.Discard())

	probes := metrics.EmptyClusterProbes.WithLabelValues(routing.NameAssigned)
	before := testutil.ToFloat64(probes)

	got, err := e.Query(context.Background(), routing.Query{Vector: []float32{1, 1}, Cluster: 2, HasCluster: true}, 3, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, before+1, testutil.ToFloat64(probes))
}

func TestQueryMetrics(t *testing.T) {
	e := centroidEngine(t, sixVectorIndex(t, false))

	ok := metrics.QueriesTotal.WithLabelValues(routing.NameCentroid, "success")
	failed := metrics.QueriesTotal.WithLabelValues(routing.NameCentroid, "error")
	scanned := metrics.CandidatesScanned.WithLabelValues(routing.NameCentroid)
	okBefore, failedBefore, scannedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed), testutil.ToFloat64(scanned)

	_, err := e.Query(context.Background(), routing.Query{Vector: []float32{0, 0}}, 2, 2)
	require.NoError(t, err)
	_, err = e.Query(context.Background(), routing.Query{Vector: []float32{0}}, 2, 2)
	require.Error(t, err)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(ok))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(failed))
	assert.Equal(t, scannedBefore+6, testutil.ToFloat64(scanned))
}

func TestQueryErrors(t *testing.T) {
	idx := sixVectorIndex(t, false)
	e := centroidEngine(t, idx)
	ctx := context.Background()

	_, err := e.Query(ctx, routing.Query{Vector: []float32{0, 0}}, 0, 1)
	assert.ErrorIs(t, err, vector.ErrInvalidInput)

	_, err = e.Query(ctx, routing.Query{Vector: []float32{0, 0, 0}}, 1, 1)
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)

	_, err = e.Query(ctx, routing.Query{Vector: []float32{0, 0}}, 1, 0)
	assert.ErrorIs(t, err, vector.ErrInvalidInput)

	learned, err := routing.NewLearnedRouter([][]int32{{0}}, idx.NumClusters())
	require.NoError(t, err)
	_, err = NewEngine(idx, learned, nil).Query(ctx, routing.Query{Index: 3, Vector: []float32{0, 0}}, 1, 1)
	assert.ErrorIs(t, err, vector.ErrLookupFailure)

	// Predictions made for a larger partition name clusters this index lacks.
	wide, err := routing.NewLearnedRouter([][]int32{{5}}, 8)
	require.NoError(t, err)
	_, err = NewEngine(idx, wide, nil).Query(ctx, routing.Query{Vector: []float32{0, 0}}, 1, 1)
	assert.ErrorIs(t, err, vector.ErrOutOfRange)

	empty := NewHolderEngine(index.NewHolder(nil), routing.NewAssignedRouter(1), nil)
	_, err = empty.Query(ctx, routing.Query{Vector: []float32{0, 0}}, 1, 1)
	assert.ErrorIs(t, err, ErrNoIndex)
}

func TestBatchIsolatesFailures(t *testing.T) {
	idx := sixVectorIndex(t, false)
	r, err := routing.NewLearnedRouter([][]int32{{0}, {1}}, idx.NumClusters())
	require.NoError(t, err)

	var buf bytes.Buffer
	e := NewEngine(idx, r, logging.NewWithWriter(&buf, slog.LevelWarn))

	queries := []routing.Query{
		{Index: 0, Vector: []float32{0, 0}},
		{Index: 1, Vector: []float32{10, 10}},
		{Index: 2, Vector: []float32{10, 10}},
	}
	ctx := logging.ContextWithRunID(context.Background(), "run-7")
	res := e.Batch(ctx, queries, 2, 1, 2)
	require.Len(t, res, 3)

	assert.Equal(t, []int32{0, 1}, res[0].Ordinals)
	assert.Equal(t, []int32{3, 4}, res[1].Ordinals)
	assert.ErrorIs(t, res[2].Err, vector.ErrLookupFailure)
	assert.True(t, res[2].Failed())
	assert.Empty(t, res[2].Ordinals)
	assert.Equal(t, 2, res[2].Index)

	out := buf.String()
	assert.Contains(t, out, `"query_index":2`)
	assert.Contains(t, out, `"router":"learned"`)
	assert.Contains(t, out, `"run_id":"run-7"`)
	assert.Equal(t, 1, strings.Count(out, "query failed"))
}

func TestBatchMatchesSequential(t *testing.T) {
	e := centroidEngine(t, sixVectorIndex(t, false))

	queries := make([]routing.Query, 50)
	for i := range queries {
		queries[i] = routing.Query{Index: i, Vector: []float32{float32(i % 12), float32(i % 7)}}
	}

	res := e.Batch(context.Background(), queries, 4, 2, 3)
	require.Len(t, res, len(queries))
	for i, q := range queries {
		want, err := e.Query(context.Background(), q, 4, 2)
		require.NoError(t, err)
		assert.Equal(t, i, res[i].Index)
		assert.Equal(t, ordinals(want), res[i].Ordinals, "query %d", i)
	}
}

func TestBatchCancelled(t *testing.T) {
	e := centroidEngine(t, sixVectorIndex(t, false))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := e.Batch(ctx, []routing.Query{{Vector: []float32{0, 0}}, {Index: 1, Vector: []float32{1, 1}}}, 1, 1, 0)
	require.Len(t, res, 2)
	for _, r := range res {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestEngineFollowsHolderSwap(t *testing.T) {
	idx := sixVectorIndex(t, false)
	h := index.NewHolder(idx)
	e := NewHolderEngine(h, routing.NewAssignedRouter(2), nil)
	q := routing.Query{Vector: []float32{0, 0}, Cluster: 0, HasCluster: true}

	got, err := e.Query(context.Background(), q, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []int32{0}, ordinals(got))

	// Same geometry with the clusters' roles reversed.
	vectors := matrix(t, [][]float32{{10, 10}, {0, 0}})
	swapped, err := index.Build(vectors, matrix(t, [][]float32{{10, 10}, {0, 0}}), []int32{0, 1})
	require.NoError(t, err)
	h.Swap(swapped)

	got, err = e.Query(context.Background(), q, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []int32{0}, ordinals(got))
	assert.InDelta(t, 14.142, got[0].Distance, 1e-3)
}

func TestEngineLimiter(t *testing.T) {
	idx := sixVectorIndex(t, false)
	limiter := NewConcurrencyLimiter(1)
	r, err := routing.NewCentroidRouter(idx.Centroids())
	require.NoError(t, err)
	e := NewEngine(idx, r, nil, WithLimiter(limiter))

	release, err := limiter.Acquire(context.Background(), routing.NameCentroid)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = e.Query(ctx, routing.Query{Vector: []float32{0, 0}}, 1, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	_, err = e.Query(context.Background(), routing.Query{Vector: []float32{0, 0}}, 1, 1)
	assert.NoError(t, err)
	assert.Equal(t, 0, limiter.ActiveCount(routing.NameCentroid))
}

func TestMergeTopK(t *testing.T) {
	candidates := []index.Neighbor{
		{Ordinal: 7, Distance: 2}, {Ordinal: 3, Distance: 1},
		{Ordinal: 7, Distance: 2}, {Ordinal: 1, Distance: 1},
		{Ordinal: 9, Distance: 5},
	}
	got := mergeTopK(candidates, 3)
	assert.Equal(t, []int32{1, 3, 7}, ordinals(got))

	assert.Empty(t, mergeTopK(nil, 3))
}
