package index

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexsearch/vexroute/internal/vector"
)

func matrix(t *testing.T, rows [][]float32) *vector.Matrix {
	t.Helper()
	m, err := vector.FromRows(rows)
	require.NoError(t, err)
	return m
}

// sixVectors has ordinals 0..2 near the origin and 3..5 near (10, 10).
func sixVectors(t *testing.T) (*vector.Matrix, *vector.Matrix, []int32) {
	t.Helper()
	vectors := matrix(t, [][]float32{
		{0, 0}, {1, 0}, {0, 2},
		{10, 10}, {11, 10}, {10, 12},
	})
	centroids := matrix(t, [][]float32{{0, 0}, {10, 10}})
	return vectors, centroids, []int32{0, 0, 0, 1, 1, 1}
}

func TestBuildOffsets(t *testing.T) {
	vectors, centroids, assignment := sixVectors(t)
	idx, err := Build(vectors, centroids, assignment)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 3, 6}, idx.ClusterOffsets())
	assert.Equal(t, []int32{0, 1, 2, 3, 4, 5}, idx.SortedOrder())
	assert.Equal(t, 6, idx.Len())
	assert.Equal(t, 2, idx.Dims())
	assert.Equal(t, 2, idx.NumClusters())
}

func TestBuildPartitionInvariant(t *testing.T) {
	vectors := matrix(t, [][]float32{{5}, {1}, {7}, {3}, {2}, {9}, {4}})
	centroids := matrix(t, [][]float32{{0}, {5}, {10}, {20}})
	assignment := []int32{1, 0, 2, 0, 0, 2, 1}

	idx, err := Build(vectors, centroids, assignment)
	require.NoError(t, err)

	offsets := idx.ClusterOffsets()
	order := idx.SortedOrder()
	require.Len(t, offsets, 5)
	assert.Equal(t, 0, offsets[0])
	assert.Equal(t, 7, offsets[4])
	for c := 0; c < 4; c++ {
		assert.LessOrEqual(t, offsets[c], offsets[c+1])
		for pos := offsets[c]; pos < offsets[c+1]; pos++ {
			ord := order[pos]
			assert.Equal(t, int32(c), assignment[ord], "position %d", pos)
			if pos > offsets[c] {
				assert.Less(t, order[pos-1], ord, "cluster %d keeps ordinal order", c)
			}
			v, err := idx.Vector(ord)
			require.NoError(t, err)
			assert.Equal(t, vectors.Row(int(ord)), v)
		}
	}

	// Coverage: every ordinal appears exactly once.
	seen := make(map[int32]bool)
	for _, ord := range order {
		assert.False(t, seen[ord])
		seen[ord] = true
	}
	assert.Len(t, seen, 7)

	size, err := idx.ClusterSize(3)
	require.NoError(t, err)
	assert.Equal(t, 0, size)
	assert.Equal(t, []int{3, 2, 2, 0}, idx.Sizes())
}

func TestBuildDeterministic(t *testing.T) {
	vectors, centroids, assignment := sixVectors(t)
	a, err := Build(vectors, centroids, assignment)
	require.NoError(t, err)
	b, err := Build(vectors.Clone(), centroids.Clone(), append([]int32(nil), assignment...))
	require.NoError(t, err)

	assert.Equal(t, a.SortedOrder(), b.SortedOrder())
	assert.Equal(t, a.ClusterOffsets(), b.ClusterOffsets())
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	other, err := Build(vectors, centroids, []int32{1, 0, 0, 1, 1, 1})
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), other.Fingerprint())
}

func TestBuildEmptyVectorSet(t *testing.T) {
	centroids := matrix(t, [][]float32{{0, 0}, {1, 1}, {2, 2}})
	idx, err := Build(&vector.Matrix{Dims: 2}, centroids, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 0, 0, 0}, idx.ClusterOffsets())
	assert.Equal(t, 0, idx.Len())

	res, err := idx.SearchInCluster(1, []float32{0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, res)

	stats := idx.Stats()
	assert.Equal(t, 3, stats.EmptyClusters)
	assert.Equal(t, 0, stats.MaxSize)
}

func TestBuildRejectsInvalidInput(t *testing.T) {
	vectors, centroids, assignment := sixVectors(t)

	_, err := Build(vectors, nil, assignment)
	assert.ErrorIs(t, err, vector.ErrInvalidInput)

	_, err = Build(vectors, centroids, assignment[:5])
	assert.ErrorIs(t, err, vector.ErrInvalidInput)

	_, err = Build(vectors, centroids, []int32{0, 0, 0, 1, 1, 2})
	assert.ErrorIs(t, err, vector.ErrOutOfRange)

	_, err = Build(vectors, centroids, []int32{0, 0, 0, 1, 1, -1})
	assert.ErrorIs(t, err, vector.ErrOutOfRange)

	wide := matrix(t, [][]float32{{0, 0, 0}})
	_, err = Build(vectors, wide, make([]int32, 6))
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)

	nan := &vector.Matrix{Dims: 1, Data: []float32{float32(math.NaN())}}
	_, err = Build(nan, matrix(t, [][]float32{{0}}), []int32{0})
	assert.ErrorIs(t, err, vector.ErrInvalidDType)
}

func TestBuildCopiesInput(t *testing.T) {
	vectors, centroids, assignment := sixVectors(t)
	idx, err := Build(vectors, centroids, assignment)
	require.NoError(t, err)

	vectors.Row(0)[0] = 99
	centroids.Row(0)[0] = 99
	v, err := idx.Vector(0)
	require.NoError(t, err)
	assert.Equal(t, float32(0), v[0])
	assert.Equal(t, float32(0), idx.Centroids().Row(0)[0])
}

func TestPosition(t *testing.T) {
	vectors := matrix(t, [][]float32{{1}, {2}, {3}, {4}})
	centroids := matrix(t, [][]float32{{0}, {0}, {0}, {0}})
	// Cluster 1 and 3 are empty.
	idx, err := Build(vectors, centroids, []int32{2, 0, 2, 0})
	require.NoError(t, err)

	cases := []struct {
		ordinal  int32
		cluster  int
		position int
	}{
		{1, 0, 0},
		{3, 0, 1},
		{0, 2, 0},
		{2, 2, 1},
	}
	for _, tc := range cases {
		c, pos, err := idx.Position(tc.ordinal)
		require.NoError(t, err)
		assert.Equal(t, tc.cluster, c, "ordinal %d", tc.ordinal)
		assert.Equal(t, tc.position, pos, "ordinal %d", tc.ordinal)

		loc, err := idx.Locate(tc.ordinal)
		require.NoError(t, err)
		assert.Equal(t, Location{Cluster: int32(tc.cluster), Position: int32(tc.position)}, loc)
	}

	_, _, err = idx.Position(4)
	assert.ErrorIs(t, err, vector.ErrOutOfRange)
}

func TestDistance(t *testing.T) {
	vectors, centroids, assignment := sixVectors(t)
	idx, err := Build(vectors, centroids, assignment)
	require.NoError(t, err)

	d, err := idx.Distance(2, []float32{0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, float64(d), 1e-6)

	_, err = idx.Distance(2, []float32{0})
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)
	_, err = idx.Distance(6, []float32{0, 0})
	assert.ErrorIs(t, err, vector.ErrOutOfRange)
}

func TestStats(t *testing.T) {
	vectors := matrix(t, [][]float32{{1}, {2}, {3}})
	centroids := matrix(t, [][]float32{{0}, {0}, {0}})
	idx, err := Build(vectors, centroids, []int32{0, 0, 2})
	require.NoError(t, err)

	stats := idx.Stats()
	assert.Equal(t, 3, stats.NumVectors)
	assert.Equal(t, 0, stats.MinSize)
	assert.Equal(t, 2, stats.MaxSize)
	assert.InDelta(t, 1.0, stats.MeanSize, 1e-9)
	assert.Equal(t, 1, stats.EmptyClusters)
}
