package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexsearch/vexroute/internal/vector"
)

func ordinals(ns []Neighbor) []int32 {
	out := make([]int32, len(ns))
	for i, n := range ns {
		out[i] = n.Ordinal
	}
	return out
}

func TestSearchInClusterReturnsNearest(t *testing.T) {
	vectors := matrix(t, [][]float32{{3, 0}, {1, 0}, {2, 0}})
	centroids := matrix(t, [][]float32{{0, 0}})
	idx, err := Build(vectors, centroids, []int32{0, 0, 0})
	require.NoError(t, err)

	res, err := idx.SearchInCluster(0, []float32{0, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2}, ordinals(res))
	assert.InDelta(t, 1.0, float64(res[0].Distance), 1e-6)
	assert.InDelta(t, 2.0, float64(res[1].Distance), 1e-6)
}

func TestSearchInClusterShortCluster(t *testing.T) {
	vectors := matrix(t, [][]float32{{0}, {5}})
	centroids := matrix(t, [][]float32{{0}, {5}})
	idx, err := Build(vectors, centroids, []int32{0, 1})
	require.NoError(t, err)

	res, err := idx.SearchInCluster(1, []float32{4}, 5)
	require.NoError(t, err)
	assert.Equal(t, []int32{1}, ordinals(res))
}

func TestSearchInClusterEmptyCluster(t *testing.T) {
	vectors := matrix(t, [][]float32{{0}, {1}})
	centroids := matrix(t, [][]float32{{0}, {100}})
	idx, err := Build(vectors, centroids, []int32{0, 0})
	require.NoError(t, err)

	res, err := idx.SearchInCluster(1, []float32{100}, 3)
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Empty(t, res)
}

func TestSearchInClusterTieBreak(t *testing.T) {
	// Ordinals 0, 2 and 3 are all at distance 1 from the query.
	vectors := matrix(t, [][]float32{{1}, {5}, {-1}, {1}})
	centroids := matrix(t, [][]float32{{0}})
	idx, err := Build(vectors, centroids, []int32{0, 0, 0, 0})
	require.NoError(t, err)

	res, err := idx.SearchInCluster(0, []float32{0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 2}, ordinals(res))

	res, err = idx.SearchInCluster(0, []float32{0}, 4)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 2, 3, 1}, ordinals(res))
}

func TestSearchInClusterErrors(t *testing.T) {
	vectors, centroids, assignment := sixVectors(t)
	idx, err := Build(vectors, centroids, assignment)
	require.NoError(t, err)

	_, err = idx.SearchInCluster(2, []float32{0, 0}, 1)
	assert.ErrorIs(t, err, vector.ErrOutOfRange)
	_, err = idx.SearchInCluster(-1, []float32{0, 0}, 1)
	assert.ErrorIs(t, err, vector.ErrOutOfRange)

	_, err = idx.SearchInCluster(0, []float32{0, 0, 0}, 1)
	var dimErr *vector.DimensionError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 2, dimErr.Expected)
	assert.Equal(t, 3, dimErr.Actual)

	_, err = idx.SearchInCluster(0, []float32{0, 0}, 0)
	assert.ErrorIs(t, err, vector.ErrInvalidInput)
}

func TestSearchRoutesToNearestCentroid(t *testing.T) {
	vectors, centroids, assignment := sixVectors(t)
	idx, err := Build(vectors, centroids, assignment)
	require.NoError(t, err)

	res, err := idx.Search([]float32{10.5, 10}, 3)
	require.NoError(t, err)
	// Only cluster 1 (ordinals 3..5) is scanned.
	assert.Equal(t, []int32{3, 4, 5}, ordinals(res))

	res, err = idx.Search([]float32{0.1, 0}, 10)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 1, 2}, ordinals(res))
}

func TestSortNeighbors(t *testing.T) {
	ns := []Neighbor{{Ordinal: 4, Distance: 1}, {Ordinal: 2, Distance: 1}, {Ordinal: 9, Distance: 0.5}}
	SortNeighbors(ns)
	assert.Equal(t, []int32{9, 2, 4}, ordinals(ns))
}
