package partition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexsearch/vexroute/internal/vector"
)

func TestPrecomputedResolve(t *testing.T) {
	vectors := blobs(t)
	centroids, err := vector.FromRows([][]float32{{0, 0}, {10, 10}})
	require.NoError(t, err)

	src := Precomputed{Centroids: centroids, Assignment: []int32{0, 0, 0, 0, 1, 1, 1, 1}}
	res, err := src.Resolve(context.Background(), vectors)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4}, res.Sizes)
	assert.Equal(t, 0, res.Iterations)

	short := Precomputed{Centroids: centroids, Assignment: []int32{0, 1}}
	_, err = short.Resolve(context.Background(), vectors)
	assert.ErrorIs(t, err, vector.ErrInvalidInput)

	outOfRange := Precomputed{Centroids: centroids, Assignment: []int32{0, 0, 0, 0, 1, 1, 1, 2}}
	_, err = outOfRange.Resolve(context.Background(), vectors)
	assert.ErrorIs(t, err, vector.ErrOutOfRange)

	wrongDims, err := vector.FromRows([][]float32{{0, 0, 0}})
	require.NoError(t, err)
	_, err = Precomputed{Centroids: wrongDims, Assignment: make([]int32, 8)}.Resolve(context.Background(), vectors)
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)
}

func TestNeedsComputationResolve(t *testing.T) {
	var src Source = NeedsComputation{Options: Options{NClusters: 2, MaxIterations: 3, Seed: 5}}
	res, err := src.Resolve(context.Background(), blobs(t))
	require.NoError(t, err)
	assert.Equal(t, 2, res.NumClusters())
}

func TestRandomPartitionResolve(t *testing.T) {
	vectors := blobs(t)
	src := RandomPartition{NClusters: 3, Seed: 11}

	a, err := src.Resolve(context.Background(), vectors)
	require.NoError(t, err)
	b, err := src.Resolve(context.Background(), vectors)
	require.NoError(t, err)

	assert.Equal(t, a.Assignment, b.Assignment)
	total := 0
	for _, s := range a.Sizes {
		total += s
	}
	assert.Equal(t, vectors.Rows(), total)

	_, err = RandomPartition{NClusters: 20}.Resolve(context.Background(), vectors)
	assert.ErrorIs(t, err, ErrTooManyClusters)
}

func TestComputeCentroids(t *testing.T) {
	vectors, err := vector.FromRows([][]float32{{0, 0}, {2, 2}, {4, 0}})
	require.NoError(t, err)

	centroids, err := ComputeCentroids(vectors, []int32{0, 0, 1}, 3)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, centroids.Row(0))
	assert.Equal(t, []float32{4, 0}, centroids.Row(1))
	assert.Equal(t, []float32{0, 0}, centroids.Row(2))
}
