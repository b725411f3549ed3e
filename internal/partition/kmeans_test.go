package partition

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexsearch/vexroute/internal/vector"
)

func blobs(t *testing.T) *vector.Matrix {
	t.Helper()
	m, err := vector.FromRows([][]float32{
		{0, 0}, {0.1, 0}, {0, 0.1}, {0.1, 0.1},
		{10, 10}, {10.1, 10}, {10, 10.1}, {10.1, 10.1},
	})
	require.NoError(t, err)
	return m
}

func TestPartitionSeparatesBlobs(t *testing.T) {
	vectors := blobs(t)
	opts := Options{NClusters: 2, MaxIterations: 10, Seed: 7, Workers: 3}

	res, err := Partition(context.Background(), vectors, opts)
	require.NoError(t, err)

	require.Len(t, res.Assignment, 8)
	for i := 1; i < 4; i++ {
		assert.Equal(t, res.Assignment[0], res.Assignment[i])
		assert.Equal(t, res.Assignment[4], res.Assignment[4+i])
	}
	assert.NotEqual(t, res.Assignment[0], res.Assignment[4])
	assert.Equal(t, []int{4, 4}, res.Sizes)
	assert.GreaterOrEqual(t, res.Iterations, 1)
}

func TestPartitionAssignmentMatchesCentroids(t *testing.T) {
	vectors := blobs(t)
	for _, iters := range []int{0, 1, 2, 5} {
		res, err := Partition(context.Background(), vectors, Options{NClusters: 3, MaxIterations: iters, Seed: 1})
		require.NoError(t, err)
		assert.LessOrEqual(t, res.Iterations, iters)
		for i := 0; i < vectors.Rows(); i++ {
			assert.Equal(t, int32(Nearest(vectors.Row(i), res.Centroids)), res.Assignment[i], "iters=%d ordinal=%d", iters, i)
		}
	}
}

func TestPartitionDeterministic(t *testing.T) {
	vectors := blobs(t)
	opts := Options{NClusters: 3, MaxIterations: 4, Seed: 42}

	a, err := Partition(context.Background(), vectors, opts)
	require.NoError(t, err)
	opts.Workers = 1
	b, err := Partition(context.Background(), vectors, opts)
	require.NoError(t, err)

	assert.Equal(t, a.Centroids.Data, b.Centroids.Data)
	assert.Equal(t, a.Assignment, b.Assignment)
}

func TestPartitionRandomInit(t *testing.T) {
	res, err := Partition(context.Background(), blobs(t), Options{NClusters: 2, MaxIterations: 5, Init: InitRandom, Seed: 3})
	require.NoError(t, err)
	assert.Equal(t, 8, res.Sizes[0]+res.Sizes[1])
}

func TestPartitionAllowsEmptyClusters(t *testing.T) {
	// Identical vectors leave every seed centroid in the same place, so the
	// tie-break sends every vector to cluster 0.
	vectors, err := vector.FromRows([][]float32{{1, 1}, {1, 1}, {1, 1}, {1, 1}})
	require.NoError(t, err)

	res, err := Partition(context.Background(), vectors, Options{NClusters: 2, MaxIterations: 3})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 0}, res.Sizes)
	assert.Equal(t, []int32{0, 0, 0, 0}, res.Assignment)
}

func TestPartitionSpherical(t *testing.T) {
	vectors, err := vector.FromRows([][]float32{{3, 0}, {5, 0.1}, {0, 2}, {0.1, 7}})
	require.NoError(t, err)
	original := append([]float32(nil), vectors.Data...)

	res, err := Partition(context.Background(), vectors, Options{NClusters: 2, Spherical: true, MaxIterations: 5, Seed: 9})
	require.NoError(t, err)

	for j := 0; j < res.Centroids.Rows(); j++ {
		assert.InDelta(t, 1.0, float64(vector.Norm(res.Centroids.Row(j))), 1e-5)
	}
	assert.Equal(t, res.Assignment[0], res.Assignment[1])
	assert.Equal(t, res.Assignment[2], res.Assignment[3])
	assert.NotEqual(t, res.Assignment[0], res.Assignment[2])
	// The caller's vectors are not normalized in place.
	assert.Equal(t, original, vectors.Data)
}

func TestPartitionInvalidInput(t *testing.T) {
	vectors := blobs(t)

	_, err := Partition(context.Background(), vectors, Options{NClusters: 9, MaxIterations: 1})
	assert.ErrorIs(t, err, ErrTooManyClusters)
	assert.ErrorIs(t, err, vector.ErrInvalidInput)

	_, err = Partition(context.Background(), vectors, Options{NClusters: 0})
	assert.ErrorIs(t, err, vector.ErrInvalidInput)

	_, err = Partition(context.Background(), &vector.Matrix{Dims: 2}, Options{NClusters: 1})
	assert.ErrorIs(t, err, ErrNoVectors)

	_, err = Partition(context.Background(), vectors, Options{NClusters: 2, Init: "bogus"})
	assert.ErrorIs(t, err, vector.ErrInvalidInput)

	bad := &vector.Matrix{Dims: 1, Data: []float32{1, float32(math.NaN())}}
	_, err = Partition(context.Background(), bad, Options{NClusters: 1})
	assert.ErrorIs(t, err, vector.ErrInvalidDType)
}

func TestPartitionCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Partition(ctx, blobs(t), Options{NClusters: 2, MaxIterations: 3})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNearestTieBreak(t *testing.T) {
	centroids, err := vector.FromRows([][]float32{{-1}, {1}, {-1}})
	require.NoError(t, err)
	assert.Equal(t, 0, Nearest([]float32{0}, centroids))
	assert.Equal(t, 0, Nearest([]float32{-1}, centroids))
	assert.Equal(t, 1, Nearest([]float32{0.5}, centroids))
}
