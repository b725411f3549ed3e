package partition

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/vexsearch/vexroute/internal/vector"
)

// Source describes where the (centroids, assignment) pair of an index comes
// from. It is either Precomputed, NeedsComputation or RandomPartition.
type Source interface {
	// Resolve returns a validated partition of vectors.
	Resolve(ctx context.Context, vectors *vector.Matrix) (*Result, error)
	isSource()
}

// Precomputed is a partition produced elsewhere, e.g. by an offline GPU
// clustering job.
type Precomputed struct {
	Centroids  *vector.Matrix
	Assignment []int32
}

// NeedsComputation runs Partition with the given options.
type NeedsComputation struct {
	Options Options
}

// RandomPartition assigns vectors to clusters uniformly at random and uses
// member means as centroids. It is the untrained baseline.
type RandomPartition struct {
	NClusters int
	Spherical bool
	Seed      int64
}

func (Precomputed) isSource()      {}
func (NeedsComputation) isSource() {}
func (RandomPartition) isSource()  {}

// Resolve validates the precomputed partition against vectors.
func (p Precomputed) Resolve(_ context.Context, vectors *vector.Matrix) (*Result, error) {
	if p.Centroids == nil || p.Centroids.Rows() == 0 {
		return nil, fmt.Errorf("%w: precomputed partition has no centroids", vector.ErrInvalidInput)
	}
	if p.Centroids.Dims != vectors.Dims {
		return nil, fmt.Errorf("centroids: %w", &vector.DimensionError{Expected: vectors.Dims, Actual: p.Centroids.Dims})
	}
	if err := ValidateAssignment(p.Assignment, vectors.Rows(), p.Centroids.Rows()); err != nil {
		return nil, err
	}
	k := p.Centroids.Rows()
	return &Result{
		Centroids:  p.Centroids,
		Assignment: p.Assignment,
		Sizes:      ClusterSizes(p.Assignment, k),
	}, nil
}

// Resolve runs the partitioner.
func (c NeedsComputation) Resolve(ctx context.Context, vectors *vector.Matrix) (*Result, error) {
	return Partition(ctx, vectors, c.Options)
}

// Resolve draws a random assignment and computes its centroids.
func (r RandomPartition) Resolve(_ context.Context, vectors *vector.Matrix) (*Result, error) {
	n := vectors.Rows()
	if err := (Options{NClusters: r.NClusters}).validate(n); err != nil {
		return nil, err
	}
	data := vectors
	if r.Spherical {
		data = vectors.Clone()
		vector.NormalizeRows(data)
	}
	assignment := RandomAssignment(n, r.NClusters, r.Seed)
	centroids, err := ComputeCentroids(data, assignment, r.NClusters)
	if err != nil {
		return nil, err
	}
	if r.Spherical {
		vector.NormalizeRows(centroids)
	}
	return &Result{
		Centroids:  centroids,
		Assignment: assignment,
		Sizes:      ClusterSizes(assignment, r.NClusters),
	}, nil
}

// RandomAssignment assigns n ordinals to k clusters uniformly at random.
func RandomAssignment(n, k int, seed int64) []int32 {
	rng := rand.New(rand.NewSource(seed))
	assignment := make([]int32, n)
	for i := range assignment {
		assignment[i] = int32(rng.Intn(k))
	}
	return assignment
}

// ComputeCentroids returns the member mean of each of k clusters.
// Empty clusters get a zero centroid.
func ComputeCentroids(vectors *vector.Matrix, assignment []int32, k int) (*vector.Matrix, error) {
	if err := ValidateAssignment(assignment, vectors.Rows(), k); err != nil {
		return nil, err
	}
	centroids := vector.Zeros(k, vectors.Dims)
	update(vectors, centroids, assignment)
	return centroids, nil
}

// ValidateAssignment checks that assignment covers n ordinals with ids in [0, k).
func ValidateAssignment(assignment []int32, n, k int) error {
	if len(assignment) != n {
		return fmt.Errorf("%w: assignment has %d entries for %d vectors", vector.ErrInvalidInput, len(assignment), n)
	}
	for i, c := range assignment {
		if c < 0 || int(c) >= k {
			return fmt.Errorf("%w: ordinal %d assigned to cluster %d, n_clusters=%d", vector.ErrOutOfRange, i, c, k)
		}
	}
	return nil
}
