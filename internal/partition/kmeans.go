// Package partition clusters a vector set into centroids and a per-vector
// cluster assignment using Lloyd's algorithm.
package partition

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/vexsearch/vexroute/internal/vector"
)

// Init selects how the initial centroids are chosen.
type Init string

const (
	// InitKMeansPlusPlus samples centroids with probability proportional to
	// the squared distance to the nearest already-chosen centroid.
	InitKMeansPlusPlus Init = "kmeans++"
	// InitRandom picks distinct random vectors as centroids.
	InitRandom Init = "random"
)

// IsValid returns true if the init strategy is recognized.
func (i Init) IsValid() bool {
	switch i {
	case InitKMeansPlusPlus, InitRandom:
		return true
	default:
		return false
	}
}

// DefaultMaxIterations matches the reference runs, which stop after a single
// refinement pass on large corpora.
const DefaultMaxIterations = 1

var (
	// ErrNoVectors is returned when attempting to partition an empty set.
	ErrNoVectors = fmt.Errorf("%w: no vectors to partition", vector.ErrInvalidInput)

	// ErrTooManyClusters is returned when n_clusters exceeds the number of vectors.
	ErrTooManyClusters = fmt.Errorf("%w: more clusters than vectors", vector.ErrInvalidInput)
)

// Options configures a partition run.
type Options struct {
	// NClusters is the number of centroids to produce.
	NClusters int
	// Spherical normalizes vectors and centroids to unit length so that
	// Euclidean distance approximates cosine similarity.
	Spherical bool
	// MaxIterations bounds the number of Lloyd iterations. Convergence is not
	// assumed; 0 keeps the initial centroids.
	MaxIterations int
	// Seed drives centroid initialization.
	Seed int64
	// Init selects the initialization strategy. Empty means k-means++.
	Init Init
	// Workers bounds the goroutines used by the assignment step.
	// 0 means GOMAXPROCS.
	Workers int
}

// DefaultOptions returns options for nClusters with the default settings.
func DefaultOptions(nClusters int) Options {
	return Options{
		NClusters:     nClusters,
		MaxIterations: DefaultMaxIterations,
		Init:          InitKMeansPlusPlus,
	}
}

// Result holds the output of a partition run.
type Result struct {
	// Centroids is the n_clusters x D centroid set; row i is cluster i.
	Centroids *vector.Matrix
	// Assignment maps each vector ordinal to its cluster id.
	Assignment []int32
	// Iterations is the number of Lloyd iterations that were executed.
	Iterations int
	// Sizes holds the member count of every cluster. Zero is allowed.
	Sizes []int
}

// NumClusters returns the number of centroids.
func (r *Result) NumClusters() int {
	return r.Centroids.Rows()
}

func (o Options) validate(n int) error {
	if n == 0 {
		return ErrNoVectors
	}
	if o.NClusters <= 0 {
		return fmt.Errorf("%w: n_clusters must be positive, got %d", vector.ErrInvalidInput, o.NClusters)
	}
	if o.NClusters > n {
		return fmt.Errorf("%w: n_clusters=%d, n=%d", ErrTooManyClusters, o.NClusters, n)
	}
	if o.MaxIterations < 0 {
		return fmt.Errorf("%w: max_iterations must not be negative, got %d", vector.ErrInvalidInput, o.MaxIterations)
	}
	if o.Init != "" && !o.Init.IsValid() {
		return fmt.Errorf("%w: unknown init %q", vector.ErrInvalidInput, o.Init)
	}
	return nil
}

// Partition runs Lloyd's algorithm over vectors.
//
// Each iteration assigns every vector to its nearest centroid by squared L2
// distance (ties go to the lowest cluster id) and recomputes each centroid as
// the mean of its members. Clusters that lose all members keep their previous
// centroid and stay empty. The returned assignment is always consistent with
// the returned centroids.
func Partition(ctx context.Context, vectors *vector.Matrix, opts Options) (*Result, error) {
	n := vectors.Rows()
	if err := opts.validate(n); err != nil {
		return nil, err
	}
	if err := vectors.Validate(); err != nil {
		return nil, err
	}

	data := vectors
	if opts.Spherical {
		data = vectors.Clone()
		vector.NormalizeRows(data)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	var centroids *vector.Matrix
	switch opts.Init {
	case InitRandom:
		centroids = initRandom(data, opts.NClusters, rng)
	default:
		centroids = initKMeansPlusPlus(data, opts.NClusters, rng)
	}
	if opts.Spherical {
		vector.NormalizeRows(centroids)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	assignment := make([]int32, n)
	for i := range assignment {
		assignment[i] = -1
	}

	iterations := 0
	for iter := 0; iter < opts.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		changed, err := assign(ctx, data, centroids, assignment, workers)
		if err != nil {
			return nil, err
		}
		if !changed {
			break
		}
		update(data, centroids, assignment)
		if opts.Spherical {
			vector.NormalizeRows(centroids)
		}
		iterations++
	}

	if _, err := assign(ctx, data, centroids, assignment, workers); err != nil {
		return nil, err
	}

	return &Result{
		Centroids:  centroids,
		Assignment: assignment,
		Iterations: iterations,
		Sizes:      ClusterSizes(assignment, opts.NClusters),
	}, nil
}

// Nearest returns the id of the centroid closest to vec.
// Ties go to the lowest id.
func Nearest(vec []float32, centroids *vector.Matrix) int {
	best := 0
	bestDist := float32(math.Inf(1))
	for j := 0; j < centroids.Rows(); j++ {
		if d := vector.SquaredL2(vec, centroids.Row(j)); d < bestDist {
			bestDist = d
			best = j
		}
	}
	return best
}

// assign writes the nearest centroid of every vector into assignment and
// reports whether any entry changed. Workers own disjoint ordinal ranges, so
// the result is identical to a sequential pass.
func assign(ctx context.Context, data, centroids *vector.Matrix, assignment []int32, workers int) (bool, error) {
	n := data.Rows()
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers
	changed := make([]bool, workers)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := min(start+chunk, n)
		if start >= end {
			continue
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				if i%4096 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				c := int32(Nearest(data.Row(i), centroids))
				if assignment[i] != c {
					assignment[i] = c
					changed[w] = true
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}

	for _, c := range changed {
		if c {
			return true, nil
		}
	}
	return false, nil
}

// update recomputes every non-empty centroid as the mean of its members.
func update(data, centroids *vector.Matrix, assignment []int32) {
	k := centroids.Rows()
	sums := vector.Zeros(k, data.Dims)
	counts := make([]int, k)
	for i, c := range assignment {
		vector.AddInto(sums.Row(int(c)), data.Row(i))
		counts[c]++
	}
	for j := 0; j < k; j++ {
		if counts[j] == 0 {
			continue
		}
		row := sums.Row(j)
		vector.Scale(row, 1/float32(counts[j]))
		copy(centroids.Row(j), row)
	}
}

// initKMeansPlusPlus chooses k centroids with k-means++ seeding.
func initKMeansPlusPlus(data *vector.Matrix, k int, rng *rand.Rand) *vector.Matrix {
	n := data.Rows()
	centroids := vector.Zeros(k, data.Dims)

	idx := rng.Intn(n)
	copy(centroids.Row(0), data.Row(idx))

	// minDist[j] is the squared distance from vector j to its nearest chosen centroid.
	minDist := make([]float64, n)
	for j := 0; j < n; j++ {
		minDist[j] = float64(vector.SquaredL2(data.Row(j), centroids.Row(0)))
	}

	for i := 1; i < k; i++ {
		var total float64
		for _, d := range minDist {
			total += d
		}

		if total == 0 {
			idx = rng.Intn(n)
		} else {
			target := rng.Float64() * total
			var cumulative float64
			idx = n - 1
			for j, d := range minDist {
				cumulative += d
				if cumulative >= target {
					idx = j
					break
				}
			}
		}

		copy(centroids.Row(i), data.Row(idx))
		for j := 0; j < n; j++ {
			if d := float64(vector.SquaredL2(data.Row(j), centroids.Row(i))); d < minDist[j] {
				minDist[j] = d
			}
		}
	}
	return centroids
}

// initRandom picks k distinct random vectors as centroids.
func initRandom(data *vector.Matrix, k int, rng *rand.Rand) *vector.Matrix {
	centroids := vector.Zeros(k, data.Dims)
	perm := rng.Perm(data.Rows())
	for i := 0; i < k; i++ {
		copy(centroids.Row(i), data.Row(perm[i]))
	}
	return centroids
}

// ClusterSizes counts the members of each of k clusters.
func ClusterSizes(assignment []int32, k int) []int {
	sizes := make([]int, k)
	for _, c := range assignment {
		sizes[c]++
	}
	return sizes
}
