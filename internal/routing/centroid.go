package routing

import (
	"fmt"
	"sort"

	"github.com/vexsearch/vexroute/internal/vector"
)

// CentroidRouter probes the clusters whose centroids are closest to the
// query. It is the geometric baseline the learned router is measured against.
type CentroidRouter struct {
	centroids *vector.Matrix
}

// NewCentroidRouter returns a router over centroids. The matrix is not
// copied and must not be modified afterwards.
func NewCentroidRouter(centroids *vector.Matrix) (*CentroidRouter, error) {
	if centroids == nil || centroids.Rows() == 0 {
		return nil, fmt.Errorf("%w: centroid router requires at least one centroid", vector.ErrInvalidInput)
	}
	return &CentroidRouter{centroids: centroids}, nil
}

func (r *CentroidRouter) Name() string { return NameCentroid }

// Route returns the width nearest centroids by squared L2 distance, ascending,
// ties broken by lower cluster id. Width is clamped to the cluster count.
func (r *CentroidRouter) Route(q Query, width int) ([]int, error) {
	if err := checkWidth(width); err != nil {
		return nil, err
	}
	if err := vector.CheckDims(q.Vector, r.centroids.Dims); err != nil {
		return nil, err
	}

	k := r.centroids.Rows()
	width = min(width, k)
	if width == 1 {
		return []int{r.nearest(q.Vector)}, nil
	}

	type scored struct {
		id   int
		dist float32
	}
	all := make([]scored, k)
	for j := 0; j < k; j++ {
		all[j] = scored{id: j, dist: vector.SquaredL2(q.Vector, r.centroids.Row(j))}
	}
	sort.SliceStable(all, func(a, b int) bool { return all[a].dist < all[b].dist })

	out := make([]int, width)
	for i := range out {
		out[i] = all[i].id
	}
	return out, nil
}

func (r *CentroidRouter) nearest(q []float32) int {
	best := 0
	bestDist := vector.SquaredL2(q, r.centroids.Row(0))
	for j := 1; j < r.centroids.Rows(); j++ {
		if d := vector.SquaredL2(q, r.centroids.Row(j)); d < bestDist {
			best, bestDist = j, d
		}
	}
	return best
}
