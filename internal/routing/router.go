// Package routing decides which clusters a query probes.
//
// A Router ranks clusters by how likely they are to hold the query's true
// nearest neighbors. CentroidRouter ranks by centroid distance, LearnedRouter
// looks up rankings produced offline by a trained classifier, and
// AssignedRouter follows a cluster id carried by the query itself.
package routing

import (
	"fmt"

	"github.com/vexsearch/vexroute/internal/vector"
)

// Router names as accepted by the command line and reported in metrics.
const (
	NameCentroid = "baseline"
	NameLearned  = "learned"
	NameAssigned = "assigned"
)

// Query is a routing request.
type Query struct {
	// Index is the position of the query in its query set. LearnedRouter
	// keys its predictions on it.
	Index int
	// Vector is the query embedding.
	Vector []float32
	// Cluster is a pre-assigned cluster id, meaningful when HasCluster is set.
	Cluster    int
	HasCluster bool
}

// Router returns up to width cluster ids for a query, most preferred first.
// Implementations are read-only after construction and safe for concurrent
// use.
type Router interface {
	Route(q Query, width int) ([]int, error)
	Name() string
}

func checkWidth(width int) error {
	if width <= 0 {
		return fmt.Errorf("%w: probe width must be positive, got %d", vector.ErrInvalidInput, width)
	}
	return nil
}

// AssignedRouter routes each query to the cluster id it carries.
type AssignedRouter struct {
	nClusters int
}

// NewAssignedRouter returns a router for queries labeled with cluster ids in
// [0, nClusters).
func NewAssignedRouter(nClusters int) *AssignedRouter {
	return &AssignedRouter{nClusters: nClusters}
}

func (r *AssignedRouter) Name() string { return NameAssigned }

// Route returns the query's own cluster. Width beyond 1 has no further
// clusters to offer.
func (r *AssignedRouter) Route(q Query, width int) ([]int, error) {
	if err := checkWidth(width); err != nil {
		return nil, err
	}
	if !q.HasCluster {
		return nil, fmt.Errorf("%w: query %d carries no cluster id", vector.ErrLookupFailure, q.Index)
	}
	if q.Cluster < 0 || q.Cluster >= r.nClusters {
		return nil, fmt.Errorf("%w: query %d assigned to cluster %d, n_clusters=%d", vector.ErrOutOfRange, q.Index, q.Cluster, r.nClusters)
	}
	return []int{q.Cluster}, nil
}
