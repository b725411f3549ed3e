package routing

import (
	"fmt"

	"github.com/vexsearch/vexroute/internal/vector"
)

// LearnedRouter serves cluster rankings predicted offline for a fixed query
// set. Routing is a pure lookup by query index; no distances are computed.
type LearnedRouter struct {
	predictions [][]int32
	nClusters   int
}

// NewLearnedRouter validates predictions, one ranked list per query in query
// order, against nClusters.
func NewLearnedRouter(predictions [][]int32, nClusters int) (*LearnedRouter, error) {
	if nClusters <= 0 {
		return nil, fmt.Errorf("%w: n_clusters must be positive, got %d", vector.ErrInvalidInput, nClusters)
	}
	for i, ranked := range predictions {
		if len(ranked) == 0 {
			return nil, fmt.Errorf("%w: query %d has an empty prediction", vector.ErrInvalidInput, i)
		}
		for _, c := range ranked {
			if c < 0 || int(c) >= nClusters {
				return nil, fmt.Errorf("%w: query %d predicts cluster %d, n_clusters=%d", vector.ErrOutOfRange, i, c, nClusters)
			}
		}
	}
	return &LearnedRouter{predictions: predictions, nClusters: nClusters}, nil
}

// NewLearnedRouterFromLabels wraps single-cluster predictions.
func NewLearnedRouterFromLabels(labels []int32, nClusters int) (*LearnedRouter, error) {
	predictions := make([][]int32, len(labels))
	for i := range labels {
		predictions[i] = labels[i : i+1]
	}
	return NewLearnedRouter(predictions, nClusters)
}

func (r *LearnedRouter) Name() string { return NameLearned }

// Len returns the number of queries the router has predictions for.
func (r *LearnedRouter) Len() int { return len(r.predictions) }

// CheckAligned verifies that the router holds exactly one prediction per
// query of a set of nQueries.
func (r *LearnedRouter) CheckAligned(nQueries int) error {
	if len(r.predictions) != nQueries {
		return fmt.Errorf("%w: %d predictions for %d queries", vector.ErrLookupFailure, len(r.predictions), nQueries)
	}
	return nil
}

// Route returns the first width clusters of the query's ranked prediction.
// A ranking shorter than width is returned whole.
func (r *LearnedRouter) Route(q Query, width int) ([]int, error) {
	if err := checkWidth(width); err != nil {
		return nil, err
	}
	if q.Index < 0 || q.Index >= len(r.predictions) {
		return nil, fmt.Errorf("%w: no prediction for query %d (have %d)", vector.ErrLookupFailure, q.Index, len(r.predictions))
	}
	ranked := r.predictions[q.Index]
	width = min(width, len(ranked))
	out := make([]int, width)
	for i := range out {
		out[i] = int(ranked[i])
	}
	return out, nil
}
