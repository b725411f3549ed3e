package routing

import (
	"fmt"

	"github.com/vexsearch/vexroute/internal/vector"
)

// TrainingLabels returns, for every query, the cluster that holds its true
// top-1 nearest neighbor. These are the targets a learned router is trained
// to predict.
func TrainingLabels(groundTruth [][]int32, assignment []int32) ([]int32, error) {
	labels := make([]int32, len(groundTruth))
	for i, gt := range groundTruth {
		if len(gt) == 0 {
			return nil, fmt.Errorf("%w: query %d has no ground truth", vector.ErrLookupFailure, i)
		}
		ord := gt[0]
		if ord < 0 || int(ord) >= len(assignment) {
			return nil, fmt.Errorf("%w: query %d neighbor %d not in assignment of %d vectors", vector.ErrLookupFailure, i, ord, len(assignment))
		}
		labels[i] = assignment[ord]
	}
	return labels, nil
}
