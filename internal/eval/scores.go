// Package eval scores search answers against exact ground truth.
package eval

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/vexsearch/vexroute/internal/index"
	"github.com/vexsearch/vexroute/internal/vector"
)

// RecallAtK is the mean over queries of |answers[i][:k] ∩ gt[i][:k]| / k.
// Rows shorter than k are compared as they are; a short answer row can only
// lose recall. Zero queries score 0.
func RecallAtK(answers, groundTruth [][]int32, k int) (float64, error) {
	return recallAtK(answers, groundTruth, k)
}

// MRRAtK is the mean reciprocal rank of each query's true nearest neighbor
// gt[i][0] within answers[i][:k]; a miss scores 0. Zero queries score 0.
func MRRAtK(answers, groundTruth [][]int32, k int) (float64, error) {
	return mrrAtK(answers, groundTruth, k)
}

// PairRecallAtK is RecallAtK over (cluster, position) addresses.
func PairRecallAtK(answers, groundTruth [][]index.Location, k int) (float64, error) {
	return recallAtK(answers, groundTruth, k)
}

// PairMRRAtK is MRRAtK over (cluster, position) addresses.
func PairMRRAtK(answers, groundTruth [][]index.Location, k int) (float64, error) {
	return mrrAtK(answers, groundTruth, k)
}

func checkShape(nAnswers, nTruth, k int) error {
	if k <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", vector.ErrInvalidInput, k)
	}
	if nAnswers != nTruth {
		return fmt.Errorf("%w: %d answer rows for %d ground truth rows", vector.ErrInvalidInput, nAnswers, nTruth)
	}
	return nil
}

func head[T any](row []T, k int) []T {
	return row[:min(k, len(row))]
}

func recallAtK[T comparable](answers, groundTruth [][]T, k int) (float64, error) {
	if err := checkShape(len(answers), len(groundTruth), k); err != nil {
		return 0, err
	}
	if len(answers) == 0 {
		return 0, nil
	}

	scores := make([]float64, len(answers))
	for i := range answers {
		truth := make(map[T]struct{}, k)
		for _, id := range head(groundTruth[i], k) {
			truth[id] = struct{}{}
		}
		hits := 0
		for _, id := range head(answers[i], k) {
			if _, ok := truth[id]; ok {
				hits++
				delete(truth, id)
			}
		}
		scores[i] = float64(hits) / float64(k)
	}
	return stat.Mean(scores, nil), nil
}

func mrrAtK[T comparable](answers, groundTruth [][]T, k int) (float64, error) {
	if err := checkShape(len(answers), len(groundTruth), k); err != nil {
		return 0, err
	}
	if len(answers) == 0 {
		return 0, nil
	}

	scores := make([]float64, len(answers))
	for i := range answers {
		if len(groundTruth[i]) == 0 {
			return 0, fmt.Errorf("%w: query %d has no ground truth", vector.ErrInvalidInput, i)
		}
		relevant := groundTruth[i][0]
		for rank, id := range head(answers[i], k) {
			if id == relevant {
				scores[i] = 1 / float64(rank+1)
				break
			}
		}
	}
	return stat.Mean(scores, nil), nil
}

// RoutingAccuracy is the fraction of queries whose probe list contains the
// cluster holding their true top-1 neighbor.
func RoutingAccuracy(routes [][]int, labels []int32) (float64, error) {
	if len(routes) != len(labels) {
		return 0, fmt.Errorf("%w: %d routes for %d labels", vector.ErrInvalidInput, len(routes), len(labels))
	}
	if len(routes) == 0 {
		return 0, nil
	}

	hits := make([]float64, len(routes))
	for i, probed := range routes {
		for _, c := range probed {
			if c == int(labels[i]) {
				hits[i] = 1
				break
			}
		}
	}
	return stat.Mean(hits, nil), nil
}
