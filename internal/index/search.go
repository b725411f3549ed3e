package index

import (
	"container/heap"
	"fmt"
	"math"
	"sort"

	"github.com/vexsearch/vexroute/internal/partition"
	"github.com/vexsearch/vexroute/internal/vector"
)

// Neighbor is a search hit: an original vector ordinal and its Euclidean
// distance to the query.
type Neighbor struct {
	Ordinal  int32   `json:"ordinal"`
	Distance float32 `json:"distance"`
}

// Less orders neighbors by ascending distance, then by ascending ordinal.
func (n Neighbor) Less(o Neighbor) bool {
	if n.Distance != o.Distance {
		return n.Distance < o.Distance
	}
	return n.Ordinal < o.Ordinal
}

// SearchInCluster scans every member of cluster clusterID and returns the k
// nearest to query, ascending. A cluster with fewer than k members returns
// all of them; an empty cluster returns an empty result. Results are never
// padded.
func (idx *PartitionedIndex) SearchInCluster(clusterID int, query []float32, k int) ([]Neighbor, error) {
	if err := idx.checkCluster(clusterID); err != nil {
		return nil, err
	}
	if err := vector.CheckDims(query, idx.Dims()); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", vector.ErrInvalidInput, k)
	}
	return idx.scan(clusterID, query, k), nil
}

// Search routes query to its nearest centroid and scans that cluster.
func (idx *PartitionedIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if err := vector.CheckDims(query, idx.Dims()); err != nil {
		return nil, err
	}
	return idx.SearchInCluster(partition.Nearest(query, idx.centroids), query, k)
}

// scan keeps the k best members of one cluster in a bounded max-heap keyed on
// squared distance, so no square root is taken until the survivors are known.
func (idx *PartitionedIndex) scan(c int, query []float32, k int) []Neighbor {
	start, end := idx.offsets[c], idx.offsets[c+1]
	if start == end {
		return []Neighbor{}
	}

	h := make(candidateHeap, 0, min(k, end-start))
	for pos := start; pos < end; pos++ {
		cand := Neighbor{
			Ordinal:  idx.sortedOrder[pos],
			Distance: vector.SquaredL2(query, idx.sortedVectors.Row(pos)),
		}
		if len(h) < k {
			heap.Push(&h, cand)
			continue
		}
		if cand.Less(h[0]) {
			h[0] = cand
			heap.Fix(&h, 0)
		}
	}

	out := make([]Neighbor, len(h))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(Neighbor)
	}
	for i := range out {
		out[i].Distance = float32(math.Sqrt(float64(out[i].Distance)))
	}
	return out
}

// candidateHeap is a max-heap: the root is the worst retained candidate.
type candidateHeap []Neighbor

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return h[j].Less(h[i]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(Neighbor)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// SortNeighbors sorts by ascending distance with ties broken by ordinal.
func SortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool { return ns[i].Less(ns[j]) })
}
