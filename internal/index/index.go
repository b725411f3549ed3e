// Package index stores a vector set grouped by cluster so that one cluster's
// members occupy a contiguous range, and serves exact nearest-neighbor scans
// over a single cluster.
package index

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/vexsearch/vexroute/internal/partition"
	"github.com/vexsearch/vexroute/internal/vector"
)

// PartitionedIndex is immutable once built and safe for concurrent readers.
//
// Cluster c owns positions [offsets[c], offsets[c+1]) of sortedOrder and of
// the rows of sortedVectors. Within a cluster, members keep ascending
// original ordinal order.
type PartitionedIndex struct {
	centroids     *vector.Matrix
	sortedOrder   []int32
	sortedVectors *vector.Matrix
	offsets       []int
	// positions[ordinal] is the ordinal's position in sortedOrder.
	positions []int32
}

// Build groups vectors by their assigned cluster with a stable counting sort.
//
// An empty vector set is legal and yields all-zero offsets. Clusters without
// members get an empty range. Any validation failure returns a nil index.
func Build(vectors, centroids *vector.Matrix, assignment []int32) (*PartitionedIndex, error) {
	if centroids == nil || centroids.Rows() == 0 {
		return nil, fmt.Errorf("%w: index requires at least one centroid", vector.ErrInvalidInput)
	}
	if vectors == nil {
		vectors = &vector.Matrix{Dims: centroids.Dims}
	}
	if vectors.Dims != centroids.Dims {
		return nil, fmt.Errorf("centroids: %w", &vector.DimensionError{Expected: vectors.Dims, Actual: centroids.Dims})
	}
	if err := vectors.Validate(); err != nil {
		return nil, err
	}
	if err := centroids.Validate(); err != nil {
		return nil, fmt.Errorf("centroids: %w", err)
	}

	n := vectors.Rows()
	k := centroids.Rows()
	if err := partition.ValidateAssignment(assignment, n, k); err != nil {
		return nil, err
	}

	offsets := make([]int, k+1)
	for _, c := range assignment {
		offsets[c+1]++
	}
	for c := 0; c < k; c++ {
		offsets[c+1] += offsets[c]
	}

	cursor := make([]int, k)
	copy(cursor, offsets[:k])

	dims := vectors.Dims
	sortedOrder := make([]int32, n)
	positions := make([]int32, n)
	sorted := vector.Zeros(n, dims)
	for i, c := range assignment {
		pos := cursor[c]
		cursor[c]++
		sortedOrder[pos] = int32(i)
		positions[i] = int32(pos)
		copy(sorted.Row(pos), vectors.Row(i))
	}

	return &PartitionedIndex{
		centroids:     centroids.Clone(),
		sortedOrder:   sortedOrder,
		sortedVectors: sorted,
		offsets:       offsets,
		positions:     positions,
	}, nil
}

// BuildFromResult builds an index from a resolved partition.
func BuildFromResult(vectors *vector.Matrix, res *partition.Result) (*PartitionedIndex, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: nil partition result", vector.ErrInvalidInput)
	}
	return Build(vectors, res.Centroids, res.Assignment)
}

// Len returns the number of indexed vectors.
func (idx *PartitionedIndex) Len() int { return len(idx.sortedOrder) }

// Dims returns the vector dimensionality.
func (idx *PartitionedIndex) Dims() int { return idx.centroids.Dims }

// NumClusters returns the number of clusters, including empty ones.
func (idx *PartitionedIndex) NumClusters() int { return idx.centroids.Rows() }

// ClusterSize returns the member count of cluster c.
func (idx *PartitionedIndex) ClusterSize(c int) (int, error) {
	if err := idx.checkCluster(c); err != nil {
		return 0, err
	}
	return idx.offsets[c+1] - idx.offsets[c], nil
}

// ClusterOffsets returns a copy of the n_clusters+1 boundary array.
func (idx *PartitionedIndex) ClusterOffsets() []int {
	return append([]int(nil), idx.offsets...)
}

// SortedOrder returns a copy of the cluster-sorted ordinal permutation.
func (idx *PartitionedIndex) SortedOrder() []int32 {
	return append([]int32(nil), idx.sortedOrder...)
}

// ClusterMembers returns the ordinals of cluster c in storage order. The
// returned slice aliases index storage and must not be modified.
func (idx *PartitionedIndex) ClusterMembers(c int) ([]int32, error) {
	if err := idx.checkCluster(c); err != nil {
		return nil, err
	}
	return idx.sortedOrder[idx.offsets[c]:idx.offsets[c+1]], nil
}

// Centroids returns the centroid matrix. Callers must not modify it.
func (idx *PartitionedIndex) Centroids() *vector.Matrix { return idx.centroids }

// Vector returns the stored vector of an original ordinal.
func (idx *PartitionedIndex) Vector(ordinal int32) ([]float32, error) {
	if ordinal < 0 || int(ordinal) >= idx.Len() {
		return nil, fmt.Errorf("%w: ordinal %d, n=%d", vector.ErrOutOfRange, ordinal, idx.Len())
	}
	return idx.sortedVectors.Row(int(idx.positions[ordinal])), nil
}

// Position returns the cluster of an ordinal and its position within that
// cluster.
func (idx *PartitionedIndex) Position(ordinal int32) (cluster, pos int, err error) {
	if ordinal < 0 || int(ordinal) >= idx.Len() {
		return 0, 0, fmt.Errorf("%w: ordinal %d, n=%d", vector.ErrOutOfRange, ordinal, idx.Len())
	}
	p := int(idx.positions[ordinal])
	cluster = idx.clusterAt(p)
	return cluster, p - idx.offsets[cluster], nil
}

// Location addresses a vector by cluster and position within the cluster,
// the coordinates consumers of exported clusters use instead of ordinals.
type Location struct {
	Cluster  int32 `json:"cluster"`
	Position int32 `json:"position"`
}

// Locate returns the Location of an ordinal.
func (idx *PartitionedIndex) Locate(ordinal int32) (Location, error) {
	c, p, err := idx.Position(ordinal)
	if err != nil {
		return Location{}, err
	}
	return Location{Cluster: int32(c), Position: int32(p)}, nil
}

// clusterAt finds the cluster whose range contains sorted position p. Empty
// clusters share their boundary with the next one, so the search takes the
// last cluster starting at or before p.
func (idx *PartitionedIndex) clusterAt(p int) int {
	lo, hi := 0, idx.NumClusters()-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if idx.offsets[mid] <= p {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// Distance returns the Euclidean distance between query and the stored
// vector of ordinal.
func (idx *PartitionedIndex) Distance(ordinal int32, query []float32) (float32, error) {
	if err := vector.CheckDims(query, idx.Dims()); err != nil {
		return 0, err
	}
	v, err := idx.Vector(ordinal)
	if err != nil {
		return 0, err
	}
	return vector.L2(query, v), nil
}

func (idx *PartitionedIndex) checkCluster(c int) error {
	if c < 0 || c >= idx.NumClusters() {
		return fmt.Errorf("%w: cluster %d, n_clusters=%d", vector.ErrOutOfRange, c, idx.NumClusters())
	}
	return nil
}

// Stats summarizes the cluster size distribution.
type Stats struct {
	NumVectors    int     `json:"num_vectors"`
	NumClusters   int     `json:"num_clusters"`
	Dims          int     `json:"dims"`
	MinSize       int     `json:"min_cluster_size"`
	MaxSize       int     `json:"max_cluster_size"`
	MeanSize      float64 `json:"mean_cluster_size"`
	EmptyClusters int     `json:"empty_clusters"`
}

// Stats computes size statistics over all clusters.
func (idx *PartitionedIndex) Stats() Stats {
	k := idx.NumClusters()
	s := Stats{
		NumVectors:  idx.Len(),
		NumClusters: k,
		Dims:        idx.Dims(),
		MinSize:     math.MaxInt,
		MeanSize:    float64(idx.Len()) / float64(k),
	}
	for c := 0; c < k; c++ {
		size := idx.offsets[c+1] - idx.offsets[c]
		s.MinSize = min(s.MinSize, size)
		s.MaxSize = max(s.MaxSize, size)
		if size == 0 {
			s.EmptyClusters++
		}
	}
	return s
}

// Sizes returns the member count of every cluster.
func (idx *PartitionedIndex) Sizes() []int {
	sizes := make([]int, idx.NumClusters())
	for c := range sizes {
		sizes[c] = idx.offsets[c+1] - idx.offsets[c]
	}
	return sizes
}

// Fingerprint hashes the cluster-sorted layout and centroids. Two builds from
// identical inputs produce the same fingerprint.
func (idx *PartitionedIndex) Fingerprint() uint64 {
	h := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(idx.Dims()))
	binary.LittleEndian.PutUint32(buf[4:], uint32(idx.NumClusters()))
	h.Write(buf[:])
	for _, off := range idx.offsets {
		binary.LittleEndian.PutUint64(buf[:], uint64(off))
		h.Write(buf[:])
	}
	for _, ord := range idx.sortedOrder {
		binary.LittleEndian.PutUint32(buf[:4], uint32(ord))
		h.Write(buf[:4])
	}
	h.Write(float32Bytes(idx.sortedVectors.Data))
	h.Write(float32Bytes(idx.centroids.Data))
	return h.Sum64()
}

func float32Bytes(v []float32) []byte {
	out := make([]byte, 4*len(v))
	vector.PutFloat32s(out, v)
	return out
}
