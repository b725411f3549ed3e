package dataset

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/vexsearch/vexroute/internal/index"
	"github.com/vexsearch/vexroute/internal/vector"
	"github.com/vexsearch/vexroute/pkg/objectstore"
)

// Object names written by ExportClusters under the export prefix.
const (
	ReverseIndexName = "reverse_index.json"
	MetadataName     = "metadata.json"
)

// ClusterKey returns the key of cluster c's CSV under prefix.
func ClusterKey(prefix string, c int) string {
	return fmt.Sprintf("%scluster_%d.csv", prefix, c)
}

// ExportOptions controls ExportClusters.
type ExportOptions struct {
	Text TextOptions
	// Workers bounds concurrent uploads; non-positive uses GOMAXPROCS.
	Workers int
}

// ExportResult lists what ExportClusters wrote.
type ExportResult struct {
	Keys          []string
	BytesUploaded int64
	Metadata      Metadata
}

// ExportClusters writes every cluster's vectors as a text CSV, members in
// ascending ordinal order, together with the reverse index and metadata
// needed to address vectors by (cluster, position). Empty clusters get a
// header-only file so cluster ids stay dense.
func ExportClusters(ctx context.Context, store objectstore.Store, prefix string, idx *index.PartitionedIndex, opts ExportOptions) (*ExportResult, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	md := MetadataFor(idx)
	if opts.Text.Quantized {
		md.PrecBits = opts.Text.PrecBits
	}
	res := &ExportResult{Metadata: md}
	var uploaded atomic.Int64

	put := func(ctx context.Context, key string, data []byte, contentType string) error {
		if _, err := objectstore.PutBytes(ctx, store, key, data, contentType); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		uploaded.Add(int64(len(data)))
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for c := 0; c < idx.NumClusters(); c++ {
		key := ClusterKey(prefix, c)
		res.Keys = append(res.Keys, key)
		g.Go(func() error {
			data, err := clusterCSV(idx, c, opts.Text)
			if err != nil {
				return fmt.Errorf("cluster %d: %w", c, err)
			}
			return put(gctx, key, data, "text/csv")
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rev, err := BuildReverseIndex(idx)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := rev.WriteJSON(&buf); err != nil {
		return nil, err
	}
	revKey := prefix + ReverseIndexName
	if err := put(ctx, revKey, buf.Bytes(), "application/json"); err != nil {
		return nil, err
	}

	buf.Reset()
	if err := WriteMetadata(&buf, md); err != nil {
		return nil, err
	}
	mdKey := prefix + MetadataName
	if err := put(ctx, mdKey, buf.Bytes(), "application/json"); err != nil {
		return nil, err
	}

	res.Keys = append(res.Keys, revKey, mdKey)
	res.BytesUploaded = uploaded.Load()
	return res, nil
}

func clusterCSV(idx *index.PartitionedIndex, c int, opts TextOptions) ([]byte, error) {
	members, err := idx.ClusterMembers(c)
	if err != nil {
		return nil, err
	}
	m := vector.Zeros(len(members), idx.Dims())
	for i, ord := range members {
		v, err := idx.Vector(ord)
		if err != nil {
			return nil, err
		}
		copy(m.Row(i), v)
	}
	var buf bytes.Buffer
	if err := WriteTextVectors(&buf, m, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
