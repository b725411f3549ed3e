package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vexsearch/vexroute/internal/routing"
	"github.com/vexsearch/vexroute/internal/vector"
)

// Queries wraps the rows of m as routing queries indexed by row. The query
// vectors alias m.
func Queries(m *vector.Matrix) []routing.Query {
	qs := make([]routing.Query, m.Rows())
	for i := range qs {
		qs[i] = routing.Query{Index: i, Vector: m.Row(i)}
	}
	return qs
}

// AssignClusters attaches one cluster id per query, in query order.
func AssignClusters(qs []routing.Query, clusters []int32) error {
	if len(clusters) != len(qs) {
		return fmt.Errorf("%w: %d cluster ids for %d queries", vector.ErrLookupFailure, len(clusters), len(qs))
	}
	for i := range qs {
		qs[i].Cluster = int(clusters[i])
		qs[i].HasCluster = true
	}
	return nil
}

// ReadAssignedQueries reads headerless rows of `cluster_id,v0,...,vD-1`.
// Every row must carry the same dimension.
func ReadAssignedQueries(r io.Reader) ([]routing.Query, error) {
	cr := newCSVReader(r)
	cr.ReuseRecord = false

	var qs []routing.Query
	dims := -1
	for i := 0; ; i++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", vector.ErrInvalidInput, i, err)
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: row %d needs a cluster id and at least one value", vector.ErrInvalidInput, i)
		}
		if dims < 0 {
			dims = len(fields) - 1
		} else if len(fields)-1 != dims {
			return nil, fmt.Errorf("row %d: %w", i, &vector.DimensionError{Expected: dims, Actual: len(fields) - 1})
		}

		cluster, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: bad cluster id %q", vector.ErrInvalidInput, i, fields[0])
		}
		v := make([]float32, dims)
		for j, field := range fields[1:] {
			if v[j], err = parseFloat32(field); err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", i, j+1, err)
			}
		}
		qs = append(qs, routing.Query{Index: i, Vector: v, Cluster: cluster, HasCluster: true})
	}
	return qs, nil
}

// WriteAssignedQueries writes queries as `cluster_id,v0,...` rows with six
// decimals. Every query must carry a cluster id.
func WriteAssignedQueries(w io.Writer, qs []routing.Query) error {
	cw := csv.NewWriter(w)
	for _, q := range qs {
		if !q.HasCluster {
			return fmt.Errorf("%w: query %d carries no cluster id", vector.ErrLookupFailure, q.Index)
		}
		record := make([]string, 0, len(q.Vector)+1)
		record = append(record, strconv.Itoa(q.Cluster))
		for _, v := range q.Vector {
			record = append(record, strconv.FormatFloat(float64(v), 'f', 6, 32))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
