// Package query executes routed k-nearest-neighbor queries against a
// partitioned index.
//
// A query is routed to a handful of clusters, each probed cluster is scanned
// exhaustively, and the per-cluster candidates are merged into one ranked
// list. Batch runs many queries in parallel while keeping each query's
// failure to itself.
package query

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/RoaringBitmap/roaring"
	"golang.org/x/sync/errgroup"

	"github.com/vexsearch/vexroute/internal/index"
	"github.com/vexsearch/vexroute/internal/logging"
	"github.com/vexsearch/vexroute/internal/metrics"
	"github.com/vexsearch/vexroute/internal/routing"
	"github.com/vexsearch/vexroute/internal/vector"
)

// ErrNoIndex is returned when the engine's holder has no index published.
var ErrNoIndex = errors.New("no index loaded")

// Result is the outcome of one query in a batch.
type Result struct {
	// Index is the query's position in its query set.
	Index int
	// Ordinals are the merged top-k ordinals, nearest first.
	Ordinals []int32
	// Neighbors carry the same hits with their distances.
	Neighbors []index.Neighbor
	// Probed lists the clusters the router selected, in routing order.
	Probed []int
	// Scanned counts the cluster members compared against the query.
	Scanned int
	// Err is set when the query failed; the other fields are then empty.
	Err error
}

// Failed reports whether the query produced an error.
func (r Result) Failed() bool { return r.Err != nil }

// Option configures an Engine.
type Option func(*Engine)

// WithLimiter bounds the number of in-flight queries per router. Engines
// sharing a limiter share its slots.
func WithLimiter(l *ConcurrencyLimiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// Engine answers queries over the index published in a Holder. It holds no
// mutable state of its own and is safe for concurrent use.
type Engine struct {
	holder  *index.Holder
	router  routing.Router
	logger  *logging.Logger
	limiter *ConcurrencyLimiter
}

// NewEngine returns an engine over a fixed index.
func NewEngine(idx *index.PartitionedIndex, router routing.Router, logger *logging.Logger, opts ...Option) *Engine {
	return NewHolderEngine(index.NewHolder(idx), router, logger, opts...)
}

// NewHolderEngine returns an engine that reads whichever index h currently
// publishes. Each query loads the index once, so a swap never splits a query
// across two indexes.
func NewHolderEngine(h *index.Holder, router routing.Router, logger *logging.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.Discard()
	}
	e := &Engine{
		holder: h,
		router: router,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Router returns the engine's router.
func (e *Engine) Router() routing.Router { return e.router }

// Query returns up to k nearest neighbors of q among the clusters the router
// selects for it, nearest first with ties broken by ordinal. When the probed
// clusters hold fewer than k vectors the list is shorter than k.
func (e *Engine) Query(ctx context.Context, q routing.Query, k, width int) ([]index.Neighbor, error) {
	res := e.execute(ctx, q, k, width)
	return res.Neighbors, res.Err
}

// Batch runs every query with at most workers in flight and returns one
// Result per query in input order. A failing query is recorded in its Result
// and logged with the run id carried by ctx; it never stops the others. Once
// ctx is done the queries not yet started fail with the context error. A
// non-positive workers uses GOMAXPROCS.
func (e *Engine) Batch(ctx context.Context, queries []routing.Query, k, width, workers int) []Result {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([]Result, len(queries))
	ctx = logging.ContextWithRouter(ctx, e.router.Name())
	logger := e.logger.WithContext(ctx)

	var g errgroup.Group
	g.SetLimit(workers)
	for i, q := range queries {
		if err := ctx.Err(); err != nil {
			results[i] = Result{Index: q.Index, Err: err}
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = Result{Index: q.Index, Err: err}
				return nil
			}
			results[i] = e.execute(ctx, q, k, width)
			if err := results[i].Err; err != nil {
				logger.Warn("query failed", "query_index", q.Index, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

type scanStats struct {
	scanned     int
	emptyProbes int
}

func (e *Engine) execute(ctx context.Context, q routing.Query, k, width int) Result {
	start := time.Now()
	res := Result{Index: q.Index}

	var st scanStats
	res.Neighbors, res.Probed, st, res.Err = e.run(ctx, q, k, width)
	metrics.ObserveQuery(e.router.Name(), time.Since(start).Seconds(), st.scanned, st.emptyProbes, res.Err)
	if res.Err != nil {
		res.Neighbors, res.Probed = nil, nil
		return res
	}

	res.Scanned = st.scanned
	res.Ordinals = make([]int32, len(res.Neighbors))
	for i, n := range res.Neighbors {
		res.Ordinals[i] = n.Ordinal
	}
	return res
}

func (e *Engine) run(ctx context.Context, q routing.Query, k, width int) ([]index.Neighbor, []int, scanStats, error) {
	var st scanStats
	if k <= 0 {
		return nil, nil, st, fmt.Errorf("%w: k must be positive, got %d", vector.ErrInvalidInput, k)
	}
	idx := e.holder.Load()
	if idx == nil {
		return nil, nil, st, ErrNoIndex
	}
	if err := vector.CheckDims(q.Vector, idx.Dims()); err != nil {
		return nil, nil, st, fmt.Errorf("query %d: %w", q.Index, err)
	}

	if e.limiter != nil {
		release, err := e.limiter.Acquire(ctx, e.router.Name())
		if err != nil {
			return nil, nil, st, err
		}
		defer release()
	}

	probed, err := e.router.Route(q, width)
	if err != nil {
		return nil, nil, st, fmt.Errorf("route query %d: %w", q.Index, err)
	}

	candidates := make([]index.Neighbor, 0, k*len(probed))
	for _, c := range probed {
		size, err := idx.ClusterSize(c)
		if err != nil {
			return nil, nil, st, fmt.Errorf("query %d: %w", q.Index, err)
		}
		if size == 0 {
			st.emptyProbes++
			continue
		}
		hits, err := idx.SearchInCluster(c, q.Vector, k)
		if err != nil {
			return nil, nil, st, fmt.Errorf("query %d: %w", q.Index, err)
		}
		st.scanned += size
		candidates = append(candidates, hits...)
	}
	return mergeTopK(candidates, k), probed, st, nil
}

// mergeTopK ranks candidates from several clusters, drops repeated ordinals
// and keeps the first k. Candidates is reordered in place.
func mergeTopK(candidates []index.Neighbor, k int) []index.Neighbor {
	index.SortNeighbors(candidates)
	seen := roaring.New()
	out := make([]index.Neighbor, 0, min(k, len(candidates)))
	for _, n := range candidates {
		if len(out) == k {
			break
		}
		if seen.CheckedAdd(uint32(n.Ordinal)) {
			out = append(out, n)
		}
	}
	return out
}
