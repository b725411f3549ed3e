package search

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/vexsearch/vexroute/internal/cli"
	"github.com/vexsearch/vexroute/internal/dataset"
	"github.com/vexsearch/vexroute/internal/eval"
	"github.com/vexsearch/vexroute/internal/index"
	"github.com/vexsearch/vexroute/internal/logging"
	"github.com/vexsearch/vexroute/internal/query"
	"github.com/vexsearch/vexroute/internal/routing"
)

type options struct {
	configPath      string
	runID           string
	queries         string
	assignedQueries string
	queryClusters   string
	quantized       bool
	groundTruth     string
	predictions     string
	labels          string
	router          string
	k               int
	width           int
	workers         int
	answers         string
	report          string
}

func Run(args []string) {
	ctx, cancel := cli.SignalContext()
	defer cancel()
	if err := run(ctx, args, os.Stdout, nil); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("search: %v", err)
	}
}

func parse(args []string) (*options, error) {
	var o options
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "Path to config file")
	fs.StringVar(&o.runID, "run", "", "Build run id to search (default: latest)")
	fs.StringVar(&o.queries, "queries", "", "Query vector file")
	fs.StringVar(&o.assignedQueries, "assigned-queries", "", "Query CSV whose rows start with a cluster id")
	fs.StringVar(&o.queryClusters, "query-clusters", "", "One cluster id per query, for the assigned router")
	fs.BoolVar(&o.quantized, "quantized", false, "Text query file carries a precision-bits line")
	fs.StringVar(&o.groundTruth, "ground-truth", "", "Ground truth neighbor ordinals; enables evaluation")
	fs.StringVar(&o.predictions, "predictions", "", "Ranked cluster predictions, one row per query")
	fs.StringVar(&o.labels, "labels", "", "Training labels; enables routing accuracy")
	fs.StringVar(&o.router, "router", routing.NameCentroid, "Router: baseline, learned or assigned")
	fs.IntVar(&o.k, "k", 0, "Neighbors per query (overrides config)")
	fs.IntVar(&o.width, "width", 0, "Clusters probed per query (overrides config)")
	fs.IntVar(&o.workers, "workers", 0, "Concurrent queries (overrides config)")
	fs.StringVar(&o.answers, "answers", "", "Write merged answers CSV to this file")
	fs.StringVar(&o.report, "report", "", "Write the evaluation report JSON to this file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if (o.queries == "") == (o.assignedQueries == "") {
		return nil, fmt.Errorf("exactly one of -queries and -assigned-queries is required")
	}
	switch o.router {
	case routing.NameCentroid, routing.NameAssigned:
	case routing.NameLearned:
		if o.predictions == "" {
			return nil, fmt.Errorf("-router=%s requires -predictions", routing.NameLearned)
		}
	default:
		return nil, fmt.Errorf("unknown router %q", o.router)
	}
	if o.router == routing.NameAssigned && o.assignedQueries == "" && o.queryClusters == "" {
		return nil, fmt.Errorf("-router=%s requires -assigned-queries or -query-clusters", routing.NameAssigned)
	}
	if o.report != "" && o.groundTruth == "" {
		return nil, fmt.Errorf("-report requires -ground-truth")
	}
	return &o, nil
}

func run(ctx context.Context, args []string, stdout, logOut io.Writer) error {
	o, err := parse(args)
	if err != nil {
		return err
	}
	env, err := cli.Setup(o.configPath, logOut)
	if err != nil {
		return err
	}
	defer env.ServeMetrics()()

	sc := env.Config.Search
	k, width, workers := sc.GetK(), sc.GetProbeWidth(), sc.Workers
	if o.k > 0 {
		k = o.k
	}
	if o.width > 0 {
		width = o.width
	}
	if o.workers > 0 {
		workers = o.workers
	}

	holder := index.NewHolder(nil)
	manifest, err := index.NewLoader(env.Store, env.Prefix()).LoadInto(ctx, holder, o.runID)
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}
	idx := holder.Load()
	logger := env.Logger.WithRouter(o.router)
	logger.Info("index loaded",
		"index_run_id", manifest.RunID,
		"n", idx.Len(),
		"n_clusters", idx.NumClusters(),
		"dims", idx.Dims(),
	)

	queries, err := loadQueries(o)
	if err != nil {
		return err
	}
	router, err := newRouter(o, idx, len(queries))
	if err != nil {
		return err
	}

	engine := query.NewHolderEngine(holder, router, env.Logger,
		query.WithLimiter(query.NewConcurrencyLimiter(sc.MaxConcurrent)))
	start := time.Now()
	results := engine.Batch(logging.ContextWithRunID(ctx, manifest.RunID), queries, k, width, workers)
	if err := ctx.Err(); err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	logger.Info("batch completed",
		"queries", len(results),
		"failed", failed,
		"k", k,
		"probe_width", width,
		"elapsed_ms", logging.Since(start),
	)

	if o.answers != "" {
		if err := writeAnswers(o.answers, results); err != nil {
			return err
		}
	}
	if o.groundTruth == "" {
		fmt.Fprintf(stdout, "queries=%d failed=%d\n", len(results), failed)
		return nil
	}

	report, err := evaluate(o, results, k)
	if err != nil {
		return err
	}
	report.RunID = manifest.RunID
	report.Router = router.Name()
	report.ProbeWidth = width
	report.Publish()
	logger.Info("evaluation completed",
		"recall", report.Recall,
		"mrr", report.MRR,
		"mean_probed", report.MeanProbed,
		"succeeded", report.Succeeded,
	)

	if o.report != "" {
		f, err := dataset.CreateFile(o.report)
		if err != nil {
			return err
		}
		if err := report.WriteJSON(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return report.WriteJSON(stdout)
}

func loadQueries(o *options) ([]routing.Query, error) {
	var queries []routing.Query
	if o.assignedQueries != "" {
		f, err := os.Open(o.assignedQueries)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if queries, err = dataset.ReadAssignedQueries(f); err != nil {
			return nil, fmt.Errorf("%s: %w", o.assignedQueries, err)
		}
	} else {
		m, err := dataset.LoadVectors(o.queries, dataset.TextOptions{Quantized: o.quantized})
		if err != nil {
			return nil, err
		}
		queries = dataset.Queries(m)
	}

	if o.queryClusters != "" {
		clusters, err := dataset.LoadAssignment(o.queryClusters)
		if err != nil {
			return nil, err
		}
		if err := dataset.AssignClusters(queries, clusters); err != nil {
			return nil, err
		}
	}
	return queries, nil
}

func newRouter(o *options, idx *index.PartitionedIndex, nQueries int) (routing.Router, error) {
	switch o.router {
	case routing.NameLearned:
		predictions, err := dataset.LoadOrdinals(o.predictions)
		if err != nil {
			return nil, err
		}
		r, err := routing.NewLearnedRouter(predictions, idx.NumClusters())
		if err != nil {
			return nil, err
		}
		if err := r.CheckAligned(nQueries); err != nil {
			return nil, err
		}
		return r, nil
	case routing.NameAssigned:
		return routing.NewAssignedRouter(idx.NumClusters()), nil
	default:
		return routing.NewCentroidRouter(idx.Centroids())
	}
}

func evaluate(o *options, results []query.Result, k int) (*eval.Report, error) {
	gt, err := dataset.LoadOrdinals(o.groundTruth)
	if err != nil {
		return nil, err
	}
	report, err := eval.Evaluate(results, gt, k)
	if err != nil {
		return nil, err
	}
	if o.labels != "" {
		labels, err := dataset.LoadAssignment(o.labels)
		if err != nil {
			return nil, err
		}
		if err := report.ScoreRouting(results, labels); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func writeAnswers(path string, results []query.Result) error {
	f, err := dataset.CreateFile(path)
	if err != nil {
		return err
	}
	if err := dataset.WriteAnswersCSV(f, results); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
