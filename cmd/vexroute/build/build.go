package build

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
	"github.com/vexsearch/vexroute/internal/index"
	"github.com/vexsearch/vexroute/internal/logging"
	"github.com/vexsearch/vexroute/internal/metrics"
	"github.com/vexsearch/vexroute/internal/partition"
	"github.com/vexsearch/vexroute/internal/vector"
)

type options struct {
	configPath    string
	vectors       string
	limit         int
	mmap          bool
	quantized     bool
	centroids     string
	assignment    string
	random        bool
	nClusters     int
	outCentroids  string
	outAssignment string
	outMetadata   string
}

func Run(args []string) {
	ctx, cancel := cli.SignalContext()
	defer cancel()
	if err := run(ctx, args, os.Stdout, nil); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("build: %v", err)
	}
}

func parse(args []string) (*options, error) {
	var o options
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "Path to config file")
	fs.StringVar(&o.vectors, "vectors", "", "Corpus vector file (.bin, .fvecs, .csv, .txt)")
	fs.IntVar(&o.limit, "limit", 0, "Use only the first n vectors (0 uses all)")
	fs.BoolVar(&o.mmap, "mmap", false, "Memory-map a .bin vector file instead of reading it")
	fs.BoolVar(&o.quantized, "quantized", false, "Text vector file carries a precision-bits line")
	fs.StringVar(&o.centroids, "centroids", "", "Precomputed centroid file (requires -assignment)")
	fs.StringVar(&o.assignment, "assignment", "", "Precomputed assignment file (requires -centroids)")
	fs.BoolVar(&o.random, "random", false, "Use a random partition instead of k-means")
	fs.IntVar(&o.nClusters, "n-clusters", 0, "Number of clusters (overrides config)")
	fs.StringVar(&o.outCentroids, "out-centroids", "", "Also write centroids to this file")
	fs.StringVar(&o.outAssignment, "out-assignment", "", "Also write the assignment to this file")
	fs.StringVar(&o.outMetadata, "out-metadata", "", "Also write index metadata JSON to this file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if o.vectors == "" {
		return nil, fmt.Errorf("-vectors is required")
	}
	if (o.centroids == "") != (o.assignment == "") {
		return nil, fmt.Errorf("-centroids and -assignment must be given together")
	}
	if o.centroids != "" && o.random {
		return nil, fmt.Errorf("-random cannot be combined with a precomputed partition")
	}
	if o.mmap && dataset.FormatOf(o.vectors) != dataset.FormatBinary {
		return nil, fmt.Errorf("-mmap requires a .bin vector file")
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

	if o.nClusters > 0 {
		env.Config.Partition.NClusters = o.nClusters
	}
	logger := env.Logger
	start := time.Now()

	vectors, closeVectors, err := loadVectors(o)
	if err != nil {
		return err
	}
	defer closeVectors()
	logger.Info("vectors loaded", "path", o.vectors, "n", vectors.Rows(), "dims", vectors.Dims)

	source, info, err := resolveSource(o, env)
	if err != nil {
		return err
	}

	phase := time.Now()
	res, err := source.Resolve(ctx, vectors)
	if err != nil {
		return fmt.Errorf("partition: %w", err)
	}
	metrics.ObserveBuildPhase("partition", time.Since(phase).Seconds())
	metrics.ObservePartition(res.Iterations, res.Sizes)
	info.Iterations = res.Iterations
	logger.Info("partition resolved",
		"source", info.Source,
		"n_clusters", res.NumClusters(),
		"iterations", res.Iterations,
		"elapsed_ms", logging.Since(phase),
	)

	phase = time.Now()
	idx, err := index.BuildFromResult(vectors, res)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	metrics.ObserveBuildPhase("index", time.Since(phase).Seconds())
	stats := idx.Stats()
	logger.Info("index built",
		"n", stats.NumVectors,
		"n_clusters", stats.NumClusters,
		"empty_clusters", stats.EmptyClusters,
		"max_cluster_size", stats.MaxSize,
		"elapsed_ms", logging.Since(phase),
	)

	phase = time.Now()
	pub, err := index.NewPublisher(env.Store, env.Prefix(), env.RunID).Publish(ctx, idx, info)
	if err != nil {
		return err
	}
	metrics.ObserveBuildPhase("publish", time.Since(phase).Seconds())
	logger.Info("index published",
		"manifest_key", pub.ManifestKey,
		"snapshot_key", pub.SnapshotKey,
		"bytes", pub.BytesUploaded,
		"elapsed_ms", logging.Since(phase),
	)

	if err := writeOutputs(o, idx, res); err != nil {
		return err
	}

	logger.Info("build completed", "elapsed_ms", logging.Since(start))
	fmt.Fprintf(stdout, "run_id=%s manifest=%s\n", env.RunID, pub.ManifestKey)
	return nil
}

func loadVectors(o *options) (*vector.Matrix, func(), error) {
	var (
		m       *vector.Matrix
		release = func() {}
	)
	if o.mmap {
		mv, err := dataset.OpenMappedVectors(o.vectors)
		if err != nil {
			return nil, nil, err
		}
		m, release = mv.Matrix(), func() { mv.Close() }
	} else {
		var err error
		if m, err = dataset.LoadVectors(o.vectors, dataset.TextOptions{Quantized: o.quantized}); err != nil {
			return nil, nil, err
		}
	}
	if o.limit > 0 {
		limited, err := dataset.Limit(m, o.limit)
		if err != nil {
			release()
			return nil, nil, err
		}
		m = limited
	}
	return m, release, nil
}

func resolveSource(o *options, env *cli.Env) (partition.Source, index.PartitionInfo, error) {
	pc := env.Config.Partition
	switch {
	case o.centroids != "":
		centroids, err := dataset.LoadVectors(o.centroids, dataset.TextOptions{})
		if err != nil {
			return nil, index.PartitionInfo{}, err
		}
		assignment, err := dataset.LoadAssignment(o.assignment)
		if err != nil {
			return nil, index.PartitionInfo{}, err
		}
		if o.limit > 0 && len(assignment) > o.limit {
			assignment = assignment[:o.limit]
		}
		return partition.Precomputed{Centroids: centroids, Assignment: assignment},
			index.PartitionInfo{Source: "precomputed", Spherical: pc.Spherical}, nil
	case o.random:
		return partition.RandomPartition{NClusters: pc.GetNClusters(), Spherical: pc.Spherical, Seed: pc.Seed},
			index.PartitionInfo{Source: "random", Spherical: pc.Spherical, Seed: pc.Seed}, nil
	default:
		opts := pc.Options()
		return partition.NeedsComputation{Options: opts}, index.PartitionInfo{
			Source:        "computed",
			Spherical:     opts.Spherical,
			MaxIterations: opts.MaxIterations,
			Seed:          opts.Seed,
			Init:          string(opts.Init),
		}, nil
	}
}

func writeOutputs(o *options, idx *index.PartitionedIndex, res *partition.Result) error {
	if o.outCentroids != "" {
		if err := dataset.SaveVectors(o.outCentroids, res.Centroids, dataset.TextOptions{}); err != nil {
			return fmt.Errorf("write centroids: %w", err)
		}
	}
	if o.outAssignment != "" {
		if err := dataset.SaveOrdinals(o.outAssignment, dataset.Column(res.Assignment)); err != nil {
			return fmt.Errorf("write assignment: %w", err)
		}
	}
	if o.outMetadata != "" {
		f, err := dataset.CreateFile(o.outMetadata)
		if err != nil {
			return err
		}
		if err := dataset.WriteMetadata(f, dataset.MetadataFor(idx)); err != nil {
			f.Close()
			return fmt.Errorf("write metadata: %w", err)
		}
		return f.Close()
	}
	return nil
}
