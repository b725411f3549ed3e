package export

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
)

type options struct {
	configPath     string
	runID          string
	prefix         string
	quantized      bool
	precBits       int
	workers        int
	groundTruth    string
	outGroundTruth string
}

func Run(args []string) {
	ctx, cancel := cli.SignalContext()
	defer cancel()
	if err := run(ctx, args, os.Stdout, nil); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("export: %v", err)
	}
}

func parse(args []string) (*options, error) {
	var o options
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "Path to config file")
	fs.StringVar(&o.runID, "run", "", "Build run id to export (default: latest)")
	fs.StringVar(&o.prefix, "prefix", "", "Object key prefix for exported files (default: <prefix>export/<run_id>/)")
	fs.BoolVar(&o.quantized, "quantized", false, "Write integer values clamped to the precision range")
	fs.IntVar(&o.precBits, "prec-bits", 0, "Precision bits for -quantized")
	fs.IntVar(&o.workers, "workers", 0, "Concurrent uploads")
	fs.StringVar(&o.groundTruth, "ground-truth", "", "Ground truth ordinals to convert to (cluster, position) pairs")
	fs.StringVar(&o.outGroundTruth, "out-ground-truth", "", "Write converted ground truth CSV to this file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if o.quantized && o.precBits <= 0 {
		return nil, fmt.Errorf("-quantized requires a positive -prec-bits")
	}
	if (o.groundTruth == "") != (o.outGroundTruth == "") {
		return nil, fmt.Errorf("-ground-truth and -out-ground-truth must be given together")
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
	logger := env.Logger

	idx, manifest, err := index.NewLoader(env.Store, env.Prefix()).Load(ctx, o.runID)
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}

	prefix := o.prefix
	if prefix == "" {
		prefix = env.Prefix() + "export/" + manifest.RunID + "/"
	}

	start := time.Now()
	res, err := dataset.ExportClusters(ctx, env.Store, prefix, idx, dataset.ExportOptions{
		Text:    dataset.TextOptions{Quantized: o.quantized, PrecBits: o.precBits},
		Workers: o.workers,
	})
	if err != nil {
		return err
	}
	logger.Info("clusters exported",
		"index_run_id", manifest.RunID,
		"prefix", prefix,
		"objects", len(res.Keys),
		"bytes", res.BytesUploaded,
		"n_clusters", res.Metadata.NumClusters,
		"elapsed_ms", logging.Since(start),
	)

	if o.groundTruth != "" {
		if err := convertGroundTruth(o, idx); err != nil {
			return err
		}
		logger.Info("ground truth converted", "path", o.outGroundTruth)
	}

	fmt.Fprintf(stdout, "prefix=%s objects=%d bytes=%d\n", prefix, len(res.Keys), res.BytesUploaded)
	return nil
}

func convertGroundTruth(o *options, idx *index.PartitionedIndex) error {
	gt, err := dataset.LoadOrdinals(o.groundTruth)
	if err != nil {
		return err
	}
	rev, err := dataset.BuildReverseIndex(idx)
	if err != nil {
		return err
	}
	rows, err := dataset.ConvertGroundTruth(gt, rev)
	if err != nil {
		return err
	}

	f, err := dataset.CreateFile(o.outGroundTruth)
	if err != nil {
		return err
	}
	if err := dataset.WriteLocationsCSV(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
