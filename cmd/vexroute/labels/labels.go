package labels

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/vexsearch/vexroute/internal/cli"
	"github.com/vexsearch/vexroute/internal/dataset"
	"github.com/vexsearch/vexroute/internal/index"
	"github.com/vexsearch/vexroute/internal/routing"
)

type options struct {
	configPath  string
	runID       string
	groundTruth string
	assignment  string
	out         string
}

func Run(args []string) {
	ctx, cancel := cli.SignalContext()
	defer cancel()
	if err := run(ctx, args, os.Stdout, nil); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("labels: %v", err)
	}
}

func parse(args []string) (*options, error) {
	var o options
	fs := flag.NewFlagSet("labels", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "Path to config file")
	fs.StringVar(&o.runID, "run", "", "Build run id whose assignment is used (default: latest)")
	fs.StringVar(&o.groundTruth, "ground-truth", "", "Ground truth neighbor ordinals")
	fs.StringVar(&o.assignment, "assignment", "", "Cluster assignment file (skips loading the index)")
	fs.StringVar(&o.out, "out", "", "Output label file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.groundTruth == "" || o.out == "" {
		return nil, fmt.Errorf("-ground-truth and -out are required")
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

	gt, err := dataset.LoadOrdinals(o.groundTruth)
	if err != nil {
		return err
	}

	var assignment []int32
	if o.assignment != "" {
		if assignment, err = dataset.LoadAssignment(o.assignment); err != nil {
			return err
		}
	} else {
		idx, _, err := index.NewLoader(env.Store, env.Prefix()).Load(ctx, o.runID)
		if err != nil {
			return fmt.Errorf("load index: %w", err)
		}
		if assignment, err = indexAssignment(idx); err != nil {
			return err
		}
	}

	labels, err := routing.TrainingLabels(gt, assignment)
	if err != nil {
		return err
	}
	if err := dataset.SaveOrdinals(o.out, dataset.Column(labels)); err != nil {
		return err
	}

	env.Logger.Info("training labels written", "path", o.out, "queries", len(labels), "n", len(assignment))
	fmt.Fprintf(stdout, "labels=%d\n", len(labels))
	return nil
}

// indexAssignment recovers the ordinal to cluster map from a built index.
func indexAssignment(idx *index.PartitionedIndex) ([]int32, error) {
	assignment := make([]int32, idx.Len())
	for c := 0; c < idx.NumClusters(); c++ {
		members, err := idx.ClusterMembers(c)
		if err != nil {
			return nil, err
		}
		for _, ord := range members {
			assignment[ord] = int32(c)
		}
	}
	return assignment, nil
}
