package main

import (
	"fmt"
	"os"

	"github.com/vexsearch/vexroute/cmd/vexroute/build"
	"github.com/vexsearch/vexroute/cmd/vexroute/export"
	"github.com/vexsearch/vexroute/cmd/vexroute/labels"
	"github.com/vexsearch/vexroute/cmd/vexroute/search"
	"github.com/vexsearch/vexroute/cmd/vexroute/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "build":
		build.Run(os.Args[2:])
	case "search":
		search.Run(os.Args[2:])
	case "export":
		export.Run(os.Args[2:])
	case "labels":
		labels.Run(os.Args[2:])
	case "version":
		version.Run()
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`vexroute - Partitioned vector index with learned routing

Usage:
  vexroute <command> [options]

Commands:
  build     Partition a corpus, build the index and publish it
  search    Run a query batch against a published index and evaluate it
  export    Write per-cluster CSVs, reverse index and metadata
  labels    Derive router training labels from ground truth
  version   Print version information
  help      Show this help message

Run 'vexroute <command> -h' for more information on a command.`)
}
